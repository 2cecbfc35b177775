// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package negotiation

import (
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/bureau-foundation/kvrtc/gathering"
)

// Role is the side of the handshake a coordinator plays.
type Role int

const (
	RoleUnset Role = iota
	RoleSender
	RoleReceiver
)

func (r Role) String() string {
	switch r {
	case RoleSender:
		return "sender"
	case RoleReceiver:
		return "receiver"
	default:
		return "unset"
	}
}

// ConnectionState is the negotiation progress.
type ConnectionState int

const (
	Idle ConnectionState = iota
	Negotiating
	// Connected means both descriptions are applied on this side. The
	// media path may still be coming up; see Session.PeerState.
	Connected
	Failed
)

func (s ConnectionState) String() string {
	switch s {
	case Idle:
		return "idle"
	case Negotiating:
		return "negotiating"
	case Connected:
		return "connected"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Settled reports whether s ends an attempt.
func (s ConnectionState) Settled() bool { return s == Connected || s == Failed }

// Session is a snapshot of one negotiation attempt. Values returned by
// the coordinator are copies; the descriptions they point to are never
// modified.
type Session struct {
	ID        string
	Role      Role
	StartedAt time.Time

	ConnectionState ConnectionState
	GatheringState  gathering.State
	Candidates      int
	PeerState       webrtc.PeerConnectionState

	// LocalDescription is set once gathering is final.
	LocalDescription *webrtc.SessionDescription
	// RemoteDescription is set once the peer's description is applied.
	RemoteDescription *webrtc.SessionDescription

	BitrateKbps float64
	LastError   error
}
