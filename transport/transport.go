// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"fmt"

	"github.com/pion/webrtc/v4"
)

// Direction selects a byte counter.
type Direction int

const (
	// Outbound counts RTP payload bytes sent (the sender's view).
	Outbound Direction = iota
	// Inbound counts RTP payload bytes received (the receiver's view).
	Inbound
)

func (d Direction) String() string {
	switch d {
	case Outbound:
		return "outbound"
	case Inbound:
		return "inbound"
	default:
		return fmt.Sprintf("direction(%d)", int(d))
	}
}

// Transport is one peer connection.
type Transport interface {
	// CreateLocalDescription generates an offer or an answer. An answer
	// requires a remote offer to have been applied.
	CreateLocalDescription(kind webrtc.SDPType) (webrtc.SessionDescription, error)

	// SetLocalDescription applies description and starts candidate
	// gathering.
	SetLocalDescription(description webrtc.SessionDescription) error

	// SetRemoteDescription applies the peer's description.
	SetRemoteDescription(description webrtc.SessionDescription) error

	// LocalDescription returns the current local description including
	// the candidates gathered so far, or nil before one is set.
	LocalDescription() *webrtc.SessionDescription

	// OnCandidate registers the candidate handler. A nil candidate
	// signals that gathering finished.
	OnCandidate(handler func(candidate *webrtc.ICECandidate))

	// OnIncomingStream registers the handler for remote tracks.
	OnIncomingStream(handler func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver))

	// OnConnectionStateChange registers the peer connection state handler.
	OnConnectionStateChange(handler func(state webrtc.PeerConnectionState))

	// AddTrack attaches a local track for sending.
	AddTrack(track webrtc.TrackLocal) (*webrtc.RTPSender, error)

	// ByteCount returns the cumulative RTP byte counter for direction.
	// ok is false when the transport has no report for it yet.
	ByteCount(direction Direction) (bytes uint64, ok bool)

	Close() error
}

// Factory creates a fresh Transport for each negotiation attempt.
type Factory func() (Transport, error)
