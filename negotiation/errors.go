// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package negotiation

import (
	"errors"
	"fmt"

	"github.com/pion/webrtc/v4"
)

var (
	// ErrAlreadyStarted is returned by a Start call on a coordinator
	// that is not Idle.
	ErrAlreadyStarted = errors.New("negotiation: already started")

	// ErrNotStarted is returned when there is no attempt to act on.
	ErrNotStarted = errors.New("negotiation: not started")

	// ErrLocalNotPublished is returned when an answer is delivered to a
	// sender whose offer is not yet published.
	ErrLocalNotPublished = errors.New("negotiation: local description not yet published")

	// ErrNotReady is returned when a remote description arrives before
	// the attempt's transport exists. The value is left for a later
	// delivery.
	ErrNotReady = errors.New("negotiation: transport not ready")

	// ErrReset is returned by Wait when the attempt was reset.
	ErrReset = errors.New("negotiation: attempt reset")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("negotiation: coordinator closed")
)

// TransportSetupError is a fatal failure creating the transport or
// attaching local media.
type TransportSetupError struct {
	Stage string
	Err   error
}

func (e *TransportSetupError) Error() string {
	return fmt.Sprintf("negotiation: transport setup failed (%s): %v", e.Stage, e.Err)
}

func (e *TransportSetupError) Unwrap() error { return e.Err }

// DescriptionGenerationError is a fatal failure creating or applying
// the local description.
type DescriptionGenerationError struct {
	Kind webrtc.SDPType
	Err  error
}

func (e *DescriptionGenerationError) Error() string {
	return fmt.Sprintf("negotiation: generating local %s: %v", e.Kind, e.Err)
}

func (e *DescriptionGenerationError) Unwrap() error { return e.Err }

// InvalidRemoteDescriptionError rejects a delivered value. Polling
// continues after one.
type InvalidRemoteDescriptionError struct {
	// Source is "poll" or "manual".
	Source string
	Err    error
}

func (e *InvalidRemoteDescriptionError) Error() string {
	return fmt.Sprintf("negotiation: invalid remote description from %s: %v", e.Source, e.Err)
}

func (e *InvalidRemoteDescriptionError) Unwrap() error { return e.Err }
