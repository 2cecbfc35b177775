// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package signaling

import "fmt"

// RetryExhaustedError is returned by WaitFor when every attempt came
// back empty or failed.
type RetryExhaustedError struct {
	Key      string
	Attempts int

	// LastErr is the most recent store error, nil if every read
	// succeeded but returned no value.
	LastErr error
}

func (e *RetryExhaustedError) Error() string {
	if e.LastErr != nil {
		return fmt.Sprintf("signaling: no value for %q after %d attempts (last error: %v)", e.Key, e.Attempts, e.LastErr)
	}
	return fmt.Sprintf("signaling: no value for %q after %d attempts", e.Key, e.Attempts)
}

func (e *RetryExhaustedError) Unwrap() error { return e.LastErr }
