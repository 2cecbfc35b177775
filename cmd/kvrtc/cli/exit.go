// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import "fmt"

// ExitError makes the binary exit with Code without printing an error
// line. The command has already reported the outcome itself, as
// "store get" does for a key that is not set.
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("exit code %d", e.Code)
}

// ExitCode is checked by main through an interface assertion.
func (e *ExitError) ExitCode() int {
	return e.Code
}
