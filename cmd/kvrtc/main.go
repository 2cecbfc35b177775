// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// kvrtc streams video between two machines over WebRTC, exchanging the
// session descriptions through a shared key-value store instead of a
// signaling server.
package main

import (
	"fmt"
	"os"

	"github.com/bureau-foundation/kvrtc/cmd/kvrtc/commands"
)

func main() {
	if err := run(); err != nil {
		// Commands that already reported their outcome return an
		// ExitError carrying only the code.
		if coder, ok := err.(interface{ ExitCode() int }); ok {
			os.Exit(coder.ExitCode())
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	return commands.Root(commands.Streams{
		In:  os.Stdin,
		Out: os.Stdout,
		Err: os.Stderr,
	}).Execute(os.Args[1:])
}
