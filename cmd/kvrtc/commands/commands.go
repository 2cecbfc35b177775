// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package commands builds the kvrtc command tree.
package commands

import (
	"fmt"
	"io"

	"github.com/bureau-foundation/kvrtc/cmd/kvrtc/cli"
	"github.com/bureau-foundation/kvrtc/lib/version"
)

// Streams are the standard streams commands read and write. Logs go
// to stderr regardless.
type Streams struct {
	In  io.Reader
	Out io.Writer
	Err io.Writer
}

// Root builds the complete kvrtc command tree.
func Root(streams Streams) *cli.Command {
	return &cli.Command{
		Name: "kvrtc",
		Description: `kvrtc: peer-to-peer video over WebRTC with key-value signaling.

One machine runs "kvrtc send", the other "kvrtc receive". The sender
publishes its offer under the "offer" key of a shared store; the
receiver polls for it and publishes its answer under "answer". Either
side can instead paste the peer's description by hand.`,
		Output: streams.Err,
		Subcommands: []*cli.Command{
			sendCommand(streams),
			receiveCommand(streams),
			clearCommand(streams),
			storeCommand(streams),
			transformCommand(streams),
			{
				Name:    "version",
				Summary: "Print version information",
				Run: func(args []string) error {
					fmt.Fprintf(streams.Out, "kvrtc %s\n", version.Full())
					return nil
				},
			},
		},
	}
}
