// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/kvrtc/cmd/kvrtc/cli"
	"github.com/bureau-foundation/kvrtc/sdptransform"
	"github.com/bureau-foundation/kvrtc/signaling"
)

func transformCommand(streams Streams) *cli.Command {
	options := sdptransform.DefaultOptions()
	var record bool
	return &cli.Command{
		Name:    "transform",
		Summary: "Apply the codec and bandwidth rewrite to an offer on stdin",
		Description: `Read an SDP offer from stdin and write it to stdout with the preferred
codec moved first, a b=AS bandwidth cap, and the frame and bitrate
hints on the codec's a=fmtp lines. The input may also be a stored
description record; --record then writes a record back.`,
		Usage: "kvrtc transform [flags] < offer.sdp",
		Examples: []cli.Example{
			{
				Description: "Prefer VP8 at 2 Mbps",
				Command:     "kvrtc store get offer --decode | kvrtc transform --codec VP8 --bandwidth 2000",
			},
		},
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("transform", pflag.ContinueOnError)
			flagSet.StringVar(&options.Codec, "codec", options.Codec, "preferred codec")
			flagSet.IntVar(&options.BandwidthKbps, "bandwidth", options.BandwidthKbps, "b=AS cap in kbps (0 omits it)")
			flagSet.IntVar(&options.MaxFrameSize, "max-fs", options.MaxFrameSize, "max-fs in macroblocks (0 omits it)")
			flagSet.IntVar(&options.MaxFrameRate, "max-fr", options.MaxFrameRate, "max-fr in frames per second (0 omits it)")
			flagSet.IntVar(&options.MinBitrateKbps, "min-bitrate", options.MinBitrateKbps, "x-google-min-bitrate in kbps (0 omits it)")
			flagSet.IntVar(&options.MaxBitrateKbps, "max-bitrate", options.MaxBitrateKbps, "x-google-max-bitrate in kbps (0 omits it)")
			flagSet.BoolVar(&record, "record", false, "write a description record instead of bare SDP")
			return flagSet
		},
		Run: func(args []string) error {
			if len(args) > 0 {
				return fmt.Errorf("unexpected argument %q", args[0])
			}
			data, err := io.ReadAll(streams.In)
			if err != nil {
				return fmt.Errorf("reading stdin: %w", err)
			}
			if len(data) == 0 {
				return errors.New("no SDP on stdin")
			}

			input := signaling.Record{Type: "offer", SDP: string(data)}
			if decoded, err := signaling.Decode(string(data)); err == nil {
				input = decoded
			}
			output := sdptransform.Transform(input.SDP, options)

			if !record {
				_, err = io.WriteString(streams.Out, output)
				return err
			}
			value, err := signaling.Encode(signaling.Record{Type: input.Type, SDP: output}, signaling.CompressionNone)
			if err != nil {
				return err
			}
			fmt.Fprintln(streams.Out, value)
			return nil
		},
	}
}
