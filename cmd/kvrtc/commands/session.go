// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/pflag"

	"github.com/bureau-foundation/kvrtc/cmd/kvrtc/cli"
	"github.com/bureau-foundation/kvrtc/lib/statusui"
	"github.com/bureau-foundation/kvrtc/media"
	"github.com/bureau-foundation/kvrtc/negotiation"
	"github.com/bureau-foundation/kvrtc/sdptransform"
	"github.com/bureau-foundation/kvrtc/signaling"
	"github.com/bureau-foundation/kvrtc/transport"
)

// sessionFlags are shared by send and receive.
type sessionFlags struct {
	connectionFlags
	paste            bool
	interactive      bool
	loopback         bool
	metricsAddr      string
	gatheringTimeout time.Duration
}

func (f *sessionFlags) register(flagSet *pflag.FlagSet) {
	f.connectionFlags.register(flagSet)
	flagSet.BoolVar(&f.paste, "paste", false, "print the local description and read the peer's from stdin, in addition to polling")
	flagSet.BoolVar(&f.interactive, "tui", false, "show the interactive status view")
	flagSet.BoolVar(&f.loopback, "loopback", false, "offer loopback candidates (both peers on one host)")
	flagSet.StringVar(&f.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	flagSet.DurationVar(&f.gatheringTimeout, "gathering-timeout", 0, "override gathering.timeout")
}

func sendCommand(streams Streams) *cli.Command {
	var (
		flags        sessionFlags
		useCamera    bool
		source       string
		cameraDevice string
		rawOffer     bool
	)
	return &cli.Command{
		Name:    "send",
		Summary: "Offer a video stream and wait for the receiver's answer",
		Description: `Create an offer carrying the local video track, publish it under the
"offer" key once candidate gathering finishes, and poll the "answer" key
until the receiver responds. Earlier offer and answer records are
cleared first.

The video comes from a pre-recorded .h264 or .ivf file (looped), or
with --camera from an Annex-B H.264 device or FIFO.`,
		Usage: "kvrtc send [flags]",
		Examples: []cli.Example{
			{
				Description: "Send a recording through a key-value service",
				Command:     "kvrtc send --store http --store-url https://kv.example.com --source demo.h264",
			},
			{
				Description: "Send the camera and exchange descriptions by hand",
				Command:     "kvrtc send --camera --paste",
			},
		},
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("send", pflag.ContinueOnError)
			flags.register(flagSet)
			flagSet.BoolVar(&useCamera, "camera", false, "capture from the camera device instead of a file")
			flagSet.StringVar(&source, "source", "", "override media.source")
			flagSet.StringVar(&cameraDevice, "camera-device", "", "override media.camera_device")
			flagSet.BoolVar(&rawOffer, "raw-offer", false, "publish the offer without the codec and bandwidth rewrite")
			return flagSet
		},
		Run: func(args []string) error {
			if len(args) > 0 {
				return fmt.Errorf("unexpected argument %q", args[0])
			}
			cfg, err := flags.load()
			if err != nil {
				return err
			}
			if source != "" {
				cfg.Media.Source = source
			}
			if cameraDevice != "" {
				cfg.Media.CameraDevice = cameraDevice
			}
			if rawOffer {
				cfg.SDP.Disabled = true
			}
			env, err := flags.open(cfg)
			if err != nil {
				return err
			}
			return runSession(env, &flags, streams, negotiation.RoleSender, negotiation.SenderOptions{UseCamera: useCamera}, "")
		},
	}
}

func receiveCommand(streams Streams) *cli.Command {
	var (
		flags  sessionFlags
		output string
	)
	return &cli.Command{
		Name:    "receive",
		Summary: "Answer the sender's offer and record the incoming stream",
		Description: `Poll the "offer" key until an offer appears, answer it, and publish
the answer under the "answer" key once candidate gathering finishes.
The first incoming video track is written to --output (H.264 as
Annex-B, VP8 as IVF); without an output the stream is drained.`,
		Usage: "kvrtc receive [flags]",
		Examples: []cli.Example{
			{
				Description: "Receive into a file",
				Command:     "kvrtc receive --store http --store-url https://kv.example.com --output call.h264",
			},
		},
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("receive", pflag.ContinueOnError)
			flags.register(flagSet)
			flagSet.StringVarP(&output, "output", "o", "", "override media.output")
			return flagSet
		},
		Run: func(args []string) error {
			if len(args) > 0 {
				return fmt.Errorf("unexpected argument %q", args[0])
			}
			cfg, err := flags.load()
			if err != nil {
				return err
			}
			if output != "" {
				cfg.Media.Output = output
			}
			env, err := flags.open(cfg)
			if err != nil {
				return err
			}
			return runSession(env, &flags, streams, negotiation.RoleReceiver, negotiation.SenderOptions{}, cfg.Media.Output)
		},
	}
}

// runSession negotiates as role and keeps the connection up until
// SIGINT or SIGTERM.
func runSession(env *environment, flags *sessionFlags, streams Streams, role negotiation.Role, options negotiation.SenderOptions, output string) error {
	if flags.paste && flags.interactive {
		return errors.New("--paste and --tui both need the terminal; pick one")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := env.config
	logger := env.logger.With("role", role.String())

	metricsAddr := cfg.Telemetry.MetricsAddr
	if flags.metricsAddr != "" {
		metricsAddr = flags.metricsAddr
	}
	metrics, err := startMetrics(ctx, metricsAddr, logger)
	if err != nil {
		return err
	}

	gatheringTimeout := cfg.Gathering.Timeout
	if flags.gatheringTimeout > 0 {
		gatheringTimeout = flags.gatheringTimeout
	}

	coordinatorConfig := negotiation.Config{
		Adapter: env.adapter,
		NewTransport: transport.NewFactory(transport.PeerConfig{
			ICE:             transport.ICEConfigFrom(cfg.ICE),
			IncludeLoopback: flags.loopback,
			Logger:          logger,
		}),
		Clock:             env.clock,
		PollInterval:      cfg.Signaling.PollInterval,
		GatheringTimeout:  gatheringTimeout,
		TelemetryInterval: cfg.Telemetry.Interval,
		Metrics:           metrics,
		Logger:            logger,
	}
	if !cfg.SDP.Disabled {
		coordinatorConfig.Transform = &sdptransform.Options{
			Codec:          cfg.SDP.Codec,
			BandwidthKbps:  cfg.SDP.BandwidthKbps,
			MaxFrameSize:   cfg.SDP.MaxFrameSize,
			MaxFrameRate:   cfg.SDP.MaxFrameRate,
			MinBitrateKbps: cfg.SDP.MinBitrateKbps,
			MaxBitrateKbps: cfg.SDP.MaxBitrateKbps,
		}
	}

	var recorder *media.Recorder
	if role == negotiation.RoleReceiver {
		recorder = media.NewRecorder(media.RecorderConfig{Output: output, Logger: logger})
		coordinatorConfig.OnIncomingStream = recorder.HandleTrack
	} else {
		coordinatorConfig.Capturer = media.NewCapturer(media.CaptureConfigFrom(cfg.Media, env.clock, logger))
	}

	coordinator := negotiation.NewCoordinator(coordinatorConfig)
	defer func() {
		if err := coordinator.Close(); err != nil {
			logger.Warn("closing session", "error", err)
		}
		if recorder != nil {
			recorder.Wait()
			logger.Info("recording finished", "packets", recorder.Packets())
		}
	}()

	if role == negotiation.RoleSender {
		err = coordinator.StartAsSender(ctx, options)
	} else {
		err = coordinator.StartAsReceiver(ctx)
	}
	if err != nil {
		return err
	}

	if flags.paste {
		go printLocalDescription(ctx, coordinator, streams.Out)
		go readPastedDescriptions(ctx, coordinator, streams.In, streams.Err, logger)
	}

	if flags.interactive {
		return runStatusView(ctx, coordinator)
	}

	session, err := coordinator.Wait(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}
	logger.Info("connected",
		"session", session.ID,
		"candidates", session.Candidates,
		"gathering", session.GatheringState.String(),
	)
	<-ctx.Done()
	return nil
}

func runStatusView(ctx context.Context, coordinator *negotiation.Coordinator) error {
	updates, cancel := coordinator.Subscribe()
	defer cancel()

	program := tea.NewProgram(statusui.NewModel(updates), tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := program.Run(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("status view: %w", err)
	}
	if session := coordinator.Snapshot(); session.ConnectionState == negotiation.Failed {
		return session.LastError
	}
	return nil
}

// printLocalDescription writes the local description as a record once
// it is final, for the operator to carry to the peer.
func printLocalDescription(ctx context.Context, coordinator *negotiation.Coordinator, out io.Writer) {
	updates, cancel := coordinator.Subscribe()
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			return
		case session, ok := <-updates:
			if !ok {
				return
			}
			if session.LocalDescription == nil {
				continue
			}
			value, err := signaling.Encode(signaling.Record{
				Type: session.LocalDescription.Type.String(),
				SDP:  session.LocalDescription.SDP,
			}, signaling.CompressionNone)
			if err != nil {
				return
			}
			fmt.Fprintf(out, "%s\n\n", value)
			return
		}
	}
}

// readPastedDescriptions delivers each blank-line-terminated block read
// from in until one is applied or the poller got there first.
func readPastedDescriptions(ctx context.Context, coordinator *negotiation.Coordinator, in io.Reader, prompt io.Writer, logger *slog.Logger) {
	fmt.Fprintln(prompt, "Paste the peer's description, then an empty line:")
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 64*1024), 1<<20)

	var block strings.Builder
	deliver := func() bool {
		raw := block.String()
		block.Reset()
		if strings.TrimSpace(raw) == "" {
			return false
		}
		applied, err := coordinator.DeliverRemote(ctx, raw)
		if err != nil {
			logger.Warn("pasted description rejected", "error", err)
			fmt.Fprintln(prompt, "That description was not accepted; paste it again:")
			return false
		}
		if !applied {
			fmt.Fprintln(prompt, "A description was already applied; ignoring the pasted one.")
		}
		return true
	}

	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		line := scanner.Text()
		if strings.TrimSpace(line) != "" {
			block.WriteString(line)
			block.WriteString("\n")
			continue
		}
		if deliver() {
			return
		}
	}
	deliver()
}
