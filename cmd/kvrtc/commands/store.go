// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/kvrtc/cmd/kvrtc/cli"
	"github.com/bureau-foundation/kvrtc/lib/config"
	"github.com/bureau-foundation/kvrtc/signaling"
	"github.com/bureau-foundation/kvrtc/store"
)

func clearCommand(streams Streams) *cli.Command {
	var flags connectionFlags
	return &cli.Command{
		Name:    "clear",
		Summary: "Clear the offer and answer records",
		Usage:   "kvrtc clear [flags]",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("clear", pflag.ContinueOnError)
			flags.register(flagSet)
			return flagSet
		},
		Run: func(args []string) error {
			env, err := openConnection(&flags)
			if err != nil {
				return err
			}
			if err := env.adapter.Clear(context.Background(), signaling.KeyOffer, signaling.KeyAnswer); err != nil {
				return err
			}
			fmt.Fprintln(streams.Out, "cleared offer and answer")
			return nil
		},
	}
}

func storeCommand(streams Streams) *cli.Command {
	return &cli.Command{
		Name:    "store",
		Summary: "Read, write, or serve the key-value store",
		Description: `Inspect the records kvrtc exchanges, or run the key-value service the
http backend talks to.`,
		Subcommands: []*cli.Command{
			storeGetCommand(streams),
			storeSetCommand(streams),
			storeServeCommand(streams),
		},
	}
}

func storeGetCommand(streams Streams) *cli.Command {
	var (
		flags  connectionFlags
		wait   bool
		decode bool
	)
	return &cli.Command{
		Name:    "get",
		Summary: "Print the value of a key",
		Usage:   "kvrtc store get <key> [flags]",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("get", pflag.ContinueOnError)
			flags.register(flagSet)
			flagSet.BoolVarP(&wait, "wait", "w", false, "poll until the key has a value (signaling.wait_retries x signaling.wait_delay)")
			flagSet.BoolVarP(&decode, "decode", "d", false, "decode the value as a description record and print its SDP")
			return flagSet
		},
		Run: func(args []string) error {
			if len(args) != 1 {
				return errors.New("usage: kvrtc store get <key>")
			}
			env, err := openConnection(&flags)
			if err != nil {
				return err
			}
			ctx := context.Background()

			var value string
			if wait {
				value, err = env.adapter.WaitFor(ctx, args[0], env.config.Signaling.WaitRetries, env.config.Signaling.WaitDelay)
			} else {
				value, err = env.adapter.Get(ctx, args[0])
			}
			if err != nil {
				return err
			}
			if value == "" {
				fmt.Fprintf(streams.Err, "%s is not set\n", args[0])
				return &cli.ExitError{Code: 2}
			}
			if decode {
				record, err := signaling.Decode(value)
				if err != nil {
					return err
				}
				fmt.Fprint(streams.Out, record.SDP)
				return nil
			}
			fmt.Fprintln(streams.Out, value)
			return nil
		},
	}
}

func storeSetCommand(streams Streams) *cli.Command {
	var flags connectionFlags
	return &cli.Command{
		Name:    "set",
		Summary: "Set the value of a key",
		Description: `Set key to value. A value of "-" reads it from stdin; an empty value
clears the key.`,
		Usage: "kvrtc store set <key> <value|-> [flags]",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("set", pflag.ContinueOnError)
			flags.register(flagSet)
			return flagSet
		},
		Run: func(args []string) error {
			if len(args) != 2 {
				return errors.New("usage: kvrtc store set <key> <value|->")
			}
			value := args[1]
			if value == "-" {
				data, err := io.ReadAll(streams.In)
				if err != nil {
					return fmt.Errorf("reading stdin: %w", err)
				}
				value = strings.TrimRight(string(data), "\r\n")
			}
			env, err := openConnection(&flags)
			if err != nil {
				return err
			}
			return env.store.Set(context.Background(), args[0], value)
		},
	}
}

func storeServeCommand(streams Streams) *cli.Command {
	var (
		flags  connectionFlags
		listen string
		token  string
	)
	return &cli.Command{
		Name:    "serve",
		Summary: "Serve the configured store over the key-value HTTP API",
		Description: `Serve GET /api/get-key-val and POST /api/set-key-val, backed by the
configured store (memory by default, or a file shared with other local
processes). Point the http backend of both peers at it.`,
		Usage: "kvrtc store serve [flags]",
		Examples: []cli.Example{
			{
				Description: "Serve a persistent store on all interfaces",
				Command:     "kvrtc store serve --listen :8080 --store file --store-path /var/lib/kvrtc/store.cbor",
			},
		},
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("serve", pflag.ContinueOnError)
			flags.register(flagSet)
			flagSet.StringVarP(&listen, "listen", "l", "127.0.0.1:8080", "listen address")
			flagSet.StringVar(&token, "require-token", "", "bearer token clients must present")
			return flagSet
		},
		Run: func(args []string) error {
			cfg, err := flags.load()
			if err != nil {
				return err
			}
			if cfg.Store.Backend == config.BackendHTTP {
				return errors.New("store serve cannot be backed by the http backend itself")
			}
			env, err := flags.open(cfg)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			listener, err := net.Listen("tcp", listen)
			if err != nil {
				return err
			}
			fmt.Fprintf(streams.Out, "serving %s store on http://%s\n", cfg.Store.Backend, listener.Addr())
			return serveStore(ctx, listener, env.store, token, env.logger)
		},
	}
}

// serveStore runs the key-value API on listener until ctx is done.
func serveStore(ctx context.Context, listener net.Listener, backing store.Store, token string, logger *slog.Logger) error {
	server := &http.Server{
		Handler:           store.NewHandler(backing, store.HandlerConfig{Token: token, Logger: logger}),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errs := make(chan error, 1)
	go func() { errs <- server.Serve(listener) }()

	select {
	case err := <-errs:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errs; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func openConnection(flags *connectionFlags) (*environment, error) {
	cfg, err := flags.load()
	if err != nil {
		return nil, err
	}
	return flags.open(cfg)
}
