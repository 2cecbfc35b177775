// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/kvrtc/cmd/kvrtc/cli"
	"github.com/bureau-foundation/kvrtc/lib/clock"
	"github.com/bureau-foundation/kvrtc/lib/config"
	"github.com/bureau-foundation/kvrtc/signaling"
	"github.com/bureau-foundation/kvrtc/store"
)

// storeRequestTimeout bounds one key-value request.
const storeRequestTimeout = 10 * time.Second

// connectionFlags are shared by every command that talks to the store.
// Set flags override the configuration file.
type connectionFlags struct {
	configPath string
	backend    string
	url        string
	token      string
	room       string
	path       string
	verbose    bool
}

func (f *connectionFlags) register(flagSet *pflag.FlagSet) {
	flagSet.StringVarP(&f.configPath, "config", "c", "", "configuration file (default: $KVRTC_CONFIG, then built-in defaults)")
	flagSet.StringVar(&f.backend, "store", "", "store backend: memory, http, matrix, or file")
	flagSet.StringVar(&f.url, "store-url", "", "key-value service or Matrix homeserver URL")
	flagSet.StringVar(&f.token, "store-token", "", "bearer token for the http and matrix backends")
	flagSet.StringVar(&f.room, "store-room", "", "Matrix room holding the records")
	flagSet.StringVar(&f.path, "store-path", "", "data file of the file backend")
	flagSet.BoolVarP(&f.verbose, "verbose", "v", false, "log debug records")
}

// load reads the configuration and applies the flag overrides.
func (f *connectionFlags) load() (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if f.configPath != "" {
		cfg, err = config.LoadFile(f.configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}

	for _, override := range []struct {
		value  string
		target *string
	}{
		{f.backend, &cfg.Store.Backend},
		{f.url, &cfg.Store.URL},
		{f.token, &cfg.Store.Token},
		{f.room, &cfg.Store.Room},
		{f.path, &cfg.Store.Path},
	} {
		if override.value != "" {
			*override.target = override.value
		}
	}
	return cfg, nil
}

// environment is what a command needs to reach the store.
type environment struct {
	config  *config.Config
	logger  *slog.Logger
	clock   clock.Clock
	store   store.Store
	adapter *signaling.Adapter
}

// open validates cfg and connects to the store it names.
func (f *connectionFlags) open(cfg *config.Config) (*environment, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration:\n%w", err)
	}
	logger := cli.NewCommandLogger(f.verbose)

	compression, err := signaling.ParseCompression(cfg.Signaling.Compression)
	if err != nil {
		return nil, err
	}
	backing, err := store.New(cfg.Store, &http.Client{Timeout: storeRequestTimeout}, logger)
	if err != nil {
		return nil, err
	}
	logger.Debug("store opened", "backend", cfg.Store.Backend, "environment", cfg.Environment)

	clk := clock.Real()
	return &environment{
		config: cfg,
		logger: logger,
		clock:  clk,
		store:  backing,
		adapter: signaling.NewAdapter(signaling.AdapterConfig{
			Store:           backing,
			Clock:           clk,
			Logger:          logger,
			Compression:     compression,
			PublishAttempts: cfg.Signaling.PublishAttempts,
			PublishDelay:    cfg.Signaling.PublishDelay,
		}),
	}, nil
}
