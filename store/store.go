// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package store provides the shared key-value stores that carry
// signaling records between the two peers.
//
// A Store offers only read-latest and write. Reading a key that was
// never written returns the empty string, which is also the value
// written to clear a key; callers treat empty as "not available".
// Every backend failure surfaces as an *UnavailableError so pollers can
// tell a store outage apart from a missing value.
//
// Backends:
//
//   - [MemoryStore]: process-local, for tests and single-process demos.
//   - [HTTPStore]: the get-key-val/set-key-val JSON API, as served by
//     [NewHandler].
//   - [MatrixStore]: state events in a Matrix room, one state key per
//     store key.
//   - [FileStore]: a CBOR file shared by processes on one host.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/bureau-foundation/kvrtc/lib/config"
)

// Store is a poll-only key-value store.
type Store interface {
	// Get returns the latest value of key, or "" if key has no value.
	Get(ctx context.Context, key string) (string, error)

	// Set replaces the value of key. Setting "" clears it.
	Set(ctx context.Context, key, value string) error
}

// UnavailableError reports a store operation that failed. The store
// may recover; callers retry at their own pace.
type UnavailableError struct {
	Op  string
	Key string
	Err error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("store unavailable: %s %q: %v", e.Op, e.Key, e.Err)
}

func (e *UnavailableError) Unwrap() error { return e.Err }

// IsUnavailable reports whether err is or wraps an *UnavailableError.
func IsUnavailable(err error) bool {
	var unavailable *UnavailableError
	return errors.As(err, &unavailable)
}

func unavailable(op, key string, err error) error {
	return &UnavailableError{Op: op, Key: key, Err: err}
}

// New builds the Store selected by cfg.Backend.
func New(cfg config.StoreConfig, httpClient *http.Client, logger *slog.Logger) (Store, error) {
	switch cfg.Backend {
	case config.BackendMemory, "":
		return NewMemoryStore(), nil
	case config.BackendHTTP:
		return NewHTTPStore(HTTPConfig{
			BaseURL:    cfg.URL,
			Token:      cfg.Token,
			HTTPClient: httpClient,
			Logger:     logger,
		})
	case config.BackendMatrix:
		return NewMatrixStore(MatrixConfig{
			HomeserverURL: cfg.URL,
			AccessToken:   cfg.Token,
			RoomID:        cfg.Room,
			HTTPClient:    httpClient,
			Logger:        logger,
		})
	case config.BackendFile:
		return NewFileStore(cfg.Path)
	default:
		return nil, fmt.Errorf("store: unknown backend %q", cfg.Backend)
	}
}
