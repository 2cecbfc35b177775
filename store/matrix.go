// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
)

// SignalEventType is the Matrix state event type holding store values.
// The state key is the store key.
const SignalEventType = "m.kvrtc.signal"

// MatrixConfig configures a MatrixStore.
type MatrixConfig struct {
	// HomeserverURL is the base URL of the Matrix homeserver.
	HomeserverURL string

	// AccessToken authenticates as a user that can read and send state
	// in RoomID.
	AccessToken string

	RoomID string

	// HTTPClient is used for all requests. If nil, http.DefaultClient is used.
	HTTPClient *http.Client

	// Logger is used for structured logging. If nil, slog.Default() is used.
	Logger *slog.Logger
}

// MatrixStore keeps each key as a state event in one room. Matrix state
// is last-write-wins per (type, state key), which is exactly the store
// contract; reading the current state is a plain GET.
type MatrixStore struct {
	baseURL     string
	accessToken string
	roomID      string
	httpClient  *http.Client
	logger      *slog.Logger
}

// NewMatrixStore validates config and returns a store.
func NewMatrixStore(config MatrixConfig) (*MatrixStore, error) {
	if config.HomeserverURL == "" {
		return nil, errors.New("store: HomeserverURL is required")
	}
	if _, err := url.Parse(config.HomeserverURL); err != nil {
		return nil, fmt.Errorf("store: invalid HomeserverURL %q: %w", config.HomeserverURL, err)
	}
	if config.RoomID == "" {
		return nil, errors.New("store: RoomID is required")
	}
	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &MatrixStore{
		baseURL:     strings.TrimRight(config.HomeserverURL, "/"),
		accessToken: config.AccessToken,
		roomID:      config.RoomID,
		httpClient:  httpClient,
		logger:      logger,
	}, nil
}

var _ Store = (*MatrixStore)(nil)

type signalContent struct {
	Value string `json:"value"`
}

// MatrixError is a structured error response from the homeserver.
type MatrixError struct {
	Code       string `json:"errcode"`
	Message    string `json:"error"`
	StatusCode int    `json:"-"`
}

func (e *MatrixError) Error() string {
	return fmt.Sprintf("matrix: %s (%d): %s", e.Code, e.StatusCode, e.Message)
}

// ErrCodeNotFound is returned for a state key that was never set.
const ErrCodeNotFound = "M_NOT_FOUND"

func (s *MatrixStore) statePath(key string) string {
	return fmt.Sprintf("/_matrix/client/v3/rooms/%s/state/%s/%s",
		url.PathEscape(s.roomID),
		url.PathEscape(SignalEventType),
		url.PathEscape(key),
	)
}

func (s *MatrixStore) Get(ctx context.Context, key string) (string, error) {
	body, err := s.doRequest(ctx, http.MethodGet, s.statePath(key), nil)
	if err != nil {
		var matrixErr *MatrixError
		if errors.As(err, &matrixErr) && matrixErr.Code == ErrCodeNotFound {
			return "", nil
		}
		return "", unavailable("get", key, err)
	}
	var content signalContent
	if err := json.Unmarshal(body, &content); err != nil {
		return "", unavailable("get", key, fmt.Errorf("parsing state content: %w", err))
	}
	return content.Value, nil
}

func (s *MatrixStore) Set(ctx context.Context, key, value string) error {
	if _, err := s.doRequest(ctx, http.MethodPut, s.statePath(key), signalContent{Value: value}); err != nil {
		return unavailable("set", key, err)
	}
	s.logger.Debug("sent signal state event", "room_id", s.roomID, "state_key", key)
	return nil
}

func (s *MatrixStore) doRequest(ctx context.Context, method, path string, requestBody any) ([]byte, error) {
	var bodyReader io.Reader
	if requestBody != nil {
		encoded, err := json.Marshal(requestBody)
		if err != nil {
			return nil, fmt.Errorf("encoding request body: %w", err)
		}
		bodyReader = bytes.NewReader(encoded)
	}

	request, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	if requestBody != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	if s.accessToken != "" {
		request.Header.Set("Authorization", "Bearer "+s.accessToken)
	}

	response, err := s.httpClient.Do(request)
	if err != nil {
		return nil, fmt.Errorf("request to %s %s failed: %w", method, path, err)
	}
	defer response.Body.Close()

	responseBody, err := io.ReadAll(io.LimitReader(response.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}
	if response.StatusCode >= 200 && response.StatusCode < 300 {
		return responseBody, nil
	}

	var matrixErr MatrixError
	if jsonErr := json.Unmarshal(responseBody, &matrixErr); jsonErr != nil {
		return nil, fmt.Errorf("unexpected %d response from %s %s: %s",
			response.StatusCode, method, path, string(responseBody))
	}
	matrixErr.StatusCode = response.StatusCode
	return nil, &matrixErr
}
