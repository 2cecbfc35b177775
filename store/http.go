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

// maxResponseSize bounds a key-value response body. SDP records are a
// few kilobytes; anything near this limit is not a signaling record.
const maxResponseSize = 1 << 20

// HTTPConfig configures an HTTPStore.
type HTTPConfig struct {
	// BaseURL is the service root; requests go to
	// BaseURL + "/api/get-key-val" and BaseURL + "/api/set-key-val".
	BaseURL string

	// Token, if set, is sent as "Authorization: Bearer <Token>".
	Token string

	// HTTPClient is used for all requests. If nil, http.DefaultClient is used.
	HTTPClient *http.Client

	// Logger is used for structured logging. If nil, slog.Default() is used.
	Logger *slog.Logger
}

// HTTPStore is a client for the get-key-val/set-key-val JSON API.
type HTTPStore struct {
	baseURL    string
	token      string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewHTTPStore validates config and returns a client.
func NewHTTPStore(config HTTPConfig) (*HTTPStore, error) {
	if config.BaseURL == "" {
		return nil, errors.New("store: BaseURL is required")
	}
	if _, err := url.Parse(config.BaseURL); err != nil {
		return nil, fmt.Errorf("store: invalid BaseURL %q: %w", config.BaseURL, err)
	}
	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPStore{
		baseURL:    strings.TrimRight(config.BaseURL, "/"),
		token:      config.Token,
		httpClient: httpClient,
		logger:     logger,
	}, nil
}

var _ Store = (*HTTPStore)(nil)

// getResponse accepts both field names deployed versions of the API
// have used for the value.
type getResponse struct {
	Val   *string `json:"val"`
	Value *string `json:"value"`
}

type setRequest struct {
	Key string `json:"key"`
	Val string `json:"val"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *HTTPStore) Get(ctx context.Context, key string) (string, error) {
	query := url.Values{"key": {key}}
	body, err := s.doRequest(ctx, http.MethodGet, "/api/get-key-val?"+query.Encode(), nil)
	if err != nil {
		return "", unavailable("get", key, err)
	}
	var response getResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return "", unavailable("get", key, fmt.Errorf("parsing response: %w", err))
	}
	switch {
	case response.Val != nil:
		return *response.Val, nil
	case response.Value != nil:
		return *response.Value, nil
	}
	return "", nil
}

func (s *HTTPStore) Set(ctx context.Context, key, value string) error {
	if _, err := s.doRequest(ctx, http.MethodPost, "/api/set-key-val", setRequest{Key: key, Val: value}); err != nil {
		return unavailable("set", key, err)
	}
	s.logger.Debug("stored value", "key", key, "bytes", len(value))
	return nil
}

func (s *HTTPStore) doRequest(ctx context.Context, method, path string, requestBody any) ([]byte, error) {
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
	if s.token != "" {
		request.Header.Set("Authorization", "Bearer "+s.token)
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

	var failure errorResponse
	if json.Unmarshal(responseBody, &failure) == nil && failure.Error != "" {
		return nil, fmt.Errorf("%s %s: %d: %s", method, path, response.StatusCode, failure.Error)
	}
	return nil, fmt.Errorf("%s %s: unexpected status %d", method, path, response.StatusCode)
}
