// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/bureau-foundation/kvrtc/lib/config"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

// checkContract exercises the behavior every backend shares.
func checkContract(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	value, err := s.Get(ctx, "offer")
	if err != nil {
		t.Fatalf("Get on unset key: %v", err)
	}
	if value != "" {
		t.Fatalf("Get on unset key = %q, want empty", value)
	}

	record := `{"type":"offer","sdp":"v=0\r\n"}`
	if err := s.Set(ctx, "offer", record); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if value, err = s.Get(ctx, "offer"); err != nil || value != record {
		t.Fatalf("Get after Set = %q, %v; want %q", value, err, record)
	}

	if err := s.Set(ctx, "offer", "second"); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	if value, _ = s.Get(ctx, "offer"); value != "second" {
		t.Fatalf("Get after overwrite = %q, want last write", value)
	}

	if value, _ = s.Get(ctx, "answer"); value != "" {
		t.Fatalf("keys are not independent: answer = %q", value)
	}

	if err := s.Set(ctx, "offer", ""); err != nil {
		t.Fatalf("clearing: %v", err)
	}
	if value, _ = s.Get(ctx, "offer"); value != "" {
		t.Fatalf("Get after clear = %q, want empty", value)
	}
}

func TestMemoryStore(t *testing.T) {
	checkContract(t, NewMemoryStore())
}

func TestMemoryStoreCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewMemoryStore().Get(ctx, "offer")
	if !IsUnavailable(err) {
		t.Fatalf("Get with cancelled context = %v, want UnavailableError", err)
	}
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("UnavailableError does not unwrap to context.Canceled: %v", err)
	}
}

func TestFileStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "store.cbor")
	s, err := NewFileStore(path)
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	checkContract(t, s)
}

func TestFileStoreSharedBetweenInstances(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.cbor")
	writer, err := NewFileStore(path)
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	reader, err := NewFileStore(path)
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	ctx := context.Background()

	var wg sync.WaitGroup
	for _, key := range []string{"offer", "answer", "other"} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := writer.Set(ctx, key, "value-"+key); err != nil {
				t.Errorf("Set(%s): %v", key, err)
			}
		}()
	}
	wg.Wait()

	for _, key := range []string{"offer", "answer", "other"} {
		value, err := reader.Get(ctx, key)
		if err != nil || value != "value-"+key {
			t.Fatalf("Get(%s) = %q, %v", key, value, err)
		}
	}
}

func TestHTTPStoreAgainstHandler(t *testing.T) {
	server := httptest.NewServer(NewHandler(NewMemoryStore(), HandlerConfig{Token: "s3cret", Logger: testLogger()}))
	defer server.Close()

	s, err := NewHTTPStore(HTTPConfig{BaseURL: server.URL + "/", Token: "s3cret", Logger: testLogger()})
	if err != nil {
		t.Fatalf("NewHTTPStore: %v", err)
	}
	checkContract(t, s)
}

func TestHTTPStoreRejectedToken(t *testing.T) {
	server := httptest.NewServer(NewHandler(NewMemoryStore(), HandlerConfig{Token: "s3cret", Logger: testLogger()}))
	defer server.Close()

	s, err := NewHTTPStore(HTTPConfig{BaseURL: server.URL, Token: "wrong", Logger: testLogger()})
	if err != nil {
		t.Fatalf("NewHTTPStore: %v", err)
	}
	_, err = s.Get(context.Background(), "offer")
	if !IsUnavailable(err) || !strings.Contains(err.Error(), "401") {
		t.Fatalf("Get with wrong token = %v, want 401 UnavailableError", err)
	}
}

func TestHTTPStoreAcceptsValueField(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"value":"legacy"}`))
	}))
	defer server.Close()

	s, _ := NewHTTPStore(HTTPConfig{BaseURL: server.URL, Logger: testLogger()})
	value, err := s.Get(context.Background(), "offer")
	if err != nil || value != "legacy" {
		t.Fatalf("Get = %q, %v; want legacy", value, err)
	}
}

// failingStore fails every operation.
type failingStore struct{}

func (failingStore) Get(context.Context, string) (string, error) {
	return "", errors.New("backend down")
}

func (failingStore) Set(context.Context, string, string) error {
	return errors.New("backend down")
}

func TestHandlerErrors(t *testing.T) {
	healthy := httptest.NewServer(NewHandler(NewMemoryStore(), HandlerConfig{Logger: testLogger()}))
	defer healthy.Close()
	broken := httptest.NewServer(NewHandler(failingStore{}, HandlerConfig{Logger: testLogger()}))
	defer broken.Close()

	tests := []struct {
		name   string
		server *httptest.Server
		method string
		path   string
		body   string
		status int
	}{
		{"get without key", healthy, http.MethodGet, "/api/get-key-val", "", http.StatusBadRequest},
		{"set without key", healthy, http.MethodPost, "/api/set-key-val", `{"val":"x"}`, http.StatusBadRequest},
		{"set malformed", healthy, http.MethodPost, "/api/set-key-val", `{`, http.StatusBadRequest},
		{"get backend failure", broken, http.MethodGet, "/api/get-key-val?key=offer", "", http.StatusInternalServerError},
		{"set backend failure", broken, http.MethodPost, "/api/set-key-val", `{"key":"offer","val":"x"}`, http.StatusInternalServerError},
		{"health", broken, http.MethodGet, "/healthz", "", http.StatusNoContent},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			request, err := http.NewRequest(test.method, test.server.URL+test.path, strings.NewReader(test.body))
			if err != nil {
				t.Fatalf("NewRequest: %v", err)
			}
			response, err := http.DefaultClient.Do(request)
			if err != nil {
				t.Fatalf("request: %v", err)
			}
			response.Body.Close()
			if response.StatusCode != test.status {
				t.Fatalf("status = %d, want %d", response.StatusCode, test.status)
			}
		})
	}
}

// mockMatrixServer stores state events keyed by "type/state_key" for
// one room and answers M_NOT_FOUND for anything unset.
type mockMatrixServer struct {
	mu     sync.Mutex
	roomID string
	token  string
	state  map[string]json.RawMessage
}

func (m *mockMatrixServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if r.Header.Get("Authorization") != "Bearer "+m.token {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"errcode":"M_UNKNOWN_TOKEN","error":"bad token"}`))
		return
	}
	rawPath := r.URL.EscapedPath()
	prefix := "/_matrix/client/v3/rooms/" + url.PathEscape(m.roomID) + "/state/"
	rest, ok := strings.CutPrefix(rawPath, prefix)
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"errcode":"M_UNRECOGNIZED","error":"unknown path"}`))
		return
	}
	escapedType, escapedKey, _ := strings.Cut(rest, "/")
	eventType, _ := url.PathUnescape(escapedType)
	stateKey, _ := url.PathUnescape(escapedKey)
	slot := eventType + "/" + stateKey

	switch r.Method {
	case http.MethodPut:
		var content json.RawMessage
		if err := json.NewDecoder(r.Body).Decode(&content); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"errcode":"M_BAD_JSON","error":"bad json"}`))
			return
		}
		m.state[slot] = content
		w.Write([]byte(`{"event_id":"$event"}`))
	case http.MethodGet:
		content, ok := m.state[slot]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"errcode":"M_NOT_FOUND","error":"Event not found."}`))
			return
		}
		w.Write(content)
	}
}

func TestMatrixStore(t *testing.T) {
	mock := &mockMatrixServer{roomID: "!signal:example.org", token: "syt_token", state: make(map[string]json.RawMessage)}
	server := httptest.NewServer(mock)
	defer server.Close()

	s, err := NewMatrixStore(MatrixConfig{
		HomeserverURL: server.URL,
		AccessToken:   "syt_token",
		RoomID:        "!signal:example.org",
		Logger:        testLogger(),
	})
	if err != nil {
		t.Fatalf("NewMatrixStore: %v", err)
	}
	checkContract(t, s)

	mock.mu.Lock()
	_, stored := mock.state[SignalEventType+"/offer"]
	mock.mu.Unlock()
	if !stored {
		t.Fatalf("expected a %s state event with state_key offer", SignalEventType)
	}
}

func TestMatrixStoreErrorsAreUnavailable(t *testing.T) {
	mock := &mockMatrixServer{roomID: "!signal:example.org", token: "right", state: make(map[string]json.RawMessage)}
	server := httptest.NewServer(mock)
	defer server.Close()

	s, _ := NewMatrixStore(MatrixConfig{HomeserverURL: server.URL, AccessToken: "wrong", RoomID: "!signal:example.org"})
	_, err := s.Get(context.Background(), "offer")
	var matrixErr *MatrixError
	if !IsUnavailable(err) || !errors.As(err, &matrixErr) || matrixErr.Code != "M_UNKNOWN_TOKEN" {
		t.Fatalf("Get with bad token = %v, want UnavailableError wrapping M_UNKNOWN_TOKEN", err)
	}
}

func TestNewSelectsBackend(t *testing.T) {
	tests := []struct {
		cfg     config.StoreConfig
		want    string
		wantErr bool
	}{
		{config.StoreConfig{Backend: config.BackendMemory}, "*store.MemoryStore", false},
		{config.StoreConfig{Backend: config.BackendHTTP, URL: "http://localhost:1"}, "*store.HTTPStore", false},
		{config.StoreConfig{Backend: config.BackendMatrix, URL: "http://localhost:1", Room: "!r:x"}, "*store.MatrixStore", false},
		{config.StoreConfig{Backend: config.BackendFile, Path: filepath.Join(t.TempDir(), "s.cbor")}, "*store.FileStore", false},
		{config.StoreConfig{Backend: config.BackendHTTP}, "", true},
		{config.StoreConfig{Backend: "etcd"}, "", true},
	}
	for _, test := range tests {
		s, err := New(test.cfg, nil, testLogger())
		if test.wantErr {
			if err == nil {
				t.Errorf("New(%+v) succeeded, want error", test.cfg)
			}
			continue
		}
		if err != nil {
			t.Errorf("New(%+v): %v", test.cfg, err)
			continue
		}
		if got := typeName(s); got != test.want {
			t.Errorf("New(%+v) = %s, want %s", test.cfg, got, test.want)
		}
	}
}

func typeName(s Store) string {
	switch s.(type) {
	case *MemoryStore:
		return "*store.MemoryStore"
	case *HTTPStore:
		return "*store.HTTPStore"
	case *MatrixStore:
		return "*store.MatrixStore"
	case *FileStore:
		return "*store.FileStore"
	}
	return "unknown"
}
