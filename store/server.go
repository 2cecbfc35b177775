// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"crypto/subtle"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// maxRequestSize bounds a set-key-val request body.
const maxRequestSize = 1 << 20

// HandlerConfig configures NewHandler.
type HandlerConfig struct {
	// Token, if set, is required as a bearer token on every request.
	Token string

	// Logger is used for structured logging. If nil, slog.Default() is used.
	Logger *slog.Logger
}

type handler struct {
	backing Store
	logger  *slog.Logger
}

// NewHandler serves backing over the key-value JSON API:
//
//	GET  /api/get-key-val?key=K      -> {"val": V}
//	POST /api/set-key-val {"key":K,"val":V} -> {"ok": true}
//
// A missing key parameter is a 400; a backing store failure is a 500
// with {"error": ...}.
func NewHandler(backing Store, config HandlerConfig) http.Handler {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	h := &handler{backing: backing, logger: logger}

	router := chi.NewRouter()
	router.Use(middleware.Recoverer)
	router.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	router.Group(func(r chi.Router) {
		if config.Token != "" {
			r.Use(requireBearer(config.Token))
		}
		r.Get("/api/get-key-val", h.getValue)
		r.Post("/api/set-key-val", h.setValue)
	})
	return router
}

func (h *handler) getValue(w http.ResponseWriter, r *http.Request) {
	key := r.URL.Query().Get("key")
	if key == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "key parameter is required"})
		return
	}
	value, err := h.backing.Get(r.Context(), key)
	if err != nil {
		h.logger.Warn("get failed", "key", key, "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "failed to retrieve value"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"val": value})
}

func (h *handler) setValue(w http.ResponseWriter, r *http.Request) {
	var request setRequest
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestSize))
	if err := decoder.Decode(&request); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}
	if request.Key == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "key is required"})
		return
	}
	if err := h.backing.Set(r.Context(), request.Key, request.Val); err != nil {
		h.logger.Warn("set failed", "key", request.Key, "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "failed to store value"})
		return
	}
	h.logger.Info("stored value", "key", request.Key, "bytes", len(request.Val))
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func requireBearer(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			presented, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || subtle.ConstantTimeCompare([]byte(presented), []byte(token)) != 1 {
				writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "unauthorized"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body) //nolint:errcheck // client went away
}
