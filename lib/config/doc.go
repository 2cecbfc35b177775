// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads kvrtc's YAML configuration.
//
// The file is named by the KVRTC_CONFIG environment variable ([Load])
// or a --config flag ([LoadFile]). Without either, [Default] applies:
// an in-memory store, one public STUN server, and the timing and codec
// values the negotiation protocol was tuned with (1 s polling, 10 s
// gathering bound, H.264 capped at 5000 kbps).
//
// An environments map carries partial configs keyed by environment
// name; the entry matching the environment field is decoded over the
// base values, so only the fields it names change.
//
// String fields that hold URLs, tokens, and paths go through ${VAR}
// and ${VAR:-default} expansion after loading, which keeps bearer
// tokens out of the file itself.
package config
