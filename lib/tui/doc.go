// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package tui holds the look shared by kvrtc's terminal views: the
// color theme and the helpers that render state labels and bounded
// text blocks with it.
package tui
