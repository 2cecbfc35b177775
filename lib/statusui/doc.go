// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package statusui is the interactive status view for kvrtc send and
// receive. It renders the negotiation session (role, connection and
// gathering state, peer state, candidate count, bitrate) and, on
// request, excerpts of the local and remote descriptions.
//
// The model reads session snapshots from a channel, normally the one
// returned by negotiation.Coordinator.Subscribe, and re-renders on each.
package statusui
