// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package negotiation drives one side of a WebRTC handshake whose only
// signaling channel is a poll-only key-value store.
//
// The store holds one offer and one answer. A [Coordinator] in the
// sender role clears both keys, builds an offer, waits for candidate
// gathering to finish (or time out), publishes the offer, and polls for
// the answer. In the receiver role it polls for the offer, answers it,
// and publishes the answer once gathering is final. Descriptions can
// also be delivered by hand with [Coordinator.DeliverRemote]; manual
// and polled delivery share one guarded path, so whichever arrives
// first is applied and the other is a no-op.
//
// Progress is observable as [Session] snapshots through
// [Coordinator.Snapshot] and [Coordinator.Subscribe].
package negotiation
