// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package signaling turns a poll-only key-value store into the
// message channel the negotiation needs.
//
// The store has no push and no read-once primitive, so the same value
// is read over and over until the other peer overwrites it. [Adapter]
// owns all of that:
//
//   - [Adapter.Watch] polls a key on a fixed interval and calls back
//     only when the value changes (compared by content digest) and is
//     non-empty. A nil return from the callback means the value was
//     used: the subscription cancels itself so a later poll cannot
//     deliver a second time. Store errors are logged and the next tick
//     retries; they never end the subscription.
//   - [Adapter.WaitFor] is the one-shot form: a bounded number of reads
//     spaced by a delay, failing with [RetryExhaustedError].
//   - [Adapter.Publish] writes a [Record], retrying store failures a
//     bounded number of times. [Adapter.Clear] writes the empty
//     sentinel so stale records from an earlier run are not mistaken
//     for fresh ones.
//
// Records are JSON {"type","sdp"} objects, optionally compressed
// ([Encode], [Decode]).
package signaling
