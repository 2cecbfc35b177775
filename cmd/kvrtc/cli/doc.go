// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package cli is the small command framework behind the kvrtc binary:
// a tree of [Command] values with pflag flag sets, generated help,
// typo suggestions for commands and flags, and [ExitError] for
// commands that report their own failure.
package cli
