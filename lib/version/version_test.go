// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package version

import (
	"strings"
	"testing"
)

func TestInfoUsesInjectedValues(t *testing.T) {
	savedVersion, savedCommit, savedTime := Version, GitCommit, BuildTime
	t.Cleanup(func() { Version, GitCommit, BuildTime = savedVersion, savedCommit, savedTime })

	Version, GitCommit, BuildTime = "1.2.3", "abc1234", "2026-10-01T00:00:00Z"
	if got, want := Info(), "1.2.3 (abc1234, 2026-10-01T00:00:00Z)"; got != want {
		t.Fatalf("Info() = %q, want %q", got, want)
	}
	if !strings.HasPrefix(Full(), "1.2.3 (abc1234") || !strings.Contains(Full(), "Go: ") {
		t.Fatalf("Full() = %q", Full())
	}
}
