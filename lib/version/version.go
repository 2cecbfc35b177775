// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package version reports the kvrtc build. Release builds inject the
// values with -ldflags:
//
//	go build -ldflags "-X github.com/bureau-foundation/kvrtc/lib/version.Version=0.2.0" ./cmd/kvrtc
//
// Unset values fall back to the VCS stamp the Go toolchain embeds.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
)

var (
	Version   = "0.1.0-dev"
	GitCommit = ""
	BuildTime = ""
)

// Info returns "<version> (<commit>, <build time>)".
func Info() string {
	commit, built := stamp()
	return fmt.Sprintf("%s (%s, %s)", Version, commit, built)
}

// Full adds the Go toolchain and platform to Info.
func Full() string {
	return fmt.Sprintf("%s\n  Go: %s\n  Platform: %s/%s",
		Info(), runtime.Version(), runtime.GOOS, runtime.GOARCH)
}

func stamp() (commit, built string) {
	commit, built = GitCommit, BuildTime
	if info, ok := debug.ReadBuildInfo(); ok {
		modified := false
		for _, setting := range info.Settings {
			switch setting.Key {
			case "vcs.revision":
				if commit == "" && len(setting.Value) >= 12 {
					commit = setting.Value[:12]
				}
			case "vcs.time":
				if built == "" {
					built = setting.Value
				}
			case "vcs.modified":
				modified = setting.Value == "true"
			}
		}
		if modified && GitCommit == "" && commit != "" {
			commit += "-dirty"
		}
	}
	if commit == "" {
		commit = "unknown"
	}
	if built == "" {
		built = "unknown"
	}
	return commit, built
}
