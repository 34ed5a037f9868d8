// Copyright 2026 The Yamlink Authors
// SPDX-License-Identifier: Apache-2.0

// Package version reports build information for yamlink binaries.
//
// The release version is set via -ldflags for tagged builds:
//
//	go build -ldflags "-X github.com/yamlink-foundation/yamlink/lib/version.Version=1.2.0"
//
// The VCS revision is not injected; it is read from the build
// metadata the Go toolchain stamps into every binary built inside a
// repository.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
)

// Version is the semantic version, set manually for releases.
var Version = "0.1.0-dev"

// Print writes the --version line for the named binary to stdout.
func Print(binary string) {
	fmt.Printf("%s %s (%s) %s/%s\n", binary, Version, revision(), runtime.GOOS, runtime.GOARCH)
}

// revision returns the short VCS revision of the build, with a
// "-dirty" suffix when the working tree had uncommitted changes, or
// "unknown" for builds without stamped VCS metadata (go run, test
// binaries).
func revision() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return "unknown"
	}
	rev, dirty := "unknown", false
	for _, setting := range info.Settings {
		switch setting.Key {
		case "vcs.revision":
			rev = setting.Value
			if len(rev) > 12 {
				rev = rev[:12]
			}
		case "vcs.modified":
			dirty = setting.Value == "true"
		}
	}
	if dirty {
		rev += "-dirty"
	}
	return rev
}
