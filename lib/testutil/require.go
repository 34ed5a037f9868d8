// Copyright 2026 The Yamlink Authors
// SPDX-License-Identifier: Apache-2.0

package testutil

import (
	"testing"
	"time"
)

// RequireReceive reads one value from ch within timeout, or fails the
// test. The message names what the test was waiting for, since a
// timeout here usually means a decoder goroutine is stuck in the
// transport.
func RequireReceive[T any](t *testing.T, ch <-chan T, timeout time.Duration, msg string) T {
	t.Helper()
	select {
	case v, ok := <-ch:
		if !ok {
			t.Fatalf("channel closed while %s", msg)
		}
		return v
	case <-time.After(timeout):
		t.Fatalf("timed out after %v while %s", timeout, msg)
	}
	panic("unreachable")
}

// RequireSend sends v on ch within timeout, or fails the test. A
// timeout means the session under test stopped draining its
// transport.
func RequireSend[T any](t *testing.T, ch chan<- T, v T, timeout time.Duration, msg string) {
	t.Helper()
	select {
	case ch <- v:
	case <-time.After(timeout):
		t.Fatalf("timed out after %v while %s", timeout, msg)
	}
}
