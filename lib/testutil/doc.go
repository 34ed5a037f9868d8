// Copyright 2026 The Yamlink Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides shared test helpers for yamlink packages.
//
// [RequireReceive] and [RequireSend] put a timeout safety valve on
// channel operations that coordinate with a transcoding session
// running in another goroutine — typically a YAML decoder blocked in
// a streaming transport. A session that stops draining its transport
// would otherwise hang the test run rather than fail it.
//
// Both helpers call t.Fatalf on failure rather than returning errors,
// since there is nothing for the test to recover.
//
// This package has no yamlink-internal dependencies.
package testutil
