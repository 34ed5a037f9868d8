// Copyright 2026 The Yamlink Authors
// SPDX-License-Identifier: Apache-2.0

// Package capture journals transcoding sessions to disk and plays
// them back.
//
// A [Recorder] wraps a live transport and writes the calls that
// cross it — every receive outcome, and each successful send, group
// join, and session configuration — to a capture file. A [Replayer] opens a
// capture file and stands in for the transport, replaying the
// recorded inbound traffic in order, so a kernel conversation can be
// re-run through the transcoder offline.
//
// The file format is a fixed header (magic and a BLAKE3 digest of the
// record stream), followed by a zstd-compressed sequence of CBOR
// records. The digest is verified on open; a truncated or edited
// capture is rejected rather than silently replayed wrong.
package capture
