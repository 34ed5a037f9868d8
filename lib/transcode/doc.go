// Copyright 2026 The Yamlink Authors
// SPDX-License-Identifier: Apache-2.0

// Package transcode converts between YAML documents and generic-
// netlink attribute streams.
//
// The inbound path is a [Reader]: the kernel first transmits a
// self-describing key schema, then batches of values; the Reader
// caches the schema as a key tree, joins each value batch against it,
// and produces YAML text. Hand it to yaml.NewDecoder and the consumer
// sees an ordinary YAML document.
//
// The outbound path is a [Writer]: yaml.NewEncoder emits document
// text into it, and the Writer infers the document's structure from
// indentation and bracket tokens, repackages each line as typed
// attributes, and sends the result as one generic-netlink message.
// The first unindented "key:" line of a document does not become an
// attribute; it names the multicast group the message is addressed
// to.
//
// Both directions drive a [Transport] — a narrow view of a
// generic-netlink socket (lib/genl in production, fakes in tests).
// A Reader or Writer owns its transport for the life of the session
// and is not safe for concurrent use.
package transcode
