// Copyright 2026 The Yamlink Authors
// SPDX-License-Identifier: Apache-2.0

// Package nlattr encodes and decodes netlink attributes, the tagged,
// length-prefixed TLV units that make up a netlink message payload.
//
// Decoding is policy-driven: [ParseTable] takes a table mapping
// attribute tags to expected primitive types and produces an
// index-addressable table of attributes, silently skipping anything
// out of range or mistyped. This mirrors how the kernel validates
// attributes against an nla_policy and lets a single parse loop serve
// every message shape.
//
// Encoding goes through [Builder], which appends tagged attributes to
// a growing payload. Nested containers are opened with
// [Builder.NestStart] and closed with [Builder.NestEnd]; the returned
// handle records the container header offset so its length can be
// back-patched once the children are in place.
//
// Attribute payloads are in host byte order and padded to 4-byte
// alignment, per uapi/linux/netlink.h.
package nlattr
