// Copyright 2026 The Yamlink Authors
// SPDX-License-Identifier: Apache-2.0

// Package genl is a minimal generic-netlink transport built directly
// on AF_NETLINK sockets via golang.org/x/sys/unix.
//
// A [Socket] is bound to one generic-netlink family, resolved by name
// through the nlctrl controller at dial time along with the family's
// multicast group table. The surface is deliberately narrow — receive
// a batch of messages, send one request, join a multicast group,
// configure reporting options — because the transcoding core above it
// (lib/transcode) only consumes it through that contract.
//
// Kernel error replies (NLMSG_ERROR) are surfaced as [*AckError],
// carrying the errno and, when the kernel attached extended-ack TLVs,
// the human-readable diagnostic text.
package genl
