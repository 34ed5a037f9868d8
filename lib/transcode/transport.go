// Copyright 2026 The Yamlink Authors
// SPDX-License-Identifier: Apache-2.0

package transcode

import (
	"github.com/yamlink-foundation/yamlink/lib/genl"
	"github.com/yamlink-foundation/yamlink/lib/nlattr"
)

// Transport is the narrow slice of a generic-netlink socket the
// transcoder needs. *genl.Socket implements it; tests substitute
// in-memory fakes, and lib/capture wraps one to journal a session.
type Transport interface {
	// Configure prepares the socket for a session: broadcast-error
	// reporting and extended acks on, and for streaming sessions
	// sequence checking and auto-ack off.
	Configure(stream bool) error

	// Receive blocks until at least one message arrives. A signal
	// interruption is reported as genl.ErrInterrupted.
	Receive() ([]genl.Message, error)

	// Send transmits one message with the given attribute payload.
	Send(cmd, version uint8, flags uint16, payload []byte) error

	// SendCommand transmits a bodyless command message.
	SendCommand(cmd, version uint8, flags uint16) error

	// JoinGroup subscribes to one of the family's multicast groups.
	JoinGroup(name string) error
}

// Attribute tags of the schema/value wire protocol. A schema message
// carries a LIST container of key records; each record describes one
// key slot, and nests a further LIST when the key opens a deeper
// level. Outbound messages reuse LIST and VALUE: structure travels as
// nesting, every scalar travels as a VALUE string.
const (
	attrList      = 1 // nested: a level of key records, or an outbound container
	attrListSize  = 2 // u16: sibling slot count, first record of a level only
	attrIndex     = 3 // u16: the record's slot index, 1-based
	attrType      = 4 // u16: primitive type code of the slot's values
	attrValue     = 5 // string: key name, default value, or outbound scalar
	attrIntValue  = 6 // s64: numeric default, accepted but unused here
	attrKeyFormat = 7 // u16: flow/sequence/mapping rendering bits
)

// schemaPolicy validates the attributes of schema messages and of the
// key records nested inside them.
var schemaPolicy = []nlattr.Type{
	attrList:      nlattr.TypeNested,
	attrListSize:  nlattr.TypeU16,
	attrIndex:     nlattr.TypeU16,
	attrType:      nlattr.TypeU16,
	attrValue:     nlattr.TypeString,
	attrIntValue:  nlattr.TypeS64,
	attrKeyFormat: nlattr.TypeU16,
}
