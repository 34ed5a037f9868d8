// Copyright 2026 The Yamlink Authors
// SPDX-License-Identifier: Apache-2.0

package nlattr

import (
	"encoding/binary"
	"fmt"
)

// Type identifies the primitive type of an attribute's payload. The
// numeric values are the kernel's nla_policy type codes (libnl uses
// the same values), so schema messages can carry them on the wire
// unchanged.
type Type uint16

const (
	TypeUnspec    Type = 0
	TypeU8        Type = 1
	TypeU16       Type = 2
	TypeU32       Type = 3
	TypeU64       Type = 4
	TypeString    Type = 5
	TypeFlag      Type = 6
	TypeMsecs     Type = 7
	TypeNested    Type = 8
	TypeNulString Type = 10
	TypeS8        Type = 12
	TypeS16       Type = 13
	TypeS32       Type = 14
	TypeS64       Type = 15
)

// String returns the kernel-style name of the type.
func (t Type) String() string {
	switch t {
	case TypeUnspec:
		return "unspec"
	case TypeU8:
		return "u8"
	case TypeU16:
		return "u16"
	case TypeU32:
		return "u32"
	case TypeU64:
		return "u64"
	case TypeString:
		return "string"
	case TypeFlag:
		return "flag"
	case TypeMsecs:
		return "msecs"
	case TypeNested:
		return "nested"
	case TypeNulString:
		return "nul-string"
	case TypeS8:
		return "s8"
	case TypeS16:
		return "s16"
	case TypeS32:
		return "s32"
	case TypeS64:
		return "s64"
	default:
		return fmt.Sprintf("type(%d)", uint16(t))
	}
}

// Attribute framing constants, from uapi/linux/netlink.h.
const (
	// headerSize is sizeof(struct nlattr): u16 length + u16 type.
	headerSize = 4

	// alignTo is NLA_ALIGNTO, the payload alignment boundary.
	alignTo = 4

	// TagMask is NLA_TYPE_MASK: the low 14 bits of the type field
	// carry the tag, the top two bits are flags.
	TagMask = 0x3fff

	// FlagNested is NLA_F_NESTED, set on container attributes.
	FlagNested = 0x8000
)

// align rounds n up to the attribute alignment boundary.
func align(n int) int {
	return (n + alignTo - 1) &^ (alignTo - 1)
}

// Attr is one decoded attribute: its tag (type field with the flag
// bits masked off) and its payload. Data aliases the buffer the
// attribute was parsed from; use [Attr.String] when an owned copy is
// needed past the buffer's lifetime.
type Attr struct {
	Tag  uint16
	Data []byte
}

// Present reports whether the attribute was found during parsing.
// A present attribute always has a non-nil (possibly empty) payload.
func (a Attr) Present() bool {
	return a.Data != nil
}

// U16 returns the payload as an unsigned 16-bit integer.
func (a Attr) U16() uint16 {
	return binary.NativeEndian.Uint16(a.Data)
}

// U32 returns the payload as an unsigned 32-bit integer.
func (a Attr) U32() uint32 {
	return binary.NativeEndian.Uint32(a.Data)
}

// U64 returns the payload as an unsigned 64-bit integer.
func (a Attr) U64() uint64 {
	return binary.NativeEndian.Uint64(a.Data)
}

// S16 returns the payload as a signed 16-bit integer.
func (a Attr) S16() int16 {
	return int16(binary.NativeEndian.Uint16(a.Data))
}

// S32 returns the payload as a signed 32-bit integer.
func (a Attr) S32() int32 {
	return int32(binary.NativeEndian.Uint32(a.Data))
}

// S64 returns the payload as a signed 64-bit integer. Some producers
// emit 64-bit payloads at unaligned offsets; the byte-wise read here
// is valid at any alignment.
func (a Attr) S64() int64 {
	return int64(binary.NativeEndian.Uint64(a.Data))
}

// String returns the payload as an owned string with any trailing
// NUL terminator removed.
func (a Attr) String() string {
	data := a.Data
	if n := len(data); n > 0 && data[n-1] == 0 {
		data = data[:n-1]
	}
	return string(data)
}

// Bytes returns the raw payload. The slice aliases the parse buffer.
func (a Attr) Bytes() []byte {
	return a.Data
}

// minLength is the smallest valid payload size for each type. Integer
// types require at least their width, a nul-terminated string at
// least its terminator; other types have no lower bound beyond what
// the framing already guarantees.
func minLength(t Type) int {
	switch t {
	case TypeU8, TypeS8:
		return 1
	case TypeU16, TypeS16:
		return 2
	case TypeU32, TypeS32:
		return 4
	case TypeU64, TypeS64, TypeMsecs:
		return 8
	case TypeNulString:
		return 1
	default:
		return 0
	}
}

// Walk iterates the attributes packed into buf in order, calling fn
// for each. Iteration stops early if fn returns an error. A short or
// corrupt attribute header terminates the walk with an error.
func Walk(buf []byte, fn func(Attr) error) error {
	for len(buf) > 0 {
		if len(buf) < headerSize {
			return fmt.Errorf("nlattr: truncated attribute header: %d bytes remaining", len(buf))
		}
		length := int(binary.NativeEndian.Uint16(buf[0:2]))
		typ := binary.NativeEndian.Uint16(buf[2:4])
		if length < headerSize || length > len(buf) {
			return fmt.Errorf("nlattr: malformed attribute: length %d with %d bytes remaining", length, len(buf))
		}
		attr := Attr{Tag: typ & TagMask, Data: buf[headerSize:length:length]}
		if err := fn(attr); err != nil {
			return err
		}
		next := align(length)
		if next >= len(buf) {
			break
		}
		buf = buf[next:]
	}
	return nil
}

// ParseTable parses the attributes in buf into a table indexed by
// tag, validated against policy (tag → expected type). Attributes
// with tag 0, a tag outside the policy, or a payload shorter than the
// policy type requires are skipped rather than failing the batch.
// Absent entries have a nil payload; test with [Attr.Present].
func ParseTable(buf []byte, policy []Type) ([]Attr, error) {
	table := make([]Attr, len(policy))
	err := Walk(buf, func(a Attr) error {
		if a.Tag == 0 || int(a.Tag) >= len(policy) {
			return nil
		}
		if len(a.Data) < minLength(policy[a.Tag]) {
			return nil
		}
		table[a.Tag] = a
		return nil
	})
	if err != nil {
		return nil, err
	}
	return table, nil
}
