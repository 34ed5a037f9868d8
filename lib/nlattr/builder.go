// Copyright 2026 The Yamlink Authors
// SPDX-License-Identifier: Apache-2.0

package nlattr

import "encoding/binary"

// Builder assembles a netlink attribute payload. The zero value is
// ready to use. Attributes are appended in call order; nested
// containers record their header offset so the container length can
// be patched when the nest is closed.
type Builder struct {
	buf []byte
}

// Len returns the number of payload bytes assembled so far.
func (b *Builder) Len() int {
	return len(b.buf)
}

// Bytes returns the assembled payload. The slice aliases the
// builder's internal buffer; further Put calls may invalidate it.
func (b *Builder) Bytes() []byte {
	return b.buf
}

// header appends an attribute header announcing a payload of
// payloadLen bytes.
func (b *Builder) header(tag uint16, payloadLen int) {
	var hdr [headerSize]byte
	binary.NativeEndian.PutUint16(hdr[0:2], uint16(headerSize+payloadLen))
	binary.NativeEndian.PutUint16(hdr[2:4], tag)
	b.buf = append(b.buf, hdr[:]...)
}

// pad appends zero bytes up to the attribute alignment boundary.
func (b *Builder) pad() {
	for len(b.buf)%alignTo != 0 {
		b.buf = append(b.buf, 0)
	}
}

// PutU16 appends an unsigned 16-bit attribute.
func (b *Builder) PutU16(tag uint16, v uint16) {
	b.header(tag, 2)
	b.buf = binary.NativeEndian.AppendUint16(b.buf, v)
	b.pad()
}

// PutU32 appends an unsigned 32-bit attribute.
func (b *Builder) PutU32(tag uint16, v uint32) {
	b.header(tag, 4)
	b.buf = binary.NativeEndian.AppendUint32(b.buf, v)
	b.pad()
}

// PutU64 appends an unsigned 64-bit attribute.
func (b *Builder) PutU64(tag uint16, v uint64) {
	b.header(tag, 8)
	b.buf = binary.NativeEndian.AppendUint64(b.buf, v)
	b.pad()
}

// PutS16 appends a signed 16-bit attribute.
func (b *Builder) PutS16(tag uint16, v int16) {
	b.PutU16(tag, uint16(v))
}

// PutS32 appends a signed 32-bit attribute.
func (b *Builder) PutS32(tag uint16, v int32) {
	b.PutU32(tag, uint32(v))
}

// PutS64 appends a signed 64-bit attribute.
func (b *Builder) PutS64(tag uint16, v int64) {
	b.PutU64(tag, uint64(v))
}

// PutString appends a string attribute with a NUL terminator, the
// wire form the kernel's nla_strlcpy expects.
func (b *Builder) PutString(tag uint16, s string) {
	b.header(tag, len(s)+1)
	b.buf = append(b.buf, s...)
	b.buf = append(b.buf, 0)
	b.pad()
}

// PutBytes appends an opaque attribute.
func (b *Builder) PutBytes(tag uint16, p []byte) {
	b.header(tag, len(p))
	b.buf = append(b.buf, p...)
	b.pad()
}

// NestStart opens a nested container attribute and returns a handle
// for [Builder.NestEnd]. The container's length field is patched when
// the nest is closed. The NLA_F_NESTED flag is set on the tag.
func (b *Builder) NestStart(tag uint16) int {
	offset := len(b.buf)
	b.header(tag|FlagNested, 0)
	return offset
}

// NestEnd closes a nested container opened by [Builder.NestStart],
// back-patching its length to cover everything appended since.
func (b *Builder) NestEnd(handle int) {
	length := len(b.buf) - handle
	binary.NativeEndian.PutUint16(b.buf[handle:handle+2], uint16(length))
}
