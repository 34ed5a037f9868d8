// Copyright 2026 The Yamlink Authors
// SPDX-License-Identifier: Apache-2.0

package genl

import (
	"encoding/binary"
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/yamlink-foundation/yamlink/lib/nlattr"
)

// Header sizes, from uapi/linux/netlink.h and uapi/linux/genetlink.h.
const (
	// nlmsgHeaderSize is sizeof(struct nlmsghdr).
	nlmsgHeaderSize = unix.SizeofNlMsghdr

	// genlHeaderSize is sizeof(struct genlmsghdr): cmd, version,
	// and a reserved u16.
	genlHeaderSize = 4
)

// Message is one netlink message lifted out of a received datagram.
// For generic-netlink messages (Type >= NLMSG_MIN_TYPE) the Cmd and
// Version fields are populated from the genetlink header and Payload
// holds the attribute bytes that follow it. For control messages
// (NLMSG_ERROR, NLMSG_DONE) Payload holds the raw message body.
type Message struct {
	Type    uint16
	Flags   uint16
	Seq     uint32
	PortID  uint32
	Cmd     uint8
	Version uint8
	Payload []byte
}

// Err returns the kernel error carried by an NLMSG_ERROR message, or
// nil when the message is not an error or is a plain zero ACK. The
// extended-ack text, when the kernel attached it, is preferred over
// the errno string.
func (m Message) Err() error {
	if m.Type != unix.NLMSG_ERROR || len(m.Payload) < 4 {
		return nil
	}
	code := int32(binary.NativeEndian.Uint32(m.Payload[0:4]))
	if code == 0 {
		return nil
	}
	ack := &AckError{Errno: unix.Errno(-code)}

	if m.Flags&unix.NLM_F_ACK_TLVS != 0 {
		ack.Message = extAckMessage(m.Payload, m.Flags)
	}
	return ack
}

// AckError is a kernel NLMSG_ERROR reply. Errno is always set;
// Message carries the NLMSGERR_ATTR_MSG extended-ack text when the
// kernel provided one.
type AckError struct {
	Errno   unix.Errno
	Message string
}

func (e *AckError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return e.Errno.Error()
}

// Unwrap exposes the errno for errors.Is comparisons.
func (e *AckError) Unwrap() error {
	return e.Errno
}

// extAckMessage extracts the NLMSGERR_ATTR_MSG string from an error
// message body. The TLVs sit after the 4-byte error code and the
// echoed request: just its header when NLM_F_CAPPED is set, the whole
// request otherwise.
func extAckMessage(body []byte, flags uint16) string {
	offset := 4 + nlmsgHeaderSize
	if flags&unix.NLM_F_CAPPED == 0 {
		if len(body) < 4+4 {
			return ""
		}
		inner := int(binary.NativeEndian.Uint32(body[4:8]))
		if inner < nlmsgHeaderSize {
			return ""
		}
		offset = 4 + nlmsgAlign(inner)
	}
	if offset >= len(body) {
		return ""
	}

	var msg string
	err := nlattr.Walk(body[offset:], func(a nlattr.Attr) error {
		if a.Tag == unix.NLMSGERR_ATTR_MSG {
			msg = a.String()
		}
		return nil
	})
	if err != nil {
		return ""
	}
	return msg
}

// nlmsgAlign rounds n up to NLMSG_ALIGNTO.
func nlmsgAlign(n int) int {
	return (n + unix.NLMSG_ALIGNTO - 1) &^ (unix.NLMSG_ALIGNTO - 1)
}

// split breaks a received datagram into its constituent messages.
func split(buf []byte) ([]Message, error) {
	var msgs []Message
	for len(buf) >= nlmsgHeaderSize {
		length := int(binary.NativeEndian.Uint32(buf[0:4]))
		if length < nlmsgHeaderSize || length > len(buf) {
			return nil, fmt.Errorf("genl: malformed netlink header: length %d with %d bytes remaining", length, len(buf))
		}
		msg := Message{
			Type:   binary.NativeEndian.Uint16(buf[4:6]),
			Flags:  binary.NativeEndian.Uint16(buf[6:8]),
			Seq:    binary.NativeEndian.Uint32(buf[8:12]),
			PortID: binary.NativeEndian.Uint32(buf[12:16]),
		}
		body := buf[nlmsgHeaderSize:length]
		if msg.Type >= unix.NLMSG_MIN_TYPE && len(body) >= genlHeaderSize {
			msg.Cmd = body[0]
			msg.Version = body[1]
			msg.Payload = body[genlHeaderSize:]
		} else {
			msg.Payload = body
		}
		msgs = append(msgs, msg)

		next := nlmsgAlign(length)
		if next >= len(buf) {
			break
		}
		buf = buf[next:]
	}
	return msgs, nil
}

// parseFamily extracts the family ID and multicast group table from a
// CTRL_CMD_GETFAMILY reply payload.
func parseFamily(payload []byte) (uint16, map[string]uint32, error) {
	var familyID uint16
	groups := make(map[string]uint32)

	err := nlattr.Walk(payload, func(a nlattr.Attr) error {
		switch a.Tag {
		case unix.CTRL_ATTR_FAMILY_ID:
			if len(a.Data) < 2 {
				return fmt.Errorf("genl: short CTRL_ATTR_FAMILY_ID")
			}
			familyID = a.U16()
		case unix.CTRL_ATTR_MCAST_GROUPS:
			return nlattr.Walk(a.Data, func(entry nlattr.Attr) error {
				var name string
				var id uint32
				err := nlattr.Walk(entry.Data, func(field nlattr.Attr) error {
					switch field.Tag {
					case unix.CTRL_ATTR_MCAST_GRP_NAME:
						name = field.String()
					case unix.CTRL_ATTR_MCAST_GRP_ID:
						if len(field.Data) >= 4 {
							id = field.U32()
						}
					}
					return nil
				})
				if err == nil && name != "" {
					groups[name] = id
				}
				return err
			})
		}
		return nil
	})
	if err != nil {
		return 0, nil, err
	}
	if familyID == 0 {
		return 0, nil, fmt.Errorf("genl: family reply carries no CTRL_ATTR_FAMILY_ID")
	}
	return familyID, groups, nil
}
