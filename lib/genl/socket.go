// Copyright 2026 The Yamlink Authors
// SPDX-License-Identifier: Apache-2.0

package genl

import (
	"encoding/binary"
	"errors"
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/yamlink-foundation/yamlink/lib/nlattr"
)

// ErrInterrupted is returned by [Socket.Receive] when the blocking
// receive was interrupted by a signal. Callers treat it as a benign
// zero-length read and may poll again.
var ErrInterrupted = errors.New("genl: receive interrupted")

// ErrUnknownGroup is returned by [Socket.JoinGroup] when the family
// does not expose a multicast group with the requested name.
var ErrUnknownGroup = errors.New("genl: multicast group not found in family")

// receiveBufferSize is the per-datagram receive buffer. Generic
// netlink dumps fit their messages to this order of magnitude; the
// kernel fragments larger dumps across datagrams.
const receiveBufferSize = 32768

// Socket is a generic-netlink socket bound to one family. It is not
// safe for concurrent use; a transcoding session owns its socket
// exclusively.
type Socket struct {
	fd       int
	portID   uint32
	seq      uint32
	family   string
	familyID uint16
	groups   map[string]uint32

	// checkSeq and autoAck are disabled for streaming sessions,
	// where async events arrive without request/response pairing.
	checkSeq bool
	autoAck  bool
}

// Dial opens a NETLINK_GENERIC socket, binds it, and resolves the
// named family and its multicast groups through nlctrl.
func Dial(family string) (*Socket, error) {
	fd, err := unix.Socket(unix.AF_NETLINK, unix.SOCK_RAW|unix.SOCK_CLOEXEC, unix.NETLINK_GENERIC)
	if err != nil {
		return nil, fmt.Errorf("genl: socket: %w", err)
	}
	s := &Socket{fd: fd, family: family, checkSeq: true, autoAck: true}

	if err := unix.Bind(fd, &unix.SockaddrNetlink{Family: unix.AF_NETLINK}); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("genl: bind: %w", err)
	}
	sa, err := unix.Getsockname(fd)
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("genl: getsockname: %w", err)
	}
	if nl, ok := sa.(*unix.SockaddrNetlink); ok {
		s.portID = nl.Pid
	}

	if err := s.resolveFamily(); err != nil {
		unix.Close(fd)
		return nil, err
	}
	return s, nil
}

// Close releases the socket.
func (s *Socket) Close() error {
	if s.fd < 0 {
		return nil
	}
	err := unix.Close(s.fd)
	s.fd = -1
	return err
}

// Family returns the family name the socket was dialed with.
func (s *Socket) Family() string {
	return s.family
}

// FamilyID returns the numeric family identifier nlctrl resolved.
func (s *Socket) FamilyID() uint16 {
	return s.familyID
}

// PortID returns the local netlink port the kernel assigned at bind.
func (s *Socket) PortID() uint32 {
	return s.portID
}

// Configure prepares the socket for a transcoding session: failed
// multicast deliveries are reported as errors rather than dropped,
// and extended-ack diagnostics are requested. Streaming sessions
// additionally stop checking sequence numbers and stop requesting
// ACKs, since async events arrive outside request/response pairing.
func (s *Socket) Configure(stream bool) error {
	if s.fd < 0 {
		return fmt.Errorf("genl: configure on closed socket: %w", unix.EBADF)
	}
	if err := unix.SetsockoptInt(s.fd, unix.SOL_NETLINK, unix.NETLINK_BROADCAST_ERROR, 1); err != nil {
		return fmt.Errorf("genl: enable broadcast error reporting: %w", err)
	}
	err := unix.SetsockoptInt(s.fd, unix.SOL_NETLINK, unix.NETLINK_EXT_ACK, 1)
	if err != nil && !errors.Is(err, unix.ENOPROTOOPT) {
		// Pre-4.12 kernels lack extended acks; everything still
		// works without the richer diagnostics.
		return fmt.Errorf("genl: enable extended acks: %w", err)
	}
	if stream {
		s.checkSeq = false
		s.autoAck = false
	}
	return nil
}

// JoinGroup subscribes the socket to one of the family's multicast
// groups by name.
func (s *Socket) JoinGroup(name string) error {
	id, ok := s.groups[name]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownGroup, name)
	}
	if err := unix.SetsockoptInt(s.fd, unix.SOL_NETLINK, unix.NETLINK_ADD_MEMBERSHIP, int(id)); err != nil {
		return fmt.Errorf("genl: join group %q: %w", name, err)
	}
	return nil
}

// Receive blocks until a datagram arrives and returns the messages it
// contains, in order. A signal interruption surfaces as
// [ErrInterrupted]. Outside streaming mode, messages whose sequence
// number does not match the last request are dropped.
func (s *Socket) Receive() ([]Message, error) {
	buf := make([]byte, receiveBufferSize)
	for {
		n, _, err := unix.Recvfrom(s.fd, buf, 0)
		if errors.Is(err, unix.EINTR) {
			return nil, ErrInterrupted
		}
		if err != nil {
			return nil, fmt.Errorf("genl: recv: %w", err)
		}
		msgs, err := split(buf[:n])
		if err != nil {
			return nil, err
		}
		if s.checkSeq {
			fresh := msgs[:0]
			for _, m := range msgs {
				if m.Seq == s.seq {
					fresh = append(fresh, m)
				}
			}
			msgs = fresh
		}
		if len(msgs) > 0 {
			return msgs, nil
		}
	}
}

// Send stamps a generic-netlink header onto payload and sends it to
// the kernel addressed to the socket's family.
func (s *Socket) Send(cmd, version uint8, flags uint16, payload []byte) error {
	return s.send(s.familyID, cmd, version, flags, payload)
}

// SendCommand sends a bodyless command, for requests that carry all
// their meaning in the command number.
func (s *Socket) SendCommand(cmd, version uint8, flags uint16) error {
	return s.Send(cmd, version, flags, nil)
}

func (s *Socket) send(familyID uint16, cmd, version uint8, flags uint16, payload []byte) error {
	if s.fd < 0 {
		return fmt.Errorf("genl: send on closed socket: %w", unix.EBADF)
	}
	s.seq++
	flags |= unix.NLM_F_REQUEST
	if s.autoAck {
		flags |= unix.NLM_F_ACK
	}

	length := nlmsgHeaderSize + genlHeaderSize + len(payload)
	msg := make([]byte, nlmsgHeaderSize+genlHeaderSize, length)
	binary.NativeEndian.PutUint32(msg[0:4], uint32(length))
	binary.NativeEndian.PutUint16(msg[4:6], familyID)
	binary.NativeEndian.PutUint16(msg[6:8], flags)
	binary.NativeEndian.PutUint32(msg[8:12], s.seq)
	binary.NativeEndian.PutUint32(msg[12:16], s.portID)
	msg[nlmsgHeaderSize] = cmd
	msg[nlmsgHeaderSize+1] = version
	msg = append(msg, payload...)

	err := unix.Sendto(s.fd, msg, 0, &unix.SockaddrNetlink{Family: unix.AF_NETLINK})
	if err != nil {
		return fmt.Errorf("genl: send: %w", err)
	}
	return nil
}

// resolveFamily asks nlctrl for the family ID and multicast group
// table of the socket's family.
func (s *Socket) resolveFamily() error {
	// No ACK on the lookup: the reply itself confirms delivery, and
	// a queued ACK datagram would leak into the session's first
	// receive.
	ack := s.autoAck
	s.autoAck = false
	defer func() { s.autoAck = ack }()

	var b nlattr.Builder
	b.PutString(unix.CTRL_ATTR_FAMILY_NAME, s.family)
	if err := s.send(unix.GENL_ID_CTRL, unix.CTRL_CMD_GETFAMILY, 1, 0, b.Bytes()); err != nil {
		return err
	}

	for {
		msgs, err := s.Receive()
		if errors.Is(err, ErrInterrupted) {
			continue
		}
		if err != nil {
			return err
		}
		for _, m := range msgs {
			if err := m.Err(); err != nil {
				return fmt.Errorf("genl: resolve family %q: %w", s.family, err)
			}
			if m.Type != unix.GENL_ID_CTRL {
				continue
			}
			id, groups, err := parseFamily(m.Payload)
			if err != nil {
				return err
			}
			s.familyID = id
			s.groups = groups
			return nil
		}
	}
}
