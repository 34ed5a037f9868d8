// Copyright 2026 The Yamlink Authors
// SPDX-License-Identifier: Apache-2.0

package capture

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/fxamacker/cbor/v2"
	"github.com/klauspost/compress/zstd"
	"github.com/zeebo/blake3"

	"github.com/yamlink-foundation/yamlink/lib/genl"
	"github.com/yamlink-foundation/yamlink/lib/transcode"
)

// magic identifies a capture file; the trailing byte is the format
// version.
var magic = [8]byte{'y', 'l', 'n', 'k', 'c', 'a', 'p', 1}

// digestSize is the BLAKE3 digest length stored in the header.
const digestSize = 32

// ErrCorrupt reports a capture whose record stream does not match the
// digest in its header.
var ErrCorrupt = errors.New("capture: digest mismatch, file corrupt or truncated")

// ErrTruncated reports a replay that ran out of records before the
// recorded session reached a terminal message — the capture stopped
// mid-session.
var ErrTruncated = errors.New("capture: record stream ended before the session completed")

// Record kinds. The kind tags are part of the file format.
const (
	kindConfigure = "configure"
	kindReceive   = "receive"
	kindRecvError = "receive-error"
	kindSend      = "send"
	kindCommand   = "command"
	kindJoin      = "join"
)

// record is one journaled transport call.
type record struct {
	Kind string `cbor:"kind"`

	// Configure.
	Stream bool `cbor:"stream,omitempty"`

	// Receive.
	Messages    []message `cbor:"messages,omitempty"`
	Error       string    `cbor:"error,omitempty"`
	Interrupted bool      `cbor:"interrupted,omitempty"`

	// Send, SendCommand.
	Cmd     uint8  `cbor:"cmd,omitempty"`
	Version uint8  `cbor:"version,omitempty"`
	Flags   uint16 `cbor:"flags,omitempty"`
	Payload []byte `cbor:"payload,omitempty"`

	// JoinGroup.
	Group string `cbor:"group,omitempty"`
}

// message mirrors genl.Message in the file format.
type message struct {
	Type    uint16 `cbor:"type"`
	Flags   uint16 `cbor:"flags"`
	Seq     uint32 `cbor:"seq"`
	PortID  uint32 `cbor:"port_id"`
	Cmd     uint8  `cbor:"cmd"`
	Version uint8  `cbor:"version"`
	Payload []byte `cbor:"payload,omitempty"`
}

func fromWire(m genl.Message) message {
	return message{
		Type: m.Type, Flags: m.Flags, Seq: m.Seq, PortID: m.PortID,
		Cmd: m.Cmd, Version: m.Version, Payload: m.Payload,
	}
}

func (m message) toWire() genl.Message {
	return genl.Message{
		Type: m.Type, Flags: m.Flags, Seq: m.Seq, PortID: m.PortID,
		Cmd: m.Cmd, Version: m.Version, Payload: m.Payload,
	}
}

// Recorder journals every call through a transport to a capture file.
// It implements transcode.Transport and delegates each call to the
// wrapped transport, recording it once the wrapped call returns:
// receive outcomes are recorded whether they succeed or fail, all
// other calls only when they succeed.
type Recorder struct {
	inner transcode.Transport

	file     *os.File
	compress *zstd.Encoder
	hasher   *blake3.Hasher
	enc      *cbor.Encoder
	closed   bool
}

// NewRecorder creates the capture file and wraps inner.
func NewRecorder(inner transcode.Transport, path string) (*Recorder, error) {
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("capture: create: %w", err)
	}

	// Header: magic, then a digest placeholder patched on Close.
	header := make([]byte, len(magic)+digestSize)
	copy(header, magic[:])
	if _, err := file.Write(header); err != nil {
		file.Close()
		return nil, fmt.Errorf("capture: write header: %w", err)
	}

	compress, err := zstd.NewWriter(file)
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("capture: zstd: %w", err)
	}

	r := &Recorder{
		inner:    inner,
		file:     file,
		compress: compress,
		hasher:   blake3.New(),
	}
	// The digest covers the uncompressed record stream.
	r.enc = cbor.NewEncoder(io.MultiWriter(compress, r.hasher))
	return r, nil
}

// Close flushes the record stream and patches the digest into the
// header.
func (r *Recorder) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true

	if err := r.compress.Close(); err != nil {
		r.file.Close()
		return fmt.Errorf("capture: flush: %w", err)
	}
	digest := r.hasher.Sum(nil)
	if _, err := r.file.WriteAt(digest[:digestSize], int64(len(magic))); err != nil {
		r.file.Close()
		return fmt.Errorf("capture: patch digest: %w", err)
	}
	if err := r.file.Close(); err != nil {
		return fmt.Errorf("capture: close: %w", err)
	}
	return nil
}

func (r *Recorder) journal(rec record) {
	if r.closed {
		return
	}
	// A journaling failure must not kill the live session; the
	// digest check catches the truncated file at replay time.
	_ = r.enc.Encode(rec)
}

// Configure implements transcode.Transport.
func (r *Recorder) Configure(stream bool) error {
	if err := r.inner.Configure(stream); err != nil {
		return err
	}
	r.journal(record{Kind: kindConfigure, Stream: stream})
	return nil
}

// Receive implements transcode.Transport.
func (r *Recorder) Receive() ([]genl.Message, error) {
	msgs, err := r.inner.Receive()
	rec := record{Kind: kindReceive}
	if err != nil {
		rec.Kind = kindRecvError
		rec.Error = err.Error()
		rec.Interrupted = errors.Is(err, genl.ErrInterrupted)
	} else {
		rec.Messages = make([]message, len(msgs))
		for i, m := range msgs {
			rec.Messages[i] = fromWire(m)
		}
	}
	r.journal(rec)
	return msgs, err
}

// Send implements transcode.Transport.
func (r *Recorder) Send(cmd, version uint8, flags uint16, payload []byte) error {
	if err := r.inner.Send(cmd, version, flags, payload); err != nil {
		return err
	}
	r.journal(record{Kind: kindSend, Cmd: cmd, Version: version, Flags: flags, Payload: payload})
	return nil
}

// SendCommand implements transcode.Transport.
func (r *Recorder) SendCommand(cmd, version uint8, flags uint16) error {
	if err := r.inner.SendCommand(cmd, version, flags); err != nil {
		return err
	}
	r.journal(record{Kind: kindCommand, Cmd: cmd, Version: version, Flags: flags})
	return nil
}

// JoinGroup implements transcode.Transport.
func (r *Recorder) JoinGroup(name string) error {
	if err := r.inner.JoinGroup(name); err != nil {
		return err
	}
	r.journal(record{Kind: kindJoin, Group: name})
	return nil
}

// Replayer plays a capture file back as a transport. Receive returns
// the recorded inbound traffic in order; outbound calls succeed
// without touching the kernel, so a recorded session can drive the
// transcoder on any machine.
type Replayer struct {
	records []record
	pos     int
}

// Open reads and verifies a capture file.
func Open(path string) (*Replayer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("capture: open: %w", err)
	}
	if len(data) < len(magic)+digestSize || !bytes.Equal(data[:len(magic)], magic[:]) {
		return nil, fmt.Errorf("capture: %s is not a capture file", path)
	}
	wantDigest := data[len(magic) : len(magic)+digestSize]

	decompress, err := zstd.NewReader(bytes.NewReader(data[len(magic)+digestSize:]))
	if err != nil {
		return nil, fmt.Errorf("capture: zstd: %w", err)
	}
	defer decompress.Close()

	stream, err := io.ReadAll(decompress)
	if err != nil {
		return nil, fmt.Errorf("capture: decompress: %w", err)
	}

	hasher := blake3.New()
	hasher.Write(stream)
	if !bytes.Equal(hasher.Sum(nil)[:digestSize], wantDigest) {
		return nil, ErrCorrupt
	}

	var records []record
	dec := cbor.NewDecoder(bytes.NewReader(stream))
	for {
		var rec record
		if err := dec.Decode(&rec); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("capture: decode record: %w", err)
		}
		records = append(records, rec)
	}
	return &Replayer{records: records}, nil
}

// Configure implements transcode.Transport.
func (p *Replayer) Configure(stream bool) error {
	return nil
}

// Receive implements transcode.Transport. It returns the next
// recorded receive outcome; a recorded interruption replays as
// genl.ErrInterrupted. Running out of records means the capture
// stopped before the session's terminal message and surfaces as
// [ErrTruncated], so a cut-short capture fails the session with a
// diagnosable error.
func (p *Replayer) Receive() ([]genl.Message, error) {
	for p.pos < len(p.records) {
		rec := p.records[p.pos]
		p.pos++
		switch rec.Kind {
		case kindReceive:
			msgs := make([]genl.Message, len(rec.Messages))
			for i, m := range rec.Messages {
				msgs[i] = m.toWire()
			}
			return msgs, nil
		case kindRecvError:
			if rec.Interrupted {
				return nil, genl.ErrInterrupted
			}
			return nil, errors.New(rec.Error)
		}
	}
	return nil, ErrTruncated
}

// Send implements transcode.Transport.
func (p *Replayer) Send(cmd, version uint8, flags uint16, payload []byte) error {
	return nil
}

// SendCommand implements transcode.Transport.
func (p *Replayer) SendCommand(cmd, version uint8, flags uint16) error {
	return nil
}

// JoinGroup implements transcode.Transport.
func (p *Replayer) JoinGroup(name string) error {
	return nil
}
