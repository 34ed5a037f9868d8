// Copyright 2026 The Yamlink Authors
// SPDX-License-Identifier: Apache-2.0

package transcode

import (
	"errors"
	"io"
	"strings"
	"testing"

	"golang.org/x/sys/unix"
	"gopkg.in/yaml.v3"

	"github.com/yamlink-foundation/yamlink/lib/genl"
	"github.com/yamlink-foundation/yamlink/lib/keytree"
	"github.com/yamlink-foundation/yamlink/lib/nlattr"
)

// recvResult is one scripted outcome of fakeTransport.Receive.
type recvResult struct {
	msgs []genl.Message
	err  error
}

// sentMessage captures one fakeTransport.Send call.
type sentMessage struct {
	cmd     uint8
	version uint8
	flags   uint16
	payload []byte
}

// fakeTransport scripts the receive side and records the send side.
type fakeTransport struct {
	recv []recvResult

	groups map[string]bool

	configured   bool
	stream       bool
	configureErr error

	sent     []sentMessage
	commands []sentMessage
	joined   []string
	sendErr  error
}

func (f *fakeTransport) Configure(stream bool) error {
	f.configured = true
	f.stream = stream
	return f.configureErr
}

func (f *fakeTransport) Receive() ([]genl.Message, error) {
	if len(f.recv) == 0 {
		return nil, errors.New("fake transport: receive queue exhausted")
	}
	r := f.recv[0]
	f.recv = f.recv[1:]
	return r.msgs, r.err
}

func (f *fakeTransport) Send(cmd, version uint8, flags uint16, payload []byte) error {
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, sentMessage{cmd, version, flags, append([]byte(nil), payload...)})
	return nil
}

func (f *fakeTransport) SendCommand(cmd, version uint8, flags uint16) error {
	if f.sendErr != nil {
		return f.sendErr
	}
	f.commands = append(f.commands, sentMessage{cmd: cmd, version: version, flags: flags})
	return nil
}

func (f *fakeTransport) JoinGroup(name string) error {
	if f.groups != nil && !f.groups[name] {
		return genl.ErrUnknownGroup
	}
	f.joined = append(f.joined, name)
	return nil
}

// keySpec describes one key record of a test schema.
type keySpec struct {
	index    int
	name     string
	typ      nlattr.Type
	format   keytree.Format
	listSize int       // set on the first record of a level
	list     []keySpec // nested level under this key
}

// buildKeyList appends the records of one schema level.
func buildKeyList(b *nlattr.Builder, keys []keySpec) {
	list := b.NestStart(attrList)
	for ordinal, k := range keys {
		rec := b.NestStart(uint16(ordinal + 1))
		if k.listSize > 0 {
			b.PutU16(attrListSize, uint16(k.listSize))
		}
		b.PutU16(attrIndex, uint16(k.index))
		b.PutU16(attrType, uint16(k.typ))
		if k.name != "" {
			b.PutString(attrValue, k.name)
		}
		if k.format != 0 {
			b.PutU16(attrKeyFormat, uint16(k.format))
		}
		if k.list != nil {
			buildKeyList(b, k.list)
		}
		b.NestEnd(rec)
	}
	b.NestEnd(list)
}

// schemaMessage wraps a key list in a schema-flagged message.
func schemaMessage(keys []keySpec) genl.Message {
	var b nlattr.Builder
	buildKeyList(&b, keys)
	return genl.Message{
		Type:    0x1c,
		Flags:   unix.NLM_F_CREATE | unix.NLM_F_MULTI,
		Payload: b.Bytes(),
	}
}

// valueMessage wraps an attribute payload in a value-batch message.
func valueMessage(payload []byte) genl.Message {
	return genl.Message{Type: 0x1c, Flags: unix.NLM_F_MULTI, Payload: payload}
}

func doneMessage() genl.Message {
	return genl.Message{Type: unix.NLMSG_DONE, Flags: unix.NLM_F_MULTI, Payload: []byte{0, 0, 0, 0}}
}

// scalarEchoSchema is a one-level schema: a "net" group label and a
// u32 "mtu" slot.
func scalarEchoSchema() []keySpec {
	return []keySpec{
		{index: 1, listSize: 2, name: "net", typ: nlattr.TypeNulString, format: keytree.FormatMapping},
		{index: 2, name: "mtu", typ: nlattr.TypeU32},
	}
}

// netsSchema is the two-level schema of the sequence scenarios: a
// "net" group label and a nested "nets" container of nid/status/
// refcount records.
func netsSchema(labelFormat, netsFormat keytree.Format) []keySpec {
	return []keySpec{
		{index: 1, listSize: 2, name: "net", typ: nlattr.TypeNulString, format: labelFormat},
		{index: 2, name: "nets", typ: nlattr.TypeNested, format: netsFormat, list: []keySpec{
			{index: 1, listSize: 3, name: "nid", typ: nlattr.TypeString},
			{index: 2, name: "status", typ: nlattr.TypeString},
			{index: 3, name: "refcount", typ: nlattr.TypeU32},
		}},
	}
}

// netsElement appends one nid/status/refcount element to a "nets"
// container under construction.
func netsElement(b *nlattr.Builder, ordinal int, nid, status string, refcount uint32) {
	elem := b.NestStart(uint16(ordinal))
	b.PutString(1, nid)
	b.PutString(2, status)
	b.PutU32(3, refcount)
	b.NestEnd(elem)
}

func newTestReader(t *testing.T, ft *fakeTransport, stream bool) *Reader {
	t.Helper()
	r, err := NewReader(ft, stream, nil)
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	return r
}

func TestReaderScalarEcho(t *testing.T) {
	var values nlattr.Builder
	values.PutU32(2, 9000)

	ft := &fakeTransport{recv: []recvResult{
		{msgs: []genl.Message{schemaMessage(scalarEchoSchema()), valueMessage(values.Bytes()), doneMessage()}},
	}}
	r := newTestReader(t, ft, false)

	out, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	want := "net:\n  mtu: 9000\n"
	if string(out) != want {
		t.Errorf("output:\n%q\nwant:\n%q", out, want)
	}
	if !ft.configured || ft.stream {
		t.Error("transport not configured for a request/response session")
	}

	var doc map[string]any
	if err := yaml.Unmarshal(out, &doc); err != nil {
		t.Errorf("output is not valid YAML: %v", err)
	}
}

func TestReaderDrivesYAMLDecoder(t *testing.T) {
	var values nlattr.Builder
	values.PutU32(2, 9000)

	ft := &fakeTransport{recv: []recvResult{
		{msgs: []genl.Message{schemaMessage(scalarEchoSchema()), valueMessage(values.Bytes()), doneMessage()}},
	}}
	r := newTestReader(t, ft, false)

	var doc struct {
		Net struct {
			MTU int `yaml:"mtu"`
		} `yaml:"net"`
	}
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if doc.Net.MTU != 9000 {
		t.Errorf("mtu: got %d, want 9000", doc.Net.MTU)
	}
}

func TestReaderSequenceOfMappings(t *testing.T) {
	var values nlattr.Builder
	nets := values.NestStart(2)
	netsElement(&values, 1, "tcp1", "up", 3)
	netsElement(&values, 2, "tcp2", "down", 0)
	values.NestEnd(nets)

	ft := &fakeTransport{recv: []recvResult{
		{msgs: []genl.Message{
			schemaMessage(netsSchema(keytree.FormatMapping, keytree.FormatSequence|keytree.FormatMapping)),
			valueMessage(values.Bytes()),
			doneMessage(),
		}},
	}}
	r := newTestReader(t, ft, false)

	out, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	want := strings.Join([]string{
		"net:",
		"  nets:",
		"    - nid: tcp1",
		"      status: up",
		"      refcount: 3",
		"    - nid: tcp2",
		"      status: down",
		"      refcount: 0",
		"",
	}, "\n")
	if string(out) != want {
		t.Errorf("output:\n%s\nwant:\n%s", out, want)
	}

	var doc struct {
		Net struct {
			Nets []struct {
				NID      string `yaml:"nid"`
				Status   string `yaml:"status"`
				Refcount int    `yaml:"refcount"`
			} `yaml:"nets"`
		} `yaml:"net"`
	}
	if err := yaml.Unmarshal(out, &doc); err != nil {
		t.Fatalf("output is not valid YAML: %v", err)
	}
	if len(doc.Net.Nets) != 2 || doc.Net.Nets[0].NID != "tcp1" || doc.Net.Nets[1].Refcount != 0 {
		t.Errorf("decoded document mismatch: %+v", doc)
	}
}

func TestReaderFlowContainer(t *testing.T) {
	var values nlattr.Builder
	nets := values.NestStart(2)
	netsElement(&values, 1, "tcp1", "up", 3)
	values.NestEnd(nets)

	flowAll := keytree.FormatFlow | keytree.FormatSequence | keytree.FormatMapping
	ft := &fakeTransport{recv: []recvResult{
		{msgs: []genl.Message{
			schemaMessage(netsSchema(keytree.FormatFlow|keytree.FormatMapping, flowAll)),
			valueMessage(values.Bytes()),
			doneMessage(),
		}},
	}}
	r := newTestReader(t, ft, false)

	out, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	want := "net: { nets: [ nid: tcp1, status: up, refcount: 3 ] }\n"
	if string(out) != want {
		t.Errorf("output: %q, want %q", out, want)
	}
}

func TestReaderFlowSingleEntry(t *testing.T) {
	// A flow container with a single entry closes as "{ v }", not
	// "{v,}".
	keys := []keySpec{
		{index: 1, listSize: 2, name: "net", typ: nlattr.TypeNulString, format: keytree.FormatMapping},
		{index: 2, name: "k", typ: nlattr.TypeNested, format: keytree.FormatFlow, list: []keySpec{
			{index: 1, listSize: 1, typ: nlattr.TypeString},
		}},
	}
	var values nlattr.Builder
	container := values.NestStart(2)
	elem := values.NestStart(1)
	values.PutString(1, "v")
	values.NestEnd(elem)
	values.NestEnd(container)

	ft := &fakeTransport{recv: []recvResult{
		{msgs: []genl.Message{schemaMessage(keys), valueMessage(values.Bytes()), doneMessage()}},
	}}
	r := newTestReader(t, ft, false)

	out, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	want := "net:\n  k: { v }\n"
	if string(out) != want {
		t.Errorf("output: %q, want %q", out, want)
	}
}

func TestReaderEmptyValueBatch(t *testing.T) {
	ft := &fakeTransport{recv: []recvResult{
		{msgs: []genl.Message{schemaMessage(scalarEchoSchema()), doneMessage()}},
	}}
	r := newTestReader(t, ft, false)

	out, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if len(out) != 0 {
		t.Errorf("schema without values produced output: %q", out)
	}
}

func TestReaderLabelEmittedOncePerSession(t *testing.T) {
	var first, second nlattr.Builder
	first.PutU32(2, 9000)
	second.PutU32(2, 1500)

	ft := &fakeTransport{recv: []recvResult{
		{msgs: []genl.Message{schemaMessage(scalarEchoSchema()), valueMessage(first.Bytes())}},
		{msgs: []genl.Message{valueMessage(second.Bytes()), doneMessage()}},
	}}
	r := newTestReader(t, ft, false)

	out, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	want := "net:\n  mtu: 9000\n  mtu: 1500\n"
	if string(out) != want {
		t.Errorf("output: %q, want %q", out, want)
	}
}

func TestReaderTinyConsumerBuffer(t *testing.T) {
	// Draining through a 7-byte buffer must reproduce the exact
	// stream a large buffer sees: the staging buffer resumes where
	// the previous read stopped.
	var values nlattr.Builder
	nets := values.NestStart(2)
	netsElement(&values, 1, "tcp1", "up", 3)
	netsElement(&values, 2, "tcp2", "down", 0)
	values.NestEnd(nets)

	ft := &fakeTransport{recv: []recvResult{
		{msgs: []genl.Message{
			schemaMessage(netsSchema(keytree.FormatMapping, keytree.FormatSequence|keytree.FormatMapping)),
			valueMessage(values.Bytes()),
			doneMessage(),
		}},
	}}
	r := newTestReader(t, ft, false)

	var out []byte
	buf := make([]byte, 7)
	for {
		n, err := r.Read(buf)
		out = append(out, buf[:n]...)
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("Read: %v", err)
		}
	}
	if !strings.Contains(string(out), "- nid: tcp2") {
		t.Errorf("resumed stream incomplete:\n%s", out)
	}
	if !strings.HasPrefix(string(out), "net:\n  nets:\n") {
		t.Errorf("resumed stream corrupted:\n%s", out)
	}
}

func TestReaderKernelError(t *testing.T) {
	errBody := make([]byte, 4+16)
	errBody[0] = 0xea // -22 (EINVAL) little-endian low byte
	errBody[1], errBody[2], errBody[3] = 0xff, 0xff, 0xff
	var tlvs nlattr.Builder
	tlvs.PutString(unix.NLMSGERR_ATTR_MSG, "invalid nid")
	errBody = append(errBody, tlvs.Bytes()...)

	ft := &fakeTransport{recv: []recvResult{
		{msgs: []genl.Message{schemaMessage(scalarEchoSchema())}},
		{msgs: []genl.Message{{
			Type:    unix.NLMSG_ERROR,
			Flags:   unix.NLM_F_ACK_TLVS | unix.NLM_F_CAPPED,
			Payload: errBody,
		}}},
	}}
	r := newTestReader(t, ft, false)

	_, err := io.ReadAll(r)
	if err == nil {
		t.Fatal("kernel error did not fail the read")
	}
	if r.Err() == nil || r.Err().Error() != "invalid nid" {
		t.Errorf("reader error: got %v, want %q", r.Err(), "invalid nid")
	}
}

func TestReaderInterruptedReceive(t *testing.T) {
	var values nlattr.Builder
	values.PutU32(2, 9000)

	ft := &fakeTransport{recv: []recvResult{
		{err: genl.ErrInterrupted},
		{msgs: []genl.Message{schemaMessage(scalarEchoSchema()), valueMessage(values.Bytes()), doneMessage()}},
	}}
	r := newTestReader(t, ft, false)

	buf := make([]byte, 256)
	n, err := r.Read(buf)
	if n != 0 || err != nil {
		t.Fatalf("interrupted read: got (%d, %v), want (0, nil)", n, err)
	}

	out, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("ReadAll after interrupt: %v", err)
	}
	if string(out) != "net:\n  mtu: 9000\n" {
		t.Errorf("output after interrupt: %q", out)
	}
}

func TestReaderPlainAckCompletes(t *testing.T) {
	ack := genl.Message{Type: unix.NLMSG_ERROR, Payload: make([]byte, 4+16)}
	ft := &fakeTransport{recv: []recvResult{
		{msgs: []genl.Message{schemaMessage(scalarEchoSchema()), ack}},
	}}
	r := newTestReader(t, ft, false)

	out, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if len(out) != 0 {
		t.Errorf("ack-terminated session produced output: %q", out)
	}
}

func TestReaderSchemaSealedAfterValues(t *testing.T) {
	var values nlattr.Builder
	values.PutU32(2, 9000)

	// A second schema message after the value batch must be ignored
	// rather than rebuilding the tree mid-session.
	ft := &fakeTransport{recv: []recvResult{
		{msgs: []genl.Message{
			schemaMessage(scalarEchoSchema()),
			valueMessage(values.Bytes()),
			schemaMessage(netsSchema(keytree.FormatMapping, keytree.FormatMapping)),
			valueMessage(values.Bytes()),
			doneMessage(),
		}},
	}}
	r := newTestReader(t, ft, false)

	out, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	want := "net:\n  mtu: 9000\n  mtu: 9000\n"
	if string(out) != want {
		t.Errorf("output: %q, want %q", out, want)
	}
}

func TestReaderSkipsGarbageValueBatch(t *testing.T) {
	var values nlattr.Builder
	values.PutU32(2, 9000)

	ft := &fakeTransport{recv: []recvResult{
		{msgs: []genl.Message{
			schemaMessage(scalarEchoSchema()),
			valueMessage([]byte{2, 0}), // truncated attribute header
			valueMessage(values.Bytes()),
			doneMessage(),
		}},
	}}
	r := newTestReader(t, ft, false)

	out, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if string(out) != "net:\n  mtu: 9000\n" {
		t.Errorf("output: %q", out)
	}
}

func TestReaderConfigureFailure(t *testing.T) {
	ft := &fakeTransport{configureErr: errors.New("bad socket")}
	_, err := NewReader(ft, false, nil)
	if err == nil {
		t.Fatal("NewReader succeeded despite transport setup failure")
	}
	if !strings.Contains(err.Error(), "netlink setup failed") {
		t.Errorf("setup error lacks diagnostic: %v", err)
	}
}

func TestReaderTransportErrorFailsSession(t *testing.T) {
	ft := &fakeTransport{recv: []recvResult{
		{err: errors.New("recv: connection refused")},
	}}
	r := newTestReader(t, ft, false)

	_, err := io.ReadAll(r)
	if err == nil {
		t.Fatal("transport error did not fail the read")
	}
	if r.Err() == nil {
		t.Error("transport error not cached for retrieval")
	}

	// A failed session stays failed.
	if n, err := r.Read(make([]byte, 8)); n != 0 || err == nil {
		t.Errorf("read after failure: got (%d, %v)", n, err)
	}
}

func TestReaderSignedScalars(t *testing.T) {
	keys := []keySpec{
		{index: 1, listSize: 3, name: "stats", typ: nlattr.TypeNulString, format: keytree.FormatMapping},
		{index: 2, name: "delta", typ: nlattr.TypeS32},
		{index: 3, name: "offset", typ: nlattr.TypeS64},
	}
	var values nlattr.Builder
	values.PutS32(2, -42)
	values.PutS64(3, -(1 << 33))

	ft := &fakeTransport{recv: []recvResult{
		{msgs: []genl.Message{schemaMessage(keys), valueMessage(values.Bytes()), doneMessage()}},
	}}
	r := newTestReader(t, ft, false)

	out, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	want := "stats:\n  delta: -42\n  offset: -8589934592\n"
	if string(out) != want {
		t.Errorf("output: %q, want %q", out, want)
	}
}

func TestReaderScalarDefault(t *testing.T) {
	// A slot that declares a default emits it when the batch leaves
	// the slot absent; a slot with neither value nor default is
	// skipped.
	keys := []keySpec{
		{index: 1, listSize: 3, name: "net", typ: nlattr.TypeNulString, format: keytree.FormatSequence},
		{index: 2, name: "tcp", typ: nlattr.TypeString},
		{index: 3, typ: nlattr.TypeString},
	}
	ft := &fakeTransport{recv: []recvResult{
		{msgs: []genl.Message{schemaMessage(keys), valueMessage(nil), doneMessage()}},
	}}
	r := newTestReader(t, ft, false)

	out, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	want := "net:\n- tcp\n"
	if string(out) != want {
		t.Errorf("output: %q, want %q", out, want)
	}
}
