// Copyright 2026 The Yamlink Authors
// SPDX-License-Identifier: Apache-2.0

package transcode

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"

	"golang.org/x/sys/unix"

	"github.com/yamlink-foundation/yamlink/lib/genl"
	"github.com/yamlink-foundation/yamlink/lib/keytree"
	"github.com/yamlink-foundation/yamlink/lib/nlattr"
)

// errMissingIndex reports a key record without its mandatory slot
// index, or a record arriving before its level was sized.
var errMissingIndex = errors.New("transcode: key record missing index")

// Reader turns an inbound generic-netlink session into YAML text. It
// implements io.Reader; hand it to yaml.NewDecoder. After the decoder
// reports a read failure, [Reader.Err] retrieves the transport or
// kernel diagnostic the YAML layer cannot carry.
//
// The first messages of a session bear the schema framing flag and
// populate the key tree; every later message is a value batch joined
// against that tree. A terminal message (done, or an error reply)
// completes the session: the tree is released and subsequent reads
// return io.EOF, or the cached error when the reply carried a kernel
// error.
type Reader struct {
	transport Transport
	logger    *slog.Logger

	root *keytree.Node
	cur  *keytree.Node

	// staged holds YAML text already transcoded but not yet handed
	// to the consumer; Read drains it across calls when the
	// consumer's buffer is smaller than a batch.
	staged []byte
	off    int

	indent       int
	labelEmitted bool
	rootFlow     bool
	sealed       bool
	complete     bool
	err          error
}

// NewReader wires a Reader over the transport and configures it for
// the session: broadcast-error reporting and extended acks, and for
// stream sessions no sequence checking or auto-ack, since async
// events arrive without request/response pairing.
func NewReader(t Transport, stream bool, logger *slog.Logger) (*Reader, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if err := t.Configure(stream); err != nil {
		return nil, fmt.Errorf("netlink setup failed: %w", err)
	}
	return &Reader{transport: t, logger: logger}, nil
}

// Err returns the diagnostic cached when the session failed: the
// kernel's extended-ack text when one was attached, otherwise the
// transport or protocol error. Nil while the session is healthy.
func (r *Reader) Err() error {
	return r.err
}

// Read implements io.Reader. It blocks in the transport until at
// least one message has been transcoded, then copies as much staged
// YAML text as fits. A completed session reads as io.EOF; an
// interrupted receive reads as (0, nil) so the caller may poll again.
func (r *Reader) Read(p []byte) (int, error) {
	if r.off < len(r.staged) {
		n := copy(p, r.staged[r.off:])
		r.off += n
		return n, nil
	}
	if r.err != nil {
		return 0, r.err
	}
	if r.complete {
		return 0, io.EOF
	}

	r.staged = r.staged[:0]
	r.off = 0
	for len(r.staged) == 0 && !r.complete {
		msgs, err := r.transport.Receive()
		if errors.Is(err, genl.ErrInterrupted) {
			return 0, nil
		}
		if err != nil {
			r.fail(err)
			return 0, r.err
		}
		for _, m := range msgs {
			if err := r.dispatch(m); err != nil {
				r.fail(err)
				return 0, r.err
			}
		}
	}

	if len(r.staged) == 0 {
		return 0, io.EOF
	}
	n := copy(p, r.staged)
	r.off = n
	return n, nil
}

// fail records the session diagnostic and releases the schema tree.
func (r *Reader) fail(err error) {
	r.err = err
	r.complete = true
	r.root, r.cur = nil, nil
}

// finish completes the session cleanly.
func (r *Reader) finish() {
	r.complete = true
	r.root, r.cur = nil, nil
}

// dispatch routes one message: terminal error replies, end of dump,
// schema intake, or value intake. A message without the multi flag is
// the last of its session.
func (r *Reader) dispatch(m genl.Message) error {
	switch {
	case m.Type == unix.NLMSG_ERROR:
		if err := m.Err(); err != nil {
			return err
		}
		r.finish()
		return nil
	case m.Type == unix.NLMSG_DONE:
		r.finish()
		return nil
	}

	if m.Flags&unix.NLM_F_CREATE != 0 {
		r.intakeSchema(m)
	} else {
		r.intakeValues(m)
	}

	if m.Flags&unix.NLM_F_MULTI == 0 {
		r.finish()
	}
	return nil
}

// intakeSchema merges one schema message into the key tree. Protocol
// problems skip the message rather than killing the session, matching
// how the kernel treats unparseable attributes.
func (r *Reader) intakeSchema(m genl.Message) {
	if r.sealed {
		r.logger.Warn("schema message after value batch; skipping", "seq", m.Seq)
		return
	}
	table, err := nlattr.ParseTable(m.Payload, schemaPolicy)
	if err != nil {
		r.logger.Warn("unparseable schema message; skipping", "error", err)
		return
	}
	if !table[attrList].Present() {
		return
	}
	if err := r.parseKeyList(nil, table[attrList]); err != nil {
		r.logger.Warn("malformed key list; skipping remainder", "error", err)
	}
	// Value batches that follow start from the top of the tree.
	r.cur = r.root
}

// parseKeyList builds one level of the key tree from a LIST of key
// records, descending recursively where a record nests a further
// level. The first record of a level carries the slot count that
// sizes the level.
func (r *Reader) parseKeyList(parent *keytree.Node, list nlattr.Attr) error {
	var node *keytree.Node

	return nlattr.Walk(list.Data, func(rec nlattr.Attr) error {
		table, err := nlattr.ParseTable(rec.Data, schemaPolicy)
		if err != nil {
			return err
		}

		if table[attrListSize].Present() && node == nil {
			node = keytree.NewNode(int(table[attrListSize].U16()) + 1)
			if r.root == nil {
				r.root = node
			}
			if r.cur == nil {
				r.cur = node
			}
			if parent != nil {
				parent.AddChild(node)
			}
		}

		var index int
		if table[attrIndex].Present() {
			index = int(table[attrIndex].U16())
		}
		if node == nil || index == 0 {
			return errMissingIndex
		}

		key := keytree.Key{}
		if table[attrKeyFormat].Present() {
			key.Format = keytree.Format(table[attrKeyFormat].U16())
		}
		if table[attrType].Present() {
			key.Type = nlattr.Type(table[attrType].U16())
		}
		if table[attrValue].Present() {
			key.Value = table[attrValue].String()
		}
		if err := node.SetKey(index, key); err != nil {
			return err
		}

		if table[attrList].Present() {
			return r.parseKeyList(node, table[attrList])
		}
		return nil
	})
}

// policyFor derives the per-slot attribute policy of a level from its
// key types.
func policyFor(node *keytree.Node) []nlattr.Type {
	policy := make([]nlattr.Type, node.MaxIndex())
	for i := 1; i < node.MaxIndex(); i++ {
		policy[i] = node.Key(i).Type
	}
	return policy
}

// intakeValues joins one value batch against the cached schema and
// appends the resulting YAML text to the staging buffer.
func (r *Reader) intakeValues(m genl.Message) {
	if r.cur == nil || r.cur.MaxIndex() < 2 {
		r.logger.Warn("value batch before schema; skipping", "seq", m.Seq)
		return
	}
	r.sealed = true

	attrs, err := nlattr.ParseTable(m.Payload, policyFor(r.cur))
	if err != nil {
		r.logger.Warn("unparseable value batch; skipping", "error", err)
		return
	}
	r.emitValues(r.cur, attrs, r.cur.Key(1))

	// A flow-formatted root label keeps its group open for the
	// entries of the batch; close it before the text leaves the
	// staging buffer.
	if r.rootFlow {
		r.closeRootFlow()
	}
}

// closeRootFlow closes the flow group a flow-formatted root label
// opened, replacing the trailing entry separator with the closing
// brace.
func (r *Reader) closeRootFlow() {
	r.trimSuffix(", ")
	r.print(" }\n")
	r.rootFlow = false
}

// print appends text to the staging buffer.
func (r *Reader) print(s string) {
	r.staged = append(r.staged, s...)
}

// pad appends n spaces.
func (r *Reader) pad(n int) {
	for i := 0; i < n; i++ {
		r.staged = append(r.staged, ' ')
	}
}

// trimSuffix drops suffix from the staging buffer if present.
func (r *Reader) trimSuffix(suffix string) {
	n := len(r.staged) - len(suffix)
	if n >= 0 && string(r.staged[n:]) == suffix {
		r.staged = r.staged[:n]
	}
}

// emitValues renders the attributes of one level. The parent key's
// format decides how this level's entries present themselves: flow
// entries joined by commas, block entries on indented lines, sequence
// entries introduced by a dash on their first line.
func (r *Reader) emitValues(node *keytree.Node, attrs []nlattr.Attr, parent *keytree.Key) {
	mapping := parent.Format
	childIdx := 0

	for i := 1; i < node.MaxIndex(); i++ {
		key := node.Key(i)
		attr := attrs[i]
		if !attr.Present() && key.Value == "" {
			continue
		}

		switch key.Type {
		case nlattr.TypeNested:
			next := node.Child(childIdx)
			childIdx++
			if !attr.Present() {
				continue
			}
			if next == nil {
				r.logger.Warn("nested value without a schema level; skipping", "key", key.Value)
				continue
			}
			r.emitContainer(key, next, attr, mapping)

		case nlattr.TypeNulString:
			if i != 1 {
				continue
			}
			if r.cur == r.root {
				r.emitRootLabel(key, mapping)
			}
			// A value for the label renames the group for the
			// entries that follow.
			if attr.Present() && parent.Value != "" {
				parent.Value = attr.String()
			}

		default:
			r.emitScalar(key, attr, &mapping)
		}
	}
}

// emitRootLabel renders the document's top-level group name, once per
// session, and establishes the base indentation for the entries under
// it.
func (r *Reader) emitRootLabel(key *keytree.Key, mapping keytree.Format) {
	if !r.labelEmitted && key.Value != "" {
		if key.Format.Has(keytree.FormatFlow) {
			r.print(key.Value + ": { ")
			r.rootFlow = true
		} else {
			r.print(key.Value + ":\n")
		}
		r.labelEmitted = true
	}
	r.indent = 0
	if !mapping.Has(keytree.FormatFlow) {
		if mapping.Has(keytree.FormatSequence) || mapping.Has(keytree.FormatMapping) {
			r.indent += 2
		}
	}
}

// emitScalar renders one scalar slot: indentation and dash prefix for
// block style, "name: " under a mapping, then the formatted value.
// An absent attribute falls back to the slot's declared default, if
// any. The sequence bit of a sequence-of-mappings is spent on the
// element's first scalar so the element's later lines align under it.
func (r *Reader) emitScalar(key *keytree.Key, attr nlattr.Attr, mapping *keytree.Format) {
	if !attr.Present() && key.Value == "" {
		return
	}

	if !mapping.Has(keytree.FormatFlow) {
		indent := r.indent
		if indent == 0 {
			indent = 2
		}
		start := len(r.staged)
		r.pad(indent)
		if mapping.Has(keytree.FormatSequence) {
			r.staged[start+indent-2] = '-'
			if mapping.Has(keytree.FormatMapping) {
				*mapping &^= keytree.FormatSequence
			}
		}
	}
	if mapping.Has(keytree.FormatMapping) {
		r.print(key.Value + ": ")
	}

	if attr.Present() {
		r.print(formatScalar(key.Type, attr))
	} else {
		r.print(key.Value)
	}

	if mapping.Has(keytree.FormatFlow) {
		r.print(", ")
	} else {
		r.print("\n")
	}
}

// emitContainer renders a nested slot: the container's key line (or
// flow opener) once, then each element of the container joined
// against the child schema level.
func (r *Reader) emitContainer(key *keytree.Key, next *keytree.Node, attr nlattr.Attr, mapping keytree.Format) {
	policy := policyFor(next)

	if key.Format.Has(keytree.FormatFlow) {
		opener, closer := "{", "}"
		if key.Format.Has(keytree.FormatSequence) {
			opener, closer = "[", "]"
		}
		if !mapping.Has(keytree.FormatFlow) {
			r.pad(r.indent)
		}
		r.print(key.Value + ": " + opener + " ")
		r.forEachElement(next, attr, policy, key)
		r.trimSuffix(", ")
		r.print(" " + closer)
		if mapping.Has(keytree.FormatFlow) {
			r.print(", ")
		} else {
			r.print("\n")
		}
		return
	}

	r.pad(r.indent)
	r.print(key.Value + ":\n")

	delta := 0
	if key.Format.Has(keytree.FormatMapping) {
		delta += 2
	}
	if key.Format.Has(keytree.FormatSequence) {
		delta += 2
	}
	r.indent += delta
	r.forEachElement(next, attr, policy, key)
	r.indent -= delta
}

// forEachElement walks the elements of a nested container, descending
// the cursor into the child schema level for the duration.
func (r *Reader) forEachElement(next *keytree.Node, attr nlattr.Attr, policy []nlattr.Type, key *keytree.Key) {
	old := r.cur
	r.cur = next
	err := nlattr.Walk(attr.Data, func(elem nlattr.Attr) error {
		elemAttrs, err := nlattr.ParseTable(elem.Data, policy)
		if err != nil {
			r.logger.Warn("unparseable container element; skipping", "key", key.Value, "error", err)
			return nil
		}
		r.emitValues(next, elemAttrs, key)
		return nil
	})
	if err != nil {
		r.logger.Warn("malformed container; output may be truncated", "key", key.Value, "error", err)
	}
	r.cur = old
}

// formatScalar renders one typed value as YAML scalar text.
func formatScalar(t nlattr.Type, attr nlattr.Attr) string {
	switch t {
	case nlattr.TypeU16:
		return strconv.FormatUint(uint64(attr.U16()), 10)
	case nlattr.TypeU32:
		return strconv.FormatUint(uint64(attr.U32()), 10)
	case nlattr.TypeU64:
		return strconv.FormatUint(attr.U64(), 10)
	case nlattr.TypeS16:
		return strconv.FormatInt(int64(attr.S16()), 10)
	case nlattr.TypeS32:
		return strconv.FormatInt(int64(attr.S32()), 10)
	case nlattr.TypeS64:
		return strconv.FormatInt(attr.S64(), 10)
	default:
		return attr.String()
	}
}
