// Copyright 2026 The Yamlink Authors
// SPDX-License-Identifier: Apache-2.0

package transcode

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/yamlink-foundation/yamlink/lib/keytree"
	"github.com/yamlink-foundation/yamlink/lib/nlattr"
)

// ErrNoGroup reports an outbound document that never named a
// multicast group: its first unindented "key:" line is missing, so
// the message has no destination.
var ErrNoGroup = errors.New("transcode: document names no multicast group")

// ErrUnbalancedQuote reports an outbound document with a quoted
// segment that is never closed; the substitution that protects quotes
// across the wire needs them paired. A quote mark of the other kind
// inside an open segment is ordinary text.
var ErrUnbalancedQuote = errors.New("transcode: unbalanced quote in document")

// formatEnd marks an indentation decrease while inferring structure;
// it closes the open container and never appears in a schema.
const formatEnd keytree.Format = 1 << 3

// bestIndent is the emitter indentation step. Documents fed to a
// Writer must be emitted with two-space indentation (yaml.v3:
// Encoder.SetIndent(2)).
const bestIndent = 2

// Writer turns a YAML document into one outgoing generic-netlink
// message. It implements io.WriteCloser; hand it to yaml.NewEncoder
// and close it after the encoder flushes. The document's first
// unindented "key:" line names the multicast group the message is
// addressed to; the lines under it become the message body, with
// containers inferred from indentation and bracket tokens.
type Writer struct {
	transport Transport
	logger    *slog.Logger

	version uint8
	cmd     uint8
	flags   uint16

	buf    []byte
	closed bool
	err    error
}

// NewWriter wires a Writer over the transport. The command, version,
// and flags stamp the outgoing message's generic-netlink header.
func NewWriter(t Transport, version, cmd uint8, flags uint16, logger *slog.Logger) (*Writer, error) {
	if t == nil {
		return nil, fmt.Errorf("transcode: writer needs a transport")
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Writer{transport: t, logger: logger, version: version, cmd: cmd, flags: flags}, nil
}

// Err returns the diagnostic cached when the session failed. Nil
// while the session is healthy.
func (w *Writer) Err() error {
	return w.err
}

// Write buffers document text. The document is transcoded and sent
// when the Writer is closed.
func (w *Writer) Write(p []byte) (int, error) {
	if w.err != nil {
		return 0, w.err
	}
	w.buf = append(w.buf, p...)
	return len(p), nil
}

// Close transcodes the buffered document and sends the resulting
// message. A document whose body produced no attributes is sent as a
// bare command.
func (w *Writer) Close() error {
	if w.closed {
		return w.err
	}
	w.closed = true
	if w.err != nil {
		return w.err
	}
	if err := w.flush(); err != nil {
		w.err = err
		return err
	}
	return nil
}

// flush runs the document pipeline: quote substitution, line
// classification, structure inference, and the final send.
func (w *Writer) flush() error {
	text, err := substituteQuotes(string(w.buf))
	if err != nil {
		return err
	}

	doc := &document{lines: strings.Split(text, "\n")}
	var msg *nlattr.Builder
	haveGroup := false
	format := keytree.Format(0)
	indent := 0

	for {
		line, ok := doc.next()
		if !ok || line == "" {
			break
		}
	reprocess:
		if line == "---" || line == "..." {
			continue
		}

		if line[0] != ' ' && line[0] != '-' {
			name, rest, found := strings.Cut(line, ":")
			if !found {
				w.logger.Debug("skipping unkeyed top-level line", "line", line)
				continue
			}
			if err := w.transport.JoinGroup(name); err != nil {
				return fmt.Errorf("netlink group does not exist: %w", err)
			}
			haveGroup = true

			// The group line may carry more than a bare key:
			// a flow body shares its line.
			rest = strings.TrimPrefix(rest, " ")
			if !strings.ContainsAny(rest, "{[") {
				continue
			}
			line = rest
		}

		if msg == nil {
			msg = &nlattr.Builder{}
		}
		format = formatType(line, &indent, format)
		if format != 0 {
			pushback, err := doc.nestedList(msg, line, &indent, format)
			if err != nil {
				return err
			}
			if pushback != "" {
				line = pushback
				goto reprocess
			}
		} else {
			putLine(msg, line, indent)
		}
	}

	if !haveGroup {
		return ErrNoGroup
	}

	if msg != nil {
		if err := w.transport.Send(w.cmd, w.version, w.flags, msg.Bytes()); err != nil {
			return err
		}
		return nil
	}
	return w.transport.SendCommand(w.cmd, w.version, w.flags)
}

// document walks the lines of one document, with one line of
// pushback so structure inference can hand a closing line back to the
// enclosing level.
type document struct {
	lines   []string
	pos     int
	pending string
}

func (d *document) next() (string, bool) {
	if d.pending != "" {
		line := d.pending
		d.pending = ""
		return line, true
	}
	if d.pos >= len(d.lines) {
		return "", false
	}
	line := d.lines[d.pos]
	d.pos++
	return line, true
}

// nestedList opens a container attribute for hdr (the line whose
// format event triggered it) and fills it with the lines that belong
// inside. It returns the line that closed the container, if that line
// still needs processing at the caller's level.
func (d *document) nestedList(msg *nlattr.Builder, hdr string, indent *int, format keytree.Format) (string, error) {
	nest := msg.NestStart(attrList)

	if format.Has(keytree.FormatFlow) {
		for _, token := range flowTokens(hdr) {
			msg.PutString(attrValue, token)
		}
		msg.NestEnd(nest)
		return "", nil
	}

	putLine(msg, hdr, *indent)
	var pushback string
	for {
		line, ok := d.next()
		if !ok || line == "" || line == "..." {
			break
		}
	reprocess:
		format = formatType(line, indent, format)
		if format == formatEnd {
			pushback = line
			break
		}
		if format != 0 {
			inner, err := d.nestedList(msg, line, indent, format)
			if err != nil {
				return "", err
			}
			if inner != "" {
				line = inner
				goto reprocess
			}
			continue
		}
		putLine(msg, line, *indent)
	}

	msg.NestEnd(nest)
	return pushback, nil
}

// putLine emits one body line as a VALUE string, shorn of its
// indentation (and sequence dash, which the indentation step already
// covers).
func putLine(msg *nlattr.Builder, line string, indent int) {
	if indent > len(line) {
		indent = len(line)
	}
	msg.PutString(attrValue, line[indent:])
}

// indentLevel counts the leading spaces of a line.
func indentLevel(line string) int {
	n := 0
	for n < len(line) && line[n] == ' ' {
		n++
	}
	return n
}

// formatType infers the structure event a body line represents,
// updating the running indentation offset:
//
//   - a bracket anywhere makes the line a flow container
//   - a leading dash opens a sequence element and indents past it
//   - shallower indentation closes the open container
//   - deeper indentation opens a mapping, unless the previous event
//     already did
//   - anything else is a plain scalar at the current level
func formatType(line string, offset *int, prev keytree.Format) keytree.Format {
	if strings.ContainsAny(line, "{[") {
		return keytree.FormatFlow
	}

	newIndent := indentLevel(line)
	if newIndent < *offset {
		*offset -= bestIndent
		return formatEnd
	}

	if strings.HasPrefix(line[newIndent:], "- ") {
		*offset = newIndent + bestIndent
		return keytree.FormatSequence
	}

	if *offset != newIndent {
		*offset = newIndent
		if prev != keytree.FormatMapping {
			return keytree.FormatMapping
		}
	}
	return 0
}

// flowTokens splits a flow line into the strings that travel as
// sibling attributes: bracket characters separate, commas separate,
// and surrounding whitespace is shed.
//
//	net: { nets: [ nid: tcp1, status: up ] }
//
// tokenizes to "net:", "nets:", "nid: tcp1", "status: up".
func flowTokens(line string) []string {
	fields := strings.FieldsFunc(line, func(r rune) bool {
		switch r {
		case ',', '{', '}', '[', ']':
			return true
		}
		return false
	})
	tokens := fields[:0]
	for _, f := range fields {
		if f = strings.TrimSpace(f); f != "" {
			tokens = append(tokens, f)
		}
	}
	return tokens
}

// substituteQuotes replaces quoted segments with the percent framing
// the transport's string handling requires: `"seg"` and `'seg'`
// become `% seg %`. The receiving side undoes the substitution.
// Unbalanced quotes are rejected.
func substituteQuotes(text string) (string, error) {
	var b strings.Builder
	b.Grow(len(text) + 16)

	var open byte
	for i := 0; i < len(text); i++ {
		c := text[i]
		switch {
		case open == 0 && (c == '"' || c == '\''):
			open = c
			b.WriteString("% ")
		case open == c:
			open = 0
			b.WriteString(" %")
		default:
			b.WriteByte(c)
		}
	}
	if open != 0 {
		return "", ErrUnbalancedQuote
	}
	return b.String(), nil
}
