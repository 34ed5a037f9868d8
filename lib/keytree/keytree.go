// Copyright 2026 The Yamlink Authors
// SPDX-License-Identifier: Apache-2.0

// Package keytree holds the cached key schema a kernel subsystem
// transmits ahead of its value batches. The schema is a tree: each
// level is a [Node] with an ordered, index-addressed table of key
// descriptors, and one child node per nested-typed key, in
// declaration order.
//
// Nodes are built once during the schema phase of a session and read
// only after that. Index 0 of every key table is a reserved sentinel
// and never describes a user key. Teardown is dropping the root
// reference; nothing in the tree owns resources beyond memory.
package keytree

import (
	"fmt"

	"github.com/yamlink-foundation/yamlink/lib/nlattr"
)

// Format is the bitset governing how a container key renders in YAML:
// flow (bracketed) versus block (indented), and sequence (dash
// entries) versus mapping (key-colon entries). Sequence and mapping
// may co-occur for a sequence of mappings. Meaningful only on keys
// whose type is nested or nul-string.
type Format uint16

const (
	FormatFlow     Format = 1 << 0
	FormatSequence Format = 1 << 1
	FormatMapping  Format = 1 << 2
)

// Has reports whether every bit of f2 is set in f.
func (f Format) Has(f2 Format) bool {
	return f&f2 == f2
}

// Key describes one slot of a schema level.
type Key struct {
	// Value is the key's text: its name for mapping rendering, or
	// the default scalar value for slots that declare one. Empty at
	// the root sentinel.
	Value string

	// Type governs how value attributes at this slot decode.
	Type nlattr.Type

	// Format is the YAML rendering bitset for container keys.
	Format Format
}

// Node is one level of the schema tree.
type Node struct {
	// keys is indexed by slot; slot 0 is the reserved sentinel.
	keys []Key

	// set tracks which slots have been populated, so a duplicate
	// schema record for the same slot is detectable.
	set []bool

	// children holds one node per nested-typed key, in the order
	// the schema declared them.
	children []*Node
}

// NewNode allocates a level with maxIndex key slots, slot 0 included.
func NewNode(maxIndex int) *Node {
	return &Node{
		keys: make([]Key, maxIndex),
		set:  make([]bool, maxIndex),
	}
}

// MaxIndex returns the declared slot count, sentinel included.
func (n *Node) MaxIndex() int {
	return len(n.keys)
}

// Key returns the descriptor at slot index. The caller is expected
// to stay within [1, MaxIndex).
func (n *Node) Key(index int) *Key {
	return &n.keys[index]
}

// SetKey populates slot index. Populating the same slot twice or
// addressing a slot outside the declared range is an error.
func (n *Node) SetKey(index int, key Key) error {
	if index <= 0 || index >= len(n.keys) {
		return fmt.Errorf("keytree: key index %d outside level of %d slots", index, len(n.keys))
	}
	if n.set[index] {
		return fmt.Errorf("keytree: duplicate key at index %d", index)
	}
	n.keys[index] = key
	n.set[index] = true
	return nil
}

// AddChild links child as the last nested level under n.
func (n *Node) AddChild(child *Node) {
	n.children = append(n.children, child)
}

// Child returns the ordinal-th nested child, or nil when the schema
// declared fewer nested keys than the value stream tries to descend
// into.
func (n *Node) Child(ordinal int) *Node {
	if ordinal < 0 || ordinal >= len(n.children) {
		return nil
	}
	return n.children[ordinal]
}

// NumChildren returns how many nested levels hang off this node.
func (n *Node) NumChildren() int {
	return len(n.children)
}
