// Package mpt implements the MPT Node Model, Trie Upsert Engine, and Trie
// Read Paths: a versioned, copy-on-write hex trie whose
// nodes are stored on chunkpool-backed devices and fetched through an
// ioengine.Executor.
package mpt

import (
	"github.com/chainforge/execd/chunkpool"
	"github.com/chainforge/execd/common"
)

// Child is one present child slot of a Node: the persisted reference plus
// the two compaction watermarks. Child is immutable once attached to a
// persisted Node: it records only the offset and cached metadata, never a
// direct pointer to the in-memory subtree. The shared NodeCache keyed by
// VirtualOffset (see cache.go) plays the role of the arena, so a Child is
// always resolved by offset lookup rather than by following a
// pointer that could be shared, mutated, and invalidated across versions.
type Child struct {
	Offset        chunkpool.VirtualOffset
	Hash          common.Hash
	MinOffsetFast chunkpool.VirtualOffset
	MinOffsetSlow chunkpool.VirtualOffset
}

// Node is one on-disk trie record ("Node (trie node)").
type Node struct {
	Path  common.Nibbles
	Value []byte // nil if this node carries no value

	// Children is indexed by nibble 0..15; nil entries are absent children.
	Children [16]*Child

	// selfOffset is where this node currently lives on disk, zero if the
	// node has never been written (freshly built in memory).
	selfOffset chunkpool.VirtualOffset

	// hash caches this subtree's Keccak-256 digest; invalidated (nil) by any
	// mutation and recomputed lazily by Hash().
	hash *common.Hash

	dirty bool
}

// ChildMask returns the 16-bit presence mask for this node's children, per
// node record "flags (mask high/low nibble present, has_value)".
func (n *Node) ChildMask() uint16 {
	var mask uint16
	for i, c := range n.Children {
		if c != nil {
			mask |= 1 << uint(i)
		}
	}
	return mask
}

// PopCount reports how many children are present.
func (n *Node) PopCount() int {
	count := 0
	for _, c := range n.Children {
		if c != nil {
			count++
		}
	}
	return count
}

// HasValue reports whether this node carries a leaf value.
func (n *Node) HasValue() bool { return n.Value != nil }

// IsLeaf reports whether this node has no children (a terminal leaf).
func (n *Node) IsLeaf() bool { return n.PopCount() == 0 }

// validateShape enforces structural invariant: "popcount(mask) +
// (value ? 1 : 0) >= 1 for every non-root, non-leaf node, except the root,
// which may be absent", and the coalescing invariant that a node with one
// child and no value is illegal outside of a transient construction state.
func (n *Node) validateShape(isRoot bool) error {
	pop := n.PopCount()
	if pop == 0 && !n.HasValue() && !isRoot {
		return &CorruptionError{Reason: "node has no children and no value"}
	}
	if pop == 1 && !n.HasValue() {
		return &CorruptionError{Reason: "node has exactly one child and no value; must be coalesced"}
	}
	return nil
}

// markDirty invalidates the cached hash so the next Hash() call recomputes
// it, and sets the dirty flag so the node is recognized as needing a fresh
// write; selfOffset is left as it is.
func (n *Node) markDirty() {
	n.dirty = true
	n.hash = nil
}

// SelfOffset exposes the node's current persisted location, zero if unwritten.
func (n *Node) SelfOffset() chunkpool.VirtualOffset { return n.selfOffset }

// CorruptionError reports a structurally invalid node record.
type CorruptionError struct {
	Offset chunkpool.VirtualOffset
	Reason string
}

func (e *CorruptionError) Error() string {
	if e.Offset.IsZero() {
		return "mpt: corruption: " + e.Reason
	}
	return "mpt: corruption at " + e.Offset.String() + ": " + e.Reason
}
