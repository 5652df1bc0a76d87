package mpt

import (
	"bytes"
	"context"

	"github.com/chainforge/execd/chunkpool"
	"github.com/chainforge/execd/common"
)

// TraversalMachine drives a depth-first walk of a trie in ascending key
// order. Visit is called once per node encountered, with the full key path
// leading to it; returning descend=false prunes that node's children,
// letting a machine like RangedGetMachine skip subtrees it already knows lie
// outside its window without paying for the reads.
type TraversalMachine interface {
	Visit(path common.Nibbles, node *Node) (descend bool, err error)
}

// Traverse walks the subtree rooted at root depth-first in ascending nibble
// order, calling m.Visit at each node.
func (e *Engine) Traverse(ctx context.Context, root chunkpool.VirtualOffset, m TraversalMachine) error {
	node, err := e.resolve(ctx, root)
	if err != nil || node == nil {
		return err
	}
	return e.traverse(ctx, node, nil, m)
}

func (e *Engine) traverse(ctx context.Context, node *Node, prefix common.Nibbles, m TraversalMachine) error {
	path := common.Concat(prefix, node.Path)
	descend, err := m.Visit(path, node)
	if err != nil || !descend {
		return err
	}
	for nb, child := range node.Children {
		if child == nil {
			continue
		}
		childNode, err := e.resolve(ctx, child.Offset)
		if err != nil {
			return err
		}
		childPrefix := common.Concat(path, common.Nibbles{byte(nb)})
		if err := e.traverse(ctx, childNode, childPrefix, m); err != nil {
			return err
		}
	}
	return nil
}

// RangedGetMachine collects every key/value pair in the half-open window
// [Min, Max) (both full nibble-length keys) in strict ascending order, the
// "bounded range read" primitive triedb's GetCallFrames and EachCode are
// built on. Max itself is never emitted; callers that want an inclusive
// upper bound pass the key immediately following the one they want included.
type RangedGetMachine struct {
	Min, Max common.Nibbles
	Emit     func(key common.Nibbles, value []byte) error
}

func (m *RangedGetMachine) Visit(path common.Nibbles, node *Node) (bool, error) {
	if node.HasValue() && inRange(path, m.Min, m.Max) {
		if err := m.Emit(path, node.Value); err != nil {
			return false, err
		}
	}
	if prunedBefore(path, m.Min) || prunedAfter(path, m.Max) {
		return false, nil
	}
	return true, nil
}

func inRange(key, min, max common.Nibbles) bool {
	return bytes.Compare(key, min) >= 0 && bytes.Compare(key, max) < 0
}

// prunedBefore reports whether every key in the subtree rooted at a node
// whose own path is p must be strictly less than min, and so can never
// contribute a value in range.
func prunedBefore(p, min common.Nibbles) bool {
	if len(p) < len(min) {
		return false
	}
	return bytes.Compare(p[:len(min)], min) < 0
}

// prunedAfter is prunedBefore's mirror for the upper (exclusive) bound: once
// a node's path is lexicographically at or past max, nothing beneath it can
// fall back under max.
func prunedAfter(p, max common.Nibbles) bool {
	if len(p) < len(max) {
		return false
	}
	return bytes.Compare(p[:len(max)], max) >= 0
}
