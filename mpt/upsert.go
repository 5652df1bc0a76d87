package mpt

import (
	"bytes"
	"context"
	"sort"

	"github.com/chainforge/execd/chunkpool"
	"github.com/chainforge/execd/common"
)

// Update describes one key's requested mutation, in full (non-relative)
// nibble path form. ordered_updates is a sequence of (key, value-or-tombstone)
// pairs. Callers need not sort them: triedb's Commit hands its list over
// unsorted and Upsert sorts the batch itself. Nothing deduplicates keys; the
// sort is not stable, so which of two updates to one key wins is not defined.
type Update struct {
	Key    common.Nibbles
	Value  []byte
	Delete bool
}

// Upsert applies a batch of updates to the subtree rooted at oldRoot and
// returns the new root's virtual offset and hash. An empty resulting trie is
// reported as the zero VirtualOffset and EmptyTrieHash, since an empty trie
// has no root node at all.
func (e *Engine) Upsert(ctx context.Context, oldRoot chunkpool.VirtualOffset, updates []Update) (chunkpool.VirtualOffset, common.Hash, error) {
	sorted := append([]Update(nil), updates...)
	sort.Slice(sorted, func(i, j int) bool {
		return bytes.Compare(sorted[i].Key, sorted[j].Key) < 0
	})

	root, err := e.resolve(ctx, oldRoot)
	if err != nil {
		return chunkpool.VirtualOffset{}, common.Hash{}, err
	}

	newRoot, changed, err := e.upsertNode(ctx, root, sorted, 0)
	if err != nil {
		return chunkpool.VirtualOffset{}, common.Hash{}, err
	}

	if newRoot == nil {
		return chunkpool.VirtualOffset{}, EmptyTrieHash, nil
	}
	if !changed {
		return newRoot.SelfOffset(), newRoot.Hash(), nil
	}

	if err := newRoot.validateShape(true); err != nil {
		return chunkpool.VirtualOffset{}, common.Hash{}, err
	}
	offset, err := e.writeNode(ctx, newRoot, false)
	if err != nil {
		return chunkpool.VirtualOffset{}, common.Hash{}, err
	}
	return offset, newRoot.Hash(), nil
}

// upsertNode applies updates (already sorted, already advanced past the
// first consumed nibbles) to the subtree currently rooted at node, which may
// be nil (an absent subtree). consumed is the number of nibbles of each
// update's Key that have already been matched by ancestors plus this node's
// own incoming edge. It returns the new subtree root (nil if the subtree
// becomes entirely empty) and whether anything actually changed, so an
// unmodified subtree can be returned without triggering a spurious rewrite.
func (e *Engine) upsertNode(ctx context.Context, node *Node, updates []Update, consumed int) (*Node, bool, error) {
	if len(updates) == 0 {
		return node, false, nil
	}

	if node == nil {
		fresh, err := e.buildFresh(ctx, updates, consumed)
		if err != nil {
			return nil, false, err
		}
		return fresh, fresh != nil, nil
	}

	cp := len(node.Path)
	for _, u := range updates {
		rel := u.Key[consumed:]
		if c := common.CommonPrefixLen(node.Path, rel); c < cp {
			cp = c
		}
	}

	if cp == len(node.Path) {
		return e.upsertMatched(ctx, node, updates, consumed+len(node.Path))
	}
	return e.upsertDivergent(ctx, node, updates, consumed, cp)
}

// upsertMatched handles the case where node.Path is fully consumed by every
// update in this batch: updates either set/clear this node's own value
// (those whose key ends exactly at newConsumed) or continue into one of its
// 16 children, grouped by next nibble.
func (e *Engine) upsertMatched(ctx context.Context, node *Node, updates []Update, newConsumed int) (*Node, bool, error) {
	var leaf []Update
	byNibble := make(map[int][]Update)
	for _, u := range updates {
		if len(u.Key) == newConsumed {
			leaf = append(leaf, u)
		} else {
			nb := int(u.Key[newConsumed])
			byNibble[nb] = append(byNibble[nb], u)
		}
	}

	out := &Node{Path: node.Path.Clone(), Value: node.Value, Children: node.Children}
	changed := false

	for _, u := range leaf {
		if u.Delete {
			if out.Value != nil {
				out.Value = nil
				changed = true
			}
		} else {
			out.Value = u.Value
			changed = true
		}
	}

	if len(byNibble) > 0 {
		// Copy the children array so untouched slots still alias the
		// originals while touched ones get freshly finalized descriptors.
		newChildren := out.Children
		for nb, childUpdates := range byNibble {
			var childOffset chunkpool.VirtualOffset
			if c := node.Children[nb]; c != nil {
				childOffset = c.Offset
			}
			childNode, err := e.resolve(ctx, childOffset)
			if err != nil {
				return nil, false, err
			}
			updatedChild, childChanged, err := e.upsertNode(ctx, childNode, childUpdates, newConsumed+1)
			if err != nil {
				return nil, false, err
			}
			if !childChanged {
				continue
			}
			changed = true
			child, err := e.finalizeChild(ctx, updatedChild)
			if err != nil {
				return nil, false, err
			}
			newChildren[nb] = child
		}
		out.Children = newChildren
	}

	if !changed {
		return node, false, nil
	}
	result, err := e.collapse(ctx, out)
	return result, true, err
}

// upsertDivergent handles the case where some update's key disagrees with
// node.Path at nibble offset cp (relative to consumed): node.Path[:cp] is
// shared, node.Path[cp] is an existing branch arm, and any update nibble
// other than node.Path[cp] opens a brand new arm.
func (e *Engine) upsertDivergent(ctx context.Context, node *Node, updates []Update, consumed, cp int) (*Node, bool, error) {
	newConsumed := consumed + cp
	oldNibble := int(node.Path[cp])

	branch := &Node{Path: node.Path[:cp].Clone()}

	oldRemainder := node.Path[cp+1:].Clone()
	oldChild := &Node{Path: oldRemainder, Value: node.Value, Children: node.Children}

	var oldUpdates []Update
	byNibble := make(map[int][]Update)
	for _, u := range updates {
		rel := u.Key[newConsumed:]
		if len(rel) == 0 {
			if u.Delete {
				branch.Value = nil
			} else {
				branch.Value = u.Value
			}
			continue
		}
		nb := int(rel[0])
		if nb == oldNibble {
			oldUpdates = append(oldUpdates, u)
		} else {
			byNibble[nb] = append(byNibble[nb], u)
		}
	}

	updatedOld := oldChild
	if len(oldUpdates) > 0 {
		var err error
		updatedOld, _, err = e.upsertNode(ctx, oldChild, oldUpdates, newConsumed+1)
		if err != nil {
			return nil, false, err
		}
	}
	oldDescriptor, err := e.finalizeChild(ctx, updatedOld)
	if err != nil {
		return nil, false, err
	}
	branch.Children[oldNibble] = oldDescriptor

	for nb, group := range byNibble {
		fresh, err := e.buildFresh(ctx, group, newConsumed+1)
		if err != nil {
			return nil, false, err
		}
		descriptor, err := e.finalizeChild(ctx, fresh)
		if err != nil {
			return nil, false, err
		}
		branch.Children[nb] = descriptor
	}

	result, err := e.collapse(ctx, branch)
	return result, true, err
}

// buildFresh constructs a brand-new subtree from updates alone (the subtree
// it is replacing was absent). Pure-deletion updates are dropped; if nothing
// remains, the subtree stays absent (nil).
func (e *Engine) buildFresh(ctx context.Context, updates []Update, consumed int) (*Node, error) {
	var live []Update
	for _, u := range updates {
		if !u.Delete {
			live = append(live, u)
		}
	}
	if len(live) == 0 {
		return nil, nil
	}

	prefix := live[0].Key[consumed:]
	for _, u := range live[1:] {
		c := common.CommonPrefixLen(prefix, u.Key[consumed:])
		prefix = prefix[:c]
	}

	n := &Node{Path: prefix.Clone()}
	newConsumed := consumed + len(prefix)

	byNibble := make(map[int][]Update)
	for _, u := range live {
		if len(u.Key) == newConsumed {
			n.Value = u.Value
		} else {
			nb := int(u.Key[newConsumed])
			byNibble[nb] = append(byNibble[nb], u)
		}
	}

	for nb, group := range byNibble {
		child, err := e.buildFresh(ctx, group, newConsumed+1)
		if err != nil {
			return nil, err
		}
		descriptor, err := e.finalizeChild(ctx, child)
		if err != nil {
			return nil, err
		}
		n.Children[nb] = descriptor
	}

	n.markDirty()
	return n, nil
}

// finalizeChild writes child to disk if it is new or modified and returns
// its persisted descriptor, or nil if child is an absent subtree.
func (e *Engine) finalizeChild(ctx context.Context, child *Node) (*Child, error) {
	if child == nil {
		return nil, nil
	}
	if child.SelfOffset().IsZero() || child.dirty {
		if _, err := e.writeNode(ctx, child, false); err != nil {
			return nil, err
		}
	}
	fast, slow := child.SelfOffset(), chunkpool.VirtualOffset{}
	for _, c := range child.Children {
		if c == nil {
			continue
		}
		fast = minVO(fast, c.MinOffsetFast)
		slow = minVO(slow, c.MinOffsetSlow)
	}
	return &Child{
		Offset:        child.SelfOffset(),
		Hash:          child.Hash(),
		MinOffsetFast: fast,
		MinOffsetSlow: slow,
	}, nil
}

// collapse enforces node-shape invariants after a mutation: an
// empty node (no children, no value) disappears entirely, and a node left
// with exactly one child and no value is merged into that child (the
// classic hex-trie coalescing rule), recursively, since merging can itself
// produce another one-child node.
func (e *Engine) collapse(ctx context.Context, n *Node) (*Node, error) {
	pop := n.PopCount()
	if pop == 0 && !n.HasValue() {
		return nil, nil
	}
	if pop == 1 && !n.HasValue() {
		var nb int
		var only *Child
		for i, c := range n.Children {
			if c != nil {
				nb, only = i, c
				break
			}
		}
		childNode, err := e.resolve(ctx, only.Offset)
		if err != nil {
			return nil, err
		}
		merged := &Node{
			Path:     common.Concat(common.Concat(n.Path, common.Nibbles{byte(nb)}), childNode.Path),
			Value:    childNode.Value,
			Children: childNode.Children,
		}
		merged.markDirty()
		return e.collapse(ctx, merged)
	}
	n.markDirty()
	return n, nil
}
