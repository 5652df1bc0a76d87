package mpt

import (
	"context"

	"github.com/chainforge/execd/chunkpool"
)

// Compact walks the subtree rooted at root and relocates every node whose
// own write predates thresholdFast (on the fast list) to the slow list,
// recursively, stopping at any subtree whose MinOffsetFast/MinOffsetSlow
// watermarks show nothing in it is that old. Per the inline-compaction
// decision recorded in DESIGN.md: every fresh upsert write
// targets the fast list, and the compactor is the only path that ever
// writes to the slow list, when it relocates a node old enough to cross
// thresholdFast. A parent whose own write is still fresh but whose child
// offsets changed underneath it is rewritten back onto the fast list
// instead, since it isn't itself the node judged worth demoting.
// thresholdSlow also selects which children to descend into: a child whose
// MinOffsetSlow watermark is non-zero and older than thresholdSlow is
// visited as well, and its nodes are judged by thresholdFast like any other.
func (e *Engine) Compact(ctx context.Context, root chunkpool.VirtualOffset, thresholdFast, thresholdSlow chunkpool.VirtualOffset) (chunkpool.VirtualOffset, error) {
	if root.IsZero() {
		return root, nil
	}
	node, err := e.resolve(ctx, root)
	if err != nil {
		return chunkpool.VirtualOffset{}, err
	}
	updated, relocated, err := e.compactNode(ctx, node, thresholdFast, thresholdSlow)
	if err != nil {
		return chunkpool.VirtualOffset{}, err
	}
	if !relocated {
		return root, nil
	}
	return updated.SelfOffset(), nil
}

func (e *Engine) compactNode(ctx context.Context, node *Node, thresholdFast, thresholdSlow chunkpool.VirtualOffset) (*Node, bool, error) {
	selfOff := node.SelfOffset()
	selfStale := !selfOff.IsZero() && lessVO(selfOff, thresholdFast)

	newChildren := node.Children
	changed := false

	for i, c := range node.Children {
		if c == nil {
			continue
		}
		stale := lessVO(c.MinOffsetFast, thresholdFast)
		if !c.MinOffsetSlow.IsZero() && lessVO(c.MinOffsetSlow, thresholdSlow) {
			stale = true
		}
		if !stale {
			continue
		}

		childNode, err := e.resolve(ctx, c.Offset)
		if err != nil {
			return nil, false, err
		}
		updatedChild, childRelocated, err := e.compactNode(ctx, childNode, thresholdFast, thresholdSlow)
		if err != nil {
			return nil, false, err
		}
		if !childRelocated {
			continue
		}
		changed = true

		fast, slow := chunkpool.VirtualOffset{}, chunkpool.VirtualOffset{}
		for _, gc := range updatedChild.Children {
			if gc == nil {
				continue
			}
			fast = minVO(fast, gc.MinOffsetFast)
			slow = minVO(slow, gc.MinOffsetSlow)
		}
		if updatedChild.SelfOffset().ChunkID != 0 {
			if childNode != nil && lessVO(childNode.SelfOffset(), thresholdFast) {
				slow = minVO(slow, updatedChild.SelfOffset())
			} else {
				fast = minVO(fast, updatedChild.SelfOffset())
			}
		}
		newChildren[i] = &Child{
			Offset:        updatedChild.SelfOffset(),
			Hash:          updatedChild.Hash(),
			MinOffsetFast: fast,
			MinOffsetSlow: slow,
		}
	}

	if !changed && !selfStale {
		return node, false, nil
	}

	out := &Node{Path: node.Path, Value: node.Value, Children: newChildren}
	out.markDirty()
	if _, err := e.writeNode(ctx, out, selfStale); err != nil {
		return nil, false, err
	}
	return out, true, nil
}
