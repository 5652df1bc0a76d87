package mpt

import (
	"context"

	"github.com/chainforge/execd/chunkpool"
	"github.com/chainforge/execd/common"
)

// Get performs a point lookup of key against the subtree rooted at root.
// Each node along the path is resolved through the shared cache/executor,
// so an already-resident path costs no I/O at all and a cold path issues
// one read per node hop.
func (e *Engine) Get(ctx context.Context, root chunkpool.VirtualOffset, key common.Nibbles) ([]byte, bool, error) {
	node, err := e.resolve(ctx, root)
	if err != nil {
		return nil, false, err
	}
	consumed := 0
	for node != nil {
		rel := key[consumed:]
		cp := common.CommonPrefixLen(node.Path, rel)
		if cp != len(node.Path) {
			return nil, false, nil
		}
		consumed += len(node.Path)
		if consumed == len(key) {
			if node.HasValue() {
				return node.Value, true, nil
			}
			return nil, false, nil
		}
		child := node.Children[key[consumed]]
		if child == nil {
			return nil, false, nil
		}
		consumed++
		node, err = e.resolve(ctx, child.Offset)
		if err != nil {
			return nil, false, err
		}
	}
	return nil, false, nil
}

// GetMany issues point lookups for several keys one after another, each a
// plain Get walking its own path node-by-node. The lookups are not run
// concurrently and do not use the executor's scatter reads. It stops at the
// first error.
func (e *Engine) GetMany(ctx context.Context, root chunkpool.VirtualOffset, keys []common.Nibbles) ([][]byte, []bool, error) {
	values := make([][]byte, len(keys))
	found := make([]bool, len(keys))
	for i, k := range keys {
		v, ok, err := e.Get(ctx, root, k)
		if err != nil {
			return nil, nil, err
		}
		values[i], found[i] = v, ok
	}
	return values, found, nil
}
