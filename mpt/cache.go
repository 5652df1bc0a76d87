package mpt

import (
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/chainforge/execd/chunkpool"
)

// NodeCache holds decoded, in-memory nodes keyed by their on-disk virtual
// offset. Cached nodes are shared by reference count and have the same
// logical content as their on-disk image; an LRU is the natural eviction
// policy for entries that may be dropped at any time and re-read from disk.
type NodeCache struct {
	lru *lru.Cache[chunkpool.VirtualOffset, *Node]
}

// NewNodeCache creates a cache holding up to size resident nodes.
func NewNodeCache(size int) *NodeCache {
	c, err := lru.New[chunkpool.VirtualOffset, *Node](size)
	if err != nil {
		// lru.New only errors on size <= 0; fall back to a minimally useful cache.
		c, _ = lru.New[chunkpool.VirtualOffset, *Node](1)
	}
	return &NodeCache{lru: c}
}

func (c *NodeCache) Get(off chunkpool.VirtualOffset) (*Node, bool) {
	return c.lru.Get(off)
}

func (c *NodeCache) Add(off chunkpool.VirtualOffset, n *Node) {
	c.lru.Add(off, n)
}

func (c *NodeCache) Remove(off chunkpool.VirtualOffset) {
	c.lru.Remove(off)
}

func (c *NodeCache) Len() int { return c.lru.Len() }
