package mpt

import (
	"context"
	"fmt"
	"sync"

	"github.com/chainforge/execd/chunkpool"
	"github.com/chainforge/execd/ioengine"
	"github.com/chainforge/execd/xlog"
)

// Engine is the Trie Upsert Engine plus the shared node-resolution and
// node-writing machinery used by the read and compaction paths. Per exactly one upsert (or compaction) runs at a time; the
// Engine does not itself enforce this with a lock, since in this module the
// single owning goroutine that drives runloop already guarantees it, the
// same way the source relies on a single writer fiber rather than a mutex.
type Engine struct {
	pool  *chunkpool.Pool
	exec  *ioengine.Executor
	cache *NodeCache
	log   xlog.Logger

	fastChunk  chunkpool.ChunkID
	fastOffset uint64
	slowChunk  chunkpool.ChunkID
	slowOffset uint64

	inflightMu sync.Mutex
	inflight   map[chunkpool.VirtualOffset]*inflightRead
}

// inflightRead is a physical read for one offset that one or more concurrent
// resolve calls are waiting on, so they share the result instead of each
// issuing their own SubmitRead.
type inflightRead struct {
	done chan struct{}
	node *Node
	err  error
}

// NewEngine wires an upsert/compaction engine against a pool, its I/O
// executor, and a shared node cache.
func NewEngine(pool *chunkpool.Pool, exec *ioengine.Executor, cache *NodeCache) *Engine {
	return &Engine{
		pool:     pool,
		exec:     exec,
		cache:    cache,
		log:      xlog.New("component", "mpt"),
		inflight: make(map[chunkpool.VirtualOffset]*inflightRead),
	}
}

// resolve loads the node at off, consulting the cache first. A zero offset
// represents an absent subtree and resolves to (nil, nil). Concurrent
// resolve calls for the same not-yet-cached offset coalesce onto a single
// physical read: readers on hot, shallow nodes (the trie root and its
// immediate children) are otherwise the most likely to pile up duplicate
// SubmitRead calls for the same bytes under concurrent Find traffic.
func (e *Engine) resolve(ctx context.Context, off chunkpool.VirtualOffset) (*Node, error) {
	if off.IsZero() {
		return nil, nil
	}
	if n, ok := e.cache.Get(off); ok {
		return n, nil
	}

	e.inflightMu.Lock()
	if ir, ok := e.inflight[off]; ok {
		e.inflightMu.Unlock()
		select {
		case <-ir.done:
			return ir.node, ir.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	ir := &inflightRead{done: make(chan struct{})}
	e.inflight[off] = ir
	e.inflightMu.Unlock()

	n, err := e.resolveUncached(ctx, off)

	e.inflightMu.Lock()
	delete(e.inflight, off)
	e.inflightMu.Unlock()
	ir.node, ir.err = n, err
	close(ir.done)

	return n, err
}

func (e *Engine) resolveUncached(ctx context.Context, off chunkpool.VirtualOffset) (*Node, error) {
	res := <-e.exec.SubmitRead(ctx, off)
	if res.Err != nil {
		return nil, fmt.Errorf("mpt: read %s: %w", off, res.Err)
	}
	n, err := Decode(res.Data)
	e.exec.ReleaseBuffer(res.Data)
	if err != nil {
		return nil, err
	}
	n.selfOffset = off
	e.cache.Add(off, n)
	return n, nil
}

// writeNode appends n's encoded record to the current write frontier of the
// named list (fast unless slow is true), rolling over to a freshly allocated
// chunk when the record would not fit in the current one: a node never
// straddles a chunk boundary.
func (e *Engine) writeNode(ctx context.Context, n *Node, slow bool) (chunkpool.VirtualOffset, error) {
	buf := Encode(n)
	capacity := e.pool.ChunkCapacity()
	if uint64(len(buf)) > capacity-chunkpool.PageSize {
		return chunkpool.VirtualOffset{}, fmt.Errorf("mpt: node record of %d bytes exceeds chunk capacity", len(buf))
	}

	list := chunkpool.ListFast
	curChunk, curOffset := &e.fastChunk, &e.fastOffset
	if slow {
		list = chunkpool.ListSlow
		curChunk, curOffset = &e.slowChunk, &e.slowOffset
	}

	if *curChunk == 0 || *curOffset+uint64(len(buf)) > capacity {
		id, err := e.pool.AllocateFromFree()
		if err != nil {
			return chunkpool.VirtualOffset{}, err
		}
		if err := e.pool.AppendToList(list, id); err != nil {
			return chunkpool.VirtualOffset{}, err
		}
		*curChunk = id
		*curOffset = chunkpool.ChunkHeaderSize
	}

	off := *curOffset
	if err := <-e.exec.SubmitWrite(*curChunk, off, buf); err != nil {
		return chunkpool.VirtualOffset{}, err
	}
	*curOffset += uint64(len(buf))

	vo := chunkpool.VirtualOffset{
		ChunkID:    *curChunk,
		ByteOffset: off,
		SparePages: chunkpool.PagesFor(off, len(buf)),
	}
	n.selfOffset = vo
	n.dirty = false
	e.cache.Add(vo, n)
	return vo, nil
}

// minVO returns whichever of a, b is the earlier allocation, treating a zero
// value as "no candidate yet". Chunk ids increase monotonically as the free
// list is walked in allocation order, so (chunk id, byte offset) ordering is
// a faithful proxy for "written earlier", which is exactly what compaction
// needs to decide whether a subtree still has pre-threshold nodes in it.
func minVO(a, b chunkpool.VirtualOffset) chunkpool.VirtualOffset {
	if a.IsZero() {
		return b
	}
	if b.IsZero() {
		return a
	}
	if a.ChunkID != b.ChunkID {
		if a.ChunkID < b.ChunkID {
			return a
		}
		return b
	}
	if a.ByteOffset <= b.ByteOffset {
		return a
	}
	return b
}

// lessVO reports whether a was allocated strictly before b, under the same
// proxy ordering as minVO.
func lessVO(a, b chunkpool.VirtualOffset) bool {
	if a.ChunkID != b.ChunkID {
		return a.ChunkID < b.ChunkID
	}
	return a.ByteOffset < b.ByteOffset
}
