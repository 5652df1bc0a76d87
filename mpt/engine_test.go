package mpt

import (
	"context"
	"os"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/chainforge/execd/chunkpool"
	"github.com/chainforge/execd/ioengine"
)

// newTestEngine builds an Engine against a small temp-file-backed pool, for
// tests exercising upsert/read/compact without a real block device.
func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	f, err := os.CreateTemp("", "mpt-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	path := f.Name()
	f.Close()
	t.Cleanup(func() { os.Remove(path); os.Remove(path + ".lock") })

	const chunkCapacity = 64 * 1024
	const deviceCapacity = 64 * chunkCapacity
	pool, err := chunkpool.Open([]string{path}, chunkpool.Truncate, chunkCapacity, deviceCapacity)
	if err != nil {
		t.Fatalf("open pool: %v", err)
	}
	t.Cleanup(func() { pool.Close() })

	bufs := ioengine.NewBufferPool(chunkpool.PageSize, 8)
	exec := ioengine.NewExecutor(pool, bufs)
	t.Cleanup(exec.Shutdown)

	cache := NewNodeCache(256)
	return NewEngine(pool, exec, cache)
}

// TestConcurrentResolveCoalescesIntoOneInflightEntry drives many concurrent
// Get calls against the same not-yet-cached root node. Every caller must
// still observe the correct decoded value, and the inflight map must be
// empty again once they all land, whether they rode the one physical read
// or found the node already cached by the winner.
func TestConcurrentResolveCoalescesIntoOneInflightEntry(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	root, _, err := e.Upsert(ctx, chunkpool.VirtualOffset{}, []Update{
		{Key: key(0x01), Value: []byte("one")},
		{Key: key(0x02), Value: []byte("two")},
	})
	require.NoError(t, err)
	e.cache.Remove(root)

	const n = 32
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			v, found, err := e.Get(ctx, root, key(0x01))
			require.NoError(t, err)
			require.True(t, found)
			require.Equal(t, []byte("one"), v)
		}()
	}
	wg.Wait()

	require.Empty(t, e.inflight, "inflight entry must be cleaned up once the read completes")
}
