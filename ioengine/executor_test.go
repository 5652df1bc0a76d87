package ioengine

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/chainforge/execd/chunkpool"
)

func newTestExecutor(t *testing.T) (*Executor, *chunkpool.Pool) {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "device.db")
	const chunkCapacity = 64 * 1024
	const deviceCapacity = 8 * chunkCapacity
	pool, err := chunkpool.Open([]string{path}, chunkpool.Truncate, chunkCapacity, deviceCapacity)
	require.NoError(t, err)
	t.Cleanup(func() { _ = pool.Close() })

	bufs := NewBufferPool(chunkpool.PageSize, 4)
	exec := NewExecutor(pool, bufs)
	t.Cleanup(exec.Shutdown)
	return exec, pool
}

func TestSubmitWriteThenReadRoundTrip(t *testing.T) {
	exec, pool := newTestExecutor(t)

	chunkID, err := pool.AllocateFromFree()
	require.NoError(t, err)

	payload := make([]byte, chunkpool.PageSize)
	copy(payload, []byte("hello chunk"))

	errCh := exec.SubmitWrite(chunkID, chunkpool.ChunkHeaderSize, payload)
	require.NoError(t, <-errCh)

	off := chunkpool.VirtualOffset{ChunkID: chunkID, ByteOffset: chunkpool.ChunkHeaderSize, SparePages: 1}
	result := <-exec.SubmitRead(context.Background(), off)
	require.NoError(t, result.Err)
	require.Equal(t, payload, result.Data)
	exec.ReleaseBuffer(result.Data)
}

func TestSubmitReadRejectsOversizedSparePages(t *testing.T) {
	exec, pool := newTestExecutor(t)
	chunkID, err := pool.AllocateFromFree()
	require.NoError(t, err)

	off := chunkpool.VirtualOffset{ChunkID: chunkID, ByteOffset: 0, SparePages: 100}
	result := <-exec.SubmitRead(context.Background(), off)
	require.Error(t, result.Err)
}

func TestSubmitScatterReadPreservesOrder(t *testing.T) {
	exec, pool := newTestExecutor(t)

	var offs []chunkpool.VirtualOffset
	for i := 0; i < 3; i++ {
		chunkID, err := pool.AllocateFromFree()
		require.NoError(t, err)

		payload := make([]byte, chunkpool.PageSize)
		payload[0] = byte(i + 1)
		require.NoError(t, <-exec.SubmitWrite(chunkID, chunkpool.ChunkHeaderSize, payload))
		offs = append(offs, chunkpool.VirtualOffset{ChunkID: chunkID, ByteOffset: chunkpool.ChunkHeaderSize, SparePages: 1})
	}

	scatter := <-exec.SubmitScatterRead(context.Background(), offs)
	require.NoError(t, scatter.Err)
	require.Len(t, scatter.Results, 3)
	for i, r := range scatter.Results {
		require.NoError(t, r.Err)
		require.Equal(t, byte(i+1), r.Data[0])
		exec.ReleaseBuffer(r.Data)
	}
}

func TestShutdownIsIdempotentAndDrainsBeforeReturning(t *testing.T) {
	exec, pool := newTestExecutor(t)

	chunkID, err := pool.AllocateFromFree()
	require.NoError(t, err)
	errCh := exec.SubmitWrite(chunkID, chunkpool.ChunkHeaderSize, make([]byte, chunkpool.PageSize))
	require.NoError(t, <-errCh)

	exec.Shutdown()
	exec.Shutdown() // must not panic or block on a second call
}
