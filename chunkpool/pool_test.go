package chunkpool

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestPool(t *testing.T) (*Pool, string) {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "device.db")
	const chunkCapacity = 64 * 1024
	const deviceCapacity = 16 * chunkCapacity
	p, err := Open([]string{path}, Truncate, chunkCapacity, deviceCapacity)
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })
	return p, path
}

func TestOpenTruncateInitializesFreelist(t *testing.T) {
	p, _ := newTestPool(t)
	require.Equal(t, ChunkID(p.totalChunks()-1), p.FreeListEnd())
	require.True(t, p.LatestRoot().IsZero())
}

func TestAllocateFromFreeDrainsFreelist(t *testing.T) {
	p, _ := newTestPool(t)
	total := p.totalChunks()

	seen := map[ChunkID]bool{}
	for i := uint32(1); i < total; i++ {
		id, err := p.AllocateFromFree()
		require.NoError(t, err)
		require.False(t, seen[id], "chunk %d allocated twice", id)
		seen[id] = true
	}

	_, err := p.AllocateFromFree()
	require.Error(t, err, "freelist must be exhausted")
}

func TestAppendAndRemoveFromList(t *testing.T) {
	p, _ := newTestPool(t)

	id, err := p.AllocateFromFree()
	require.NoError(t, err)
	require.NoError(t, p.AppendToList(ListFast, id))

	hdr, err := p.readChunkHeader(id)
	require.NoError(t, err)
	require.Equal(t, ListFast, hdr.ListID)

	require.NoError(t, p.RemoveFromList(id))
	hdr, err = p.readChunkHeader(id)
	require.NoError(t, err)
	require.Equal(t, ListFree, hdr.ListID)
}

func TestCommitHeaderPersistsAcrossReopen(t *testing.T) {
	p, path := newTestPool(t)

	root := VirtualOffset{ChunkID: 2, ByteOffset: 64, SparePages: 1}
	fast := VirtualOffset{ChunkID: 3, ByteOffset: 128, SparePages: 1}
	slow := VirtualOffset{ChunkID: 4, ByteOffset: 256, SparePages: 1}
	require.NoError(t, p.CommitHeader(root, fast, slow))
	require.NoError(t, p.Close())

	fi, err := os.Stat(path)
	require.NoError(t, err)

	reopened, err := Open([]string{path}, OpenExisting, 64*1024, uint64(fi.Size()))
	require.NoError(t, err)
	defer reopened.Close()

	require.Equal(t, root, reopened.LatestRoot())
}

func TestPhysicalOffsetOfResolvesWithinDevice(t *testing.T) {
	p, _ := newTestPool(t)
	v := VirtualOffset{ChunkID: 2, ByteOffset: 100}
	phys, err := p.PhysicalOffsetOf(v)
	require.NoError(t, err)
	require.Equal(t, 0, phys.DeviceIndex)
	require.Equal(t, 2*p.ChunkCapacity()+100, phys.Offset)
}
