package mpt

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/chainforge/execd/chunkpool"
)

func TestCompactPreservesHashAndReadability(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	root, hash, err := e.Upsert(ctx, chunkpool.VirtualOffset{}, []Update{
		{Key: key(0x01), Value: []byte("one")},
		{Key: key(0x02), Value: []byte("two")},
		{Key: key(0x03), Value: []byte("three")},
	})
	require.NoError(t, err)

	// Threshold far beyond any chunk id actually allocated marks every node
	// stale relative to the fast list, forcing a full relocation to slow.
	farThreshold := chunkpool.VirtualOffset{ChunkID: 0xfffff, ByteOffset: 0}
	newRoot, err := e.Compact(ctx, root, farThreshold, chunkpool.VirtualOffset{})
	require.NoError(t, err)

	v, found, err := e.Get(ctx, newRoot, key(0x01))
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, []byte("one"), v)

	v, found, err = e.Get(ctx, newRoot, key(0x02))
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, []byte("two"), v)

	newRootNode, err := e.resolve(ctx, newRoot)
	require.NoError(t, err)
	require.Equal(t, hash, newRootNode.Hash())
}

func TestCompactNoOpBelowThreshold(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	root, _, err := e.Upsert(ctx, chunkpool.VirtualOffset{}, []Update{
		{Key: key(0x01), Value: []byte("one")},
	})
	require.NoError(t, err)

	// A zero threshold means nothing is older than it, so nothing relocates.
	newRoot, err := e.Compact(ctx, root, chunkpool.VirtualOffset{}, chunkpool.VirtualOffset{})
	require.NoError(t, err)
	require.Equal(t, root, newRoot)
}

func TestCompactEmptyRootIsNoOp(t *testing.T) {
	e := newTestEngine(t)
	newRoot, err := e.Compact(context.Background(), chunkpool.VirtualOffset{}, chunkpool.VirtualOffset{ChunkID: 5}, chunkpool.VirtualOffset{})
	require.NoError(t, err)
	require.True(t, newRoot.IsZero())
}
