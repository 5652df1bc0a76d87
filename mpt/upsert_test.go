package mpt

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/chainforge/execd/chunkpool"
	"github.com/chainforge/execd/common"
)

func key(b byte) common.Nibbles {
	return common.NibblesFromBytes([]byte{b, b, b})
}

func TestUpsertAndGetRoundTrip(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	updates := []Update{
		{Key: key(0x01), Value: []byte("one")},
		{Key: key(0x02), Value: []byte("two")},
		{Key: key(0xff), Value: []byte("max")},
	}
	root, hash, err := e.Upsert(ctx, chunkpool.VirtualOffset{}, updates)
	require.NoError(t, err)
	require.NotEqual(t, EmptyTrieHash, hash)

	for _, u := range updates {
		v, found, err := e.Get(ctx, root, u.Key)
		require.NoError(t, err)
		require.True(t, found)
		require.Equal(t, u.Value, v)
	}

	_, found, err := e.Get(ctx, root, key(0x03))
	require.NoError(t, err)
	require.False(t, found)
}

func TestUpsertEmptyTrieIsZeroRoot(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	root, hash, err := e.Upsert(ctx, chunkpool.VirtualOffset{}, nil)
	require.NoError(t, err)
	require.True(t, root.IsZero())
	require.Equal(t, EmptyTrieHash, hash)
}

func TestUpsertDeleteRemovesKey(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	root, _, err := e.Upsert(ctx, chunkpool.VirtualOffset{}, []Update{
		{Key: key(0x01), Value: []byte("one")},
		{Key: key(0x02), Value: []byte("two")},
	})
	require.NoError(t, err)

	root2, _, err := e.Upsert(ctx, root, []Update{{Key: key(0x01), Delete: true}})
	require.NoError(t, err)

	_, found, err := e.Get(ctx, root2, key(0x01))
	require.NoError(t, err)
	require.False(t, found)

	v, found, err := e.Get(ctx, root2, key(0x02))
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, []byte("two"), v)
}

func TestUpsertDeleteAllEmptiesTrie(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	root, _, err := e.Upsert(ctx, chunkpool.VirtualOffset{}, []Update{
		{Key: key(0x01), Value: []byte("one")},
	})
	require.NoError(t, err)

	root2, hash2, err := e.Upsert(ctx, root, []Update{{Key: key(0x01), Delete: true}})
	require.NoError(t, err)
	require.True(t, root2.IsZero())
	require.Equal(t, EmptyTrieHash, hash2)
}

func TestUpsertNoOpReturnsSameHash(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	root, hash, err := e.Upsert(ctx, chunkpool.VirtualOffset{}, []Update{
		{Key: key(0x01), Value: []byte("one")},
		{Key: key(0x02), Value: []byte("two")},
	})
	require.NoError(t, err)

	root2, hash2, err := e.Upsert(ctx, root, nil)
	require.NoError(t, err)
	require.Equal(t, hash, hash2)
	require.Equal(t, root, root2)
}

func TestUpsertOverwriteChangesValue(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	root, _, err := e.Upsert(ctx, chunkpool.VirtualOffset{}, []Update{
		{Key: key(0x01), Value: []byte("one")},
	})
	require.NoError(t, err)

	root2, _, err := e.Upsert(ctx, root, []Update{
		{Key: key(0x01), Value: []byte("uno")},
	})
	require.NoError(t, err)

	v, found, err := e.Get(ctx, root2, key(0x01))
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, []byte("uno"), v)
}
