package mpt

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/chainforge/execd/chunkpool"
	"github.com/chainforge/execd/common"
)

func TestRangedGetMachineCollectsAscendingWithinBounds(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	root := chunkpool.VirtualOffset{}
	updates := []Update{
		{Key: key(0x10), Value: []byte("a")},
		{Key: key(0x20), Value: []byte("b")},
		{Key: key(0x30), Value: []byte("c")},
		{Key: key(0x40), Value: []byte("d")},
	}
	root, _, err := e.Upsert(ctx, root, updates)
	require.NoError(t, err)

	var gotKeys []common.Nibbles
	var gotValues [][]byte
	machine := &RangedGetMachine{
		Min: key(0x20),
		Max: key(0x40),
		Emit: func(k common.Nibbles, v []byte) error {
			gotKeys = append(gotKeys, append(common.Nibbles(nil), k...))
			gotValues = append(gotValues, append([]byte(nil), v...))
			return nil
		},
	}
	require.NoError(t, e.Traverse(ctx, root, machine))

	require.Len(t, gotValues, 2, "Max is exclusive: the value at key(0x40) must not be collected")
	require.Equal(t, []byte("b"), gotValues[0])
	require.Equal(t, []byte("c"), gotValues[1])
}

func TestRangedGetMachineExcludesMaxBoundary(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	root, _, err := e.Upsert(ctx, chunkpool.VirtualOffset{}, []Update{
		{Key: key(0x10), Value: []byte("a")},
		{Key: key(0x20), Value: []byte("b")},
	})
	require.NoError(t, err)

	var gotValues [][]byte
	machine := &RangedGetMachine{
		Min: key(0x10),
		Max: key(0x20),
		Emit: func(k common.Nibbles, v []byte) error {
			gotValues = append(gotValues, append([]byte(nil), v...))
			return nil
		},
	}
	require.NoError(t, e.Traverse(ctx, root, machine))
	require.Equal(t, [][]byte{[]byte("a")}, gotValues)
}

func TestTraverseEmptyRootIsNoOp(t *testing.T) {
	e := newTestEngine(t)
	var calls int
	machine := &RangedGetMachine{
		Min: key(0x00),
		Max: key(0xff),
		Emit: func(common.Nibbles, []byte) error { calls++; return nil },
	}
	require.NoError(t, e.Traverse(context.Background(), chunkpool.VirtualOffset{}, machine))
	require.Zero(t, calls)
}
