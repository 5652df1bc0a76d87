package ioengine

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBufferPoolGetRespectsMaxPages(t *testing.T) {
	bp := NewBufferPool(4096, 4)
	require.Equal(t, 4096*4, bp.MaxBytes())

	buf, ok := bp.Get(2)
	require.True(t, ok)
	require.Len(t, buf, 4096*2)

	_, ok = bp.Get(5)
	require.False(t, ok, "requests above maxPages must be refused")
}

func TestBufferPoolReleaseAllowsReuse(t *testing.T) {
	bp := NewBufferPool(4096, 2)
	buf, ok := bp.Get(2)
	require.True(t, ok)
	bp.Release(buf)

	again, ok := bp.Get(1)
	require.True(t, ok)
	require.Len(t, again, 4096)
}
