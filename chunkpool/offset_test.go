package chunkpool

import "testing"

import "github.com/stretchr/testify/require"

func TestVirtualOffsetWireRoundTrip(t *testing.T) {
	v := VirtualOffset{ChunkID: 0xabcde, ByteOffset: 1 << 30, SparePages: 0x0fff}
	buf := v.MarshalBinary()
	require.Len(t, buf, virtualOffsetWireSize)

	got, err := UnmarshalVirtualOffset(buf)
	require.NoError(t, err)
	require.Equal(t, v, got)
}

func TestVirtualOffsetIsZero(t *testing.T) {
	var v VirtualOffset
	require.True(t, v.IsZero())
	v.ChunkID = 1
	require.False(t, v.IsZero())
}

func TestPagesFor(t *testing.T) {
	require.Equal(t, uint16(1), PagesFor(0, 100))
	require.Equal(t, uint16(2), PagesFor(PageSize-10, 20))
	require.Equal(t, uint16(1), PagesFor(0, PageSize))
}
