package chunkpool

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFrontHeaderEncodeDecodeRoundTrip(t *testing.T) {
	h := FrontHeader{
		Version:      1,
		Generation:   7,
		LatestRoot:   VirtualOffset{ChunkID: 3, ByteOffset: 128, SparePages: 1},
		FastFrontier: VirtualOffset{ChunkID: 4, ByteOffset: 256, SparePages: 2},
		SlowFrontier: VirtualOffset{ChunkID: 5, ByteOffset: 512, SparePages: 3},
		FastHead:     10,
		FastTail:     11,
		SlowHead:     12,
		SlowTail:     13,
		FreeHead:     14,
		FreeTail:     15,
	}
	buf := h.Encode()
	require.Len(t, buf, FrontHeaderSize)

	got, err := DecodeFrontHeader(buf)
	require.NoError(t, err)
	require.Equal(t, h, got)
}

func TestFrontHeaderDecodeRejectsBadMagicAndChecksum(t *testing.T) {
	h := FrontHeader{Generation: 1}
	buf := h.Encode()

	corrupted := append([]byte(nil), buf...)
	corrupted[0] ^= 0xff
	_, err := DecodeFrontHeader(corrupted)
	require.Error(t, err)

	corruptedSum := append([]byte(nil), buf...)
	// Byte 92 is the first byte of the stored checksum, right after the
	// checksummed fields; the trailing padding is not covered by it.
	corruptedSum[92] ^= 0xff
	_, err = DecodeFrontHeader(corruptedSum)
	require.Error(t, err)
}

func TestChunkHeaderEncodeDecodeRoundTrip(t *testing.T) {
	h := ChunkHeader{ListID: ListFast, PrevChunk: 1, NextChunk: 2, WriteOffset: 4096}
	buf := h.Encode()
	require.Len(t, buf, ChunkHeaderSize)

	got, err := DecodeChunkHeader(buf)
	require.NoError(t, err)
	require.Equal(t, h, got)
}

func TestChunkHeaderDecodeRejectsChecksumMismatch(t *testing.T) {
	h := ChunkHeader{ListID: ListSlow, PrevChunk: 9}
	buf := h.Encode()
	// Byte 17 is the first byte of the stored checksum; the trailing
	// padding is not covered by it.
	buf[17] ^= 0xff
	_, err := DecodeChunkHeader(buf)
	require.Error(t, err)
}
