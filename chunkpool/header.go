package chunkpool

import (
	"encoding/binary"
	"fmt"
	"hash/crc64"
)

// FrontHeaderMagic identifies a valid front-of-disk metadata replica.
const FrontHeaderMagic uint64 = 0x4d5054444231 // "MPTDB1" in hex-ish form

// FrontHeaderSize is the size in bytes of one of the two replicated copies
// stored at the front of device 0.
const FrontHeaderSize = 12 * 1024

// ChunkHeaderSize is the size of the per-chunk header occupying the first
// 4 KiB of every chunk.
const ChunkHeaderSize = 4096

var crcTable = crc64.MakeTable(crc64.ISO)

// Frontier tracks the write-append position of one of the two parallel
// write lists (fast or slow).
type Frontier struct {
	Offset VirtualOffset
}

// FrontHeader is the replicated metadata record at offset 0 of device 0.
// Field layout matches bit-exactly (encode/decode below).
type FrontHeader struct {
	Version       uint32
	Generation    uint64
	LatestRoot    VirtualOffset
	FastFrontier  VirtualOffset
	SlowFrontier  VirtualOffset
	FastHead      ChunkID
	FastTail      ChunkID
	SlowHead      ChunkID
	SlowTail      ChunkID
	FreeHead      ChunkID
	FreeTail      ChunkID
}

// Encode serializes h into a FrontHeaderSize-byte buffer with a trailing
// checksum, ready to be written to one of the two alternating replicas.
func (h FrontHeader) Encode() []byte {
	buf := make([]byte, FrontHeaderSize)
	off := 0
	putU64 := func(v uint64) { binary.LittleEndian.PutUint64(buf[off:], v); off += 8 }
	putU32 := func(v uint32) { binary.LittleEndian.PutUint32(buf[off:], v); off += 4 }
	putU16 := func(v uint16) { binary.LittleEndian.PutUint16(buf[off:], v); off += 2 }
	putVO := func(v VirtualOffset) {
		putU32(uint32(v.ChunkID))
		putU64(v.ByteOffset)
		putU16(v.SparePages)
		putU16(0) // pad
	}

	putU64(FrontHeaderMagic)
	putU32(h.Version)
	putU64(h.Generation)
	putVO(h.LatestRoot)
	putVO(h.FastFrontier)
	putVO(h.SlowFrontier)
	putU32(uint32(h.FastHead))
	putU32(uint32(h.FastTail))
	putU32(uint32(h.SlowHead))
	putU32(uint32(h.SlowTail))
	putU32(uint32(h.FreeHead))
	putU32(uint32(h.FreeTail))

	sum := crc64.Checksum(buf[:off], crcTable)
	binary.LittleEndian.PutUint64(buf[off:], sum)
	return buf
}

// DecodeFrontHeader parses and checksum-verifies a front-header replica.
// Recovery picks whichever of the two copies passes this check
// and has the higher Generation.
func DecodeFrontHeader(buf []byte) (FrontHeader, error) {
	if len(buf) < FrontHeaderSize {
		return FrontHeader{}, fmt.Errorf("chunkpool: short front header buffer: %d bytes", len(buf))
	}
	off := 0
	getU64 := func() uint64 { v := binary.LittleEndian.Uint64(buf[off:]); off += 8; return v }
	getU32 := func() uint32 { v := binary.LittleEndian.Uint32(buf[off:]); off += 4; return v }
	getU16 := func() uint16 { v := binary.LittleEndian.Uint16(buf[off:]); off += 2; return v }
	getVO := func() VirtualOffset {
		cid := getU32()
		bo := getU64()
		sp := getU16()
		getU16() // pad
		return VirtualOffset{ChunkID: ChunkID(cid), ByteOffset: bo, SparePages: sp}
	}

	magic := getU64()
	if magic != FrontHeaderMagic {
		return FrontHeader{}, fmt.Errorf("chunkpool: bad front header magic %x", magic)
	}
	var h FrontHeader
	h.Version = getU32()
	h.Generation = getU64()
	h.LatestRoot = getVO()
	h.FastFrontier = getVO()
	h.SlowFrontier = getVO()
	h.FastHead = ChunkID(getU32())
	h.FastTail = ChunkID(getU32())
	h.SlowHead = ChunkID(getU32())
	h.SlowTail = ChunkID(getU32())
	h.FreeHead = ChunkID(getU32())
	h.FreeTail = ChunkID(getU32())

	want := crc64.Checksum(buf[:off], crcTable)
	got := binary.LittleEndian.Uint64(buf[off:])
	if want != got {
		return FrontHeader{}, fmt.Errorf("chunkpool: front header checksum mismatch: want %x got %x", want, got)
	}
	return h, nil
}

// ChunkHeader is the per-chunk linkage record occupying the first 4 KiB of
// every chunk.
type ChunkHeader struct {
	ListID      ListID
	PrevChunk   ChunkID
	NextChunk   ChunkID
	WriteOffset uint64
}

type ListID uint8

const (
	ListFree ListID = iota
	ListFast
	ListSlow
	ListReservedFront
)

func (h ChunkHeader) Encode() []byte {
	buf := make([]byte, ChunkHeaderSize)
	buf[0] = byte(h.ListID)
	binary.LittleEndian.PutUint32(buf[1:], uint32(h.PrevChunk))
	binary.LittleEndian.PutUint32(buf[5:], uint32(h.NextChunk))
	binary.LittleEndian.PutUint64(buf[9:], h.WriteOffset)
	sum := crc64.Checksum(buf[:17], crcTable)
	binary.LittleEndian.PutUint64(buf[17:], sum)
	return buf
}

func DecodeChunkHeader(buf []byte) (ChunkHeader, error) {
	if len(buf) < ChunkHeaderSize {
		return ChunkHeader{}, fmt.Errorf("chunkpool: short chunk header buffer: %d bytes", len(buf))
	}
	var h ChunkHeader
	h.ListID = ListID(buf[0])
	h.PrevChunk = ChunkID(binary.LittleEndian.Uint32(buf[1:]))
	h.NextChunk = ChunkID(binary.LittleEndian.Uint32(buf[5:]))
	h.WriteOffset = binary.LittleEndian.Uint64(buf[9:])
	want := crc64.Checksum(buf[:17], crcTable)
	got := binary.LittleEndian.Uint64(buf[17:])
	if want != got {
		return ChunkHeader{}, fmt.Errorf("chunkpool: chunk header checksum mismatch for chunk linkage record")
	}
	return h, nil
}
