package mpt

import (
	"encoding/binary"
	"fmt"

	"github.com/chainforge/execd/chunkpool"
)

// Wire layout:
//
//	length        uint16  total encoded length, including this field
//	mask          uint16  one bit per present child, bit i = child i present
//	flags         uint16  bit0 = has_value, remaining bits reserved
//	path_len      uint8   number of nibbles in Path
//	path          []byte  ceil(path_len/2) bytes, high nibble first
//	[value_len    uint32] \
//	[value        []byte] / present only if flags&1 != 0
//	for each present child, in ascending nibble order:
//	  offset           [10]byte  VirtualOffset.MarshalBinary
//	  hash             [32]byte
//	  min_offset_fast  [10]byte
//	  min_offset_slow  [10]byte
const (
	flagHasValue = uint16(1) << 0
)

// Encode serializes a node to its on-disk record. The caller is responsible
// for ensuring the result does not cross a chunk boundary (that decision
// belongs to writeNode in engine.go, which rolls over to a new chunk when
// it would).
func Encode(n *Node) []byte {
	pathBytes := packNibblesPadded(n.Path)

	size := 2 + 2 + 2 + 1 + len(pathBytes)
	if n.HasValue() {
		size += 4 + len(n.Value)
	}
	size += n.PopCount() * (10 + 32 + 10 + 10)

	buf := make([]byte, size)
	off := 2 // length filled last
	binary.BigEndian.PutUint16(buf[off:], n.ChildMask())
	off += 2

	var flags uint16
	if n.HasValue() {
		flags |= flagHasValue
	}
	binary.BigEndian.PutUint16(buf[off:], flags)
	off += 2

	buf[off] = uint8(len(n.Path))
	off++
	off += copy(buf[off:], pathBytes)

	if n.HasValue() {
		binary.BigEndian.PutUint32(buf[off:], uint32(len(n.Value)))
		off += 4
		off += copy(buf[off:], n.Value)
	}

	for i := 0; i < 16; i++ {
		c := n.Children[i]
		if c == nil {
			continue
		}
		off += copy(buf[off:], c.Offset.MarshalBinary())
		off += copy(buf[off:], c.Hash[:])
		off += copy(buf[off:], c.MinOffsetFast.MarshalBinary())
		off += copy(buf[off:], c.MinOffsetSlow.MarshalBinary())
	}

	binary.BigEndian.PutUint16(buf[0:], uint16(len(buf)))
	return buf
}

// Decode parses a record produced by Encode. It does not resolve child
// subtrees; Children[i].node stays nil until the read/upsert path loads it.
func Decode(buf []byte) (*Node, error) {
	if len(buf) < 7 {
		return nil, &CorruptionError{Reason: fmt.Sprintf("record too short: %d bytes", len(buf))}
	}
	length := binary.BigEndian.Uint16(buf[0:])
	if int(length) > len(buf) {
		return nil, &CorruptionError{Reason: fmt.Sprintf("declared length %d exceeds buffer %d", length, len(buf))}
	}
	buf = buf[:length]

	off := 2
	mask := binary.BigEndian.Uint16(buf[off:])
	off += 2
	flags := binary.BigEndian.Uint16(buf[off:])
	off += 2

	if off >= len(buf) {
		return nil, &CorruptionError{Reason: "truncated before path length"}
	}
	pathLen := int(buf[off])
	off++
	pathByteLen := (pathLen + 1) / 2
	if off+pathByteLen > len(buf) {
		return nil, &CorruptionError{Reason: "truncated path"}
	}
	path := unpackNibbles(buf[off:off+pathByteLen], pathLen)
	off += pathByteLen

	n := &Node{Path: path}

	if flags&flagHasValue != 0 {
		if off+4 > len(buf) {
			return nil, &CorruptionError{Reason: "truncated value length"}
		}
		vlen := int(binary.BigEndian.Uint32(buf[off:]))
		off += 4
		if off+vlen > len(buf) {
			return nil, &CorruptionError{Reason: "truncated value"}
		}
		n.Value = append([]byte(nil), buf[off:off+vlen]...)
		off += vlen
	}

	const childRecSize = 10 + 32 + 10 + 10
	for i := 0; i < 16; i++ {
		if mask&(1<<uint(i)) == 0 {
			continue
		}
		if off+childRecSize > len(buf) {
			return nil, &CorruptionError{Reason: fmt.Sprintf("truncated child record at nibble %d", i)}
		}
		offset, err := chunkpool.UnmarshalVirtualOffset(buf[off : off+10])
		if err != nil {
			return nil, &CorruptionError{Reason: err.Error()}
		}
		off += 10
		var hash [32]byte
		copy(hash[:], buf[off:off+32])
		off += 32
		minFast, err := chunkpool.UnmarshalVirtualOffset(buf[off : off+10])
		if err != nil {
			return nil, &CorruptionError{Reason: err.Error()}
		}
		off += 10
		minSlow, err := chunkpool.UnmarshalVirtualOffset(buf[off : off+10])
		if err != nil {
			return nil, &CorruptionError{Reason: err.Error()}
		}
		off += 10

		n.Children[i] = &Child{
			Offset:        offset,
			Hash:          hash,
			MinOffsetFast: minFast,
			MinOffsetSlow: minSlow,
		}
	}

	if err := n.validateShape(false); err != nil {
		// The root is special-cased by callers that know they're decoding
		// the root; Decode itself cannot tell, so it only flags the
		// unconditionally-illegal shape (one child, no value).
		if n.PopCount() == 1 && !n.HasValue() {
			return nil, err
		}
	}

	return n, nil
}

func packNibblesPadded(n []byte) []byte {
	out := make([]byte, (len(n)+1)/2)
	for i, nb := range n {
		if i%2 == 0 {
			out[i/2] = nb << 4
		} else {
			out[i/2] |= nb & 0x0f
		}
	}
	return out
}

func unpackNibbles(buf []byte, count int) []byte {
	out := make([]byte, count)
	for i := 0; i < count; i++ {
		b := buf[i/2]
		if i%2 == 0 {
			out[i] = b >> 4
		} else {
			out[i] = b & 0x0f
		}
	}
	return out
}
