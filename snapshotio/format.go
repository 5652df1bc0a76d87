// Package snapshotio implements the binary snapshot dump/load streams: an
// `accounts` stream carrying one fixed-width account record plus its
// storage slots per entry, and a `code` stream carrying code blobs keyed
// by hash. Both streams are written zstd-compressed.
package snapshotio

import (
	"encoding/binary"
	"fmt"

	"github.com/holiman/uint256"

	"github.com/chainforge/execd/blockstate"
	"github.com/chainforge/execd/common"
)

// accountFixedLen is the on-disk width of the fixed account record: Nonce
// (8) + Balance (32, big-endian) + CodeHash (32) + Incarnation (8).
const accountFixedLen = 8 + 32 + 32 + 8

func encodeAccountFixed(a *blockstate.Account) []byte {
	out := make([]byte, accountFixedLen)
	binary.BigEndian.PutUint64(out[0:8], a.Nonce)
	balance := a.Balance.Bytes32()
	copy(out[8:40], balance[:])
	copy(out[40:72], a.CodeHash[:])
	binary.BigEndian.PutUint64(out[72:80], a.Incarnation)
	return out
}

func decodeAccountFixed(b []byte) (*blockstate.Account, error) {
	if len(b) != accountFixedLen {
		return nil, fmt.Errorf("snapshotio: account record is %d bytes, want %d", len(b), accountFixedLen)
	}
	var codeHash common.Hash
	copy(codeHash[:], b[40:72])
	return &blockstate.Account{
		Nonce:       binary.BigEndian.Uint64(b[0:8]),
		Balance:     new(uint256.Int).SetBytes(b[8:40]),
		CodeHash:    codeHash,
		Incarnation: binary.BigEndian.Uint64(b[72:80]),
	}, nil
}
