package snapshotio

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"

	"github.com/chainforge/execd/blockstate"
	"github.com/chainforge/execd/common"
)

// CodeBlob is one record of the `code` stream.
type CodeBlob struct {
	Hash common.Hash
	Code []byte
}

// AccountSnapshot is one decoded `accounts` stream record.
type AccountSnapshot struct {
	AddressHash common.Hash
	Account     *blockstate.Account
	Storage     []blockstate.StorageDelta
}

// LoadAccounts decodes a zstd-compressed `accounts` stream, calling visit
// once per record in file order. Reading stops at the first error visit
// returns or at end of stream.
func LoadAccounts(r io.Reader, visit func(AccountSnapshot) error) error {
	zr, err := zstd.NewReader(r)
	if err != nil {
		return fmt.Errorf("snapshotio: open zstd reader: %w", err)
	}
	defer zr.Close()

	for {
		var header [2 + 32]byte
		if _, err := io.ReadFull(zr, header[:]); err != nil {
			if err == io.EOF {
				return nil
			}
			return fmt.Errorf("snapshotio: read account header: %w", err)
		}
		bodyLen := binary.BigEndian.Uint16(header[0:2])
		var addressHash common.Hash
		copy(addressHash[:], header[2:34])

		fixed := make([]byte, accountFixedLen)
		if _, err := io.ReadFull(zr, fixed); err != nil {
			return fmt.Errorf("snapshotio: read account fixed fields: %w", err)
		}
		acc, err := decodeAccountFixed(fixed)
		if err != nil {
			return err
		}

		var countBuf [4]byte
		if _, err := io.ReadFull(zr, countBuf[:]); err != nil {
			return fmt.Errorf("snapshotio: read storage count: %w", err)
		}
		count := binary.BigEndian.Uint32(countBuf[:])
		wantBody := accountFixedLen + 4 + int(count)*64
		if wantBody != int(bodyLen) {
			return fmt.Errorf("snapshotio: account %x declares body length %d, storage count implies %d", addressHash, bodyLen, wantBody)
		}

		storage := make([]blockstate.StorageDelta, count)
		for i := range storage {
			var slot, value common.Hash
			if _, err := io.ReadFull(zr, slot[:]); err != nil {
				return fmt.Errorf("snapshotio: read storage key: %w", err)
			}
			if _, err := io.ReadFull(zr, value[:]); err != nil {
				return fmt.Errorf("snapshotio: read storage value: %w", err)
			}
			storage[i] = blockstate.StorageDelta{Slot: slot, Value: value}
		}

		if err := visit(AccountSnapshot{AddressHash: addressHash, Account: acc, Storage: storage}); err != nil {
			return err
		}
	}
}

// LoadCode decodes a zstd-compressed `code` stream, calling visit once per
// blob in file order.
func LoadCode(r io.Reader, visit func(CodeBlob) error) error {
	zr, err := zstd.NewReader(r)
	if err != nil {
		return fmt.Errorf("snapshotio: open zstd reader: %w", err)
	}
	defer zr.Close()

	for {
		var hash common.Hash
		if _, err := io.ReadFull(zr, hash[:]); err != nil {
			if err == io.EOF {
				return nil
			}
			return fmt.Errorf("snapshotio: read code hash: %w", err)
		}
		var lenBuf [4]byte
		if _, err := io.ReadFull(zr, lenBuf[:]); err != nil {
			return fmt.Errorf("snapshotio: read code length: %w", err)
		}
		n := binary.BigEndian.Uint32(lenBuf[:])
		code := make([]byte, n)
		if _, err := io.ReadFull(zr, code); err != nil {
			return fmt.Errorf("snapshotio: read code bytes: %w", err)
		}
		if err := visit(CodeBlob{Hash: hash, Code: code}); err != nil {
			return err
		}
	}
}
