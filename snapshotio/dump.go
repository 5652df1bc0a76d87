package snapshotio

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"

	"github.com/chainforge/execd/statesync"
)

// DumpAccounts writes the `accounts` stream:
// `[len:2B][address:20B][account:fixed][storage_entries:u32][key:32B][value:32B]*`
// per record, zstd-compressed. The key field is widened from 20 to 32
// bytes: records are keyed by address hash rather than address, since
// statesync.AccountRecord carries no address preimage to recover the
// literal 20-byte form from (see DESIGN.md).
func DumpAccounts(w io.Writer, records <-chan statesync.AccountRecord) error {
	zw, err := zstd.NewWriter(w)
	if err != nil {
		return fmt.Errorf("snapshotio: open zstd writer: %w", err)
	}
	defer zw.Close()

	for rec := range records {
		body := accountFixedLen + 4 + len(rec.Storage)*64
		if body > 0xffff {
			return fmt.Errorf("snapshotio: account %x record too large (%d bytes)", rec.AddressHash, body)
		}

		var header [2 + 32]byte
		binary.BigEndian.PutUint16(header[0:2], uint16(body))
		copy(header[2:34], rec.AddressHash[:])
		if _, err := zw.Write(header[:]); err != nil {
			return fmt.Errorf("snapshotio: write account header: %w", err)
		}
		if _, err := zw.Write(encodeAccountFixed(rec.Account)); err != nil {
			return fmt.Errorf("snapshotio: write account fixed fields: %w", err)
		}

		var countBuf [4]byte
		binary.BigEndian.PutUint32(countBuf[:], uint32(len(rec.Storage)))
		if _, err := zw.Write(countBuf[:]); err != nil {
			return fmt.Errorf("snapshotio: write storage count: %w", err)
		}
		for _, s := range rec.Storage {
			if _, err := zw.Write(s.Slot[:]); err != nil {
				return fmt.Errorf("snapshotio: write storage key: %w", err)
			}
			if _, err := zw.Write(s.Value[:]); err != nil {
				return fmt.Errorf("snapshotio: write storage value: %w", err)
			}
		}
	}
	return zw.Close()
}

// DumpCode writes the `code` stream:
// `[code_hash:32B][len:4B][bytes]*`, zstd-compressed.
func DumpCode(w io.Writer, blobs <-chan CodeBlob) error {
	zw, err := zstd.NewWriter(w)
	if err != nil {
		return fmt.Errorf("snapshotio: open zstd writer: %w", err)
	}
	defer zw.Close()

	for blob := range blobs {
		if _, err := zw.Write(blob.Hash[:]); err != nil {
			return fmt.Errorf("snapshotio: write code hash: %w", err)
		}
		var lenBuf [4]byte
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(blob.Code)))
		if _, err := zw.Write(lenBuf[:]); err != nil {
			return fmt.Errorf("snapshotio: write code length: %w", err)
		}
		if _, err := zw.Write(blob.Code); err != nil {
			return fmt.Errorf("snapshotio: write code bytes: %w", err)
		}
	}
	return zw.Close()
}
