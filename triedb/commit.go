package triedb

import (
	"context"

	"github.com/chainforge/execd/blockstate"
	"github.com/chainforge/execd/common"
	"github.com/chainforge/execd/mpt"
)

// callFrameChunkSize bounds a single call-frame record so it comfortably
// fits inside one node record alongside the node's other wire-format fields.
const callFrameChunkSize = 4096

// CommitInput aggregates what one block's execution produced: the
// StateDeltas, the receipts vector, transactions with their hashes, and
// per-tx call-frames. Receipts, transactions and call-frames are opaque byte
// blobs here; this package has no header/block type of its own. It carries
// no senders, ommers or withdrawals, and Commit writes none.
type CommitInput struct {
	BlockNumber uint64
	BlockID     common.Hash

	Deltas []blockstate.StateDelta

	Receipts     [][]byte
	Transactions [][]byte
	TxHashes     []common.Hash
	CallFrames   [][]byte
}

// Commit builds a single MPT update list from the block's state deltas and
// applies it in exactly one Upsert Engine call, returning the resulting
// Version.
func (db *TrieDb) Commit(ctx context.Context, in CommitInput) (Version, error) {
	var updates []mpt.Update

	for _, d := range in.Deltas {
		if d.Deleted {
			updates = append(updates, mpt.Update{Key: AccountKey(d.Address), Delete: true})
			continue
		}
		enc, err := d.Account.EncodeRLP()
		if err != nil {
			return Version{}, err
		}
		updates = append(updates, mpt.Update{Key: AccountKey(d.Address), Value: enc})
		if d.Code != nil {
			updates = append(updates, mpt.Update{Key: CodeKey(d.CodeHash), Value: d.Code})
		}
		for _, sd := range d.Storage {
			key := StorageKey(d.Address, d.Incarnation, sd.Slot)
			if sd.Value == (common.Hash{}) {
				updates = append(updates, mpt.Update{Key: key, Delete: true})
			} else {
				updates = append(updates, mpt.Update{Key: key, Value: sd.Value.Bytes()})
			}
		}
	}

	for i, r := range in.Receipts {
		updates = append(updates, mpt.Update{Key: ReceiptKey(uint32(i)), Value: r})
	}
	for i, tx := range in.Transactions {
		updates = append(updates, mpt.Update{Key: TransactionKey(uint32(i)), Value: tx})
	}
	for i, h := range in.TxHashes {
		loc, err := common.EncodeRLP(struct {
			BlockNumber uint64
			TxIndex     uint32
		}{in.BlockNumber, uint32(i)})
		if err != nil {
			return Version{}, err
		}
		updates = append(updates, mpt.Update{Key: TxHashKey(h), Value: loc})
	}
	for i, cf := range in.CallFrames {
		for c, chunk := range chunkCallFrame(cf) {
			updates = append(updates, mpt.Update{Key: CallFrameKey(uint32(i), uint32(c)), Value: chunk})
		}
	}

	root, hash, err := db.engine.Upsert(ctx, db.cursor.Root, updates)
	if err != nil {
		return Version{}, err
	}
	v := Version{Number: in.BlockNumber, BlockID: in.BlockID, Root: root, RootHash: hash}
	db.cursor = v
	return v, nil
}

func chunkCallFrame(data []byte) [][]byte {
	if len(data) == 0 {
		return nil
	}
	var chunks [][]byte
	for len(data) > 0 {
		n := callFrameChunkSize
		if n > len(data) {
			n = len(data)
		}
		chunks = append(chunks, data[:n])
		data = data[n:]
	}
	return chunks
}
