package snapshotio

import (
	"context"
	"fmt"
	"io"

	"github.com/chainforge/execd/common"
	"github.com/chainforge/execd/mpt"
	"github.com/chainforge/execd/triedb"
)

// LoadGenesisSnapshot bootstraps db from the accounts and code streams,
// committing every record as a single version at blockNumber. Both streams
// are addressed by hash (see DumpAccounts),
// so this writes directly through triedb's From-Hash key builders rather
// than going through TrieDb.Commit's StateDelta path, which expects
// un-hashed addresses this module was never given.
func LoadGenesisSnapshot(ctx context.Context, db *triedb.TrieDb, blockNumber uint64, blockID common.Hash, accounts, code io.Reader) (triedb.Version, error) {
	var updates []mpt.Update

	if err := LoadAccounts(accounts, func(a AccountSnapshot) error {
		enc, err := a.Account.EncodeRLP()
		if err != nil {
			return fmt.Errorf("snapshotio: encode account %x: %w", a.AddressHash, err)
		}
		updates = append(updates, mpt.Update{Key: triedb.AccountKeyFromHash(a.AddressHash), Value: enc})
		for _, s := range a.Storage {
			updates = append(updates, mpt.Update{Key: triedb.StorageKeyFromHash(a.AddressHash, a.Account.Incarnation, s.Slot), Value: s.Value.Bytes()})
		}
		return nil
	}); err != nil {
		return triedb.Version{}, fmt.Errorf("snapshotio: load accounts: %w", err)
	}

	if err := LoadCode(code, func(b CodeBlob) error {
		updates = append(updates, mpt.Update{Key: triedb.CodeKey(b.Hash), Value: b.Code})
		return nil
	}); err != nil {
		return triedb.Version{}, fmt.Errorf("snapshotio: load code: %w", err)
	}

	root, hash, err := db.Engine().Upsert(ctx, db.Cursor().Root, updates)
	if err != nil {
		return triedb.Version{}, err
	}
	v := triedb.Version{Number: blockNumber, BlockID: blockID, Root: root, RootHash: hash}
	db.SetBlockAndPrefix(v)
	return v, nil
}
