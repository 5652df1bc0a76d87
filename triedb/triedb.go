package triedb

import (
	"context"
	"fmt"

	"github.com/chainforge/execd/blockstate"
	"github.com/chainforge/execd/chunkpool"
	"github.com/chainforge/execd/common"
	"github.com/chainforge/execd/mpt"
)

// Version identifies one committed trie snapshot.
type Version struct {
	Number   uint64
	BlockID  common.Hash
	Root     chunkpool.VirtualOffset
	RootHash common.Hash
}

// TrieDb is the per-cursor façade over the shared mpt.Engine. A
// cursor is cheap: it is just a Version plus a pointer to the shared engine,
// so proposal.Tree can hold one TrieDb per live proposal without duplicating
// any cached nodes (those live in the engine's shared NodeCache).
type TrieDb struct {
	engine *mpt.Engine
	cursor Version
}

// New wraps engine with a cursor positioned at genesis (the empty trie).
func New(engine *mpt.Engine) *TrieDb {
	return &TrieDb{engine: engine, cursor: Version{RootHash: mpt.EmptyTrieHash}}
}

// SetBlockAndPrefix repositions the cursor, used before a proposal's commit.
func (db *TrieDb) SetBlockAndPrefix(v Version) { db.cursor = v }

// Cursor returns the version this façade currently reads from.
func (db *TrieDb) Cursor() Version { return db.cursor }

// Engine exposes the shared trie engine for callers that need to traverse
// or read below the per-domain helpers below, e.g. statesync's full-state
// walk.
func (db *TrieDb) Engine() *mpt.Engine { return db.engine }

// WithCursor returns a shallow copy of this façade positioned at v, so a
// read-only statesync façade can share the same engine without mutating the
// writer's cursor.
func (db *TrieDb) WithCursor(v Version) *TrieDb {
	return &TrieDb{engine: db.engine, cursor: v}
}

// GetAccount implements blockstate.Reader.
func (db *TrieDb) GetAccount(ctx context.Context, addr common.Address) (*blockstate.Account, bool, error) {
	data, found, err := db.engine.Get(ctx, db.cursor.Root, AccountKey(addr))
	if err != nil || !found {
		return nil, found, err
	}
	acc, err := blockstate.DecodeAccount(data)
	if err != nil {
		return nil, false, fmt.Errorf("triedb: decode account %x: %w", addr, err)
	}
	return acc, true, nil
}

// GetStorage implements blockstate.Reader.
func (db *TrieDb) GetStorage(ctx context.Context, addr common.Address, incarnation uint64, slot common.Hash) (common.Hash, error) {
	data, found, err := db.engine.Get(ctx, db.cursor.Root, StorageKey(addr, incarnation, slot))
	if err != nil || !found {
		return common.Hash{}, err
	}
	var h common.Hash
	copy(h[:], data)
	return h, nil
}

// GetCode implements blockstate.Reader.
func (db *TrieDb) GetCode(ctx context.Context, codeHash common.Hash) ([]byte, error) {
	if codeHash == common.EmptyCodeHash {
		return nil, nil
	}
	data, _, err := db.engine.Get(ctx, db.cursor.Root, CodeKey(codeHash))
	return data, err
}

// GetReceipt and GetTransaction read back the per-block records committed
// alongside state.
func (db *TrieDb) GetReceipt(ctx context.Context, txIndex uint32) ([]byte, bool, error) {
	return db.engine.Get(ctx, db.cursor.Root, ReceiptKey(txIndex))
}

func (db *TrieDb) GetTransaction(ctx context.Context, txIndex uint32) ([]byte, bool, error) {
	return db.engine.Get(ctx, db.cursor.Root, TransactionKey(txIndex))
}

func (db *TrieDb) GetTxLocation(ctx context.Context, txHash common.Hash) ([]byte, bool, error) {
	return db.engine.Get(ctx, db.cursor.Root, TxHashKey(txHash))
}

// GetCallFrames reassembles a transaction's (possibly chunked) call frame
// record by ranging over its CallFramePrefix in key order, up to (but not
// including) the next transaction's own prefix.
func (db *TrieDb) GetCallFrames(ctx context.Context, txIndex uint32) ([]byte, error) {
	min := CallFramePrefix(txIndex)
	max := CallFramePrefix(txIndex + 1)

	var out []byte
	machine := &mpt.RangedGetMachine{
		Min: min,
		Max: max,
		Emit: func(key common.Nibbles, value []byte) error {
			out = append(out, value...)
			return nil
		},
	}
	if err := db.engine.Traverse(ctx, db.cursor.Root, machine); err != nil {
		return nil, err
	}
	return out, nil
}

// EachCode walks the CODE domain in key order, calling visit once per
// distinct code hash/blob, used by snapshotio.DumpSnapshot and nothing else in
// this module — dump_snapshot is the only consumer of a full code-table
// enumeration. The upper bound is the first key of the next domain, so the
// whole CODE domain is covered without needing an all-0xf maximum.
func (db *TrieDb) EachCode(ctx context.Context, visit func(codeHash common.Hash, code []byte) error) error {
	prefix := common.Nibbles{finalizedPrefix, byte(DomainCode)}
	min := prefix
	max := common.Nibbles{finalizedPrefix, byte(DomainCode) + 1}

	machine := &mpt.RangedGetMachine{
		Min: min,
		Max: max,
		Emit: func(key common.Nibbles, value []byte) error {
			var h common.Hash
			copy(h[:], key[len(prefix):].Bytes())
			return visit(h, value)
		},
	}
	return db.engine.Traverse(ctx, db.cursor.Root, machine)
}
