package blockstate

import (
	"context"
	"fmt"
	"sync"

	"github.com/chainforge/execd/common"
)

// Reader is the read-only subset of a TrieDb cursor that BlockState needs;
// defined here (rather than imported from triedb) so that blockstate has no
// dependency on the façade package above it, matching the data-flow
// direction describes: "Runloop → Block-State Layer → ... → TrieDb
// commit". triedb.TrieDb satisfies this interface structurally.
type Reader interface {
	GetAccount(ctx context.Context, addr common.Address) (*Account, bool, error)
	GetStorage(ctx context.Context, addr common.Address, incarnation uint64, slot common.Hash) (common.Hash, error)
	GetCode(ctx context.Context, codeHash common.Hash) ([]byte, error)
}

// BlockState owns the current merged view atop a base TrieDb cursor for one
// in-progress block. Every successfully merged transaction's
// writes become visible to transactions merged after it, which is what lets
// CanMerge compare a not-yet-committed transaction's pre-images against
// state mutated by earlier transactions in the same block.
type BlockState struct {
	mu sync.Mutex

	reader Reader

	accounts     map[common.Address]*Account
	accountExist map[common.Address]bool
	storage      map[common.Address]map[common.Hash]common.Hash
	code         map[common.Hash][]byte
	destructed   map[common.Address]bool

	// storageIncarnation records which incarnation the entries currently in
	// storage[addr] belong to. Merge clears storage[addr] (and any destructed
	// mark an earlier transaction left on addr) whenever an address's
	// incarnation advances, so a destructed-then-recreated
	// account's pre-destruction slots never leak into its successor's view
	// even before the new incarnation's delta is committed to the trie.
	storageIncarnation map[common.Address]uint64

	touched    []common.Address // insertion order, for deterministic commit
	touchedSet map[common.Address]bool
}

// NewBlockState begins a block atop reader (typically a TrieDb cursor
// positioned at the parent block via set_block_and_prefix).
func NewBlockState(reader Reader) *BlockState {
	return &BlockState{
		reader:             reader,
		accounts:           make(map[common.Address]*Account),
		accountExist:       make(map[common.Address]bool),
		storage:            make(map[common.Address]map[common.Hash]common.Hash),
		code:               make(map[common.Hash][]byte),
		destructed:         make(map[common.Address]bool),
		storageIncarnation: make(map[common.Address]uint64),
		touchedSet:         make(map[common.Address]bool),
	}
}

func (bs *BlockState) account(ctx context.Context, addr common.Address) (*Account, bool, error) {
	bs.mu.Lock()
	if acc, ok := bs.accounts[addr]; ok {
		exists := bs.accountExist[addr]
		bs.mu.Unlock()
		return acc.Clone(), exists, nil
	}
	bs.mu.Unlock()

	acc, exists, err := bs.reader.GetAccount(ctx, addr)
	if err != nil {
		return nil, false, err
	}
	if acc == nil {
		acc = NewAccount()
	}
	return acc.Clone(), exists, nil
}

func (bs *BlockState) storageSlot(ctx context.Context, addr common.Address, slot common.Hash) (common.Hash, error) {
	bs.mu.Lock()
	if m, ok := bs.storage[addr]; ok {
		if v, ok := m[slot]; ok {
			bs.mu.Unlock()
			return v, nil
		}
	}
	bs.mu.Unlock()

	acc, _, err := bs.account(ctx, addr)
	if err != nil {
		return common.Hash{}, err
	}
	return bs.reader.GetStorage(ctx, addr, acc.Incarnation, slot)
}

func (bs *BlockState) code(ctx context.Context, hash common.Hash) ([]byte, error) {
	bs.mu.Lock()
	if c, ok := bs.code[hash]; ok {
		bs.mu.Unlock()
		return c, nil
	}
	bs.mu.Unlock()
	return bs.reader.GetCode(ctx, hash)
}

// CanMerge implements conflict detection: for every account and
// storage key the transaction read or wrote, the current BlockState must
// still show the same pre-image the transaction originally observed.
func (bs *BlockState) CanMerge(ctx context.Context, s *State) (bool, error) {
	for addr, pre := range s.reads {
		cur, exists, err := bs.account(ctx, addr)
		if err != nil {
			return false, err
		}
		if !accountsEqual(pre, cur, exists) {
			return false, nil
		}
	}
	for addr, slots := range s.storageReads {
		for slot, pre := range slots {
			cur, err := bs.storageSlot(ctx, addr, slot)
			if err != nil {
				return false, err
			}
			if cur != pre {
				return false, nil
			}
		}
	}
	return true, nil
}

func accountsEqual(pre *Account, cur *Account, curExists bool) bool {
	if pre == nil {
		return !curExists
	}
	if !curExists {
		return false
	}
	return pre.Nonce == cur.Nonce &&
		pre.Balance.Eq(cur.Balance) &&
		pre.CodeHash == cur.CodeHash &&
		pre.Incarnation == cur.Incarnation
}

// Merge folds a transaction's writes into the shared BlockState view. The
// caller must have already confirmed CanMerge; Merge itself does not
// re-check, matching "if any mismatch, the transaction must be
// re-executed" being the caller's responsibility, not Merge's.
func (bs *BlockState) Merge(s *State) {
	bs.mu.Lock()
	defer bs.mu.Unlock()

	markTouched := func(addr common.Address) {
		if !bs.touchedSet[addr] {
			bs.touchedSet[addr] = true
			bs.touched = append(bs.touched, addr)
		}
	}

	for addr, e := range s.accounts {
		if !e.dirty {
			continue
		}
		markTouched(addr)
		if e.account.Incarnation != bs.storageIncarnation[addr] {
			delete(bs.storage, addr)
			delete(bs.destructed, addr)
			bs.storageIncarnation[addr] = e.account.Incarnation
		}
		bs.accounts[addr] = e.account.Clone()
		bs.accountExist[addr] = e.exists
		if e.code != nil {
			bs.code[e.account.CodeHash] = e.code
		}
	}
	for addr, slots := range s.storage {
		if len(slots) == 0 {
			continue
		}
		// SetStorage always dirties addr's account entry too, so by this
		// point the accounts loop above has already run markTouched,
		// bs.accounts[addr], and bs.storageIncarnation[addr] for addr.
		m, ok := bs.storage[addr]
		if !ok {
			m = make(map[common.Hash]common.Hash)
			bs.storage[addr] = m
		}
		for slot, v := range slots {
			m[slot] = v
		}
	}
	for addr := range s.destructed {
		bs.destructed[addr] = true
		bs.accountExist[addr] = false
	}
}

// Commit flattens the merged view into the StateDeltas TrieDb.Commit needs
// to build its single MPT update list. Addresses are returned
// in first-touched order, which is deterministic given a fixed transaction
// execution order but is not itself the key order the committer sorts into
// before calling the upsert engine.
func (bs *BlockState) Commit() []StateDelta {
	bs.mu.Lock()
	defer bs.mu.Unlock()

	deltas := make([]StateDelta, 0, len(bs.touched))
	for _, addr := range bs.touched {
		deleted := bs.destructed[addr] || !bs.accountExist[addr]
		d := StateDelta{Address: addr, Deleted: deleted}
		if !deleted {
			acc := bs.accounts[addr]
			d.Account = acc
			d.Incarnation = acc.Incarnation
			d.CodeHash = acc.CodeHash
			if code, ok := bs.code[acc.CodeHash]; ok {
				d.Code = code
			}
		}
		for slot, v := range bs.storage[addr] {
			d.Storage = append(d.Storage, StorageDelta{Slot: slot, Value: v})
		}
		deltas = append(deltas, d)
	}
	return deltas
}

// ErrConflict is returned by helpers that choose to surface a failed
// CanMerge check as an error rather than a boolean, for callers that treat
// "needs re-execution" as an exceptional rather than routine outcome.
var ErrConflict = fmt.Errorf("blockstate: transaction state conflicts with current block state")
