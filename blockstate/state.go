package blockstate

import (
	"context"

	"github.com/holiman/uint256"

	"github.com/chainforge/execd/common"
)

// Incarnation identifies one transaction's execution attempt within a
// block. Re-execution after a conflict reuses the same Incarnation value;
// it is not a retry counter.
type Incarnation struct {
	Block   uint64
	TxIndex uint32
}

// accountEntry is one address's working copy inside a State or BlockState.
type accountEntry struct {
	account *Account
	exists  bool
	code    []byte
	dirty   bool
}

// State is the per-transaction execution view of : it reads
// through to a BlockState snapshot, records every read and write it
// performs, and never mutates the BlockState directly until Merge succeeds.
type State struct {
	base        *BlockState
	incarnation Incarnation
	revision    Revision

	accounts map[common.Address]*accountEntry
	reads    map[common.Address]*Account // pre-images observed, for can_merge

	storage      map[common.Address]map[common.Hash]common.Hash
	storageReads map[common.Address]map[common.Hash]common.Hash

	transient map[common.Address]map[common.Hash]common.Hash

	destructed map[common.Address]bool
	created    map[common.Address]bool // created in this transaction
}

// Revision selects the EVM fork ruleset active for this transaction,
// driving selfdestruct semantics.
type Revision int

const (
	RevisionFrontier Revision = iota
	RevisionShanghai
	RevisionCancun
)

// NewState begins a fresh per-transaction view atop base.
func (bs *BlockState) NewState(incarnation Incarnation, revision Revision) *State {
	return &State{
		base:         bs,
		incarnation:  incarnation,
		revision:     revision,
		accounts:     make(map[common.Address]*accountEntry),
		reads:        make(map[common.Address]*Account),
		storage:      make(map[common.Address]map[common.Hash]common.Hash),
		storageReads: make(map[common.Address]map[common.Hash]common.Hash),
		transient:    make(map[common.Address]map[common.Hash]common.Hash),
		destructed:   make(map[common.Address]bool),
		created:      make(map[common.Address]bool),
	}
}

func (s *State) entry(ctx context.Context, addr common.Address) (*accountEntry, error) {
	if e, ok := s.accounts[addr]; ok {
		return e, nil
	}
	acc, exists, err := s.base.account(ctx, addr)
	if err != nil {
		return nil, err
	}
	if _, seen := s.reads[addr]; !seen {
		if exists {
			s.reads[addr] = acc.Clone()
		} else {
			s.reads[addr] = nil
		}
	}
	e := &accountEntry{account: acc, exists: exists}
	s.accounts[addr] = e
	return e, nil
}

// access_account loads (or lazily reads through to the base view) an
// address's working account entry.
func (s *State) AccessAccount(ctx context.Context, addr common.Address) (*Account, error) {
	e, err := s.entry(ctx, addr)
	if err != nil {
		return nil, err
	}
	return e.account, nil
}

// account_exists reports whether addr currently has any account record.
func (s *State) AccountExists(ctx context.Context, addr common.Address) (bool, error) {
	e, err := s.entry(ctx, addr)
	if err != nil {
		return false, err
	}
	return e.exists, nil
}

// create_contract materializes a brand-new account at addr, bumping its
// incarnation past whatever a prior selfdestructed occupant used.
func (s *State) CreateContract(ctx context.Context, addr common.Address) error {
	e, err := s.entry(ctx, addr)
	if err != nil {
		return err
	}
	prevIncarnation := e.account.Incarnation
	e.account = NewAccount()
	e.account.Incarnation = prevIncarnation + 1
	e.exists = true
	e.dirty = true
	s.created[addr] = true
	delete(s.storage, addr) // drop this transaction's own writes to the old incarnation
	return nil
}

func (s *State) GetBalance(ctx context.Context, addr common.Address) (*uint256.Int, error) {
	e, err := s.entry(ctx, addr)
	if err != nil {
		return nil, err
	}
	return e.account.Balance, nil
}

func (s *State) AddBalance(ctx context.Context, addr common.Address, amount *uint256.Int) error {
	e, err := s.entry(ctx, addr)
	if err != nil {
		return err
	}
	e.account.Balance.Add(e.account.Balance, amount)
	e.exists = true
	e.dirty = true
	return nil
}

func (s *State) SubtractBalance(ctx context.Context, addr common.Address, amount *uint256.Int) error {
	e, err := s.entry(ctx, addr)
	if err != nil {
		return err
	}
	e.account.Balance.Sub(e.account.Balance, amount)
	e.dirty = true
	return nil
}

func (s *State) GetNonce(ctx context.Context, addr common.Address) (uint64, error) {
	e, err := s.entry(ctx, addr)
	if err != nil {
		return 0, err
	}
	return e.account.Nonce, nil
}

func (s *State) SetNonce(ctx context.Context, addr common.Address, nonce uint64) error {
	e, err := s.entry(ctx, addr)
	if err != nil {
		return err
	}
	e.account.Nonce = nonce
	e.exists = true
	e.dirty = true
	return nil
}

func (s *State) GetCodeHash(ctx context.Context, addr common.Address) (common.Hash, error) {
	e, err := s.entry(ctx, addr)
	if err != nil {
		return common.Hash{}, err
	}
	return e.account.CodeHash, nil
}

func (s *State) SetCodeHash(ctx context.Context, addr common.Address, hash common.Hash) error {
	e, err := s.entry(ctx, addr)
	if err != nil {
		return err
	}
	e.account.CodeHash = hash
	e.dirty = true
	return nil
}

// GetCode returns the bytecode for addr's current code hash.
func (s *State) GetCode(ctx context.Context, addr common.Address) ([]byte, error) {
	e, err := s.entry(ctx, addr)
	if err != nil {
		return nil, err
	}
	if e.code != nil {
		return e.code, nil
	}
	if e.account.CodeHash == common.EmptyCodeHash {
		return nil, nil
	}
	return s.base.code(ctx, e.account.CodeHash)
}

// CopyCode returns an independent copy of addr's bytecode, for EVM
// instructions that hand code buffers to callers who may mutate them.
func (s *State) CopyCode(ctx context.Context, addr common.Address) ([]byte, error) {
	code, err := s.GetCode(ctx, addr)
	if err != nil {
		return nil, err
	}
	return append([]byte(nil), code...), nil
}

// SetCode installs fresh bytecode and updates the account's code hash to
// match it.
func (s *State) SetCode(ctx context.Context, addr common.Address, code []byte) error {
	e, err := s.entry(ctx, addr)
	if err != nil {
		return err
	}
	e.code = code
	e.account.CodeHash = common.Keccak256(code)
	e.dirty = true
	return nil
}

func (s *State) storageMap(addr common.Address) map[common.Hash]common.Hash {
	m, ok := s.storage[addr]
	if !ok {
		m = make(map[common.Hash]common.Hash)
		s.storage[addr] = m
	}
	return m
}

// GetStorage returns a slot's current value, reading through to the base
// view the first time this transaction touches it.
func (s *State) GetStorage(ctx context.Context, addr common.Address, slot common.Hash) (common.Hash, error) {
	if m, ok := s.storage[addr]; ok {
		if v, ok := m[slot]; ok {
			return v, nil
		}
	}
	v, err := s.base.storageSlot(ctx, addr, slot)
	if err != nil {
		return common.Hash{}, err
	}
	reads := s.storageReads[addr]
	if reads == nil {
		reads = make(map[common.Hash]common.Hash)
		s.storageReads[addr] = reads
	}
	if _, seen := reads[slot]; !seen {
		reads[slot] = v
	}
	return v, nil
}

// SetStorage writes slot and returns its EVMC-style transition status.
func (s *State) SetStorage(ctx context.Context, addr common.Address, slot, value common.Hash) (StorageStatus, error) {
	original, err := s.base.storageSlot(ctx, addr, slot)
	if err != nil {
		return StorageUnchanged, err
	}
	previous, err := s.GetStorage(ctx, addr, slot)
	if err != nil {
		return StorageUnchanged, err
	}
	// A storage-only write still must carry addr's account entry (and thus
	// its incarnation) into Merge, otherwise an address never separately
	// touched through the balance/nonce/code setters would leave no account
	// record behind for the committer to key its storage deltas against.
	e, err := s.entry(ctx, addr)
	if err != nil {
		return StorageUnchanged, err
	}
	e.dirty = true
	s.storageMap(addr)[slot] = value
	return classifyStorageStatus(original, previous, value), nil
}

// Selfdestruct implements revision-dependent destruct: from
// Cancun onward destruction only actually removes the account if the
// account was created earlier in this same
// transaction; pre-Cancun it always destructs at end of transaction. Either
// way, the balance transfer to beneficiary happens immediately.
func (s *State) Selfdestruct(ctx context.Context, addr, beneficiary common.Address) error {
	e, err := s.entry(ctx, addr)
	if err != nil {
		return err
	}
	bal := e.account.Balance
	if addr != beneficiary && !bal.IsZero() {
		if err := s.AddBalance(ctx, beneficiary, bal); err != nil {
			return err
		}
		e, err = s.entry(ctx, addr)
		if err != nil {
			return err
		}
	}
	e.account.Balance = new(uint256.Int)
	e.dirty = true

	if s.revision < RevisionCancun || s.created[addr] {
		s.destructed[addr] = true
	}
	return nil
}

// DestructTouchedDead removes any EIP-161 "touched and empty" accounts this
// transaction left behind, the state-clearing rule from EIP-161/Spurious
// Dragon.
func (s *State) DestructTouchedDead() {
	for addr, e := range s.accounts {
		if e.exists && e.dirty && e.account.EmptyAccount() {
			s.destructed[addr] = true
		}
	}
}

// DestructSuicides returns the revision-dependent selfdestruct set recorded
// by Selfdestruct (and DestructTouchedDead); it does not itself change this
// transaction's working accounts. Cross-transaction
// propagation of which addresses actually leave the block's final state
// happens one level up, in BlockState.Merge.
func (s *State) DestructSuicides() map[common.Address]bool {
	return s.destructed
}

// GetTransientStorage and SetTransientStorage implement EIP-1153 transient
// storage, scoped to this transaction only
// and never persisted to the trie.
func (s *State) GetTransientStorage(addr common.Address, slot common.Hash) common.Hash {
	return s.transient[addr][slot]
}

func (s *State) SetTransientStorage(addr common.Address, slot, value common.Hash) {
	m, ok := s.transient[addr]
	if !ok {
		m = make(map[common.Hash]common.Hash)
		s.transient[addr] = m
	}
	m[slot] = value
}
