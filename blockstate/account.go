// Package blockstate implements the Block-State Concurrency Layer:
// per-transaction optimistic-concurrency execution state, conflict
// detection against an in-flight block-state, and the delta/commit
// bookkeeping that feeds TrieDb.Commit exactly once per block.
package blockstate

import (
	"github.com/holiman/uint256"

	"github.com/chainforge/execd/common"
)

// Account is the "Account" data-model entity: nonce, balance,
// code hash, and an incarnation counter that distinguishes a
// selfdestruct-then-recreate account from its predecessor at the same
// address.
type Account struct {
	Nonce       uint64
	Balance     *uint256.Int
	CodeHash    common.Hash
	Incarnation uint64
}

// EmptyAccount reports the EIP-161 "empty account" predicate used by
// destruct_touched_dead: zero nonce, zero balance, empty code hash.
func (a *Account) EmptyAccount() bool {
	return a.Nonce == 0 && a.Balance.IsZero() && a.CodeHash == common.EmptyCodeHash
}

// Clone returns an independent copy, needed whenever an Account snapshot
// must survive past further mutation of the original (conflict-detection
// pre-images, merge sources).
func (a *Account) Clone() *Account {
	if a == nil {
		return nil
	}
	return &Account{
		Nonce:       a.Nonce,
		Balance:     new(uint256.Int).Set(a.Balance),
		CodeHash:    a.CodeHash,
		Incarnation: a.Incarnation,
	}
}

// accountRLP is the wire shape handed to the RLP codec; Account itself
// keeps a *uint256.Int for convenient arithmetic, which the codec turns
// into its minimal big-endian byte form on the way out.
type accountRLP struct {
	Nonce       uint64
	Balance     []byte
	CodeHash    []byte
	Incarnation uint64
}

// EncodeRLP serializes the account for storage as a TrieDb STATE-domain
// value.
func (a *Account) EncodeRLP() ([]byte, error) {
	return common.EncodeRLP(accountRLP{
		Nonce:       a.Nonce,
		Balance:     a.Balance.Bytes(),
		CodeHash:    a.CodeHash[:],
		Incarnation: a.Incarnation,
	})
}

// DecodeAccount parses the bytes produced by EncodeRLP.
func DecodeAccount(data []byte) (*Account, error) {
	var r accountRLP
	if err := common.DecodeRLP(data, &r); err != nil {
		return nil, err
	}
	var ch common.Hash
	copy(ch[:], r.CodeHash)
	return &Account{
		Nonce:       r.Nonce,
		Balance:     new(uint256.Int).SetBytes(r.Balance),
		CodeHash:    ch,
		Incarnation: r.Incarnation,
	}, nil
}

// NewAccount returns a freshly created account at incarnation 0, the shape
// create_contract and the implicit account-creation-on-first-send path
// both start from.
func NewAccount() *Account {
	return &Account{Balance: new(uint256.Int), CodeHash: common.EmptyCodeHash}
}
