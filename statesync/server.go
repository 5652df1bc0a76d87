// Package statesync implements the Statesync Server Hook: an
// asynchronously iterable stream of account/storage records, backed by
// a read-only TrieDb cursor on a separate I/O context so the main writer is
// never blocked by a peer's sync request. Contract code is not streamed:
// AccountRecord.Code is left empty.
package statesync

import (
	"bytes"
	"context"
	"fmt"

	"github.com/chainforge/execd/blockstate"
	"github.com/chainforge/execd/common"
	"github.com/chainforge/execd/mpt"
	"github.com/chainforge/execd/triedb"
	"github.com/chainforge/execd/xlog"
)

// stateKeyAccountLen and stateKeyStorageLen are the two possible nibble
// lengths a STATE-domain key can have: the domain prefix (2 nibbles)
// followed by one keccak256 (64 nibbles) for an account, or that same
// account hash plus the 8-byte incarnation (16 nibbles) and a second
// keccak256 (64 nibbles) for a storage slot under it.
const (
	stateKeyAccountLen      = 2 + 64
	stateKeyIncarnationLen  = 16
	stateKeyStorageHashLen  = 64
	stateKeyStorageValueOff = stateKeyAccountLen + stateKeyIncarnationLen
	stateKeyStorageLen      = stateKeyStorageValueOff + stateKeyStorageHashLen
)

// AccountRecord is one emitted account, keyed by its address hash since the
// STATE domain stores accounts under keccak(address) and this module has no
// address-preimage table to recover the original address from. For the same
// reason each Storage entry's Slot is keccak(slot) as stored in the key.
type AccountRecord struct {
	AddressHash common.Hash
	Account     *blockstate.Account
	Code        []byte
	Storage     []blockstate.StorageDelta
}

// Server streams state from a single read-only TrieDb cursor.
type Server struct {
	db  *triedb.TrieDb
	log xlog.Logger
}

// NewServer wraps a TrieDb positioned at the version to serve. Callers
// should obtain db via TrieDb.WithCursor against their own engine so the
// writer's cursor is never shared.
func NewServer(db *triedb.TrieDb) *Server {
	return &Server{db: db, log: xlog.New("component", "statesync")}
}

// Stream walks every account and storage slot live at the server's version
// and delivers one AccountRecord per address in ascending address-hash
// order as an asynchronously iterable stream. Each storage slot
// encountered is accumulated under its owning account before the account's
// record is emitted, since the trie interleaves an account's slots
// immediately after it in key order.
//
// This streams a full snapshot of the target version rather than an
// incremental from/to diff: computing a true incremental diff between two
// arbitrary historical roots would need either a persisted per-block delta
// log or a structural merkle-diff that prunes identical COW subtrees by
// offset, neither of which this module implements (see DESIGN.md). A full
// snapshot is also the shape real statesync bootstraps actually want.
func (s *Server) Stream(ctx context.Context, emit func(AccountRecord) error) error {
	root := s.db.Cursor().Root

	machine := &stateWalkMachine{flush: emit}
	if err := s.db.Engine().Traverse(ctx, root, machine); err != nil {
		return fmt.Errorf("statesync: traverse: %w", err)
	}
	return machine.emitCurrent()
}

// stateWalkMachine adapts the STATE domain's key layout to mpt.TraversalMachine,
// grouping consecutive storage-slot values under the account that precedes
// them in key order.
type stateWalkMachine struct {
	flush   func(AccountRecord) error
	current *AccountRecord
	prefix  common.Nibbles
	err     error
}

func (m *stateWalkMachine) Visit(path common.Nibbles, node *mpt.Node) (bool, error) {
	if !node.HasValue() {
		return true, nil
	}
	if len(path) < 2 || path[0] != 0x0 || path[1] != 0x1 { // not the STATE domain
		return true, nil
	}

	switch len(path) {
	case stateKeyAccountLen:
		if err := m.emitCurrent(); err != nil {
			return false, err
		}
		acc, err := blockstate.DecodeAccount(node.Value)
		if err != nil {
			return false, fmt.Errorf("statesync: decode account at %x: %w", path, err)
		}
		var hash common.Hash
		copy(hash[:], packForHash(path[2:stateKeyAccountLen]))
		m.current = &AccountRecord{AddressHash: hash, Account: acc}
		m.prefix = append(common.Nibbles(nil), path[:stateKeyAccountLen]...)
	case stateKeyStorageLen:
		if m.current == nil || !bytes.HasPrefix(path, m.prefix) {
			return true, nil // storage slot with no preceding account record (shouldn't happen)
		}
		var slot common.Hash
		copy(slot[:], packForHash(path[stateKeyStorageValueOff:stateKeyStorageLen]))
		var value common.Hash
		copy(value[:], node.Value)
		m.current.Storage = append(m.current.Storage, blockstate.StorageDelta{Slot: slot, Value: value})
	}
	return true, nil
}

func (m *stateWalkMachine) emitCurrent() error {
	if m.current == nil {
		return nil
	}
	err := m.flush(*m.current)
	m.current = nil
	return err
}

// packForHash repacks a 64-nibble path segment back into its 32-byte hash,
// the inverse of common.NibblesFromBytes.
func packForHash(n common.Nibbles) []byte {
	return n.Bytes()
}
