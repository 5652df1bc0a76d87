// Package proposal implements the proposal/finalization state machine:
// multiple speculative proposals per block number sharing a common
// finalized ancestor, with finalization picking one path and collapsing
// the rest.
package proposal

import (
	"fmt"
	"sync"

	"github.com/chainforge/execd/common"
	"github.com/chainforge/execd/triedb"
	"github.com/chainforge/execd/xlog"
)

// State is one proposal's place in the state machine.
type State int

const (
	StateProposed State = iota
	StateFinalized
	StateVerified
)

func (s State) String() string {
	switch s {
	case StateProposed:
		return "proposed"
	case StateFinalized:
		return "finalized"
	case StateVerified:
		return "verified"
	default:
		return "unknown"
	}
}

// Proposal is one (block_number, block_id) trie version in the tree.
type Proposal struct {
	BlockNumber uint64
	BlockID     common.Hash
	ParentID    common.Hash
	State       State
	Version     triedb.Version
	Children    []common.Hash
}

// InvalidBlockProposalError reports a Commit call that names a missing
// parent, a duplicate proposal, or an out-of-order version.
type InvalidBlockProposalError struct {
	Reason string
}

func (e *InvalidBlockProposalError) Error() string {
	return "proposal: invalid block proposal: " + e.Reason
}

// Tree holds every live proposal rooted at the latest finalized version.
// Per single-writer model, a Tree belongs to the one goroutine
// driving runloop; the mutex here only guards concurrent reads from a
// statesync or RPC-style query path.
type Tree struct {
	mu sync.Mutex

	byID map[common.Hash]*Proposal

	finalizedID     common.Hash
	finalizedNumber uint64
	verifiedNumber  uint64

	log xlog.Logger
}

// NewTree seeds the tree with genesis as the initial finalized proposal.
func NewTree(genesisID common.Hash, genesis triedb.Version) *Tree {
	root := &Proposal{
		BlockNumber: genesis.Number,
		BlockID:     genesisID,
		State:       StateFinalized,
		Version:     genesis,
	}
	return &Tree{
		byID:            map[common.Hash]*Proposal{genesisID: root},
		finalizedID:     genesisID,
		finalizedNumber: genesis.Number,
		log:             xlog.New("component", "proposal"),
	}
}

// Commit registers a new Proposed node atop parentID. It is a no-op-with-
// error if a sibling with the same (block_number, block_id) already exists.
// A proposal at version V can only be committed when a parent at V-1
// exists; this is enforced by the caller positioning its TrieDb cursor at
// parent.Version before calling TrieDb.Commit and passing the resulting
// Version here.
func (t *Tree) Commit(blockNumber uint64, blockID, parentID common.Hash, version triedb.Version) (*Proposal, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.byID[blockID]; exists {
		return nil, &InvalidBlockProposalError{Reason: fmt.Sprintf("duplicate proposal for block %x", blockID)}
	}
	parent, ok := t.byID[parentID]
	if !ok {
		return nil, &InvalidBlockProposalError{Reason: fmt.Sprintf("parent %x missing", parentID)}
	}
	if parent.BlockNumber+1 != blockNumber {
		return nil, &InvalidBlockProposalError{Reason: fmt.Sprintf("out-of-order version: parent at %d, proposal at %d", parent.BlockNumber, blockNumber)}
	}

	p := &Proposal{BlockNumber: blockNumber, BlockID: blockID, ParentID: parentID, State: StateProposed, Version: version}
	t.byID[blockID] = p
	parent.Children = append(parent.Children, blockID)
	t.log.Info("proposal committed", "block_number", blockNumber, "block_id", blockID)
	return p, nil
}

// Finalize marks one proposal at blockNumber as Finalized and discards all
// siblings and their descendants. Underlying chunks held only by
// discarded branches become eligible for compaction the next time the
// engine's compactor runs against the fast/slow frontiers.
func (t *Tree) Finalize(blockNumber uint64, blockID common.Hash) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	p, ok := t.byID[blockID]
	if !ok || p.BlockNumber != blockNumber {
		return &InvalidBlockProposalError{Reason: fmt.Sprintf("no proposal %x at block %d", blockID, blockNumber)}
	}

	parent, hasParent := t.byID[p.ParentID]
	if hasParent {
		for _, siblingID := range parent.Children {
			if siblingID == blockID {
				continue
			}
			t.discard(siblingID)
		}
		parent.Children = []common.Hash{blockID}
	}

	p.State = StateFinalized
	t.finalizedID = blockID
	t.finalizedNumber = blockNumber
	t.log.Info("proposal finalized", "block_number", blockNumber, "block_id", blockID)
	return nil
}

func (t *Tree) discard(id common.Hash) {
	p, ok := t.byID[id]
	if !ok {
		return
	}
	for _, childID := range p.Children {
		t.discard(childID)
	}
	delete(t.byID, id)
}

// UpdateVerifiedBlock records advancement of the verified frontier, which
// VerifiedBlock reports back. Nothing in this module prunes call-frame or
// receipt data by it.
func (t *Tree) UpdateVerifiedBlock(n uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if n > t.verifiedNumber {
		t.verifiedNumber = n
	}
}

// VerifiedBlock returns the current verified frontier.
func (t *Tree) VerifiedBlock() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.verifiedNumber
}

// FinalizedID returns the block id of the current finalized head.
func (t *Tree) FinalizedID() common.Hash {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.finalizedID
}

// FinalizedVersion returns the version a new block at finalizedNumber+1
// should parent onto in single-finalized-chain mode.
func (t *Tree) FinalizedVersion() triedb.Version {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.byID[t.finalizedID].Version
}

// GetProposalBlockIDs returns every live proposal (finalized or not) at the
// given block number.
func (t *Tree) GetProposalBlockIDs(blockNumber uint64) []common.Hash {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []common.Hash
	for id, p := range t.byID {
		if p.BlockNumber == blockNumber {
			out = append(out, id)
		}
	}
	return out
}

// Get returns the proposal for id, if it is still live.
func (t *Tree) Get(id common.Hash) (*Proposal, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.byID[id]
	return p, ok
}
