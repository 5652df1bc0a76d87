// Package chainiface defines the collaborator boundary that sits
// outside MPT-DB/block-state's scope: the EVM executor, the block-archive
// chain reader, and the consensus-facing proposal/finalization source.
// Nothing in this module implements these interfaces; they exist so
// runloop can be written and tested against fakes without depending on a
// concrete EVM or consensus client.
package chainiface

import (
	"context"

	"github.com/chainforge/execd/blockstate"
	"github.com/chainforge/execd/common"
)

// BlockHeader is the minimal header shape runloop and the committer need;
// a real integration's header type would carry many more consensus fields,
// all opaque to this module.
type BlockHeader struct {
	Number      uint64
	BlockID     common.Hash
	ParentID    common.Hash
	Time        uint64
	GasLimit    uint64
	GasUsed     uint64
	Ommers      [][]byte
	Withdrawals [][]byte
}

// Block is one archive/consensus block: a header plus its transaction list
// and the senders recovered for them (nil until recovery has run).
type Block struct {
	Header       BlockHeader
	Transactions [][]byte
	Senders      []common.Address
}

// Chain is the minimal block-archive reader the single-finalized-chain
// runloop mode iterates over.
type Chain interface {
	BlockByNumber(ctx context.Context, number uint64) (*Block, error)
	HeadNumber(ctx context.Context) (uint64, error)
}

// ConsensusSource supplies the proposed-head and finalized-head pointers
// the multi-proposal runloop mode polls.
type ConsensusSource interface {
	ProposedHeads(ctx context.Context) ([]*Block, error)
	FinalizedHead(ctx context.Context) (blockNumber uint64, blockID common.Hash, err error)
}

// ExecutionEngine runs one transaction against a per-transaction State and
// reports its receipt and call frame; it is the externalized EVM
// collaborator.
type ExecutionEngine interface {
	ExecuteTransaction(ctx context.Context, header BlockHeader, tx []byte, sender common.Address, state *blockstate.State) (receipt []byte, callFrame []byte, err error)
}

// SenderRecoverer recovers a transaction's sender address; runloop fans
// this out across a worker pool rather than calling it inline per
// transaction.
type SenderRecoverer interface {
	RecoverSender(ctx context.Context, tx []byte) (common.Address, error)
}

// ChainConfig carries the fork-activation timestamps the Revision jump
// table keys off.
type ChainConfig struct {
	ShanghaiTime uint64
	CancunTime   uint64
}

// RevisionForBlock maps a block timestamp onto the blockstate.Revision that
// governs its selfdestruct and storage-status semantics.
func RevisionForBlock(cfg *ChainConfig, blockTime uint64) blockstate.Revision {
	switch {
	case blockTime >= cfg.CancunTime:
		return blockstate.RevisionCancun
	case blockTime >= cfg.ShanghaiTime:
		return blockstate.RevisionShanghai
	default:
		return blockstate.RevisionFrontier
	}
}
