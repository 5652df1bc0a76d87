package runloop

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/chainforge/execd/blockstate"
	"github.com/chainforge/execd/chainiface"
	"github.com/chainforge/execd/common"
	"github.com/chainforge/execd/triedb"
)

// validateBlock performs the static checks calls out as aborting
// the runloop on failure; a real integration would check far more (gas
// limit adjustment bounds, header hash chaining, difficulty/basefee
// formulas), all of which belong to chainiface's concrete implementation,
// not this module.
func (r *Runner) validateBlock(block *chainiface.Block) error {
	if block.Header.GasUsed > block.Header.GasLimit {
		return fmt.Errorf("runloop: block %d gas used %d exceeds limit %d", block.Header.Number, block.Header.GasUsed, block.Header.GasLimit)
	}
	if block.Header.Number == 0 {
		return fmt.Errorf("runloop: refusing to re-execute genesis")
	}
	return nil
}

// recoverSenders fans sender recovery out across a bounded worker pool; a
// missing recovery for any transaction aborts the block.
func (r *Runner) recoverSenders(ctx context.Context, block *chainiface.Block) error {
	if block.Senders != nil {
		return nil
	}
	if r.cfg.Senders == nil {
		return fmt.Errorf("runloop: no sender recoverer configured")
	}

	senders := make([]common.Address, len(block.Transactions))
	g, gctx := errgroup.WithContext(ctx)
	sem := semaphore.NewWeighted(int64(r.cfg.workerCount()))
	for i, tx := range block.Transactions {
		i, tx := i, tx
		g.Go(func() error {
			if err := sem.Acquire(gctx, 1); err != nil {
				return err
			}
			defer sem.Release(1)
			addr, err := r.cfg.Senders.RecoverSender(gctx, tx)
			if err != nil {
				return fmt.Errorf("recover sender for tx %d: %w", i, err)
			}
			senders[i] = addr
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	block.Senders = senders
	return nil
}

// txAttempt is one speculative execution's output, paired against the
// BlockState it read from so a later conflict check knows what pre-images
// to compare.
type txAttempt struct {
	state   *blockstate.State
	receipt []byte
	frame   []byte
}

// executeAndCommit runs every transaction in block with optimistic
// concurrency: all transactions execute speculatively in
// parallel against the block's starting BlockState, then are merged one at
// a time in order, re-executing serially against the updated BlockState
// whenever CanMerge finds a conflict.
func (r *Runner) executeAndCommit(ctx context.Context, parent triedb.Version, block *chainiface.Block) (triedb.Version, error) {
	bs := blockstate.NewBlockState(r.db.WithCursor(parent))
	revision := chainiface.RevisionForBlock(r.cfg.ChainConfig, block.Header.Time)

	n := len(block.Transactions)
	attempts := make([]txAttempt, n)

	g, gctx := errgroup.WithContext(ctx)
	sem := semaphore.NewWeighted(int64(r.cfg.workerCount()))
	for i := range block.Transactions {
		i := i
		g.Go(func() error {
			if err := sem.Acquire(gctx, 1); err != nil {
				return err
			}
			defer sem.Release(1)
			a, err := r.runTransaction(gctx, bs, block, i, revision)
			if err != nil {
				return err
			}
			attempts[i] = a
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return triedb.Version{}, fmt.Errorf("runloop: execute block %d: %w", block.Header.Number, err)
	}

	receipts := make([][]byte, n)
	callFrames := make([][]byte, n)
	txHashes := make([]common.Hash, n)
	for i, tx := range block.Transactions {
		txHashes[i] = common.Keccak256(tx)

		a := attempts[i]
		for {
			ok, err := bs.CanMerge(ctx, a.state)
			if err != nil {
				return triedb.Version{}, err
			}
			if ok {
				break
			}
			a, err = r.runTransaction(ctx, bs, block, i, revision)
			if err != nil {
				return triedb.Version{}, fmt.Errorf("runloop: re-execute tx %d: %w", i, err)
			}
		}
		bs.Merge(a.state)
		receipts[i] = a.receipt
		callFrames[i] = a.frame
	}

	input := triedb.CommitInput{
		BlockNumber:  block.Header.Number,
		BlockID:      block.Header.BlockID,
		Deltas:       bs.Commit(),
		Receipts:     receipts,
		Transactions: block.Transactions,
		TxHashes:     txHashes,
		CallFrames:   callFrames,
	}
	return r.db.Commit(ctx, input)
}

func (r *Runner) runTransaction(ctx context.Context, bs *blockstate.BlockState, block *chainiface.Block, i int, revision blockstate.Revision) (txAttempt, error) {
	state := bs.NewState(blockstate.Incarnation{Block: block.Header.Number, TxIndex: uint32(i)}, revision)
	receipt, frame, err := r.cfg.Engine.ExecuteTransaction(ctx, block.Header, block.Transactions[i], block.Senders[i], state)
	if err != nil {
		return txAttempt{}, fmt.Errorf("execute tx %d: %w", i, err)
	}
	state.DestructTouchedDead()
	return txAttempt{state: state, receipt: receipt, frame: frame}, nil
}
