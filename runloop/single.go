package runloop

import (
	"context"
	"fmt"
)

// RunSingleFinalizedChain implements single-finalized-chain
// mode: read block from block-archive, validate, recover senders, execute,
// commit under the header's BlockID, finalize immediately, advance. The block
// id is taken from the header as given; it is not derived from the block
// number. It returns nil once it has caught up to the chain's current head.
func (r *Runner) RunSingleFinalizedChain(ctx context.Context) error {
	for !r.stopped() {
		next := r.tree.FinalizedVersion().Number + 1

		head, err := r.cfg.Chain.HeadNumber(ctx)
		if err != nil {
			return fmt.Errorf("runloop: read chain head: %w", err)
		}
		if next > head {
			return nil
		}

		block, err := r.cfg.Chain.BlockByNumber(ctx, next)
		if err != nil {
			return fmt.Errorf("runloop: fetch block %d: %w", next, err)
		}
		if err := r.validateBlock(block); err != nil {
			return fmt.Errorf("runloop: validate block %d: %w", next, err)
		}
		if err := r.recoverSenders(ctx, block); err != nil {
			return fmt.Errorf("runloop: block %d: %w", next, err)
		}

		parent := r.tree.FinalizedVersion()
		r.db.SetBlockAndPrefix(parent)

		version, err := r.executeAndCommit(ctx, parent, block)
		if err != nil {
			return err
		}
		if _, err := r.tree.Commit(block.Header.Number, block.Header.BlockID, block.Header.ParentID, version); err != nil {
			return fmt.Errorf("runloop: register block %d: %w", next, err)
		}
		if err := r.tree.Finalize(block.Header.Number, block.Header.BlockID); err != nil {
			return fmt.Errorf("runloop: finalize block %d: %w", next, err)
		}
		r.log.Info("block finalized", "number", next, "block_id", block.Header.BlockID)
	}
	return nil
}
