package runloop

import (
	"context"
	"fmt"
	"time"
)

// RunMultiProposal implements consensus-driven mode: poll the
// proposed-head and finalized-head pointers of a consensus ledger, execute
// any not-yet-executed proposals, then apply finalizations in order,
// sleeping 100µs when caught up.
func (r *Runner) RunMultiProposal(ctx context.Context) error {
	for !r.stopped() {
		progressed, err := r.pollProposals(ctx)
		if err != nil {
			return err
		}
		fin, err := r.pollFinalization(ctx)
		if err != nil {
			return err
		}
		if !progressed && !fin {
			time.Sleep(100 * time.Microsecond)
		}
	}
	return nil
}

func (r *Runner) pollProposals(ctx context.Context) (bool, error) {
	heads, err := r.cfg.Consensus.ProposedHeads(ctx)
	if err != nil {
		return false, fmt.Errorf("runloop: poll proposed heads: %w", err)
	}

	progressed := false
	for _, block := range heads {
		if _, exists := r.tree.Get(block.Header.BlockID); exists {
			continue
		}
		parent, ok := r.tree.Get(block.Header.ParentID)
		if !ok {
			continue // parent not yet seen; will retry next poll
		}

		if err := r.validateBlock(block); err != nil {
			return progressed, fmt.Errorf("runloop: validate proposal %x: %w", block.Header.BlockID, err)
		}
		if err := r.recoverSenders(ctx, block); err != nil {
			return progressed, fmt.Errorf("runloop: proposal %x: %w", block.Header.BlockID, err)
		}

		r.db.SetBlockAndPrefix(parent.Version)
		version, err := r.executeAndCommit(ctx, parent.Version, block)
		if err != nil {
			return progressed, err
		}
		if _, err := r.tree.Commit(block.Header.Number, block.Header.BlockID, block.Header.ParentID, version); err != nil {
			return progressed, fmt.Errorf("runloop: register proposal %x: %w", block.Header.BlockID, err)
		}
		r.log.Info("proposal executed", "number", block.Header.Number, "block_id", block.Header.BlockID)
		progressed = true
	}
	return progressed, nil
}

func (r *Runner) pollFinalization(ctx context.Context) (bool, error) {
	number, id, err := r.cfg.Consensus.FinalizedHead(ctx)
	if err != nil {
		return false, fmt.Errorf("runloop: poll finalized head: %w", err)
	}
	if id == r.tree.FinalizedID() {
		return false, nil
	}
	if err := r.tree.Finalize(number, id); err != nil {
		return false, fmt.Errorf("runloop: finalize %x: %w", id, err)
	}
	r.log.Info("block finalized", "number", number, "block_id", id)
	return true, nil
}
