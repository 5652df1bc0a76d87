// Package runloop implements the Block Runloop: the driver
// that fetches, validates, executes, commits and finalizes blocks, in
// either single-finalized-chain or multi-proposal mode.
package runloop

import (
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"

	"github.com/chainforge/execd/chainiface"
	"github.com/chainforge/execd/proposal"
	"github.com/chainforge/execd/triedb"
	"github.com/chainforge/execd/xlog"
)

// Config collects the externalized collaborators the runloop drives,
// each one deliberately left as an interface so a concrete EVM or
// consensus client can be wired in without touching this package.
type Config struct {
	Chain       chainiface.Chain
	Consensus   chainiface.ConsensusSource
	Engine      chainiface.ExecutionEngine
	Senders     chainiface.SenderRecoverer
	ChainConfig *chainiface.ChainConfig

	// Workers bounds the size of the EVM-execution and sender-recovery
	// worker pools.
	Workers int
}

func (c Config) workerCount() int {
	if c.Workers <= 0 {
		return 1
	}
	return c.Workers
}

// Runner drives the block runloop against one TrieDb/proposal.Tree pair.
type Runner struct {
	cfg  Config
	db   *triedb.TrieDb
	tree *proposal.Tree
	log  xlog.Logger

	stop int32
}

// New wires a Runner. db and tree must already be positioned at the same
// starting version (typically genesis, or a recovered chain tip).
func New(cfg Config, db *triedb.TrieDb, tree *proposal.Tree) *Runner {
	return &Runner{cfg: cfg, db: db, tree: tree, log: xlog.New("component", "runloop")}
}

// Stop sets the shared stop flag; the runloop exits cleanly after finishing
// whatever block it is currently on.
func (r *Runner) Stop() { atomic.StoreInt32(&r.stop, 1) }

func (r *Runner) stopped() bool { return atomic.LoadInt32(&r.stop) == 1 }

// ListenForSignals installs a SIGINT handler that calls Stop, returning a
// function the caller should defer to release the signal channel.
func (r *Runner) ListenForSignals() func() {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT)
	done := make(chan struct{})
	go func() {
		select {
		case <-ch:
			r.log.Info("received SIGINT, stopping after current block")
			r.Stop()
		case <-done:
		}
	}()
	return func() {
		close(done)
		signal.Stop(ch)
	}
}
