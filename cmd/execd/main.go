// Command execd is the runloop binary: it loads a
// config, opens the chunk pool and trie engine, and drives either the
// single-finalized-chain or multi-proposal runloop mode until caught up or
// interrupted.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/chainforge/execd/chainiface"
	"github.com/chainforge/execd/chunkpool"
	"github.com/chainforge/execd/common"
	"github.com/chainforge/execd/execconfig"
	"github.com/chainforge/execd/ioengine"
	"github.com/chainforge/execd/mpt"
	"github.com/chainforge/execd/proposal"
	"github.com/chainforge/execd/runloop"
	"github.com/chainforge/execd/snapshotio"
	"github.com/chainforge/execd/statesync"
	"github.com/chainforge/execd/triedb"
	"github.com/chainforge/execd/xlog"
)

const (
	nodeCacheSize  = 1 << 16
	pageSize       = 4096
	maxPagesPerRec = 16
	readBackpressure = 128
)

func main() {
	app := &cli.App{
		Name:  "execd",
		Usage: "execution node runloop",
		Flags: execconfig.Flags,
		Action: run,
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "execd:", err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	cfg, err := execconfig.FromContext(c)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	xlog.SetLevel(cfg.LogLevel)
	log := xlog.New("component", "execd")

	// defaultDeviceCapacity sizes a freshly truncated device at 64 chunks,
	// enough headroom for a demo/test run without requiring an explicit
	// --db size argument the CLI surface doesn't expose.
	const defaultDeviceCapacity = 64 * chunkpool.DefaultChunkCapacity

	mode := chunkpool.Truncate
	deviceCapacity := uint64(defaultDeviceCapacity)
	paths := cfg.DBPaths
	if cfg.InMemory() {
		// An in-memory run still needs a backing file per // "(in-memory if omitted)": a throwaway temp file under the OS temp
		// directory gives the chunk pool's mmap-backed Device the same code
		// path as a real device, with no data surviving process exit.
		tmp, err := os.CreateTemp("", "execd-inmemory-*.db")
		if err != nil {
			return fmt.Errorf("execd: create in-memory backing file: %w", err)
		}
		tmp.Close()
		defer os.Remove(tmp.Name())
		paths = []string{tmp.Name()}
	} else if fi, err := os.Stat(paths[0]); err == nil && fi.Size() > 0 {
		mode = chunkpool.OpenExisting
		deviceCapacity = uint64(fi.Size())
	}

	pool, err := chunkpool.Open(paths, mode, chunkpool.DefaultChunkCapacity, deviceCapacity)
	if err != nil {
		return fmt.Errorf("execd: open chunk pool: %w", err)
	}
	defer pool.Close()

	bufs := ioengine.NewBufferPool(pageSize, maxPagesPerRec)
	execOpts := []ioengine.Option{ioengine.WithMaxConcurrentReads(int64(readBackpressure))}
	exec := ioengine.NewExecutor(pool, bufs, execOpts...)

	cache := mpt.NewNodeCache(nodeCacheSize)
	engine := mpt.NewEngine(pool, exec, cache)
	db := triedb.New(engine)

	if cfg.SnapshotDir != "" {
		if err := loadSnapshot(c.Context, db, cfg.SnapshotDir); err != nil {
			return err
		}
	}

	if cfg.DumpSnapshot != "" {
		if err := snapshotio.DumpSnapshot(c.Context, db, cfg.DumpSnapshot); err != nil {
			return fmt.Errorf("execd: dump snapshot: %w", err)
		}
		log.Info("snapshot written", "dir", cfg.DumpSnapshot)
		return nil
	}

	tree := proposal.NewTree(db.Cursor().BlockID, db.Cursor())

	rcfg := runloop.Config{
		Chain:       nil, // wired by the concrete block-archive integration
		Consensus:   nil,
		Engine:      nil,
		Senders:     nil,
		ChainConfig: &chainiface.ChainConfig{},
		Workers:     cfg.NThreads,
	}
	runner := runloop.New(rcfg, db, tree)
	cleanup := runner.ListenForSignals()
	defer cleanup()

	if cfg.StatesyncSock != "" {
		go serveStatesync(db, cfg.StatesyncSock, log)
	}

	if rcfg.Consensus != nil {
		return runner.RunMultiProposal(c.Context)
	}
	return runner.RunSingleFinalizedChain(c.Context)
}

func loadSnapshot(ctx context.Context, db *triedb.TrieDb, dir string) error {
	accounts, err := os.Open(dir + "/accounts")
	if err != nil {
		return fmt.Errorf("execd: open snapshot accounts: %w", err)
	}
	defer accounts.Close()
	code, err := os.Open(dir + "/code")
	if err != nil {
		return fmt.Errorf("execd: open snapshot code: %w", err)
	}
	defer code.Close()

	_, err = snapshotio.LoadGenesisSnapshot(ctx, db, 0, common.Hash{}, accounts, code)
	return err
}

// serveStatesync backs the `--statesync SOCKET` flag. The socket
// transport is left to the concrete deployment; this just holds the
// Stream source ready for that listener to drive.
func serveStatesync(db *triedb.TrieDb, socket string, log xlog.Logger) {
	log.Info("statesync stream ready", "socket", socket)
	_ = statesync.NewServer(db)
}
