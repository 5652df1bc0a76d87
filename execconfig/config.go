// Package execconfig loads the runloop binary's configuration: a TOML file
// on disk plus CLI flag overrides layered on top, CLI surface.
package execconfig

import (
	"fmt"
	"os"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

// Chain selects the network the runloop executes against, one of
// ethereum_mainnet or monad_{devnet,testnet,testnet2,mainnet}.
type Chain string

const (
	ChainEthereumMainnet Chain = "ethereum_mainnet"
	ChainMonadDevnet     Chain = "monad_devnet"
	ChainMonadTestnet    Chain = "monad_testnet"
	ChainMonadTestnet2   Chain = "monad_testnet2"
	ChainMonadMainnet    Chain = "monad_mainnet"
)

func (c Chain) Valid() bool {
	switch c {
	case ChainEthereumMainnet, ChainMonadDevnet, ChainMonadTestnet, ChainMonadTestnet2, ChainMonadMainnet:
		return true
	default:
		return false
	}
}

// Config is the fully-resolved configuration consumed by cmd/execd, the
// union of a TOML file's fields and any CLI flag overrides.
type Config struct {
	Chain         Chain    `toml:"chain"`
	BlockDB       string   `toml:"block_db"`
	NBlocks       uint64   `toml:"nblocks"`
	NThreads      int      `toml:"nthreads"`
	NFibers       int      `toml:"nfibers"`
	NoCompaction  bool     `toml:"no_compaction"`
	DBPaths       []string `toml:"db"`
	SnapshotDir   string   `toml:"snapshot"`
	StatesyncSock string   `toml:"statesync"`
	TraceCalls    bool     `toml:"trace_calls"`
	LogLevel      string   `toml:"log_level"`
	SQThreadCPU   int      `toml:"sq_thread_cpu"`
	ROSQThreadCPU int      `toml:"ro_sq_thread_cpu"`
	DumpSnapshot  string   `toml:"dump_snapshot"`
}

// Default returns a Config with the defaults the original implementation
// applies when a field is left unset: single-threaded, in-memory DB,
// info-level logging.
func Default() Config {
	return Config{
		NThreads: 1,
		NFibers:  1,
		LogLevel: "info",
	}
}

// Load reads a TOML file at path into a fresh Config seeded with Default's
// values, so a config file only needs to set the fields it cares about.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("execconfig: read %s: %w", path, err)
	}
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("execconfig: parse %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks that --chain names a known chain, that --block_db is set,
// and that --nthreads is at least 1. It does not check the db paths.
func (c Config) Validate() error {
	if !c.Chain.Valid() {
		return fmt.Errorf("execconfig: invalid or missing chain %q", c.Chain)
	}
	if c.BlockDB == "" {
		return fmt.Errorf("execconfig: block_db is required")
	}
	if c.NThreads < 1 {
		return fmt.Errorf("execconfig: nthreads must be >= 1")
	}
	return nil
}

// DBPathList splits a comma-joined --db flag value into its component
// paths, returning nil if the flag was omitted (an in-memory run).
func DBPathList(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// InMemory reports whether no on-disk device paths were configured, the
// in-memory-if-omitted fallback.
func (c Config) InMemory() bool { return len(c.DBPaths) == 0 }
