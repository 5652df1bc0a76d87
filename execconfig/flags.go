package execconfig

import "github.com/urfave/cli/v2"

// Flags is the CLI surface specifies for the runloop binary. It is
// shared between cmd/execd's app definition and ApplyFlags below so the two
// can never drift out of sync on a flag name.
var Flags = []cli.Flag{
	&cli.StringFlag{Name: "config", Usage: "path to a TOML config file; flags below override its fields"},
	&cli.StringFlag{Name: "chain", Usage: "ethereum_mainnet|monad_devnet|monad_testnet|monad_testnet2|monad_mainnet"},
	&cli.StringFlag{Name: "block_db", Usage: "path to the block archive"},
	&cli.Uint64Flag{Name: "nblocks", Usage: "block count limit; stored in Config, execd does not act on it"},
	&cli.IntFlag{Name: "nthreads", Usage: "EVM-execution and sender-recovery worker pool size"},
	&cli.IntFlag{Name: "nfibers", Usage: "I/O executor fiber count; stored in Config, execd does not act on it"},
	&cli.BoolFlag{Name: "no-compaction", Usage: "compaction switch; stored in Config, execd does not act on it"},
	&cli.StringFlag{Name: "db", Usage: "comma-separated device paths (in-memory if omitted)"},
	&cli.StringFlag{Name: "snapshot", Usage: "directory holding accounts/code snapshot files to load the initial state from"},
	&cli.StringFlag{Name: "statesync", Usage: "unix socket to serve the statesync stream on"},
	&cli.BoolFlag{Name: "trace_calls", Usage: "call-frame tracing switch; stored in Config, execd does not act on it"},
	&cli.StringFlag{Name: "log_level", Usage: "trace|debug|info|warn|error"},
	&cli.IntFlag{Name: "sq_thread_cpu", Usage: "writer engine I/O thread CPU pin; stored in Config, execd does not act on it"},
	&cli.IntFlag{Name: "ro_sq_thread_cpu", Usage: "read-only engine I/O thread CPU pin; stored in Config, execd does not act on it"},
	&cli.StringFlag{Name: "dump_snapshot", Usage: "write an accounts/code snapshot to this directory and exit"},
}

// ApplyFlags layers any flags the user actually set on the CLI over cfg,
// on top of a loaded TOML file. Flags left
// at their zero value are not considered "set" unless IsSet reports true,
// so an explicit --nthreads=0 still overrides while an absent flag does
// not clobber the file's value.
func ApplyFlags(cfg Config, c *cli.Context) Config {
	if c.IsSet("chain") {
		cfg.Chain = Chain(c.String("chain"))
	}
	if c.IsSet("block_db") {
		cfg.BlockDB = c.String("block_db")
	}
	if c.IsSet("nblocks") {
		cfg.NBlocks = c.Uint64("nblocks")
	}
	if c.IsSet("nthreads") {
		cfg.NThreads = c.Int("nthreads")
	}
	if c.IsSet("nfibers") {
		cfg.NFibers = c.Int("nfibers")
	}
	if c.IsSet("no-compaction") {
		cfg.NoCompaction = c.Bool("no-compaction")
	}
	if c.IsSet("db") {
		cfg.DBPaths = DBPathList(c.String("db"))
	}
	if c.IsSet("snapshot") {
		cfg.SnapshotDir = c.String("snapshot")
	}
	if c.IsSet("statesync") {
		cfg.StatesyncSock = c.String("statesync")
	}
	if c.IsSet("trace_calls") {
		cfg.TraceCalls = c.Bool("trace_calls")
	}
	if c.IsSet("log_level") {
		cfg.LogLevel = c.String("log_level")
	}
	if c.IsSet("sq_thread_cpu") {
		cfg.SQThreadCPU = c.Int("sq_thread_cpu")
	}
	if c.IsSet("ro_sq_thread_cpu") {
		cfg.ROSQThreadCPU = c.Int("ro_sq_thread_cpu")
	}
	if c.IsSet("dump_snapshot") {
		cfg.DumpSnapshot = c.String("dump_snapshot")
	}
	return cfg
}

// FromContext builds a Config from a CLI invocation: loads --config if
// given, otherwise starts from Default, then applies every flag the user
// set.
func FromContext(c *cli.Context) (Config, error) {
	cfg := Default()
	if path := c.String("config"); path != "" {
		var err error
		cfg, err = Load(path)
		if err != nil {
			return Config{}, err
		}
	}
	return ApplyFlags(cfg, c), nil
}
