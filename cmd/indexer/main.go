package main

import (
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	root := &cobra.Command{
		Use:          "indexer",
		Short:        "Token factory indexer",
		SilenceUsage: true,
	}

	root.PersistentFlags().String("config", "", "config file path")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Scan the factory and discover pools on an interval",
		RunE:  runLoop,
	}
	addChainFlags(runCmd.Flags())
	addScanFlags(runCmd.Flags())
	addPoolFlags(runCmd.Flags())
	addStoreFlags(runCmd.Flags())
	runCmd.Flags().Duration("interval", time.Minute, "time between cycles")
	runCmd.Flags().String("listen", ":9100", "status server address, empty disables it")
	root.AddCommand(runCmd)

	scanCmd := &cobra.Command{
		Use:   "scan",
		Short: "Run a single scan cycle",
		RunE:  runScanOnce,
	}
	addChainFlags(scanCmd.Flags())
	addScanFlags(scanCmd.Flags())
	addStoreFlags(scanCmd.Flags())
	root.AddCommand(scanCmd)

	poolsCmd := &cobra.Command{
		Use:   "pools",
		Short: "Run a single pool discovery cycle",
		RunE:  runPoolsOnce,
	}
	addChainFlags(poolsCmd.Flags())
	addPoolFlags(poolsCmd.Flags())
	addStoreFlags(poolsCmd.Flags())
	root.AddCommand(poolsCmd)

	cursorCmd := &cobra.Command{
		Use:   "cursor",
		Short: "Inspect or move the scan cursor",
	}
	cursorGetCmd := &cobra.Command{
		Use:   "get",
		Short: "Print the last processed block",
		Args:  cobra.NoArgs,
		RunE:  runCursorGet,
	}
	addStoreFlags(cursorGetCmd.Flags())
	cursorSetCmd := &cobra.Command{
		Use:   "set <block>",
		Short: "Overwrite the last processed block",
		Args:  cobra.ExactArgs(1),
		RunE:  runCursorSet,
	}
	addStoreFlags(cursorSetCmd.Flags())
	cursorCmd.AddCommand(cursorGetCmd, cursorSetCmd)
	root.AddCommand(cursorCmd)

	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create the database schema",
		Args:  cobra.NoArgs,
		RunE:  runMigrate,
	}
	addStoreFlags(migrateCmd.Flags())
	root.AddCommand(migrateCmd)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func addChainFlags(fs *pflag.FlagSet) {
	fs.String("rpc", "", "EVM RPC URL")
	fs.Float64("rpc-rps", 10, "RPC requests per second, 0 disables limiting")
	fs.Int("rpc-burst", 5, "RPC burst size")
	fs.Int("max-retries", 3, "maximum retry attempts per RPC query")
	fs.Duration("retry-backoff", 500*time.Millisecond, "initial retry backoff")
}

func addScanFlags(fs *pflag.FlagSet) {
	fs.String("factory", "", "token factory contract address")
	fs.String("relay-address", "", "relay address never accepted as deployer")
	fs.String("deployer-overrides", "", "tx hash to deployer overrides (comma-separated txhash=address)")
	fs.Uint64("chunk-size", 2000, "blocks per log query")
	fs.Uint64("max-blocks-per-scan", 10000, "maximum blocks scanned per cycle")
	fs.Uint64("cold-start-window", 100, "blocks behind head to start from without a cursor")
	fs.Duration("chunk-failure-backoff", 5*time.Second, "pause after a chunk fails")
	fs.Int("batch-size", 50, "tokens per storage batch")
	fs.Duration("batch-initial-delay", time.Second, "initial delay between storage batches")
	fs.Float64("batch-backoff-factor", 2, "delay multiplier after a failed batch")
	fs.Duration("batch-max-delay", 30*time.Second, "maximum delay between storage batches")
	fs.String("decode-errors", "", "JSONL file for logs that failed to decode")
}

func addPoolFlags(fs *pflag.FlagSet) {
	fs.String("pool-factory", "", "V3 pool factory address")
	fs.StringSlice("paired-tokens", nil, "paired tokens (comma-separated address=SYMBOL)")
	fs.StringSlice("fee-tiers", []string{"500", "3000", "10000"}, "fee tiers to probe")
	fs.Int("pool-batch-limit", 50, "tokens probed per pool cycle")
	fs.Duration("pool-token-delay", 500*time.Millisecond, "pause between tokens")
}

func addStoreFlags(fs *pflag.FlagSet) {
	fs.String("store", "postgres", "token store (postgres, sqlite, memory)")
	fs.String("pg-dsn", "", "Postgres DSN")
	fs.String("sqlite-path", "./data/tokens.db", "SQLite database path")
	fs.String("cursor-store", "db", "cursor store (db, file)")
	fs.String("checkpoint", "./data/checkpoint.json", "cursor file path for the file cursor store")
	fs.String("cursor-name", "token-factory", "cursor identity")
	fs.String("log-level", "info", "log level (debug, info, warn, error)")
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevel()
	if err := cfg.Level.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}

	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return cfg.Build()
}
