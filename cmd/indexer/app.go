package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"tokenScope/internal/chain"
	"tokenScope/internal/config"
	"tokenScope/internal/factory"
	"tokenScope/internal/indexer"
	"tokenScope/internal/pools"
	"tokenScope/internal/server"
	"tokenScope/internal/storage"
	"tokenScope/internal/storage/memory"
	"tokenScope/internal/storage/postgres"
	"tokenScope/internal/storage/sqlite"
)

// stores bundles the configured token and cursor backends.
type stores struct {
	tokens  storage.TokenStore
	cursor  storage.ResettableCursorStore
	ping    func(context.Context) error
	migrate func(context.Context) error
	close   func()
}

func openStores(ctx context.Context, cfg config.Config) (*stores, error) {
	s := &stores{
		ping:    func(context.Context) error { return nil },
		migrate: func(context.Context) error { return nil },
		close:   func() {},
	}

	switch cfg.Store {
	case config.StorePostgres:
		pg, err := postgres.NewStore(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		s.tokens = pg
		s.cursor = pg.CursorStore(cfg.CursorName)
		s.ping = pg.Ping
		s.migrate = pg.Migrate
		s.close = pg.Close
	case config.StoreSQLite:
		db, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		s.tokens = db
		s.cursor = db.CursorStore(cfg.CursorName)
		s.ping = db.Ping
		s.migrate = db.Migrate
		s.close = func() { _ = db.Close() }
	case config.StoreMemory:
		s.tokens = memory.NewTokenStore()
		s.cursor = memory.NewCursorStore()
	default:
		return nil, fmt.Errorf("unsupported store %q", cfg.Store)
	}

	if cfg.CursorStore == config.CursorFile {
		s.cursor = indexer.NewCheckpointStore(cfg.Checkpoint)
	}
	return s, nil
}

// app is the wired runtime shared by the commands.
type app struct {
	cfg       config.Config
	logger    *zap.Logger
	chain     *chain.Client
	stores    *stores
	scanner   *indexer.Scanner
	discovery *pools.Discovery
	decodeLog *storage.DecodeErrorLog
}

type appOptions struct {
	chain bool
	scan  bool
	pools bool
	// optionalPools wires discovery only when it is configured.
	optionalPools bool
}

func newApp(ctx context.Context, cmd *cobra.Command, opts appOptions) (*app, error) {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return nil, err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, logger: logger}
	wantPools := opts.pools || (opts.optionalPools && cfg.PoolsEnabled())

	if opts.scan {
		if err := cfg.RequireScan(); err != nil {
			return nil, err
		}
	}
	if opts.pools {
		if err := cfg.RequirePools(); err != nil {
			return nil, err
		}
	}

	a.stores, err = openStores(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := a.stores.ping(ctx); err != nil {
		a.close()
		return nil, fmt.Errorf("store unreachable: %w", err)
	}
	if err := a.stores.migrate(ctx); err != nil {
		a.close()
		return nil, err
	}

	if !opts.chain {
		return a, nil
	}
	if err := cfg.RequireChain(); err != nil {
		a.close()
		return nil, err
	}
	a.chain, err = chain.NewClient(ctx, cfg.RPCURL, chain.Options{RPS: cfg.RPCRPS, Burst: cfg.RPCBurst})
	if err != nil {
		a.close()
		return nil, fmt.Errorf("connect rpc: %w", err)
	}
	head, err := a.chain.LatestBlockNumber(ctx)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("read chain head: %w", err)
	}
	logger.Info("rpc connected", zap.Uint64("head", head))

	if opts.scan {
		if err := a.buildScanner(); err != nil {
			a.close()
			return nil, err
		}
	}
	if wantPools {
		a.discovery, err = pools.NewDiscovery(pools.Config{
			Factory:         cfg.PoolFactory,
			PairedTokens:    pairedTokens(cfg.PairedTokens),
			FeeTiers:        cfg.FeeTiers,
			InterTokenDelay: cfg.PoolTokenDelay,
		}, a.chain, a.stores.tokens, logger.Named("pools"))
		if err != nil {
			a.close()
			return nil, err
		}
	}
	return a, nil
}

func (a *app) buildScanner() error {
	cfg := a.cfg

	decoder, err := factory.NewDecoder()
	if err != nil {
		return err
	}

	excluded := []common.Address{}
	if cfg.RelayAddress != (common.Address{}) {
		excluded = append(excluded, cfg.RelayAddress)
	}
	resolver, err := factory.NewResolver(factory.ResolverConfig{
		Overrides: cfg.DeployerOverrides,
		Excluded:  excluded,
	}, a.chain, nil, a.logger.Named("resolver"))
	if err != nil {
		return err
	}

	batcher := indexer.NewBatcher(indexer.BatcherConfig{
		MaxBatchSize:  cfg.BatchSize,
		InitialDelay:  cfg.BatchInitialDelay,
		BackoffFactor: cfg.BatchBackoffFactor,
		MaxDelay:      cfg.BatchMaxDelay,
	}, a.stores.tokens, a.logger.Named("batcher"))

	var sink storage.DecodeErrorSink
	if cfg.DecodeErrors != "" {
		decodeLog, err := storage.OpenDecodeErrorLog(cfg.DecodeErrors)
		if err != nil {
			return err
		}
		a.decodeLog = decodeLog
		sink = decodeLog
	}

	a.scanner, err = indexer.NewScanner(indexer.ScanConfig{
		Factory:             cfg.Factory,
		ChunkSize:           cfg.ChunkSize,
		MaxBlocksPerScan:    cfg.MaxBlocksPerScan,
		ColdStartWindow:     cfg.ColdStartWindow,
		ChunkFailureBackoff: cfg.ChunkFailureBackoff,
		MaxRetries:          cfg.MaxRetries,
		RetryBackoff:        cfg.RetryBackoff,
	}, a.chain, a.stores.cursor, decoder, resolver, batcher, sink, a.logger.Named("scanner"))
	return err
}

func (a *app) close() {
	if a.decodeLog != nil {
		if err := a.decodeLog.Close(); err != nil {
			a.logger.Warn("close decode error log", zap.Error(err))
		}
	}
	if a.chain != nil {
		a.chain.Close()
	}
	if a.stores != nil {
		a.stores.close()
	}
	_ = a.logger.Sync()
}

func pairedTokens(in []config.PairedToken) []pools.PairedToken {
	out := make([]pools.PairedToken, 0, len(in))
	for _, p := range in {
		out = append(out, pools.PairedToken{Address: p.Address, Symbol: p.Symbol})
	}
	return out
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func runLoop(cmd *cobra.Command, _ []string) error {
	ctx, stop := signalContext()
	defer stop()

	a, err := newApp(ctx, cmd, appOptions{chain: true, scan: true, optionalPools: true})
	if err != nil {
		return err
	}
	defer a.close()

	tasks := []indexer.Task{{
		Name: "scan",
		Run: func(ctx context.Context) error {
			_, err := a.scanner.RunCycle(ctx)
			return err
		},
	}}
	if a.discovery != nil {
		tasks = append(tasks, indexer.Task{
			Name: "pools",
			Run: func(ctx context.Context) error {
				_, err := a.discovery.RunCycle(ctx, a.cfg.PoolBatchLimit)
				return err
			},
		})
	} else {
		a.logger.Info("pool discovery disabled, pool-factory or paired-tokens not set")
	}

	a.logger.Info("indexer start",
		zap.String("factory", a.cfg.Factory.Hex()),
		zap.String("store", a.cfg.Store),
		zap.String("cursor_store", a.cfg.CursorStore),
		zap.Duration("interval", a.cfg.Interval),
		zap.Uint64("chunk_size", a.cfg.ChunkSize),
		zap.Uint64("max_blocks_per_scan", a.cfg.MaxBlocksPerScan),
	)

	loop := indexer.NewLoop(a.cfg.Interval, a.logger.Named("loop"), tasks...)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return loop.Run(gctx)
	})
	if a.cfg.Listen != "" {
		srv := server.New(a.cfg.Listen, a.stores.cursor, a.stores.tokens, a.scanner, a.logger.Named("http"))
		g.Go(func() error {
			return srv.Run(gctx)
		})
	}
	return g.Wait()
}

func runScanOnce(cmd *cobra.Command, _ []string) error {
	ctx, stop := signalContext()
	defer stop()

	a, err := newApp(ctx, cmd, appOptions{chain: true, scan: true})
	if err != nil {
		return err
	}
	defer a.close()

	result, err := a.scanner.RunCycle(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "scanned %d-%d: %d logs, %d tokens (%d inserted, %d updated, %d failed)\n",
		result.From, result.To, result.Logs, result.Tokens,
		result.Persist.Inserted, result.Persist.Updated, result.Persist.Failed)
	return nil
}

func runPoolsOnce(cmd *cobra.Command, _ []string) error {
	ctx, stop := signalContext()
	defer stop()

	a, err := newApp(ctx, cmd, appOptions{chain: true, pools: true})
	if err != nil {
		return err
	}
	defer a.close()

	result, err := a.discovery.RunCycle(ctx, a.cfg.PoolBatchLimit)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "checked %d of %d tokens: %d with pools, %d deferred, %d failed\n",
		result.Checked, result.Candidates, result.WithPools, result.Deferred, result.Failed)
	return nil
}

func runCursorGet(cmd *cobra.Command, _ []string) error {
	ctx, stop := signalContext()
	defer stop()

	a, err := newApp(ctx, cmd, appOptions{})
	if err != nil {
		return err
	}
	defer a.close()

	block, ok, err := a.stores.cursor.Load(ctx)
	if err != nil {
		return fmt.Errorf("load cursor: %w", err)
	}
	if !ok {
		return errors.New("cursor not set")
	}
	fmt.Fprintln(cmd.OutOrStdout(), block)
	return nil
}

func runCursorSet(cmd *cobra.Command, args []string) error {
	block, err := strconv.ParseUint(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid block %q: %w", args[0], err)
	}

	ctx, stop := signalContext()
	defer stop()

	a, err := newApp(ctx, cmd, appOptions{})
	if err != nil {
		return err
	}
	defer a.close()

	if err := a.stores.cursor.Reset(ctx, block); err != nil {
		return fmt.Errorf("set cursor: %w", err)
	}
	a.logger.Info("cursor set", zap.String("cursor", a.cfg.CursorName), zap.Uint64("block", block))
	return nil
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	ctx, stop := signalContext()
	defer stop()

	a, err := newApp(ctx, cmd, appOptions{})
	if err != nil {
		return err
	}
	defer a.close()

	a.logger.Info("schema ready", zap.String("store", a.cfg.Store))
	return nil
}
