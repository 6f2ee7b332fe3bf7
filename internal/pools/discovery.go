package pools

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"tokenScope/internal/metrics"
	"tokenScope/internal/model"
	"tokenScope/internal/storage"
)

// PairedToken is a quote asset probed against every new token.
type PairedToken struct {
	Address common.Address
	// Symbol is read from chain when empty.
	Symbol string
}

// Config controls the probe grid and pacing.
type Config struct {
	Factory         common.Address
	PairedTokens    []PairedToken
	FeeTiers        []uint32
	InterTokenDelay time.Duration
}

// ProbeResult is the outcome of probing one token. Failures counts getPool
// calls that errored; ReadFailures counts pools whose state could not be read.
type ProbeResult struct {
	Pools        []model.Pool
	Lookups      int
	Failures     int
	ReadFailures int
}

// Complete reports whether every lookup and pool read got an answer. Only a
// complete probe may mark a token, so an RPC outage never records a false
// "no pool".
func (r ProbeResult) Complete() bool {
	return r.Failures == 0 && r.ReadFailures == 0
}

// CycleResult summarises one discovery run.
type CycleResult struct {
	Candidates int `json:"candidates"`
	Checked    int `json:"checked"`
	WithPools  int `json:"with_pools"`
	Deferred   int `json:"deferred"`
	Failed     int `json:"failed"`
}

// Discovery finds liquidity pools for stored tokens, one token at a time.
type Discovery struct {
	cfg    Config
	caller ContractCaller
	store  storage.TokenStore
	logger *zap.Logger
	sleep  func(context.Context, time.Duration) error

	mu      sync.Mutex
	symbols map[common.Address]string
}

func NewDiscovery(cfg Config, caller ContractCaller, store storage.TokenStore, logger *zap.Logger) (*Discovery, error) {
	if caller == nil {
		return nil, fmt.Errorf("contract caller is nil")
	}
	if store == nil {
		return nil, fmt.Errorf("token store is nil")
	}
	if cfg.Factory == (common.Address{}) {
		return nil, fmt.Errorf("pool factory address is required")
	}
	if _, err := V3FactoryABI(); err != nil {
		return nil, fmt.Errorf("parse factory abi: %w", err)
	}
	if _, err := V3PoolABI(); err != nil {
		return nil, fmt.Errorf("parse pool abi: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	symbols := make(map[common.Address]string, len(cfg.PairedTokens))
	for _, paired := range cfg.PairedTokens {
		if paired.Symbol != "" {
			symbols[paired.Address] = paired.Symbol
		}
	}
	return &Discovery{
		cfg:     cfg,
		caller:  caller,
		store:   store,
		logger:  logger,
		sleep:   sleepCtx,
		symbols: symbols,
	}, nil
}

// RunCycle probes up to limit unprocessed tokens and records the outcome.
// Tokens with an incomplete probe are left unmarked for the next cycle.
func (d *Discovery) RunCycle(ctx context.Context, limit int) (CycleResult, error) {
	var result CycleResult

	tokens, err := d.store.FindUnprocessedForPools(ctx, limit)
	if err != nil {
		return result, fmt.Errorf("find unprocessed tokens: %w", err)
	}
	result.Candidates = len(tokens)

	for i, token := range tokens {
		if i > 0 {
			if err := d.sleep(ctx, d.cfg.InterTokenDelay); err != nil {
				return result, err
			}
		}
		if err := ctx.Err(); err != nil {
			return result, err
		}

		address := common.HexToAddress(token.ContractAddress)
		probe, err := d.Probe(ctx, address)
		if err != nil {
			return result, err
		}
		if !probe.Complete() {
			result.Deferred++
			d.logger.Warn("pool probe incomplete, token deferred",
				zap.String("token", token.ContractAddress),
				zap.Int("lookups", probe.Lookups),
				zap.Int("lookup_failures", probe.Failures),
				zap.Int("read_failures", probe.ReadFailures),
				zap.Int("pools_found", len(probe.Pools)),
			)
			continue
		}

		if err := d.store.SavePoolResult(ctx, token.ContractAddress, probe.Pools); err != nil {
			result.Failed++
			d.logger.Warn("save pool result failed", zap.String("token", token.ContractAddress), zap.Error(err))
			continue
		}

		hasPool := len(probe.Pools) > 0
		metrics.TokensPoolChecked.WithLabelValues(fmt.Sprintf("%t", hasPool)).Inc()
		result.Checked++
		if hasPool {
			result.WithPools++
		}
		d.logger.Debug("token pool-checked",
			zap.String("token", token.ContractAddress),
			zap.Int("pools", len(probe.Pools)),
		)
	}

	if result.Candidates > 0 {
		d.logger.Info("pool discovery complete",
			zap.Int("candidates", result.Candidates),
			zap.Int("checked", result.Checked),
			zap.Int("with_pools", result.WithPools),
			zap.Int("deferred", result.Deferred),
			zap.Int("failed", result.Failed),
		)
	}
	return result, nil
}

// Probe checks every paired token and fee tier for a pool holding token.
// Only ctx cancellation is returned as an error; call failures are counted.
func (d *Discovery) Probe(ctx context.Context, token common.Address) (ProbeResult, error) {
	var result ProbeResult

	for _, paired := range d.cfg.PairedTokens {
		if paired.Address == token {
			continue
		}
		for _, fee := range d.cfg.FeeTiers {
			if err := ctx.Err(); err != nil {
				return result, err
			}
			result.Lookups++

			poolAddr, err := d.getPool(ctx, token, paired.Address, fee)
			if err != nil {
				if ctx.Err() != nil {
					return result, ctx.Err()
				}
				result.Failures++
				metrics.PoolProbesTotal.WithLabelValues("error").Inc()
				d.logger.Warn("getPool failed",
					zap.String("token", token.Hex()),
					zap.String("pair", paired.Address.Hex()),
					zap.Uint32("fee", fee),
					zap.Error(err),
				)
				continue
			}
			if poolAddr == (common.Address{}) {
				metrics.PoolProbesTotal.WithLabelValues("none").Inc()
				continue
			}

			pool, ok, err := d.inspectPool(ctx, poolAddr, token)
			if err != nil {
				if ctx.Err() != nil {
					return result, ctx.Err()
				}
				result.ReadFailures++
				metrics.PoolProbesTotal.WithLabelValues("read_error").Inc()
				d.logger.Warn("pool state read failed",
					zap.String("pool", poolAddr.Hex()),
					zap.String("token", token.Hex()),
					zap.Error(err),
				)
				continue
			}
			if !ok {
				metrics.PoolProbesTotal.WithLabelValues("mismatch").Inc()
				d.logger.Warn("pool does not contain token",
					zap.String("pool", poolAddr.Hex()),
					zap.String("token", token.Hex()),
				)
				continue
			}

			pool.PairWith = strings.ToLower(paired.Address.Hex())
			pool.PairSymbol = d.pairSymbol(ctx, paired.Address)
			pool.Fee = fee
			metrics.PoolProbesTotal.WithLabelValues("found").Inc()
			result.Pools = append(result.Pools, pool)
		}
	}
	return result, nil
}

func (d *Discovery) getPool(ctx context.Context, token, paired common.Address, fee uint32) (common.Address, error) {
	parsed, err := V3FactoryABI()
	if err != nil {
		return common.Address{}, err
	}
	values, err := callMethod(ctx, d.caller, parsed, d.cfg.Factory, "getPool", token, paired, new(big.Int).SetUint64(uint64(fee)))
	if err != nil {
		return common.Address{}, err
	}
	return asAddress(values[0])
}

// inspectPool reads liquidity and both sides of the pool. ok is false when
// the pool does not hold token.
func (d *Discovery) inspectPool(ctx context.Context, pool, token common.Address) (model.Pool, bool, error) {
	parsed, err := V3PoolABI()
	if err != nil {
		return model.Pool{}, false, err
	}

	values, err := callMethod(ctx, d.caller, parsed, pool, "liquidity")
	if err != nil {
		return model.Pool{}, false, err
	}
	liquidity, err := asBigInt(values[0])
	if err != nil {
		return model.Pool{}, false, fmt.Errorf("liquidity: %w", err)
	}

	values, err = callMethod(ctx, d.caller, parsed, pool, "token0")
	if err != nil {
		return model.Pool{}, false, err
	}
	token0, err := asAddress(values[0])
	if err != nil {
		return model.Pool{}, false, fmt.Errorf("token0: %w", err)
	}

	values, err = callMethod(ctx, d.caller, parsed, pool, "token1")
	if err != nil {
		return model.Pool{}, false, err
	}
	token1, err := asAddress(values[0])
	if err != nil {
		return model.Pool{}, false, fmt.Errorf("token1: %w", err)
	}

	if token0 != token && token1 != token {
		return model.Pool{}, false, nil
	}
	return model.Pool{
		Address:   strings.ToLower(pool.Hex()),
		Liquidity: liquidity.String(),
	}, true, nil
}

// pairSymbol returns the configured symbol or reads it once from chain.
func (d *Discovery) pairSymbol(ctx context.Context, paired common.Address) string {
	d.mu.Lock()
	symbol, ok := d.symbols[paired]
	d.mu.Unlock()
	if ok {
		return symbol
	}

	symbol, err := fetchSymbol(ctx, d.caller, paired)
	if err != nil {
		d.logger.Debug("paired token symbol lookup failed", zap.String("token", paired.Hex()), zap.Error(err))
		return ""
	}
	d.mu.Lock()
	d.symbols[paired] = symbol
	d.mu.Unlock()
	return symbol
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
