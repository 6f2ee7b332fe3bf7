package factory

import (
	"bytes"
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"tokenScope/internal/chain"
	"tokenScope/internal/metrics"
	"tokenScope/internal/model"
)

// Source names where a resolved deployer came from.
type Source string

const (
	SourceOverride Source = "override"
	SourceCalldata Source = "calldata"
	SourceEvent    Source = "event"
	SourceSender   Source = "sender"
	SourceUnknown  Source = "unknown"
)

// Resolution is the outcome of deployer resolution for one transaction.
type Resolution struct {
	Deployer string
	Source   Source
}

// TxFetcher looks up a transaction. A nil transaction with a nil error means
// the node does not know the hash.
type TxFetcher interface {
	TransactionByHash(ctx context.Context, hash common.Hash) (*chain.Transaction, error)
}

// ResolverConfig holds the static inputs of deployer resolution.
type ResolverConfig struct {
	// Overrides maps transaction hashes to manually verified deployers.
	Overrides map[common.Hash]common.Address
	// Excluded addresses are never accepted from calldata or the event.
	// The zero address is always excluded.
	Excluded []common.Address
}

// Resolver determines the deployer of a factory token.
type Resolver struct {
	fetcher   TxFetcher
	overrides map[common.Hash]common.Address
	excluded  map[common.Address]struct{}
	deploy    abi.Method
	cache     *DeployerCache
	logger    *zap.Logger
}

// NewResolver builds a Resolver. A nil cache gets a fresh one.
func NewResolver(cfg ResolverConfig, fetcher TxFetcher, cache *DeployerCache, logger *zap.Logger) (*Resolver, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cache == nil {
		cache = NewDeployerCache()
	}
	parsed, err := FactoryABI()
	if err != nil {
		return nil, fmt.Errorf("parse factory abi: %w", err)
	}
	method, ok := parsed.Methods[deployTokenMethod]
	if !ok {
		return nil, fmt.Errorf("factory abi has no %s method", deployTokenMethod)
	}

	excluded := map[common.Address]struct{}{common.Address{}: {}}
	for _, addr := range cfg.Excluded {
		excluded[addr] = struct{}{}
	}
	overrides := make(map[common.Hash]common.Address, len(cfg.Overrides))
	for tx, addr := range cfg.Overrides {
		overrides[tx] = addr
	}

	return &Resolver{
		fetcher:   fetcher,
		overrides: overrides,
		excluded:  excluded,
		deploy:    method,
		cache:     cache,
		logger:    logger,
	}, nil
}

// Cache exposes the resolver's memoization table.
func (r *Resolver) Cache() *DeployerCache {
	return r.cache
}

// Resolve returns the most trustworthy deployer for txHash. It never fails:
// when nothing can be determined the result is model.DeployerUnknown.
// Override and calldata answers are memoized per transaction; answers that
// depend on the event's legacy deployer are memoized per (tx, legacy), since
// one transaction may emit several tokens.
func (r *Resolver) Resolve(ctx context.Context, txHash common.Hash, legacy common.Address) Resolution {
	if res, ok := r.cache.Get(txHash, legacy); ok {
		return res
	}

	if addr, ok := r.overrides[txHash]; ok {
		return r.remember(txHash, addr, SourceOverride)
	}

	if r.fetcher == nil {
		return r.fromEvent(txHash, legacy)
	}

	tx, err := r.fetcher.TransactionByHash(ctx, txHash)
	if err != nil {
		r.logger.Warn("transaction fetch failed", zap.String("tx", txHash.Hex()), zap.Error(err))
		metrics.DeployerResolutions.WithLabelValues(string(SourceUnknown)).Inc()
		return Resolution{Deployer: model.DeployerUnknown, Source: SourceUnknown}
	}
	if tx == nil {
		r.logger.Debug("transaction not found", zap.String("tx", txHash.Hex()))
		return r.fromEvent(txHash, legacy)
	}

	if addr, ok := r.decodeDeployer(tx.Input); ok && !r.isExcluded(addr) {
		return r.remember(txHash, addr, SourceCalldata)
	}
	if !r.isExcluded(legacy) {
		return r.rememberForLegacy(txHash, legacy, legacy, SourceEvent)
	}
	return r.rememberForLegacy(txHash, legacy, tx.From, SourceSender)
}

func (r *Resolver) fromEvent(txHash common.Hash, legacy common.Address) Resolution {
	if !r.isExcluded(legacy) {
		return r.rememberForLegacy(txHash, legacy, legacy, SourceEvent)
	}
	res := Resolution{Deployer: model.DeployerUnknown, Source: SourceUnknown}
	r.cache.SetForLegacy(txHash, legacy, res)
	metrics.DeployerResolutions.WithLabelValues(string(SourceUnknown)).Inc()
	return res
}

func (r *Resolver) decodeDeployer(input []byte) (common.Address, bool) {
	if len(input) < 4 || !bytes.Equal(input[:4], r.deploy.ID) {
		return common.Address{}, false
	}
	values, err := r.deploy.Inputs.Unpack(input[4:])
	if err != nil {
		r.logger.Debug("deploy calldata unpack failed", zap.Error(err))
		return common.Address{}, false
	}
	if len(values) <= deployerArgIndex {
		return common.Address{}, false
	}
	addr, err := asAddress(values[deployerArgIndex])
	if err != nil {
		return common.Address{}, false
	}
	return addr, true
}

func (r *Resolver) isExcluded(addr common.Address) bool {
	_, ok := r.excluded[addr]
	return ok
}

func (r *Resolver) remember(txHash common.Hash, addr common.Address, source Source) Resolution {
	res := Resolution{Deployer: NormalizeAddress(addr), Source: source}
	r.cache.Set(txHash, res)
	metrics.DeployerResolutions.WithLabelValues(string(source)).Inc()
	return res
}

func (r *Resolver) rememberForLegacy(txHash common.Hash, legacy, addr common.Address, source Source) Resolution {
	res := Resolution{Deployer: NormalizeAddress(addr), Source: source}
	r.cache.SetForLegacy(txHash, legacy, res)
	metrics.DeployerResolutions.WithLabelValues(string(source)).Inc()
	return res
}
