package indexer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"tokenScope/internal/factory"
	"tokenScope/internal/metrics"
	"tokenScope/internal/model"
	"tokenScope/internal/storage"
)

// ErrCycleInProgress is returned when RunCycle is called while another cycle runs.
var ErrCycleInProgress = errors.New("scan cycle already in progress")

// ErrNothingPersisted is returned when every token of a cycle failed to store.
var ErrNothingPersisted = errors.New("no tokens persisted")

// ChainReader is the part of the chain client the scanner needs.
type ChainReader interface {
	LatestBlockNumber(ctx context.Context) (uint64, error)
	FilterLogs(ctx context.Context, fromBlock, toBlock uint64, addresses []common.Address, topic0 []common.Hash) ([]types.Log, error)
}

// LogDecoder turns factory logs into tokens.
type LogDecoder interface {
	Topic() common.Hash
	Decode(log types.Log) (model.TokenCreation, error)
}

// DeployerResolver picks the deployer for a token's transaction.
type DeployerResolver interface {
	Resolve(ctx context.Context, txHash common.Hash, legacy common.Address) factory.Resolution
}

// TokenPersister stores a cycle's tokens.
type TokenPersister interface {
	Persist(ctx context.Context, tokens []model.TokenCreation) (PersistResult, error)
}

// ScanConfig holds scanner tuning.
type ScanConfig struct {
	Factory             common.Address
	ChunkSize           uint64
	MaxBlocksPerScan    uint64
	ColdStartWindow     uint64
	ChunkFailureBackoff time.Duration
	MaxRetries          int
	RetryBackoff        time.Duration
}

// CycleResult summarises one scan cycle.
type CycleResult struct {
	CycleID        string        `json:"cycle_id"`
	StartedAt      time.Time     `json:"started_at"`
	Duration       time.Duration `json:"duration"`
	Head           uint64        `json:"head"`
	From           uint64        `json:"from"`
	To             uint64        `json:"to"`
	Empty          bool          `json:"empty"`
	Logs           int           `json:"logs"`
	Tokens         int           `json:"tokens"`
	DecodeFailures int           `json:"decode_failures"`
	ChunksFailed   int           `json:"chunks_failed"`
	Persist        PersistResult `json:"persist"`
	Err            string        `json:"error,omitempty"`
}

// Scanner runs scan cycles over the factory's logs. At most one cycle runs at a time.
type Scanner struct {
	cfg       ScanConfig
	chain     ChainReader
	cursor    storage.CursorStore
	decoder   LogDecoder
	resolver  DeployerResolver
	persister TokenPersister
	sink      storage.DecodeErrorSink
	logger    *zap.Logger
	sleep     func(context.Context, time.Duration) error

	running atomic.Bool

	mu   sync.Mutex
	last *CycleResult
}

// NewScanner wires a Scanner. sink may be nil.
func NewScanner(
	cfg ScanConfig,
	chain ChainReader,
	cursor storage.CursorStore,
	decoder LogDecoder,
	resolver DeployerResolver,
	persister TokenPersister,
	sink storage.DecodeErrorSink,
	logger *zap.Logger,
) (*Scanner, error) {
	if chain == nil {
		return nil, fmt.Errorf("chain client is nil")
	}
	if cursor == nil {
		return nil, fmt.Errorf("cursor store is nil")
	}
	if decoder == nil || resolver == nil || persister == nil {
		return nil, fmt.Errorf("decoder, resolver and persister are required")
	}
	if cfg.ChunkSize == 0 {
		return nil, fmt.Errorf("chunk size must be greater than zero")
	}
	if cfg.MaxBlocksPerScan == 0 {
		return nil, fmt.Errorf("max blocks per scan must be greater than zero")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scanner{
		cfg:       cfg,
		chain:     chain,
		cursor:    cursor,
		decoder:   decoder,
		resolver:  resolver,
		persister: persister,
		sink:      sink,
		logger:    logger,
		sleep:     sleepCtx,
	}, nil
}

// Running reports whether a cycle is in flight.
func (s *Scanner) Running() bool {
	return s.running.Load()
}

// LastCycle returns the most recent finished cycle.
func (s *Scanner) LastCycle() (CycleResult, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == nil {
		return CycleResult{}, false
	}
	return *s.last, true
}

// RunCycle scans the next bounded block range and advances the cursor once
// the tokens found in it are stored.
func (s *Scanner) RunCycle(ctx context.Context) (CycleResult, error) {
	if !s.running.CompareAndSwap(false, true) {
		return CycleResult{}, ErrCycleInProgress
	}
	defer s.running.Store(false)

	result := CycleResult{
		CycleID:   uuid.NewString(),
		StartedAt: time.Now().UTC(),
	}
	logger := s.logger.With(zap.String("cycle_id", result.CycleID))

	err := s.runCycle(ctx, logger, &result)
	result.Duration = time.Since(result.StartedAt)
	metrics.ScanCycleDuration.Observe(result.Duration.Seconds())

	switch {
	case err != nil:
		result.Err = err.Error()
		metrics.ScanCyclesTotal.WithLabelValues("failed").Inc()
		logger.Error("scan cycle failed", zap.Error(err), zap.Uint64("from", result.From), zap.Uint64("to", result.To))
	case result.Empty:
		metrics.ScanCyclesTotal.WithLabelValues("empty").Inc()
		logger.Debug("nothing to scan", zap.Uint64("head", result.Head))
	default:
		metrics.ScanCyclesTotal.WithLabelValues("ok").Inc()
		logger.Info("scan cycle complete",
			zap.Uint64("from", result.From),
			zap.Uint64("to", result.To),
			zap.Int("logs", result.Logs),
			zap.Int("tokens", result.Tokens),
			zap.Int("inserted", result.Persist.Inserted),
			zap.Int("updated", result.Persist.Updated),
			zap.Int("failed", result.Persist.Failed),
			zap.Int("decode_failures", result.DecodeFailures),
			zap.Int("chunks_failed", result.ChunksFailed),
			zap.Duration("duration", result.Duration),
		)
	}

	s.mu.Lock()
	last := result
	s.last = &last
	s.mu.Unlock()

	return result, err
}

func (s *Scanner) runCycle(ctx context.Context, logger *zap.Logger, result *CycleResult) error {
	retry := s.retrier(logger)

	var head uint64
	err := retry.do(ctx, "eth_blockNumber", func(ctx context.Context) error {
		var err error
		head, err = s.chain.LatestBlockNumber(ctx)
		return err
	})
	if err != nil {
		return fmt.Errorf("get latest block: %w", err)
	}
	result.Head = head
	metrics.ChainHead.Set(float64(head))

	last, ok, err := s.cursor.Load(ctx)
	if err != nil {
		return fmt.Errorf("load cursor: %w", err)
	}
	if !ok {
		last = coldStartBlock(head, s.cfg.ColdStartWindow)
		if err := s.cursor.Save(ctx, last); err != nil {
			return fmt.Errorf("seed cursor: %w", err)
		}
		logger.Info("cold start, cursor seeded", zap.Uint64("cursor", last), zap.Uint64("head", head))
	}
	metrics.CursorBlock.Set(float64(last))

	plan, ok := planScan(last, head, s.cfg.MaxBlocksPerScan, s.cfg.ChunkSize)
	if !ok {
		result.Empty = true
		result.From = last + 1
		result.To = last
		return nil
	}
	to := plan.Window.To
	result.From = plan.Window.From
	result.To = to

	tokens := newTokenSet()
	var decodeErrors []model.DecodeError
	for _, blockRange := range plan.Chunks {
		if err := ctx.Err(); err != nil {
			return err
		}

		logger.Debug("fetch logs", zap.Uint64("from", blockRange.From), zap.Uint64("to", blockRange.To))
		logs, err := s.filterLogs(ctx, retry, blockRange)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			result.ChunksFailed++
			metrics.ChunksFailedTotal.Inc()
			logger.Warn("chunk skipped after retries",
				zap.Error(err),
				zap.Uint64("from", blockRange.From),
				zap.Uint64("to", blockRange.To),
				zap.Duration("backoff", s.cfg.ChunkFailureBackoff),
			)
			if err := s.sleep(ctx, s.cfg.ChunkFailureBackoff); err != nil {
				return err
			}
			continue
		}

		for _, log := range logs {
			if err := ctx.Err(); err != nil {
				return err
			}
			result.Logs++

			token, err := s.decoder.Decode(log)
			if err != nil {
				result.DecodeFailures++
				metrics.LogsDecodedTotal.WithLabelValues("failed").Inc()
				decodeErrors = append(decodeErrors, decodeErrorRecord(log, err))
				logger.Warn("skip undecodable log",
					zap.Error(err),
					zap.Uint64("block_number", log.BlockNumber),
					zap.String("tx_hash", log.TxHash.Hex()),
					zap.Uint("log_index", log.Index),
				)
				continue
			}
			metrics.LogsDecodedTotal.WithLabelValues("ok").Inc()

			resolution := s.resolver.Resolve(ctx, log.TxHash, common.HexToAddress(token.LegacyDeployer))
			token.Deployer = resolution.Deployer
			logger.Debug("token decoded",
				zap.String("token", token.ContractAddress),
				zap.String("deployer", token.Deployer),
				zap.String("deployer_source", string(resolution.Source)),
				zap.Uint64("block_number", token.BlockNumber),
			)
			tokens.add(token)
		}
	}

	s.recordDecodeErrors(logger, decodeErrors)

	result.Tokens = tokens.len()
	if result.Tokens > 0 {
		persisted, err := s.persister.Persist(ctx, tokens.list())
		result.Persist = persisted
		if err != nil {
			return fmt.Errorf("persist tokens: %w", err)
		}
		if persisted.Stored() == 0 && persisted.Failed > 0 {
			return fmt.Errorf("%w: %d tokens failed", ErrNothingPersisted, persisted.Failed)
		}
	}

	if err := s.cursor.Save(ctx, to); err != nil {
		return fmt.Errorf("save cursor: %w", err)
	}
	metrics.CursorBlock.Set(float64(to))
	return nil
}

func (s *Scanner) filterLogs(ctx context.Context, retry rpcRetry, blockRange BlockRange) ([]types.Log, error) {
	addresses := []common.Address{s.cfg.Factory}
	topics := []common.Hash{s.decoder.Topic()}

	var logs []types.Log
	err := retry.do(ctx, "eth_getLogs", func(ctx context.Context) error {
		var err error
		logs, err = s.chain.FilterLogs(ctx, blockRange.From, blockRange.To, addresses, topics)
		return err
	}, zap.Uint64("from", blockRange.From), zap.Uint64("to", blockRange.To))
	return logs, err
}

func (s *Scanner) recordDecodeErrors(logger *zap.Logger, records []model.DecodeError) {
	if s.sink == nil || len(records) == 0 {
		return
	}
	if err := s.sink.PutDecodeErrors(records); err != nil {
		logger.Warn("write decode errors failed", zap.Error(err), zap.Int("count", len(records)))
	}
}

func coldStartBlock(head, window uint64) uint64 {
	if window >= head {
		return 0
	}
	return head - window
}

func decodeErrorRecord(log types.Log, err error) model.DecodeError {
	var decodeErr *factory.DecodeError
	if !errors.As(err, &decodeErr) {
		decodeErr = &factory.DecodeError{
			BlockNumber: log.BlockNumber,
			TxHash:      log.TxHash,
			LogIndex:    log.Index,
			Reason:      err.Error(),
		}
	}
	return decodeErr.Record(log)
}

// tokenSet keeps first-seen order and lets a later log for the same
// contract replace the earlier one.
type tokenSet struct {
	index  map[string]int
	tokens []model.TokenCreation
}

func newTokenSet() *tokenSet {
	return &tokenSet{index: make(map[string]int)}
}

func (t *tokenSet) add(token model.TokenCreation) {
	if i, ok := t.index[token.ContractAddress]; ok {
		t.tokens[i] = token
		return
	}
	t.index[token.ContractAddress] = len(t.tokens)
	t.tokens = append(t.tokens, token)
}

func (t *tokenSet) len() int {
	return len(t.tokens)
}

func (t *tokenSet) list() []model.TokenCreation {
	return t.tokens
}
