package indexer

import (
	"context"
	"time"

	"go.uber.org/zap"

	"tokenScope/internal/metrics"
	"tokenScope/internal/model"
	"tokenScope/internal/storage"
)

// BatcherConfig controls batch size and inter-batch pacing.
type BatcherConfig struct {
	MaxBatchSize  int
	InitialDelay  time.Duration
	BackoffFactor float64
	MaxDelay      time.Duration
}

// PersistResult aggregates the outcome of one Persist call.
type PersistResult struct {
	storage.UpsertResult
	Failed          int `json:"failed"`
	Batches         int `json:"batches"`
	FallbackBatches int `json:"fallback_batches"`
	// Delays lists the pauses taken before each batch after the first.
	Delays []time.Duration `json:"delays,omitempty"`
}

// Stored is the number of tokens written by either path.
func (r PersistResult) Stored() int {
	return r.Inserted + r.Updated
}

// Batcher writes tokens in bounded batches with a growing pause between them.
// A failed bulk write falls back to one upsert per token.
type Batcher struct {
	cfg    BatcherConfig
	store  storage.TokenStore
	logger *zap.Logger
	sleep  func(context.Context, time.Duration) error
}

func NewBatcher(cfg BatcherConfig, store storage.TokenStore, logger *zap.Logger) *Batcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxBatchSize <= 0 {
		cfg.MaxBatchSize = 50
	}
	if cfg.BackoffFactor < 1 {
		cfg.BackoffFactor = 1
	}
	if cfg.InitialDelay < 0 {
		cfg.InitialDelay = 0
	}
	if cfg.MaxDelay < cfg.InitialDelay {
		cfg.MaxDelay = cfg.InitialDelay
	}
	return &Batcher{cfg: cfg, store: store, logger: logger, sleep: sleepCtx}
}

// Persist writes tokens in order. It only returns an error when ctx is
// cancelled; storage failures are contained and counted in the result.
func (b *Batcher) Persist(ctx context.Context, tokens []model.TokenCreation) (PersistResult, error) {
	var result PersistResult
	delay := b.cfg.InitialDelay

	for start := 0; start < len(tokens); start += b.cfg.MaxBatchSize {
		end := start + b.cfg.MaxBatchSize
		if end > len(tokens) {
			end = len(tokens)
		}
		batch := tokens[start:end]

		if start > 0 {
			metrics.BatchDelay.Set(delay.Seconds())
			if err := b.sleep(ctx, delay); err != nil {
				return result, err
			}
			result.Delays = append(result.Delays, delay)
		}
		if err := ctx.Err(); err != nil {
			return result, err
		}

		result.Batches++
		upserted, err := b.store.UpsertTokens(ctx, batch)
		if err == nil {
			result.Add(upserted)
			metrics.TokensPersisted.WithLabelValues("inserted").Add(float64(upserted.Inserted))
			metrics.TokensPersisted.WithLabelValues("updated").Add(float64(upserted.Updated))
			continue
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return result, ctxErr
		}

		delay = b.escalate(delay)
		metrics.BatchFailuresTotal.Inc()
		b.logger.Warn("batch upsert failed, falling back to single upserts",
			zap.Error(err),
			zap.Int("batch_size", len(batch)),
			zap.Duration("next_delay", delay),
		)
		result.FallbackBatches++
		if err := b.fallback(ctx, batch, &result); err != nil {
			return result, err
		}
	}
	return result, nil
}

func (b *Batcher) fallback(ctx context.Context, batch []model.TokenCreation, result *PersistResult) error {
	for _, token := range batch {
		if err := ctx.Err(); err != nil {
			return err
		}
		inserted, err := b.store.UpsertToken(ctx, token)
		if err != nil {
			result.Failed++
			metrics.TokensPersisted.WithLabelValues("failed").Inc()
			b.logger.Warn("token upsert failed",
				zap.Error(err),
				zap.String("token", token.ContractAddress),
				zap.String("tx_hash", token.TransactionHash),
			)
			continue
		}
		if inserted {
			result.Add(storage.UpsertResult{Inserted: 1})
			metrics.TokensPersisted.WithLabelValues("inserted").Inc()
		} else {
			result.Add(storage.UpsertResult{Updated: 1})
			metrics.TokensPersisted.WithLabelValues("updated").Inc()
		}
	}
	return nil
}

// minBackoffDelay is where escalation starts when the configured initial
// delay is zero, so a failing store still gets breathing room.
const minBackoffDelay = 250 * time.Millisecond

// escalate grows the delay by the backoff factor up to MaxDelay. It is never
// reduced within one Persist call.
func (b *Batcher) escalate(delay time.Duration) time.Duration {
	if delay < minBackoffDelay && b.cfg.BackoffFactor > 1 {
		delay = minBackoffDelay
		if delay > b.cfg.MaxDelay {
			return b.cfg.MaxDelay
		}
		return delay
	}
	next := time.Duration(float64(delay) * b.cfg.BackoffFactor)
	if next > b.cfg.MaxDelay || next < delay {
		next = b.cfg.MaxDelay
	}
	return next
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
