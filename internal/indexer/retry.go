package indexer

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"tokenScope/internal/metrics"
)

const defaultRetryBackoff = 100 * time.Millisecond

// rpcRetry reruns a failed chain query with a doubling wait. retries counts
// the extra attempts after the first one.
type rpcRetry struct {
	retries int
	backoff time.Duration
	sleep   func(context.Context, time.Duration) error
	logger  *zap.Logger
}

func (s *Scanner) retrier(logger *zap.Logger) rpcRetry {
	return rpcRetry{
		retries: s.cfg.MaxRetries,
		backoff: s.cfg.RetryBackoff,
		sleep:   s.sleep,
		logger:  logger,
	}
}

// do runs fn until it succeeds, the retries are spent or ctx ends. Every
// failed attempt that will be retried is logged and counted under query.
func (r rpcRetry) do(ctx context.Context, query string, fn func(context.Context) error, fields ...zap.Field) error {
	retries := r.retries
	if retries < 0 {
		retries = 0
	}
	delay := r.backoff
	if delay <= 0 {
		delay = defaultRetryBackoff
	}
	sleep := r.sleep
	if sleep == nil {
		sleep = sleepCtx
	}
	logger := r.logger
	if logger == nil {
		logger = zap.NewNop()
	}

	for attempt := 1; ; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if attempt > retries {
			return fmt.Errorf("%s failed after %d attempts: %w", query, attempt, err)
		}

		metrics.RPCRetriesTotal.WithLabelValues(query).Inc()
		logFields := append([]zap.Field{
			zap.String("query", query),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", delay),
			zap.Error(err),
		}, fields...)
		logger.Warn("rpc query failed, retrying", logFields...)

		if err := sleep(ctx, delay); err != nil {
			return err
		}
		delay *= 2
	}
}
