package indexer

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	"tokenScope/internal/model"
)

func makeTokens(n int) []model.TokenCreation {
	tokens := make([]model.TokenCreation, 0, n)
	for i := 0; i < n; i++ {
		tokens = append(tokens, model.TokenCreation{
			ContractAddress: strings.ToLower(tokenAddress(int64(i)).Hex()),
			Name:            "Token",
			Symbol:          "TKN",
			Decimals:        model.TokenDecimals,
			Deployer:        model.DeployerUnknown,
			BlockNumber:     uint64(100 + i),
		})
	}
	return tokens
}

func newTestBatcher(cfg BatcherConfig, store *flakyStore) (*Batcher, *sleepRecorder) {
	sleeps := &sleepRecorder{}
	b := NewBatcher(cfg, store, nil)
	b.sleep = sleeps.sleep
	return b, sleeps
}

func TestBatcherDelayGrowsOnFailureAndNeverResets(t *testing.T) {
	store := newFlakyStore()
	store.failBulk = func(call int, _ []model.TokenCreation) bool {
		return call == 0 || call == 2
	}
	b, sleeps := newTestBatcher(BatcherConfig{
		MaxBatchSize:  2,
		InitialDelay:  time.Second,
		BackoffFactor: 2,
		MaxDelay:      5 * time.Second,
	}, store)

	result, err := b.Persist(context.Background(), makeTokens(10))
	if err != nil {
		t.Fatalf("persist: %v", err)
	}

	want := []time.Duration{2 * time.Second, 2 * time.Second, 4 * time.Second, 4 * time.Second}
	if !reflect.DeepEqual(result.Delays, want) {
		t.Fatalf("unexpected delays %v, want %v", result.Delays, want)
	}
	if !reflect.DeepEqual(sleeps.delays, want) {
		t.Fatalf("slept %v, want %v", sleeps.delays, want)
	}
	if result.Batches != 5 || result.FallbackBatches != 2 {
		t.Fatalf("unexpected batch counts %+v", result)
	}
	if result.Inserted != 10 || result.Failed != 0 {
		t.Fatalf("fallback should store every token, got %+v", result)
	}
}

func TestBatcherDelayIsMonotonicAndCapped(t *testing.T) {
	store := newFlakyStore()
	store.failBulk = func(int, []model.TokenCreation) bool { return true }
	maxDelay := 3 * time.Second
	b, _ := newTestBatcher(BatcherConfig{
		MaxBatchSize:  1,
		InitialDelay:  time.Second,
		BackoffFactor: 2,
		MaxDelay:      maxDelay,
	}, store)

	result, err := b.Persist(context.Background(), makeTokens(6))
	if err != nil {
		t.Fatalf("persist: %v", err)
	}
	if len(result.Delays) != 5 {
		t.Fatalf("expected 5 delays, got %v", result.Delays)
	}
	for i, d := range result.Delays {
		if d > maxDelay {
			t.Fatalf("delay %d exceeds max: %v", i, d)
		}
		if i > 0 && d < result.Delays[i-1] {
			t.Fatalf("delay decreased at %d: %v", i, result.Delays)
		}
	}
	if result.Delays[len(result.Delays)-1] != maxDelay {
		t.Fatalf("expected delay to reach the cap, got %v", result.Delays)
	}
}

func TestBatcherEscalatesFromZeroInitialDelay(t *testing.T) {
	store := newFlakyStore()
	store.failBulk = func(int, []model.TokenCreation) bool { return true }
	b, _ := newTestBatcher(BatcherConfig{
		MaxBatchSize:  1,
		InitialDelay:  0,
		BackoffFactor: 2,
		MaxDelay:      time.Second,
	}, store)

	result, err := b.Persist(context.Background(), makeTokens(5))
	if err != nil {
		t.Fatalf("persist: %v", err)
	}
	want := []time.Duration{minBackoffDelay, 2 * minBackoffDelay, time.Second, time.Second}
	if !reflect.DeepEqual(result.Delays, want) {
		t.Fatalf("unexpected delays %v, want %v", result.Delays, want)
	}
	if result.FallbackBatches != 5 {
		t.Fatalf("expected every batch to fall back, got %+v", result)
	}
}

func TestBatcherZeroDelayStaysZeroWithoutFailures(t *testing.T) {
	b, sleeps := newTestBatcher(BatcherConfig{MaxBatchSize: 1, BackoffFactor: 2, MaxDelay: time.Second}, newFlakyStore())

	result, err := b.Persist(context.Background(), makeTokens(3))
	if err != nil {
		t.Fatalf("persist: %v", err)
	}
	if !reflect.DeepEqual(sleeps.delays, []time.Duration{0, 0}) {
		t.Fatalf("slept %v", sleeps.delays)
	}
	if result.Inserted != 3 {
		t.Fatalf("unexpected result %+v", result)
	}
}

func TestBatcherFallbackCountsItemFailures(t *testing.T) {
	tokens := makeTokens(4)
	bad := tokens[1].ContractAddress

	store := newFlakyStore()
	store.failBulk = func(_ int, batch []model.TokenCreation) bool {
		for _, token := range batch {
			if token.ContractAddress == bad {
				return true
			}
		}
		return false
	}
	store.failOne = func(token model.TokenCreation) bool { return token.ContractAddress == bad }

	b, _ := newTestBatcher(BatcherConfig{MaxBatchSize: 2, InitialDelay: time.Millisecond, BackoffFactor: 2, MaxDelay: time.Second}, store)

	result, err := b.Persist(context.Background(), tokens)
	if err != nil {
		t.Fatalf("persist: %v", err)
	}
	if result.Inserted != 3 || result.Failed != 1 || result.FallbackBatches != 1 {
		t.Fatalf("unexpected result %+v", result)
	}
	if store.Len() != 3 {
		t.Fatalf("expected 3 stored tokens, got %d", store.Len())
	}
	if _, err := store.GetToken(context.Background(), bad); err == nil {
		t.Fatalf("failed token should not be stored")
	}
}

func TestBatcherSecondRunOnlyUpdates(t *testing.T) {
	store := newFlakyStore()
	b, _ := newTestBatcher(BatcherConfig{MaxBatchSize: 3, InitialDelay: time.Millisecond, BackoffFactor: 2, MaxDelay: time.Second}, store)

	tokens := makeTokens(7)
	first, err := b.Persist(context.Background(), tokens)
	if err != nil {
		t.Fatalf("first persist: %v", err)
	}
	second, err := b.Persist(context.Background(), tokens)
	if err != nil {
		t.Fatalf("second persist: %v", err)
	}
	if first.Inserted != 7 || second.Inserted != 0 || second.Updated != 7 {
		t.Fatalf("unexpected results first=%+v second=%+v", first, second)
	}
}

func TestBatcherStopsWhenCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	store := newFlakyStore()
	store.failBulk = func(call int, _ []model.TokenCreation) bool {
		if call == 0 {
			cancel()
		}
		return false
	}
	b, _ := newTestBatcher(BatcherConfig{MaxBatchSize: 2, InitialDelay: time.Second, BackoffFactor: 2, MaxDelay: time.Second}, store)

	result, err := b.Persist(ctx, makeTokens(6))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if result.Batches != 1 || result.Inserted != 2 {
		t.Fatalf("expected only the first batch written, got %+v", result)
	}
}

func TestBatcherEmptyInput(t *testing.T) {
	b, sleeps := newTestBatcher(BatcherConfig{MaxBatchSize: 2}, newFlakyStore())
	result, err := b.Persist(context.Background(), nil)
	if err != nil {
		t.Fatalf("persist: %v", err)
	}
	if result.Batches != 0 || len(sleeps.delays) != 0 {
		t.Fatalf("expected no work, got %+v", result)
	}
}
