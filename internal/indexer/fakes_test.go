package indexer

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"tokenScope/internal/factory"
	"tokenScope/internal/model"
	"tokenScope/internal/storage"
	"tokenScope/internal/storage/memory"
)

var (
	testFactory = common.HexToAddress("0xfacefacefacefacefacefacefacefacefaceface")
	errRPCDown  = errors.New("rpc down")
	errStore    = errors.New("store unavailable")
)

type fakeChain struct {
	mu       sync.Mutex
	head     uint64
	headErr  error
	logs     []types.Log
	fail     map[BlockRange]bool
	flaky    map[BlockRange]int
	calls    []BlockRange
	onFilter func(call int)
}

func (c *fakeChain) LatestBlockNumber(context.Context) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.head, c.headErr
}

func (c *fakeChain) FilterLogs(_ context.Context, from, to uint64, addresses []common.Address, topic0 []common.Hash) ([]types.Log, error) {
	c.mu.Lock()
	r := BlockRange{From: from, To: to}
	c.calls = append(c.calls, r)
	call := len(c.calls)
	hook := c.onFilter
	failed := c.fail[r]
	if c.flaky[r] > 0 {
		c.flaky[r]--
		failed = true
	}
	var out []types.Log
	for _, log := range c.logs {
		if log.BlockNumber < from || log.BlockNumber > to {
			continue
		}
		if len(addresses) > 0 && log.Address != addresses[0] {
			continue
		}
		out = append(out, log)
	}
	c.mu.Unlock()

	if hook != nil {
		hook(call)
	}
	if failed {
		return nil, errRPCDown
	}
	return out, nil
}

func (c *fakeChain) filterCalls() []BlockRange {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]BlockRange(nil), c.calls...)
}

// flakyStore fails selected bulk or single writes and delegates the rest.
type flakyStore struct {
	*memory.TokenStore
	mu        sync.Mutex
	bulkCalls int
	failBulk  func(call int, tokens []model.TokenCreation) bool
	failOne   func(token model.TokenCreation) bool
}

func newFlakyStore() *flakyStore {
	return &flakyStore{TokenStore: memory.NewTokenStore()}
}

func (s *flakyStore) UpsertTokens(ctx context.Context, tokens []model.TokenCreation) (storage.UpsertResult, error) {
	s.mu.Lock()
	call := s.bulkCalls
	s.bulkCalls++
	fail := s.failBulk
	s.mu.Unlock()
	if fail != nil && fail(call, tokens) {
		return storage.UpsertResult{}, errStore
	}
	return s.TokenStore.UpsertTokens(ctx, tokens)
}

func (s *flakyStore) UpsertToken(ctx context.Context, token model.TokenCreation) (bool, error) {
	s.mu.Lock()
	fail := s.failOne
	s.mu.Unlock()
	if fail != nil && fail(token) {
		return false, errStore
	}
	return s.TokenStore.UpsertToken(ctx, token)
}

type memorySink struct {
	records []model.DecodeError
}

func (s *memorySink) PutDecodeErrors(errs []model.DecodeError) error {
	s.records = append(s.records, errs...)
	return nil
}

// sleepRecorder replaces real sleeps so tests can inspect requested delays.
type sleepRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (r *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	r.delays = append(r.delays, d)
	r.mu.Unlock()
	return ctx.Err()
}

func tokenAddress(n int64) common.Address {
	return common.BigToAddress(big.NewInt(0x1000 + n))
}

func factoryLog(t *testing.T, block uint64, token common.Address, name string) types.Log {
	t.Helper()
	parsed, err := factory.FactoryABI()
	if err != nil {
		t.Fatalf("abi: %v", err)
	}
	event := parsed.Events["TokenCreated"]
	data, err := event.Inputs.NonIndexed().Pack(
		token,
		big.NewInt(1),
		common.HexToAddress("0x2222222222222222222222222222222222222222"),
		name,
		"SYM",
		big.NewInt(1_000_000),
		common.HexToAddress("0x3333333333333333333333333333333333333333"),
		big.NewInt(0),
	)
	if err != nil {
		t.Fatalf("pack: %v", err)
	}
	return types.Log{
		Address:     testFactory,
		Topics:      []common.Hash{event.ID},
		Data:        data,
		BlockNumber: block,
		TxHash:      common.BigToHash(new(big.Int).SetUint64(block*1000 + uint64(len(name)))),
	}
}

type scannerFixture struct {
	chain   *fakeChain
	store   *flakyStore
	cursor  *memory.CursorStore
	sink    *memorySink
	sleeps  *sleepRecorder
	scanner *Scanner
}

func defaultScanConfig() ScanConfig {
	return ScanConfig{
		Factory:             testFactory,
		ChunkSize:           2000,
		MaxBlocksPerScan:    10000,
		ColdStartWindow:     100,
		ChunkFailureBackoff: 5 * time.Second,
		MaxRetries:          0,
		RetryBackoff:        time.Millisecond,
	}
}

func newScannerFixture(t *testing.T, cfg ScanConfig, chain *fakeChain) *scannerFixture {
	t.Helper()

	decoder, err := factory.NewDecoder()
	if err != nil {
		t.Fatalf("decoder: %v", err)
	}
	resolver, err := factory.NewResolver(factory.ResolverConfig{}, nil, nil, nil)
	if err != nil {
		t.Fatalf("resolver: %v", err)
	}

	f := &scannerFixture{
		chain:  chain,
		store:  newFlakyStore(),
		cursor: memory.NewCursorStore(),
		sink:   &memorySink{},
		sleeps: &sleepRecorder{},
	}
	batcher := NewBatcher(BatcherConfig{MaxBatchSize: 50, InitialDelay: time.Second, BackoffFactor: 2, MaxDelay: 30 * time.Second}, f.store, nil)
	batcher.sleep = f.sleeps.sleep

	f.scanner, err = NewScanner(cfg, chain, f.cursor, decoder, resolver, batcher, f.sink, nil)
	if err != nil {
		t.Fatalf("scanner: %v", err)
	}
	f.scanner.sleep = f.sleeps.sleep
	return f
}

func (f *scannerFixture) cursorValue(t *testing.T) (uint64, bool) {
	t.Helper()
	block, ok, err := f.cursor.Load(context.Background())
	if err != nil {
		t.Fatalf("load cursor: %v", err)
	}
	return block, ok
}
