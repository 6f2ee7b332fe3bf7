package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tokenScope/internal/model"
	"tokenScope/internal/storage"
)

func sampleTokens() []model.TokenCreation {
	return []model.TokenCreation{
		{ContractAddress: "0xaaaa000000000000000000000000000000000001", Name: "A", Symbol: "A", Decimals: 18, Deployer: "unknown", BlockNumber: 10},
		{ContractAddress: "0xAAAA000000000000000000000000000000000002", Name: "B", Symbol: "B", Decimals: 18, Deployer: "unknown", BlockNumber: 5},
	}
}

func TestUpsertTokensIdempotent(t *testing.T) {
	ctx := context.Background()
	s := NewTokenStore()

	first, err := s.UpsertTokens(ctx, sampleTokens())
	require.NoError(t, err)
	assert.Equal(t, storage.UpsertResult{Inserted: 2}, first)

	before, err := s.GetToken(ctx, "0xaaaa000000000000000000000000000000000002")
	require.NoError(t, err)

	second, err := s.UpsertTokens(ctx, sampleTokens())
	require.NoError(t, err)
	assert.Equal(t, storage.UpsertResult{Updated: 2}, second)
	assert.Equal(t, 2, s.Len())

	after, err := s.GetToken(ctx, "0xAAAA000000000000000000000000000000000002")
	require.NoError(t, err)
	assert.Equal(t, before.TokenCreation, after.TokenCreation)
}

func TestUpsertTokensRejectsInvalidBatch(t *testing.T) {
	s := NewTokenStore()
	tokens := append(sampleTokens(), model.TokenCreation{Name: "missing address"})

	_, err := s.UpsertTokens(context.Background(), tokens)
	require.ErrorIs(t, err, storage.ErrInvalidInput)
	assert.Zero(t, s.Len(), "batch must be all or nothing")
}

func TestUpsertKeepsPoolState(t *testing.T) {
	ctx := context.Background()
	s := NewTokenStore()
	_, err := s.UpsertTokens(ctx, sampleTokens())
	require.NoError(t, err)

	addr := "0xaaaa000000000000000000000000000000000001"
	pools := []model.Pool{{Address: "0xpool", Fee: 3000, Liquidity: "1"}}
	require.NoError(t, s.SavePoolResult(ctx, addr, pools))

	renamed := sampleTokens()[0]
	renamed.Deployer = "0xdddd000000000000000000000000000000000001"
	inserted, err := s.UpsertToken(ctx, renamed)
	require.NoError(t, err)
	assert.False(t, inserted)

	got, err := s.GetToken(ctx, addr)
	require.NoError(t, err)
	assert.True(t, got.HasPool)
	assert.Equal(t, pools, got.Pools)
	assert.Equal(t, renamed.Deployer, got.Deployer)
}

func TestFindUnprocessedForPools(t *testing.T) {
	ctx := context.Background()
	s := NewTokenStore()
	_, err := s.UpsertTokens(ctx, sampleTokens())
	require.NoError(t, err)

	pending, err := s.FindUnprocessedForPools(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, uint64(5), pending[0].BlockNumber)

	require.NoError(t, s.SavePoolResult(ctx, pending[0].ContractAddress, nil))

	pending, err = s.FindUnprocessedForPools(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, uint64(10), pending[0].BlockNumber)

	checked, err := s.GetToken(ctx, "0xaaaa000000000000000000000000000000000002")
	require.NoError(t, err)
	assert.False(t, checked.HasPool)
	assert.Empty(t, checked.Pools)
	assert.True(t, checked.PoolsChecked())

	_, err = s.FindUnprocessedForPools(ctx, 0)
	assert.ErrorIs(t, err, storage.ErrInvalidInput)
}

func TestSavePoolResultUnknownToken(t *testing.T) {
	err := NewTokenStore().SavePoolResult(context.Background(), "0xnope", nil)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestCursorStoreMonotonic(t *testing.T) {
	ctx := context.Background()
	c := NewCursorStore()

	_, ok, err := c.Load(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Save(ctx, 100))
	require.NoError(t, c.Save(ctx, 50))
	block, ok, err := c.Load(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, uint64(100), block)
}
