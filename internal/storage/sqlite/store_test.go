package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tokenScope/internal/model"
	"tokenScope/internal/storage"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "tokens.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	require.NoError(t, store.Migrate(context.Background()))
	return store
}

func testTokens() []model.TokenCreation {
	return []model.TokenCreation{
		{ContractAddress: "0xAAAA000000000000000000000000000000000001", Name: "Alpha", Symbol: "ALP", Decimals: 18, Deployer: "0xdddd000000000000000000000000000000000001", BlockNumber: 20, TransactionHash: "0x01"},
		{ContractAddress: "0xaaaa000000000000000000000000000000000002", Name: "Beta", Symbol: "BET", Decimals: 18, Deployer: model.DeployerUnknown, BlockNumber: 10, TransactionHash: "0x02"},
	}
}

func TestUpsertTokensIsIdempotent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	first, err := store.UpsertTokens(ctx, testTokens())
	require.NoError(t, err)
	assert.Equal(t, storage.UpsertResult{Inserted: 2}, first)

	second, err := store.UpsertTokens(ctx, testTokens())
	require.NoError(t, err)
	assert.Equal(t, storage.UpsertResult{Updated: 2}, second)

	got, err := store.GetToken(ctx, "0xAAAA000000000000000000000000000000000001")
	require.NoError(t, err)
	assert.Equal(t, "0xaaaa000000000000000000000000000000000001", got.ContractAddress)
	assert.Equal(t, "ALP", got.Symbol)
	assert.Equal(t, uint8(18), got.Decimals)
	assert.False(t, got.PoolsChecked())
	assert.Empty(t, got.Pools)
	assert.False(t, got.CreatedAt.IsZero())
}

func TestUpsertTokensRollsBackInvalidBatch(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.UpsertTokens(ctx, append(testTokens(), model.TokenCreation{}))
	require.ErrorIs(t, err, storage.ErrInvalidInput)

	_, err = store.GetToken(ctx, testTokens()[0].ContractAddress)
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func TestPoolResultSurvivesReupsert(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	token := testTokens()[1]

	inserted, err := store.UpsertToken(ctx, token)
	require.NoError(t, err)
	assert.True(t, inserted)

	pools := []model.Pool{{Address: "0xpool", PairWith: "0xusdc", PairSymbol: "USDC", Fee: 500, Liquidity: "7"}}
	require.NoError(t, store.SavePoolResult(ctx, token.ContractAddress, pools))

	inserted, err = store.UpsertToken(ctx, token)
	require.NoError(t, err)
	assert.False(t, inserted)

	got, err := store.GetToken(ctx, token.ContractAddress)
	require.NoError(t, err)
	assert.True(t, got.HasPool)
	require.NotNil(t, got.PoolsCheckedAt)
	assert.Equal(t, pools, got.Pools)

	pending, err := store.FindUnprocessedForPools(ctx, 5)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestFindUnprocessedForPoolsOrdersByBlock(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	_, err := store.UpsertTokens(ctx, testTokens())
	require.NoError(t, err)

	pending, err := store.FindUnprocessedForPools(ctx, 1)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, uint64(10), pending[0].BlockNumber)

	_, err = store.FindUnprocessedForPools(ctx, -1)
	require.ErrorIs(t, err, storage.ErrInvalidInput)

	require.ErrorIs(t, store.SavePoolResult(ctx, "0xmissing", nil), storage.ErrNotFound)
}

func TestCursorStore(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	cursor := store.CursorStore("token-factory")

	_, ok, err := cursor.Load(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, cursor.Save(ctx, 500))
	require.NoError(t, cursor.Save(ctx, 400))
	block, ok, err := cursor.Load(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, uint64(500), block)

	require.NoError(t, cursor.Reset(ctx, 400))
	block, _, err = cursor.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(400), block)

	other, ok, err := store.CursorStore("other").Load(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Zero(t, other)
}
