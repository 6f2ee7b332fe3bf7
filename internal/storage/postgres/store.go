package postgres

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"tokenScope/internal/model"
	"tokenScope/internal/storage"
)

//go:embed schema.sql
var schemaSQL string

const upsertTokenSQL = `
	INSERT INTO tokens (
		contract_address, name, symbol, decimals, deployer, block_number, transaction_hash, created_at, updated_at
	) VALUES ($1, $2, $3, $4, $5, $6, $7, now(), now())
	ON CONFLICT (contract_address)
	DO UPDATE SET
		name = EXCLUDED.name,
		symbol = EXCLUDED.symbol,
		decimals = EXCLUDED.decimals,
		deployer = EXCLUDED.deployer,
		block_number = EXCLUDED.block_number,
		transaction_hash = EXCLUDED.transaction_hash,
		updated_at = now()
	RETURNING (xmax = 0) AS inserted
`

const selectTokenColumns = `
	SELECT contract_address, name, symbol, decimals, deployer, block_number, transaction_hash,
		has_pool, pools::text, pools_checked_at, created_at, updated_at
	FROM tokens
`

// Store provides Postgres persistence for tokens and the scan cursor.
type Store struct {
	pool *pgxpool.Pool
}

var _ storage.TokenStore = (*Store)(nil)

func NewStore(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("pg dsn is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// Ping verifies connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Migrate creates the schema if it does not exist.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// UpsertTokens inserts or updates tokens in a single transaction.
func (s *Store) UpsertTokens(ctx context.Context, tokens []model.TokenCreation) (storage.UpsertResult, error) {
	if len(tokens) == 0 {
		return storage.UpsertResult{}, nil
	}
	for _, token := range tokens {
		if err := storage.ValidateToken(token); err != nil {
			return storage.UpsertResult{}, err
		}
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return storage.UpsertResult{}, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	batch := &pgx.Batch{}
	for _, token := range tokens {
		queueUpsert(batch, token)
	}

	br := tx.SendBatch(ctx, batch)
	var result storage.UpsertResult
	for range tokens {
		var inserted bool
		if err := br.QueryRow().Scan(&inserted); err != nil {
			br.Close()
			return storage.UpsertResult{}, fmt.Errorf("upsert token: %w", err)
		}
		if inserted {
			result.Inserted++
		} else {
			result.Updated++
		}
	}
	if err := br.Close(); err != nil {
		return storage.UpsertResult{}, fmt.Errorf("close batch: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return storage.UpsertResult{}, fmt.Errorf("commit: %w", err)
	}
	return result, nil
}

// UpsertToken inserts or updates a single token.
func (s *Store) UpsertToken(ctx context.Context, token model.TokenCreation) (bool, error) {
	if err := storage.ValidateToken(token); err != nil {
		return false, err
	}
	var inserted bool
	err := s.pool.QueryRow(ctx, upsertTokenSQL, upsertArgs(token)...).Scan(&inserted)
	if err != nil {
		return false, fmt.Errorf("upsert token: %w", err)
	}
	return inserted, nil
}

func queueUpsert(batch *pgx.Batch, token model.TokenCreation) {
	batch.Queue(upsertTokenSQL, upsertArgs(token)...)
}

func upsertArgs(token model.TokenCreation) []interface{} {
	return []interface{}{
		strings.ToLower(token.ContractAddress),
		token.Name,
		token.Symbol,
		int16(token.Decimals),
		token.Deployer,
		int64(token.BlockNumber),
		token.TransactionHash,
	}
}

// GetToken loads one token by address.
func (s *Store) GetToken(ctx context.Context, address string) (model.Token, error) {
	row := s.pool.QueryRow(ctx, selectTokenColumns+` WHERE contract_address = $1`, strings.ToLower(address))
	token, err := scanToken(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Token{}, storage.ErrNotFound
		}
		return model.Token{}, fmt.Errorf("get token: %w", err)
	}
	return token, nil
}

// FindUnprocessedForPools returns tokens that have not been pool-checked.
func (s *Store) FindUnprocessedForPools(ctx context.Context, limit int) ([]model.Token, error) {
	if limit <= 0 {
		return nil, storage.ErrInvalidInput
	}
	rows, err := s.pool.Query(ctx, selectTokenColumns+`
		WHERE pools_checked_at IS NULL
		ORDER BY block_number, contract_address
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query unprocessed tokens: %w", err)
	}
	defer rows.Close()

	tokens := make([]model.Token, 0, limit)
	for rows.Next() {
		token, err := scanToken(rows)
		if err != nil {
			return nil, fmt.Errorf("scan token: %w", err)
		}
		tokens = append(tokens, token)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tokens: %w", err)
	}
	return tokens, nil
}

// SavePoolResult stores discovered pools and marks the token pool-checked.
func (s *Store) SavePoolResult(ctx context.Context, address string, pools []model.Pool) error {
	if pools == nil {
		pools = []model.Pool{}
	}
	payload, err := json.Marshal(pools)
	if err != nil {
		return fmt.Errorf("marshal pools: %w", err)
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE tokens
		SET has_pool = $2, pools = $3::jsonb, pools_checked_at = now(), updated_at = now()
		WHERE contract_address = $1
	`, strings.ToLower(address), len(pools) > 0, string(payload))
	if err != nil {
		return fmt.Errorf("save pool result: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// LoadCursor returns last_processed_block for a name.
func (s *Store) LoadCursor(ctx context.Context, name string) (uint64, bool, error) {
	if name == "" {
		return 0, false, fmt.Errorf("cursor name required")
	}
	var block int64
	row := s.pool.QueryRow(ctx, `SELECT last_processed_block FROM indexer_state WHERE name=$1`, name)
	if err := row.Scan(&block); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, err
	}
	return uint64(block), true, nil
}

// SaveCursor upserts last_processed_block for a name. The stored value never decreases.
func (s *Store) SaveCursor(ctx context.Context, name string, block uint64) error {
	if name == "" {
		return fmt.Errorf("cursor name required")
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO indexer_state (name, last_processed_block, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (name) DO UPDATE
		SET last_processed_block = GREATEST(indexer_state.last_processed_block, EXCLUDED.last_processed_block),
			updated_at = now()
	`, name, int64(block))
	return err
}

// ForceCursor overwrites the cursor, including moving it backwards.
func (s *Store) ForceCursor(ctx context.Context, name string, block uint64) error {
	if name == "" {
		return fmt.Errorf("cursor name required")
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO indexer_state (name, last_processed_block, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (name) DO UPDATE
		SET last_processed_block = EXCLUDED.last_processed_block, updated_at = now()
	`, name, int64(block))
	return err
}

// CursorStore binds the store to one cursor name.
func (s *Store) CursorStore(name string) storage.ResettableCursorStore {
	return &cursorStore{store: s, name: name}
}

type cursorStore struct {
	store *Store
	name  string
}

func (c *cursorStore) Load(ctx context.Context) (uint64, bool, error) {
	return c.store.LoadCursor(ctx, c.name)
}

func (c *cursorStore) Save(ctx context.Context, block uint64) error {
	return c.store.SaveCursor(ctx, c.name, block)
}

func (c *cursorStore) Reset(ctx context.Context, block uint64) error {
	return c.store.ForceCursor(ctx, c.name, block)
}

func scanToken(row pgx.Row) (model.Token, error) {
	var (
		token       model.Token
		decimals    int16
		blockNumber int64
		poolsJSON   string
		checkedAt   *time.Time
	)
	err := row.Scan(
		&token.ContractAddress,
		&token.Name,
		&token.Symbol,
		&decimals,
		&token.Deployer,
		&blockNumber,
		&token.TransactionHash,
		&token.HasPool,
		&poolsJSON,
		&checkedAt,
		&token.CreatedAt,
		&token.UpdatedAt,
	)
	if err != nil {
		return model.Token{}, err
	}
	token.Decimals = uint8(decimals)
	token.BlockNumber = uint64(blockNumber)
	token.PoolsCheckedAt = checkedAt
	if err := json.Unmarshal([]byte(poolsJSON), &token.Pools); err != nil {
		return model.Token{}, fmt.Errorf("decode pools: %w", err)
	}
	return token, nil
}
