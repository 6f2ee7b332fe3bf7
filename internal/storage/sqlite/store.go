// Package sqlite is a single-file TokenStore for local runs.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"tokenScope/internal/model"
	"tokenScope/internal/storage"
)

//go:embed schema.sql
var schemaSQL string

const upsertTokenSQL = `
	INSERT INTO tokens (
		contract_address, name, symbol, decimals, deployer, block_number, transaction_hash, created_at, updated_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (contract_address) DO UPDATE SET
		name = excluded.name,
		symbol = excluded.symbol,
		decimals = excluded.decimals,
		deployer = excluded.deployer,
		block_number = excluded.block_number,
		transaction_hash = excluded.transaction_hash,
		updated_at = excluded.updated_at
`

const selectTokenColumns = `
	SELECT contract_address, name, symbol, decimals, deployer, block_number, transaction_hash,
		has_pool, pools, pools_checked_at, created_at, updated_at
	FROM tokens
`

type Store struct {
	db    *sql.DB
	nowFn func() time.Time
}

var _ storage.TokenStore = (*Store)(nil)

// Open opens (or creates) the database at path. Use ":memory:" for tests.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	if path != ":memory:" {
		dir := filepath.Dir(path)
		if dir != "." && dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create db dir: %w", err)
			}
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// SQLite allows one writer; a single connection also keeps :memory: shared.
	db.SetMaxOpenConns(1)
	if path != ":memory:" {
		if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
			db.Close()
			return nil, fmt.Errorf("enable wal: %w", err)
		}
	}
	return &Store{
		db:    db,
		nowFn: func() time.Time { return time.Now().UTC() },
	}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Migrate creates the schema if it does not exist.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// UpsertTokens writes all tokens inside one transaction.
func (s *Store) UpsertTokens(ctx context.Context, tokens []model.TokenCreation) (storage.UpsertResult, error) {
	if len(tokens) == 0 {
		return storage.UpsertResult{}, nil
	}
	for _, token := range tokens {
		if err := storage.ValidateToken(token); err != nil {
			return storage.UpsertResult{}, err
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storage.UpsertResult{}, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	var result storage.UpsertResult
	for _, token := range tokens {
		inserted, err := s.upsert(ctx, tx, token)
		if err != nil {
			return storage.UpsertResult{}, err
		}
		if inserted {
			result.Inserted++
		} else {
			result.Updated++
		}
	}
	if err := tx.Commit(); err != nil {
		return storage.UpsertResult{}, fmt.Errorf("commit: %w", err)
	}
	return result, nil
}

func (s *Store) UpsertToken(ctx context.Context, token model.TokenCreation) (bool, error) {
	if err := storage.ValidateToken(token); err != nil {
		return false, err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	inserted, err := s.upsert(ctx, tx, token)
	if err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit: %w", err)
	}
	return inserted, nil
}

func (s *Store) upsert(ctx context.Context, tx *sql.Tx, token model.TokenCreation) (bool, error) {
	address := strings.ToLower(token.ContractAddress)

	var exists int
	err := tx.QueryRowContext(ctx, `SELECT 1 FROM tokens WHERE contract_address = ?`, address).Scan(&exists)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return false, fmt.Errorf("lookup token: %w", err)
	}

	now := s.nowFn().Format(time.RFC3339Nano)
	_, err = tx.ExecContext(ctx, upsertTokenSQL,
		address,
		token.Name,
		token.Symbol,
		int64(token.Decimals),
		token.Deployer,
		int64(token.BlockNumber),
		token.TransactionHash,
		now,
		now,
	)
	if err != nil {
		return false, fmt.Errorf("upsert token: %w", err)
	}
	return exists == 0, nil
}

func (s *Store) GetToken(ctx context.Context, address string) (model.Token, error) {
	row := s.db.QueryRowContext(ctx, selectTokenColumns+` WHERE contract_address = ?`, strings.ToLower(address))
	token, err := scanToken(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Token{}, storage.ErrNotFound
		}
		return model.Token{}, fmt.Errorf("get token: %w", err)
	}
	return token, nil
}

func (s *Store) FindUnprocessedForPools(ctx context.Context, limit int) ([]model.Token, error) {
	if limit <= 0 {
		return nil, storage.ErrInvalidInput
	}
	rows, err := s.db.QueryContext(ctx, selectTokenColumns+`
		WHERE pools_checked_at IS NULL
		ORDER BY block_number, contract_address
		LIMIT ?
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

func (s *Store) SavePoolResult(ctx context.Context, address string, pools []model.Pool) error {
	if pools == nil {
		pools = []model.Pool{}
	}
	payload, err := json.Marshal(pools)
	if err != nil {
		return fmt.Errorf("marshal pools: %w", err)
	}
	now := s.nowFn().Format(time.RFC3339Nano)
	res, err := s.db.ExecContext(ctx, `
		UPDATE tokens
		SET has_pool = ?, pools = ?, pools_checked_at = ?, updated_at = ?
		WHERE contract_address = ?
	`, len(pools) > 0, string(payload), now, now, strings.ToLower(address))
	if err != nil {
		return fmt.Errorf("save pool result: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// LoadCursor returns last_processed_block for a name.
func (s *Store) LoadCursor(ctx context.Context, name string) (uint64, bool, error) {
	var block int64
	err := s.db.QueryRowContext(ctx, `SELECT last_processed_block FROM indexer_state WHERE name = ?`, name).Scan(&block)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, err
	}
	return uint64(block), true, nil
}

// SaveCursor stores block unless a higher value is already recorded.
func (s *Store) SaveCursor(ctx context.Context, name string, block uint64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO indexer_state (name, last_processed_block, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT (name) DO UPDATE SET
			last_processed_block = MAX(indexer_state.last_processed_block, excluded.last_processed_block),
			updated_at = excluded.updated_at
	`, name, int64(block), s.nowFn().Format(time.RFC3339Nano))
	return err
}

// ForceCursor overwrites the cursor, including moving it backwards.
func (s *Store) ForceCursor(ctx context.Context, name string, block uint64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO indexer_state (name, last_processed_block, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT (name) DO UPDATE SET
			last_processed_block = excluded.last_processed_block,
			updated_at = excluded.updated_at
	`, name, int64(block), s.nowFn().Format(time.RFC3339Nano))
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

type rowScanner interface {
	Scan(dest ...any) error
}

func scanToken(row rowScanner) (model.Token, error) {
	var (
		token       model.Token
		decimals    int64
		blockNumber int64
		poolsJSON   string
		checkedAt   sql.NullString
		createdAt   string
		updatedAt   string
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
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return model.Token{}, err
	}
	token.Decimals = uint8(decimals)
	token.BlockNumber = uint64(blockNumber)
	if err := json.Unmarshal([]byte(poolsJSON), &token.Pools); err != nil {
		return model.Token{}, fmt.Errorf("decode pools: %w", err)
	}
	if token.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return model.Token{}, fmt.Errorf("parse created_at: %w", err)
	}
	if token.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
		return model.Token{}, fmt.Errorf("parse updated_at: %w", err)
	}
	if checkedAt.Valid {
		ts, err := time.Parse(time.RFC3339Nano, checkedAt.String)
		if err != nil {
			return model.Token{}, fmt.Errorf("parse pools_checked_at: %w", err)
		}
		token.PoolsCheckedAt = &ts
	}
	return token, nil
}
