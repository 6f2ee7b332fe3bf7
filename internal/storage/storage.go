package storage

import (
	"context"
	"errors"

	"tokenScope/internal/model"
)

var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidInput is returned when input validation fails.
	ErrInvalidInput = errors.New("invalid input")
)

// UpsertResult counts the outcome of a bulk upsert.
type UpsertResult struct {
	Inserted int `json:"inserted"`
	Updated  int `json:"updated"`
}

// Add accumulates another result.
func (r *UpsertResult) Add(other UpsertResult) {
	r.Inserted += other.Inserted
	r.Updated += other.Updated
}

// TokenStore persists tokens keyed by contract address. Upserts are
// idempotent and never modify pool discovery fields.
type TokenStore interface {
	// UpsertTokens writes all tokens or none.
	UpsertTokens(ctx context.Context, tokens []model.TokenCreation) (UpsertResult, error)
	// UpsertToken writes one token and reports whether it was newly inserted.
	UpsertToken(ctx context.Context, token model.TokenCreation) (bool, error)
	// GetToken returns ErrNotFound for unknown addresses.
	GetToken(ctx context.Context, address string) (model.Token, error)
	// FindUnprocessedForPools returns up to limit tokens never pool-checked,
	// oldest block first.
	FindUnprocessedForPools(ctx context.Context, limit int) ([]model.Token, error)
	// SavePoolResult marks a token pool-checked with the given pools.
	SavePoolResult(ctx context.Context, address string, pools []model.Pool) error
}

// CursorStore persists the last fully processed block.
type CursorStore interface {
	Load(ctx context.Context) (uint64, bool, error)
	Save(ctx context.Context, block uint64) error
}

// ResettableCursorStore can also move the cursor backwards for operator replays.
type ResettableCursorStore interface {
	CursorStore
	Reset(ctx context.Context, block uint64) error
}

// DecodeErrorSink receives logs that were skipped because they failed to decode.
type DecodeErrorSink interface {
	PutDecodeErrors(errs []model.DecodeError) error
}

// ValidateToken checks the fields every store relies on.
func ValidateToken(token model.TokenCreation) error {
	if token.ContractAddress == "" {
		return ErrInvalidInput
	}
	return nil
}
