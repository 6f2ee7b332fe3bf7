package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"tokenScope/internal/model"
	"tokenScope/internal/storage"
)

// TokenStore is an in-memory implementation of storage.TokenStore.
type TokenStore struct {
	mu     sync.RWMutex
	tokens map[string]*model.Token
	nowFn  func() time.Time
}

// NewTokenStore creates an empty in-memory token store.
func NewTokenStore() *TokenStore {
	return &TokenStore{
		tokens: make(map[string]*model.Token),
		nowFn:  func() time.Time { return time.Now().UTC() },
	}
}

// Compile-time interface check.
var _ storage.TokenStore = (*TokenStore)(nil)

// UpsertTokens validates every token before writing any of them.
func (s *TokenStore) UpsertTokens(_ context.Context, tokens []model.TokenCreation) (storage.UpsertResult, error) {
	for _, token := range tokens {
		if err := storage.ValidateToken(token); err != nil {
			return storage.UpsertResult{}, err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var result storage.UpsertResult
	for _, token := range tokens {
		if s.upsertLocked(token) {
			result.Inserted++
		} else {
			result.Updated++
		}
	}
	return result, nil
}

// UpsertToken writes a single token.
func (s *TokenStore) UpsertToken(_ context.Context, token model.TokenCreation) (bool, error) {
	if err := storage.ValidateToken(token); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.upsertLocked(token), nil
}

func (s *TokenStore) upsertLocked(token model.TokenCreation) bool {
	key := strings.ToLower(token.ContractAddress)
	token.ContractAddress = key
	token.LegacyDeployer = ""
	now := s.nowFn()

	existing, ok := s.tokens[key]
	if ok {
		existing.TokenCreation = token
		existing.UpdatedAt = now
		return false
	}
	s.tokens[key] = &model.Token{
		TokenCreation: token,
		Pools:         []model.Pool{},
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	return true
}

// GetToken returns a copy of the stored token.
func (s *TokenStore) GetToken(_ context.Context, address string) (model.Token, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	token, ok := s.tokens[strings.ToLower(address)]
	if !ok {
		return model.Token{}, storage.ErrNotFound
	}
	return copyToken(token), nil
}

// FindUnprocessedForPools returns tokens without a pool check, oldest block first.
func (s *TokenStore) FindUnprocessedForPools(_ context.Context, limit int) ([]model.Token, error) {
	if limit <= 0 {
		return nil, storage.ErrInvalidInput
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	pending := make([]model.Token, 0)
	for _, token := range s.tokens {
		if token.PoolsChecked() {
			continue
		}
		pending = append(pending, copyToken(token))
	}
	sort.Slice(pending, func(i, j int) bool {
		if pending[i].BlockNumber != pending[j].BlockNumber {
			return pending[i].BlockNumber < pending[j].BlockNumber
		}
		return pending[i].ContractAddress < pending[j].ContractAddress
	})
	if len(pending) > limit {
		pending = pending[:limit]
	}
	return pending, nil
}

// SavePoolResult records the pool discovery outcome.
func (s *TokenStore) SavePoolResult(_ context.Context, address string, pools []model.Pool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	token, ok := s.tokens[strings.ToLower(address)]
	if !ok {
		return storage.ErrNotFound
	}
	now := s.nowFn()
	token.Pools = append([]model.Pool{}, pools...)
	token.HasPool = len(pools) > 0
	token.PoolsCheckedAt = &now
	token.UpdatedAt = now
	return nil
}

// Len returns the number of stored tokens.
func (s *TokenStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tokens)
}

func copyToken(token *model.Token) model.Token {
	out := *token
	out.Pools = append([]model.Pool{}, token.Pools...)
	if token.PoolsCheckedAt != nil {
		checked := *token.PoolsCheckedAt
		out.PoolsCheckedAt = &checked
	}
	return out
}
