package memory

import (
	"context"
	"sync"

	"tokenScope/internal/storage"
)

// CursorStore keeps the scan cursor in memory. Saves never move it backwards.
type CursorStore struct {
	mu    sync.Mutex
	block uint64
	set   bool
}

func NewCursorStore() *CursorStore {
	return &CursorStore{}
}

var _ storage.ResettableCursorStore = (*CursorStore)(nil)

func (s *CursorStore) Load(_ context.Context) (uint64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.block, s.set, nil
}

func (s *CursorStore) Save(_ context.Context, block uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.set && block < s.block {
		return nil
	}
	s.block = block
	s.set = true
	return nil
}

func (s *CursorStore) Reset(_ context.Context, block uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.block = block
	s.set = true
	return nil
}
