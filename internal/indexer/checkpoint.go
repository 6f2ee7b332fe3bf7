package indexer

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"tokenScope/internal/storage"
)

// Checkpoint is the on-disk form of the scan cursor.
type Checkpoint struct {
	LastProcessedBlock uint64 `json:"last_processed_block"`
	UpdatedAt          string `json:"updated_at"`
}

// CheckpointStore persists the scan cursor to a JSON file. Saves never move
// the cursor backwards; Reset does.
type CheckpointStore struct {
	mu   sync.Mutex
	path string
}

var _ storage.ResettableCursorStore = (*CheckpointStore)(nil)

func NewCheckpointStore(path string) *CheckpointStore {
	return &CheckpointStore{path: path}
}

func (c *CheckpointStore) Load(_ context.Context) (uint64, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cp, ok, err := c.read()
	if err != nil || !ok {
		return 0, ok, err
	}
	return cp.LastProcessedBlock, true, nil
}

func (c *CheckpointStore) Save(_ context.Context, block uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	cp, ok, err := c.read()
	if err != nil {
		return err
	}
	if ok && block < cp.LastProcessedBlock {
		return nil
	}
	return c.write(block)
}

func (c *CheckpointStore) Reset(_ context.Context, block uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.write(block)
}

func (c *CheckpointStore) read() (Checkpoint, bool, error) {
	stat, err := os.Stat(c.path)
	if err != nil {
		if os.IsNotExist(err) {
			return Checkpoint{}, false, nil
		}
		return Checkpoint{}, false, fmt.Errorf("stat checkpoint: %w", err)
	}
	if stat.IsDir() {
		return Checkpoint{}, false, fmt.Errorf("checkpoint path is a directory")
	}

	data, err := os.ReadFile(c.path)
	if err != nil {
		return Checkpoint{}, false, fmt.Errorf("read checkpoint: %w", err)
	}

	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return Checkpoint{}, false, fmt.Errorf("parse checkpoint: %w", err)
	}
	return cp, true, nil
}

func (c *CheckpointStore) write(block uint64) error {
	dir := filepath.Dir(c.path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create checkpoint dir: %w", err)
		}
	}

	cp := Checkpoint{
		LastProcessedBlock: block,
		UpdatedAt:          time.Now().UTC().Format(time.RFC3339Nano),
	}
	data, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}

	// Write then rename so a crash never leaves a torn file.
	tmpPath := c.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("write checkpoint tmp: %w", err)
	}
	if err := os.Rename(tmpPath, c.path); err != nil {
		return fmt.Errorf("rename checkpoint: %w", err)
	}
	return nil
}
