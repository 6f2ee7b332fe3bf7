package indexer

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestCheckpointStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state", "cursor.json")
	store := NewCheckpointStore(path)

	if _, ok, err := store.Load(ctx); err != nil || ok {
		t.Fatalf("expected empty checkpoint, got ok=%v err=%v", ok, err)
	}
	if err := store.Save(ctx, 120); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := store.Save(ctx, 80); err != nil {
		t.Fatalf("save lower: %v", err)
	}
	block, ok, err := store.Load(ctx)
	if err != nil || !ok {
		t.Fatalf("load: ok=%v err=%v", ok, err)
	}
	if block != 120 {
		t.Fatalf("expected cursor to stay at 120, got %d", block)
	}

	if err := store.Reset(ctx, 80); err != nil {
		t.Fatalf("reset: %v", err)
	}
	block, _, _ = store.Load(ctx)
	if block != 80 {
		t.Fatalf("expected reset cursor 80, got %d", block)
	}

	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Fatalf("temporary checkpoint file left behind: %v", err)
	}
}

func TestCheckpointStoreRejectsCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cursor.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, _, err := NewCheckpointStore(path).Load(context.Background()); err == nil {
		t.Fatalf("expected parse error")
	}
}
