package indexer

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"echopay/internal/storage"
)

// Checkpoint tracks the last processed block of each named cursor.
type Checkpoint struct {
	LastProcessedBlock uint64 `json:"last_processed_block"`
	UpdatedAt          string `json:"updated_at"`
}

// FileCursorStore persists cursors to a JSON file on disk.
type FileCursorStore struct {
	mu   sync.Mutex
	path string
}

func NewFileCursorStore(path string) *FileCursorStore {
	return &FileCursorStore{path: path}
}

func (c *FileCursorStore) load() (map[string]Checkpoint, error) {
	stat, err := os.Stat(c.path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]Checkpoint{}, nil
		}
		return nil, fmt.Errorf("stat checkpoint: %w", err)
	}
	if stat.IsDir() {
		return nil, fmt.Errorf("checkpoint path is a directory")
	}

	data, err := os.ReadFile(c.path)
	if err != nil {
		return nil, fmt.Errorf("read checkpoint: %w", err)
	}

	checkpoints := make(map[string]Checkpoint)
	if err := json.Unmarshal(data, &checkpoints); err != nil {
		return nil, fmt.Errorf("parse checkpoint: %w", err)
	}
	return checkpoints, nil
}

func (c *FileCursorStore) LoadCursor(_ context.Context, name string) (uint64, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	checkpoints, err := c.load()
	if err != nil {
		return 0, false, err
	}
	cp, ok := checkpoints[name]
	if !ok {
		return 0, false, nil
	}
	return cp.LastProcessedBlock, true, nil
}

func (c *FileCursorStore) SaveCursor(_ context.Context, name string, block uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	checkpoints, err := c.load()
	if err != nil {
		return err
	}
	checkpoints[name] = Checkpoint{
		LastProcessedBlock: block,
		UpdatedAt:          time.Now().UTC().Format(time.RFC3339Nano),
	}

	dir := filepath.Dir(c.path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create checkpoint dir: %w", err)
		}
	}

	data, err := json.Marshal(checkpoints)
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}

	tmpPath := c.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("write checkpoint tmp: %w", err)
	}
	if err := os.Rename(tmpPath, c.path); err != nil {
		return fmt.Errorf("rename checkpoint: %w", err)
	}

	return nil
}

var _ storage.CursorStore = (*FileCursorStore)(nil)
