package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// FileStore persists each execution as one JSON document under a directory.
// It exists as the crash-recovery checkpoint backend: the engine saves a
// snapshot after every task transition, so a restarted process can inspect
// where each run got to. Writes go through a temp file and rename so a crash
// mid-write never leaves a torn document.
type FileStore struct {
	dir string
}

// NewFileStore creates the directory if needed and returns the store.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("state: create store directory %s: %w", dir, err)
	}
	return &FileStore{dir: dir}, nil
}

// path maps an execution id to its on-disk document.
func (s *FileStore) path(executionID string) string {
	return filepath.Join(s.dir, executionID+".json")
}

// Save implements Store.
func (s *FileStore) Save(_ context.Context, execution *Execution) error {
	data, err := json.MarshalIndent(execution.Snapshot(), "", "  ")
	if err != nil {
		return fmt.Errorf("state: encode execution %s: %w", execution.ID, err)
	}

	tmp, err := os.CreateTemp(s.dir, execution.ID+".tmp-*")
	if err != nil {
		return fmt.Errorf("state: create temp file for %s: %w", execution.ID, err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("state: write execution %s: %w", execution.ID, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("state: close temp file for %s: %w", execution.ID, err)
	}
	if err := os.Rename(tmp.Name(), s.path(execution.ID)); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("state: persist execution %s: %w", execution.ID, err)
	}
	return nil
}

// Load implements Store.
func (s *FileStore) Load(_ context.Context, executionID string) (*Execution, error) {
	data, err := os.ReadFile(s.path(executionID))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("state: read execution %s: %w", executionID, err)
	}
	var execution Execution
	if err := json.Unmarshal(data, &execution); err != nil {
		return nil, fmt.Errorf("state: decode execution %s: %w", executionID, err)
	}
	return &execution, nil
}

// List implements Store.
func (s *FileStore) List(ctx context.Context, filter Filter) ([]Summary, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("state: read store directory %s: %w", s.dir, err)
	}

	var summaries []Summary
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		execution, err := s.Load(ctx, strings.TrimSuffix(name, ".json"))
		if err != nil {
			return nil, err
		}
		if matches(execution, filter) {
			summaries = append(summaries, execution.Summarize())
		}
	}
	sortSummaries(summaries)
	return summaries, nil
}
