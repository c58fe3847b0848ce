package state

import (
	"context"
	"errors"
	"sort"
	"sync"
)

// ErrNotFound is returned by Load for an unknown execution id.
var ErrNotFound = errors.New("execution not found")

// Filter narrows a store listing. Zero values match everything.
type Filter struct {
	WorkflowID string
	Status     string
}

// Store is the persistence contract for execution state. Save is an
// idempotent overwrite keyed by execution id; concurrent writers for
// distinct ids must not interfere. Listings are ordered most-recent-first
// by start time.
type Store interface {
	Save(ctx context.Context, execution *Execution) error
	Load(ctx context.Context, executionID string) (*Execution, error)
	List(ctx context.Context, filter Filter) ([]Summary, error)
}

// MemoryStore is the in-process Store used by default and in tests.
type MemoryStore struct {
	mutex      sync.RWMutex
	executions map[string]*Execution
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		executions: make(map[string]*Execution),
	}
}

// Save implements Store. The stored value is a snapshot, so the caller may
// keep mutating its copy.
func (s *MemoryStore) Save(_ context.Context, execution *Execution) error {
	snapshot := execution.Snapshot()

	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.executions[snapshot.ID] = snapshot
	return nil
}

// Load implements Store.
func (s *MemoryStore) Load(_ context.Context, executionID string) (*Execution, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	execution, ok := s.executions[executionID]
	if !ok {
		return nil, ErrNotFound
	}
	return execution.Snapshot(), nil
}

// List implements Store.
func (s *MemoryStore) List(_ context.Context, filter Filter) ([]Summary, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	var summaries []Summary
	for _, execution := range s.executions {
		if matches(execution, filter) {
			summaries = append(summaries, execution.Summarize())
		}
	}
	sortSummaries(summaries)
	return summaries, nil
}

// matches applies a listing filter to one execution.
func matches(execution *Execution, filter Filter) bool {
	if filter.WorkflowID != "" && execution.WorkflowID != filter.WorkflowID {
		return false
	}
	if filter.Status != "" && execution.Status != filter.Status {
		return false
	}
	return true
}

// sortSummaries orders listings most-recent-first, with the execution id as
// a stable tie-break for runs started in the same instant.
func sortSummaries(summaries []Summary) {
	sort.Slice(summaries, func(i, j int) bool {
		if !summaries[i].StartedAt.Equal(summaries[j].StartedAt) {
			return summaries[i].StartedAt.After(summaries[j].StartedAt)
		}
		return summaries[i].ExecutionID < summaries[j].ExecutionID
	})
}
