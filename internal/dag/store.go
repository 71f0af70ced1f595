package dag

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// MemoryStore is an in-memory implementation of RunStore.
// It is safe for concurrent use. Data is lost when the process exits.
type MemoryStore struct {
	mu   sync.RWMutex
	runs map[string]*TaskRun
}

// NewMemoryStore creates a new in-memory run store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		runs: make(map[string]*TaskRun),
	}
}

func storeKey(runID, taskID string) string {
	return runID + "/" + taskID
}

// SaveTaskRun implements the RunStore interface.
func (s *MemoryStore) SaveTaskRun(ctx context.Context, run *TaskRun) error {
	if run.RunID == "" || run.TaskID == "" {
		return fmt.Errorf("run ID and task ID are required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Create a copy to avoid external modifications
	runCopy := *run
	s.runs[storeKey(run.RunID, run.TaskID)] = &runCopy

	return nil
}

// GetTaskRun implements the RunStore interface.
func (s *MemoryStore) GetTaskRun(ctx context.Context, runID, taskID string) (*TaskRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	run, exists := s.runs[storeKey(runID, taskID)]
	if !exists {
		return nil, fmt.Errorf("task run not found: %s/%s", runID, taskID)
	}

	runCopy := *run
	return &runCopy, nil
}

// ListTaskRuns implements the RunStore interface. Results are ordered by run ID, then task ID.
func (s *MemoryStore) ListTaskRuns(ctx context.Context, filter RunFilter) ([]*TaskRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*TaskRun
	for _, run := range s.runs {
		if filter.RunID != "" && run.RunID != filter.RunID {
			continue
		}
		if filter.State != "" && run.State != filter.State {
			continue
		}
		runCopy := *run
		result = append(result, &runCopy)
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].RunID != result[j].RunID {
			return result[i].RunID < result[j].RunID
		}
		return result[i].TaskID < result[j].TaskID
	})

	return result, nil
}

// Ensure MemoryStore implements RunStore interface.
var _ RunStore = (*MemoryStore)(nil)
