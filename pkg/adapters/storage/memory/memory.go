package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/costwise/costwise/internal/domain"
)

// Store implements ports.SnapshotStore and ports.BlobStore in memory.
// It backs the local runner and tests.
type Store struct {
	mu         sync.RWMutex
	executions map[string]map[string]*domain.Execution // account -> execution id -> snapshot
	blobs      map[string][]byte
}

// NewStore creates an empty in-memory store.
func NewStore() *Store {
	return &Store{
		executions: make(map[string]map[string]*domain.Execution),
		blobs:      make(map[string][]byte),
	}
}

// SaveExecution overwrites the snapshot for the execution.
func (s *Store) SaveExecution(ctx context.Context, exec *domain.Execution) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	byID, ok := s.executions[exec.AccountID]
	if !ok {
		byID = make(map[string]*domain.Execution)
		s.executions[exec.AccountID] = byID
	}
	byID[exec.ID] = exec.Clone()
	return nil
}

// GetExecution returns the snapshot for one execution.
func (s *Store) GetExecution(ctx context.Context, accountID, executionID string) (*domain.Execution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	exec, ok := s.executions[accountID][executionID]
	if !ok {
		return nil, fmt.Errorf("execution not found: %s/%s", accountID, executionID)
	}
	return exec.Clone(), nil
}

// GetLatestExecution returns the account's execution with the maximum
// CreatedAt, or nil when the account has none.
func (s *Store) GetLatestExecution(ctx context.Context, accountID string) (*domain.Execution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest *domain.Execution
	for _, exec := range s.executions[accountID] {
		if latest == nil || exec.CreatedAt.After(latest.CreatedAt) {
			latest = exec
		}
	}
	if latest == nil {
		return nil, nil
	}
	return latest.Clone(), nil
}

// PutBlob stores a payload under the key.
func (s *Store) PutBlob(ctx context.Context, key string, data []byte, contentType string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := make([]byte, len(data))
	copy(cp, data)
	s.blobs[key] = cp
	return nil
}

// GetBlob returns a payload by key.
func (s *Store) GetBlob(ctx context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, ok := s.blobs[key]
	if !ok {
		return nil, fmt.Errorf("blob not found: %s", key)
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	return cp, nil
}
