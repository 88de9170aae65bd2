// Package execstore is the Execution Store (C8): a durable, best-effort
// audit trail of past executions for operators. It is never consulted
// for cache or correctness decisions and never stores raw agent source
// or raw tool arguments.
package execstore

import (
	"context"
	"sync"
	"time"
)

// ExecutionRecord is one durable audit entry, written exactly once per
// Execute call, after teardown.
type ExecutionRecord struct {
	ExecutionID   string    `json:"executionId"`
	TenantID      string    `json:"tenantId"`
	CodeHash      string    `json:"codeHash"`
	Status        string    `json:"status"` // "ok" | "error"
	ResultSummary string    `json:"resultSummary,omitempty"`
	ErrorMessage  string    `json:"errorMessage,omitempty"`
	ToolCallCount int       `json:"toolCallCount"`
	DurationMS    int64     `json:"durationMs"`
	CreatedAt     time.Time `json:"createdAt"`
}

const (
	StatusOK    = "ok"
	StatusError = "error"
)

// Store is the durable audit trail behind either the in-memory or
// gorm-backed implementation.
type Store interface {
	RecordExecution(ctx context.Context, record ExecutionRecord) error
	ListRecent(ctx context.Context, tenantID string, limit int) ([]ExecutionRecord, error)
	Close() error
}

// MemoryStore is a process-local Store, used in tests, when the store
// driver is configured as "memory", and by a Client built without a Store.
type MemoryStore struct {
	mu     sync.Mutex
	byID   map[string]ExecutionRecord
	order  []string
	closed bool
}

// NewMemoryStore returns an empty in-memory execution store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byID: make(map[string]ExecutionRecord)}
}

func (s *MemoryStore) RecordExecution(_ context.Context, record ExecutionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	if _, exists := s.byID[record.ExecutionID]; !exists {
		s.order = append(s.order, record.ExecutionID)
	}
	s.byID[record.ExecutionID] = record
	return nil
}

func (s *MemoryStore) ListRecent(_ context.Context, tenantID string, limit int) ([]ExecutionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]ExecutionRecord, 0, limit)
	for i := len(s.order) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		record := s.byID[s.order[i]]
		if tenantID != "" && record.TenantID != tenantID {
			continue
		}
		out = append(out, record)
	}
	return out, nil
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
