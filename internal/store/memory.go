package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/fpang/biomech-analyzer/internal/analysis"
)

// MemoryStore keeps sessions in process memory. Records are deep-copied on
// the way in and out.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string][]byte
}

var _ AnalysisStore = (*MemoryStore)(nil)

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string][]byte)}
}

func (m *MemoryStore) Get(_ context.Context, id string) (*analysis.Session, error) {
	m.mu.RLock()
	data, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	return decodeSession(id, data)
}

func (m *MemoryStore) Put(_ context.Context, s *analysis.Session) error {
	if s.CreatedAt == 0 {
		s.CreatedAt = time.Now().Unix()
	}
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal session %s: %w", s.ID, err)
	}
	m.mu.Lock()
	m.sessions[s.ID] = data
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) UpdateStatus(_ context.Context, id, status string, sessErr *analysis.SessionError) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	data, ok := m.sessions[id]
	if !ok {
		return fmt.Errorf("update status %s: %w", id, ErrNotFound)
	}
	s, err := decodeSession(id, data)
	if err != nil {
		return err
	}
	if err := checkTransition(id, s.Status, status); err != nil {
		return err
	}
	applyStatus(s, status, sessErr)
	updated, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal session %s: %w", id, err)
	}
	m.sessions[id] = updated
	return nil
}

func applyStatus(s *analysis.Session, status string, sessErr *analysis.SessionError) {
	s.Status = status
	if status == analysis.StatusError {
		s.Error = sessErr
	} else {
		s.Error = nil
	}
}

func decodeSession(id string, data []byte) (*analysis.Session, error) {
	var s analysis.Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decode session %s: %w", id, err)
	}
	s.ID = id
	return &s, nil
}
