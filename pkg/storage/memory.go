package storage

import (
	"context"
	"sort"
	"sync"

	"github.com/apipulse/pulsed/pkg/definition"
	"github.com/apipulse/pulsed/pkg/requestlog"
)

// MemoryStore is the in-process Store implementation.
type MemoryStore struct {
	mu       sync.RWMutex
	services map[string]*definition.ServiceDefinition
	logs     []*requestlog.Entry
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{services: make(map[string]*definition.ServiceDefinition)}
}

// SaveService upserts the definition keyed by its name.
func (s *MemoryStore) SaveService(_ context.Context, def *definition.ServiceDefinition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.services[def.Name] = def
	return nil
}

// LoadService returns the named definition or ErrNotFound.
func (s *MemoryStore) LoadService(_ context.Context, name string) (*definition.ServiceDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	def, ok := s.services[name]
	if !ok {
		return nil, ErrNotFound
	}
	return def, nil
}

// ListServices returns service names in sorted order.
func (s *MemoryStore) ListServices(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.services))
	for name := range s.services {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// DeleteService removes the named definition or returns ErrNotFound.
func (s *MemoryStore) DeleteService(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.services[name]; !ok {
		return ErrNotFound
	}
	delete(s.services, name)
	return nil
}

// AppendLog records a request log entry.
func (s *MemoryStore) AppendLog(_ context.Context, e *requestlog.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logs = append(s.logs, e)
	return nil
}

// QueryLogs returns matching entries, newest first.
func (s *MemoryStore) QueryLogs(_ context.Context, q LogQuery) ([]*requestlog.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*requestlog.Entry
	skipped := 0
	for i := len(s.logs) - 1; i >= 0; i-- {
		e := s.logs[i]
		if q.Service != "" && e.Service != q.Service {
			continue
		}
		if q.Route != "" && e.Path != q.Route {
			continue
		}
		if q.Method != "" && e.Method != q.Method {
			continue
		}
		if q.Status != 0 && e.Status != q.Status {
			continue
		}
		if skipped < q.Offset {
			skipped++
			continue
		}
		out = append(out, e)
		if q.Limit > 0 && len(out) >= q.Limit {
			break
		}
	}
	return out, nil
}

// ClearLogs drops all log entries.
func (s *MemoryStore) ClearLogs(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logs = nil
	return nil
}
