package store

import (
	"slices"
	"strings"
	"sync"
)

// MemoryStore is an in-memory implementation of [Store].
//
// Statuses are keyed by endpoint URL, with new results replacing previous
// values.
type MemoryStore struct {
	mu       sync.RWMutex
	statuses map[string]EndpointStatus
}

// NewMemoryStore creates a new in-memory [Store] implementation.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		statuses: make(map[string]EndpointStatus),
	}
}

// Update stores an [EndpointStatus] keyed by its Server.
func (m *MemoryStore) Update(status EndpointStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statuses[status.Server] = status
}

// Get returns the latest status for server.
func (m *MemoryStore) Get(server string) (EndpointStatus, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.statuses[server]
	return s, ok
}

// GetAll returns a snapshot of all stored statuses, sorted by Server.
func (m *MemoryStore) GetAll() []EndpointStatus {
	m.mu.RLock()
	results := make([]EndpointStatus, 0, len(m.statuses))
	for _, status := range m.statuses {
		results = append(results, status)
	}
	m.mu.RUnlock()

	slices.SortFunc(results, func(a, b EndpointStatus) int {
		return strings.Compare(a.Server, b.Server)
	})
	return results
}

var _ Store = (*MemoryStore)(nil)
