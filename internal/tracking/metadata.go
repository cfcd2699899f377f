package tracking

import (
	"sync"

	"github.com/kozaktomas/facetrack/internal/database"
)

// MetadataCache holds employee records for display and statistics. It is
// replaced wholesale on every reload.
type MetadataCache struct {
	mu        sync.RWMutex
	employees map[string]database.Employee
}

func NewMetadataCache() *MetadataCache {
	return &MetadataCache{employees: make(map[string]database.Employee)}
}

// Replace swaps in a fresh set of employees.
func (m *MetadataCache) Replace(employees []database.Employee) {
	next := make(map[string]database.Employee, len(employees))
	for _, e := range employees {
		next[e.ID] = e
	}
	m.mu.Lock()
	m.employees = next
	m.mu.Unlock()
}

// Get returns the employee with the given ID.
func (m *MetadataCache) Get(id string) (database.Employee, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.employees[id]
	return e, ok
}

// Department returns the department of an employee, "unknown" when not cached.
func (m *MetadataCache) Department(id string) string {
	if e, ok := m.Get(id); ok && e.Department != "" {
		return e.Department
	}
	return "unknown"
}

// Len returns the number of cached employees.
func (m *MetadataCache) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.employees)
}
