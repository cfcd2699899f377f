// Package mock provides an in-memory implementation of database.Store for testing.
package mock

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/kozaktomas/facetrack/internal/database"
)

// MockStore is an in-memory database.Store with error injection.
type MockStore struct {
	mu         sync.RWMutex
	employees  map[string]*database.Employee
	embeddings []database.StoredEmbedding
	attendance []database.AttendanceRecord
	nextID     int64

	// Error injection
	StoreEmbeddingError   error
	GetActiveError        error
	CleanupError          error
	GetLatestError        error
	CreateAttendanceError error
	SaveEmployeeError     error
	ReplaceEnrollError    error

	// Call counters
	StoreEmbeddingCalls int
	CleanupCalls        int
}

var _ database.Store = (*MockStore)(nil)

// NewMockStore creates a new empty mock store
func NewMockStore() *MockStore {
	return &MockStore{employees: make(map[string]*database.Employee)}
}

// AddEmployee adds an active employee to the mock store
func (m *MockStore) AddEmployee(emp database.Employee) {
	m.mu.Lock()
	defer m.mu.Unlock()
	emp.Active = true
	m.employees[emp.ID] = &emp
}

// AddAttendance adds a record directly, bypassing error injection
func (m *MockStore) AddAttendance(rec database.AttendanceRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	rec.ID = m.nextID
	m.attendance = append(m.attendance, rec)
}

// Embeddings returns a copy of all stored embeddings
func (m *MockStore) Embeddings() []database.StoredEmbedding {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]database.StoredEmbedding(nil), m.embeddings...)
}

// Attendance returns a copy of all attendance records
func (m *MockStore) Attendance() []database.AttendanceRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]database.AttendanceRecord(nil), m.attendance...)
}

func (m *MockStore) GetAllActiveEmbeddings(ctx context.Context) (database.ActiveEmbeddings, error) {
	if m.GetActiveError != nil {
		return database.ActiveEmbeddings{}, m.GetActiveError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out database.ActiveEmbeddings
	updates := make(map[string]int)
	// newest first so the update cap keeps the most recent ones
	for i := len(m.embeddings) - 1; i >= 0; i-- {
		e := m.embeddings[i]
		emp, ok := m.employees[e.EmployeeID]
		if !e.Active || !ok || !emp.Active {
			continue
		}
		if e.Type == database.EmbeddingUpdate {
			if updates[e.EmployeeID] >= database.RecentUpdatesPerEmployee {
				continue
			}
			updates[e.EmployeeID]++
		}
		out.Vectors = append(out.Vectors, e.Embedding)
		out.Labels = append(out.Labels, e.EmployeeID)
	}
	return out, nil
}

func (m *MockStore) CountEmbeddings(ctx context.Context, employeeID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, e := range m.embeddings {
		if e.EmployeeID == employeeID && e.Active {
			n++
		}
	}
	return n, nil
}

func (m *MockStore) StoreEmbedding(ctx context.Context, emb database.StoredEmbedding) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.StoreEmbeddingCalls++
	if m.StoreEmbeddingError != nil {
		return 0, m.StoreEmbeddingError
	}
	if _, ok := m.employees[emb.EmployeeID]; !ok {
		return 0, fmt.Errorf("employee %s: %w", emb.EmployeeID, database.ErrNotFound)
	}
	if emb.Type == "" {
		emb.Type = database.EmbeddingEnroll
	}
	m.nextID++
	emb.ID = m.nextID
	emb.Active = true
	emb.CreatedAt = time.Now()
	emb.Embedding = append([]float32(nil), emb.Embedding...)
	m.embeddings = append(m.embeddings, emb)
	return emb.ID, nil
}

func (m *MockStore) CleanupOldEmbeddings(ctx context.Context, employeeID string, keepN int) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CleanupCalls++
	if m.CleanupError != nil {
		return 0, m.CleanupError
	}

	seen := 0
	var removed int64
	kept := make([]database.StoredEmbedding, 0, len(m.embeddings))
	for i := len(m.embeddings) - 1; i >= 0; i-- {
		e := m.embeddings[i]
		if e.EmployeeID == employeeID && e.Type == database.EmbeddingUpdate {
			seen++
			if seen > keepN {
				removed++
				continue
			}
		}
		kept = append(kept, e)
	}
	// restore insertion order
	sort.Slice(kept, func(i, j int) bool { return kept[i].ID < kept[j].ID })
	m.embeddings = kept
	return removed, nil
}

func (m *MockStore) ReplaceEnrollEmbeddings(ctx context.Context, employeeID string, embs []database.StoredEmbedding) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ReplaceEnrollError != nil {
		return 0, m.ReplaceEnrollError
	}
	if _, ok := m.employees[employeeID]; !ok {
		return 0, fmt.Errorf("employee %s: %w", employeeID, database.ErrNotFound)
	}

	var archived int64
	for i := range m.embeddings {
		e := &m.embeddings[i]
		if e.EmployeeID == employeeID && e.Active && e.Type == database.EmbeddingEnroll {
			e.Active = false
			archived++
		}
	}
	for _, emb := range embs {
		m.nextID++
		emb.ID = m.nextID
		emb.EmployeeID = employeeID
		emb.Type = database.EmbeddingEnroll
		emb.Active = true
		emb.CreatedAt = time.Now()
		emb.Embedding = append([]float32(nil), emb.Embedding...)
		m.embeddings = append(m.embeddings, emb)
	}
	return archived, nil
}

func (m *MockStore) ArchiveEmbeddings(ctx context.Context, employeeID string, typ database.EmbeddingType) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for i := range m.embeddings {
		e := &m.embeddings[i]
		if e.EmployeeID == employeeID && e.Active && (typ == "" || e.Type == typ) {
			e.Active = false
			n++
		}
	}
	return n, nil
}

func (m *MockStore) DeleteEmbeddings(ctx context.Context, employeeID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	kept := m.embeddings[:0]
	for _, e := range m.embeddings {
		if e.EmployeeID == employeeID {
			n++
			continue
		}
		kept = append(kept, e)
	}
	m.embeddings = kept
	return n, nil
}

func (m *MockStore) GetEmployee(ctx context.Context, id string) (*database.Employee, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	emp, ok := m.employees[id]
	if !ok {
		return nil, fmt.Errorf("employee %s: %w", id, database.ErrNotFound)
	}
	cp := *emp
	return &cp, nil
}

func (m *MockStore) GetAllEmployees(ctx context.Context) ([]database.Employee, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]database.Employee, 0, len(m.employees))
	for _, emp := range m.employees {
		if emp.Active {
			out = append(out, *emp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MockStore) SaveEmployee(ctx context.Context, emp database.Employee) error {
	if m.SaveEmployeeError != nil {
		return m.SaveEmployeeError
	}
	m.AddEmployee(emp)
	return nil
}

func (m *MockStore) DeactivateEmployee(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	emp, ok := m.employees[id]
	if !ok {
		return fmt.Errorf("employee %s: %w", id, database.ErrNotFound)
	}
	emp.Active = false
	return nil
}

func (m *MockStore) GetLatestAttendance(ctx context.Context, employeeID string, lookback time.Duration) (*database.AttendanceRecord, error) {
	if m.GetLatestError != nil {
		return nil, m.GetLatestError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	since := time.Now().Add(-lookback)
	var latest *database.AttendanceRecord
	for i := range m.attendance {
		rec := &m.attendance[i]
		if rec.EmployeeID != employeeID || rec.Timestamp.Before(since) {
			continue
		}
		if latest == nil || !rec.Timestamp.Before(latest.Timestamp) {
			latest = rec
		}
	}
	if latest == nil {
		return nil, nil
	}
	cp := *latest
	return &cp, nil
}

func (m *MockStore) ListAttendance(ctx context.Context, filter database.AttendanceFilter) ([]database.AttendanceRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []database.AttendanceRecord
	for _, rec := range m.attendance {
		if filter.EmployeeID != "" && rec.EmployeeID != filter.EmployeeID {
			continue
		}
		if !filter.Since.IsZero() && rec.Timestamp.Before(filter.Since) {
			continue
		}
		if !filter.Until.IsZero() && !rec.Timestamp.Before(filter.Until) {
			continue
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (m *MockStore) CreateAttendanceRecord(ctx context.Context, rec database.AttendanceRecord) (int64, error) {
	if m.CreateAttendanceError != nil {
		return 0, m.CreateAttendanceError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	rec.ID = m.nextID
	m.attendance = append(m.attendance, rec)
	return rec.ID, nil
}
