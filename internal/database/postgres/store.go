package postgres

import (
	"errors"

	"github.com/kozaktomas/facetrack/internal/database"
	"github.com/lib/pq"
)

// Store bundles the PostgreSQL repositories into the storage collaborator.
type Store struct {
	*EmbeddingRepository
	*EmployeeRepository
	*AttendanceRepository

	pool *Pool
}

var _ database.Store = (*Store)(nil)

// NewStore creates the repositories over one pool.
func NewStore(pool *Pool) *Store {
	return &Store{
		EmbeddingRepository:  NewEmbeddingRepository(pool),
		EmployeeRepository:   NewEmployeeRepository(pool),
		AttendanceRepository: NewAttendanceRepository(pool),
		pool:                 pool,
	}
}

// Close closes the underlying pool.
func (s *Store) Close() error {
	return s.pool.Close()
}

// isForeignKeyViolation reports whether err is a PostgreSQL foreign_key_violation,
// which here means the referenced employee does not exist.
func isForeignKeyViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23503"
}
