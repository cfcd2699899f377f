package database

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a looked-up record does not exist.
var ErrNotFound = errors.New("not found")

// EmbeddingReader provides read-only access to face embeddings
type EmbeddingReader interface {
	// GetAllActiveEmbeddings returns every enroll embedding plus the newest
	// update embeddings of each active employee.
	GetAllActiveEmbeddings(ctx context.Context) (ActiveEmbeddings, error)
	// CountEmbeddings returns the number of active embeddings for an employee
	CountEmbeddings(ctx context.Context, employeeID string) (int, error)
}

// EmbeddingWriter provides write access to face embeddings
type EmbeddingWriter interface {
	EmbeddingReader

	// StoreEmbedding persists one embedding and returns its ID
	StoreEmbedding(ctx context.Context, emb StoredEmbedding) (int64, error)
	// CleanupOldEmbeddings keeps only the newest keepN update embeddings of an employee
	CleanupOldEmbeddings(ctx context.Context, employeeID string, keepN int) (int64, error)
	// ReplaceEnrollEmbeddings archives the active enroll embeddings of an employee
	// and stores embs in their place; either all of it happens or none of it
	ReplaceEnrollEmbeddings(ctx context.Context, employeeID string, embs []StoredEmbedding) (archived int64, err error)
	// ArchiveEmbeddings deactivates embeddings of an employee, optionally only of one type
	ArchiveEmbeddings(ctx context.Context, employeeID string, typ EmbeddingType) (int64, error)
	// DeleteEmbeddings removes all embeddings of an employee
	DeleteEmbeddings(ctx context.Context, employeeID string) (int64, error)
}

// EmployeeReader provides read-only access to employee metadata
type EmployeeReader interface {
	// GetEmployee returns ErrNotFound for an unknown ID
	GetEmployee(ctx context.Context, id string) (*Employee, error)
	GetAllEmployees(ctx context.Context) ([]Employee, error)
}

// EmployeeWriter provides write access to employee metadata
type EmployeeWriter interface {
	EmployeeReader

	// SaveEmployee inserts or updates an employee
	SaveEmployee(ctx context.Context, emp Employee) error
	// DeactivateEmployee marks the employee inactive, hiding its embeddings from the index
	DeactivateEmployee(ctx context.Context, id string) error
}

// AttendanceReader provides read-only access to attendance records
type AttendanceReader interface {
	// GetLatestAttendance returns the newest record of an employee within lookback,
	// or nil when there is none.
	GetLatestAttendance(ctx context.Context, employeeID string, lookback time.Duration) (*AttendanceRecord, error)
	ListAttendance(ctx context.Context, filter AttendanceFilter) ([]AttendanceRecord, error)
}

// AttendanceWriter provides write access to attendance records
type AttendanceWriter interface {
	AttendanceReader

	CreateAttendanceRecord(ctx context.Context, rec AttendanceRecord) (int64, error)
}

// Store is the full storage collaborator used by the tracking core.
type Store interface {
	EmbeddingWriter
	EmployeeWriter
	AttendanceWriter
}
