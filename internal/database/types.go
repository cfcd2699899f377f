package database

import (
	"time"
)

// EmbeddingType distinguishes enrollment embeddings from ones learned while tracking.
type EmbeddingType string

const (
	EmbeddingEnroll EmbeddingType = "enroll"
	EmbeddingUpdate EmbeddingType = "update"
)

// EventType is the outbound attendance fact.
type EventType string

const (
	EventCheckIn  EventType = "check_in"
	EventCheckOut EventType = "check_out"
)

// StoredEmbedding represents a face embedding stored in the database
type StoredEmbedding struct {
	ID          int64
	EmployeeID  string
	Embedding   []float32
	Type        EmbeddingType
	Quality     float64
	SourceImage string
	Active      bool
	CreatedAt   time.Time
}

// Employee is the identity metadata behind an index label.
type Employee struct {
	ID          string
	Name        string
	Department  string
	Designation string
	Email       string
	Phone       string
	Active      bool
	CreatedAt   time.Time
}

// AttendanceRecord is the durable copy of an attendance event.
type AttendanceRecord struct {
	ID         int64
	EventID    string
	EmployeeID string
	CameraID   string
	EventType  EventType
	Timestamp  time.Time
	Confidence float64
	WorkStatus string
	Zone       string
}

// AttendanceFilter narrows ListAttendance results. Zero values are ignored.
type AttendanceFilter struct {
	EmployeeID string
	Since      time.Time
	Until      time.Time
	Limit      int
}

// ActiveEmbeddings is the searchable set loaded into the identity index.
type ActiveEmbeddings struct {
	Vectors [][]float32
	Labels  []string
}

// Len returns the number of vectors.
func (a ActiveEmbeddings) Len() int {
	return len(a.Vectors)
}
