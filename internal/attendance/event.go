// Package attendance records attendance events and delivers them to the
// external attendance system.
package attendance

import (
	"time"

	"github.com/google/uuid"
	"github.com/kozaktomas/facetrack/internal/database"
)

// Event is one attendance event. Timestamp is the moment of the crossing and
// is preserved through retries and redelivery.
type Event struct {
	ID         string             `json:"id"`
	EmployeeID string             `json:"emp_id"`
	Type       database.EventType `json:"event_type"`
	CameraID   string             `json:"camera_id,omitempty"`
	Zone       string             `json:"zone,omitempty"`
	WorkStatus string             `json:"work_status,omitempty"`
	Confidence float64            `json:"confidence,omitempty"`
	Timestamp  time.Time          `json:"timestamp"`
}

// NewEvent creates an event with a fresh ID.
func NewEvent(employeeID string, typ database.EventType, cameraID string, at time.Time) Event {
	return Event{
		ID:         uuid.NewString(),
		EmployeeID: employeeID,
		Type:       typ,
		CameraID:   cameraID,
		Timestamp:  at,
	}
}

func (e Event) record() database.AttendanceRecord {
	return database.AttendanceRecord{
		EventID:    e.ID,
		EmployeeID: e.EmployeeID,
		CameraID:   e.CameraID,
		EventType:  e.Type,
		Timestamp:  e.Timestamp,
		Confidence: e.Confidence,
		WorkStatus: e.WorkStatus,
		Zone:       e.Zone,
	}
}
