package attendance

import (
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"
)

var auditHeader = []string{"timestamp", "employee_id", "camera_id", "event", "work_status", "outcome", "confidence"}

// AuditLog appends one CSV row per fired event, whatever happens to its
// delivery. The header is written when the file is created.
type AuditLog struct {
	mu   sync.Mutex
	path string
}

func NewAuditLog(path string) *AuditLog {
	return &AuditLog{path: path}
}

// Write appends a row for ev.
func (a *AuditLog) Write(ev Event, outcome Outcome) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	_, statErr := os.Stat(a.path)
	isNew := errors.Is(statErr, os.ErrNotExist)

	f, err := os.OpenFile(a.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("could not open audit log: %w", err)
	}

	w := csv.NewWriter(f)
	if isNew {
		_ = w.Write(auditHeader)
	}
	_ = w.Write([]string{
		ev.Timestamp.Format(time.RFC3339),
		ev.EmployeeID,
		ev.CameraID,
		string(ev.Type),
		ev.WorkStatus,
		string(outcome),
		strconv.FormatFloat(ev.Confidence, 'f', 3, 64),
	})
	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()
		return fmt.Errorf("could not write audit log: %w", err)
	}
	return f.Close()
}
