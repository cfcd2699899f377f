package attendance

import (
	"context"
	"encoding/csv"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/kozaktomas/facetrack/internal/database"
	"github.com/kozaktomas/facetrack/internal/database/mock"
)

type captureQueue struct {
	events []Event
}

func (c *captureQueue) Enqueue(ev Event) bool {
	c.events = append(c.events, ev)
	return true
}

func TestRecorder_CheckoutSuppression(t *testing.T) {
	now := time.Now()
	tests := []struct {
		name  string
		prior []database.AttendanceRecord
		event database.EventType
		want  Outcome
	}{
		{
			name:  "check-in without history",
			event: database.EventCheckIn,
			want:  OutcomeForwarded,
		},
		{
			name:  "check-in after check-in",
			prior: []database.AttendanceRecord{{EmployeeID: "E1", EventType: database.EventCheckIn, Timestamp: now.Add(-time.Hour)}},
			event: database.EventCheckIn,
			want:  OutcomeForwarded,
		},
		{
			name:  "check-out without history",
			event: database.EventCheckOut,
			want:  OutcomeSuppressed,
		},
		{
			name:  "check-out after check-in",
			prior: []database.AttendanceRecord{{EmployeeID: "E1", EventType: database.EventCheckIn, Timestamp: now.Add(-time.Hour)}},
			event: database.EventCheckOut,
			want:  OutcomeForwarded,
		},
		{
			name:  "check-out after check-out",
			prior: []database.AttendanceRecord{{EmployeeID: "E1", EventType: database.EventCheckOut, Timestamp: now.Add(-time.Hour)}},
			event: database.EventCheckOut,
			want:  OutcomeSuppressed,
		},
		{
			name:  "check-in outside lookback",
			prior: []database.AttendanceRecord{{EmployeeID: "E1", EventType: database.EventCheckIn, Timestamp: now.Add(-11 * time.Hour)}},
			event: database.EventCheckOut,
			want:  OutcomeSuppressed,
		},
		{
			name:  "check-in of someone else",
			prior: []database.AttendanceRecord{{EmployeeID: "E2", EventType: database.EventCheckIn, Timestamp: now.Add(-time.Hour)}},
			event: database.EventCheckOut,
			want:  OutcomeSuppressed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := mock.NewMockStore()
			for _, rec := range tt.prior {
				store.AddAttendance(rec)
			}
			q := &captureQueue{}
			r := NewRecorder(store, nil, q, nil, RecorderConfig{CheckoutLookback: 10 * time.Hour})

			got, err := r.Record(context.Background(), NewEvent("E1", tt.event, "exit", now))
			if err != nil {
				t.Fatalf("Record failed: %v", err)
			}
			if got != tt.want {
				t.Errorf("outcome = %s, want %s", got, tt.want)
			}
			wantQueued := 0
			if tt.want == OutcomeForwarded {
				wantQueued = 1
			}
			if len(q.events) != wantQueued {
				t.Errorf("queued = %d, want %d", len(q.events), wantQueued)
			}
			if len(store.Attendance()) != len(tt.prior)+wantQueued {
				t.Errorf("stored records = %d, want %d", len(store.Attendance()), len(tt.prior)+wantQueued)
			}
		})
	}
}

func TestRecorder_EntryExitSequence(t *testing.T) {
	store := mock.NewMockStore()
	q := &captureQueue{}
	r := NewRecorder(store, nil, q, nil, RecorderConfig{CheckoutLookback: 10 * time.Hour, Debounce: 5 * time.Second})

	now := time.Now()
	steps := []struct {
		typ  database.EventType
		at   time.Time
		want Outcome
	}{
		{database.EventCheckIn, now, OutcomeForwarded},
		{database.EventCheckOut, now.Add(3 * time.Second), OutcomeForwarded},
		{database.EventCheckOut, now.Add(30 * time.Second), OutcomeSuppressed},
	}
	for i, s := range steps {
		got, err := r.Record(context.Background(), NewEvent("E2", s.typ, "entry", s.at))
		if err != nil {
			t.Fatalf("step %d: Record failed: %v", i, err)
		}
		if got != s.want {
			t.Errorf("step %d (%s): outcome = %s, want %s", i, s.typ, got, s.want)
		}
	}
	if len(q.events) != 2 {
		t.Errorf("forwarded = %d, want 2", len(q.events))
	}
}

func TestRecorder_Debounce(t *testing.T) {
	store := mock.NewMockStore()
	q := &captureQueue{}
	r := NewRecorder(store, nil, q, nil, RecorderConfig{Debounce: 5 * time.Second})

	now := time.Now()
	ctx := context.Background()
	if got, _ := r.Record(ctx, NewEvent("E1", database.EventCheckIn, "entry", now)); got != OutcomeForwarded {
		t.Fatalf("first check-in = %s", got)
	}
	// same event from the other camera within the window
	if got, _ := r.Record(ctx, NewEvent("E1", database.EventCheckIn, "exit", now.Add(time.Second))); got != OutcomeDebounced {
		t.Errorf("duplicate check-in = %s, want debounced", got)
	}
	// opposite type is never debounced
	if got, _ := r.Record(ctx, NewEvent("E1", database.EventCheckOut, "exit", now.Add(2*time.Second))); got != OutcomeForwarded {
		t.Errorf("check-out = %s, want forwarded", got)
	}
	// other identity is independent
	if got, _ := r.Record(ctx, NewEvent("E2", database.EventCheckIn, "entry", now.Add(time.Second))); got != OutcomeForwarded {
		t.Errorf("other identity = %s, want forwarded", got)
	}
	// outside the window
	if got, _ := r.Record(ctx, NewEvent("E1", database.EventCheckIn, "entry", now.Add(10*time.Second))); got != OutcomeForwarded {
		t.Errorf("late check-in = %s, want forwarded", got)
	}
}

func TestRecorder_StorageFailureUsesMemory(t *testing.T) {
	store := mock.NewMockStore()
	q := &captureQueue{}
	r := NewRecorder(store, nil, q, nil, RecorderConfig{CheckoutLookback: 10 * time.Hour})
	ctx := context.Background()
	now := time.Now()

	store.GetLatestError = errors.New("connection refused")
	if got, _ := r.Record(ctx, NewEvent("E1", database.EventCheckOut, "exit", now)); got != OutcomeSuppressed {
		t.Errorf("check-out with unknown state = %s, want suppressed", got)
	}
	if got, _ := r.Record(ctx, NewEvent("E1", database.EventCheckIn, "entry", now.Add(time.Minute))); got != OutcomeForwarded {
		t.Fatalf("check-in = %s", got)
	}
	if got, _ := r.Record(ctx, NewEvent("E1", database.EventCheckOut, "exit", now.Add(2*time.Minute))); got != OutcomeForwarded {
		t.Errorf("check-out after in-memory check-in = %s, want forwarded", got)
	}
}

func TestRecorder_PersistFailureStillDelivers(t *testing.T) {
	store := mock.NewMockStore()
	store.CreateAttendanceError = errors.New("disk full")
	q := &captureQueue{}
	r := NewRecorder(store, nil, q, nil, RecorderConfig{})

	got, err := r.Record(context.Background(), NewEvent("E1", database.EventCheckIn, "entry", time.Now()))
	if err == nil {
		t.Error("expected persistence error")
	}
	if got != OutcomeForwarded || len(q.events) != 1 {
		t.Errorf("outcome = %s, queued = %d; delivery must not depend on persistence", got, len(q.events))
	}
}

func TestRecorder_AuditsEveryEvent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.csv")
	store := mock.NewMockStore()
	r := NewRecorder(store, NewAuditLog(path), nil, nil, RecorderConfig{})
	ctx := context.Background()
	now := time.Now()

	r.Record(ctx, NewEvent("E1", database.EventCheckOut, "exit", now))
	r.Record(ctx, NewEvent("E1", database.EventCheckIn, "entry", now.Add(time.Second)))

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("audit log missing: %v", err)
	}
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("reading audit log: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("rows = %d, want header + 2", len(rows))
	}
	if rows[0][0] != "timestamp" {
		t.Errorf("header = %v", rows[0])
	}
	if rows[1][3] != "check_out" || rows[1][5] != "suppressed" {
		t.Errorf("row 1 = %v", rows[1])
	}
	if rows[2][3] != "check_in" || rows[2][5] != "forwarded" {
		t.Errorf("row 2 = %v", rows[2])
	}
}
