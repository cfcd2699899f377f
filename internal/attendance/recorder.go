package attendance

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/kozaktomas/facetrack/internal/database"
	"github.com/kozaktomas/facetrack/internal/metrics"
	"github.com/rs/zerolog/log"
)

// Outcome of recording one event.
type Outcome string

const (
	OutcomeForwarded  Outcome = "forwarded"
	OutcomeSuppressed Outcome = "suppressed" // check-out without a prior check-in
	OutcomeDebounced  Outcome = "debounced"  // same event for the same identity shortly before
)

// Enqueuer accepts events for asynchronous delivery.
type Enqueuer interface {
	Enqueue(ev Event) bool
}

// RecorderConfig tunes event suppression.
type RecorderConfig struct {
	CheckoutLookback time.Duration
	Debounce         time.Duration
}

// Recorder is the single entry point for fired events. It decides whether
// an event is forwarded, persists it, audits it and hands it to delivery.
// Record calls are serialized so two cameras cannot race past the checks.
type Recorder struct {
	store    database.AttendanceWriter
	audit    *AuditLog
	delivery Enqueuer
	metrics  *metrics.Client
	cfg      RecorderConfig

	mu   sync.Mutex
	last map[string]Event // last forwarded event per employee
}

// NewRecorder creates a recorder. audit and delivery may be nil.
func NewRecorder(store database.AttendanceWriter, audit *AuditLog, delivery Enqueuer, m *metrics.Client, cfg RecorderConfig) *Recorder {
	if cfg.CheckoutLookback <= 0 {
		cfg.CheckoutLookback = 10 * time.Hour
	}
	if m == nil {
		m = metrics.New("", nil)
	}
	return &Recorder{
		store:    store,
		audit:    audit,
		delivery: delivery,
		metrics:  m,
		cfg:      cfg,
		last:     make(map[string]Event),
	}
}

// Record processes a fired event. A check-out is forwarded only when the
// employee is checked in: the durable store decides, the last forwarded
// event is used when the store is unavailable. Check-ins are never
// suppressed, only debounced.
func (r *Recorder) Record(ctx context.Context, ev Event) (Outcome, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	outcome := r.decide(ctx, ev)
	r.metrics.Incr("attendance.events", []string{"event:" + string(ev.Type), "outcome:" + string(outcome)})

	if r.audit != nil {
		if err := r.audit.Write(ev, outcome); err != nil {
			log.Warn().Err(err).Msg("could not write audit row")
		}
	}

	logEvent := log.Info()
	if outcome != OutcomeForwarded {
		logEvent = log.Debug()
	}
	logEvent.
		Str("employee_id", ev.EmployeeID).
		Str("camera", ev.CameraID).
		Str("event", string(ev.Type)).
		Str("outcome", string(outcome)).
		Msg("attendance event")

	if outcome != OutcomeForwarded {
		return outcome, nil
	}

	r.last[ev.EmployeeID] = ev
	var persistErr error
	if _, err := r.store.CreateAttendanceRecord(ctx, ev.record()); err != nil {
		persistErr = fmt.Errorf("could not persist attendance record: %w", err)
	}
	if r.delivery != nil {
		r.delivery.Enqueue(ev)
	}
	return outcome, persistErr
}

func (r *Recorder) decide(ctx context.Context, ev Event) Outcome {
	prev, hasPrev := r.last[ev.EmployeeID]
	if r.cfg.Debounce > 0 && hasPrev && prev.Type == ev.Type && ev.Timestamp.Sub(prev.Timestamp) < r.cfg.Debounce {
		return OutcomeDebounced
	}
	if ev.Type != database.EventCheckOut {
		return OutcomeForwarded
	}

	latest, err := r.store.GetLatestAttendance(ctx, ev.EmployeeID, r.cfg.CheckoutLookback)
	if err != nil {
		log.Warn().Err(err).Str("employee_id", ev.EmployeeID).Msg("latest attendance lookup failed, using in-memory state")
		if hasPrev && prev.Type == database.EventCheckIn && ev.Timestamp.Sub(prev.Timestamp) <= r.cfg.CheckoutLookback {
			return OutcomeForwarded
		}
		return OutcomeSuppressed
	}
	if latest != nil && latest.EventType == database.EventCheckIn {
		return OutcomeForwarded
	}
	return OutcomeSuppressed
}

// LastForwarded returns the last event forwarded for an employee.
func (r *Recorder) LastForwarded(employeeID string) (Event, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ev, ok := r.last[employeeID]
	return ev, ok
}
