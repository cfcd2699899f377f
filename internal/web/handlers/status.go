package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/kozaktomas/facetrack/internal/database"
	"github.com/kozaktomas/facetrack/internal/tracking"
)

// StatusSource exposes the live state of the tracking core.
type StatusSource interface {
	Stats() tracking.Stats
	LiveTracks() []tracking.TrackSnapshot
}

// AttendanceLookup reads durable attendance records.
type AttendanceLookup interface {
	GetLatestAttendance(ctx context.Context, employeeID string, lookback time.Duration) (*database.AttendanceRecord, error)
}

// StatusHandler serves the read-only status endpoints.
type StatusHandler struct {
	source     StatusSource
	attendance AttendanceLookup
	lookback   time.Duration
}

// NewStatusHandler creates a status handler. lookback bounds the latest
// attendance search unless the request overrides it.
func NewStatusHandler(source StatusSource, attendance AttendanceLookup, lookback time.Duration) *StatusHandler {
	return &StatusHandler{source: source, attendance: attendance, lookback: lookback}
}

// Stats returns the latest statistics snapshot.
func (h *StatusHandler) Stats(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.source.Stats())
}

// TracksResponse lists live tracks.
type TracksResponse struct {
	Count  int                      `json:"count"`
	Tracks []tracking.TrackSnapshot `json:"tracks"`
}

// Tracks returns the live tracks, optionally limited to one camera.
func (h *StatusHandler) Tracks(w http.ResponseWriter, r *http.Request) {
	camera := r.URL.Query().Get("camera")
	tracks := make([]tracking.TrackSnapshot, 0)
	for _, t := range h.source.LiveTracks() {
		if camera == "" || t.CameraID == camera {
			tracks = append(tracks, t)
		}
	}
	respondJSON(w, http.StatusOK, TracksResponse{Count: len(tracks), Tracks: tracks})
}

// AttendanceResponse is the latest durable record of an employee.
type AttendanceResponse struct {
	EventID    string             `json:"event_id"`
	EmployeeID string             `json:"emp_id"`
	EventType  database.EventType `json:"event_type"`
	CameraID   string             `json:"camera_id"`
	Zone       string             `json:"zone,omitempty"`
	WorkStatus string             `json:"work_status,omitempty"`
	Confidence float64            `json:"confidence"`
	Timestamp  time.Time          `json:"timestamp"`
}

// LatestAttendance returns the newest attendance record of an employee.
func (h *StatusHandler) LatestAttendance(w http.ResponseWriter, r *http.Request) {
	employeeID := chi.URLParam(r, "employeeID")
	if employeeID == "" {
		respondError(w, http.StatusBadRequest, "employee ID is required")
		return
	}
	if h.attendance == nil {
		respondError(w, http.StatusServiceUnavailable, "attendance storage not configured")
		return
	}

	lookback := h.lookback
	if s := r.URL.Query().Get("lookback"); s != "" {
		d, err := time.ParseDuration(s)
		if err != nil || d <= 0 {
			respondError(w, http.StatusBadRequest, "invalid lookback")
			return
		}
		lookback = d
	}

	rec, err := h.attendance.GetLatestAttendance(r.Context(), employeeID, lookback)
	if err != nil {
		log.Error().Err(err).Str("employee_id", sanitizeForLog(employeeID)).Msg("loading latest attendance failed")
		respondError(w, http.StatusInternalServerError, "failed to load attendance")
		return
	}
	if rec == nil {
		respondError(w, http.StatusNotFound, "no attendance record")
		return
	}

	respondJSON(w, http.StatusOK, AttendanceResponse{
		EventID:    rec.EventID,
		EmployeeID: rec.EmployeeID,
		EventType:  rec.EventType,
		CameraID:   rec.CameraID,
		Zone:       rec.Zone,
		WorkStatus: rec.WorkStatus,
		Confidence: rec.Confidence,
		Timestamp:  rec.Timestamp,
	})
}
