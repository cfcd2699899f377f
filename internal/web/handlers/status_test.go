package handlers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/kozaktomas/facetrack/internal/database"
	"github.com/kozaktomas/facetrack/internal/database/mock"
	"github.com/kozaktomas/facetrack/internal/tracking"
)

func TestStatusHandler_Stats(t *testing.T) {
	handler := NewStatusHandler(testSource(), nil, time.Hour)

	recorder := httptest.NewRecorder()
	handler.Stats(recorder, httptest.NewRequest("GET", "/api/v1/stats", nil))

	assertStatusCode(t, recorder, http.StatusOK)
	var stats tracking.Stats
	parseJSONResponse(t, recorder, &stats)
	if stats.Present != 2 || stats.Departments["R&D"].OnBreak != 1 {
		t.Errorf("unexpected stats %+v", stats)
	}
}

func TestStatusHandler_Tracks(t *testing.T) {
	tests := []struct {
		name      string
		query     string
		wantCount int
	}{
		{"all cameras", "", 2},
		{"one camera", "?camera=canteen", 1},
		{"unknown camera", "?camera=garage", 0},
	}
	handler := NewStatusHandler(testSource(), nil, time.Hour)

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			recorder := httptest.NewRecorder()
			handler.Tracks(recorder, httptest.NewRequest("GET", "/api/v1/tracks"+tc.query, nil))

			assertStatusCode(t, recorder, http.StatusOK)
			var resp TracksResponse
			parseJSONResponse(t, recorder, &resp)
			if resp.Count != tc.wantCount || len(resp.Tracks) != tc.wantCount {
				t.Errorf("expected %d tracks, got %d (%d)", tc.wantCount, resp.Count, len(resp.Tracks))
			}
			if resp.Tracks == nil {
				t.Error("expected an empty list, got null")
			}
		})
	}
}

func TestStatusHandler_LatestAttendance(t *testing.T) {
	now := time.Now()
	store := mock.NewMockStore()
	store.AddAttendance(database.AttendanceRecord{
		EventID: "ev-1", EmployeeID: "E1", CameraID: "entrance", EventType: database.EventCheckIn,
		Timestamp: now.Add(-3 * time.Hour), Confidence: 0.9, Zone: "door",
	})
	store.AddAttendance(database.AttendanceRecord{
		EventID: "ev-2", EmployeeID: "E1", CameraID: "exit", EventType: database.EventCheckOut,
		Timestamp: now.Add(-time.Minute), Confidence: 0.8,
	})

	tests := []struct {
		name       string
		employee   string
		query      string
		wantStatus int
		wantEvent  string
	}{
		{"latest record", "E1", "", http.StatusOK, "ev-2"},
		{"no records", "E2", "", http.StatusNotFound, ""},
		{"outside lookback", "E1", "?lookback=30s", http.StatusNotFound, ""},
		{"invalid lookback", "E1", "?lookback=soon", http.StatusBadRequest, ""},
		{"missing employee", "", "", http.StatusBadRequest, ""},
	}
	handler := NewStatusHandler(testSource(), store, 10*time.Hour)

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/api/v1/attendance/"+tc.employee+"/latest"+tc.query, nil)
			req = requestWithChiParams(req, map[string]string{"employeeID": tc.employee})
			recorder := httptest.NewRecorder()
			handler.LatestAttendance(recorder, req)

			assertStatusCode(t, recorder, tc.wantStatus)
			if tc.wantEvent == "" {
				return
			}
			var resp AttendanceResponse
			parseJSONResponse(t, recorder, &resp)
			if resp.EventID != tc.wantEvent || resp.EventType != database.EventCheckOut {
				t.Errorf("unexpected record %+v", resp)
			}
		})
	}
}

type failingLookup struct{}

func (failingLookup) GetLatestAttendance(context.Context, string, time.Duration) (*database.AttendanceRecord, error) {
	return nil, errors.New("connection refused")
}

func TestStatusHandler_LatestAttendanceErrors(t *testing.T) {
	tests := []struct {
		name       string
		lookup     AttendanceLookup
		wantStatus int
		wantError  string
	}{
		{"storage failure", failingLookup{}, http.StatusInternalServerError, "failed to load attendance"},
		{"no storage", nil, http.StatusServiceUnavailable, "attendance storage not configured"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			handler := NewStatusHandler(testSource(), tc.lookup, time.Hour)
			req := requestWithChiParams(httptest.NewRequest("GET", "/api/v1/attendance/E1/latest", nil),
				map[string]string{"employeeID": "E1"})
			recorder := httptest.NewRecorder()
			handler.LatestAttendance(recorder, req)

			assertStatusCode(t, recorder, tc.wantStatus)
			assertJSONError(t, recorder, tc.wantError)
		})
	}
}
