package web

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/kozaktomas/facetrack/internal/config"
	"github.com/kozaktomas/facetrack/internal/database"
	"github.com/kozaktomas/facetrack/internal/database/mock"
	"github.com/kozaktomas/facetrack/internal/tracking"
)

type staticSource struct{}

func (staticSource) Stats() tracking.Stats {
	return tracking.Stats{Present: 1, Working: 1}
}

func (staticSource) LiveTracks() []tracking.TrackSnapshot {
	return []tracking.TrackSnapshot{{Identity: "E1", CameraID: "entrance"}}
}

func TestServer_Routes(t *testing.T) {
	store := mock.NewMockStore()
	store.AddAttendance(database.AttendanceRecord{
		EventID: "ev-1", EmployeeID: "E1", EventType: database.EventCheckIn, Timestamp: time.Now(),
	})
	srv := NewServer(config.StatusConfig{Host: "127.0.0.1", Port: 0}, staticSource{}, store, time.Hour)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	tests := []struct {
		path       string
		wantStatus int
	}{
		{"/health", http.StatusOK},
		{"/api/v1/health", http.StatusOK},
		{"/api/v1/stats", http.StatusOK},
		{"/api/v1/tracks", http.StatusOK},
		{"/api/v1/attendance/E1/latest", http.StatusOK},
		{"/api/v1/attendance/E9/latest", http.StatusNotFound},
		{"/api/v1/unknown", http.StatusNotFound},
	}
	for _, tc := range tests {
		t.Run(tc.path, func(t *testing.T) {
			resp, err := http.Get(ts.URL + tc.path)
			if err != nil {
				t.Fatalf("GET %s: %v", tc.path, err)
			}
			defer resp.Body.Close()
			if resp.StatusCode != tc.wantStatus {
				t.Errorf("expected status %d, got %d", tc.wantStatus, resp.StatusCode)
			}
		})
	}

	resp, err := http.Post(ts.URL+"/api/v1/stats", "application/json", nil)
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("expected status 405 for POST, got %d", resp.StatusCode)
	}
}

func TestServer_StatsPayload(t *testing.T) {
	srv := NewServer(config.StatusConfig{}, staticSource{}, nil, time.Hour)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/v1/stats")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	var stats tracking.Stats
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		t.Fatalf("decoding stats: %v", err)
	}
	if stats.Present != 1 || stats.Working != 1 {
		t.Errorf("unexpected stats %+v", stats)
	}
}

func TestServer_RunStopsOnCancel(t *testing.T) {
	srv := NewServer(config.StatusConfig{Host: "127.0.0.1", Port: 0}, staticSource{}, nil, time.Hour)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
