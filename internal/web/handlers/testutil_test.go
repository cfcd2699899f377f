package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kozaktomas/facetrack/internal/tracking"
)

// fakeSource is a StatusSource with fixed content
type fakeSource struct {
	stats  tracking.Stats
	tracks []tracking.TrackSnapshot
}

func (f *fakeSource) Stats() tracking.Stats                { return f.stats }
func (f *fakeSource) LiveTracks() []tracking.TrackSnapshot { return f.tracks }

func testSource() *fakeSource {
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	return &fakeSource{
		stats: tracking.Stats{
			At:      now,
			Present: 2,
			Working: 1,
			OnBreak: 1,
			Departments: map[string]tracking.DepartmentStats{
				"R&D": {Present: 2, Working: 1, OnBreak: 1},
			},
			IndexSize:  12,
			Identities: 4,
		},
		tracks: []tracking.TrackSnapshot{
			{Identity: "E1", CameraID: "entrance", Status: tracking.StatusWorking, LastSeen: now},
			{Identity: "E2", CameraID: "canteen", Status: tracking.StatusOnBreak, LastSeen: now.Add(-time.Minute)},
		},
	}
}

// requestWithChiParams creates a request with chi URL parameters
func requestWithChiParams(r *http.Request, params map[string]string) *http.Request {
	rctx := chi.NewRouteContext()
	for key, value := range params {
		rctx.URLParams.Add(key, value)
	}
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

// parseJSONResponse parses a JSON response body into the target type
func parseJSONResponse(t *testing.T, recorder *httptest.ResponseRecorder, target any) {
	t.Helper()
	if err := json.Unmarshal(recorder.Body.Bytes(), target); err != nil {
		t.Fatalf("failed to parse JSON response: %v\nBody: %s", err, recorder.Body.String())
	}
}

// assertStatusCode checks if the response has the expected status code
func assertStatusCode(t *testing.T, recorder *httptest.ResponseRecorder, expected int) {
	t.Helper()
	if recorder.Code != expected {
		t.Errorf("expected status %d, got %d\nBody: %s", expected, recorder.Code, recorder.Body.String())
	}
}

// assertJSONError checks if the response is a JSON error with the expected message
func assertJSONError(t *testing.T, recorder *httptest.ResponseRecorder, expectedMessage string) {
	t.Helper()
	var result map[string]string
	if err := json.Unmarshal(recorder.Body.Bytes(), &result); err != nil {
		t.Fatalf("failed to parse error response: %v\nBody: %s", err, recorder.Body.String())
	}
	if result["error"] != expectedMessage {
		t.Errorf("expected error '%s', got '%s'", expectedMessage, result["error"])
	}
}
