package tracking

import (
	"slices"
	"sort"
	"sync"
	"time"
)

const trackHistory = 5

// GlobalTrack is the cross-camera state of one identity.
type GlobalTrack struct {
	Identity   string
	CameraID   string // camera of the last sighting
	X, Y       float64
	Status     WorkStatus
	Scores     []float64
	Embeddings [][]float32
	FirstSeen  time.Time
	LastSeen   time.Time
	Sightings  int
}

// TrackSnapshot is a read-only copy of a GlobalTrack.
type TrackSnapshot struct {
	Identity  string     `json:"identity"`
	CameraID  string     `json:"camera_id"`
	X         float64    `json:"x"`
	Y         float64    `json:"y"`
	Status    WorkStatus `json:"status,omitempty"`
	LastScore float64    `json:"last_score"`
	FirstSeen time.Time  `json:"first_seen"`
	LastSeen  time.Time  `json:"last_seen"`
	Sightings int        `json:"sightings"`
}

// TrackRegistry holds every GlobalTrack behind one lock. Camera loops write
// on confident matches; the statistics loop and status server read.
type TrackRegistry struct {
	mu     sync.RWMutex
	tracks map[string]*GlobalTrack
}

func NewTrackRegistry() *TrackRegistry {
	return &TrackRegistry{tracks: make(map[string]*GlobalTrack)}
}

// Observe records a confident sighting.
func (r *TrackRegistry) Observe(identity, cameraID string, x, y, score float64, embedding []float32, now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.tracks[identity]
	if !ok {
		t = &GlobalTrack{Identity: identity, FirstSeen: now}
		r.tracks[identity] = t
	}
	t.CameraID = cameraID
	t.X, t.Y = x, y
	t.LastSeen = now
	t.Sightings++
	t.Scores = pushBounded(t.Scores, score)
	if embedding != nil {
		t.Embeddings = pushBounded(t.Embeddings, embedding)
	}
}

func pushBounded[T any](s []T, v T) []T {
	s = append(s, v)
	if len(s) > trackHistory {
		s = slices.Delete(s, 0, len(s)-trackHistory)
	}
	return s
}

// SetStatus updates the work status of a tracked identity.
func (r *TrackRegistry) SetStatus(identity string, status WorkStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.tracks[identity]; ok {
		t.Status = status
	}
}

// Status returns the work status of an identity, empty when unknown.
func (r *TrackRegistry) Status(identity string) WorkStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if t, ok := r.tracks[identity]; ok {
		return t.Status
	}
	return ""
}

// RecentScores implements ScoreHistory.
func (r *TrackRegistry) RecentScores(identity string) []float64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tracks[identity]
	if !ok {
		return nil
	}
	return slices.Clone(t.Scores)
}

// Get returns a snapshot of one track.
func (r *TrackRegistry) Get(identity string) (TrackSnapshot, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tracks[identity]
	if !ok {
		return TrackSnapshot{}, false
	}
	return t.snapshot(), true
}

// Active returns snapshots of tracks seen within timeout of now, newest first.
func (r *TrackRegistry) Active(now time.Time, timeout time.Duration) []TrackSnapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]TrackSnapshot, 0, len(r.tracks))
	for _, t := range r.tracks {
		if now.Sub(t.LastSeen) <= timeout {
			out = append(out, t.snapshot())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastSeen.After(out[j].LastSeen) })
	return out
}

// Len returns the number of tracks.
func (r *TrackRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tracks)
}

func (t *GlobalTrack) snapshot() TrackSnapshot {
	s := TrackSnapshot{
		Identity:  t.Identity,
		CameraID:  t.CameraID,
		X:         t.X,
		Y:         t.Y,
		Status:    t.Status,
		FirstSeen: t.FirstSeen,
		LastSeen:  t.LastSeen,
		Sightings: t.Sightings,
	}
	if n := len(t.Scores); n > 0 {
		s.LastScore = t.Scores[n-1]
	}
	return s
}

// Idle returns the identities not seen since cutoff. Their tracks stay in
// the registry; readers judge staleness by LastSeen.
func (r *TrackRegistry) Idle(cutoff time.Time) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var idle []string
	for id, t := range r.tracks {
		if t.LastSeen.Before(cutoff) {
			idle = append(idle, id)
		}
	}
	return idle
}
