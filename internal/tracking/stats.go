package tracking

import (
	"context"
	"sort"
	"time"

	"github.com/rs/zerolog/log"
)

// DepartmentStats counts the live tracks of one department.
type DepartmentStats struct {
	Present int `json:"present"`
	Working int `json:"working"`
	OnBreak int `json:"on_break"`
}

// Stats is the periodic snapshot published by the statistics loop.
type Stats struct {
	At              time.Time                  `json:"at"`
	Present         int                        `json:"present"`
	Working         int                        `json:"working"`
	OnBreak         int                        `json:"on_break"`
	Departments     map[string]DepartmentStats `json:"departments"`
	IndexSize       int                        `json:"index_size"`
	Identities      int                        `json:"identities"`
	Employees       int                        `json:"employees"`
	IngestPending   int                        `json:"ingest_pending"`
	DeliveryPending int                        `json:"delivery_pending"`
	CacheEntries    int64                      `json:"cache_entries"`
	CacheHitRate    float64                    `json:"cache_hit_rate"`
	Cameras         []CameraStats              `json:"cameras"`
}

// Stats returns the latest snapshot, computing one if the loop has not run yet.
func (a *App) Stats() Stats {
	if s := a.stats.Load(); s != nil {
		return *s
	}
	return a.computeStats(time.Now())
}

// LiveTracks returns tracks seen within the track timeout.
func (a *App) LiveTracks() []TrackSnapshot {
	return a.tracks.Active(time.Now(), a.cfg.TrackTimeout)
}

func (a *App) statsLoop(ctx context.Context) {
	interval := a.cfg.StatsInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			a.prune(now)
			s := a.computeStats(now)
			a.stats.Store(&s)
			a.publish(s)
		}
	}
}

// prune drops the per-camera state of identities idle for longer than the
// track timeout. Global tracks are kept with their score history.
func (a *App) prune(now time.Time) {
	if a.cfg.TrackTimeout <= 0 {
		return
	}
	cutoff := now.Add(-a.cfg.TrackTimeout)
	idle := a.tracks.Idle(cutoff)
	for _, id := range idle {
		a.smoothers.Forget(id)
		a.resolver.Forget(id)
	}
	states := a.crossings.Prune(cutoff)
	if states > 0 {
		log.Debug().Int("idle_identities", len(idle)).Int("crossing_states", states).Msg("pruned per-camera state")
	}
}

func (a *App) computeStats(now time.Time) Stats {
	s := Stats{
		At:            now,
		Departments:   make(map[string]DepartmentStats),
		IndexSize:     a.index.Size(),
		Identities:    a.index.LabelCount(),
		Employees:     a.metadata.Len(),
		CacheEntries:  a.cache.Len(),
		CacheHitRate:  a.cache.HitRate(),
		IngestPending: a.ingest.Pending(),
	}
	if a.delivery != nil {
		s.DeliveryPending = a.delivery.Pending()
	}

	for _, t := range a.tracks.Active(now, a.cfg.TrackTimeout) {
		dept := a.metadata.Department(t.Identity)
		d := s.Departments[dept]
		d.Present++
		s.Present++
		switch t.Status {
		case StatusWorking:
			d.Working++
			s.Working++
		case StatusOnBreak:
			d.OnBreak++
			s.OnBreak++
		}
		s.Departments[dept] = d
	}

	a.runnersMu.RLock()
	for _, r := range a.runners {
		s.Cameras = append(s.Cameras, r.stats())
	}
	a.runnersMu.RUnlock()
	sort.Slice(s.Cameras, func(i, j int) bool { return s.Cameras[i].ID < s.Cameras[j].ID })
	return s
}

func (a *App) publish(s Stats) {
	m := a.metrics
	m.Gauge("tracks.present", float64(s.Present), nil)
	m.Gauge("tracks.working", float64(s.Working), nil)
	m.Gauge("tracks.on_break", float64(s.OnBreak), nil)
	m.Gauge("index.size", float64(s.IndexSize), nil)
	m.Gauge("index.identities", float64(s.Identities), nil)
	m.Gauge("ingest.pending", float64(s.IngestPending), nil)
	m.Gauge("attendance.pending", float64(s.DeliveryPending), nil)
	m.Gauge("cache.entries", float64(s.CacheEntries), nil)
	m.Gauge("cache.hit_rate", s.CacheHitRate, nil)
	for dept, d := range s.Departments {
		tags := []string{"department:" + dept}
		m.Gauge("department.present", float64(d.Present), tags)
		m.Gauge("department.working", float64(d.Working), tags)
		m.Gauge("department.on_break", float64(d.OnBreak), tags)
	}
	for _, c := range s.Cameras {
		tags := []string{"camera:" + c.ID}
		m.Gauge("camera.frames_read", float64(c.FramesRead), tags)
		m.Gauge("camera.read_errors", float64(c.ReadErrors), tags)
		m.Gauge("camera.detect_every", float64(c.DetectEvery), tags)
	}
}
