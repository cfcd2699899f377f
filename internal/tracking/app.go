// Package tracking is the multi-camera identity tracking core: it resolves
// detections to identities, follows them across tripwires and turns
// crossings into attendance events.
package tracking

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kozaktomas/facetrack/internal/analyzer"
	"github.com/kozaktomas/facetrack/internal/attendance"
	"github.com/kozaktomas/facetrack/internal/capture"
	"github.com/kozaktomas/facetrack/internal/config"
	"github.com/kozaktomas/facetrack/internal/database"
	"github.com/kozaktomas/facetrack/internal/facematch"
	"github.com/kozaktomas/facetrack/internal/metrics"
	"github.com/rs/zerolog/log"
)

const similarityCacheEntries = 1000

// Deps are the collaborators of the tracker, constructed by the caller.
type Deps struct {
	Store    database.Store
	Index    *database.IdentityIndex
	Analyzer analyzer.Analyzer    // shared, serialized per execution context
	Opener   capture.Opener       // nil disables cameras
	Sink     AttendanceSink       // nil logs crossings only
	Delivery *attendance.Delivery // optional background delivery workers
	Metrics  *metrics.Client
}

// App owns all tracking state. Nothing in the package is global; every loop
// reaches shared state through the App it was started from.
type App struct {
	cfg      config.TrackingConfig
	cameras  []config.CameraConfig
	store    database.Store
	index    *database.IdentityIndex
	analyzer *analyzer.Pool
	opener   capture.Opener
	delivery *attendance.Delivery
	metrics  *metrics.Client

	cache     *SimilarityCache
	resolver  *IdentityResolver
	tracks    *TrackRegistry
	crossings *CrossingDetector
	smoothers *SmootherSet
	metadata  *MetadataCache
	ingest    *EmbeddingIngestWorker
	pipeline  *Pipeline

	runnersMu sync.RWMutex
	runners   []*cameraRunner

	stats atomic.Pointer[Stats]
}

// NewApp wires the tracking components.
func NewApp(cfg *config.Config, deps Deps) (*App, error) {
	if deps.Store == nil {
		return nil, errors.New("tracking: store is required")
	}
	if deps.Index == nil {
		deps.Index = database.NewIdentityIndex()
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.New("", nil)
	}
	tc := cfg.Tracking

	a := &App{
		cfg:       tc,
		cameras:   cfg.Cameras,
		store:     deps.Store,
		index:     deps.Index,
		opener:    deps.Opener,
		delivery:  deps.Delivery,
		metrics:   deps.Metrics,
		cache:     NewSimilarityCache(similarityCacheEntries),
		tracks:    NewTrackRegistry(),
		crossings: NewCrossingDetector(tc.CrossingStaleAfter),
		smoothers: NewSmootherSet(tc.CrossingStaleAfter),
		metadata:  NewMetadataCache(),
	}
	if deps.Analyzer != nil {
		a.analyzer = analyzer.NewPool(deps.Analyzer)
	}
	a.resolver = NewIdentityResolver(a.index, a.cache, a.tracks, ResolverConfig{
		BaseThreshold: tc.MatchThreshold,
		TopK:          tc.TopK,
		VoteWindow:    tc.VoteWindow,
		VoteGap:       tc.VoteGap,
	})
	a.ingest = NewEmbeddingIngestWorker(a.store, a.index, a.resolver, a.metrics, IngestConfig{
		Cooldown:     tc.UpdateCooldown,
		RebuildAfter: tc.RebuildAfter,
		KeepUpdates:  tc.KeepUpdates,
	})
	a.pipeline = &Pipeline{
		Gate:            facematch.NewQualityGate(tc.QualityThreshold, tc.MinFacePx),
		Resolver:        a.resolver,
		Tracks:          a.tracks,
		Smoothers:       a.smoothers,
		Crossings:       a.crossings,
		Transitions:     DefaultTransitions(),
		Updates:         a.ingest,
		Sink:            deps.Sink,
		UpdateThreshold: tc.UpdateThreshold,
	}
	return a, nil
}

// Pipeline returns the detection pipeline.
func (a *App) Pipeline() *Pipeline { return a.pipeline }

// Tracks returns the global track registry.
func (a *App) Tracks() *TrackRegistry { return a.tracks }

// Resolver returns the identity resolver.
func (a *App) Resolver() *IdentityResolver { return a.resolver }

// Ingest returns the embedding ingest worker.
func (a *App) Ingest() *EmbeddingIngestWorker { return a.ingest }

// Reload refreshes employee metadata and rebuilds the index from storage.
func (a *App) Reload(ctx context.Context) error {
	start := time.Now()
	employees, err := a.store.GetAllEmployees(ctx)
	if err != nil {
		return fmt.Errorf("loading employees: %w", err)
	}
	a.metadata.Replace(employees)

	var loaded int
	err = a.index.RebuildFrom(func() ([][]float32, []string, error) {
		active, err := a.store.GetAllActiveEmbeddings(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("loading active embeddings: %w", err)
		}
		loaded = active.Len()
		return active.Vectors, active.Labels, nil
	})
	if err != nil {
		return fmt.Errorf("rebuilding identity index: %w", err)
	}
	a.resolver.ClearCache()

	log.Info().
		Int("employees", len(employees)).
		Int("embeddings", loaded).
		Int("identities", a.index.LabelCount()).
		Dur("took", time.Since(start)).
		Msg("reloaded identities from storage")
	return nil
}

// Run starts every loop and blocks until ctx is cancelled and all loops
// have stopped. Cameras that fail to open are skipped and storage errors
// are retried by the periodic reload; Run itself does not fail.
func (a *App) Run(ctx context.Context) error {
	if a.index.Size() == 0 {
		if err := a.Reload(ctx); err != nil {
			log.Error().Err(err).Msg("initial reload failed, starting with an empty index")
		}
	} else if employees, err := a.store.GetAllEmployees(ctx); err != nil {
		log.Error().Err(err).Msg("loading employees failed")
	} else {
		a.metadata.Replace(employees)
		log.Info().Int("embeddings", a.index.Size()).Msg("using preloaded identity index")
	}

	var wg sync.WaitGroup
	spawn := func(fn func(context.Context)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn(ctx)
		}()
	}

	spawn(a.ingest.Run)
	if a.delivery != nil {
		spawn(a.delivery.Run)
		spawn(a.delivery.RunSweeper)
	}
	spawn(a.reloadLoop)
	spawn(a.statsLoop)

	for _, r := range a.openCameras(ctx) {
		spawn(r.captureLoop)
		spawn(r.detectionLoop)
	}

	<-ctx.Done()
	log.Info().Msg("shutting down tracker")
	wg.Wait()
	return nil
}

func (a *App) openCameras(ctx context.Context) []*cameraRunner {
	if a.opener == nil || a.analyzer == nil {
		log.Warn().Msg("no camera opener or analyzer configured, tracking without cameras")
		return nil
	}

	var runners []*cameraRunner
	for _, cc := range a.cameras {
		cam, err := a.opener.Open(ctx, cc)
		if err != nil {
			log.Error().Err(err).Str("camera", cc.ID).Str("source", cc.Source).Msg("failed to open camera, excluding it")
			a.metrics.Incr("camera.open_failed", []string{"camera:" + cc.ID})
			continue
		}
		log.Info().Str("camera", cc.ID).Str("role", cc.Role).Str("context", cc.ExecutionContext).Int("tripwires", len(cc.Tripwires)).Msg("camera opened")
		runners = append(runners, newCameraRunner(cc, cam, a.analyzer.For(cc.ExecutionContext), a.pipeline))
	}
	if len(runners) == 0 {
		log.Warn().Int("configured", len(a.cameras)).Msg("no camera could be opened")
	}

	a.runnersMu.Lock()
	a.runners = runners
	a.runnersMu.Unlock()
	return runners
}

func (a *App) reloadLoop(ctx context.Context) {
	if a.cfg.ReloadInterval <= 0 {
		return
	}
	ticker := time.NewTicker(a.cfg.ReloadInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := a.Reload(ctx); err != nil && ctx.Err() == nil {
				log.Warn().Err(err).Msg("periodic reload failed, keeping current index")
			}
		}
	}
}
