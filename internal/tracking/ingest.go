package tracking

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/kozaktomas/facetrack/internal/database"
	"github.com/kozaktomas/facetrack/internal/metrics"
	"github.com/rs/zerolog/log"
)

// PendingEmbeddingUpdate is a high-confidence embedding waiting to be
// persisted and added to the index.
type PendingEmbeddingUpdate struct {
	EmployeeID string
	Embedding  []float32
	Quality    float64
	CameraID   string
	Source     string
	QueuedAt   time.Time
}

// EmbeddingStore is the storage side of the ingest worker.
type EmbeddingStore interface {
	StoreEmbedding(ctx context.Context, emb database.StoredEmbedding) (int64, error)
	CleanupOldEmbeddings(ctx context.Context, employeeID string, keepN int) (int64, error)
	GetAllActiveEmbeddings(ctx context.Context) (database.ActiveEmbeddings, error)
}

// IndexWriter is the mutating side of the identity index.
type IndexWriter interface {
	Append(embedding []float32, label string) error
	RebuildFrom(load func() ([][]float32, []string, error)) error
}

// CacheClearer drops memoized lookups that refer to the old index.
type CacheClearer interface {
	ClearCache()
}

// IngestConfig tunes the ingest worker.
type IngestConfig struct {
	QueueSize      int
	BatchSize      int
	FlushInterval  time.Duration
	EnqueueTimeout time.Duration
	Cooldown       time.Duration
	RebuildAfter   int
	KeepUpdates    int
}

// DefaultIngestConfig returns the production settings.
func DefaultIngestConfig() IngestConfig {
	return IngestConfig{
		QueueSize:      1000,
		BatchSize:      5,
		FlushInterval:  time.Second,
		EnqueueTimeout: 100 * time.Millisecond,
		Cooldown:       10 * time.Second,
		RebuildAfter:   20,
		KeepUpdates:    15,
	}
}

// EmbeddingIngestWorker persists embedding updates in batches and feeds
// them into the identity index. It is the only writer of the index outside
// the periodic reload.
type EmbeddingIngestWorker struct {
	store   EmbeddingStore
	index   IndexWriter
	cache   CacheClearer
	metrics *metrics.Client
	cfg     IngestConfig
	queue   chan PendingEmbeddingUpdate

	cooldownMu sync.Mutex
	lastQueued map[string]time.Time

	// touched only by the consumer goroutine
	sinceRebuild int
}

// NewEmbeddingIngestWorker creates a worker. Zero config fields take defaults.
func NewEmbeddingIngestWorker(store EmbeddingStore, index IndexWriter, cache CacheClearer, m *metrics.Client, cfg IngestConfig) *EmbeddingIngestWorker {
	def := DefaultIngestConfig()
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = def.FlushInterval
	}
	if cfg.EnqueueTimeout <= 0 {
		cfg.EnqueueTimeout = def.EnqueueTimeout
	}
	if cfg.RebuildAfter <= 0 {
		cfg.RebuildAfter = def.RebuildAfter
	}
	if cfg.KeepUpdates <= 0 {
		cfg.KeepUpdates = def.KeepUpdates
	}
	if m == nil {
		m = metrics.New("", nil)
	}
	return &EmbeddingIngestWorker{
		store:      store,
		index:      index,
		cache:      cache,
		metrics:    m,
		cfg:        cfg,
		queue:      make(chan PendingEmbeddingUpdate, cfg.QueueSize),
		lastQueued: make(map[string]time.Time),
	}
}

// Enqueue offers an update without blocking for longer than the enqueue
// timeout. It returns false when the update was skipped (cooldown, invalid
// vector) or dropped because the queue stayed full.
func (w *EmbeddingIngestWorker) Enqueue(u PendingEmbeddingUpdate) bool {
	if u.QueuedAt.IsZero() {
		u.QueuedAt = time.Now()
	}
	normalized, err := database.Normalize(u.Embedding)
	if err != nil {
		log.Debug().Err(err).Str("employee_id", u.EmployeeID).Msg("skipping invalid embedding update")
		return false
	}
	u.Embedding = normalized

	if !w.claimCooldown(u.EmployeeID, u.QueuedAt) {
		return false
	}

	timer := time.NewTimer(w.cfg.EnqueueTimeout)
	defer timer.Stop()
	select {
	case w.queue <- u:
		return true
	case <-timer.C:
		w.releaseCooldown(u.EmployeeID, u.QueuedAt)
		log.Warn().
			Str("employee_id", u.EmployeeID).
			Int("queue_len", len(w.queue)).
			Msg("embedding update queue full, dropping update")
		w.metrics.Incr("ingest.dropped", nil)
		return false
	}
}

func (w *EmbeddingIngestWorker) claimCooldown(employeeID string, now time.Time) bool {
	if w.cfg.Cooldown <= 0 {
		return true
	}
	w.cooldownMu.Lock()
	defer w.cooldownMu.Unlock()
	if last, ok := w.lastQueued[employeeID]; ok && now.Sub(last) < w.cfg.Cooldown {
		return false
	}
	w.lastQueued[employeeID] = now
	return true
}

// releaseCooldown gives back a claim whose update never reached the queue.
// Any earlier claim was already past the cooldown, so forgetting it is safe.
func (w *EmbeddingIngestWorker) releaseCooldown(employeeID string, claimed time.Time) {
	if w.cfg.Cooldown <= 0 {
		return
	}
	w.cooldownMu.Lock()
	defer w.cooldownMu.Unlock()
	if last, ok := w.lastQueued[employeeID]; ok && last.Equal(claimed) {
		delete(w.lastQueued, employeeID)
	}
}

// Pending returns the number of queued updates.
func (w *EmbeddingIngestWorker) Pending() int {
	return len(w.queue)
}

// Run drains the queue until ctx is cancelled. A batch is flushed when it
// reaches BatchSize or on every FlushInterval tick; the batch in hand at
// shutdown is still processed.
func (w *EmbeddingIngestWorker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.FlushInterval)
	defer ticker.Stop()

	batch := make([]PendingEmbeddingUpdate, 0, w.cfg.BatchSize)
	flush := func(ctx context.Context) {
		if len(batch) == 0 {
			return
		}
		w.ProcessBatch(ctx, batch)
		batch = batch[:0]
	}

	log.Info().Int("queue_size", w.cfg.QueueSize).Msg("embedding ingest worker started")
	for {
		select {
		case <-ctx.Done():
			flush(context.WithoutCancel(ctx))
			log.Info().Int("dropped_pending", len(w.queue)).Msg("embedding ingest worker stopped")
			return
		case u := <-w.queue:
			batch = append(batch, u)
			if len(batch) >= w.cfg.BatchSize {
				flush(ctx)
			}
		case <-ticker.C:
			flush(ctx)
		}
	}
}

// ProcessBatch persists each update and then mutates the index. Updates that
// fail to persist never reach the index.
func (w *EmbeddingIngestWorker) ProcessBatch(ctx context.Context, batch []PendingEmbeddingUpdate) {
	start := time.Now()
	persisted := make([]PendingEmbeddingUpdate, 0, len(batch))
	for _, u := range batch {
		_, err := w.store.StoreEmbedding(ctx, database.StoredEmbedding{
			EmployeeID:  u.EmployeeID,
			Embedding:   u.Embedding,
			Type:        database.EmbeddingUpdate,
			Quality:     u.Quality,
			SourceImage: u.Source,
		})
		if err != nil {
			log.Warn().Err(err).Str("employee_id", u.EmployeeID).Msg("failed to persist embedding update")
			w.metrics.Incr("ingest.store_failed", nil)
			continue
		}
		if _, err := w.store.CleanupOldEmbeddings(ctx, u.EmployeeID, w.cfg.KeepUpdates); err != nil {
			log.Warn().Err(err).Str("employee_id", u.EmployeeID).Msg("failed to clean up old embeddings")
		}
		persisted = append(persisted, u)
	}
	if len(persisted) == 0 {
		return
	}

	w.sinceRebuild += len(persisted)
	if w.sinceRebuild >= w.cfg.RebuildAfter && w.rebuild(ctx) {
		w.sinceRebuild = 0
	} else {
		for _, u := range persisted {
			if err := w.index.Append(u.Embedding, u.EmployeeID); err != nil {
				log.Warn().Err(err).Str("employee_id", u.EmployeeID).Msg("failed to append embedding to index")
			}
		}
	}

	w.metrics.Count("ingest.persisted", int64(len(persisted)), nil)
	w.metrics.Timing("ingest.batch", time.Since(start), nil)
	log.Debug().Int("batch", len(batch)).Int("persisted", len(persisted)).Int("since_rebuild", w.sinceRebuild).Msg("processed embedding batch")
}

// rebuild reloads the active embeddings and swaps the index. On failure the
// caller falls back to appending and the rebuild is retried next batch.
func (w *EmbeddingIngestWorker) rebuild(ctx context.Context) bool {
	var loaded int
	err := w.index.RebuildFrom(func() ([][]float32, []string, error) {
		active, err := w.store.GetAllActiveEmbeddings(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("loading active embeddings: %w", err)
		}
		loaded = active.Len()
		return active.Vectors, active.Labels, nil
	})
	if err != nil {
		log.Warn().Err(err).Msg("identity index rebuild failed")
		return false
	}
	if w.cache != nil {
		w.cache.ClearCache()
	}
	w.metrics.Incr("ingest.rebuilds", nil)
	log.Info().Int("embeddings", loaded).Msg("identity index rebuilt")
	return true
}
