package tracking

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kozaktomas/facetrack/internal/database"
	"github.com/kozaktomas/facetrack/internal/database/mock"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type countingIndex struct {
	mu       sync.Mutex
	appends  int
	rebuilds int
	lastSize int
}

func (c *countingIndex) Append(_ []float32, _ string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.appends++
	return nil
}

func (c *countingIndex) RebuildFrom(load func() ([][]float32, []string, error)) error {
	embeddings, _, err := load()
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rebuilds++
	c.lastSize = len(embeddings)
	return nil
}

func (c *countingIndex) counts() (appends, rebuilds int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.appends, c.rebuilds
}

type countingClearer struct{ clears int }

func (c *countingClearer) ClearCache() { c.clears++ }

func captureLog(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := log.Logger
	log.Logger = zerolog.New(&buf)
	t.Cleanup(func() { log.Logger = prev })
	return &buf
}

func storeWithEmployees(t *testing.T, ids ...string) *mock.MockStore {
	t.Helper()
	store := mock.NewMockStore()
	for _, id := range ids {
		store.AddEmployee(database.Employee{ID: id, Name: id})
		if _, err := store.StoreEmbedding(context.Background(), database.StoredEmbedding{
			EmployeeID: id,
			Embedding:  unit(0, -1, 0),
			Type:       database.EmbeddingEnroll,
			Active:     true,
		}); err != nil {
			t.Fatalf("seeding %s: %v", id, err)
		}
	}
	store.StoreEmbeddingCalls = 0
	return store
}

func updates(n int, id string) []PendingEmbeddingUpdate {
	out := make([]PendingEmbeddingUpdate, n)
	for i := range out {
		out[i] = PendingEmbeddingUpdate{EmployeeID: id, Embedding: unit(i%8, -1, 0), Quality: 0.9}
	}
	return out
}

func TestIngest_TwentyUpdatesTriggerOneRebuild(t *testing.T) {
	store := storeWithEmployees(t, "E1")
	idx := &countingIndex{}
	clearer := &countingClearer{}
	w := NewEmbeddingIngestWorker(store, idx, clearer, nil, IngestConfig{RebuildAfter: 20, KeepUpdates: 15})

	ctx := context.Background()
	all := updates(20, "E1")
	for i := 0; i < 4; i++ {
		w.ProcessBatch(ctx, all[i*5:(i+1)*5])
	}

	appends, rebuilds := idx.counts()
	if rebuilds != 1 {
		t.Errorf("rebuilds = %d, want 1", rebuilds)
	}
	if clearer.clears != 1 {
		t.Errorf("cache clears = %d, want 1", clearer.clears)
	}
	if appends != 15 {
		t.Errorf("appends = %d, want 15 before the rebuild", appends)
	}
	if store.StoreEmbeddingCalls != 20 || store.CleanupCalls != 20 {
		t.Errorf("store calls = %d, cleanup calls = %d, want 20 each", store.StoreEmbeddingCalls, store.CleanupCalls)
	}

	// the counter starts over
	w.ProcessBatch(ctx, updates(5, "E1"))
	if _, rebuilds := idx.counts(); rebuilds != 1 {
		t.Errorf("rebuilds after next batch = %d, want 1", rebuilds)
	}
}

func TestIngest_StorageFailureSkipsIndex(t *testing.T) {
	store := storeWithEmployees(t, "E1")
	store.StoreEmbeddingError = errors.New("connection reset")
	idx := &countingIndex{}
	w := NewEmbeddingIngestWorker(store, idx, nil, nil, IngestConfig{})

	w.ProcessBatch(context.Background(), updates(5, "E1"))
	if appends, rebuilds := idx.counts(); appends != 0 || rebuilds != 0 {
		t.Errorf("index mutated after storage failure: appends=%d rebuilds=%d", appends, rebuilds)
	}
	if w.sinceRebuild != 0 {
		t.Errorf("sinceRebuild = %d, want 0", w.sinceRebuild)
	}

	// one bad item does not sink the batch
	store.StoreEmbeddingError = nil
	batch := append(updates(2, "E1"), PendingEmbeddingUpdate{EmployeeID: "ghost", Embedding: unit(1, -1, 0)})
	w.ProcessBatch(context.Background(), batch)
	if appends, _ := idx.counts(); appends != 2 {
		t.Errorf("appends = %d, want 2", appends)
	}
}

func TestIngest_FailedReloadFallsBackToAppend(t *testing.T) {
	store := storeWithEmployees(t, "E1")
	idx := &countingIndex{}
	clearer := &countingClearer{}
	w := NewEmbeddingIngestWorker(store, idx, clearer, nil, IngestConfig{RebuildAfter: 5})

	store.GetActiveError = errors.New("timeout")
	w.ProcessBatch(context.Background(), updates(5, "E1"))
	appends, rebuilds := idx.counts()
	if appends != 5 || rebuilds != 0 || clearer.clears != 0 {
		t.Fatalf("appends=%d rebuilds=%d clears=%d, want 5/0/0", appends, rebuilds, clearer.clears)
	}

	store.GetActiveError = nil
	w.ProcessBatch(context.Background(), updates(1, "E1"))
	if _, rebuilds := idx.counts(); rebuilds != 1 || clearer.clears != 1 {
		t.Errorf("rebuild was not retried: rebuilds=%d clears=%d", rebuilds, clearer.clears)
	}
}

func TestIngest_QueueOverflowDropsNewest(t *testing.T) {
	buf := captureLog(t)
	w := NewEmbeddingIngestWorker(mock.NewMockStore(), &countingIndex{}, nil, nil, IngestConfig{
		QueueSize: 1000,
		Cooldown:  0,
	})

	for i := 0; i < 1000; i++ {
		if !w.Enqueue(PendingEmbeddingUpdate{EmployeeID: fmt.Sprintf("E%d", i), Embedding: unit(0, -1, 0)}) {
			t.Fatalf("Enqueue %d rejected", i)
		}
	}

	start := time.Now()
	if w.Enqueue(PendingEmbeddingUpdate{EmployeeID: "newest", Embedding: unit(0, -1, 0)}) {
		t.Fatal("Enqueue on a full queue succeeded")
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Enqueue blocked for %v", elapsed)
	}
	if w.Pending() != 1000 {
		t.Errorf("Pending = %d, want 1000", w.Pending())
	}
	out := buf.String()
	if !strings.Contains(out, `"level":"warn"`) || !strings.Contains(out, "queue full") || !strings.Contains(out, "newest") {
		t.Errorf("expected a warning naming the dropped update, got %s", out)
	}
}

func TestIngest_CooldownAndNormalization(t *testing.T) {
	w := NewEmbeddingIngestWorker(mock.NewMockStore(), &countingIndex{}, nil, nil, IngestConfig{Cooldown: 10 * time.Second})
	now := time.Now()
	raw := []float32{3, 4, 0, 0}

	if !w.Enqueue(PendingEmbeddingUpdate{EmployeeID: "E1", Embedding: raw, QueuedAt: now}) {
		t.Fatal("first update rejected")
	}
	if w.Enqueue(PendingEmbeddingUpdate{EmployeeID: "E1", Embedding: raw, QueuedAt: now.Add(5 * time.Second)}) {
		t.Error("update within cooldown accepted")
	}
	if !w.Enqueue(PendingEmbeddingUpdate{EmployeeID: "E2", Embedding: raw, QueuedAt: now.Add(5 * time.Second)}) {
		t.Error("cooldown leaked to another identity")
	}
	if !w.Enqueue(PendingEmbeddingUpdate{EmployeeID: "E1", Embedding: raw, QueuedAt: now.Add(11 * time.Second)}) {
		t.Error("update after cooldown rejected")
	}
	if w.Enqueue(PendingEmbeddingUpdate{EmployeeID: "E3", Embedding: []float32{0, 0, 0, 0}, QueuedAt: now}) {
		t.Error("zero vector accepted")
	}

	u := <-w.queue
	if !database.IsNormalized(u.Embedding) {
		t.Errorf("queued embedding %v is not unit length", u.Embedding)
	}
	if raw[0] != 3 {
		t.Error("Enqueue mutated the caller's slice")
	}
}

func TestIngest_SkippedUpdatesKeepCooldownFree(t *testing.T) {
	captureLog(t)
	w := NewEmbeddingIngestWorker(mock.NewMockStore(), &countingIndex{}, nil, nil, IngestConfig{
		QueueSize:      1,
		Cooldown:       10 * time.Second,
		EnqueueTimeout: 10 * time.Millisecond,
	})
	now := time.Now()

	if w.Enqueue(PendingEmbeddingUpdate{EmployeeID: "E1", Embedding: []float32{0, 0, 0}, QueuedAt: now}) {
		t.Fatal("zero vector accepted")
	}
	if !w.Enqueue(PendingEmbeddingUpdate{EmployeeID: "E1", Embedding: unit(0, -1, 0), QueuedAt: now.Add(time.Second)}) {
		t.Fatal("invalid vector used up the cooldown")
	}

	// the queue is now full, so the next identity is dropped
	if w.Enqueue(PendingEmbeddingUpdate{EmployeeID: "E2", Embedding: unit(0, -1, 0), QueuedAt: now}) {
		t.Fatal("Enqueue on a full queue succeeded")
	}
	<-w.queue
	if !w.Enqueue(PendingEmbeddingUpdate{EmployeeID: "E2", Embedding: unit(0, -1, 0), QueuedAt: now.Add(time.Second)}) {
		t.Error("dropped update used up the cooldown")
	}
}

func TestIngest_RunFinishesBatchOnShutdown(t *testing.T) {
	store := storeWithEmployees(t, "E1", "E2", "E3")
	idx := &countingIndex{}
	w := NewEmbeddingIngestWorker(store, idx, nil, nil, IngestConfig{BatchSize: 5, FlushInterval: time.Hour})

	for _, id := range []string{"E1", "E2", "E3"} {
		w.Enqueue(PendingEmbeddingUpdate{EmployeeID: id, Embedding: unit(0, -1, 0)})
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for w.Pending() > 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop")
	}

	if appends, _ := idx.counts(); appends != 3 {
		t.Errorf("appends = %d, want the 3 batched updates", appends)
	}
}

func TestIngest_RunFlushesOnTick(t *testing.T) {
	store := storeWithEmployees(t, "E1")
	idx := &countingIndex{}
	w := NewEmbeddingIngestWorker(store, idx, nil, nil, IngestConfig{BatchSize: 5, FlushInterval: 10 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	w.Enqueue(PendingEmbeddingUpdate{EmployeeID: "E1", Embedding: unit(0, -1, 0)})
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if appends, _ := idx.counts(); appends == 1 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("partial batch was not flushed by the ticker")
}
