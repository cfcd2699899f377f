//go:build integration

package postgres

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/kozaktomas/facetrack/internal/config"
	"github.com/kozaktomas/facetrack/internal/database"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func setupTestContainer(t *testing.T) (*Store, func()) {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "pgvector/pgvector:pg16",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "test",
			"POSTGRES_PASSWORD": "test",
			"POSTGRES_DB":       "testdb",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil || container == nil {
		t.Skipf("Docker not available or container failed to start, skipping integration test: %v", err)
		return nil, func() {}
	}

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("Failed to get container port: %v", err)
	}

	cfg := &config.DatabaseConfig{
		URL:          fmt.Sprintf("postgres://test:test@%s:%s/testdb?sslmode=disable", host, port.Port()),
		MaxOpenConns: 5,
		MaxIdleConns: 2,
	}

	store, err := Open(ctx, cfg)
	if err != nil {
		_ = container.Terminate(ctx)
		t.Fatalf("Failed to open store: %v", err)
	}

	cleanup := func() {
		_ = store.Close()
		_ = container.Terminate(ctx)
	}
	return store, cleanup
}

func unitVec(hot int) []float32 {
	v := make([]float32, database.EmbeddingDim)
	v[hot%database.EmbeddingDim] = 1
	return v
}

func TestStore(t *testing.T) {
	store, cleanup := setupTestContainer(t)
	if store == nil {
		return
	}
	defer cleanup()

	ctx := context.Background()

	t.Run("Employees", func(t *testing.T) {
		err := store.SaveEmployee(ctx, database.Employee{ID: "E1", Name: "Jana Nováková", Department: "Assembly"})
		if err != nil {
			t.Fatalf("SaveEmployee: %v", err)
		}
		if err := store.SaveEmployee(ctx, database.Employee{ID: "E2", Name: "Petr Svoboda", Department: "QA"}); err != nil {
			t.Fatalf("SaveEmployee: %v", err)
		}

		got, err := store.GetEmployee(ctx, "E1")
		if err != nil {
			t.Fatalf("GetEmployee: %v", err)
		}
		if got.Department != "Assembly" || !got.Active {
			t.Errorf("unexpected employee: %+v", got)
		}

		if _, err := store.GetEmployee(ctx, "missing"); !errors.Is(err, database.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}

		all, err := store.GetAllEmployees(ctx)
		if err != nil || len(all) != 2 {
			t.Errorf("expected 2 employees, got %d (err %v)", len(all), err)
		}
	})

	t.Run("ActiveEmbeddings", func(t *testing.T) {
		for i := range 2 {
			_, err := store.StoreEmbedding(ctx, database.StoredEmbedding{
				EmployeeID: "E1", Embedding: unitVec(i), Type: database.EmbeddingEnroll, Quality: 0.9,
			})
			if err != nil {
				t.Fatalf("StoreEmbedding enroll: %v", err)
			}
		}
		for i := range 5 {
			_, err := store.StoreEmbedding(ctx, database.StoredEmbedding{
				EmployeeID: "E1", Embedding: unitVec(10 + i), Type: database.EmbeddingUpdate, Quality: 0.85,
			})
			if err != nil {
				t.Fatalf("StoreEmbedding update: %v", err)
			}
		}

		active, err := store.GetAllActiveEmbeddings(ctx)
		if err != nil {
			t.Fatalf("GetAllActiveEmbeddings: %v", err)
		}
		// 2 enroll + 3 newest updates
		if active.Len() != 5 {
			t.Errorf("expected 5 active embeddings, got %d", active.Len())
		}
		for _, label := range active.Labels {
			if label != "E1" {
				t.Errorf("unexpected label %q", label)
			}
		}

		if _, err := store.StoreEmbedding(ctx, database.StoredEmbedding{EmployeeID: "ghost", Embedding: unitVec(0)}); !errors.Is(err, database.ErrNotFound) {
			t.Errorf("expected ErrNotFound for unknown employee, got %v", err)
		}
	})

	t.Run("CleanupOldEmbeddings", func(t *testing.T) {
		removed, err := store.CleanupOldEmbeddings(ctx, "E1", 2)
		if err != nil {
			t.Fatalf("CleanupOldEmbeddings: %v", err)
		}
		if removed != 3 {
			t.Errorf("expected 3 removed, got %d", removed)
		}
		n, _ := store.CountEmbeddings(ctx, "E1")
		if n != 4 {
			t.Errorf("expected 2 enroll + 2 update remaining, got %d", n)
		}
	})

	t.Run("ArchiveEmbeddings", func(t *testing.T) {
		archived, err := store.ArchiveEmbeddings(ctx, "E1", database.EmbeddingUpdate)
		if err != nil {
			t.Fatalf("ArchiveEmbeddings: %v", err)
		}
		if archived != 2 {
			t.Errorf("expected 2 archived, got %d", archived)
		}
		active, _ := store.GetAllActiveEmbeddings(ctx)
		if active.Len() != 2 {
			t.Errorf("expected only enroll embeddings active, got %d", active.Len())
		}
	})

	t.Run("ReplaceEnrollEmbeddings", func(t *testing.T) {
		embs := []database.StoredEmbedding{
			{Embedding: unitVec(20), Quality: 0.9},
			{Embedding: unitVec(21), Quality: 0.9},
			{Embedding: unitVec(22), Quality: 0.9},
		}
		archived, err := store.ReplaceEnrollEmbeddings(ctx, "E1", embs)
		if err != nil {
			t.Fatalf("ReplaceEnrollEmbeddings: %v", err)
		}
		if archived != 2 {
			t.Errorf("expected 2 archived, got %d", archived)
		}
		if n, _ := store.CountEmbeddings(ctx, "E1"); n != 3 {
			t.Errorf("expected 3 active enroll embeddings, got %d", n)
		}

		// a failed replace must leave the current set alone
		if _, err := store.ReplaceEnrollEmbeddings(ctx, "ghost", embs); !errors.Is(err, database.ErrNotFound) {
			t.Errorf("expected ErrNotFound for unknown employee, got %v", err)
		}
		if n, _ := store.CountEmbeddings(ctx, "E1"); n != 3 {
			t.Errorf("expected 3 active enroll embeddings after failed replace, got %d", n)
		}
	})

	t.Run("Attendance", func(t *testing.T) {
		now := time.Now()
		latest, err := store.GetLatestAttendance(ctx, "E2", 10*time.Hour)
		if err != nil || latest != nil {
			t.Fatalf("expected no record, got %+v (err %v)", latest, err)
		}

		for i, typ := range []database.EventType{database.EventCheckIn, database.EventCheckOut, database.EventCheckIn} {
			_, err := store.CreateAttendanceRecord(ctx, database.AttendanceRecord{
				EmployeeID: "E2", CameraID: "entry", EventType: typ,
				Timestamp: now.Add(time.Duration(i-3) * time.Minute), Confidence: 0.9,
			})
			if err != nil {
				t.Fatalf("CreateAttendanceRecord: %v", err)
			}
		}
		_, _ = store.CreateAttendanceRecord(ctx, database.AttendanceRecord{
			EmployeeID: "E2", CameraID: "exit", EventType: database.EventCheckOut,
			Timestamp: now.Add(-20 * time.Hour),
		})

		latest, err = store.GetLatestAttendance(ctx, "E2", 10*time.Hour)
		if err != nil || latest == nil {
			t.Fatalf("expected a record, got %v", err)
		}
		if latest.EventType != database.EventCheckIn {
			t.Errorf("expected latest check_in, got %s", latest.EventType)
		}

		recs, err := store.ListAttendance(ctx, database.AttendanceFilter{EmployeeID: "E2", Since: now.Add(-time.Hour)})
		if err != nil {
			t.Fatalf("ListAttendance: %v", err)
		}
		if len(recs) != 3 {
			t.Errorf("expected 3 records in the last hour, got %d", len(recs))
		}
	})

	t.Run("Deactivate", func(t *testing.T) {
		if err := store.DeactivateEmployee(ctx, "E1"); err != nil {
			t.Fatalf("DeactivateEmployee: %v", err)
		}
		active, _ := store.GetAllActiveEmbeddings(ctx)
		if active.Len() != 0 {
			t.Errorf("inactive employee embeddings must not be active, got %d", active.Len())
		}
		if err := store.DeactivateEmployee(ctx, "nobody"); !errors.Is(err, database.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})
}
