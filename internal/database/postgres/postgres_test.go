//go:build integration

package postgres

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/kozaktomas/rollcall/internal/config"
	"github.com/kozaktomas/rollcall/internal/database"
)

func setupTestContainer(t *testing.T) (*Pool, func()) {
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
	if err != nil {
		t.Skipf("Docker not available or container failed to start, skipping integration test: %v", err)
		return nil, func() {}
	}
	if container == nil {
		t.Skip("Docker not available, skipping integration test")
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

	dbURL := fmt.Sprintf("postgres://test:test@%s:%s/testdb?sslmode=disable", host, port.Port())

	cfg := &config.DatabaseConfig{
		URL:          dbURL,
		MaxOpenConns: 5,
		MaxIdleConns: 2,
	}

	pool, err := NewPool(cfg)
	if err != nil {
		container.Terminate(ctx)
		t.Fatalf("Failed to create pool: %v", err)
	}

	// Run migrations
	if err := pool.Migrate(ctx); err != nil {
		pool.Close()
		container.Terminate(ctx)
		t.Fatalf("Failed to run migrations: %v", err)
	}

	cleanup := func() {
		pool.Close()
		container.Terminate(ctx)
	}

	return pool, cleanup
}

func embedding(seed float32) []float32 {
	emb := make([]float32, 128)
	for i := range emb {
		emb[i] = seed + float32(i)/1280.0
	}
	return emb
}

func TestIdentityRepository(t *testing.T) {
	pool, cleanup := setupTestContainer(t)
	if pool == nil {
		return
	}
	defer cleanup()

	ctx := context.Background()
	repo := NewIdentityRepository(pool)

	for _, id := range []string{"s-2", "s-1", "s-3"} {
		err := repo.Upsert(ctx, database.StoredIdentity{ID: id, DisplayName: "Student " + id, ClassID: "7A"})
		if err != nil {
			t.Fatalf("Failed to upsert %s: %v", id, err)
		}
	}
	if err := repo.Upsert(ctx, database.StoredIdentity{ID: "t-1", DisplayName: "Jiří Novák", ClassID: "8B"}); err != nil {
		t.Fatalf("Failed to upsert: %v", err)
	}

	t.Run("GetWithoutEmbedding", func(t *testing.T) {
		got, err := repo.Get(ctx, "s-1")
		if err != nil {
			t.Fatalf("Failed to get identity: %v", err)
		}
		if got == nil {
			t.Fatal("Expected identity, got nil")
		}
		if got.HasEmbedding() {
			t.Error("Expected no embedding before enrollment")
		}

		missing, err := repo.Get(ctx, "nope")
		if err != nil || missing != nil {
			t.Errorf("Expected nil for missing identity, got %+v (err %v)", missing, err)
		}
	})

	t.Run("SaveEmbedding", func(t *testing.T) {
		if err := repo.SaveEmbedding(ctx, "s-1", embedding(0), "facenet-128"); err != nil {
			t.Fatalf("Failed to save embedding: %v", err)
		}
		if err := repo.SaveEmbedding(ctx, "s-2", embedding(1), "facenet-128"); err != nil {
			t.Fatalf("Failed to save embedding: %v", err)
		}
		if err := repo.SaveEmbedding(ctx, "nope", embedding(0), "facenet-128"); err == nil {
			t.Error("Expected error for unknown identity")
		}

		got, err := repo.Get(ctx, "s-1")
		if err != nil {
			t.Fatalf("Failed to get identity: %v", err)
		}
		if len(got.Embedding) != 128 || got.Dim != 128 {
			t.Errorf("Expected 128 dimensions, got %d (dim %d)", len(got.Embedding), got.Dim)
		}
		if got.EnrolledAt.IsZero() {
			t.Error("Expected enrolled_at to be set")
		}
	})

	t.Run("List", func(t *testing.T) {
		all, err := repo.List(ctx, database.IdentityFilter{ClassID: "7A"})
		if err != nil {
			t.Fatalf("Failed to list: %v", err)
		}
		if len(all) != 3 {
			t.Fatalf("Expected 3 identities, got %d", len(all))
		}
		if all[0].ID != "s-1" || all[1].ID != "s-2" || all[2].ID != "s-3" {
			t.Errorf("Expected identities ordered by id, got %s %s %s", all[0].ID, all[1].ID, all[2].ID)
		}

		enrolled, err := repo.List(ctx, database.IdentityFilter{ClassID: "7A", EnrolledOnly: true})
		if err != nil {
			t.Fatalf("Failed to list: %v", err)
		}
		if len(enrolled) != 2 {
			t.Errorf("Expected 2 enrolled identities, got %d", len(enrolled))
		}

		byName, err := repo.List(ctx, database.IdentityFilter{Query: "jiri novak"})
		if err != nil {
			t.Fatalf("Failed to list: %v", err)
		}
		if len(byName) != 1 || byName[0].ID != "t-1" {
			t.Errorf("Expected diacritics-insensitive match, got %+v", byName)
		}
	})

	t.Run("Count", func(t *testing.T) {
		count, err := repo.Count(ctx)
		if err != nil {
			t.Fatalf("Failed to count: %v", err)
		}
		if count != 2 {
			t.Errorf("Expected 2, got %d", count)
		}
	})

	t.Run("FindNearestPostgres", func(t *testing.T) {
		got, err := repo.FindNearest(ctx, embedding(0.01), 5, 0.6)
		if err != nil {
			t.Fatalf("Failed to find nearest: %v", err)
		}
		if len(got) != 1 || got[0].IdentityID != "s-1" {
			t.Errorf("Expected s-1 only, got %+v", got)
		}
	})

	t.Run("FindNearestHNSW", func(t *testing.T) {
		if err := repo.EnableHNSW(ctx, ""); err != nil {
			t.Fatalf("Failed to enable HNSW: %v", err)
		}
		defer repo.DisableHNSW()

		if repo.HNSWCount() != 2 {
			t.Errorf("Expected 2 indexed identities, got %d", repo.HNSWCount())
		}

		got, err := repo.FindNearest(ctx, embedding(1.01), 5, 0.6)
		if err != nil {
			t.Fatalf("Failed to find nearest: %v", err)
		}
		if len(got) != 1 || got[0].IdentityID != "s-2" {
			t.Errorf("Expected s-2 only, got %+v", got)
		}

		// enrollment after the index was built is searchable
		if err := repo.SaveEmbedding(ctx, "s-3", embedding(2), "facenet-128"); err != nil {
			t.Fatalf("Failed to save embedding: %v", err)
		}
		got, err = repo.FindNearest(ctx, embedding(2), 1, 0.6)
		if err != nil {
			t.Fatalf("Failed to find nearest: %v", err)
		}
		if len(got) != 1 || got[0].IdentityID != "s-3" {
			t.Errorf("Expected s-3, got %+v", got)
		}
	})

	t.Run("SavedIndexStaleAfterReEnrollment", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "identities.hnsw")

		indexed := NewIdentityRepository(pool)
		if err := indexed.EnableHNSW(ctx, path); err != nil {
			t.Fatalf("Failed to enable HNSW: %v", err)
		}
		if err := indexed.SaveHNSWIndex(); err != nil {
			t.Fatalf("Failed to save index: %v", err)
		}

		// another process re-enrolls s-1 without touching the saved index
		other := NewIdentityRepository(pool)
		if err := other.SaveEmbedding(ctx, "s-1", embedding(5), "facenet-128"); err != nil {
			t.Fatalf("Failed to save embedding: %v", err)
		}

		reloaded := NewIdentityRepository(pool)
		if err := reloaded.EnableHNSW(ctx, path); err != nil {
			t.Fatalf("Failed to enable HNSW: %v", err)
		}
		got, err := reloaded.FindNearest(ctx, embedding(5), 1, 0.6)
		if err != nil {
			t.Fatalf("Failed to find nearest: %v", err)
		}
		if len(got) != 1 || got[0].IdentityID != "s-1" {
			t.Errorf("Expected the re-enrolled s-1, got %+v", got)
		}
	})

	t.Run("Delete", func(t *testing.T) {
		if err := repo.Delete(ctx, "s-3"); err != nil {
			t.Fatalf("Failed to delete: %v", err)
		}
		got, err := repo.Get(ctx, "s-3")
		if err != nil {
			t.Fatalf("Failed to get: %v", err)
		}
		if got != nil {
			t.Error("Expected identity to be deleted")
		}
	})
}

func TestAttendanceRepository(t *testing.T) {
	pool, cleanup := setupTestContainer(t)
	if pool == nil {
		return
	}
	defer cleanup()

	ctx := context.Background()
	repo := NewAttendanceRepository(pool)
	now := time.Now().UTC().Truncate(time.Millisecond)

	first, err := repo.Record(ctx, database.AttendanceRecord{
		SessionID: "session_1", IdentityID: "s-1", IdentityName: "Jana", ClassName: "7A", MarkedAt: now,
	})
	if err != nil {
		t.Fatalf("Failed to record: %v", err)
	}

	again, err := repo.Record(ctx, database.AttendanceRecord{
		SessionID: "session_1", IdentityID: "s-1", MarkedAt: now.Add(time.Second),
	})
	if err != nil {
		t.Fatalf("Failed to record duplicate: %v", err)
	}
	if again != first {
		t.Errorf("Expected duplicate mark to return id %d, got %d", first, again)
	}

	if _, err := repo.Record(ctx, database.AttendanceRecord{
		SessionID: "session_1", IdentityID: "s-2", MarkedAt: now.Add(2 * time.Second),
	}); err != nil {
		t.Fatalf("Failed to record: %v", err)
	}
	if _, err := repo.Record(ctx, database.AttendanceRecord{
		SessionID: "session_2", IdentityID: "s-1", MarkedAt: now,
	}); err != nil {
		t.Fatalf("Failed to record: %v", err)
	}

	records, err := repo.ListBySession(ctx, "session_1")
	if err != nil {
		t.Fatalf("Failed to list: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("Expected 2 records, got %d", len(records))
	}
	if records[0].IdentityID != "s-1" || records[0].Status != database.StatusPresent ||
		records[0].MarkedBy != database.MarkedByFaceRecognition {
		t.Errorf("Unexpected first record %+v", records[0])
	}
	if records[0].IdentityName != "Jana" {
		t.Errorf("Expected the first mark to be kept, got name %q", records[0].IdentityName)
	}
}

func TestSessionRepository(t *testing.T) {
	pool, cleanup := setupTestContainer(t)
	if pool == nil {
		return
	}
	defer cleanup()

	ctx := context.Background()
	repo := NewSessionRepository(pool)
	started := time.Now().UTC().Truncate(time.Millisecond)

	rec := database.SessionRecord{
		ID: "session_1", ClassID: "7A", ClassName: "7A", Subject: "Math", Topic: "Fractions",
		SessionType: "lecture", DurationMinutes: 45, Phase: "active", RosterSize: 3, StartedAt: started,
	}
	if err := repo.SaveSession(ctx, rec); err != nil {
		t.Fatalf("Failed to save: %v", err)
	}

	ended := started.Add(45 * time.Minute)
	rec.Phase = "ended"
	rec.MarkCount = 2
	rec.EndedAt = &ended
	if err := repo.SaveSession(ctx, rec); err != nil {
		t.Fatalf("Failed to update: %v", err)
	}

	got, err := repo.GetSession(ctx, "session_1")
	if err != nil {
		t.Fatalf("Failed to get: %v", err)
	}
	if got == nil {
		t.Fatal("Expected session, got nil")
	}
	if got.Phase != "ended" || got.MarkCount != 2 || got.EndedAt == nil {
		t.Errorf("Unexpected session %+v", got)
	}
	if got.Subject != "Math" || got.DurationMinutes != 45 {
		t.Errorf("Expected details to be kept, got %+v", got)
	}

	list, err := repo.ListSessions(ctx, 10)
	if err != nil {
		t.Fatalf("Failed to list: %v", err)
	}
	if len(list) != 1 {
		t.Errorf("Expected 1 session, got %d", len(list))
	}

	missing, err := repo.GetSession(ctx, "nope")
	if err != nil || missing != nil {
		t.Errorf("Expected nil for missing session, got %+v (err %v)", missing, err)
	}
}

func TestMigrationsApplied(t *testing.T) {
	pool, cleanup := setupTestContainer(t)
	if pool == nil {
		return
	}
	defer cleanup()

	versions, err := pool.MigrationsApplied(context.Background())
	if err != nil {
		t.Fatalf("Failed to list migrations: %v", err)
	}
	if len(versions) != 2 || versions[0] != "001_identities.sql" || versions[1] != "002_attendance.sql" {
		t.Errorf("Unexpected migrations %v", versions)
	}

	// a second run is a no-op
	if err := pool.Migrate(context.Background()); err != nil {
		t.Fatalf("Second migrate failed: %v", err)
	}
}
