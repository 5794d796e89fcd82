//go:build integration

package repository_test

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/rs/zerolog"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/stemsi/exot-sync/internal/database"
	"github.com/stemsi/exot-sync/internal/model"
	"github.com/stemsi/exot-sync/internal/repository"
	"github.com/stemsi/exot-sync/internal/service"
)

func startPostgres(t *testing.T) *repository.PgStore {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	pg, err := postgres.RunContainer(ctx,
		tc.WithImage("postgres:16-alpine"),
		postgres.WithDatabase("exot"),
		postgres.WithUsername("exot"),
		postgres.WithPassword("exot"),
		tc.WithWaitStrategy(wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).WithStartupTimeout(time.Minute)),
	)
	if err != nil {
		t.Fatalf("start postgres: %v", err)
	}
	t.Cleanup(func() {
		stopCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
		defer stop()
		_ = pg.Terminate(stopCtx)
	})

	uri, err := pg.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("connection string: %v", err)
	}

	dir, err := filepath.Abs(filepath.Join("..", "..", "migrations"))
	if err != nil {
		t.Fatalf("migrations dir: %v", err)
	}
	m, err := migrate.New("file://"+dir, uri)
	if err != nil {
		t.Fatalf("migrate init: %v", err)
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		t.Fatalf("migrate up: %v", err)
	}
	m.Close()

	pool, err := database.NewPostgresPool(context.Background(), uri, 4, zerolog.Nop())
	if err != nil {
		t.Fatalf("pool: %v", err)
	}
	t.Cleanup(pool.Close)
	return repository.NewPgStore(pool)
}

func raw(t *testing.T, v any) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return b
}

func TestPgStoreReconcile(t *testing.T) {
	store := startPostgres(t)
	svc := service.NewReconcileService(store, nil, 0, zerolog.Nop())
	ctx := context.Background()

	english, alquran := 85.0, 90.5
	examinerA, examinerB := "u-eng", "u-alq"
	attendedAt := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)
	students := []model.Student{
		{
			ID: "s1", Name: "Ani", Class: "7A", Type: model.StudentTypeSiswa, QRCode: "QR1",
			Attended: true, AttendedAt: &attendedAt,
			Scores:   model.Scores{English: &english, Alquran: &alquran},
			ScoredBy: model.ScoredBy{English: &examinerA, Alquran: &examinerB},
		},
		{ID: "s2", Name: "Budi", Class: "8B", Type: model.StudentTypeSiswa, QRCode: "QR2"},
	}
	if err := svc.Apply(ctx, model.CollectionStudents, raw(t, students), 100, "desk-a"); err != nil {
		t.Fatalf("Apply students: %v", err)
	}
	if err := svc.Apply(ctx, model.CollectionStudents, raw(t, students[:1]), 200, "desk-a"); err != nil {
		t.Fatalf("Apply students: %v", err)
	}

	ds, stamps, err := store.Snapshot(ctx, 0)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if len(ds.Students) != 1 || ds.Students[0].ID != "s1" {
		t.Fatalf("students = %+v, want only s1", ds.Students)
	}
	got := ds.Students[0]
	if !got.Attended || got.AttendedAt == nil || !got.AttendedAt.Equal(attendedAt) {
		t.Fatalf("attendance = %v at %v", got.Attended, got.AttendedAt)
	}
	if got.Scores.English == nil || *got.Scores.English != 85 || got.Scores.Arabic != nil ||
		got.Scores.Alquran == nil || *got.Scores.Alquran != 90.5 {
		t.Fatalf("scores = %+v", got.Scores)
	}
	if got.ScoredBy.English == nil || *got.ScoredBy.English != "u-eng" || got.ScoredBy.Arabic != nil ||
		got.ScoredBy.Alquran == nil || *got.ScoredBy.Alquran != "u-alq" {
		t.Fatalf("scoredBy = %+v", got.ScoredBy)
	}
	if stamps[model.CollectionStudents] != 200 {
		t.Fatalf("students stamp = %d, want 200", stamps[model.CollectionStudents])
	}
	// Pushing students registers their classes.
	if len(ds.Classes) != 2 {
		t.Fatalf("classes = %v, want 7A and 8B", ds.Classes)
	}

	if err := svc.Apply(ctx, model.CollectionSettings, json.RawMessage(`{"darkMode":true}`), 300, "desk-a"); err != nil {
		t.Fatalf("Apply settings: %v", err)
	}
	if err := svc.ApplySetting(ctx, "soundEnabled", json.RawMessage(`false`), 250, "desk-b"); err != nil {
		t.Fatalf("ApplySetting: %v", err)
	}
	ds, stamps, err = store.Snapshot(ctx, 0)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if len(ds.Settings) != 2 || stamps[model.CollectionSettings] != 300 {
		t.Fatalf("settings = %v at %d", ds.Settings, stamps[model.CollectionSettings])
	}
}

func TestPgStoreRewardFirstWinsAndActivityTrim(t *testing.T) {
	store := startPostgres(t)
	svc := service.NewReconcileService(store, nil, 0, zerolog.Nop())
	ctx := context.Background()

	first := []model.ExaminerReward{{ID: "r1", ExaminerID: "u1", ExaminerName: "A", QRCode: "RW-1"}}
	second := []model.ExaminerReward{{ID: "r2", ExaminerID: "u1", ExaminerName: "A", QRCode: "RW-2"}}
	svc.Apply(ctx, model.CollectionExaminerRewards, raw(t, first), 10, "desk-a")
	svc.Apply(ctx, model.CollectionExaminerRewards, raw(t, second), 20, "desk-b")

	base := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	var entries []model.ActivityEntry
	for i := 0; i < 5; i++ {
		entries = append(entries, model.ActivityEntry{
			ID:        string(rune('a' + i)),
			Action:    service.ActionLogin,
			Timestamp: base.Add(time.Duration(i) * time.Minute),
		})
	}
	if err := svc.Apply(ctx, model.CollectionActivityLog, raw(t, entries), 30, "desk-a"); err != nil {
		t.Fatalf("Apply activity: %v", err)
	}

	n, err := store.TrimActivity(ctx, 3)
	if err != nil {
		t.Fatalf("TrimActivity: %v", err)
	}
	if n != 2 {
		t.Fatalf("trimmed %d, want 2", n)
	}

	ds, _, err := store.Snapshot(ctx, 0)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if len(ds.ExaminerRewards) != 1 || ds.ExaminerRewards[0].ID != "r1" {
		t.Fatalf("rewards = %+v, want only r1", ds.ExaminerRewards)
	}
	if len(ds.ActivityLog) != 3 || ds.ActivityLog[0].ID != "e" {
		t.Fatalf("activity = %+v, want newest three", ds.ActivityLog)
	}
}
