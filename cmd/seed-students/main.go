package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"time"

	"github.com/stemsi/exot-sync/internal/codegen"
	"github.com/stemsi/exot-sync/internal/config"
	"github.com/stemsi/exot-sync/internal/database"
	"github.com/stemsi/exot-sync/internal/logger"
	"github.com/stemsi/exot-sync/internal/model"
	"github.com/stemsi/exot-sync/internal/repository"
	"github.com/stemsi/exot-sync/internal/service"
)

// seed-students appends synthetic participants to the authority, for
// rehearsals and load tests.
func main() {
	var count int
	var class string
	flag.IntVar(&count, "n", 50, "Number of students to add")
	flag.StringVar(&class, "class", "XII TKJ 2", "Class to put them in")
	flag.Parse()

	cfg := config.Load()
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat, "seed-students")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	pool, err := database.NewPostgresPool(ctx, cfg.DatabaseURL, 2, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()

	store := repository.NewPgStore(pool)
	reconcileService := service.NewReconcileService(store, nil, cfg.ActivityLogLimit, log)

	fmt.Printf("=== Seeding %d Students into %s ===\n", count, class)

	dataset, _, err := store.Snapshot(ctx, 0)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to read students")
	}

	taken := make(map[string]struct{}, len(dataset.Students))
	for _, s := range dataset.Students {
		taken[s.QRCode] = struct{}{}
	}
	codes := codegen.New("", codegen.DefaultLength).GenerateBatch(taken, count)

	students := dataset.Students
	now := model.Now()
	for i := 0; i < count; i++ {
		students = append(students, model.Student{
			ID:        model.NewID(),
			Name:      fmt.Sprintf("Student %03d", len(dataset.Students)+i+1),
			Class:     class,
			Type:      model.StudentTypeSiswa,
			QRCode:    codes[i],
			CreatedAt: now,
		})
	}

	payload, err := json.Marshal(students)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to encode students")
	}
	if err := reconcileService.Apply(ctx, model.CollectionStudents, payload, model.NowMillis(), "seed-students"); err != nil {
		log.Fatal().Err(err).Msg("Failed to seed students")
	}

	fmt.Printf("Done. %d students in total.\n", len(students))
}
