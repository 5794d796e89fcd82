package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"syscall"

	"github.com/stemsi/exot-sync/internal/config"
	"github.com/stemsi/exot-sync/internal/database"
	"github.com/stemsi/exot-sync/internal/logger"
	"github.com/stemsi/exot-sync/internal/model"
	"github.com/stemsi/exot-sync/internal/repository"
	"github.com/stemsi/exot-sync/internal/service"
	"golang.org/x/term"
)

func main() {
	// ─── Load Configuration ────────────────────────────────────────────
	cfg := config.Load()

	// ─── Initialize Logger ─────────────────────────────────────────────
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat, "create-user")

	ctx := context.Background()

	// ─── Connect to PostgreSQL ─────────────────────────────────────────
	pool, err := database.NewPostgresPool(ctx, cfg.DatabaseURL, 2, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()

	// ─── Initialize Services ───────────────────────────────────────────
	store := repository.NewPgStore(pool)
	authService := service.NewAuthService(cfg.JWTSecret, cfg.BcryptCost)
	reconcileService := service.NewReconcileService(store, nil, cfg.ActivityLogLimit, log)

	// ─── CLI Input ─────────────────────────────────────────────────────
	reader := bufio.NewReader(os.Stdin)

	fmt.Println("=== Create Committee Member ===")

	fmt.Print("Enter Name: ")
	name, _ := reader.ReadString('\n')
	name = strings.TrimSpace(name)
	if name == "" {
		fmt.Println("Error: Name is required")
		return
	}

	fmt.Print("Enter Username: ")
	username, _ := reader.ReadString('\n')
	username = strings.TrimSpace(username)
	if username == "" {
		fmt.Println("Error: Username is required")
		return
	}

	fmt.Print("Enter Password: ")
	bytePassword, err := term.ReadPassword(int(syscall.Stdin))
	if err != nil {
		fmt.Println("\nError reading password")
		return
	}
	password := string(bytePassword)
	fmt.Println()
	if len(password) < service.MinPasswordLength {
		fmt.Printf("Error: Password must be at least %d characters\n", service.MinPasswordLength)
		return
	}

	fmt.Print("Enter Role (panitia_utama/penguji, default penguji): ")
	roleStr, _ := reader.ReadString('\n')
	role := model.Role(strings.TrimSpace(roleStr))
	if role == "" {
		role = model.RolePenguji
	}
	if role != model.RolePanitiaUtama && role != model.RolePenguji {
		fmt.Println("Error: Unknown role")
		return
	}

	var subject *model.Subject
	if role == model.RolePenguji {
		fmt.Print("Enter Subject (english/arabic/alquran): ")
		subjStr, _ := reader.ReadString('\n')
		s := model.Subject(strings.TrimSpace(subjStr))
		if !s.Valid() {
			fmt.Println("Error: Unknown subject")
			return
		}
		subject = &s
	}

	// ─── Logic ─────────────────────────────────────────────────────────
	dataset, _, err := store.Snapshot(ctx, 0)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to read users")
	}
	for _, u := range dataset.Users {
		if strings.EqualFold(u.Username, username) {
			fmt.Printf("Error: Username '%s' is already taken\n", username)
			return
		}
	}

	hashed, err := authService.HashPassword(password)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to hash password")
	}

	user := model.User{
		ID:              model.NewID(),
		Username:        username,
		Password:        hashed,
		Name:            name,
		Role:            role,
		Subject:         subject,
		AssignedClasses: []string{},
		CreatedAt:       model.Now(),
	}

	// The users push replaces the whole collection, so send everyone.
	payload, err := json.Marshal(append(dataset.Users, user))
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to encode users")
	}
	if err := reconcileService.Apply(ctx, model.CollectionUsers, payload, model.NowMillis(), "create-user"); err != nil {
		log.Fatal().Err(err).Msg("Failed to create user")
	}

	fmt.Printf("\nSuccess! '%s' (%s) created with ID: %s\n", user.Name, user.Role, user.ID)
}
