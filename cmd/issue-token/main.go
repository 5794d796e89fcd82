package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/stemsi/exot-sync/internal/config"
	"github.com/stemsi/exot-sync/internal/service"
)

// issue-token prints a device token a desk uses as SYNC_TOKEN.
func main() {
	var deskID string
	var ttl time.Duration
	flag.StringVar(&deskID, "desk", "", "Desk identifier stamped into the token")
	flag.DurationVar(&ttl, "ttl", 0, "Token lifetime (defaults to JWT_EXPIRY_HOURS)")
	flag.Parse()

	if deskID == "" {
		fmt.Fprintln(os.Stderr, "Usage: issue-token -desk <id> [-ttl 720h]")
		os.Exit(2)
	}

	cfg := config.Load()
	if ttl <= 0 {
		ttl = cfg.JWTExpiry
	}

	authService := service.NewAuthService(cfg.JWTSecret, cfg.BcryptCost)
	token, err := authService.GenerateDeviceToken(deskID, ttl)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to sign token: %v\n", err)
		os.Exit(1)
	}

	fmt.Println(token)
}
