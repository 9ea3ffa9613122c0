package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"chargeline/internal/config"
	"chargeline/internal/infrastructure"
	"chargeline/internal/repository"

	"go.uber.org/zap"
)

func main() {
	flag.Parse()
	args := flag.Args()

	if len(args) < 1 {
		fmt.Println("Error: migration command is required")
		fmt.Println("Usage: go run cmd/migrate/main.go [command]")
		fmt.Println("Commands: up, down, status, redo")
		os.Exit(1)
	}

	cfg, err := config.New()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	logger, err := infrastructure.NewLogger(cfg.Env, cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger error: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if !cfg.AuditEnabled() {
		logger.Fatal("CHARGELINE_POSTGRES_HOST is not set, nothing to migrate")
	}

	command := args[0]

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	logger.Info("starting migration", zap.String("command", command))

	if err := repository.RunMigrations(ctx, cfg.DSN(), command, logger); err != nil {
		logger.Fatal("migration failed", zap.Error(err))
	}

	logger.Info("migration finished successfully")
}
