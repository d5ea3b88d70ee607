package main

import (
	"context"
	"log/slog"
	"os"
	"time"

	"slatrack/internal/storage"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		logger.Error("DATABASE_URL is required")
		os.Exit(1)
	}
	dir := os.Getenv("MIGRATIONS_DIR")
	if dir == "" {
		dir = "migrations"
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	store, err := storage.NewStore(ctx, dsn)
	if err != nil {
		logger.Error("failed to connect", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer store.Close()

	applied, err := store.Migrate(ctx, dir)
	for _, name := range applied {
		logger.Info("applied migration", slog.String("file", name))
	}
	if err != nil {
		logger.Error("migration failed", slog.String("dir", dir), slog.String("error", err.Error()))
		store.Close()
		os.Exit(1)
	}
	logger.Info("migrations up to date", slog.Int("applied", len(applied)))
}
