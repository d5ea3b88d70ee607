package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// Migrate applies every *.sql file in dir, in name order, that is not yet
// recorded in schema_migrations. Each file runs in its own transaction.
func (s *Store) Migrate(ctx context.Context, dir string) ([]string, error) {
	if _, err := s.Pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		name TEXT PRIMARY KEY,
		applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`); err != nil {
		return nil, wrap("create schema_migrations", err)
	}
	files, err := filepath.Glob(filepath.Join(dir, "*.sql"))
	if err != nil {
		return nil, fmt.Errorf("list migrations: %w", err)
	}
	sort.Strings(files)

	var applied []string
	for _, file := range files {
		name := filepath.Base(file)
		content, err := os.ReadFile(file)
		if err != nil {
			return applied, fmt.Errorf("read migration %s: %w", name, err)
		}
		done, err := s.applyMigration(ctx, name, string(content))
		if err != nil {
			return applied, err
		}
		if done {
			applied = append(applied, name)
		}
	}
	return applied, nil
}

func (s *Store) applyMigration(ctx context.Context, name, content string) (bool, error) {
	tx, err := s.Pool.Begin(ctx)
	if err != nil {
		return false, wrap("begin migration", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, `INSERT INTO schema_migrations (name) VALUES ($1) ON CONFLICT (name) DO NOTHING`, name)
	if err != nil {
		return false, wrap("record migration "+name, err)
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}
	if _, err := tx.Exec(ctx, content); err != nil {
		return false, wrap("apply migration "+name, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return false, wrap("commit migration "+name, err)
	}
	return true, nil
}
