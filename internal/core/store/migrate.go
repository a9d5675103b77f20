package store

import (
	"context"
	"fmt"

	"github.com/dogshouse/dogshouse/internal/core"
)

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS dogs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL COLLATE NOCASE,
		color TEXT NOT NULL,
		tail_length INTEGER NOT NULL CHECK (tail_length >= 0),
		weight INTEGER NOT NULL CHECK (weight >= 1)
	);`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_dogs_name ON dogs(name);`,
}

// DefaultDogs are inserted by Migrate when missing.
var DefaultDogs = []core.Dog{
	{Name: "Neo", Color: "red&amber", TailLength: 22, Weight: 32},
	{Name: "Jessy", Color: "black&white", TailLength: 7, Weight: 14},
}

// Migrate ensures the dogs table exists and holds the default rows.
func (s *Store) Migrate(ctx context.Context) error {
	if s == nil || s.DB == nil {
		return errNotInitialized
	}

	if ctx == nil {
		ctx = context.Background()
	}

	for _, stmt := range schemaStatements {
		if _, err := s.DB.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("store migration failed: %w", err)
		}
	}

	if _, err := s.SeedDogs(ctx, DefaultDogs); err != nil {
		return fmt.Errorf("seed default dogs: %w", err)
	}

	return nil
}

// SeedDogs inserts dogs whose names are not yet stored and reports how many
// rows were added. Existing rows are left untouched.
func (s *Store) SeedDogs(ctx context.Context, dogs []core.Dog) (int, error) {
	if s == nil || s.DB == nil {
		return 0, errNotInitialized
	}

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin seed: %w", err)
	}
	defer tx.Rollback() // nolint:errcheck // no-op after commit

	inserted := 0
	for _, dog := range dogs {
		res, err := tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO dogs (name, color, tail_length, weight)
			VALUES (?, ?, ?, ?)
		`, dog.Name, dog.Color, dog.TailLength, dog.Weight)
		if err != nil {
			return 0, fmt.Errorf("seed dog %q: %w", dog.Name, err)
		}
		if n, err := res.RowsAffected(); err == nil {
			inserted += int(n)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit seed: %w", err)
	}
	return inserted, nil
}
