package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Migrate executes every .sql file in dir in lexical order and returns the applied names.
// Scripts are expected to be idempotent; no version table is kept.
func (s *Store) Migrate(ctx context.Context, dir string) ([]string, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	scripts, err := migrationScripts(dir)
	if err != nil {
		return nil, err
	}

	applied := make([]string, 0, len(scripts))
	for _, name := range scripts {
		body, readErr := os.ReadFile(filepath.Join(dir, name))
		if readErr != nil {
			return applied, fmt.Errorf("read migration %s: %w", name, readErr)
		}
		// No arguments, so pgx uses the simple protocol and multi-statement scripts work.
		if _, execErr := pool.Exec(ctx, string(body)); execErr != nil {
			return applied, fmt.Errorf("apply migration %s: %w", name, execErr)
		}
		applied = append(applied, name)
	}
	return applied, nil
}

func migrationScripts(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read migrations dir: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.EqualFold(filepath.Ext(entry.Name()), ".sql") {
			continue
		}
		names = append(names, entry.Name())
	}
	return names, nil
}
