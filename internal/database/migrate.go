package database

import (
	"context"
	_ "embed"
	"fmt"
)

//go:embed schema.sql
var schema string

// EnsureSchema creates missing tables and seeds the store catalog. It is
// safe to run on every start.
func (db *DB) EnsureSchema(ctx context.Context) error {
	if _, err := db.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// CreateAPIKey registers token as an active key. Existing tokens are
// reactivated.
func (db *DB) CreateAPIKey(ctx context.Context, token string) (int64, error) {
	var id int64
	err := db.pool.QueryRow(ctx, `
		INSERT INTO api_keys (token, is_active) VALUES ($1, TRUE)
		ON CONFLICT (token) DO UPDATE SET is_active = TRUE
		RETURNING id`, token).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to create api key: %w", err)
	}
	return id, nil
}
