package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
)

// PostgresStorage keeps entries in the cockpit_kv table.
type PostgresStorage struct {
	// DB is the database handle for executing queries.
	DB      *sql.DB
	profile string
}

// NewPostgres creates a PostgresStorage for the given profile.
// db must be connected and the schema from db.InitPostgres applied.
func NewPostgres(db *sql.DB, profile string) *PostgresStorage {
	if profile == "" {
		profile = "default"
	}
	return &PostgresStorage{DB: db, profile: profile}
}

func (s *PostgresStorage) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.DB.QueryRowContext(ctx,
		`SELECT value FROM cockpit_kv WHERE profile = $1 AND key = $2`,
		s.profile, key,
	).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get %s: %w", key, err)
	}
	return value, true, nil
}

func (s *PostgresStorage) Set(ctx context.Context, key, value string) error {
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO cockpit_kv (profile, key, value, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (profile, key) DO UPDATE SET
			value = EXCLUDED.value,
			updated_at = now()
	`, s.profile, key, value)
	if err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

func (s *PostgresStorage) Remove(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	_, err := s.DB.ExecContext(ctx,
		`DELETE FROM cockpit_kv WHERE profile = $1 AND key = ANY($2)`,
		s.profile, pq.Array(keys),
	)
	if err != nil {
		return fmt.Errorf("remove: %w", err)
	}
	return nil
}
