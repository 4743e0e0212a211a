// Package repository provides persistence implementations for the users and
// wallets behind the development API.
package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/atinyakov/koracockpit/internal/models"
)

var (
	// ErrNotFound is returned when no row matches.
	ErrNotFound = errors.New("repository: not found")
	// ErrConflict is returned when a unique column already holds the value.
	ErrConflict = errors.New("repository: already exists")
)

const pqUniqueViolation = "23505"

// PostgresUserRepository stores users and wallets in PostgreSQL.
type PostgresUserRepository struct {
	// DB is the database handle for executing queries and transactions.
	DB *sql.DB
}

// NewPostgresUserRepository creates a repository on an open connection.
// The schema is expected to exist, see db.Migrate.
func NewPostgresUserRepository(db *sql.DB) *PostgresUserRepository {
	return &PostgresUserRepository{DB: db}
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// CreateUser inserts the user and an empty wallet in one transaction.
// A duplicate id or email yields ErrConflict.
func (r *PostgresUserRepository) CreateUser(ctx context.Context, u models.User) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("CreateUser: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO users (id, email, name, role, region_id, password_hash)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, u.ID, nullable(u.Email), u.Name, string(u.Role), u.RegionID, u.PasswordHash)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == pqUniqueViolation {
			return ErrConflict
		}
		return fmt.Errorf("CreateUser: insert user: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `INSERT INTO wallets (user_id) VALUES ($1)`, u.ID); err != nil {
		return fmt.Errorf("CreateUser: insert wallet: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("CreateUser: commit: %w", err)
	}
	return nil
}

// UpsertUser creates or updates a user by id and makes sure it has a wallet.
func (r *PostgresUserRepository) UpsertUser(ctx context.Context, u models.User) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("UpsertUser: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO users (id, email, name, role, region_id, password_hash)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE
		SET name = EXCLUDED.name, role = EXCLUDED.role, region_id = EXCLUDED.region_id
	`, u.ID, nullable(u.Email), u.Name, string(u.Role), u.RegionID, u.PasswordHash)
	if err != nil {
		return fmt.Errorf("UpsertUser: upsert user: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `INSERT INTO wallets (user_id) VALUES ($1) ON CONFLICT DO NOTHING`, u.ID); err != nil {
		return fmt.Errorf("UpsertUser: insert wallet: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("UpsertUser: commit: %w", err)
	}
	return nil
}

const selectUser = `SELECT id, COALESCE(email, ''), name, role, region_id, password_hash FROM users`

func scanUser(row *sql.Row) (models.User, error) {
	var (
		u    models.User
		role string
	)
	if err := row.Scan(&u.ID, &u.Email, &u.Name, &role, &u.RegionID, &u.PasswordHash); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.User{}, ErrNotFound
		}
		return models.User{}, err
	}
	u.Role = models.Role(role)
	return u, nil
}

// GetUserByID fetches a user by id.
func (r *PostgresUserRepository) GetUserByID(ctx context.Context, id string) (models.User, error) {
	u, err := scanUser(r.DB.QueryRowContext(ctx, selectUser+` WHERE id = $1`, id))
	if err != nil && !errors.Is(err, ErrNotFound) {
		return u, fmt.Errorf("GetUserByID: %w", err)
	}
	return u, err
}

// GetUserByEmail fetches a user by email.
func (r *PostgresUserRepository) GetUserByEmail(ctx context.Context, email string) (models.User, error) {
	u, err := scanUser(r.DB.QueryRowContext(ctx, selectUser+` WHERE email = $1`, email))
	if err != nil && !errors.Is(err, ErrNotFound) {
		return u, fmt.Errorf("GetUserByEmail: %w", err)
	}
	return u, err
}

// GetWallet fetches the wallet of a user.
func (r *PostgresUserRepository) GetWallet(ctx context.Context, userID string) (models.Wallet, error) {
	w := models.Wallet{UserID: userID}
	err := r.DB.QueryRowContext(ctx, `SELECT balance_cents FROM wallets WHERE user_id = $1`, userID).Scan(&w.BalanceCents)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Wallet{}, ErrNotFound
	}
	if err != nil {
		return models.Wallet{}, fmt.Errorf("GetWallet: %w", err)
	}
	return w, nil
}
