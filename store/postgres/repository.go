// Package postgres is the server account store built on pgx.
package postgres

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/pressly/goose/v3/database"

	"github.com/MrEthical07/authd/account"
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

const uniqueViolation = "23505"

// DBTX is the subset of pgxpool.Pool the repository uses.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
}

// Repository implements account.Repository on PostgreSQL.
type Repository struct {
	db  DBTX
	now func() time.Time
}

// NewRepository returns a Repository over db.
func NewRepository(db DBTX) *Repository {
	return &Repository{db: db, now: time.Now}
}

// NewPool connects to dsn with pool limits suitable for the auth service.
func NewPool(ctx context.Context, dsn string, maxConns int32) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("invalid DB URL: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}
	cfg.MaxConnLifetime = time.Hour

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}
	return pool, nil
}

// Migrate applies the embedded migrations through a database/sql view of pool.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	db := stdlib.OpenDBFromPool(pool)
	defer db.Close()

	fsys, err := fs.Sub(embedMigrations, "migrations")
	if err != nil {
		return err
	}
	provider, err := goose.NewProvider(database.DialectPostgres, db, fsys)
	if err != nil {
		return err
	}
	if _, err := provider.Up(ctx); err != nil {
		return fmt.Errorf("goose up failed: %w", err)
	}
	return nil
}

const selectAccount = `
	SELECT id, username, password_hash, user_type, status, failed_attempts, locked_until, version, created_at, updated_at
	FROM accounts
`

func scanAccount(row pgx.Row) (*account.Account, error) {
	var (
		a      account.Account
		status string
	)
	err := row.Scan(&a.ID, &a.Username, &a.PasswordHash, &a.UserType, &status,
		&a.FailedAttempts, &a.LockedUntil, &a.Version, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, account.ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", account.ErrStoreUnavailable, err)
	}
	a.Status = account.Status(status)
	return &a, nil
}

// GetByID returns the account with id.
func (r *Repository) GetByID(ctx context.Context, id string) (*account.Account, error) {
	return scanAccount(r.db.QueryRow(ctx, selectAccount+`WHERE id = $1`, id))
}

// GetByUsername returns the account with exactly username.
func (r *Repository) GetByUsername(ctx context.Context, username string) (*account.Account, error) {
	return scanAccount(r.db.QueryRow(ctx, selectAccount+`WHERE username = $1`, username))
}

// Create inserts a.
func (r *Repository) Create(ctx context.Context, a *account.Account) error {
	if a.CreatedAt.IsZero() {
		a.CreatedAt = r.now()
	}
	if a.UpdatedAt.IsZero() {
		a.UpdatedAt = a.CreatedAt
	}
	if a.Status == "" {
		a.Status = account.StatusActive
	}
	if a.Version == 0 {
		a.Version = 1
	}

	_, err := r.db.Exec(ctx, `
		INSERT INTO accounts (id, username, password_hash, user_type, status, failed_attempts, locked_until, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		a.ID, a.Username, a.PasswordHash, a.UserType, string(a.Status),
		a.FailedAttempts, a.LockedUntil, a.Version, a.CreatedAt, a.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return account.ErrDuplicate
		}
		return fmt.Errorf("%w: %v", account.ErrStoreUnavailable, err)
	}
	return nil
}

// Update writes a when the stored version still equals a.Version.
func (r *Repository) Update(ctx context.Context, a *account.Account) error {
	updatedAt := r.now()
	tag, err := r.db.Exec(ctx, `
		UPDATE accounts
		SET username = $1, password_hash = $2, user_type = $3, status = $4,
		    failed_attempts = $5, locked_until = $6, version = version + 1, updated_at = $7
		WHERE id = $8 AND version = $9`,
		a.Username, a.PasswordHash, a.UserType, string(a.Status),
		a.FailedAttempts, a.LockedUntil, updatedAt, a.ID, a.Version)
	if err != nil {
		return fmt.Errorf("%w: %v", account.ErrStoreUnavailable, err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		err := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM accounts WHERE id = $1)`, a.ID).Scan(&exists)
		if err != nil {
			return fmt.Errorf("%w: %v", account.ErrStoreUnavailable, err)
		}
		if !exists {
			return account.ErrNotFound
		}
		return account.ErrVersionConflict
	}
	a.Version++
	a.UpdatedAt = updatedAt
	return nil
}

// AppendPasswordHistory inserts e.
func (r *Repository) AppendPasswordHistory(ctx context.Context, e account.PasswordHistoryEntry) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = r.now()
	}
	_, err := r.db.Exec(ctx, `
		INSERT INTO password_history (user_id, password_hash, changed_by, change_reason, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		e.UserID, e.PasswordHash, e.ChangedBy, e.ChangeReason, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("%w: %v", account.ErrStoreUnavailable, err)
	}
	return nil
}

// RecentPasswordHistory returns the newest limit entries, newest first.
func (r *Repository) RecentPasswordHistory(ctx context.Context, userID string, limit int) ([]account.PasswordHistoryEntry, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := r.db.Query(ctx, `
		SELECT id, user_id, password_hash, changed_by, change_reason, created_at
		FROM password_history
		WHERE user_id = $1
		ORDER BY id DESC
		LIMIT $2`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", account.ErrStoreUnavailable, err)
	}
	defer rows.Close()

	var out []account.PasswordHistoryEntry
	for rows.Next() {
		var e account.PasswordHistoryEntry
		if err := rows.Scan(&e.ID, &e.UserID, &e.PasswordHash, &e.ChangedBy, &e.ChangeReason, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("%w: %v", account.ErrStoreUnavailable, err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", account.ErrStoreUnavailable, err)
	}
	return out, nil
}

// PrunePasswordHistory deletes all but the newest keep entries of userID.
func (r *Repository) PrunePasswordHistory(ctx context.Context, userID string, keep int) (int64, error) {
	if keep < 0 {
		keep = 0
	}
	tag, err := r.db.Exec(ctx, `
		DELETE FROM password_history
		WHERE user_id = $1 AND id NOT IN (
			SELECT id FROM password_history WHERE user_id = $1 ORDER BY id DESC LIMIT $2
		)`, userID, keep)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", account.ErrStoreUnavailable, err)
	}
	return tag.RowsAffected(), nil
}

// Ping checks the pool.
func (r *Repository) Ping(ctx context.Context) error {
	if err := r.db.Ping(ctx); err != nil {
		return fmt.Errorf("%w: %v", account.ErrStoreUnavailable, err)
	}
	return nil
}

var _ account.Repository = (*Repository)(nil)
