package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MrEthical07/authd/account"
)

const accountColumns = `id, username, password_hash, user_type, status, failed_attempts, locked_until, version, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (*account.Account, error) {
	var (
		a                    account.Account
		status               string
		lockedUntil          sql.NullInt64
		createdAt, updatedAt int64
	)
	err := row.Scan(&a.ID, &a.Username, &a.PasswordHash, &a.UserType, &status,
		&a.FailedAttempts, &lockedUntil, &a.Version, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, account.ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", account.ErrStoreUnavailable, err)
	}
	a.Status = account.Status(status)
	if lockedUntil.Valid {
		t := time.UnixMilli(lockedUntil.Int64)
		a.LockedUntil = &t
	}
	a.CreatedAt = time.UnixMilli(createdAt)
	a.UpdatedAt = time.UnixMilli(updatedAt)
	return &a, nil
}

func nullMillis(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
}

// GetByID returns the account with id.
func (s *Storage) GetByID(ctx context.Context, id string) (*account.Account, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = ?`, id)
	return scanAccount(row)
}

// GetByUsername returns the account with exactly username (case-sensitive).
func (s *Storage) GetByUsername(ctx context.Context, username string) (*account.Account, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE username = ?`, username)
	return scanAccount(row)
}

// Create inserts a. Missing timestamps, status and version are filled in.
func (s *Storage) Create(ctx context.Context, a *account.Account) error {
	now := time.Now()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
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

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO accounts (`+accountColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.Username, a.PasswordHash, a.UserType, string(a.Status),
		a.FailedAttempts, nullMillis(a.LockedUntil), a.Version,
		a.CreatedAt.UnixMilli(), a.UpdatedAt.UnixMilli(),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return account.ErrDuplicate
		}
		return fmt.Errorf("%w: %v", account.ErrStoreUnavailable, err)
	}
	return nil
}

// Update writes a when the stored version still equals a.Version.
func (s *Storage) Update(ctx context.Context, a *account.Account) error {
	updatedAt := time.Now()
	res, err := s.db.ExecContext(ctx, `
		UPDATE accounts
		SET username = ?, password_hash = ?, user_type = ?, status = ?,
		    failed_attempts = ?, locked_until = ?, version = version + 1, updated_at = ?
		WHERE id = ? AND version = ?`,
		a.Username, a.PasswordHash, a.UserType, string(a.Status),
		a.FailedAttempts, nullMillis(a.LockedUntil), updatedAt.UnixMilli(),
		a.ID, a.Version,
	)
	if err != nil {
		return fmt.Errorf("%w: %v", account.ErrStoreUnavailable, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: %v", account.ErrStoreUnavailable, err)
	}
	if n == 0 {
		return s.missOrConflict(ctx, a.ID)
	}
	a.Version++
	a.UpdatedAt = updatedAt
	return nil
}

func (s *Storage) missOrConflict(ctx context.Context, id string) error {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM accounts WHERE id = ?`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return account.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("%w: %v", account.ErrStoreUnavailable, err)
	}
	return account.ErrVersionConflict
}

// AppendPasswordHistory inserts e.
func (s *Storage) AppendPasswordHistory(ctx context.Context, e account.PasswordHistoryEntry) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO password_history (user_id, password_hash, changed_by, change_reason, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		e.UserID, e.PasswordHash, e.ChangedBy, e.ChangeReason, e.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("%w: %v", account.ErrStoreUnavailable, err)
	}
	return nil
}

// RecentPasswordHistory returns the newest limit entries, newest first.
func (s *Storage) RecentPasswordHistory(ctx context.Context, userID string, limit int) ([]account.PasswordHistoryEntry, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, password_hash, changed_by, change_reason, created_at
		FROM password_history
		WHERE user_id = ?
		ORDER BY id DESC
		LIMIT ?`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", account.ErrStoreUnavailable, err)
	}
	defer rows.Close()

	var out []account.PasswordHistoryEntry
	for rows.Next() {
		var (
			e         account.PasswordHistoryEntry
			createdAt int64
		)
		if err := rows.Scan(&e.ID, &e.UserID, &e.PasswordHash, &e.ChangedBy, &e.ChangeReason, &createdAt); err != nil {
			return nil, fmt.Errorf("%w: %v", account.ErrStoreUnavailable, err)
		}
		e.CreatedAt = time.UnixMilli(createdAt)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", account.ErrStoreUnavailable, err)
	}
	return out, nil
}

// PrunePasswordHistory deletes all but the newest keep entries of userID.
func (s *Storage) PrunePasswordHistory(ctx context.Context, userID string, keep int) (int64, error) {
	if keep < 0 {
		keep = 0
	}
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM password_history
		WHERE user_id = ? AND id NOT IN (
			SELECT id FROM password_history WHERE user_id = ? ORDER BY id DESC LIMIT ?
		)`, userID, userID, keep)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", account.ErrStoreUnavailable, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", account.ErrStoreUnavailable, err)
	}
	return n, nil
}

var _ account.Repository = (*Storage)(nil)
