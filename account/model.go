package account

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when no account matches.
	ErrNotFound = errors.New("account not found")
	// ErrVersionConflict is returned by Update when the stored version moved on since
	// the account was read.
	ErrVersionConflict = errors.New("account version conflict")
	// ErrDuplicate is returned when creating an account whose username is taken.
	ErrDuplicate = errors.New("account already exists")
	// ErrStoreUnavailable wraps database failures.
	ErrStoreUnavailable = errors.New("account store unavailable")
)

// Status is the administrative state of an account.
type Status string

const (
	StatusActive   Status = "active"
	StatusDisabled Status = "disabled"
)

// Account is the persisted user aggregate. Version increments on every successful Update.
type Account struct {
	ID             string
	Username       string
	PasswordHash   string
	UserType       string
	Status         Status
	FailedAttempts int
	LockedUntil    *time.Time
	Version        int64
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// LockedAt reports whether the account is locked at now.
func (a *Account) LockedAt(now time.Time) bool {
	return a.LockedUntil != nil && now.Before(*a.LockedUntil)
}

// Disabled reports whether the account was administratively disabled.
func (a *Account) Disabled() bool {
	return a.Status == StatusDisabled
}

// PasswordHistoryEntry is one previously used password hash.
type PasswordHistoryEntry struct {
	ID           int64
	UserID       string
	PasswordHash string
	ChangedBy    string
	ChangeReason string
	CreatedAt    time.Time
}

// Repository persists accounts and password history. Update must be a compare-and-set on
// Version: it writes only when the stored version equals a.Version, then increments
// a.Version, and returns ErrVersionConflict otherwise.
type Repository interface {
	GetByID(ctx context.Context, id string) (*Account, error)
	GetByUsername(ctx context.Context, username string) (*Account, error)
	Create(ctx context.Context, a *Account) error
	Update(ctx context.Context, a *Account) error
	AppendPasswordHistory(ctx context.Context, e PasswordHistoryEntry) error
	RecentPasswordHistory(ctx context.Context, userID string, limit int) ([]PasswordHistoryEntry, error)
	PrunePasswordHistory(ctx context.Context, userID string, keep int) (int64, error)
	Ping(ctx context.Context) error
}

// IsConflict is the conflict classifier for the retry executor.
func IsConflict(err error) bool {
	return errors.Is(err, ErrVersionConflict)
}
