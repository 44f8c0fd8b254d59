// Package account owns the user-account aggregate and the security rules applied to it:
// failed-login counting, lockout, and password-reuse history.
package account

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/MrEthical07/authd/retry"
	"github.com/MrEthical07/authd/settings"
)

// Comparator verifies a plaintext password against a stored hash.
type Comparator interface {
	Verify(password, encodedHash string) (bool, error)
}

// PolicyReader supplies the live security policy.
type PolicyReader interface {
	Security(ctx context.Context) settings.SecurityPolicy
}

// Guard applies lockout and password-history rules. Every read-modify-write of an
// account runs inside the retry executor, so concurrent callers converge through the
// version column instead of an in-process lock.
type Guard struct {
	repo     Repository
	retry    *retry.Executor
	policy   PolicyReader
	comparer Comparator
	logger   *slog.Logger
	now      func() time.Time
}

// GuardOption configures a Guard.
type GuardOption func(*Guard)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) GuardOption {
	return func(g *Guard) { g.now = now }
}

// WithLogger sets the logger for best-effort failures.
func WithLogger(l *slog.Logger) GuardOption {
	return func(g *Guard) {
		if l != nil {
			g.logger = l
		}
	}
}

// NewGuard returns a Guard.
func NewGuard(repo Repository, exec *retry.Executor, policy PolicyReader, comparer Comparator, opts ...GuardOption) *Guard {
	g := &Guard{
		repo:     repo,
		retry:    exec,
		policy:   policy,
		comparer: comparer,
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Policy returns the security policy in force right now.
func (g *Guard) Policy(ctx context.Context) settings.SecurityPolicy {
	return g.policy.Security(ctx)
}

// CheckLocked reports whether userID is locked now. Explicit admin locks are honoured
// even when automatic lockout is disabled.
func (g *Guard) CheckLocked(ctx context.Context, userID string) (bool, error) {
	acc, err := g.repo.GetByID(ctx, userID)
	if err != nil {
		return false, err
	}
	return acc.LockedAt(g.now()), nil
}

// RecordFailure counts one failed login and returns the new count. When lockout is
// enabled and the count reaches the maximum, the account is locked for the configured
// duration. A counter whose previous lock has expired starts again from zero.
func (g *Guard) RecordFailure(ctx context.Context, userID string) (int, error) {
	pol := g.policy.Security(ctx)
	return retry.Run(ctx, g.retry, "account.record_failure", func(ctx context.Context) (int, error) {
		acc, err := g.repo.GetByID(ctx, userID)
		if err != nil {
			return 0, err
		}
		now := g.now()
		if acc.LockedUntil != nil && !acc.LockedAt(now) {
			acc.LockedUntil = nil
			acc.FailedAttempts = 0
		}
		acc.FailedAttempts++
		if pol.LockoutEnabled && acc.FailedAttempts >= pol.MaxAttempts && !acc.LockedAt(now) {
			until := now.Add(pol.LockoutDuration)
			acc.LockedUntil = &until
		}
		if err := g.repo.Update(ctx, acc); err != nil {
			return 0, err
		}
		return acc.FailedAttempts, nil
	})
}

// ResetFailures clears the failure counter and any expired lock. It skips the write when
// there is nothing to clear.
func (g *Guard) ResetFailures(ctx context.Context, userID string) error {
	return g.retry.Do(ctx, "account.reset_failures", func(ctx context.Context) error {
		acc, err := g.repo.GetByID(ctx, userID)
		if err != nil {
			return err
		}
		if acc.FailedAttempts == 0 && acc.LockedUntil == nil {
			return nil
		}
		if acc.LockedAt(g.now()) {
			return nil
		}
		acc.FailedAttempts = 0
		acc.LockedUntil = nil
		return g.repo.Update(ctx, acc)
	})
}

// Lock locks userID for minutes, or for the policy duration when minutes <= 0.
func (g *Guard) Lock(ctx context.Context, userID string, minutes int) (time.Time, error) {
	d := time.Duration(minutes) * time.Minute
	if minutes <= 0 {
		d = g.policy.Security(ctx).LockoutDuration
	}
	return retry.Run(ctx, g.retry, "account.lock", func(ctx context.Context) (time.Time, error) {
		acc, err := g.repo.GetByID(ctx, userID)
		if err != nil {
			return time.Time{}, err
		}
		until := g.now().Add(d)
		acc.LockedUntil = &until
		if err := g.repo.Update(ctx, acc); err != nil {
			return time.Time{}, err
		}
		return until, nil
	})
}

// Unlock clears any lock and the failure counter.
func (g *Guard) Unlock(ctx context.Context, userID string) error {
	return g.retry.Do(ctx, "account.unlock", func(ctx context.Context) error {
		acc, err := g.repo.GetByID(ctx, userID)
		if err != nil {
			return err
		}
		acc.LockedUntil = nil
		acc.FailedAttempts = 0
		return g.repo.Update(ctx, acc)
	})
}

// SetPasswordHash replaces the stored hash of userID.
func (g *Guard) SetPasswordHash(ctx context.Context, userID, hash string) error {
	return g.retry.Do(ctx, "account.set_password", func(ctx context.Context) error {
		acc, err := g.repo.GetByID(ctx, userID)
		if err != nil {
			return err
		}
		acc.PasswordHash = hash
		return g.repo.Update(ctx, acc)
	})
}

// IsPasswordReused reports whether plaintext matches any of the newest N history hashes,
// N being the live history count. It is always false when history is disabled.
func (g *Guard) IsPasswordReused(ctx context.Context, userID, plaintext string) (bool, error) {
	pol := g.policy.Security(ctx)
	if !pol.HistoryEnabled {
		return false, nil
	}
	entries, err := g.repo.RecentPasswordHistory(ctx, userID, pol.HistoryCount)
	if err != nil {
		return false, err
	}
	for _, e := range entries {
		ok, err := g.comparer.Verify(plaintext, e.PasswordHash)
		if err != nil {
			g.logger.Warn("unreadable password history hash", "op", "account.history", "user_id", userID, "entry_id", e.ID)
			continue
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

// RecordPasswordChange appends newHash to the history and prunes it to the live history
// count. A failed prune is logged, not returned.
func (g *Guard) RecordPasswordChange(ctx context.Context, userID, newHash, changedBy, reason string) error {
	pol := g.policy.Security(ctx)
	if !pol.HistoryEnabled {
		return nil
	}
	if newHash == "" {
		return errors.New("account: empty password hash")
	}
	err := g.repo.AppendPasswordHistory(ctx, PasswordHistoryEntry{
		UserID:       userID,
		PasswordHash: newHash,
		ChangedBy:    changedBy,
		ChangeReason: reason,
		CreatedAt:    g.now(),
	})
	if err != nil {
		return err
	}
	if _, err := g.repo.PrunePasswordHistory(ctx, userID, pol.HistoryCount); err != nil {
		g.logger.Warn("password history prune failed", "op", "account.history_prune", "user_id", userID, "error", err)
	}
	return nil
}
