package authd

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/MrEthical07/authd/account"
)

/*
====================================
PASSWORD CHANGE
====================================
*/

// ChangePassword replaces the password of userID after verifying oldPassword. A password
// matching the current hash or one of the recent history entries is rejected with
// KindPasswordReused. On success every session of the user is force-logged-out.
func (c *Coordinator) ChangePassword(ctx context.Context, userID, oldPassword, newPassword, reason string) error {
	const op = "change_password"
	if userID == "" || oldPassword == "" || newPassword == "" {
		return newError(KindValidation, op, errors.New("user id and passwords are required"))
	}

	acct, err := c.accounts.GetByID(ctx, userID)
	if err != nil {
		return c.wrap(op, err)
	}
	ok, err := c.hasher.Verify(oldPassword, acct.PasswordHash)
	if err != nil {
		c.logger.Warn("stored password hash unreadable", "op", op, "user_id", userID, "error", err)
	}
	if !ok {
		c.emitAudit(ctx, auditPasswordChange, false, userID, "", ErrInvalidCredentials, nil)
		return newError(KindInvalidCredentials, op, nil)
	}

	if same, _ := c.hasher.Verify(newPassword, acct.PasswordHash); same {
		c.metrics.Inc(MetricPasswordChangeReuseRejected)
		return newError(KindPasswordReused, op, nil)
	}
	reused, err := c.guard.IsPasswordReused(ctx, userID, newPassword)
	if err != nil {
		return c.wrap(op, err)
	}
	if reused {
		c.metrics.Inc(MetricPasswordChangeReuseRejected)
		c.emitAudit(ctx, auditPasswordChange, false, userID, "", ErrPasswordReused, nil)
		return newError(KindPasswordReused, op, nil)
	}

	hash, err := c.hasher.Hash(newPassword)
	if err != nil {
		return c.wrap(op, err)
	}
	if err := c.guard.SetPasswordHash(ctx, userID, hash); err != nil {
		return c.wrap(op, err)
	}
	if reason == "" {
		reason = "user_change"
	}
	if err := c.guard.RecordPasswordChange(ctx, userID, hash, userID, reason); err != nil {
		c.logger.Warn("password history append failed", "op", op, "user_id", userID, "error", err)
	}

	if _, err := c.sessions.ForceLogoutUser(ctx, userID, "password_change"); err != nil {
		c.logger.Warn("session revocation after password change failed", "op", op, "user_id", userID, "error", err)
	}

	c.metrics.Inc(MetricPasswordChangeSuccess)
	c.emitAudit(ctx, auditPasswordChange, true, userID, "", nil, map[string]string{"reason": reason})
	return nil
}

// CreateUser adds an active account with a freshly hashed password and records the
// hash as its first history entry. It is used for seeding and tests.
func (c *Coordinator) CreateUser(ctx context.Context, username, plaintext, userType string) (*User, error) {
	const op = "create_user"
	username = strings.TrimSpace(username)
	if username == "" || plaintext == "" || userType == "" {
		return nil, newError(KindValidation, op, errors.New("username, password and user type are required"))
	}
	hash, err := c.hasher.Hash(plaintext)
	if err != nil {
		return nil, c.wrap(op, err)
	}

	now := c.now()
	acct := &account.Account{
		ID:           uuid.NewString(),
		Username:     username,
		PasswordHash: hash,
		UserType:     userType,
		Status:       account.StatusActive,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := c.accounts.Create(ctx, acct); err != nil {
		if errors.Is(err, account.ErrDuplicate) {
			return nil, newError(KindValidation, op, err)
		}
		return nil, c.wrap(op, err)
	}
	if err := c.guard.RecordPasswordChange(ctx, acct.ID, hash, "system", "initial"); err != nil {
		c.logger.Warn("initial password history append failed", "op", op, "user_id", acct.ID, "error", err)
	}
	return userFromAccount(acct, c.perms.Flatten(userType)), nil
}

/*
====================================
ADMIN
====================================
*/

// ForceLogoutUser revokes and removes every session of userID.
func (c *Coordinator) ForceLogoutUser(ctx context.Context, userID, reason string) (int, error) {
	const op = "force_logout_user"
	if userID == "" {
		return 0, newError(KindValidation, op, errors.New("user id is required"))
	}
	if reason == "" {
		reason = "forced_logout"
	}
	n, err := c.sessions.ForceLogoutUser(ctx, userID, reason)
	if n > 0 {
		c.metrics.Add(MetricForcedLogout, uint64(n))
	}
	if err != nil {
		return n, c.wrap(op, err)
	}
	c.emitAudit(ctx, auditForcedLogout, true, userID, "", nil, map[string]string{"reason": reason})
	return n, nil
}

// ForceLogoutSession revokes and removes one session. It reports false when the
// session does not exist.
func (c *Coordinator) ForceLogoutSession(ctx context.Context, sessionID, reason string) (bool, error) {
	const op = "force_logout_session"
	if sessionID == "" {
		return false, newError(KindValidation, op, errors.New("session id is required"))
	}
	if reason == "" {
		reason = "forced_logout"
	}
	ok, err := c.sessions.ForceLogoutSession(ctx, sessionID, reason)
	if err != nil {
		return false, c.wrap(op, err)
	}
	if ok {
		c.metrics.Inc(MetricForcedLogout)
		c.emitAudit(ctx, auditForcedLogout, true, "", sessionID, nil, map[string]string{"reason": reason})
	}
	return ok, nil
}

// LockAccount locks userID for minutes, or for the live policy duration when minutes <= 0.
func (c *Coordinator) LockAccount(ctx context.Context, userID string, minutes int) (time.Time, error) {
	const op = "lock_account"
	until, err := c.guard.Lock(ctx, userID, minutes)
	if err != nil {
		return time.Time{}, c.wrap(op, err)
	}
	c.metrics.Inc(MetricAccountLocked)
	c.emitAudit(ctx, auditAccountLocked, true, userID, "", nil, map[string]string{"reason": "admin"})
	return until, nil
}

// UnlockAccount clears the lock and the failure counter of userID.
func (c *Coordinator) UnlockAccount(ctx context.Context, userID string) error {
	const op = "unlock_account"
	if err := c.guard.Unlock(ctx, userID); err != nil {
		return c.wrap(op, err)
	}
	c.metrics.Inc(MetricAccountUnlocked)
	c.emitAudit(ctx, auditAccountUnlocked, true, userID, "", nil, nil)
	return nil
}

// ListSessions returns the live sessions of userID, oldest first.
func (c *Coordinator) ListSessions(ctx context.Context, userID string) ([]SessionInfo, error) {
	const op = "list_sessions"
	list, err := c.sessions.ListForUser(ctx, userID)
	if err != nil {
		return nil, c.wrap(op, err)
	}
	out := make([]SessionInfo, 0, len(list))
	for _, a := range list {
		out = append(out, sessionInfo(a))
	}
	return out, nil
}

// CleanupExpiredSessions sweeps sessions whose refresh lifetime has ended.
func (c *Coordinator) CleanupExpiredSessions(ctx context.Context) (int, error) {
	const op = "cleanup_sessions"
	n, err := c.sessions.CleanupExpired(ctx, c.now())
	if n > 0 {
		c.metrics.Add(MetricSessionsSwept, uint64(n))
	}
	if err != nil {
		return n, c.wrap(op, err)
	}
	return n, nil
}

// RunCleanup sweeps expired sessions every Config.Session.CleanupInterval until ctx is
// done. Sweep failures are logged.
func (c *Coordinator) RunCleanup(ctx context.Context) {
	ticker := time.NewTicker(c.config.Session.CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := c.CleanupExpiredSessions(ctx)
			if err != nil {
				c.logger.Warn("session sweep failed", "op", "cleanup_sessions", "error", err)
				continue
			}
			if n > 0 {
				c.logger.Debug("session sweep", "removed", n)
			}
		}
	}
}

/*
====================================
STATS & LIFECYCLE
====================================
*/

func (c *Coordinator) RetryStats() RetryStats {
	return c.retry.Stats()
}

func (c *Coordinator) ResetRetryStats() {
	c.retry.ResetStats()
}

func (c *Coordinator) MetricsSnapshot() MetricsSnapshot {
	return c.metrics.Snapshot()
}

// AuditDropped counts audit events discarded because the buffer was full.
func (c *Coordinator) AuditDropped() uint64 {
	return c.audit.Dropped()
}

// Ping checks the Redis store and the account store.
func (c *Coordinator) Ping(ctx context.Context) error {
	const op = "ping"
	var errs []error
	if err := c.sessions.Ping(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := c.accounts.Ping(ctx); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return newError(KindUnavailable, op, errors.Join(errs...))
	}
	return nil
}

// Close flushes queued audit events. It does not close the Redis client or the
// account store, which the caller owns.
func (c *Coordinator) Close() {
	c.audit.Close()
}
