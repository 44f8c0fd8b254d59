package authd

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/MrEthical07/authd/account"
	"github.com/MrEthical07/authd/blacklist"
	internalaudit "github.com/MrEthical07/authd/internal/audit"
	"github.com/MrEthical07/authd/internal/rate"
	"github.com/MrEthical07/authd/jwt"
	"github.com/MrEthical07/authd/nonce"
	"github.com/MrEthical07/authd/password"
	"github.com/MrEthical07/authd/permission"
	"github.com/MrEthical07/authd/retry"
	"github.com/MrEthical07/authd/session"
	"github.com/MrEthical07/authd/settings"
)

const tokenTypeBearer = "Bearer"

// Coordinator orchestrates login, refresh, logout and validation across the token
// codec, blacklist, nonce ledger, activity registry and account guard.
type Coordinator struct {
	config    Config
	logger    *slog.Logger
	now       func() time.Time
	redis     redis.UniversalClient
	accounts  account.Repository
	guard     *account.Guard
	hasher    *password.Hasher
	dummyHash string
	codec     *jwt.Codec
	blacklist *blacklist.Store
	nonces    *nonce.Ledger
	sessions  *session.Registry
	perms     *permission.Table
	retry     *retry.Executor
	throttle  *rate.Limiter
	audit     *internalaudit.Dispatcher
	metrics   *Metrics
}

// Config returns a copy of the configuration the Coordinator was built with.
func (c *Coordinator) Config() Config {
	return cloneConfig(c.config)
}

// wrap lifts a collaborator error into an *Error. Errors that already carry a kind
// pass through unchanged.
func (c *Coordinator) wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}

	kind := KindInternal
	switch {
	case errors.Is(err, retry.ErrRetryExhausted):
		kind = KindRetryExhausted
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		kind = KindUnavailable
	case errors.Is(err, account.ErrNotFound), errors.Is(err, session.ErrNotFound):
		kind = KindNotFound
	case errors.Is(err, account.ErrStoreUnavailable),
		errors.Is(err, blacklist.ErrStoreUnavailable),
		errors.Is(err, nonce.ErrStoreUnavailable),
		errors.Is(err, session.ErrStoreUnavailable),
		errors.Is(err, rate.ErrRedisUnavailable),
		errors.Is(err, settings.ErrSourceUnavailable):
		kind = KindUnavailable
	case errors.Is(err, password.ErrEmptyPassword):
		kind = KindValidation
	}
	return newError(kind, op, err)
}

/*
====================================
LOGIN
====================================
*/

// Authenticate checks cred against the account store and the lockout state. Unknown
// usernames and wrong passwords are indistinguishable to the caller.
func (c *Coordinator) Authenticate(ctx context.Context, cred Credential) (*User, error) {
	const op = "authenticate"
	if strings.TrimSpace(cred.Username) == "" || cred.Password == "" {
		return nil, newError(KindValidation, op, errors.New("username and password are required"))
	}
	ip := clientIPFromContext(ctx)

	if err := c.throttle.Check(ctx, ip); err != nil {
		if errors.Is(err, rate.ErrRateLimited) {
			c.metrics.Inc(MetricLoginRateLimited)
			c.emitAudit(ctx, auditLoginRateLimited, false, "", "", ErrRateLimited, nil)
			return nil, newError(KindRateLimited, op, err)
		}
		// The per-account lockout in the account store still bounds guessing.
		c.logger.Warn("login throttle check failed", "op", op, "error", err)
	}

	acct, err := c.accounts.GetByUsername(ctx, cred.Username)
	if err != nil {
		if errors.Is(err, account.ErrNotFound) {
			_, _ = c.hasher.Verify(cred.Password, c.dummyHash)
			return nil, c.loginFailed(ctx, op, "", "user_not_found")
		}
		return nil, c.wrap(op, err)
	}

	if acct.Disabled() {
		c.metrics.Inc(MetricLoginFailure)
		c.emitAudit(ctx, auditLoginFailure, false, acct.ID, "", ErrAccountDisabled, map[string]string{"reason": "disabled"})
		return nil, newError(KindAccountDisabled, op, nil)
	}

	locked, err := c.guard.CheckLocked(ctx, acct.ID)
	if err != nil {
		return nil, c.wrap(op, err)
	}
	if locked {
		c.metrics.Inc(MetricLoginLocked)
		c.emitAudit(ctx, auditLoginFailure, false, acct.ID, "", ErrAccountLocked, map[string]string{"reason": "locked"})
		return nil, newError(KindAccountLocked, op, nil)
	}

	ok, err := c.hasher.Verify(cred.Password, acct.PasswordHash)
	if err != nil {
		c.logger.Warn("stored password hash unreadable", "op", op, "user_id", acct.ID, "error", err)
	}
	if !ok {
		count, ferr := c.guard.RecordFailure(ctx, acct.ID)
		if ferr != nil {
			return nil, c.wrap(op, ferr)
		}
		if policy := c.guard.Policy(ctx); policy.LockoutEnabled && count == policy.MaxAttempts {
			c.metrics.Inc(MetricAccountLocked)
			c.emitAudit(ctx, auditAccountLocked, true, acct.ID, "", nil, map[string]string{"reason": "max_attempts"})
		}
		return nil, c.loginFailed(ctx, op, acct.ID, "password_mismatch")
	}

	if err := c.guard.ResetFailures(ctx, acct.ID); err != nil {
		return nil, c.wrap(op, err)
	}
	if err := c.throttle.Reset(ctx, ip); err != nil {
		c.logger.Warn("login throttle reset failed", "op", op, "error", err)
	}

	if c.config.Password.UpgradeOnLogin && c.hasher.NeedsUpgrade(acct.PasswordHash) {
		c.upgradeHash(ctx, acct.ID, cred.Password)
	}

	return userFromAccount(acct, c.perms.Flatten(acct.UserType)), nil
}

func (c *Coordinator) loginFailed(ctx context.Context, op, userID, reason string) error {
	if _, err := c.throttle.Hit(ctx, clientIPFromContext(ctx)); err != nil {
		c.logger.Warn("login throttle update failed", "op", op, "error", err)
	}
	c.metrics.Inc(MetricLoginFailure)
	c.emitAudit(ctx, auditLoginFailure, false, userID, "", ErrInvalidCredentials, map[string]string{"reason": reason})
	return newError(KindInvalidCredentials, op, nil)
}

// upgradeHash is best effort and never blocks a successful login.
func (c *Coordinator) upgradeHash(ctx context.Context, userID, plaintext string) {
	hash, err := c.hasher.Hash(plaintext)
	if err != nil {
		c.logger.Warn("password hash upgrade generation failed", "op", "upgrade_hash", "user_id", userID, "error", err)
		return
	}
	if err := c.guard.SetPasswordHash(ctx, userID, hash); err != nil {
		c.logger.Warn("password hash upgrade update failed", "op", "upgrade_hash", "user_id", userID, "error", err)
	}
}

// IssueSession starts a new session for user and returns its first token pair.
// Failing to index the session is logged and does not fail the call.
func (c *Coordinator) IssueSession(ctx context.Context, user *User, sc SessionContext) (*TokenPair, error) {
	const op = "issue_session"
	if user == nil || user.ID == "" {
		return nil, newError(KindValidation, op, errors.New("user is required"))
	}

	activityID := uuid.NewString()
	subject := jwt.Subject{
		UserID:      user.ID,
		Username:    user.Username,
		UserType:    user.UserType,
		Permissions: c.perms.Flatten(user.UserType),
		DeviceID:    sc.DeviceID,
		ClientIP:    sc.ClientIP,
		SessionID:   activityID,
	}
	pair, accessClaims, refreshClaims, err := c.issuePair(subject)
	if err != nil {
		return nil, c.wrap(op, err)
	}

	now := c.now()
	activity := &session.Activity{
		ID:              activityID,
		UserID:          user.ID,
		Username:        user.Username,
		UserType:        user.UserType,
		TokenID:         accessClaims.TokenID(),
		RefreshTokenID:  refreshClaims.TokenID(),
		DeviceID:        sc.DeviceID,
		ClientIP:        sc.ClientIP,
		UserAgent:       sc.UserAgent,
		CreatedAt:       now,
		LastSeenAt:      now,
		AccessExpiresAt: accessClaims.ExpiresAt.Time,
		ExpiresAt:       refreshClaims.ExpiresAt.Time,
	}
	if err := c.sessions.Record(ctx, activity); err != nil {
		c.logger.Warn("session indexing failed", "op", op, "user_id", user.ID, "error", err)
	} else {
		c.metrics.Inc(MetricSessionCreated)
		c.enforceSessionLimit(ctx, user.ID)
	}

	c.emitAudit(ctx, auditLoginSuccess, true, user.ID, activityID, nil, nil)
	return pair, nil
}

func (c *Coordinator) enforceSessionLimit(ctx context.Context, userID string) {
	limit := c.config.Session.MaxSessionsPerUser
	if limit <= 0 {
		return
	}
	evicted, err := c.sessions.EvictOldest(ctx, userID, limit, "session_limit")
	if err != nil {
		c.logger.Warn("session limit enforcement failed", "op", "session_limit", "user_id", userID, "error", err)
	}
	if evicted > 0 {
		c.metrics.Add(MetricSessionEvicted, uint64(evicted))
		c.emitAudit(ctx, auditSessionEvicted, true, userID, "", nil, map[string]string{"reason": "session_limit"})
	}
}

func (c *Coordinator) issuePair(subject jwt.Subject) (*TokenPair, *jwt.Claims, *jwt.Claims, error) {
	access, accessClaims, err := c.codec.IssueAccess(subject)
	if err != nil {
		return nil, nil, nil, err
	}
	refresh, refreshClaims, err := c.codec.IssueRefresh(subject)
	if err != nil {
		return nil, nil, nil, err
	}
	return &TokenPair{
		AccessToken:      access,
		RefreshToken:     refresh,
		TokenType:        tokenTypeBearer,
		ExpiresIn:        int64(c.codec.AccessTTL() / time.Second),
		SessionID:        subject.SessionID,
		AccessExpiresAt:  accessClaims.ExpiresAt.Time,
		RefreshExpiresAt: refreshClaims.ExpiresAt.Time,
	}, accessClaims, refreshClaims, nil
}

// Login authenticates cred and starts a session, bounded by Config.Timeouts.Login.
func (c *Coordinator) Login(ctx context.Context, cred Credential, sc SessionContext) (*LoginResult, error) {
	const op = "login"
	ctx, cancel := context.WithTimeout(ctx, c.config.Timeouts.Login)
	defer cancel()
	if sc.ClientIP != "" {
		ctx = WithClientIP(ctx, sc.ClientIP)
	}

	user, err := c.Authenticate(ctx, cred)
	if err != nil {
		return nil, c.loginError(ctx, op, err)
	}
	pair, err := c.IssueSession(ctx, user, sc)
	if err != nil {
		return nil, c.loginError(ctx, op, err)
	}

	c.metrics.Inc(MetricLoginSuccess)
	return &LoginResult{TokenPair: *pair, User: user}, nil
}

func (c *Coordinator) loginError(ctx context.Context, op string, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return newError(KindUnavailable, op, context.DeadlineExceeded)
	}
	return c.wrap(op, err)
}

/*
====================================
LOGOUT
====================================
*/

// Logout revokes the access token and its session. An expired but authentic access
// token still ends its session. It fails open: unparseable or otherwise invalid tokens
// are blacklisted by hash and nil is returned. Only an empty token is an error.
func (c *Coordinator) Logout(ctx context.Context, accessToken string) error {
	const op = "logout"
	token := strings.TrimSpace(accessToken)
	if token == "" {
		return newError(KindValidation, op, errors.New("token is required"))
	}

	claims, err := c.codec.Parse(token, jwt.TypeAccess)
	if errors.Is(err, jwt.ErrExpired) {
		// An expired access token still names a session whose refresh token is live.
		claims, err = c.codec.ParseAllowExpired(token, jwt.TypeAccess)
	}
	if err != nil {
		if rerr := c.blacklist.Revoke(ctx, blacklist.HashToken(token), "logout", c.codec.AccessTTL()); rerr != nil {
			c.logger.Warn("logout hash revoke failed", "op", op, "error", rerr)
		}
		c.metrics.Inc(MetricLogout)
		return nil
	}

	now := c.now()
	if ttl := claims.RemainingLifetime(now); ttl > 0 {
		c.revokeBestEffort(ctx, op, claims.TokenID(), "logout", ttl)
	}

	if sid := claims.SessionID; sid != "" {
		activity, err := c.sessions.Get(ctx, sid)
		switch {
		case err == nil:
			c.revokeBestEffort(ctx, op, activity.RefreshTokenID, "logout", activity.ExpiresAt.Sub(now))
			if activity.TokenID != claims.TokenID() {
				c.revokeBestEffort(ctx, op, activity.TokenID, "logout", activity.AccessExpiresAt.Sub(now))
			}
		case !errors.Is(err, session.ErrNotFound):
			c.logger.Warn("logout session lookup failed", "op", op, "session_id", sid, "error", err)
		}
		if _, err := c.sessions.Remove(ctx, sid); err != nil {
			c.logger.Warn("logout session removal failed", "op", op, "session_id", sid, "error", err)
		}
	}

	c.metrics.Inc(MetricLogout)
	c.emitAudit(ctx, auditLogout, true, claims.UserID(), claims.SessionID, nil, nil)
	return nil
}

func (c *Coordinator) revokeBestEffort(ctx context.Context, op, tokenID, reason string, ttl time.Duration) {
	if tokenID == "" {
		return
	}
	if err := c.blacklist.Revoke(ctx, tokenID, reason, ttl); err != nil {
		c.logger.Warn("token revoke failed", "op", op, "error", err)
	}
}

/*
====================================
REFRESH
====================================
*/

// Refresh rotates a refresh token. Each refresh token can be exchanged once; the
// consumed token is blacklisted before the new pair is returned. accessToken is
// optional and, when it belongs to the same session, carries device and IP forward.
func (c *Coordinator) Refresh(ctx context.Context, refreshToken, accessToken string) (*TokenPair, error) {
	const op = "refresh"
	pair, userID, sid, err := c.refresh(ctx, op, strings.TrimSpace(refreshToken), strings.TrimSpace(accessToken))
	if err != nil {
		c.metrics.Inc(MetricRefreshFailure)
		c.emitAudit(ctx, auditRefreshFailure, false, userID, sid, err, nil)
		return nil, err
	}
	c.metrics.Inc(MetricRefreshSuccess)
	c.emitAudit(ctx, auditRefreshSuccess, true, userID, sid, nil, nil)
	return pair, nil
}

func (c *Coordinator) refresh(ctx context.Context, op, refreshToken, accessToken string) (*TokenPair, string, string, error) {
	claims, err := c.codec.Parse(refreshToken, jwt.TypeRefresh)
	if err != nil {
		return nil, "", "", newError(KindInvalidToken, op, err)
	}
	userID, sid, jti := claims.UserID(), claims.SessionID, claims.TokenID()

	revoked, err := c.blacklist.IsRevoked(ctx, jti)
	if err != nil {
		return nil, userID, sid, c.wrap(op, err)
	}
	if revoked {
		return nil, userID, sid, newError(KindInvalidToken, op, errors.New("refresh token revoked"))
	}

	acct, err := c.accounts.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, account.ErrNotFound) {
			return nil, userID, sid, newError(KindInvalidToken, op, err)
		}
		return nil, userID, sid, c.wrap(op, err)
	}
	if acct.Disabled() {
		if _, err := c.sessions.ForceLogoutSession(ctx, sid, "account_disabled"); err != nil {
			c.logger.Warn("disabled account session eviction failed", "op", op, "session_id", sid, "error", err)
		}
		return nil, userID, sid, newError(KindAccountDisabled, op, nil)
	}

	activity, err := c.sessions.Get(ctx, sid)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return nil, userID, sid, newError(KindInvalidToken, op, err)
		}
		return nil, userID, sid, c.wrap(op, err)
	}
	if activity.UserID != userID || activity.RefreshTokenID != jti {
		return nil, userID, sid, newError(KindInvalidToken, op, errors.New("refresh token superseded"))
	}

	deviceID, clientIP := claims.DeviceID, claims.ClientIP
	if accessToken != "" {
		if prev, err := c.codec.ParseAllowExpired(accessToken, jwt.TypeAccess); err == nil &&
			prev.SessionID == sid && prev.UserID() == userID {
			deviceID, clientIP = prev.DeviceID, prev.ClientIP
		}
	}

	// Every check has passed. From here on the jti is claimed; failures before the
	// session points at the new pair release it so the caller can retry.
	now := c.now()
	if err := c.nonces.Consume(ctx, jti, claims.RemainingLifetime(now)); err != nil {
		if errors.Is(err, nonce.ErrReplay) {
			c.metrics.Inc(MetricRefreshReplay)
			return nil, userID, sid, newError(KindInvalidToken, op, err)
		}
		return nil, userID, sid, c.wrap(op, err)
	}

	pair, accessClaims, refreshClaims, err := c.issuePair(jwt.Subject{
		UserID:      acct.ID,
		Username:    acct.Username,
		UserType:    acct.UserType,
		Permissions: c.perms.Flatten(acct.UserType),
		DeviceID:    deviceID,
		ClientIP:    clientIP,
		SessionID:   sid,
	})
	if err != nil {
		c.releaseRefresh(ctx, op, jti)
		return nil, userID, sid, c.wrap(op, err)
	}

	meta := SessionContextFrom(ctx)
	_, err = c.sessions.UpdateTokens(ctx, sid, session.TokenUpdate{
		TokenID:         accessClaims.TokenID(),
		RefreshTokenID:  refreshClaims.TokenID(),
		AccessExpiresAt: accessClaims.ExpiresAt.Time,
		ExpiresAt:       refreshClaims.ExpiresAt.Time,
		ClientIP:        meta.ClientIP,
		UserAgent:       meta.UserAgent,
	})
	if err != nil {
		c.revokeBestEffort(ctx, op, accessClaims.TokenID(), "rotation_failed", c.codec.AccessTTL())
		c.revokeBestEffort(ctx, op, refreshClaims.TokenID(), "rotation_failed", c.codec.RefreshTTL())
		if errors.Is(err, session.ErrNotFound) {
			return nil, userID, sid, newError(KindInvalidToken, op, err)
		}
		c.releaseRefresh(ctx, op, jti)
		return nil, userID, sid, c.wrap(op, err)
	}

	// The session now names the new pair, so the old refresh token is superseded even if
	// the blacklist write fails. The pair is only handed out once the revoke is durable.
	if err := c.blacklist.Revoke(ctx, jti, "rotated", claims.RemainingLifetime(now)); err != nil {
		c.revokeBestEffort(ctx, op, accessClaims.TokenID(), "rotation_failed", c.codec.AccessTTL())
		c.revokeBestEffort(ctx, op, refreshClaims.TokenID(), "rotation_failed", c.codec.RefreshTTL())
		return nil, userID, sid, c.wrap(op, err)
	}
	c.revokeBestEffort(ctx, op, activity.TokenID, "rotated", activity.AccessExpiresAt.Sub(now))

	return pair, userID, sid, nil
}

// releaseRefresh undoes the nonce claim on a refresh jti whose rotation did not happen.
func (c *Coordinator) releaseRefresh(ctx context.Context, op, jti string) {
	if err := c.nonces.Release(ctx, jti); err != nil {
		c.logger.Warn("refresh nonce release failed", "op", op, "error", err)
	}
}

/*
====================================
VALIDATE
====================================
*/

// Validate returns the claims of a valid, non-revoked access token. The session
// heartbeat is best effort.
func (c *Coordinator) Validate(ctx context.Context, accessToken string) (*Claims, error) {
	const op = "validate"
	start := time.Now()
	defer func() { c.metrics.Observe(MetricValidateLatency, time.Since(start)) }()

	claims, err := c.codec.Parse(strings.TrimSpace(accessToken), jwt.TypeAccess)
	if err != nil {
		c.metrics.Inc(MetricValidateFailure)
		return nil, newError(KindInvalidToken, op, err)
	}
	revoked, err := c.blacklist.IsRevoked(ctx, claims.TokenID())
	if err != nil {
		c.metrics.Inc(MetricValidateFailure)
		return nil, c.wrap(op, err)
	}
	if revoked {
		c.metrics.Inc(MetricValidateFailure)
		return nil, newError(KindInvalidToken, op, errors.New("token revoked"))
	}

	if c.config.Session.TouchOnValidate && claims.SessionID != "" {
		if err := c.sessions.Touch(ctx, claims.SessionID); err != nil && !errors.Is(err, session.ErrNotFound) {
			c.logger.Debug("session heartbeat failed", "op", op, "session_id", claims.SessionID, "error", err)
		}
	}

	c.metrics.Inc(MetricValidateSuccess)
	return claims, nil
}

// ValidateToken reports whether token parses and is not blacklisted.
func (c *Coordinator) ValidateToken(ctx context.Context, token string) bool {
	_, err := c.Validate(ctx, token)
	return err == nil
}

// Me validates accessToken and re-reads its subject from the account store.
func (c *Coordinator) Me(ctx context.Context, accessToken string) (*User, *Claims, error) {
	const op = "me"
	claims, err := c.Validate(ctx, accessToken)
	if err != nil {
		return nil, nil, err
	}
	acct, err := c.accounts.GetByID(ctx, claims.UserID())
	if err != nil {
		return nil, nil, c.wrap(op, err)
	}
	return userFromAccount(acct, c.perms.Flatten(acct.UserType)), claims, nil
}
