package authd

import (
	"errors"
	"maps"
	"slices"
	"time"

	"github.com/MrEthical07/authd/jwt"
	"github.com/MrEthical07/authd/password"
	"github.com/MrEthical07/authd/retry"
)

// Config controls Coordinator behaviour. Live security policy (lockout thresholds,
// password history) is not part of Config; it is read from the settings source on every
// call.
type Config struct {
	JWT         JWTConfig
	Session     SessionConfig
	Password    PasswordConfig
	Retry       retry.Policy
	RateLimit   RateLimitConfig
	Audit       AuditConfig
	Metrics     MetricsConfig
	Timeouts    TimeoutConfig
	HTTP        HTTPConfig
	Permissions map[string][]string
}

/*
====================================
JWT CONFIG
====================================
*/

// JWTConfig holds token signing material and lifetimes.
type JWTConfig struct {
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	SigningMethod jwt.SigningMethod
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	Leeway        time.Duration
	MaxFutureIAT  time.Duration
	KeyID         string
	VerifyKeys    map[string][]byte
}

/*
====================================
SESSION CONFIG
====================================
*/

// SessionConfig tunes the activity registry. MaxSessionsPerUser 0 means unlimited.
type SessionConfig struct {
	CleanupInterval    time.Duration
	Grace              time.Duration
	MaxSessionsPerUser int
	TouchOnValidate    bool
}

/*
====================================
PASSWORD CONFIG
====================================
*/

// PasswordConfig holds Argon2id cost parameters for newly hashed passwords.
type PasswordConfig struct {
	Argon2         password.Config
	UpgradeOnLogin bool
}

/*
====================================
RATE LIMIT / AUDIT / METRICS
====================================
*/

// RateLimitConfig controls the per-IP login throttle. LoginIPMaxAttempts 0 disables it.
type RateLimitConfig struct {
	LoginIPMaxAttempts int
	LoginIPWindow      time.Duration
}

// AuditConfig controls the async audit dispatcher.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// MetricsConfig toggles in-process counters.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

// TimeoutConfig bounds end-to-end operations.
type TimeoutConfig struct {
	Login time.Duration
}

// HTTPConfig holds settings consumed by the HTTP layer.
type HTTPConfig struct {
	DetailedErrors bool
}

/*
====================================
DEFAULT CONFIG
====================================
*/

// DefaultConfig returns production defaults. Signing keys are left empty and must be
// supplied.
func DefaultConfig() Config {
	return Config{
		JWT: JWTConfig{
			AccessTTL:     7200 * time.Second,
			RefreshTTL:    7 * 24 * time.Hour,
			SigningMethod: jwt.MethodHS256,
			Issuer:        "authd",
			Leeway:        5 * time.Second,
			MaxFutureIAT:  time.Minute,
		},
		Session: SessionConfig{
			CleanupInterval:    time.Minute,
			Grace:              time.Minute,
			MaxSessionsPerUser: 0,
			TouchOnValidate:    true,
		},
		Password: PasswordConfig{
			Argon2:         password.DefaultConfig(),
			UpgradeOnLogin: true,
		},
		Retry: retry.DefaultPolicy(),
		RateLimit: RateLimitConfig{
			LoginIPMaxAttempts: 20,
			LoginIPWindow:      15 * time.Minute,
		},
		Audit: AuditConfig{
			Enabled:    true,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 true,
			EnableLatencyHistograms: true,
		},
		Timeouts: TimeoutConfig{
			Login: 5 * time.Second,
		},
		Permissions: map[string][]string{},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.JWT.PrivateKey = slices.Clone(cfg.JWT.PrivateKey)
	out.JWT.PublicKey = slices.Clone(cfg.JWT.PublicKey)
	if cfg.JWT.VerifyKeys != nil {
		out.JWT.VerifyKeys = make(map[string][]byte, len(cfg.JWT.VerifyKeys))
		for k, v := range cfg.JWT.VerifyKeys {
			out.JWT.VerifyKeys[k] = slices.Clone(v)
		}
	}
	if cfg.Permissions != nil {
		out.Permissions = maps.Clone(cfg.Permissions)
		for k, v := range out.Permissions {
			out.Permissions[k] = slices.Clone(v)
		}
	}
	return out
}

/*
====================================
VALIDATION
====================================
*/

// Validate reports every configuration problem at once.
func (c *Config) Validate() error {
	var errs []error

	if c.JWT.AccessTTL <= 0 {
		errs = append(errs, errors.New("JWT AccessTTL must be > 0"))
	}
	if c.JWT.RefreshTTL < c.JWT.AccessTTL {
		errs = append(errs, errors.New("JWT RefreshTTL must be >= AccessTTL"))
	}
	switch c.JWT.SigningMethod {
	case jwt.MethodHS256:
		if len(c.JWT.PrivateKey) < 32 {
			errs = append(errs, errors.New("hs256 requires a secret of at least 32 bytes"))
		}
	case jwt.MethodEd25519:
		if len(c.JWT.PrivateKey) == 0 {
			errs = append(errs, errors.New("ed25519 requires PrivateKey"))
		}
	default:
		errs = append(errs, errors.New("unsupported JWT signing method"))
	}
	if c.JWT.Leeway < 0 || c.JWT.MaxFutureIAT < 0 {
		errs = append(errs, errors.New("JWT Leeway and MaxFutureIAT must be >= 0"))
	}

	if c.Session.CleanupInterval <= 0 {
		errs = append(errs, errors.New("Session CleanupInterval must be > 0"))
	}
	if c.Session.Grace < 0 {
		errs = append(errs, errors.New("Session Grace must be >= 0"))
	}
	if c.Session.MaxSessionsPerUser < 0 {
		errs = append(errs, errors.New("Session MaxSessionsPerUser must be >= 0"))
	}

	if c.Retry.MaxRetries < 1 {
		errs = append(errs, errors.New("Retry MaxRetries must be >= 1"))
	}
	if c.Retry.InitialDelay < 0 || c.Retry.MaxDelay < c.Retry.InitialDelay {
		errs = append(errs, errors.New("Retry delays must satisfy 0 <= InitialDelay <= MaxDelay"))
	}
	if c.Retry.JitterFraction < 0 || c.Retry.JitterFraction > 1 {
		errs = append(errs, errors.New("Retry JitterFraction must be within [0, 1]"))
	}

	if c.RateLimit.LoginIPMaxAttempts < 0 {
		errs = append(errs, errors.New("RateLimit LoginIPMaxAttempts must be >= 0"))
	}
	if c.RateLimit.LoginIPMaxAttempts > 0 && c.RateLimit.LoginIPWindow <= 0 {
		errs = append(errs, errors.New("RateLimit LoginIPWindow must be > 0 when the throttle is enabled"))
	}

	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		errs = append(errs, errors.New("Audit BufferSize must be > 0"))
	}
	if c.Timeouts.Login <= 0 {
		errs = append(errs, errors.New("Timeouts Login must be > 0"))
	}

	return errors.Join(errs...)
}
