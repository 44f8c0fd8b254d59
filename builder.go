package authd

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

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

// Builder wires a Coordinator from its collaborators. A Builder can be used once.
type Builder struct {
	config    Config
	redis     redis.UniversalClient
	accounts  account.Repository
	settings  settings.Source
	auditSink AuditSink
	logger    *slog.Logger
	now       func() time.Time

	built bool
}

// New returns a Builder holding DefaultConfig.
func New() *Builder {
	return &Builder{
		config: DefaultConfig(),
	}
}

func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis sets the shared store for blacklist, nonces, sessions, throttle and, unless
// overridden, live settings.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

func (b *Builder) WithAccounts(repo account.Repository) *Builder {
	b.accounts = repo
	return b
}

// WithSettingsSource overrides the Redis hash "settings:security" as policy source.
func (b *Builder) WithSettingsSource(src settings.Source) *Builder {
	b.settings = src
	return b
}

func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

func (b *Builder) WithLogger(l *slog.Logger) *Builder {
	b.logger = l
	return b
}

// WithClock overrides time.Now for lockout, session and sweep decisions. Token
// timestamps always use the wall clock.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

// Build validates the configuration and returns a ready Coordinator.
func (b *Builder) Build() (*Coordinator, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}
	if b.redis == nil {
		return nil, errors.New("redis client required")
	}
	if b.accounts == nil {
		return nil, errors.New("account repository required")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := b.logger
	if logger == nil {
		logger = slog.Default()
	}
	now := b.now
	if now == nil {
		now = time.Now
	}

	hasher, err := password.NewHasher(cfg.Password.Argon2)
	if err != nil {
		return nil, fmt.Errorf("password config: %w", err)
	}
	// Verified against when a username is unknown so both paths cost one hash.
	dummyHash, err := hasher.Hash("authd-timing-equalizer")
	if err != nil {
		return nil, fmt.Errorf("password config: %w", err)
	}

	codec, err := jwt.NewCodec(jwt.Config{
		AccessTTL:     cfg.JWT.AccessTTL,
		RefreshTTL:    cfg.JWT.RefreshTTL,
		SigningMethod: cfg.JWT.SigningMethod,
		PrivateKey:    cfg.JWT.PrivateKey,
		PublicKey:     cfg.JWT.PublicKey,
		Issuer:        cfg.JWT.Issuer,
		Leeway:        cfg.JWT.Leeway,
		MaxFutureIAT:  cfg.JWT.MaxFutureIAT,
		KeyID:         cfg.JWT.KeyID,
		VerifyKeys:    cfg.JWT.VerifyKeys,
		Now:           now,
	})
	if err != nil {
		return nil, fmt.Errorf("jwt config: %w", err)
	}

	perms, err := permission.Build(cfg.Permissions)
	if err != nil {
		return nil, fmt.Errorf("permissions: %w", err)
	}

	src := b.settings
	if src == nil {
		src = settings.NewRedisSource(b.redis, "")
	}
	policy := settings.NewPolicy(src, logger)

	executor := retry.NewExecutor(account.IsConflict, retry.WithPolicy(cfg.Retry), retry.WithLogger(logger))
	guard := account.NewGuard(b.accounts, executor, policy, hasher,
		account.WithClock(now),
		account.WithLogger(logger),
	)

	bl := blacklist.NewStore(b.redis, "")
	sessions := session.NewRegistry(b.redis, bl,
		session.WithLogger(logger),
		session.WithGrace(cfg.Session.Grace),
		session.WithClock(now),
	)

	sink := b.auditSink
	if sink == nil {
		sink = internalaudit.NewSlogSink(logger)
	}

	b.built = true
	return &Coordinator{
		config:    cfg,
		logger:    logger,
		now:       now,
		redis:     b.redis,
		accounts:  b.accounts,
		guard:     guard,
		hasher:    hasher,
		dummyHash: dummyHash,
		codec:     codec,
		blacklist: bl,
		nonces:    nonce.NewLedger(b.redis, ""),
		sessions:  sessions,
		perms:     perms,
		retry:     executor,
		throttle: rate.New(b.redis, rate.Config{
			MaxAttempts: cfg.RateLimit.LoginIPMaxAttempts,
			Window:      cfg.RateLimit.LoginIPWindow,
		}),
		audit: internalaudit.NewDispatcher(internalaudit.Config{
			Enabled:    cfg.Audit.Enabled,
			BufferSize: cfg.Audit.BufferSize,
			DropIfFull: cfg.Audit.DropIfFull,
			Now:        now,
			Logger:     logger,
		}, sink),
		metrics: NewMetrics(cfg.Metrics),
	}, nil
}
