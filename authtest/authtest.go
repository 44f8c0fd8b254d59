// Package authtest wires a Coordinator over miniredis and an in-memory sqlite account
// store for tests and local load generation.
package authtest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/MrEthical07/authd"
	"github.com/MrEthical07/authd/account"
	"github.com/MrEthical07/authd/password"
	"github.com/MrEthical07/authd/settings"
	"github.com/MrEthical07/authd/store/sqlite"
)

// Secret is the HS256 key used by Config.
const Secret = "authtest-signing-secret-0123456789abcdef"

// Clock is a manually advanced time source. The zero value is not usable; use NewClock.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

func NewClock(start time.Time) *Clock {
	return &Clock{now: start}
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// Env is a fully wired test environment.
type Env struct {
	Coordinator *authd.Coordinator
	Miniredis   *miniredis.Miniredis
	Redis       redis.UniversalClient
	Accounts    *sqlite.Storage
	Settings    *settings.MapSource
	Audit       *authd.ChannelSink
	Clock       *Clock
}

type options struct {
	mutate   func(*authd.Config)
	settings map[string]string
	accounts func(account.Repository) account.Repository
}

// Option customises New.
type Option func(*options)

// WithConfig edits the Config before the Coordinator is built.
func WithConfig(fn func(*authd.Config)) Option {
	return func(o *options) { o.mutate = fn }
}

// WithAccountsWrapper puts fn's result between the Coordinator and the sqlite store, for
// injecting failures or latency. Env.Accounts still points at the unwrapped store.
func WithAccountsWrapper(fn func(account.Repository) account.Repository) Option {
	return func(o *options) { o.accounts = fn }
}

// WithSetting seeds one live policy value.
func WithSetting(key, value string) Option {
	return func(o *options) {
		if o.settings == nil {
			o.settings = map[string]string{}
		}
		o.settings[key] = value
	}
}

// Config returns a valid Config with cheap password hashing, a fixed HS256 secret and
// the IP throttle disabled.
func Config() authd.Config {
	cfg := authd.DefaultConfig()
	cfg.JWT.PrivateKey = []byte(Secret)
	cfg.Password.Argon2 = password.TestConfig()
	cfg.Retry.InitialDelay = time.Millisecond
	cfg.Retry.MaxDelay = 5 * time.Millisecond
	cfg.RateLimit.LoginIPMaxAttempts = 0
	cfg.Audit.BufferSize = 256
	cfg.Permissions = map[string][]string{
		"admin":  {"users.read", "users.write", "sessions.manage"},
		"member": {"users.read"},
	}
	return cfg
}

// New builds an Env and registers its teardown with t.
func New(t testing.TB, opts ...Option) *Env {
	t.Helper()
	env, cleanup, err := Start(context.Background(), opts...)
	if err != nil {
		t.Fatalf("authtest: %v", err)
	}
	t.Cleanup(cleanup)
	return env
}

// Start builds an Env outside of a test. The returned func releases every resource.
func Start(ctx context.Context, opts ...Option) (*Env, func(), error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	mr, err := miniredis.Run()
	if err != nil {
		return nil, nil, err
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	store, err := sqlite.New(ctx, ":memory:")
	if err != nil {
		_ = rdb.Close()
		mr.Close()
		return nil, nil, err
	}

	cfg := Config()
	if o.mutate != nil {
		o.mutate(&cfg)
	}
	clock := NewClock(time.Now())
	src := settings.NewMapSource(o.settings)
	sink := authd.NewChannelSink(1024)

	var repo account.Repository = store
	if o.accounts != nil {
		repo = o.accounts(store)
	}

	coord, err := authd.New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithAccounts(repo).
		WithSettingsSource(src).
		WithAuditSink(sink).
		WithClock(clock.Now).
		Build()
	if err != nil {
		_ = store.Close()
		_ = rdb.Close()
		mr.Close()
		return nil, nil, err
	}

	env := &Env{
		Coordinator: coord,
		Miniredis:   mr,
		Redis:       rdb,
		Accounts:    store,
		Settings:    src,
		Audit:       sink,
		Clock:       clock,
	}
	return env, func() {
		coord.Close()
		_ = store.Close()
		_ = rdb.Close()
		mr.Close()
	}, nil
}

// MustCreateUser creates an account or fails the test.
func (e *Env) MustCreateUser(t testing.TB, username, plaintext, userType string) *authd.User {
	t.Helper()
	u, err := e.Coordinator.CreateUser(context.Background(), username, plaintext, userType)
	if err != nil {
		t.Fatalf("authtest: create user %q: %v", username, err)
	}
	return u
}

// MustLogin logs in or fails the test.
func (e *Env) MustLogin(t testing.TB, username, plaintext string) *authd.LoginResult {
	t.Helper()
	res, err := e.Coordinator.Login(context.Background(),
		authd.Credential{Username: username, Password: plaintext},
		authd.SessionContext{ClientIP: "127.0.0.1", UserAgent: "authtest"},
	)
	if err != nil {
		t.Fatalf("authtest: login %q: %v", username, err)
	}
	return res
}
