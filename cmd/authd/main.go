// Command authd runs the authentication service over HTTP.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/MrEthical07/authd"
	"github.com/MrEthical07/authd/account"
	"github.com/MrEthical07/authd/httpapi"
	"github.com/MrEthical07/authd/internal/envconfig"
	"github.com/MrEthical07/authd/metrics/export/prometheus"
	"github.com/MrEthical07/authd/nonce"
	"github.com/MrEthical07/authd/settings"
	"github.com/MrEthical07/authd/signature"
	"github.com/MrEthical07/authd/store/postgres"
	"github.com/MrEthical07/authd/store/sqlite"
)

var (
	// Version information set via ldflags during build
	Version   = "dev"
	BuildDate = "unknown"
	GitCommit = "unknown"
)

func main() {
	showVersion := flag.Bool("version", false, "Show version information")
	envFile := flag.String("env-file", ".env", "Optional dotenv file")
	seedUser := flag.String("seed-user", "", "Create an account on startup, as name:password:type")
	flag.Parse()

	if *showVersion {
		fmt.Printf("authd %s (%s, %s)\n", Version, GitCommit, BuildDate)
		return
	}

	if err := run(*envFile, *seedUser); err != nil {
		slog.Error("authd stopped", "error", err)
		os.Exit(1)
	}
}

func run(envFile, seedUser string) error {
	env, err := envconfig.Load(envFile)
	if err != nil {
		return err
	}
	logger := newLogger(env.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rdb := redis.NewClient(&redis.Options{
		Addr:     env.RedisAddr,
		Password: env.RedisPassword,
		DB:       env.RedisDB,
	})
	defer rdb.Close()

	accounts, closeAccounts, err := openAccounts(ctx, env)
	if err != nil {
		return err
	}
	defer closeAccounts()

	cfg := authd.DefaultConfig()
	env.Apply(&cfg)

	coord, err := authd.New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithAccounts(accounts).
		WithSettingsSource(settings.NewRedisSource(rdb, "")).
		WithAuditSink(authd.NewSlogSink(logger)).
		WithLogger(logger).
		Build()
	if err != nil {
		return fmt.Errorf("build coordinator: %w", err)
	}
	defer coord.Close()

	if seedUser != "" {
		if err := seed(ctx, coord, seedUser, logger); err != nil {
			return err
		}
	}

	opts := httpapi.Options{
		Logger:         logger,
		Metrics:        prometheus.NewExporter(coord).Handler(),
		DetailedErrors: cfg.HTTP.DetailedErrors,
		TrustedProxies: env.TrustedProxies,
	}
	if env.AdminSecret != "" {
		v, err := signature.NewVerifier([]byte(env.AdminSecret), nonce.NewLedger(rdb, "signature"))
		if err != nil {
			return err
		}
		opts.Verifier = v
	} else {
		logger.Warn("AUTHD_ADMIN_SECRET not set, admin API disabled")
	}
	e := httpapi.New(coord, opts)

	go coord.RunCleanup(ctx)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", env.HTTPAddr, "version", Version)
		if err := e.Start(env.HTTPAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return e.Shutdown(shutdownCtx)
}

func openAccounts(ctx context.Context, env envconfig.Env) (account.Repository, func(), error) {
	switch env.DBDriver {
	case "postgres":
		pool, err := postgres.NewPool(ctx, env.DBDSN, 0)
		if err != nil {
			return nil, nil, err
		}
		if err := postgres.Migrate(ctx, pool); err != nil {
			pool.Close()
			return nil, nil, err
		}
		return postgres.NewRepository(pool), pool.Close, nil
	default:
		store, err := sqlite.New(ctx, env.DBDSN)
		if err != nil {
			return nil, nil, err
		}
		return store, func() { _ = store.Close() }, nil
	}
}

func seed(ctx context.Context, coord *authd.Coordinator, value string, logger *slog.Logger) error {
	parts := strings.SplitN(value, ":", 3)
	if len(parts) != 3 {
		return fmt.Errorf("-seed-user must be name:password:type, got %q", value)
	}
	u, err := coord.CreateUser(ctx, parts[0], parts[1], parts[2])
	if err != nil {
		if authd.KindOf(err) == authd.KindValidation {
			logger.Info("seed user not created", "username", parts[0], "error", err)
			return nil
		}
		return fmt.Errorf("seed user: %w", err)
	}
	logger.Info("seed user created", "username", u.Username, "user_id", u.ID)
	return nil
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}
