// Package envconfig loads process settings for the authd binaries from the environment,
// optionally seeded by a .env file.
package envconfig

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/MrEthical07/authd"
)

// Env holds bootstrap settings. Engine behaviour lives in authd.Config, which Apply
// fills from these values.
type Env struct {
	HTTPAddr        string
	RedisAddr       string
	RedisPassword   string
	RedisDB         int
	DBDriver        string
	DBDSN           string
	JWTSecret       string
	AccessTTL       time.Duration
	RefreshTTL      time.Duration
	AdminSecret     string
	Environment     string
	MaxSessions     int
	CleanupInterval time.Duration
	LoginIPMax      int
	LogLevel        string
	// TrustedProxies come from AUTHD_TRUSTED_PROXIES, a comma-separated list of CIDRs or
	// bare addresses.
	TrustedProxies []*net.IPNet
}

// Production reports whether AUTHD_ENV is "production" or "prod".
func (e Env) Production() bool {
	switch strings.ToLower(e.Environment) {
	case "production", "prod":
		return true
	}
	return false
}

// Load reads files (".env" when none are given; a missing file is ignored) and then
// the environment. Variables already set in the environment win over file values.
func Load(files ...string) (Env, error) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return Env{}, fmt.Errorf("load %s: %w", f, err)
		}
	}
	return FromLookup(os.LookupEnv)
}

// FromLookup builds an Env from lookup. It is Load without the file step.
func FromLookup(lookup func(string) (string, bool)) (Env, error) {
	r := reader{lookup: lookup}
	e := Env{
		HTTPAddr:        r.str("AUTHD_HTTP_ADDR", ":8080"),
		RedisAddr:       r.str("AUTHD_REDIS_ADDR", "localhost:6379"),
		RedisPassword:   r.str("AUTHD_REDIS_PASSWORD", ""),
		RedisDB:         r.int("AUTHD_REDIS_DB", 0),
		DBDriver:        strings.ToLower(r.str("AUTHD_DB_DRIVER", "sqlite")),
		DBDSN:           r.str("AUTHD_DB_DSN", "authd.db"),
		JWTSecret:       r.str("AUTHD_JWT_SECRET", ""),
		AccessTTL:       r.duration("AUTHD_ACCESS_TTL", 7200*time.Second),
		RefreshTTL:      r.duration("AUTHD_REFRESH_TTL", 7*24*time.Hour),
		AdminSecret:     r.str("AUTHD_ADMIN_SECRET", ""),
		Environment:     r.str("AUTHD_ENV", "development"),
		MaxSessions:     r.int("AUTHD_MAX_SESSIONS_PER_USER", 0),
		CleanupInterval: r.duration("AUTHD_CLEANUP_INTERVAL", time.Minute),
		LoginIPMax:      r.int("AUTHD_LOGIN_IP_MAX_ATTEMPTS", 20),
		LogLevel:        strings.ToLower(r.str("AUTHD_LOG_LEVEL", "info")),
		TrustedProxies:  r.networks("AUTHD_TRUSTED_PROXIES"),
	}

	errs := r.errs
	if e.JWTSecret == "" {
		errs = append(errs, errors.New("AUTHD_JWT_SECRET is required"))
	}
	if e.DBDriver != "sqlite" && e.DBDriver != "postgres" {
		errs = append(errs, fmt.Errorf("AUTHD_DB_DRIVER must be sqlite or postgres, got %q", e.DBDriver))
	}
	if e.Production() && e.AdminSecret == "" {
		errs = append(errs, errors.New("AUTHD_ADMIN_SECRET is required in production"))
	}
	if len(errs) > 0 {
		return Env{}, errors.Join(errs...)
	}
	return e, nil
}

// Apply copies the engine-facing settings into cfg.
func (e Env) Apply(cfg *authd.Config) {
	cfg.JWT.PrivateKey = []byte(e.JWTSecret)
	cfg.JWT.AccessTTL = e.AccessTTL
	cfg.JWT.RefreshTTL = e.RefreshTTL
	cfg.Session.MaxSessionsPerUser = e.MaxSessions
	cfg.Session.CleanupInterval = e.CleanupInterval
	cfg.RateLimit.LoginIPMaxAttempts = e.LoginIPMax
	cfg.HTTP.DetailedErrors = !e.Production()
}

type reader struct {
	lookup func(string) (string, bool)
	errs   []error
}

func (r *reader) str(key, def string) string {
	if v, ok := r.lookup(key); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return def
}

func (r *reader) int(key string, def int) int {
	v, ok := r.lookup(key)
	if !ok || strings.TrimSpace(v) == "" {
		return def
	}
	i, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s must be a number: %w", key, err))
		return def
	}
	return i
}

// duration accepts Go duration strings or a bare number of seconds.
func (r *reader) duration(key string, def time.Duration) time.Duration {
	v, ok := r.lookup(key)
	v = strings.TrimSpace(v)
	if !ok || v == "" {
		return def
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s must be a duration: %w", key, err))
		return def
	}
	return d
}

func (r *reader) networks(key string) []*net.IPNet {
	v, _ := r.lookup(key)
	var out []*net.IPNet
	for _, part := range strings.Split(v, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if ip := net.ParseIP(part); ip != nil {
			bits := 8 * net.IPv6len
			if ip4 := ip.To4(); ip4 != nil {
				ip, bits = ip4, 8*net.IPv4len
			}
			out = append(out, &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)})
			continue
		}
		_, n, err := net.ParseCIDR(part)
		if err != nil {
			r.errs = append(r.errs, fmt.Errorf("%s: %q is not an address or CIDR", key, part))
			continue
		}
		out = append(out, n)
	}
	return out
}
