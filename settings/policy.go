package settings

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
	"time"
)

// SecurityPolicy is the resolved lockout and password-history policy.
type SecurityPolicy struct {
	HistoryEnabled  bool
	HistoryCount    int
	LockoutEnabled  bool
	MaxAttempts     int
	LockoutDuration time.Duration
}

// Policy resolves a SecurityPolicy from a Source on every call.
type Policy struct {
	source Source
	logger *slog.Logger
}

// NewPolicy returns a Policy. A nil source resolves to the fallbacks only.
func NewPolicy(source Source, logger *slog.Logger) *Policy {
	if logger == nil {
		logger = slog.Default()
	}
	return &Policy{source: source, logger: logger}
}

// Security reads the current policy. It never fails: source errors are logged and the
// fallback values are used.
func (p *Policy) Security(ctx context.Context) SecurityPolicy {
	var vals map[string]string
	if p != nil && p.source != nil {
		v, err := p.source.Values(ctx)
		if err != nil {
			p.logger.Warn("settings read failed, using fallbacks", "op", "settings.security", "error", err)
		} else {
			vals = v
		}
	}

	r := resolver{vals: vals, logger: p.loggerOrDefault()}
	return SecurityPolicy{
		HistoryEnabled:  r.boolean(KeyPasswordHistoryEnabled),
		HistoryCount:    r.positive(KeyPasswordHistoryCount),
		LockoutEnabled:  r.boolean(KeyLockoutEnabled),
		MaxAttempts:     r.positive(KeyLockoutMaxAttempts),
		LockoutDuration: time.Duration(r.positive(KeyLockoutDurationMinutes)) * time.Minute,
	}
}

func (p *Policy) loggerOrDefault() *slog.Logger {
	if p == nil || p.logger == nil {
		return slog.Default()
	}
	return p.logger
}

type resolver struct {
	vals   map[string]string
	logger *slog.Logger
}

func (r resolver) raw(key string) (string, bool) {
	v, ok := r.vals[key]
	v = strings.TrimSpace(v)
	return v, ok && v != ""
}

func (r resolver) boolean(key string) bool {
	if v, ok := r.raw(key); ok {
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
		r.logger.Warn("invalid setting, using fallback", "key", key, "value", v)
	}
	b, _ := strconv.ParseBool(Fallbacks[key])
	return b
}

func (r resolver) positive(key string) int {
	if v, ok := r.raw(key); ok {
		n, err := strconv.Atoi(v)
		if err == nil && n > 0 {
			return n
		}
		r.logger.Warn("invalid setting, using fallback", "key", key, "value", v)
	}
	n, _ := strconv.Atoi(Fallbacks[key])
	return n
}
