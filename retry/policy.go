package retry

import (
	"math"
	"time"

	goretry "github.com/sethvargo/go-retry"
)

// Policy bounds how an Executor retries conflicting operations. MaxRetries counts total
// attempts, so a policy with MaxRetries 3 waits at most twice.
type Policy struct {
	MaxRetries     int
	InitialDelay   time.Duration
	MaxDelay       time.Duration
	JitterFraction float64
}

// DefaultPolicy is 3 attempts, 100ms initial delay, 2s cap and 10% jitter.
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries:     3,
		InitialDelay:   100 * time.Millisecond,
		MaxDelay:       2 * time.Second,
		JitterFraction: 0.1,
	}
}

func (p Policy) normalized() Policy {
	if p.MaxRetries < 1 {
		p.MaxRetries = 1
	}
	if p.InitialDelay < 0 {
		p.InitialDelay = 0
	}
	if p.MaxDelay < p.InitialDelay {
		p.MaxDelay = p.InitialDelay
	}
	if p.JitterFraction < 0 || math.IsNaN(p.JitterFraction) {
		p.JitterFraction = 0
	}
	if p.JitterFraction > 1 {
		p.JitterFraction = 1
	}
	return p
}

// Delay returns the un-jittered wait before retry number attempt (0-based):
// min(InitialDelay * 2^attempt, MaxDelay).
func (p Policy) Delay(attempt int) time.Duration {
	p = p.normalized()
	if attempt < 0 {
		attempt = 0
	}
	if p.InitialDelay == 0 {
		return 0
	}
	// 2^62 already exceeds any representable duration multiplier.
	if attempt >= 62 {
		return p.MaxDelay
	}
	factor := int64(1) << uint(attempt)
	if int64(p.InitialDelay) > math.MaxInt64/factor {
		return p.MaxDelay
	}
	d := p.InitialDelay * time.Duration(factor)
	if d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

// backoff builds the go-retry chain: exponential base, attempt limit, then jitter applied
// around the capped value.
func (p Policy) backoff() goretry.Backoff {
	var attempt int
	base := goretry.BackoffFunc(func() (time.Duration, bool) {
		d := p.Delay(attempt)
		attempt++
		return d, false
	})

	b := goretry.WithMaxRetries(uint64(p.MaxRetries-1), base)
	if pct := uint64(math.Round(p.JitterFraction * 100)); pct > 0 {
		b = goretry.WithJitterPercent(pct, b)
	}
	return b
}
