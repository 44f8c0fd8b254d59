// Command authd-loadtest drives concurrent logins, refresh rotations and failed logins
// against an in-process Coordinator backed by miniredis and in-memory sqlite.
package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrEthical07/authd"
	"github.com/MrEthical07/authd/authtest"
	"github.com/MrEthical07/authd/settings"
)

type account struct {
	username string
	password string

	mu      sync.Mutex
	refresh string
}

type phaseStats struct {
	total    time.Duration
	ops      int
	failures int64
	p50      time.Duration
	p95      time.Duration
	p99      time.Duration
	opsPerS  float64
}

func main() {
	var (
		users       = flag.Int("users", 200, "number of accounts to seed")
		concurrency = flag.Int("concurrency", 64, "number of concurrent workers")
		ops         = flag.Int("ops", 5000, "operations per phase")
		maxSessions = flag.Int("max-sessions", 0, "per-user session cap; 0 disables")
	)
	flag.Parse()

	if *users <= 0 || *concurrency <= 0 || *ops <= 0 {
		fmt.Fprintln(os.Stderr, "users, concurrency, and ops must be > 0")
		os.Exit(2)
	}

	ctx := context.Background()
	env, cleanup, err := authtest.Start(ctx, authtest.WithConfig(func(cfg *authd.Config) {
		cfg.Audit.Enabled = false
		cfg.Session.MaxSessionsPerUser = *maxSessions
	}), authtest.WithSetting(settings.KeyLockoutEnabled, "false"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to start environment: %v\n", err)
		os.Exit(1)
	}
	defer cleanup()
	coord := env.Coordinator

	accounts := make([]*account, *users)
	fmt.Printf("seeding %d accounts...\n", *users)
	startSeed := time.Now()
	for i := range accounts {
		a := &account{username: fmt.Sprintf("user-%d", i), password: fmt.Sprintf("pw-%d-secret", i)}
		if _, err := coord.CreateUser(ctx, a.username, a.password, "member"); err != nil {
			fmt.Fprintf(os.Stderr, "create user failed: %v\n", err)
			os.Exit(1)
		}
		accounts[i] = a
	}
	fmt.Printf("seeded in %s\n", time.Since(startSeed).Round(time.Millisecond))

	login := runPhase(*ops, *concurrency, 7919, func(r *rand.Rand) error {
		a := accounts[r.Intn(len(accounts))]
		res, err := coord.Login(ctx, authd.Credential{Username: a.username, Password: a.password},
			authd.SessionContext{ClientIP: "10.0.0.1", UserAgent: "loadtest"})
		if err != nil {
			return err
		}
		a.mu.Lock()
		a.refresh = res.RefreshToken
		a.mu.Unlock()
		return nil
	})

	refresh := runPhase(*ops, *concurrency, 6151, func(r *rand.Rand) error {
		a := accounts[r.Intn(len(accounts))]
		a.mu.Lock()
		defer a.mu.Unlock()
		if a.refresh == "" {
			return nil
		}
		pair, err := coord.Refresh(ctx, a.refresh, "")
		if err != nil {
			a.refresh = ""
			return err
		}
		a.refresh = pair.RefreshToken
		return nil
	})

	failed := runPhase(*ops, *concurrency, 3571, func(r *rand.Rand) error {
		a := accounts[r.Intn(len(accounts))]
		_, err := coord.Login(ctx, authd.Credential{Username: a.username, Password: "wrong"},
			authd.SessionContext{ClientIP: "10.0.0.2", UserAgent: "loadtest"})
		if authd.KindOf(err) == authd.KindInvalidCredentials {
			return nil
		}
		return err
	})

	fmt.Println("---- results ----")
	printStats("login", login)
	printStats("refresh", refresh)
	printStats("failed-login", failed)

	stats := coord.RetryStats()
	fmt.Printf("retry: attempts=%d successful_retries=%d failed_retries=%d conflicts=%d\n",
		stats.TotalAttempts, stats.SuccessfulRetries, stats.FailedRetries, stats.ConflictsObserved)
}

// runPhase runs ops calls of fn across concurrency workers. fn returning an error counts
// as a failure.
func runPhase(ops, concurrency int, seed int64, fn func(r *rand.Rand) error) phaseStats {
	var (
		wg        sync.WaitGroup
		cursor    int64
		failures  int64
		latencies = make([]time.Duration, 0, ops)
		mu        sync.Mutex
	)

	start := time.Now()
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			r := rand.New(rand.NewSource(time.Now().UnixNano() + int64(worker)*seed))
			for {
				if int(atomic.AddInt64(&cursor, 1)) > ops {
					return
				}
				t0 := time.Now()
				err := fn(r)
				d := time.Since(t0)
				if err != nil {
					atomic.AddInt64(&failures, 1)
				}
				mu.Lock()
				latencies = append(latencies, d)
				mu.Unlock()
			}
		}(w)
	}
	wg.Wait()
	return computeStats(time.Since(start), latencies, failures)
}

func computeStats(total time.Duration, samples []time.Duration, failures int64) phaseStats {
	if len(samples) == 0 {
		return phaseStats{total: total}
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	return phaseStats{
		total:    total,
		ops:      len(samples),
		failures: failures,
		p50:      percentile(samples, 50),
		p95:      percentile(samples, 95),
		p99:      percentile(samples, 99),
		opsPerS:  float64(len(samples)) / total.Seconds(),
	}
}

func percentile(samples []time.Duration, p int) time.Duration {
	if p <= 0 {
		return samples[0]
	}
	if p >= 100 {
		return samples[len(samples)-1]
	}
	return samples[(len(samples)-1)*p/100]
}

func printStats(name string, s phaseStats) {
	fmt.Printf("%s: ops=%d failures=%d total=%s ops/sec=%.0f p50=%s p95=%s p99=%s\n",
		name,
		s.ops,
		s.failures,
		s.total.Round(time.Millisecond),
		s.opsPerS,
		s.p50.Round(time.Microsecond),
		s.p95.Round(time.Microsecond),
		s.p99.Round(time.Microsecond),
	)
}
