package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	goretry "github.com/sethvargo/go-retry"
)

// ErrRetryExhausted matches every *RetryExhaustedError through errors.Is.
var ErrRetryExhausted = errors.New("retry exhausted")

// RetryExhaustedError reports that an operation kept conflicting until the attempt
// budget ran out.
type RetryExhaustedError struct {
	Operation string
	Attempts  int
	Last      error
}

func (e *RetryExhaustedError) Error() string {
	return fmt.Sprintf("%s: retry exhausted after %d attempts: %v", e.Operation, e.Attempts, e.Last)
}

// Unwrap exposes the last conflict error.
func (e *RetryExhaustedError) Unwrap() error { return e.Last }

// Is reports true for ErrRetryExhausted.
func (e *RetryExhaustedError) Is(target error) bool { return target == ErrRetryExhausted }

// ConflictFunc classifies errors that are worth retrying.
type ConflictFunc func(error) bool

// Stats is a point-in-time snapshot of executor counters.
type Stats struct {
	TotalAttempts     uint64 `json:"totalAttempts"`
	SuccessfulRetries uint64 `json:"successfulRetries"`
	FailedRetries     uint64 `json:"failedRetries"`
	ConflictsObserved uint64 `json:"conflictsObserved"`
}

// Executor runs operations with bounded exponential backoff on conflict-class errors.
// It is safe for concurrent use.
type Executor struct {
	isConflict ConflictFunc
	policy     Policy
	logger     *slog.Logger

	totalAttempts     atomic.Uint64
	successfulRetries atomic.Uint64
	failedRetries     atomic.Uint64
	conflictsObserved atomic.Uint64
}

// Option configures an Executor.
type Option func(*Executor)

// WithPolicy replaces the default policy.
func WithPolicy(p Policy) Option {
	return func(e *Executor) { e.policy = p.normalized() }
}

// WithLogger sets the logger used for exhaustion warnings.
func WithLogger(l *slog.Logger) Option {
	return func(e *Executor) {
		if l != nil {
			e.logger = l
		}
	}
}

// NewExecutor returns an Executor retrying errors for which isConflict is true.
// A nil isConflict disables retries.
func NewExecutor(isConflict ConflictFunc, opts ...Option) *Executor {
	e := &Executor{
		isConflict: isConflict,
		policy:     DefaultPolicy(),
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Policy returns the executor's default policy.
func (e *Executor) Policy() Policy { return e.policy }

// Do runs op under the default policy.
func (e *Executor) Do(ctx context.Context, name string, op func(context.Context) error) error {
	return e.DoWithPolicy(ctx, name, e.policy, op)
}

// DoWithPolicy runs op until it succeeds, fails with a non-conflict error, the context
// ends, or policy.MaxRetries attempts have conflicted.
func (e *Executor) DoWithPolicy(ctx context.Context, name string, policy Policy, op func(context.Context) error) error {
	_, err := RunWithPolicy(ctx, e, name, policy, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}

// Run is the value-returning form of Executor.Do.
func Run[T any](ctx context.Context, e *Executor, name string, op func(context.Context) (T, error)) (T, error) {
	return RunWithPolicy(ctx, e, name, e.policy, op)
}

// RunWithPolicy is the value-returning form of Executor.DoWithPolicy.
func RunWithPolicy[T any](ctx context.Context, e *Executor, name string, policy Policy, op func(context.Context) (T, error)) (T, error) {
	var (
		attempts     int
		lastConflict error
	)
	out, err := goretry.DoValue(ctx, policy.normalized().backoff(), func(ctx context.Context) (T, error) {
		attempts++
		e.totalAttempts.Add(1)
		lastConflict = nil

		v, err := op(ctx)
		if err == nil {
			return v, nil
		}
		if e.isConflict == nil || !e.isConflict(err) {
			return v, err
		}
		e.conflictsObserved.Add(1)
		lastConflict = err
		return v, goretry.RetryableError(err)
	})

	var zero T
	switch {
	case err == nil:
		if attempts > 1 {
			e.successfulRetries.Add(1)
		}
		return out, nil
	case lastConflict != nil && ctx.Err() == nil:
		e.failedRetries.Add(1)
		e.logger.Warn("retry exhausted", "op", name, "attempts", attempts, "error", lastConflict)
		return zero, &RetryExhaustedError{Operation: name, Attempts: attempts, Last: lastConflict}
	default:
		return zero, err
	}
}

// Stats returns a snapshot of the counters.
func (e *Executor) Stats() Stats {
	return Stats{
		TotalAttempts:     e.totalAttempts.Load(),
		SuccessfulRetries: e.successfulRetries.Load(),
		FailedRetries:     e.failedRetries.Load(),
		ConflictsObserved: e.conflictsObserved.Load(),
	}
}

// ResetTotalAttempts zeroes the count of attempts made, first tries included.
func (e *Executor) ResetTotalAttempts() { e.totalAttempts.Store(0) }

// ResetSuccessfulRetries zeroes the count of operations that succeeded after a conflict.
func (e *Executor) ResetSuccessfulRetries() { e.successfulRetries.Store(0) }

// ResetFailedRetries zeroes the count of operations that ran out of attempts.
func (e *Executor) ResetFailedRetries() { e.failedRetries.Store(0) }

// ResetConflictsObserved zeroes the count of attempts that ended in a conflict.
func (e *Executor) ResetConflictsObserved() { e.conflictsObserved.Store(0) }

// ResetStats zeroes every counter.
func (e *Executor) ResetStats() {
	e.ResetTotalAttempts()
	e.ResetSuccessfulRetries()
	e.ResetFailedRetries()
	e.ResetConflictsObserved()
}
