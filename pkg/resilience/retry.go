// SPDX-License-Identifier: Apache-2.0
// Package resilience provides the retry, timeout and circuit breaker
// policies used around tool calls and pipeline stages.
package resilience

import (
	"context"
	stderrors "errors"
	"log/slog"
	"math"
	"math/rand"
	"time"

	"github.com/garantiatsverga/master-of-tg-ads/pkg/core"
	"github.com/garantiatsverga/master-of-tg-ads/pkg/errors"
)

// Operation is one attempt of a tool call.
type Operation func(ctx context.Context) (core.Result, error)

// RetryPolicy runs an operation with bounded retries on behalf of a tool.
type RetryPolicy interface {
	Run(ctx context.Context, tool string, op Operation) (core.Result, error)
}

// Backoff returns the wait before retry number n (n starts at 1).
type Backoff interface {
	Delay(n int) time.Duration
}

// FixedBackoff waits the same duration before every retry.
type FixedBackoff time.Duration

// Delay implements Backoff.
func (f FixedBackoff) Delay(int) time.Duration { return time.Duration(f) }

// ExponentialBackoff grows the wait by Multiplier after each retry, capped at Max.
type ExponentialBackoff struct {
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
}

// Delay implements Backoff.
func (e ExponentialBackoff) Delay(n int) time.Duration {
	mult := e.Multiplier
	if mult == 0 {
		mult = 2.0
	}
	d := time.Duration(float64(e.Initial) * math.Pow(mult, float64(n-1)))
	if e.Max > 0 && d > e.Max {
		d = e.Max
	}
	return d
}

// JitteredBackoff spreads the wrapped delay by ±Fraction.
type JitteredBackoff struct {
	Base     Backoff
	Fraction float64
	// Rand returns a value in [0,1). Defaults to math/rand.
	Rand func() float64
}

// Delay implements Backoff.
func (j JitteredBackoff) Delay(n int) time.Duration {
	d := j.Base.Delay(n)
	if j.Fraction <= 0 {
		return d
	}
	rnd := j.Rand
	if rnd == nil {
		rnd = rand.Float64
	}
	spread := float64(d) * j.Fraction * (2*rnd() - 1)
	d = time.Duration(float64(d) + spread)
	if d < 0 {
		d = 0
	}
	return d
}

// RetryConfig is the default RetryPolicy.
type RetryConfig struct {
	// MaxAttempts is the total number of attempts (must be >= 1).
	MaxAttempts int

	// Backoff decides the wait between attempts. Nil means no wait.
	Backoff Backoff

	// IsRecoverable decides whether a failed attempt may be retried.
	// If nil, isRecoverableDefault is used.
	IsRecoverable func(error) bool

	// Logger receives one warning per failed attempt.
	Logger *slog.Logger
}

// DefaultRetryConfig returns three attempts with a fixed one second wait.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:   3,
		Backoff:       FixedBackoff(time.Second),
		IsRecoverable: isRecoverableDefault,
	}
}

// WithMaxAttempts returns a new config with MaxAttempts set.
func (rc RetryConfig) WithMaxAttempts(max int) RetryConfig {
	rc.MaxAttempts = max
	return rc
}

// WithBackoff returns a new config with Backoff set.
func (rc RetryConfig) WithBackoff(b Backoff) RetryConfig {
	rc.Backoff = b
	return rc
}

// WithIsRecoverable returns a new config with IsRecoverable set.
func (rc RetryConfig) WithIsRecoverable(fn func(error) bool) RetryConfig {
	rc.IsRecoverable = fn
	return rc
}

// WithLogger returns a new config with Logger set.
func (rc RetryConfig) WithLogger(l *slog.Logger) RetryConfig {
	rc.Logger = l
	return rc
}

// Run implements RetryPolicy. Exhausted retries become a TOOL_EXECUTION
// error wrapping the last failure. Non-recoverable errors are returned as is.
func (rc RetryConfig) Run(ctx context.Context, tool string, op Operation) (core.Result, error) {
	var result core.Result
	attempts, err := rc.do(ctx, tool, func() error {
		var opErr error
		result, opErr = op(ctx)
		return opErr
	})
	if err == nil {
		return result, nil
	}
	if attempts < 0 {
		return nil, err
	}
	return nil, errors.ToolExecution(tool, attempts, err)
}

// Do executes fn with retry logic, returning the last error if all attempts fail.
func (rc RetryConfig) Do(ctx context.Context, fn func() error) error {
	_, err := rc.do(ctx, "", fn)
	return err
}

// do returns the number of attempts made, or -1 when err must be returned
// to the caller unchanged.
func (rc RetryConfig) do(ctx context.Context, tool string, fn func() error) (int, error) {
	if rc.MaxAttempts < 1 {
		rc.MaxAttempts = 1
	}
	if rc.IsRecoverable == nil {
		rc.IsRecoverable = isRecoverableDefault
	}
	logger := rc.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var lastErr error
	for attempt := 1; attempt <= rc.MaxAttempts; attempt++ {
		if attempt > 1 && rc.Backoff != nil {
			if err := sleep(ctx, rc.Backoff.Delay(attempt-1)); err != nil {
				return -1, errors.New(errors.CodeContextLost, "context canceled during retry", err).
					WithContext("tool", tool).
					WithContext("attempt", attempt).
					WithContext("max_attempts", rc.MaxAttempts)
			}
		}

		err := fn()
		if err == nil {
			return attempt, nil
		}
		lastErr = err

		logger.WarnContext(ctx, "attempt failed",
			slog.String("tool", tool),
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", rc.MaxAttempts),
			slog.String("error", err.Error()),
		)

		if !rc.IsRecoverable(err) {
			return -1, err
		}
	}
	return rc.MaxAttempts, lastErr
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// isRecoverableDefault retries every failure except cancellation and the
// codes that can never succeed on a second attempt.
func isRecoverableDefault(err error) bool {
	if err == nil {
		return false
	}
	if stderrors.Is(err, context.Canceled) || stderrors.Is(err, context.DeadlineExceeded) {
		return false
	}
	switch errors.CodeOf(err) {
	case errors.CodeSecurity, errors.CodeToolNotFound, errors.CodeAgent,
		errors.CodeInvalidInput, errors.CodeUnauthorized, errors.CodeContextLost:
		return false
	}
	return true
}
