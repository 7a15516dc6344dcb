// SPDX-License-Identifier: Apache-2.0
package resilience

import (
	"context"
	"time"

	"github.com/garantiatsverga/master-of-tg-ads/pkg/errors"
)

// TimeoutConfig bounds one operation, typically a pipeline stage.
type TimeoutConfig struct {
	// Duration is the maximum time allowed. Zero disables the bound.
	Duration time.Duration

	// Operation names the bounded work in the timeout error.
	Operation string
}

// WithTimeout executes fn under a deadline derived from ctx. fn receives the
// derived context so blocking calls inside it are cancelled too.
// Returns errors.CodeTimeout if the deadline is exceeded.
func WithTimeout(ctx context.Context, config TimeoutConfig, fn func(ctx context.Context) error) error {
	_, err := WithTimeoutResult(ctx, config, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// WithTimeoutResult is WithTimeout for functions that return a value.
func WithTimeoutResult[T any](ctx context.Context, config TimeoutConfig, fn func(ctx context.Context) (T, error)) (T, error) {
	if config.Duration <= 0 {
		return fn(ctx)
	}

	ctx, cancel := context.WithTimeout(ctx, config.Duration)
	defer cancel()

	type result struct {
		value T
		err   error
	}
	done := make(chan result, 1)
	go func() {
		value, err := fn(ctx)
		done <- result{value, err}
	}()

	select {
	case <-ctx.Done():
		var zero T
		if ctx.Err() == context.Canceled {
			return zero, errors.New(errors.CodeContextLost, "operation canceled", ctx.Err()).
				WithContext("operation", config.Operation)
		}
		return zero, errors.New(errors.CodeTimeout, "operation exceeded timeout", ctx.Err()).
			WithContext("operation", config.Operation).
			WithContext("timeout", config.Duration.String()).
			WithRecoverable(true)
	case res := <-done:
		return res.value, res.err
	}
}
