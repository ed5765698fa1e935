package atproto

import (
	"context"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"

	"github.com/agile-enigma/bsky-multitool/pkg/logging"
)

// RetryConfig configures the retry executor wrapping every remote call.
type RetryConfig struct {
	// MaxAttempts bounds total tries, including the first.
	MaxAttempts int

	// InitialDelay is the wait before the first retry.
	InitialDelay time.Duration

	// MaxDelay caps the computed backoff.
	MaxDelay time.Duration

	// BackoffFactor multiplies the delay after each failed attempt.
	BackoffFactor float64

	// Logger for per-attempt failure logs.
	Logger logging.Logger

	// OnRetry is an optional hook invoked once per retry, used for metrics.
	OnRetry func()
}

// DefaultRetryConfig returns the defaults used for enrichment lookups.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:   5,
		InitialDelay:  time.Second,
		MaxDelay:      60 * time.Second,
		BackoffFactor: 2.0,
	}
}

// SearchRetryConfig returns the slower defaults used for search paging,
// where rate limits bite harder.
func SearchRetryConfig() RetryConfig {
	cfg := DefaultRetryConfig()
	cfg.InitialDelay = 5 * time.Second
	return cfg
}

func normalizeRetryConfig(cfg RetryConfig) RetryConfig {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if cfg.InitialDelay <= 0 {
		cfg.InitialDelay = time.Second
	}
	if cfg.MaxDelay < cfg.InitialDelay {
		cfg.MaxDelay = cfg.InitialDelay
	}
	if cfg.BackoffFactor < 1 {
		cfg.BackoffFactor = 2.0
	}
	return cfg
}

// NewRetryPolicy creates a retry policy with exponential backoff and 10%
// jitter. Transient errors are retried; fatal account-level errors abort
// immediately. The last failure propagates once attempts are exhausted.
func NewRetryPolicy[R any](cfg RetryConfig) retrypolicy.RetryPolicy[R] {
	cfg = normalizeRetryConfig(cfg)

	builder := retrypolicy.NewBuilder[R]().
		WithBackoffFactor(cfg.InitialDelay, cfg.MaxDelay, cfg.BackoffFactor).
		WithMaxAttempts(cfg.MaxAttempts).
		WithJitterFactor(0.1).
		HandleIf(func(_ R, err error) bool {
			return IsRetryable(err)
		}).
		AbortIf(func(_ R, err error) bool {
			return IsFatal(err)
		})

	if cfg.Logger != nil || cfg.OnRetry != nil {
		builder = builder.OnRetry(func(e failsafe.ExecutionEvent[R]) {
			if cfg.Logger != nil {
				cfg.Logger.WithFields(logging.Fields{
					"attempt": e.Attempts(),
					"error":   e.LastError(),
				}).Warn("Remote call failed, retrying")
			}
			if cfg.OnRetry != nil {
				cfg.OnRetry()
			}
		})
	}

	return builder.Build()
}

// Retry runs fn through a retry policy, honoring ctx for cancellation and
// backoff sleeps.
func Retry[R any](ctx context.Context, policy retrypolicy.RetryPolicy[R], fn func() (R, error)) (R, error) {
	return failsafe.With(policy).WithContext(ctx).Get(fn)
}
