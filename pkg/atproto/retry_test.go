package atproto

import (
	"context"
	"net/http"
	"testing"
	"time"
)

func TestRetryEventualSuccess(t *testing.T) {
	policy := NewRetryPolicy[int](RetryConfig{
		MaxAttempts:   5,
		InitialDelay:  time.Millisecond,
		MaxDelay:      time.Millisecond,
		BackoffFactor: 2.0,
	})

	attempts := 0
	got, err := Retry(context.Background(), policy, func() (int, error) {
		attempts++
		if attempts < 3 {
			return 0, &APIError{StatusCode: http.StatusServiceUnavailable}
		}
		return 42, nil
	})
	if err != nil {
		t.Fatalf("expected eventual success, got %v", err)
	}
	if got != 42 {
		t.Fatalf("expected 42, got %d", got)
	}
	if attempts != 3 {
		t.Fatalf("expected 3 attempts (2 failures then success), got %d", attempts)
	}
}

func TestRetryExhaustionPropagatesLastError(t *testing.T) {
	policy := NewRetryPolicy[int](RetryConfig{
		MaxAttempts:   3,
		InitialDelay:  time.Millisecond,
		MaxDelay:      time.Millisecond,
		BackoffFactor: 2.0,
	})

	attempts := 0
	_, err := Retry(context.Background(), policy, func() (int, error) {
		attempts++
		return 0, &APIError{StatusCode: http.StatusBadGateway, Code: "UpstreamFailure"}
	})
	if err == nil {
		t.Fatal("expected failure after exhausting attempts")
	}
	if attempts != 3 {
		t.Fatalf("expected exactly 3 attempts, got %d", attempts)
	}
	apiErr, ok := asAPIError(err)
	if !ok || apiErr.Code != "UpstreamFailure" {
		t.Fatalf("expected the last APIError to propagate, got %v", err)
	}
}

func TestRetryAbortsOnFatalError(t *testing.T) {
	policy := NewRetryPolicy[int](RetryConfig{
		MaxAttempts:   5,
		InitialDelay:  time.Millisecond,
		MaxDelay:      time.Millisecond,
		BackoffFactor: 2.0,
	})

	attempts := 0
	_, err := Retry(context.Background(), policy, func() (int, error) {
		attempts++
		return 0, &APIError{StatusCode: http.StatusBadRequest, Code: "AccountTakedown"}
	})
	if err == nil {
		t.Fatal("expected fatal error to propagate")
	}
	if attempts != 1 {
		t.Fatalf("expected a single attempt for a fatal error, got %d", attempts)
	}
}

func TestRetryDoesNotRetryClientErrors(t *testing.T) {
	policy := NewRetryPolicy[int](RetryConfig{
		MaxAttempts:   5,
		InitialDelay:  time.Millisecond,
		MaxDelay:      time.Millisecond,
		BackoffFactor: 2.0,
	})

	attempts := 0
	_, err := Retry(context.Background(), policy, func() (int, error) {
		attempts++
		return 0, &APIError{StatusCode: http.StatusBadRequest, Code: "InvalidRequest"}
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if attempts != 1 {
		t.Fatalf("expected no retries for a 4xx, got %d attempts", attempts)
	}
}

func TestRetryHookFiresPerRetry(t *testing.T) {
	retries := 0
	policy := NewRetryPolicy[int](RetryConfig{
		MaxAttempts:   4,
		InitialDelay:  time.Millisecond,
		MaxDelay:      time.Millisecond,
		BackoffFactor: 2.0,
		OnRetry:       func() { retries++ },
	})

	attempts := 0
	_, _ = Retry(context.Background(), policy, func() (int, error) {
		attempts++
		return 0, &APIError{StatusCode: http.StatusTooManyRequests}
	})
	if attempts != 4 {
		t.Fatalf("expected 4 attempts, got %d", attempts)
	}
	if retries != 3 {
		t.Fatalf("expected 3 retry hook firings, got %d", retries)
	}
}

func TestErrorClassification(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		retryable bool
		fatal     bool
	}{
		{"server error", &APIError{StatusCode: 500}, true, false},
		{"rate limit", &APIError{StatusCode: 429, Code: "RateLimitExceeded"}, true, false},
		{"bad request", &APIError{StatusCode: 400, Code: "InvalidRequest"}, false, false},
		{"takedown", &APIError{StatusCode: 400, Code: "AccountTakedown"}, false, true},
		{"suspended", &APIError{StatusCode: 400, Code: "AccountSuspended"}, false, true},
		{"bad credentials", ErrUnauthorized, false, true},
		{"network", context.DeadlineExceeded, true, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryable(tt.err); got != tt.retryable {
				t.Fatalf("IsRetryable = %v, want %v", got, tt.retryable)
			}
			if got := IsFatal(tt.err); got != tt.fatal {
				t.Fatalf("IsFatal = %v, want %v", got, tt.fatal)
			}
		})
	}
}
