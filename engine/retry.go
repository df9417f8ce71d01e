package engine

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"net/http"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
)

// ErrorType categorizes an action failure for retry scheduling.
type ErrorType string

const (
	ErrorTypeTimeout   ErrorType = "timeout"
	ErrorTypeRateLimit ErrorType = "rate_limit"
	ErrorTypeNetwork   ErrorType = "network"
	ErrorTypeTemporary ErrorType = "temporary"
	ErrorTypePermanent ErrorType = "permanent"
	ErrorTypeUnknown   ErrorType = "unknown"
)

// RetryConfig bounds step retries. Error types carry their own delay
// sequences so rate-limited calls back off longer than flaky network calls.
type RetryConfig struct {
	// MaxAttempts is the total number of tries, including the first.
	MaxAttempts int

	// BaseDelay seeds the exponential backoff used when no per-type delay
	// sequence applies.
	BaseDelay time.Duration

	// MaxDelay caps the computed backoff.
	MaxDelay time.Duration

	// ErrorTypeDelays maps error types to explicit delay sequences.
	ErrorTypeDelays map[ErrorType][]time.Duration

	// Jitter between 0.0 and 1.0 randomizes delays to avoid retry storms.
	Jitter float64

	Logger *zap.SugaredLogger

	// OnRetry is called before each retry attempt.
	OnRetry func(attempt int, err error, delay time.Duration)
}

// DefaultRetryConfig returns the engine default: three attempts with
// exponential backoff.
func DefaultRetryConfig(logger *zap.SugaredLogger) RetryConfig {
	return RetryConfig{
		MaxAttempts: 3,
		BaseDelay:   1 * time.Second,
		MaxDelay:    120 * time.Second,
		Jitter:      0.1,
		Logger:      logger,
		ErrorTypeDelays: map[ErrorType][]time.Duration{
			ErrorTypeTimeout: {
				5 * time.Second,
				10 * time.Second,
				20 * time.Second,
			},
			ErrorTypeRateLimit: {
				60 * time.Second,
				120 * time.Second,
			},
			ErrorTypeNetwork: {
				5 * time.Second,
				10 * time.Second,
				20 * time.Second,
			},
			ErrorTypeTemporary: {
				1 * time.Second,
				2 * time.Second,
				4 * time.Second,
			},
		},
	}
}

// HTTPStatusError carries an HTTP status through the executor boundary so
// classification can treat 429 and 5xx differently.
type HTTPStatusError struct {
	Code int
	Body string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("unexpected HTTP status %d: %s", e.Code, e.Body)
}

// StatusCode returns the HTTP status.
func (e *HTTPStatusError) StatusCode() int {
	return e.Code
}

// ClassifyError determines the error type for retry scheduling.
func ClassifyError(err error) ErrorType {
	if err == nil {
		return ErrorTypeUnknown
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return ErrorTypeTimeout
	}

	var httpErr interface{ StatusCode() int }
	if errors.As(err, &httpErr) {
		switch httpErr.StatusCode() {
		case http.StatusTooManyRequests:
			return ErrorTypeRateLimit
		case http.StatusServiceUnavailable,
			http.StatusGatewayTimeout,
			http.StatusRequestTimeout:
			return ErrorTypeTimeout
		case http.StatusInternalServerError:
			return ErrorTypeTemporary
		case http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusForbidden,
			http.StatusNotFound:
			return ErrorTypePermanent
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrorTypeTimeout
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		if errors.Is(opErr.Err, syscall.ECONNREFUSED) ||
			errors.Is(opErr.Err, syscall.ECONNRESET) ||
			errors.Is(opErr.Err, syscall.EPIPE) {
			return ErrorTypeNetwork
		}
	}

	errMsg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(errMsg, "timeout"),
		strings.Contains(errMsg, "timed out"),
		strings.Contains(errMsg, "deadline exceeded"):
		return ErrorTypeTimeout
	case strings.Contains(errMsg, "rate limit"),
		strings.Contains(errMsg, "too many requests"):
		return ErrorTypeRateLimit
	case strings.Contains(errMsg, "connection refused"),
		strings.Contains(errMsg, "connection reset"),
		strings.Contains(errMsg, "network"),
		strings.Contains(errMsg, "dns"):
		return ErrorTypeNetwork
	case strings.Contains(errMsg, "temporary"):
		return ErrorTypeTemporary
	}

	return ErrorTypeUnknown
}

// ShouldRetry reports whether an error class is worth retrying.
func ShouldRetry(err error) bool {
	return ClassifyError(err) != ErrorTypePermanent
}

// ExecuteWithRetry runs fn until it succeeds, fails permanently, or the
// attempt budget is spent. fn should be idempotent.
func ExecuteWithRetry(ctx context.Context, fn func() error, config RetryConfig) error {
	if config.MaxAttempts < 1 {
		config.MaxAttempts = 1
	}

	var lastErr error
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("cancelled before attempt %d: %w", attempt, err)
		}

		lastErr = fn()
		if lastErr == nil {
			if attempt > 1 && config.Logger != nil {
				config.Logger.Infof("Operation succeeded on attempt %d", attempt)
			}
			return nil
		}

		errorType := ClassifyError(lastErr)
		if !ShouldRetry(lastErr) {
			return fmt.Errorf("non-retryable error: %w", lastErr)
		}
		if attempt >= config.MaxAttempts {
			return fmt.Errorf("max attempts (%d) exceeded: %w", config.MaxAttempts, lastErr)
		}

		delay := calculateDelay(attempt-1, errorType, config)

		if config.Logger != nil {
			config.Logger.Infow("Retry scheduled",
				"attempt", attempt,
				"max_attempts", config.MaxAttempts,
				"error_type", errorType,
				"delay", delay,
				"error", lastErr)
		}
		if config.OnRetry != nil {
			config.OnRetry(attempt, lastErr, delay)
		}

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return fmt.Errorf("cancelled during retry delay: %w", ctx.Err())
		}
	}
}

// calculateDelay picks the delay before the next retry: the per-type
// sequence when one exists, otherwise exponential backoff, always jittered.
func calculateDelay(retryIndex int, errorType ErrorType, config RetryConfig) time.Duration {
	var delay time.Duration

	if delays, ok := config.ErrorTypeDelays[errorType]; ok && retryIndex < len(delays) {
		delay = delays[retryIndex]
	} else {
		delay = config.BaseDelay * (1 << uint(retryIndex))
	}

	if config.MaxDelay > 0 && delay > config.MaxDelay {
		delay = config.MaxDelay
	}

	if config.Jitter > 0 {
		jitter := time.Duration(rand.Float64() * config.Jitter * float64(delay))
		delay += jitter
	}

	return delay
}
