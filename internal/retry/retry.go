// Package retry runs operations against flaky backends (the database, the
// model API) with exponential backoff, and bounds them with timeouts.
package retry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"syscall"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ErrExhausted wraps the last error once every attempt has failed.
var ErrExhausted = errors.New("retry attempts exhausted")

// Config holds the tuning parameters for Do. Zero values are replaced with
// the defaults documented on each field.
type Config struct {
	// Attempts is the total number of calls, including the first. Default: 3.
	Attempts int
	// BaseDelay is the wait before the second attempt; attempt n waits
	// BaseDelay * 2^(n-1). Default: 500ms.
	BaseDelay time.Duration
	// MaxDelay caps a single wait. Default: 30s.
	MaxDelay time.Duration
	// Retryable decides whether an error is transient. Default: IsRetryable.
	Retryable func(error) bool
	// Logger receives retry and failure records. Default: slog.Default().
	Logger *slog.Logger
}

func (c Config) withDefaults() Config {
	if c.Attempts <= 0 {
		c.Attempts = 3
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = 500 * time.Millisecond
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 30 * time.Second
	}
	if c.Retryable == nil {
		c.Retryable = IsRetryable
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// Delay returns the wait after the given failed attempt (1-based).
func (c Config) Delay(attempt int) time.Duration {
	c = c.withDefaults()
	if attempt < 1 {
		attempt = 1
	}
	d := c.BaseDelay
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= c.MaxDelay {
			return c.MaxDelay
		}
	}
	return min(d, c.MaxDelay)
}

// Do calls op until it succeeds, fails with a non-retryable error, or runs
// out of attempts. Timeouts (ErrTimeout, context deadlines) are never
// retried.
func Do(ctx context.Context, cfg Config, name string, op func(context.Context) error) error {
	_, err := DoValue(ctx, cfg, name, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}

// DoValue is Do for operations that return a value.
func DoValue[T any](ctx context.Context, cfg Config, name string, op func(context.Context) (T, error)) (T, error) {
	cfg = cfg.withDefaults()
	var zero T
	var lastErr error

	for attempt := 1; attempt <= cfg.Attempts; attempt++ {
		v, err := op(ctx)
		if err == nil {
			return v, nil
		}
		lastErr = err

		if !cfg.Retryable(err) {
			cfg.Logger.Error("operation failed", "op", name, "attempt", attempt, "error", Summarize(err))
			return zero, err
		}
		if attempt == cfg.Attempts {
			break
		}

		delay := cfg.Delay(attempt)
		cfg.Logger.Warn("retrying operation",
			"op", name,
			"attempt", attempt,
			"max_attempts", cfg.Attempts,
			"delay", delay,
			"error", err,
		)
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, fmt.Errorf("%s: %w", name, ctx.Err())
		case <-timer.C:
		}
	}

	cfg.Logger.Error("retries exhausted", "op", name, "attempts", cfg.Attempts, "error", Summarize(lastErr))
	return zero, fmt.Errorf("%s: %w after %d attempts: %w", name, ErrExhausted, cfg.Attempts, lastErr)
}

var retryableMessages = []string{
	"socket hang up",
	"timed out",
	"connection reset",
	"connection refused",
	"broken pipe",
	"econnreset",
	"econnrefused",
	"etimedout",
	"eai_again",
}

var errnoNames = map[syscall.Errno]string{
	syscall.ECONNRESET:   "ECONNRESET",
	syscall.ECONNREFUSED: "ECONNREFUSED",
	syscall.ECONNABORTED: "ECONNABORTED",
	syscall.ETIMEDOUT:    "ETIMEDOUT",
	syscall.EPIPE:        "EPIPE",
	syscall.EHOSTUNREACH: "EHOSTUNREACH",
	syscall.ENETUNREACH:  "ENETUNREACH",
}

// IsRetryable classifies err as transient. It accepts gRPC UNAVAILABLE,
// DEADLINE_EXCEEDED and INTERNAL statuses, common socket errors, network
// timeouts reported by the transport, and a few well-known messages.
func IsRetryable(err error) bool {
	if err == nil ||
		errors.Is(err, ErrTimeout) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	if s, ok := status.FromError(err); ok {
		switch s.Code() {
		case codes.Unavailable, codes.DeadlineExceeded, codes.Internal:
			return true
		}
		return false
	}

	var errno syscall.Errno
	if errors.As(err, &errno) {
		if _, ok := errnoNames[errno]; ok {
			return true
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	if errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, pattern := range retryableMessages {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}

// Summary is the structured form of an error written to logs.
type Summary struct {
	Name    string
	Message string
	Code    string
	Cause   string
}

// Summarize describes err by type, message, code and immediate cause.
func Summarize(err error) Summary {
	if err == nil {
		return Summary{}
	}
	s := Summary{
		Name:    fmt.Sprintf("%T", err),
		Message: err.Error(),
		Code:    errorCode(err),
	}
	if cause := errors.Unwrap(err); cause != nil {
		s.Cause = cause.Error()
	}
	return s
}

// LogValue implements slog.LogValuer.
func (s Summary) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("name", s.Name),
		slog.String("message", s.Message),
		slog.String("code", s.Code),
		slog.String("cause", s.Cause),
	)
}

func errorCode(err error) string {
	if s, ok := status.FromError(err); ok {
		return s.Code().String()
	}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		if name, ok := errnoNames[errno]; ok {
			return name
		}
		return fmt.Sprintf("errno %d", uintptr(errno))
	}
	var coded interface{ StatusCode() int }
	if errors.As(err, &coded) {
		return fmt.Sprintf("%d", coded.StatusCode())
	}
	return ""
}
