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
	"testing"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func quietConfig(attempts int) Config {
	return Config{
		Attempts:  attempts,
		BaseDelay: time.Millisecond,
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func TestDoRetriesTransientErrors(t *testing.T) {
	calls := 0
	err := Do(context.Background(), quietConfig(3), "write", func(context.Context) error {
		calls++
		if calls < 3 {
			return status.Error(codes.Unavailable, "backend unavailable")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
}

func TestDoExhausted(t *testing.T) {
	calls := 0
	err := Do(context.Background(), quietConfig(4), "write", func(context.Context) error {
		calls++
		return errors.New("socket hang up")
	})
	if !errors.Is(err, ErrExhausted) {
		t.Fatalf("expected ErrExhausted, got %v", err)
	}
	if !strings.Contains(err.Error(), "socket hang up") {
		t.Errorf("last error should be wrapped: %v", err)
	}
	if calls != 4 {
		t.Errorf("expected 4 calls, got %d", calls)
	}
}

func TestDoNonRetryable(t *testing.T) {
	bad := errors.New("invalid argument")
	calls := 0
	err := Do(context.Background(), quietConfig(5), "write", func(context.Context) error {
		calls++
		return bad
	})
	if !errors.Is(err, bad) {
		t.Fatalf("expected original error, got %v", err)
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
}

func TestDoTimeoutNotRetried(t *testing.T) {
	calls := 0
	err := Do(context.Background(), quietConfig(5), "generate", func(context.Context) error {
		calls++
		return fmt.Errorf("generate: %w", ErrTimeout)
	})
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
}

func TestDoStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := quietConfig(3)
	cfg.BaseDelay = time.Hour

	start := time.Now()
	err := Do(ctx, cfg, "write", func(context.Context) error {
		cancel()
		return status.Error(codes.Unavailable, "down")
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if time.Since(start) > time.Second {
		t.Error("Do should not wait out the backoff after cancellation")
	}
}

func TestDoValue(t *testing.T) {
	calls := 0
	got, err := DoValue(context.Background(), quietConfig(2), "read", func(context.Context) (int, error) {
		calls++
		if calls == 1 {
			return 0, syscall.ECONNRESET
		}
		return 42, nil
	})
	if err != nil {
		t.Fatalf("DoValue: %v", err)
	}
	if got != 42 {
		t.Errorf("expected 42, got %d", got)
	}
}

func TestDelay(t *testing.T) {
	cfg := Config{BaseDelay: 100 * time.Millisecond, MaxDelay: 250 * time.Millisecond}
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 100 * time.Millisecond},
		{1, 100 * time.Millisecond},
		{2, 200 * time.Millisecond},
		{3, 250 * time.Millisecond},
		{10, 250 * time.Millisecond},
	}
	for _, tt := range tests {
		if got := cfg.Delay(tt.attempt); got != tt.want {
			t.Errorf("Delay(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"grpc unavailable", status.Error(codes.Unavailable, "x"), true},
		{"grpc deadline", status.Error(codes.DeadlineExceeded, "x"), true},
		{"grpc internal", status.Error(codes.Internal, "x"), true},
		{"grpc invalid argument", status.Error(codes.InvalidArgument, "x"), false},
		{"grpc not found", status.Error(codes.NotFound, "x"), false},
		{"wrapped errno", fmt.Errorf("dial: %w", syscall.ECONNRESET), true},
		{"op error", &net.OpError{Op: "dial", Net: "tcp", Err: syscall.ECONNREFUSED}, true},
		{"unexpected EOF", fmt.Errorf("read body: %w", io.ErrUnexpectedEOF), true},
		{"socket hang up", errors.New("Error: socket hang up"), true},
		{"timed out message", errors.New("request timed out"), true},
		{"timeout wrapper", fmt.Errorf("x: %w", ErrTimeout), false},
		{"context canceled", context.Canceled, false},
		{"context deadline", context.DeadlineExceeded, false},
		{"plain", errors.New("permission denied"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryable(tt.err); got != tt.want {
				t.Errorf("IsRetryable() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSummarize(t *testing.T) {
	s := Summarize(fmt.Errorf("save job: %w", status.Error(codes.Unavailable, "down")))
	if s.Code != "Unavailable" {
		t.Errorf("Code = %q, want Unavailable", s.Code)
	}
	if !strings.Contains(s.Message, "save job") {
		t.Errorf("Message = %q", s.Message)
	}
	if s.Cause == "" {
		t.Error("Cause should be set for wrapped errors")
	}

	s = Summarize(fmt.Errorf("dial: %w", syscall.ETIMEDOUT))
	if s.Code != "ETIMEDOUT" {
		t.Errorf("Code = %q, want ETIMEDOUT", s.Code)
	}

	if (Summarize(nil) != Summary{}) {
		t.Error("Summarize(nil) should be empty")
	}
}

func TestWithTimeout(t *testing.T) {
	t.Run("timer wins", func(t *testing.T) {
		err := WithTimeout(context.Background(), 10*time.Millisecond, "pdf extraction", func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		})
		if !errors.Is(err, ErrTimeout) {
			t.Fatalf("expected ErrTimeout, got %v", err)
		}
		if !strings.Contains(err.Error(), "pdf extraction") {
			t.Errorf("error should name the operation: %v", err)
		}
	})

	t.Run("operation wins", func(t *testing.T) {
		got, err := WithTimeoutValue(context.Background(), time.Second, "sum", func(context.Context) (int, error) {
			return 7, nil
		})
		if err != nil || got != 7 {
			t.Fatalf("WithTimeoutValue = %d, %v", got, err)
		}
	})

	t.Run("operation error", func(t *testing.T) {
		bad := errors.New("boom")
		err := WithTimeout(context.Background(), time.Second, "x", func(context.Context) error { return bad })
		if !errors.Is(err, bad) {
			t.Fatalf("expected boom, got %v", err)
		}
	})

	t.Run("disabled", func(t *testing.T) {
		err := WithTimeout(context.Background(), 0, "x", func(ctx context.Context) error {
			if _, ok := ctx.Deadline(); ok {
				return errors.New("unexpected deadline")
			}
			return nil
		})
		if err != nil {
			t.Fatal(err)
		}
	})
}
