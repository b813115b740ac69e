package retry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"syscall"
	"time"
)

// Backoff retries a single operation with exponentially growing waits. It
// is used for one-shot operations such as opening a database pool or
// fetching a page; dropped connections are handled by Scheduler instead.
type Backoff struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	MaxRetries      int
	Multiplier      float64
	// Retryable classifies failures. Nil means IsRetryableError.
	Retryable func(error) bool
}

func DefaultBackoff() Backoff {
	return Backoff{
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     10 * time.Second,
		MaxRetries:      3,
		Multiplier:      2.0,
	}
}

func (b Backoff) retryable(err error) bool {
	if b.Retryable != nil {
		return b.Retryable(err)
	}
	return IsRetryableError(err)
}

// IsRetryableError reports whether err is a transient network failure.
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, net.ErrClosed) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return true
		}
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		// IsNotFound indicates a definitive NXDOMAIN, which shouldn't be retried
		return !dnsErr.IsNotFound
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		if errors.Is(opErr.Err, syscall.ECONNREFUSED) {
			return true
		}
		if errors.Is(opErr.Err, syscall.ECONNRESET) {
			return true
		}
		if errors.Is(opErr.Err, syscall.EPIPE) {
			return true
		}
	}

	if errors.Is(err, syscall.EPIPE) || errors.Is(err, syscall.ECONNRESET) {
		return true
	}

	return false
}

func IsRetryableHTTPStatus(statusCode int) bool {
	if statusCode == http.StatusTooManyRequests {
		return true
	}

	if statusCode >= 500 && statusCode < 600 {
		return true
	}

	if statusCode == http.StatusRequestTimeout {
		return true
	}

	return false
}

// Do calls fn until it succeeds, returns an error the classifier rejects,
// or the retry budget is spent. attempt is 1-based.
func (b Backoff) Do(ctx context.Context, fn func(attempt int) error) error {
	var lastErr error
	interval := b.InitialInterval

	for attempt := 1; attempt <= b.MaxRetries+1; attempt++ {
		err := fn(attempt)
		if err == nil {
			return nil
		}
		lastErr = err
		if !b.retryable(err) {
			if attempt == 1 {
				return err
			}
			return fmt.Errorf("non-retryable error on attempt %d: %w", attempt, err)
		}
		if attempt > b.MaxRetries {
			break
		}

		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		if b.Multiplier > 1 {
			interval = time.Duration(float64(interval) * b.Multiplier)
		}
		if b.MaxInterval > 0 && interval > b.MaxInterval {
			interval = b.MaxInterval
		}
	}

	return fmt.Errorf("max retries (%d) exceeded: %w", b.MaxRetries, lastErr)
}
