package utils

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net"
	"time"
)

// RetryPolicy bounds an exponential backoff: delay doubles from MinDelay up to MaxDelay.
type RetryPolicy struct {
	Attempts int
	MinDelay time.Duration
	MaxDelay time.Duration
}

var DefaultRetryPolicy = RetryPolicy{
	Attempts: 3,
	MinDelay: 2 * time.Second,
	MaxDelay: 10 * time.Second,
}

type temporary interface {
	Temporary() bool
}

// IsTransient reports whether err is worth another attempt: network failures,
// per-attempt timeouts and anything that declares itself Temporary.
func IsTransient(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	var t temporary
	if errors.As(err, &t) {
		return t.Temporary()
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne)
}

// Retry runs op until it succeeds, returns a non-transient error, the attempts
// run out or ctx is done. The last error is returned wrapped with name.
func Retry(ctx context.Context, policy RetryPolicy, name string, op func(ctx context.Context) error) error {
	attempts := policy.Attempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for i := 1; i <= attempts; i++ {
		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}
		if !IsTransient(lastErr) || i == attempts {
			break
		}

		sleep := policy.MinDelay * time.Duration(math.Pow(2, float64(i-1)))
		if policy.MaxDelay > 0 && sleep > policy.MaxDelay {
			sleep = policy.MaxDelay
		}
		LogWarning("%s falhou (tentativa %d/%d), nova tentativa em %s: %v", name, i, attempts, sleep, lastErr)

		timer := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("%s: %w", name, ctx.Err())
		case <-timer.C:
		}
	}
	return fmt.Errorf("%s: %w", name, lastErr)
}
