// Package retry provides bounded exponential backoff for upstream calls.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"
)

var (
	jitterMu  sync.Mutex
	jitterRNG = rand.New(rand.NewSource(time.Now().UnixNano()))
)

// PermanentError marks a failure that retrying cannot fix.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string {
	return fmt.Sprintf("permanent: %v", e.Err)
}

func (e *PermanentError) Unwrap() error {
	return e.Err
}

// Permanent wraps err so Do returns it without another attempt.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}

// Policy describes how many times and how patiently to retry.
type Policy struct {
	Attempts   int           // total tries including the first; <=0 means one
	BaseDelay  time.Duration // wait before the second try
	MaxDelay   time.Duration // upper bound on any single wait
	Multiplier float64       // growth factor between waits
	Jitter     bool          // add up to 25% random extra wait

	// Retryable decides whether a failed attempt is worth repeating.
	// Nil means every non-permanent error is retried.
	Retryable func(error) bool
}

// DefaultPolicy is tuned for interactive upstream HTTP calls: one retry, short wait.
func DefaultPolicy() Policy {
	return Policy{
		Attempts:   2,
		BaseDelay:  200 * time.Millisecond,
		MaxDelay:   2 * time.Second,
		Multiplier: 2.0,
		Jitter:     true,
	}
}

// StartupPolicy retries patiently, for dependencies that may still be booting.
func StartupPolicy() Policy {
	return Policy{
		Attempts:   10,
		BaseDelay:  100 * time.Millisecond,
		MaxDelay:   2 * time.Second,
		Multiplier: 1.5,
		Jitter:     true,
	}
}

func (p Policy) normalize() (Policy, error) {
	if p.BaseDelay < 0 || p.MaxDelay < 0 || p.Multiplier < 0 {
		return p, errors.New("retry: delays and multiplier must not be negative")
	}
	if p.Attempts <= 0 {
		p.Attempts = 1
	}
	if p.BaseDelay == 0 {
		p.BaseDelay = 100 * time.Millisecond
	}
	if p.MaxDelay == 0 {
		p.MaxDelay = 5 * time.Second
	}
	if p.Multiplier == 0 {
		p.Multiplier = 2.0
	}
	if p.Multiplier > 1000 {
		p.Multiplier = 1000
	}
	if p.MaxDelay < p.BaseDelay {
		return p, errors.New("retry: MaxDelay must be >= BaseDelay")
	}
	return p, nil
}

func (p Policy) wait(delay time.Duration) time.Duration {
	if !p.Jitter || delay < 4 {
		return delay
	}
	jitterMu.Lock()
	extra := time.Duration(jitterRNG.Int63n(int64(delay / 4)))
	jitterMu.Unlock()
	return delay + extra
}

// Do runs fn until it succeeds, the policy is exhausted, the error is not
// retryable, or ctx ends.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context) error) error {
	p, err := p.normalize()
	if err != nil {
		return err
	}

	delay := p.BaseDelay
	var lastErr error
	for attempt := 1; attempt <= p.Attempts; attempt++ {
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if IsPermanent(lastErr) {
			return lastErr
		}
		if p.Retryable != nil && !p.Retryable(lastErr) {
			return lastErr
		}
		if ctx.Err() != nil {
			return fmt.Errorf("retry cancelled before attempt %d: %w", attempt+1, ctx.Err())
		}
		if attempt == p.Attempts {
			break
		}

		timer := time.NewTimer(p.wait(delay))
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("retry cancelled during backoff for attempt %d: %w", attempt+1, ctx.Err())
		case <-timer.C:
		}

		next := float64(delay) * p.Multiplier
		if next > float64(p.MaxDelay) {
			delay = p.MaxDelay
		} else {
			delay = time.Duration(next)
		}
	}

	if p.Attempts == 1 {
		return lastErr
	}
	return fmt.Errorf("retry failed after %d attempts: %w", p.Attempts, lastErr)
}

// DoValue is Do for functions that also produce a value.
func DoValue[T any](ctx context.Context, p Policy, fn func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := Do(ctx, p, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err == nil {
			out = v
		}
		return err
	})
	return out, err
}
