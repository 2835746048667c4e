// Package retry provides named retry policies for external calls: bounded
// attempts, a backoff schedule and jitter, applied uniformly instead of ad
// hoc sleeps.
package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"time"
)

// Policy describes how one class of external call is retried.
type Policy struct {
	Name        string
	MaxAttempts int           // total attempts, including the first
	Backoff     time.Duration // wait before the second attempt
	Multiplier  float64       // backoff growth per attempt (1 = fixed)
	Jitter      time.Duration // random extra wait, uniform in [0, Jitter)
}

type transientError struct {
	err error
}

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

// Transient marks an error as retryable under a Policy. Unmarked errors
// abort immediately.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &transientError{err: err}
}

func IsTransient(err error) bool {
	var te *transientError
	return errors.As(err, &te)
}

// Do runs fn until it succeeds, returns a permanent error, or the attempt
// budget is spent. The final error is returned unwrapped of its transient
// marker.
func (p Policy) Do(ctx context.Context, fn func() error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	wait := p.Backoff
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}
		if !IsTransient(err) {
			return err
		}
		if attempt == attempts {
			break
		}

		d := wait
		if p.Jitter > 0 {
			d += time.Duration(rand.Int63n(int64(p.Jitter)))
		}
		slog.Warn("transient error, backing off",
			"policy", p.Name, "attempt", attempt, "wait", d, "error", err)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(d):
		}

		if p.Multiplier > 1 {
			wait = time.Duration(float64(wait) * p.Multiplier)
		}
	}

	var te *transientError
	if errors.As(err, &te) {
		err = te.err
	}
	return fmt.Errorf("%s: attempts exhausted: %w", p.Name, err)
}
