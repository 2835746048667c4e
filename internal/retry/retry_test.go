package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestDoSucceedsFirstAttempt(t *testing.T) {
	p := Policy{Name: "test", MaxAttempts: 3, Backoff: time.Millisecond}

	calls := 0
	err := p.Do(context.Background(), func() error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
}

func TestDoRetriesTransient(t *testing.T) {
	p := Policy{Name: "test", MaxAttempts: 3, Backoff: time.Millisecond}

	calls := 0
	err := p.Do(context.Background(), func() error {
		calls++
		if calls < 3 {
			return Transient(errors.New("rate limited"))
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
}

func TestDoBoundedAttempts(t *testing.T) {
	p := Policy{Name: "test", MaxAttempts: 2, Backoff: time.Millisecond}

	calls := 0
	err := p.Do(context.Background(), func() error {
		calls++
		return Transient(errors.New("still limited"))
	})
	if err == nil {
		t.Fatal("expected error after exhausting attempts")
	}
	if calls != 2 {
		t.Errorf("expected exactly 2 calls, got %d", calls)
	}
}

func TestDoPermanentErrorAbortsImmediately(t *testing.T) {
	p := Policy{Name: "test", MaxAttempts: 5, Backoff: time.Millisecond}

	permanent := errors.New("bad request")
	calls := 0
	err := p.Do(context.Background(), func() error {
		calls++
		return permanent
	})
	if !errors.Is(err, permanent) {
		t.Fatalf("expected permanent error, got %v", err)
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
}

func TestDoRespectsContext(t *testing.T) {
	p := Policy{Name: "test", MaxAttempts: 5, Backoff: time.Minute}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- p.Do(ctx, func() error {
			return Transient(errors.New("slow"))
		})
	}()
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Do did not return after cancellation")
	}
}
