package collab

import (
	"errors"
	"testing"
	"time"

	"github.com/lumenlab/scholar/internal/errs"
	"go.uber.org/zap"
)

func TestBreakerOpensAtThreshold(t *testing.T) {
	b := NewBreaker(3, time.Minute, zap.NewNop())

	for i := 0; i < 2; i++ {
		if err := b.Allow(); err != nil {
			t.Fatalf("breaker rejected below threshold after %d failures", i)
		}
		b.Failure()
	}
	if err := b.Allow(); err != nil {
		t.Fatal("breaker rejected at 2 of 3 failures")
	}
	b.Failure()

	err := b.Allow()
	if !errors.Is(err, errs.ErrBreakerOpen) {
		t.Fatalf("got %v, want breaker-open rejection", err)
	}
	if errs.CodeOf(err) != errs.CodeBreakerOpen {
		t.Errorf("code = %s, want %s", errs.CodeOf(err), errs.CodeBreakerOpen)
	}
}

func TestBreakerSuccessResetsFailureCount(t *testing.T) {
	b := NewBreaker(3, time.Minute, zap.NewNop())

	b.Failure()
	b.Failure()
	b.Success()
	b.Failure()
	b.Failure()

	if err := b.Allow(); err != nil {
		t.Error("consecutive-failure count must reset on success")
	}
}

func TestBreakerHalfOpenSingleTrial(t *testing.T) {
	b := NewBreaker(1, 50*time.Millisecond, zap.NewNop())
	b.Failure()

	if err := b.Allow(); !errors.Is(err, errs.ErrBreakerOpen) {
		t.Fatalf("breaker should be open, got %v", err)
	}

	time.Sleep(60 * time.Millisecond)

	if err := b.Allow(); err != nil {
		t.Fatalf("cooldown elapsed, trial call should be admitted: %v", err)
	}
	// Only one trial while the first is in flight.
	if err := b.Allow(); !errors.Is(err, errs.ErrBreakerOpen) {
		t.Errorf("second call during trial should be rejected, got %v", err)
	}
}

func TestBreakerClosesOnTrialSuccess(t *testing.T) {
	b := NewBreaker(1, 50*time.Millisecond, zap.NewNop())
	b.Failure()
	time.Sleep(60 * time.Millisecond)

	if err := b.Allow(); err != nil {
		t.Fatalf("trial not admitted: %v", err)
	}
	b.Success()

	for i := 0; i < 3; i++ {
		if err := b.Allow(); err != nil {
			t.Fatal("breaker must be fully closed after trial success")
		}
	}
}

func TestBreakerReopensOnTrialFailure(t *testing.T) {
	b := NewBreaker(5, 50*time.Millisecond, zap.NewNop())
	for i := 0; i < 5; i++ {
		b.Failure()
	}
	time.Sleep(60 * time.Millisecond)

	if err := b.Allow(); err != nil {
		t.Fatalf("trial not admitted: %v", err)
	}
	b.Failure()

	// One failed trial reopens immediately, threshold notwithstanding.
	if err := b.Allow(); !errors.Is(err, errs.ErrBreakerOpen) {
		t.Errorf("breaker should reopen after failed trial, got %v", err)
	}
}
