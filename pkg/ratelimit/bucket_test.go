package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}

func TestNewBucket_ClampsInputs(t *testing.T) {
	tests := []struct {
		name      string
		rate      float64
		burst     int
		wantRate  float64
		wantBurst int
	}{
		{name: "valid config", rate: 2, burst: 5, wantRate: 2, wantBurst: 5},
		{name: "zero rate", rate: 0, burst: 5, wantRate: 1, wantBurst: 5},
		{name: "negative rate", rate: -3, burst: 5, wantRate: 1, wantBurst: 5},
		{name: "zero burst", rate: 2, burst: 0, wantRate: 2, wantBurst: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := NewBucket(tt.rate, tt.burst, testLogger())
			if b.Rate() != tt.wantRate {
				t.Errorf("Rate() = %v, want %v", b.Rate(), tt.wantRate)
			}
			if b.Burst() != tt.wantBurst {
				t.Errorf("Burst() = %v, want %v", b.Burst(), tt.wantBurst)
			}
		})
	}
}

func TestBucket_StartsFull(t *testing.T) {
	b := NewBucket(1, 3, testLogger())
	if got := b.Tokens(); got < 3 {
		t.Errorf("Tokens() = %v, want >= 3 (bucket starts full)", got)
	}
}

func TestBucket_BurstAcquiresImmediately(t *testing.T) {
	b := NewBucket(1, 5, testLogger())
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 5; i++ {
		if err := b.Acquire(ctx); err != nil {
			t.Fatalf("Acquire() #%d error = %v", i, err)
		}
	}
	if elapsed := time.Since(start); elapsed > 40*time.Millisecond {
		t.Errorf("5 burst acquisitions took %v, want near-instant", elapsed)
	}
}

func TestBucket_TokensNeverExceedBurst(t *testing.T) {
	b := NewBucket(100, 4, testLogger())
	ctx := context.Background()

	// Drain part of the bucket, then simulate a long idle period;
	// refill must cap at burst.
	if err := b.Acquire(ctx); err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	if err := b.Acquire(ctx); err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}

	base := time.Now()
	b.now = func() time.Time { return base.Add(time.Hour) }

	if got := b.Tokens(); got != 4 {
		t.Errorf("Tokens() after long idle = %v, want 4 (burst cap)", got)
	}
}

func TestBucket_TokensNeverNegative(t *testing.T) {
	b := NewBucket(1000, 2, testLogger())
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		if err := b.Acquire(ctx); err != nil {
			t.Fatalf("Acquire() error = %v", err)
		}
		if got := b.Tokens(); got < 0 {
			t.Fatalf("Tokens() = %v, want >= 0", got)
		}
	}
}

func TestBucket_AcquireWaitsForRefill(t *testing.T) {
	b := NewBucket(20, 1, testLogger())
	ctx := context.Background()

	// Drain the single burst token.
	if err := b.Acquire(ctx); err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}

	start := time.Now()
	if err := b.Acquire(ctx); err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	if elapsed := time.Since(start); elapsed < minWait {
		t.Errorf("Second acquire took %v, want >= %v", elapsed, minWait)
	}
}

func TestBucket_LongRunRateBound(t *testing.T) {
	if testing.Short() {
		t.Skip("timing test")
	}

	b := NewBucket(50, 1, testLogger())
	ctx := context.Background()

	start := time.Now()
	const n = 6
	for i := 0; i < n; i++ {
		if err := b.Acquire(ctx); err != nil {
			t.Fatalf("Acquire() error = %v", err)
		}
	}
	elapsed := time.Since(start)

	// 1 burst token plus 5 refills at 50/s needs at least 100ms.
	if elapsed < 100*time.Millisecond {
		t.Errorf("%d acquisitions at 50/s took %v, want >= 100ms", n, elapsed)
	}
}

func TestBucket_AcquireRespectsContext(t *testing.T) {
	b := NewBucket(0.1, 1, testLogger())
	ctx := context.Background()

	if err := b.Acquire(ctx); err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}

	cancelCtx, cancel := context.WithTimeout(ctx, 60*time.Millisecond)
	defer cancel()

	err := b.Acquire(cancelCtx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Acquire() error = %v, want context.DeadlineExceeded", err)
	}
}

func TestBucket_DisposeReleasesWaiters(t *testing.T) {
	b := NewBucket(0.1, 1, testLogger())
	ctx := context.Background()

	if err := b.Acquire(ctx); err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- b.Acquire(ctx)
	}()

	time.Sleep(20 * time.Millisecond)
	b.Dispose()

	select {
	case err := <-errCh:
		if !errors.Is(err, ErrDisposed) {
			t.Errorf("Acquire() after dispose = %v, want ErrDisposed", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Waiter not released after Dispose()")
	}

	// Dispose is idempotent.
	b.Dispose()
}

func TestBucket_ConcurrentAcquireAccounting(t *testing.T) {
	b := NewBucket(1000, 10, testLogger())
	ctx := context.Background()

	done := make(chan error, 20)
	for i := 0; i < 20; i++ {
		go func() {
			done <- b.Acquire(ctx)
		}()
	}

	for i := 0; i < 20; i++ {
		if err := <-done; err != nil {
			t.Fatalf("concurrent Acquire() error = %v", err)
		}
	}

	if got := b.Tokens(); got < 0 || got > 10 {
		t.Errorf("Tokens() = %v, want within [0, 10]", got)
	}
}
