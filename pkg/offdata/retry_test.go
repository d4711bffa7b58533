package offdata

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestBackoffDelaySequence(t *testing.T) {
	cases := []struct {
		retryCount int
		want       time.Duration
	}{
		{0, time.Second}, // clamped to retryCount 1
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 8 * time.Second},
		{5, 16 * time.Second},
	}
	for _, c := range cases {
		got := backoffDelay(c.retryCount)
		if got != c.want {
			t.Errorf("backoffDelay(%d) = %v, want %v", c.retryCount, got, c.want)
		}
	}
}

func TestSleepOrAbortCompletesNormally(t *testing.T) {
	err := sleepOrAbort(context.Background(), 5*time.Millisecond)
	if err != nil {
		t.Fatalf("sleepOrAbort = %v, want nil", err)
	}
}

func TestSleepOrAbortReturnsAbortOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := sleepOrAbort(ctx, time.Hour)
	if !errors.Is(err, ErrAbort) {
		t.Fatalf("sleepOrAbort after cancel = %v, want wrapped ErrAbort", err)
	}
}

func TestSleepOrAbortRacesCancelAgainstTimer(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(5 * time.Millisecond)
		cancel()
	}()
	err := sleepOrAbort(ctx, time.Hour)
	if !errors.Is(err, ErrAbort) {
		t.Fatalf("sleepOrAbort = %v, want wrapped ErrAbort", err)
	}
}
