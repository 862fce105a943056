package client

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestSpacerWaitsForInterval(t *testing.T) {
	now := time.Unix(0, 0)
	var slept []time.Duration
	s := &spacer{
		interval: 200 * time.Millisecond,
		now:      func() time.Time { return now },
		sleep: func(_ context.Context, d time.Duration) error {
			slept = append(slept, d)
			now = now.Add(d)
			return nil
		},
	}
	ctx := context.Background()

	if err := s.wait(ctx); err != nil {
		t.Fatal(err)
	}
	if len(slept) != 0 {
		t.Fatalf("first call must not wait, slept %v", slept)
	}

	now = now.Add(50 * time.Millisecond)
	if err := s.wait(ctx); err != nil {
		t.Fatal(err)
	}
	if len(slept) != 1 || slept[0] != 150*time.Millisecond {
		t.Fatalf("expected a 150ms wait, got %v", slept)
	}

	now = now.Add(time.Second)
	if err := s.wait(ctx); err != nil {
		t.Fatal(err)
	}
	if len(slept) != 1 {
		t.Errorf("no wait expected once the interval has passed, got %v", slept)
	}
	if !s.last.Equal(now) {
		t.Errorf("expected last call time %v, got %v", now, s.last)
	}
}

func TestSpacerCanceled(t *testing.T) {
	s := &spacer{
		interval: time.Hour,
		last:     time.Now(),
		now:      time.Now,
		sleep:    sleepContext,
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := s.wait(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestBackoffDelay(t *testing.T) {
	c := &Client{backoffBase: 1.5}
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 1500 * time.Millisecond},
		{2, 2250 * time.Millisecond},
		{3, 3375 * time.Millisecond},
	}
	for _, tt := range tests {
		if got := c.backoffDelay(tt.attempt); got != tt.want {
			t.Errorf("backoffDelay(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}
