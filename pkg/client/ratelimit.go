package client

import (
	"context"
	"time"
)

// spacer enforces a minimum interval between outbound calls. It keeps no lock:
// concurrent callers may both observe a stale last-call time.
type spacer struct {
	interval time.Duration
	last     time.Time
	now      func() time.Time
	sleep    func(context.Context, time.Duration) error
}

func (s *spacer) wait(ctx context.Context) error {
	if !s.last.IsZero() {
		if elapsed := s.now().Sub(s.last); elapsed < s.interval {
			if err := s.sleep(ctx, s.interval-elapsed); err != nil {
				return err
			}
		}
	}
	s.last = s.now()
	return nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
