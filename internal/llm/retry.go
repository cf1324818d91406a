package llm

import (
	"context"
	"time"

	"github.com/nugget/linebot-mcp/internal/httpkit"
)

// RetryPolicy paces retries of one (model, version) call.
type RetryPolicy struct {
	// MaxRetries is the number of retries after the first attempt.
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	// Sleep waits d or until ctx is done. Tests replace it.
	Sleep func(ctx context.Context, d time.Duration) error
}

// DefaultRetryPolicy is three retries starting at 500ms, capped at 5s.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxRetries: 3, BaseDelay: 500 * time.Millisecond, MaxDelay: 5 * time.Second, Sleep: sleepCtx}
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	d := DefaultRetryPolicy()
	if p.MaxRetries <= 0 {
		p.MaxRetries = d.MaxRetries
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = d.BaseDelay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = d.MaxDelay
	}
	if p.Sleep == nil {
		p.Sleep = d.Sleep
	}
	return p
}

func (p RetryPolicy) backoff(attempt int) time.Duration {
	return httpkit.Backoff(attempt, p.BaseDelay, p.MaxDelay)
}

// Do calls fn until it asks not to retry, returns an error, or the
// retry budget runs out. fn receives the zero-based attempt number and
// returns how long to wait before the next attempt.
func (p RetryPolicy) Do(ctx context.Context, fn func(attempt int) (time.Duration, bool, error)) error {
	for attempt := 0; ; attempt++ {
		wait, again, err := fn(attempt)
		if err != nil || !again || attempt >= p.MaxRetries {
			return err
		}
		if err := p.Sleep(ctx, wait); err != nil {
			return err
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
