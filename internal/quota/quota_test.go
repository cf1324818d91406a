package quota

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nugget/linebot-mcp/internal/errorsx"
	"github.com/nugget/linebot-mcp/internal/line"
)

type fakeSource struct {
	limit, usage *int64
	quotaErr     error
	usageErr     error
	calls        int
}

func (f *fakeSource) Quota(context.Context) (*line.Quota, error) {
	f.calls++
	if f.quotaErr != nil {
		return nil, f.quotaErr
	}
	return &line.Quota{Type: "limited", Value: f.limit}, nil
}

func (f *fakeSource) QuotaConsumption(context.Context) (*line.QuotaConsumption, error) {
	if f.usageErr != nil {
		return nil, f.usageErr
	}
	return &line.QuotaConsumption{TotalUsage: f.usage}, nil
}

func ptr(v int64) *int64 { return &v }

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newGuard(src Source, clock *fakeClock) *Guard {
	return NewGuard(src, NewMemoryCache(DefaultTTL, clock.Now), nil).WithClock(clock.Now)
}

func TestCheck_BlocksWhenExhausted(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1000, 0)}
	g := newGuard(&fakeSource{limit: ptr(500), usage: ptr(500)}, clock)

	err := g.Check(context.Background())
	if !errorsx.HasReason(err, errorsx.ReasonQuotaExceeded) {
		t.Fatalf("Check = %v, want quota_exceeded", err)
	}
	if err.Error() != "LINE message quota exceeded (used 500/500). Skipped push." {
		t.Errorf("message = %q", err.Error())
	}
}

func TestCheck_AllowsWithRemaining(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1000, 0)}
	if err := newGuard(&fakeSource{limit: ptr(500), usage: ptr(499)}, clock).Check(context.Background()); err != nil {
		t.Fatalf("Check = %v", err)
	}
}

func TestCheck_UsageUnknownAllows(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1000, 0)}
	src := &fakeSource{limit: ptr(500), usageErr: errors.New("boom")}
	if err := newGuard(src, clock).Check(context.Background()); err != nil {
		t.Fatalf("Check = %v", err)
	}
}

func TestCheck_RefreshFailureAllows(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1000, 0)}
	src := &fakeSource{quotaErr: errors.New("down")}
	if err := newGuard(src, clock).Check(context.Background()); err != nil {
		t.Fatalf("Check = %v", err)
	}
}

func TestCheck_CachesWithinTTL(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1000, 0)}
	src := &fakeSource{limit: ptr(500), usage: ptr(100)}
	g := newGuard(src, clock)
	ctx := context.Background()

	g.Check(ctx)
	clock.Advance(29 * time.Second)
	src.usage = ptr(500)
	if err := g.Check(ctx); err != nil {
		t.Fatalf("cached snapshot should still allow: %v", err)
	}
	if src.calls != 1 {
		t.Errorf("quota calls = %d, want 1", src.calls)
	}

	clock.Advance(time.Second)
	if err := g.Check(ctx); err == nil {
		t.Fatal("expired snapshot should refresh and block")
	}
	if src.calls != 2 {
		t.Errorf("quota calls = %d, want 2", src.calls)
	}
}

func TestExceededError_UnknownValues(t *testing.T) {
	err := ExceededError(Snapshot{Remaining: ptr(0)})
	if err.Error() != "LINE message quota exceeded (used ?/?). Skipped push." {
		t.Errorf("message = %q", err.Error())
	}
}

func TestMemoryCache_Stale(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1000, 0)}
	c := NewMemoryCache(time.Second, clock.Now)
	if _, ok := c.Stale(); ok {
		t.Fatal("empty cache should have no stale value")
	}
	c.Set(context.Background(), Snapshot{Limited: ptr(5), FetchedAt: clock.Now()})
	clock.Advance(time.Hour)
	if _, ok := c.Get(context.Background()); ok {
		t.Error("Get should miss after TTL")
	}
	if s, ok := c.Stale(); !ok || *s.Limited != 5 {
		t.Error("Stale should return last snapshot")
	}
}

func TestRedisCache_UnreachableIsMiss(t *testing.T) {
	c, err := NewRedisCache("redis://127.0.0.1:1/0", time.Second, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	c.Set(ctx, Snapshot{Limited: ptr(1)})
	if _, ok := c.Get(ctx); ok {
		t.Error("unreachable redis should miss")
	}
}

func TestNewRedisCache_BadURL(t *testing.T) {
	if _, err := NewRedisCache("http://nope", time.Second, nil); err == nil {
		t.Error("non-redis URL should fail")
	}
}
