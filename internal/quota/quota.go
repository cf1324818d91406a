// Package quota guards outbound pushes against the LINE monthly message
// quota. Snapshots of limit and usage are cached for a short TTL so a
// burst of pushes costs at most one pair of quota API calls.
package quota

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nugget/linebot-mcp/internal/errorsx"
	"github.com/nugget/linebot-mcp/internal/line"
)

// DefaultTTL is how long a snapshot is trusted.
const DefaultTTL = 30 * time.Second

// Snapshot is the quota state at FetchedAt. Nil fields are unknown.
type Snapshot struct {
	Limited    *int64    `json:"limited,omitempty"`
	TotalUsage *int64    `json:"totalUsage,omitempty"`
	Remaining  *int64    `json:"remaining,omitempty"`
	FetchedAt  time.Time `json:"fetchedAt"`
}

// Exhausted reports whether remaining is known and not positive.
func (s Snapshot) Exhausted() bool {
	return s.Remaining != nil && *s.Remaining <= 0
}

// Source is the subset of the LINE client the guard needs.
type Source interface {
	Quota(ctx context.Context) (*line.Quota, error)
	QuotaConsumption(ctx context.Context) (*line.QuotaConsumption, error)
}

// Cache stores the latest snapshot. Implementations replace the whole
// snapshot on Set; readers never see a partially updated value.
type Cache interface {
	Get(ctx context.Context) (Snapshot, bool)
	Set(ctx context.Context, s Snapshot)
}

// Guard checks the quota before pushes.
type Guard struct {
	source Source
	cache  Cache
	now    func() time.Time
	logger *slog.Logger
}

// NewGuard creates a Guard. A nil cache gets an in-memory cache with
// DefaultTTL.
func NewGuard(source Source, cache Cache, logger *slog.Logger) *Guard {
	if logger == nil {
		logger = slog.Default()
	}
	if cache == nil {
		cache = NewMemoryCache(DefaultTTL, nil)
	}
	return &Guard{source: source, cache: cache, now: time.Now, logger: logger.With("component", "quota")}
}

// WithClock overrides the clock used to stamp snapshots.
func (g *Guard) WithClock(now func() time.Time) *Guard {
	g.now = now
	return g
}

// Fetch reads limit and usage from LINE. A consumption failure leaves
// usage unknown rather than failing the fetch.
func (g *Guard) Fetch(ctx context.Context) (Snapshot, error) {
	q, err := g.source.Quota(ctx)
	if err != nil {
		return Snapshot{}, fmt.Errorf("get message quota: %w", err)
	}
	snap := Snapshot{Limited: q.Value, FetchedAt: g.now()}
	if c, err := g.source.QuotaConsumption(ctx); err != nil {
		g.logger.Debug("quota consumption unavailable", "error", err)
	} else {
		snap.TotalUsage = c.TotalUsage
	}
	if snap.Limited != nil && snap.TotalUsage != nil {
		r := max(0, *snap.Limited-*snap.TotalUsage)
		snap.Remaining = &r
	}
	return snap, nil
}

// Current returns the cached snapshot, refreshing it when stale.
// ok is false when no snapshot could be obtained.
func (g *Guard) Current(ctx context.Context) (Snapshot, bool) {
	if snap, ok := g.cache.Get(ctx); ok {
		return snap, true
	}
	snap, err := g.Fetch(ctx)
	if err != nil {
		g.logger.Warn("quota refresh failed, allowing push", "error", err)
		return Snapshot{}, false
	}
	g.cache.Set(ctx, snap)
	return snap, true
}

// Check returns a quota_exceeded error when the quota is known to be
// used up. Unknown quota never blocks.
func (g *Guard) Check(ctx context.Context) error {
	snap, ok := g.Current(ctx)
	if !ok || !snap.Exhausted() {
		return nil
	}
	return ExceededError(snap)
}

// ExceededError formats the skipped-push error for snap.
func ExceededError(snap Snapshot) error {
	return errorsx.New(errorsx.ReasonQuotaExceeded, fmt.Sprintf(
		"LINE message quota exceeded (used %s/%s). Skipped push.", orUnknown(snap.TotalUsage), orUnknown(snap.Limited)))
}

// RateLimitedError is returned when LINE itself rejects a push with 429.
func RateLimitedError() error {
	return errorsx.New(errorsx.ReasonQuotaExceeded, "LINE message quota exceeded (429). Skipped push.")
}

func orUnknown(v *int64) string {
	if v == nil {
		return "?"
	}
	return fmt.Sprint(*v)
}
