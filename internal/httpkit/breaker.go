package httpkit

import (
	"errors"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"
)

// Breaker defaults: open after 5 consecutive failures, stay open for
// 30s, then let one request probe recovery.
const (
	BreakerFailures = 5
	BreakerTimeout  = 30 * time.Second
)

// NewBreaker returns a circuit breaker for an upstream API. isSuccessful
// decides which errors count against the breaker; nil counts every error.
func NewBreaker(name string, logger *slog.Logger, isSuccessful func(error) bool) *gobreaker.CircuitBreaker {
	if logger == nil {
		logger = slog.Default()
	}
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= BreakerFailures
		},
		IsSuccessful: isSuccessful,
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change", "breaker", name, "from", from.String(), "to", to.String())
		},
	})
}

// IsBreakerOpen reports whether err came from a breaker refusing the call.
func IsBreakerOpen(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}
