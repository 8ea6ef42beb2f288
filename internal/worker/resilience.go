package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/aristath/phasegate/internal/logging"
)

// BreakerRegistry keeps one circuit breaker per worker provider, so a CLI
// that keeps failing stops being dispatched to.
type BreakerRegistry struct {
	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
	logger   *zap.Logger
}

// NewBreakerRegistry creates an empty registry.
func NewBreakerRegistry(logger *zap.Logger) *BreakerRegistry {
	return &BreakerRegistry{
		breakers: make(map[string]*gobreaker.CircuitBreaker),
		logger:   logging.OrNop(logger),
	}
}

// Get returns the breaker for key, creating it on first use.
func (r *BreakerRegistry) Get(key string) *gobreaker.CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cb, ok := r.breakers[key]; ok {
		return cb
	}

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        key,
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			r.logger.Warn("worker circuit breaker changed state",
				zap.String("provider", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
		// Operator cancellation is not a provider failure.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
	})
	r.breakers[key] = cb
	return cb
}

func isBreakerOpen(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}
