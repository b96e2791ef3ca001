package backend

import (
	"context"
	"log/slog"
	"sync"

	"github.com/cockroachdb/errors"
	"golang.org/x/time/rate"
)

// RateLimiterPool hands out one limiter per backend name so every job
// sharing a backend draws from the same budget.
type RateLimiterPool struct {
	limiters map[string]*rate.Limiter
	rates    map[string]int
	mu       sync.Mutex
	logger   *slog.Logger
}

// NewRateLimiterPool creates an empty pool
func NewRateLimiterPool(logger *slog.Logger) *RateLimiterPool {
	return &RateLimiterPool{
		limiters: make(map[string]*rate.Limiter),
		rates:    make(map[string]int),
		logger:   logger,
	}
}

// GetOrCreate returns the limiter for key. A later call with a different
// rate keeps the original limiter and logs a warning.
func (p *RateLimiterPool) GetOrCreate(key string, requestsPerMinute int) *rate.Limiter {
	p.mu.Lock()
	defer p.mu.Unlock()

	if limiter, exists := p.limiters[key]; exists {
		if existing := p.rates[key]; existing != requestsPerMinute {
			p.logger.Warn("Rate limiter already exists with different rate, using existing rate",
				"backend", key,
				"existing_rpm", existing,
				"requested_rpm", requestsPerMinute)
		}
		return limiter
	}

	rps := float64(requestsPerMinute) / 60.0
	burst := max(5, requestsPerMinute/5)
	limiter := rate.NewLimiter(rate.Limit(rps), burst)
	p.limiters[key] = limiter
	p.rates[key] = requestsPerMinute

	p.logger.Debug("Created rate limiter", "backend", key, "rpm", requestsPerMinute, "burst", burst)
	return limiter
}

// Wait blocks until the limiter for key allows the next request
func (p *RateLimiterPool) Wait(ctx context.Context, key string, requestsPerMinute int) error {
	if err := p.GetOrCreate(key, requestsPerMinute).Wait(ctx); err != nil {
		return errors.Wrap(err, "rate limiter wait failed")
	}
	return nil
}
