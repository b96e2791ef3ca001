package orchestrator

import (
	"math"
	"math/rand/v2"
	"net/http"
	"time"

	"github.com/lamim/synthforge/internal/backend"
	"github.com/lamim/synthforge/internal/config"
)

const (
	// DefaultBaseRetryDelay is the base delay for exponential backoff
	DefaultBaseRetryDelay = 2 * time.Second
	// DefaultMaxRetryDelay caps a single backoff
	DefaultMaxRetryDelay = 120 * time.Second
	// RateLimitBackoffMultiplier is the growth factor after a 429 (3^n)
	RateLimitBackoffMultiplier = 3
	retryJitter                = 0.1
)

// RetryPolicy bounds the retries of one request
type RetryPolicy struct {
	MaxRetries          int // retries after the first attempt
	BaseDelay           time.Duration
	MaxDelay            time.Duration
	RateLimitMultiplier float64
	// Seed makes jitter reproducible; each request derives its own stream
	Seed uint64
}

// PolicyFromConfig converts the [retry] section
func PolicyFromConfig(cfg config.RetryConfig) RetryPolicy {
	p := RetryPolicy{
		MaxRetries:          max(cfg.MaxRetries, 0),
		BaseDelay:           time.Duration(cfg.BaseDelayMillis) * time.Millisecond,
		MaxDelay:            time.Duration(cfg.MaxDelaySeconds) * time.Second,
		RateLimitMultiplier: cfg.RateLimitMultiplier,
	}
	return p.withDefaults()
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.BaseDelay <= 0 {
		p.BaseDelay = DefaultBaseRetryDelay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = DefaultMaxRetryDelay
	}
	if p.RateLimitMultiplier < 1 {
		p.RateLimitMultiplier = RateLimitBackoffMultiplier
	}
	if p.MaxRetries < 0 {
		p.MaxRetries = 0
	}
	return p
}

// Retrier is the retry state machine of a single request. It is not safe
// for concurrent use.
type Retrier struct {
	policy  RetryPolicy
	rng     *rand.Rand
	Attempt int // retries granted so far
}

// NewRetrier creates a retrier whose jitter comes from the policy seed and
// stream, so a request identified by stream always backs off the same way
func NewRetrier(policy RetryPolicy, stream uint64) *Retrier {
	return &Retrier{
		policy: policy.withDefaults(),
		rng:    rand.New(rand.NewPCG(policy.Seed, stream)),
	}
}

// Next decides whether a failed attempt is retried and after how long.
// Only transient failures are retried. status is the HTTP status of the
// failure, if any; retryAfter is the server's hint.
func (r *Retrier) Next(class backend.Class, status int, retryAfter time.Duration) (time.Duration, bool) {
	if class != backend.ClassTransient || r.Attempt >= r.policy.MaxRetries {
		return 0, false
	}
	r.Attempt++

	// 2^(n-1) x base normally; 3^n x base after a 429
	backoff := float64(r.policy.BaseDelay) * math.Pow(2, float64(r.Attempt-1))
	if status == http.StatusTooManyRequests {
		backoff = float64(r.policy.BaseDelay) * math.Pow(r.policy.RateLimitMultiplier, float64(r.Attempt))
	}
	backoff *= 1 + retryJitter*(2*r.rng.Float64()-1)
	backoff = min(backoff, float64(r.policy.MaxDelay))

	delay := time.Duration(backoff)
	if hint := min(retryAfter, r.policy.MaxDelay); hint > delay {
		delay = hint
	}
	return delay, true
}

// Remaining is the number of retries still available
func (r *Retrier) Remaining() int {
	return r.policy.MaxRetries - r.Attempt
}
