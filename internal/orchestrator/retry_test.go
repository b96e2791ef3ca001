package orchestrator

import (
	"net/http"
	"testing"
	"time"

	"github.com/lamim/synthforge/internal/backend"
	"github.com/lamim/synthforge/internal/config"
	"github.com/stretchr/testify/assert"
)

func testPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:          3,
		BaseDelay:           time.Second,
		MaxDelay:            20 * time.Second,
		RateLimitMultiplier: 3,
		Seed:                42,
	}
}

func assertAround(t *testing.T, want, got time.Duration) {
	t.Helper()
	lo := time.Duration(float64(want) * 0.9)
	hi := time.Duration(float64(want) * 1.1)
	assert.True(t, got >= lo && got <= hi, "delay %s not within 10%% of %s", got, want)
}

func TestRetrier_ExponentialBackoff(t *testing.T) {
	r := NewRetrier(testPolicy(), 1)

	for _, want := range []time.Duration{time.Second, 2 * time.Second, 4 * time.Second} {
		delay, ok := r.Next(backend.ClassTransient, http.StatusBadGateway, 0)
		assert.True(t, ok)
		assertAround(t, want, delay)
	}

	_, ok := r.Next(backend.ClassTransient, http.StatusBadGateway, 0)
	assert.False(t, ok, "retries should be exhausted")
	assert.Equal(t, 3, r.Attempt)
	assert.Zero(t, r.Remaining())
}

func TestRetrier_RateLimitBackoff(t *testing.T) {
	r := NewRetrier(testPolicy(), 1)

	delay, ok := r.Next(backend.ClassTransient, http.StatusTooManyRequests, 0)
	assert.True(t, ok)
	assertAround(t, 3*time.Second, delay)

	delay, ok = r.Next(backend.ClassTransient, http.StatusTooManyRequests, 0)
	assert.True(t, ok)
	assertAround(t, 9*time.Second, delay)

	// 27s is capped
	delay, ok = r.Next(backend.ClassTransient, http.StatusTooManyRequests, 0)
	assert.True(t, ok)
	assert.Equal(t, 20*time.Second, delay)
}

func TestRetrier_RetryAfterHint(t *testing.T) {
	r := NewRetrier(testPolicy(), 1)
	delay, ok := r.Next(backend.ClassTransient, http.StatusTooManyRequests, 15*time.Second)
	assert.True(t, ok)
	assert.Equal(t, 15*time.Second, delay)

	// Hints beyond the cap are clamped
	r = NewRetrier(testPolicy(), 1)
	delay, _ = r.Next(backend.ClassTransient, http.StatusTooManyRequests, time.Hour)
	assert.Equal(t, 20*time.Second, delay)
}

func TestRetrier_NonTransientNotRetried(t *testing.T) {
	r := NewRetrier(testPolicy(), 1)
	for _, class := range []backend.Class{backend.ClassRejected, backend.ClassUnavailable} {
		_, ok := r.Next(class, 0, 0)
		assert.False(t, ok, "class %s", class)
	}
	assert.Zero(t, r.Attempt)
}

func TestRetrier_DeterministicJitter(t *testing.T) {
	a := NewRetrier(testPolicy(), 7)
	b := NewRetrier(testPolicy(), 7)
	for i := 0; i < 3; i++ {
		da, _ := a.Next(backend.ClassTransient, 500, 0)
		db, _ := b.Next(backend.ClassTransient, 500, 0)
		assert.Equal(t, da, db)
	}
}

func TestPolicyFromConfig(t *testing.T) {
	p := PolicyFromConfig(config.RetryConfig{MaxRetries: 4, BaseDelayMillis: 500, MaxDelaySeconds: 60, RateLimitMultiplier: 2})
	assert.Equal(t, 4, p.MaxRetries)
	assert.Equal(t, 500*time.Millisecond, p.BaseDelay)
	assert.Equal(t, time.Minute, p.MaxDelay)
	assert.InDelta(t, 2.0, p.RateLimitMultiplier, 1e-9)

	p = PolicyFromConfig(config.RetryConfig{MaxRetries: -1})
	assert.Zero(t, p.MaxRetries)
	assert.Equal(t, DefaultBaseRetryDelay, p.BaseDelay)
	assert.Equal(t, DefaultMaxRetryDelay, p.MaxDelay)
	assert.InDelta(t, float64(RateLimitBackoffMultiplier), p.RateLimitMultiplier, 1e-9)
}
