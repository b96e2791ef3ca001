package backend

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifyStatus(t *testing.T) {
	tests := []struct {
		status int
		want   Class
	}{
		{http.StatusRequestTimeout, ClassTransient},
		{http.StatusTooEarly, ClassTransient},
		{http.StatusTooManyRequests, ClassTransient},
		{http.StatusInternalServerError, ClassTransient},
		{http.StatusBadGateway, ClassTransient},
		{http.StatusGatewayTimeout, ClassTransient},
		{http.StatusServiceUnavailable, ClassUnavailable},
		{http.StatusBadRequest, ClassRejected},
		{http.StatusUnauthorized, ClassRejected},
		{http.StatusNotFound, ClassRejected},
		{http.StatusUnprocessableEntity, ClassRejected},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ClassifyStatus(tt.status), "status %d", tt.status)
	}
}

func TestClassify(t *testing.T) {
	f := &Failure{Class: ClassRejected, Backend: "b", Message: "bad"}
	assert.Equal(t, ClassRejected, Classify(f))
	assert.Equal(t, ClassRejected, Classify(errors.Wrap(f, "wrapped")))
	assert.Equal(t, ClassUnavailable, Classify(ErrCircuitOpen))
	assert.Equal(t, ClassTransient, Classify(context.DeadlineExceeded))
}

func TestClassify_ConnectionRefused(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	_, err := http.Get(url)
	require.Error(t, err)
	assert.Equal(t, ClassUnavailable, classifyTransport(err))
}

func TestFailure_ErrorAndUnwrap(t *testing.T) {
	f := &Failure{Class: ClassUnavailable, Backend: "main", Message: "circuit open", Err: ErrCircuitOpen}
	assert.Contains(t, f.Error(), "backend main")
	assert.Contains(t, f.Error(), "unavailable")
	assert.True(t, errors.Is(f, ErrCircuitOpen))

	f = &Failure{Class: ClassTransient, Backend: "main", StatusCode: 429, Message: "slow down"}
	assert.Contains(t, f.Error(), "status 429")
}

func TestParseRetryAfter(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	h := http.Header{}
	assert.Zero(t, parseRetryAfter(h, now))

	h.Set("Retry-After", "7")
	assert.Equal(t, 7*time.Second, parseRetryAfter(h, now))

	h.Set("Retry-After", now.Add(90*time.Second).Format(http.TimeFormat))
	assert.Equal(t, 90*time.Second, parseRetryAfter(h, now))

	h.Set("Retry-After", "soon")
	assert.Zero(t, parseRetryAfter(h, now))

	assert.Zero(t, parseRetryAfter(nil, now))
}

func TestRetryAfterOf(t *testing.T) {
	err := errors.Wrap(&Failure{Class: ClassTransient, RetryAfter: 3 * time.Second}, "ctx")
	assert.Equal(t, 3*time.Second, RetryAfterOf(err))
	assert.Zero(t, RetryAfterOf(errors.New("plain")))
}

func TestEffectiveConcurrency(t *testing.T) {
	assert.Equal(t, 4, EffectiveConcurrency(8, 4))
	assert.Equal(t, 2, EffectiveConcurrency(2, 4))
	assert.Equal(t, 8, EffectiveConcurrency(8, 0))
	assert.Equal(t, 4, EffectiveConcurrency(0, 4))
	assert.Equal(t, 1, EffectiveConcurrency(0, 0))
}
