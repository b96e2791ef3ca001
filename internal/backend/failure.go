package backend

import (
	"fmt"
	"net"
	"net/http"
	"strconv"
	"syscall"
	"time"

	"github.com/cockroachdb/errors"
)

// Class buckets a failure by what the caller should do about it
type Class string

const (
	// ClassTransient failures are worth retrying with backoff
	ClassTransient Class = "transient"
	// ClassRejected failures will fail again for the same input
	ClassRejected Class = "rejected"
	// ClassUnavailable failures mean the backend is down; wait for it
	ClassUnavailable Class = "unavailable"
)

var (
	// ErrCircuitOpen is returned without calling out while the breaker is open
	ErrCircuitOpen = errors.New("circuit breaker open")
	// ErrEmptyResponse is returned when the server answered with no choices
	ErrEmptyResponse = errors.New("no choices returned in response")
)

// Failure is a classified backend error
type Failure struct {
	Class      Class
	StatusCode int
	Message    string
	Backend    string
	RetryAfter time.Duration
	Err        error
}

func (f *Failure) Error() string {
	if f.StatusCode > 0 {
		return fmt.Sprintf("backend %s: %s failure (status %d): %s", f.Backend, f.Class, f.StatusCode, f.Message)
	}
	return fmt.Sprintf("backend %s: %s failure: %s", f.Backend, f.Class, f.Message)
}

func (f *Failure) Unwrap() error { return f.Err }

// Classify returns the failure class of any error produced by Submit
func Classify(err error) Class {
	var f *Failure
	if errors.As(err, &f) {
		return f.Class
	}
	if errors.Is(err, ErrCircuitOpen) {
		return ClassUnavailable
	}
	return classifyTransport(err)
}

// RetryAfterOf returns the server-provided retry hint, if any
func RetryAfterOf(err error) time.Duration {
	var f *Failure
	if errors.As(err, &f) {
		return f.RetryAfter
	}
	return 0
}

// ClassifyStatus maps an HTTP status code to a failure class
func ClassifyStatus(status int) Class {
	switch status {
	case http.StatusRequestTimeout, http.StatusTooEarly, http.StatusTooManyRequests,
		http.StatusInternalServerError, http.StatusBadGateway, http.StatusGatewayTimeout:
		return ClassTransient
	case http.StatusServiceUnavailable:
		return ClassUnavailable
	}
	if status >= 500 {
		return ClassTransient
	}
	return ClassRejected
}

// classifyTransport looks at errors that happened before any HTTP status
// was received. Refused connections and failed lookups mean nobody is
// listening; resets, timeouts and truncated bodies are worth another try.
func classifyTransport(err error) Class {
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.EHOSTUNREACH) || errors.Is(err, syscall.ENETUNREACH) {
		return ClassUnavailable
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) && !dnsErr.IsTimeout && !dnsErr.IsTemporary {
		return ClassUnavailable
	}
	return ClassTransient
}

// transportFailure wraps an error from http.Client.Do or the SDK
func transportFailure(backendName string, err error) *Failure {
	return &Failure{
		Class:   classifyTransport(err),
		Message: err.Error(),
		Backend: backendName,
		Err:     err,
	}
}

// statusFailure builds a failure from a non-200 HTTP response
func statusFailure(backendName string, status int, message string, header http.Header) *Failure {
	return &Failure{
		Class:      ClassifyStatus(status),
		StatusCode: status,
		Message:    message,
		Backend:    backendName,
		RetryAfter: parseRetryAfter(header, time.Now()),
	}
}

// parseRetryAfter understands both delta-seconds and HTTP-date forms
func parseRetryAfter(header http.Header, now time.Time) time.Duration {
	if header == nil {
		return 0
	}
	v := header.Get("Retry-After")
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil && at.After(now) {
		return at.Sub(now)
	}
	return 0
}
