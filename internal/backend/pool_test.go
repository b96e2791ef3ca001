package backend

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/lamim/synthforge/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

// stubBackend answers from a function and tracks peak concurrency
type stubBackend struct {
	name     string
	submit   func(ctx context.Context, req *Request) (*Response, error)
	calls    atomic.Int32
	inflight atomic.Int32
	peak     atomic.Int32
}

func (s *stubBackend) Name() string                   { return s.name }
func (s *stubBackend) Kind() Kind                     { return KindLocal }
func (s *stubBackend) Capabilities() Capabilities     { return Capabilities{MaxConcurrency: 1} }
func (s *stubBackend) Ping(ctx context.Context) error { return nil }

func (s *stubBackend) Submit(ctx context.Context, req *Request) (*Response, error) {
	s.calls.Add(1)
	n := s.inflight.Add(1)
	defer s.inflight.Add(-1)
	for {
		p := s.peak.Load()
		if n <= p || s.peak.CompareAndSwap(p, n) {
			break
		}
	}
	return s.submit(ctx, req)
}

type recordingObserver struct {
	mu       sync.Mutex
	classes  []string
	circuits []int
}

func (o *recordingObserver) ObserveRequest(_ string, class string, _ int, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.classes = append(o.classes, class)
}

func (o *recordingObserver) SetCircuitState(_ string, state int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.circuits = append(o.circuits, state)
}

func TestGuarded_CeilingSharedAcrossCallers(t *testing.T) {
	stub := &stubBackend{name: "slow", submit: func(ctx context.Context, req *Request) (*Response, error) {
		time.Sleep(10 * time.Millisecond)
		return &Response{Text: "ok"}, nil
	}}

	pool := NewPool(testLogger())
	g, err := pool.Add(stub, config.BackendConfig{MaxConcurrency: 3, RateLimitPerMinute: 60000})
	require.NoError(t, err)
	assert.Equal(t, 3, g.Ceiling())
	assert.Equal(t, 3, g.Capabilities().MaxConcurrency)

	// Two "jobs" each wanting 8 in flight
	var eg errgroup.Group
	for job := 0; job < 2; job++ {
		for i := 0; i < 8; i++ {
			eg.Go(func() error {
				_, err := g.Submit(context.Background(), &Request{Prompt: "p"})
				return err
			})
		}
	}
	require.NoError(t, eg.Wait())

	assert.Equal(t, int32(16), stub.calls.Load())
	assert.LessOrEqual(t, stub.peak.Load(), int32(3))
}

func TestGuarded_OpenCircuitSkipsBackend(t *testing.T) {
	clock := newFakeClock()
	obs := &recordingObserver{}

	fail := true
	stub := &stubBackend{name: "flaky", submit: func(ctx context.Context, req *Request) (*Response, error) {
		if fail {
			return nil, &Failure{Class: ClassUnavailable, StatusCode: 503, Backend: "flaky", Message: "down"}
		}
		return &Response{Text: "ok"}, nil
	}}

	pool := NewPool(testLogger(), WithClock(clock.Now), WithObserver(obs))
	g, err := pool.Add(stub, config.BackendConfig{MaxConcurrency: 2, CooldownSeconds: 5})
	require.NoError(t, err)

	_, err = g.Submit(context.Background(), &Request{})
	require.Error(t, err)
	assert.Equal(t, ClassUnavailable, Classify(err))
	assert.Equal(t, int32(1), stub.calls.Load())

	// Circuit is open: no call goes out
	_, err = g.Submit(context.Background(), &Request{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrCircuitOpen))
	assert.Equal(t, ClassUnavailable, Classify(err))
	assert.Equal(t, int32(1), stub.calls.Load())

	// After the cooldown a probe goes through and closes the circuit
	fail = false
	clock.Advance(5 * time.Second)
	resp, err := g.Submit(context.Background(), &Request{})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Text)
	assert.Equal(t, BreakerClosed, g.Breaker().State())

	obs.mu.Lock()
	defer obs.mu.Unlock()
	assert.Equal(t, []string{"unavailable", "ok"}, obs.classes)
	assert.Equal(t, []int{int(BreakerOpen), int(BreakerHalfOpen), int(BreakerClosed)}, obs.circuits)
}

func TestGuarded_CancelledProbeIsReleased(t *testing.T) {
	clock := newFakeClock()
	stub := &stubBackend{name: "b", submit: func(ctx context.Context, req *Request) (*Response, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}}

	pool := NewPool(testLogger(), WithClock(clock.Now))
	g, err := pool.Add(stub, config.BackendConfig{MaxConcurrency: 1, CooldownSeconds: 1})
	require.NoError(t, err)

	g.Breaker().Record(ClassUnavailable, true)
	clock.Advance(time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = g.Submit(ctx, &Request{})
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	probe, err := g.Breaker().Allow()
	require.NoError(t, err)
	assert.True(t, probe)
}

func TestPool_GetAndNames(t *testing.T) {
	pool := NewPool(testLogger())
	_, err := pool.Add(&stubBackend{name: "b"}, config.BackendConfig{})
	require.NoError(t, err)
	_, err = pool.Add(&stubBackend{name: "a"}, config.BackendConfig{})
	require.NoError(t, err)

	_, err = pool.Add(&stubBackend{name: "a"}, config.BackendConfig{})
	assert.True(t, errors.Is(err, ErrBackendRegistered))

	assert.Equal(t, []string{"a", "b"}, pool.Names())

	g, err := pool.Get("a")
	require.NoError(t, err)
	assert.Equal(t, 1, g.Ceiling(), "falls back to the adapter's advertised ceiling")

	_, err = pool.Get("missing")
	assert.True(t, errors.Is(err, ErrBackendNotFound))
}

func TestPool_BuildAll(t *testing.T) {
	pool := NewPool(testLogger())
	backends := map[string]config.BackendConfig{
		"hosted": {Kind: "hosted", BaseURL: "https://api.example.com/v1", ModelName: "m", MaxConcurrency: 4},
		"local":  {Kind: "local", BaseURL: "http://localhost:8000/v1", ModelName: "m", MaxConcurrency: 2},
	}
	require.NoError(t, pool.BuildAll(DefaultRegistry(), backends, config.LoadSecrets(backends)))

	g, err := pool.Get("local")
	require.NoError(t, err)
	assert.Equal(t, KindLocal, g.Kind())
	assert.Equal(t, 2, g.Ceiling())

	g, err = pool.Get("hosted")
	require.NoError(t, err)
	assert.Equal(t, KindHosted, g.Kind())
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	assert.Empty(t, r.Kinds())

	factory := func(name string, cfg config.BackendConfig, apiKey string, _ *slog.Logger) (Backend, error) {
		return &stubBackend{name: name + ":" + apiKey}, nil
	}
	require.NoError(t, r.Register("Stub", factory))
	assert.True(t, errors.Is(r.Register("stub", factory), ErrKindRegistered))
	assert.Equal(t, []Kind{"stub"}, r.Kinds())

	t.Setenv("STUB_KEY", "k1")
	cfg := config.BackendConfig{Kind: "stub", BaseURL: "http://x", APIKeyEnv: "STUB_KEY"}
	secrets := config.LoadSecrets(map[string]config.BackendConfig{"mine": cfg})
	b, err := r.Build("mine", cfg, secrets, testLogger())
	require.NoError(t, err)
	assert.Equal(t, "mine:k1", b.Name())

	_, err = r.Build("other", config.BackendConfig{Kind: "grpc"}, nil, testLogger())
	assert.True(t, errors.Is(err, ErrUnknownKind))

	assert.Equal(t, []Kind{KindHosted, KindLocal}, DefaultRegistry().Kinds())
}

func TestRateLimiterPool_Shared(t *testing.T) {
	p := NewRateLimiterPool(testLogger())
	a := p.GetOrCreate("main", 60)
	b := p.GetOrCreate("main", 120)
	assert.Same(t, a, b)
	assert.Equal(t, 12, a.Burst())

	c := p.GetOrCreate("other", 600)
	assert.NotSame(t, a, c)
	assert.Equal(t, 120, c.Burst())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Error(t, p.Wait(ctx, "main", 60))
}
