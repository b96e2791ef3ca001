package backend

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/lamim/synthforge/internal/config"
	"golang.org/x/sync/semaphore"
)

// Observer receives per-request telemetry from guarded backends
type Observer interface {
	ObserveRequest(backend string, class string, status int, d time.Duration)
	SetCircuitState(backend string, state int)
}

type nopObserver struct{}

func (nopObserver) ObserveRequest(string, string, int, time.Duration) {}
func (nopObserver) SetCircuitState(string, int)                     {}

// Pool holds one guarded backend per configured name. It is shared by every
// job in the process so the concurrency ceiling and rate limit are global.
type Pool struct {
	mu       sync.RWMutex
	backends map[string]*Guarded
	limiters *RateLimiterPool
	observer Observer
	clock    func() time.Time
	logger   *slog.Logger
}

// PoolOption customises a Pool
type PoolOption func(*Pool)

// WithObserver attaches a telemetry sink
func WithObserver(o Observer) PoolOption {
	return func(p *Pool) {
		if o != nil {
			p.observer = o
		}
	}
}

// WithClock sets the clock used by circuit breakers
func WithClock(clock func() time.Time) PoolOption {
	return func(p *Pool) { p.clock = clock }
}

// NewPool creates an empty pool
func NewPool(logger *slog.Logger, opts ...PoolOption) *Pool {
	p := &Pool{
		backends: make(map[string]*Guarded),
		limiters: NewRateLimiterPool(logger),
		observer: nopObserver{},
		clock:    time.Now,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// BuildAll builds and adds every configured backend
func (p *Pool) BuildAll(registry *Registry, backends map[string]config.BackendConfig, secrets *config.Secrets) error {
	names := make([]string, 0, len(backends))
	for name := range backends {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		b, err := registry.Build(name, backends[name], secrets, p.logger)
		if err != nil {
			return err
		}
		if _, err := p.Add(b, backends[name]); err != nil {
			return err
		}
	}
	return nil
}

// Add wraps b with its concurrency ceiling, rate limiter and breaker
func (p *Pool) Add(b Backend, cfg config.BackendConfig) (*Guarded, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	name := b.Name()
	if _, exists := p.backends[name]; exists {
		return nil, errors.WithDetailf(ErrBackendRegistered, "backend: %s", name)
	}

	ceiling := cfg.MaxConcurrency
	if ceiling <= 0 {
		ceiling = max(b.Capabilities().MaxConcurrency, 1)
	}
	cooldown := time.Duration(cfg.CooldownSeconds) * time.Second
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}

	g := &Guarded{
		inner:    b,
		ceiling:  ceiling,
		sem:      semaphore.NewWeighted(int64(ceiling)),
		rpm:      cfg.RateLimitPerMinute,
		limiters: p.limiters,
		breaker:  NewBreaker(cooldown, p.clock),
		observer: p.observer,
		logger:   p.logger.With("backend", name),
	}
	observer := p.observer
	g.breaker.OnStateChange(func(s BreakerState) {
		observer.SetCircuitState(name, int(s))
		g.logger.Info("Circuit breaker state changed", "state", s.String())
	})
	p.backends[name] = g
	return g, nil
}

// Get returns the guarded backend for name
func (p *Pool) Get(name string) (*Guarded, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	g, ok := p.backends[name]
	if !ok {
		return nil, errors.WithDetailf(ErrBackendNotFound, "backend: %s", name)
	}
	return g, nil
}

// Names returns the configured backend names in sorted order
func (p *Pool) Names() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	names := make([]string, 0, len(p.backends))
	for name := range p.backends {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Guarded enforces the shared ceiling, rate limit and circuit breaker in
// front of an adapter. It implements Backend.
type Guarded struct {
	inner    Backend
	ceiling  int
	sem      *semaphore.Weighted
	rpm      int
	limiters *RateLimiterPool
	breaker  *Breaker
	observer Observer
	logger   *slog.Logger
}

func (g *Guarded) Name() string { return g.inner.Name() }

func (g *Guarded) Kind() Kind { return g.inner.Kind() }

func (g *Guarded) Capabilities() Capabilities {
	c := g.inner.Capabilities()
	c.MaxConcurrency = g.ceiling
	return c
}

// Ceiling is the maximum number of in-flight requests across all jobs
func (g *Guarded) Ceiling() int { return g.ceiling }

// Breaker exposes the circuit breaker so callers can wait out outages
func (g *Guarded) Breaker() *Breaker { return g.breaker }

func (g *Guarded) Ping(ctx context.Context) error {
	err := g.inner.Ping(ctx)
	if err != nil && Classify(err) == ClassUnavailable {
		g.breaker.Record(ClassUnavailable, true)
	}
	return err
}

// Submit waits for a concurrency slot and the rate limiter, then sends the
// request unless the circuit is open.
func (g *Guarded) Submit(ctx context.Context, req *Request) (*Response, error) {
	probe, err := g.breaker.Allow()
	if err != nil {
		return nil, g.circuitOpen(err)
	}
	resolved := false
	defer func() {
		if probe && !resolved {
			g.breaker.Abandon()
		}
	}()

	if err := g.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer g.sem.Release(1)

	if g.rpm > 0 {
		if err := g.limiters.Wait(ctx, g.Name(), g.rpm); err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, err
		}
	}

	start := time.Now()
	resp, err := g.inner.Submit(ctx, req)
	elapsed := time.Since(start)

	if err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		class := Classify(err)
		var status int
		var f *Failure
		if errors.As(err, &f) {
			status = f.StatusCode
		}
		g.breaker.Record(class, true)
		resolved = true
		g.observer.ObserveRequest(g.Name(), string(class), status, elapsed)
		return nil, err
	}

	g.breaker.Record("", false)
	resolved = true
	g.observer.ObserveRequest(g.Name(), "ok", 200, elapsed)
	return resp, nil
}

func (g *Guarded) circuitOpen(err error) *Failure {
	return &Failure{
		Class:   ClassUnavailable,
		Message: "circuit open, request not sent",
		Backend: g.Name(),
		Err:     err,
	}
}
