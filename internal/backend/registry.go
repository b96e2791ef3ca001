package backend

import (
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/lamim/synthforge/internal/config"
)

var (
	ErrUnknownKind       = errors.New("unknown backend kind")
	ErrKindRegistered    = errors.New("backend kind already registered")
	ErrBackendNotFound   = errors.New("backend not found")
	ErrBackendRegistered = errors.New("backend already registered")
)

// Factory builds an adapter from its configuration
type Factory func(name string, cfg config.BackendConfig, apiKey string, logger *slog.Logger) (Backend, error)

// Registry maps backend kinds to factories
type Registry struct {
	mu        sync.RWMutex
	factories map[Kind]Factory
}

// NewRegistry returns an empty registry
func NewRegistry() *Registry {
	return &Registry{factories: make(map[Kind]Factory)}
}

// DefaultRegistry returns a registry with the hosted and local adapters
func DefaultRegistry() *Registry {
	r := NewRegistry()
	_ = r.Register(KindHosted, func(name string, cfg config.BackendConfig, apiKey string, logger *slog.Logger) (Backend, error) {
		return NewHosted(name, cfg, apiKey, logger), nil
	})
	_ = r.Register(KindLocal, func(name string, cfg config.BackendConfig, apiKey string, logger *slog.Logger) (Backend, error) {
		return NewLocal(name, cfg, apiKey, logger), nil
	})
	return r
}

// Register adds a factory for kind
func (r *Registry) Register(kind Kind, f Factory) error {
	key := Kind(strings.ToLower(strings.TrimSpace(string(kind))))
	if key == "" || f == nil {
		return errors.New("backend kind and factory are required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.factories[key]; exists {
		return errors.WithDetailf(ErrKindRegistered, "kind: %s", key)
	}
	r.factories[key] = f
	return nil
}

// Build creates the adapter for a named backend configuration
func (r *Registry) Build(name string, cfg config.BackendConfig, secrets *config.Secrets, logger *slog.Logger) (Backend, error) {
	kind := Kind(strings.ToLower(cfg.Kind))

	r.mu.RLock()
	f, ok := r.factories[kind]
	r.mu.RUnlock()
	if !ok {
		return nil, errors.Wrapf(ErrUnknownKind, "backend %q has kind %q", name, cfg.Kind)
	}

	var apiKey string
	if secrets != nil {
		apiKey = secrets.GetAPIKey(name, cfg)
	}
	b, err := f(name, cfg, apiKey, logger)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to build backend %q", name)
	}
	return b, nil
}

// Kinds returns the registered kinds in sorted order
func (r *Registry) Kinds() []Kind {
	r.mu.RLock()
	defer r.mu.RUnlock()

	kinds := make([]Kind, 0, len(r.factories))
	for k := range r.factories {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}
