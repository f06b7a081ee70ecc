package task

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/google/uuid"
)

// Provider builds one instance of a dependency for a single execution scope.
type Provider func(ctx context.Context) (any, error)

// ScopeFactory holds the dependency providers that job scopes resolve from.
// Register providers during host setup; NewScope may then be called concurrently.
type ScopeFactory struct {
	mu        sync.RWMutex
	providers map[string]Provider
}

// NewScopeFactory creates a factory with no providers.
func NewScopeFactory() *ScopeFactory {
	return &ScopeFactory{providers: make(map[string]Provider)}
}

// Register adds or replaces the provider for key.
func (f *ScopeFactory) Register(key string, p Provider) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.providers[key] = p
}

// NewScope opens an empty scope. Instances are built lazily on Resolve.
func (f *ScopeFactory) NewScope(ctx context.Context) *Scope {
	return &Scope{
		id:        uuid.NewString(),
		ctx:       ctx,
		factory:   f,
		instances: make(map[string]any),
	}
}

func (f *ScopeFactory) provider(key string) (Provider, bool) {
	if f == nil {
		return nil, false
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	p, ok := f.providers[key]
	return p, ok
}

// Scope is the set of dependencies resolved for one job. Nothing resolved in
// a scope is shared with other jobs or with the submitter.
type Scope struct {
	id      string
	ctx     context.Context
	factory *ScopeFactory

	mu        sync.Mutex
	instances map[string]any
	resolved  []string // resolution order, used to close in reverse
	closed    bool
}

// ID returns the scope's identifier, useful for log correlation.
func (s *Scope) ID() string {
	return s.id
}

// Resolve returns the scope's instance for key, building it on first use.
func (s *Scope) Resolve(key string) (any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrScopeClosed
	}
	if v, ok := s.instances[key]; ok {
		return v, nil
	}

	p, ok := s.factory.provider(key)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownDependency, key)
	}
	v, err := p(s.ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %q: %w", key, err)
	}

	s.instances[key] = v
	s.resolved = append(s.resolved, key)
	return v, nil
}

// Close releases every resolved instance that implements io.Closer, in
// reverse resolution order. Further Resolve calls fail with ErrScopeClosed.
func (s *Scope) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	var errs []error
	for i := len(s.resolved) - 1; i >= 0; i-- {
		key := s.resolved[i]
		if c, ok := s.instances[key].(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, fmt.Errorf("closing %q: %w", key, err))
			}
		}
	}
	s.instances = nil
	return errors.Join(errs...)
}

// ResolveAs resolves key from s and asserts it to T.
func ResolveAs[T any](s *Scope, key string) (T, error) {
	var zero T
	v, err := s.Resolve(key)
	if err != nil {
		return zero, err
	}
	typed, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("dependency %q has type %T, want %T", key, v, zero)
	}
	return typed, nil
}
