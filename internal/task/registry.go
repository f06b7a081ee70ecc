package task

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"
)

// Registry is an in-memory directory of tasks keyed by ID.
// It is owned by the host and passed explicitly to whoever needs lookups.
//
// By default entries are never evicted; callers Remove or Clear them. The
// retention options turn on a capped history and a TTL for terminal tasks.
type Registry struct {
	mu    sync.RWMutex
	tasks map[string]*Task
	order []string // insertion order of IDs

	maxEntries int
	retention  time.Duration

	logger *slog.Logger
}

// RegistryOption configures a Registry at construction.
type RegistryOption func(*Registry)

// WithMaxEntries caps the registry size. When exceeded, the oldest terminal
// tasks are evicted first; running and idle tasks are never evicted.
func WithMaxEntries(n int) RegistryOption {
	return func(r *Registry) {
		if n > 0 {
			r.maxEntries = n
		}
	}
}

// WithRetention makes Sweep evict terminal tasks that finished more than ttl ago.
func WithRetention(ttl time.Duration) RegistryOption {
	return func(r *Registry) {
		if ttl > 0 {
			r.retention = ttl
		}
	}
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger, opts ...RegistryOption) *Registry {
	r := &Registry{
		tasks:  make(map[string]*Task),
		order:  make([]string, 0),
		logger: logger.With("component", "task_registry"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Add inserts t, replacing any task with the same ID.
func (r *Registry) Add(t *Task) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tasks[t.ID()]; !exists {
		r.order = append(r.order, t.ID())
	}
	r.tasks[t.ID()] = t

	if r.maxEntries > 0 && len(r.tasks) > r.maxEntries {
		r.evictLocked(len(r.tasks) - r.maxEntries)
	}
}

// Find returns the task with the given ID.
func (r *Registry) Find(id string) (*Task, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tasks[id]
	return t, ok
}

// List returns every tracked task in insertion order.
func (r *Registry) List() []*Task {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Task, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.tasks[id])
	}
	return out
}

// Remove deletes the task with the given ID and reports whether it was present.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.removeLocked(id)
}

// Clear empties the registry.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	cleared := len(r.tasks)
	r.tasks = make(map[string]*Task)
	r.order = r.order[:0]
	r.logger.Info("registry cleared", "removed_count", cleared)
}

// Len returns the number of tracked tasks.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tasks)
}

// Counts returns how many tracked tasks are in each status.
func (r *Registry) Counts() map[Status]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	counts := make(map[Status]int, len(AllStatuses))
	for _, st := range AllStatuses {
		counts[st] = 0
	}
	for _, t := range r.tasks {
		counts[t.Status()]++
	}
	return counts
}

// Sweep evicts terminal tasks that finished before now minus the retention
// period. It returns the number of evicted tasks and is a no-op without
// WithRetention.
func (r *Registry) Sweep(now time.Time) int {
	if r.retention <= 0 {
		return 0
	}
	cutoff := now.Add(-r.retention)

	r.mu.Lock()
	defer r.mu.Unlock()

	evicted := 0
	for _, id := range slices.Clone(r.order) {
		t := r.tasks[id]
		if !t.Status().IsTerminal() {
			continue
		}
		if t.FinishedAt().Before(cutoff) {
			r.removeLocked(id)
			evicted++
		}
	}
	return evicted
}

// RunJanitor periodically sweeps expired tasks until ctx is done.
func (r *Registry) RunJanitor(ctx context.Context, interval time.Duration) {
	if r.retention <= 0 || interval <= 0 {
		r.logger.Debug("registry janitor disabled")
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if n := r.Sweep(now); n > 0 {
				r.logger.Info("evicted expired tasks", "count", n)
			}
		}
	}
}

// evictLocked removes up to n of the oldest terminal tasks.
// Caller must hold r.mu.
func (r *Registry) evictLocked(n int) {
	for _, id := range slices.Clone(r.order) {
		if n == 0 {
			return
		}
		if r.tasks[id].Status().IsTerminal() {
			r.removeLocked(id)
			n--
		}
	}
	if n > 0 {
		r.logger.Warn("registry over capacity, no terminal tasks left to evict",
			"max_entries", r.maxEntries,
			"size", len(r.tasks))
	}
}

// Caller must hold r.mu.
func (r *Registry) removeLocked(id string) bool {
	if _, ok := r.tasks[id]; !ok {
		return false
	}
	delete(r.tasks, id)
	if i := slices.Index(r.order, id); i >= 0 {
		r.order = slices.Delete(r.order, i, i+1)
	}
	return true
}
