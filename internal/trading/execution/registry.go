package execution

import (
	"fmt"
	apperrors "pairs_trader/pkg/errors"
	"sort"
	"sync"
)

// Registry owns the active execution targets. A target is reachable both by
// its opportunity key (stable pair + level identity, used to refuse duplicate
// opportunities) and by its handle (carried in order tags, used to route
// brokerage events back). Retired targets leave the registry immediately.
type Registry interface {
	Register(t *ExecutionTarget) error
	ByKey(key string) (*ExecutionTarget, bool)
	ByHandle(handle string) (*ExecutionTarget, bool)
	// Active returns the current targets ordered by creation time, so tick
	// processing is deterministic.
	Active() []*ExecutionTarget
	Retire(handle string) (*ExecutionTarget, bool)
	Len() int
}

type registry struct {
	mu       sync.RWMutex
	byKey    map[string]*ExecutionTarget
	byHandle map[string]*ExecutionTarget
}

func NewRegistry() Registry {
	return &registry{
		byKey:    make(map[string]*ExecutionTarget),
		byHandle: make(map[string]*ExecutionTarget),
	}
}

func (r *registry) Register(t *ExecutionTarget) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byKey[t.OpportunityKey]; exists {
		return fmt.Errorf("opportunity %s: %w", t.OpportunityKey, apperrors.ErrDuplicateTarget)
	}
	if _, exists := r.byHandle[t.Handle]; exists {
		return fmt.Errorf("handle %s: %w", t.Handle, apperrors.ErrDuplicateTarget)
	}
	r.byKey[t.OpportunityKey] = t
	r.byHandle[t.Handle] = t
	return nil
}

func (r *registry) ByKey(key string) (*ExecutionTarget, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.byKey[key]
	return t, ok
}

func (r *registry) ByHandle(handle string) (*ExecutionTarget, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.byHandle[handle]
	return t, ok
}

func (r *registry) Active() []*ExecutionTarget {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*ExecutionTarget, 0, len(r.byHandle))
	for _, t := range r.byHandle {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].Handle < out[j].Handle
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func (r *registry) Retire(handle string) (*ExecutionTarget, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.byHandle[handle]
	if !ok {
		return nil, false
	}
	delete(r.byHandle, handle)
	delete(r.byKey, t.OpportunityKey)
	return t, true
}

func (r *registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byHandle)
}
