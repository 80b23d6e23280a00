package sim

import (
	"sort"
	"sync"

	"github.com/pkg/errors"

	"settlement-core/internal/engine"
)

// Factory builds the engine of a new account.
type Factory func(accountID string) (*engine.Engine, error)

// Registry manages the engines of every simulated account.
type Registry struct {
	mu      sync.RWMutex
	engines map[string]*engine.Engine // accountID -> Engine
	factory Factory
}

// NewRegistry creates an empty registry.
func NewRegistry(factory Factory) *Registry {
	return &Registry{
		engines: make(map[string]*engine.Engine),
		factory: factory,
	}
}

// GetOrCreate returns the engine of an account, creating it if needed.
func (r *Registry) GetOrCreate(accountID string) (*engine.Engine, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if eng, ok := r.engines[accountID]; ok {
		return eng, nil
	}
	if r.factory == nil {
		return nil, errors.Errorf("no engine factory for account %q", accountID)
	}
	eng, err := r.factory(accountID)
	if err != nil {
		return nil, errors.Wrapf(err, "create engine for account %q", accountID)
	}
	r.engines[accountID] = eng
	return eng, nil
}

// Get returns the engine of an account. It never creates one.
func (r *Registry) Get(accountID string) (*engine.Engine, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	eng, ok := r.engines[accountID]
	return eng, ok
}

// Accounts returns the registered account IDs in sorted order.
func (r *Registry) Accounts() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.engines))
	for id := range r.engines {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Len returns the number of registered accounts.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.engines)
}
