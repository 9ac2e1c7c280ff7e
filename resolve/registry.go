package resolve

import (
	"fmt"
	"sort"
	"sync"

	"github.com/c0deZ3R0/docsync/errors"
)

// Registry maps strategy names to strategies. It is safe for concurrent use.
type Registry struct {
	mu         sync.RWMutex
	strategies map[string]Strategy
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{strategies: make(map[string]Strategy)}
}

// NewDefaultRegistry returns a registry holding every built-in strategy:
// local-wins, remote-wins, last-write-wins, field-merge, custom and manual.
func NewDefaultRegistry(opts ...MergeOption) *Registry {
	r := NewRegistry()
	cfg := newMergeConfig(opts...)
	for _, s := range []Strategy{
		LocalWinsStrategy{},
		RemoteWinsStrategy{},
		LastWriteWinsStrategy{},
		&FieldMergeStrategy{cfg: cfg},
		&FieldMergeStrategy{cfg: cfg, strict: true},
		ManualStrategy{ElementIDField: cfg.idKey},
	} {
		if err := r.Register(s); err != nil {
			panic(err)
		}
	}
	return r
}

// Register adds a strategy. Names must be unique.
func (r *Registry) Register(s Strategy) error {
	if s == nil {
		return errors.E(errors.OpResolve, errors.Component("resolve/registry"), errors.KindInvalid, "nil strategy")
	}
	name := s.Name()
	if name == "" {
		return errors.E(errors.OpResolve, errors.Component("resolve/registry"), errors.KindInvalid, "strategy without a name")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.strategies[name]; exists {
		return errors.E(errors.OpResolve, errors.Component("resolve/registry"), errors.KindInvalid,
			fmt.Sprintf("strategy %q already registered", name))
	}
	r.strategies[name] = s
	return nil
}

// Lookup returns the named strategy or an unknown-strategy error.
func (r *Registry) Lookup(name string) (Strategy, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.strategies[name]
	if !ok {
		return nil, errors.NewUnknownStrategyError(name)
	}
	return s, nil
}

// Names returns the registered strategy names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.strategies))
	for n := range r.strategies {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
