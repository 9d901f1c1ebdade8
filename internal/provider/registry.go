package provider

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Registry holds the configured inference backends and routes
// completion requests to them by model reference.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
}

func NewRegistry() *Registry {
	return &Registry{
		providers: make(map[string]Provider),
	}
}

func (r *Registry) Register(p Provider) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := p.ID()
	if _, exists := r.providers[id]; exists {
		return fmt.Errorf("provider %q already registered", id)
	}
	r.providers[id] = p
	return nil
}

func (r *Registry) Get(id string) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[id]
	if !ok {
		return nil, fmt.Errorf("provider %q not found", id)
	}
	return p, nil
}

// IDs returns the registered provider IDs in sorted order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.providers))
	for id := range r.providers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Complete resolves req.Model as a "provider/model" reference and
// forwards the request with the bare model name.
func (r *Registry) Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error) {
	ref, err := ParseModelRef(req.Model)
	if err != nil {
		return nil, err
	}
	p, err := r.Get(ref.Provider())
	if err != nil {
		return nil, err
	}
	routed := *req
	routed.Model = ref.Model()
	return p.Complete(ctx, &routed)
}
