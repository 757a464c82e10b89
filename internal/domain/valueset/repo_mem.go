package valueset

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/emcare/forms/internal/platform/fhir"
)

// InMemoryRepo is a ValueSetRepository used when no database is configured.
type InMemoryRepo struct {
	mu    sync.RWMutex
	items map[string]*ValueSet
}

func NewInMemoryRepo() *InMemoryRepo {
	return &InMemoryRepo{items: make(map[string]*ValueSet)}
}

func (r *InMemoryRepo) Upsert(_ context.Context, vs *ValueSet) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now().UTC()
	vs.UpdatedAt = now
	if prev, ok := r.items[vs.URL]; ok {
		vs.CreatedAt = prev.CreatedAt
	} else {
		vs.CreatedAt = now
	}
	cp := *vs
	cp.Resource = fhir.CloneResource(vs.Resource)
	r.items[vs.URL] = &cp
	return nil
}

func (r *InMemoryRepo) GetByURL(_ context.Context, url string) (*ValueSet, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	vs, ok := r.items[url]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, url)
	}
	cp := *vs
	cp.Resource = fhir.CloneResource(vs.Resource)
	return &cp, nil
}

func (r *InMemoryRepo) List(_ context.Context) ([]*ValueSet, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*ValueSet, 0, len(r.items))
	for _, vs := range r.items {
		cp := *vs
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].URL < out[j].URL })
	return out, nil
}
