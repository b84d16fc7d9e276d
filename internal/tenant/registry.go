package tenant

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/bassista/go_revenue/internal/repository"
	"github.com/containerd/errdefs"
)

var (
	ErrDuplicateTenant = fmt.Errorf("tenant already registered: %w", errdefs.ErrAlreadyExists)
	ErrTenantNotFound  = fmt.Errorf("tenant not found: %w", errdefs.ErrNotFound)
)

// Tenant is one registered customer: its database handle and the change
// subscription on the transaction partition of SubscribedMonth.
//
// Mu serializes refresh+persist and subscription swaps for this tenant.
type Tenant struct {
	ID string
	DB repository.Database

	Mu              sync.Mutex
	Subscription    repository.Subscription
	SubscribedMonth string

	ready     chan struct{}
	settle    sync.Once
	discarded atomic.Bool
}

// New returns a tenant whose registration is in progress until Settle.
func New(id string, db repository.Database) *Tenant {
	return &Tenant{ID: id, DB: db, ready: make(chan struct{})}
}

// Settle ends the registration of t. A tenant settled with ok=false is
// discarded and every reader waiting in Ready gets ErrTenantNotFound.
func (t *Tenant) Settle(ok bool) {
	t.settle.Do(func() {
		t.discarded.Store(!ok)
		if t.ready != nil {
			close(t.ready)
		}
	})
}

// Ready blocks until the registration of t has settled.
func (t *Tenant) Ready(ctx context.Context) error {
	if t.ready != nil {
		select {
		case <-t.ready:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if t.discarded.Load() {
		return fmt.Errorf("%w: %s", ErrTenantNotFound, t.ID)
	}
	return nil
}

// Discarded reports whether the registration of t was rolled back.
func (t *Tenant) Discarded() bool {
	return t.discarded.Load()
}

// Registry maps tenant ids to tenants. Entries live for the process lifetime.
type Registry struct {
	mu      sync.RWMutex
	tenants map[string]*Tenant
}

func NewRegistry() *Registry {
	return &Registry{tenants: map[string]*Tenant{}}
}

// Add registers t, failing with ErrDuplicateTenant when the id is taken.
func (r *Registry) Add(t *Tenant) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tenants[t.ID]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateTenant, t.ID)
	}
	r.tenants[t.ID] = t
	return nil
}

// Lookup returns the tenant or ErrTenantNotFound.
func (r *Registry) Lookup(id string) (*Tenant, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tenants[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTenantNotFound, id)
	}
	return t, nil
}

// Discard drops a tenant whose registration did not complete.
// It is not an unregister operation: fully registered tenants are never removed.
func (r *Registry) Discard(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tenants, id)
}

// IDs returns the registered tenant ids, sorted.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.tenants))
	for id := range r.tenants {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// All returns the registered tenants ordered by id.
func (r *Registry) All() []*Tenant {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Tenant, 0, len(r.tenants))
	for _, t := range r.tenants {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
