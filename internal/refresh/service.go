package refresh

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/bassista/go_revenue/internal/cache"
	"github.com/bassista/go_revenue/internal/logger"
	"github.com/bassista/go_revenue/internal/repository"
	"github.com/bassista/go_revenue/internal/revenue"
	"github.com/bassista/go_revenue/internal/tenant"
)

// Service owns the refresh policy of every tenant.
//
// Triggers:
//   - registration: load the persisted cache, then refresh unconditionally;
//   - change notification: refresh unconditionally, off the request path;
//   - collaborator read: refresh only when that collaborator's summary is stale;
//   - aggregate read: never refresh.
//
// Every trigger goes through the same refresh operation, serialized per tenant.
type Service struct {
	registry *tenant.Registry
	store    cache.RefreshableStore
	open     repository.Opener

	baseCtx     context.Context
	now         func() time.Time
	loc         *time.Location
	resubscribe bool

	events    chan string
	pendingMu sync.Mutex
	pending   map[string]bool
}

type Option func(*Service)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithLocation sets the time zone that defines calendar days and weeks.
func WithLocation(loc *time.Location) Option {
	return func(s *Service) {
		if loc != nil {
			s.loc = loc
		}
	}
}

// WithResubscribe toggles re-creating change subscriptions on month rollover.
func WithResubscribe(enabled bool) Option {
	return func(s *Service) { s.resubscribe = enabled }
}

// WithEventBuffer sizes the change notification queue.
func WithEventBuffer(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.events = make(chan string, n)
		}
	}
}

// New creates a Service. baseCtx bounds change subscriptions and the
// notification dispatcher.
func New(baseCtx context.Context, registry *tenant.Registry, store cache.RefreshableStore, open repository.Opener, opts ...Option) *Service {
	s := &Service{
		registry:    registry,
		store:       store,
		open:        open,
		baseCtx:     baseCtx,
		now:         time.Now,
		loc:         time.Local,
		resubscribe: true,
		events:      make(chan string, 64),
		pending:     map[string]bool{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) clock() time.Time {
	return s.now().In(s.loc)
}

// Register opens the tenant database, loads its cache, runs the cold-start
// refresh and subscribes to the current month's transactions. When the cold
// start or the subscription fails the tenant is discarded so it can register again.
func (s *Service) Register(ctx context.Context, tenantID string, cred json.RawMessage) error {
	log := logger.WithTenant("refresh", tenantID)
	if _, err := s.registry.Lookup(tenantID); err == nil {
		return fmt.Errorf("%w: %s", tenant.ErrDuplicateTenant, tenantID)
	}

	db, err := s.open(ctx, cred)
	if err != nil {
		return fmt.Errorf("register %s: %w", tenantID, err)
	}

	// held before the tenant becomes visible; readers wait in lookup until Settle
	t := tenant.New(tenantID, db)
	t.Mu.Lock()
	defer t.Mu.Unlock()
	if err := s.registry.Add(t); err != nil {
		_ = db.Close()
		return err
	}

	fail := func(err error) error {
		log.Errorf("registration rolled back: %v", err)
		t.Settle(false)
		if t.Subscription != nil {
			t.Subscription.Stop()
		}
		s.registry.Discard(tenantID)
		s.store.Forget(tenantID)
		if closeErr := db.Close(); closeErr != nil {
			log.Warnf("close database: %v", closeErr)
		}
		return fmt.Errorf("register %s: %w", tenantID, err)
	}

	if _, err := s.store.Load(ctx, tenantID, db); err != nil {
		return fail(err)
	}
	now := s.clock()
	if err := s.refreshLocked(ctx, t, now); err != nil {
		return fail(err)
	}
	if err := s.subscribeLocked(t, now); err != nil {
		return fail(err)
	}

	t.Settle(true)
	log.Infof("tenant registered, watching %s", revenue.TransactionCollection(now))
	return nil
}

// RefreshTenant recomputes daily and weekly totals for every collaborator of
// the tenant, merges them into the cache and persists the cache document.
func (s *Service) RefreshTenant(ctx context.Context, tenantID string) error {
	t, err := s.lookup(ctx, tenantID)
	if err != nil {
		return err
	}
	t.Mu.Lock()
	defer t.Mu.Unlock()
	return s.refreshLocked(ctx, t, s.clock())
}

// refreshLocked runs one refresh; the caller holds t.Mu.
func (s *Service) refreshLocked(ctx context.Context, t *tenant.Tenant, now time.Time) error {
	started := time.Now()

	daily, err := revenue.ComputeDailyTotals(ctx, t.DB, now)
	if err != nil {
		return fmt.Errorf("refresh %s: %w", t.ID, err)
	}
	weekly, err := revenue.ComputeWeeklyTotals(ctx, t.DB, now)
	if err != nil {
		return fmt.Errorf("refresh %s: %w", t.ID, err)
	}
	ids, err := revenue.ListCollaborators(ctx, t.DB)
	if err != nil {
		return fmt.Errorf("refresh %s: %w", t.ID, err)
	}

	next := s.store.Stage(t.ID, daily, weekly, ids, now)
	if err := s.store.Commit(ctx, t.ID, t.DB, next, now); err != nil {
		return fmt.Errorf("refresh %s: %w", t.ID, err)
	}

	logger.WithTenant("refresh", t.ID).Debugf("refreshed %d collaborators in %v", len(ids), time.Since(started))
	return nil
}

// subscribeLocked watches the transaction partition of now's month; the
// caller holds t.Mu.
func (s *Service) subscribeLocked(t *tenant.Tenant, now time.Time) error {
	collection := revenue.TransactionCollection(now)
	tenantID := t.ID
	sub, err := t.DB.Subscribe(s.baseCtx, collection, func(ev repository.ChangeEvent) {
		logger.WithTenant("refresh", tenantID).Debugf("change on %s: %d documents", ev.Collection, len(ev.DocumentIDs))
		s.notify(tenantID)
	})
	if err != nil {
		return err
	}
	t.Subscription = sub
	t.SubscribedMonth = revenue.MonthKey(now)
	return nil
}

// notify queues a refresh for the tenant. While one is already queued,
// further notifications are coalesced into it.
func (s *Service) notify(tenantID string) {
	s.pendingMu.Lock()
	if s.pending[tenantID] {
		s.pendingMu.Unlock()
		return
	}
	s.pending[tenantID] = true
	s.pendingMu.Unlock()

	select {
	case s.events <- tenantID:
	case <-s.baseCtx.Done():
	}
}

// Start runs the change notification dispatcher until the base context is
// done. Each refresh runs on its own goroutine so a slow tenant does not
// delay the others. The returned channel is closed once in-flight refreshes
// have finished.
func (s *Service) Start() <-chan struct{} {
	done := make(chan struct{})
	logger.WithComponent("refresh").Debugf("starting change dispatcher")
	go func() {
		defer close(done)
		var wg sync.WaitGroup
		defer wg.Wait()
		for {
			select {
			case <-s.baseCtx.Done():
				logger.WithComponent("refresh").Info("change dispatcher stopped")
				return
			case tenantID := <-s.events:
				s.pendingMu.Lock()
				delete(s.pending, tenantID)
				s.pendingMu.Unlock()

				wg.Add(1)
				go func() {
					defer wg.Done()
					s.handleChange(tenantID)
				}()
			}
		}
	}()
	return done
}

func (s *Service) handleChange(tenantID string) {
	if err := s.RefreshTenant(s.baseCtx, tenantID); err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		logger.WithTenant("refresh", tenantID).Errorf("change-triggered refresh failed: %v", err)
	}
}

// Collaborator serves one collaborator's figures, refreshing the tenant first
// when the cached summary is stale. A collaborator missing from the live
// collection yields a zero summary.
func (s *Service) Collaborator(ctx context.Context, tenantID, collaboratorID string) (revenue.Summary, error) {
	t, err := s.lookup(ctx, tenantID)
	if err != nil {
		return revenue.Summary{}, err
	}
	now := s.clock()
	_, _ = s.rollover(t, now)

	ids, err := revenue.ListCollaborators(ctx, t.DB)
	if err != nil {
		return revenue.Summary{}, err
	}
	if !slices.Contains(ids, collaboratorID) {
		return revenue.Summary{}, nil
	}

	if summary, ok := s.store.Summary(tenantID, collaboratorID); ok && !summary.Stale(now) {
		return summary, nil
	}

	t.Mu.Lock()
	// a concurrent reader may have refreshed while we waited
	if summary, ok := s.store.Summary(tenantID, collaboratorID); ok && !summary.Stale(now) {
		t.Mu.Unlock()
		return summary, nil
	}
	logger.WithTenant("refresh", tenantID).Debugf("summary of %s is stale, refreshing", collaboratorID)
	err = s.refreshLocked(ctx, t, now)
	t.Mu.Unlock()
	if err != nil {
		return revenue.Summary{}, err
	}

	summary, _ := s.store.Summary(tenantID, collaboratorID)
	return summary, nil
}

// Aggregate sums the cached figures of every collaborator of the tenant.
// It never refreshes, so it may serve figures from a previous day.
func (s *Service) Aggregate(ctx context.Context, tenantID string) (revenue.Figures, error) {
	if _, err := s.lookup(ctx, tenantID); err != nil {
		return revenue.Figures{}, err
	}
	return s.store.Aggregate(tenantID), nil
}

// ForceRefresh refreshes the tenant and returns the new aggregate.
func (s *Service) ForceRefresh(ctx context.Context, tenantID string) (revenue.Figures, error) {
	if err := s.RefreshTenant(ctx, tenantID); err != nil {
		return revenue.Figures{}, err
	}
	return s.store.Aggregate(tenantID), nil
}

// lookup returns a registered tenant once its registration has settled. A
// tenant whose registration rolled back is reported as not found.
func (s *Service) lookup(ctx context.Context, tenantID string) (*tenant.Tenant, error) {
	t, err := s.registry.Lookup(tenantID)
	if err != nil {
		return nil, err
	}
	if err := t.Ready(ctx); err != nil {
		return nil, err
	}
	return t, nil
}

// Tenants lists the registered tenant ids.
func (s *Service) Tenants() []string {
	return s.registry.IDs()
}

// CheckRollover moves every tenant's subscription to the current month's
// partition when the month changed. It returns how many tenants were moved
// and how many are still behind because resubscribing failed.
func (s *Service) CheckRollover() (moved, failed int) {
	now := s.clock()
	for _, t := range s.registry.All() {
		ok, err := s.rollover(t, now)
		switch {
		case err != nil:
			failed++
		case ok:
			moved++
		}
	}
	return moved, failed
}

func (s *Service) rollover(t *tenant.Tenant, now time.Time) (bool, error) {
	if !s.resubscribe {
		return false, nil
	}
	month := revenue.MonthKey(now)

	t.Mu.Lock()
	defer t.Mu.Unlock()
	if t.Discarded() || t.SubscribedMonth == month || t.SubscribedMonth == "" {
		return false, nil
	}

	old := t.Subscription
	previous := t.SubscribedMonth
	if err := s.subscribeLocked(t, now); err != nil {
		logger.WithTenant("refresh", t.ID).Errorf("resubscribe for %s failed, keeping %s: %v", month, previous, err)
		return false, err
	}
	if old != nil {
		old.Stop()
	}
	logger.WithTenant("refresh", t.ID).Infof("subscription moved from %s to %s", previous, month)
	return true, nil
}

// Close stops every subscription and closes every tenant database.
func (s *Service) Close() {
	for _, t := range s.registry.All() {
		t.Mu.Lock()
		if t.Discarded() {
			t.Mu.Unlock()
			continue
		}
		if t.Subscription != nil {
			t.Subscription.Stop()
		}
		if err := t.DB.Close(); err != nil {
			logger.WithTenant("refresh", t.ID).Warnf("close database: %v", err)
		}
		t.Mu.Unlock()
	}
}
