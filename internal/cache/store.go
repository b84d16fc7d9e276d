package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bassista/go_revenue/internal/logger"
	"github.com/bassista/go_revenue/internal/repository"
	"github.com/bassista/go_revenue/internal/revenue"
)

// LoadMode selects how Load combines the persisted document with the
// in-memory cache of a tenant.
type LoadMode string

const (
	// LoadReplace discards the in-memory cache and keeps only what was persisted.
	LoadReplace LoadMode = "replace"
	// LoadMerge overlays persisted entries on the in-memory cache.
	LoadMerge LoadMode = "merge"
)

// ParseLoadMode accepts "", "replace" and "merge".
func ParseLoadMode(v string) (LoadMode, error) {
	switch LoadMode(v) {
	case "", LoadReplace:
		return LoadReplace, nil
	case LoadMerge:
		return LoadMerge, nil
	}
	return "", fmt.Errorf("unknown cache load mode: %s (supported: %s, %s)", v, LoadReplace, LoadMerge)
}

// Store keeps the in-memory cache of every tenant.
type Store struct {
	mu      sync.RWMutex
	tenants map[string]revenue.TenantCache
	mode    LoadMode
}

// NewStore creates an empty cache store.
func NewStore(mode LoadMode) *Store {
	if mode == "" {
		mode = LoadReplace
	}
	return &Store{tenants: map[string]revenue.TenantCache{}, mode: mode}
}

// Load reads the persisted cache document of a tenant into memory. An absent
// document yields an empty cache. With LoadReplace any previous in-memory
// cache of the tenant is discarded.
func (s *Store) Load(ctx context.Context, tenantID string, db repository.DocumentStore) (revenue.TenantCache, error) {
	doc, found, err := db.GetDocument(ctx, revenue.CacheDocumentPath)
	if err != nil {
		return nil, fmt.Errorf("load cache of %s: %w", tenantID, err)
	}

	loaded := revenue.TenantCache{}
	if found {
		var skipped []string
		loaded, skipped = revenue.TenantCacheFromDocument(doc)
		if len(skipped) > 0 {
			logger.WithTenant("cache", tenantID).Warnf("ignored %d undecodable cache entries: %v", len(skipped), skipped)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mode == LoadMerge {
		merged := s.tenants[tenantID].Clone()
		for id, summary := range loaded {
			merged[id] = summary
		}
		loaded = merged
	}
	s.tenants[tenantID] = loaded

	logger.WithTenant("cache", tenantID).Debugf("cache loaded (%s): %d entries, persisted=%v", s.mode, len(loaded), found)
	return loaded.Clone(), nil
}

// Stage applies fresh totals to a copy of the tenant cache. The store is not
// changed until the copy is committed.
func (s *Store) Stage(tenantID string, daily, weekly revenue.Totals, collaboratorIDs []string, now time.Time) revenue.TenantCache {
	return revenue.Merge(s.Snapshot(tenantID), daily, weekly, collaboratorIDs, now)
}

// Commit zero-fills collaborators present in the live collection but missing
// from next, overwrites the persisted document with it and only then makes it
// the in-memory cache. On failure the previous cache stays in place, so stale
// summaries are retried by the next read.
func (s *Store) Commit(ctx context.Context, tenantID string, db PersistTarget, next revenue.TenantCache, now time.Time) error {
	ids, err := revenue.ListCollaborators(ctx, db)
	if err != nil {
		return fmt.Errorf("persist cache of %s: %w", tenantID, err)
	}

	next = next.Clone()
	if added := next.FillMissing(ids, now); added > 0 {
		logger.WithTenant("cache", tenantID).Debugf("zero-filled %d collaborators before persisting", added)
	}
	doc := next.Document()
	if err := db.SetDocument(ctx, revenue.CacheDocumentPath, doc); err != nil {
		return fmt.Errorf("persist cache of %s: %w", tenantID, err)
	}

	s.mu.Lock()
	s.tenants[tenantID] = next
	s.mu.Unlock()
	logger.WithTenant("cache", tenantID).Debugf("cache persisted: %d entries", len(doc))
	return nil
}

// Forget drops the in-memory cache of a tenant. The persisted document is untouched.
func (s *Store) Forget(tenantID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tenants, tenantID)
}

// Summary returns the cached summary of one collaborator.
func (s *Store) Summary(tenantID, collaboratorID string) (revenue.Summary, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	summary, ok := s.tenants[tenantID][collaboratorID]
	return summary, ok
}

// Snapshot returns a copy of the tenant cache.
func (s *Store) Snapshot(tenantID string) revenue.TenantCache {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tenants[tenantID].Clone()
}

// Aggregate sums the cached figures of a tenant as they are right now.
func (s *Store) Aggregate(tenantID string) revenue.Figures {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tenants[tenantID].Aggregate()
}
