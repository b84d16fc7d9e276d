package cache

import (
	"context"
	"time"

	"github.com/bassista/go_revenue/internal/repository"
	"github.com/bassista/go_revenue/internal/revenue"
)

// PersistTarget is the database capability Commit needs: the live
// collaborator list and the cache document.
type PersistTarget interface {
	repository.Streamer
	repository.DocumentStore
}

// ReadOnlyStore is the minimal cache API for readers.
type ReadOnlyStore interface {
	Summary(tenantID, collaboratorID string) (revenue.Summary, bool)
	Aggregate(tenantID string) revenue.Figures
}

// RefreshableStore is the cache API needed by the refresh service.
type RefreshableStore interface {
	ReadOnlyStore
	Load(ctx context.Context, tenantID string, db repository.DocumentStore) (revenue.TenantCache, error)
	Stage(tenantID string, daily, weekly revenue.Totals, collaboratorIDs []string, now time.Time) revenue.TenantCache
	Commit(ctx context.Context, tenantID string, db PersistTarget, next revenue.TenantCache, now time.Time) error
	Forget(tenantID string)
}
