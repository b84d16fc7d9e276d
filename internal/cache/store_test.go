package cache

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bassista/go_revenue/internal/repository"
	"github.com/bassista/go_revenue/internal/revenue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var today = time.Date(2024, 3, 13, 10, 0, 0, 0, time.UTC)

type MockDocumentStore struct {
	mock.Mock
}

func (m *MockDocumentStore) Stream(ctx context.Context, collection string, filter *repository.Filter) ([]repository.Document, error) {
	args := m.Called(ctx, collection, filter)
	docs, _ := args.Get(0).([]repository.Document)
	return docs, args.Error(1)
}

func (m *MockDocumentStore) GetDocument(ctx context.Context, path string) (map[string]any, bool, error) {
	args := m.Called(ctx, path)
	doc, _ := args.Get(0).(map[string]any)
	return doc, args.Bool(1), args.Error(2)
}

func (m *MockDocumentStore) SetDocument(ctx context.Context, path string, data map[string]any) error {
	return m.Called(ctx, path, data).Error(0)
}

func persisted(s revenue.Summary) map[string]any {
	return s.Fields()
}

func TestParseLoadMode(t *testing.T) {
	mode, err := ParseLoadMode("")
	require.NoError(t, err)
	assert.Equal(t, LoadReplace, mode)

	mode, err = ParseLoadMode("merge")
	require.NoError(t, err)
	assert.Equal(t, LoadMerge, mode)

	_, err = ParseLoadMode("append")
	assert.Error(t, err)
}

// seed commits totals for shop-a without a live collaborator collection.
func seed(t *testing.T, store *Store, daily revenue.Totals, ids ...string) {
	t.Helper()
	next := store.Stage("shop-a", daily, nil, ids, today)
	require.NoError(t, store.Commit(context.Background(), "shop-a", repository.NewMemoryDatabase(), next, today))
}

func TestNewStore(t *testing.T) {
	store := NewStore("")
	assert.Equal(t, LoadReplace, store.mode)
	assert.Empty(t, store.Snapshot("unknown"))
	assert.Equal(t, revenue.Figures{}, store.Aggregate("unknown"))
}

func TestStore_LoadAbsentDocument(t *testing.T) {
	store := NewStore(LoadReplace)
	db := repository.NewMemoryDatabase()

	loaded, err := store.Load(context.Background(), "shop-a", db)

	require.NoError(t, err)
	assert.Empty(t, loaded)
	assert.Contains(t, store.tenants, "shop-a")
}

func TestStore_LoadReplaceDiscardsMemory(t *testing.T) {
	ctx := context.Background()
	store := NewStore(LoadReplace)
	seed(t, store, revenue.Totals{"old": {Value: 5, Count: 1}}, "old")

	db := repository.NewMemoryDatabase()
	require.NoError(t, db.SetDocument(ctx, revenue.CacheDocumentPath, map[string]any{
		"barber-1": persisted(revenue.Summary{Figures: revenue.Figures{DailyRevenue: 80, DailyTransactions: 2}, LastUpdate: today}),
	}))

	loaded, err := store.Load(ctx, "shop-a", db)

	require.NoError(t, err)
	assert.Len(t, loaded, 1)
	_, ok := store.Summary("shop-a", "old")
	assert.False(t, ok)
	s, ok := store.Summary("shop-a", "barber-1")
	require.True(t, ok)
	assert.Equal(t, 80.0, s.DailyRevenue)
}

func TestStore_LoadMergeKeepsMemory(t *testing.T) {
	ctx := context.Background()
	store := NewStore(LoadMerge)
	seed(t, store, revenue.Totals{"old": {Value: 5, Count: 1}}, "old")

	db := repository.NewMemoryDatabase()
	require.NoError(t, db.SetDocument(ctx, revenue.CacheDocumentPath, map[string]any{
		"barber-1": persisted(revenue.Summary{LastUpdate: today}),
		"broken":   "not a summary",
	}))

	loaded, err := store.Load(ctx, "shop-a", db)

	require.NoError(t, err)
	assert.Len(t, loaded, 2)
	assert.Contains(t, loaded, "old")
	assert.Contains(t, loaded, "barber-1")
}

func TestStore_LoadFailure(t *testing.T) {
	db := &MockDocumentStore{}
	db.On("GetDocument", mock.Anything, revenue.CacheDocumentPath).Return(nil, false, repository.ErrUpstreamRead)

	_, err := NewStore(LoadReplace).Load(context.Background(), "shop-a", db)

	assert.ErrorIs(t, err, repository.ErrUpstreamRead)
	db.AssertExpectations(t)
}

func TestStore_StageDoesNotChangeCache(t *testing.T) {
	store := NewStore(LoadReplace)
	seed(t, store, revenue.Totals{"a": {Value: 1, Count: 1}}, "a")

	staged := store.Stage("shop-a", revenue.Totals{"a": {Value: 9, Count: 3}}, nil, []string{"a"}, today)

	assert.Equal(t, 9.0, staged["a"].DailyRevenue)
	s, _ := store.Summary("shop-a", "a")
	assert.Equal(t, 1.0, s.DailyRevenue)
}

func TestStore_CommitZeroFillsLiveCollaborators(t *testing.T) {
	ctx := context.Background()
	store := NewStore(LoadReplace)
	db := repository.NewMemoryDatabase()
	db.Put(revenue.CollaboratorCollection, "barber-1", map[string]any{})
	db.Put(revenue.CollaboratorCollection, "barber-new", map[string]any{})
	next := store.Stage("shop-a", revenue.Totals{"barber-1": {Value: 80, Count: 2}}, nil, []string{"barber-1"}, today)

	require.NoError(t, store.Commit(ctx, "shop-a", db, next, today))

	doc, found, err := db.GetDocument(ctx, revenue.CacheDocumentPath)
	require.NoError(t, err)
	require.True(t, found)
	assert.Len(t, doc, 2)

	s, ok := store.Summary("shop-a", "barber-new")
	require.True(t, ok)
	assert.Equal(t, revenue.Summary{LastUpdate: today}, s)
	assert.NotContains(t, next, "barber-new", "staged copy is not modified")
}

func TestStore_CommitFailureKeepsPreviousCache(t *testing.T) {
	store := NewStore(LoadReplace)
	yesterday := today.AddDate(0, 0, -1)
	old := store.Stage("shop-a", revenue.Totals{"barber-1": {Value: 5, Count: 1}}, nil, []string{"barber-1"}, yesterday)
	require.NoError(t, store.Commit(context.Background(), "shop-a", repository.NewMemoryDatabase(), old, yesterday))

	db := &MockDocumentStore{}
	db.On("Stream", mock.Anything, revenue.CollaboratorCollection, (*repository.Filter)(nil)).
		Return([]repository.Document{{ID: "barber-1"}}, nil)
	db.On("SetDocument", mock.Anything, revenue.CacheDocumentPath, mock.Anything).
		Return(errors.New("permission denied"))

	next := store.Stage("shop-a", revenue.Totals{"barber-1": {Value: 80, Count: 2}}, nil, []string{"barber-1"}, today)
	err := store.Commit(context.Background(), "shop-a", db, next, today)

	assert.ErrorContains(t, err, "permission denied")
	s, ok := store.Summary("shop-a", "barber-1")
	require.True(t, ok)
	assert.Equal(t, 5.0, s.DailyRevenue)
	assert.True(t, s.Stale(today), "unpersisted refresh must leave the summary stale")
	db.AssertExpectations(t)
}

func TestStore_ForgetAndSnapshot(t *testing.T) {
	store := NewStore(LoadReplace)
	seed(t, store, revenue.Totals{"a": {Value: 1, Count: 1}}, "a")

	snap := store.Snapshot("shop-a")
	snap["a"] = revenue.Summary{}
	s, _ := store.Summary("shop-a", "a")
	assert.Equal(t, 1.0, s.DailyRevenue, "snapshot is a copy")

	store.Forget("shop-a")
	assert.NotContains(t, store.tenants, "shop-a")
	assert.Empty(t, store.Snapshot("shop-a"))
}

func TestStore_ConcurrentCommitAndRead(t *testing.T) {
	store := NewStore(LoadReplace)
	db := repository.NewMemoryDatabase()
	var wg sync.WaitGroup

	for i := range 10 {
		wg.Add(2)
		go func() {
			defer wg.Done()
			daily := revenue.Totals{"a": {Value: float64(i), Count: 1}}
			next := store.Stage("shop-a", daily, daily, []string{"a"}, today)
			assert.NoError(t, store.Commit(context.Background(), "shop-a", db, next, today))
		}()
		go func() {
			defer wg.Done()
			_ = store.Aggregate("shop-a")
			_ = store.Snapshot("shop-a")
		}()
	}
	wg.Wait()

	s, ok := store.Summary("shop-a", "a")
	require.True(t, ok)
	assert.Equal(t, int64(1), s.DailyTransactions)
}
