package repository

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeDataFile(t *testing.T, path string, cols collections) {
	t.Helper()
	data, err := json.MarshalIndent(fileLayout{Collections: cols}, "", "  ")
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	tmp := path + ".edit"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		t.Fatalf("rename: %v", err)
	}
}

func TestNewFileDatabase_EmptyPath(t *testing.T) {
	_, err := NewFileDatabase("")
	if err == nil {
		t.Error("expected error for empty path")
	}
}

func TestNewFileDatabase_MissingFileIsEmpty(t *testing.T) {
	db, err := NewFileDatabase(filepath.Join(t.TempDir(), "tenant.json"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer db.Close()

	docs, err := db.Stream(context.Background(), "colaborador", nil)
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	if len(docs) != 0 {
		t.Errorf("expected no documents, got %d", len(docs))
	}
}

func TestNewFileDatabase_InvalidJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tenant.json")
	if err := os.WriteFile(path, []byte("not valid json"), 0o644); err != nil {
		t.Fatalf("failed to create test file: %v", err)
	}

	_, err := NewFileDatabase(path)
	if err == nil {
		t.Error("expected error for invalid JSON")
	}
}

func TestFileDatabase_LoadAndFilter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tenant.json")
	writeDataFile(t, path, collections{
		"colaborador": {"barber-1": {"nome": "Ana"}},
		"transacoes/2024/03": {
			"t1": {"colaborador_id": "barber-1", "total": 50, "data": "13-03-2024"},
			"t2": {"colaborador_id": "barber-1", "total": 30, "data": "12-03-2024"},
		},
	})

	db, err := NewFileDatabase(path)
	require.NoError(t, err)
	defer db.Close()

	docs, err := db.Stream(context.Background(), "transacoes/2024/03", &Filter{Field: "data", Value: "13-03-2024"})
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "t1", docs[0].ID)
	assert.Equal(t, 50.0, docs[0].Data["total"])
}

func TestFileDatabase_SetDocumentWritesThrough(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "tenant.json")

	db, err := NewFileDatabase(path)
	require.NoError(t, err)
	require.NoError(t, db.SetDocument(ctx, "cache/revenue_cache", map[string]any{
		"barber-1": map[string]any{"daily_revenue": 80.0},
	}))
	db.Close()

	reopened, err := NewFileDatabase(path)
	require.NoError(t, err)
	defer reopened.Close()

	doc, found, err := reopened.GetDocument(ctx, "cache/revenue_cache")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, map[string]any{"daily_revenue": 80.0}, doc["barber-1"])

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp files must not be left behind")
}

func TestFileDatabase_ExternalEditNotifiesSubscribers(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tenant.json")
	writeDataFile(t, path, collections{"transacoes/2024/03": {}})

	db, err := NewFileDatabase(path)
	require.NoError(t, err)
	defer db.Close()

	var events atomic.Int32
	sub, err := db.Subscribe(context.Background(), "transacoes/2024/03", func(ev ChangeEvent) {
		if ev.Collection == "transacoes/2024/03" {
			events.Add(1)
		}
	})
	require.NoError(t, err)
	defer sub.Stop()

	writeDataFile(t, path, collections{
		"transacoes/2024/03": {"t9": {"colaborador_id": "barber-1", "total": 5, "data": "13-03-2024"}},
	})

	assert.Eventually(t, func() bool { return events.Load() > 0 }, 3*time.Second, 20*time.Millisecond)

	docs, err := db.Stream(context.Background(), "transacoes/2024/03", nil)
	require.NoError(t, err)
	assert.Len(t, docs, 1)
}

func TestFileDatabase_OwnWritesDoNotNotifyOtherCollections(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tenant.json")
	db, err := NewFileDatabase(path)
	require.NoError(t, err)
	defer db.Close()

	var events atomic.Int32
	_, err = db.Subscribe(context.Background(), "transacoes/2024/03", func(ChangeEvent) { events.Add(1) })
	require.NoError(t, err)

	require.NoError(t, db.SetDocument(context.Background(), "cache/revenue_cache", map[string]any{}))

	time.Sleep(400 * time.Millisecond)
	assert.Equal(t, int32(0), events.Load())
}

func TestDiffCollections(t *testing.T) {
	a := collections{
		"same":    {"x": {"n": int64(1)}},
		"changed": {"x": {"n": 1.0}},
		"gone":    {"x": {}},
	}
	b := collections{
		"same":    {"x": {"n": 1.0}},
		"changed": {"x": {"n": 2.0}},
		"new":     {"y": {}},
	}

	assert.Equal(t, []string{"changed", "gone", "new"}, diffCollections(a, b))
}
