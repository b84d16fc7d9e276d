package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"sync"
	"time"

	"github.com/bassista/go_revenue/internal/logger"
	"github.com/fsnotify/fsnotify"
)

// fileLayout is the on-disk JSON structure of a FileDatabase.
type fileLayout struct {
	Collections collections `json:"collections"`
}

// FileDatabase is a Database backed by a single JSON file. Reads are served
// from memory, writes go through to disk atomically, and external edits of
// the file are picked up by a watcher and turned into change events.
type FileDatabase struct {
	*MemoryDatabase

	path string
	dir  string
	base string

	ioMu        sync.Mutex
	watchOnce   sync.Once
	watchErr    error
	cancelWatch context.CancelFunc
	watchCtx    context.Context
}

// NewFileDatabase opens the JSON file at path. A missing file is treated as
// an empty database and is created on the first write.
func NewFileDatabase(path string) (*FileDatabase, error) {
	if path == "" {
		return nil, errors.New("data file path is required")
	}
	dir := filepath.Dir(path)
	if dir == "" {
		dir = "."
	}

	ctx, cancel := context.WithCancel(context.Background())
	db := &FileDatabase{
		MemoryDatabase: NewMemoryDatabase(),
		path:           path,
		dir:            dir,
		base:           filepath.Base(path),
		watchCtx:       ctx,
		cancelWatch:    cancel,
	}

	data, err := db.load()
	if err != nil {
		cancel()
		return nil, err
	}
	db.replaceAll(data)
	return db, nil
}

func (f *FileDatabase) load() (collections, error) {
	f.ioMu.Lock()
	defer f.ioMu.Unlock()
	return f.loadUnlocked()
}

// loadUnlocked reads the JSON file without acquiring the lock (caller must hold it).
func (f *FileDatabase) loadUnlocked() (collections, error) {
	file, err := os.Open(f.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return collections{}, nil
		}
		return nil, fmt.Errorf("open data file: %w", err)
	}
	defer file.Close()

	var layout fileLayout
	if err := json.NewDecoder(file).Decode(&layout); err != nil {
		return nil, fmt.Errorf("decode data file: %w", err)
	}
	if layout.Collections == nil {
		layout.Collections = collections{}
	}
	return layout.Collections, nil
}

// SetDocument updates memory, then rewrites the file.
func (f *FileDatabase) SetDocument(ctx context.Context, path string, data map[string]any) error {
	if err := f.MemoryDatabase.SetDocument(ctx, path, data); err != nil {
		return err
	}
	f.ioMu.Lock()
	defer f.ioMu.Unlock()
	if err := f.saveUnlocked(f.snapshotAll()); err != nil {
		return writeError("set", path, err)
	}
	return nil
}

// saveUnlocked writes the data set without acquiring the lock (caller must hold it).
func (f *FileDatabase) saveUnlocked(data collections) error {
	payload, err := json.MarshalIndent(fileLayout{Collections: data}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal data: %w", err)
	}

	if err := os.MkdirAll(f.dir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	tmpFile, err := os.CreateTemp(f.dir, f.base+".tmp-")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer func() {
		tmpFile.Close()
		os.Remove(tmpFile.Name())
	}()

	if _, err := tmpFile.Write(payload); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpFile.Name(), f.path); err != nil {
		return fmt.Errorf("replace data file: %w", err)
	}
	return nil
}

// Subscribe registers onChange and lazily starts the file watcher.
func (f *FileDatabase) Subscribe(ctx context.Context, collection string, onChange func(ChangeEvent)) (Subscription, error) {
	f.watchOnce.Do(func() {
		f.watchErr = f.startWatcher(f.watchCtx)
	})
	if f.watchErr != nil {
		return nil, fmt.Errorf("subscribe %s: %w", collection, f.watchErr)
	}
	return f.MemoryDatabase.Subscribe(ctx, collection, onChange)
}

func (f *FileDatabase) Close() error {
	f.cancelWatch()
	return f.MemoryDatabase.Close()
}

// startWatcher watches the parent directory (not the file) so atomic replace
// sequences (temp+rename) are still observed. Events are filtered by basename
// and debounced.
func (f *FileDatabase) startWatcher(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := os.MkdirAll(f.dir, 0o755); err != nil {
		watcher.Close()
		return fmt.Errorf("create data dir: %w", err)
	}
	if err := watcher.Add(f.dir); err != nil {
		watcher.Close()
		return fmt.Errorf("watch dir: %w", err)
	}

	go func() {
		defer watcher.Close()
		var debounce *time.Timer
		schedule := func() {
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(200*time.Millisecond, f.reload)
		}

		for {
			select {
			case <-ctx.Done():
				if debounce != nil {
					debounce.Stop()
				}
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Base(event.Name) != f.base {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) != 0 {
					schedule()
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.WithComponent("file-db").Errorf("watcher error: %v", err)
			}
		}
	}()
	logger.WithComponent("file-db").Debugf("watching %s", f.path)
	return nil
}

// reload re-reads the file and emits one change event per collection whose
// content differs from memory. Our own writes produce no diff.
func (f *FileDatabase) reload() {
	next, err := f.load()
	if err != nil {
		logger.WithComponent("file-db").Warnf("reload %s failed: %v", f.path, err)
		return
	}
	changed := f.replaceAll(next)
	for _, collection := range changed {
		logger.WithComponent("file-db").Debugf("collection %s changed on disk", collection)
		f.notify(collection, nil)
	}
}

// diffCollections lists collection names whose documents differ between a and b.
func diffCollections(a, b collections) []string {
	names := map[string]struct{}{}
	for name := range a {
		names[name] = struct{}{}
	}
	for name := range b {
		names[name] = struct{}{}
	}

	var changed []string
	for name := range names {
		if !reflect.DeepEqual(normalizeDocs(a[name]), normalizeDocs(b[name])) {
			changed = append(changed, name)
		}
	}
	sort.Strings(changed)
	return changed
}

// normalizeDocs round-trips through JSON so values decoded from disk and
// values written from Go (time.Time, int64) compare equal.
func normalizeDocs(docs map[string]map[string]any) map[string]any {
	if len(docs) == 0 {
		return nil
	}
	raw, err := json.Marshal(docs)
	if err != nil {
		return nil
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil
	}
	return out
}
