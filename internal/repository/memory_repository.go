package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/bassista/go_revenue/internal/logger"
)

// collections maps a collection path to its documents keyed by id.
type collections map[string]map[string]map[string]any

// MemoryDatabase keeps every collection in memory.
// It backs the "memory" backend (development) and the tests, and it is the
// state holder embedded by FileDatabase.
type MemoryDatabase struct {
	mu   sync.RWMutex
	data collections

	subMu  sync.Mutex
	nextID int
	subs   map[string]map[int]func(ChangeEvent)
}

func NewMemoryDatabase() *MemoryDatabase {
	return &MemoryDatabase{
		data: collections{},
		subs: map[string]map[int]func(ChangeEvent){},
	}
}

// Put stores a document and notifies the collection's subscribers.
func (m *MemoryDatabase) Put(collection, id string, data map[string]any) {
	m.mu.Lock()
	docs, ok := m.data[collection]
	if !ok {
		docs = map[string]map[string]any{}
		m.data[collection] = docs
	}
	docs[id] = cloneMap(data)
	m.mu.Unlock()

	logger.WithComponent("memory-db").Tracef("put %s/%s", collection, id)
	m.notify(collection, []string{id})
}

// Delete removes a document and notifies the collection's subscribers.
func (m *MemoryDatabase) Delete(collection, id string) {
	m.mu.Lock()
	if docs, ok := m.data[collection]; ok {
		delete(docs, id)
	}
	m.mu.Unlock()
	m.notify(collection, []string{id})
}

func (m *MemoryDatabase) Stream(ctx context.Context, collection string, filter *Filter) ([]Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, readError("stream", collection, err)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	docs := m.data[collection]
	ids := make([]string, 0, len(docs))
	for id := range docs {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := make([]Document, 0, len(ids))
	for _, id := range ids {
		doc := docs[id]
		if filter != nil && !valuesEqual(doc[filter.Field], filter.Value) {
			continue
		}
		out = append(out, Document{ID: id, Data: cloneMap(doc)})
	}
	return out, nil
}

func (m *MemoryDatabase) GetDocument(ctx context.Context, path string) (map[string]any, bool, error) {
	collection, id, err := SplitDocumentPath(path)
	if err != nil {
		return nil, false, readError("get", path, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, false, readError("get", path, err)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	doc, ok := m.data[collection][id]
	if !ok {
		return nil, false, nil
	}
	return cloneMap(doc), true, nil
}

// SetDocument overwrites the whole document. Subscribers of the document's
// collection are notified like for Put.
func (m *MemoryDatabase) SetDocument(ctx context.Context, path string, data map[string]any) error {
	collection, id, err := SplitDocumentPath(path)
	if err != nil {
		return writeError("set", path, err)
	}
	if err := ctx.Err(); err != nil {
		return writeError("set", path, err)
	}
	m.Put(collection, id, data)
	return nil
}

func (m *MemoryDatabase) Subscribe(ctx context.Context, collection string, onChange func(ChangeEvent)) (Subscription, error) {
	m.subMu.Lock()
	m.nextID++
	id := m.nextID
	if m.subs[collection] == nil {
		m.subs[collection] = map[int]func(ChangeEvent){}
	}
	m.subs[collection][id] = onChange
	m.subMu.Unlock()

	sub := &memorySubscription{
		done: make(chan struct{}),
		stop: func() { m.unsubscribe(collection, id) },
	}
	go func() {
		select {
		case <-ctx.Done():
			sub.Stop()
		case <-sub.done:
		}
	}()
	logger.WithComponent("memory-db").Debugf("subscribed to %s (id %d)", collection, id)
	return sub, nil
}

// Subscribers returns the number of active subscriptions on a collection.
func (m *MemoryDatabase) Subscribers(collection string) int {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	return len(m.subs[collection])
}

func (m *MemoryDatabase) Close() error {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	m.subs = map[string]map[int]func(ChangeEvent){}
	return nil
}

func (m *MemoryDatabase) unsubscribe(collection string, id int) {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	delete(m.subs[collection], id)
}

func (m *MemoryDatabase) notify(collection string, ids []string) {
	m.subMu.Lock()
	callbacks := make([]func(ChangeEvent), 0, len(m.subs[collection]))
	for _, fn := range m.subs[collection] {
		callbacks = append(callbacks, fn)
	}
	m.subMu.Unlock()

	if len(callbacks) == 0 {
		return
	}
	ev := ChangeEvent{Collection: collection, DocumentIDs: ids, ReadTime: time.Now()}
	for _, fn := range callbacks {
		go fn(ev)
	}
}

// replaceAll swaps the whole data set and returns the collections whose
// content changed. Caller notifies.
func (m *MemoryDatabase) replaceAll(next collections) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	changed := diffCollections(m.data, next)
	m.data = next
	return changed
}

func (m *MemoryDatabase) snapshotAll() collections {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(collections, len(m.data))
	for name, docs := range m.data {
		cp := make(map[string]map[string]any, len(docs))
		for id, doc := range docs {
			cp[id] = cloneMap(doc)
		}
		out[name] = cp
	}
	return out
}

type memorySubscription struct {
	once sync.Once
	done chan struct{}
	stop func()
}

func (s *memorySubscription) Stop() {
	s.once.Do(func() {
		s.stop()
		close(s.done)
	})
}
