package repository

import (
	"context"
	"encoding/json"
	"time"
)

// Document is a stored document together with its identifier.
type Document struct {
	ID   string
	Data map[string]any
}

// Filter restricts a stream to documents whose Field equals Value.
type Filter struct {
	Field string
	Value any
}

// ChangeEvent describes a batch of changes observed on a watched collection.
type ChangeEvent struct {
	Collection  string
	DocumentIDs []string
	ReadTime    time.Time
}

// Subscription is an active change feed. Stop is safe to call more than once.
type Subscription interface {
	Stop()
}

// Streamer reads every document of a collection, optionally filtered.
// Used by the aggregation engine.
type Streamer interface {
	Stream(ctx context.Context, collection string, filter *Filter) ([]Document, error)
}

// DocumentStore reads and overwrites single documents addressed by path
// ("collection/id"). GetDocument reports false when the document is absent.
type DocumentStore interface {
	GetDocument(ctx context.Context, path string) (map[string]any, bool, error)
	SetDocument(ctx context.Context, path string, data map[string]any) error
}

// Watcher delivers change notifications for a collection until the
// subscription is stopped or ctx is done. onChange runs on a goroutine owned
// by the implementation.
type Watcher interface {
	Subscribe(ctx context.Context, collection string, onChange func(ChangeEvent)) (Subscription, error)
}

// Database is the capability a tenant handle exposes to the core.
// MemoryDatabase, FileDatabase, FirestoreDatabase and MongoDatabase implement it.
type Database interface {
	Streamer
	DocumentStore
	Watcher
	Close() error
}

// Opener builds a Database handle from a tenant credential payload.
type Opener func(ctx context.Context, cred json.RawMessage) (Database, error)
