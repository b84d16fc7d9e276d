package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"cloud.google.com/go/firestore"
	firebase "firebase.google.com/go/v4"
	"github.com/bassista/go_revenue/internal/logger"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// FirestoreDatabase talks to one tenant's Firestore project.
// Each tenant gets its own firebase app, built from its service-account key.
type FirestoreDatabase struct {
	client    *firestore.Client
	projectID string
}

// OpenFirestore is the Opener of the "firestore" backend.
func OpenFirestore(ctx context.Context, cred json.RawMessage) (Database, error) {
	var sa ServiceAccountCredential
	if err := decodeCredential(cred, &sa); err != nil {
		return nil, err
	}

	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: sa.ProjectID}, option.WithCredentialsJSON(cred))
	if err != nil {
		return nil, credentialError("initialize firebase app: %v", err)
	}
	client, err := app.Firestore(ctx)
	if err != nil {
		return nil, fmt.Errorf("firestore client for project %s: %w", sa.ProjectID, err)
	}
	logger.WithComponent("firestore").Infof("firestore client ready for project %s", sa.ProjectID)
	return &FirestoreDatabase{client: client, projectID: sa.ProjectID}, nil
}

func (f *FirestoreDatabase) collection(path string) (*firestore.CollectionRef, error) {
	ref := f.client.Collection(path)
	if ref == nil {
		return nil, ErrInvalidPath
	}
	return ref, nil
}

func (f *FirestoreDatabase) document(path string) (*firestore.DocumentRef, error) {
	ref := f.client.Doc(path)
	if ref == nil {
		return nil, ErrInvalidPath
	}
	return ref, nil
}

func (f *FirestoreDatabase) Stream(ctx context.Context, collection string, filter *Filter) ([]Document, error) {
	coll, err := f.collection(collection)
	if err != nil {
		return nil, readError("stream", collection, err)
	}

	q := coll.Query
	if filter != nil {
		q = coll.Where(filter.Field, "==", filter.Value)
	}
	snaps, err := q.Documents(ctx).GetAll()
	if err != nil {
		return nil, readError("stream", collection, err)
	}

	out := make([]Document, 0, len(snaps))
	for _, snap := range snaps {
		out = append(out, Document{ID: snap.Ref.ID, Data: snap.Data()})
	}
	return out, nil
}

func (f *FirestoreDatabase) GetDocument(ctx context.Context, path string) (map[string]any, bool, error) {
	ref, err := f.document(path)
	if err != nil {
		return nil, false, readError("get", path, err)
	}
	snap, err := ref.Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, false, nil
		}
		return nil, false, readError("get", path, err)
	}
	if !snap.Exists() {
		return nil, false, nil
	}
	return snap.Data(), true, nil
}

func (f *FirestoreDatabase) SetDocument(ctx context.Context, path string, data map[string]any) error {
	ref, err := f.document(path)
	if err != nil {
		return writeError("set", path, err)
	}
	if _, err := ref.Set(ctx, data); err != nil {
		return writeError("set", path, err)
	}
	return nil
}

// Subscribe listens to query snapshots of the collection. The first snapshot
// is the current state, not a change, and is skipped.
func (f *FirestoreDatabase) Subscribe(ctx context.Context, collection string, onChange func(ChangeEvent)) (Subscription, error) {
	coll, err := f.collection(collection)
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", collection, err)
	}

	subCtx, cancel := context.WithCancel(ctx)
	it := coll.Snapshots(subCtx)
	feed := newSnapshotFeed(collection)
	go func() {
		defer it.Stop()
		for {
			qs, err := it.Next()
			if err != nil {
				if errors.Is(err, iterator.Done) || status.Code(err) == codes.Canceled || subCtx.Err() != nil {
					logger.WithComponent("firestore").Debugf("subscription on %s closed", collection)
					return
				}
				logger.WithComponent("firestore").Errorf("subscription on %s failed: %v", collection, err)
				return
			}
			if ev, ok := feed.next(qs); ok {
				onChange(ev)
			}
		}
	}()

	logger.WithComponent("firestore").Debugf("subscribed to %s in project %s", collection, f.projectID)
	return cancelSubscription(cancel), nil
}

// snapshotFeed turns query snapshots of one collection into change events.
type snapshotFeed struct {
	collection string
	seen       bool
}

func newSnapshotFeed(collection string) *snapshotFeed {
	return &snapshotFeed{collection: collection}
}

// next returns the event for qs. The first snapshot and snapshots without
// document changes yield none.
func (f *snapshotFeed) next(qs *firestore.QuerySnapshot) (ChangeEvent, bool) {
	if !f.seen {
		f.seen = true
		return ChangeEvent{}, false
	}
	if qs == nil || len(qs.Changes) == 0 {
		return ChangeEvent{}, false
	}
	ids := make([]string, 0, len(qs.Changes))
	for _, ch := range qs.Changes {
		if ch.Doc == nil || ch.Doc.Ref == nil {
			continue
		}
		ids = append(ids, ch.Doc.Ref.ID)
	}
	if len(ids) == 0 {
		return ChangeEvent{}, false
	}
	return ChangeEvent{Collection: f.collection, DocumentIDs: ids, ReadTime: qs.ReadTime}, true
}

func (f *FirestoreDatabase) Close() error {
	return f.client.Close()
}

// cancelSubscription stops a goroutine-driven feed by cancelling its context.
type cancelSubscription context.CancelFunc

func (c cancelSubscription) Stop() {
	c()
}
