package repository

import (
	"testing"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/stretchr/testify/assert"
)

func querySnapshot(readTime time.Time, ids ...string) *firestore.QuerySnapshot {
	qs := &firestore.QuerySnapshot{ReadTime: readTime}
	for _, id := range ids {
		qs.Changes = append(qs.Changes, firestore.DocumentChange{
			Kind: firestore.DocumentAdded,
			Doc:  &firestore.DocumentSnapshot{Ref: &firestore.DocumentRef{ID: id}},
		})
	}
	return qs
}

func TestSnapshotFeed_SkipsInitialSnapshot(t *testing.T) {
	feed := newSnapshotFeed("transacoes/2024/03")
	at := time.Date(2024, 3, 13, 10, 0, 0, 0, time.UTC)

	_, ok := feed.next(querySnapshot(at, "t1", "t2"))
	assert.False(t, ok, "initial snapshot is the current state")

	ev, ok := feed.next(querySnapshot(at.Add(time.Minute), "t3"))
	assert.True(t, ok)
	assert.Equal(t, ChangeEvent{
		Collection:  "transacoes/2024/03",
		DocumentIDs: []string{"t3"},
		ReadTime:    at.Add(time.Minute),
	}, ev)
}

func TestSnapshotFeed_IgnoresEmptySnapshots(t *testing.T) {
	feed := newSnapshotFeed("transacoes/2024/03")
	feed.next(querySnapshot(time.Time{}))

	_, ok := feed.next(querySnapshot(time.Now()))
	assert.False(t, ok)

	_, ok = feed.next(nil)
	assert.False(t, ok)

	_, ok = feed.next(&firestore.QuerySnapshot{Changes: []firestore.DocumentChange{{Kind: firestore.DocumentRemoved}}})
	assert.False(t, ok, "changes without a document reference are dropped")
}

func TestSnapshotFeed_CollectsEveryChangedDocument(t *testing.T) {
	feed := newSnapshotFeed("transacoes/2024/03")
	feed.next(querySnapshot(time.Time{}))

	ev, ok := feed.next(querySnapshot(time.Now(), "t1", "t2", "t3"))

	assert.True(t, ok)
	assert.Equal(t, []string{"t1", "t2", "t3"}, ev.DocumentIDs)
}
