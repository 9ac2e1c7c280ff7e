package postgres

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c0deZ3R0/docsync/conflict"
	"github.com/c0deZ3R0/docsync/engine"
	"github.com/c0deZ3R0/docsync/errors"
	"github.com/c0deZ3R0/docsync/resolve"
	"github.com/c0deZ3R0/docsync/revision"
)

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func TestConfigDefaults(t *testing.T) {
	config := DefaultConfig("postgres://u:p@localhost/db")
	assert.Equal(t, 25, config.MaxOpenConns)
	assert.Equal(t, 10, config.MaxIdleConns)
	assert.Equal(t, time.Hour, config.ConnMaxLifetime)
	assert.Equal(t, 15*time.Minute, config.ConnMaxIdleTime)
	assert.Equal(t, 30*time.Second, config.NotificationTimeout)
	assert.Equal(t, "local", config.ReplicaID)

	_, err := New(nil)
	assert.True(t, errors.IsKind(err, errors.KindInvalid))
	_, err = New(&Config{})
	assert.True(t, errors.IsKind(err, errors.KindInvalid))
}

func TestMaskConnectionString(t *testing.T) {
	assert.Equal(t, "host=db user=app password=*** sslmode=disable",
		maskConnectionString("host=db user=app password=secret sslmode=disable"))
	assert.Equal(t, "postgres://app:***@db:5432/docs",
		maskConnectionString("postgres://app:secret@db:5432/docs"))
	assert.Equal(t, "postgres://db/docs", maskConnectionString("postgres://db/docs"))
}

func TestSubscriptionManager(t *testing.T) {
	sm := NewSubscriptionManager()
	var got []ChangeNotification
	sm.Subscribe(ChangesChannel, func(n ChangeNotification) error {
		got = append(got, n)
		return nil
	})
	sm.Subscribe(ChangesChannel, func(ChangeNotification) error { return assert.AnError })

	err := sm.HandleNotification(ChangesChannel, `{"doc_id":"task-1","rev":"{\"local\":1}","status":1}`)
	assert.ErrorIs(t, err, assert.AnError)
	require.Len(t, got, 1, "a failing handler does not stop the others")
	assert.Equal(t, ChangeNotification{DocumentID: "task-1", Revision: `{"local":1}`, Status: 1}, got[0])

	assert.Error(t, sm.HandleNotification(ChangesChannel, "not json"))
	assert.Error(t, sm.HandleNotification(ChangesChannel, `{"rev":"x"}`))
	assert.NoError(t, sm.HandleNotification("other", "not json"), "unsubscribed channels are ignored")

	assert.Equal(t, []string{ChangesChannel}, sm.Channels())
	sm.Unsubscribe(ChangesChannel)
	assert.Empty(t, sm.Channels())
}

// setupTestStore connects to POSTGRES_TEST_CONNECTION, skipping the test
// when it is unset.
func setupTestStore(t *testing.T) *Store {
	t.Helper()
	connStr := os.Getenv("POSTGRES_TEST_CONNECTION")
	if connStr == "" {
		t.Skip("POSTGRES_TEST_CONNECTION not set")
	}
	config := DefaultConfig(connStr)
	config.MaxOpenConns = 5
	config.MaxIdleConns = 2
	config.Now = func() time.Time { return t0 }
	store, err := New(config)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

// docID returns a document ID unique to this run so tests can share a
// database.
func docID(prefix string) string { return prefix + "-" + uuid.NewString() }

func TestStore_ReplicaContract(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	id := docID("task")

	base, err := s.Write(ctx, id, conflict.Document{"id": id, "title": "base", "priority": 1})
	require.NoError(t, err)
	primary, err := s.Write(ctx, id, conflict.Document{"id": id, "title": "mine", "priority": 2})
	require.NoError(t, err)
	other := `{"local":1,"phone":1}`
	require.NoError(t, s.Replicate(ctx, conflict.Snapshot{
		ID: id, Revision: revision.FromMap(map[string]uint64{"local": 1, "phone": 1}),
		Data: conflict.Document{"id": id, "title": "theirs", "priority": 3}, UpdatedAt: t0,
	}))

	doc, err := s.GetWithConflicts(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, primary, doc.Primary.Revision.String())
	assert.Equal(t, []string{other}, doc.ConflictingRevisions)

	anc, ok, err := s.CommonAncestor(ctx, id, primary, other)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, base, anc.Revision.String())

	_, err = s.Put(ctx, resolve.ResolvedDocument{ID: id, Data: conflict.Document{"id": id}}, []string{other})
	assert.True(t, errors.IsKind(err, errors.KindWriteBack))

	rev, err := s.Put(ctx, resolve.ResolvedDocument{ID: id, Data: conflict.Document{"id": id, "title": "merged"}}, []string{primary, other})
	require.NoError(t, err)
	require.NoError(t, s.RemoveRevision(ctx, id, other))
	assert.True(t, errors.IsKind(s.RemoveRevision(ctx, id, rev), errors.KindInvalid))

	doc, err = s.GetWithConflicts(ctx, id)
	require.NoError(t, err)
	assert.Empty(t, doc.ConflictingRevisions)
	assert.Equal(t, "merged", doc.Primary.Data["title"])

	ids, err := s.FindByField(ctx, "title", "merged")
	require.NoError(t, err)
	assert.Contains(t, ids, id)
}

func TestStore_ChangeFeed(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	id := docID("feed")

	_, err := s.Write(ctx, id, conflict.Document{"title": "a"})
	require.NoError(t, err)

	select {
	case got := <-s.Changes():
		assert.Equal(t, id, got)
	case <-time.After(10 * time.Second):
		t.Fatal("no notification received")
	}
}

func TestStore_Journals(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	id := docID("journal")

	rec := engine.EntryRecord{
		DocumentID: id, Type: conflict.EditEdit.String(), Severity: conflict.High.String(),
		ConflictingFields: []string{"priority"},
		Local:             engine.SnapshotRecord{Revision: `{"local":1}`, Data: conflict.Document{"priority": 2}},
		Remote:            engine.SnapshotRecord{Revision: `{"phone":1}`, Data: conflict.Document{"priority": 3}},
		EnqueuedAt:        t0,
	}
	require.NoError(t, s.SaveEntry(ctx, rec))
	records, err := s.LoadEntries(ctx)
	require.NoError(t, err)
	var found bool
	for _, r := range records {
		found = found || r.DocumentID == id
	}
	assert.True(t, found)
	require.NoError(t, s.DeleteEntry(ctx, id))

	require.NoError(t, s.Save(ctx, &engine.ResolutionMemento{ID: uuid.NewString(), DocumentID: id, Timestamp: t0, Strategy: "remote-wins"}))
	mementos, err := s.List(ctx, id)
	require.NoError(t, err)
	require.Len(t, mementos, 1)
	assert.Equal(t, "remote-wins", mementos[0].Strategy)
}
