package sqlite

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c0deZ3R0/docsync/conflict"
	"github.com/c0deZ3R0/docsync/engine"
	"github.com/c0deZ3R0/docsync/errors"
	"github.com/c0deZ3R0/docsync/resolve"
	"github.com/c0deZ3R0/docsync/revision"
)

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T, mutate ...func(*Config)) *Store {
	t.Helper()
	config := DefaultConfig(filepath.Join(t.TempDir(), "docs.db"))
	config.Now = func() time.Time { return t0 }
	for _, m := range mutate {
		m(config)
	}
	store, err := New(config)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func remote(id string, clock map[string]uint64, data conflict.Document) conflict.Snapshot {
	return conflict.Snapshot{ID: id, Revision: revision.FromMap(clock), Data: data, UpdatedAt: t0.Add(time.Minute)}
}

func TestStore_WALAndPoolDefaults(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "defaults.db")
	config := DefaultConfig(dbPath)
	assert.True(t, config.EnableWAL)
	assert.True(t, config.Compress)
	assert.Equal(t, 25, config.MaxOpenConns)
	assert.Equal(t, 5, config.MaxIdleConns)
	assert.Equal(t, time.Hour, config.ConnMaxLifetime)
	assert.Equal(t, 5*time.Minute, config.ConnMaxIdleTime)
	assert.Equal(t, "local", config.ReplicaID)

	store, err := New(config)
	require.NoError(t, err)
	defer store.Close()

	var journalMode string
	require.NoError(t, store.db.QueryRow("PRAGMA journal_mode;").Scan(&journalMode))
	assert.Equal(t, "wal", journalMode)

	var busyTimeout int
	require.NoError(t, store.db.QueryRow("PRAGMA busy_timeout;").Scan(&busyTimeout))
	assert.Equal(t, 5000, busyTimeout)

	var syncMode int
	require.NoError(t, store.db.QueryRow("PRAGMA synchronous;").Scan(&syncMode))
	assert.Equal(t, 1, syncMode, "synchronous should be NORMAL")

	_, err = store.Write(context.Background(), "task-1", conflict.Document{"title": "a"})
	require.NoError(t, err)
	_, err = os.Stat(dbPath + "-wal")
	assert.NoError(t, err, "WAL file should exist")
}

func TestConfig_DataSourceParams(t *testing.T) {
	config := &Config{DataSourceName: "docs.db?_journal_mode=DELETE", EnableWAL: true}
	config.setDefaults()
	assert.Equal(t, "docs.db?_journal_mode=DELETE&_txlock=immediate&_busy_timeout=5000&_synchronous=NORMAL", config.DataSourceName)

	mem := &Config{DataSourceName: ":memory:"}
	mem.setDefaults()
	assert.Equal(t, 1, mem.MaxOpenConns)
	assert.Equal(t, ":memory:?_txlock=immediate", mem.DataSourceName)

	_, err := New(nil)
	assert.True(t, errors.IsKind(err, errors.KindInvalid))
	_, err = New(&Config{})
	assert.True(t, errors.IsKind(err, errors.KindInvalid))
}

func TestStore_InMemory(t *testing.T) {
	store, err := New(&Config{DataSourceName: ":memory:"})
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	_, err = store.Write(ctx, "task-1", conflict.Document{"title": "a"})
	require.NoError(t, err)
	ids, err := store.Documents(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"task-1"}, ids)
}

func TestStore_WriteAndGet(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	rev1, err := s.Write(ctx, "task-1", conflict.Document{"id": "task-1", "title": "a", "priority": 2})
	require.NoError(t, err)
	assert.Equal(t, `{"local":1}`, rev1)

	rev2, err := s.Write(ctx, "task-1", conflict.Document{"id": "task-1", "title": "b"})
	require.NoError(t, err)
	assert.Equal(t, `{"local":2}`, rev2)

	doc, err := s.GetWithConflicts(ctx, "task-1")
	require.NoError(t, err)
	assert.Equal(t, rev2, doc.Primary.Revision.String())
	assert.Equal(t, "b", doc.Primary.Data["title"])
	assert.True(t, t0.Equal(doc.Primary.UpdatedAt))
	assert.Empty(t, doc.ConflictingRevisions)

	old, err := s.GetRevision(ctx, "task-1", rev1)
	require.NoError(t, err)
	assert.Equal(t, "a", old.Data["title"])
	n, ok := conflict.Number(old.Data["priority"])
	require.True(t, ok)
	assert.Equal(t, 2.0, n)

	_, err = s.GetWithConflicts(ctx, "missing")
	assert.True(t, errors.IsKind(err, errors.KindNotFound))
	_, err = s.GetRevision(ctx, "task-1", `{"x":9}`)
	assert.True(t, errors.IsKind(err, errors.KindNotFound))

	rev3, err := s.Delete(ctx, "task-1")
	require.NoError(t, err)
	tomb, err := s.GetRevision(ctx, "task-1", rev3)
	require.NoError(t, err)
	assert.True(t, tomb.Deleted)
	assert.Nil(t, tomb.Data)
}

func TestStore_FieldTombstonesSurvive(t *testing.T) {
	ctx := context.Background()
	for _, compress := range []bool{true, false} {
		s := newTestStore(t, func(c *Config) { c.Compress = compress })
		rev, err := s.Write(ctx, "task-1", conflict.Document{
			"notes": conflict.Tombstone{DeletedAt: t0, DeletedBy: "phone"},
		})
		require.NoError(t, err)
		snap, err := s.GetRevision(ctx, "task-1", rev)
		require.NoError(t, err)
		assert.Equal(t, conflict.Tombstone{DeletedAt: t0, DeletedBy: "phone"}, snap.Data["notes"])
	}
}

func TestStore_Replicate(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	_, err := s.Write(ctx, "task-1", conflict.Document{"title": "a"})
	require.NoError(t, err)

	t.Run("descendant replaces primary", func(t *testing.T) {
		require.NoError(t, s.Replicate(ctx, remote("task-1", map[string]uint64{"local": 1, "phone": 1}, conflict.Document{"title": "p"})))
		doc, err := s.GetWithConflicts(ctx, "task-1")
		require.NoError(t, err)
		assert.Equal(t, `{"local":1,"phone":1}`, doc.Primary.Revision.String())
		assert.True(t, t0.Add(time.Minute).Equal(doc.Primary.UpdatedAt))
		assert.Empty(t, doc.ConflictingRevisions)
	})

	t.Run("ancestor is history only", func(t *testing.T) {
		require.NoError(t, s.Replicate(ctx, remote("task-1", map[string]uint64{"phone": 1}, conflict.Document{"title": "old"})))
		doc, err := s.GetWithConflicts(ctx, "task-1")
		require.NoError(t, err)
		assert.Equal(t, `{"local":1,"phone":1}`, doc.Primary.Revision.String())
		assert.Empty(t, doc.ConflictingRevisions)
	})

	t.Run("concurrent becomes conflicting", func(t *testing.T) {
		_, err := s.Write(ctx, "task-1", conflict.Document{"title": "mine"})
		require.NoError(t, err)
		require.NoError(t, s.Replicate(ctx, remote("task-1", map[string]uint64{"local": 1, "phone": 2}, conflict.Document{"title": "theirs"})))
		require.NoError(t, s.Replicate(ctx, remote("task-1", map[string]uint64{"local": 1, "phone": 2}, conflict.Document{"title": "theirs"})), "replaying is a no-op")
		doc, err := s.GetWithConflicts(ctx, "task-1")
		require.NoError(t, err)
		assert.Equal(t, `{"local":2,"phone":1}`, doc.Primary.Revision.String())
		assert.Equal(t, []string{`{"local":1,"phone":2}`}, doc.ConflictingRevisions)

		ids, err := s.ConflictedDocuments(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"task-1"}, ids)
	})

	t.Run("descendant of a conflict drops it", func(t *testing.T) {
		require.NoError(t, s.Replicate(ctx, remote("task-1", map[string]uint64{"local": 1, "phone": 3}, conflict.Document{"title": "newer"})))
		doc, err := s.GetWithConflicts(ctx, "task-1")
		require.NoError(t, err)
		assert.Equal(t, []string{`{"local":1,"phone":3}`}, doc.ConflictingRevisions)
	})

	t.Run("unsupported revision", func(t *testing.T) {
		err := s.Replicate(ctx, conflict.Snapshot{ID: "task-1"})
		assert.True(t, errors.IsKind(err, errors.KindInvalid))
	})
}

func TestStore_PutAndRemove(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	primary, err := s.Write(ctx, "task-1", conflict.Document{"title": "mine"})
	require.NoError(t, err)
	other := `{"phone":1}`
	require.NoError(t, s.Replicate(ctx, remote("task-1", map[string]uint64{"phone": 1}, conflict.Document{"title": "theirs"})))

	_, err = s.Put(ctx, resolve.ResolvedDocument{ID: "task-1", Data: conflict.Document{"title": "x"}}, []string{other})
	assert.True(t, errors.IsKind(err, errors.KindWriteBack), "primary must be superseded")

	_, err = s.Put(ctx, resolve.ResolvedDocument{ID: "task-1"}, []string{primary, `{"ghost":1}`})
	assert.True(t, errors.IsKind(err, errors.KindWriteBack))

	_, err = s.Put(ctx, resolve.ResolvedDocument{ID: "missing"}, []string{primary})
	assert.True(t, errors.IsKind(err, errors.KindNotFound))

	rev, err := s.Put(ctx, resolve.ResolvedDocument{ID: "task-1", Data: conflict.Document{"title": "merged"}}, []string{primary, other})
	require.NoError(t, err)
	assert.Equal(t, `{"local":2,"phone":1}`, rev)

	doc, err := s.GetWithConflicts(ctx, "task-1")
	require.NoError(t, err)
	assert.Equal(t, "merged", doc.Primary.Data["title"])
	assert.Equal(t, []string{other}, doc.ConflictingRevisions, "conflicting revision stays until removed")

	require.NoError(t, s.RemoveRevision(ctx, "task-1", other))
	assert.True(t, errors.IsKind(s.RemoveRevision(ctx, "task-1", other), errors.KindNotFound))
	assert.True(t, errors.IsKind(s.RemoveRevision(ctx, "task-1", rev), errors.KindInvalid))

	doc, err = s.GetWithConflicts(ctx, "task-1")
	require.NoError(t, err)
	assert.Empty(t, doc.ConflictingRevisions)
	_, err = s.GetRevision(ctx, "task-1", other)
	assert.NoError(t, err, "removed revision stays in history")
}

func TestStore_CommonAncestor(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	base, err := s.Write(ctx, "task-1", conflict.Document{"title": "base"})
	require.NoError(t, err)
	mine, err := s.Write(ctx, "task-1", conflict.Document{"title": "mine"})
	require.NoError(t, err)
	require.NoError(t, s.Replicate(ctx, remote("task-1", map[string]uint64{"local": 1, "phone": 1}, conflict.Document{"title": "theirs"})))

	anc, ok, err := s.CommonAncestor(ctx, "task-1", mine, `{"local":1,"phone":1}`)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, base, anc.Revision.String())
	assert.Equal(t, "base", anc.Data["title"])

	_, _, err = s.CommonAncestor(ctx, "task-1", mine, `{"ghost":1}`)
	assert.True(t, errors.IsKind(err, errors.KindNotFound))
	_, _, err = s.CommonAncestor(ctx, "missing", mine, mine)
	assert.True(t, errors.IsKind(err, errors.KindNotFound))
}

func TestStore_ChangesAndClose(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, func(c *Config) { c.ChangeBuffer = 1 })
	_, err := s.Write(ctx, "a", conflict.Document{})
	require.NoError(t, err)
	_, err = s.Write(ctx, "b", conflict.Document{})
	require.NoError(t, err)

	assert.Equal(t, "a", <-s.Changes())
	assert.Equal(t, 1, s.Dropped())
	ids, err := s.Documents(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, ids)

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	_, open := <-s.Changes()
	assert.False(t, open)
	_, err = s.Write(ctx, "a", conflict.Document{})
	assert.True(t, errors.IsKind(err, errors.KindClosed))
	_, err = s.GetWithConflicts(ctx, "a")
	assert.True(t, errors.IsKind(err, errors.KindClosed))
	assert.Equal(t, 0, s.Stats().OpenConnections)
}

func TestStore_QueueJournal(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	first := engine.EntryRecord{
		DocumentID:        "task-2",
		Type:              conflict.EditEdit.String(),
		Severity:          conflict.High.String(),
		ConflictingFields: []string{"priority"},
		Local:             engine.SnapshotRecord{Revision: `{"local":1}`, Data: conflict.Document{"priority": 2}, UpdatedAt: t0},
		Remote:            engine.SnapshotRecord{Revision: `{"phone":1}`, Data: conflict.Document{"priority": 3}, UpdatedAt: t0},
		DetectedAt:        t0,
		EnqueuedAt:        t0,
		Selections:        map[string]resolve.Selection{"priority": resolve.UseRemote()},
	}
	second := first
	second.DocumentID = "task-1"
	second.EnqueuedAt = t0.Add(time.Minute)

	require.NoError(t, s.SaveEntry(ctx, second))
	require.NoError(t, s.SaveEntry(ctx, first))
	first.Attempts = 2
	first.LastError = "write-back failed"
	require.NoError(t, s.SaveEntry(ctx, first), "saving again replaces")

	records, err := s.LoadEntries(ctx)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "task-2", records[0].DocumentID)
	assert.Equal(t, 2, records[0].Attempts)
	assert.Equal(t, resolve.ChooseRemote, records[0].Selections["priority"].Choice)
	assert.Equal(t, "task-1", records[1].DocumentID)

	require.NoError(t, s.DeleteEntry(ctx, "task-2"))
	require.NoError(t, s.DeleteEntry(ctx, "task-2"))
	records, err = s.LoadEntries(ctx)
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestStore_ResolutionJournal(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	later := &engine.ResolutionMemento{ID: "m2", DocumentID: "task-1", Timestamp: t0.Add(time.Second), Strategy: "remote-wins"}
	earlier := &engine.ResolutionMemento{
		ID: "m1", DocumentID: "task-1", Timestamp: t0, Strategy: "field-merge",
		FieldsResolved: []string{"status", "title"},
		After:          conflict.Document{"title": "merged"},
	}
	require.NoError(t, s.Save(ctx, later))
	require.NoError(t, s.Save(ctx, earlier))
	require.NoError(t, s.Save(ctx, &engine.ResolutionMemento{ID: "m3", DocumentID: "task-2", Timestamp: t0}))
	assert.True(t, errors.IsKind(s.Save(ctx, &engine.ResolutionMemento{}), errors.KindInvalid))

	got, err := s.List(ctx, "task-1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "m1", got[0].ID)
	assert.Equal(t, []string{"status", "title"}, got[0].FieldsResolved)
	assert.Equal(t, "merged", got[0].After["title"])
	assert.Equal(t, "m2", got[1].ID)

	none, err := s.List(ctx, "missing")
	require.NoError(t, err)
	assert.Empty(t, none)
}
