package engine_test

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c0deZ3R0/docsync/conflict"
	"github.com/c0deZ3R0/docsync/engine"
	"github.com/c0deZ3R0/docsync/errors"
	"github.com/c0deZ3R0/docsync/logging"
	"github.com/c0deZ3R0/docsync/resolve"
	"github.com/c0deZ3R0/docsync/revision"
	"github.com/c0deZ3R0/docsync/storage/memory"
)

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

type fixture struct {
	store   *memory.Store
	session *engine.Session
	metrics *engine.CountingCollector
	journal *engine.InMemoryJournal

	mu       sync.Mutex
	states   []string
	retries  int
	failures []error
	detected []conflict.ConflictInfo
	resolved []resolve.ResolutionResult
}

func newFixture(t *testing.T, store *memory.Store, opts ...engine.Option) *fixture {
	t.Helper()
	if store == nil {
		store = memory.New(memory.WithClock(func() time.Time { return t0 }))
	}
	f := &fixture{
		store:   store,
		metrics: engine.NewCountingCollector(),
		journal: engine.NewInMemoryJournal(),
	}
	hooks := engine.Hooks{
		OnStateChange: func(id string, from, to engine.State) {
			f.mu.Lock()
			defer f.mu.Unlock()
			f.states = append(f.states, fmt.Sprintf("%s>%s", from, to))
		},
		OnRetry: func(string, int, error) {
			f.mu.Lock()
			defer f.mu.Unlock()
			f.retries++
		},
		OnAutoResolveFailed: func(_ conflict.ConflictInfo, err error) {
			f.mu.Lock()
			defer f.mu.Unlock()
			f.failures = append(f.failures, err)
		},
	}
	base := []engine.Option{
		engine.WithHooks(hooks),
		engine.WithMetrics(f.metrics),
		engine.WithJournal(f.journal),
	}
	s, err := engine.NewSession(context.Background(), store, append(base, opts...)...)
	require.NoError(t, err)
	s.OnConflictDetected(func(c conflict.ConflictInfo) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.detected = append(f.detected, c)
	})
	s.OnResolved(func(r resolve.ResolutionResult) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.resolved = append(f.resolved, r)
	})
	f.session = s
	t.Cleanup(func() { _ = s.Close() })
	return f
}

func (f *fixture) primary(t *testing.T, id string) engine.DocumentWithConflicts {
	t.Helper()
	doc, err := f.store.GetWithConflicts(context.Background(), id)
	require.NoError(t, err)
	return doc
}

func baseTask(id string) conflict.Document {
	return conflict.Document{"id": id, "title": "Write report", "status": "todo", "priority": 1}
}

func with(doc conflict.Document, kv ...any) conflict.Document {
	out := doc.Clone()
	for i := 0; i+1 < len(kv); i += 2 {
		out[kv[i].(string)] = kv[i+1]
	}
	return out
}

// seed writes base locally, then a local edit and a concurrent remote edit,
// both descending from base.
func seed(t *testing.T, s *memory.Store, id string, local, remote conflict.Document) {
	t.Helper()
	ctx := context.Background()
	_, err := s.Write(ctx, id, baseTask(id))
	require.NoError(t, err)
	_, err = s.Write(ctx, id, local)
	require.NoError(t, err)
	require.NoError(t, s.Replicate(ctx, conflict.Snapshot{
		ID:        id,
		Revision:  revision.FromMap(map[string]uint64{"local": 1, "phone": 1}),
		Data:      remote,
		UpdatedAt: t0.Add(time.Minute),
	}))
}

func seedMerge(t *testing.T, s *memory.Store, id string) {
	seed(t, s, id, with(baseTask(id), "status", "done"), with(baseTask(id), "title", "Write Q3 report"))
}

func seedEditEdit(t *testing.T, s *memory.Store, id string) {
	seed(t, s, id, with(baseTask(id), "priority", 2), with(baseTask(id), "priority", 3))
}

func TestSession_AutoMergesDisjointEdits(t *testing.T) {
	f := newFixture(t, nil)
	seedMerge(t, f.store, "task-1")

	require.NoError(t, f.session.HandleChange(context.Background(), "task-1"))

	doc := f.primary(t, "task-1")
	assert.Empty(t, doc.ConflictingRevisions)
	assert.Equal(t, "Write Q3 report", doc.Primary.Data["title"])
	assert.Equal(t, "done", doc.Primary.Data["status"])
	assert.Empty(t, f.session.GetPendingConflicts())
	assert.Empty(t, f.detected)
	require.Len(t, f.resolved, 1)
	assert.Equal(t, conflict.FieldMerge, f.resolved[0].ResolutionType)

	assert.Equal(t, []string{
		"State(0)>DETECTED",
		"DETECTED>AUTO_RESOLVING",
		"AUTO_RESOLVING>RESOLVING",
		"RESOLVING>RESOLVED",
	}, f.states)

	mementos, err := f.journal.List(context.Background(), "task-1")
	require.NoError(t, err)
	require.Len(t, mementos, 1)
	assert.Equal(t, "field-merge", mementos[0].Strategy)
	assert.Equal(t, "MERGE_CANDIDATES", mementos[0].ConflictType)
	assert.Equal(t, doc.Primary.Revision.String(), mementos[0].ResolvedRevision)

	m := f.metrics.Snapshot()
	assert.Equal(t, 1, m.Classifications[conflict.MergeCandidates])
	assert.Equal(t, 1, m.Resolutions["field-merge"])
}

func TestSession_QueuesHighSeverityEdits(t *testing.T) {
	f := newFixture(t, nil)
	seedEditEdit(t, f.store, "task-1")
	ctx := context.Background()

	require.NoError(t, f.session.HandleChange(ctx, "task-1"))
	require.NoError(t, f.session.HandleChange(ctx, "task-1"))

	pending := f.session.GetPendingConflicts()
	require.Len(t, pending, 1)
	assert.Equal(t, conflict.EditEdit, pending[0].Type)
	assert.Equal(t, conflict.High, pending[0].Severity)
	assert.Equal(t, conflict.Manual, pending[0].SuggestedResolution)
	assert.Equal(t, []string{"priority"}, pending[0].ConflictingFields)
	assert.Len(t, f.detected, 1, "listeners fire once per new conflict")
	assert.Len(t, f.primary(t, "task-1").ConflictingRevisions, 1)
}

func TestSession_ResolveManually(t *testing.T) {
	f := newFixture(t, nil)
	seedEditEdit(t, f.store, "task-1")
	ctx := context.Background()
	require.NoError(t, f.session.HandleChange(ctx, "task-1"))

	result, err := f.session.ResolveManually(ctx, "task-1", map[string]resolve.Selection{
		"priority": resolve.UseRemote(),
	})
	require.NoError(t, err)
	assert.True(t, result.Success)

	doc := f.primary(t, "task-1")
	assert.Empty(t, doc.ConflictingRevisions)
	assert.EqualValues(t, 3, doc.Primary.Data["priority"])
	assert.Empty(t, f.session.GetPendingConflicts())
	assert.Len(t, f.resolved, 1)
}

func TestSession_ManualFailureKeepsSelections(t *testing.T) {
	f := newFixture(t, nil)
	seedEditEdit(t, f.store, "task-1")
	ctx := context.Background()
	require.NoError(t, f.session.HandleChange(ctx, "task-1"))

	sel := map[string]resolve.Selection{"status": resolve.UseLocal()}
	_, err := f.session.ResolveManually(ctx, "task-1", sel)
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindValidation))

	e, ok := f.session.Queue().Get("task-1")
	require.True(t, ok)
	assert.Equal(t, sel, e.Selections)
	assert.Equal(t, 1, e.Attempts)
	assert.NotEmpty(t, e.LastError)
	assert.Len(t, f.primary(t, "task-1").ConflictingRevisions, 1, "nothing was written")

	// Completing the selections later uses the saved ones.
	require.NoError(t, f.session.Queue().SaveSelections("task-1", map[string]resolve.Selection{
		"priority": resolve.UseLiteral(5),
	}))
	_, err = f.session.ResolveOne(ctx, "task-1", "manual", resolve.Options{})
	require.NoError(t, err)
	assert.EqualValues(t, 5, f.primary(t, "task-1").Primary.Data["priority"])
}

func TestSession_LowSeverityLastWriteWins(t *testing.T) {
	f := newFixture(t, nil)
	base := with(baseTask("task-1"), "metadata", map[string]any{"color": "red"})
	ctx := context.Background()
	_, err := f.store.Write(ctx, "task-1", base)
	require.NoError(t, err)
	_, err = f.store.Write(ctx, "task-1", with(base, "metadata", map[string]any{"color": "blue"}))
	require.NoError(t, err)
	require.NoError(t, f.store.Replicate(ctx, conflict.Snapshot{
		ID:        "task-1",
		Revision:  revision.FromMap(map[string]uint64{"local": 1, "phone": 1}),
		Data:      with(base, "metadata", map[string]any{"color": "green"}),
		UpdatedAt: t0.Add(time.Minute),
	}))

	require.NoError(t, f.session.HandleChange(ctx, "task-1"))
	doc := f.primary(t, "task-1")
	assert.Equal(t, map[string]any{"color": "green"}, doc.Primary.Data["metadata"])
	require.Len(t, f.resolved, 1)
	assert.Equal(t, conflict.LastWriteWins, f.resolved[0].ResolutionType)
}

func TestSession_EditDeleteIsNeverAutoResolved(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	_, err := f.store.Write(ctx, "task-1", baseTask("task-1"))
	require.NoError(t, err)
	_, err = f.store.Write(ctx, "task-1", with(baseTask("task-1"), "status", "done"))
	require.NoError(t, err)
	require.NoError(t, f.store.Replicate(ctx, conflict.Snapshot{
		ID:       "task-1",
		Revision: revision.FromMap(map[string]uint64{"local": 1, "phone": 1}),
		Deleted:  true,
	}))

	require.NoError(t, f.session.HandleChange(ctx, "task-1"))
	pending := f.session.GetPendingConflicts()
	require.Len(t, pending, 1)
	assert.Equal(t, conflict.EditDelete, pending[0].Type)
	assert.False(t, pending[0].CanAutoResolve)

	_, err = f.session.ResolveOne(ctx, "task-1", "local-wins", resolve.Options{})
	require.NoError(t, err)
	doc := f.primary(t, "task-1")
	assert.False(t, doc.Primary.Deleted)
	assert.Equal(t, "done", doc.Primary.Data["status"])
}

func TestSession_ChainedConflicts(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	id := "task-1"
	_, err := f.store.Write(ctx, id, baseTask(id))
	require.NoError(t, err)
	_, err = f.store.Write(ctx, id, with(baseTask(id), "status", "done"))
	require.NoError(t, err)
	require.NoError(t, f.store.Replicate(ctx, conflict.Snapshot{
		ID: id, Revision: revision.FromMap(map[string]uint64{"local": 1, "phone": 1}),
		Data: with(baseTask(id), "title", "Write Q3 report"), UpdatedAt: t0.Add(time.Minute),
	}))
	require.NoError(t, f.store.Replicate(ctx, conflict.Snapshot{
		ID: id, Revision: revision.FromMap(map[string]uint64{"local": 1, "tablet": 1}),
		Data: with(baseTask(id), "description", "Include charts"), UpdatedAt: t0.Add(2 * time.Minute),
	}))
	require.Len(t, f.primary(t, id).ConflictingRevisions, 2)

	require.NoError(t, f.session.HandleChange(ctx, id))

	doc := f.primary(t, id)
	assert.Empty(t, doc.ConflictingRevisions)
	assert.Equal(t, "done", doc.Primary.Data["status"])
	assert.Equal(t, "Write Q3 report", doc.Primary.Data["title"])
	assert.Equal(t, "Include charts", doc.Primary.Data["description"])
	assert.Len(t, f.resolved, 2, "one pairwise resolution per conflicting revision")
}

func TestSession_IdenticalRevisionsArePruned(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	_, err := f.store.Write(ctx, "task-1", baseTask("task-1"))
	require.NoError(t, err)
	require.NoError(t, f.store.Replicate(ctx, conflict.Snapshot{
		ID: "task-1", Revision: revision.FromMap(map[string]uint64{"phone": 1}), Data: baseTask("task-1"),
	}))
	require.Len(t, f.primary(t, "task-1").ConflictingRevisions, 1)

	require.NoError(t, f.session.HandleChange(ctx, "task-1"))
	assert.Empty(t, f.primary(t, "task-1").ConflictingRevisions)
	assert.Empty(t, f.resolved)
}

func racingStore(times int) (*memory.Store, *int) {
	var store *memory.Store
	raced := 0
	store = memory.New(
		memory.WithClock(func() time.Time { return t0 }),
		memory.WithBeforePut(func(id string) {
			if raced >= times {
				return
			}
			raced++
			doc, err := store.GetWithConflicts(context.Background(), id)
			if err != nil {
				return
			}
			_, _ = store.Write(context.Background(), id, with(doc.Primary.Data, "notes", fmt.Sprintf("race %d", raced)))
		}),
	)
	return store, &raced
}

func TestSession_WriteBackRaceRetries(t *testing.T) {
	store, raced := racingStore(1)
	f := newFixture(t, store)
	seedMerge(t, store, "task-1")

	require.NoError(t, f.session.HandleChange(context.Background(), "task-1"))

	assert.Equal(t, 1, *raced)
	assert.Equal(t, 1, f.retries)
	assert.Equal(t, 1, f.metrics.Snapshot().Retries)
	doc := f.primary(t, "task-1")
	assert.Empty(t, doc.ConflictingRevisions)
	assert.Equal(t, "race 1", doc.Primary.Data["notes"])
	assert.Equal(t, "Write Q3 report", doc.Primary.Data["title"])
}

func TestSession_WriteBackRetriesExhausted(t *testing.T) {
	store, raced := racingStore(100)
	f := newFixture(t, store)
	seedMerge(t, store, "task-1")

	require.NoError(t, f.session.HandleChange(context.Background(), "task-1"))

	assert.Equal(t, engine.DefaultMaxWriteBackRetries+1, *raced)
	assert.Equal(t, engine.DefaultMaxWriteBackRetries, f.retries)
	require.Len(t, f.failures, 1)
	assert.True(t, errors.IsRetryable(f.failures[0]))
	assert.Empty(t, f.detected, "auto-resolution failures are not surfaced as new conflicts")

	e, ok := f.session.Queue().Get("task-1")
	require.True(t, ok)
	assert.Equal(t, 1, e.Attempts)
	assert.NotEmpty(t, e.LastError)
}

func TestSession_WriteBackRetriesDisabled(t *testing.T) {
	zero := 0
	store, raced := racingStore(100)
	f := newFixture(t, store, engine.WithConfig(engine.Config{MaxWriteBackRetries: &zero}))
	seedMerge(t, store, "task-1")

	require.NoError(t, f.session.HandleChange(context.Background(), "task-1"))

	assert.Equal(t, 1, *raced)
	assert.Zero(t, f.retries)
	require.Len(t, f.failures, 1)
	_, queued := f.session.Queue().Get("task-1")
	assert.True(t, queued)
}

func TestSession_SameDocumentResolutionsAreSerialized(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	store := memory.New(
		memory.WithClock(func() time.Time { return t0 }),
		memory.WithBeforePut(func(id string) {
			if id != "task-1" {
				return
			}
			once.Do(func() {
				close(entered)
				<-release
			})
		}),
	)
	f := newFixture(t, store)
	seedEditEdit(t, store, "task-1")
	seedEditEdit(t, store, "task-2")
	ctx := context.Background()

	firstErr := make(chan error, 1)
	go func() {
		_, err := f.session.ResolveOne(ctx, "task-1", "local-wins", resolve.Options{})
		firstErr <- err
	}()
	<-entered

	secondErr := make(chan error, 1)
	go func() {
		_, err := f.session.ResolveOne(ctx, "task-1", "remote-wins", resolve.Options{})
		secondErr <- err
	}()

	// Another document is not held up by task-1's lock.
	_, err := f.session.ResolveOne(ctx, "task-2", "remote-wins", resolve.Options{})
	require.NoError(t, err)
	assert.EqualValues(t, 3, f.primary(t, "task-2").Primary.Data["priority"])

	assert.Never(t, func() bool { return len(secondErr) > 0 }, 100*time.Millisecond, 10*time.Millisecond,
		"a second resolution of task-1 waits for the first")

	close(release)
	require.NoError(t, <-firstErr)
	err = <-secondErr
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindNotFound), "the second caller sees the conflict already resolved")

	doc := f.primary(t, "task-1")
	assert.Empty(t, doc.ConflictingRevisions)
	assert.EqualValues(t, 2, doc.Primary.Data["priority"])
}

func TestSession_ReloadedConfigAppliesToLaterDetections(t *testing.T) {
	f := newFixture(t, nil)
	level := logging.NewDynamicLevelVar(slog.LevelInfo)
	loader := engine.NewConfigLoader(engine.WithWatcher(engine.NewReloadWatcher(f.session, level, nil)))
	require.NoError(t, loader.LoadFromBytes([]byte("max_auto_resolve_severity: low\n"), "yaml"))
	ctx := context.Background()

	seedEditEdit(t, f.store, "task-1")
	require.NoError(t, f.session.HandleChange(ctx, "task-1"))
	_, queued := f.session.Queue().Get("task-1")
	require.True(t, queued, "priority edits are high severity")

	require.NoError(t, loader.LoadFromBytes([]byte(`
max_auto_resolve_severity: high
log:
  level: debug
`), "yaml"))
	assert.Equal(t, slog.LevelDebug, level.Level())

	seedEditEdit(t, f.store, "task-2")
	require.NoError(t, f.session.HandleChange(ctx, "task-2"))
	_, queued = f.session.Queue().Get("task-2")
	assert.False(t, queued)
	assert.Empty(t, f.primary(t, "task-2").ConflictingRevisions)
	require.Len(t, f.resolved, 1)
	assert.Equal(t, conflict.LastWriteWins, f.resolved[0].ResolutionType)

	_, queued = f.session.Queue().Get("task-1")
	assert.True(t, queued, "queued conflicts keep their classification")

	assert.Error(t, f.session.Reconfigure(engine.Config{MaxAutoResolveSeverity: "extreme"}))
}

type renameStrategy struct{}

func (renameStrategy) Name() string                  { return "rename" }
func (renameStrategy) Type() conflict.ResolutionType { return conflict.Custom }
func (renameStrategy) Resolve(_ context.Context, c conflict.ConflictInfo, _ resolve.Options) (resolve.ResolutionResult, error) {
	data := c.LocalVersion.Data.Clone()
	data["id"] = "someone-else"
	return resolve.ResolutionResult{
		Success:          true,
		ResolvedDocument: resolve.ResolvedDocument{ID: c.DocumentID, Data: data},
		ResolutionType:   conflict.Custom,
		FieldsResolved:   c.ConflictingFields,
		Superseded:       []string{c.LocalVersion.RevisionString(), c.RemoteVersion.RevisionString()},
	}, nil
}

func TestSession_ValidationFailsClosed(t *testing.T) {
	reg := resolve.NewDefaultRegistry()
	require.NoError(t, reg.Register(renameStrategy{}))
	f := newFixture(t, nil, engine.WithRegistry(reg))
	seedEditEdit(t, f.store, "task-1")
	ctx := context.Background()
	require.NoError(t, f.session.HandleChange(ctx, "task-1"))

	result, err := f.session.ResolveOne(ctx, "task-1", "rename", resolve.Options{})
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindValidation))
	assert.False(t, result.Success)
	assert.Len(t, f.primary(t, "task-1").ConflictingRevisions, 1)
	assert.Len(t, f.session.GetPendingConflicts(), 1)
	assert.Contains(t, f.states, "RESOLVING>DETECTED")

	_, err = f.session.ResolveOne(ctx, "task-1", "no-such-strategy", resolve.Options{})
	assert.True(t, errors.IsKind(err, errors.KindUnknownStrategy))
}

func TestSession_ResolveBulk(t *testing.T) {
	f := newFixture(t, nil)
	seedEditEdit(t, f.store, "a")
	seedEditEdit(t, f.store, "b")
	ctx := context.Background()
	require.NoError(t, f.session.HandleChange(ctx, "a"))
	require.NoError(t, f.session.HandleChange(ctx, "b"))

	results := f.session.ResolveBulk(ctx, []string{"b", "missing", "a"}, "remote-wins")
	require.Len(t, results, 3)
	assert.Equal(t, "b", results[0].DocumentID)
	assert.NoError(t, results[0].Err)
	assert.True(t, errors.IsKind(results[1].Err, errors.KindNotFound))
	assert.NoError(t, results[2].Err)
	assert.Empty(t, f.session.GetPendingConflicts())
	assert.EqualValues(t, 3, f.primary(t, "a").Primary.Data["priority"])
}

func TestSession_StaleEntryDropped(t *testing.T) {
	f := newFixture(t, nil)
	seedEditEdit(t, f.store, "task-1")
	ctx := context.Background()
	require.NoError(t, f.session.HandleChange(ctx, "task-1"))
	require.Len(t, f.session.GetPendingConflicts(), 1)

	for _, rev := range f.primary(t, "task-1").ConflictingRevisions {
		require.NoError(t, f.store.RemoveRevision(ctx, "task-1", rev))
	}
	require.NoError(t, f.session.HandleChange(ctx, "task-1"))
	assert.Empty(t, f.session.GetPendingConflicts())

	_, err := f.session.ResolveOne(ctx, "task-1", "local-wins", resolve.Options{})
	assert.True(t, errors.IsKind(err, errors.KindNotFound))
}

func TestSession_DiscardAndClose(t *testing.T) {
	f := newFixture(t, nil)
	seedEditEdit(t, f.store, "task-1")
	ctx := context.Background()
	require.NoError(t, f.session.HandleChange(ctx, "task-1"))

	ok, err := f.session.Discard(ctx, "task-1")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, _ = f.session.Discard(ctx, "task-1")
	assert.False(t, ok)

	require.NoError(t, f.session.HandleChange(ctx, "task-1"))
	require.NoError(t, f.session.Close())
	assert.Empty(t, f.session.GetPendingConflicts())

	err = f.session.HandleChange(ctx, "task-1")
	assert.True(t, errors.IsKind(err, errors.KindClosed))
	_, err = f.session.ResolveManually(ctx, "task-1", nil)
	assert.True(t, errors.IsKind(err, errors.KindClosed))
}

func TestSession_Run(t *testing.T) {
	f := newFixture(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.session.Run(ctx, f.store.Changes()) }()

	seedMerge(t, f.store, "task-1")
	assert.Eventually(t, func() bool {
		doc, err := f.store.GetWithConflicts(context.Background(), "task-1")
		return err == nil && len(doc.ConflictingRevisions) == 0 && doc.Primary.Data["title"] == "Write Q3 report" &&
			doc.Primary.Data["status"] == "done"
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

type memQueueJournal struct {
	mu      sync.Mutex
	entries map[string]engine.EntryRecord
}

func (j *memQueueJournal) SaveEntry(_ context.Context, r engine.EntryRecord) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries[r.DocumentID] = r
	return nil
}

func (j *memQueueJournal) DeleteEntry(_ context.Context, id string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	delete(j.entries, id)
	return nil
}

func (j *memQueueJournal) LoadEntries(context.Context) ([]engine.EntryRecord, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	var out []engine.EntryRecord
	for _, r := range j.entries {
		out = append(out, r)
	}
	return out, nil
}

func TestSession_RestoresPersistedQueue(t *testing.T) {
	j := &memQueueJournal{entries: make(map[string]engine.EntryRecord)}
	store := memory.New(memory.WithClock(func() time.Time { return t0 }))
	seedEditEdit(t, store, "task-1")
	ctx := context.Background()

	first := newFixture(t, store, engine.WithPersistentQueue(j))
	require.NoError(t, first.session.HandleChange(ctx, "task-1"))
	require.NoError(t, first.session.Queue().SaveSelections("task-1", map[string]resolve.Selection{
		"priority": resolve.UseLocal(),
	}))
	require.NoError(t, first.session.Close())

	j.entries["ghost"] = engine.EntryRecord{
		DocumentID: "ghost",
		Local:      engine.SnapshotRecord{Revision: `{"a":1}`, Data: conflict.Document{"x": 1}},
		Remote:     engine.SnapshotRecord{Revision: `{"b":1}`, Data: conflict.Document{"x": 1}},
	}

	second := newFixture(t, store, engine.WithPersistentQueue(j))
	pending := second.session.GetPendingConflicts()
	require.Len(t, pending, 1)
	assert.Equal(t, "task-1", pending[0].DocumentID)
	assert.Equal(t, []string{"priority"}, pending[0].ConflictingFields)
	e, _ := second.session.Queue().Get("task-1")
	assert.Equal(t, resolve.UseLocal(), e.Selections["priority"])
	assert.NotContains(t, j.entries, "ghost", "entries without a difference are dropped")

	_, err := second.session.ResolveOne(ctx, "task-1", "manual", resolve.Options{})
	require.NoError(t, err)
	assert.Empty(t, j.entries)
}

func TestSession_ResolutionRules(t *testing.T) {
	ctx := context.Background()

	t.Run("manual rule queues a mergeable conflict", func(t *testing.T) {
		f := newFixture(t, nil, engine.WithRules(resolve.Rule{
			Name:    "title-review",
			Match:   resolve.AnyFieldIn("title"),
			Suggest: conflict.Manual,
		}))
		seed(t, f.store, "task-1", with(baseTask("task-1"), "status", "done"), with(baseTask("task-1"), "title", "Write Q3 report"))

		require.NoError(t, f.session.HandleChange(ctx, "task-1"))
		pending := f.session.GetPendingConflicts()
		require.Len(t, pending, 1)
		assert.Equal(t, conflict.Manual, pending[0].SuggestedResolution)
		assert.False(t, pending[0].CanAutoResolve)
	})

	t.Run("config rule picks the auto strategy", func(t *testing.T) {
		cfg := engine.DefaultConfig()
		cfg.Rules = []engine.RuleConfig{{Name: "remote-first", AllFields: []string{"status", "title"}, Suggest: "remote-wins"}}
		f := newFixture(t, nil, engine.WithConfig(cfg))
		seed(t, f.store, "task-1", with(baseTask("task-1"), "status", "done"), with(baseTask("task-1"), "title", "Write Q3 report"))

		require.NoError(t, f.session.HandleChange(ctx, "task-1"))
		assert.Empty(t, f.session.GetPendingConflicts())
		doc := f.primary(t, "task-1")
		assert.Equal(t, "Write Q3 report", doc.Primary.Data["title"])
		assert.Equal(t, "todo", doc.Primary.Data["status"], "remote wins wholesale")
	})

	t.Run("invalid config rule", func(t *testing.T) {
		cfg := engine.DefaultConfig()
		cfg.Rules = []engine.RuleConfig{{Name: "bad", Suggest: "coin-flip"}}
		_, err := engine.NewSession(ctx, memory.New(), engine.WithConfig(cfg))
		assert.True(t, errors.IsKind(err, errors.KindInvalid))
	})
}
