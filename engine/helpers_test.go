package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/c0deZ3R0/docsync/conflict"
	"github.com/c0deZ3R0/docsync/revision"
)

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func testRev(node string) *revision.VectorClock {
	return revision.FromMap(map[string]uint64{node: 1})
}

// testConflict classifies an edit/edit conflict on title between two replicas.
func testConflict(t *testing.T, id, local, remote string) conflict.ConflictInfo {
	t.Helper()
	c, err := conflict.NewClassifier().Classify(id,
		conflict.Snapshot{ID: id, Revision: testRev("laptop"), Data: conflict.Document{"id": id, "title": local}, UpdatedAt: t0},
		conflict.Snapshot{ID: id, Revision: testRev("phone"), Data: conflict.Document{"id": id, "title": remote}, UpdatedAt: t0.Add(time.Minute)},
	)
	require.NoError(t, err)
	require.NotNil(t, c)
	return *c
}

// steppingClock returns a clock advancing one second per call.
func steppingClock() func() time.Time {
	var mu sync.Mutex
	now := t0
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		now = now.Add(time.Second)
		return now
	}
}

type memQueueJournal struct {
	mu      sync.Mutex
	entries map[string]EntryRecord
	fail    error
}

func newMemQueueJournal() *memQueueJournal {
	return &memQueueJournal{entries: make(map[string]EntryRecord)}
}

func (j *memQueueJournal) SaveEntry(_ context.Context, r EntryRecord) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.fail != nil {
		return j.fail
	}
	j.entries[r.DocumentID] = r
	return nil
}

func (j *memQueueJournal) DeleteEntry(_ context.Context, id string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	delete(j.entries, id)
	return nil
}

func (j *memQueueJournal) LoadEntries(context.Context) ([]EntryRecord, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]EntryRecord, 0, len(j.entries))
	for _, r := range j.entries {
		out = append(out, r)
	}
	return out, nil
}

func (j *memQueueJournal) len() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.entries)
}
