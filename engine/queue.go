package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/c0deZ3R0/docsync/conflict"
	"github.com/c0deZ3R0/docsync/errors"
	"github.com/c0deZ3R0/docsync/logging"
	"github.com/c0deZ3R0/docsync/resolve"
)

// Entry is a conflict awaiting manual resolution.
type Entry struct {
	Conflict   conflict.ConflictInfo
	EnqueuedAt time.Time
	Attempts   int
	LastError  string

	// Selections preserves a user's in-progress manual choices.
	Selections map[string]resolve.Selection
}

func (e *Entry) clone() Entry {
	out := *e
	if e.Selections != nil {
		out.Selections = make(map[string]resolve.Selection, len(e.Selections))
		for k, v := range e.Selections {
			out.Selections[k] = v
		}
	}
	return out
}

// sameConflict reports whether c is between the same two revisions as the entry.
func (e *Entry) sameConflict(c conflict.ConflictInfo) bool {
	return e.Conflict.LocalVersion.RevisionString() == c.LocalVersion.RevisionString() &&
		e.Conflict.RemoteVersion.RevisionString() == c.RemoteVersion.RevisionString()
}

// QueueOption configures a Queue.
type QueueOption func(*Queue)

// WithQueueJournal persists entries so they survive restarts.
func WithQueueJournal(j QueueJournal) QueueOption {
	return func(q *Queue) { q.journal = j }
}

// WithQueueClock overrides the time source for EnqueuedAt.
func WithQueueClock(now func() time.Time) QueueOption {
	return func(q *Queue) {
		if now != nil {
			q.now = now
		}
	}
}

// WithQueueLogger sets the logger used for journal failures.
func WithQueueLogger(l *logging.Logger) QueueOption {
	return func(q *Queue) {
		if l != nil {
			q.logger = l
		}
	}
}

// Queue holds at most one conflict per document awaiting manual resolution.
// It has no capacity limit and is safe for concurrent use.
type Queue struct {
	mu      sync.RWMutex
	entries map[string]*Entry
	now     func() time.Time
	journal QueueJournal
	logger  *logging.Logger
}

// NewQueue creates an empty queue.
func NewQueue(opts ...QueueOption) *Queue {
	q := &Queue{
		entries: make(map[string]*Entry),
		now:     time.Now,
		logger:  logging.Nop(),
	}
	for _, opt := range opts {
		opt(q)
	}
	q.logger = q.logger.WithComponent(logging.ComponentQueue)
	return q
}

// Enqueue adds c, replacing any entry for the same document. It reports
// whether the conflict is new, i.e. not a re-classification of the same
// revision pair. A re-classification keeps the entry's age, attempts and
// selections; a new pair keeps only selections for paths that still conflict.
func (q *Queue) Enqueue(c conflict.ConflictInfo) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.put(c, nil)
}

// Requeue puts c back after a failed resolution attempt, recording cause.
func (q *Queue) Requeue(c conflict.ConflictInfo, cause error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.put(c, cause)
}

func (q *Queue) put(c conflict.ConflictInfo, cause error) bool {
	entry := &Entry{Conflict: c, EnqueuedAt: q.now()}
	old, exists := q.entries[c.DocumentID]
	fresh := !exists || !old.sameConflict(c)
	switch {
	case exists && !fresh:
		entry.EnqueuedAt = old.EnqueuedAt
		entry.Attempts = old.Attempts
		entry.LastError = old.LastError
		entry.Selections = old.Selections
	case exists:
		// The document moved on; keep choices for paths that still conflict.
		entry.Selections = carrySelections(old.Selections, c.ConflictingFields)
	}
	if cause != nil {
		entry.Attempts++
		entry.LastError = cause.Error()
	}
	q.entries[c.DocumentID] = entry
	q.persist(entry)
	return fresh
}

func carrySelections(sel map[string]resolve.Selection, fields []string) map[string]resolve.Selection {
	if len(sel) == 0 {
		return nil
	}
	out := make(map[string]resolve.Selection)
	for _, f := range fields {
		if v, ok := sel[f]; ok {
			out[f] = v
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// Dequeue removes the document's entry and reports whether one existed.
func (q *Queue) Dequeue(documentID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.entries[documentID]; !ok {
		return false
	}
	delete(q.entries, documentID)
	if q.journal != nil {
		if err := q.journal.DeleteEntry(context.Background(), documentID); err != nil {
			q.logger.LogError(context.Background(), err, "failed to delete queue entry",
				slog.String("document_id", documentID))
		}
	}
	return true
}

// Get returns a copy of the document's entry.
func (q *Queue) Get(documentID string) (Entry, bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	e, ok := q.entries[documentID]
	if !ok {
		return Entry{}, false
	}
	return e.clone(), true
}

// Entries returns copies of all entries, oldest first, ties broken by ID.
func (q *Queue) Entries() []Entry {
	q.mu.RLock()
	defer q.mu.RUnlock()
	out := make([]Entry, 0, len(q.entries))
	for _, e := range q.entries {
		out = append(out, e.clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].EnqueuedAt.Equal(out[j].EnqueuedAt) {
			return out[i].EnqueuedAt.Before(out[j].EnqueuedAt)
		}
		return out[i].Conflict.DocumentID < out[j].Conflict.DocumentID
	})
	return out
}

// ListPending returns the queued conflicts, oldest first.
func (q *Queue) ListPending() []conflict.ConflictInfo {
	entries := q.Entries()
	out := make([]conflict.ConflictInfo, len(entries))
	for i, e := range entries {
		out[i] = e.Conflict
	}
	return out
}

// Len returns the number of queued conflicts.
func (q *Queue) Len() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return len(q.entries)
}

// OldestEnqueuedAt returns the enqueue time of the oldest entry.
func (q *Queue) OldestEnqueuedAt() (time.Time, bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	var oldest time.Time
	for _, e := range q.entries {
		if oldest.IsZero() || e.EnqueuedAt.Before(oldest) {
			oldest = e.EnqueuedAt
		}
	}
	return oldest, !oldest.IsZero()
}

// Clear drops every entry. Persisted entries are kept so a later session can
// restore them.
func (q *Queue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.entries = make(map[string]*Entry)
}

// SaveSelections stores a user's in-progress manual selections.
func (q *Queue) SaveSelections(documentID string, sel map[string]resolve.Selection) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	e, ok := q.entries[documentID]
	if !ok {
		return errors.E(errors.OpEnqueue, errors.Component("engine/queue"), errors.KindNotFound,
			fmt.Sprintf("no queued conflict for %q", documentID))
	}
	e.Selections = make(map[string]resolve.Selection, len(sel))
	for k, v := range sel {
		e.Selections[k] = v
	}
	q.persist(e)
	return nil
}

// restore inserts a previously persisted entry as is.
func (q *Queue) restore(e Entry) {
	q.mu.Lock()
	defer q.mu.Unlock()
	cp := e.clone()
	q.entries[e.Conflict.DocumentID] = &cp
}

func (q *Queue) persist(e *Entry) {
	if q.journal == nil {
		return
	}
	if err := q.journal.SaveEntry(context.Background(), RecordOf(*e)); err != nil {
		q.logger.LogError(context.Background(), err, "failed to persist queue entry",
			slog.String("document_id", e.Conflict.DocumentID))
	}
}
