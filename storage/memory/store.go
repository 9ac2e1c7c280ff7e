// Package memory provides an in-memory ReplicaStore whose revisions are vector
// clocks. It keeps the full revision history of each document, so it can also
// supply common ancestors for three-way classification.
package memory

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/c0deZ3R0/docsync/conflict"
	"github.com/c0deZ3R0/docsync/engine"
	"github.com/c0deZ3R0/docsync/errors"
	"github.com/c0deZ3R0/docsync/logging"
	"github.com/c0deZ3R0/docsync/resolve"
	"github.com/c0deZ3R0/docsync/revision"
	"github.com/c0deZ3R0/docsync/storage/revtree"
)

const component = errors.Component("storage/memory")

// DefaultChangeBuffer is the capacity of the change feed channel.
const DefaultChangeBuffer = 256

type storedRevision struct {
	clock         *revision.VectorClock
	data          conflict.Document
	deleted       bool
	updatedAt     time.Time
	schemaVersion int
}

type document struct {
	primary   string
	conflicts []string
	history   map[string]*storedRevision
}

// Option configures a Store.
type Option func(*Store)

// WithReplicaID sets the replica that local writes and resolutions are
// attributed to. Defaults to "local".
func WithReplicaID(id string) Option {
	return func(s *Store) {
		if id != "" {
			s.replica = id
		}
	}
}

// WithClock overrides the time source for UpdatedAt.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// WithChangeBuffer sets the change feed capacity.
func WithChangeBuffer(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.buffer = n
		}
	}
}

// WithBeforePut registers fn to run at the start of every Put, before the
// store checks the superseded revisions. Tests use it to race a write.
func WithBeforePut(fn func(documentID string)) Option {
	return func(s *Store) { s.beforePut = fn }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// Store is an in-memory replica store. It is safe for concurrent use.
type Store struct {
	mu        sync.RWMutex
	docs      map[string]*document
	replica   string
	now       func() time.Time
	buffer    int
	changes   chan string
	closed    bool
	dropped   int
	beforePut func(documentID string)
	logger    *logging.Logger
}

var (
	_ engine.ReplicaStore   = (*Store)(nil)
	_ engine.ChangeFeed     = (*Store)(nil)
	_ engine.AncestorFinder = (*Store)(nil)
)

// New creates an empty store.
func New(opts ...Option) *Store {
	s := &Store{
		docs:    make(map[string]*document),
		replica: "local",
		now:     time.Now,
		buffer:  DefaultChangeBuffer,
		logger:  logging.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.changes = make(chan string, s.buffer)
	s.logger = s.logger.WithComponent(logging.ComponentStore)
	return s
}

// ReplicaID returns the local replica ID.
func (s *Store) ReplicaID() string { return s.replica }

// Write records a local edit on top of the document's primary revision and
// returns the new revision.
func (s *Store) Write(ctx context.Context, documentID string, data conflict.Document) (string, error) {
	return s.write(ctx, documentID, data, false)
}

// Delete records a local document deletion.
func (s *Store) Delete(ctx context.Context, documentID string) (string, error) {
	return s.write(ctx, documentID, nil, true)
}

func (s *Store) write(ctx context.Context, documentID string, data conflict.Document, deleted bool) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if documentID == "" {
		return "", errors.E(errors.OpStore, component, errors.KindInvalid, "document ID is required")
	}

	s.mu.Lock()
	if err := s.checkOpen(); err != nil {
		s.mu.Unlock()
		return "", err
	}
	d, ok := s.docs[documentID]
	if !ok {
		d = &document{history: make(map[string]*storedRevision)}
		s.docs[documentID] = d
	}
	clock := revision.NewVectorClock()
	if ok {
		clock = d.history[d.primary].clock.Clone()
	}
	if err := clock.Increment(s.replica); err != nil {
		s.mu.Unlock()
		return "", errors.E(errors.OpStore, component, errors.KindInvalid, err)
	}
	rev := clock.String()
	d.history[rev] = &storedRevision{clock: clock, data: data.Clone(), deleted: deleted, updatedAt: s.now()}
	d.primary = rev
	s.mu.Unlock()

	s.emit(documentID)
	return rev, nil
}

// Replicate applies a revision received from another replica. A revision that
// descends from the primary replaces it; one the primary descends from is
// kept as history only; a concurrent one becomes a conflicting revision.
func (s *Store) Replicate(ctx context.Context, snap conflict.Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	clock, ok := snap.Revision.(*revision.VectorClock)
	if !ok || clock == nil {
		return errors.E(errors.OpStore, component, errors.KindInvalid,
			fmt.Sprintf("unsupported revision type %T", snap.Revision))
	}
	if snap.ID == "" {
		return errors.E(errors.OpStore, component, errors.KindInvalid, "document ID is required")
	}

	s.mu.Lock()
	if err := s.checkOpen(); err != nil {
		s.mu.Unlock()
		return err
	}
	rev := clock.String()
	d, exists := s.docs[snap.ID]
	if !exists {
		d = &document{history: make(map[string]*storedRevision)}
		s.docs[snap.ID] = d
	}
	if _, known := d.history[rev]; known {
		s.mu.Unlock()
		return nil
	}
	updatedAt := snap.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = s.now()
	}
	d.history[rev] = &storedRevision{
		clock:         clock.Clone(),
		data:          snap.Data.Clone(),
		deleted:       snap.Deleted,
		updatedAt:     updatedAt,
		schemaVersion: snap.SchemaVersion,
	}

	var primary *revision.VectorClock
	if exists {
		primary = d.history[d.primary].clock
	}
	switch revtree.Place(primary, clock) {
	case revtree.Primary:
		d.primary = rev
		d.conflicts = s.undominated(d, clock)
	case revtree.Conflicting:
		d.conflicts = append(s.undominated(d, clock), rev)
	}
	s.mu.Unlock()

	s.emit(snap.ID)
	return nil
}

// undominated returns the conflicting revisions clock does not descend from.
func (s *Store) undominated(d *document, clock *revision.VectorClock) []string {
	var out []string
	for _, c := range d.conflicts {
		if clock.Compare(d.history[c].clock) <= 0 {
			out = append(out, c)
		}
	}
	return out
}

// GetWithConflicts returns the document's primary revision and its
// conflicting revisions.
func (s *Store) GetWithConflicts(ctx context.Context, documentID string) (engine.DocumentWithConflicts, error) {
	if err := ctx.Err(); err != nil {
		return engine.DocumentWithConflicts{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.docs[documentID]
	if !ok {
		return engine.DocumentWithConflicts{}, notFound(documentID, "")
	}
	return engine.DocumentWithConflicts{
		Primary:              snapshot(documentID, d.history[d.primary]),
		ConflictingRevisions: append([]string(nil), d.conflicts...),
	}, nil
}

// GetRevision returns any revision in the document's history.
func (s *Store) GetRevision(ctx context.Context, documentID, rev string) (conflict.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return conflict.Snapshot{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.docs[documentID]
	if !ok {
		return conflict.Snapshot{}, notFound(documentID, "")
	}
	r, ok := d.history[rev]
	if !ok {
		return conflict.Snapshot{}, notFound(documentID, rev)
	}
	return snapshot(documentID, r), nil
}

// Put stores doc as a new primary revision descending from every superseded
// revision. The primary revision must be among them; otherwise the document
// moved on since the resolution was computed and Put fails with
// errors.KindWriteBack. Superseded conflicting revisions stay listed until
// RemoveRevision is called for them.
func (s *Store) Put(ctx context.Context, doc resolve.ResolvedDocument, supersedes []string) (string, error) {
	if s.beforePut != nil {
		s.beforePut(doc.ID)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	s.mu.Lock()
	if err := s.checkOpen(); err != nil {
		s.mu.Unlock()
		return "", err
	}
	d, ok := s.docs[doc.ID]
	if !ok {
		s.mu.Unlock()
		return "", notFound(doc.ID, "")
	}
	clocks := make([]*revision.VectorClock, 0, len(supersedes))
	primaryListed := false
	for _, rev := range supersedes {
		r, ok := d.history[rev]
		if !ok {
			s.mu.Unlock()
			return "", errors.E(errors.OpStore, component, errors.KindWriteBack,
				fmt.Sprintf("unknown superseded revision %s", rev))
		}
		primaryListed = primaryListed || rev == d.primary
		clocks = append(clocks, r.clock)
	}
	if !primaryListed {
		s.mu.Unlock()
		return "", errors.E(errors.OpStore, component, errors.KindWriteBack,
			fmt.Sprintf("document %q moved on to revision %s", doc.ID, d.primary))
	}
	clock, err := revision.Supersede(s.replica, clocks...)
	if err != nil {
		s.mu.Unlock()
		return "", errors.E(errors.OpStore, component, errors.KindInvalid, err)
	}
	rev := clock.String()
	updatedAt := doc.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = s.now()
	}
	d.history[rev] = &storedRevision{clock: clock, data: doc.Data.Clone(), deleted: doc.Deleted, updatedAt: updatedAt}
	d.primary = rev
	s.mu.Unlock()

	s.emit(doc.ID)
	return rev, nil
}

// RemoveRevision drops a conflicting revision. The revision stays in history.
func (s *Store) RemoveRevision(ctx context.Context, documentID, rev string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.docs[documentID]
	if !ok {
		return notFound(documentID, "")
	}
	if rev == d.primary {
		return errors.E(errors.OpStore, component, errors.KindInvalid, "cannot remove the primary revision")
	}
	for i, c := range d.conflicts {
		if c == rev {
			d.conflicts = append(d.conflicts[:i], d.conflicts[i+1:]...)
			return nil
		}
	}
	return notFound(documentID, rev)
}

// CommonAncestor returns the most recent revision both a and b descend from.
func (s *Store) CommonAncestor(ctx context.Context, documentID, a, b string) (conflict.Snapshot, bool, error) {
	if err := ctx.Err(); err != nil {
		return conflict.Snapshot{}, false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.docs[documentID]
	if !ok {
		return conflict.Snapshot{}, false, notFound(documentID, "")
	}
	for _, rev := range []string{a, b} {
		if _, ok := d.history[rev]; !ok {
			return conflict.Snapshot{}, false, notFound(documentID, rev)
		}
	}

	history := make([]string, 0, len(d.history))
	for rev := range d.history {
		history = append(history, rev)
	}
	best, found, err := revtree.CommonAncestor(history, a, b)
	if err != nil || !found {
		return conflict.Snapshot{}, false, err
	}
	return snapshot(documentID, d.history[best]), true, nil
}

// Documents returns the stored document IDs in order.
func (s *Store) Documents() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.docs))
	for id := range s.docs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Changes returns the change feed. It is closed by Close.
func (s *Store) Changes() <-chan string { return s.changes }

// Dropped returns how many change notifications were dropped because the
// feed was full.
func (s *Store) Dropped() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dropped
}

// Close closes the change feed. Further writes fail with errors.KindClosed.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	close(s.changes)
	return nil
}

func (s *Store) checkOpen() error {
	if s.closed {
		return errors.E(errors.OpStore, component, errors.KindClosed, "store is closed")
	}
	return nil
}

func (s *Store) emit(documentID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.changes <- documentID:
	default:
		s.dropped++
		s.logger.Warn("change feed full, dropping notification", slog.String("document_id", documentID))
	}
}

func snapshot(documentID string, r *storedRevision) conflict.Snapshot {
	return conflict.Snapshot{
		ID:            documentID,
		Revision:      r.clock.Clone(),
		Data:          r.data.Clone(),
		UpdatedAt:     r.updatedAt,
		Deleted:       r.deleted,
		SchemaVersion: r.schemaVersion,
	}
}

func notFound(documentID, rev string) error {
	msg := fmt.Sprintf("document %q not found", documentID)
	if rev != "" {
		msg = fmt.Sprintf("revision %s of document %q not found", rev, documentID)
	}
	return errors.E(errors.OpLoad, component, errors.KindNotFound, msg)
}
