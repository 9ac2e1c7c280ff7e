package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/c0deZ3R0/docsync/conflict"
	"github.com/c0deZ3R0/docsync/errors"
	"github.com/c0deZ3R0/docsync/logging"
	"github.com/c0deZ3R0/docsync/resolve"
)

const sessionComponent = errors.Component("engine/session")

// BulkResult is the outcome of resolving one document in ResolveBulk.
type BulkResult struct {
	DocumentID string
	Result     resolve.ResolutionResult
	Err        error
}

// Session owns the conflict queue for one sync session. Create it when the
// session starts and Close it when the session ends.
type Session struct {
	store   ReplicaStore
	orch    *Orchestrator
	queue   *Queue
	locks   *KeyedMutex
	hooks   Hooks
	metrics MetricsCollector
	logger  *logging.Logger

	mu       sync.RWMutex
	closed   bool
	detected []func(conflict.ConflictInfo)
	resolved []func(resolve.ResolutionResult)
}

// NewSession creates a session over store. When a persistent queue is
// configured its entries are restored and re-classified; entries whose
// snapshots no longer differ are dropped.
func NewSession(ctx context.Context, store ReplicaStore, opts ...Option) (*Session, error) {
	if store == nil {
		return nil, errors.E(errors.OpConfig, sessionComponent, errors.KindInvalid, "store cannot be nil")
	}
	o, err := buildOptions(opts)
	if err != nil {
		return nil, errors.E(errors.OpConfig, sessionComponent, errors.KindInvalid, err)
	}
	s := &Session{
		store:   store,
		orch:    newOrchestrator(store, o),
		queue:   o.queue,
		locks:   o.locks,
		hooks:   o.hooks,
		metrics: o.metrics,
		logger:  o.logger.WithComponent(logging.ComponentSession),
	}
	if o.queueJournal != nil {
		if err := s.restore(ctx, o.queueJournal, o.parse); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *Session) restore(ctx context.Context, j QueueJournal, parse RevisionParser) error {
	records, err := j.LoadEntries(ctx)
	if err != nil {
		return errors.E(errors.OpLoad, sessionComponent, err, "load queued conflicts")
	}
	for _, r := range records {
		local, remote, base, err := r.Snapshots(parse)
		if err == nil {
			var c *conflict.ConflictInfo
			c, err = s.orch.classify(r.DocumentID, base, local, remote)
			if err == nil && c == nil {
				err = fmt.Errorf("snapshots no longer differ")
			}
			if err == nil {
				c.DetectedAt = r.DetectedAt
				s.queue.restore(Entry{
					Conflict:   *c,
					EnqueuedAt: r.EnqueuedAt,
					Attempts:   r.Attempts,
					LastError:  r.LastError,
					Selections: r.Selections,
				})
				continue
			}
		}
		s.logger.Warn("dropping persisted conflict",
			slog.String("document_id", r.DocumentID), slog.Any("error", err))
		if err := j.DeleteEntry(ctx, r.DocumentID); err != nil {
			s.logger.LogError(ctx, err, "failed to delete persisted conflict",
				slog.String("document_id", r.DocumentID))
		}
	}
	s.metrics.RecordQueueDepth(s.queue.Len())
	if n := s.queue.Len(); n > 0 {
		s.logger.Info("restored queued conflicts", slog.Int("count", n))
	}
	return nil
}

// Orchestrator returns the session's orchestrator.
func (s *Session) Orchestrator() *Orchestrator { return s.orch }

// Queue returns the session's conflict queue.
func (s *Session) Queue() *Queue { return s.queue }

// Reconfigure applies a reloaded configuration to later detections. Queued
// conflicts keep the classification they were queued with.
func (s *Session) Reconfigure(cfg Config) error { return s.orch.Reconfigure(cfg) }

// OnConflictDetected registers fn to be called once per newly classified
// conflict that needs a human.
func (s *Session) OnConflictDetected(fn func(conflict.ConflictInfo)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.detected = append(s.detected, fn)
}

// OnResolved registers fn to be called after every applied resolution.
func (s *Session) OnResolved(fn func(resolve.ResolutionResult)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resolved = append(s.resolved, fn)
}

func (s *Session) checkOpen() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return errors.E(errors.OpClose, sessionComponent, errors.KindClosed, "session is closed")
	}
	return nil
}

// HandleChange is the single dispatch point for a changed document. It
// classifies the document's competing revisions one pair at a time. Auto
// resolvable conflicts are resolved and the next pair is examined; anything
// else is queued. A document without conflicting revisions drops any stale
// queue entry.
func (s *Session) HandleChange(ctx context.Context, documentID string) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	unlock := s.locks.Lock(documentID)
	defer unlock()

	logger := s.logger.WithDocument(documentID)
	limit := -1
	for i := 0; limit < 0 || i <= limit; i++ {
		det, err := s.orch.detect(ctx, documentID)
		if err != nil {
			logger.LogError(ctx, err, "conflict detection failed")
			return err
		}
		if limit < 0 {
			limit = len(det.doc.ConflictingRevisions)
		}
		s.orch.prune(ctx, documentID, det.identical)
		if det.conflict == nil {
			if s.queue.Dequeue(documentID) {
				logger.Debug("dropped stale queued conflict")
				s.metrics.RecordQueueDepth(s.queue.Len())
			}
			return nil
		}

		c := *det.conflict
		s.metrics.RecordClassification(c.Type, c.Severity)
		s.orch.transition(documentID, 0, StateDetected)

		if !c.CanAutoResolve {
			s.orch.transition(documentID, StateDetected, StateQueued)
			fresh := s.queue.Enqueue(c)
			s.metrics.RecordQueueDepth(s.queue.Len())
			if fresh {
				logger.Info("conflict queued for manual resolution", slog.Any("conflict", &c))
				s.fireDetected(c)
			}
			return nil
		}

		s.orch.transition(documentID, StateDetected, StateAutoResolving)
		result, last, err := s.orch.resolveLocked(ctx, documentID, c.SuggestedResolution.String(), resolve.Options{}, StateAutoResolving, &det)
		if err != nil {
			if errors.IsKind(err, errors.KindNotFound) {
				return nil
			}
			if last == nil {
				last = &c
			}
			logger.Warn("auto-resolution failed, queueing", slog.Any("conflict", last), slog.Any("error", err))
			s.hooks.autoResolveFailed(*last, err)
			s.orch.transition(documentID, StateDetected, StateQueued)
			s.queue.Requeue(*last, err)
			s.metrics.RecordQueueDepth(s.queue.Len())
			return nil
		}
		s.fireResolved(result)
	}
	return nil
}

// Run dispatches document IDs from changes until the channel closes or ctx
// is done. Per-document failures are logged and do not stop the loop.
func (s *Session) Run(ctx context.Context, changes <-chan string) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case id, ok := <-changes:
			if !ok {
				return nil
			}
			if err := s.HandleChange(ctx, id); err != nil {
				if errors.IsKind(err, errors.KindClosed) {
					return err
				}
				s.logger.Debug("change not handled", slog.String("document_id", id), slog.Any("error", err))
			}
		}
	}
}

// GetPendingConflicts returns the queued conflicts, oldest first.
func (s *Session) GetPendingConflicts() []conflict.ConflictInfo {
	return s.queue.ListPending()
}

// ResolveManually applies a user's per-field selections. The selections are
// saved on the queue entry first so a failure does not lose them.
func (s *Session) ResolveManually(ctx context.Context, documentID string, selections map[string]resolve.Selection) (resolve.ResolutionResult, error) {
	if err := s.checkOpen(); err != nil {
		return resolve.ResolutionResult{}, err
	}
	if _, ok := s.queue.Get(documentID); ok {
		if err := s.queue.SaveSelections(documentID, selections); err != nil {
			return resolve.ResolutionResult{}, err
		}
	}
	return s.resolve(ctx, documentID, conflict.Manual.String(), resolve.Options{Selections: selections})
}

// ResolveOne resolves a queued conflict with the named strategy. A manual
// resolution without selections uses the ones saved on the queue entry.
func (s *Session) ResolveOne(ctx context.Context, documentID, strategy string, opts resolve.Options) (resolve.ResolutionResult, error) {
	if err := s.checkOpen(); err != nil {
		return resolve.ResolutionResult{}, err
	}
	if strategy == conflict.Manual.String() && opts.Selections == nil {
		if e, ok := s.queue.Get(documentID); ok {
			opts.Selections = e.Selections
		}
	}
	return s.resolve(ctx, documentID, strategy, opts)
}

func (s *Session) resolve(ctx context.Context, documentID, strategy string, opts resolve.Options) (resolve.ResolutionResult, error) {
	result, err := s.orch.ResolveAndApply(ctx, documentID, strategy, opts)
	if err != nil {
		s.logger.LogError(ctx, err, "resolution failed",
			slog.String("document_id", documentID), slog.String("strategy", strategy))
		return result, err
	}
	s.fireResolved(result)
	return result, nil
}

// ResolveBulk resolves documents one at a time in the given order. A failure
// is recorded in its BulkResult and does not stop the rest.
func (s *Session) ResolveBulk(ctx context.Context, documentIDs []string, strategy string) []BulkResult {
	out := make([]BulkResult, 0, len(documentIDs))
	for _, id := range documentIDs {
		r := BulkResult{DocumentID: id}
		if err := ctx.Err(); err != nil {
			r.Err = err
		} else {
			r.Result, r.Err = s.ResolveOne(ctx, id, strategy, resolve.Options{})
		}
		out = append(out, r)
	}
	return out
}

// Discard drops a document's queued conflict, e.g. after the document was
// deleted or the conflict was cleared elsewhere. It reports whether an entry
// existed.
func (s *Session) Discard(ctx context.Context, documentID string) (bool, error) {
	if err := s.checkOpen(); err != nil {
		return false, err
	}
	unlock := s.locks.Lock(documentID)
	defer unlock()
	ok := s.queue.Dequeue(documentID)
	if ok {
		s.logger.WithContext(ctx).Info("queued conflict discarded", slog.String("document_id", documentID))
		s.metrics.RecordQueueDepth(s.queue.Len())
	}
	return ok, nil
}

// Close ends the session: the in-memory queue is cleared and listeners are
// detached. Persisted entries remain for the next session.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.detected = nil
	s.resolved = nil
	s.queue.Clear()
	s.metrics.RecordQueueDepth(0)
	return nil
}

func (s *Session) fireDetected(c conflict.ConflictInfo) {
	s.mu.RLock()
	fns := append(([]func(conflict.ConflictInfo))(nil), s.detected...)
	s.mu.RUnlock()
	for _, fn := range fns {
		s.safeCall(func() { fn(c) })
	}
}

func (s *Session) fireResolved(r resolve.ResolutionResult) {
	s.mu.RLock()
	fns := append(([]func(resolve.ResolutionResult))(nil), s.resolved...)
	s.mu.RUnlock()
	for _, fn := range fns {
		s.safeCall(func() { fn(r) })
	}
}

func (s *Session) safeCall(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("session listener panic", slog.Any("panic", r))
		}
	}()
	fn()
}
