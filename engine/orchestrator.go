package engine

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"sync/atomic"
	"time"

	"github.com/c0deZ3R0/docsync/conflict"
	"github.com/c0deZ3R0/docsync/errors"
	"github.com/c0deZ3R0/docsync/logging"
	"github.com/c0deZ3R0/docsync/resolve"
)

const orchestratorComponent = errors.Component("engine/orchestrator")

// Orchestrator detects conflicts in a ReplicaStore, runs strategies on them,
// validates the results and writes them back.
type Orchestrator struct {
	store     ReplicaStore
	registry  *resolve.Registry
	detection atomic.Pointer[detectionSettings]
	queue     *Queue
	locks     *KeyedMutex
	hooks     Hooks
	metrics   MetricsCollector
	journal   Journal
	schema    *DocumentSchema
	logger    *logging.Logger
	now       func() time.Time

	identityField string
	maxDepth      int
	maxRetries    int
}

// NewOrchestrator creates an Orchestrator over store.
func NewOrchestrator(store ReplicaStore, opts ...Option) (*Orchestrator, error) {
	if store == nil {
		return nil, errors.E(errors.OpConfig, orchestratorComponent, errors.KindInvalid, "store cannot be nil")
	}
	o, err := buildOptions(opts)
	if err != nil {
		return nil, errors.E(errors.OpConfig, orchestratorComponent, errors.KindInvalid, err)
	}
	return newOrchestrator(store, o), nil
}

// detectionSettings are swapped as a unit when the configuration reloads.
type detectionSettings struct {
	classifier *conflict.Classifier
	rules      resolve.Rules
}

func newOrchestrator(store ReplicaStore, o *options) *Orchestrator {
	orch := &Orchestrator{
		store:         store,
		registry:      o.registry,
		queue:         o.queue,
		locks:         o.locks,
		hooks:         o.hooks,
		metrics:       o.metrics,
		journal:       o.journal,
		schema:        o.schema,
		logger:        o.logger.WithComponent(logging.ComponentOrchestrator),
		now:           o.now,
		identityField: o.config.IdentityField,
		maxDepth:      o.config.MaxDepth,
		maxRetries:    *o.config.MaxWriteBackRetries,
	}
	orch.detection.Store(&detectionSettings{classifier: o.classifier, rules: o.rules})
	return orch
}

// Registry returns the strategy registry.
func (o *Orchestrator) Registry() *resolve.Registry { return o.registry }

// Classifier returns the classifier used for detection.
func (o *Orchestrator) Classifier() *conflict.Classifier { return o.detection.Load().classifier }

// Reconfigure rebuilds the classifier and the suggestion rules from cfg.
// Detections already running finish with the previous settings; the
// write-back limits and the strategy registry are fixed at construction.
func (o *Orchestrator) Reconfigure(cfg Config) error {
	copts, err := cfg.ClassifierOptions()
	if err != nil {
		return errors.E(errors.OpConfig, orchestratorComponent, errors.KindInvalid, err)
	}
	rules, err := cfg.ResolutionRules()
	if err != nil {
		return errors.E(errors.OpConfig, orchestratorComponent, errors.KindInvalid, err)
	}
	copts = append(copts, conflict.WithClock(o.now), conflict.WithLogger(o.logger))
	o.detection.Store(&detectionSettings{classifier: conflict.NewClassifier(copts...), rules: rules})
	o.logger.Info("detection settings reloaded",
		slog.String("max_auto_resolve_severity", cfg.MaxAutoResolveSeverity),
		slog.Int("rules", len(rules)))
	return nil
}

// Queue returns the conflict queue failed resolutions are put back on.
func (o *Orchestrator) Queue() *Queue { return o.queue }

// detection is one pass over a document's competing revisions.
type detection struct {
	doc      DocumentWithConflicts
	conflict *conflict.ConflictInfo

	// identical lists conflicting revisions with no field-level difference
	// from the primary.
	identical []string
}

// Detect classifies the document's primary revision against the first
// conflicting revision that differs from it. It returns nil when there is
// nothing to resolve. Further conflicting revisions are handled by repeating
// detection after the first conflict is resolved.
func (o *Orchestrator) Detect(ctx context.Context, documentID string) (*conflict.ConflictInfo, error) {
	det, err := o.detect(ctx, documentID)
	if err != nil {
		return nil, err
	}
	return det.conflict, nil
}

func (o *Orchestrator) detect(ctx context.Context, documentID string) (detection, error) {
	doc, err := o.store.GetWithConflicts(ctx, documentID)
	if err != nil {
		return detection{}, errors.E(errors.OpLoad, orchestratorComponent, err)
	}
	det := detection{doc: doc}
	for _, rev := range doc.ConflictingRevisions {
		if err := ctx.Err(); err != nil {
			return det, err
		}
		remote, err := o.store.GetRevision(ctx, documentID, rev)
		if errors.IsKind(err, errors.KindNotFound) {
			continue
		}
		if err != nil {
			return det, errors.E(errors.OpLoad, orchestratorComponent, err)
		}
		base, err := o.commonAncestor(ctx, documentID, doc.Primary, remote)
		if err != nil {
			return det, err
		}
		c, err := o.classify(documentID, base, doc.Primary, remote)
		if err != nil {
			return det, err
		}
		if c == nil {
			det.identical = append(det.identical, rev)
			continue
		}
		det.conflict = c
		return det, nil
	}
	return det, nil
}

// classify runs the classifier and then the suggestion rules.
func (o *Orchestrator) classify(documentID string, base *conflict.Snapshot, local, remote conflict.Snapshot) (*conflict.ConflictInfo, error) {
	settings := o.detection.Load()
	c, err := settings.classifier.ClassifyWithBase(documentID, base, local, remote)
	if err != nil || c == nil {
		return c, err
	}
	if name, ok := settings.rules.Apply(c); ok {
		o.logger.Debug("resolution rule matched",
			slog.String("document_id", documentID),
			slog.String("rule", name),
			slog.String("suggested", c.SuggestedResolution.String()))
	}
	return c, nil
}

func (o *Orchestrator) commonAncestor(ctx context.Context, documentID string, local, remote conflict.Snapshot) (*conflict.Snapshot, error) {
	finder, ok := o.store.(AncestorFinder)
	if !ok || local.Revision == nil || remote.Revision == nil {
		return nil, nil
	}
	base, found, err := finder.CommonAncestor(ctx, documentID, local.Revision.String(), remote.Revision.String())
	if err != nil {
		return nil, errors.E(errors.OpLoad, orchestratorComponent, err)
	}
	if !found {
		return nil, nil
	}
	return &base, nil
}

// prune removes conflicting revisions that carry the same content as the
// primary.
func (o *Orchestrator) prune(ctx context.Context, documentID string, revs []string) {
	for _, rev := range revs {
		err := o.store.RemoveRevision(ctx, documentID, rev)
		if err != nil && !errors.IsKind(err, errors.KindNotFound) {
			o.logger.LogError(ctx, err, "failed to prune identical revision",
				slog.String("document_id", documentID), slog.String("revision", rev))
			continue
		}
		o.logger.Debug("pruned identical revision",
			slog.String("document_id", documentID), slog.String("revision", rev))
	}
}

// ResolveConflict runs the named strategy on c and validates its result. A
// result that fails validation is returned with Success false and a
// ResolutionValidationError. Nothing is written.
func (o *Orchestrator) ResolveConflict(ctx context.Context, c conflict.ConflictInfo, strategyName string, opts resolve.Options) (resolve.ResolutionResult, error) {
	strategy, err := o.registry.Lookup(strategyName)
	if err != nil {
		return resolve.ResolutionResult{}, err
	}
	if err := ctx.Err(); err != nil {
		return resolve.ResolutionResult{}, err
	}
	if opts.Now == nil {
		opts.Now = o.now
	}

	start := o.now()
	result, err := strategy.Resolve(ctx, c, opts)
	if err == nil {
		err = o.validate(c, result)
	}
	o.metrics.RecordResolution(strategy.Name(), o.now().Sub(start), err == nil)

	if err != nil {
		result.Success = false
		result.Err = err
		return result, err
	}
	for _, w := range result.Warnings {
		o.logger.Warn("field resolution fell back to last-write-wins",
			slog.String("document_id", c.DocumentID), slog.String("warning", w))
	}
	return result, nil
}

// validate fails closed on anything that would write a wrong document.
func (o *Orchestrator) validate(c conflict.ConflictInfo, r resolve.ResolutionResult) error {
	invalid := func(format string, args ...any) error {
		return errors.NewResolutionValidationError(c.DocumentID, fmt.Errorf(format, args...))
	}
	if !r.Success {
		if r.Err != nil {
			return invalid("strategy failed: %v", r.Err)
		}
		return invalid("strategy reported failure")
	}

	doc := r.ResolvedDocument
	if doc.ID != c.DocumentID {
		return invalid("resolved document ID %q does not match %q", doc.ID, c.DocumentID)
	}
	if !doc.Deleted {
		if err := o.checkIdentity(c, doc.Data); err != nil {
			return invalid("%v", err)
		}
	}

	resolved := make(map[string]struct{}, len(r.FieldsResolved))
	for _, f := range r.FieldsResolved {
		resolved[f] = struct{}{}
	}
	for _, f := range c.ConflictingFields {
		if _, ok := resolved[f]; !ok {
			return invalid("conflicting field %q was not resolved", f)
		}
	}

	if err := checkStructure(map[string]any(doc.Data), 0, o.maxDepth, make(map[uintptr]struct{})); err != nil {
		return invalid("%v", err)
	}
	if o.schema != nil && !doc.Deleted {
		if err := o.schema.Validate(doc.Data); err != nil {
			return invalid("schema: %v", err)
		}
	}
	return nil
}

func (o *Orchestrator) checkIdentity(c conflict.ConflictInfo, data conflict.Document) error {
	want, ok := c.LocalVersion.Data[o.identityField]
	if !ok {
		want, ok = c.RemoteVersion.Data[o.identityField]
	}
	if !ok {
		return nil
	}
	got, present := data[o.identityField]
	if !present || !conflict.Equal(want, got) {
		return fmt.Errorf("identity field %q changed from %v to %v", o.identityField, want, got)
	}
	return nil
}

// checkStructure rejects cyclic or overly deep values.
func checkStructure(v any, depth, max int, path map[uintptr]struct{}) error {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Map, reflect.Slice:
	default:
		return nil
	}
	if max > 0 && depth > max {
		return fmt.Errorf("document exceeds maximum depth %d", max)
	}
	if rv.IsNil() || rv.Len() == 0 {
		return nil
	}
	ptr := rv.Pointer()
	if _, seen := path[ptr]; seen {
		return fmt.Errorf("document contains a cycle")
	}
	path[ptr] = struct{}{}
	defer delete(path, ptr)

	if rv.Kind() == reflect.Map {
		iter := rv.MapRange()
		for iter.Next() {
			if err := checkStructure(iter.Value().Interface(), depth+1, max, path); err != nil {
				return err
			}
		}
		return nil
	}
	for i := 0; i < rv.Len(); i++ {
		if err := checkStructure(rv.Index(i).Interface(), depth+1, max, path); err != nil {
			return err
		}
	}
	return nil
}

// ApplyResolution writes a successful result back to the store. The write
// runs to completion even if ctx is cancelled.
//
// Applying is a no-op when the document has no conflicting revisions left or
// none of the result's superseded revisions is still current. It fails with
// a retryable WriteBackError when the primary revision is not among the
// superseded ones, i.e. the document moved on since detection.
func (o *Orchestrator) ApplyResolution(ctx context.Context, documentID string, result resolve.ResolutionResult) error {
	_, _, err := o.apply(ctx, documentID, result)
	return err
}

// apply returns the new revision and whether anything was written.
func (o *Orchestrator) apply(ctx context.Context, documentID string, result resolve.ResolutionResult) (string, bool, error) {
	if !result.Success {
		return "", false, errors.E(errors.OpApply, orchestratorComponent, errors.KindInvalid,
			"cannot apply a failed resolution")
	}
	if result.ResolvedDocument.ID != documentID {
		return "", false, errors.NewResolutionValidationError(documentID,
			fmt.Errorf("result is for document %q", result.ResolvedDocument.ID))
	}
	ctx = context.WithoutCancel(ctx)

	doc, err := o.store.GetWithConflicts(ctx, documentID)
	if err != nil {
		return "", false, errors.E(errors.OpApply, orchestratorComponent, err)
	}
	if len(doc.ConflictingRevisions) == 0 {
		return "", false, nil
	}

	superseded := make(map[string]struct{}, len(result.Superseded))
	for _, rev := range result.Superseded {
		superseded[rev] = struct{}{}
	}
	primary := doc.Primary.Revision.String()
	var stale []string
	for _, rev := range doc.ConflictingRevisions {
		if _, ok := superseded[rev]; ok {
			stale = append(stale, rev)
		}
	}
	_, primaryListed := superseded[primary]
	if !primaryListed && len(stale) == 0 {
		return "", false, nil
	}
	if !primaryListed {
		return "", false, errors.NewWriteBackError(documentID,
			fmt.Errorf("revision %s is not accounted for by the resolution", primary))
	}

	rev, err := o.store.Put(ctx, result.ResolvedDocument, result.Superseded)
	if err != nil {
		if errors.IsKind(err, errors.KindWriteBack) {
			return "", false, errors.NewWriteBackError(documentID, err)
		}
		return "", false, errors.E(errors.OpApply, orchestratorComponent, err)
	}
	for _, s := range stale {
		err := o.store.RemoveRevision(ctx, documentID, s)
		if err != nil && !errors.IsKind(err, errors.KindNotFound) {
			return rev, true, errors.E(errors.OpApply, orchestratorComponent, err,
				fmt.Sprintf("remove superseded revision %s", s))
		}
	}
	return rev, true, nil
}

// ResolveAndApply detects the document's current conflict, resolves it with
// the named strategy and writes it back, holding the document's lock.
//
// A write-back race re-runs the whole detect, classify, resolve cycle up to
// MaxWriteBackRetries times. When the resolution fails validation or the
// retries are exhausted the conflict is put back on the queue. A document with
// nothing to resolve is dequeued and reported as errors.KindNotFound.
func (o *Orchestrator) ResolveAndApply(ctx context.Context, documentID, strategyName string, opts resolve.Options) (resolve.ResolutionResult, error) {
	unlock := o.locks.Lock(documentID)
	defer unlock()

	var from State
	if _, queued := o.queue.Get(documentID); queued {
		from = StateQueued
	}
	result, c, err := o.resolveLocked(ctx, documentID, strategyName, opts, from, nil)
	if err != nil {
		o.requeue(c, err)
	}
	return result, err
}

// requeue puts a conflict back on the queue after a failure that a different
// strategy or fresh selections could fix.
func (o *Orchestrator) requeue(c *conflict.ConflictInfo, err error) {
	if c == nil {
		return
	}
	switch errors.KindOf(err) {
	case errors.KindValidation, errors.KindCustomResolver, errors.KindWriteBack:
		o.queue.Requeue(*c, err)
		o.metrics.RecordQueueDepth(o.queue.Len())
	}
}

// resolveLocked returns the last conflict it classified so failures can be
// requeued.
func (o *Orchestrator) resolveLocked(ctx context.Context, documentID, strategyName string, opts resolve.Options, from State, first *detection) (resolve.ResolutionResult, *conflict.ConflictInfo, error) {
	entry := from
	if entry != StateAutoResolving {
		entry = StateQueued
	}
	state := from
	logger := o.logger.WithDocument(documentID)

	var lastErr error
	for attempt := 0; attempt <= o.maxRetries; attempt++ {
		det := first
		first = nil
		if det == nil {
			d, err := o.detect(ctx, documentID)
			if err != nil {
				return resolve.ResolutionResult{}, nil, err
			}
			det = &d
		}
		o.prune(ctx, documentID, det.identical)
		if det.conflict == nil {
			o.queue.Dequeue(documentID)
			o.metrics.RecordQueueDepth(o.queue.Len())
			return resolve.ResolutionResult{}, nil, errors.E(errors.OpResolve, orchestratorComponent, errors.KindNotFound,
				fmt.Sprintf("document %q has no conflict to resolve", documentID))
		}
		c := *det.conflict

		if attempt > 0 {
			o.transition(documentID, state, StateDetected)
			o.transition(documentID, StateDetected, entry)
			state = entry
		}
		o.transition(documentID, state, StateResolving)
		state = StateResolving

		start := o.now()
		result, err := o.ResolveConflict(ctx, c, strategyName, opts)
		if err != nil {
			o.transition(documentID, state, StateDetected)
			return result, &c, err
		}

		rev, written, err := o.apply(ctx, documentID, result)
		if err == nil {
			o.transition(documentID, state, StateResolved)
			if written {
				o.record(ctx, c, result, rev, o.now().Sub(start))
			}
			o.queue.Dequeue(documentID)
			o.metrics.RecordQueueDepth(o.queue.Len())
			o.hooks.resolved(c, result)
			logger.Info("conflict resolved",
				slog.String("strategy", strategyName),
				slog.String("revision", rev),
				slog.Int("fields", len(result.FieldsResolved)))
			return result, &c, nil
		}

		lastErr = err
		result.Success = false
		result.Err = err
		if !errors.IsKind(err, errors.KindWriteBack) {
			o.transition(documentID, state, StateDetected)
			return result, &c, err
		}
		if attempt == o.maxRetries {
			o.transition(documentID, state, StateDetected)
			logger.Warn("write-back retries exhausted", slog.Int("attempts", attempt+1), slog.Any("error", err))
			return result, &c, err
		}
		o.metrics.RecordRetry(documentID)
		o.hooks.retry(documentID, attempt+1, err)
		logger.Debug("write-back race, retrying", slog.Int("attempt", attempt+1), slog.Any("error", err))
		if ctx.Err() != nil {
			o.transition(documentID, state, StateDetected)
			return result, &c, err
		}
	}
	return resolve.ResolutionResult{}, nil, lastErr
}

func (o *Orchestrator) record(ctx context.Context, c conflict.ConflictInfo, r resolve.ResolutionResult, rev string, d time.Duration) {
	if o.journal == nil {
		return
	}
	m := NewResolutionMemento(c, r, rev, d)
	if err := o.journal.Save(context.WithoutCancel(ctx), m); err != nil {
		o.logger.LogError(ctx, err, "failed to journal resolution", slog.String("document_id", c.DocumentID))
	}
}

func (o *Orchestrator) transition(documentID string, from, to State) {
	if !CanTransition(from, to) {
		o.logger.Debug("unexpected state transition",
			slog.String("document_id", documentID),
			slog.String("from", from.String()),
			slog.String("to", to.String()))
	}
	o.hooks.stateChange(documentID, from, to)
}
