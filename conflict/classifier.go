package conflict

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/c0deZ3R0/docsync/errors"
	"github.com/c0deZ3R0/docsync/logging"
	"github.com/c0deZ3R0/docsync/revision"
)

// ClassifierOption configures a Classifier.
type ClassifierOption func(*Classifier)

// WithSeverityTiers replaces the field to severity mapping.
func WithSeverityTiers(t SeverityTiers) ClassifierOption {
	return func(c *Classifier) { c.tiers = t.Clone() }
}

// WithDefaultSeverity sets the tier for paths missing from the mapping.
func WithDefaultSeverity(s Severity) ClassifierOption {
	return func(c *Classifier) { c.defaultTier = s }
}

// WithMaxAutoSeverity sets the highest severity that may auto-resolve.
func WithMaxAutoSeverity(s Severity) ClassifierOption {
	return func(c *Classifier) { c.maxAuto = s }
}

// WithAutoResolve enables or disables auto-resolution altogether.
func WithAutoResolve(on bool) ClassifierOption {
	return func(c *Classifier) { c.autoResolve = on }
}

// WithDiffer sets the Differ used to compare snapshots.
func WithDiffer(d *Differ) ClassifierOption {
	return func(c *Classifier) {
		if d != nil {
			c.differ = d
		}
	}
}

// WithClock overrides the time source used for DetectedAt.
func WithClock(now func() time.Time) ClassifierOption {
	return func(c *Classifier) {
		if now != nil {
			c.now = now
		}
	}
}

// WithLogger sets the logger. Classification decisions are logged at debug.
func WithLogger(l *logging.Logger) ClassifierOption {
	return func(c *Classifier) {
		if l != nil {
			c.logger = l
		}
	}
}

// Classifier assigns a type, severity and auto-resolution decision to the
// differences between two snapshots. It holds only immutable configuration.
type Classifier struct {
	differ      *Differ
	tiers       SeverityTiers
	defaultTier Severity
	maxAuto     Severity
	autoResolve bool
	now         func() time.Time
	logger      *logging.Logger
}

// NewClassifier creates a Classifier with the default tier seed, auto-resolution
// enabled and Low as the highest auto-resolvable severity.
func NewClassifier(opts ...ClassifierOption) *Classifier {
	c := &Classifier{
		differ:      NewDiffer(),
		tiers:       DefaultSeverityTiers(),
		defaultTier: Medium,
		maxAuto:     Low,
		autoResolve: true,
		now:         time.Now,
		logger:      logging.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.WithComponent(logging.ComponentClassifier)
	return c
}

// Differ returns the Differ the classifier compares with.
func (c *Classifier) Differ() *Differ { return c.differ }

// Classify compares two snapshots without a common ancestor. Every field a side
// holds counts as written by that side. It returns nil when the snapshots have
// no field-level differences.
func (c *Classifier) Classify(documentID string, local, remote Snapshot) (*ConflictInfo, error) {
	return c.ClassifyWithBase(documentID, nil, local, remote)
}

// ClassifyWithBase compares two snapshots against their common ancestor, so a
// side only counts as changing a path when its value differs from base.
func (c *Classifier) ClassifyWithBase(documentID string, base *Snapshot, local, remote Snapshot) (*ConflictInfo, error) {
	if err := validateInput(documentID, base, local, remote); err != nil {
		return nil, err
	}

	diffs := c.differ.Diff(local, remote)
	if len(diffs) == 0 {
		return nil, nil
	}

	fields := make([]string, len(diffs))
	for i := range diffs {
		diffs[i].Changed = c.changedSides(diffs[i], base, local, remote)
		fields[i] = diffs[i].Path
	}

	typ, err := c.conflictType(diffs, local, remote)
	if err != nil {
		return nil, errors.NewClassificationError(documentID, err)
	}

	info := &ConflictInfo{
		DocumentID:        documentID,
		Type:              typ,
		LocalVersion:      VersionOf(local),
		RemoteVersion:     VersionOf(remote),
		ConflictingFields: fields,
		Diffs:             diffs,
		Severity:          c.tiers.highest(fields, c.defaultTier),
		DetectedAt:        c.now(),
	}
	if base != nil {
		v := VersionOf(*base)
		info.Base = &v
	}
	info.CanAutoResolve = c.canAutoResolve(info.Type, info.Severity)
	info.SuggestedResolution = suggest(info.Type, info.CanAutoResolve)

	c.logger.Debug("conflict classified", slog.Any("conflict", info))
	return info, nil
}

func validateInput(documentID string, base *Snapshot, local, remote Snapshot) error {
	var cause error
	switch {
	case documentID == "":
		cause = fmt.Errorf("missing document identity")
	case local.ID == "" || remote.ID == "":
		cause = fmt.Errorf("snapshot without identity")
	case local.ID != documentID || remote.ID != documentID:
		cause = fmt.Errorf("snapshot identity mismatch: local %q, remote %q", local.ID, remote.ID)
	case local.Revision == nil || remote.Revision == nil:
		cause = fmt.Errorf("snapshot without revision")
	case !revision.Compatible(local.Revision, remote.Revision):
		cause = fmt.Errorf("non-comparable revisions %T and %T", local.Revision, remote.Revision)
	case base != nil && base.ID != documentID:
		cause = fmt.Errorf("base identity mismatch: %q", base.ID)
	case base != nil && base.Revision != nil && !revision.Compatible(base.Revision, local.Revision):
		cause = fmt.Errorf("non-comparable base revision %T", base.Revision)
	}
	if cause != nil {
		return errors.NewClassificationError(documentID, cause)
	}
	return nil
}

// changedSides decides which sides wrote a differing path.
func (c *Classifier) changedSides(d FieldDiff, base *Snapshot, local, remote Snapshot) Changed {
	if base == nil {
		var ch Changed
		if d.LocalState != Absent {
			ch |= ChangedLocal
		}
		if d.RemoteState != Absent {
			ch |= ChangedRemote
		}
		return ch
	}

	if d.Path == DeletedPath {
		return c.deletionChange(base, local, ChangedLocal) | c.deletionChange(base, remote, ChangedRemote)
	}

	bv, bok := Lookup(base.Data, d.Path, c.differ.idKey)
	var ch Changed
	if !c.sameAs(d.Local, d.LocalState, bv, bok) {
		ch |= ChangedLocal
	}
	if !c.sameAs(d.Remote, d.RemoteState, bv, bok) {
		ch |= ChangedRemote
	}
	return ch
}

// deletionChange reports whether side changed the document's liveness or,
// for a live side, its content relative to base.
func (c *Classifier) deletionChange(base *Snapshot, side Snapshot, flag Changed) Changed {
	if side.Deleted != base.Deleted {
		return flag
	}
	if !side.Deleted && len(c.differ.DiffDocuments(base.Data, side.Data)) > 0 {
		return flag
	}
	return 0
}

func (c *Classifier) sameAs(v any, state FieldState, bv any, bok bool) bool {
	if state != StateOf(bv, bok) {
		return false
	}
	return state == Absent || c.differ.Equal(v, bv)
}

func (c *Classifier) conflictType(diffs []FieldDiff, local, remote Snapshot) (ConflictType, error) {
	for _, s := range []Snapshot{local, remote} {
		ok, err := VerifyChecksum(s)
		if err != nil {
			return 0, err
		}
		if !ok {
			return ChecksumMismatch, nil
		}
	}
	if local.SchemaVersion != 0 && remote.SchemaVersion != 0 && local.SchemaVersion != remote.SchemaVersion {
		return VersionMismatch, nil
	}

	for _, d := range diffs {
		localDel := d.LocalState == Tombstoned
		remoteDel := d.RemoteState == Tombstoned
		// Deleted on both sides with different tombstone metadata is left to a
		// human as well.
		if (localDel && remoteDel) || ((localDel || remoteDel) && d.Changed == ChangedBoth) {
			return EditDelete, nil
		}
	}

	var localSet, remoteSet int
	for _, d := range diffs {
		if d.Changed == ChangedBoth {
			return EditEdit, nil
		}
		if d.Changed.Local() {
			localSet++
		}
		if d.Changed.Remote() {
			remoteSet++
		}
	}
	if localSet+remoteSet == len(diffs) {
		return MergeCandidates, nil
	}
	return EditEdit, nil
}

func (c *Classifier) canAutoResolve(t ConflictType, s Severity) bool {
	if !c.autoResolve {
		return false
	}
	switch t {
	case MergeCandidates:
		return true
	case EditEdit:
		return s <= c.maxAuto
	case EditDelete, VersionMismatch, ChecksumMismatch:
		return false
	default:
		return false
	}
}

func suggest(t ConflictType, auto bool) ResolutionType {
	switch t {
	case MergeCandidates:
		return FieldMerge
	case EditEdit:
		if auto {
			return LastWriteWins
		}
		return Manual
	case EditDelete, VersionMismatch, ChecksumMismatch:
		return Manual
	default:
		return Manual
	}
}
