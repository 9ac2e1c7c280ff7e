package resolve

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/c0deZ3R0/docsync/conflict"
	"github.com/c0deZ3R0/docsync/errors"
)

// DefaultCounterFields are monotonic counters merged by taking the maximum.
var DefaultCounterFields = []string{"completedPomodoros", "pomodoroCount", "completedSessions", "sessionCount"}

// DefaultSetFields are tag-like arrays merged by ordered union.
var DefaultSetFields = []string{"tags", "labels"}

// DefaultElementUpdatedAtField carries an array element's own modification time.
const DefaultElementUpdatedAtField = "updatedAt"

type mergeConfig struct {
	counters       map[string]struct{}
	sets           map[string]struct{}
	idKey          string
	elementTimeKey string
	resolvers      map[string]FieldResolverFunc
}

// MergeOption configures the field-merge and custom strategies.
type MergeOption func(*mergeConfig)

// WithCounterFields replaces the fields merged by maximum.
func WithCounterFields(fields ...string) MergeOption {
	return func(c *mergeConfig) { c.counters = toSet(fields) }
}

// WithSetFields replaces the fields merged by ordered union.
func WithSetFields(fields ...string) MergeOption {
	return func(c *mergeConfig) { c.sets = toSet(fields) }
}

// WithElementIDField sets the key identifying array elements.
func WithElementIDField(key string) MergeOption {
	return func(c *mergeConfig) {
		if key != "" {
			c.idKey = key
		}
	}
}

// WithElementUpdatedAtField sets the key holding an element's modification time.
func WithElementUpdatedAtField(key string) MergeOption {
	return func(c *mergeConfig) {
		if key != "" {
			c.elementTimeKey = key
		}
	}
}

// WithFieldResolver registers fn for a field. The field is a path without
// element selectors, e.g. "title", "meta.color" or "subtasks.title".
func WithFieldResolver(field string, fn FieldResolverFunc) MergeOption {
	return func(c *mergeConfig) {
		if field != "" && fn != nil {
			c.resolvers[field] = fn
		}
	}
}

func newMergeConfig(opts ...MergeOption) *mergeConfig {
	c := &mergeConfig{
		counters:       toSet(DefaultCounterFields),
		sets:           toSet(DefaultSetFields),
		idKey:          conflict.DefaultElementIDField,
		elementTimeKey: DefaultElementUpdatedAtField,
		resolvers:      make(map[string]FieldResolverFunc),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func toSet(fields []string) map[string]struct{} {
	s := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		s[f] = struct{}{}
	}
	return s
}

// FieldMergeStrategy combines non-overlapping changes and delegates fields
// changed on both sides to a custom resolver, then to the built-in counter,
// set and element rules, and finally to last-write-wins for that field only.
//
// In strict mode it is registered as "custom" and requires a resolver for
// every field changed on both sides.
type FieldMergeStrategy struct {
	cfg    *mergeConfig
	strict bool
}

var _ Strategy = (*FieldMergeStrategy)(nil)

// NewFieldMergeStrategy creates the field-merge strategy.
func NewFieldMergeStrategy(opts ...MergeOption) *FieldMergeStrategy {
	return &FieldMergeStrategy{cfg: newMergeConfig(opts...)}
}

// NewCustomStrategy creates the strict variant registered as "custom".
func NewCustomStrategy(opts ...MergeOption) *FieldMergeStrategy {
	return &FieldMergeStrategy{cfg: newMergeConfig(opts...), strict: true}
}

func (s *FieldMergeStrategy) Name() string { return s.Type().String() }

func (s *FieldMergeStrategy) Type() conflict.ResolutionType {
	if s.strict {
		return conflict.Custom
	}
	return conflict.FieldMerge
}

func (s *FieldMergeStrategy) Resolve(ctx context.Context, c conflict.ConflictInfo, opts Options) (ResolutionResult, error) {
	r := newResult(c, s.Type(), opts)
	if err := ctx.Err(); err != nil {
		return fail(r, err)
	}

	if s.strict {
		var missing []string
		for _, d := range c.Diffs {
			if changedSides(d) == conflict.ChangedBoth && d.Path != conflict.DeletedPath && s.resolverFor(d.Path) == nil {
				missing = append(missing, d.Path)
			}
		}
		if len(missing) > 0 {
			return fail(r, errors.NewResolutionValidationError(c.DocumentID,
				fmt.Errorf("no custom resolver for %s", strings.Join(missing, ", "))))
		}
	}

	data := c.LocalVersion.Data.Clone()
	if data == nil {
		data = conflict.Document{}
	}
	deleted := c.LocalVersion.Deleted

	for _, d := range c.Diffs {
		if d.Path == conflict.DeletedPath {
			deleted = s.mergeDeletion(d, c)
			r.FieldsResolved = append(r.FieldsResolved, d.Path)
			continue
		}
		value, keep, warning := s.mergeField(d, c)
		if warning != "" {
			r.Warnings = append(r.Warnings, warning)
		}
		var err error
		if keep {
			err = conflict.Assign(data, d.Path, conflict.CloneValue(value), s.cfg.idKey)
		} else {
			err = conflict.Remove(data, d.Path, s.cfg.idKey)
		}
		if err != nil {
			r.Warnings = append(r.Warnings, fmt.Sprintf("%s: %v", d.Path, err))
			continue
		}
		r.FieldsResolved = append(r.FieldsResolved, d.Path)
	}

	if len(r.FieldsResolved) == 0 && len(c.Diffs) > 0 {
		return fail(r, errors.NewResolutionValidationError(c.DocumentID,
			fmt.Errorf("no field could be resolved: %s", strings.Join(r.Warnings, "; "))))
	}

	r.Success = true
	r.ResolvedDocument.Data = data
	r.ResolvedDocument.Deleted = deleted
	return r, nil
}

// changedSides falls back to presence when the conflict was not produced by
// the classifier.
func changedSides(d conflict.FieldDiff) conflict.Changed {
	if d.Changed != 0 {
		return d.Changed
	}
	var ch conflict.Changed
	if d.LocalState != conflict.Absent {
		ch |= conflict.ChangedLocal
	}
	if d.RemoteState != conflict.Absent {
		ch |= conflict.ChangedRemote
	}
	return ch
}

// mergeDeletion keeps whichever side changed liveness alone; when both did,
// the live (edited) side wins.
func (s *FieldMergeStrategy) mergeDeletion(d conflict.FieldDiff, c conflict.ConflictInfo) bool {
	switch changedSides(d) {
	case conflict.ChangedLocal:
		return c.LocalVersion.Deleted
	case conflict.ChangedRemote:
		return c.RemoteVersion.Deleted
	default:
		return false
	}
}

// mergeField returns the merged value for one path and whether the path
// should exist in the result.
func (s *FieldMergeStrategy) mergeField(d conflict.FieldDiff, c conflict.ConflictInfo) (value any, keep bool, warning string) {
	// Counters only grow, even when one side lowered its copy.
	if _, ok := s.cfg.counters[lastKey(d.Path)]; ok && s.resolverFor(d.Path) == nil {
		if v, ok := maxNumber(d.Local, d.Remote); ok {
			return v, true, ""
		}
	}

	switch changedSides(d) {
	case conflict.ChangedLocal:
		return d.Local, d.LocalState != conflict.Absent, ""
	case conflict.ChangedRemote:
		return d.Remote, d.RemoteState != conflict.Absent, ""
	}

	// Deletion against an edit keeps the edit.
	localDel := d.LocalState == conflict.Tombstoned
	remoteDel := d.RemoteState == conflict.Tombstoned
	switch {
	case localDel && !remoteDel && d.RemoteState != conflict.Absent:
		return d.Remote, true, ""
	case remoteDel && !localDel && d.LocalState != conflict.Absent:
		return d.Local, true, ""
	}

	if fn := s.resolverFor(d.Path); fn != nil {
		fc := FieldContext{
			DocumentID:      c.DocumentID,
			Path:            d.Path,
			LocalUpdatedAt:  c.LocalVersion.UpdatedAt,
			RemoteUpdatedAt: c.RemoteVersion.UpdatedAt,
		}
		v, err := callResolver(fn, d.Local, d.Remote, fc)
		if err == nil {
			return v, true, ""
		}
		v, keep := s.lastWriteWins(d, c)
		return v, keep, fmt.Sprintf("%s: %v", d.Path, err)
	}

	field := lastKey(d.Path)
	if _, ok := s.cfg.counters[field]; ok {
		if v, ok := maxNumber(d.Local, d.Remote); ok {
			return v, true, ""
		}
	}
	if _, ok := s.cfg.sets[field]; ok {
		if v, ok := unionArrays(d.Local, d.Remote); ok {
			return v, true, ""
		}
	}

	v, keep := s.lastWriteWins(d, c)
	return v, keep, ""
}

func (s *FieldMergeStrategy) resolverFor(path string) FieldResolverFunc {
	if fn, ok := s.cfg.resolvers[path]; ok {
		return fn
	}
	if fn, ok := s.cfg.resolvers[conflict.StripSelectors(path)]; ok {
		return fn
	}
	return nil
}

// lastWriteWins picks one side for a single path. Paths inside an array
// element compare the elements' own timestamps, falling back to the
// documents'. Ties keep local.
func (s *FieldMergeStrategy) lastWriteWins(d conflict.FieldDiff, c conflict.ConflictInfo) (any, bool) {
	localAt, remoteAt := c.LocalVersion.UpdatedAt, c.RemoteVersion.UpdatedAt
	if elem, ok := elementPath(d.Path); ok {
		localAt = s.elementTime(c.LocalVersion.Data, elem, localAt)
		remoteAt = s.elementTime(c.RemoteVersion.Data, elem, remoteAt)
	}
	if remoteAt.After(localAt) {
		return d.Remote, d.RemoteState != conflict.Absent
	}
	return d.Local, d.LocalState != conflict.Absent
}

func (s *FieldMergeStrategy) elementTime(doc conflict.Document, elem string, fallback time.Time) time.Time {
	v, ok := conflict.Lookup(doc, conflict.JoinKey(elem, s.cfg.elementTimeKey), s.cfg.idKey)
	if !ok {
		return fallback
	}
	if t, ok := parseTime(v); ok {
		return t
	}
	return fallback
}

// elementPath returns the prefix of path up to its last element selector.
func elementPath(path string) (string, bool) {
	segs, err := conflict.ParsePath(path)
	if err != nil {
		return "", false
	}
	for i := len(segs) - 1; i >= 0; i-- {
		if segs[i].Element {
			return conflict.FormatPath(segs[:i+1]), true
		}
	}
	return "", false
}

func lastKey(path string) string {
	segs, err := conflict.ParsePath(path)
	if err != nil {
		return path
	}
	for i := len(segs) - 1; i >= 0; i-- {
		if !segs[i].Element {
			return segs[i].Key
		}
	}
	return path
}

func parseTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case string:
		for _, layout := range []string{time.RFC3339Nano, time.RFC3339} {
			if parsed, err := time.Parse(layout, t); err == nil {
				return parsed, true
			}
		}
		return time.Time{}, false
	}
	if n, ok := conflict.Number(v); ok {
		return time.UnixMilli(int64(n)), true
	}
	return time.Time{}, false
}

func maxNumber(local, remote any) (any, bool) {
	ln, lok := conflict.Number(local)
	rn, rok := conflict.Number(remote)
	switch {
	case lok && rok:
		if rn > ln {
			return remote, true
		}
		return local, true
	case lok && remote == nil:
		return local, true
	case rok && local == nil:
		return remote, true
	default:
		return nil, false
	}
}

func unionArrays(local, remote any) (any, bool) {
	la, lok := local.([]any)
	ra, rok := remote.([]any)
	if (!lok && local != nil) || (!rok && remote != nil) {
		return nil, false
	}
	out := make([]any, 0, len(la)+len(ra))
	for _, src := range [][]any{la, ra} {
		for _, v := range src {
			dup := false
			for _, seen := range out {
				if conflict.Equal(seen, v) {
					dup = true
					break
				}
			}
			if !dup {
				out = append(out, v)
			}
		}
	}
	return out, true
}
