package conflict

import (
	"sort"
)

// DefaultElementIDField is the key that identifies elements of object arrays.
const DefaultElementIDField = "id"

// DifferOption configures a Differ.
type DifferOption func(*Differ)

// WithElementIDField sets the key used to match array elements by identity.
func WithElementIDField(key string) DifferOption {
	return func(d *Differ) {
		if key != "" {
			d.idKey = key
		}
	}
}

// WithUnicodeFolding controls whether canonically equivalent strings (NFC)
// compare equal. It is on by default.
func WithUnicodeFolding(on bool) DifferOption {
	return func(d *Differ) { d.fold = on }
}

// Differ computes field-level differences between two documents.
type Differ struct {
	idKey string
	fold  bool
}

// NewDiffer creates a Differ.
func NewDiffer(opts ...DifferOption) *Differ {
	d := &Differ{idKey: DefaultElementIDField, fold: true}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// ElementIDField returns the key used to match array elements.
func (d *Differ) ElementIDField() string { return d.idKey }

// Equal compares two values with the Differ's equality rules.
func (d *Differ) Equal(a, b any) bool { return valueEqual(a, b, d.fold) }

// Diff returns the differences between two snapshots sorted by path. A
// document-level deletion mismatch is reported at DeletedPath.
func (d *Differ) Diff(local, remote Snapshot) []FieldDiff {
	out := d.DiffDocuments(local.Data, remote.Data)
	if local.Deleted != remote.Deleted {
		out = append(out, FieldDiff{
			Path:        DeletedPath,
			Local:       local.Deleted,
			Remote:      remote.Deleted,
			LocalState:  deletedState(local.Deleted),
			RemoteState: deletedState(remote.Deleted),
		})
		sortDiffs(out)
	}
	return out
}

func deletedState(deleted bool) FieldState {
	if deleted {
		return Tombstoned
	}
	return Present
}

// DiffDocuments returns the differences between two documents sorted by path.
// Identical documents yield an empty slice.
func (d *Differ) DiffDocuments(local, remote Document) []FieldDiff {
	var out []FieldDiff
	d.diffMaps("", local, remote, &out)
	sortDiffs(out)
	if out == nil {
		out = []FieldDiff{}
	}
	return out
}

func sortDiffs(diffs []FieldDiff) {
	sort.Slice(diffs, func(i, j int) bool { return diffs[i].Path < diffs[j].Path })
}

func (d *Differ) diffMaps(prefix string, a, b map[string]any, out *[]FieldDiff) {
	keys := make(map[string]struct{}, len(a)+len(b))
	for k := range a {
		keys[k] = struct{}{}
	}
	for k := range b {
		keys[k] = struct{}{}
	}
	for k := range keys {
		av, aok := a[k]
		bv, bok := b[k]
		d.diffValues(JoinKey(prefix, k), av, aok, bv, bok, out)
	}
}

func (d *Differ) diffValues(path string, av any, aok bool, bv any, bok bool, out *[]FieldDiff) {
	if aok && bok {
		if am, ok := asMap(av); ok {
			if bm, ok := asMap(bv); ok {
				d.diffMaps(path, am, bm, out)
				return
			}
		}
		if aa, ok := av.([]any); ok {
			if ba, ok := bv.([]any); ok && (len(aa) > 0 || len(ba) > 0) &&
				identifiable(aa, d.idKey) && identifiable(ba, d.idKey) {
				d.diffElements(path, aa, ba, out)
				return
			}
		}
		if valueEqual(av, bv, d.fold) {
			return
		}
	}
	*out = append(*out, FieldDiff{
		Path:        path,
		Local:       av,
		Remote:      bv,
		LocalState:  StateOf(av, aok),
		RemoteState: StateOf(bv, bok),
	})
}

// diffElements matches array elements by identity rather than by index.
func (d *Differ) diffElements(path string, a, b []any, out *[]FieldDiff) {
	byID := make(map[string]any, len(b))
	for _, e := range b {
		id, _ := ElementID(e, d.idKey)
		byID[id] = e
	}
	seen := make(map[string]struct{}, len(a))
	for _, ea := range a {
		id, _ := ElementID(ea, d.idKey)
		seen[id] = struct{}{}
		eb, ok := byID[id]
		d.diffValues(JoinElement(path, id), ea, true, eb, ok, out)
	}
	for _, eb := range b {
		id, _ := ElementID(eb, d.idKey)
		if _, ok := seen[id]; ok {
			continue
		}
		d.diffValues(JoinElement(path, id), nil, false, eb, true, out)
	}
}
