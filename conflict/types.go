// Package conflict detects and classifies conflicts between two replicas of the
// same document.
//
// A Differ walks both documents structurally and reports field-level
// differences. A Classifier turns those differences into a ConflictInfo with a
// type, a severity and an auto-resolution decision. Both are pure and safe for
// concurrent use across documents.
package conflict

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/c0deZ3R0/docsync/interfaces"
)

// Document is a field-keyed record holding JSON-like values: nil, bool,
// numbers, string, []any, map[string]any and Tombstone.
type Document map[string]any

// Clone returns a deep copy of the document.
func (d Document) Clone() Document {
	if d == nil {
		return nil
	}
	return cloneMap(d)
}

// Tombstone marks a field as explicitly deleted, which is distinct from the
// field never having been set.
type Tombstone struct {
	DeletedAt time.Time `json:"deleted_at"`
	DeletedBy string    `json:"deleted_by,omitempty"`
}

// Snapshot is an immutable point-in-time view of one revision of a document.
type Snapshot struct {
	ID        string
	Revision  interfaces.Revision
	Data      Document
	UpdatedAt time.Time

	// Deleted marks a document-level tombstone.
	Deleted bool

	// SchemaVersion is 0 when the replica did not declare one.
	SchemaVersion int

	// Checksum is the hex blake2b-256 sum of Data the replica recorded, if any.
	Checksum string
}

// VersionInfo is the revision/data/timestamp triple of one side of a conflict.
type VersionInfo struct {
	Revision  interfaces.Revision
	Data      Document
	UpdatedAt time.Time
	Deleted   bool
}

// VersionOf extracts the VersionInfo of a snapshot.
func VersionOf(s Snapshot) VersionInfo {
	return VersionInfo{Revision: s.Revision, Data: s.Data, UpdatedAt: s.UpdatedAt, Deleted: s.Deleted}
}

// RevisionString returns the revision marker as a string, or "" when unset.
func (v VersionInfo) RevisionString() string {
	if v.Revision == nil {
		return ""
	}
	return v.Revision.String()
}

// FieldState describes one side of a field difference.
type FieldState uint8

const (
	Absent FieldState = iota
	Null
	Present
	Tombstoned
)

func (s FieldState) String() string {
	switch s {
	case Absent:
		return "absent"
	case Null:
		return "null"
	case Present:
		return "present"
	case Tombstoned:
		return "tombstoned"
	default:
		return fmt.Sprintf("FieldState(%d)", uint8(s))
	}
}

// Changed records which sides modified a path. The Differ leaves it zero; the
// Classifier fills it in.
type Changed uint8

const (
	ChangedLocal Changed = 1 << iota
	ChangedRemote

	ChangedBoth = ChangedLocal | ChangedRemote
)

// Local reports whether the local side changed the path.
func (c Changed) Local() bool { return c&ChangedLocal != 0 }

// Remote reports whether the remote side changed the path.
func (c Changed) Remote() bool { return c&ChangedRemote != 0 }

// FieldDiff is a single field-level difference between two documents.
type FieldDiff struct {
	Path        string
	Local       any
	Remote      any
	LocalState  FieldState
	RemoteState FieldState
	Changed     Changed
}

// ConflictType classifies a conflict.
type ConflictType uint8

const (
	EditEdit ConflictType = iota + 1
	EditDelete
	MergeCandidates
	VersionMismatch
	ChecksumMismatch
)

func (t ConflictType) String() string {
	switch t {
	case EditEdit:
		return "EDIT_EDIT"
	case EditDelete:
		return "EDIT_DELETE"
	case MergeCandidates:
		return "MERGE_CANDIDATES"
	case VersionMismatch:
		return "VERSION_MISMATCH"
	case ChecksumMismatch:
		return "CHECKSUM_MISMATCH"
	default:
		return fmt.Sprintf("ConflictType(%d)", uint8(t))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (t ConflictType) MarshalText() ([]byte, error) {
	if t < EditEdit || t > ChecksumMismatch {
		return nil, fmt.Errorf("invalid conflict type %d", uint8(t))
	}
	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *ConflictType) UnmarshalText(b []byte) error {
	for c := EditEdit; c <= ChecksumMismatch; c++ {
		if c.String() == string(b) {
			*t = c
			return nil
		}
	}
	return fmt.Errorf("unknown conflict type %q", b)
}

// Severity ranks how risky a conflict is to resolve without a human.
type Severity uint8

const (
	Low Severity = iota + 1
	Medium
	High
	Critical
)

func (s Severity) String() string {
	switch s {
	case Low:
		return "low"
	case Medium:
		return "medium"
	case High:
		return "high"
	case Critical:
		return "critical"
	default:
		return fmt.Sprintf("Severity(%d)", uint8(s))
	}
}

// ParseSeverity parses low, medium, high or critical (case-insensitive).
func ParseSeverity(s string) (Severity, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "low":
		return Low, nil
	case "medium":
		return Medium, nil
	case "high":
		return High, nil
	case "critical":
		return Critical, nil
	default:
		return 0, fmt.Errorf("unknown severity %q", s)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s Severity) MarshalText() ([]byte, error) {
	if s < Low || s > Critical {
		return nil, fmt.Errorf("invalid severity %d", uint8(s))
	}
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Severity) UnmarshalText(b []byte) error {
	v, err := ParseSeverity(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// ResolutionType names a resolution strategy family.
type ResolutionType uint8

const (
	LocalWins ResolutionType = iota + 1
	RemoteWins
	LastWriteWins
	FieldMerge
	Custom
	Manual
)

func (r ResolutionType) String() string {
	switch r {
	case LocalWins:
		return "local-wins"
	case RemoteWins:
		return "remote-wins"
	case LastWriteWins:
		return "last-write-wins"
	case FieldMerge:
		return "field-merge"
	case Custom:
		return "custom"
	case Manual:
		return "manual"
	default:
		return fmt.Sprintf("ResolutionType(%d)", uint8(r))
	}
}

// ParseResolutionType maps a strategy name to its ResolutionType.
func ParseResolutionType(s string) (ResolutionType, error) {
	for r := LocalWins; r <= Manual; r++ {
		if r.String() == s {
			return r, nil
		}
	}
	return 0, fmt.Errorf("unknown resolution type %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (r ResolutionType) MarshalText() ([]byte, error) {
	if r < LocalWins || r > Manual {
		return nil, fmt.Errorf("invalid resolution type %d", uint8(r))
	}
	return []byte(r.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (r *ResolutionType) UnmarshalText(b []byte) error {
	v, err := ParseResolutionType(string(b))
	if err != nil {
		return err
	}
	*r = v
	return nil
}

// ConflictInfo describes a classified conflict between a local and a remote
// snapshot. ConflictingFields is never empty.
type ConflictInfo struct {
	DocumentID    string
	Type          ConflictType
	LocalVersion  VersionInfo
	RemoteVersion VersionInfo

	// Base is the common ancestor, when the store could provide one.
	Base *VersionInfo

	ConflictingFields   []string
	Diffs               []FieldDiff
	Severity            Severity
	CanAutoResolve      bool
	SuggestedResolution ResolutionType
	DetectedAt          time.Time
}

// Diff returns the FieldDiff for path.
func (c *ConflictInfo) Diff(path string) (FieldDiff, bool) {
	for _, d := range c.Diffs {
		if d.Path == path {
			return d, true
		}
	}
	return FieldDiff{}, false
}

// LogValue implements slog.LogValuer.
func (c *ConflictInfo) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("document_id", c.DocumentID),
		slog.String("type", c.Type.String()),
		slog.String("severity", c.Severity.String()),
		slog.Bool("auto", c.CanAutoResolve),
		slog.String("suggested", c.SuggestedResolution.String()),
		slog.Any("fields", c.ConflictingFields),
		slog.String("local_rev", c.LocalVersion.RevisionString()),
		slog.String("remote_rev", c.RemoteVersion.RevisionString()),
	)
}
