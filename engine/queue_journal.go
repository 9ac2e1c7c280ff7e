package engine

import (
	"context"
	"time"

	"github.com/c0deZ3R0/docsync/conflict"
	"github.com/c0deZ3R0/docsync/interfaces"
	"github.com/c0deZ3R0/docsync/resolve"
	"github.com/c0deZ3R0/docsync/revision"
)

// QueueJournal persists queue entries so pending conflicts survive restarts.
type QueueJournal interface {
	SaveEntry(ctx context.Context, r EntryRecord) error
	DeleteEntry(ctx context.Context, documentID string) error
	LoadEntries(ctx context.Context) ([]EntryRecord, error)
}

// SnapshotRecord is the serializable form of one side of a conflict.
type SnapshotRecord struct {
	Revision  string            `json:"revision"`
	Data      conflict.Document `json:"data"`
	UpdatedAt time.Time         `json:"updated_at"`
	Deleted   bool              `json:"deleted,omitempty"`
}

// EntryRecord is the serializable form of a queue Entry. Field diffs are not
// stored; they are recomputed from the snapshots on restore.
type EntryRecord struct {
	DocumentID        string                       `json:"document_id"`
	Type              string                       `json:"type"`
	Severity          string                       `json:"severity"`
	ConflictingFields []string                     `json:"conflicting_fields"`
	Local             SnapshotRecord               `json:"local"`
	Remote            SnapshotRecord               `json:"remote"`
	Base              *SnapshotRecord              `json:"base,omitempty"`
	DetectedAt        time.Time                    `json:"detected_at"`
	EnqueuedAt        time.Time                    `json:"enqueued_at"`
	Attempts          int                          `json:"attempts,omitempty"`
	LastError         string                       `json:"last_error,omitempty"`
	Selections        map[string]resolve.Selection `json:"selections,omitempty"`
}

// RevisionParser turns a stored revision string back into a Revision.
type RevisionParser func(string) (interfaces.Revision, error)

// ParseVectorClock is the RevisionParser for revision.VectorClock.
func ParseVectorClock(s string) (interfaces.Revision, error) {
	vc, err := revision.Parse(s)
	if err != nil {
		return nil, err
	}
	return vc, nil
}

func recordOf(v conflict.VersionInfo) SnapshotRecord {
	return SnapshotRecord{
		Revision:  v.RevisionString(),
		Data:      v.Data,
		UpdatedAt: v.UpdatedAt,
		Deleted:   v.Deleted,
	}
}

// RecordOf converts an Entry to its serializable form.
func RecordOf(e Entry) EntryRecord {
	c := e.Conflict
	r := EntryRecord{
		DocumentID:        c.DocumentID,
		Type:              c.Type.String(),
		Severity:          c.Severity.String(),
		ConflictingFields: append([]string(nil), c.ConflictingFields...),
		Local:             recordOf(c.LocalVersion),
		Remote:            recordOf(c.RemoteVersion),
		DetectedAt:        c.DetectedAt,
		EnqueuedAt:        e.EnqueuedAt,
		Attempts:          e.Attempts,
		LastError:         e.LastError,
		Selections:        e.Selections,
	}
	if c.Base != nil {
		b := recordOf(*c.Base)
		r.Base = &b
	}
	return r
}

func (s SnapshotRecord) snapshot(id string, parse RevisionParser) (conflict.Snapshot, error) {
	rev, err := parse(s.Revision)
	if err != nil {
		return conflict.Snapshot{}, err
	}
	return conflict.Snapshot{ID: id, Revision: rev, Data: s.Data, UpdatedAt: s.UpdatedAt, Deleted: s.Deleted}, nil
}

// Snapshots rebuilds the snapshots the entry was classified from.
func (r EntryRecord) Snapshots(parse RevisionParser) (local, remote conflict.Snapshot, base *conflict.Snapshot, err error) {
	if local, err = r.Local.snapshot(r.DocumentID, parse); err != nil {
		return
	}
	if remote, err = r.Remote.snapshot(r.DocumentID, parse); err != nil {
		return
	}
	if r.Base != nil {
		var b conflict.Snapshot
		if b, err = r.Base.snapshot(r.DocumentID, parse); err != nil {
			return
		}
		base = &b
	}
	return
}
