package postgres

import (
	"context"
	"encoding/json"

	"github.com/c0deZ3R0/docsync/conflict"
	"github.com/c0deZ3R0/docsync/engine"
	"github.com/c0deZ3R0/docsync/errors"
)

// SaveEntry persists a queue entry, replacing any earlier one for the
// document.
func (s *Store) SaveEntry(ctx context.Context, r engine.EntryRecord) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	b, err := json.Marshal(r)
	if err != nil {
		return errors.E(errors.OpEnqueue, component, errors.KindInvalid, err)
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO conflict_queue (doc_id, entry, enqueued_at)
        VALUES ($1, $2, $3)
        ON CONFLICT (doc_id) DO UPDATE SET entry = EXCLUDED.entry, enqueued_at = EXCLUDED.enqueued_at`,
		r.DocumentID, string(b), r.EnqueuedAt)
	return errors.WrapOpComponent(err, string(errors.OpEnqueue), string(component))
}

// DeleteEntry removes a document's persisted queue entry.
func (s *Store) DeleteEntry(ctx context.Context, documentID string) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM conflict_queue WHERE doc_id = $1`, documentID)
	return errors.WrapOpComponent(err, string(errors.OpEnqueue), string(component))
}

// LoadEntries returns the persisted queue entries, oldest first.
func (s *Store) LoadEntries(ctx context.Context) ([]engine.EntryRecord, error) {
	blobs, err := s.queryStrings(ctx, `SELECT entry::text FROM conflict_queue ORDER BY enqueued_at, doc_id`)
	if err != nil {
		return nil, err
	}
	out := make([]engine.EntryRecord, 0, len(blobs))
	for _, b := range blobs {
		var r engine.EntryRecord
		if err := json.Unmarshal([]byte(b), &r); err != nil {
			return nil, errors.E(errors.OpLoad, component, errors.KindInternal, err)
		}
		out = append(out, r)
	}
	return out, nil
}

// Save appends a resolution memento to the journal.
func (s *Store) Save(ctx context.Context, m *engine.ResolutionMemento) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	if m == nil || m.ID == "" {
		return errors.E(errors.OpStore, component, errors.KindInvalid, "memento requires an ID")
	}
	b, err := json.Marshal(m)
	if err != nil {
		return errors.E(errors.OpStore, component, errors.KindInvalid, err)
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO resolution_journal (id, doc_id, recorded_at, memento)
        VALUES ($1, $2, $3, $4)
        ON CONFLICT (id) DO UPDATE SET memento = EXCLUDED.memento`,
		m.ID, m.DocumentID, m.Timestamp, string(b))
	return errors.WrapOpComponent(err, string(errors.OpStore), string(component))
}

// List returns a document's mementos oldest first.
func (s *Store) List(ctx context.Context, documentID string) ([]*engine.ResolutionMemento, error) {
	blobs, err := s.queryStrings(ctx, `SELECT memento::text FROM resolution_journal
        WHERE doc_id = $1 ORDER BY recorded_at, id`, documentID)
	if err != nil {
		return nil, err
	}
	out := make([]*engine.ResolutionMemento, 0, len(blobs))
	for _, b := range blobs {
		m := &engine.ResolutionMemento{}
		if err := json.Unmarshal([]byte(b), m); err != nil {
			return nil, errors.E(errors.OpLoad, component, errors.KindInternal, err)
		}
		out = append(out, m)
	}
	return out, nil
}

// FindByField returns the IDs of documents whose primary revision has field
// set to value. It uses the GIN index on the JSONB bodies.
func (s *Store) FindByField(ctx context.Context, field string, value any) ([]string, error) {
	filter, err := json.Marshal(conflict.Document{field: value})
	if err != nil {
		return nil, errors.E(errors.OpLoad, component, errors.KindInvalid, err)
	}
	return s.queryStrings(ctx, `SELECT doc_id FROM revisions
        WHERE status = 1 AND data @> $1::jsonb ORDER BY doc_id`, string(filter))
}
