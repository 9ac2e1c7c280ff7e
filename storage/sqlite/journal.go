package sqlite

import (
	"context"
	"database/sql"

	"github.com/c0deZ3R0/docsync/engine"
	"github.com/c0deZ3R0/docsync/errors"
)

// SaveEntry persists a queue entry, replacing any earlier one for the
// document.
func (s *Store) SaveEntry(ctx context.Context, r engine.EntryRecord) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	b, compressed, err := encodeBlob(r, s.compress)
	if err != nil {
		return errors.E(errors.OpEnqueue, component, errors.KindInvalid, err)
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO conflict_queue (doc_id, entry, compressed, enqueued_at)
        VALUES (?, ?, ?, ?)
        ON CONFLICT (doc_id) DO UPDATE SET
            entry = excluded.entry,
            compressed = excluded.compressed,
            enqueued_at = excluded.enqueued_at`,
		r.DocumentID, b, compressed, encodeTime(r.EnqueuedAt))
	return errors.WrapOpComponent(err, string(errors.OpEnqueue), string(component))
}

// DeleteEntry removes a document's persisted queue entry. Deleting a missing
// entry is not an error.
func (s *Store) DeleteEntry(ctx context.Context, documentID string) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM conflict_queue WHERE doc_id = ?`, documentID)
	return errors.WrapOpComponent(err, string(errors.OpEnqueue), string(component))
}

// LoadEntries returns the persisted queue entries, oldest first.
func (s *Store) LoadEntries(ctx context.Context) ([]engine.EntryRecord, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `SELECT entry, compressed FROM conflict_queue ORDER BY enqueued_at, doc_id`)
	if err != nil {
		return nil, errors.WrapOpComponent(err, string(errors.OpLoad), string(component))
	}
	defer rows.Close()

	var out []engine.EntryRecord
	for rows.Next() {
		var r engine.EntryRecord
		if err := scanBlob(rows, &r); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, errors.WrapOpComponent(rows.Err(), string(errors.OpLoad), string(component))
}

// Save appends a resolution memento to the journal.
func (s *Store) Save(ctx context.Context, m *engine.ResolutionMemento) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	if m == nil || m.ID == "" {
		return errors.E(errors.OpStore, component, errors.KindInvalid, "memento requires an ID")
	}
	b, compressed, err := encodeBlob(m, s.compress)
	if err != nil {
		return errors.E(errors.OpStore, component, errors.KindInvalid, err)
	}
	_, err = s.db.ExecContext(ctx, `INSERT OR REPLACE INTO resolution_journal (id, doc_id, recorded_at, memento, compressed)
        VALUES (?, ?, ?, ?, ?)`,
		m.ID, m.DocumentID, encodeTime(m.Timestamp), b, compressed)
	return errors.WrapOpComponent(err, string(errors.OpStore), string(component))
}

// List returns a document's mementos oldest first.
func (s *Store) List(ctx context.Context, documentID string) ([]*engine.ResolutionMemento, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `SELECT memento, compressed FROM resolution_journal
        WHERE doc_id = ? ORDER BY recorded_at, id`, documentID)
	if err != nil {
		return nil, errors.WrapOpComponent(err, string(errors.OpLoad), string(component))
	}
	defer rows.Close()

	var out []*engine.ResolutionMemento
	for rows.Next() {
		m := &engine.ResolutionMemento{}
		if err := scanBlob(rows, m); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, errors.WrapOpComponent(rows.Err(), string(errors.OpLoad), string(component))
}

func scanBlob(rows *sql.Rows, v any) error {
	var (
		b          []byte
		compressed bool
	)
	if err := rows.Scan(&b, &compressed); err != nil {
		return errors.WrapOpComponent(err, string(errors.OpLoad), string(component))
	}
	if err := unmarshalBlob(b, compressed, v); err != nil {
		return errors.E(errors.OpLoad, component, errors.KindInternal, err)
	}
	return nil
}
