package conflict

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

const tombstoneKey = "$tombstone"

type tombstoneJSON struct {
	DeletedAt time.Time `json:"deleted_at"`
	DeletedBy string    `json:"deleted_by,omitempty"`
}

// MarshalJSON encodes a tombstone as {"$tombstone": {...}} so it survives a
// round trip through a Document.
func (t Tombstone) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]tombstoneJSON{tombstoneKey: tombstoneJSON(t)})
}

// UnmarshalJSON decodes a document, keeping numbers as json.Number and
// restoring tombstones.
func (d *Document) UnmarshalJSON(b []byte) error {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var m map[string]any
	if err := dec.Decode(&m); err != nil {
		return err
	}
	if m == nil {
		*d = nil
		return nil
	}
	out, err := restoreTombstones(m)
	if err != nil {
		return err
	}
	*d = Document(out.(map[string]any))
	return nil
}

// DecodeDocument parses a JSON object into a Document.
func DecodeDocument(b []byte) (Document, error) {
	var d Document
	if err := json.Unmarshal(b, &d); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	if d == nil {
		d = Document{}
	}
	return d, nil
}

func restoreTombstones(v any) (any, error) {
	switch t := v.(type) {
	case map[string]any:
		if raw, ok := t[tombstoneKey]; ok && len(t) == 1 {
			b, err := json.Marshal(raw)
			if err != nil {
				return nil, err
			}
			var tj tombstoneJSON
			if err := json.Unmarshal(b, &tj); err != nil {
				return nil, fmt.Errorf("decode tombstone: %w", err)
			}
			return Tombstone(tj), nil
		}
		for k, e := range t {
			r, err := restoreTombstones(e)
			if err != nil {
				return nil, err
			}
			t[k] = r
		}
		return t, nil
	case []any:
		for i, e := range t {
			r, err := restoreTombstones(e)
			if err != nil {
				return nil, err
			}
			t[i] = r
		}
		return t, nil
	default:
		return v, nil
	}
}
