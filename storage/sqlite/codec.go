package sqlite

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/golang/snappy"

	"github.com/c0deZ3R0/docsync/conflict"
)

// encodeBlob marshals v to JSON, snappy compressing it when compress is set.
// It reports whether the result is compressed.
func encodeBlob(v any, compress bool) ([]byte, bool, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, false, err
	}
	if !compress {
		return b, false, nil
	}
	return snappy.Encode(nil, b), true, nil
}

func decodeBlob(b []byte, compressed bool) ([]byte, error) {
	if !compressed {
		return b, nil
	}
	out, err := snappy.Decode(nil, b)
	if err != nil {
		return nil, fmt.Errorf("snappy decode: %w", err)
	}
	return out, nil
}

func decodeDocument(b []byte, compressed bool) (conflict.Document, error) {
	raw, err := decodeBlob(b, compressed)
	if err != nil {
		return nil, err
	}
	return conflict.DecodeDocument(raw)
}

func unmarshalBlob(b []byte, compressed bool, v any) error {
	raw, err := decodeBlob(b, compressed)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, v)
}

// Times are stored as UTC unix nanoseconds; 0 is the zero time.
func encodeTime(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func decodeTime(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}
