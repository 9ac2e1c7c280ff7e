package conflict

import (
	"encoding/hex"
	"encoding/json"
	"fmt"

	"golang.org/x/crypto/blake2b"
	"golang.org/x/text/unicode/norm"
)

// Checksum returns the hex blake2b-256 sum of the document's canonical JSON
// form. Object keys are sorted and strings are NFC-normalized first, so
// canonically equivalent documents share a checksum.
func Checksum(doc Document) (string, error) {
	b, err := json.Marshal(canonical(map[string]any(doc)))
	if err != nil {
		return "", fmt.Errorf("encode document: %w", err)
	}
	sum := blake2b.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}

// VerifyChecksum reports whether s carries no checksum or one that matches its data.
func VerifyChecksum(s Snapshot) (bool, error) {
	if s.Checksum == "" {
		return true, nil
	}
	sum, err := Checksum(s.Data)
	if err != nil {
		return false, err
	}
	return sum == s.Checksum, nil
}

func canonical(v any) any {
	switch t := v.(type) {
	case string:
		return norm.NFC.String(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = canonical(e)
		}
		return out
	case *Tombstone:
		if t == nil {
			return nil
		}
		return *t
	case Tombstone:
		return t
	}
	if m, ok := asMap(v); ok {
		out := make(map[string]any, len(m))
		for k, e := range m {
			out[norm.NFC.String(k)] = canonical(e)
		}
		return out
	}
	if n, ok := Number(v); ok {
		return n
	}
	return v
}
