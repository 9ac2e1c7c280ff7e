package conflict

import (
	"encoding/json"
	"math"
	"strconv"

	"golang.org/x/text/unicode/norm"
)

// asMap returns v as a plain map when it is a nested object.
func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case Document:
		return m, true
	default:
		return nil, false
	}
}

// StateOf reports the FieldState of a looked-up value.
func StateOf(v any, present bool) FieldState {
	switch {
	case !present:
		return Absent
	case v == nil:
		return Null
	default:
		if _, ok := asTombstone(v); ok {
			return Tombstoned
		}
		return Present
	}
}

func asTombstone(v any) (Tombstone, bool) {
	switch t := v.(type) {
	case Tombstone:
		return t, true
	case *Tombstone:
		if t != nil {
			return *t, true
		}
	}
	return Tombstone{}, false
}

// Number converts any Go numeric value (or json.Number) to float64.
func Number(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

func exactInt(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int8:
		return int64(n), true
	case int16:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint8:
		return int64(n), true
	case uint16:
		return int64(n), true
	case uint32:
		return int64(n), true
	case json.Number:
		i, err := n.Int64()
		return i, err == nil
	default:
		return 0, false
	}
}

// valueEqual is structural equality over JSON-like values. Numbers compare by
// value regardless of Go type; strings optionally compare under NFC.
func valueEqual(a, b any, fold bool) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if ta, ok := asTombstone(a); ok {
		tb, ok := asTombstone(b)
		return ok && ta.DeletedAt.Equal(tb.DeletedAt) && ta.DeletedBy == tb.DeletedBy
	}
	if ia, ok := exactInt(a); ok {
		if ib, ok := exactInt(b); ok {
			return ia == ib
		}
	}
	if na, ok := Number(a); ok {
		nb, ok := Number(b)
		return ok && (na == nb || (math.IsNaN(na) && math.IsNaN(nb)))
	}
	switch av := a.(type) {
	case string:
		bv, ok := b.(string)
		if !ok {
			return false
		}
		return stringEqual(av, bv, fold)
	case bool:
		bv, ok := b.(bool)
		return ok && av == bv
	case []any:
		bv, ok := b.([]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !valueEqual(av[i], bv[i], fold) {
				return false
			}
		}
		return true
	}
	if am, ok := asMap(a); ok {
		bm, ok := asMap(b)
		if !ok || len(am) != len(bm) {
			return false
		}
		for k, v := range am {
			w, ok := bm[k]
			if !ok || !valueEqual(v, w, fold) {
				return false
			}
		}
		return true
	}
	return false
}

func stringEqual(a, b string, fold bool) bool {
	if a == b {
		return true
	}
	if !fold {
		return false
	}
	if norm.NFC.IsNormalString(a) && norm.NFC.IsNormalString(b) {
		return false
	}
	return norm.NFC.String(a) == norm.NFC.String(b)
}

// Equal reports whether two values are equal, folding canonically equivalent
// Unicode strings.
func Equal(a, b any) bool {
	return valueEqual(a, b, true)
}

// CloneValue deep-copies maps and slices; scalars are returned as is.
func CloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cloneMap(t)
	case Document:
		return Document(cloneMap(t))
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = CloneValue(e)
		}
		return out
	default:
		return v
	}
}

func cloneMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = CloneValue(v)
	}
	return out
}

// ElementID returns the identity of an array element: a map carrying a
// non-empty string or numeric value under key.
func ElementID(v any, key string) (string, bool) {
	m, ok := asMap(v)
	if !ok {
		return "", false
	}
	switch id := m[key].(type) {
	case string:
		return id, id != ""
	case json.Number:
		return id.String(), true
	case nil:
		return "", false
	default:
		if n, ok := exactInt(id); ok {
			return strconv.FormatInt(n, 10), true
		}
		if f, ok := Number(id); ok {
			return strconv.FormatFloat(f, 'f', -1, 64), true
		}
		return "", false
	}
}

// identifiable reports whether every element of arr carries a unique id.
// Empty arrays qualify so an empty list can be matched against a populated one.
func identifiable(arr []any, key string) bool {
	seen := make(map[string]struct{}, len(arr))
	for _, e := range arr {
		id, ok := ElementID(e, key)
		if !ok {
			return false
		}
		if _, dup := seen[id]; dup {
			return false
		}
		seen[id] = struct{}{}
	}
	return true
}
