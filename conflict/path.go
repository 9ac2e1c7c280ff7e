package conflict

import (
	"fmt"
	"strings"
)

// DeletedPath is the synthetic path reporting a document-level deletion mismatch.
const DeletedPath = "_deleted"

// Segment is one step of a document path: either a map key or an array
// element selected by identity.
type Segment struct {
	Key     string
	ID      string
	Element bool
}

// pathSpecial lists the bytes escaped with a backslash inside keys and
// element IDs, so a key such as "links.home" stays one segment.
const pathSpecial = `.[]\`

// ParsePath splits a path such as "subtasks[7].title" into segments.
// A backslash makes the next byte literal: "links\.home" is one key.
func ParsePath(path string) ([]Segment, error) {
	if path == "" {
		return nil, fmt.Errorf("empty path")
	}
	var segs []Segment
	var key strings.Builder
	started := false
	flush := func() {
		if started {
			segs = append(segs, Segment{Key: key.String()})
			key.Reset()
			started = false
		}
	}
	for i := 0; i < len(path); i++ {
		switch c := path[i]; c {
		case '\\':
			if i+1 == len(path) {
				return nil, fmt.Errorf("dangling escape in path %q", path)
			}
			i++
			key.WriteByte(path[i])
			started = true
		case '.':
			if !started && (len(segs) == 0 || !segs[len(segs)-1].Element) {
				return nil, fmt.Errorf("empty key in path %q", path)
			}
			flush()
		case '[':
			flush()
			if len(segs) == 0 {
				return nil, fmt.Errorf("path %q starts with an element selector", path)
			}
			var id strings.Builder
			closed := false
			for i++; i < len(path); i++ {
				if path[i] == '\\' && i+1 < len(path) {
					i++
					id.WriteByte(path[i])
					continue
				}
				if path[i] == ']' {
					closed = true
					break
				}
				id.WriteByte(path[i])
			}
			if !closed || id.Len() == 0 {
				return nil, fmt.Errorf("malformed element selector in path %q", path)
			}
			segs = append(segs, Segment{ID: id.String(), Element: true})
		case ']':
			return nil, fmt.Errorf("unexpected ] in path %q", path)
		default:
			key.WriteByte(c)
			started = true
		}
	}
	flush()
	return segs, nil
}

// EscapeKey escapes the path syntax bytes in a key or element ID.
func EscapeKey(key string) string {
	if !strings.ContainsAny(key, pathSpecial) {
		return key
	}
	var b strings.Builder
	for i := 0; i < len(key); i++ {
		if strings.IndexByte(pathSpecial, key[i]) >= 0 {
			b.WriteByte('\\')
		}
		b.WriteByte(key[i])
	}
	return b.String()
}

// JoinKey appends a map key to a path.
func JoinKey(prefix, key string) string {
	if prefix == "" {
		return EscapeKey(key)
	}
	return prefix + "." + EscapeKey(key)
}

// JoinElement appends an element selector to a path.
func JoinElement(prefix, id string) string {
	return prefix + "[" + EscapeKey(id) + "]"
}

// FormatPath is the inverse of ParsePath.
func FormatPath(segs []Segment) string {
	var p string
	for _, s := range segs {
		if s.Element {
			p = JoinElement(p, s.ID)
		} else {
			p = JoinKey(p, s.Key)
		}
	}
	return p
}

// StripSelectors removes element selectors: "subtasks[7].title" becomes
// "subtasks.title".
func StripSelectors(path string) string {
	segs, err := ParsePath(path)
	if err != nil {
		return path
	}
	keys := segs[:0]
	for _, s := range segs {
		if !s.Element {
			keys = append(keys, s)
		}
	}
	return FormatPath(keys)
}

// TopLevel returns the first key of a path, escaped as in the path.
func TopLevel(path string) string {
	segs, err := ParsePath(path)
	if err != nil || segs[0].Element {
		return path
	}
	return EscapeKey(segs[0].Key)
}

// Lookup returns the value at path. Element segments are matched by the value
// stored under idKey.
func Lookup(doc map[string]any, path, idKey string) (any, bool) {
	segs, err := ParsePath(path)
	if err != nil {
		return nil, false
	}
	var cur any = map[string]any(doc)
	for _, seg := range segs {
		if seg.Element {
			arr, ok := cur.([]any)
			if !ok {
				return nil, false
			}
			idx := indexByID(arr, seg.ID, idKey)
			if idx < 0 {
				return nil, false
			}
			cur = arr[idx]
			continue
		}
		m, ok := asMap(cur)
		if !ok {
			return nil, false
		}
		cur, ok = m[seg.Key]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// Assign sets the value at path, creating intermediate objects and appending
// missing array elements as needed.
func Assign(doc map[string]any, path string, value any, idKey string) error {
	segs, err := ParsePath(path)
	if err != nil {
		return err
	}
	return mutate(doc, segs, value, idKey, false)
}

// Remove deletes the key or array element at path. Missing paths are ignored.
func Remove(doc map[string]any, path, idKey string) error {
	segs, err := ParsePath(path)
	if err != nil {
		return err
	}
	return mutate(doc, segs, nil, idKey, true)
}

func mutate(m map[string]any, segs []Segment, value any, idKey string, remove bool) error {
	key := segs[0].Key
	if len(segs) == 1 {
		if remove {
			delete(m, key)
		} else {
			m[key] = value
		}
		return nil
	}

	next := segs[1]
	if !next.Element {
		child, ok := asMap(m[key])
		if !ok {
			if remove {
				return nil
			}
			if _, exists := m[key]; exists && m[key] != nil {
				return fmt.Errorf("cannot descend into %q: not an object", key)
			}
			child = map[string]any{}
			m[key] = child
		}
		return mutate(child, segs[1:], value, idKey, remove)
	}

	arr, ok := m[key].([]any)
	if !ok {
		if remove {
			return nil
		}
		if _, exists := m[key]; exists && m[key] != nil {
			return fmt.Errorf("cannot select element of %q: not an array", key)
		}
	}
	idx := indexByID(arr, next.ID, idKey)
	rest := segs[2:]

	if len(rest) == 0 {
		switch {
		case remove && idx >= 0:
			arr = append(arr[:idx:idx], arr[idx+1:]...)
		case remove:
			return nil
		case idx >= 0:
			arr[idx] = value
		default:
			arr = append(arr, value)
		}
		m[key] = arr
		return nil
	}

	if idx < 0 {
		if remove {
			return nil
		}
		arr = append(arr, map[string]any{idKey: next.ID})
		idx = len(arr) - 1
		m[key] = arr
	}
	el, ok := asMap(arr[idx])
	if !ok {
		return fmt.Errorf("element %s[%s] is not an object", key, next.ID)
	}
	return mutate(el, rest, value, idKey, remove)
}

func indexByID(arr []any, id, idKey string) int {
	for i, e := range arr {
		if eid, ok := ElementID(e, idKey); ok && eid == id {
			return i
		}
	}
	return -1
}
