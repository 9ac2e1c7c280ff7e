package resolve

import (
	"fmt"
	"time"

	"github.com/c0deZ3R0/docsync/errors"
)

// FieldContext describes the field a FieldResolverFunc is asked to merge.
type FieldContext struct {
	DocumentID      string
	Path            string
	LocalUpdatedAt  time.Time
	RemoteUpdatedAt time.Time
}

// FieldResolverFunc merges two values of one field. It must be pure and
// deterministic. Returning an error makes the field fall back to
// last-write-wins.
type FieldResolverFunc func(local, remote any, fc FieldContext) (any, error)

// callResolver runs fn and converts errors and panics into a custom resolver error.
func callResolver(fn FieldResolverFunc, local, remote any, fc FieldContext) (v any, err error) {
	defer func() {
		if p := recover(); p != nil {
			v = nil
			err = errors.NewCustomResolverError(fc.Path, fmt.Errorf("resolver panicked: %v", p))
		}
	}()
	v, err = fn(local, remote, fc)
	if err != nil {
		return nil, errors.NewCustomResolverError(fc.Path, err)
	}
	return v, nil
}

// MaxResolver keeps the larger of two numeric values.
func MaxResolver(local, remote any, _ FieldContext) (any, error) {
	v, ok := maxNumber(local, remote)
	if !ok {
		return nil, fmt.Errorf("non-numeric values %T and %T", local, remote)
	}
	return v, nil
}

// UnionResolver merges two arrays into an ordered, de-duplicated union with
// local elements first.
func UnionResolver(local, remote any, _ FieldContext) (any, error) {
	v, ok := unionArrays(local, remote)
	if !ok {
		return nil, fmt.Errorf("non-array values %T and %T", local, remote)
	}
	return v, nil
}
