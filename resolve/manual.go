package resolve

import (
	"context"
	"fmt"
	"strings"

	"github.com/c0deZ3R0/docsync/conflict"
	"github.com/c0deZ3R0/docsync/errors"
)

// ManualStrategy applies explicit user selections. Every conflicting path needs
// a selection; literal values are used verbatim.
type ManualStrategy struct {
	// ElementIDField defaults to conflict.DefaultElementIDField.
	ElementIDField string
}

var _ Strategy = ManualStrategy{}

func (ManualStrategy) Name() string                  { return conflict.Manual.String() }
func (ManualStrategy) Type() conflict.ResolutionType { return conflict.Manual }

func (s ManualStrategy) Resolve(ctx context.Context, c conflict.ConflictInfo, opts Options) (ResolutionResult, error) {
	r := newResult(c, conflict.Manual, opts)

	var missing []string
	for _, p := range c.ConflictingFields {
		if _, ok := opts.Selections[p]; !ok {
			missing = append(missing, p)
		}
	}
	if len(missing) > 0 {
		return fail(r, errors.NewResolutionValidationError(c.DocumentID,
			fmt.Errorf("missing selection for %s", strings.Join(missing, ", "))))
	}

	idKey := s.ElementIDField
	if idKey == "" {
		idKey = conflict.DefaultElementIDField
	}

	data := c.LocalVersion.Data.Clone()
	if data == nil {
		data = conflict.Document{}
	}
	deleted := c.LocalVersion.Deleted

	for _, p := range c.ConflictingFields {
		sel := opts.Selections[p]
		if p == conflict.DeletedPath {
			d, err := selectDeleted(sel, c)
			if err != nil {
				return fail(r, errors.NewResolutionValidationError(c.DocumentID, err))
			}
			deleted = d
			r.FieldsResolved = append(r.FieldsResolved, p)
			continue
		}

		var (
			value any
			keep  = true
		)
		switch sel.Choice {
		case ChooseLocal:
			value, keep = conflict.Lookup(c.LocalVersion.Data, p, idKey)
		case ChooseRemote:
			value, keep = conflict.Lookup(c.RemoteVersion.Data, p, idKey)
		case ChooseLiteral:
			value = sel.Value
		default:
			return fail(r, errors.NewResolutionValidationError(c.DocumentID,
				fmt.Errorf("invalid selection %s for %s", sel.Choice, p)))
		}

		var err error
		if keep {
			err = conflict.Assign(data, p, conflict.CloneValue(value), idKey)
		} else {
			err = conflict.Remove(data, p, idKey)
		}
		if err != nil {
			return fail(r, errors.NewResolutionValidationError(c.DocumentID, fmt.Errorf("%s: %w", p, err)))
		}
		r.FieldsResolved = append(r.FieldsResolved, p)
	}

	r.Success = true
	r.ResolvedDocument.Data = data
	r.ResolvedDocument.Deleted = deleted
	return r, nil
}

func selectDeleted(sel Selection, c conflict.ConflictInfo) (bool, error) {
	switch sel.Choice {
	case ChooseLocal:
		return c.LocalVersion.Deleted, nil
	case ChooseRemote:
		return c.RemoteVersion.Deleted, nil
	case ChooseLiteral:
		b, ok := sel.Value.(bool)
		if !ok {
			return false, fmt.Errorf("%s selection must be a bool, got %T", conflict.DeletedPath, sel.Value)
		}
		return b, nil
	default:
		return false, fmt.Errorf("invalid selection %s for %s", sel.Choice, conflict.DeletedPath)
	}
}
