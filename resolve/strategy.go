// Package resolve holds the pluggable conflict resolution strategies and the
// registry the orchestrator looks them up in.
//
// Strategies are pure: they read a ConflictInfo and produce a ResolutionResult
// without I/O or mutable state beyond their construction-time configuration.
package resolve

import (
	"context"
	"fmt"
	"time"

	"github.com/c0deZ3R0/docsync/conflict"
)

// ResolvedDocument is the document a strategy produced.
type ResolvedDocument struct {
	ID        string
	Data      conflict.Document
	Deleted   bool
	UpdatedAt time.Time
}

// ResolutionResult is the outcome of running a strategy on a conflict.
type ResolutionResult struct {
	Success          bool
	ResolvedDocument ResolvedDocument
	ResolutionType   conflict.ResolutionType
	FieldsResolved   []string
	Timestamp        time.Time

	// Superseded lists the revisions the resolved document replaces.
	Superseded []string

	// Warnings carries per-field fallbacks, e.g. a custom resolver that failed.
	Warnings []string

	// Err explains a failed result.
	Err error
}

// Strategy resolves a conflict into a single document.
type Strategy interface {
	Name() string
	Type() conflict.ResolutionType
	Resolve(ctx context.Context, c conflict.ConflictInfo, opts Options) (ResolutionResult, error)
}

// Choice selects where a manual selection takes its value from.
type Choice uint8

const (
	ChooseLocal Choice = iota + 1
	ChooseRemote
	ChooseLiteral
)

func (c Choice) String() string {
	switch c {
	case ChooseLocal:
		return "local"
	case ChooseRemote:
		return "remote"
	case ChooseLiteral:
		return "literal"
	default:
		return fmt.Sprintf("Choice(%d)", uint8(c))
	}
}

// Selection is a user's decision for one conflicting path.
type Selection struct {
	Choice Choice `json:"choice"`
	Value  any    `json:"value,omitempty"`
}

// UseLocal selects the local value.
func UseLocal() Selection { return Selection{Choice: ChooseLocal} }

// UseRemote selects the remote value.
func UseRemote() Selection { return Selection{Choice: ChooseRemote} }

// UseLiteral selects a value entered by the user, used verbatim.
func UseLiteral(v any) Selection { return Selection{Choice: ChooseLiteral, Value: v} }

// Options are per-call inputs to a strategy.
type Options struct {
	// Selections holds manual decisions keyed by conflicting path.
	Selections map[string]Selection

	// Now stamps the result; time.Now when nil.
	Now func() time.Time
}

func (o Options) now() time.Time {
	if o.Now != nil {
		return o.Now()
	}
	return time.Now()
}

func newResult(c conflict.ConflictInfo, t conflict.ResolutionType, opts Options) ResolutionResult {
	return ResolutionResult{
		ResolutionType: t,
		Timestamp:      opts.now(),
		Superseded:     superseded(c),
		ResolvedDocument: ResolvedDocument{
			ID:        c.DocumentID,
			UpdatedAt: latest(c.LocalVersion.UpdatedAt, c.RemoteVersion.UpdatedAt),
		},
	}
}

// fail marks the result unsuccessful and returns it with err.
func fail(r ResolutionResult, err error) (ResolutionResult, error) {
	r.Success = false
	r.Err = err
	return r, err
}

func superseded(c conflict.ConflictInfo) []string {
	var revs []string
	for _, v := range []conflict.VersionInfo{c.LocalVersion, c.RemoteVersion} {
		if s := v.RevisionString(); s != "" {
			revs = append(revs, s)
		}
	}
	return revs
}

func latest(a, b time.Time) time.Time {
	if b.After(a) {
		return b
	}
	return a
}

func copyFields(fields []string) []string {
	return append([]string(nil), fields...)
}
