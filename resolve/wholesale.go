package resolve

import (
	"context"

	"github.com/c0deZ3R0/docsync/conflict"
)

var (
	_ Strategy = LocalWinsStrategy{}
	_ Strategy = RemoteWinsStrategy{}
	_ Strategy = LastWriteWinsStrategy{}
)

// LocalWinsStrategy keeps the local document wholesale.
type LocalWinsStrategy struct{}

func (LocalWinsStrategy) Name() string                  { return conflict.LocalWins.String() }
func (LocalWinsStrategy) Type() conflict.ResolutionType { return conflict.LocalWins }

func (s LocalWinsStrategy) Resolve(ctx context.Context, c conflict.ConflictInfo, opts Options) (ResolutionResult, error) {
	return wholesale(c, c.LocalVersion, conflict.LocalWins, opts), nil
}

// RemoteWinsStrategy keeps the remote document wholesale.
type RemoteWinsStrategy struct{}

func (RemoteWinsStrategy) Name() string                  { return conflict.RemoteWins.String() }
func (RemoteWinsStrategy) Type() conflict.ResolutionType { return conflict.RemoteWins }

func (s RemoteWinsStrategy) Resolve(ctx context.Context, c conflict.ConflictInfo, opts Options) (ResolutionResult, error) {
	return wholesale(c, c.RemoteVersion, conflict.RemoteWins, opts), nil
}

// LastWriteWinsStrategy keeps whichever document was updated strictly later.
// Equal timestamps keep local, so repeated runs always agree.
type LastWriteWinsStrategy struct{}

func (LastWriteWinsStrategy) Name() string                  { return conflict.LastWriteWins.String() }
func (LastWriteWinsStrategy) Type() conflict.ResolutionType { return conflict.LastWriteWins }

func (s LastWriteWinsStrategy) Resolve(ctx context.Context, c conflict.ConflictInfo, opts Options) (ResolutionResult, error) {
	winner := c.LocalVersion
	if c.RemoteVersion.UpdatedAt.After(c.LocalVersion.UpdatedAt) {
		winner = c.RemoteVersion
	}
	return wholesale(c, winner, conflict.LastWriteWins, opts), nil
}

func wholesale(c conflict.ConflictInfo, winner conflict.VersionInfo, t conflict.ResolutionType, opts Options) ResolutionResult {
	r := newResult(c, t, opts)
	r.Success = true
	r.ResolvedDocument.Data = winner.Data.Clone()
	if r.ResolvedDocument.Data == nil {
		r.ResolvedDocument.Data = conflict.Document{}
	}
	r.ResolvedDocument.Deleted = winner.Deleted
	r.FieldsResolved = copyFields(c.ConflictingFields)
	return r
}
