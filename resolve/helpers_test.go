package resolve

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/c0deZ3R0/docsync/conflict"
	"github.com/c0deZ3R0/docsync/revision"
)

var (
	t1000 = time.UnixMilli(1000).UTC()
	t2000 = time.UnixMilli(2000).UTC()
	fixed = func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }
)

func snap(node string, data conflict.Document, at time.Time) conflict.Snapshot {
	return conflict.Snapshot{
		ID:        "task-1",
		Revision:  revision.FromMap(map[string]uint64{node: 1}),
		Data:      data,
		UpdatedAt: at,
	}
}

// classify builds a conflict the way the engine does.
func classify(t *testing.T, local, remote conflict.Snapshot) conflict.ConflictInfo {
	t.Helper()
	info, err := conflict.NewClassifier().Classify("task-1", local, remote)
	require.NoError(t, err)
	require.NotNil(t, info)
	return *info
}

// classifyWithBase builds a three-way conflict, as the engine does when the
// store knows the common ancestor.
func classifyWithBase(t *testing.T, base conflict.Document, local, remote conflict.Snapshot) conflict.ConflictInfo {
	t.Helper()
	b := snap("base", base, t1000.Add(-time.Second))
	info, err := conflict.NewClassifier().ClassifyWithBase("task-1", &b, local, remote)
	require.NoError(t, err)
	require.NotNil(t, info)
	return *info
}
