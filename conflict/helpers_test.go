package conflict

import (
	"time"

	"github.com/c0deZ3R0/docsync/revision"
)

var (
	t1000 = time.UnixMilli(1000).UTC()
	t2000 = time.UnixMilli(2000).UTC()
)

func snap(node string, data Document, at time.Time) Snapshot {
	return Snapshot{
		ID:        "task-1",
		Revision:  revision.FromMap(map[string]uint64{node: 1}),
		Data:      data,
		UpdatedAt: at,
	}
}
