// Package engine ties conflict detection to resolution and write-back.
//
// A Session owns the conflict queue for one sync session. The store's change
// feed drives Session.HandleChange, which classifies each document's
// competing revisions and either auto-resolves them through the Orchestrator
// or queues them for a human.
package engine

import (
	"context"

	"github.com/c0deZ3R0/docsync/conflict"
	"github.com/c0deZ3R0/docsync/resolve"
)

// DocumentWithConflicts is a document's primary revision plus the revisions
// the store flagged as concurrent with it.
type DocumentWithConflicts struct {
	Primary              conflict.Snapshot
	ConflictingRevisions []string
}

// ReplicaStore is the replicated document store the engine reads conflicts
// from and writes resolutions back to.
//
// Stores return errors of kind errors.KindNotFound for unknown documents or
// revisions, and errors.KindWriteBack when Put is rejected because the
// document moved on (e.g. a newer revision appeared).
type ReplicaStore interface {
	GetWithConflicts(ctx context.Context, documentID string) (DocumentWithConflicts, error)
	GetRevision(ctx context.Context, documentID, rev string) (conflict.Snapshot, error)

	// Put stores doc as a new revision superseding the listed revisions and
	// returns the new revision.
	Put(ctx context.Context, doc resolve.ResolvedDocument, supersedes []string) (string, error)

	RemoveRevision(ctx context.Context, documentID, rev string) error
}

// ChangeFeed is implemented by stores that announce changed document IDs.
type ChangeFeed interface {
	Changes() <-chan string
}

// AncestorFinder is implemented by stores that keep revision history. When the
// store supplies the common ancestor of two revisions, classification is
// three-way and a side only counts as changing what it actually changed.
type AncestorFinder interface {
	CommonAncestor(ctx context.Context, documentID, a, b string) (conflict.Snapshot, bool, error)
}
