// Package interfaces defines core interfaces used across the docsync packages
// to avoid circular dependencies.
package interfaces

// Revision is an opaque marker produced by a replica store for one version of a
// document. Revisions are comparable for ancestry but not totally ordered.
type Revision interface {
	// Compare returns -1 if this revision is an ancestor of other, 1 if it
	// descends from other, and 0 if the two are equal or concurrent.
	Compare(other Revision) int

	// String returns the stable string form used by stores and the UI.
	String() string

	// IsZero returns true for the initial (empty) revision.
	IsZero() bool
}
