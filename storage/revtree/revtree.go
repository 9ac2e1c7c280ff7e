// Package revtree holds the vector-clock bookkeeping shared by the replica
// stores: where an incoming revision goes, and which revision two leaves
// share as their most recent ancestor.
package revtree

import (
	"sort"

	"github.com/c0deZ3R0/docsync/revision"
)

// Placement says how an incoming revision changes a document's leaves.
type Placement int

const (
	// Ignore means the revision is already known or an ancestor of the
	// primary; it is kept as history only.
	Ignore Placement = iota
	// Primary means the revision descends from the primary and replaces it.
	Primary
	// Conflicting means the revision is concurrent with the primary.
	Conflicting
)

// Place decides where incoming goes given the current primary. A nil primary
// means the document is new.
func Place(primary, incoming *revision.VectorClock) Placement {
	switch {
	case primary == nil:
		return Primary
	case incoming.IsEqual(primary):
		return Ignore
	case incoming.Compare(primary) > 0:
		return Primary
	case incoming.Compare(primary) < 0:
		return Ignore
	default:
		return Conflicting
	}
}

// Dominated returns the conflicting revisions incoming descends from. They
// stop being leaves once incoming is stored.
func Dominated(incoming *revision.VectorClock, conflicts []string) ([]string, error) {
	var out []string
	for _, rev := range conflicts {
		c, err := revision.Parse(rev)
		if err != nil {
			return nil, err
		}
		if incoming.Compare(c) > 0 {
			out = append(out, rev)
		}
	}
	return out, nil
}

// Precedes reports whether a is b or an ancestor of b.
func Precedes(a, b *revision.VectorClock) bool {
	return a.IsEqual(b) || a.Compare(b) < 0
}

// CommonAncestor returns the most recent revision in history that both a and
// b descend from. Ties between concurrent candidates go to the smallest
// revision string.
func CommonAncestor(history []string, a, b string) (string, bool, error) {
	ca, err := revision.Parse(a)
	if err != nil {
		return "", false, err
	}
	cb, err := revision.Parse(b)
	if err != nil {
		return "", false, err
	}
	sorted := append([]string(nil), history...)
	sort.Strings(sorted)

	var (
		best      string
		bestClock *revision.VectorClock
	)
	for _, rev := range sorted {
		c, err := revision.Parse(rev)
		if err != nil {
			return "", false, err
		}
		if !Precedes(c, ca) || !Precedes(c, cb) {
			continue
		}
		if bestClock == nil || c.Compare(bestClock) > 0 {
			best, bestClock = rev, c
		}
	}
	return best, bestClock != nil, nil
}

// Supersede parses the superseded revisions and returns the clock of a
// resolution written by replica on top of all of them.
func Supersede(replica string, supersedes []string) (*revision.VectorClock, error) {
	clocks := make([]*revision.VectorClock, 0, len(supersedes))
	for _, rev := range supersedes {
		c, err := revision.Parse(rev)
		if err != nil {
			return nil, err
		}
		clocks = append(clocks, c)
	}
	return revision.Supersede(replica, clocks...)
}

// Contains reports whether revs holds rev.
func Contains(revs []string, rev string) bool {
	for _, r := range revs {
		if r == rev {
			return true
		}
	}
	return false
}
