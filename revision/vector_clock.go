// Package revision provides the vector-clock revision markers used by the
// reference replica stores. Vector clocks track causality between replicas: two
// revisions are in conflict exactly when neither clock descends from the other.
package revision

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/c0deZ3R0/docsync/interfaces"
)

// Limits protecting stores from unbounded clocks.
const (
	MaxNodeIDLength = 255
	MaxNodes        = 1000
)

// VectorClockError represents errors that can occur during vector clock operations
type VectorClockError struct {
	Msg string
}

func (e *VectorClockError) Error() string {
	return e.Msg
}

// VectorClock maps a replica ID to the number of writes that replica has made
// to the document.
type VectorClock struct {
	clocks map[string]uint64
}

var _ interfaces.Revision = (*VectorClock)(nil)

// NewVectorClock creates an empty VectorClock.
func NewVectorClock() *VectorClock {
	return &VectorClock{clocks: make(map[string]uint64)}
}

// FromMap creates a VectorClock from a map of replica IDs to clock values.
// The input map is copied.
func FromMap(clocks map[string]uint64) *VectorClock {
	vc := NewVectorClock()
	for node, v := range clocks {
		vc.clocks[node] = v
	}
	return vc
}

// Parse decodes the canonical string form produced by String.
//
// The expected format is a JSON object mapping replica IDs to clock values:
// {"laptop":5,"phone":3}
func Parse(s string) (*VectorClock, error) {
	if strings.TrimSpace(s) == "" || s == "{}" {
		return NewVectorClock(), nil
	}

	vc := NewVectorClock()
	if err := json.Unmarshal([]byte(s), &vc.clocks); err != nil {
		return nil, fmt.Errorf("failed to parse revision %q: %w", s, err)
	}
	for node := range vc.clocks {
		if node == "" {
			return nil, &VectorClockError{Msg: "revision contains empty replica ID"}
		}
		if len(node) > MaxNodeIDLength {
			return nil, &VectorClockError{Msg: fmt.Sprintf("replica ID exceeds %d characters", MaxNodeIDLength)}
		}
	}
	return vc, nil
}

// Increment records a new write by the given replica.
func (vc *VectorClock) Increment(nodeID string) error {
	if nodeID == "" {
		return &VectorClockError{Msg: "replica ID cannot be empty"}
	}
	if len(nodeID) > MaxNodeIDLength {
		return &VectorClockError{Msg: fmt.Sprintf("replica ID length exceeds maximum of %d characters", MaxNodeIDLength)}
	}
	if _, exists := vc.clocks[nodeID]; !exists && len(vc.clocks) >= MaxNodes {
		return &VectorClockError{Msg: fmt.Sprintf("cannot track more than %d replicas", MaxNodes)}
	}
	vc.clocks[nodeID]++
	return nil
}

// Merge folds other into vc, taking the maximum value per replica. The result
// descends from (or equals) both inputs.
func (vc *VectorClock) Merge(other *VectorClock) error {
	if other == nil {
		return nil
	}
	added := 0
	for node := range other.clocks {
		if _, ok := vc.clocks[node]; !ok {
			added++
		}
	}
	if len(vc.clocks)+added > MaxNodes {
		return &VectorClockError{Msg: fmt.Sprintf("merging would exceed maximum of %d replicas", MaxNodes)}
	}
	for node, v := range other.clocks {
		if v > vc.clocks[node] {
			vc.clocks[node] = v
		}
	}
	return nil
}

// Compare implements interfaces.Revision. Clocks of another implementation are
// treated as concurrent; use Compatible to detect that case explicitly.
func (vc *VectorClock) Compare(other interfaces.Revision) int {
	o, ok := other.(*VectorClock)
	if !ok {
		return 0
	}
	if o == nil {
		if vc.IsZero() {
			return 0
		}
		return 1
	}

	before, after := false, false
	for node, v := range vc.clocks {
		switch ov := o.clocks[node]; {
		case v < ov:
			before = true
		case v > ov:
			after = true
		}
	}
	for node, ov := range o.clocks {
		if _, seen := vc.clocks[node]; !seen && ov > 0 {
			before = true
		}
	}

	switch {
	case before && !after:
		return -1
	case after && !before:
		return 1
	default:
		return 0
	}
}

// String renders the clock as canonical JSON with sorted keys.
func (vc *VectorClock) String() string {
	if vc.IsZero() {
		return "{}"
	}
	// encoding/json sorts map keys, giving a stable revision string.
	data, err := json.Marshal(vc.clocks)
	if err != nil {
		return "{}"
	}
	return string(data)
}

// IsZero returns true if no replica has written yet.
func (vc *VectorClock) IsZero() bool {
	return vc == nil || len(vc.clocks) == 0
}

// Clone creates a deep copy of the VectorClock.
func (vc *VectorClock) Clone() *VectorClock {
	return FromMap(vc.clocks)
}

// Get returns the clock value for a replica, 0 if unseen.
func (vc *VectorClock) Get(nodeID string) uint64 {
	return vc.clocks[nodeID]
}

// Nodes returns the replica IDs in sorted order.
func (vc *VectorClock) Nodes() []string {
	nodes := make([]string, 0, len(vc.clocks))
	for n := range vc.clocks {
		nodes = append(nodes, n)
	}
	sort.Strings(nodes)
	return nodes
}

// IsEqual returns true if two clocks are identical.
func (vc *VectorClock) IsEqual(other *VectorClock) bool {
	if other == nil {
		return vc.IsZero()
	}
	if len(vc.clocks) != len(other.clocks) {
		return false
	}
	for node, v := range vc.clocks {
		if other.clocks[node] != v {
			return false
		}
	}
	return true
}

// IsConcurrentWith reports whether neither clock descends from the other.
func (vc *VectorClock) IsConcurrentWith(other *VectorClock) bool {
	return vc.Compare(other) == 0 && !vc.IsEqual(other)
}

// Supersede returns a new clock that descends from every given clock, with a
// write by nodeID on top.
func Supersede(nodeID string, clocks ...*VectorClock) (*VectorClock, error) {
	next := NewVectorClock()
	for _, c := range clocks {
		if err := next.Merge(c); err != nil {
			return nil, err
		}
	}
	if err := next.Increment(nodeID); err != nil {
		return nil, err
	}
	return next, nil
}

// Compatible reports whether two revisions share an implementation and can be
// compared for ancestry.
func Compatible(a, b interfaces.Revision) bool {
	if a == nil || b == nil {
		return false
	}
	return reflect.TypeOf(a) == reflect.TypeOf(b)
}
