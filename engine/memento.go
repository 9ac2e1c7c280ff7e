package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/c0deZ3R0/docsync/conflict"
	"github.com/c0deZ3R0/docsync/resolve"
)

// ResolutionMemento records one applied resolution for audit. It is JSON
// serializable and stores data payloads only.
type ResolutionMemento struct {
	ID         string    `json:"id"`
	DocumentID string    `json:"document_id"`
	Timestamp  time.Time `json:"timestamp"`

	ConflictType   string   `json:"conflict_type"`
	Severity       string   `json:"severity"`
	Strategy       string   `json:"strategy"`
	FieldsResolved []string `json:"fields_resolved,omitempty"`
	Warnings       []string `json:"warnings,omitempty"`

	LocalRevision    string `json:"local_revision"`
	RemoteRevision   string `json:"remote_revision"`
	ResolvedRevision string `json:"resolved_revision,omitempty"`

	// Before holds the two contributing documents.
	Before *MementoState `json:"before,omitempty"`

	// After holds the written document.
	After conflict.Document `json:"after,omitempty"`

	ResolutionDuration time.Duration `json:"resolution_duration"`
}

// MementoState captures the sides of a conflict.
type MementoState struct {
	Local  conflict.Document `json:"local,omitempty"`
	Remote conflict.Document `json:"remote,omitempty"`
}

// NewResolutionMemento builds a memento with a time-ordered (v7) UUID.
func NewResolutionMemento(c conflict.ConflictInfo, r resolve.ResolutionResult, rev string, d time.Duration) *ResolutionMemento {
	return &ResolutionMemento{
		ID:                 uuid.Must(uuid.NewV7()).String(),
		DocumentID:         c.DocumentID,
		Timestamp:          r.Timestamp,
		ConflictType:       c.Type.String(),
		Severity:           c.Severity.String(),
		Strategy:           r.ResolutionType.String(),
		FieldsResolved:     append([]string(nil), r.FieldsResolved...),
		Warnings:           append([]string(nil), r.Warnings...),
		LocalRevision:      c.LocalVersion.RevisionString(),
		RemoteRevision:     c.RemoteVersion.RevisionString(),
		ResolvedRevision:   rev,
		Before:             &MementoState{Local: c.LocalVersion.Data.Clone(), Remote: c.RemoteVersion.Data.Clone()},
		After:              r.ResolvedDocument.Data.Clone(),
		ResolutionDuration: d,
	}
}

// Journal stores resolution mementos.
type Journal interface {
	Save(ctx context.Context, m *ResolutionMemento) error

	// List returns a document's mementos oldest first.
	List(ctx context.Context, documentID string) ([]*ResolutionMemento, error)
}

// InMemoryJournal keeps mementos in memory. For production use, persist them
// with a store-backed Journal such as the SQLite one.
type InMemoryJournal struct {
	mu       sync.RWMutex
	mementos map[string][]*ResolutionMemento
}

var _ Journal = (*InMemoryJournal)(nil)

// NewInMemoryJournal creates an empty journal.
func NewInMemoryJournal() *InMemoryJournal {
	return &InMemoryJournal{mementos: make(map[string][]*ResolutionMemento)}
}

func (j *InMemoryJournal) Save(ctx context.Context, m *ResolutionMemento) error {
	if m == nil || m.ID == "" {
		return fmt.Errorf("memento ID cannot be empty")
	}
	cp, err := copyMemento(m)
	if err != nil {
		return err
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	j.mementos[m.DocumentID] = append(j.mementos[m.DocumentID], cp)
	return nil
}

func (j *InMemoryJournal) List(ctx context.Context, documentID string) ([]*ResolutionMemento, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	out := make([]*ResolutionMemento, 0, len(j.mementos[documentID]))
	for _, m := range j.mementos[documentID] {
		cp, err := copyMemento(m)
		if err != nil {
			return nil, err
		}
		out = append(out, cp)
	}
	sort.SliceStable(out, func(a, b int) bool { return out[a].Timestamp.Before(out[b].Timestamp) })
	return out, nil
}

// copyMemento deep-copies through JSON so callers cannot mutate stored state.
func copyMemento(m *ResolutionMemento) (*ResolutionMemento, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize memento: %w", err)
	}
	var cp ResolutionMemento
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("failed to deserialize memento: %w", err)
	}
	return &cp, nil
}
