package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/c0deZ3R0/docsync/conflict"
	"github.com/c0deZ3R0/docsync/engine"
	"github.com/c0deZ3R0/docsync/resolve"
)

// DiffView is one conflicting path as shown to the user.
type DiffView struct {
	Path        string `json:"path"`
	Local       any    `json:"local,omitempty"`
	Remote      any    `json:"remote,omitempty"`
	LocalState  string `json:"local_state"`
	RemoteState string `json:"remote_state"`
}

// ConflictView is a conflict as shown to the user.
type ConflictView struct {
	DocumentID     string            `json:"document_id"`
	Type           string            `json:"type"`
	Severity       string            `json:"severity"`
	Fields         []string          `json:"conflicting_fields"`
	Suggested      string            `json:"suggested_resolution"`
	CanAutoResolve bool              `json:"can_auto_resolve"`
	LocalRevision  string            `json:"local_revision"`
	RemoteRevision string            `json:"remote_revision"`
	DetectedAt     time.Time         `json:"detected_at"`
	Queued         bool              `json:"queued"`
	EnqueuedAt     *time.Time        `json:"enqueued_at,omitempty"`
	Attempts       int               `json:"attempts,omitempty"`
	LastError      string            `json:"last_error,omitempty"`
	Selections     map[string]string `json:"selections,omitempty"`
	Diffs          []DiffView        `json:"diffs,omitempty"`
}

func conflictView(c conflict.ConflictInfo, withDiffs bool) ConflictView {
	v := ConflictView{
		DocumentID:     c.DocumentID,
		Type:           c.Type.String(),
		Severity:       c.Severity.String(),
		Fields:         c.ConflictingFields,
		Suggested:      c.SuggestedResolution.String(),
		CanAutoResolve: c.CanAutoResolve,
		LocalRevision:  c.LocalVersion.RevisionString(),
		RemoteRevision: c.RemoteVersion.RevisionString(),
		DetectedAt:     c.DetectedAt,
	}
	if withDiffs {
		for _, d := range c.Diffs {
			v.Diffs = append(v.Diffs, DiffView{
				Path:        d.Path,
				Local:       d.Local,
				Remote:      d.Remote,
				LocalState:  d.LocalState.String(),
				RemoteState: d.RemoteState.String(),
			})
		}
	}
	return v
}

func entryView(e engine.Entry, withDiffs bool) ConflictView {
	v := conflictView(e.Conflict, withDiffs)
	enqueued := e.EnqueuedAt
	v.Queued = true
	v.EnqueuedAt = &enqueued
	v.Attempts = e.Attempts
	v.LastError = e.LastError
	if len(e.Selections) > 0 {
		v.Selections = make(map[string]string, len(e.Selections))
		for path, sel := range e.Selections {
			v.Selections[path] = selectionString(sel)
		}
	}
	return v
}

func selectionString(sel resolve.Selection) string {
	if sel.Choice != resolve.ChooseLiteral {
		return sel.Choice.String()
	}
	return formatValue(sel.Value)
}

func formatValue(v any) string {
	switch t := v.(type) {
	case nil:
		return "-"
	case conflict.Tombstone:
		return "(deleted)"
	case string:
		return fmt.Sprintf("%q", t)
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}

func writeConflictTable(w io.Writer, views []ConflictView) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fprintf(tw, "DOCUMENT\tTYPE\tSEVERITY\tFIELDS\tATTEMPTS\n")
	for _, v := range views {
		fprintf(tw, "%s\t%s\t%s\t%s\t%d\n", v.DocumentID, v.Type, v.Severity, strings.Join(v.Fields, ","), v.Attempts)
	}
	_ = tw.Flush()
}

func writeConflictDetail(w io.Writer, v ConflictView) {
	fprintf(w, "Document:   %s\n", v.DocumentID)
	fprintf(w, "Type:       %s\n", v.Type)
	fprintf(w, "Severity:   %s\n", v.Severity)
	fprintf(w, "Suggested:  %s\n", v.Suggested)
	fprintf(w, "Revisions:  local %s, remote %s\n", v.LocalRevision, v.RemoteRevision)
	if v.Queued {
		fprintf(w, "Queued:     %s (attempts %d)\n", v.EnqueuedAt.Format(time.RFC3339), v.Attempts)
	}
	if v.LastError != "" {
		fprintf(w, "Last error: %s\n", v.LastError)
	}
	fprintf(w, "\n")
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fprintf(tw, "PATH\tLOCAL\tREMOTE\tSELECTED\n")
	for _, d := range v.Diffs {
		sel := v.Selections[d.Path]
		if sel == "" {
			sel = "-"
		}
		fprintf(tw, "%s\t%s\t%s\t%s\n", d.Path, formatValue(d.Local), formatValue(d.Remote), sel)
	}
	_ = tw.Flush()
}

// ResultView is an applied (or failed) resolution as shown to the user.
type ResultView struct {
	DocumentID     string   `json:"document_id"`
	Success        bool     `json:"success"`
	Strategy       string   `json:"strategy,omitempty"`
	FieldsResolved []string `json:"fields_resolved,omitempty"`
	Warnings       []string `json:"warnings,omitempty"`
	Error          string   `json:"error,omitempty"`
}

func resultView(id string, r resolve.ResolutionResult, err error) ResultView {
	v := ResultView{
		DocumentID:     id,
		Success:        err == nil && r.Success,
		FieldsResolved: r.FieldsResolved,
		Warnings:       r.Warnings,
	}
	if r.ResolutionType != 0 {
		v.Strategy = r.ResolutionType.String()
	}
	if err != nil {
		v.Error = err.Error()
	}
	return v
}

func writeResult(w io.Writer, v ResultView) {
	if !v.Success {
		fprintf(w, "%s: failed: %s\n", v.DocumentID, v.Error)
		return
	}
	fields := append([]string(nil), v.FieldsResolved...)
	sort.Strings(fields)
	fprintf(w, "%s: resolved with %s (%s)\n", v.DocumentID, v.Strategy, strings.Join(fields, ", "))
	for _, warn := range v.Warnings {
		fprintf(w, "  warning: %s\n", warn)
	}
}
