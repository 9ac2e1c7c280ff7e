package cli

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/c0deZ3R0/docsync/engine"
	"github.com/c0deZ3R0/docsync/errors"
)

// ScanResult reports what a scan did with each conflicted document.
type ScanResult struct {
	Scanned  int               `json:"scanned"`
	Resolved []string          `json:"resolved"`
	Queued   []string          `json:"queued"`
	Failed   map[string]string `json:"failed,omitempty"`
}

// NewScanCommand creates the scan command.
func NewScanCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "scan",
		Short: "Detect conflicts, auto-resolve the safe ones and queue the rest",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(opts, cmd, func(ctx context.Context, e *env) error {
				result, err := scan(ctx, e)
				if err != nil {
					return err
				}
				return e.out.Success(result, func(w io.Writer) {
					fprintf(w, "Scanned %d document(s): %d resolved, %d queued, %d failed\n",
						result.Scanned, len(result.Resolved), len(result.Queued), len(result.Failed))
					for id, msg := range result.Failed {
						fprintf(w, "  %s: %s\n", id, msg)
					}
				})
			})
		},
	}
}

func scan(ctx context.Context, e *env) (ScanResult, error) {
	ids, err := e.store.ConflictedDocuments(ctx)
	if err != nil {
		return ScanResult{}, WrapExitError(ExitCommandError, "failed to list conflicted documents", err)
	}
	result := ScanResult{Scanned: len(ids), Resolved: []string{}, Queued: []string{}}
	for _, id := range ids {
		if err := e.session.HandleChange(ctx, id); err != nil {
			if result.Failed == nil {
				result.Failed = make(map[string]string)
			}
			result.Failed[id] = err.Error()
			continue
		}
		if _, queued := e.session.Queue().Get(id); queued {
			result.Queued = append(result.Queued, id)
		} else {
			result.Resolved = append(result.Resolved, id)
		}
	}
	return result, nil
}

// NewPendingCommand creates the pending command.
func NewPendingCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "pending",
		Short: "List queued conflicts, oldest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(opts, cmd, func(ctx context.Context, e *env) error {
				entries := e.session.Queue().Entries()
				views := make([]ConflictView, 0, len(entries))
				for _, entry := range entries {
					views = append(views, entryView(entry, false))
				}
				return e.out.Success(views, func(w io.Writer) {
					if len(views) == 0 {
						fprintf(w, "No pending conflicts.\n")
						return
					}
					writeConflictTable(w, views)
					if oldest, ok := e.session.Queue().OldestEnqueuedAt(); ok {
						fprintf(w, "\nOldest queued at %s\n", oldest.Format(time.RFC3339))
					}
				})
			})
		},
	}
}

// NewShowCommand creates the show command.
func NewShowCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show <document-id>",
		Short: "Show a conflict field by field",
		Long: `Show a document's conflict field by field. A queued conflict is shown
with its saved selections; otherwise the document is classified now.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(opts, cmd, func(ctx context.Context, e *env) error {
				view, err := show(ctx, e, args[0])
				if err != nil {
					return err
				}
				return e.out.Success(view, func(w io.Writer) { writeConflictDetail(w, view) })
			})
		},
	}
}

func show(ctx context.Context, e *env, id string) (ConflictView, error) {
	if entry, ok := e.session.Queue().Get(id); ok {
		return entryView(entry, true), nil
	}
	c, err := e.session.Orchestrator().Detect(ctx, id)
	if err != nil {
		if errors.IsKind(err, errors.KindNotFound) {
			return ConflictView{}, WrapExitError(ExitCommandError, fmt.Sprintf("document %q not found", id), err)
		}
		return ConflictView{}, WrapExitError(ExitCommandError, "conflict detection failed", err)
	}
	if c == nil {
		return ConflictView{}, NewExitError(ExitFailure, fmt.Sprintf("document %q has no conflict", id))
	}
	return conflictView(*c, true), nil
}

// NewHistoryCommand creates the history command.
func NewHistoryCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "history <document-id>",
		Short: "List the resolutions applied to a document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(opts, cmd, func(ctx context.Context, e *env) error {
				mementos, err := e.store.List(ctx, args[0])
				if err != nil {
					return WrapExitError(ExitCommandError, "failed to read journal", err)
				}
				if mementos == nil {
					mementos = []*engine.ResolutionMemento{}
				}
				return e.out.Success(mementos, func(w io.Writer) {
					if len(mementos) == 0 {
						fprintf(w, "No resolutions recorded for %s.\n", args[0])
						return
					}
					for _, m := range mementos {
						fprintf(w, "%s  %-16s %-8s %s -> %s  %v\n",
							m.Timestamp.Format(time.RFC3339), m.Strategy, m.Severity,
							m.LocalRevision, m.ResolvedRevision, m.FieldsResolved)
					}
				})
			})
		},
	}
}
