package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/c0deZ3R0/docsync/conflict"
	"github.com/c0deZ3R0/docsync/resolve"
)

// ResolveOptions holds flags for the resolve command.
type ResolveOptions struct {
	*RootOptions
	Strategy   string
	Selections []string
}

// NewResolveCommand creates the resolve command.
func NewResolveCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ResolveOptions{RootOptions: rootOpts}
	cmd := &cobra.Command{
		Use:   "resolve <document-id>",
		Short: "Resolve one conflict",
		Long: `Resolve one conflict with a strategy, or manually with per-field selections.

A selection is path=local, path=remote or path=<JSON value>. Selections are
saved on the queued conflict before resolving, so a failed attempt keeps them.

Examples:
  conflictctl resolve task-1 --strategy remote-wins
  conflictctl resolve task-1 --select priority=remote --select title='"Q3 report"'`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			selections, err := parseSelections(opts.Selections)
			if err != nil {
				return WrapExitError(ExitCommandError, "invalid selection", err)
			}
			if opts.Strategy == "" && selections == nil {
				return NewExitError(ExitCommandError, "either --strategy or --select is required")
			}
			return withEnv(opts.RootOptions, cmd, func(ctx context.Context, e *env) error {
				var (
					result resolve.ResolutionResult
					err    error
				)
				if selections != nil {
					result, err = e.session.ResolveManually(ctx, args[0], selections)
				} else {
					result, err = e.session.ResolveOne(ctx, args[0], opts.Strategy, resolve.Options{})
				}
				view := resultView(args[0], result, err)
				if outErr := e.out.Success(view, func(w io.Writer) { writeResult(w, view) }); outErr != nil {
					return outErr
				}
				if err != nil {
					return WrapExitError(ExitFailure, "resolution failed", err)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&opts.Strategy, "strategy", "", "strategy name (local-wins, remote-wins, last-write-wins, field-merge, manual)")
	cmd.Flags().StringArrayVar(&opts.Selections, "select", nil, "manual selection path=local|remote|<json> (repeatable)")
	return cmd
}

// parseSelections parses path=local, path=remote and path=<json> flags.
func parseSelections(flags []string) (map[string]resolve.Selection, error) {
	if len(flags) == 0 {
		return nil, nil
	}
	out := make(map[string]resolve.Selection, len(flags))
	for _, f := range flags {
		path, value, ok := strings.Cut(f, "=")
		if !ok || path == "" {
			return nil, fmt.Errorf("%q: expected path=local|remote|<json>", f)
		}
		if _, err := conflict.ParsePath(path); err != nil {
			return nil, fmt.Errorf("%q: %w", f, err)
		}
		switch value {
		case "local":
			out[path] = resolve.UseLocal()
		case "remote":
			out[path] = resolve.UseRemote()
		default:
			dec := json.NewDecoder(bytes.NewReader([]byte(value)))
			dec.UseNumber()
			var v any
			if err := dec.Decode(&v); err != nil {
				return nil, fmt.Errorf("%q: value is not local, remote or JSON: %w", f, err)
			}
			out[path] = resolve.UseLiteral(v)
		}
	}
	return out, nil
}

// BulkOptions holds flags for the bulk command.
type BulkOptions struct {
	*RootOptions
	Strategy string
	All      bool
}

// NewBulkCommand creates the bulk command.
func NewBulkCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &BulkOptions{RootOptions: rootOpts}
	cmd := &cobra.Command{
		Use:   "bulk [document-id...]",
		Short: "Resolve several conflicts with one strategy",
		Long: `Resolve the listed conflicts, or every queued one with --all, one at a
time with the same strategy. A failure does not stop the rest; the command
exits 1 if any failed.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.Strategy == "" {
				return NewExitError(ExitCommandError, "--strategy is required")
			}
			if opts.All == (len(args) > 0) {
				return NewExitError(ExitCommandError, "list document IDs or pass --all")
			}
			return withEnv(opts.RootOptions, cmd, func(ctx context.Context, e *env) error {
				ids := args
				if opts.All {
					for _, c := range e.session.GetPendingConflicts() {
						ids = append(ids, c.DocumentID)
					}
				}
				results := e.session.ResolveBulk(ctx, ids, opts.Strategy)
				views := make([]ResultView, 0, len(results))
				failed := 0
				for _, r := range results {
					views = append(views, resultView(r.DocumentID, r.Result, r.Err))
					if r.Err != nil {
						failed++
					}
				}
				err := e.out.Success(views, func(w io.Writer) {
					for _, v := range views {
						writeResult(w, v)
					}
					fprintf(w, "%d resolved, %d failed\n", len(views)-failed, failed)
				})
				if err != nil {
					return err
				}
				if failed > 0 {
					return NewExitError(ExitFailure, fmt.Sprintf("%d of %d resolutions failed", failed, len(views)))
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&opts.Strategy, "strategy", "", "strategy name (required)")
	cmd.Flags().BoolVar(&opts.All, "all", false, "resolve every queued conflict")
	return cmd
}

// NewDiscardCommand creates the discard command.
func NewDiscardCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "discard <document-id>",
		Short: "Drop a queued conflict without resolving it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(opts, cmd, func(ctx context.Context, e *env) error {
				ok, err := e.session.Discard(ctx, args[0])
				if err != nil {
					return WrapExitError(ExitCommandError, "discard failed", err)
				}
				if !ok {
					return NewExitError(ExitFailure, fmt.Sprintf("%s is not queued", args[0]))
				}
				return e.out.Success(map[string]string{"discarded": args[0]}, func(w io.Writer) {
					fprintf(w, "Discarded %s\n", args[0])
				})
			})
		},
	}
}
