package cli

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/c0deZ3R0/docsync/engine"
	"github.com/c0deZ3R0/docsync/notify"
)

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Addr        string
	WatchConfig bool
	Rescan      time.Duration
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Handle changes continuously and stream conflict events",
		Long: `Scan the database, then handle every change the store reports until
interrupted. Conflict events are streamed to WebSocket clients on /events
(optionally filtered with ?document=<id>) and as Server-Sent Events on
/events/sse; /pending lists the queue as JSON.

Change notifications can be dropped under load, so the database is
rescanned every --rescan interval (0 disables it). With --watch-config,
edits to --config are applied to the running session: severity tiers,
auto-resolution limits, rules and log.level.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			cmd.SetContext(ctx)
			return withEnv(opts.RootOptions, cmd, func(ctx context.Context, e *env) error {
				return serve(ctx, e, opts)
			})
		},
	}
	cmd.Flags().StringVar(&opts.Addr, "addr", "127.0.0.1:8089", "listen address for the event stream")
	cmd.Flags().BoolVar(&opts.WatchConfig, "watch-config", false, "apply changes to --config while serving")
	cmd.Flags().DurationVar(&opts.Rescan, "rescan", time.Minute, "interval between full database rescans (0 disables)")
	return cmd
}

func serve(ctx context.Context, e *env, opts *ServeOptions) error {
	hub := notify.NewHub(notify.Config{Logger: e.logger})
	defer hub.Close()
	hub.Attach(e.session)

	if opts.WatchConfig && opts.ConfigPath != "" {
		loader := engine.NewConfigLoader(
			engine.WithConfigLogger(e.logger),
			engine.WithWatcher(engine.NewLoggingWatcher(e.logger)),
			engine.WithWatcher(engine.NewReloadWatcher(e.session, e.level, e.logger)),
		)
		if err := loader.LoadFromFile(opts.ConfigPath); err != nil {
			return WrapExitError(ExitCommandError, "failed to load config", err)
		}
		if err := loader.Watch(ctx, opts.ConfigPath); err != nil {
			return WrapExitError(ExitCommandError, "failed to watch config", err)
		}
	}

	result, err := scan(ctx, e)
	if err != nil {
		return err
	}
	e.logger.Info("initial scan complete",
		slog.Int("scanned", result.Scanned),
		slog.Int("resolved", len(result.Resolved)),
		slog.Int("queued", len(result.Queued)),
		slog.Int("failed", len(result.Failed)))

	mux := http.NewServeMux()
	mux.Handle("/events", hub.Handler())
	mux.Handle("/events/sse", hub.SSEHandler())
	mux.HandleFunc("/pending", func(w http.ResponseWriter, r *http.Request) {
		entries := e.session.Queue().Entries()
		views := make([]ConflictView, 0, len(entries))
		for _, entry := range entries {
			views = append(views, entryView(entry, true))
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(views)
	})
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	server := &http.Server{Addr: opts.Addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	serveErr := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	if !e.out.JSON() {
		fprintf(e.out.Writer, "Serving conflict events on ws://%s/events (%d pending)\n", opts.Addr, e.session.Queue().Len())
	}

	runErr := make(chan error, 1)
	go func() { runErr <- e.session.Run(ctx, e.store.Changes()) }()
	if opts.Rescan > 0 {
		go rescanLoop(ctx, e, opts.Rescan)
	}

	select {
	case err, ok := <-serveErr:
		if ok && err != nil {
			return WrapExitError(ExitFailure, "event server failed", err)
		}
	case err := <-runErr:
		if err != nil && !errors.Is(err, context.Canceled) {
			return WrapExitError(ExitFailure, "change loop stopped", err)
		}
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	hub.Close()
	if err := server.Shutdown(shutdownCtx); err != nil {
		e.logger.Warn("event server shutdown", slog.Any("error", err))
	}
	return nil
}

// rescanLoop rescans the database every interval until ctx is done, picking
// up conflicts whose change notification was dropped.
func rescanLoop(ctx context.Context, e *env, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			result, err := scan(ctx, e)
			if err != nil {
				if ctx.Err() == nil {
					e.logger.Warn("rescan failed", slog.Any("error", err))
				}
				continue
			}
			e.logger.Debug("rescan complete",
				slog.Int("scanned", result.Scanned),
				slog.Int("resolved", len(result.Resolved)),
				slog.Int("queued", len(result.Queued)),
				slog.Int("failed", len(result.Failed)))
		}
	}
}
