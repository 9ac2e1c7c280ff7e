// Package cli implements conflictctl, the command-line front end to the
// conflict engine over a SQLite replica database.
package cli

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/c0deZ3R0/docsync/engine"
	"github.com/c0deZ3R0/docsync/logging"
	"github.com/c0deZ3R0/docsync/storage/sqlite"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Database   string
	ConfigPath string
	Replica    string
	Format     string // "json" | "text"
	LogLevel   string
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the conflictctl root command.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "conflictctl",
		Short: "Inspect and resolve document sync conflicts",
		Long: `conflictctl works on a SQLite replica database. It detects conflicting
revisions, auto-resolves the safe ones and lets you resolve the rest.

Queued conflicts are persisted in the database, so they survive between
invocations.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return NewExitError(ExitCommandError,
					fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&opts.Database, "db", "docsync.db", "path to the SQLite replica database")
	cmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", "", "engine config file (.yaml, .json or .toml)")
	cmd.PersistentFlags().StringVar(&opts.Replica, "replica", "local", "replica ID resolutions are written as")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "", "log level (trace|debug|info|warn|error)")

	cmd.AddCommand(NewScanCommand(opts))
	cmd.AddCommand(NewPendingCommand(opts))
	cmd.AddCommand(NewShowCommand(opts))
	cmd.AddCommand(NewResolveCommand(opts))
	cmd.AddCommand(NewBulkCommand(opts))
	cmd.AddCommand(NewDiscardCommand(opts))
	cmd.AddCommand(NewHistoryCommand(opts))
	cmd.AddCommand(NewServeCommand(opts))

	return cmd
}

func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}

// env is everything a command needs: the loaded config, the store and a
// session restored from the persisted queue.
type env struct {
	config  engine.Config
	loader  *engine.ConfigLoader
	logger  *logging.Logger
	level   *logging.DynamicLevelVar
	store   *sqlite.Store
	session *engine.Session
	out     *Output
}

func openEnv(ctx context.Context, opts *RootOptions, cmd *cobra.Command) (*env, error) {
	logConfig := logging.GetConfigFromEnv()
	logConfig.Output = cmd.ErrOrStderr()
	logConfig.Format = "text"
	if logConfig.Level == logging.DefaultConfig.Level {
		logConfig.Level = "warn"
	}

	loader := engine.NewConfigLoader()
	config := loader.Current()
	if opts.ConfigPath != "" {
		if err := loader.LoadFromFile(opts.ConfigPath); err != nil {
			return nil, WrapExitError(ExitCommandError, "failed to load config", err)
		}
		config = loader.Current()
		if config.Log.Level != "" {
			logConfig.Level = config.Log.Level
		}
	}
	if opts.LogLevel != "" {
		logConfig.Level = strings.ToLower(opts.LogLevel)
	}
	logger, level := logging.NewLoggerWithDynamicLevel(logConfig)

	storeConfig := sqlite.DefaultConfig(opts.Database)
	storeConfig.ReplicaID = opts.Replica
	storeConfig.Logger = logger
	store, err := sqlite.New(storeConfig)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}

	session, err := engine.NewSession(ctx, store,
		engine.WithConfig(config),
		engine.WithPersistentQueue(store),
		engine.WithJournal(store),
		engine.WithLogger(logger),
	)
	if err != nil {
		store.Close()
		return nil, WrapExitError(ExitCommandError, "failed to start session", err)
	}
	return &env{
		config:  config,
		loader:  loader,
		logger:  logger,
		level:   level,
		store:   store,
		session: session,
		out:     &Output{Format: opts.Format, Writer: cmd.OutOrStdout()},
	}, nil
}

func (e *env) Close() {
	_ = e.session.Close()
	_ = e.store.Close()
}

// withEnv opens the environment, runs fn and closes it.
func withEnv(opts *RootOptions, cmd *cobra.Command, fn func(ctx context.Context, e *env) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	e, err := openEnv(ctx, opts, cmd)
	if err != nil {
		return err
	}
	defer e.Close()
	return fn(ctx, e)
}

func fprintf(w io.Writer, format string, args ...any) {
	_, _ = fmt.Fprintf(w, format, args...)
}
