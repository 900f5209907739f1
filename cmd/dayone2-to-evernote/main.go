package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/reggiezhang/dayone2-to-evernote/internal/config"
	"github.com/reggiezhang/dayone2-to-evernote/internal/journal"
	"github.com/reggiezhang/dayone2-to-evernote/internal/logging"
	"github.com/reggiezhang/dayone2-to-evernote/internal/notestore"
	"github.com/reggiezhang/dayone2-to-evernote/internal/parser"
	"github.com/reggiezhang/dayone2-to-evernote/internal/sync"
)

var (
	cfgFile   string
	verbose   bool
	version   = "dev"
	logCloser io.Closer
)

func main() {
	err := newRootCmd().Execute()
	if logCloser != nil {
		logCloser.Close()
	}
	if err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:     "dayone2-to-evernote [flags] <journal_dir>",
		Short:   "Sync a Day One journal export into a note store",
		Long:    `Reads a Day One JSON export and creates one note per journal entry. Entries that have not changed since the last run are skipped; edited entries replace their note.`,
		Version: version,
		Args:    cobra.ExactArgs(1),
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			logFile, _ := cmd.Flags().GetString("log-file")
			defaults := config.DefaultConfig().Log
			return setupLogging(cmd, config.LogConfig{
				File:       logFile,
				MaxSizeMB:  defaults.MaxSizeMB,
				MaxBackups: defaults.MaxBackups,
				MaxAgeDays: defaults.MaxAgeDays,
			})
		},
		RunE: runSync,
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&cfgFile, "config", "c", "", "config file path")
	flags.BoolVarP(&verbose, "verbose", "v", false, "enable verbose logging")
	flags.StringP("notebook", "n", "", `notebook for new notes (default "Dayone: <today>")`)
	flags.StringP("after", "a", "", "only sync entries created after this ISO 8601 time")
	flags.BoolP("reset", "r", false, "forget all sync state before syncing")
	flags.String("store", "", "note store DSN (path, file://, postgres://, https://, memory://)")
	flags.String("state-backend", "", "sync state backend: file, sqlite or memory")
	flags.Int("workers", 1, "number of entries synced at a time")
	flags.Bool("dry-run", false, "sync into an in-memory store and keep no state")
	flags.String("journal-file", "", "export file inside the journal directory (default Journal.json)")
	flags.String("log-file", "", "write logs to this rotating file instead of stderr")

	rootCmd.AddCommand(
		statusCmd(),
		watchCmd(),
		migrateCmd(),
		initCmd(),
	)

	return rootCmd
}

// setupLogging installs the default logger, replacing any file opened earlier
func setupLogging(cmd *cobra.Command, cfg config.LogConfig) error {
	closer, err := logging.Setup(logging.Options{
		Verbose:    verbose,
		File:       cfg.File,
		MaxSizeMB:  cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAgeDays: cfg.MaxAgeDays,
		Stderr:     cmd.ErrOrStderr(),
	})
	if err != nil {
		return fmt.Errorf("failed to set up logging: %w", err)
	}
	if logCloser != nil {
		logCloser.Close()
	}
	logCloser = closer
	return nil
}

// checkUsage rejects malformed flags before any work is done.
// Errors returned from here are printed with the usage text.
func checkUsage(cmd *cobra.Command) error {
	if after, _ := cmd.Flags().GetString("after"); after != "" {
		if _, err := parser.ParseTimestamp(after); err != nil {
			return fmt.Errorf("invalid --after value %q: %w", after, err)
		}
	}
	cmd.SilenceUsage = true
	return nil
}

// loadConfig reads the configuration for the journal directory and applies its log settings
func loadConfig(cmd *cobra.Command, journalPath string) (*config.Config, error) {
	cfg, err := config.Load(cfgFile, journalPath, cmd.Flags())
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if cfg.Log.File != "" {
		if err := setupLogging(cmd, cfg.Log); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// openStores opens the note store and sync state selected by cfg.
// Dry runs use in-memory versions of both.
func openStores(ctx context.Context, cfg *config.Config) (notestore.Store, sync.StateStore, error) {
	if cfg.DryRun {
		slog.Info("dry run: nothing will be persisted")
		return notestore.NewMemoryStore(), sync.NewMemoryStateStore(), nil
	}

	opts := notestore.Options{
		Token:      cfg.Store.Token,
		Timeout:    time.Duration(cfg.Store.TimeoutSec) * time.Second,
		MaxRetries: cfg.Store.MaxRetries,
		RetryDelay: time.Duration(cfg.Store.RetryDelayMs) * time.Millisecond,
		Postgres: notestore.PostgresOptions{
			Schema:      cfg.Database.Schema,
			MaxConns:    cfg.Database.MaxConns,
			AutoMigrate: cfg.Database.AutoMigrate,
		},
	}
	if cfg.Database.Configured() {
		opts.PostgresDSN = cfg.Database.ConnectionString()
	}

	store, err := notestore.Open(ctx, cfg.Store.DSN, opts)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open note store: %w", err)
	}

	state, err := sync.OpenStateStore(ctx, cfg.State.Backend, cfg.JournalPath)
	if err != nil {
		store.Close()
		return nil, nil, fmt.Errorf("failed to open sync state: %w", err)
	}

	slog.Debug("stores opened", "store", cfg.Store.DSN, "state", cfg.State.Backend)
	return store, state, nil
}

func newEngine(cfg *config.Config, store notestore.Store, state sync.StateStore) *sync.Engine {
	return sync.NewEngine(store, state, sync.Options{
		Notebook:          cfg.Notebook,
		JournalRoot:       cfg.JournalPath,
		MarkerTag:         cfg.Sync.MarkerTag,
		SkipMissingPhotos: cfg.Sync.SkipMissingPhotos,
	})
}

func newRunner(cfg *config.Config, engine *sync.Engine, progress io.Writer) *sync.Runner {
	return sync.NewRunner(engine, sync.RunnerOptions{
		Workers:       cfg.Sync.Workers,
		RetryAttempts: cfg.Sync.RetryAttempts,
		RetryDelay:    time.Duration(cfg.Sync.RetryDelayMs) * time.Millisecond,
		Progress:      progress,
	})
}

// loadEntries reads the export honouring the after cutoff
func loadEntries(cfg *config.Config) ([]journal.Entry, error) {
	after, err := cfg.AfterTime()
	if err != nil {
		return nil, err
	}
	return journal.Load(cfg.JournalPath, cfg.JournalFile, after)
}

func runSync(cmd *cobra.Command, args []string) error {
	if err := checkUsage(cmd); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig(cmd, args[0])
	if err != nil {
		return err
	}

	entries, err := loadEntries(cfg)
	if err != nil {
		return err
	}

	store, state, err := openStores(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()
	defer state.Close()

	engine := newEngine(cfg, store, state)
	if cfg.Reset {
		if err := engine.Reset(); err != nil {
			return err
		}
	}

	summary := newRunner(cfg, engine, cmd.ErrOrStderr()).Run(ctx, entries)
	printSummary(cmd, summary)

	if summary.Interrupted {
		return fmt.Errorf("sync interrupted: %w", context.Cause(ctx))
	}
	return nil
}

func printSummary(cmd *cobra.Command, summary sync.Summary) {
	fmt.Fprintln(cmd.OutOrStdout(), summary.String())
	if summary.Failed > 0 {
		fmt.Fprintf(cmd.ErrOrStderr(), "%d entr(ies) failed:\n", summary.Failed)
		for _, f := range summary.Failures {
			fmt.Fprintf(cmd.ErrOrStderr(), "  %s: %v\n", f.EntryID, f.Err)
		}
	}
}
