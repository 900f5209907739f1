package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/reggiezhang/dayone2-to-evernote/internal/config"
	"github.com/reggiezhang/dayone2-to-evernote/internal/notestore"
	"github.com/reggiezhang/dayone2-to-evernote/internal/sync"
	"github.com/reggiezhang/dayone2-to-evernote/internal/watcher"
)

func statusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status <journal_dir>",
		Short: "Show sync state for a journal",
		Long:  `Shows how many entries have been synced, when the last sync happened and, with --verify, which synced notes no longer exist in the note store.`,
		Args:  cobra.ExactArgs(1),
	}

	verify := false
	cmd.Flags().BoolVar(&verify, "verify", false, "check that every synced note still exists")

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		if err := checkUsage(cmd); err != nil {
			return err
		}
		ctx := cmd.Context()
		out := cmd.OutOrStdout()

		cfg, err := loadConfig(cmd, args[0])
		if err != nil {
			return err
		}

		state, err := sync.OpenStateStore(ctx, cfg.State.Backend, cfg.JournalPath)
		if err != nil {
			return fmt.Errorf("failed to open sync state: %w", err)
		}
		defer state.Close()

		records, err := state.List()
		if err != nil {
			return fmt.Errorf("failed to list sync state: %w", err)
		}

		fmt.Fprintln(out, "=== Dayone2-to-Evernote Status ===")
		fmt.Fprintf(out, "Journal Path: %s\n", cfg.JournalPath)
		fmt.Fprintf(out, "State Backend: %s\n", cfg.State.Backend)
		if fs, ok := state.(*sync.FileStateStore); ok {
			fmt.Fprintf(out, "State Dir: %s\n", fs.Dir())
		}
		fmt.Fprintf(out, "Note Store: %s\n", cfg.Store.DSN)
		fmt.Fprintln(out)
		fmt.Fprintf(out, "Synced Entries: %d\n", len(records))

		byNotebook := make(map[string]int)
		var last time.Time
		for _, rec := range records {
			byNotebook[rec.Notebook]++
			if rec.SyncedAt.After(last) {
				last = rec.SyncedAt
			}
		}
		if !last.IsZero() {
			fmt.Fprintf(out, "  Last Sync: %s\n", last.Format(time.RFC3339))
		}
		for _, name := range sortedKeys(byNotebook) {
			label := name
			if label == "" {
				label = "(unknown notebook)"
			}
			fmt.Fprintf(out, "  %s: %d\n", label, byNotebook[name])
		}

		if !verify {
			return nil
		}

		store, verifyState, err := openStores(ctx, cfg)
		if err != nil {
			return err
		}
		defer store.Close()
		verifyState.Close()

		if md, ok := store.(*notestore.MarkdownStore); ok {
			fmt.Fprintln(out)
			fmt.Fprintf(out, "Notes Directory: %s\n", md.Root())
		}
		if pg, ok := store.(*notestore.PostgresStore); ok {
			st, err := pg.GetStatus(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintln(out)
			fmt.Fprintf(out, "Database Status: Connected\n")
			fmt.Fprintf(out, "  Schema: %s\n", cfg.Database.Schema)
			fmt.Fprintf(out, "  Notebooks: %d\n", st.Notebooks)
			fmt.Fprintf(out, "  Notes: %d\n", st.Notes)
			fmt.Fprintf(out, "  Attachments: %d\n", st.Attachments)
		}

		missing := 0
		for _, rec := range records {
			if rec.NoteID == "" {
				continue
			}
			exists, err := store.NoteExists(ctx, rec.NoteID)
			if err != nil {
				return fmt.Errorf("failed to verify note for entry %s: %w", rec.ID, err)
			}
			if !exists {
				missing++
				fmt.Fprintf(out, "  missing: %s (note %s)\n", rec.ID, rec.NoteID)
			}
		}
		fmt.Fprintf(out, "\nVerified: %d missing note(s), recreated on the next sync\n", missing)
		return nil
	}

	return cmd
}

func watchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch <journal_dir>",
		Short: "Sync, then keep syncing whenever the export changes",
		Long:  `Runs a sync, then watches the journal file and its photos directory and syncs again after each burst of changes. Stops on SIGINT or SIGTERM.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkUsage(cmd); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			cfg, err := loadConfig(cmd, args[0])
			if err != nil {
				return err
			}

			store, state, err := openStores(ctx, cfg)
			if err != nil {
				return err
			}
			defer store.Close()
			defer state.Close()

			if cfg.Reset {
				if err := newEngine(cfg, store, state).Reset(); err != nil {
					return err
				}
			}

			w, err := watcher.NewWatcher(cfg.JournalPath, cfg.Sync.DebounceMs, cfg.IgnorePatterns, watcher.JournalPatterns(cfg.JournalFile))
			if err != nil {
				return fmt.Errorf("failed to create watcher: %w", err)
			}
			if err := w.Start(ctx); err != nil {
				return fmt.Errorf("failed to start watcher: %w", err)
			}
			defer w.Stop()

			return watchLoop(ctx, cmd, cfg, w.Changes(), func(ctx context.Context) error {
				entries, err := loadEntries(cfg)
				if err != nil {
					return err
				}
				summary := newRunner(cfg, newEngine(cfg, store, state), nil).Run(ctx, entries)
				printSummary(cmd, summary)
				return nil
			})
		},
	}
}

// watchLoop runs sync once, then again for every change set until ctx is done
func watchLoop(ctx context.Context, cmd *cobra.Command, cfg *config.Config, changes <-chan watcher.ChangeSet, syncOnce func(context.Context) error) error {
	run := func() {
		if err := syncOnce(ctx); err != nil {
			// A half-written export is picked up again on the next change
			slog.Error("sync failed", "journal", cfg.JournalPath, "error", err)
		}
	}

	run()
	fmt.Fprintln(cmd.OutOrStdout(), "Watching journal for changes. Press Ctrl+C to stop.")

	for {
		select {
		case <-ctx.Done():
			slog.Info("shutting down...")
			return nil
		case cs, ok := <-changes:
			if !ok {
				return nil
			}
			slog.Info("journal changed", "changes", len(cs.Events))
			run()
		}
	}
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate <journal_dir>",
		Short: "Run PostgreSQL note store migrations",
		Long:  `Creates the journal's schema and applies all pending migrations of the PostgreSQL note store.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			ctx := cmd.Context()

			cfg, err := loadConfig(cmd, args[0])
			if err != nil {
				return err
			}
			cfg.Database.AutoMigrate = false
			cfg.DryRun = false

			store, state, err := openStores(ctx, cfg)
			if err != nil {
				return err
			}
			defer store.Close()
			state.Close()

			pg, ok := store.(*notestore.PostgresStore)
			if !ok {
				return errors.New("migrate needs a PostgreSQL note store (--store postgres://... or store.dsn: postgres)")
			}
			if err := pg.Migrate(ctx); err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}

			fmt.Fprintln(cmd.OutOrStdout(), "Migrations completed successfully.")
			return nil
		},
	}
}

// initConfig is the subset of settings written by init
type initConfig struct {
	Store    initStore     `yaml:"store"`
	State    initState     `yaml:"state"`
	Database *initDatabase `yaml:"database,omitempty"`
	Sync     initSync      `yaml:"sync"`
}

type initStore struct {
	DSN   string `yaml:"dsn"`
	Token string `yaml:"token,omitempty"`
}

type initState struct {
	Backend string `yaml:"backend"`
}

type initDatabase struct {
	Host        string `yaml:"host"`
	Port        int    `yaml:"port"`
	User        string `yaml:"user"`
	Password    string `yaml:"password"`
	Database    string `yaml:"database"`
	SSLMode     string `yaml:"sslmode"`
	AutoMigrate bool   `yaml:"auto_migrate"`
}

type initSync struct {
	MarkerTag string `yaml:"marker_tag"`
	Workers   int    `yaml:"workers"`
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Interactive setup to create config file",
		Long:  `Interactively creates a configuration file in the user config directory.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			out := cmd.OutOrStdout()
			p := &prompter{reader: bufio.NewReader(cmd.InOrStdin()), out: out}

			fmt.Fprintln(out, "=== Dayone2-to-Evernote Setup ===")
			fmt.Fprintln(out)

			defaults := config.DefaultConfig()
			ic := initConfig{
				Store: initStore{DSN: p.ask("Note store (directory, postgres, https://...)", defaults.Store.DSN)},
				State: initState{Backend: p.ask("State backend (file, sqlite)", defaults.State.Backend)},
				Sync: initSync{
					MarkerTag: p.ask("Marker tag", defaults.Sync.MarkerTag),
					Workers:   defaults.Sync.Workers,
				},
			}

			switch {
			case strings.HasPrefix(ic.Store.DSN, "http://"), strings.HasPrefix(ic.Store.DSN, "https://"):
				ic.Store.Token = "${DO2EN_STORE_TOKEN}"
			case ic.Store.DSN == "postgres" || ic.Store.DSN == "postgresql":
				fmt.Fprintln(out, "\nDatabase Configuration:")
				db := &initDatabase{Host: p.ask("  Host", "localhost")}
				port, err := strconv.Atoi(p.ask("  Port", "5432"))
				if err != nil {
					return fmt.Errorf("invalid port: %w", err)
				}
				db.Port = port
				db.User = p.ask("  User", "")
				db.Password = "${DB_PASSWORD}"
				db.Database = p.ask("  Database name", "")
				db.SSLMode = p.ask("  SSL mode", "require")
				db.AutoMigrate = true
				ic.Database = db
				if ic.Database.Database == "" {
					return errors.New("database name is required")
				}
			}
			if p.err != nil {
				return fmt.Errorf("failed to read answers: %w", p.err)
			}

			content, err := yaml.Marshal(ic)
			if err != nil {
				return fmt.Errorf("failed to encode config: %w", err)
			}

			configDir, err := config.ConfigDir()
			if err != nil {
				return err
			}
			configPath := filepath.Join(configDir, "config.yaml")

			if err := os.WriteFile(configPath, content, 0600); err != nil {
				return fmt.Errorf("failed to write config file: %w", err)
			}

			fmt.Fprintf(out, "\nConfig file written to: %s\n", configPath)
			if ic.Database != nil {
				fmt.Fprintln(out, "\nIMPORTANT: Set the DB_PASSWORD environment variable.")
				fmt.Fprintf(out, "To run migrations, run: %s migrate <journal_dir>\n", config.AppName)
			}
			if ic.Store.Token != "" {
				fmt.Fprintln(out, "\nIMPORTANT: Set the DO2EN_STORE_TOKEN environment variable.")
			}
			fmt.Fprintf(out, "To start syncing, run: %s <journal_dir>\n", config.AppName)
			return nil
		},
	}
}

// prompter asks questions on out and reads answers line by line.
// The first read error is kept and later questions return their defaults.
type prompter struct {
	reader *bufio.Reader
	out    io.Writer
	err    error
}

func (p *prompter) ask(question, def string) string {
	if def != "" {
		fmt.Fprintf(p.out, "%s [%s]: ", question, def)
	} else {
		fmt.Fprintf(p.out, "%s: ", question)
	}
	if p.err != nil {
		return def
	}

	line, err := p.reader.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		if !errors.Is(err, io.EOF) {
			p.err = err
		}
		return def
	}
	if answer := strings.TrimSpace(line); answer != "" {
		return answer
	}
	return def
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
