package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/ashita-ai/kiroku/internal/compare"
	"github.com/ashita-ai/kiroku/internal/sessionstore"
	"github.com/ashita-ai/kiroku/internal/storage"
	"github.com/ashita-ai/kiroku/internal/storage/sqlite"
)

var version = "dev"

// globalOptions are the persistent flags shared by every command.
type globalOptions struct {
	store      string
	dsn        string
	sqlitePath string
	strategy   string
	gap        time.Duration
	output     string
	verbose    bool
}

// openedStore is a session store plus whatever must be released afterwards.
type openedStore struct {
	sessions sessionstore.Store
	close    func()
}

// storeOpener opens the store the flags select. Tests substitute an
// in-memory store.
type storeOpener func(ctx context.Context, opts *globalOptions, logger *slog.Logger) (*openedStore, error)

func openStore(ctx context.Context, opts *globalOptions, logger *slog.Logger) (*openedStore, error) {
	switch opts.store {
	case "sqlite":
		db, err := sqlite.Open(ctx, opts.sqlitePath, logger)
		if err != nil {
			return nil, err
		}
		return &openedStore{sessions: db, close: func() { _ = db.Close() }}, nil
	case "postgres":
		if opts.dsn == "" {
			return nil, fmt.Errorf("--dsn (or DATABASE_URL) is required for the postgres store")
		}
		db, err := storage.New(ctx, opts.dsn, logger)
		if err != nil {
			return nil, err
		}
		return &openedStore{sessions: db, close: db.Close}, nil
	default:
		return nil, fmt.Errorf("unsupported store %q: must be postgres or sqlite", opts.store)
	}
}

// env is the wiring every data command needs.
type env struct {
	opts       *globalOptions
	logger     *slog.Logger
	store      *openedStore
	guard      *sessionstore.Guard
	comparator *compare.Comparator
	out        io.Writer
}

func newRootCommand(opener storeOpener) *cobra.Command {
	_ = godotenv.Load()
	opts := &globalOptions{}

	cmd := &cobra.Command{
		Use:   "kirokuctl",
		Short: "Inspect and compare recorded API test runs",
		Long: `kirokuctl reads the run history recorded by kiroku and compares the latest
run of each test suite with the one before it.

Commands read the store directly; no server needs to be running.`,
		Version:      version,
		SilenceUsage: true,
	}

	f := cmd.PersistentFlags()
	f.StringVar(&opts.store, "store", envOr("KIROKU_STORE", "postgres"), "Session store: postgres or sqlite")
	f.StringVar(&opts.dsn, "dsn", os.Getenv("DATABASE_URL"), "Postgres connection string")
	f.StringVar(&opts.sqlitePath, "sqlite-path", envOr("KIROKU_SQLITE_PATH", "kiroku.db"), "SQLite database file")
	f.StringVar(&opts.strategy, "strategy", envOr("KIROKU_COMPARE_STRATEGY", "sessions"), "Comparison strategy: sessions or window")
	f.DurationVar(&opts.gap, "gap", compare.DefaultGap, "Idle gap separating runs (window strategy)")
	f.StringVarP(&opts.output, "output", "o", "table", "Output format: table, json or yaml")
	f.BoolVarP(&opts.verbose, "verbose", "v", false, "Log store activity to stderr")

	// setup opens the store lazily so version and help work without one.
	setup := func(c *cobra.Command) (*env, error) {
		switch opts.output {
		case "table", "json", "yaml":
		default:
			return nil, fmt.Errorf("unsupported output %q: must be table, json or yaml", opts.output)
		}
		strategy, err := compare.ParseStrategy(opts.strategy)
		if err != nil {
			return nil, err
		}
		level := slog.LevelWarn
		if opts.verbose {
			level = slog.LevelDebug
		}
		logger := slog.New(slog.NewTextHandler(c.ErrOrStderr(), &slog.HandlerOptions{Level: level}))

		store, err := opener(c.Context(), opts, logger)
		if err != nil {
			return nil, fmt.Errorf("open store: %w", err)
		}
		guard := sessionstore.NewGuard(store.sessions, logger)
		return &env{
			opts:       opts,
			logger:     logger,
			store:      store,
			guard:      guard,
			comparator: compare.New(guard, compare.Config{Strategy: strategy, Gap: opts.gap}, logger),
			out:        c.OutOrStdout(),
		}, nil
	}

	cmd.AddCommand(newCompareCommand(setup))
	cmd.AddCommand(newCompareAllCommand(setup))
	cmd.AddCommand(newSessionsCommand(setup))
	cmd.AddCommand(newProjectsCommand(setup))
	cmd.AddCommand(newReportCommand(setup))
	cmd.AddCommand(newVersionCommand())

	return cmd
}

type setupFunc func(*cobra.Command) (*env, error)

// emit writes v as JSON or YAML, or calls table for the table format.
func (e *env) emit(v any, table func(io.Writer)) error {
	switch e.opts.output {
	case "json":
		enc := json.NewEncoder(e.out)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "yaml":
		// Round-trip through JSON so YAML keys follow the json tags.
		data, err := json.Marshal(v)
		if err != nil {
			return err
		}
		var generic any
		if err := yaml.Unmarshal(data, &generic); err != nil {
			return err
		}
		enc := yaml.NewEncoder(e.out)
		enc.SetIndent(2)
		if err := enc.Encode(generic); err != nil {
			return err
		}
		return enc.Close()
	default:
		table(e.out)
		return nil
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
