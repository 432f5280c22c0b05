// Package cli implements the listsync command line.
package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/c0deZ3R0/listsync/config"
	"github.com/c0deZ3R0/listsync/errors"
	"github.com/c0deZ3R0/listsync/logging"
	"github.com/c0deZ3R0/listsync/remote"
	"github.com/c0deZ3R0/listsync/storage/memory"
	"github.com/c0deZ3R0/listsync/storage/postgres"
	"github.com/c0deZ3R0/listsync/storage/sqlite"
	"github.com/c0deZ3R0/listsync/store"
	"github.com/c0deZ3R0/listsync/transport/httptransport"
)

type App struct {
	ConfigPath string
	NoColor    bool

	Config *config.Config
	Logger *slog.Logger

	// openStore and openRemote are replaced in tests.
	openStore  func(ctx context.Context, cfg *config.Config, logger *slog.Logger) (store.Store, error)
	openRemote func(cfg *config.Config, logger *slog.Logger) (remote.Service, error)
}

func NewRootCmd() *cobra.Command {
	return newRootCmd(&App{openStore: openStore, openRemote: openRemote})
}

func newRootCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:          "listsync",
		Short:        "Reconcile lists, items and images with a remote replica or import files",
		SilenceUsage: true,
		Example: strings.TrimSpace(`
  # Merge an import file, asking about conflicts
  listsync import lists.yaml

  # Write the local store to a file
  listsync export backup.json

  # Sync once, or keep syncing in the background
  listsync sync
  listsync watch

  # Run a development remote replica
  listsync serve --addr :8080
`),
	}

	cmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(app.ConfigPath)
		if err != nil {
			return err
		}
		app.Config = cfg
		if app.NoColor {
			color.NoColor = true
		}
		if app.Logger == nil {
			app.Logger = logging.NewLoggerTo(cmd.ErrOrStderr(), cfg.Log).Logger
		}
		return nil
	}

	cmd.PersistentFlags().StringVarP(&app.ConfigPath, "config", "c", envOr("LISTSYNC_CONFIG", ""), "Config file (yaml, json or toml)")
	cmd.PersistentFlags().BoolVar(&app.NoColor, "no-color", false, "Disable colored output")

	cmd.AddCommand(newImportCmd(app))
	cmd.AddCommand(newExportCmd(app))
	cmd.AddCommand(newSyncCmd(app))
	cmd.AddCommand(newWatchCmd(app))
	cmd.AddCommand(newServeCmd(app))
	cmd.AddCommand(newStatusCmd(app))

	return cmd
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (store.Store, error) {
	switch cfg.Store.Driver {
	case config.DriverSQLite:
		c := sqlite.DefaultConfig(cfg.Store.DSN)
		c.Logger = logger
		st, err := sqlite.New(ctx, c)
		if err != nil {
			return nil, err
		}
		return st, nil
	case config.DriverPostgres:
		c := postgres.DefaultConfig(cfg.Store.DSN)
		c.Logger = logger
		st, err := postgres.New(ctx, c)
		if err != nil {
			return nil, err
		}
		return st, nil
	case config.DriverMemory:
		return memory.New(memory.WithLogger(logger)), nil
	}
	return nil, errors.WrapOpComponentKind(fmt.Errorf("unknown store driver %q", cfg.Store.Driver),
		string(errors.OpConfig), "cli", errors.KindInvalid)
}

func openRemote(cfg *config.Config, logger *slog.Logger) (remote.Service, error) {
	if cfg.Remote.URL == "" {
		return nil, errors.WrapOpComponentKind(fmt.Errorf("remote.url is not configured"),
			string(errors.OpConfig), "cli", errors.KindInvalid)
	}
	opts := []httptransport.ClientOption{
		httptransport.WithClientTimeout(cfg.Remote.Timeout.Std()),
		httptransport.WithClientLogger(logger),
	}
	if cfg.Remote.RateLimit > 0 {
		opts = append(opts, httptransport.WithRateLimit(cfg.Remote.RateLimit, cfg.Remote.Burst))
	}
	client, err := httptransport.NewClient(cfg.Remote.URL, cfg.Remote.DeviceID, opts...)
	if err != nil {
		return nil, err
	}
	return client, nil
}

// withStore opens the configured store for the duration of fn.
func (app *App) withStore(ctx context.Context, fn func(store.Store) error) error {
	st, err := app.openStore(ctx, app.Config, app.Logger)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := st.Close(); cerr != nil {
			app.Logger.Warn("closing store", slog.String("error", cerr.Error()))
		}
	}()
	return fn(st)
}

// Execute runs the root command and maps errors to an exit code.
func Execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	cmd := NewRootCmd()
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	if err := cmd.ExecuteContext(ctx); err != nil {
		switch errors.KindOf(err) {
		case errors.KindCancelled:
			return 130
		case errors.KindValidation, errors.KindInvalid:
			return 2
		}
		return 1
	}
	return 0
}
