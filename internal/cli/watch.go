package cli

import (
	"context"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/c0deZ3R0/listsync/errors"
	"github.com/c0deZ3R0/listsync/metrics/prom"
	"github.com/c0deZ3R0/listsync/store"
	"github.com/c0deZ3R0/listsync/synckit"
	"github.com/c0deZ3R0/listsync/transport/sse"
)

func newWatchCmd(app *App) *cobra.Command {
	var (
		strategy    string
		metricsAddr string
		d           decider
	)

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Keep syncing in the background until interrupted",
		Long: `Keep syncing in the background until interrupted.

A run starts right away, then once per sync.poll_interval and whenever the
local store is changed by another process. With a remote configured, change
notices streamed from it start a run as well. Conflicts that need a decision
are asked about on the terminal.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := d.validate(); err != nil {
				return err
			}
			d.in, d.out = cmd.InOrStdin(), cmd.OutOrStdout()
			if metricsAddr == "" {
				metricsAddr = app.Config.Metrics.Addr
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return app.withStore(ctx, func(st store.Store) error {
				return app.watch(ctx, cmd, st, strategy, metricsAddr, d)
			})
		},
	}

	cmd.Flags().StringVar(&strategy, "strategy", "", "Override sync.strategy (lastWriteWins|serverWins|clientWins|userChoice)")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (overrides metrics.addr)")
	cmd.Flags().StringVar(&d.prefer, "prefer", "", "Settle every conflict for one side (local|incoming)")
	cmd.Flags().BoolVarP(&d.yes, "yes", "y", false, "Apply without asking; open conflicts fall back to last write wins")
	return cmd
}

func (app *App) watch(ctx context.Context, cmd *cobra.Command, st store.Store, strategy, metricsAddr string, d decider) error {
	out := cmd.OutOrStdout()
	parked := make(chan *synckit.Result, 1)

	opts := []synckit.Option{
		synckit.WithObserver(synckit.ObserverFuncs{
			Completed: func(res *synckit.Result) {
				if res.State == synckit.StateAwaitingDecision {
					select {
					case parked <- res:
					default:
					}
					return
				}
				renderRun(out, res)
			},
		}),
	}

	metricsErr := make(chan error, 1)
	if metricsAddr != "" {
		collector := prom.NewCollector(nil)
		opts = append(opts, synckit.WithMetrics(collector))
		go func() { metricsErr <- serveMetrics(ctx, metricsAddr, collector.Handler(), app.Logger) }()
	}

	o, err := app.orchestrator(st, strategy, opts...)
	if err != nil {
		return err
	}
	defer o.Close()

	if err := o.Start(ctx); err != nil {
		return err
	}
	if rc := app.Config.Remote; rc.URL != "" {
		feed := sse.NewClient(rc.URL, rc.DeviceID, nil, app.Logger)
		go followChanges(ctx, feed, o, app.Config.Sync.PollInterval.Std(), app.Logger)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-metricsErr:
			if err != nil {
				return err
			}
		case res := <-parked:
			if err := resolveWhenFree(ctx, out, o, res, d); err != nil {
				app.Logger.Warn("resolving conflicts", slog.String("error", err.Error()))
			}
		}
	}
}

// followChanges triggers a run for every replica change notice, reconnecting
// after retry when the stream drops.
func followChanges(ctx context.Context, feed *sse.Client, o *synckit.Orchestrator, retry time.Duration, logger *slog.Logger) {
	for {
		err := feed.Subscribe(ctx, func(sse.Notice) error {
			o.RemoteChanged()
			return nil
		})
		if err != nil {
			logger.Debug("change stream ended", slog.String("error", err.Error()))
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(retry):
		}
	}
}

// resolveWhenFree waits for the run that parked res to release the
// orchestrator, then settles it.
func resolveWhenFree(ctx context.Context, out io.Writer, o *synckit.Orchestrator, res *synckit.Result, d decider) error {
	for o.Status().Running {
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(20 * time.Millisecond):
		}
	}
	err := settle(ctx, out, o, res, d)
	if errors.IsKind(err, errors.KindConflictPending) {
		return nil
	}
	return err
}
