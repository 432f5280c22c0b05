package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/c0deZ3R0/listsync/errors"
	"github.com/c0deZ3R0/listsync/reconcile"
	"github.com/c0deZ3R0/listsync/store"
	"github.com/c0deZ3R0/listsync/synckit"
)

func newSyncCmd(app *App) *cobra.Command {
	var (
		strategy string
		d        decider
	)

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Run one sync with the remote replica",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := d.validate(); err != nil {
				return err
			}
			d.in, d.out = cmd.InOrStdin(), cmd.OutOrStdout()

			return app.withStore(cmd.Context(), func(st store.Store) error {
				o, err := app.orchestrator(st, strategy)
				if err != nil {
					return err
				}
				defer o.Close()

				res, err := o.SyncNow(cmd.Context())
				if err != nil {
					return err
				}
				return settle(cmd.Context(), cmd.OutOrStdout(), o, res, d)
			})
		},
	}

	cmd.Flags().StringVar(&strategy, "strategy", "", "Override sync.strategy (lastWriteWins|serverWins|clientWins|userChoice)")
	cmd.Flags().StringVar(&d.prefer, "prefer", "", "Settle every conflict for one side (local|incoming)")
	cmd.Flags().BoolVarP(&d.yes, "yes", "y", false, "Apply without asking; open conflicts fall back to last write wins")
	return cmd
}

// orchestrator builds an Orchestrator from the configuration. A non-empty
// strategy overrides sync.strategy.
func (app *App) orchestrator(st store.Store, strategy string, extra ...synckit.Option) (*synckit.Orchestrator, error) {
	rem, err := app.openRemote(app.Config, app.Logger)
	if err != nil {
		return nil, err
	}
	opts := append(app.Config.SyncOptions(), synckit.WithLogger(app.Logger))
	if strategy != "" {
		opts = append(opts, synckit.WithStrategyName(strategy))
	}
	return synckit.New(st, rem, append(opts, extra...)...)
}

// settle renders res and, when it is waiting on the user, collects the
// decisions and resumes the run.
func settle(ctx context.Context, out io.Writer, o *synckit.Orchestrator, res *synckit.Result, d decider) error {
	if res.State != synckit.StateAwaitingDecision {
		renderRun(out, res)
		return nil
	}
	renderPreview(out, res.Plan.Preview())

	resp, err := d.respond(res.Pending)
	if err != nil {
		return err
	}
	res, err = o.Resolve(ctx, resp)
	if resp.Action == reconcile.ActionCancel && errors.IsKind(err, errors.KindCancelled) {
		fmt.Fprintln(out, dim("Sync cancelled, nothing changed."))
		return nil
	}
	if err != nil {
		return err
	}
	renderRun(out, res)
	return nil
}
