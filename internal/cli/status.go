package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/c0deZ3R0/listsync/errors"
	"github.com/c0deZ3R0/listsync/store"
)

func newStatusCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the local store contents and remote account status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			return app.withStore(cmd.Context(), func(st store.Store) error {
				snap, err := st.Snapshot(cmd.Context())
				if err != nil {
					return errors.NewStorageError(errors.OpLoad, err)
				}
				archived := 0
				for _, l := range snap.Lists {
					if l.Archived {
						archived++
					}
				}
				fmt.Fprintf(out, "%s %s (%s)\n", bold("Store:"), app.Config.Store.Driver, app.Config.Store.DSN)
				fmt.Fprintf(out, "  lists:  %d (%d archived)\n", len(snap.Lists), archived)
				fmt.Fprintf(out, "  items:  %d\n", len(snap.Items))
				fmt.Fprintf(out, "  images: %d\n", len(snap.Images))

				if app.Config.Remote.URL == "" {
					fmt.Fprintf(out, "%s %s\n", bold("Remote:"), dim("not configured"))
					return nil
				}
				rem, err := app.openRemote(app.Config, app.Logger)
				if err != nil {
					return err
				}
				ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
				defer cancel()
				status, err := rem.AccountStatus(ctx)
				if err != nil {
					fmt.Fprintf(out, "%s %s %s\n", bold("Remote:"), app.Config.Remote.URL, failure(err.Error()))
					return nil
				}
				mark := success(string(status))
				if !status.Available() {
					mark = warning(string(status))
				}
				fmt.Fprintf(out, "%s %s as %s: %s\n", bold("Remote:"), app.Config.Remote.URL, app.Config.Remote.DeviceID, mark)
				return nil
			})
		},
	}
	return cmd
}
