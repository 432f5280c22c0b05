package cli

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/c0deZ3R0/listsync/store"
	"github.com/c0deZ3R0/listsync/transport/httptransport"
)

func newServeCmd(app *App) *cobra.Command {
	var (
		addr      string
		rateLimit float64
		burst     int
		quota     int64
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run a development remote replica over HTTP",
		Long: `Run a development remote replica over HTTP.

The replica lives in the configured store. Devices pull it with their
baseline and push their merged state back, which the server merges with
client-wins resolution against that device's baseline.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if addr == "" {
				addr = app.Config.Server.Addr
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return app.withStore(ctx, func(st store.Store) error {
				opts := []httptransport.ServerOption{httptransport.WithServerLogger(app.Logger)}
				if rateLimit > 0 {
					opts = append(opts, httptransport.WithServerRateLimit(rateLimit, burst))
				}
				if quota > 0 {
					opts = append(opts, httptransport.WithQuota(quota))
				}
				srv := httptransport.NewServer(st, opts...)
				defer srv.Close()
				return srv.ListenAndServe(ctx, addr)
			})
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (overrides server.addr)")
	cmd.Flags().Float64Var(&rateLimit, "rate-limit", 0, "Requests per second accepted per device; 0 disables limiting")
	cmd.Flags().IntVar(&burst, "burst", 5, "Burst size for --rate-limit")
	cmd.Flags().Int64Var(&quota, "quota", 0, "Cap on the replica's total image bytes; 0 is unlimited")
	return cmd
}
