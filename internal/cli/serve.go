package cli

import (
	clog "github.com/charmbracelet/log"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/climateandtech/carbonara-sub000/internal/server"
	"github.com/climateandtech/carbonara-sub000/internal/system"
)

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringP("addr", "a", "", "address to bind (host:port)")
	serveCmd.Flags().String("schedule", "", "refresh schedule, e.g. \"@every 10m\"; \"off\" disables it")
	serveCmd.Flags().Bool("no-watch", false, "do not reload on registry or state file changes")
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve tool status over HTTP for editor integrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		addr, _ := cmd.Flags().GetString("addr")
		if addr == "" {
			addr = a.settings.ServeAddr
		}
		schedule, _ := cmd.Flags().GetString("schedule")
		if schedule == "" {
			schedule = a.settings.RefreshSchedule
		}
		noWatch, _ := cmd.Flags().GetBool("no-watch")
		if system.Logger.GetLevel() > clog.DebugLevel {
			gin.SetMode(gin.ReleaseMode)
		}

		if schedule != "off" {
			sch, err := a.engine.StartRefresh(schedule)
			if err != nil {
				return err
			}
			defer sch.Stop()
		}

		g, ctx := errgroup.WithContext(cmd.Context())
		if !noWatch {
			g.Go(func() error {
				err := a.engine.Watch(ctx, a.watchTargets())
				if ctx.Err() != nil {
					return nil
				}
				return err
			})
		}
		g.Go(func() error {
			if _, err := a.engine.Refresh(ctx); err != nil && ctx.Err() == nil {
				system.Logger.Warn("initial refresh failed", "err", err)
			}
			return nil
		})
		srv := &server.Server{Addr: addr, Engine: a.engine, Logger: system.Logger}
		g.Go(func() error { return srv.Start(ctx) })
		return g.Wait()
	},
}
