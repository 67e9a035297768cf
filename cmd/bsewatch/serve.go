package main

import (
	"github.com/spf13/cobra"

	"github.com/shanehull/bsewatch/internal/engine"
	"github.com/shanehull/bsewatch/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and the polling scheduler",
	Long: `Serve starts the HTTP API (announcements, summaries, cached PDFs, health,
metrics and the websocket alert feed) and polls the feed on the trading-hours
cadence until interrupted.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().Bool("no-poll", false, "serve the API without running the scheduler")
	serveCmd.Flags().Int("port", 0, "override server.port")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if port, _ := cmd.Flags().GetInt("port"); port > 0 {
		cfg.Server.Port = port
	}

	a, err := newApp(ctx, buildOptions{passes: true, websocket: true})
	if err != nil {
		return err
	}
	defer a.Close()

	if noPoll, _ := cmd.Flags().GetBool("no-poll"); !noPoll {
		cadence, err := engine.NewCadence(cfg.Schedule, cfg.Location())
		if err != nil {
			return err
		}
		sched := engine.NewScheduler(a.engine, cadence, logger)
		sched.Start(ctx)
		defer sched.Stop()
	}

	srv := server.New(cfg.Server, a.announcements, a.cache, a.hub, a.metrics.Handler(), logger)
	return srv.ListenAndServe(ctx)
}
