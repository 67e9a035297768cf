package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var pollCmd = &cobra.Command{
	Use:   "poll",
	Short: "Run a single engine pass and exit",
	Long: `Poll fetches, filters, classifies and notifies once, recording what it
processed in the seen set, then exits. Suitable for an external cron.`,
	RunE: runPoll,
}

func init() {
	pollCmd.Flags().Int("days-back", 0, "override feed.days_back for this pass")
	rootCmd.AddCommand(pollCmd)
}

func runPoll(cmd *cobra.Command, args []string) error {
	if days, _ := cmd.Flags().GetInt("days-back"); days > 0 {
		cfg.Feed.DaysBack = days
	}

	a, err := newApp(cmd.Context(), buildOptions{passes: true})
	if err != nil {
		return err
	}
	defer a.Close()

	rep, err := a.engine.RunOnce(cmd.Context())
	if err != nil {
		return err
	}

	fmt.Printf("\nPass %s (%s): fetched %d, new %d, eligible %d, notified %d, failed %d\n",
		rep.RunID, rep.Source, rep.Fetched, rep.New, rep.Eligible, rep.Notified, rep.Failed)
	if rep.Failed > 0 {
		return fmt.Errorf("%d announcement(s) could not be enriched and will be retried", rep.Failed)
	}
	return nil
}
