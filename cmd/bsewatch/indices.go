package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/shanehull/bsewatch/internal/eligibility"
)

var indicesCmd = &cobra.Command{
	Use:   "indices",
	Short: "Refresh the index membership cache",
	Long: `Indices downloads the constituent lists of every configured index and
rewrites the on-disk cache, ignoring its age. With --check it only reports
what the cache holds.`,
	RunE: runIndices,
}

func init() {
	indicesCmd.Flags().Bool("check", false, "report cached membership without refreshing")
	rootCmd.AddCommand(indicesCmd)
}

func runIndices(cmd *cobra.Command, args []string) error {
	check, _ := cmd.Flags().GetBool("check")

	loader := eligibility.NewMembershipLoader(
		cfg.Eligibility.IndexSources,
		cfg.Eligibility.IndexCacheDir,
		cfg.Eligibility.IndexTTL.Duration,
		cfg.Eligibility.IndexTimeout.Duration,
		logger,
	)

	failed := 0
	for _, name := range loader.Names() {
		data, err := loader.Load(cmd.Context(), name, !check)
		if err != nil {
			failed++
			fmt.Printf("%-12s error: %v\n", name, err)
			continue
		}
		fmt.Printf("%-12s %4d stocks, cached %s\n", name, data.Count, data.CachedAt.In(cfg.Location()).Format("2006-01-02 15:04"))
	}

	if failed > 0 {
		return fmt.Errorf("%d index list(s) unavailable", failed)
	}
	return nil
}
