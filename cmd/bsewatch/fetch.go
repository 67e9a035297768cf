package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/shanehull/bsewatch/internal/bse"
)

var fetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Print F&O-eligible announcements without notifying",
	RunE:  runFetch,
}

func init() {
	fetchCmd.Flags().Int("days-back", 1, "lookback in days (1-30)")
	fetchCmd.Flags().Int("max-results", 200, "maximum records to fetch (10-500)")
	fetchCmd.Flags().Bool("json", false, "print JSON instead of a table")
	rootCmd.AddCommand(fetchCmd)
}

func runFetch(cmd *cobra.Command, args []string) error {
	days, _ := cmd.Flags().GetInt("days-back")
	maxResults, _ := cmd.Flags().GetInt("max-results")
	asJSON, _ := cmd.Flags().GetBool("json")

	a, err := newApp(cmd.Context(), buildOptions{})
	if err != nil {
		return err
	}
	defer a.Close()

	listing := a.announcements.List(cmd.Context(), bse.Query{DaysBack: days, MaxResults: maxResults})

	if asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(listing.Records)
	}

	fmt.Printf("\n%d F&O announcements from %s (last %d day(s))\n\n", len(listing.Records), listing.Source, listing.Query.DaysBack)
	for _, rec := range listing.Records {
		fmt.Printf("%-22s %-8s %-40.40s %s\n", rec.DisplayTime(), rec.SubjectID, rec.SubjectName, strings.Join(rec.Categories, ","))
		fmt.Printf("\t%s\n", rec.Headline)
		if rec.DocumentURI != "" {
			fmt.Printf("\t%s\n", rec.DocumentURI)
		}
	}
	return nil
}
