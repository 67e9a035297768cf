package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var summarizeCmd = &cobra.Command{
	Use:   "summarize <pdf-url> <company-name> [bse-code]",
	Short: "Download and classify a single announcement document",
	Args:  cobra.RangeArgs(2, 3),
	RunE:  runSummarize,
}

func init() {
	rootCmd.AddCommand(summarizeCmd)
}

func runSummarize(cmd *cobra.Command, args []string) error {
	code := "UNKNOWN"
	if len(args) == 3 {
		code = args[2]
	}

	a, err := newApp(cmd.Context(), buildOptions{})
	if err != nil {
		return err
	}
	defer a.Close()

	res := a.announcements.Summarize(cmd.Context(), args[0], args[1], code)
	fmt.Printf("\n%s %s (%s)\n\n%s\n", res.Label.Emoji(), strings.ToUpper(string(res.Label)), res.Method, res.Summary)
	return nil
}
