package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/shanehull/bsewatch/internal/bse"
	"github.com/shanehull/bsewatch/internal/export"
)

var exportCmd = &cobra.Command{
	Use:   "export <file.xlsx|file.pdf>",
	Short: "Write F&O announcements to an Excel workbook or PDF digest",
	Long: `Export fetches announcements like the fetch command and writes them to a
file. The extension picks the format: .xlsx for a workbook, .pdf for a
printable digest. With --summarize each document is downloaded and classified.`,
	Args: cobra.ExactArgs(1),
	RunE: runExport,
}

func init() {
	exportCmd.Flags().Int("days-back", 1, "lookback in days (1-30)")
	exportCmd.Flags().Int("max-results", 200, "maximum records to fetch (10-500)")
	exportCmd.Flags().Bool("summarize", false, "download and classify every document")
	rootCmd.AddCommand(exportCmd)
}

func runExport(cmd *cobra.Command, args []string) error {
	path := args[0]
	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".xlsx" && ext != ".pdf" {
		return fmt.Errorf("unsupported export format %q, use .xlsx or .pdf", ext)
	}

	days, _ := cmd.Flags().GetInt("days-back")
	maxResults, _ := cmd.Flags().GetInt("max-results")
	summarize, _ := cmd.Flags().GetBool("summarize")

	a, err := newApp(cmd.Context(), buildOptions{})
	if err != nil {
		return err
	}
	defer a.Close()

	listing := a.announcements.List(cmd.Context(), bse.Query{DaysBack: days, MaxResults: maxResults})

	entries := make([]export.Entry, 0, len(listing.Records))
	for _, rec := range listing.Records {
		e := export.Entry{Record: rec}
		if summarize && rec.DocumentURI != "" {
			e.Result = a.announcements.Summarize(cmd.Context(), rec.DocumentURI, rec.SubjectName, rec.SubjectID)
		}
		entries = append(entries, e)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer f.Close()

	switch ext {
	case ".xlsx":
		err = export.WriteXLSX(f, entries)
	case ".pdf":
		title := fmt.Sprintf("BSE F&O announcements, last %d day(s)", listing.Query.DaysBack)
		err = export.WriteDigest(f, title, time.Now().In(cfg.Location()), entries)
	}
	if err != nil {
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}

	logger.Info().Str("path", path).Int("records", len(entries)).Str("source", listing.Source).Msg("Export written")
	return nil
}
