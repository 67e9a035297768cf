/*
Package export writes announcement listings to files for offline review: an
Excel workbook with one row per announcement, and a printable PDF digest.
*/
package export

import (
	"fmt"
	"io"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/shanehull/bsewatch/internal/types"
)

const sheetName = "Announcements"

// Entry is one exported announcement. Result is zero when it was not classified.
type Entry struct {
	Record types.DisclosureRecord
	Result types.SentimentResult
}

var columns = []struct {
	title string
	width float64
}{
	{"Published", 20},
	{"BSE Code", 10},
	{"Company", 36},
	{"Headline", 70},
	{"Indices", 28},
	{"Market Cap", 12},
	{"Sentiment", 11},
	{"Summary", 80},
	{"Document", 60},
	{"Source", 10},
}

func (e Entry) row() []any {
	return []any{
		e.Record.DisplayTime(),
		e.Record.SubjectID,
		e.Record.SubjectName,
		e.Record.Headline,
		strings.Join(e.Record.Categories, ", "),
		e.Record.MarketCap,
		string(e.Result.Label),
		e.Result.Summary,
		e.Record.DocumentURI,
		string(e.Record.Source),
	}
}

// WriteXLSX writes entries as a single-sheet workbook with a frozen,
// filterable header row.
func WriteXLSX(w io.Writer, entries []Entry) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", sheetName); err != nil {
		return fmt.Errorf("failed to name sheet: %w", err)
	}

	header := make([]any, len(columns))
	for i, c := range columns {
		header[i] = c.title
		col, err := excelize.ColumnNumberToName(i + 1)
		if err != nil {
			return err
		}
		if err := f.SetColWidth(sheetName, col, col, c.width); err != nil {
			return fmt.Errorf("failed to size column %s: %w", col, err)
		}
	}
	if err := f.SetSheetRow(sheetName, "A1", &header); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	bold, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{"#DDEBF7"}},
	})
	if err != nil {
		return fmt.Errorf("failed to create header style: %w", err)
	}
	last, _ := excelize.ColumnNumberToName(len(columns))
	if err := f.SetCellStyle(sheetName, "A1", last+"1", bold); err != nil {
		return fmt.Errorf("failed to style header: %w", err)
	}

	for i, e := range entries {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		row := e.row()
		if err := f.SetSheetRow(sheetName, cell, &row); err != nil {
			return fmt.Errorf("failed to write row %d: %w", i+2, err)
		}
	}

	if err := f.SetPanes(sheetName, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}); err != nil {
		return fmt.Errorf("failed to freeze header: %w", err)
	}
	if len(entries) > 0 {
		ref := fmt.Sprintf("A1:%s%d", last, len(entries)+1)
		if err := f.AutoFilter(sheetName, ref, nil); err != nil {
			return fmt.Errorf("failed to add filter: %w", err)
		}
	}

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("failed to write workbook: %w", err)
	}
	return nil
}
