package export

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/go-pdf/fpdf"

	"github.com/shanehull/bsewatch/internal/types"
)

// WriteDigest renders entries as an A4 PDF, one block per announcement.
func WriteDigest(w io.Writer, title string, generated time.Time, entries []Entry) error {
	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(12, 12, 12)
	pdf.SetAutoPageBreak(true, 12)
	pdf.SetTitle(title, true)
	pdf.SetCreator("bsewatch", true)
	pdf.AddPage()

	// Core fonts are cp1252 only.
	tr := pdf.UnicodeTranslatorFromDescriptor("")
	text := func(s string) string { return tr(latin1(s)) }

	pdf.SetFont("Arial", "B", 14)
	pdf.CellFormat(0, 8, text(title), "", 1, "L", false, 0, "")
	pdf.SetFont("Arial", "", 8)
	pdf.SetTextColor(110, 110, 110)
	pdf.CellFormat(0, 5, text(fmt.Sprintf("%d announcements, generated %s", len(entries), generated.Format(types.DisplayTimeLayout))), "", 1, "L", false, 0, "")
	pdf.SetTextColor(0, 0, 0)
	pdf.Ln(3)

	for _, e := range entries {
		rec := e.Record

		pdf.SetFont("Arial", "B", 10)
		heading := fmt.Sprintf("%s (%s)", rec.SubjectName, rec.SubjectID)
		if e.Result.Label != "" {
			heading += " - " + strings.ToUpper(string(e.Result.Label))
		}
		pdf.MultiCell(0, 5, text(heading), "", "L", false)

		pdf.SetFont("Arial", "", 8)
		meta := rec.DisplayTime()
		if len(rec.Categories) > 0 {
			meta += " | " + strings.Join(rec.Categories, ", ")
		}
		if rec.MarketCap != "" {
			meta += " | " + rec.MarketCap
		}
		pdf.MultiCell(0, 4, text(meta), "", "L", false)

		pdf.SetFont("Arial", "", 9)
		pdf.MultiCell(0, 4.5, text(rec.Headline), "", "L", false)

		if summary := summaryBody(e.Result.Summary); summary != "" {
			pdf.SetFont("Arial", "I", 8)
			pdf.MultiCell(0, 4, text(summary), "", "L", false)
		}

		if rec.DocumentURI != "" {
			pdf.SetFont("Arial", "U", 8)
			pdf.SetTextColor(0, 70, 160)
			pdf.CellFormat(0, 4, "View PDF", "", 1, "L", false, 0, rec.DocumentURI)
			pdf.SetTextColor(0, 0, 0)
		}

		pdf.Ln(2)
		pageW, _ := pdf.GetPageSize()
		left, _, right, _ := pdf.GetMargins()
		y := pdf.GetY()
		pdf.SetDrawColor(200, 200, 200)
		pdf.Line(left, y, pageW-right, y)
		pdf.Ln(3)
	}

	if err := pdf.Output(w); err != nil {
		return fmt.Errorf("failed to generate digest: %w", err)
	}
	return nil
}

// summaryBody drops the label header and company line the classifier puts
// at the top of every summary.
func summaryBody(summary string) string {
	var keep []string
	for i, line := range strings.Split(summary, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || i == 0 || strings.HasPrefix(line, "Company:") {
			continue
		}
		keep = append(keep, line)
	}
	return strings.Join(keep, "\n")
}

func latin1(s string) string {
	return strings.Map(func(r rune) rune {
		if r > 0xFF {
			return -1
		}
		return r
	}, s)
}
