package doccache

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"
)

const (
	DefaultMaxPages = 5
	DefaultMaxChars = 5000
)

// Extractor pulls plain text from the leading pages of a cached PDF.
type Extractor struct {
	MaxPages int
	MaxChars int
}

func NewExtractor(maxPages, maxChars int) *Extractor {
	if maxPages <= 0 {
		maxPages = DefaultMaxPages
	}
	if maxChars <= 0 {
		maxChars = DefaultMaxChars
	}
	return &Extractor{MaxPages: maxPages, MaxChars: maxChars}
}

// Extract returns up to MaxChars runes of text from the first MaxPages pages.
// Scanned or image-only documents yield an empty string and no error.
func (e *Extractor) Extract(path string) (text string, err error) {
	// The PDF reader panics on some malformed inputs.
	defer func() {
		if r := recover(); r != nil {
			text = ""
			err = fmt.Errorf("PDF parsing panicked: %v", r)
		}
	}()

	f, r, err := pdf.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open PDF %s: %w", path, err)
	}
	defer f.Close()

	pages := r.NumPage()
	if pages > e.MaxPages {
		pages = e.MaxPages
	}

	var sb strings.Builder
	for i := 1; i <= pages; i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		content, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		sb.WriteString(content)
		sb.WriteString("\n")
		if utf8.RuneCountInString(sb.String()) >= e.MaxChars {
			break
		}
	}

	return truncateRunes(strings.TrimSpace(sb.String()), e.MaxChars), nil
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
