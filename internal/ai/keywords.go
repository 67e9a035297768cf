package ai

import (
	"regexp"
	"strings"

	"github.com/shanehull/bsewatch/internal/types"
)

var positiveKeywords = []string{
	"growth", "profit", "increase", "expansion", "dividend", "acquisition",
	"revenue", "gain", "success", "partnership", "award", "milestone",
	"improved", "strong", "positive", "progress",
}

var negativeKeywords = []string{
	"loss", "decline", "decrease", "bankruptcy", "lawsuit", "penalty",
	"investigation", "fraud", "default", "resignation", "closure",
	"weak", "negative", "downgrade", "risk",
}

const (
	sentenceScanLimit = 20
	minExcerptWords   = 5
	maxExcerpts       = 4
	summaryExcerpts   = 3
)

var sentenceBoundary = regexp.MustCompile(`[.!?]\s+`)

// Score counts case-insensitive substring occurrences of each keyword set.
func Score(text string) (positive, negative int) {
	lower := strings.ToLower(text)
	for _, k := range positiveKeywords {
		positive += strings.Count(lower, k)
	}
	for _, k := range negativeKeywords {
		negative += strings.Count(lower, k)
	}
	return positive, negative
}

// KeywordLabel is the majority label; a tie is neutral.
func KeywordLabel(text string) types.Label {
	pos, neg := Score(text)
	switch {
	case pos > neg:
		return types.LabelPositive
	case neg > pos:
		return types.LabelNegative
	default:
		return types.LabelNeutral
	}
}

func hasKeyword(sentence string) bool {
	lower := strings.ToLower(sentence)
	for _, k := range positiveKeywords {
		if strings.Contains(lower, k) {
			return true
		}
	}
	for _, k := range negativeKeywords {
		if strings.Contains(lower, k) {
			return true
		}
	}
	return false
}

// Excerpts picks supporting sentences from the start of the text: those that
// mention a keyword and carry more than five words. With none, the leading
// non-empty sentences stand in.
func Excerpts(text string) []string {
	sentences := sentenceBoundary.Split(text, -1)
	if len(sentences) > sentenceScanLimit {
		sentences = sentences[:sentenceScanLimit]
	}

	var picked []string
	for _, s := range sentences {
		s = strings.TrimSpace(s)
		if !hasKeyword(s) || len(strings.Fields(s)) <= minExcerptWords {
			continue
		}
		picked = append(picked, s)
		if len(picked) >= maxExcerpts {
			return picked
		}
	}
	if len(picked) > 0 {
		return picked
	}

	for _, s := range sentences {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		picked = append(picked, s)
		if len(picked) >= maxExcerpts {
			break
		}
	}
	return picked
}

func summaryHeader(l types.Label) string {
	switch l {
	case types.LabelPositive:
		return "📈 POSITIVE NEWS"
	case types.LabelNegative:
		return "📉 NEGATIVE NEWS"
	default:
		return "➖ NEUTRAL NEWS"
	}
}

// Summarize renders the label header, the subject and up to three excerpts.
func Summarize(l types.Label, subjectName string, excerpts []string) string {
	lines := []string{summaryHeader(l), "Company: " + subjectName}
	if len(excerpts) > summaryExcerpts {
		excerpts = excerpts[:summaryExcerpts]
	}
	lines = append(lines, excerpts...)
	return strings.Join(lines, "\n")
}
