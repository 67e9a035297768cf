/*
Package types holds the records that flow through the disclosure pipeline.
*/
package types

import (
	"time"
)

// Source identifies which upstream produced a record.
type Source string

const (
	SourceBSE       Source = "bse"
	SourceNSE       Source = "nse"
	SourceSynthetic Source = "synthetic"
)

// DisclosureRecord is one exchange announcement normalized from any upstream shape.
type DisclosureRecord struct {
	SubjectID         string    `json:"bse_code"`
	SubjectName       string    `json:"company_name"`
	Headline          string    `json:"headline"`
	PublishedAt       time.Time `json:"published_at,omitempty"`
	PublishedRaw      string    `json:"published_raw"`
	DocumentURI       string    `json:"pdf_link"`
	Categories        []string  `json:"categories"`
	LocalDocumentPath string    `json:"local_pdf_path,omitempty"`
	Source            Source    `json:"source"`
	MarketCap         string    `json:"market_cap,omitempty"`
}

const DisplayTimeLayout = "Jan 02, 2006 03:04 PM"

// PublishedKey is the time component of the identity key. Unparsed
// timestamps keep their raw upstream form.
func (r DisclosureRecord) PublishedKey() string {
	if r.PublishedAt.IsZero() {
		return r.PublishedRaw
	}
	return r.PublishedAt.Format(time.RFC3339)
}

// Key identifies the same disclosure across polling windows.
func (r DisclosureRecord) Key() string {
	return r.SubjectID + "|" + r.PublishedKey()
}

// DisplayTime renders the publication time for humans.
func (r DisclosureRecord) DisplayTime() string {
	if r.PublishedAt.IsZero() {
		return r.PublishedRaw
	}
	return r.PublishedAt.Format(DisplayTimeLayout)
}

type Label string

const (
	LabelPositive Label = "positive"
	LabelNegative Label = "negative"
	LabelNeutral  Label = "neutral"
)

// Emoji is the marker chat sinks put next to a label.
func (l Label) Emoji() string {
	switch l {
	case LabelPositive:
		return "📈"
	case LabelNegative:
		return "📉"
	default:
		return "➖"
	}
}

// SentimentResult is the classifier output for one document.
type SentimentResult struct {
	Label    Label    `json:"sentiment"`
	Summary  string   `json:"summary"`
	Excerpts []string `json:"excerpts,omitempty"`
	Method   string   `json:"method"`
}

// Notification is everything a sink needs to render one alert.
type Notification struct {
	SubjectName string
	SubjectID   string
	Headline    string
	Label       Label
	Summary     string
	DocumentURI string
	PublishedAt time.Time
	Categories  []string
	Source      Source
}

// NewNotification builds the sink payload for a classified record.
func NewNotification(rec DisclosureRecord, res SentimentResult) Notification {
	return Notification{
		SubjectName: rec.SubjectName,
		SubjectID:   rec.SubjectID,
		Headline:    rec.Headline,
		Label:       res.Label,
		Summary:     res.Summary,
		DocumentURI: rec.DocumentURI,
		PublishedAt: rec.PublishedAt,
		Categories:  rec.Categories,
		Source:      rec.Source,
	}
}
