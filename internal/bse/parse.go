package bse

import (
	"regexp"
	"strings"
	"time"
)

const (
	subjectDelimiter = " - "
	UnknownSubject   = "unknown"
)

var fractionalSeconds = regexp.MustCompile(`\.\d+`)

// Layouts accepted for publication timestamps, after fractional seconds are removed.
var timestampLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"02-Jan-2006 15:04:05",
	"02-Jan-2006 15:04",
	"2006-01-02",
}

// ParseSubjectName takes the first " - " segment of a subject line,
// e.g. "Acme Corp - 12345 - issued new bond" gives "Acme Corp".
func ParseSubjectName(subject string) string {
	if !strings.Contains(subject, subjectDelimiter) {
		return UnknownSubject
	}
	name := strings.TrimSpace(strings.SplitN(subject, subjectDelimiter, 2)[0])
	if name == "" {
		return UnknownSubject
	}
	return name
}

// ParseTimestamp parses an upstream timestamp in loc. ok is false when the
// value matched no layout; callers then keep the raw string.
func ParseTimestamp(raw string, loc *time.Location) (time.Time, bool) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return time.Time{}, false
	}
	s = fractionalSeconds.ReplaceAllString(s, "")

	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.In(loc), true
	}
	for _, layout := range timestampLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
