package notify

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/shanehull/bsewatch/internal/types"
)

// ConsoleSink prints a readable block per notification.
type ConsoleSink struct {
	mu    sync.Mutex
	out   io.Writer
	count int
}

func NewConsoleSink(out io.Writer) *ConsoleSink {
	return &ConsoleSink{out: out}
}

func (s *ConsoleSink) Name() string { return "console" }

func (s *ConsoleSink) Send(_ context.Context, n types.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.count++
	var sb strings.Builder
	fmt.Fprintf(&sb, "\n--- ANNOUNCEMENT #%d ---\n", s.count)
	fmt.Fprintf(&sb, "Company:   %s (%s)\n", n.SubjectName, n.SubjectID)
	if n.Headline != "" {
		fmt.Fprintf(&sb, "Headline:  %s\n", n.Headline)
	}
	if published := publishedText(n); published != "" {
		fmt.Fprintf(&sb, "Date:      %s\n", published)
	}
	fmt.Fprintf(&sb, "Sentiment: %s\n", labelTag(n.Label))
	if len(n.Categories) > 0 {
		fmt.Fprintf(&sb, "Indices:   %s\n", strings.Join(n.Categories, ", "))
	}
	if n.DocumentURI != "" {
		fmt.Fprintf(&sb, "URL:       %s\n", n.DocumentURI)
	}
	fmt.Fprintf(&sb, "Summary:\n%s\n", indent(n.Summary))

	_, err := io.WriteString(s.out, sb.String())
	return err
}

func indent(s string) string {
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		lines[i] = "\t" + l
	}
	return strings.Join(lines, "\n")
}
