package notify

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"

	"github.com/shanehull/bsewatch/internal/types"
)

// HTMLEmailRenderer renders notifications as HTML emails with a plain text fallback.
type HTMLEmailRenderer struct {
	tmpl *template.Template
}

// emailView is the template data for one notification.
type emailView struct {
	types.Notification
	Tag       string
	Published string
	Lines     []string
}

// NewHTMLEmailRenderer creates a renderer with the default email template.
func NewHTMLEmailRenderer() *HTMLEmailRenderer {
	t := template.Must(template.New("email").Parse(emailHTMLTemplate))
	return &HTMLEmailRenderer{tmpl: t}
}

// Render produces an HTML email with plain text alternative.
func (r *HTMLEmailRenderer) Render(n types.Notification) (*RenderedMessage, error) {
	subject := fmt.Sprintf("BSE Alert: %s (%s) - %s", n.SubjectName, n.SubjectID, strings.ToUpper(string(n.Label)))

	view := emailView{
		Notification: n,
		Tag:          labelTag(n.Label),
		Published:    publishedText(n),
		Lines:        summaryLines(n.Summary),
	}

	var htmlBuf bytes.Buffer
	if err := r.tmpl.Execute(&htmlBuf, view); err != nil {
		return nil, fmt.Errorf("failed to render HTML template: %w", err)
	}

	return &RenderedMessage{
		Subject: subject,
		Text:    renderPlainText(view),
		HTML:    htmlBuf.String(),
	}, nil
}

// summaryLines drops the header and company lines that the email already shows.
func summaryLines(summary string) []string {
	var lines []string
	for i, l := range strings.Split(summary, "\n") {
		l = strings.TrimSpace(l)
		if l == "" {
			continue
		}
		if i < 2 && (strings.HasSuffix(l, " NEWS") || strings.HasPrefix(l, "Company: ")) {
			continue
		}
		lines = append(lines, l)
	}
	return lines
}

// renderPlainText produces a readable plain text version for email clients that don't support HTML.
func renderPlainText(v emailView) string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("%s (%s)\n", v.SubjectName, v.SubjectID))
	sb.WriteString(strings.Repeat("=", 50) + "\n\n")
	sb.WriteString(fmt.Sprintf("Sentiment: %s\n", v.Tag))

	if v.Published != "" {
		sb.WriteString(fmt.Sprintf("Date: %s\n", v.Published))
	}
	if v.Headline != "" {
		sb.WriteString(fmt.Sprintf("Headline: %s\n", v.Headline))
	}
	if len(v.Categories) > 0 {
		sb.WriteString(fmt.Sprintf("Indices: %s\n", strings.Join(v.Categories, ", ")))
	}
	if v.DocumentURI != "" {
		sb.WriteString(fmt.Sprintf("URL: %s\n", v.DocumentURI))
	}
	sb.WriteString("\n")

	if len(v.Lines) > 0 {
		sb.WriteString("SUMMARY\n")
		sb.WriteString(strings.Repeat("-", 20) + "\n")
		for _, l := range v.Lines {
			sb.WriteString(fmt.Sprintf("• %s\n", l))
		}
		sb.WriteString("\n")
	}

	return sb.String()
}
