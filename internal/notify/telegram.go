package notify

import (
	"context"
	"fmt"
	"html"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shanehull/bsewatch/internal/config"
	"github.com/shanehull/bsewatch/internal/types"
)

// TelegramSink posts HTML-formatted messages through the bot API.
type TelegramSink struct {
	apiBase string
	token   string
	chatID  string
	client  *http.Client
}

func NewTelegramSink(cfg config.TelegramConfig, timeout time.Duration) *TelegramSink {
	apiBase := cfg.APIBase
	if apiBase == "" {
		apiBase = "https://api.telegram.org"
	}
	return &TelegramSink{
		apiBase: strings.TrimRight(apiBase, "/"),
		token:   cfg.Token,
		chatID:  cfg.ChatID,
		client:  &http.Client{Timeout: timeout},
	}
}

func (s *TelegramSink) Name() string { return "telegram" }

func (s *TelegramSink) Send(ctx context.Context, n types.Notification) error {
	if s.token == "" || s.chatID == "" {
		return fmt.Errorf("telegram notifier misconfigured")
	}

	form := url.Values{}
	form.Set("chat_id", s.chatID)
	form.Set("text", telegramText(n))
	form.Set("parse_mode", "HTML")
	form.Set("disable_web_page_preview", "true")

	endpoint := fmt.Sprintf("%s/bot%s/sendMessage", s.apiBase, s.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("telegram error: %s", resp.Status)
	}
	return nil
}

// telegramText renders n for parse_mode HTML with every value escaped.
func telegramText(n types.Notification) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "🔔 <b>%s</b>\n\n", html.EscapeString(n.SubjectName))
	fmt.Fprintf(&sb, "<b>BSE Code:</b> <code>%s</code>\n", html.EscapeString(n.SubjectID))
	fmt.Fprintf(&sb, "<b>Sentiment:</b> %s\n\n", html.EscapeString(labelTag(n.Label)))
	fmt.Fprintf(&sb, "<b>Summary:</b>\n%s", html.EscapeString(n.Summary))
	if n.DocumentURI != "" {
		fmt.Fprintf(&sb, "\n\n<a href=\"%s\">📄 View PDF on BSE</a>", html.EscapeString(n.DocumentURI))
	}
	return sb.String()
}
