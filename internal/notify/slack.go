package notify

import (
	"context"
	"fmt"

	"github.com/slack-go/slack"

	"github.com/shanehull/bsewatch/internal/config"
	"github.com/shanehull/bsewatch/internal/types"
)

type SlackSink struct {
	client  *slack.Client
	channel string
}

func NewSlackSink(cfg config.SlackConfig) *SlackSink {
	var opts []slack.Option
	if cfg.APIURL != "" {
		opts = append(opts, slack.OptionAPIURL(cfg.APIURL))
	}
	return &SlackSink{client: slack.New(cfg.Token, opts...), channel: cfg.Channel}
}

func (s *SlackSink) Name() string { return "slack" }

func (s *SlackSink) Send(ctx context.Context, n types.Notification) error {
	text := slack.NewTextBlockObject(slack.MarkdownType, slackText(n), false, false)
	blocks := []slack.Block{
		slack.NewSectionBlock(text, nil, nil),
		slack.NewDividerBlock(),
	}

	_, _, err := s.client.PostMessageContext(ctx, s.channel,
		slack.MsgOptionBlocks(blocks...),
		slack.MsgOptionText(fmt.Sprintf("%s - %s", n.SubjectName, labelTag(n.Label)), false),
	)
	if err != nil {
		return fmt.Errorf("failed to post to %s: %w", s.channel, err)
	}
	return nil
}

func slackText(n types.Notification) string {
	text := fmt.Sprintf("*🏛️ %s*\n*BSE:* `%s` | *Sentiment:* %s", n.SubjectName, n.SubjectID, labelTag(n.Label))
	if published := publishedText(n); published != "" {
		text += "\n*📅 Published:* " + published
	}
	if n.DocumentURI != "" {
		text += fmt.Sprintf("\n<%s|📄 View PDF>", n.DocumentURI)
	}
	return text
}
