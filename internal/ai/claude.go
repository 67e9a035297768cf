package ai

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

type ClaudeModel struct {
	client anthropic.Client
	model  string
}

func NewClaudeModel(apiKey, model string, opts ...option.RequestOption) (*ClaudeModel, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("anthropic API key is required")
	}

	opts = append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)
	return &ClaudeModel{client: anthropic.NewClient(opts...), model: model}, nil
}

func (m *ClaudeModel) Name() string { return "claude" }

func (m *ClaudeModel) Classify(ctx context.Context, text, subjectName string) (string, error) {
	resp, err := m.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(m.model),
		MaxTokens: 10,
		System:    []anthropic.TextBlockParam{{Text: systemInstruction}},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(userPrompt(text, subjectName))),
		},
	})
	if err != nil {
		return "", fmt.Errorf("%w: claude API call failed: %w", ErrClassifierUnavailable, err)
	}

	var sb strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	if sb.Len() == 0 {
		return "", fmt.Errorf("%w: empty claude response", ErrClassifierUnavailable)
	}
	return sb.String(), nil
}
