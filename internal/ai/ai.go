/*
Package ai labels announcement text as positive, negative or neutral.

A configured language model (Gemini or Claude) answers first; local keyword
scoring takes over whenever no model is configured or the model call fails.
The summary is always built locally from the label and the supporting
sentences, so it never depends on model output.
*/
package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ternarybob/arbor"

	"github.com/shanehull/bsewatch/internal/config"
	"github.com/shanehull/bsewatch/internal/types"
)

// ErrClassifierUnavailable marks a failed or empty model call.
var ErrClassifierUnavailable = errors.New("classifier unavailable")

const systemInstruction = "You classify stock exchange announcements. " +
	"Answer with exactly one word: positive, negative or neutral."

// Model is an external classifier. Classify returns the model's raw answer.
type Model interface {
	Name() string
	Classify(ctx context.Context, text, subjectName string) (string, error)
}

func userPrompt(text, subjectName string) string {
	return fmt.Sprintf("Company: %s\n\n%s", subjectName, text)
}

// ParseLabel maps a free-form model answer onto a label. "positive" wins
// when both words appear.
func ParseLabel(answer string) types.Label {
	a := strings.ToLower(answer)
	switch {
	case strings.Contains(a, string(types.LabelPositive)):
		return types.LabelPositive
	case strings.Contains(a, string(types.LabelNegative)):
		return types.LabelNegative
	default:
		return types.LabelNeutral
	}
}

// NewModel picks the model named by cfg.Provider. An empty provider selects
// Gemini when its key is set, then Claude. A nil model means keywords only.
func NewModel(ctx context.Context, cfg config.ClassifierConfig, logger arbor.ILogger) (Model, error) {
	provider := cfg.Provider
	if provider == "" {
		switch {
		case cfg.GeminiAPIKey != "":
			provider = "gemini"
		case cfg.AnthropicAPIKey != "":
			provider = "claude"
		default:
			provider = "none"
		}
	}

	switch provider {
	case "gemini":
		m, err := NewGeminiModel(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
		if err != nil {
			return nil, err
		}
		return m, nil
	case "claude":
		m, err := NewClaudeModel(cfg.AnthropicAPIKey, cfg.ClaudeModel)
		if err != nil {
			return nil, err
		}
		return m, nil
	default:
		logger.Info().Msg("No classifier model configured, using keyword scoring")
		return nil, nil
	}
}
