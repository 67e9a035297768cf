package ai

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/ternarybob/arbor"

	"github.com/shanehull/bsewatch/internal/metrics"
	"github.com/shanehull/bsewatch/internal/types"
)

const (
	MethodKeywords = "keywords"
	MethodNone     = "none"

	DefaultTimeout       = 20 * time.Second
	DefaultMaxInputChars = 4000
)

// Classifier never fails: every model problem degrades to keyword scoring.
type Classifier struct {
	model         Model
	timeout       time.Duration
	maxInputChars int
	logger        arbor.ILogger
	metrics       *metrics.Metrics
}

// NewClassifier accepts a nil model for keyword-only operation.
func NewClassifier(model Model, timeout time.Duration, maxInputChars int, logger arbor.ILogger, m *metrics.Metrics) *Classifier {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if maxInputChars <= 0 {
		maxInputChars = DefaultMaxInputChars
	}
	return &Classifier{
		model:         model,
		timeout:       timeout,
		maxInputChars: maxInputChars,
		logger:        logger,
		metrics:       m,
	}
}

func (c *Classifier) Classify(ctx context.Context, text, subjectName string) types.SentimentResult {
	if strings.TrimSpace(text) == "" {
		c.metrics.Classified(MethodNone, string(types.LabelNeutral))
		return types.SentimentResult{
			Label:   types.LabelNeutral,
			Summary: fmt.Sprintf("Unable to extract content from the announcement PDF for %s.", subjectName),
			Method:  MethodNone,
		}
	}

	label, method := c.label(ctx, text, subjectName)
	excerpts := Excerpts(text)
	c.metrics.Classified(method, string(label))

	return types.SentimentResult{
		Label:    label,
		Summary:  Summarize(label, subjectName, excerpts),
		Excerpts: excerpts,
		Method:   method,
	}
}

func (c *Classifier) label(ctx context.Context, text, subjectName string) (types.Label, string) {
	if c.model == nil {
		c.metrics.ClassifierFallback("unconfigured")
		return KeywordLabel(text), MethodKeywords
	}

	answer, err := c.ask(ctx, text, subjectName)
	if err != nil {
		c.metrics.ClassifierFallback("model_error")
		c.logger.Warn().
			Err(err).
			Str("model", c.model.Name()).
			Str("subject", subjectName).
			Msg("Classifier model failed, falling back to keyword scoring")
		return KeywordLabel(text), MethodKeywords
	}

	return ParseLabel(answer), c.model.Name()
}

func (c *Classifier) ask(ctx context.Context, text, subjectName string) (answer string, err error) {
	defer func() {
		if r := recover(); r != nil {
			answer = ""
			err = fmt.Errorf("%w: %s panicked: %v", ErrClassifierUnavailable, c.model.Name(), r)
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	return c.model.Classify(ctx, truncateRunes(text, c.maxInputChars), subjectName)
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
