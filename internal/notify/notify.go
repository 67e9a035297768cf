/*
Package notify delivers classified disclosures to chat, mail, console and
websocket sinks.

A Dispatcher fans each notification out to every configured sink. Sink
failures are logged and counted; they are never retried and never abort the
engine pass.
*/
package notify

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/shanehull/bsewatch/internal/config"
	"github.com/shanehull/bsewatch/internal/metrics"
	"github.com/shanehull/bsewatch/internal/types"
)

// ErrSinkDeliveryFailed wraps every sink error returned by Dispatch.
var ErrSinkDeliveryFailed = errors.New("sink delivery failed")

type Sink interface {
	Name() string
	Send(ctx context.Context, n types.Notification) error
}

type Dispatcher struct {
	sinks   []Sink
	timeout time.Duration
	logger  arbor.ILogger
	metrics *metrics.Metrics
}

func NewDispatcher(timeout time.Duration, logger arbor.ILogger, m *metrics.Metrics, sinks ...Sink) *Dispatcher {
	return &Dispatcher{sinks: sinks, timeout: timeout, logger: logger, metrics: m}
}

// Sinks lists the configured sink names.
func (d *Dispatcher) Sinks() []string {
	names := make([]string, 0, len(d.sinks))
	for _, s := range d.sinks {
		names = append(names, s.Name())
	}
	return names
}

// Dispatch sends n to every sink concurrently and joins the failures.
func (d *Dispatcher) Dispatch(ctx context.Context, n types.Notification) error {
	errs := make([]error, len(d.sinks))

	var wg sync.WaitGroup
	for i, s := range d.sinks {
		wg.Add(1)
		go func(i int, s Sink) {
			defer wg.Done()
			errs[i] = d.deliver(ctx, s, n)
		}(i, s)
	}
	wg.Wait()

	return errors.Join(errs...)
}

func (d *Dispatcher) deliver(ctx context.Context, s Sink, n types.Notification) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %s panicked: %v", ErrSinkDeliveryFailed, s.Name(), r)
		}
		d.metrics.Delivered(s.Name(), err)
		if err != nil {
			d.logger.Warn().Err(err).Str("sink", s.Name()).Str("subject_id", n.SubjectID).Msg("Notification not delivered")
		}
	}()

	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	if err := s.Send(ctx, n); err != nil {
		if errors.Is(err, ErrSinkDeliveryFailed) {
			return err
		}
		return fmt.Errorf("%w: %s: %w", ErrSinkDeliveryFailed, s.Name(), err)
	}
	return nil
}

// BuildSinks returns the sinks enabled by cfg. hub may be nil when no
// websocket endpoint is served.
func BuildSinks(cfg config.NotifyConfig, hub *Hub, out io.Writer, logger arbor.ILogger) []Sink {
	var sinks []Sink

	if cfg.Console && out != nil {
		sinks = append(sinks, NewConsoleSink(out))
	}
	if cfg.WebSocket && hub != nil {
		sinks = append(sinks, hub)
	}
	if cfg.Slack.Token != "" && cfg.Slack.Channel != "" {
		sinks = append(sinks, NewSlackSink(cfg.Slack))
	} else {
		logger.Debug().Msg("Slack not configured (SLACK_BOT_TOKEN not set)")
	}
	if cfg.Telegram.Token != "" && cfg.Telegram.ChatID != "" {
		sinks = append(sinks, NewTelegramSink(cfg.Telegram, cfg.Timeout.Duration))
	} else {
		logger.Debug().Msg("Telegram not configured (TELEGRAM_BOT_TOKEN or TELEGRAM_CHAT_ID not set)")
	}
	if cfg.Email.Enabled() {
		sinks = append(sinks, NewEmailSink(NewEmailSender(cfg.Email), NewHTMLEmailRenderer()))
	}

	names := make([]string, 0, len(sinks))
	for _, s := range sinks {
		names = append(names, s.Name())
	}
	logger.Info().Strs("sinks", names).Msg("Notification sinks configured")
	return sinks
}

// labelTag renders a label the way chat sinks show it, e.g. "📈 POSITIVE".
func labelTag(l types.Label) string {
	return l.Emoji() + " " + strings.ToUpper(string(l))
}

func publishedText(n types.Notification) string {
	if n.PublishedAt.IsZero() {
		return ""
	}
	return n.PublishedAt.Format(types.DisplayTimeLayout)
}
