package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	gomail "gopkg.in/mail.v2"

	"github.com/shanehull/bsewatch/internal/config"
	"github.com/shanehull/bsewatch/internal/metrics"
	"github.com/shanehull/bsewatch/internal/types"
)

func sampleNotification() types.Notification {
	return types.Notification{
		SubjectName: "Reliance Industries Limited",
		SubjectID:   "500325",
		Headline:    "Reliance Industries Limited - 500325 - Outcome of Board Meeting",
		Label:       types.LabelPositive,
		Summary:     "📈 POSITIVE NEWS\nCompany: Reliance Industries Limited\nRevenue growth was strong across segments this quarter",
		DocumentURI: "https://www.bseindia.com/xml-data/corpfiling/AttachLive/abc.pdf",
		PublishedAt: time.Date(2025, 3, 14, 15, 4, 0, 0, time.FixedZone("IST", 5*3600+1800)),
		Categories:  []string{"NIFTY50", "NIFTY500"},
		Source:      types.SourceBSE,
	}
}

type fakeSink struct {
	name   string
	err    error
	panics bool
	got    []types.Notification
}

func (f *fakeSink) Name() string { return f.name }

func (f *fakeSink) Send(_ context.Context, n types.Notification) error {
	if f.panics {
		panic("sink exploded")
	}
	f.got = append(f.got, n)
	return f.err
}

func TestDispatcher(t *testing.T) {
	ok := &fakeSink{name: "ok"}
	failing := &fakeSink{name: "failing", err: errors.New("rate limited")}
	panicking := &fakeSink{name: "panicking", panics: true}

	m := metrics.New()
	d := NewDispatcher(time.Second, arbor.NewLogger(), m, ok, failing, panicking)
	assert.Equal(t, []string{"ok", "failing", "panicking"}, d.Sinks())

	var err error
	assert.NotPanics(t, func() {
		err = d.Dispatch(context.Background(), sampleNotification())
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSinkDeliveryFailed)
	assert.Contains(t, err.Error(), "failing")
	assert.Contains(t, err.Error(), "panicking")
	assert.Len(t, ok.got, 1)
	assert.Len(t, failing.got, 1)
}

func TestDispatcher_NoSinks(t *testing.T) {
	d := NewDispatcher(time.Second, arbor.NewLogger(), nil)
	assert.NoError(t, d.Dispatch(context.Background(), sampleNotification()))
}

func TestBuildSinks(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.NotifyConfig
		hub  bool
		want []string
	}{
		{"nothing configured", config.NotifyConfig{}, false, []string{}},
		{"console only", config.NotifyConfig{Console: true}, false, []string{"console"}},
		{"websocket without hub", config.NotifyConfig{WebSocket: true}, false, []string{}},
		{"websocket with hub", config.NotifyConfig{WebSocket: true}, true, []string{"websocket"}},
		{
			"chat sinks",
			config.NotifyConfig{
				Slack:    config.SlackConfig{Token: "xoxb", Channel: "#c"},
				Telegram: config.TelegramConfig{Token: "t", ChatID: "1"},
			},
			false,
			[]string{"slack", "telegram"},
		},
		{"slack without channel", config.NotifyConfig{Slack: config.SlackConfig{Token: "xoxb"}}, false, []string{}},
		{
			"email",
			config.NotifyConfig{Email: config.EmailConfig{SMTPServer: "smtp", SMTPPort: 587, SMTPUser: "u", SMTPPass: "p", ToEmail: "to@example.com"}},
			false,
			[]string{"email"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var hub *Hub
			if tt.hub {
				hub = NewHub(arbor.NewLogger())
			}
			sinks := BuildSinks(tt.cfg, hub, &bytes.Buffer{}, arbor.NewLogger())
			names := []string{}
			for _, s := range sinks {
				names = append(names, s.Name())
			}
			assert.Equal(t, tt.want, names)
		})
	}
}

func TestSlackSink(t *testing.T) {
	var form map[string][]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat.postMessage", r.URL.Path)
		require.NoError(t, r.ParseForm())
		form = r.PostForm
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true,"channel":"C123","ts":"1700000000.000100"}`))
	}))
	defer srv.Close()

	s := NewSlackSink(config.SlackConfig{Token: "xoxb-test", Channel: "#bse-announcements", APIURL: srv.URL + "/"})
	require.NoError(t, s.Send(context.Background(), sampleNotification()))

	assert.Equal(t, []string{"#bse-announcements"}, form["channel"])
	assert.Equal(t, []string{"Reliance Industries Limited - 📈 POSITIVE"}, form["text"])

	var blocks []map[string]any
	require.NoError(t, json.Unmarshal([]byte(form["blocks"][0]), &blocks))
	require.Len(t, blocks, 2)
	assert.Equal(t, "section", blocks[0]["type"])
	assert.Equal(t, "divider", blocks[1]["type"])
}

func TestSlackSink_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":false,"error":"channel_not_found"}`))
	}))
	defer srv.Close()

	s := NewSlackSink(config.SlackConfig{Token: "xoxb-test", Channel: "#nope", APIURL: srv.URL + "/"})
	err := s.Send(context.Background(), sampleNotification())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "channel_not_found")
}

func TestSlackText(t *testing.T) {
	n := sampleNotification()
	assert.Equal(t,
		"*🏛️ Reliance Industries Limited*\n*BSE:* `500325` | *Sentiment:* 📈 POSITIVE\n"+
			"*📅 Published:* Mar 14, 2025 03:04 PM\n"+
			"<https://www.bseindia.com/xml-data/corpfiling/AttachLive/abc.pdf|📄 View PDF>",
		slackText(n))

	n.PublishedAt = time.Time{}
	n.DocumentURI = ""
	assert.Equal(t, "*🏛️ Reliance Industries Limited*\n*BSE:* `500325` | *Sentiment:* 📈 POSITIVE", slackText(n))
}

func TestTelegramSink(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		wantErr bool
	}{
		{"delivered", http.StatusOK, false},
		{"rejected", http.StatusBadRequest, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var text, mode string
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/botTOKEN/sendMessage", r.URL.Path)
				require.NoError(t, r.ParseForm())
				text = r.PostForm.Get("text")
				mode = r.PostForm.Get("parse_mode")
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			s := NewTelegramSink(config.TelegramConfig{Token: "TOKEN", ChatID: "42", APIBase: srv.URL}, time.Second)
			err := s.Send(context.Background(), sampleNotification())
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "HTML", mode)
			assert.True(t, strings.HasPrefix(text, "🔔 <b>Reliance Industries Limited</b>"))
			assert.Contains(t, text, "<b>BSE Code:</b> <code>500325</code>")
			assert.Contains(t, text, `<a href="https://www.bseindia.com/xml-data/corpfiling/AttachLive/abc.pdf">📄 View PDF on BSE</a>`)
		})
	}
}

func TestTelegramTextEscapesMarkup(t *testing.T) {
	n := sampleNotification()
	n.SubjectName = "Larsen & Toubro <L&T> *_[Ltd"
	n.Summary = "EPS_growth of 5* [unaudited] <b>"

	text := telegramText(n)

	assert.Contains(t, text, "<b>Larsen &amp; Toubro &lt;L&amp;T&gt; *_[Ltd</b>")
	assert.Contains(t, text, "EPS_growth of 5* [unaudited] &lt;b&gt;")
	assert.NotContains(t, text, "<L&T>")
}

func TestConsoleSink(t *testing.T) {
	var buf bytes.Buffer
	s := NewConsoleSink(&buf)

	require.NoError(t, s.Send(context.Background(), sampleNotification()))
	require.NoError(t, s.Send(context.Background(), sampleNotification()))

	out := buf.String()
	assert.Contains(t, out, "--- ANNOUNCEMENT #1 ---")
	assert.Contains(t, out, "--- ANNOUNCEMENT #2 ---")
	assert.Contains(t, out, "Company:   Reliance Industries Limited (500325)")
	assert.Contains(t, out, "Indices:   NIFTY50, NIFTY500")
	assert.Contains(t, out, "\tRevenue growth was strong")
}

type fakeDialer struct {
	sent []*gomail.Message
	err  error
}

func (f *fakeDialer) DialAndSend(m ...*gomail.Message) error {
	f.sent = append(f.sent, m...)
	return f.err
}

func TestEmailSink(t *testing.T) {
	dialer := &fakeDialer{}
	sender := NewEmailSender(config.EmailConfig{SMTPUser: "bot@example.com", ToEmail: "desk@example.com"})
	sender.dialer = dialer

	sink := NewEmailSink(sender, NewHTMLEmailRenderer())
	require.NoError(t, sink.Send(context.Background(), sampleNotification()))

	require.Len(t, dialer.sent, 1)
	msg := dialer.sent[0]
	assert.Equal(t, []string{"BSE Alert: Reliance Industries Limited (500325) - POSITIVE"}, msg.GetHeader("Subject"))
	assert.Equal(t, []string{"bot@example.com"}, msg.GetHeader("From"))

	dialer.err = errors.New("535 auth failed")
	assert.Error(t, sink.Send(context.Background(), sampleNotification()))
}

func TestHTMLEmailRenderer(t *testing.T) {
	msg, err := NewHTMLEmailRenderer().Render(sampleNotification())
	require.NoError(t, err)

	assert.Contains(t, msg.HTML, "Reliance Industries Limited")
	assert.Contains(t, msg.HTML, "badge-positive")
	assert.Contains(t, msg.HTML, "<li>Revenue growth was strong across segments this quarter</li>")
	assert.NotContains(t, msg.HTML, "POSITIVE NEWS")

	assert.Contains(t, msg.Text, "Sentiment: 📈 POSITIVE")
	assert.Contains(t, msg.Text, "• Revenue growth was strong across segments this quarter")
	assert.Contains(t, msg.Text, "Indices: NIFTY50, NIFTY500")
}

func TestHub_Broadcast(t *testing.T) {
	hub := NewHub(arbor.NewLogger())
	srv := httptest.NewServer(hub)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return hub.Clients() == 1 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, hub.Send(context.Background(), sampleNotification()))

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ev Event
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, "announcement", ev.Type)
	assert.Equal(t, "500325", ev.BSECode)
	assert.Equal(t, "positive", ev.Sentiment)

	conn.Close()
	require.Eventually(t, func() bool { return hub.Clients() == 0 }, 2*time.Second, 10*time.Millisecond)
}
