package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/shanehull/bsewatch/internal/bse"
	"github.com/shanehull/bsewatch/internal/config"
	"github.com/shanehull/bsewatch/internal/doccache"
	"github.com/shanehull/bsewatch/internal/eligibility"
	"github.com/shanehull/bsewatch/internal/history"
	"github.com/shanehull/bsewatch/internal/types"
)

var ist = time.FixedZone("IST", 5*3600+1800)

type stubFetcher struct {
	mu      sync.Mutex
	records []types.DisclosureRecord
	err     error
	calls   int
	entered chan struct{}
	block   chan struct{}
}

func (f *stubFetcher) Fetch(_ context.Context, q bse.Query) (bse.Result, error) {
	if f.block != nil {
		f.entered <- struct{}{}
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return bse.Result{Query: q}, f.err
	}
	return bse.Result{Records: f.records, Query: q, Source: "bse"}, nil
}

type stubCache struct {
	mu     sync.Mutex
	failOn map[string]error
	gets   int
}

func (c *stubCache) GetOrFetch(_ context.Context, uri, subjectID, _ string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gets++
	if err := c.failOn[subjectID]; err != nil {
		return "", err
	}
	return "/cache/" + subjectID + ".pdf", nil
}

func (c *stubCache) Lookup(uri, subjectID string) (string, bool) {
	if uri == "" {
		return "", false
	}
	return "/cache/" + subjectID + ".pdf", true
}

type stubExtractor struct {
	err error
}

func (x stubExtractor) Extract(path string) (string, error) {
	if x.err != nil {
		return "", x.err
	}
	return "Strong growth in revenue. Record profit and dividend declared.", nil
}

type stubClassifier struct {
	mu    sync.Mutex
	texts []string
}

func (c *stubClassifier) Classify(_ context.Context, text, subjectName string) types.SentimentResult {
	c.mu.Lock()
	c.texts = append(c.texts, text)
	c.mu.Unlock()
	if text == "" {
		return types.SentimentResult{Label: types.LabelNeutral, Summary: "empty", Method: "none"}
	}
	return types.SentimentResult{Label: types.LabelPositive, Summary: subjectName + " did well", Method: "stub"}
}

type recordingDispatcher struct {
	mu   sync.Mutex
	sent []types.Notification
	err  error
}

func (d *recordingDispatcher) Dispatch(_ context.Context, n types.Notification) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sent = append(d.sent, n)
	return d.err
}

func (d *recordingDispatcher) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.sent)
}

func testIndex() *eligibility.Index {
	ix := eligibility.NewIndex([]eligibility.Stock{
		{NSESymbol: "RELIANCE", BSECode: "500325", CompanyName: "Reliance Industries Limited"},
		{NSESymbol: "TCS", BSECode: "532540", CompanyName: "Tata Consultancy Services Ltd"},
		{NSESymbol: "OBSCURE", BSECode: "599999", CompanyName: "Obscure Ltd"},
	})
	ix.SetMembership("NIFTY50", []string{"RELIANCE", "TCS"})
	return ix
}

func record(code, name string, minute int) types.DisclosureRecord {
	published := time.Date(2025, 3, 14, 10, minute, 0, 0, ist)
	return types.DisclosureRecord{
		SubjectID:    code,
		SubjectName:  name,
		Headline:     name + " - " + code + " - Outcome of board meeting",
		PublishedAt:  published,
		PublishedRaw: published.Format("2006-01-02T15:04:05"),
		DocumentURI:  "https://www.bseindia.com/xml-data/corpfiling/AttachLive/" + code + ".pdf",
		Source:       types.SourceBSE,
	}
}

type harness struct {
	engine     *Engine
	fetcher    *stubFetcher
	cache      *stubCache
	extractor  *stubExtractor
	classifier *stubClassifier
	dispatcher *recordingDispatcher
	seen       *history.Manager
}

func newHarness(t *testing.T, opts Options, records ...types.DisclosureRecord) *harness {
	t.Helper()
	logger := arbor.NewLogger()

	seen, err := history.NewManager(context.Background(), history.NewMemoryStore(), 31*24*time.Hour, logger)
	require.NoError(t, err)

	h := &harness{
		fetcher:    &stubFetcher{records: records},
		cache:      &stubCache{failOn: map[string]error{}},
		extractor:  &stubExtractor{},
		classifier: &stubClassifier{},
		dispatcher: &recordingDispatcher{},
		seen:       seen,
	}
	if opts.QualifyingCategories == nil {
		opts.QualifyingCategories = []string{"NIFTY50"}
	}
	h.engine = New(Deps{
		Fetcher:     h.fetcher,
		Seen:        seen,
		Eligibility: testIndex(),
		Cache:       h.cache,
		Extractor:   h.extractor,
		Classifier:  h.classifier,
		Dispatcher:  h.dispatcher,
	}, opts, logger, nil)
	return h
}

func TestRunOnce_TwoPassesNotifyOnce(t *testing.T) {
	h := newHarness(t, Options{}, record("500325", "Reliance Industries Limited", 1))
	ctx := context.Background()

	first, err := h.engine.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, first.Notified)
	assert.NotEmpty(t, first.RunID)

	second, err := h.engine.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, second.New)
	assert.Equal(t, 0, second.Notified)

	assert.Equal(t, 1, h.dispatcher.count())
	assert.Equal(t, 1, h.cache.gets)
}

func TestRunOnce_IneligibleMarkedSeenWithoutNotifying(t *testing.T) {
	eligible := record("500325", "Reliance Industries Limited", 1)
	// F&O listed but outside every qualifying index.
	outside := record("599999", "Obscure Ltd", 2)

	h := newHarness(t, Options{}, eligible, outside)
	rep, err := h.engine.RunOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, rep.New)
	assert.Equal(t, 1, rep.Eligible)
	assert.Equal(t, 1, rep.Notified)

	for _, rec := range []types.DisclosureRecord{eligible, outside} {
		seen, err := h.seen.Has(context.Background(), rec.Key())
		require.NoError(t, err)
		assert.True(t, seen, rec.SubjectID)
	}

	require.Equal(t, 1, h.dispatcher.count())
	n := h.dispatcher.sent[0]
	assert.Equal(t, "500325", n.SubjectID)
	assert.Equal(t, []string{"NIFTY50"}, n.Categories)
	assert.Equal(t, types.LabelPositive, n.Label)
}

func TestRunOnce_DuplicateInBatch(t *testing.T) {
	rec := record("532540", "Tata Consultancy Services Ltd", 5)
	h := newHarness(t, Options{}, rec, rec)

	rep, err := h.engine.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, rep.Fetched)
	assert.Equal(t, 1, rep.New)
	assert.Equal(t, 1, h.dispatcher.count())
}

func TestRunOnce_EnrichmentFailureRetriedNextPass(t *testing.T) {
	rec := record("500325", "Reliance Industries Limited", 1)
	h := newHarness(t, Options{}, rec)
	h.cache.failOn["500325"] = fmt.Errorf("%w: disk full", doccache.ErrCacheWriteFailed)

	rep, err := h.engine.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Failed)
	assert.Equal(t, 0, h.dispatcher.count())

	seen, err := h.seen.Has(context.Background(), rec.Key())
	require.NoError(t, err)
	assert.False(t, seen)

	delete(h.cache.failOn, "500325")
	rep, err = h.engine.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Notified)
	assert.Equal(t, 1, h.dispatcher.count())
}

func TestRunOnce_UnreadableDocumentNotifiedOnce(t *testing.T) {
	tests := []struct {
		name    string
		fetch   error
		extract error
	}{
		{name: "download rejected", fetch: fmt.Errorf("%w: received non-OK status code 404", doccache.ErrFetchFailed)},
		{name: "not a pdf", fetch: fmt.Errorf("%w: not a PDF", doccache.ErrFetchFailed)},
		{name: "extraction fails", extract: errors.New("malformed xref table")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := record("500325", "Reliance Industries Limited", 1)
			h := newHarness(t, Options{}, rec)
			if tt.fetch != nil {
				h.cache.failOn["500325"] = tt.fetch
			}
			h.extractor.err = tt.extract
			ctx := context.Background()

			for i := 0; i < 3; i++ {
				_, err := h.engine.RunOnce(ctx)
				require.NoError(t, err)
			}

			assert.Equal(t, 1, h.dispatcher.count())
			assert.Equal(t, 1, h.cache.gets)
			require.Len(t, h.classifier.texts, 1)
			assert.Empty(t, h.classifier.texts[0])

			seen, err := h.seen.Has(ctx, rec.Key())
			require.NoError(t, err)
			assert.True(t, seen)
		})
	}
}

func TestRunOnce_SinkFailureStillMarksSeen(t *testing.T) {
	rec := record("500325", "Reliance Industries Limited", 1)
	h := newHarness(t, Options{}, rec)
	h.dispatcher.err = errors.New("slack down")

	_, err := h.engine.RunOnce(context.Background())
	require.NoError(t, err)

	seen, err := h.seen.Has(context.Background(), rec.Key())
	require.NoError(t, err)
	assert.True(t, seen)
}

func TestRunOnce_NoDocumentClassifiesEmptyText(t *testing.T) {
	rec := record("500325", "Reliance Industries Limited", 1)
	rec.DocumentURI = ""
	h := newHarness(t, Options{}, rec)

	_, err := h.engine.RunOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 0, h.cache.gets)
	require.Equal(t, 1, h.dispatcher.count())
	assert.Equal(t, types.LabelNeutral, h.dispatcher.sent[0].Label)
	assert.Equal(t, []string{""}, h.classifier.texts)
}

func TestRunOnce_Synthetic(t *testing.T) {
	tests := []struct {
		name         string
		notify       bool
		wantNotified int
	}{
		{"suppressed by default", false, 0},
		{"notified when enabled", true, 2}, // only RELIANCE and TCS qualify in the test index
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, Options{NotifySynthetic: tt.notify})
			h.fetcher.err = bse.ErrFetchFailed

			rep, err := h.engine.RunOnce(context.Background())
			require.NoError(t, err)
			assert.True(t, rep.Synthetic)
			assert.Equal(t, string(types.SourceSynthetic), rep.Source)
			assert.Equal(t, 10, rep.Fetched)

			assert.Equal(t, tt.wantNotified, h.dispatcher.count())
			if tt.notify {
				// the sample set keeps its keys, so a second pass is silent
				_, err := h.engine.RunOnce(context.Background())
				require.NoError(t, err)
				assert.Equal(t, tt.wantNotified, h.dispatcher.count())
				return
			}
			n, err := h.seen.Len(context.Background())
			require.NoError(t, err)
			assert.Zero(t, n)
		})
	}
}

func TestRunOnce_RefusesOverlap(t *testing.T) {
	h := newHarness(t, Options{}, record("500325", "Reliance Industries Limited", 1))
	h.fetcher.entered = make(chan struct{})
	h.fetcher.block = make(chan struct{})

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = h.engine.RunOnce(context.Background())
	}()
	<-h.fetcher.entered

	_, err := h.engine.RunOnce(context.Background())
	assert.ErrorIs(t, err, ErrPassInProgress)

	close(h.fetcher.block)
	<-done
	assert.Equal(t, 1, h.dispatcher.count())
}

func TestRunOnce_NotifiesInFeedOrder(t *testing.T) {
	h := newHarness(t, Options{Concurrency: 8},
		record("532540", "Tata Consultancy Services Ltd", 9),
		record("500325", "Reliance Industries Limited", 3),
		record("532540", "Tata Consultancy Services Ltd", 1),
	)

	_, err := h.engine.RunOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, 3, h.dispatcher.count())

	var minutes []int
	for _, n := range h.dispatcher.sent {
		minutes = append(minutes, n.PublishedAt.Minute())
	}
	assert.Equal(t, []int{9, 3, 1}, minutes)
}

type stubMembership struct {
	calls int
	err   error
	apply func()
}

func (m *stubMembership) Refresh(context.Context) error {
	m.calls++
	if m.apply != nil {
		m.apply()
	}
	return m.err
}

func TestRunOnce_RefreshesMembershipEachPass(t *testing.T) {
	h := newHarness(t, Options{}, record("599999", "Obscure Ltd", 1))
	ix := testIndex()
	membership := &stubMembership{
		err: errors.New("NIFTY500 unavailable"),
		apply: func() {
			ix.SetMembership("NIFTY50", []string{"RELIANCE", "TCS", "OBSCURE"})
		},
	}
	e := New(Deps{
		Fetcher:     h.fetcher,
		Seen:        h.seen,
		Eligibility: ix,
		Membership:  membership,
		Cache:       h.cache,
		Extractor:   h.extractor,
		Classifier:  h.classifier,
		Dispatcher:  h.dispatcher,
	}, Options{QualifyingCategories: []string{"NIFTY50"}}, arbor.NewLogger(), nil)

	rep, err := e.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, membership.calls)
	assert.Equal(t, 1, rep.Notified)
	require.Len(t, h.dispatcher.sent, 1)
	assert.Equal(t, []string{"NIFTY50"}, h.dispatcher.sent[0].Categories)

	_, err = e.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, membership.calls)
}

func TestAnnouncements_List(t *testing.T) {
	h := newHarness(t, Options{},
		record("500325", "Reliance Industries Limited", 1),
		record("123456", "Not Listed Ltd", 2),
	)
	a := NewAnnouncements(Deps{
		Fetcher:     h.fetcher,
		Eligibility: testIndex(),
		Cache:       h.cache,
		Extractor:   stubExtractor{},
		Classifier:  h.classifier,
	}, nil, arbor.NewLogger())

	got := a.List(context.Background(), bse.Query{DaysBack: 0, MaxResults: 1000})
	assert.Equal(t, bse.Query{DaysBack: 1, MaxResults: 500}, got.Query)
	assert.Equal(t, "bse", got.Source)
	require.Len(t, got.Records, 1)
	assert.Equal(t, "/cache/500325.pdf", got.Records[0].LocalDocumentPath)
	assert.Equal(t, []string{"NIFTY50"}, got.Records[0].Categories)

	h.fetcher.err = bse.ErrFetchFailed
	got = a.List(context.Background(), bse.Query{DaysBack: 1, MaxResults: 50})
	assert.Equal(t, string(types.SourceSynthetic), got.Source)
	// RELIANCE and TCS are the sample subjects the test index knows.
	assert.Len(t, got.Records, 2)
}

func TestAnnouncements_Summarize(t *testing.T) {
	h := newHarness(t, Options{})
	a := NewAnnouncements(Deps{
		Fetcher:     h.fetcher,
		Eligibility: testIndex(),
		Cache:       h.cache,
		Extractor:   stubExtractor{},
		Classifier:  h.classifier,
	}, nil, arbor.NewLogger())

	res := a.Summarize(context.Background(), "https://example.com/a.pdf", "Reliance Industries Limited", "500325")
	assert.Equal(t, types.LabelPositive, res.Label)

	h.cache.failOn["500180"] = errors.New("404")
	res = a.Summarize(context.Background(), "https://example.com/b.pdf", "HDFC Bank Limited", "500180")
	assert.Equal(t, types.LabelNeutral, res.Label)
}

func TestCadence(t *testing.T) {
	cad, err := NewCadence(config.ScheduleConfig{
		ActiveStart:    "09:00",
		ActiveEnd:      "16:00",
		ActiveDays:     []string{"Mon", "Tue", "Wed", "Thu", "Fri"},
		ActiveInterval: config.Duration{Duration: 2 * time.Minute},
		IdleInterval:   config.Duration{Duration: 15 * time.Minute},
	}, ist)
	require.NoError(t, err)

	tests := []struct {
		name     string
		at       time.Time
		want     time.Duration
		wantNext time.Time
	}{
		{"friday mid session", time.Date(2025, 3, 14, 11, 0, 0, 0, ist), 2 * time.Minute, time.Date(2025, 3, 14, 11, 2, 0, 0, ist)},
		{"window opens", time.Date(2025, 3, 14, 9, 0, 0, 0, ist), 2 * time.Minute, time.Date(2025, 3, 14, 9, 2, 0, 0, ist)},
		{"window closes", time.Date(2025, 3, 14, 16, 0, 0, 0, ist), 15 * time.Minute, time.Date(2025, 3, 14, 16, 15, 0, 0, ist)},
		{"before open", time.Date(2025, 3, 14, 8, 59, 0, 0, ist), 15 * time.Minute, time.Date(2025, 3, 14, 9, 0, 0, 0, ist)},
		{"idle tick lands on open", time.Date(2025, 3, 14, 8, 50, 0, 0, ist), 15 * time.Minute, time.Date(2025, 3, 14, 9, 0, 0, 0, ist)},
		{"early morning", time.Date(2025, 3, 14, 6, 0, 0, 0, ist), 15 * time.Minute, time.Date(2025, 3, 14, 6, 15, 0, 0, ist)},
		{"monday before open", time.Date(2025, 3, 17, 8, 55, 0, 0, ist), 15 * time.Minute, time.Date(2025, 3, 17, 9, 0, 0, 0, ist)},
		{"saturday", time.Date(2025, 3, 15, 11, 0, 0, 0, ist), 15 * time.Minute, time.Date(2025, 3, 15, 11, 15, 0, 0, ist)},
		{"utc instant inside ist window", time.Date(2025, 3, 14, 5, 0, 0, 0, time.UTC), 2 * time.Minute, time.Date(2025, 3, 14, 5, 2, 0, 0, time.UTC)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, cad.Interval(tt.at))
			assert.True(t, tt.wantNext.Equal(cad.Next(tt.at)), "next poll %s", cad.Next(tt.at))
		})
	}
}

func TestNewCadence_Invalid(t *testing.T) {
	base := config.ScheduleConfig{
		ActiveStart:    "09:00",
		ActiveEnd:      "16:00",
		ActiveInterval: config.Duration{Duration: time.Minute},
		IdleInterval:   config.Duration{Duration: time.Minute},
	}

	tests := []struct {
		name   string
		mutate func(*config.ScheduleConfig)
	}{
		{"bad start", func(c *config.ScheduleConfig) { c.ActiveStart = "9am" }},
		{"end before start", func(c *config.ScheduleConfig) { c.ActiveEnd = "08:00" }},
		{"unknown day", func(c *config.ScheduleConfig) { c.ActiveDays = []string{"Funday"} }},
		{"zero interval", func(c *config.ScheduleConfig) { c.IdleInterval = config.Duration{} }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base
			tt.mutate(&cfg)
			_, err := NewCadence(cfg, ist)
			assert.Error(t, err)
		})
	}
}

func TestSyntheticRecords(t *testing.T) {
	now := time.Date(2025, 3, 14, 10, 30, 45, 0, ist)
	recs := SyntheticRecords(now)

	require.Len(t, recs, 10)
	keys := map[string]bool{}
	for _, r := range recs {
		assert.Equal(t, types.SourceSynthetic, r.Source)
		assert.True(t, time.Date(2025, 3, 14, 9, 15, 0, 0, ist).Equal(r.PublishedAt))
		assert.NotEmpty(t, r.DocumentURI)
		keys[r.Key()] = true
	}
	assert.Len(t, keys, 10)

	// later the same exchange day, including a UTC clock, the keys repeat
	for _, later := range []time.Time{now.Add(3 * time.Hour), time.Date(2025, 3, 14, 18, 0, 0, 0, time.UTC)} {
		for _, r := range SyntheticRecords(later) {
			assert.True(t, keys[r.Key()], "key %s changed", r.Key())
		}
	}

	next := SyntheticRecords(now.Add(24 * time.Hour))
	assert.False(t, keys[next[0].Key()])
}
