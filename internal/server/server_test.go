package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/shanehull/bsewatch/internal/bse"
	"github.com/shanehull/bsewatch/internal/config"
	"github.com/shanehull/bsewatch/internal/doccache"
	"github.com/shanehull/bsewatch/internal/engine"
	"github.com/shanehull/bsewatch/internal/metrics"
	"github.com/shanehull/bsewatch/internal/types"
)

type stubAnnouncements struct {
	records   []types.DisclosureRecord
	lastQuery bse.Query
	summaries []string
}

func (s *stubAnnouncements) List(_ context.Context, q bse.Query) engine.Listing {
	q = bse.ClampQuery(q)
	s.lastQuery = q
	return engine.Listing{Records: append([]types.DisclosureRecord(nil), s.records...), Query: q, Source: "bse"}
}

func (s *stubAnnouncements) Summarize(_ context.Context, uri, name, code string) types.SentimentResult {
	s.summaries = append(s.summaries, uri+"|"+name+"|"+code)
	return types.SentimentResult{Label: types.LabelPositive, Summary: "📈 POSITIVE\nCompany: " + name, Method: "keywords"}
}

type fixture struct {
	srv   *httptest.Server
	ann   *stubAnnouncements
	cache *doccache.Cache
	pdf   string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	root := t.TempDir()
	cache := doccache.New(doccache.Config{Root: root, Timeout: time.Second, Location: time.UTC}, arbor.NewLogger(), nil)

	dir := filepath.Join(root, "20250314")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	pdf := filepath.Join(dir, "500325_Reliance_Industries_Limited_20250314_103000_abcd1234.pdf")
	require.NoError(t, os.WriteFile(pdf, []byte("%PDF-1.4 fixture"), 0o644))

	ann := &stubAnnouncements{records: []types.DisclosureRecord{{
		SubjectID:         "500325",
		SubjectName:       "Reliance Industries Limited",
		Headline:          "Reliance Industries Limited - 500325 - Outcome of board meeting",
		PublishedRaw:      "2025-03-14T10:30:00",
		DocumentURI:       "https://www.bseindia.com/xml-data/corpfiling/AttachLive/x.pdf",
		Categories:        []string{"NIFTY50"},
		LocalDocumentPath: pdf,
		Source:            types.SourceBSE,
	}}}

	m := metrics.New()
	s := New(config.ServerConfig{Port: 5000}, ann, cache, nil, m.Handler(), arbor.NewLogger())
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)

	return &fixture{srv: srv, ann: ann, cache: cache, pdf: pdf}
}

func TestAnnouncements(t *testing.T) {
	tests := []struct {
		name       string
		query      string
		wantDays   int
		wantMaxRes int
	}{
		{"defaults", "", 1, 200},
		{"clamped high", "?days_back=1000&max_results=9999", 30, 500},
		{"clamped low", "?days_back=0&max_results=1", 1, 10},
		{"junk falls back", "?days_back=abc", 1, 200},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			resp, err := http.Get(f.srv.URL + "/api/announcements" + tt.query)
			require.NoError(t, err)
			defer resp.Body.Close()

			require.Equal(t, http.StatusOK, resp.StatusCode)
			assert.Contains(t, resp.Header.Get("Content-Type"), "application/json")

			var body struct {
				Success    bool                     `json:"success"`
				Data       []types.DisclosureRecord `json:"data"`
				Count      int                      `json:"count"`
				DaysBack   int                      `json:"days_back"`
				MaxResults int                      `json:"max_results"`
				Source     string                   `json:"source"`
			}
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))

			assert.True(t, body.Success)
			assert.Equal(t, 1, body.Count)
			assert.Equal(t, tt.wantDays, body.DaysBack)
			assert.Equal(t, tt.wantMaxRes, body.MaxResults)
			assert.Equal(t, "bse", body.Source)
			require.Len(t, body.Data, 1)
			assert.Equal(t, "20250314/500325_Reliance_Industries_Limited_20250314_103000_abcd1234.pdf", body.Data[0].LocalDocumentPath)
		})
	}
}

func TestSummarize(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		wantStatus int
		wantCall   string
	}{
		{
			name:       "ok",
			body:       `{"pdf_link":"https://x/a.pdf","company_name":"Reliance Industries Limited","bse_code":"500325"}`,
			wantStatus: http.StatusOK,
			wantCall:   "https://x/a.pdf|Reliance Industries Limited|500325",
		},
		{
			name:       "code defaults to unknown",
			body:       `{"pdf_link":"https://x/a.pdf","company_name":"Reliance Industries Limited"}`,
			wantStatus: http.StatusOK,
			wantCall:   "https://x/a.pdf|Reliance Industries Limited|UNKNOWN",
		},
		{"missing link", `{"company_name":"Reliance"}`, http.StatusBadRequest, ""},
		{"missing name", `{"pdf_link":"https://x/a.pdf","company_name":"  "}`, http.StatusBadRequest, ""},
		{"not json", `pdf_link=x`, http.StatusBadRequest, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			resp, err := http.Post(f.srv.URL+"/api/summarize", "application/json", strings.NewReader(tt.body))
			require.NoError(t, err)
			defer resp.Body.Close()

			assert.Equal(t, tt.wantStatus, resp.StatusCode)

			var body map[string]any
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))

			if tt.wantStatus != http.StatusOK {
				assert.Equal(t, false, body["success"])
				assert.NotEmpty(t, body["error"])
				assert.Empty(t, f.ann.summaries)
				return
			}
			assert.Equal(t, true, body["success"])
			assert.Equal(t, "positive", body["sentiment"])
			assert.Equal(t, []string{tt.wantCall}, f.ann.summaries)
		})
	}
}

func TestPDF(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name       string
		path       string
		wantStatus int
	}{
		{"cached file", "/pdf/20250314/500325_Reliance_Industries_Limited_20250314_103000_abcd1234.pdf", http.StatusOK},
		{"missing", "/pdf/20250314/nope.pdf", http.StatusNotFound},
		{"traversal", "/pdf/..%2f..%2fetc%2fpasswd", http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := http.Get(f.srv.URL + tt.path)
			require.NoError(t, err)
			defer resp.Body.Close()

			assert.Equal(t, tt.wantStatus, resp.StatusCode)
			if tt.wantStatus == http.StatusOK {
				assert.Equal(t, "application/pdf", resp.Header.Get("Content-Type"))
			}
		})
	}
}

func TestHealthAndMetrics(t *testing.T) {
	f := newFixture(t)

	resp, err := http.Get(f.srv.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(f.srv.URL + "/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(f.srv.URL + "/ws")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode, "feed is not mounted without a hub")
}
