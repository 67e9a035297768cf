package bse

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
	"golang.org/x/time/rate"

	"github.com/shanehull/bsewatch/internal/types"
)

type SourceConfig struct {
	PageURL           string
	APIURL            string
	AttachmentBaseURL string
	UserAgent         string
	Timeout           time.Duration
	Location          *time.Location
}

// BSESource reads the AnnGetData endpoint behind the corporate filings page.
type BSESource struct {
	cfg     SourceConfig
	limiter *rate.Limiter
	logger  arbor.ILogger
}

func NewBSESource(cfg SourceConfig, limiter *rate.Limiter, logger arbor.ILogger) *BSESource {
	return &BSESource{cfg: cfg, limiter: limiter, logger: logger}
}

func (s *BSESource) Name() string { return string(types.SourceBSE) }

type annResponse struct {
	Table *[]annRecord `json:"Table"`
}

type annRecord struct {
	NewsSub        string      `json:"NEWSSUB"`
	Headline       string      `json:"HEADLINE"`
	ScripCode      json.Number `json:"SCRIP_CD"`
	AttachmentName string      `json:"ATTACHMENTNAME"`
	NewsDate       string      `json:"NEWS_DT"`
	DateTime       string      `json:"DT_TM"`
}

// Fetch visits the filings page to obtain session cookies, then calls the
// data API on the same session. The API rejects cookieless calls.
func (s *BSESource) Fetch(ctx context.Context, w Window, limit int) ([]types.DisclosureRecord, error) {
	sess, err := newSession(s.cfg.Timeout, s.limiter, s.cfg.UserAgent)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFetchFailed, err)
	}

	status, err := sess.visit(ctx, s.cfg.PageURL, func(req *http.Request) {
		sess.browserHeaders(req)
		req.Header.Set("Referer", "https://www.bseindia.com/")
		req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFetchFailed, err)
	}
	s.logger.Debug().Int("status", status).Str("url", s.cfg.PageURL).Msg("BSE session page visited")

	params := url.Values{}
	params.Set("strCat", "-1")
	params.Set("strPrevDate", w.FromParam())
	params.Set("strScrip", "")
	params.Set("strSearch", "P")
	params.Set("strToDate", w.ToParam())
	params.Set("strType", "C")

	body, err := sess.get(ctx, s.cfg.APIURL+"?"+params.Encode(), func(req *http.Request) {
		req.Header.Set("User-Agent", s.cfg.UserAgent)
		req.Header.Set("Accept", "application/json, text/plain, */*")
		req.Header.Set("Referer", s.cfg.PageURL)
		req.Header.Set("Origin", "https://www.bseindia.com")
		req.Header.Set("X-Requested-With", "XMLHttpRequest")
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFetchFailed, err)
	}

	var payload annResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("%w: malformed BSE payload: %w", ErrFetchFailed, err)
	}
	if payload.Table == nil {
		return nil, fmt.Errorf("%w: BSE payload has no Table", ErrFetchFailed)
	}

	rows := *payload.Table
	if len(rows) > limit {
		rows = rows[:limit]
	}

	records := make([]types.DisclosureRecord, 0, len(rows))
	for _, row := range rows {
		records = append(records, s.normalize(row))
	}
	return records, nil
}

func (s *BSESource) normalize(row annRecord) types.DisclosureRecord {
	subject := strings.TrimSpace(row.NewsSub)
	headline := strings.TrimSpace(row.Headline)
	if headline == "" {
		headline = subject
	}

	raw := row.NewsDate
	if raw == "" {
		raw = row.DateTime
	}

	rec := types.DisclosureRecord{
		SubjectID:    strings.TrimSpace(row.ScripCode.String()),
		SubjectName:  ParseSubjectName(subject),
		Headline:     headline,
		PublishedRaw: raw,
		Source:       types.SourceBSE,
	}
	if t, ok := ParseTimestamp(raw, s.cfg.Location); ok {
		rec.PublishedAt = t
	} else if raw != "" {
		s.logger.Warn().Str("timestamp", raw).Str("subject_id", rec.SubjectID).Msg("Failed to parse publication time, keeping raw value")
	}
	if name := strings.TrimSpace(row.AttachmentName); name != "" {
		rec.DocumentURI = strings.TrimRight(s.cfg.AttachmentBaseURL, "/") + "/" + url.PathEscape(name)
	}
	return rec
}
