package bse

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/ternarybob/arbor"
	"golang.org/x/time/rate"

	"github.com/shanehull/bsewatch/internal/types"
)

// NSESource reads the NSE corporate announcements API. Its records carry
// NSE symbols as subject ids.
type NSESource struct {
	cfg     SourceConfig
	limiter *rate.Limiter
	logger  arbor.ILogger
}

func NewNSESource(cfg SourceConfig, limiter *rate.Limiter, logger arbor.ILogger) *NSESource {
	return &NSESource{cfg: cfg, limiter: limiter, logger: logger}
}

func (s *NSESource) Name() string { return string(types.SourceNSE) }

type nseRecord struct {
	Symbol         string `json:"symbol"`
	SmName         string `json:"sm_name"`
	CompanyName    string `json:"companyName"`
	Desc           string `json:"desc"`
	AttachmentText string `json:"attchmntText"`
	AttachmentFile string `json:"attchmntFile"`
	Attachment     string `json:"attachment"`
	AnnouncedAt    string `json:"an_dt"`
	SortDate       string `json:"sort_date"`
}

// Fetch visits the NSE home page for cookies, then calls the announcements API.
// The payload is either a bare array or an object with a data array.
func (s *NSESource) Fetch(ctx context.Context, _ Window, limit int) ([]types.DisclosureRecord, error) {
	sess, err := newSession(s.cfg.Timeout, s.limiter, s.cfg.UserAgent)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFetchFailed, err)
	}

	decorate := func(req *http.Request) {
		sess.browserHeaders(req)
		req.Header.Set("Accept", "application/json")
	}

	status, err := sess.visit(ctx, s.cfg.PageURL, decorate)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFetchFailed, err)
	}
	s.logger.Debug().Int("status", status).Str("url", s.cfg.PageURL).Msg("NSE session page visited")

	body, err := sess.get(ctx, s.cfg.APIURL, decorate)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFetchFailed, err)
	}

	rows, err := decodeNSEPayload(body)
	if err != nil {
		return nil, fmt.Errorf("%w: malformed NSE payload: %w", ErrFetchFailed, err)
	}
	if len(rows) > limit {
		rows = rows[:limit]
	}

	records := make([]types.DisclosureRecord, 0, len(rows))
	for _, row := range rows {
		if strings.TrimSpace(row.Symbol) == "" {
			continue
		}
		records = append(records, s.normalize(row))
	}
	return records, nil
}

func decodeNSEPayload(body []byte) ([]nseRecord, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, errors.New("empty body")
	}

	if trimmed[0] == '[' {
		var rows []nseRecord
		if err := json.Unmarshal(trimmed, &rows); err != nil {
			return nil, err
		}
		return rows, nil
	}

	var wrapped struct {
		Data *[]nseRecord `json:"data"`
	}
	if err := json.Unmarshal(trimmed, &wrapped); err != nil {
		return nil, err
	}
	if wrapped.Data == nil {
		return nil, errors.New("no data array")
	}
	return *wrapped.Data, nil
}

func (s *NSESource) normalize(row nseRecord) types.DisclosureRecord {
	name := strings.TrimSpace(row.SmName)
	if name == "" {
		name = strings.TrimSpace(row.CompanyName)
	}
	if name == "" {
		name = UnknownSubject
	}

	headline := strings.TrimSpace(row.Desc)
	if text := strings.TrimSpace(row.AttachmentText); text != "" {
		if headline == "" {
			headline = text
		} else {
			headline += subjectDelimiter + text
		}
	}

	raw := row.AnnouncedAt
	if raw == "" {
		raw = row.SortDate
	}

	doc := strings.TrimSpace(row.AttachmentFile)
	if doc == "" {
		doc = strings.TrimSpace(row.Attachment)
	}
	if doc == "-" {
		doc = ""
	}

	rec := types.DisclosureRecord{
		SubjectID:    strings.ToUpper(strings.TrimSpace(row.Symbol)),
		SubjectName:  name,
		Headline:     headline,
		PublishedRaw: raw,
		DocumentURI:  doc,
		Source:       types.SourceNSE,
	}
	if t, ok := ParseTimestamp(raw, s.cfg.Location); ok {
		rec.PublishedAt = t
	}
	return rec
}
