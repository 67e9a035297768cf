/*
Package marketcap buckets BSE-listed companies by market capitalisation.
*/
package marketcap

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
)

type Category string

const (
	Large   Category = "Large Cap"
	Mid     Category = "Mid Cap"
	Small   Category = "Small Cap"
	Micro   Category = "Micro Cap"
	Unknown Category = "Unknown"
)

// Classify buckets a market cap given in crores.
func Classify(crores float64) Category {
	switch {
	case crores >= 20000:
		return Large
	case crores >= 5000:
		return Mid
	case crores >= 500:
		return Small
	case crores > 0:
		return Micro
	default:
		return Unknown
	}
}

// ParseCrores reads the MktCap field, which arrives as a number or a
// comma-grouped string. Anything unreadable is zero.
func ParseCrores(raw json.RawMessage) float64 {
	s := strings.TrimSpace(string(bytes.Trim(raw, `"`)))
	s = strings.ReplaceAll(s, ",", "")
	if s == "" || s == "null" {
		return 0
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return v
}

// Lookup fetches categories from the BSE company header endpoint and keeps
// each answer for the life of the process. Failed requests are not kept.
type Lookup struct {
	url       string
	userAgent string
	client    *http.Client
	logger    arbor.ILogger

	mu    sync.Mutex
	cache map[string]Category
}

func NewLookup(endpoint, userAgent string, timeout time.Duration, logger arbor.ILogger) *Lookup {
	return &Lookup{
		url:       endpoint,
		userAgent: userAgent,
		client:    &http.Client{Timeout: timeout},
		logger:    logger,
		cache:     make(map[string]Category),
	}
}

func (l *Lookup) Category(ctx context.Context, bseCode string) Category {
	l.mu.Lock()
	if c, ok := l.cache[bseCode]; ok {
		l.mu.Unlock()
		return c
	}
	l.mu.Unlock()

	c, err := l.fetch(ctx, bseCode)
	if err != nil {
		l.logger.Debug().Err(err).Str("bse_code", bseCode).Msg("Market cap lookup failed")
		return Unknown
	}

	l.mu.Lock()
	l.cache[bseCode] = c
	l.mu.Unlock()
	return c
}

func (l *Lookup) fetch(ctx context.Context, bseCode string) (Category, error) {
	params := url.Values{}
	params.Set("quotetype", "EQ")
	params.Set("scripcode", bseCode)
	params.Set("seriesid", "")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.url+"?"+params.Encode(), nil)
	if err != nil {
		return Unknown, err
	}
	req.Header.Set("User-Agent", l.userAgent)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Referer", "https://www.bseindia.com/")

	resp, err := l.client.Do(req)
	if err != nil {
		return Unknown, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Unknown, fmt.Errorf("received non-OK status code %d from %s", resp.StatusCode, l.url)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Unknown, err
	}

	var payload struct {
		MktCap json.RawMessage `json:"MktCap"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return Unknown, fmt.Errorf("failed to decode market cap payload: %w", err)
	}
	return Classify(ParseCrores(payload.MktCap)), nil
}
