package eligibility

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
)

const indexUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36"

// Constituent is one row of an index constituent CSV.
type Constituent struct {
	CompanyName string `json:"company_name"`
	Industry    string `json:"industry"`
	NSESymbol   string `json:"nse_symbol"`
}

// CachedIndex is the on-disk form of one index's constituents.
type CachedIndex struct {
	IndexName string        `json:"index_name"`
	Stocks    []Constituent `json:"stocks"`
	Count     int           `json:"count"`
	CachedAt  time.Time     `json:"cached_at"`
	Source    string        `json:"source"`
}

// MembershipLoader fetches index constituent lists and caches them on disk.
type MembershipLoader struct {
	client   *http.Client
	sources  map[string]string
	cacheDir string
	ttl      time.Duration
	logger   arbor.ILogger
	now      func() time.Time
}

func NewMembershipLoader(sources map[string]string, cacheDir string, ttl, timeout time.Duration, logger arbor.ILogger) *MembershipLoader {
	return &MembershipLoader{
		client:   &http.Client{Timeout: timeout},
		sources:  sources,
		cacheDir: cacheDir,
		ttl:      ttl,
		logger:   logger,
		now:      time.Now,
	}
}

// Names lists the configured indices in a stable order.
func (l *MembershipLoader) Names() []string {
	names := make([]string, 0, len(l.sources))
	for name := range l.sources {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (l *MembershipLoader) cachePath(name string) string {
	return filepath.Join(l.cacheDir, strings.ToLower(name)+".json")
}

// Load returns the constituents of one index. A fresh cache is used unless
// force is set. When the provider fails, a stale cache is better than nothing.
func (l *MembershipLoader) Load(ctx context.Context, name string, force bool) (*CachedIndex, error) {
	cached, cacheErr := l.readCache(name)
	if !force && cacheErr == nil && l.now().Sub(cached.CachedAt) < l.ttl {
		l.logger.Debug().Str("index", name).Int("count", cached.Count).Msg("Index membership loaded from cache")
		return cached, nil
	}

	fetched, err := l.fetch(ctx, name)
	if err != nil {
		if cacheErr == nil {
			l.logger.Warn().Err(err).Str("index", name).Str("cached_at", cached.CachedAt.Format(time.RFC3339)).Msg("Index refresh failed, using stale cache")
			return cached, nil
		}
		return nil, err
	}

	if err := l.writeCache(fetched); err != nil {
		l.logger.Warn().Err(err).Str("index", name).Msg("Failed to write index cache")
	}
	l.logger.Info().Str("index", name).Int("count", fetched.Count).Msg("Index membership refreshed")
	return fetched, nil
}

// Apply loads every configured index into ix. Indices that cannot be loaded
// are left empty and reported in the joined error.
func (l *MembershipLoader) Apply(ctx context.Context, ix *Index, force bool) error {
	var errs []error
	for _, name := range l.Names() {
		data, err := l.Load(ctx, name, force)
		if err != nil {
			errs = append(errs, fmt.Errorf("index %s: %w", name, err))
			continue
		}
		symbols := make([]string, 0, len(data.Stocks))
		for _, s := range data.Stocks {
			symbols = append(symbols, s.NSESymbol)
		}
		ix.SetMembership(name, symbols)
	}
	return errors.Join(errs...)
}

// Refresher keeps an Index's membership in step with the loader's cache.
// Load only goes to the provider once a cached list is older than its TTL, so
// calling Refresh before every pass re-fetches on expiry.
type Refresher struct {
	loader *MembershipLoader
	index  *Index
	every  time.Duration

	mu   sync.Mutex
	last time.Time
}

// NewRefresher returns a Refresher that applies at most once per every.
func NewRefresher(loader *MembershipLoader, ix *Index, every time.Duration) *Refresher {
	return &Refresher{loader: loader, index: ix, every: every}
}

func (r *Refresher) Refresh(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.loader.now()
	if !r.last.IsZero() && now.Sub(r.last) < r.every {
		return nil
	}
	r.last = now
	return r.loader.Apply(ctx, r.index, false)
}

func (l *MembershipLoader) fetch(ctx context.Context, name string) (*CachedIndex, error) {
	url, ok := l.sources[name]
	if !ok {
		return nil, fmt.Errorf("unknown index %s", name)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request for %s: %w", url, err)
	}
	req.Header.Set("User-Agent", indexUserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")

	resp, err := l.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("received non-OK status code %d from %s", resp.StatusCode, url)
	}

	stocks, err := ParseConstituents(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", url, err)
	}
	if len(stocks) == 0 {
		return nil, fmt.Errorf("no constituents found at %s", url)
	}

	return &CachedIndex{
		IndexName: name,
		Stocks:    stocks,
		Count:     len(stocks),
		CachedAt:  l.now(),
		Source:    url,
	}, nil
}

// ParseConstituents reads a constituent CSV: header row, then
// company name, industry, symbol by position. Short rows are skipped.
func ParseConstituents(r io.Reader) ([]Constituent, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	var stocks []Constituent
	header := true
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if header {
			header = false
			continue
		}
		if len(row) < 3 || strings.TrimSpace(row[2]) == "" {
			continue
		}
		stocks = append(stocks, Constituent{
			CompanyName: strings.TrimSpace(row[0]),
			Industry:    strings.TrimSpace(row[1]),
			NSESymbol:   strings.ToUpper(strings.TrimSpace(row[2])),
		})
	}
	return stocks, nil
}

func (l *MembershipLoader) readCache(name string) (*CachedIndex, error) {
	data, err := os.ReadFile(l.cachePath(name))
	if err != nil {
		return nil, err
	}
	var c CachedIndex
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("failed to parse index cache for %s: %w", name, err)
	}
	return &c, nil
}

func (l *MembershipLoader) writeCache(c *CachedIndex) error {
	if err := os.MkdirAll(l.cacheDir, 0o755); err != nil {
		return fmt.Errorf("failed to create index cache directory %s: %w", l.cacheDir, err)
	}
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal index cache: %w", err)
	}
	tmp := l.cachePath(c.IndexName) + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write index cache %s: %w", tmp, err)
	}
	return os.Rename(tmp, l.cachePath(c.IndexName))
}
