/*
Package bse fetches corporate disclosures from the BSE announcements API, with
the NSE corporate announcements API as a secondary source, and normalizes both
into types.DisclosureRecord.
*/
package bse

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/shanehull/bsewatch/internal/metrics"
	"github.com/shanehull/bsewatch/internal/types"
)

// ErrFetchFailed marks any transport, status or payload failure from an upstream source.
var ErrFetchFailed = errors.New("feed fetch failed")

const (
	MinDaysBack   = 1
	MaxDaysBack   = 30
	MinMaxResults = 10
	MaxMaxResults = 500

	windowDateLayout = "20060102"
)

type Query struct {
	DaysBack   int
	MaxResults int
}

// ClampQuery forces the lookback into [1,30] days and the limit into [10,500].
func ClampQuery(q Query) Query {
	return Query{
		DaysBack:   clamp(q.DaysBack, MinDaysBack, MaxDaysBack),
		MaxResults: clamp(q.MaxResults, MinMaxResults, MaxMaxResults),
	}
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Window is the inclusive date range sent upstream.
type Window struct {
	From time.Time
	To   time.Time
}

func NewWindow(now time.Time, daysBack int) Window {
	return Window{From: now.AddDate(0, 0, -daysBack), To: now}
}

func (w Window) FromParam() string { return w.From.Format(windowDateLayout) }
func (w Window) ToParam() string   { return w.To.Format(windowDateLayout) }

type Result struct {
	Records []types.DisclosureRecord
	Query   Query
	Window  Window
	Source  string
}

// Source is one upstream feed.
type Source interface {
	Name() string
	Fetch(ctx context.Context, w Window, limit int) ([]types.DisclosureRecord, error)
}

// Fetcher tries each source in order and returns the first success.
type Fetcher struct {
	sources []Source
	loc     *time.Location
	logger  arbor.ILogger
	metrics *metrics.Metrics
	now     func() time.Time
}

func NewFetcher(logger arbor.ILogger, m *metrics.Metrics, loc *time.Location, sources ...Source) *Fetcher {
	return &Fetcher{
		sources: sources,
		loc:     loc,
		logger:  logger,
		metrics: m,
		now:     time.Now,
	}
}

// Fetch never panics. When every source fails it returns an empty result and
// an error that matches ErrFetchFailed.
func (f *Fetcher) Fetch(ctx context.Context, q Query) (Result, error) {
	q = ClampQuery(q)
	res := Result{
		Query:  q,
		Window: NewWindow(f.now().In(f.loc), q.DaysBack),
	}

	var errs []error
	for _, src := range f.sources {
		records, err := f.try(ctx, src, res.Window, q.MaxResults)
		if err != nil {
			f.metrics.FetchFailed(src.Name())
			f.logger.Warn().Err(err).Str("source", src.Name()).Msg("Feed source failed, trying next")
			errs = append(errs, err)
			continue
		}

		if len(records) > q.MaxResults {
			records = records[:q.MaxResults]
		}
		res.Records = records
		res.Source = src.Name()

		f.logger.Info().
			Str("source", src.Name()).
			Str("from", res.Window.FromParam()).
			Str("to", res.Window.ToParam()).
			Int("records", len(records)).
			Msg("Fetched disclosures")
		return res, nil
	}

	if len(errs) == 0 {
		errs = append(errs, fmt.Errorf("%w: no sources configured", ErrFetchFailed))
	}
	return res, errors.Join(errs...)
}

func (f *Fetcher) try(ctx context.Context, src Source, w Window, limit int) (records []types.DisclosureRecord, err error) {
	defer func() {
		if r := recover(); r != nil {
			records = nil
			err = fmt.Errorf("%w: %s panicked: %v", ErrFetchFailed, src.Name(), r)
		}
	}()
	records, err = src.Fetch(ctx, w, limit)
	if err != nil && !errors.Is(err, ErrFetchFailed) {
		err = fmt.Errorf("%w: %s: %w", ErrFetchFailed, src.Name(), err)
	}
	return records, err
}
