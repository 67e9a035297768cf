/*
Package engine runs the disclosure pipeline: fetch, drop what was already
seen, keep what qualifies, fetch and classify its document, notify, and record
the outcome in the seen set.

One pass runs at a time. Per-record enrichment fans out on a bounded worker
group, while notifications for a pass go out in feed order.
*/
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ternarybob/arbor"
	"golang.org/x/sync/errgroup"

	"github.com/shanehull/bsewatch/internal/bse"
	"github.com/shanehull/bsewatch/internal/doccache"
	"github.com/shanehull/bsewatch/internal/eligibility"
	"github.com/shanehull/bsewatch/internal/history"
	"github.com/shanehull/bsewatch/internal/metrics"
	"github.com/shanehull/bsewatch/internal/types"
)

var ErrPassInProgress = errors.New("engine pass already in progress")

type Fetcher interface {
	Fetch(ctx context.Context, q bse.Query) (bse.Result, error)
}

type Eligibility interface {
	IsEligible(subjectID string) bool
	Categories(subjectID string) []string
}

// MembershipRefresher reloads index membership whose cache has expired.
type MembershipRefresher interface {
	Refresh(ctx context.Context) error
}

type DocumentCache interface {
	GetOrFetch(ctx context.Context, uri, subjectID, subjectName string) (string, error)
	Lookup(uri, subjectID string) (string, bool)
}

type TextExtractor interface {
	Extract(path string) (string, error)
}

type Classifier interface {
	Classify(ctx context.Context, text, subjectName string) types.SentimentResult
}

type Dispatcher interface {
	Dispatch(ctx context.Context, n types.Notification) error
}

type Options struct {
	Query                bse.Query
	QualifyingCategories []string
	NotifySynthetic      bool
	Concurrency          int
}

// Deps are the collaborators a pass drives. All but Membership are required.
type Deps struct {
	Fetcher     Fetcher
	Seen        *history.Manager
	Eligibility Eligibility
	Membership  MembershipRefresher
	Cache       DocumentCache
	Extractor   TextExtractor
	Classifier  Classifier
	Dispatcher  Dispatcher
}

type Engine struct {
	deps    Deps
	opts    Options
	logger  arbor.ILogger
	metrics *metrics.Metrics
	now     func() time.Time

	running sync.Mutex
}

func New(deps Deps, opts Options, logger arbor.ILogger, m *metrics.Metrics) *Engine {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	return &Engine{
		deps:    deps,
		opts:    opts,
		logger:  logger,
		metrics: m,
		now:     time.Now,
	}
}

// Report summarises one pass.
type Report struct {
	RunID     string
	Source    string
	Synthetic bool
	Evicted   int
	Fetched   int
	New       int
	Eligible  int
	Notified  int
	Failed    int
	Elapsed   time.Duration
}

type enriched struct {
	rec types.DisclosureRecord
	res types.SentimentResult
	err error
}

// RunOnce executes a single pass. It returns ErrPassInProgress without doing
// anything when another pass holds the engine. Every other problem is logged
// and reflected in the Report; the pass itself always completes.
func (e *Engine) RunOnce(ctx context.Context) (Report, error) {
	if !e.running.TryLock() {
		e.metrics.PassSkipped()
		return Report{}, ErrPassInProgress
	}
	defer e.running.Unlock()

	start := e.now()
	rep := Report{RunID: uuid.NewString()}

	e.logger.Info().Str("run_id", rep.RunID).Msg("Engine pass started")

	if n, err := e.deps.Seen.Evict(ctx); err != nil {
		e.logger.Warn().Err(err).Str("run_id", rep.RunID).Msg("Seen set eviction failed")
	} else {
		rep.Evicted = n
	}

	refreshMembership(ctx, e.deps.Membership, e.logger)

	records := e.fetch(ctx, &rep)
	rep.Fetched = len(records)
	e.metrics.RecordsAt("fetched", len(records))

	if rep.Synthetic && !e.opts.NotifySynthetic {
		e.logger.Info().Str("run_id", rep.RunID).Int("records", len(records)).Msg("Synthetic records are not notified")
		return e.finish(rep, start, "synthetic"), nil
	}

	fresh := e.filterSeen(ctx, rep.RunID, records)
	rep.New = len(fresh)
	e.metrics.RecordsAt("new", len(fresh))

	eligible := e.filterEligible(ctx, rep.RunID, fresh)
	rep.Eligible = len(eligible)
	e.metrics.RecordsAt("eligible", len(eligible))

	results := e.enrichAll(ctx, eligible)

	for _, out := range results {
		if out.err != nil {
			rep.Failed++
			e.logger.Warn().
				Err(out.err).
				Str("run_id", rep.RunID).
				Str("subject_id", out.rec.SubjectID).
				Msg("Enrichment failed, will retry next pass")
			continue
		}

		// Sink failures are logged by the dispatcher and never retried.
		_ = e.deps.Dispatcher.Dispatch(ctx, types.NewNotification(out.rec, out.res))
		rep.Notified++

		if err := e.deps.Seen.Mark(ctx, out.rec.Key(), true); err != nil {
			e.logger.Error().Err(err).Str("run_id", rep.RunID).Str("key", out.rec.Key()).Msg("Failed to record notified disclosure")
		}
	}
	e.metrics.RecordsAt("notified", rep.Notified)

	outcome := "ok"
	if rep.Failed > 0 {
		outcome = "partial"
	}
	return e.finish(rep, start, outcome), nil
}

func (e *Engine) finish(rep Report, start time.Time, outcome string) Report {
	rep.Elapsed = e.now().Sub(start)
	e.metrics.PassCompleted(outcome, rep.Elapsed)
	e.logger.Info().
		Str("run_id", rep.RunID).
		Str("outcome", outcome).
		Str("source", rep.Source).
		Int("fetched", rep.Fetched).
		Int("new", rep.New).
		Int("eligible", rep.Eligible).
		Int("notified", rep.Notified).
		Int("failed", rep.Failed).
		Int("evicted", rep.Evicted).
		Dur("elapsed", rep.Elapsed).
		Msg("Engine pass finished")
	return rep
}

func refreshMembership(ctx context.Context, m MembershipRefresher, logger arbor.ILogger) {
	if m == nil {
		return
	}
	if err := m.Refresh(ctx); err != nil {
		logger.Warn().Err(err).Msg("Some index memberships could not be refreshed")
	}
}

func (e *Engine) fetch(ctx context.Context, rep *Report) []types.DisclosureRecord {
	res, err := e.deps.Fetcher.Fetch(ctx, e.opts.Query)
	if err != nil {
		e.logger.Warn().Err(err).Str("run_id", rep.RunID).Msg("All live sources failed, using sample data")
		rep.Source = string(types.SourceSynthetic)
		rep.Synthetic = true
		return SyntheticRecords(e.now())
	}
	rep.Source = res.Source
	return res.Records
}

// filterSeen keeps records whose key is neither in the seen set nor earlier
// in the same batch. A lookup failure skips the record for this pass.
func (e *Engine) filterSeen(ctx context.Context, runID string, records []types.DisclosureRecord) []types.DisclosureRecord {
	batch := make(map[string]struct{}, len(records))
	var fresh []types.DisclosureRecord

	for _, rec := range records {
		key := rec.Key()
		if _, dup := batch[key]; dup {
			continue
		}
		batch[key] = struct{}{}

		seen, err := e.deps.Seen.Has(ctx, key)
		if err != nil {
			e.logger.Warn().Err(err).Str("run_id", runID).Str("key", key).Msg("Seen lookup failed, skipping record")
			continue
		}
		if !seen {
			fresh = append(fresh, rec)
		}
	}
	return fresh
}

// filterEligible tags each record with its index categories and keeps the
// qualifying ones. The rest are recorded as seen without notification.
func (e *Engine) filterEligible(ctx context.Context, runID string, records []types.DisclosureRecord) []types.DisclosureRecord {
	var keep []types.DisclosureRecord
	for _, rec := range records {
		rec.Categories = e.deps.Eligibility.Categories(rec.SubjectID)
		if e.deps.Eligibility.IsEligible(rec.SubjectID) && eligibility.Intersects(rec.Categories, e.opts.QualifyingCategories) {
			keep = append(keep, rec)
			continue
		}
		if err := e.deps.Seen.Mark(ctx, rec.Key(), false); err != nil {
			e.logger.Warn().Err(err).Str("run_id", runID).Str("key", rec.Key()).Msg("Failed to record skipped disclosure")
		}
	}
	return keep
}

func (e *Engine) enrichAll(ctx context.Context, records []types.DisclosureRecord) []enriched {
	results := make([]enriched, len(records))

	var g errgroup.Group
	g.SetLimit(e.opts.Concurrency)
	for i, rec := range records {
		g.Go(func() error {
			results[i] = e.enrich(ctx, rec)
			return nil
		})
	}
	_ = g.Wait()

	return results
}

func (e *Engine) enrich(ctx context.Context, rec types.DisclosureRecord) (out enriched) {
	out.rec = rec
	defer func() {
		if r := recover(); r != nil {
			out.err = fmt.Errorf("enrichment panicked: %v", r)
		}
	}()

	if rec.DocumentURI == "" {
		out.res = e.deps.Classifier.Classify(ctx, "", rec.SubjectName)
		return out
	}

	path, err := e.deps.Cache.GetOrFetch(ctx, rec.DocumentURI, rec.SubjectID, rec.SubjectName)
	if err != nil {
		// A document the exchange will not serve is classified without text.
		// Cache write failures and cancellation are retried next pass.
		if !errors.Is(err, doccache.ErrFetchFailed) || ctx.Err() != nil {
			out.err = err
			return out
		}
		e.logger.Warn().Err(err).Str("subject_id", rec.SubjectID).Msg("Document unavailable, classifying without text")
		out.res = e.deps.Classifier.Classify(ctx, "", rec.SubjectName)
		return out
	}
	out.rec.LocalDocumentPath = path

	text, err := e.deps.Extractor.Extract(path)
	if err != nil {
		e.logger.Warn().Err(err).Str("path", path).Msg("Text extraction failed, classifying without text")
		text = ""
	}

	out.res = e.deps.Classifier.Classify(ctx, text, rec.SubjectName)
	return out
}
