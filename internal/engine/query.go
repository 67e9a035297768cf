package engine

import (
	"context"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/shanehull/bsewatch/internal/bse"
	"github.com/shanehull/bsewatch/internal/marketcap"
	"github.com/shanehull/bsewatch/internal/types"
)

// MarketCapper buckets a subject by market capitalisation.
type MarketCapper interface {
	Category(ctx context.Context, bseCode string) marketcap.Category
}

// Announcements is the read path used by the HTTP API and the CLI. Unlike a
// pass, it does not touch the seen set or notify anyone.
type Announcements struct {
	fetcher     Fetcher
	eligibility Eligibility
	membership  MembershipRefresher
	cache       DocumentCache
	extractor   TextExtractor
	classifier  Classifier
	marketCap   MarketCapper
	logger      arbor.ILogger
	now         func() time.Time
}

// NewAnnouncements builds the read path. marketCap may be nil.
func NewAnnouncements(deps Deps, marketCap MarketCapper, logger arbor.ILogger) *Announcements {
	return &Announcements{
		fetcher:     deps.Fetcher,
		eligibility: deps.Eligibility,
		membership:  deps.Membership,
		cache:       deps.Cache,
		extractor:   deps.Extractor,
		classifier:  deps.Classifier,
		marketCap:   marketCap,
		logger:      logger,
		now:         time.Now,
	}
}

type Listing struct {
	Records []types.DisclosureRecord
	Query   bse.Query
	Source  string
}

// List fetches announcements and keeps the F&O-eligible ones, annotated
// with index categories, any cached document path and a market cap bucket.
// Total upstream failure yields the synthetic dataset rather than an error.
func (a *Announcements) List(ctx context.Context, q bse.Query) Listing {
	q = bse.ClampQuery(q)
	out := Listing{Query: q}

	refreshMembership(ctx, a.membership, a.logger)

	res, err := a.fetcher.Fetch(ctx, q)
	records := res.Records
	out.Source = res.Source
	if err != nil {
		a.logger.Warn().Err(err).Msg("All live sources failed, serving sample data")
		records = SyntheticRecords(a.now())
		out.Source = string(types.SourceSynthetic)
	}

	out.Records = make([]types.DisclosureRecord, 0, len(records))
	for _, rec := range records {
		if !a.eligibility.IsEligible(rec.SubjectID) {
			continue
		}
		rec.Categories = a.eligibility.Categories(rec.SubjectID)
		if rec.Categories == nil {
			rec.Categories = []string{}
		}
		if path, ok := a.cache.Lookup(rec.DocumentURI, rec.SubjectID); ok {
			rec.LocalDocumentPath = path
		}
		if a.marketCap != nil && rec.Source != types.SourceSynthetic {
			rec.MarketCap = string(a.marketCap.Category(ctx, rec.SubjectID))
		}
		out.Records = append(out.Records, rec)
	}

	a.logger.Info().
		Str("source", out.Source).
		Int("fetched", len(records)).
		Int("eligible", len(out.Records)).
		Msg("Announcements listed")
	return out
}

// Summarize downloads the document if needed and classifies it. A document
// that cannot be fetched or read is classified as empty text.
func (a *Announcements) Summarize(ctx context.Context, uri, subjectName, subjectID string) types.SentimentResult {
	text := ""
	path, err := a.cache.GetOrFetch(ctx, uri, subjectID, subjectName)
	if err != nil {
		a.logger.Warn().Err(err).Str("uri", uri).Msg("Document unavailable for summary")
	} else if text, err = a.extractor.Extract(path); err != nil {
		a.logger.Warn().Err(err).Str("path", path).Msg("Text extraction failed for summary")
		text = ""
	}
	return a.classifier.Classify(ctx, text, subjectName)
}
