package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"golang.org/x/time/rate"

	"github.com/shanehull/bsewatch/internal/ai"
	"github.com/shanehull/bsewatch/internal/bse"
	"github.com/shanehull/bsewatch/internal/doccache"
	"github.com/shanehull/bsewatch/internal/eligibility"
	"github.com/shanehull/bsewatch/internal/engine"
	"github.com/shanehull/bsewatch/internal/history"
	"github.com/shanehull/bsewatch/internal/marketcap"
	"github.com/shanehull/bsewatch/internal/metrics"
	"github.com/shanehull/bsewatch/internal/notify"
)

// app holds every component built from the configuration. Commands build
// only what they need: the seen set and sinks are opened for passes only.
type app struct {
	metrics       *metrics.Metrics
	index         *eligibility.Index
	loader        *eligibility.MembershipLoader
	membership    *eligibility.Refresher
	fetcher       *bse.Fetcher
	cache         *doccache.Cache
	extractor     *doccache.Extractor
	classifier    *ai.Classifier
	announcements *engine.Announcements

	seen       *history.Manager
	hub        *notify.Hub
	dispatcher *notify.Dispatcher
	engine     *engine.Engine
}

type buildOptions struct {
	passes    bool // open the seen set and notification sinks
	websocket bool
}

func newApp(ctx context.Context, opts buildOptions) (*app, error) {
	a := &app{metrics: metrics.New()}
	loc := cfg.Location()

	stocks, err := eligibility.LoadStocks(cfg.Eligibility.FOStocksPath)
	if err != nil {
		return nil, err
	}
	a.index = eligibility.NewIndex(stocks)
	a.loader = eligibility.NewMembershipLoader(
		cfg.Eligibility.IndexSources,
		cfg.Eligibility.IndexCacheDir,
		cfg.Eligibility.IndexTTL.Duration,
		cfg.Eligibility.IndexTimeout.Duration,
		logger,
	)
	a.membership = eligibility.NewRefresher(a.loader, a.index, time.Minute)
	if err := a.membership.Refresh(ctx); err != nil {
		// Missing indices only shrink the qualifying set.
		logger.Warn().Err(err).Msg("Some index memberships could not be loaded")
	}
	logger.Info().Int("fo_stocks", a.index.Len()).Strs("indices", a.loader.Names()).Msg("Eligibility index ready")

	limiter := rate.NewLimiter(rate.Limit(cfg.Feed.RequestsPerSecond), 1)
	sources := []bse.Source{bse.NewBSESource(bse.SourceConfig{
		PageURL:           cfg.Feed.BSEPageURL,
		APIURL:            cfg.Feed.BSEAPIURL,
		AttachmentBaseURL: cfg.Feed.AttachmentBaseURL,
		UserAgent:         cfg.Feed.UserAgent,
		Timeout:           cfg.Feed.Timeout.Duration,
		Location:          loc,
	}, limiter, logger)}
	if cfg.Feed.NSEEnabled {
		sources = append(sources, bse.NewNSESource(bse.SourceConfig{
			PageURL:   cfg.Feed.NSEHomeURL,
			APIURL:    cfg.Feed.NSEAPIURL,
			UserAgent: cfg.Feed.UserAgent,
			Timeout:   cfg.Feed.Timeout.Duration,
			Location:  loc,
		}, limiter, logger))
	}
	a.fetcher = bse.NewFetcher(logger, a.metrics, loc, sources...)

	a.cache = doccache.New(doccache.Config{
		Root:      cfg.Cache.Dir,
		Timeout:   cfg.Cache.Timeout.Duration,
		UserAgent: cfg.Feed.UserAgent,
		Location:  loc,
	}, logger, a.metrics)
	a.extractor = doccache.NewExtractor(cfg.Cache.MaxPages, cfg.Cache.MaxChars)

	model, err := ai.NewModel(ctx, cfg.Classifier, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create classifier model: %w", err)
	}
	a.classifier = ai.NewClassifier(model, cfg.Classifier.Timeout.Duration, cfg.Classifier.MaxInputChars, logger, a.metrics)

	deps := engine.Deps{
		Fetcher:     a.fetcher,
		Eligibility: a.index,
		Membership:  a.membership,
		Cache:       a.cache,
		Extractor:   a.extractor,
		Classifier:  a.classifier,
	}

	var caps engine.MarketCapper
	if cfg.MarketCap.Enabled {
		caps = marketcap.NewLookup(cfg.MarketCap.URL, cfg.Feed.UserAgent, cfg.MarketCap.Timeout.Duration, logger)
	}
	a.announcements = engine.NewAnnouncements(deps, caps, logger)

	if !opts.passes {
		return a, nil
	}

	store, err := history.Open(cfg.Storage, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open seen set: %w", err)
	}
	a.seen, err = history.NewManager(ctx, store, cfg.Engine.Retention.Duration, logger)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	if opts.websocket {
		a.hub = notify.NewHub(logger)
	}
	sinks := notify.BuildSinks(cfg.Notify, a.hub, os.Stdout, logger)
	a.dispatcher = notify.NewDispatcher(cfg.Notify.Timeout.Duration, logger, a.metrics, sinks...)

	deps.Seen = a.seen
	deps.Dispatcher = a.dispatcher
	a.engine = engine.New(deps, engine.Options{
		Query:                bse.Query{DaysBack: cfg.Feed.DaysBack, MaxResults: cfg.Feed.MaxResults},
		QualifyingCategories: cfg.Engine.QualifyingCategories,
		NotifySynthetic:      cfg.Engine.NotifySynthetic,
		Concurrency:          cfg.Engine.Concurrency,
	}, logger, a.metrics)

	return a, nil
}

func (a *app) Close() {
	if a.seen != nil {
		if err := a.seen.Close(); err != nil {
			logger.Warn().Err(err).Msg("Failed to close seen set")
		}
	}
}
