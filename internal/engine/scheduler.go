package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"

	"github.com/shanehull/bsewatch/internal/config"
)

// Cadence picks the polling interval for a moment in exchange time: short
// inside the trading window, long outside it.
type Cadence struct {
	start, end time.Duration // offsets from local midnight
	days       map[time.Weekday]bool
	active     time.Duration
	idle       time.Duration
	loc        *time.Location
}

var weekdays = map[string]time.Weekday{
	"Sun": time.Sunday,
	"Mon": time.Monday,
	"Tue": time.Tuesday,
	"Wed": time.Wednesday,
	"Thu": time.Thursday,
	"Fri": time.Friday,
	"Sat": time.Saturday,
}

func NewCadence(cfg config.ScheduleConfig, loc *time.Location) (*Cadence, error) {
	start, err := clockOffset(cfg.ActiveStart)
	if err != nil {
		return nil, fmt.Errorf("invalid schedule.active_start: %w", err)
	}
	end, err := clockOffset(cfg.ActiveEnd)
	if err != nil {
		return nil, fmt.Errorf("invalid schedule.active_end: %w", err)
	}
	if end <= start {
		return nil, fmt.Errorf("schedule.active_end %s must be after active_start %s", cfg.ActiveEnd, cfg.ActiveStart)
	}
	if cfg.ActiveInterval.Duration <= 0 || cfg.IdleInterval.Duration <= 0 {
		return nil, errors.New("schedule intervals must be positive")
	}

	days := make(map[time.Weekday]bool, len(cfg.ActiveDays))
	for _, d := range cfg.ActiveDays {
		wd, ok := weekdays[d]
		if !ok {
			return nil, fmt.Errorf("unknown weekday %q", d)
		}
		days[wd] = true
	}

	if loc == nil {
		loc = time.Local
	}
	return &Cadence{
		start:  start,
		end:    end,
		days:   days,
		active: cfg.ActiveInterval.Duration,
		idle:   cfg.IdleInterval.Duration,
		loc:    loc,
	}, nil
}

func clockOffset(hhmm string) (time.Duration, error) {
	t, err := time.Parse("15:04", hhmm)
	if err != nil {
		return 0, err
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute, nil
}

// Active reports whether now falls in the trading window [start, end).
func (c *Cadence) Active(now time.Time) bool {
	local := now.In(c.loc)
	if !c.days[local.Weekday()] {
		return false
	}
	midnight := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, c.loc)
	offset := local.Sub(midnight)
	return offset >= c.start && offset < c.end
}

func (c *Cadence) Interval(now time.Time) time.Duration {
	if c.Active(now) {
		return c.active
	}
	return c.idle
}

// Next satisfies cron.Schedule. An idle interval never skips past the
// opening of the next trading window.
func (c *Cadence) Next(t time.Time) time.Time {
	next := t.Add(c.Interval(t))
	if c.Active(t) {
		return next
	}
	if open, ok := c.nextOpen(t); ok && open.Before(next) {
		return open
	}
	return next
}

func (c *Cadence) nextOpen(t time.Time) (time.Time, bool) {
	local := t.In(c.loc)
	for i := 0; i <= 7; i++ {
		day := time.Date(local.Year(), local.Month(), local.Day()+i, 0, 0, 0, 0, c.loc)
		if !c.days[day.Weekday()] {
			continue
		}
		if open := day.Add(c.start); open.After(t) {
			return open, true
		}
	}
	return time.Time{}, false
}

// Scheduler drives Engine.RunOnce on the cadence.
type Scheduler struct {
	engine  *Engine
	cadence *Cadence
	cron    *cron.Cron
	logger  arbor.ILogger
	ctx     context.Context
	initial sync.WaitGroup
}

func NewScheduler(engine *Engine, cadence *Cadence, logger arbor.ILogger) *Scheduler {
	cl := cronLogger{logger: logger}
	return &Scheduler{
		engine:  engine,
		cadence: cadence,
		cron: cron.New(
			cron.WithLocation(cadence.loc),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		logger: logger,
	}
}

// Start runs one pass immediately, then hands over to the cadence. Passes
// use ctx, so cancelling it winds down the one in flight.
func (s *Scheduler) Start(ctx context.Context) {
	s.ctx = ctx
	job := cron.FuncJob(s.run)
	s.cron.Schedule(s.cadence, job)
	s.cron.Start()

	now := time.Now()
	s.logger.Info().
		Bool("active", s.cadence.Active(now)).
		Dur("interval", s.cadence.Interval(now)).
		Msg("Scheduler started")

	s.initial.Add(1)
	go func() {
		defer s.initial.Done()
		s.run()
	}()
}

// Stop halts scheduling and waits for a running pass to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.initial.Wait()
	s.logger.Info().Msg("Scheduler stopped")
}

func (s *Scheduler) run() {
	if s.ctx.Err() != nil {
		return
	}
	rep, err := s.engine.RunOnce(s.ctx)
	if errors.Is(err, ErrPassInProgress) {
		s.logger.Debug().Msg("Previous pass still running, skipping tick")
		return
	}
	s.logger.Debug().
		Str("run_id", rep.RunID).
		Str("next_run", s.cadence.Next(time.Now()).In(s.cadence.loc).Format(time.RFC3339)).
		Msg("Pass complete")
}

// cronLogger routes robfig/cron's own logging into arbor.
type cronLogger struct {
	logger arbor.ILogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug().Str("detail", fmt.Sprint(keysAndValues...)).Msg("cron: " + msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error().Err(err).Str("detail", fmt.Sprint(keysAndValues...)).Msg("cron: " + msg)
}
