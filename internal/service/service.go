package service

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"time"

	"github.com/rs/zerolog"

	"market-alerts/internal/config"
	"market-alerts/internal/dedup"
	"market-alerts/internal/detector"
	"market-alerts/internal/fetcher"
	"market-alerts/internal/model"
	"market-alerts/internal/scheduler"
	"market-alerts/internal/storage"
)

// lockWait bounds how long a pipeline waits for a lock connection before
// skipping its run.
const lockWait = 5 * time.Second

// Dispatcher is the delivery surface pipelines depend on.
type Dispatcher interface {
	Send(ctx context.Context, channel string, event model.AlertEvent)
}

// Sources groups the adapters feeding each pipeline. Nil entries disable
// the matching pipeline.
type Sources struct {
	Snapshot fetcher.SnapshotFetcher
	News     fetcher.NewsFetcher
	Index    fetcher.IndexFetcher
	Trending fetcher.TrendingFetcher
	Gas      fetcher.GasFetcher
	Fees     fetcher.FeeFetcher
}

// Channels names the logical delivery channel of every pipeline.
type Channels struct {
	Prices    string
	News      string
	Sentiment string
	Trending  string
	Gas       string
	OnChain   string
	Summary   string
}

// Options tune pipeline behaviour.
type Options struct {
	Channels          Channels
	NewsDelay         time.Duration
	SentimentMinDelta int
	SummaryTop        int
	SummaryChart      bool
	Retention         time.Duration
	LockKey           int64
}

// Service orchestrates fetching, detection and dispatch for every pipeline.
type Service struct {
	sources  Sources
	dispatch Dispatcher
	alerts   storage.AlertStore
	locker   storage.AdvisoryLocker
	logger   zerolog.Logger
	opts     Options

	prices    *PricePipeline
	news      *NewsPipeline
	sentiment *SentimentPipeline
	trending  *TrendingPipeline

	now      func() time.Time
	sleep    func(ctx context.Context, d time.Duration) error
	lockWait time.Duration
}

// New constructs the monitoring service. alerts and locker may be nil when no
// database is configured.
func New(sources Sources, ladder *detector.Ladder, store dedup.Store, dispatch Dispatcher, alerts storage.AlertStore, locker storage.AdvisoryLocker, opts Options, logger zerolog.Logger) *Service {
	if opts.SummaryTop <= 0 {
		opts.SummaryTop = 5
	}
	s := &Service{
		sources:  sources,
		dispatch: dispatch,
		alerts:   alerts,
		locker:   locker,
		logger:   logger.With().Str("component", "service").Logger(),
		opts:     opts,
		now:      time.Now,
		sleep:    sleepContext,
		lockWait: lockWait,
	}
	s.prices = &PricePipeline{svc: s, detector: detector.NewPriceDetector(ladder, store)}
	s.news = &NewsPipeline{svc: s, detector: detector.NewNewsDetector(store)}
	s.sentiment = &SentimentPipeline{svc: s}
	s.trending = &TrendingPipeline{svc: s}
	return s
}

// OptionsFromConfig maps runtime configuration onto pipeline options.
func OptionsFromConfig(cfg *config.Config) Options {
	p := cfg.Pipelines
	return Options{
		Channels: Channels{
			Prices:    p.Prices.Channel,
			News:      p.News.Channel,
			Sentiment: p.Sentiment.Channel,
			Trending:  p.Trending.Channel,
			Gas:       p.Gas.Channel,
			OnChain:   p.OnChain.Channel,
			Summary:   p.DailySummary.Channel,
		},
		NewsDelay:         cfg.Alerting.NewsDelay,
		SentimentMinDelta: cfg.Alerting.SentimentMin,
		SummaryTop:        p.DailySummary.Top,
		SummaryChart:      p.DailySummary.Chart,
		Retention:         cfg.Database.Retention,
		LockKey:           cfg.Database.AdvisoryLockKey,
	}
}

// Register adds one scheduler job per enabled pipeline.
func (s *Service) Register(sched *scheduler.Scheduler, cfg *config.Config) error {
	p := cfg.Pipelines
	align := cfg.Scheduler.AlignToInterval
	runOnStart := cfg.Scheduler.RunOnStart

	interval := func(name string, pc config.PipelineConfig, enabled bool, fn scheduler.TickFunc) {
		if !pc.Enabled || !enabled {
			s.logger.Info().Str("pipeline", name).Msg("pipeline disabled")
			return
		}
		sched.Add(scheduler.Job{
			Name:       name,
			Trigger:    scheduler.Every(pc.Interval, align),
			Run:        s.guard(name, fn),
			RunOnStart: runOnStart,
			Timeout:    pc.Interval,
		})
	}

	interval("prices", p.Prices, s.sources.Snapshot != nil, s.prices.Run)
	interval("news", p.News, s.sources.News != nil, s.news.Run)
	interval("sentiment", p.Sentiment, s.sources.Index != nil, s.sentiment.Run)
	interval("trending", p.Trending, s.sources.Trending != nil, s.trending.Run)
	interval("gas", p.Gas, s.sources.Gas != nil, s.RunGas)
	interval("onchain", p.OnChain, s.sources.Fees != nil, s.RunOnChain)
	interval("retention", p.Retention, s.alerts != nil && s.opts.Retention > 0, s.RunRetention)

	if d := p.DailySummary; d.Enabled && s.sources.Snapshot != nil {
		hour, minute, err := scheduler.ParseClock(d.At)
		if err != nil {
			return fmt.Errorf("daily summary time: %w", err)
		}
		loc, err := cfg.DailySummaryLocation()
		if err != nil {
			return err
		}
		sched.Add(scheduler.Job{
			Name:    "daily_summary",
			Trigger: scheduler.DailyAt(hour, minute, loc),
			Run:     s.guard("daily_summary", s.RunDailySummary),
			Timeout: 5 * time.Minute,
		})
	}
	return nil
}

// Prices exposes the price pipeline.
func (s *Service) Prices() *PricePipeline { return s.prices }

// News exposes the news pipeline.
func (s *Service) News() *NewsPipeline { return s.news }

// Sentiment exposes the sentiment pipeline.
func (s *Service) Sentiment() *SentimentPipeline { return s.sentiment }

// Trending exposes the trending pipeline.
func (s *Service) Trending() *TrendingPipeline { return s.trending }

// guard runs fn under a per-pipeline advisory lock so that only one instance
// sharing the database executes a given pipeline at a time.
func (s *Service) guard(name string, fn scheduler.TickFunc) scheduler.TickFunc {
	return func(ctx context.Context, at time.Time) error {
		unlock, proceed, err := s.acquireLock(ctx, name)
		if err != nil {
			return err
		}
		if !proceed {
			s.logger.Debug().Str("pipeline", name).Time("at", at).Msg("skip run because advisory lock held elsewhere")
			return nil
		}
		if unlock != nil {
			defer unlock()
		}
		return fn(ctx, at)
	}
}

func (s *Service) acquireLock(ctx context.Context, name string) (func(), bool, error) {
	if s.opts.LockKey == 0 || s.locker == nil {
		return nil, true, nil
	}
	lockCtx, cancel := context.WithTimeout(ctx, s.lockWait)
	defer cancel()

	unlock, acquired, err := s.locker.TryAdvisoryLock(lockCtx, lockKey(s.opts.LockKey, name))
	if err != nil {
		if ctx.Err() == nil && errors.Is(lockCtx.Err(), context.DeadlineExceeded) {
			s.logger.Warn().Str("pipeline", name).Dur("waited", s.lockWait).Msg("skip run because no database connection was free for the advisory lock")
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}

func lockKey(base int64, name string) int64 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(name))
	return base<<32 | int64(h.Sum32())
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
