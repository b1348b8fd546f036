package app

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"

	"market-alerts/internal/alerting"
	"market-alerts/internal/config"
	"market-alerts/internal/dedup"
	"market-alerts/internal/detector"
	"market-alerts/internal/fetcher"
	"market-alerts/internal/scheduler"
	"market-alerts/internal/service"
	"market-alerts/internal/storage"
	"market-alerts/internal/tracing"
	"market-alerts/internal/webhook"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

func (a *App) newSources(tracer trace.Tracer) service.Sources {
	src := a.Config.Sources
	cg := fetcher.NewCoinGecko(fetcher.CoinGeckoOptions{
		BaseURL:     src.CoinGecko.BaseURL,
		APIKey:      src.CoinGecko.APIKey,
		VsCurrency:  src.CoinGecko.VsCurrency,
		Instruments: src.CoinGecko.Instruments,
		Timeout:     src.CoinGecko.RequestTimeout,
		Tracer:      tracer,
	}, a.Logger)

	sources := service.Sources{
		Snapshot: cg,
		Trending: cg,
		News:     a.newNewsFetcher(tracer),
		Index: fetcher.NewFearGreed(fetcher.FearGreedOptions{
			BaseURL: src.FearGreed.BaseURL,
			Timeout: src.FearGreed.RequestTimeout,
			Tracer:  tracer,
		}, a.Logger),
		Fees: fetcher.NewMempool(fetcher.MempoolOptions{
			BaseURL: src.Mempool.BaseURL,
			Timeout: src.Mempool.RequestTimeout,
			Tracer:  tracer,
		}, a.Logger),
	}
	if src.Ethereum.RPCURL != "" {
		sources.Gas = fetcher.NewGas(fetcher.GasOptions{
			RPCURL:  src.Ethereum.RPCURL,
			Timeout: src.Ethereum.RequestTimeout,
			Tracer:  tracer,
		}, a.Logger)
	}
	return sources
}

func (a *App) newNewsFetcher(tracer trace.Tracer) fetcher.NewsFetcher {
	news := a.Config.Sources.News
	if strings.EqualFold(news.Kind, "rss") {
		return fetcher.NewRSS(fetcher.RSSOptions{
			FeedURL:  news.FeedURL,
			MaxItems: news.MaxItems,
			Timeout:  news.RequestTimeout,
			Tracer:   tracer,
		}, a.Logger)
	}
	return fetcher.NewCryptoPanic(fetcher.CryptoPanicOptions{
		BaseURL:    news.BaseURL,
		APIKey:     news.APIKey,
		Currencies: news.Currencies,
		MaxItems:   news.MaxItems,
		Timeout:    news.RequestTimeout,
		Tracer:     tracer,
	}, a.Logger)
}

func (a *App) newNotifiers() []alerting.Notifier {
	timeout := a.Config.Alerting.SendTimeout
	notifiers := []alerting.Notifier{alerting.NewLogNotifier(a.Logger)}
	if cfg := a.Config.Notifiers.Telegram; cfg.Enabled {
		notifiers = append(notifiers, alerting.NewTelegramNotifier(cfg.BotToken, cfg.APIBase, timeout, a.Logger))
	}
	if cfg := a.Config.Notifiers.Discord; cfg.Enabled {
		notifiers = append(notifiers, alerting.NewDiscordNotifier(cfg.BotToken, cfg.APIBase, timeout, a.Logger))
	}
	return notifiers
}

func (a *App) newDispatcher(recorder alerting.Recorder) *alerting.Dispatcher {
	channels := make(map[string]alerting.ChannelSpec, len(a.Config.Channels))
	for name, ch := range a.Config.Channels {
		channels[name] = alerting.ChannelSpec{Notifier: ch.Notifier, Target: ch.Target}
	}
	return alerting.NewDispatcher(channels, a.newNotifiers(), alerting.DispatcherOptions{
		MinSpacing:  a.Config.Alerting.MinSpacing,
		SendTimeout: a.Config.Alerting.SendTimeout,
		Recorder:    recorder,
	}, a.Logger)
}

func (a *App) newLadder() (*detector.Ladder, error) {
	return detector.NewLadder(a.Config.Alerting.ThresholdPct, a.Config.Alerting.Tiers)
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, nil
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStore(pool)
	if err := store.EnsureSchema(ctx); err != nil {
		store.Close()
		return nil, nil, err
	}
	closer := func() {
		store.Close()
	}
	return store, closer, nil
}

func (a *App) openDedup(ctx context.Context) (dedup.Store, func(), error) {
	if a.Config.Redis.URL == "" {
		return dedup.NewMemoryStore(), func() {}, nil
	}
	client, err := dedup.Connect(ctx, a.Config.Redis.URL)
	if err != nil {
		return nil, nil, fmt.Errorf("connect redis: %w", err)
	}
	store := dedup.NewRedisStore(client, dedup.RedisOptions{
		Prefix:  a.Config.Redis.Prefix,
		SeenTTL: a.Config.Redis.SeenTTL,
	})
	return store, func() { _ = client.Close() }, nil
}

// Run executes the long-running monitoring service.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	tracer, shutdownTracing, err := tracing.Init(ctx, a.Config.Tracing)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() {
		flushCtx, flushCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer flushCancel()
		if err := shutdownTracing(flushCtx); err != nil {
			a.Logger.Warn().Err(err).Msg("tracer shutdown failed")
		}
	}()

	ladder, err := a.newLadder()
	if err != nil {
		return err
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		a.Logger.Warn().Msg("database.dsn not configured; alert audit log disabled")
	}
	if closeStore != nil {
		defer closeStore()
	}

	dedupStore, closeDedup, err := a.openDedup(ctx)
	if err != nil {
		return err
	}
	defer closeDedup()

	var (
		recorder alerting.Recorder
		alerts   storage.AlertStore
		locker   storage.AdvisoryLocker
	)
	if store != nil {
		recorder, alerts, locker = store, store, store
	}

	dispatcher := a.newDispatcher(recorder)
	svc := service.New(a.newSources(tracer), ladder, dedupStore, dispatcher, alerts, locker, service.OptionsFromConfig(a.Config), a.Logger)

	sched := scheduler.New(scheduler.Options{StartupDelay: a.Config.Scheduler.StartupDelay}, a.Logger)
	if err := svc.Register(sched, a.Config); err != nil {
		return err
	}

	webhookErr := make(chan error, 1)
	if wh := a.Config.Webhook; wh.Enabled {
		handler := webhook.NewHandler(dispatcher, webhook.Options{
			Secret:          wh.Secret,
			AlertChannel:    wh.AlertChannel,
			ExchangeChannel: wh.ExchangeChannel,
			ServiceName:     a.Config.Tracing.ServiceName,
		}, a.Logger)
		go func() {
			webhookErr <- webhook.Serve(ctx, wh.Listen, webhook.NewRouter(handler), wh.ShutdownTimeout, a.Logger)
		}()
	}

	a.Logger.Info().Strs("jobs", sched.Jobs()).Msg("starting monitoring service")

	schedDone := make(chan error, 1)
	go func() { schedDone <- sched.Run(ctx) }()

	select {
	case err = <-schedDone:
	case err = <-webhookErr:
		if err != nil {
			a.Logger.Error().Err(err).Msg("webhook server failed")
			cancel()
			<-schedDone
		} else {
			err = <-schedDone
		}
	}

	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("monitoring service stopped")
	return nil
}

// ExportOptions hold parameters for exporting the alert audit log.
type ExportOptions struct {
	From    *time.Time
	To      *time.Time
	PNGPath string
	CSVPath string
	MaxRows int
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Limit int
}

// SnapshotOptions configure the snapshot command.
type SnapshotOptions struct {
	Top int
}

// SimulateOptions describe a synthetic price move.
type SimulateOptions struct {
	Symbol  string
	FromPct float64
	ToPct   float64
	Price   float64
	DryRun  bool
}
