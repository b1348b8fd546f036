package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"market-alerts/internal/alerting"
	"market-alerts/internal/dedup"
	"market-alerts/internal/fetcher"
	"market-alerts/internal/model"
	"market-alerts/internal/service"
)

// SimulateAlert 构造两次合成快照, 让价格流水线完整走一遍检测与投递。
func (a *App) SimulateAlert(ctx context.Context, opts SimulateOptions) (int, error) {
	symbol := strings.ToUpper(strings.TrimSpace(opts.Symbol))
	if symbol == "" {
		return 0, errors.New("symbol 不能为空")
	}
	price := opts.Price
	if price <= 0 {
		price = 100
	}

	ladder, err := a.newLadder()
	if err != nil {
		return 0, err
	}

	channel := a.Config.Pipelines.Prices.Channel
	var dispatcher *alerting.Dispatcher
	if opts.DryRun {
		dispatcher = alerting.NewDispatcher(map[string]alerting.ChannelSpec{
			channel: {Notifier: "log", Target: "dry-run"},
		}, a.newNotifiers(), alerting.DispatcherOptions{SendTimeout: a.Config.Alerting.SendTimeout}, a.Logger)
	} else {
		dispatcher = a.newDispatcher(nil)
	}
	if !dispatcher.Resolved(channel) {
		return 0, fmt.Errorf("channel %q 未解析到任何告警通道", channel)
	}

	now := time.Now().UTC()
	quote := func(pct float64) *model.Snapshot {
		return model.NewSnapshot(now, []model.Quote{{
			InstrumentID:     symbol,
			Name:             symbol,
			Value:            price,
			PercentChange24h: pct,
			FetchedAt:        now,
		}})
	}
	src := &staticSnapshotFetcher{snaps: []*model.Snapshot{quote(opts.FromPct), quote(opts.ToPct)}}

	counter := &countingDispatcher{inner: dispatcher}
	svc := service.New(service.Sources{Snapshot: src}, ladder, dedup.NewMemoryStore(), counter, nil, nil, service.OptionsFromConfig(a.Config), a.Logger)

	for range 2 {
		if err := svc.Prices().Run(ctx, now); err != nil {
			return counter.sent, err
		}
	}

	a.Logger.Info().Str("symbol", symbol).
		Float64("from_pct", opts.FromPct).
		Float64("to_pct", opts.ToPct).
		Int("alerts", counter.sent).
		Msg("simulation complete")
	return counter.sent, nil
}

type staticSnapshotFetcher struct {
	snaps []*model.Snapshot
}

func (s *staticSnapshotFetcher) FetchSnapshot(ctx context.Context) (*model.Snapshot, error) {
	if len(s.snaps) == 0 {
		return nil, &fetcher.FetchError{Source: "simulated", Err: errors.New("no more snapshots")}
	}
	snap := s.snaps[0]
	s.snaps = s.snaps[1:]
	return snap, nil
}

type countingDispatcher struct {
	inner *alerting.Dispatcher
	sent  int
}

func (c *countingDispatcher) Send(ctx context.Context, channel string, event model.AlertEvent) {
	c.sent++
	c.inner.Send(ctx, channel, event)
}

var _ fetcher.SnapshotFetcher = (*staticSnapshotFetcher)(nil)
var _ service.Dispatcher = (*countingDispatcher)(nil)
