package service

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
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

type delivered struct {
	channel string
	event   model.AlertEvent
}

type fakeDispatcher struct {
	mu   sync.Mutex
	sent []delivered
}

func (f *fakeDispatcher) Send(_ context.Context, channel string, event model.AlertEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, delivered{channel: channel, event: event})
}

func (f *fakeDispatcher) events() []delivered {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]delivered(nil), f.sent...)
}

type snapshotQueue struct {
	snaps []*model.Snapshot
	err   error
}

func (q *snapshotQueue) FetchSnapshot(context.Context) (*model.Snapshot, error) {
	if q.err != nil {
		return nil, q.err
	}
	if len(q.snaps) == 0 {
		return nil, errors.New("queue drained")
	}
	s := q.snaps[0]
	q.snaps = q.snaps[1:]
	return s, nil
}

type newsQueue struct{ batches [][]model.NewsItem }

func (q *newsQueue) FetchNews(context.Context) ([]model.NewsItem, error) {
	b := q.batches[0]
	q.batches = q.batches[1:]
	return b, nil
}

type indexQueue struct{ values []model.IndexValue }

func (q *indexQueue) FetchIndex(context.Context) (model.IndexValue, error) {
	v := q.values[0]
	q.values = q.values[1:]
	return v, nil
}

type trendingQueue struct{ lists [][]model.TrendingCoin }

func (q *trendingQueue) FetchTrending(context.Context) ([]model.TrendingCoin, error) {
	l := q.lists[0]
	q.lists = q.lists[1:]
	return l, nil
}

type staticGas struct{ reading model.GasReading }

func (s staticGas) FetchGas(context.Context) (model.GasReading, error) { return s.reading, nil }

type staticFees struct{ fees model.FeeEstimate }

func (s staticFees) FetchFees(context.Context) (model.FeeEstimate, error) { return s.fees, nil }

func btc(pct float64) *model.Snapshot {
	return model.NewSnapshot(time.Now(), []model.Quote{{InstrumentID: "BTC", Name: "Bitcoin", Value: 60000, PercentChange24h: pct}})
}

func newTestService(t *testing.T, sources Sources, opts Options) (*Service, *fakeDispatcher) {
	t.Helper()
	ladder, err := detector.NewLadder(5, detector.DefaultBounds)
	if err != nil {
		t.Fatal(err)
	}
	disp := &fakeDispatcher{}
	svc := New(sources, ladder, dedup.NewMemoryStore(), disp, nil, nil, opts, zerolog.Nop())
	return svc, disp
}

func TestPricePipelineTierProgression(t *testing.T) {
	svc, disp := newTestService(t, Sources{}, Options{Channels: Channels{Prices: "price-alerts"}})
	ctx := context.Background()

	for _, pct := range []float64{3, 12, 13, 22} {
		if err := svc.Prices().Process(ctx, btc(pct)); err != nil {
			t.Fatalf("process %v: %v", pct, err)
		}
	}

	sent := disp.events()
	if len(sent) != 2 {
		t.Fatalf("期望 2 条告警 (12%% 与 22%%), 实际 %d", len(sent))
	}
	if sent[0].channel != "price-alerts" || sent[0].event.Payload["tier"] != "up:10-20%" {
		t.Fatalf("unexpected first alert %+v", sent[0])
	}
	if sent[1].event.Payload["tier"] != "up:20%+" || sent[1].event.Severity != model.SeverityCritical {
		t.Fatalf("unexpected second alert %+v", sent[1].event)
	}
}

func TestPricePipelineFetchErrorKeepsPrevious(t *testing.T) {
	fetchErr := &fetcher.FetchError{Source: "coingecko", Status: 500, Err: errors.New("down")}
	queue := &snapshotQueue{snaps: []*model.Snapshot{btc(2)}}
	svc, disp := newTestService(t, Sources{Snapshot: queue}, Options{})
	ctx := context.Background()

	if err := svc.Prices().Run(ctx, time.Now()); err != nil {
		t.Fatalf("first run: %v", err)
	}
	first := svc.Prices().Previous()

	queue.err = fetchErr
	err := svc.Prices().Run(ctx, time.Now())
	if !fetcher.IsFetchError(err) {
		t.Fatalf("期望 FetchError, 实际 %v", err)
	}
	if svc.Prices().Previous() != first {
		t.Fatal("failed fetch must not replace the previous snapshot")
	}
	if len(disp.events()) != 0 {
		t.Fatal("failed fetch must not emit")
	}
}

func TestNewsPipelineEmitsOnlyUnseenWithDelay(t *testing.T) {
	a := model.NewsItem{ID: "A", Title: "a"}
	b := model.NewsItem{ID: "B", Title: "b"}
	c := model.NewsItem{ID: "C", Title: "c", URL: "https://example.com/c"}
	src := &newsQueue{batches: [][]model.NewsItem{{a, b}, {a, b, c}}}

	svc, disp := newTestService(t, Sources{News: src}, Options{Channels: Channels{News: "news"}, NewsDelay: time.Second})
	var slept []time.Duration
	svc.sleep = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}

	ctx := context.Background()
	for range 2 {
		if err := svc.News().Run(ctx, time.Now()); err != nil {
			t.Fatal(err)
		}
	}

	sent := disp.events()
	if len(sent) != 3 {
		t.Fatalf("expected A, B then C; got %d events", len(sent))
	}
	if sent[0].event.Title != "a" || sent[1].event.Title != "b" || sent[2].event.URL != "https://example.com/c" {
		t.Fatalf("unexpected order %+v", sent)
	}
	if len(slept) != 1 || slept[0] != time.Second {
		t.Fatalf("news_delay should apply between consecutive messages only, got %v", slept)
	}
}

func TestNewsPipelineStopsOnCancel(t *testing.T) {
	src := &newsQueue{batches: [][]model.NewsItem{{{ID: "1", Title: "x"}, {ID: "2", Title: "y"}}}}
	svc, disp := newTestService(t, Sources{News: src}, Options{NewsDelay: time.Hour})

	var logs bytes.Buffer
	svc.logger = zerolog.New(&logs)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := svc.News().Run(ctx, time.Now()); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if len(disp.events()) != 1 {
		t.Fatalf("only the first item should have been sent, got %d", len(disp.events()))
	}
	if !strings.Contains(logs.String(), `"unsent":1`) || !strings.Contains(logs.String(), `"ids":["2"]`) {
		t.Fatalf("未发送的新闻应记录日志, 实际: %s", logs.String())
	}
}

func TestSentimentPipeline(t *testing.T) {
	src := &indexQueue{values: []model.IndexValue{
		{Value: 50, Classification: "Neutral"},
		{Value: 53, Classification: "Neutral"},
		{Value: 60, Classification: "Greed"},
	}}
	svc, disp := newTestService(t, Sources{Index: src}, Options{Channels: Channels{Sentiment: "sentiment"}, SentimentMinDelta: 10})

	for range 3 {
		if err := svc.Sentiment().Run(context.Background(), time.Now()); err != nil {
			t.Fatal(err)
		}
	}
	sent := disp.events()
	if len(sent) != 1 {
		t.Fatalf("首次读数与小幅波动不应告警, 实际 %d", len(sent))
	}
	if sent[0].event.Kind != model.KindSentimentShift || sent[0].event.Payload["value"] != 60 {
		t.Fatalf("unexpected event %+v", sent[0].event)
	}
}

func TestTrendingPipeline(t *testing.T) {
	pepe := model.TrendingCoin{ID: "pepe", Symbol: "PEPE", Name: "Pepe", MarketCapRank: 40}
	sui := model.TrendingCoin{ID: "sui", Symbol: "SUI", Name: "Sui"}
	src := &trendingQueue{lists: [][]model.TrendingCoin{{pepe}, {pepe, sui}, {sui}}}
	svc, disp := newTestService(t, Sources{Trending: src}, Options{Channels: Channels{Trending: "trending"}})

	for range 3 {
		if err := svc.Trending().Run(context.Background(), time.Now()); err != nil {
			t.Fatal(err)
		}
	}
	sent := disp.events()
	if len(sent) != 1 {
		t.Fatalf("expected one trending event, got %d", len(sent))
	}
	coins, _ := sent[0].event.Payload["coins"].([]string)
	if len(coins) != 1 || coins[0] != "sui" {
		t.Fatalf("unexpected coins %v", sent[0].event.Payload["coins"])
	}
}

func TestDailySummaryRanksAndAttachesChart(t *testing.T) {
	snap := model.NewSnapshot(time.Now(), []model.Quote{
		{InstrumentID: "BTC", Value: 60000, PercentChange24h: 2},
		{InstrumentID: "ETH", Value: 3000, PercentChange24h: -9},
		{InstrumentID: "SOL", Value: 150, PercentChange24h: 9},
		{InstrumentID: "ADA", Value: 0.5, PercentChange24h: 0.1},
	})
	svc, disp := newTestService(t, Sources{Snapshot: &snapshotQueue{snaps: []*model.Snapshot{snap}}}, Options{
		Channels:     Channels{Summary: "daily"},
		SummaryTop:   3,
		SummaryChart: true,
	})

	if err := svc.RunDailySummary(context.Background(), time.Now()); err != nil {
		t.Fatal(err)
	}
	sent := disp.events()
	if len(sent) != 1 {
		t.Fatalf("expected one summary, got %d", len(sent))
	}
	ranked, _ := sent[0].event.Payload["ranked"].([]string)
	if len(ranked) != 3 || ranked[0] != "ETH" || ranked[1] != "SOL" || ranked[2] != "BTC" {
		t.Fatalf("unexpected ranking %v", ranked)
	}
	att := sent[0].event.Attachment
	if att == nil || att.ContentType != "image/png" || len(att.Data) < 8 || string(att.Data[1:4]) != "PNG" {
		t.Fatal("summary should carry a PNG chart")
	}
}

func TestDigestPipelines(t *testing.T) {
	svc, disp := newTestService(t, Sources{
		Gas:  staticGas{reading: model.GasReading{BaseFeeGwei: 12.5, TipGwei: 1, GasPriceGwei: 13.5, BlockNumber: 100}},
		Fees: staticFees{fees: model.FeeEstimate{Fastest: 20, HalfHour: 10, Hour: 5, Economy: 2, Minimum: 1}},
	}, Options{Channels: Channels{Gas: "onchain", OnChain: "onchain"}})

	ctx := context.Background()
	if err := svc.RunGas(ctx, time.Now()); err != nil {
		t.Fatal(err)
	}
	if err := svc.RunOnChain(ctx, time.Now()); err != nil {
		t.Fatal(err)
	}
	sent := disp.events()
	if len(sent) != 2 || sent[0].event.Payload["report"] != "gas" || sent[1].event.Payload["report"] != "onchain_fees" {
		t.Fatalf("unexpected digests %+v", sent)
	}
	if sent[0].event.Fields[0].Value != "12.50 gwei" {
		t.Fatalf("unexpected base fee rendering %q", sent[0].event.Fields[0].Value)
	}
}

type fakeAlertStore struct {
	storage.AlertStore
	cutoff time.Time
}

func (f *fakeAlertStore) DeleteAlertsBefore(_ context.Context, olderThan time.Time) (int64, error) {
	f.cutoff = olderThan
	return 3, nil
}

func TestRetentionCutoff(t *testing.T) {
	store := &fakeAlertStore{}
	ladder, _ := detector.NewLadder(5, nil)
	svc := New(Sources{}, ladder, dedup.NewMemoryStore(), &fakeDispatcher{}, store, nil, Options{Retention: 48 * time.Hour}, zerolog.Nop())
	now := time.Date(2024, 6, 10, 0, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }

	if err := svc.RunRetention(context.Background(), now); err != nil {
		t.Fatal(err)
	}
	if !store.cutoff.Equal(now.Add(-48 * time.Hour)) {
		t.Fatalf("unexpected cutoff %v", store.cutoff)
	}
}

type fakeLocker struct {
	acquire bool
	keys    []int64
}

func (f *fakeLocker) TryAdvisoryLock(_ context.Context, key int64) (func(), bool, error) {
	f.keys = append(f.keys, key)
	return func() {}, f.acquire, nil
}

func TestGuardSkipsWhenLockHeld(t *testing.T) {
	locker := &fakeLocker{}
	ladder, _ := detector.NewLadder(5, nil)
	svc := New(Sources{}, ladder, dedup.NewMemoryStore(), &fakeDispatcher{}, nil, locker, Options{LockKey: 7}, zerolog.Nop())

	calls := 0
	run := svc.guard("prices", func(context.Context, time.Time) error {
		calls++
		return nil
	})
	if err := run(context.Background(), time.Now()); err != nil {
		t.Fatal(err)
	}
	if calls != 0 {
		t.Fatal("run must be skipped when the lock is held elsewhere")
	}

	locker.acquire = true
	_ = run(context.Background(), time.Now())
	_ = svc.guard("news", run)(context.Background(), time.Now())
	if calls != 2 {
		t.Fatalf("expected 2 runs, got %d", calls)
	}
	if locker.keys[0] == lockKey(7, "news") || locker.keys[0] != lockKey(7, "prices") {
		t.Fatal("lock keys should differ per pipeline")
	}
}

type blockingLocker struct{}

func (blockingLocker) TryAdvisoryLock(ctx context.Context, _ int64) (func(), bool, error) {
	<-ctx.Done()
	return nil, false, ctx.Err()
}

func TestGuardSkipsWhenLockConnectionUnavailable(t *testing.T) {
	ladder, _ := detector.NewLadder(5, nil)
	svc := New(Sources{}, ladder, dedup.NewMemoryStore(), &fakeDispatcher{}, nil, blockingLocker{}, Options{LockKey: 7}, zerolog.Nop())
	svc.lockWait = 20 * time.Millisecond

	calls := 0
	run := svc.guard("prices", func(context.Context, time.Time) error {
		calls++
		return nil
	})

	start := time.Now()
	if err := run(context.Background(), time.Now()); err != nil {
		t.Fatalf("等待锁超时应跳过而不是报错: %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("guard waited %v for the lock", elapsed)
	}
	if calls != 0 {
		t.Fatal("run must be skipped when no lock connection is free")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := run(ctx, time.Now()); err == nil {
		t.Fatal("a cancelled run context should surface as an error")
	}
}

func TestRegisterEnabledPipelines(t *testing.T) {
	cfg := &config.Config{}
	cfg.Pipelines.Prices = config.PipelineConfig{Enabled: true, Interval: time.Minute}
	cfg.Pipelines.News = config.PipelineConfig{Enabled: true, Interval: time.Minute}
	cfg.Pipelines.Gas = config.PipelineConfig{Enabled: true, Interval: time.Minute}
	cfg.Pipelines.Retention = config.PipelineConfig{Enabled: true, Interval: time.Hour}
	cfg.Pipelines.DailySummary = config.DailyConfig{Enabled: true, At: "08:30", Timezone: "UTC"}

	svc, _ := newTestService(t, Sources{Snapshot: &snapshotQueue{}, News: &newsQueue{}}, Options{})
	sched := scheduler.New(scheduler.Options{}, zerolog.Nop())
	if err := svc.Register(sched, cfg); err != nil {
		t.Fatal(err)
	}

	got := sched.Jobs()
	want := []string{"prices", "news", "daily_summary"}
	if len(got) != len(want) {
		t.Fatalf("jobs = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("jobs = %v, want %v", got, want)
		}
	}
}
