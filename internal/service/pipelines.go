package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"market-alerts/internal/detector"
	"market-alerts/internal/model"
)

// PricePipeline polls snapshots and alerts on tier changes.
type PricePipeline struct {
	svc      *Service
	detector *detector.PriceDetector

	mu   sync.Mutex
	prev *model.Snapshot
}

// Run executes one poll. A failed fetch keeps the previous snapshot.
func (p *PricePipeline) Run(ctx context.Context, at time.Time) error {
	snap, err := p.svc.sources.Snapshot.FetchSnapshot(ctx)
	if err != nil {
		return fmt.Errorf("fetch snapshot: %w", err)
	}
	return p.Process(ctx, snap)
}

// Process compares snap with the previous snapshot, dispatches every move and
// then replaces the previous snapshot.
func (p *PricePipeline) Process(ctx context.Context, snap *model.Snapshot) error {
	p.mu.Lock()
	prev := p.prev
	p.prev = snap
	p.mu.Unlock()

	moves, err := p.detector.Detect(ctx, prev, snap)
	if err != nil {
		p.svc.logger.Error().Err(err).Msg("price detection incomplete")
	}

	p.svc.logger.Info().Int("quotes", snap.Len()).Int("moves", len(moves)).Bool("baseline", prev == nil).Msg("snapshot processed")

	ladder := p.detector.Ladder()
	for _, move := range moves {
		p.svc.dispatch.Send(ctx, p.svc.opts.Channels.Prices, PriceMoveEvent(move, ladder, p.svc.now()))
	}
	return nil
}

// Previous returns the last processed snapshot, or nil before the first poll.
func (p *PricePipeline) Previous() *model.Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.prev
}

// NewsPipeline polls news and forwards unseen items.
type NewsPipeline struct {
	svc      *Service
	detector *detector.NewsDetector
}

// Run executes one poll. Items are sent in source order with news_delay
// between consecutive messages.
func (p *NewsPipeline) Run(ctx context.Context, at time.Time) error {
	items, err := p.svc.sources.News.FetchNews(ctx)
	if err != nil {
		return fmt.Errorf("fetch news: %w", err)
	}

	fresh, err := p.detector.Detect(ctx, items)
	if err != nil {
		p.svc.logger.Error().Err(err).Msg("news detection incomplete")
	}
	p.svc.logger.Info().Int("items", len(items)).Int("fresh", len(fresh)).Msg("news processed")

	for i, item := range fresh {
		if i > 0 {
			if err := p.svc.sleep(ctx, p.svc.opts.NewsDelay); err != nil {
				unsent := make([]string, 0, len(fresh)-i)
				for _, rest := range fresh[i:] {
					unsent = append(unsent, rest.ID)
				}
				p.svc.logger.Warn().Err(err).
					Int("unsent", len(unsent)).
					Strs("ids", unsent).
					Msg("news run stopped early; remaining items are marked seen and will not be sent")
				return err
			}
		}
		p.svc.dispatch.Send(ctx, p.svc.opts.Channels.News, NewsEvent(item, p.svc.now()))
	}
	return nil
}

// SentimentPipeline tracks the Fear & Greed index.
type SentimentPipeline struct {
	svc *Service

	mu   sync.Mutex
	prev *model.IndexValue
}

// Run executes one poll.
func (p *SentimentPipeline) Run(ctx context.Context, at time.Time) error {
	curr, err := p.svc.sources.Index.FetchIndex(ctx)
	if err != nil {
		return fmt.Errorf("fetch sentiment index: %w", err)
	}

	p.mu.Lock()
	prev := p.prev
	p.prev = &curr
	p.mu.Unlock()

	shift, ok := detector.DetectSentiment(prev, curr, p.svc.opts.SentimentMinDelta)
	if !ok {
		p.svc.logger.Debug().Int("value", curr.Value).Str("classification", curr.Classification).Msg("sentiment unchanged")
		return nil
	}
	p.svc.dispatch.Send(ctx, p.svc.opts.Channels.Sentiment, SentimentEvent(shift, p.svc.now()))
	return nil
}

// TrendingPipeline reports coins entering the trending list.
type TrendingPipeline struct {
	svc *Service

	mu    sync.Mutex
	prev  []model.TrendingCoin
	known bool
}

// Run executes one poll.
func (p *TrendingPipeline) Run(ctx context.Context, at time.Time) error {
	curr, err := p.svc.sources.Trending.FetchTrending(ctx)
	if err != nil {
		return fmt.Errorf("fetch trending: %w", err)
	}

	p.mu.Lock()
	fresh := detector.NewTrendingEntries(p.prev, p.known, curr)
	p.prev, p.known = curr, true
	p.mu.Unlock()

	if len(fresh) == 0 {
		return nil
	}
	p.svc.dispatch.Send(ctx, p.svc.opts.Channels.Trending, TrendingEvent(fresh, p.svc.now()))
	return nil
}
