package fetcher

import (
	"context"
	"errors"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"

	"market-alerts/internal/model"
)

const coingeckoBaseURL = "https://api.coingecko.com/api/v3"

// CoinGeckoOptions parameterise the CoinGecko fetcher.
type CoinGeckoOptions struct {
	BaseURL     string
	APIKey      string
	VsCurrency  string
	Instruments []string
	Timeout     time.Duration
	Tracer      trace.Tracer
}

// CoinGecko fetches market snapshots and the trending list.
type CoinGecko struct {
	httpSource
	opts CoinGeckoOptions
	now  func() time.Time
}

// NewCoinGecko constructs a CoinGecko fetcher.
func NewCoinGecko(opts CoinGeckoOptions, logger zerolog.Logger) *CoinGecko {
	if opts.VsCurrency == "" {
		opts.VsCurrency = "usd"
	}
	src := newHTTPSource("coingecko", opts.BaseURL, coingeckoBaseURL, opts.Timeout, opts.Tracer, logger)
	if opts.APIKey != "" {
		src.header.Set("x-cg-demo-api-key", opts.APIKey)
	}
	return &CoinGecko{httpSource: src, opts: opts, now: time.Now}
}

type marketRow struct {
	ID                       string   `json:"id"`
	Symbol                   string   `json:"symbol"`
	Name                     string   `json:"name"`
	CurrentPrice             *float64 `json:"current_price"`
	MarketCap                *float64 `json:"market_cap"`
	TotalVolume              *float64 `json:"total_volume"`
	PriceChangePercentage24h *float64 `json:"price_change_percentage_24h"`
}

// FetchSnapshot queries /coins/markets for the configured instruments and
// keeps the order the API returned them in.
func (c *CoinGecko) FetchSnapshot(ctx context.Context) (*model.Snapshot, error) {
	if len(c.opts.Instruments) == 0 {
		return nil, fetchErr(c.name, 0, errors.New("no instruments configured"))
	}

	query := url.Values{}
	query.Set("vs_currency", c.opts.VsCurrency)
	query.Set("ids", strings.Join(c.opts.Instruments, ","))
	query.Set("order", "market_cap_desc")
	query.Set("per_page", strconv.Itoa(len(c.opts.Instruments)))
	query.Set("page", "1")
	query.Set("price_change_percentage", "24h")

	var rows []marketRow
	if err := c.getJSON(ctx, "/coins/markets", query, &rows); err != nil {
		return nil, err
	}

	fetchedAt := c.now().UTC()
	quotes := make([]model.Quote, 0, len(rows))
	for _, row := range rows {
		if row.CurrentPrice == nil || row.Symbol == "" {
			continue
		}
		quotes = append(quotes, model.Quote{
			InstrumentID:     strings.ToUpper(row.Symbol),
			Name:             row.Name,
			Value:            *row.CurrentPrice,
			PercentChange24h: deref(row.PriceChangePercentage24h),
			Volume24h:        deref(row.TotalVolume),
			MarketCap:        deref(row.MarketCap),
			FetchedAt:        fetchedAt,
		})
	}
	if len(quotes) == 0 {
		return nil, fetchErr(c.name, 0, errors.New("no usable quotes in response"))
	}
	return model.NewSnapshot(fetchedAt, quotes), nil
}

// FetchTrending queries /search/trending.
func (c *CoinGecko) FetchTrending(ctx context.Context) ([]model.TrendingCoin, error) {
	var payload struct {
		Coins []struct {
			Item struct {
				ID            string `json:"id"`
				Symbol        string `json:"symbol"`
				Name          string `json:"name"`
				MarketCapRank int    `json:"market_cap_rank"`
				Data          struct {
					PriceChangePercentage24h map[string]float64 `json:"price_change_percentage_24h"`
				} `json:"data"`
			} `json:"item"`
		} `json:"coins"`
	}
	if err := c.getJSON(ctx, "/search/trending", nil, &payload); err != nil {
		return nil, err
	}

	coins := make([]model.TrendingCoin, 0, len(payload.Coins))
	for _, entry := range payload.Coins {
		item := entry.Item
		if item.ID == "" {
			continue
		}
		coins = append(coins, model.TrendingCoin{
			ID:               item.ID,
			Symbol:           strings.ToUpper(item.Symbol),
			Name:             item.Name,
			MarketCapRank:    item.MarketCapRank,
			PercentChange24h: item.Data.PriceChangePercentage24h[c.opts.VsCurrency],
		})
	}
	return coins, nil
}

func deref(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}

var (
	_ SnapshotFetcher = (*CoinGecko)(nil)
	_ TrendingFetcher = (*CoinGecko)(nil)
)
