package fetcher

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"

	"market-alerts/internal/model"
)

const mempoolBaseURL = "https://mempool.space"

// MempoolOptions parameterise the mempool.space fee fetcher.
type MempoolOptions struct {
	BaseURL string
	Timeout time.Duration
	Tracer  trace.Tracer
}

// Mempool reads recommended BTC fee rates from mempool.space.
type Mempool struct {
	httpSource
	now func() time.Time
}

// NewMempool constructs a mempool.space fetcher.
func NewMempool(opts MempoolOptions, logger zerolog.Logger) *Mempool {
	return &Mempool{
		httpSource: newHTTPSource("mempool", opts.BaseURL, mempoolBaseURL, opts.Timeout, opts.Tracer, logger),
		now:        time.Now,
	}
}

// FetchFees returns the recommended fee rates in sat/vB.
func (m *Mempool) FetchFees(ctx context.Context) (model.FeeEstimate, error) {
	var payload struct {
		Fastest  float64 `json:"fastestFee"`
		HalfHour float64 `json:"halfHourFee"`
		Hour     float64 `json:"hourFee"`
		Economy  float64 `json:"economyFee"`
		Minimum  float64 `json:"minimumFee"`
	}
	if err := m.getJSON(ctx, "/api/v1/fees/recommended", nil, &payload); err != nil {
		return model.FeeEstimate{}, err
	}
	return model.FeeEstimate{
		Fastest:   payload.Fastest,
		HalfHour:  payload.HalfHour,
		Hour:      payload.Hour,
		Economy:   payload.Economy,
		Minimum:   payload.Minimum,
		FetchedAt: m.now().UTC(),
	}, nil
}

var _ FeeFetcher = (*Mempool)(nil)
