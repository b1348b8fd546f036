package fetcher

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"

	"market-alerts/internal/model"
)

const fearGreedBaseURL = "https://api.alternative.me"

// FearGreedOptions parameterise the Fear & Greed index fetcher.
type FearGreedOptions struct {
	BaseURL string
	Timeout time.Duration
	Tracer  trace.Tracer
}

// FearGreed reads the alternative.me Fear & Greed index.
type FearGreed struct {
	httpSource
}

// NewFearGreed constructs a Fear & Greed fetcher.
func NewFearGreed(opts FearGreedOptions, logger zerolog.Logger) *FearGreed {
	return &FearGreed{httpSource: newHTTPSource("feargreed", opts.BaseURL, fearGreedBaseURL, opts.Timeout, opts.Tracer, logger)}
}

// FetchIndex returns the most recent index value.
func (f *FearGreed) FetchIndex(ctx context.Context) (model.IndexValue, error) {
	var payload struct {
		Data []struct {
			Value          string `json:"value"`
			Classification string `json:"value_classification"`
			Timestamp      string `json:"timestamp"`
		} `json:"data"`
	}
	if err := f.getJSON(ctx, "/fng/", url.Values{"limit": {"1"}}, &payload); err != nil {
		return model.IndexValue{}, err
	}
	if len(payload.Data) == 0 {
		return model.IndexValue{}, fetchErr(f.name, 0, errors.New("response has no rows"))
	}

	row := payload.Data[0]
	value, err := strconv.Atoi(strings.TrimSpace(row.Value))
	if err != nil {
		return model.IndexValue{}, fetchErr(f.name, 0, fmt.Errorf("parse value: %w", err))
	}
	ts, err := strconv.ParseInt(strings.TrimSpace(row.Timestamp), 10, 64)
	if err != nil {
		return model.IndexValue{}, fetchErr(f.name, 0, fmt.Errorf("parse timestamp: %w", err))
	}
	if ts > 1_000_000_000_000 {
		ts /= 1000
	}

	return model.IndexValue{
		Value:          value,
		Classification: strings.TrimSpace(row.Classification),
		Timestamp:      time.Unix(ts, 0).UTC(),
	}, nil
}

var _ IndexFetcher = (*FearGreed)(nil)
