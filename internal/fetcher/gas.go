package fetcher

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"market-alerts/internal/model"
)

// GasOptions parameterise the Ethereum gas fetcher.
type GasOptions struct {
	RPCURL  string
	Timeout time.Duration
	Tracer  trace.Tracer
}

type gasClient interface {
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
}

// Gas reads current gas prices over Ethereum JSON-RPC.
type Gas struct {
	opts      GasOptions
	logger    zerolog.Logger
	tracer    trace.Tracer
	dial      func(ctx context.Context, url string) (gasClient, error)
	client    gasClient
	clientMux sync.Mutex
	now       func() time.Time
}

// NewGas builds a gas fetcher. The RPC connection is dialled lazily.
func NewGas(opts GasOptions, logger zerolog.Logger) *Gas {
	tracer := opts.Tracer
	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer("fetcher")
	}
	return &Gas{
		opts:   opts,
		logger: logger.With().Str("component", "gas_fetcher").Logger(),
		tracer: tracer,
		dial: func(ctx context.Context, url string) (gasClient, error) {
			return ethclient.DialContext(ctx, url)
		},
		now: time.Now,
	}
}

// FetchGas returns the latest base fee, suggested tip and legacy gas price.
func (g *Gas) FetchGas(ctx context.Context) (model.GasReading, error) {
	if g.opts.RPCURL == "" {
		return model.GasReading{}, fetchErr("ethereum", 0, errors.New("ethereum rpc url not configured"))
	}

	ctx, span := g.tracer.Start(ctx, "ethereum.fetch-gas")
	defer span.End()

	timeout := g.opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	reading, err := g.fetch(ctx)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return model.GasReading{}, fetchErr("ethereum", 0, err)
	}
	span.SetAttributes(attribute.Int64("eth.block", int64(reading.BlockNumber)))
	return reading, nil
}

func (g *Gas) fetch(ctx context.Context) (model.GasReading, error) {
	client, err := g.getClient(ctx)
	if err != nil {
		return model.GasReading{}, err
	}

	header, err := client.HeaderByNumber(ctx, nil)
	if err != nil {
		return model.GasReading{}, err
	}
	price, err := client.SuggestGasPrice(ctx)
	if err != nil {
		return model.GasReading{}, err
	}
	tip, err := client.SuggestGasTipCap(ctx)
	if err != nil {
		return model.GasReading{}, err
	}

	reading := model.GasReading{
		GasPriceGwei: weiToGwei(price),
		TipGwei:      weiToGwei(tip),
		FetchedAt:    g.now().UTC(),
	}
	if header != nil {
		reading.BaseFeeGwei = weiToGwei(header.BaseFee)
		if header.Number != nil {
			reading.BlockNumber = header.Number.Uint64()
		}
	}
	return reading, nil
}

func (g *Gas) getClient(ctx context.Context) (gasClient, error) {
	g.clientMux.Lock()
	defer g.clientMux.Unlock()

	if g.client != nil {
		return g.client, nil
	}

	client, err := g.dial(ctx, g.opts.RPCURL)
	if err != nil {
		return nil, err
	}
	g.client = client
	g.logger.Info().Msg("connected to ethereum rpc")
	return client, nil
}

func weiToGwei(wei *big.Int) float64 {
	if wei == nil {
		return 0
	}
	return decimal.NewFromBigInt(wei, -9).Round(3).InexactFloat64()
}

var _ GasFetcher = (*Gas)(nil)
