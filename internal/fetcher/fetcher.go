package fetcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"market-alerts/internal/model"
	"market-alerts/internal/version"
)

const defaultTimeout = 10 * time.Second

// SnapshotFetcher retrieves the tracked instruments' market snapshot.
type SnapshotFetcher interface {
	FetchSnapshot(ctx context.Context) (*model.Snapshot, error)
}

// NewsFetcher retrieves the latest news items, newest first as the source returns them.
type NewsFetcher interface {
	FetchNews(ctx context.Context) ([]model.NewsItem, error)
}

// IndexFetcher retrieves the current sentiment index.
type IndexFetcher interface {
	FetchIndex(ctx context.Context) (model.IndexValue, error)
}

// TrendingFetcher retrieves the current trending list.
type TrendingFetcher interface {
	FetchTrending(ctx context.Context) ([]model.TrendingCoin, error)
}

// GasFetcher retrieves Ethereum gas prices.
type GasFetcher interface {
	FetchGas(ctx context.Context) (model.GasReading, error)
}

// FeeFetcher retrieves recommended BTC fee rates.
type FeeFetcher interface {
	FetchFees(ctx context.Context) (model.FeeEstimate, error)
}

// FetchError wraps any failure to obtain usable data from a source:
// transport errors, non-2xx statuses and undecodable bodies.
type FetchError struct {
	Source string
	Status int
	Err    error
}

func (e *FetchError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("fetch %s: status %d: %v", e.Source, e.Status, e.Err)
	}
	return fmt.Sprintf("fetch %s: %v", e.Source, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// IsFetchError reports whether err came from a source adapter.
func IsFetchError(err error) bool {
	var fe *FetchError
	return errors.As(err, &fe)
}

func fetchErr(source string, status int, err error) error {
	return &FetchError{Source: source, Status: status, Err: err}
}

// httpSource is the shared GET-and-decode plumbing behind every JSON adapter.
type httpSource struct {
	name    string
	baseURL string
	timeout time.Duration
	client  *http.Client
	tracer  trace.Tracer
	logger  zerolog.Logger
	header  http.Header
}

func newHTTPSource(name, baseURL, fallbackURL string, timeout time.Duration, tracer trace.Tracer, logger zerolog.Logger) httpSource {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = fallbackURL
	}
	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer("fetcher")
	}
	return httpSource{
		name:    name,
		baseURL: baseURL,
		timeout: timeout,
		client:  &http.Client{Timeout: timeout},
		tracer:  tracer,
		logger:  logger.With().Str("component", name+"_fetcher").Logger(),
		header:  make(http.Header),
	}
}

func (h *httpSource) get(ctx context.Context, path string, query url.Values, accept string) ([]byte, error) {
	ctx, span := h.tracer.Start(ctx, h.name+".fetch")
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	endpoint := h.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}
	span.SetAttributes(attribute.String("http.url", h.baseURL+path))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fetchErr(h.name, 0, err)
	}
	req.Header.Set("Accept", accept)
	req.Header.Set("User-Agent", version.UserAgent())
	for k, vs := range h.header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := h.client.Do(req)
	if err != nil {
		err = redactURLError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fetchErr(h.name, 0, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fetchErr(h.name, resp.StatusCode, err)
	}
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		span.SetStatus(codes.Error, resp.Status)
		return nil, fetchErr(h.name, resp.StatusCode, errors.New(errorSnippet(body)))
	}

	h.logger.Debug().Str("path", path).Int("bytes", len(body)).Msg("fetched")
	return body, nil
}

func (h *httpSource) getJSON(ctx context.Context, path string, query url.Values, out any) error {
	body, err := h.get(ctx, path, query, "application/json")
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fetchErr(h.name, 0, fmt.Errorf("decode response: %w", err))
	}
	return nil
}

// redactURLError strips the query string from a transport error's URL so
// API keys passed as parameters never reach the logs.
func redactURLError(err error) error {
	var uerr *url.Error
	if !errors.As(err, &uerr) {
		return err
	}
	u, perr := url.Parse(uerr.URL)
	if perr != nil {
		uerr.URL = "<redacted>"
		return err
	}
	u.RawQuery = ""
	u.Fragment = ""
	u.User = nil
	uerr.URL = u.String()
	return err
}

func errorSnippet(payload []byte) string {
	msg := strings.TrimSpace(string(payload))
	if msg == "" {
		return "empty response body"
	}
	if len(msg) > 200 {
		msg = msg[:200] + "..."
	}
	return msg
}
