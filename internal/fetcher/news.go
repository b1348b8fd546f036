package fetcher

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"

	"market-alerts/internal/model"
)

const cryptoPanicBaseURL = "https://cryptopanic.com/api/developer/v2"

// CryptoPanicOptions parameterise the CryptoPanic news fetcher.
type CryptoPanicOptions struct {
	BaseURL    string
	APIKey     string
	Currencies []string
	MaxItems   int
	Timeout    time.Duration
	Tracer     trace.Tracer
}

// CryptoPanic fetches news posts from the CryptoPanic posts API.
type CryptoPanic struct {
	httpSource
	opts CryptoPanicOptions
}

// NewCryptoPanic constructs a CryptoPanic fetcher.
func NewCryptoPanic(opts CryptoPanicOptions, logger zerolog.Logger) *CryptoPanic {
	if opts.MaxItems <= 0 {
		opts.MaxItems = 20
	}
	return &CryptoPanic{
		httpSource: newHTTPSource("cryptopanic", opts.BaseURL, cryptoPanicBaseURL, opts.Timeout, opts.Tracer, logger),
		opts:       opts,
	}
}

// flexibleID accepts both numeric and string identifiers.
type flexibleID string

func (f *flexibleID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexibleID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*f = flexibleID(n.String())
	return nil
}

type cryptoPanicPost struct {
	ID          flexibleID `json:"id"`
	Title       string     `json:"title"`
	URL         string     `json:"url"`
	OriginalURL string     `json:"original_url"`
	Slug        string     `json:"slug"`
	PublishedAt string     `json:"published_at"`
	Source      struct {
		Title  string `json:"title"`
		Domain string `json:"domain"`
	} `json:"source"`
}

// FetchNews returns the latest posts in the order the API lists them.
func (c *CryptoPanic) FetchNews(ctx context.Context) ([]model.NewsItem, error) {
	if c.opts.APIKey == "" {
		return nil, fetchErr(c.name, 0, errors.New("api key not configured"))
	}

	query := url.Values{}
	query.Set("auth_token", c.opts.APIKey)
	query.Set("public", "true")
	query.Set("kind", "news")
	if len(c.opts.Currencies) > 0 {
		query.Set("currencies", strings.Join(c.opts.Currencies, ","))
	}

	var payload struct {
		Results []cryptoPanicPost `json:"results"`
	}
	if err := c.getJSON(ctx, "/posts/", query, &payload); err != nil {
		return nil, err
	}

	items := make([]model.NewsItem, 0, min(c.opts.MaxItems, len(payload.Results)))
	for _, post := range payload.Results {
		if len(items) >= c.opts.MaxItems {
			break
		}
		id := strings.TrimSpace(string(post.ID))
		title := strings.TrimSpace(post.Title)
		if id == "" || title == "" {
			continue
		}
		link := post.URL
		if link == "" {
			link = post.OriginalURL
		}
		if link == "" && post.Slug != "" {
			link = "https://cryptopanic.com/news/" + id + "/" + post.Slug
		}
		source := post.Source.Title
		if source == "" {
			source = post.Source.Domain
		}
		items = append(items, model.NewsItem{
			ID:          id,
			Title:       title,
			URL:         link,
			Source:      source,
			PublishedAt: parseTimestamp(post.PublishedAt),
		})
	}
	return items, nil
}

func parseTimestamp(v string) time.Time {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}
	}
	if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
		return t.UTC()
	}
	if sec, err := strconv.ParseInt(v, 10, 64); err == nil {
		return time.Unix(sec, 0).UTC()
	}
	return time.Time{}
}

var _ NewsFetcher = (*CryptoPanic)(nil)
