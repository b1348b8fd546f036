package fetcher

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/xml"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"

	"market-alerts/internal/model"
)

// RSSOptions parameterise the RSS news fetcher.
type RSSOptions struct {
	FeedURL  string
	MaxItems int
	Timeout  time.Duration
	Tracer   trace.Tracer
}

// RSS reads news items from a single RSS 2.0 feed.
type RSS struct {
	httpSource
	opts RSSOptions
}

// NewRSS constructs an RSS fetcher. The feed URL is used verbatim.
func NewRSS(opts RSSOptions, logger zerolog.Logger) *RSS {
	if opts.MaxItems <= 0 {
		opts.MaxItems = 40
	}
	src := newHTTPSource("rss", "", "", opts.Timeout, opts.Tracer, logger)
	src.baseURL = strings.TrimSpace(opts.FeedURL)
	return &RSS{httpSource: src, opts: opts}
}

type rssDocument struct {
	Channel struct {
		Title string `xml:"title"`
		Items []struct {
			Title   string `xml:"title"`
			Link    string `xml:"link"`
			GUID    string `xml:"guid"`
			PubDate string `xml:"pubDate"`
		} `xml:"item"`
	} `xml:"channel"`
}

// FetchNews returns feed items in document order. Item ids fall back from
// guid to link to a hash of title and publication date.
func (r *RSS) FetchNews(ctx context.Context) ([]model.NewsItem, error) {
	if r.baseURL == "" {
		return nil, fetchErr(r.name, 0, errors.New("feed url not configured"))
	}

	body, err := r.get(ctx, "", nil, "application/rss+xml, application/xml, text/xml")
	if err != nil {
		return nil, err
	}

	var doc rssDocument
	if err := xml.Unmarshal(body, &doc); err != nil {
		return nil, fetchErr(r.name, 0, fmt.Errorf("decode rss payload: %w", err))
	}

	items := make([]model.NewsItem, 0, min(r.opts.MaxItems, len(doc.Channel.Items)))
	for _, row := range doc.Channel.Items {
		if len(items) >= r.opts.MaxItems {
			break
		}
		title := strings.TrimSpace(row.Title)
		if title == "" {
			continue
		}
		published := parseRSSDate(row.PubDate)
		id := strings.TrimSpace(row.GUID)
		if id == "" {
			id = strings.TrimSpace(row.Link)
		}
		if id == "" {
			sum := sha1.Sum([]byte(title + "|" + published.Format(time.RFC3339Nano)))
			id = hex.EncodeToString(sum[:])
		}
		items = append(items, model.NewsItem{
			ID:          id,
			Title:       title,
			URL:         strings.TrimSpace(row.Link),
			Source:      strings.TrimSpace(doc.Channel.Title),
			PublishedAt: published,
		})
	}
	return items, nil
}

func parseRSSDate(v string) time.Time {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}
	}
	layouts := []string{time.RFC1123Z, time.RFC1123, time.RFC822Z, time.RFC822, time.RFC3339}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, v); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

var _ NewsFetcher = (*RSS)(nil)
