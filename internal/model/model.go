package model

import (
	"time"

	"github.com/google/uuid"
)

// Quote is one instrument's reading inside a Snapshot.
type Quote struct {
	InstrumentID     string
	Name             string
	Value            float64
	PercentChange24h float64
	Volume24h        float64
	MarketCap        float64
	FetchedAt        time.Time
}

// Snapshot maps instrument ids to quotes and remembers the order the source
// returned them in. It is never mutated after NewSnapshot returns.
type Snapshot struct {
	quotes    map[string]Quote
	order     []string
	fetchedAt time.Time
}

// NewSnapshot builds a snapshot from quotes in source order. Later duplicates
// of the same instrument are dropped.
func NewSnapshot(fetchedAt time.Time, quotes []Quote) *Snapshot {
	s := &Snapshot{
		quotes:    make(map[string]Quote, len(quotes)),
		order:     make([]string, 0, len(quotes)),
		fetchedAt: fetchedAt,
	}
	for _, q := range quotes {
		if q.InstrumentID == "" {
			continue
		}
		if _, dup := s.quotes[q.InstrumentID]; dup {
			continue
		}
		if q.FetchedAt.IsZero() {
			q.FetchedAt = fetchedAt
		}
		s.quotes[q.InstrumentID] = q
		s.order = append(s.order, q.InstrumentID)
	}
	return s
}

// Get returns the quote for id.
func (s *Snapshot) Get(id string) (Quote, bool) {
	if s == nil {
		return Quote{}, false
	}
	q, ok := s.quotes[id]
	return q, ok
}

// Quotes returns the quotes in source order.
func (s *Snapshot) Quotes() []Quote {
	if s == nil {
		return nil
	}
	out := make([]Quote, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.quotes[id])
	}
	return out
}

// Len reports the number of instruments.
func (s *Snapshot) Len() int {
	if s == nil {
		return 0
	}
	return len(s.order)
}

// FetchedAt is when the source was polled.
func (s *Snapshot) FetchedAt() time.Time {
	if s == nil {
		return time.Time{}
	}
	return s.fetchedAt
}

// NewsItem is identified solely by ID.
type NewsItem struct {
	ID          string
	Title       string
	URL         string
	Source      string
	PublishedAt time.Time
}

// IndexValue is a Fear & Greed reading.
type IndexValue struct {
	Value          int
	Classification string
	Timestamp      time.Time
}

// GasReading is an Ethereum fee observation in gwei.
type GasReading struct {
	BaseFeeGwei  float64
	TipGwei      float64
	GasPriceGwei float64
	BlockNumber  uint64
	FetchedAt    time.Time
}

// TrendingCoin is one entry of a trending list.
type TrendingCoin struct {
	ID               string
	Symbol           string
	Name             string
	MarketCapRank    int
	PercentChange24h float64
}

// FeeEstimate holds recommended BTC fee rates in sat/vB.
type FeeEstimate struct {
	Fastest   float64
	HalfHour  float64
	Hour      float64
	Economy   float64
	Minimum   float64
	FetchedAt time.Time
}

// Kind classifies an AlertEvent.
type Kind string

const (
	KindPriceMove      Kind = "price_move"
	KindNewsItem       Kind = "news_item"
	KindSentimentShift Kind = "sentiment_shift"
	KindTrending       Kind = "trending"
	KindReport         Kind = "report"
	KindWebhookAlert   Kind = "webhook_alert"
	KindExchangeFill   Kind = "exchange_fill"
)

// Severity drives the presentation colour of a notification.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityPositive Severity = "positive"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Field is an ordered name/value pair rendered in a notification body.
type Field struct {
	Name   string
	Value  string
	Inline bool
}

// AlertEvent is created by a detector or webhook and consumed once by the dispatcher.
type AlertEvent struct {
	ID           string
	InstrumentID string
	Kind         Kind
	Severity     Severity
	Title        string
	Description  string
	URL          string
	Fields       []Field
	Payload      map[string]any
	Attachment   *Attachment
	DetectedAt   time.Time
}

// Attachment is a binary file sent along with an event, e.g. a chart.
type Attachment struct {
	Filename    string
	ContentType string
	Data        []byte
}

// NewEvent stamps a fresh id and detection time.
func NewEvent(kind Kind, instrumentID string, now time.Time) AlertEvent {
	return AlertEvent{
		ID:           uuid.NewString(),
		InstrumentID: instrumentID,
		Kind:         kind,
		Severity:     SeverityInfo,
		Payload:      map[string]any{},
		DetectedAt:   now.UTC(),
	}
}

// AddField appends a rendered field.
func (e *AlertEvent) AddField(name, value string, inline bool) {
	e.Fields = append(e.Fields, Field{Name: name, Value: value, Inline: inline})
}
