package service

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"market-alerts/internal/alerting"
	"market-alerts/internal/detector"
	"market-alerts/internal/model"
)

// PriceMoveEvent renders a tier crossing. The top band is critical.
func PriceMoveEvent(move detector.PriceMove, ladder *detector.Ladder, now time.Time) model.AlertEvent {
	q := move.Quote
	ev := model.NewEvent(model.KindPriceMove, q.InstrumentID, now)

	arrow := "▲"
	ev.Severity = model.SeverityPositive
	if !move.Tier.Up {
		arrow = "▼"
		ev.Severity = model.SeverityWarning
	}
	if ladder != nil && move.Tier.Band == ladder.Bands()-1 {
		ev.Severity = model.SeverityCritical
	}

	name := q.InstrumentID
	if q.Name != "" {
		name = fmt.Sprintf("%s (%s)", q.Name, q.InstrumentID)
	}
	ev.Title = fmt.Sprintf("%s %s %s", arrow, name, alerting.FormatPercent(q.PercentChange24h))
	ev.Description = fmt.Sprintf("24h move entered the %s %s band", move.Tier.Direction(), move.Tier.Label)

	ev.AddField("Price", alerting.FormatPrice(q.Value), true)
	ev.AddField("24h", alerting.FormatPercent(q.PercentChange24h), true)
	ev.AddField("Tier", move.Tier.Label, true)
	if move.Previous.Value != 0 {
		ev.AddField("Previous poll", alerting.FormatPrice(move.Previous.Value), true)
	}
	if q.Volume24h > 0 {
		ev.AddField("Volume 24h", alerting.FormatAmount(q.Volume24h), true)
	}
	if q.MarketCap > 0 {
		ev.AddField("Market cap", alerting.FormatAmount(q.MarketCap), true)
	}

	ev.Payload["price"] = q.Value
	ev.Payload["pct_change_24h"] = q.PercentChange24h
	ev.Payload["tier"] = move.Tier.Key()
	ev.Payload["prev_tier"] = move.PrevTier
	return ev
}

// NewsEvent renders one news item.
func NewsEvent(item model.NewsItem, now time.Time) model.AlertEvent {
	ev := model.NewEvent(model.KindNewsItem, "", now)
	ev.Title = item.Title
	ev.URL = item.URL
	if item.Source != "" {
		ev.AddField("Source", item.Source, true)
	}
	if !item.PublishedAt.IsZero() {
		ev.AddField("Published", item.PublishedAt.UTC().Format("2006-01-02 15:04 UTC"), true)
	}
	ev.Payload["news_id"] = item.ID
	return ev
}

// SentimentEvent renders a Fear & Greed shift.
func SentimentEvent(shift detector.SentimentShift, now time.Time) model.AlertEvent {
	ev := model.NewEvent(model.KindSentimentShift, "", now)
	ev.Severity = sentimentSeverity(shift.Current.Value)
	ev.Title = fmt.Sprintf("Fear & Greed: %s (%d)", shift.Current.Classification, shift.Current.Value)
	if !strings.EqualFold(shift.Previous.Classification, shift.Current.Classification) {
		ev.Description = fmt.Sprintf("Sentiment moved from %s to %s", shift.Previous.Classification, shift.Current.Classification)
	} else {
		ev.Description = fmt.Sprintf("Index moved %+d points", shift.Delta)
	}
	ev.AddField("Previous", fmt.Sprintf("%s (%d)", shift.Previous.Classification, shift.Previous.Value), true)
	ev.AddField("Change", fmt.Sprintf("%+d", shift.Delta), true)

	ev.Payload["value"] = shift.Current.Value
	ev.Payload["previous_value"] = shift.Previous.Value
	ev.Payload["classification"] = shift.Current.Classification
	return ev
}

func sentimentSeverity(v int) model.Severity {
	switch {
	case v <= 25:
		return model.SeverityCritical
	case v < 45:
		return model.SeverityWarning
	case v > 55:
		return model.SeverityPositive
	default:
		return model.SeverityInfo
	}
}

// TrendingEvent renders the coins that newly entered the trending list.
func TrendingEvent(coins []model.TrendingCoin, now time.Time) model.AlertEvent {
	ev := model.NewEvent(model.KindTrending, "", now)
	ev.Title = fmt.Sprintf("%d new trending coin(s)", len(coins))

	ids := make([]string, 0, len(coins))
	for _, c := range coins {
		value := "rank n/a"
		if c.MarketCapRank > 0 {
			value = "rank #" + strconv.Itoa(c.MarketCapRank)
		}
		if c.PercentChange24h != 0 {
			value += " · " + alerting.FormatPercent(c.PercentChange24h)
		}
		ev.AddField(fmt.Sprintf("%s (%s)", c.Name, c.Symbol), value, true)
		ids = append(ids, c.ID)
	}
	ev.Payload["coins"] = ids
	return ev
}

// GasEvent renders an Ethereum gas digest.
func GasEvent(r model.GasReading, now time.Time) model.AlertEvent {
	ev := model.NewEvent(model.KindReport, "ETH", now)
	ev.Title = "Ethereum gas"
	ev.AddField("Base fee", gwei(r.BaseFeeGwei), true)
	ev.AddField("Priority tip", gwei(r.TipGwei), true)
	ev.AddField("Gas price", gwei(r.GasPriceGwei), true)
	if r.BlockNumber > 0 {
		ev.AddField("Block", strconv.FormatUint(r.BlockNumber, 10), true)
	}
	ev.Payload["report"] = "gas"
	ev.Payload["base_fee_gwei"] = r.BaseFeeGwei
	ev.Payload["gas_price_gwei"] = r.GasPriceGwei
	return ev
}

func gwei(v float64) string {
	return decimal.NewFromFloat(v).StringFixed(2) + " gwei"
}

// FeeEvent renders a BTC fee digest.
func FeeEvent(f model.FeeEstimate, now time.Time) model.AlertEvent {
	ev := model.NewEvent(model.KindReport, "BTC", now)
	ev.Title = "Bitcoin fees"
	satvb := func(v float64) string { return decimal.NewFromFloat(v).String() + " sat/vB" }
	ev.AddField("Fastest", satvb(f.Fastest), true)
	ev.AddField("30 min", satvb(f.HalfHour), true)
	ev.AddField("1 hour", satvb(f.Hour), true)
	ev.AddField("Economy", satvb(f.Economy), true)
	ev.AddField("Minimum", satvb(f.Minimum), true)
	ev.Payload["report"] = "onchain_fees"
	ev.Payload["fastest"] = f.Fastest
	return ev
}

// SummaryEvent renders the daily top-movers digest in ranked order.
func SummaryEvent(movers []model.Quote, now time.Time) model.AlertEvent {
	ev := model.NewEvent(model.KindReport, "", now)
	ev.Title = "Daily top movers " + now.UTC().Format("2006-01-02")
	ranked := make([]string, 0, len(movers))
	for i, q := range movers {
		ev.AddField(fmt.Sprintf("%d. %s", i+1, q.InstrumentID),
			fmt.Sprintf("%s  %s", alerting.FormatPercent(q.PercentChange24h), alerting.FormatPrice(q.Value)), false)
		ranked = append(ranked, q.InstrumentID)
	}
	ev.Payload["report"] = "daily_summary"
	ev.Payload["ranked"] = ranked
	return ev
}
