package detector

import (
	"math"
	"sort"

	"market-alerts/internal/model"
)

// RankMovers orders quotes by absolute 24h change descending, ties broken by
// instrument id ascending. limit <= 0 keeps all.
func RankMovers(snap *model.Snapshot, limit int) []model.Quote {
	quotes := snap.Quotes()
	sort.SliceStable(quotes, func(i, j int) bool {
		ai, aj := math.Abs(quotes[i].PercentChange24h), math.Abs(quotes[j].PercentChange24h)
		if ai != aj {
			return ai > aj
		}
		return quotes[i].InstrumentID < quotes[j].InstrumentID
	})
	if limit > 0 && len(quotes) > limit {
		quotes = quotes[:limit]
	}
	return quotes
}
