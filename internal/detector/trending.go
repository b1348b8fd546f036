package detector

import "market-alerts/internal/model"

// NewTrendingEntries lists coins in curr that were absent from prev, in curr's
// order. When prevKnown is false (first poll) nothing is new.
func NewTrendingEntries(prev []model.TrendingCoin, prevKnown bool, curr []model.TrendingCoin) []model.TrendingCoin {
	if !prevKnown {
		return nil
	}
	before := make(map[string]struct{}, len(prev))
	for _, c := range prev {
		before[c.ID] = struct{}{}
	}
	var fresh []model.TrendingCoin
	for _, c := range curr {
		if _, ok := before[c.ID]; ok {
			continue
		}
		before[c.ID] = struct{}{}
		fresh = append(fresh, c)
	}
	return fresh
}
