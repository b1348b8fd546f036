package detector

import (
	"strings"

	"market-alerts/internal/model"
)

// SentimentShift describes a change in the Fear & Greed reading.
type SentimentShift struct {
	Previous model.IndexValue
	Current  model.IndexValue
	Delta    int
}

// DetectSentiment reports a shift when the classification changes or the
// value moves by at least minDelta points. A nil prev never shifts.
func DetectSentiment(prev *model.IndexValue, curr model.IndexValue, minDelta int) (SentimentShift, bool) {
	if prev == nil {
		return SentimentShift{}, false
	}
	delta := curr.Value - prev.Value
	shift := SentimentShift{Previous: *prev, Current: curr, Delta: delta}

	if !strings.EqualFold(strings.TrimSpace(prev.Classification), strings.TrimSpace(curr.Classification)) {
		return shift, true
	}
	if minDelta > 0 && abs(delta) >= minDelta {
		return shift, true
	}
	return SentimentShift{}, false
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
