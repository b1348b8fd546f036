package detector

import (
	"fmt"
	"math"
	"sort"
	"strconv"
)

// DefaultBounds are the lower edges of the alert bands, in percent.
var DefaultBounds = []float64{5, 10, 20}

// Ladder buckets absolute percent changes into discrete alert bands. The
// first bound is the alert threshold; the last band is open ended.
type Ladder struct {
	bounds []float64
}

// NewLadder merges threshold into bounds, dropping bounds below it.
func NewLadder(threshold float64, bounds []float64) (*Ladder, error) {
	if threshold <= 0 || math.IsNaN(threshold) || math.IsInf(threshold, 0) {
		return nil, fmt.Errorf("threshold must be a positive number, got %v", threshold)
	}
	merged := []float64{threshold}
	for _, b := range bounds {
		if math.IsNaN(b) || math.IsInf(b, 0) {
			return nil, fmt.Errorf("invalid tier bound %v", b)
		}
		if b > threshold {
			merged = append(merged, b)
		}
	}
	sort.Float64s(merged)

	uniq := merged[:1]
	for _, b := range merged[1:] {
		if b != uniq[len(uniq)-1] {
			uniq = append(uniq, b)
		}
	}
	return &Ladder{bounds: uniq}, nil
}

// Threshold is the smallest change that can alert.
func (l *Ladder) Threshold() float64 {
	return l.bounds[0]
}

// Bands returns the number of bands.
func (l *Ladder) Bands() int {
	return len(l.bounds)
}

// Band returns the band index for an absolute change, or false below threshold.
func (l *Ladder) Band(abs float64) (int, bool) {
	if math.IsNaN(abs) || abs < l.bounds[0] {
		return 0, false
	}
	idx := sort.Search(len(l.bounds), func(i int) bool { return l.bounds[i] > abs }) - 1
	return idx, true
}

// Label renders band i as "10-20%" or "20%+".
func (l *Ladder) Label(i int) string {
	if i < 0 || i >= len(l.bounds) {
		return ""
	}
	lo := formatBound(l.bounds[i])
	if i == len(l.bounds)-1 {
		return lo + "%+"
	}
	return lo + "-" + formatBound(l.bounds[i+1]) + "%"
}

// Classify maps a signed percent change to a tier.
func (l *Ladder) Classify(pct float64) (Tier, bool) {
	band, ok := l.Band(math.Abs(pct))
	if !ok {
		return Tier{}, false
	}
	return Tier{Band: band, Label: l.Label(band), Up: pct >= 0}, true
}

func formatBound(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// Tier is a band plus direction. Moving from +12% to -12% is a new tier.
type Tier struct {
	Band  int
	Label string
	Up    bool
}

// Key is the value persisted in the dedup store.
func (t Tier) Key() string {
	if t.Label == "" {
		return ""
	}
	if t.Up {
		return "up:" + t.Label
	}
	return "down:" + t.Label
}

// Direction is "up" or "down".
func (t Tier) Direction() string {
	if t.Up {
		return "up"
	}
	return "down"
}
