package detector

import (
	"context"
	"errors"
	"fmt"

	"market-alerts/internal/dedup"
	"market-alerts/internal/model"
)

// PriceMove is a qualifying threshold crossing for one instrument.
type PriceMove struct {
	Quote    model.Quote
	Previous model.Quote
	Tier     Tier
	// PrevTier is the key recorded before this move, empty if none.
	PrevTier string
}

// PriceDetector emits a move whenever an instrument enters a tier it was not
// last alerted at.
type PriceDetector struct {
	ladder *Ladder
	store  dedup.Store
}

// NewPriceDetector binds a ladder to the shared tier state.
func NewPriceDetector(ladder *Ladder, store dedup.Store) *PriceDetector {
	return &PriceDetector{ladder: ladder, store: store}
}

// Ladder exposes the configured bands.
func (d *PriceDetector) Ladder() *Ladder {
	return d.ladder
}

// Detect compares curr with prev. With no prev nothing is emitted. Only
// instruments present in both snapshots are considered, in curr's order.
func (d *PriceDetector) Detect(ctx context.Context, prev, curr *model.Snapshot) ([]PriceMove, error) {
	if prev == nil || curr == nil {
		return nil, nil
	}

	var (
		moves []PriceMove
		errs  []error
	)
	for _, q := range curr.Quotes() {
		before, ok := prev.Get(q.InstrumentID)
		if !ok {
			continue
		}

		tier, crossed := d.ladder.Classify(q.PercentChange24h)
		if !crossed {
			if _, err := d.store.SwapTier(ctx, q.InstrumentID, ""); err != nil {
				errs = append(errs, fmt.Errorf("clear tier %s: %w", q.InstrumentID, err))
			}
			continue
		}

		prevKey, err := d.store.SwapTier(ctx, q.InstrumentID, tier.Key())
		if err != nil {
			errs = append(errs, fmt.Errorf("swap tier %s: %w", q.InstrumentID, err))
			continue
		}
		if prevKey == tier.Key() {
			continue
		}
		moves = append(moves, PriceMove{Quote: q, Previous: before, Tier: tier, PrevTier: prevKey})
	}
	return moves, errors.Join(errs...)
}
