package detector

import (
	"context"
	"testing"
	"time"

	"market-alerts/internal/dedup"
	"market-alerts/internal/model"
)

func snap(pairs ...any) *model.Snapshot {
	quotes := make([]model.Quote, 0, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		quotes = append(quotes, model.Quote{
			InstrumentID:     pairs[i].(string),
			PercentChange24h: pairs[i+1].(float64),
			Value:            100,
		})
	}
	return model.NewSnapshot(time.Unix(1700000000, 0), quotes)
}

func newPriceDetector(t *testing.T) *PriceDetector {
	t.Helper()
	l, err := NewLadder(5, DefaultBounds)
	if err != nil {
		t.Fatalf("NewLadder: %v", err)
	}
	return NewPriceDetector(l, dedup.NewMemoryStore())
}

func TestPriceDetectorFirstPollIsSilent(t *testing.T) {
	d := newPriceDetector(t)
	moves, err := d.Detect(context.Background(), nil, snap("BTC", 30.0))
	if err != nil || len(moves) != 0 {
		t.Fatalf("first poll must not alert: %v %v", moves, err)
	}
}

func TestPriceDetectorTierProgression(t *testing.T) {
	ctx := context.Background()
	d := newPriceDetector(t)

	poll1 := snap("BTC", 3.0)
	poll2 := snap("BTC", 12.0)
	moves, _ := d.Detect(ctx, poll1, poll2)
	if len(moves) != 1 || moves[0].Quote.InstrumentID != "BTC" || moves[0].Tier.Label != "10-20%" {
		t.Fatalf("expected one BTC move in 10-20%%, got %+v", moves)
	}

	poll3 := snap("BTC", 13.0)
	moves, _ = d.Detect(ctx, poll2, poll3)
	if len(moves) != 0 {
		t.Fatalf("same tier must not re-alert, got %+v", moves)
	}

	poll4 := snap("BTC", 22.0)
	moves, _ = d.Detect(ctx, poll3, poll4)
	if len(moves) != 1 || moves[0].Tier.Label != "20%+" {
		t.Fatalf("expected 20%%+ move, got %+v", moves)
	}
	if moves[0].PrevTier != "up:10-20%" {
		t.Fatalf("unexpected previous tier %q", moves[0].PrevTier)
	}
}

func TestPriceDetectorIdempotentOnIdenticalInput(t *testing.T) {
	ctx := context.Background()
	d := newPriceDetector(t)
	prev := snap("ETH", 1.0)
	curr := snap("ETH", -7.0)

	first, _ := d.Detect(ctx, prev, curr)
	second, _ := d.Detect(ctx, prev, curr)
	if len(first) != 1 || len(second) != 0 {
		t.Fatalf("expected 1 then 0 moves, got %d then %d", len(first), len(second))
	}
	if first[0].Tier.Direction() != "down" {
		t.Fatalf("expected down move, got %s", first[0].Tier.Direction())
	}
}

func TestPriceDetectorRealertsAfterFallingBelowThreshold(t *testing.T) {
	ctx := context.Background()
	d := newPriceDetector(t)

	moves, _ := d.Detect(ctx, snap("SOL", 0.0), snap("SOL", 6.0))
	if len(moves) != 1 {
		t.Fatalf("expected first crossing, got %d", len(moves))
	}
	moves, _ = d.Detect(ctx, snap("SOL", 6.0), snap("SOL", 2.0))
	if len(moves) != 0 {
		t.Fatalf("falling below threshold must not alert, got %d", len(moves))
	}
	moves, _ = d.Detect(ctx, snap("SOL", 2.0), snap("SOL", 6.5))
	if len(moves) != 1 {
		t.Fatalf("re-crossing should alert again, got %d", len(moves))
	}
}

func TestPriceDetectorSkipsInstrumentsMissingFromPrevious(t *testing.T) {
	ctx := context.Background()
	d := newPriceDetector(t)

	moves, _ := d.Detect(ctx, snap("BTC", 0.0), snap("DOGE", 40.0, "BTC", 9.0, "ETH", 11.0))
	if len(moves) != 1 || moves[0].Quote.InstrumentID != "BTC" {
		t.Fatalf("only BTC is comparable, got %+v", moves)
	}
}

func TestPriceDetectorKeepsSourceOrder(t *testing.T) {
	ctx := context.Background()
	d := newPriceDetector(t)

	prev := snap("XRP", 0.0, "ADA", 0.0, "BTC", 0.0)
	curr := snap("XRP", 6.0, "ADA", 25.0, "BTC", -11.0)
	moves, _ := d.Detect(ctx, prev, curr)
	if len(moves) != 3 {
		t.Fatalf("expected 3 moves, got %d", len(moves))
	}
	want := []string{"XRP", "ADA", "BTC"}
	for i, m := range moves {
		if m.Quote.InstrumentID != want[i] {
			t.Fatalf("position %d: got %s want %s", i, m.Quote.InstrumentID, want[i])
		}
	}
}
