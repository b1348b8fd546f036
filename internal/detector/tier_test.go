package detector

import "testing"

func TestLadderBands(t *testing.T) {
	l, err := NewLadder(5, DefaultBounds)
	if err != nil {
		t.Fatalf("NewLadder: %v", err)
	}

	cases := []struct {
		pct   float64
		ok    bool
		label string
	}{
		{3, false, ""},
		{4.999, false, ""},
		{5, true, "5-10%"},
		{9.99, true, "5-10%"},
		{10, true, "10-20%"},
		{12, true, "10-20%"},
		{20, true, "20%+"},
		{150, true, "20%+"},
	}
	for _, tc := range cases {
		tier, ok := l.Classify(tc.pct)
		if ok != tc.ok {
			t.Fatalf("pct %v: crossed=%v want %v", tc.pct, ok, tc.ok)
		}
		if ok && tier.Label != tc.label {
			t.Fatalf("pct %v: label %q want %q", tc.pct, tier.Label, tc.label)
		}
	}
}

func TestLadderDirectionIsPartOfKey(t *testing.T) {
	l, _ := NewLadder(5, DefaultBounds)
	up, _ := l.Classify(12)
	down, _ := l.Classify(-12)
	if up.Key() == down.Key() {
		t.Fatalf("direction should distinguish tiers: %s", up.Key())
	}
	if down.Key() != "down:10-20%" {
		t.Fatalf("unexpected key %s", down.Key())
	}
}

func TestNewLadderMergesThreshold(t *testing.T) {
	l, err := NewLadder(7.5, []float64{5, 10, 10, 25})
	if err != nil {
		t.Fatalf("NewLadder: %v", err)
	}
	if l.Threshold() != 7.5 || l.Bands() != 3 {
		t.Fatalf("unexpected ladder: threshold=%v bands=%d", l.Threshold(), l.Bands())
	}
	if got := l.Label(0); got != "7.5-10%" {
		t.Fatalf("unexpected label %q", got)
	}

	if _, err := NewLadder(0, nil); err == nil {
		t.Fatal("zero threshold should be rejected")
	}
}
