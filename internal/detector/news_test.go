package detector

import (
	"context"
	"testing"

	"market-alerts/internal/dedup"
	"market-alerts/internal/model"
)

func items(ids ...string) []model.NewsItem {
	out := make([]model.NewsItem, 0, len(ids))
	for _, id := range ids {
		out = append(out, model.NewsItem{ID: id, Title: "title " + id})
	}
	return out
}

func TestNewsDetectorReportsEachIDOnce(t *testing.T) {
	ctx := context.Background()
	store := dedup.NewMemoryStore()
	d := NewNewsDetector(store)

	fresh, err := d.Detect(ctx, items("A", "B"))
	if err != nil || len(fresh) != 2 {
		t.Fatalf("poll 1 should report A and B, got %v %v", fresh, err)
	}
	for _, id := range []string{"A", "B"} {
		if seen, _ := store.HasSeen(ctx, id); !seen {
			t.Fatalf("%s should be in the store", id)
		}
	}

	fresh, _ = d.Detect(ctx, items("A", "B", "C"))
	if len(fresh) != 1 || fresh[0].ID != "C" {
		t.Fatalf("poll 2 should report only C, got %+v", fresh)
	}

	fresh, _ = d.Detect(ctx, items("C", "B", "A"))
	if len(fresh) != 0 {
		t.Fatalf("poll 3 should report nothing, got %+v", fresh)
	}
}

func TestNewsDetectorSharedAcrossPipelines(t *testing.T) {
	ctx := context.Background()
	store := dedup.NewMemoryStore()
	a := NewNewsDetector(store)
	b := NewNewsDetector(store)

	if fresh, _ := a.Detect(ctx, items("X")); len(fresh) != 1 {
		t.Fatal("first detector should report X")
	}
	if fresh, _ := b.Detect(ctx, items("X")); len(fresh) != 0 {
		t.Fatal("second detector must not report X again")
	}
}

func TestNewsDetectorIgnoresBlankIDsAndBatchDuplicates(t *testing.T) {
	d := NewNewsDetector(dedup.NewMemoryStore())
	fresh, _ := d.Detect(context.Background(), items("", "  ", "Q", "Q"))
	if len(fresh) != 1 || fresh[0].ID != "Q" {
		t.Fatalf("expected single Q, got %+v", fresh)
	}
}
