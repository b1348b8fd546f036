package detector

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"market-alerts/internal/dedup"
	"market-alerts/internal/model"
)

// NewsDetector filters items whose id has never been notified.
type NewsDetector struct {
	store dedup.Store
}

// NewNewsDetector shares store with every other news pipeline.
func NewNewsDetector(store dedup.Store) *NewsDetector {
	return &NewsDetector{store: store}
}

// Detect returns unseen items in input order and marks them seen.
func (d *NewsDetector) Detect(ctx context.Context, items []model.NewsItem) ([]model.NewsItem, error) {
	var (
		fresh []model.NewsItem
		errs  []error
	)
	for _, item := range items {
		id := strings.TrimSpace(item.ID)
		if id == "" {
			continue
		}
		inserted, err := d.store.MarkIfUnseen(ctx, id)
		if err != nil {
			errs = append(errs, fmt.Errorf("mark news %s: %w", id, err))
			continue
		}
		if inserted {
			fresh = append(fresh, item)
		}
	}
	return fresh, errors.Join(errs...)
}
