package service

import (
	"context"
	"fmt"
	"time"

	"market-alerts/internal/detector"
)

// RunGas posts the current Ethereum gas digest.
func (s *Service) RunGas(ctx context.Context, at time.Time) error {
	reading, err := s.sources.Gas.FetchGas(ctx)
	if err != nil {
		return fmt.Errorf("fetch gas: %w", err)
	}
	s.dispatch.Send(ctx, s.opts.Channels.Gas, GasEvent(reading, s.now()))
	return nil
}

// RunOnChain posts the current BTC fee digest.
func (s *Service) RunOnChain(ctx context.Context, at time.Time) error {
	fees, err := s.sources.Fees.FetchFees(ctx)
	if err != nil {
		return fmt.Errorf("fetch fees: %w", err)
	}
	s.dispatch.Send(ctx, s.opts.Channels.OnChain, FeeEvent(fees, s.now()))
	return nil
}

// RunDailySummary ranks the tracked instruments by absolute 24h move and
// posts the top movers, optionally with a bar chart.
func (s *Service) RunDailySummary(ctx context.Context, at time.Time) error {
	snap, err := s.sources.Snapshot.FetchSnapshot(ctx)
	if err != nil {
		return fmt.Errorf("fetch snapshot: %w", err)
	}

	movers := detector.RankMovers(snap, s.opts.SummaryTop)
	if len(movers) == 0 {
		s.logger.Info().Msg("daily summary skipped: empty snapshot")
		return nil
	}

	event := SummaryEvent(movers, s.now())
	if s.opts.SummaryChart {
		png, err := RenderMoversChart(movers)
		if err != nil {
			s.logger.Warn().Err(err).Msg("render movers chart failed")
		} else {
			event.Attachment = png
		}
	}
	s.dispatch.Send(ctx, s.opts.Channels.Summary, event)
	return nil
}

// RunRetention removes audit rows older than the retention window.
func (s *Service) RunRetention(ctx context.Context, at time.Time) error {
	cutoff := s.now().UTC().Add(-s.opts.Retention)
	deleted, err := s.alerts.DeleteAlertsBefore(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("apply retention: %w", err)
	}
	s.logger.Info().Time("cutoff", cutoff).Int64("deleted", deleted).Msg("alert retention applied")
	return nil
}
