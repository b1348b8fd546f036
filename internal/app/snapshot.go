package app

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	"go.opentelemetry.io/otel/trace/noop"

	"market-alerts/internal/alerting"
	"market-alerts/internal/detector"
	"market-alerts/internal/model"
)

// Snapshot fetches the tracked instruments once and prints them ranked by
// absolute 24h move, with the tier each would alert at.
func (a *App) Snapshot(ctx context.Context, out io.Writer, opts SnapshotOptions) error {
	ladder, err := a.newLadder()
	if err != nil {
		return err
	}
	sources := a.newSources(noop.NewTracerProvider().Tracer("snapshot"))
	snap, err := sources.Snapshot.FetchSnapshot(ctx)
	if err != nil {
		return err
	}
	return writeSnapshotTable(out, snap, ladder, opts.Top)
}

func writeSnapshotTable(out io.Writer, snap *model.Snapshot, ladder *detector.Ladder, top int) error {
	ranked := detector.RankMovers(snap, top)

	writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "#\tInstrument\tPrice\t24h\tTier\tVolume\tMarket cap")
	for i, q := range ranked {
		tier := "-"
		if t, ok := ladder.Classify(q.PercentChange24h); ok {
			tier = t.Key()
		}
		fmt.Fprintf(writer, "%d\t%s\t%s\t%s\t%s\t%s\t%s\n",
			i+1,
			q.InstrumentID,
			alerting.FormatPrice(q.Value),
			alerting.FormatPercent(q.PercentChange24h),
			tier,
			alerting.FormatAmount(q.Volume24h),
			alerting.FormatAmount(q.MarketCap),
		)
	}
	return writer.Flush()
}
