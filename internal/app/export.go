package app

import (
	"context"
	"encoding/csv"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	chart "github.com/wcharczuk/go-chart/v2"

	"market-alerts/internal/storage"
)

const defaultExportWindow = 7 * 24 * time.Hour

// Export writes the alert audit log as CSV and/or a PNG of alert counts over time.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}

	opts.MaxRows = a.Config.ResolveMaxRows(opts.MaxRows)

	to := time.Now().UTC()
	if opts.To != nil {
		to = opts.To.UTC()
	}
	from := to.Add(-defaultExportWindow)
	if opts.From != nil {
		from = opts.From.UTC()
	}
	if !from.Before(to) {
		return errors.New("from must be before to")
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot export")
	}
	if closeStore != nil {
		defer closeStore()
	}

	alerts, err := store.ListAlertsBetween(ctx, from, to, opts.MaxRows)
	if err != nil {
		return err
	}
	if len(alerts) == 0 {
		a.Logger.Info().Time("from", from).Time("to", to).Msg("no alerts found for export window")
		return nil
	}
	a.Logger.Info().Int("exported", len(alerts)).Int("max_rows", opts.MaxRows).Msg("exporting alerts")

	if opts.CSVPath != "" {
		if err := writeFile(opts.CSVPath, func(w io.Writer) error { return writeAlertsCSV(w, alerts) }); err != nil {
			return err
		}
	}

	if opts.PNGPath != "" {
		if err := writeFile(opts.PNGPath, func(w io.Writer) error { return writeAlertsPNG(w, alerts, from, to) }); err != nil {
			return err
		}
	}

	return nil
}

func writeFile(path string, write func(io.Writer) error) error {
	if err := ensureDir(path); err != nil {
		return err
	}
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := write(file); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}

func writeAlertsCSV(w io.Writer, alerts []storage.AlertRecord) error {
	writer := csv.NewWriter(w)

	header := []string{"created_at", "detected_at", "event_id", "channel", "kind", "severity", "instrument_id", "title", "url", "payload"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, rec := range alerts {
		record := []string{
			rec.CreatedAt.UTC().Format(time.RFC3339),
			rec.DetectedAt.UTC().Format(time.RFC3339),
			rec.EventID,
			rec.Channel,
			rec.Kind,
			rec.Severity,
			rec.InstrumentID,
			sanitizeInline(rec.Title),
			rec.URL,
			string(rec.Payload),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}

// bucketSize picks hourly buckets for windows up to a week, daily otherwise.
func bucketSize(from, to time.Time) time.Duration {
	if to.Sub(from) <= defaultExportWindow {
		return time.Hour
	}
	return 24 * time.Hour
}

// countByKind returns contiguous bucket starts and, per kind, the number of
// alerts created in each bucket. At least two buckets are always returned.
func countByKind(alerts []storage.AlertRecord, from, to time.Time) ([]time.Time, map[string][]float64) {
	size := bucketSize(from, to)
	start := from.Truncate(size)
	var buckets []time.Time
	for t := start; !t.After(to); t = t.Add(size) {
		buckets = append(buckets, t)
	}
	if len(buckets) < 2 {
		buckets = append(buckets, start.Add(size))
	}

	counts := make(map[string][]float64)
	for _, rec := range alerts {
		idx := int(rec.CreatedAt.UTC().Sub(start) / size)
		if idx < 0 || idx >= len(buckets) {
			continue
		}
		series, ok := counts[rec.Kind]
		if !ok {
			series = make([]float64, len(buckets))
			counts[rec.Kind] = series
		}
		series[idx]++
	}
	return buckets, counts
}

func writeAlertsPNG(w io.Writer, alerts []storage.AlertRecord, from, to time.Time) error {
	buckets, counts := countByKind(alerts, from, to)

	kinds := make([]string, 0, len(counts))
	for kind := range counts {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)

	peak := 1.0
	series := make([]chart.Series, 0, len(kinds))
	for _, kind := range kinds {
		values := counts[kind]
		for _, v := range values {
			if v > peak {
				peak = v
			}
		}
		series = append(series, chart.TimeSeries{
			Name:    kind,
			XValues: buckets,
			YValues: values,
		})
	}

	graph := chart.Chart{
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: chart.YAxis{
			Name:  "Alerts",
			Range: &chart.ContinuousRange{Min: 0, Max: peak + 1},
			ValueFormatter: func(v interface{}) string {
				if f, ok := v.(float64); ok {
					return strconv.Itoa(int(f))
				}
				return ""
			},
		},
		Series: series,
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	return graph.Render(chart.PNG, w)
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
