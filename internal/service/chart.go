package service

import (
	"bytes"
	"fmt"
	"math"

	chart "github.com/wcharczuk/go-chart/v2"
	"github.com/wcharczuk/go-chart/v2/drawing"

	"market-alerts/internal/model"
)

var (
	gainColor = drawing.ColorFromHex("2ECC71")
	lossColor = drawing.ColorFromHex("E74C3C")
)

// RenderMoversChart draws a bar per mover sized by its 24h percent change.
func RenderMoversChart(movers []model.Quote) (*model.Attachment, error) {
	if len(movers) == 0 {
		return nil, fmt.Errorf("no movers to chart")
	}

	lo, hi := 0.0, 0.0
	bars := make([]chart.Value, 0, len(movers))
	for _, q := range movers {
		lo = math.Min(lo, q.PercentChange24h)
		hi = math.Max(hi, q.PercentChange24h)
		color := gainColor
		if q.PercentChange24h < 0 {
			color = lossColor
		}
		bars = append(bars, chart.Value{
			Label: q.InstrumentID,
			Value: q.PercentChange24h,
			Style: chart.Style{FillColor: color, StrokeColor: color},
		})
	}

	graph := chart.BarChart{
		Title:        "24h change (%)",
		Width:        960,
		Height:       540,
		BarWidth:     60,
		UseBaseValue: true,
		BaseValue:    0,
		Background:   chart.Style{Padding: chart.Box{Top: 40}},
		YAxis: chart.YAxis{
			Range: &chart.ContinuousRange{Min: lo - 1, Max: hi + 1},
			ValueFormatter: func(v interface{}) string {
				return chart.FloatValueFormatterWithFormat(v, "%.1f%%")
			},
		},
		Bars: bars,
	}

	var buf bytes.Buffer
	if err := graph.Render(chart.PNG, &buf); err != nil {
		return nil, fmt.Errorf("render movers chart: %w", err)
	}
	return &model.Attachment{Filename: "top-movers.png", ContentType: "image/png", Data: buf.Bytes()}, nil
}
