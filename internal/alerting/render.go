package alerting

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"market-alerts/internal/model"
)

// SeverityColor maps a severity onto an RGB embed colour.
func SeverityColor(s model.Severity) int {
	switch s {
	case model.SeverityPositive:
		return 0x2ECC71
	case model.SeverityWarning:
		return 0xF1C40F
	case model.SeverityCritical:
		return 0xE74C3C
	default:
		return 0x3498DB
	}
}

// RenderText flattens an event into a plain-text message body.
func RenderText(event model.AlertEvent) string {
	builder := strings.Builder{}
	if event.Title != "" {
		builder.WriteString(event.Title)
		builder.WriteString("\n")
	}
	if event.Description != "" {
		builder.WriteString(event.Description)
		builder.WriteString("\n")
	}
	for _, f := range event.Fields {
		builder.WriteString(fmt.Sprintf("%s: %s\n", f.Name, f.Value))
	}
	if event.URL != "" {
		builder.WriteString(event.URL)
		builder.WriteString("\n")
	}
	return strings.TrimRight(builder.String(), "\n")
}

// FormatPrice renders a quote value with precision scaled to its magnitude.
func FormatPrice(v float64) string {
	d := decimal.NewFromFloat(v)
	abs := d.Abs()
	switch {
	case abs.GreaterThanOrEqual(decimal.NewFromInt(1000)):
		return "$" + d.StringFixed(0)
	case abs.GreaterThanOrEqual(decimal.NewFromInt(1)):
		return "$" + d.StringFixed(2)
	case abs.IsZero():
		return "$0"
	default:
		return "$" + d.StringFixed(6)
	}
}

// FormatPercent renders a signed percentage with two decimals.
func FormatPercent(p float64) string {
	d := decimal.NewFromFloat(p).Round(2)
	if d.IsPositive() {
		return "+" + d.StringFixed(2) + "%"
	}
	return d.StringFixed(2) + "%"
}

// FormatAmount renders a large quantity with K/M/B suffixes.
func FormatAmount(v float64) string {
	d := decimal.NewFromFloat(v)
	abs := d.Abs()
	units := []struct {
		scale  decimal.Decimal
		suffix string
	}{
		{decimal.NewFromInt(1_000_000_000), "B"},
		{decimal.NewFromInt(1_000_000), "M"},
		{decimal.NewFromInt(1_000), "K"},
	}
	for _, u := range units {
		if abs.GreaterThanOrEqual(u.scale) {
			return d.Div(u.scale).StringFixed(2) + u.suffix
		}
	}
	return d.StringFixed(2)
}
