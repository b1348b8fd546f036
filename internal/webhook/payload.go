package webhook

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"market-alerts/internal/alerting"
	"market-alerts/internal/model"
)

const (
	maxNumberLen      = 64
	maxNumberExponent = 30
	maxNumberDigits   = 40
)

// number accepts a JSON number, a numeric string or null. Values must be
// finite with a bounded exponent and digit count.
type number struct {
	value decimal.Decimal
	set   bool
}

func (n *number) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*n = number{}
		return nil
	}
	raw := string(data)
	if len(data) > 0 && data[0] == '"' {
		if err := json.Unmarshal(data, &raw); err != nil {
			return err
		}
		raw = strings.TrimSpace(raw)
		if raw == "" {
			*n = number{}
			return nil
		}
	}
	if len(raw) > maxNumberLen {
		return fmt.Errorf("number too long (%d bytes)", len(raw))
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return fmt.Errorf("invalid number %s", strconv.Quote(raw))
	}
	if exp := d.Exponent(); exp > maxNumberExponent || exp < -maxNumberExponent {
		return fmt.Errorf("number %s out of range", strconv.Quote(raw))
	}
	if d.NumDigits() > maxNumberDigits {
		return fmt.Errorf("number %s has too many digits", strconv.Quote(raw))
	}
	if f := d.InexactFloat64(); math.IsInf(f, 0) || math.IsNaN(f) {
		return fmt.Errorf("number %s is not finite", strconv.Quote(raw))
	}
	*n = number{value: d, set: true}
	return nil
}

// AlertRequest is a generic trading-tool alert.
type AlertRequest struct {
	Symbol  string `json:"symbol"`
	Message string `json:"message"`
	Action  string `json:"action"`
	Price   number `json:"price"`
}

// ExchangeRequest is an exchange fill or order notification.
type ExchangeRequest struct {
	Type   string `json:"type"`
	Symbol string `json:"symbol"`
	Side   string `json:"side"`
	Amount number `json:"amount"`
	Price  number `json:"price"`
}

func sideSeverity(side string) model.Severity {
	switch strings.ToLower(strings.TrimSpace(side)) {
	case "buy", "long":
		return model.SeverityPositive
	case "sell", "short":
		return model.SeverityWarning
	default:
		return model.SeverityInfo
	}
}

func orDefault(v, fallback string) string {
	if v = strings.TrimSpace(v); v == "" {
		return fallback
	}
	return v
}

// AlertEvent normalizes the request.
func (r AlertRequest) AlertEvent(now time.Time) model.AlertEvent {
	symbol := strings.ToUpper(strings.TrimSpace(r.Symbol))
	action := strings.ToUpper(strings.TrimSpace(r.Action))

	ev := model.NewEvent(model.KindWebhookAlert, symbol, now)
	ev.Severity = sideSeverity(r.Action)
	ev.Title = strings.TrimSpace(fmt.Sprintf("Trading alert %s %s", orDefault(symbol, "?"), action))
	ev.Description = strings.TrimSpace(r.Message)

	ev.AddField("Symbol", orDefault(symbol, "-"), true)
	ev.AddField("Action", orDefault(action, "-"), true)
	if r.Price.set {
		ev.AddField("Price", alerting.FormatPrice(r.Price.value.InexactFloat64()), true)
		ev.Payload["price"] = r.Price.value.String()
	}
	ev.Payload["source"] = "webhook"
	ev.Payload["action"] = action
	return ev
}

// AlertEvent normalizes the request.
func (r ExchangeRequest) AlertEvent(now time.Time) model.AlertEvent {
	symbol := strings.ToUpper(strings.TrimSpace(r.Symbol))
	side := strings.ToUpper(strings.TrimSpace(r.Side))
	kind := orDefault(r.Type, "fill")

	ev := model.NewEvent(model.KindExchangeFill, symbol, now)
	ev.Severity = sideSeverity(r.Side)

	title := fmt.Sprintf("Exchange %s: %s %s", kind, orDefault(side, "?"), orDefault(symbol, "?"))
	if r.Amount.set {
		title = fmt.Sprintf("Exchange %s: %s %s %s", kind, orDefault(side, "?"), r.Amount.value.String(), orDefault(symbol, "?"))
	}
	if r.Price.set {
		title += " @ " + r.Price.value.String()
	}
	ev.Title = title

	ev.AddField("Type", kind, true)
	ev.AddField("Side", orDefault(side, "-"), true)
	if r.Amount.set {
		ev.AddField("Amount", r.Amount.value.String(), true)
		ev.Payload["amount"] = r.Amount.value.String()
	}
	if r.Price.set {
		ev.AddField("Price", alerting.FormatPrice(r.Price.value.InexactFloat64()), true)
		ev.Payload["price"] = r.Price.value.String()
	}
	if r.Amount.set && r.Price.set {
		ev.AddField("Notional", r.Amount.value.Mul(r.Price.value).StringFixed(2), true)
	}
	ev.Payload["source"] = "exchange"
	ev.Payload["side"] = side
	return ev
}
