package storage

import (
	"encoding/json"
	"time"
)

// AlertRecord captures a delivered alert for auditing, show and export.
type AlertRecord struct {
	ID           int64
	EventID      string
	Channel      string
	Kind         string
	Severity     string
	InstrumentID string
	Title        string
	Description  string
	URL          string
	Payload      json.RawMessage
	DetectedAt   time.Time
	CreatedAt    time.Time
}
