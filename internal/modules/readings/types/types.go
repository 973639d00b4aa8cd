package types

import (
	"errors"
	"time"
)

var (
	ErrValidation        = errors.New("invalid request")
	ErrRejected          = errors.New("reading rejected")
	ErrStorage           = errors.New("storage error")
	ErrTriggerTimeout    = errors.New("device trigger timed out")
	ErrDeviceUnavailable = errors.New("device unavailable")
	ErrTriggerDisabled   = errors.New("device trigger disabled")
)

const (
	SourceHTTP    = "http"
	SourceMQTT    = "mqtt"
	SourceTrigger = "trigger"
)

// Reading is one stored scale sample. Readings are never updated or deleted.
type Reading struct {
	ID         string    `json:"id"`
	Value      float64   `json:"value"`
	RecordedAt time.Time `json:"recordedAt"`
	// Derived is the consumption since the previous reading, set only in delta mode.
	Derived *float64 `json:"derived,omitempty"`
	Source  string   `json:"source,omitempty"`
}

// Log is a reading as it appears inside a day bucket.
type Log struct {
	Value float64   `json:"value"`
	Time  time.Time `json:"time"`
}

// DaySummary is one calendar day: its readings in ascending time order and the
// amount consumed over the day.
type DaySummary struct {
	DaySummary float64 `json:"daySummary"`
	Logs       []Log   `json:"logs"`
}

type ChartPoint struct {
	Date       string  `json:"date"`
	DaySummary float64 `json:"daySummary"`
}
