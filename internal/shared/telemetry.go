// Package shared holds the MQTT wire messages exchanged by the server and
// scale devices, and the topic layout they agree on.
package shared

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

// ReadingMessage is pushed by a device on <prefix>/<device>/readings.
type ReadingMessage struct {
	DeviceID   string     `json:"device_id"`
	Value      *float64   `json:"value"`
	RecordedAt *time.Time `json:"recorded_at,omitempty"`
	Sequence   *int       `json:"sequence,omitempty"`
}

// Validate checks the fields the server relies on.
func (m ReadingMessage) Validate() error {
	if m.DeviceID == "" {
		return errors.New("device_id is required")
	}
	if m.Value == nil {
		return errors.New("value is required")
	}
	if math.IsNaN(*m.Value) || math.IsInf(*m.Value, 0) {
		return fmt.Errorf("value must be finite, got %v", *m.Value)
	}
	return nil
}

// TriggerRequest asks a device for a fresh reading.
type TriggerRequest struct {
	RequestID string `json:"request_id"`
}

// TriggerResponse answers a TriggerRequest with either Value or Error.
type TriggerResponse struct {
	RequestID string   `json:"request_id"`
	Value     *float64 `json:"value,omitempty"`
	Error     string   `json:"error,omitempty"`
}

func ReadingsTopic(prefix, deviceID string) string {
	return prefix + "/" + deviceID + "/readings"
}

// ReadingsWildcard matches the readings topic of every device.
func ReadingsWildcard(prefix string) string {
	return prefix + "/+/readings"
}

func TriggerTopic(prefix, deviceID string) string {
	return prefix + "/" + deviceID + "/trigger"
}

func TriggerResponseTopic(prefix, deviceID string) string {
	return prefix + "/" + deviceID + "/trigger/response"
}

// DeviceFromTopic extracts the device segment of a <prefix>/<device>/... topic.
func DeviceFromTopic(prefix, topic string) (string, bool) {
	rest, ok := strings.CutPrefix(topic, prefix+"/")
	if !ok {
		return "", false
	}
	device, _, ok := strings.Cut(rest, "/")
	if !ok || device == "" {
		return "", false
	}
	return device, true
}
