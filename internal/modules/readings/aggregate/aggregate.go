// Package aggregate buckets readings by calendar day and computes how much
// was consumed on each day.
package aggregate

import (
	"fmt"
	"strings"
	"time"

	"scalelog/internal/modules/readings/types"
)

const DateLayout = "2006-01-02"

// Method selects how a day's summary is computed.
type Method string

const (
	// Recomputed walks consecutive same-day pairs and adds every decrease.
	Recomputed Method = "recomputed"
	// Stored sums the derived values written at ingest time.
	Stored Method = "stored"
)

func ParseMethod(s string) (Method, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "recomputed", "":
		return Recomputed, nil
	case "stored":
		return Stored, nil
	default:
		return "", fmt.Errorf("unknown summary method %q (want recomputed or stored)", s)
	}
}

// Day is one calendar date with its readings in ascending order.
type Day struct {
	Date       string
	Logs       []types.Log
	DaySummary float64
}

// GroupByDay splits ascending readings into days of loc, oldest first.
func GroupByDay(readings []types.Reading, loc *time.Location, method Method) []Day {
	if loc == nil {
		loc = time.Local
	}
	var (
		days []Day
		cur  *Day
		prev *types.Reading
	)
	for i := range readings {
		r := &readings[i]
		date := r.RecordedAt.In(loc).Format(DateLayout)
		if cur == nil || cur.Date != date {
			days = append(days, Day{Date: date})
			cur = &days[len(days)-1]
			prev = nil
		}
		cur.Logs = append(cur.Logs, types.Log{Value: r.Value, Time: r.RecordedAt.UTC()})

		switch method {
		case Stored:
			if r.Derived != nil {
				cur.DaySummary += *r.Derived
			}
		default:
			if prev != nil && prev.Value > r.Value {
				cur.DaySummary += prev.Value - r.Value
			}
		}
		prev = r
	}
	return days
}

// Summary converts a Day to its response shape.
func (d Day) Summary() types.DaySummary {
	logs := d.Logs
	if logs == nil {
		logs = []types.Log{}
	}
	return types.DaySummary{DaySummary: d.DaySummary, Logs: logs}
}
