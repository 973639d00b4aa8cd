// Package trigger asks the scale for a fresh reading on demand and records it
// like any other ingested reading.
package trigger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"scalelog/internal/modules/readings/ingest"
	"scalelog/internal/modules/readings/types"
	"scalelog/internal/sim"
)

// Device produces one reading when asked. Implementations must return when
// ctx is done.
type Device interface {
	RequestReading(ctx context.Context) (float64, error)
}

// DeviceFunc adapts a function to Device.
type DeviceFunc func(ctx context.Context) (float64, error)

func (f DeviceFunc) RequestReading(ctx context.Context) (float64, error) { return f(ctx) }

type Ingester interface {
	Ingest(ctx context.Context, in ingest.Input) (ingest.Result, error)
}

var triggerDurationSeconds = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "scalelog_trigger_duration_seconds",
		Help:    "Time spent waiting for the device on a trigger, by result.",
		Buckets: prometheus.DefBuckets,
	},
	[]string{"result"},
)

type Service struct {
	device   Device
	ingester Ingester
	timeout  time.Duration
}

// NewService returns a trigger service. A nil device disables triggering.
func NewService(device Device, ingester Ingester, timeout time.Duration) *Service {
	return &Service{device: device, ingester: ingester, timeout: timeout}
}

func (s *Service) Enabled() bool { return s.device != nil }

// Trigger requests a reading and ingests it with source "trigger". Device
// failures surface as types.ErrTriggerTimeout or types.ErrDeviceUnavailable.
func (s *Service) Trigger(ctx context.Context) (ingest.Result, error) {
	if s.device == nil {
		return ingest.Result{}, types.ErrTriggerDisabled
	}

	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	value, err := s.device.RequestReading(callCtx)
	elapsed := time.Since(start)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || callCtx.Err() == context.DeadlineExceeded {
			triggerDurationSeconds.WithLabelValues("timeout").Observe(elapsed.Seconds())
			slog.Warn("device trigger timed out", "timeout", s.timeout, "error", err)
			return ingest.Result{}, fmt.Errorf("%w after %s", types.ErrTriggerTimeout, s.timeout)
		}
		triggerDurationSeconds.WithLabelValues("error").Observe(elapsed.Seconds())
		slog.Warn("device trigger failed", "error", err)
		return ingest.Result{}, fmt.Errorf("%w: %w", types.ErrDeviceUnavailable, err)
	}
	triggerDurationSeconds.WithLabelValues("ok").Observe(elapsed.Seconds())

	return s.ingester.Ingest(ctx, ingest.Input{Value: &value, Source: types.SourceTrigger})
}

// Simulator is an in-process Device backed by a simulated scale.
type Simulator struct {
	scale *sim.Scale
}

func NewSimulator(scale *sim.Scale) *Simulator {
	return &Simulator{scale: scale}
}

func (s *Simulator) RequestReading(ctx context.Context) (float64, error) {
	return s.scale.Read(ctx)
}
