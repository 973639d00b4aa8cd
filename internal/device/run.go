// Package device runs a simulated scale on the MQTT device channel.
package device

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"scalelog/internal/config"
	"scalelog/internal/shared"
	"scalelog/internal/sim"
)

type publisher interface {
	PublishReading(msg shared.ReadingMessage) error
	PublishTriggerResponse(resp shared.TriggerResponse) error
}

// Agent answers trigger requests and pushes periodic readings from a
// simulated scale.
type Agent struct {
	cfg   config.DeviceConfig
	scale *sim.Scale
	pub   publisher
	now   func() time.Time

	mu  sync.Mutex
	seq int
}

func NewAgent(cfg config.DeviceConfig, scale *sim.Scale, pub publisher) *Agent {
	return &Agent{cfg: cfg, scale: scale, pub: pub, now: time.Now}
}

// HandleTrigger measures and replies to req. A failed measurement is
// reported to the server in the response.
func (a *Agent) HandleTrigger(ctx context.Context, req shared.TriggerRequest) {
	resp := shared.TriggerResponse{RequestID: req.RequestID}
	v, err := a.scale.Read(ctx)
	if err != nil {
		resp.Error = err.Error()
	} else {
		resp.Value = &v
	}
	if err := a.pub.PublishTriggerResponse(resp); err != nil {
		slog.Error("publish trigger response failed", "request_id", req.RequestID, "error", err)
		return
	}
	slog.Info("answered trigger", "request_id", req.RequestID, "value", v)
}

// PublishOnce pushes the next simulated reading.
func (a *Agent) PublishOnce() error {
	a.mu.Lock()
	a.seq++
	seq := a.seq
	a.mu.Unlock()

	v := a.scale.Next()
	at := a.now().UTC()
	return a.pub.PublishReading(shared.ReadingMessage{
		DeviceID:   a.cfg.DeviceID,
		Value:      &v,
		RecordedAt: &at,
		Sequence:   &seq,
	})
}

// Loop publishes a reading every PublishInterval until ctx ends. It returns
// immediately when the interval is zero.
func (a *Agent) Loop(ctx context.Context) error {
	if a.cfg.PublishInterval <= 0 {
		return nil
	}
	ticker := time.NewTicker(a.cfg.PublishInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := a.PublishOnce(); err != nil {
				slog.Warn("publish reading failed", "error", err)
			}
		}
	}
}

// Run connects to the broker and serves as the configured device until ctx
// is cancelled.
func Run(ctx context.Context, cfg config.DeviceConfig) error {
	slog.Info("initializing scale simulator",
		"mqtt_broker", cfg.MQTTBroker,
		"mqtt_port", cfg.MQTTPort,
		"mqtt_client_id", cfg.MQTTClientID,
		"device_id", cfg.DeviceID,
	)

	scale := sim.NewScale(cfg.SimSeed, cfg.StartWeight, cfg.SimMaxDelay)

	var agent *Agent
	client := NewClient(cfg, slog.Default(), func(req shared.TriggerRequest) {
		go agent.HandleTrigger(ctx, req)
	})
	agent = NewAgent(cfg, scale, client)

	if err := client.Connect(ctx); err != nil {
		return err
	}
	defer client.Disconnect()

	if err := agent.Loop(ctx); err != nil {
		slog.Info("scale simulator shutting down")
		return err
	}
	<-ctx.Done()

	slog.Info("scale simulator shutting down")
	return nil
}
