package readings

import (
	"context"
	"log/slog"

	"scalelog/internal/modules/readings/ingest"
	"scalelog/internal/modules/readings/types"
	"scalelog/internal/mqtt"
	"scalelog/internal/shared"
)

// MQTTSubscriber receives readings pushed by devices.
type MQTTSubscriber interface {
	SetReadingHandler(h mqtt.ReadingHandler)
}

type ingester interface {
	Ingest(ctx context.Context, in ingest.Input) (ingest.Result, error)
}

// registerMQTTHandler feeds pushed readings through the ingest service. Only
// store failures are returned; rejections and skips are logged.
func registerMQTTHandler(subscriber MQTTSubscriber, svc ingester, logger *slog.Logger) {
	subscriber.SetReadingHandler(func(ctx context.Context, msg shared.ReadingMessage) error {
		logger.Debug("processing reading message",
			"device_id", msg.DeviceID,
			"recorded_at", msg.RecordedAt,
		)

		res, err := svc.Ingest(ctx, ingest.Input{
			Value:      msg.Value,
			RecordedAt: msg.RecordedAt,
			Source:     types.SourceMQTT,
		})
		if err != nil {
			logger.Error("failed to ingest reading",
				"device_id", msg.DeviceID,
				"error", err,
			)
			return err
		}

		logger.Debug("reading processed",
			"device_id", msg.DeviceID,
			"outcome", res.Outcome,
			"message", res.Message,
		)
		return nil
	})
}
