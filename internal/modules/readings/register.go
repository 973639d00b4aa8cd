package readings

import (
	"log/slog"
	"net/http"
	"time"

	"scalelog/internal/modules/readings/aggregate"
	"scalelog/internal/modules/readings/controller"
	"scalelog/internal/modules/readings/ingest"
	"scalelog/internal/modules/readings/repository"
	"scalelog/internal/modules/readings/trigger"
)

type Options struct {
	Mode           ingest.Mode
	Method         aggregate.Method
	Location       *time.Location
	Device         trigger.Device // nil disables POST /trigger
	TriggerTimeout time.Duration
	MQTT           MQTTSubscriber // optional
	Logger         *slog.Logger
}

// Feature holds the services built for the readings module.
type Feature struct {
	Repository repository.ReadingRepository
	Ingest     *ingest.Service
	Summary    *aggregate.Service
	Trigger    *trigger.Service
}

func RegisterFeature(mux *http.ServeMux, repo repository.ReadingRepository, opts Options) *Feature {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	f := &Feature{Repository: repo}
	f.Ingest = ingest.NewService(repo, opts.Mode)
	f.Summary = aggregate.NewService(repo, opts.Location, opts.Method)
	f.Trigger = trigger.NewService(opts.Device, f.Ingest, opts.TriggerTimeout)

	readingsController := controller.NewReadingsController(controller.Deps{
		Store:   repo,
		Ingest:  f.Ingest,
		Summary: f.Summary,
		Trigger: f.Trigger,
	})
	readingsController.RegisterRoutes(mux)

	if opts.MQTT != nil {
		registerMQTTHandler(opts.MQTT, f.Ingest, logger)
	}

	logger.Info("readings feature registered",
		"mode", opts.Mode,
		"method", opts.Method,
		"location", f.Summary.Location().String(),
		"trigger", f.Trigger.Enabled(),
		"mqtt", opts.MQTT != nil,
	)
	return f
}
