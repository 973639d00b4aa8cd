package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"scalelog/internal/config"
	"scalelog/internal/db"
	"scalelog/internal/httpapi"
	"scalelog/internal/migrate"
	"scalelog/internal/modules/readings"
	"scalelog/internal/modules/readings/repository"
	"scalelog/internal/modules/readings/trigger"
	"scalelog/internal/mqtt"
	"scalelog/internal/sim"
)

const (
	mqttConnectTimeout = 5 * time.Second
	shutdownTimeout    = 10 * time.Second
	simStartWeight     = 500
)

// Run serves the HTTP API until ctx is cancelled. If ready is non-nil it
// receives the bound listen address once the server accepts connections.
func Run(ctx context.Context, cfg config.Config, logger *slog.Logger, ready chan<- string) error {
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("config loaded",
		"appEnv", cfg.AppEnv,
		"logLevel", cfg.LogLevel.String(),
		"httpAddr", cfg.HTTPAddr,
		"dbDriver", cfg.DBDriver,
		"sqlitePath", cfg.SQLitePath,
		"dbMaxOpenConns", cfg.DBMaxOpenConns,
		"dbLogSQL", cfg.DBLogSQL,
		"ingestMode", cfg.IngestMode,
		"summaryMethod", cfg.SummaryMethod,
		"summaryTZ", cfg.SummaryLocation.String(),
		"triggerMode", cfg.TriggerMode,
		"triggerTimeout", cfg.TriggerTimeout,
		"mqttEnabled", cfg.MQTTEnabled,
		"mqttBroker", cfg.MQTTBroker,
		"mqttPort", cfg.MQTTPort,
		"mqttTopicPrefix", cfg.MQTTTopicPrefix,
	)

	repo, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	var mqttClient *mqtt.Client
	if cfg.MQTTEnabled {
		mqttClient, err = mqtt.NewClient(cfg, logger)
		if err != nil {
			return fmt.Errorf("mqtt client: %w", err)
		}
	}

	device, err := selectDevice(cfg, mqttClient)
	if err != nil {
		return err
	}

	mux := httpapi.NewMux(repo)
	opts := readings.Options{
		Mode:           cfg.IngestMode,
		Method:         cfg.SummaryMethod,
		Location:       cfg.SummaryLocation,
		Device:         device,
		TriggerTimeout: cfg.TriggerTimeout,
		Logger:         logger,
	}
	// The reading handler must be installed before Connect so messages the
	// broker delivers right after CONNACK are not dropped.
	if mqttClient != nil {
		opts.MQTT = mqttClient
	}
	readings.RegisterFeature(mux, repo, opts)

	if mqttClient != nil {
		connectCtx, connectCancel := context.WithTimeout(ctx, mqttConnectTimeout)
		err = mqttClient.Connect(connectCtx)
		connectCancel()
		if err != nil {
			// HTTP ingest and /healthz keep working without a broker.
			logger.Warn("mqtt connection failed (continuing without mqtt)", "error", err)
		}
		defer func() {
			logger.Info("mqtt disconnecting")
			mqttClient.Disconnect()
		}()
	}

	srv := httpapi.NewServer(cfg, mux)
	ln, err := net.Listen("tcp", cfg.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", cfg.HTTPAddr, err)
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http listening", "addr", ln.Addr().String())
		errCh <- srv.Serve(ln)
	}()
	if ready != nil {
		ready <- ln.Addr().String()
	}

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	logger.Info("http shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}

	err = <-errCh
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return ctx.Err()
}

// openStore opens and migrates the configured backend. The returned func
// releases it.
func openStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (repository.ReadingRepository, func(), error) {
	switch cfg.DBDriver {
	case config.DriverPostgres:
		pool, err := db.OpenPostgres(ctx, cfg)
		if err != nil {
			return nil, nil, err
		}
		if err := repository.EnsureSchema(ctx, pool); err != nil {
			pool.Close()
			return nil, nil, err
		}
		logger.Info("database connection successful", "driver", cfg.DBDriver)
		return repository.NewPostgresRepository(pool), pool.Close, nil

	default:
		dbConn, err := db.Open(cfg, logger)
		if err != nil {
			return nil, nil, err
		}
		closeFn := func() {
			if err := db.Close(dbConn); err != nil {
				logger.Error("db close", "error", err)
			}
		}
		applied, err := migrate.Run(dbConn)
		if err != nil {
			closeFn()
			return nil, nil, err
		}
		logger.Info("database connection successful", "driver", cfg.DBDriver, "migrationsApplied", applied)
		return repository.NewRepository(dbConn), closeFn, nil
	}
}

// selectDevice returns the trigger device for cfg.TriggerMode, or nil when
// triggering is off.
func selectDevice(cfg config.Config, client *mqtt.Client) (trigger.Device, error) {
	switch cfg.TriggerMode {
	case "sim":
		return trigger.NewSimulator(sim.NewScale(cfg.SimSeed, simStartWeight, cfg.SimMaxDelay)), nil
	case "mqtt":
		if client == nil {
			return nil, errors.New("trigger mode mqtt requires an mqtt client")
		}
		return client, nil
	case "off", "":
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown trigger mode %q", cfg.TriggerMode)
	}
}
