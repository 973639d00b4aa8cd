package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"scalelog/internal/modules/readings/aggregate"
	"scalelog/internal/modules/readings/ingest"
)

const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"
)

const (
	// HTTPWriteTimeout bounds how long a handler may take to write its response.
	HTTPWriteTimeout = 30 * time.Second
	// MaxTriggerTimeout leaves room inside HTTPWriteTimeout to answer a timed out trigger.
	MaxTriggerTimeout = HTTPWriteTimeout - 5*time.Second
)

type Config struct {
	AppEnv   string
	LogLevel slog.Level
	HTTPAddr string

	DBDriver          string
	SQLiteDSN         string
	SQLitePath        string
	DatabaseURL       string
	DBMaxOpenConns    int
	DBMaxIdleConns    int
	DBConnMaxLifetime time.Duration
	// DBLogSQL wraps the sqlite driver so every statement is logged at debug level.
	DBLogSQL bool

	IngestMode    ingest.Mode
	SummaryMethod aggregate.Method
	// SummaryLocation decides where a calendar day starts and ends.
	SummaryLocation *time.Location

	TriggerMode    string
	TriggerTimeout time.Duration
	SimSeed        int64
	SimMaxDelay    time.Duration

	MQTTEnabled     bool
	MQTTBroker      string
	MQTTPort        int
	MQTTClientID    string
	MQTTTopicPrefix string
	DeviceID        string
}

func LoadFromEnv() (Config, error) {
	appEnv := strings.TrimSpace(os.Getenv("APP_ENV"))
	if appEnv == "" {
		appEnv = "dev"
	}
	switch appEnv {
	case "dev", "prod":
	default:
		return Config{}, fmt.Errorf("invalid APP_ENV %q (allowed: dev, prod)", appEnv)
	}

	logLevelStr := strings.TrimSpace(os.Getenv("LOG_LEVEL"))
	if logLevelStr == "" {
		logLevelStr = "info"
	}
	level, err := parseLogLevel(logLevelStr)
	if err != nil {
		return Config{}, err
	}

	httpAddr := envString("HTTP_ADDR", ":8080")

	driver := envString("DB_DRIVER", DriverSQLite)
	switch driver {
	case DriverSQLite, DriverPostgres:
	default:
		return Config{}, fmt.Errorf("invalid DB_DRIVER %q (allowed: sqlite3, postgres)", driver)
	}
	databaseURL := envString("DATABASE_URL", "")
	if driver == DriverPostgres && databaseURL == "" {
		return Config{}, fmt.Errorf("DATABASE_URL is required when DB_DRIVER=postgres")
	}

	maxOpenConns, err := envInt("DB_MAX_OPEN_CONNS", 1)
	if err != nil {
		return Config{}, err
	}
	maxIdleConns, err := envInt("DB_MAX_IDLE_CONNS", 1)
	if err != nil {
		return Config{}, err
	}
	connMaxLifetime, err := envDuration("DB_CONN_MAX_LIFETIME", 0)
	if err != nil {
		return Config{}, err
	}
	logSQL, err := envBool("DB_LOG_SQL", false)
	if err != nil {
		return Config{}, err
	}

	ingestMode, err := ingest.ParseMode(os.Getenv("INGEST_MODE"))
	if err != nil {
		return Config{}, fmt.Errorf("invalid INGEST_MODE: %w", err)
	}
	summaryMethod, err := aggregate.ParseMethod(os.Getenv("SUMMARY_METHOD"))
	if err != nil {
		return Config{}, fmt.Errorf("invalid SUMMARY_METHOD: %w", err)
	}
	// Only delta ingest writes the derived values a stored summary adds up.
	if summaryMethod == aggregate.Stored && ingestMode != ingest.ModeDelta {
		return Config{}, fmt.Errorf("SUMMARY_METHOD=stored requires INGEST_MODE=delta, got %q", ingestMode)
	}

	loc := time.Local
	if tz := envString("SUMMARY_TZ", ""); tz != "" {
		loc, err = time.LoadLocation(tz)
		if err != nil {
			return Config{}, fmt.Errorf("invalid SUMMARY_TZ %q: %w", tz, err)
		}
	}

	mqttEnabled, err := envBool("MQTT_ENABLED", false)
	if err != nil {
		return Config{}, err
	}

	triggerMode := strings.ToLower(envString("TRIGGER_MODE", "sim"))
	switch triggerMode {
	case "sim", "off":
	case "mqtt":
		if !mqttEnabled {
			return Config{}, fmt.Errorf("TRIGGER_MODE=mqtt requires MQTT_ENABLED=true")
		}
	default:
		return Config{}, fmt.Errorf("invalid TRIGGER_MODE %q (allowed: sim, mqtt, off)", triggerMode)
	}
	triggerTimeout, err := envDuration("TRIGGER_TIMEOUT", 10*time.Second)
	if err != nil {
		return Config{}, err
	}
	if triggerTimeout <= 0 || triggerTimeout > MaxTriggerTimeout {
		return Config{}, fmt.Errorf("TRIGGER_TIMEOUT must be in (0, %v], got %v", MaxTriggerTimeout, triggerTimeout)
	}

	simSeed, err := envInt64("SIM_SEED", time.Now().UnixNano())
	if err != nil {
		return Config{}, err
	}
	simMaxDelay, err := envDuration("SIM_MAX_DELAY", 2*time.Second)
	if err != nil {
		return Config{}, err
	}

	mqttPort, err := envInt("MQTT_PORT", 1883)
	if err != nil {
		return Config{}, err
	}

	return Config{
		AppEnv:            appEnv,
		LogLevel:          level,
		HTTPAddr:          httpAddr,
		DBDriver:          driver,
		SQLiteDSN:         envString("DB_DSN", ""),
		SQLitePath:        envString("SQLITE_PATH", "../dev/sqlite/app.db"),
		DatabaseURL:       databaseURL,
		DBMaxOpenConns:    maxOpenConns,
		DBMaxIdleConns:    maxIdleConns,
		DBConnMaxLifetime: connMaxLifetime,
		DBLogSQL:          logSQL,
		IngestMode:        ingestMode,
		SummaryMethod:     summaryMethod,
		SummaryLocation:   loc,
		TriggerMode:       triggerMode,
		TriggerTimeout:    triggerTimeout,
		SimSeed:           simSeed,
		SimMaxDelay:       simMaxDelay,
		MQTTEnabled:       mqttEnabled,
		MQTTBroker:        envString("MQTT_BROKER", "localhost"),
		MQTTPort:          mqttPort,
		MQTTClientID:      envString("MQTT_CLIENT_ID", "scalelog-server"),
		MQTTTopicPrefix:   strings.Trim(envString("MQTT_TOPIC_PREFIX", "scales"), "/"),
		DeviceID:          envString("DEVICE_ID", "kitchen"),
	}, nil
}

func parseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid LOG_LEVEL %q (allowed: debug, info, warn, error)", s)
	}
}

func envString(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) (int, error) {
	s := strings.TrimSpace(os.Getenv(key))
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, s, err)
	}
	return n, nil
}

func envInt64(key string, def int64) (int64, error) {
	s := strings.TrimSpace(os.Getenv(key))
	if s == "" {
		return def, nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, s, err)
	}
	return n, nil
}

func envDuration(key string, def time.Duration) (time.Duration, error) {
	s := strings.TrimSpace(os.Getenv(key))
	if s == "" {
		return def, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, s, err)
	}
	return d, nil
}

func envBool(key string, def bool) (bool, error) {
	s := strings.TrimSpace(os.Getenv(key))
	if s == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(s)
	if err != nil {
		return false, fmt.Errorf("invalid %s %q: %w", key, s, err)
	}
	return b, nil
}
