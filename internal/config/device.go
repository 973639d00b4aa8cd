package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// DeviceConfig configures the scale simulator (cmd/scalesim).
type DeviceConfig struct {
	AppEnv          string
	LogLevel        slog.Level
	MQTTBroker      string
	MQTTPort        int
	MQTTClientID    string
	MQTTTopicPrefix string
	DeviceID        string

	// PublishInterval of 0 disables periodic pushes; the device then only
	// answers trigger requests.
	PublishInterval time.Duration
	StartWeight     float64
	SimSeed         int64
	SimMaxDelay     time.Duration
}

func LoadDeviceFromEnv() (DeviceConfig, error) {
	appEnv := strings.TrimSpace(os.Getenv("APP_ENV"))
	if appEnv == "" {
		appEnv = "dev"
	}
	switch appEnv {
	case "dev", "prod":
	default:
		return DeviceConfig{}, fmt.Errorf("invalid APP_ENV %q (allowed: dev, prod)", appEnv)
	}

	logLevelStr := strings.TrimSpace(os.Getenv("LOG_LEVEL"))
	if logLevelStr == "" {
		logLevelStr = "info"
	}
	level, err := parseLogLevel(logLevelStr)
	if err != nil {
		return DeviceConfig{}, err
	}

	mqttPort, err := envInt("MQTT_PORT", 1883)
	if err != nil {
		return DeviceConfig{}, err
	}

	publishInterval, err := envDuration("PUBLISH_INTERVAL", 0)
	if err != nil {
		return DeviceConfig{}, err
	}
	if publishInterval < 0 {
		return DeviceConfig{}, fmt.Errorf("PUBLISH_INTERVAL must not be negative, got %v", publishInterval)
	}

	startWeightStr := envString("SIM_START_WEIGHT", "500")
	startWeight, err := strconv.ParseFloat(startWeightStr, 64)
	if err != nil {
		return DeviceConfig{}, fmt.Errorf("invalid SIM_START_WEIGHT %q: %w", startWeightStr, err)
	}
	if startWeight <= 0 {
		return DeviceConfig{}, fmt.Errorf("SIM_START_WEIGHT must be positive, got %v", startWeight)
	}

	simSeed, err := envInt64("SIM_SEED", time.Now().UnixNano())
	if err != nil {
		return DeviceConfig{}, err
	}
	simMaxDelay, err := envDuration("SIM_MAX_DELAY", 2*time.Second)
	if err != nil {
		return DeviceConfig{}, err
	}

	return DeviceConfig{
		AppEnv:          appEnv,
		LogLevel:        level,
		MQTTBroker:      envString("MQTT_BROKER", "localhost"),
		MQTTPort:        mqttPort,
		MQTTClientID:    envString("MQTT_CLIENT_ID", "scalelog-scalesim"),
		MQTTTopicPrefix: strings.Trim(envString("MQTT_TOPIC_PREFIX", "scales"), "/"),
		DeviceID:        envString("DEVICE_ID", "kitchen"),
		PublishInterval: publishInterval,
		StartWeight:     startWeight,
		SimSeed:         simSeed,
		SimMaxDelay:     simMaxDelay,
	}, nil
}
