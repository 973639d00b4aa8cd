package device

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"scalelog/internal/config"
	"scalelog/internal/shared"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

const publishTimeout = 5 * time.Second

var ErrNotConnected = errors.New("mqtt client not connected")

// Client is the device side of the channel: it pushes readings and receives
// trigger requests for its own device id.
type Client struct {
	client    mqtt.Client
	cfg       config.DeviceConfig
	logger    *slog.Logger
	mu        sync.RWMutex
	connected bool

	stopCh   chan struct{}
	stopOnce sync.Once

	onTrigger func(shared.TriggerRequest)
}

func NewClient(cfg config.DeviceConfig, logger *slog.Logger, onTrigger func(shared.TriggerRequest)) *Client {
	c := &Client{
		cfg:       cfg,
		logger:    logger,
		stopCh:    make(chan struct{}),
		onTrigger: onTrigger,
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s:%d", cfg.MQTTBroker, cfg.MQTTPort))
	opts.SetClientID(cfg.MQTTClientID)

	opts.SetCleanSession(true)

	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetMaxReconnectInterval(60 * time.Second)

	opts.SetKeepAlive(30 * time.Second)
	opts.SetPingTimeout(10 * time.Second)

	opts.SetOnConnectHandler(func(client mqtt.Client) {
		c.setConnected(true)
		logger.Info("mqtt connected", "broker", cfg.MQTTBroker, "port", cfg.MQTTPort)
		// Subscribing here also restores the subscription after a reconnect.
		topic := shared.TriggerTopic(cfg.MQTTTopicPrefix, cfg.DeviceID)
		token := client.Subscribe(topic, 1, func(_ mqtt.Client, msg mqtt.Message) {
			c.handleTrigger(msg.Payload())
		})
		go func() {
			if !token.WaitTimeout(publishTimeout) || token.Error() != nil {
				logger.Error("subscribe to trigger topic failed", "topic", topic, "error", token.Error())
				return
			}
			logger.Info("subscribed to mqtt topic", "topic", topic)
		}()
	})

	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		c.setConnected(false)
		logger.Warn("mqtt connection lost", "error", err)
	})

	c.client = mqtt.NewClient(opts)
	return c
}

// Connect waits for the initial connection, honouring ctx and Disconnect.
func (c *Client) Connect(ctx context.Context) error {
	select {
	case <-c.stopCh:
		return fmt.Errorf("client stopped")
	default:
	}

	if c.IsConnected() {
		return nil
	}

	token := c.client.Connect()

	const poll = 200 * time.Millisecond
	for {
		if token.WaitTimeout(poll) {
			if err := token.Error(); err != nil {
				return fmt.Errorf("mqtt connect: %w", err)
			}
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.stopCh:
			return fmt.Errorf("client stopped")
		default:
		}
	}
}

func (c *Client) handleTrigger(payload []byte) {
	var req shared.TriggerRequest
	if err := json.Unmarshal(payload, &req); err != nil || req.RequestID == "" {
		c.logger.Warn("invalid trigger request", "payload", string(payload), "error", err)
		return
	}
	if c.onTrigger != nil {
		c.onTrigger(req)
	}
}

// PublishReading pushes one reading to the device's readings topic.
func (c *Client) PublishReading(msg shared.ReadingMessage) error {
	return c.publishJSON(shared.ReadingsTopic(c.cfg.MQTTTopicPrefix, c.cfg.DeviceID), msg)
}

// PublishTriggerResponse answers a trigger request.
func (c *Client) PublishTriggerResponse(resp shared.TriggerResponse) error {
	return c.publishJSON(shared.TriggerResponseTopic(c.cfg.MQTTTopicPrefix, c.cfg.DeviceID), resp)
}

func (c *Client) publishJSON(topic string, v any) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", topic, err)
	}

	token := c.client.Publish(topic, 1, false, data)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("publish timeout for topic %s", topic)
	}
	if token.Error() != nil {
		c.logger.Error("failed to publish", "topic", topic, "error", token.Error())
		return fmt.Errorf("publish %s: %w", topic, token.Error())
	}

	c.logger.Debug("published", "topic", topic)
	return nil
}

// IsConnected returns whether the client is connected.
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	connected := c.connected
	c.mu.RUnlock()
	return connected && c.client.IsConnected()
}

// Disconnect stops the client and closes the MQTT connection. Safe to call
// more than once.
func (c *Client) Disconnect() {
	c.stopOnce.Do(func() { close(c.stopCh) })

	if c.client != nil {
		c.client.Disconnect(250)
	}

	c.setConnected(false)
	c.logger.Info("mqtt disconnected")
}

func (c *Client) setConnected(v bool) {
	c.mu.Lock()
	c.connected = v
	c.mu.Unlock()
}
