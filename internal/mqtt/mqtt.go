package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"scalelog/internal/config"
	"scalelog/internal/shared"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

const (
	qos            = byte(1)
	publishTimeout = 5 * time.Second
	handlerTimeout = 10 * time.Second
)

var (
	ErrNotConnected = errors.New("mqtt client not connected")
	ErrStopped      = errors.New("mqtt client stopped")
)

// ReadingHandler is called for every valid reading pushed by a device.
type ReadingHandler func(ctx context.Context, msg shared.ReadingMessage) error

// Client is the server side of the device channel. It receives pushed
// readings and asks the configured device for readings on demand.
type Client struct {
	client    mqtt.Client
	cfg       config.Config
	logger    *slog.Logger
	mu        sync.RWMutex
	connected bool

	stopCh     chan struct{}
	stopOnce   sync.Once
	subscribed bool

	handler ReadingHandler
	publish func(topic string, payload []byte) error

	pendingMu sync.Mutex
	pending   map[string]chan shared.TriggerResponse
}

func NewClient(cfg config.Config, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Client{
		cfg:     cfg,
		logger:  logger,
		stopCh:  make(chan struct{}),
		pending: make(map[string]chan shared.TriggerResponse),
	}
	c.publish = c.publishPaho

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

	opts.SetOnConnectHandler(func(_ mqtt.Client) {
		c.setConnected(true)
		logger.Info("mqtt connected", "broker", cfg.MQTTBroker, "port", cfg.MQTTPort)
		// A clean session drops subscriptions, so restore them after a reconnect.
		if c.wasSubscribed() {
			go func() {
				if err := c.subscribe(); err != nil {
					logger.Error("mqtt resubscribe failed", "error", err)
				}
			}()
		}
	})

	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		c.setConnected(false)
		logger.Warn("mqtt connection lost", "error", err)
	})

	c.client = mqtt.NewClient(opts)
	return c, nil
}

// SetReadingHandler installs the handler for pushed readings. Call it before
// Connect.
func (c *Client) SetReadingHandler(h ReadingHandler) {
	c.handler = h
}

// Connect waits for the broker connection, honouring ctx and Disconnect, then
// subscribes to device readings and trigger responses.
func (c *Client) Connect(ctx context.Context) error {
	select {
	case <-c.stopCh:
		return ErrStopped
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
			break
		}

		select {
		case <-ctx.Done():
			c.client.Disconnect(0)
			return ctx.Err()
		case <-c.stopCh:
			c.client.Disconnect(0)
			return ErrStopped
		default:
		}
	}

	if err := c.subscribe(); err != nil {
		c.client.Disconnect(0)
		return fmt.Errorf("subscribe: %w", err)
	}
	return nil
}

func (c *Client) topics() map[string]mqtt.MessageHandler {
	prefix := c.cfg.MQTTTopicPrefix
	return map[string]mqtt.MessageHandler{
		shared.ReadingsWildcard(prefix): func(_ mqtt.Client, msg mqtt.Message) {
			c.handleReading(msg.Topic(), msg.Payload())
		},
		shared.TriggerResponseTopic(prefix, c.cfg.DeviceID): func(_ mqtt.Client, msg mqtt.Message) {
			c.handleTriggerResponse(msg.Topic(), msg.Payload())
		},
	}
}

func (c *Client) subscribe() error {
	for topic, handler := range c.topics() {
		token := c.client.Subscribe(topic, qos, handler)
		if !token.WaitTimeout(publishTimeout) {
			return fmt.Errorf("subscribe timeout for topic %s", topic)
		}
		if token.Error() != nil {
			return fmt.Errorf("subscribe to %s: %w", topic, token.Error())
		}
		c.logger.Info("subscribed to mqtt topic", "topic", topic, "qos", qos)
	}
	c.mu.Lock()
	c.subscribed = true
	c.mu.Unlock()
	return nil
}

func (c *Client) handleReading(topic string, payload []byte) {
	c.logger.Debug("received mqtt reading", "topic", topic, "size", len(payload))

	var msg shared.ReadingMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		c.logger.Warn("failed to parse reading message",
			"topic", topic,
			"error", err,
			"payload", string(payload),
		)
		return
	}
	if msg.DeviceID == "" {
		if device, ok := shared.DeviceFromTopic(c.cfg.MQTTTopicPrefix, topic); ok {
			msg.DeviceID = device
		}
	}
	if err := msg.Validate(); err != nil {
		c.logger.Warn("invalid reading message", "topic", topic, "error", err)
		return
	}

	if c.handler == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
	defer cancel()
	if err := c.handler(ctx, msg); err != nil {
		c.logger.Error("reading handler failed",
			"topic", topic,
			"device_id", msg.DeviceID,
			"error", err,
		)
	}
}

func (c *Client) handleTriggerResponse(topic string, payload []byte) {
	var resp shared.TriggerResponse
	if err := json.Unmarshal(payload, &resp); err != nil {
		c.logger.Warn("failed to parse trigger response", "topic", topic, "error", err)
		return
	}

	c.pendingMu.Lock()
	ch, ok := c.pending[resp.RequestID]
	c.pendingMu.Unlock()
	if !ok {
		c.logger.Debug("trigger response without waiter", "request_id", resp.RequestID)
		return
	}
	select {
	case ch <- resp:
	default:
	}
}

// RequestReading publishes a trigger request to the configured device and
// waits for the matching response until ctx is done.
func (c *Client) RequestReading(ctx context.Context) (float64, error) {
	id := uuid.NewString()
	ch := make(chan shared.TriggerResponse, 1)

	c.pendingMu.Lock()
	c.pending[id] = ch
	c.pendingMu.Unlock()
	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, id)
		c.pendingMu.Unlock()
	}()

	data, err := json.Marshal(shared.TriggerRequest{RequestID: id})
	if err != nil {
		return 0, fmt.Errorf("marshal trigger request: %w", err)
	}
	topic := shared.TriggerTopic(c.cfg.MQTTTopicPrefix, c.cfg.DeviceID)
	if err := c.publish(topic, data); err != nil {
		return 0, err
	}
	c.logger.Debug("trigger requested", "topic", topic, "request_id", id)

	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	case resp := <-ch:
		if resp.Error != "" {
			return 0, fmt.Errorf("device %s: %s", c.cfg.DeviceID, resp.Error)
		}
		if resp.Value == nil {
			return 0, fmt.Errorf("device %s: response without value", c.cfg.DeviceID)
		}
		return *resp.Value, nil
	}
}

func (c *Client) publishPaho(topic string, payload []byte) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}
	token := c.client.Publish(topic, qos, false, payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("publish timeout for topic %s", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish to %s: %w", topic, err)
	}
	return nil
}

// IsConnected returns whether the client is connected.
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	connected := c.connected
	c.mu.RUnlock()
	return connected && c.client.IsConnected()
}

// Disconnect stops the client and closes the connection. It is idempotent;
// Connect returns ErrStopped afterwards.
func (c *Client) Disconnect() {
	c.stopOnce.Do(func() { close(c.stopCh) })

	if c.client != nil && c.IsConnected() {
		for topic := range c.topics() {
			c.client.Unsubscribe(topic).WaitTimeout(2 * time.Second)
		}
	}
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

func (c *Client) wasSubscribed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.subscribed
}
