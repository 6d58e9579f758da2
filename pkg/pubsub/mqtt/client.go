// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package mqtt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

const (
	defaultConnectTimeout    = 10 * time.Second
	defaultOperationTimeout  = 5 * time.Second
	defaultDisconnectQuiesce = 250 // milliseconds
	defaultKeepAlive         = 30 * time.Second
	maxQoS                   = 2
)

var (
	// ErrConnectionFailed indicates the initial broker connection failed.
	ErrConnectionFailed = errors.New("mqtt connection failed")

	// ErrNotConnected indicates an operation on a disconnected client.
	ErrNotConnected = errors.New("mqtt client not connected")

	// ErrInvalidTopic indicates an empty topic.
	ErrInvalidTopic = errors.New("invalid mqtt topic")

	// ErrInvalidQoS indicates a QoS above 2.
	ErrInvalidQoS = errors.New("invalid mqtt qos")

	// ErrTimeout indicates the broker did not acknowledge an operation in time.
	ErrTimeout = errors.New("mqtt operation timed out")
)

// MessageHandler is called for every message received on a subscription.
// It runs on a paho goroutine and must not block.
type MessageHandler func(topic string, payload []byte)

// Broker is the subset of an MQTT client used by the topic handler.
type Broker interface {
	Publish(topic string, payload []byte, retained bool) error
	Subscribe(topic string, h MessageHandler) error
	Unsubscribe(topic string) error
}

// Config holds the broker connection settings.
type Config struct {
	URL      string
	ClientID string
	Username string
	Password string
	QoS      byte
}

// Client wraps a paho client. Subscriptions are tracked and restored when
// the connection is re-established.
type Client struct {
	client pahomqtt.Client
	qos    byte
	logger *slog.Logger

	mu            sync.RWMutex
	subscriptions map[string]MessageHandler
}

var _ Broker = (*Client)(nil)

// Connect dials the broker and waits for the initial connection.
func Connect(cfg Config, logger *slog.Logger) (*Client, error) {
	c, err := newClient(cfg, logger)
	if err != nil {
		return nil, err
	}

	token := c.client.Connect()
	if !token.WaitTimeout(defaultConnectTimeout) {
		return nil, fmt.Errorf("%w: timeout after %v", ErrConnectionFailed, defaultConnectTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	c.logger.Info("connected to MQTT broker", slog.String("url", cfg.URL))
	return c, nil
}

func newClient(cfg Config, logger *slog.Logger) (*Client, error) {
	if cfg.QoS > maxQoS {
		return nil, ErrInvalidQoS
	}
	if logger == nil {
		logger = slog.Default()
	}

	c := &Client{
		qos:           cfg.QoS,
		logger:        logger,
		subscriptions: make(map[string]MessageHandler),
	}

	opts := buildClientOptions(cfg)
	opts.SetOnConnectHandler(func(_ pahomqtt.Client) {
		c.restoreSubscriptions()
	})
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		c.logger.Warn("MQTT connection lost", slog.String("error", err.Error()))
	})

	c.client = pahomqtt.NewClient(opts)
	return c, nil
}

func buildClientOptions(cfg Config) *pahomqtt.ClientOptions {
	opts := pahomqtt.NewClientOptions()
	opts.AddBroker(cfg.URL)
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectTimeout(defaultConnectTimeout)
	opts.SetKeepAlive(defaultKeepAlive)
	return opts
}

// Publish sends payload to topic with the configured QoS.
func (c *Client) Publish(topic string, payload []byte, retained bool) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return wait(c.client.Publish(topic, c.qos, retained, payload))
}

// Subscribe registers h for messages on topic.
func (c *Client) Subscribe(topic string, h MessageHandler) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	c.mu.Lock()
	c.subscriptions[topic] = h
	c.mu.Unlock()

	if err := wait(c.client.Subscribe(topic, c.qos, c.wrap(h))); err != nil {
		c.mu.Lock()
		delete(c.subscriptions, topic)
		c.mu.Unlock()
		return err
	}
	return nil
}

// Unsubscribe removes the subscription for topic.
func (c *Client) Unsubscribe(topic string) error {
	if topic == "" {
		return ErrInvalidTopic
	}

	c.mu.Lock()
	delete(c.subscriptions, topic)
	c.mu.Unlock()

	if !c.IsConnected() {
		return ErrNotConnected
	}
	return wait(c.client.Unsubscribe(topic))
}

// SubscriptionCount returns the number of tracked subscriptions.
func (c *Client) SubscriptionCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.subscriptions)
}

// IsConnected reports whether the client currently has a broker connection.
func (c *Client) IsConnected() bool {
	return c.client != nil && c.client.IsConnectionOpen()
}

// HealthCheck returns an error when the broker connection is down.
func (c *Client) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("mqtt health check: %w", err)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

// Close disconnects from the broker.
func (c *Client) Close() error {
	if c.client == nil {
		return nil
	}
	c.client.Disconnect(defaultDisconnectQuiesce)
	return nil
}

func (c *Client) restoreSubscriptions() {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for topic, h := range c.subscriptions {
		c.client.Subscribe(topic, c.qos, c.wrap(h))
	}
	if len(c.subscriptions) > 0 {
		c.logger.Info("restored MQTT subscriptions", slog.Int("count", len(c.subscriptions)))
	}
}

// wrap adapts h to paho's callback and recovers from panics in it.
func (c *Client) wrap(h MessageHandler) pahomqtt.MessageHandler {
	return func(_ pahomqtt.Client, msg pahomqtt.Message) {
		defer func() {
			if r := recover(); r != nil {
				c.logger.Error("MQTT handler panic recovered",
					slog.String("topic", msg.Topic()),
					slog.Any("panic", r))
			}
		}()
		h(msg.Topic(), msg.Payload())
	}
}

func wait(token pahomqtt.Token) error {
	if !token.WaitTimeout(defaultOperationTimeout) {
		return fmt.Errorf("%w after %v", ErrTimeout, defaultOperationTimeout)
	}
	return token.Error()
}
