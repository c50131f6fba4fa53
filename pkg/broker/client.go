// Package broker provides the MQTT client used for telemetry ingestion.
package broker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

const (
	connectTimeout = 10 * time.Second
	keepAlive      = 60 * time.Second
	pingTimeout    = 10 * time.Second

	// Milliseconds paho waits for in-flight messages on disconnect.
	disconnectQuiesce = 250
)

// Config holds the configuration for the broker client.
type Config struct {
	// URL is the broker address, e.g. tcp://localhost:1883.
	URL string
	// ClientID identifies this session to the broker.
	ClientID string
	// Username and Password are optional broker credentials.
	Username string
	Password string
	// Logger is the structured logger.
	Logger *slog.Logger
	// OnConnect fires on every successful (re)connect, after subscriptions
	// have been re-established.
	OnConnect func()
	// OnConnectionLost fires when the connection drops. The client keeps
	// reconnecting in the background.
	OnConnectionLost func(err error)
}

type subscription struct {
	topic   string
	qos     byte
	handler MessageHandler
}

// Client wraps a paho MQTT client with automatic reconnect and
// resubscription.
type Client struct {
	logger *slog.Logger
	conn   mqtt.Client

	mu   sync.Mutex
	subs []subscription

	onConnect        func()
	onConnectionLost func(err error)
}

// New connects to the broker. The returned client reconnects on its own
// after a dropped connection; subscriptions made through Subscribe survive
// the reconnect.
func New(cfg *Config) (*Client, error) {
	if cfg == nil {
		return nil, errors.New("broker config cannot be nil")
	}
	if cfg.URL == "" {
		return nil, errors.New("broker URL cannot be empty")
	}
	if cfg.ClientID == "" {
		return nil, errors.New("client ID cannot be empty")
	}
	if cfg.Logger == nil {
		return nil, errors.New("logger cannot be nil")
	}

	c := &Client{
		logger:           cfg.Logger,
		onConnect:        cfg.OnConnect,
		onConnectionLost: cfg.OnConnectionLost,
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.URL)
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetKeepAlive(keepAlive)
	opts.SetPingTimeout(pingTimeout)
	opts.SetConnectTimeout(connectTimeout)
	opts.SetOnConnectHandler(c.handleConnect)
	opts.SetConnectionLostHandler(c.handleConnectionLost)

	c.conn = mqtt.NewClient(opts)

	if token := c.conn.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
	}

	return c, nil
}

// Subscribe registers a handler for a topic filter. The subscription is
// replayed after every reconnect.
func (c *Client) Subscribe(topic string, qos byte, handler MessageHandler) error {
	c.mu.Lock()
	c.subs = append(c.subs, subscription{topic: topic, qos: qos, handler: handler})
	c.mu.Unlock()

	if err := c.subscribe(topic, qos, handler); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", topic, err)
	}

	c.logger.Info("subscribed", "topic", topic, "qos", qos)
	return nil
}

func (c *Client) subscribe(topic string, qos byte, handler MessageHandler) error {
	token := c.conn.Subscribe(topic, qos, func(_ mqtt.Client, msg mqtt.Message) {
		handler(msg.Topic(), msg.Payload())
	})
	if token.Wait() && token.Error() != nil {
		return token.Error()
	}
	return nil
}

// Publish sends a payload and waits for broker acceptance or context expiry.
func (c *Client) Publish(ctx context.Context, topic string, qos byte, retained bool, payload []byte) error {
	token := c.conn.Publish(topic, qos, retained, payload)

	select {
	case <-token.Done():
		if err := token.Error(); err != nil {
			return fmt.Errorf("failed to publish to %s: %w", topic, err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close disconnects from the broker, allowing in-flight work to drain.
func (c *Client) Close() {
	c.conn.Disconnect(disconnectQuiesce)
	c.logger.Info("broker connection closed")
}

func (c *Client) handleConnect(_ mqtt.Client) {
	c.logger.Info("broker connected")

	c.mu.Lock()
	subs := append([]subscription(nil), c.subs...)
	c.mu.Unlock()

	for _, s := range subs {
		if err := c.subscribe(s.topic, s.qos, s.handler); err != nil {
			c.logger.Error("failed to restore subscription",
				"topic", s.topic,
				"error", err,
			)
		}
	}

	if c.onConnect != nil {
		c.onConnect()
	}
}

func (c *Client) handleConnectionLost(_ mqtt.Client, err error) {
	c.logger.Warn("broker connection lost", "error", err)

	if c.onConnectionLost != nil {
		c.onConnectionLost(err)
	}
}
