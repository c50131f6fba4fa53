package broker

import "context"

// MessageHandler processes one inbound message.
type MessageHandler func(topic string, payload []byte)

// ClientInterface defines the interface for MQTT broker operations.
// This interface enables easier testing through mocking and dependency injection.
type ClientInterface interface {
	// Subscribe registers a handler for a topic filter. Subscriptions are
	// remembered and re-established after a reconnect.
	Subscribe(topic string, qos byte, handler MessageHandler) error

	// Publish sends a payload to a topic and waits for the broker to
	// accept it. The context is used for cancellation and timeout.
	Publish(ctx context.Context, topic string, qos byte, retained bool, payload []byte) error

	// Close will cleanly shut down the connection.
	Close()
}

// Ensure Client implements ClientInterface.
var _ ClientInterface = (*Client)(nil)
