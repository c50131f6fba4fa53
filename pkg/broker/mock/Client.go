// Package mock provides mock implementations of the broker package interfaces for testing.
package mock

import (
	"context"
	"strings"
	"sync"

	"banjir.dev/floodwatch/pkg/broker"
)

// MockClient is a mock implementation of ClientInterface for testing.
// It tracks method calls and allows configuring return values and behavior.
type MockClient struct {
	mu sync.Mutex

	// SubscribeFunc is called when Subscribe is invoked. If nil, the
	// subscription is recorded and SubscribeError is returned.
	SubscribeFunc func(topic string, qos byte, handler broker.MessageHandler) error
	// SubscribeError is returned by Subscribe if SubscribeFunc is nil.
	SubscribeError error
	// SubscribeCalls tracks all calls to Subscribe with their arguments.
	SubscribeCalls []SubscribeCall

	// PublishFunc is called when Publish is invoked. If nil, the message
	// is recorded and PublishError is returned.
	PublishFunc func(ctx context.Context, topic string, qos byte, retained bool, payload []byte) error
	// PublishError is returned by Publish if PublishFunc is nil.
	PublishError error
	// PublishCalls tracks all calls to Publish with their arguments.
	PublishCalls []PublishCall

	// CloseCalls tracks the number of times Close was called.
	CloseCalls int
}

// SubscribeCall records the arguments to a Subscribe call.
type SubscribeCall struct {
	Topic   string
	QOS     byte
	Handler broker.MessageHandler
}

// PublishCall records the arguments to a Publish call.
type PublishCall struct {
	Ctx      context.Context
	Topic    string
	QOS      byte
	Retained bool
	Payload  []byte
}

// Ensure MockClient implements ClientInterface.
var _ broker.ClientInterface = (*MockClient)(nil)

// Subscribe records the subscription.
func (m *MockClient) Subscribe(topic string, qos byte, handler broker.MessageHandler) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.SubscribeCalls = append(m.SubscribeCalls, SubscribeCall{Topic: topic, QOS: qos, Handler: handler})

	if m.SubscribeFunc != nil {
		return m.SubscribeFunc(topic, qos, handler)
	}
	return m.SubscribeError
}

// Publish records the message.
func (m *MockClient) Publish(ctx context.Context, topic string, qos byte, retained bool, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.PublishCalls = append(m.PublishCalls, PublishCall{
		Ctx:      ctx,
		Topic:    topic,
		QOS:      qos,
		Retained: retained,
		Payload:  payload,
	})

	if m.PublishFunc != nil {
		return m.PublishFunc(ctx, topic, qos, retained, payload)
	}
	return m.PublishError
}

// Close records the call.
func (m *MockClient) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CloseCalls++
}

// Deliver simulates an inbound message by invoking every recorded
// subscription handler whose topic filter matches the topic.
func (m *MockClient) Deliver(topic string, payload []byte) {
	m.mu.Lock()
	subs := append([]SubscribeCall(nil), m.SubscribeCalls...)
	m.mu.Unlock()

	for _, s := range subs {
		if topicMatches(s.Topic, topic) {
			s.Handler(topic, payload)
		}
	}
}

// topicMatches implements MQTT topic filter matching with + and # wildcards.
func topicMatches(filter, topic string) bool {
	fParts := strings.Split(filter, "/")
	tParts := strings.Split(topic, "/")

	for i, fp := range fParts {
		if fp == "#" {
			return true
		}
		if i >= len(tParts) {
			return false
		}
		if fp != "+" && fp != tParts[i] {
			return false
		}
	}
	return len(fParts) == len(tParts)
}
