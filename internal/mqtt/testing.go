package mqtt

import (
	"context"
	"slices"
	"sync"
)

// Message is a payload captured by MockClient.
type Message struct {
	Topic   string
	Payload []byte
}

// MockClient is an in-memory Client for tests.
type MockClient struct {
	mu        sync.Mutex
	connected bool
	messages  []Message

	// PublishErr, when set, is returned by Publish.
	PublishErr error
	// ConnectErr, when set, is returned by Connect.
	ConnectErr error
}

// NewMockClient returns a disconnected MockClient.
func NewMockClient() *MockClient {
	return &MockClient{}
}

// Connect implements Client.
func (m *MockClient) Connect(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ConnectErr != nil {
		return m.ConnectErr
	}
	m.connected = true
	return nil
}

// Publish implements Client.
func (m *MockClient) Publish(_ context.Context, topic string, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.PublishErr != nil {
		return m.PublishErr
	}
	m.messages = append(m.messages, Message{Topic: topic, Payload: slices.Clone(payload)})
	return nil
}

// IsConnected implements Client.
func (m *MockClient) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

// Disconnect implements Client.
func (m *MockClient) Disconnect() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = false
}

// Messages returns the published messages.
func (m *MockClient) Messages() []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.messages)
}
