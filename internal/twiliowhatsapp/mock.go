package twiliowhatsapp

import (
	"context"
	"fmt"
	"sync"
)

// SentMessage records one delivery made through a MockClient.
type SentMessage struct {
	To       string
	Body     string
	MediaURL string
}

// MockClient is a Client for tests. It records every message and can be
// programmed to fail on specific calls.
type MockClient struct {
	mu       sync.Mutex
	sent     []SentMessage
	failOn   map[int]error
	nextCall int
}

// NewMockClient creates an empty mock.
func NewMockClient() *MockClient {
	return &MockClient{failOn: make(map[int]error)}
}

// FailOnCall makes the n-th SendMessage call (1-based) return err.
func (m *MockClient) FailOnCall(n int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failOn[n] = err
}

// SendMessage records the message and returns a synthetic SID.
func (m *MockClient) SendMessage(ctx context.Context, to, body, mediaURL string) (*SendResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextCall++
	if err, ok := m.failOn[m.nextCall]; ok {
		return nil, err
	}
	m.sent = append(m.sent, SentMessage{To: to, Body: body, MediaURL: mediaURL})
	return &SendResult{SID: fmt.Sprintf("SM%08d", len(m.sent)), Status: "queued"}, nil
}

// Sent returns a copy of the recorded messages.
func (m *MockClient) Sent() []SentMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]SentMessage, len(m.sent))
	copy(out, m.sent)
	return out
}
