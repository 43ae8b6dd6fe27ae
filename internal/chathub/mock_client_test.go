package chathub_test

import (
	"sync"

	"matchgogo/backend/internal/models"

	"github.com/google/uuid"
)

type MockClient struct {
	userID string
	connID string

	mu       sync.Mutex
	received []models.Envelope
	full     bool
	closed   bool
}

func newMockClient(userID string) *MockClient {
	return &MockClient{userID: userID, connID: uuid.NewString()}
}

func (c *MockClient) GetUserID() string       { return c.userID }
func (c *MockClient) GetConnectionID() string { return c.connID }

func (c *MockClient) Enqueue(env models.Envelope) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.full || c.closed {
		return false
	}
	c.received = append(c.received, env)
	return true
}

func (c *MockClient) Run() {
	// Not needed for testing
}

func (c *MockClient) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}

func (c *MockClient) setFull(full bool) {
	c.mu.Lock()
	c.full = full
	c.mu.Unlock()
}

func (c *MockClient) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *MockClient) envelopes() []models.Envelope {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]models.Envelope(nil), c.received...)
}

func (c *MockClient) ofType(eventType string) []models.Envelope {
	var out []models.Envelope
	for _, env := range c.envelopes() {
		if env.Type == eventType {
			out = append(out, env)
		}
	}
	return out
}
