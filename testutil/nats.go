package testutil

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/c360/gqlpool/natsclient"
)

// MockNATSClient is an in-memory stand-in for natsclient.Client covering
// Publish, QueueSubscribe and Request. Thread-safe.
type MockNATSClient struct {
	mu       sync.RWMutex
	messages map[string][][]byte
	servers  map[string][]natsclient.RequestHandler
	next     map[string]int
	closed   bool
}

// NewMockNATSClient creates a new mock NATS client.
func NewMockNATSClient() *MockNATSClient {
	return &MockNATSClient{
		messages: make(map[string][][]byte),
		servers:  make(map[string][]natsclient.RequestHandler),
		next:     make(map[string]int),
	}
}

// Publish records data on subject.
func (c *MockNATSClient) Publish(_ context.Context, subject string, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return fmt.Errorf("client is closed")
	}
	c.messages[subject] = append(c.messages[subject], data)
	return nil
}

// QueueSubscribe registers handler for subject. Queue groups are implied:
// each request reaches one handler, in round-robin order.
func (c *MockNATSClient) QueueSubscribe(ctx context.Context, subject, _ string, handler natsclient.RequestHandler) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return fmt.Errorf("client is closed")
	}
	c.servers[subject] = append(c.servers[subject], handler)
	return nil
}

// Request delivers data to one subscriber of subject and waits for its reply.
func (c *MockNATSClient) Request(ctx context.Context, subject string, data []byte) (natsclient.Reply, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return natsclient.Reply{}, fmt.Errorf("client is closed")
	}
	c.messages[subject] = append(c.messages[subject], data)

	handlers := c.servers[subject]
	if len(handlers) == 0 {
		c.mu.Unlock()
		return natsclient.Reply{}, fmt.Errorf("no responders on %s", subject)
	}
	handler := handlers[c.next[subject]%len(handlers)]
	c.next[subject]++
	c.mu.Unlock()

	replies := make(chan natsclient.Reply, 1)
	var once sync.Once
	respond := func(r natsclient.Reply) error {
		sent := false
		once.Do(func() {
			replies <- r
			sent = true
		})
		if !sent {
			return fmt.Errorf("already responded")
		}
		return nil
	}

	handler(ctx, data, respond)

	select {
	case r := <-replies:
		return r, nil
	case <-ctx.Done():
		return natsclient.Reply{}, ctx.Err()
	}
}

// GetMessages returns a copy of everything published or requested on subject.
func (c *MockNATSClient) GetMessages(subject string) [][]byte {
	c.mu.RLock()
	defer c.mu.RUnlock()

	msgs := c.messages[subject]
	if msgs == nil {
		return nil
	}
	result := make([][]byte, len(msgs))
	copy(result, msgs)
	return result
}

// GetMessageCount returns the number of messages on a subject.
func (c *MockNATSClient) GetMessageCount(subject string) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.messages[subject])
}

// SubscriberCount returns how many handlers serve subject.
func (c *MockNATSClient) SubscriberCount(subject string) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.servers[subject])
}

// Close closes the mock client.
func (c *MockNATSClient) Close(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

// IsClosed returns whether the client is closed.
func (c *MockNATSClient) IsClosed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closed
}

// WaitForMessageCount waits for a specific number of messages (with timeout).
func WaitForMessageCount(t *testing.T, client *MockNATSClient, subject string, count int, timeout time.Duration) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		if client.GetMessageCount(subject) >= count {
			return
		}
		select {
		case <-ctx.Done():
			got := client.GetMessageCount(subject)
			t.Fatalf("timeout waiting for %d messages on subject %s (got %d)", count, subject, got)
			return
		case <-ticker.C:
		}
	}
}
