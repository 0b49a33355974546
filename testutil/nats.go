package testutil

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"
)

// MockNATSClient is an in-memory publish sink. It matches the Publish
// signature of natsclient.Client.
type MockNATSClient struct {
	mu       sync.RWMutex
	messages map[string][][]byte
	closed   bool

	// Err, when set, is returned from every Publish.
	Err error
}

// NewMockNATSClient creates an empty sink.
func NewMockNATSClient() *MockNATSClient {
	return &MockNATSClient{messages: make(map[string][][]byte)}
}

// Publish stores data under subject.
func (c *MockNATSClient) Publish(ctx context.Context, subject string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return fmt.Errorf("client is closed")
	}
	if c.Err != nil {
		return c.Err
	}
	c.messages[subject] = append(c.messages[subject], append([]byte(nil), data...))
	return nil
}

// GetMessages returns a copy of the messages stored under subject.
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

// GetMessageCount returns the number of messages stored under subject.
func (c *MockNATSClient) GetMessageCount(subject string) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.messages[subject])
}

// Subjects returns every subject with at least one message, sorted.
func (c *MockNATSClient) Subjects() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]string, 0, len(c.messages))
	for s := range c.messages {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// Close rejects further publishes.
func (c *MockNATSClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

// DecodeLast unmarshals the latest message on subject into v.
func DecodeLast(t *testing.T, client *MockNATSClient, subject string, v any) {
	t.Helper()

	msgs := client.GetMessages(subject)
	if len(msgs) == 0 {
		t.Fatalf("expected message on subject %s, got none", subject)
	}
	if err := json.Unmarshal(msgs[len(msgs)-1], v); err != nil {
		t.Fatalf("decode message on %s: %v", subject, err)
	}
}

// WaitForMessageCount waits until subject holds at least count messages.
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
			t.Fatalf("timeout waiting for %d messages on subject %s (got %d)", count, subject, client.GetMessageCount(subject))
			return
		case <-ticker.C:
		}
	}
}
