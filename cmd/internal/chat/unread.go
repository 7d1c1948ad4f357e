package chat

import (
	"context"
	"fmt"
	"sync"

	"github.com/valkey-io/valkey-go"
)

// UnreadCounter tracks per-(recipient, conversation) unread counts in an
// ephemeral store. No durability is expected: a restart may lose counters.
// A lost increment under concurrency is not acceptable, so implementations
// must use an atomic increment primitive rather than read-modify-write.
type UnreadCounter interface {
	Increment(ctx context.Context, recipientID, conversationID string) (int64, error)
	Reset(ctx context.Context, recipientID, conversationID string) error
	Get(ctx context.Context, recipientID, conversationID string) (int64, error)
}

func unreadKey(recipientID, conversationID string) string {
	return fmt.Sprintf("unread:%s:%s", recipientID, conversationID)
}

// ValkeyUnreadCounter is an UnreadCounter on valkey. INCRBY is atomic
// server-side, which closes the concurrent-sender under-count window.
type ValkeyUnreadCounter struct {
	client valkey.Client
}

// NewValkeyUnreadCounter constructs a counter over an existing valkey client.
// The client lifecycle is owned by the caller.
func NewValkeyUnreadCounter(client valkey.Client) (*ValkeyUnreadCounter, error) {
	if client == nil {
		return nil, fmt.Errorf("chat: nil valkey client")
	}
	return &ValkeyUnreadCounter{client: client}, nil
}

// Increment atomically adds one and returns the new value.
func (c *ValkeyUnreadCounter) Increment(ctx context.Context, recipientID, conversationID string) (int64, error) {
	return c.client.Do(ctx,
		c.client.B().Incrby().Key(unreadKey(recipientID, conversationID)).Increment(1).Build(),
	).AsInt64()
}

// Reset sets the counter to zero.
func (c *ValkeyUnreadCounter) Reset(ctx context.Context, recipientID, conversationID string) error {
	return c.client.Do(ctx,
		c.client.B().Set().Key(unreadKey(recipientID, conversationID)).Value("0").Build(),
	).Error()
}

// Get returns the current value, zero when the key is absent.
func (c *ValkeyUnreadCounter) Get(ctx context.Context, recipientID, conversationID string) (int64, error) {
	n, err := c.client.Do(ctx,
		c.client.B().Get().Key(unreadKey(recipientID, conversationID)).Build(),
	).AsInt64()
	if err != nil {
		if valkey.IsValkeyNil(err) {
			return 0, nil
		}
		return 0, err
	}
	return n, nil
}

// MemoryUnreadCounter is an UnreadCounter for dev mode and tests.
// The mutex serializes increments, matching the atomicity contract.
type MemoryUnreadCounter struct {
	mu     sync.Mutex
	counts map[string]int64
}

// NewMemoryUnreadCounter constructs an empty in-memory counter store.
func NewMemoryUnreadCounter() *MemoryUnreadCounter {
	return &MemoryUnreadCounter{counts: make(map[string]int64)}
}

// Increment adds one and returns the new value.
func (c *MemoryUnreadCounter) Increment(ctx context.Context, recipientID, conversationID string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	k := unreadKey(recipientID, conversationID)
	c.counts[k]++
	return c.counts[k], nil
}

// Reset sets the counter to zero.
func (c *MemoryUnreadCounter) Reset(ctx context.Context, recipientID, conversationID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	c.counts[unreadKey(recipientID, conversationID)] = 0
	c.mu.Unlock()
	return nil
}

// Get returns the current value.
func (c *MemoryUnreadCounter) Get(ctx context.Context, recipientID, conversationID string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counts[unreadKey(recipientID, conversationID)], nil
}
