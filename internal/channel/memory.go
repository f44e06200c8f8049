// ABOUTME: In-process implementation of the message channel
// ABOUTME: Used by tests and single-process development setups

package channel

import (
	"context"
	"sync"
)

// MemoryChannel is an in-process Channel. Messages published to a topic with
// no subscribers are dropped, matching the attempt-only contract.
type MemoryChannel struct {
	mu     sync.Mutex
	subs   map[string][]chan Message
	closed bool
}

// NewMemoryChannel creates an empty in-process channel.
func NewMemoryChannel() *MemoryChannel {
	return &MemoryChannel{
		subs: make(map[string][]chan Message),
	}
}

func (c *MemoryChannel) publish(topic string, payload []byte) {
	// Sends happen under the lock: unsubscription closes these channels
	// under the same lock, so a channel still listed here is never closed.
	// The sends never block, so holding the lock is cheap.
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, ch := range c.subs[topic] {
		select {
		case ch <- Message{Topic: topic, Payload: payload}:
		default:
			// Slow subscriber loses the message; the channel never blocks
			// a publisher.
		}
	}
}

// PublishCommand broadcasts to the tenant's command subscribers.
func (c *MemoryChannel) PublishCommand(_ context.Context, tenantID string, payload []byte) error {
	c.publish(commandTopic(tenantID), payload)
	return nil
}

// PublishReply delivers to the tenant's reply subscribers.
func (c *MemoryChannel) PublishReply(_ context.Context, tenantID string, payload []byte) error {
	c.publish(replyTopic(tenantID), payload)
	return nil
}

func (c *MemoryChannel) subscribe(ctx context.Context, topic string) (<-chan Message, error) {
	ch := make(chan Message, 16)
	c.mu.Lock()
	c.subs[topic] = append(c.subs[topic], ch)
	c.mu.Unlock()

	go func() {
		<-ctx.Done()
		c.mu.Lock()
		defer c.mu.Unlock()
		chans := c.subs[topic]
		for i, sub := range chans {
			if sub == ch {
				c.subs[topic] = append(chans[:i], chans[i+1:]...)
				close(ch)
				break
			}
		}
	}()

	return ch, nil
}

// SubscribeCommands streams the tenant's command topic until ctx is done.
func (c *MemoryChannel) SubscribeCommands(ctx context.Context, tenantID string) (<-chan Message, error) {
	return c.subscribe(ctx, commandTopic(tenantID))
}

// SubscribeReplies streams the tenant's reply topic until ctx is done.
func (c *MemoryChannel) SubscribeReplies(ctx context.Context, tenantID string) (<-chan Message, error) {
	return c.subscribe(ctx, replyTopic(tenantID))
}

// Close is a no-op for the in-process channel.
func (c *MemoryChannel) Close() error {
	return nil
}
