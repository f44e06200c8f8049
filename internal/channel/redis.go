// ABOUTME: Redis pub/sub implementation of the message channel
// ABOUTME: One Redis PUBLISH per command, per-tenant topics, fire-and-forget

package channel

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// RedisConfig holds connection settings for the Redis channel.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// RedisChannel implements Channel on top of Redis pub/sub. Redis pub/sub is
// at-most-once by design, which matches the channel's attempt-only contract.
type RedisChannel struct {
	client *redis.Client
	logger *slog.Logger
}

// NewRedisChannel connects to Redis and validates the connection with a ping.
func NewRedisChannel(ctx context.Context, cfg RedisConfig, logger *slog.Logger) (*RedisChannel, error) {
	if logger == nil {
		logger = slog.Default()
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connecting to redis at %s: %w", cfg.Addr, err)
	}
	logger.Info("redis channel connected", "addr", cfg.Addr)
	return &RedisChannel{
		client: client,
		logger: logger.With("component", "channel"),
	}, nil
}

// PublishCommand broadcasts an envelope to the tenant's command topic.
func (c *RedisChannel) PublishCommand(ctx context.Context, tenantID string, payload []byte) error {
	res := c.client.Publish(ctx, commandTopic(tenantID), payload)
	if err := res.Err(); err != nil {
		return fmt.Errorf("publishing command: %w", err)
	}
	if res.Val() == 0 {
		// No subscriber does not fail the publish; the dispatcher decides
		// whether to wait out the timeout.
		c.logger.Warn("command published to empty audience", "tenant_id", tenantID)
	}
	return nil
}

// PublishReply delivers a response payload to the tenant's reply topic.
func (c *RedisChannel) PublishReply(ctx context.Context, tenantID string, payload []byte) error {
	if err := c.client.Publish(ctx, replyTopic(tenantID), payload).Err(); err != nil {
		return fmt.Errorf("publishing reply: %w", err)
	}
	return nil
}

// SubscribeCommands streams the tenant's command topic until ctx is done.
func (c *RedisChannel) SubscribeCommands(ctx context.Context, tenantID string) (<-chan Message, error) {
	return c.subscribe(ctx, commandTopic(tenantID))
}

// SubscribeReplies streams the tenant's reply topic until ctx is done.
func (c *RedisChannel) SubscribeReplies(ctx context.Context, tenantID string) (<-chan Message, error) {
	return c.subscribe(ctx, replyTopic(tenantID))
}

func (c *RedisChannel) subscribe(ctx context.Context, topic string) (<-chan Message, error) {
	sub := c.client.Subscribe(ctx, topic)
	// Force the SUBSCRIBE round trip so a bad connection fails here, not on
	// the first missed message.
	if _, err := sub.Receive(ctx); err != nil {
		sub.Close()
		return nil, fmt.Errorf("subscribing to %s: %w", topic, err)
	}

	out := make(chan Message, 16)
	go func() {
		defer sub.Close()
		pump(ctx, sub.Channel(), out)
	}()

	c.logger.Debug("subscribed", "topic", topic)
	return out, nil
}

// pump forwards Redis messages into out until ctx is done or the source
// closes. The send also watches ctx so a stalled consumer cannot pin the
// goroutine past cancellation.
func pump(ctx context.Context, src <-chan *redis.Message, out chan<- Message) {
	defer close(out)
	for {
		select {
		case <-ctx.Done():
			return
		case m, ok := <-src:
			if !ok {
				return
			}
			select {
			case out <- Message{Topic: m.Channel, Payload: []byte(m.Payload)}:
			case <-ctx.Done():
				return
			}
		}
	}
}

// Close shuts down the Redis client.
func (c *RedisChannel) Close() error {
	return c.client.Close()
}
