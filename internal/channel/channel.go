// ABOUTME: Message channel abstraction for tenant-partitioned command delivery
// ABOUTME: Defines publish/subscribe contracts with attempt-only semantics

package channel

import "context"

// Message is a raw payload received from a subscription.
type Message struct {
	Topic   string
	Payload []byte
}

// Channel is the one-way transport between the gateway and a tenant's agents.
// Delivery is attempt-only: a publish to an audience with no subscribers is
// not an error and is not retried by the channel.
type Channel interface {
	// PublishCommand broadcasts an encoded envelope to every agent of the tenant.
	PublishCommand(ctx context.Context, tenantID string, payload []byte) error

	// PublishReply delivers an encoded response back toward the gateway.
	PublishReply(ctx context.Context, tenantID string, payload []byte) error

	// SubscribeCommands streams command payloads for a tenant's audience.
	SubscribeCommands(ctx context.Context, tenantID string) (<-chan Message, error)

	// SubscribeReplies streams reply payloads for a tenant.
	SubscribeReplies(ctx context.Context, tenantID string) (<-chan Message, error)

	// Close releases the transport.
	Close() error
}

// Topic names are namespaced per tenant so audiences never overlap.
func commandTopic(tenantID string) string { return "devgw:tenant:" + tenantID + ":commands" }
func replyTopic(tenantID string) string   { return "devgw:tenant:" + tenantID + ":replies" }
