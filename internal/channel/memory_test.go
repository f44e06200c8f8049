// ABOUTME: Tests for the in-process message channel
// ABOUTME: Covers tenant partitioning, attempt-only drops and unsubscribe on cancel

package channel

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryChannel_CommandDelivery(t *testing.T) {
	ch := NewMemoryChannel()
	ctx := context.Background()

	msgs, err := ch.SubscribeCommands(ctx, "tenant-1")
	require.NoError(t, err)

	require.NoError(t, ch.PublishCommand(ctx, "tenant-1", []byte("hello")))

	select {
	case msg := <-msgs:
		assert.Equal(t, []byte("hello"), msg.Payload)
	case <-time.After(time.Second):
		t.Fatal("message not delivered")
	}
}

func TestMemoryChannel_TenantPartitioning(t *testing.T) {
	ch := NewMemoryChannel()
	ctx := context.Background()

	tenant1, err := ch.SubscribeCommands(ctx, "tenant-1")
	require.NoError(t, err)
	tenant2, err := ch.SubscribeCommands(ctx, "tenant-2")
	require.NoError(t, err)

	require.NoError(t, ch.PublishCommand(ctx, "tenant-1", []byte("for-1")))

	select {
	case msg := <-tenant1:
		assert.Equal(t, []byte("for-1"), msg.Payload)
	case <-time.After(time.Second):
		t.Fatal("tenant-1 message not delivered")
	}

	select {
	case msg := <-tenant2:
		t.Fatalf("tenant-2 received a foreign message: %s", msg.Payload)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestMemoryChannel_NoSubscriberIsNotAnError(t *testing.T) {
	ch := NewMemoryChannel()
	assert.NoError(t, ch.PublishCommand(context.Background(), "tenant-1", []byte("dropped")))
	assert.NoError(t, ch.PublishReply(context.Background(), "tenant-1", []byte("dropped")))
}

func TestMemoryChannel_RepliesSeparateFromCommands(t *testing.T) {
	ch := NewMemoryChannel()
	ctx := context.Background()

	commands, err := ch.SubscribeCommands(ctx, "tenant-1")
	require.NoError(t, err)
	replies, err := ch.SubscribeReplies(ctx, "tenant-1")
	require.NoError(t, err)

	require.NoError(t, ch.PublishReply(ctx, "tenant-1", []byte("reply")))

	select {
	case msg := <-replies:
		assert.Equal(t, []byte("reply"), msg.Payload)
	case <-time.After(time.Second):
		t.Fatal("reply not delivered")
	}

	select {
	case <-commands:
		t.Fatal("reply leaked onto the command topic")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestMemoryChannel_PublishDuringUnsubscribe(t *testing.T) {
	// Hammers publishes against a subscribe/cancel churn. A send racing the
	// unsubscribe close would panic here.
	ch := NewMemoryChannel()
	ctx := context.Background()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 500; i++ {
			subCtx, cancel := context.WithCancel(ctx)
			if _, err := ch.SubscribeCommands(subCtx, "tenant-1"); err != nil {
				t.Error(err)
				cancel()
				return
			}
			cancel()
		}
	}()

	for {
		select {
		case <-done:
			return
		default:
			require.NoError(t, ch.PublishCommand(ctx, "tenant-1", []byte("x")))
		}
	}
}

func TestMemoryChannel_CancelClosesSubscription(t *testing.T) {
	ch := NewMemoryChannel()
	ctx, cancel := context.WithCancel(context.Background())

	msgs, err := ch.SubscribeCommands(ctx, "tenant-1")
	require.NoError(t, err)

	cancel()

	deadline := time.After(time.Second)
	for {
		select {
		case _, ok := <-msgs:
			if !ok {
				return // closed as expected
			}
		case <-deadline:
			t.Fatal("subscription channel not closed after cancel")
		}
	}
}
