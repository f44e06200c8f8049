// ABOUTME: Tests for the durable offline command queue
// ABOUTME: Exercises capacity limits, FIFO resume order and retention cleanup

package offline

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rentware/device-gateway/internal/protocol"
)

func newTestStore(t *testing.T, maxQueued int) *Store {
	t.Helper()
	s, err := NewStore(filepath.Join(t.TempDir(), "queue.db"), maxQueued)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func queuedEnvelope(tenantID string) *protocol.CommandEnvelope {
	env := protocol.NewEnvelope(tenantID, protocol.CommandAuthorizePayment,
		protocol.DeviceTerminal, `{"amountMinor":100,"currency":"EUR"}`, 30*time.Second)
	env.AgentID = "agent-1"
	env.Status = protocol.StatusQueued
	return env
}

func TestSaveAndGetCommand(t *testing.T) {
	s := newTestStore(t, 0)
	ctx := context.Background()

	env := queuedEnvelope("tenant-a")
	saved, err := s.SaveCommand(ctx, env)
	require.NoError(t, err)
	assert.True(t, saved)

	got, err := s.GetCommand(ctx, env.ID)
	require.NoError(t, err)
	assert.Equal(t, env.ID, got.ID)
	assert.Equal(t, env.TenantID, got.TenantID)
	assert.Equal(t, "agent-1", got.AgentID)
	assert.Equal(t, protocol.CommandAuthorizePayment, got.CommandType)
	assert.Equal(t, protocol.DeviceTerminal, got.DeviceType)
	assert.Equal(t, env.Payload, got.Payload)
	assert.Equal(t, protocol.StatusQueued, got.Status)
	assert.Equal(t, 30, got.TimeoutSeconds)
	assert.Equal(t, 3, got.MaxRetries)
	assert.WithinDuration(t, env.QueuedAt, got.QueuedAt, time.Millisecond)
	assert.Nil(t, got.StartedAt)
	assert.Nil(t, got.CompletedAt)
}

func TestGetCommand_NotFound(t *testing.T) {
	s := newTestStore(t, 0)

	_, err := s.GetCommand(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrCommandNotFound)
}

func TestSaveCommand_UpsertDoesNotGrowQueue(t *testing.T) {
	s := newTestStore(t, 0)
	ctx := context.Background()

	env := queuedEnvelope("tenant-a")
	_, err := s.SaveCommand(ctx, env)
	require.NoError(t, err)

	env.RetryCount = 2
	env.Error = "terminal busy"
	saved, err := s.SaveCommand(ctx, env)
	require.NoError(t, err)
	assert.True(t, saved)

	size, err := s.GetQueueSize(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, size)

	got, err := s.GetCommand(ctx, env.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.RetryCount)
	assert.Equal(t, "terminal busy", got.Error)
}

func TestSaveCommand_CapacityRejection(t *testing.T) {
	s := newTestStore(t, 2)
	ctx := context.Background()

	first := queuedEnvelope("tenant-a")
	second := queuedEnvelope("tenant-a")
	for _, env := range []*protocol.CommandEnvelope{first, second} {
		saved, err := s.SaveCommand(ctx, env)
		require.NoError(t, err)
		require.True(t, saved)
	}

	overflow := queuedEnvelope("tenant-a")
	saved, err := s.SaveCommand(ctx, overflow)
	require.NoError(t, err)
	assert.False(t, saved)

	size, err := s.GetQueueSize(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, size)

	// Updates to existing rows still go through at capacity.
	first.Status = protocol.StatusSent
	saved, err = s.SaveCommand(ctx, first)
	require.NoError(t, err)
	assert.True(t, saved)
}

func TestLoadPendingCommands_FIFOQueuedOnly(t *testing.T) {
	s := newTestStore(t, 0)
	ctx := context.Background()

	base := time.Now().UTC().Add(-time.Minute)
	var queued []*protocol.CommandEnvelope
	for i := 0; i < 3; i++ {
		env := queuedEnvelope("tenant-a")
		env.QueuedAt = base.Add(time.Duration(i) * time.Second)
		env.Payload = fmt.Sprintf(`{"seq":%d}`, i)
		queued = append(queued, env)
	}
	// Insert out of order to prove ordering comes from queued_at.
	for _, i := range []int{2, 0, 1} {
		_, err := s.SaveCommand(ctx, queued[i])
		require.NoError(t, err)
	}

	done := queuedEnvelope("tenant-a")
	done.Status = protocol.StatusCompleted
	_, err := s.SaveCommand(ctx, done)
	require.NoError(t, err)

	envs, err := s.LoadPendingCommands(ctx)
	require.NoError(t, err)
	require.Len(t, envs, 3)
	for i, env := range envs {
		assert.Equal(t, queued[i].ID, env.ID)
	}
}

func TestUpdateCommandStatus(t *testing.T) {
	s := newTestStore(t, 0)
	ctx := context.Background()

	env := queuedEnvelope("tenant-a")
	_, err := s.SaveCommand(ctx, env)
	require.NoError(t, err)

	require.NoError(t, s.UpdateCommandStatus(ctx, env.ID, protocol.StatusSent))
	got, err := s.GetCommand(ctx, env.ID)
	require.NoError(t, err)
	assert.Equal(t, protocol.StatusSent, got.Status)

	err = s.UpdateCommandStatus(ctx, "missing", protocol.StatusSent)
	assert.ErrorIs(t, err, ErrCommandNotFound)
}

func TestDeleteCommand(t *testing.T) {
	s := newTestStore(t, 0)
	ctx := context.Background()

	env := queuedEnvelope("tenant-a")
	_, err := s.SaveCommand(ctx, env)
	require.NoError(t, err)

	require.NoError(t, s.DeleteCommand(ctx, env.ID))
	_, err = s.GetCommand(ctx, env.ID)
	assert.ErrorIs(t, err, ErrCommandNotFound)

	// Deleting an absent row is not an error.
	require.NoError(t, s.DeleteCommand(ctx, env.ID))
}

func TestCleanupOldCommands_TerminalOnly(t *testing.T) {
	s := newTestStore(t, 0)
	ctx := context.Background()

	old := time.Now().UTC().AddDate(0, 0, -10)

	oldDone := queuedEnvelope("tenant-a")
	oldDone.Status = protocol.StatusCompleted
	oldDone.QueuedAt = old

	oldQueued := queuedEnvelope("tenant-a")
	oldQueued.QueuedAt = old

	freshDone := queuedEnvelope("tenant-a")
	freshDone.Status = protocol.StatusFailed

	for _, env := range []*protocol.CommandEnvelope{oldDone, oldQueued, freshDone} {
		_, err := s.SaveCommand(ctx, env)
		require.NoError(t, err)
	}

	removed, err := s.CleanupOldCommands(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	// The aged Queued row survives; only the aged terminal row is gone.
	_, err = s.GetCommand(ctx, oldDone.ID)
	assert.ErrorIs(t, err, ErrCommandNotFound)
	_, err = s.GetCommand(ctx, oldQueued.ID)
	assert.NoError(t, err)
	_, err = s.GetCommand(ctx, freshDone.ID)
	assert.NoError(t, err)
}
