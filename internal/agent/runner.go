// ABOUTME: Agent runtime: receives envelopes, persists, executes, reports back
// ABOUTME: Resumes queued work from the offline store after restarts

package agent

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/rentware/device-gateway/internal/channel"
	"github.com/rentware/device-gateway/internal/offline"
	"github.com/rentware/device-gateway/internal/protocol"
)

// RunnerOptions configures an agent Runner.
type RunnerOptions struct {
	TenantID        string
	AgentID         string
	CleanupInterval time.Duration // 0 disables periodic cleanup
	RetentionDays   int
	Logger          *slog.Logger
}

// Runner subscribes to the tenant's command audience, persists each envelope
// to the offline store, executes it via the registered device provider and
// publishes the result. One Runner owns one offline store.
type Runner struct {
	ch        channel.Channel
	store     *offline.Store
	providers *ProviderRegistry
	tenantID  string
	agentID   string
	cleanup   time.Duration
	retention int
	logger    *slog.Logger
}

// NewRunner assembles an agent runtime.
func NewRunner(ch channel.Channel, store *offline.Store, providers *ProviderRegistry, opts RunnerOptions) *Runner {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	retention := opts.RetentionDays
	if retention <= 0 {
		retention = 7
	}
	return &Runner{
		ch:        ch,
		store:     store,
		providers: providers,
		tenantID:  opts.TenantID,
		agentID:   opts.AgentID,
		cleanup:   opts.CleanupInterval,
		retention: retention,
		logger:    logger.With("component", "agent", "agent_id", opts.AgentID),
	}
}

// Run resumes queued work, then processes live commands until ctx is done.
func (r *Runner) Run(ctx context.Context) error {
	if err := r.Resume(ctx); err != nil {
		return fmt.Errorf("resuming queued commands: %w", err)
	}

	msgs, err := r.ch.SubscribeCommands(ctx, r.tenantID)
	if err != nil {
		return fmt.Errorf("subscribing to command audience: %w", err)
	}

	if r.cleanup > 0 {
		go r.runCleanup(ctx)
	}

	r.logger.Info("agent runner started", "tenant_id", r.tenantID)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-msgs:
			if !ok {
				return nil
			}
			r.handleMessage(ctx, msg.Payload)
		}
	}
}

// Resume reloads Queued envelopes in FIFO order and executes them. Called on
// startup and after reconnects so work survives interruptions.
func (r *Runner) Resume(ctx context.Context) error {
	pending, err := r.store.LoadPendingCommands(ctx)
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		return nil
	}

	r.logger.Info("resuming queued commands", "count", len(pending))
	for _, env := range pending {
		r.process(ctx, env)
	}
	return nil
}

// handleMessage decodes an inbound envelope, persists it as Queued and runs
// it. Malformed payloads are logged and dropped.
func (r *Runner) handleMessage(ctx context.Context, payload []byte) {
	env, err := protocol.UnmarshalEnvelope(payload)
	if err != nil {
		r.logger.Warn("discarding malformed envelope", "error", err)
		return
	}

	env.AgentID = r.agentID
	env.Status = protocol.StatusQueued

	saved, err := r.store.SaveCommand(ctx, env)
	if err != nil {
		r.logger.Error("failed to persist command", "command_id", env.ID, "error", err)
		return
	}
	if !saved {
		// Store at capacity: drop and let the dispatcher time out. The
		// gateway treats silence as NoResponse.
		r.logger.Warn("offline store full, dropping command", "command_id", env.ID)
		return
	}

	r.process(ctx, env)
}

// process drives one envelope from Queued to a terminal state and reports
// the outcome.
func (r *Runner) process(ctx context.Context, env *protocol.CommandEnvelope) {
	if time.Now().After(env.ExpiresAt()) {
		// Nobody is waiting for this one anymore.
		r.logger.Warn("dropping expired command", "command_id", env.ID, "queued_at", env.QueuedAt)
		r.finish(ctx, env, protocol.StatusTimeout, "", "expired before execution")
		return
	}

	provider, ok := r.providers.Get(env.DeviceType)
	if !ok {
		r.logger.Error("no provider for device type", "command_id", env.ID, "device_type", env.DeviceType)
		r.finish(ctx, env, protocol.StatusFailed, "", fmt.Sprintf("no provider for device type %q", env.DeviceType))
		r.reply(ctx, env.ID, false, "", fmt.Sprintf("no provider for device type %q", env.DeviceType))
		return
	}

	if err := env.Transition(protocol.StatusSent); err == nil {
		_ = r.store.UpdateCommandStatus(ctx, env.ID, protocol.StatusSent)
	}

	result, err := r.executeWithRetry(ctx, provider, env)
	if err != nil {
		r.logger.Warn("command execution failed",
			"command_id", env.ID,
			"command_type", env.CommandType,
			"retries", env.RetryCount,
			"error", err,
		)
		r.finish(ctx, env, protocol.StatusFailed, "", err.Error())
		r.reply(ctx, env.ID, false, "", err.Error())
		return
	}

	r.reply(ctx, env.ID, true, result, "")

	// Success-path cleanup: remove the row immediately rather than waiting
	// for retention.
	if err := r.store.DeleteCommand(ctx, env.ID); err != nil {
		r.logger.Warn("failed to delete completed command", "command_id", env.ID, "error", err)
	}

	r.logger.Debug("command completed", "command_id", env.ID, "command_type", env.CommandType)
}

// executeWithRetry invokes the provider up to MaxRetries+1 times.
func (r *Runner) executeWithRetry(ctx context.Context, provider Provider, env *protocol.CommandEnvelope) (string, error) {
	var lastErr error
	for {
		result, err := provider.Execute(ctx, env.CommandType, env.Payload)
		if err == nil {
			return result, nil
		}
		lastErr = err

		env.RetryCount++
		if env.RetryCount > env.MaxRetries {
			return "", lastErr
		}
		if saveErr := r.updateRetry(ctx, env); saveErr != nil {
			r.logger.Warn("failed to persist retry count", "command_id", env.ID, "error", saveErr)
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(time.Duration(env.RetryCount) * time.Second):
		}
	}
}

func (r *Runner) updateRetry(ctx context.Context, env *protocol.CommandEnvelope) error {
	_, err := r.store.SaveCommand(ctx, env)
	return err
}

// finish records a terminal state in the offline store.
func (r *Runner) finish(ctx context.Context, env *protocol.CommandEnvelope, status protocol.CommandStatus, response, errMsg string) {
	env.Response = response
	env.Error = errMsg
	if err := env.Transition(status); err != nil {
		env.Status = status
	}
	if _, err := r.store.SaveCommand(ctx, env); err != nil {
		r.logger.Warn("failed to persist terminal state", "command_id", env.ID, "error", err)
	}
}

// reply publishes the command outcome back toward the gateway.
func (r *Runner) reply(ctx context.Context, commandID string, success bool, response, errMsg string) {
	resp := &protocol.CommandResponse{
		CommandID: commandID,
		Response:  response,
		IsSuccess: success,
		Error:     errMsg,
	}
	data, err := resp.Marshal()
	if err != nil {
		r.logger.Error("failed to encode reply", "command_id", commandID, "error", err)
		return
	}
	if err := r.ch.PublishReply(ctx, r.tenantID, data); err != nil {
		r.logger.Warn("failed to publish reply", "command_id", commandID, "error", err)
	}
}

// runCleanup periodically removes old terminal-state rows.
func (r *Runner) runCleanup(ctx context.Context) {
	ticker := time.NewTicker(r.cleanup)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := r.store.CleanupOldCommands(ctx, r.retention); err != nil {
				r.logger.Warn("cleanup failed", "error", err)
			}
		}
	}
}
