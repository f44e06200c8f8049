// ABOUTME: Command dispatcher correlating typed operations with async channel replies
// ABOUTME: Device-side outcomes are typed results; only configuration errors are errors

package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/rentware/device-gateway/internal/channel"
	"github.com/rentware/device-gateway/internal/pending"
	"github.com/rentware/device-gateway/internal/protocol"
)

// DefaultTimeout applies when a caller passes no per-command timeout.
const DefaultTimeout = 30 * time.Second

// DefaultGrace is the fixed slack added on top of the per-command timeout
// before the dispatcher gives up waiting for a reply.
const DefaultGrace = 5 * time.Second

// PresenceChecker answers whether a tenant appears to have connected agents.
// Advisory only: dispatch never fails fast on an empty audience, because
// presence data is eventually consistent and delivery is attempt-only.
type PresenceChecker interface {
	AnyOnline(tenantID string) bool
}

// Options tunes a Dispatcher.
type Options struct {
	DefaultTimeout time.Duration
	Grace          time.Duration
	Presence       PresenceChecker
	Logger         *slog.Logger
}

// Dispatcher turns typed operations into envelopes, publishes them to the
// tenant's audience and correlates asynchronous replies back to waiting
// callers within a deadline.
type Dispatcher struct {
	ch       channel.Channel
	registry *pending.Registry
	presence PresenceChecker
	timeout  time.Duration
	grace    time.Duration
	logger   *slog.Logger

	mu        sync.Mutex
	listeners map[string]struct{}
	runCtx    context.Context
	cancel    context.CancelFunc
}

// NewDispatcher creates a Dispatcher over the given channel.
func NewDispatcher(ch channel.Channel, opts Options) *Dispatcher {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := opts.DefaultTimeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	grace := opts.Grace
	if grace <= 0 {
		grace = DefaultGrace
	}
	return &Dispatcher{
		ch:        ch,
		registry:  pending.NewRegistry(logger),
		presence:  opts.Presence,
		timeout:   timeout,
		grace:     grace,
		logger:    logger.With("component", "dispatch"),
		listeners: make(map[string]struct{}),
	}
}

// Start binds the dispatcher's reply listeners to a lifetime context. Must
// be called before the first dispatch.
func (d *Dispatcher) Start(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.runCtx, d.cancel = context.WithCancel(ctx)
}

// runContext reads the lifetime context under the lock; Start writes it
// under the same lock, keeping concurrent dispatches race-free.
func (d *Dispatcher) runContext() context.Context {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.runCtx
}

// Close tears down reply listeners and drops in-flight correlations.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cancel != nil {
		d.cancel()
	}
}

// outcome is the internal result of a single dispatched call before it is
// decoded into the operation's typed result.
type outcome struct {
	ok      bool
	message string
	raw     []byte
}

// Failure messages per device class. The dispatcher never throws for these.
func noResponseMessage(deviceType protocol.DeviceType) string {
	if deviceType == protocol.DeviceFiscalPrinter {
		return "No response from fiscal printer"
	}
	return "No response from terminal"
}

func protocolErrorMessage(deviceType protocol.DeviceType) string {
	if deviceType == protocol.DeviceFiscalPrinter {
		return "Invalid response from fiscal printer"
	}
	return "Invalid response from terminal"
}

// execute runs one request/response cycle: build envelope, register waiter,
// publish, suspend until reply, deadline or caller cancellation. The pending
// entry is removed exactly once on every path. Returns an error only for
// configuration problems; every device-side outcome lands in the outcome.
func (d *Dispatcher) execute(ctx context.Context, commandType protocol.CommandType, deviceType protocol.DeviceType, payload any, timeout time.Duration) (*outcome, error) {
	tenantID := TenantFromContext(ctx)
	if tenantID == "" {
		return nil, ErrNoTenantContext
	}
	if d.runContext() == nil {
		return nil, fmt.Errorf("dispatcher not started")
	}
	if timeout <= 0 {
		timeout = d.timeout
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("serializing %s payload: %w", commandType, err)
	}

	env := protocol.NewEnvelope(tenantID, commandType, deviceType, string(body), timeout)

	if err := d.ensureListener(tenantID); err != nil {
		return nil, fmt.Errorf("starting reply listener: %w", err)
	}

	if d.presence != nil && !d.presence.AnyOnline(tenantID) {
		// Still published and waited out: presence is advisory.
		d.logger.Warn("dispatching to tenant with no known agents",
			"tenant_id", tenantID,
			"command_id", env.ID,
		)
	}

	wait := d.registry.Register(env.ID)

	if err := env.Transition(protocol.StatusSent); err != nil {
		d.registry.Remove(env.ID)
		return nil, err
	}
	data, err := env.Marshal()
	if err != nil {
		d.registry.Remove(env.ID)
		return nil, fmt.Errorf("encoding envelope: %w", err)
	}
	if err := d.ch.PublishCommand(ctx, tenantID, data); err != nil {
		d.registry.Remove(env.ID)
		d.logger.Warn("publish failed", "command_id", env.ID, "error", err)
		return &outcome{ok: false, message: noResponseMessage(deviceType)}, nil
	}

	d.logger.Debug("command dispatched",
		"command_id", env.ID,
		"tenant_id", tenantID,
		"command_type", commandType,
		"timeout", timeout,
	)

	timer := time.NewTimer(timeout + d.grace)
	defer timer.Stop()

	select {
	case resp := <-wait:
		// Resolve already removed the pending entry.
		if !resp.IsSuccess {
			msg := resp.Error
			if msg == "" {
				msg = "Declined by device"
			}
			return &outcome{ok: false, message: msg}, nil
		}
		return &outcome{ok: true, raw: []byte(resp.Response)}, nil

	case <-timer.C:
		d.registry.Remove(env.ID)
		d.logger.Warn("command timed out",
			"command_id", env.ID,
			"tenant_id", tenantID,
			"command_type", commandType,
		)
		return &outcome{ok: false, message: noResponseMessage(deviceType)}, nil

	case <-ctx.Done():
		d.registry.Remove(env.ID)
		return &outcome{ok: false, message: "Command cancelled"}, nil
	}
}

// ensureListener subscribes to the tenant's reply topic once and feeds every
// decoded reply into the pending registry. Late or duplicate replies resolve
// nothing and are dropped by the registry.
func (d *Dispatcher) ensureListener(tenantID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.listeners[tenantID]; ok {
		return nil
	}

	msgs, err := d.ch.SubscribeReplies(d.runCtx, tenantID)
	if err != nil {
		return err
	}
	d.listeners[tenantID] = struct{}{}

	go func() {
		for msg := range msgs {
			resp, err := protocol.UnmarshalResponse(msg.Payload)
			if err != nil {
				d.logger.Warn("discarding malformed reply", "error", err)
				continue
			}
			d.registry.Resolve(resp)
		}
		d.mu.Lock()
		delete(d.listeners, tenantID)
		d.mu.Unlock()
	}()

	return nil
}

// PendingCount reports the number of in-flight correlations, for diagnostics.
func (d *Dispatcher) PendingCount() int {
	return d.registry.Len()
}
