// ABOUTME: Transport-agnostic pending-call registry for request/response correlation
// ABOUTME: Guarantees exactly-once resolution per correlation id across racing paths

package pending

import (
	"log/slog"
	"sync"

	"github.com/rentware/device-gateway/internal/protocol"
)

// Registry correlates asynchronous replies back to waiting callers. It is
// mutated from three independent paths: dispatch (register), inbound reply
// (resolve) and timeout (remove); whichever of the latter two wins the race
// performs the resolution and the loser is a no-op.
type Registry struct {
	mu      sync.Mutex
	waiters map[string]chan *protocol.CommandResponse
	logger  *slog.Logger
}

// NewRegistry creates an empty registry. The registry owns no goroutines;
// callers drive its lifecycle.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		waiters: make(map[string]chan *protocol.CommandResponse),
		logger:  logger.With("component", "pending"),
	}
}

// Register creates a completion handle for the correlation id. The returned
// channel is buffered so a resolver never blocks on a slow caller.
func (r *Registry) Register(id string) <-chan *protocol.CommandResponse {
	ch := make(chan *protocol.CommandResponse, 1)
	r.mu.Lock()
	r.waiters[id] = ch
	r.mu.Unlock()
	return ch
}

// Resolve delivers a reply to the registered waiter and removes the entry.
// A reply for an unknown id (late or duplicate delivery) is logged and
// dropped without side effects.
func (r *Registry) Resolve(resp *protocol.CommandResponse) bool {
	r.mu.Lock()
	ch, ok := r.waiters[resp.CommandID]
	if ok {
		delete(r.waiters, resp.CommandID)
	}
	r.mu.Unlock()

	if !ok {
		r.logger.Debug("reply for unknown correlation id, ignoring",
			"command_id", resp.CommandID,
		)
		return false
	}
	ch <- resp
	return true
}

// Remove drops the entry for the id without resolving it. Safe to call for
// ids that were already resolved or never registered.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	delete(r.waiters, id)
	r.mu.Unlock()
}

// Len returns the number of in-flight correlations.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.waiters)
}
