// ABOUTME: Tracks which agents have recently heartbeated, per tenant
// ABOUTME: Advisory only; channel delivery stays attempt-only regardless

package gate

import (
	"sync"
	"time"
)

// Presence records the last heartbeat per (tenant, agent). It answers the
// dispatcher's "does this tenant appear to have anyone listening" question.
// The data is eventually consistent and never gates dispatch.
type Presence struct {
	mu     sync.RWMutex
	seen   map[string]map[string]time.Time // tenantID -> agentID -> last heartbeat
	maxAge time.Duration
}

// NewPresence creates a presence registry. Agents older than maxAge are
// considered offline.
func NewPresence(maxAge time.Duration) *Presence {
	return &Presence{
		seen:   make(map[string]map[string]time.Time),
		maxAge: maxAge,
	}
}

// Touch records a heartbeat from an agent.
func (p *Presence) Touch(tenantID, agentID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	agents, ok := p.seen[tenantID]
	if !ok {
		agents = make(map[string]time.Time)
		p.seen[tenantID] = agents
	}
	agents[agentID] = time.Now()
}

// Forget removes an agent, typically on explicit disconnect.
func (p *Presence) Forget(tenantID, agentID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if agents, ok := p.seen[tenantID]; ok {
		delete(agents, agentID)
		if len(agents) == 0 {
			delete(p.seen, tenantID)
		}
	}
}

// Online returns the agents of a tenant heartbeated within maxAge.
func (p *Presence) Online(tenantID string) []string {
	cutoff := time.Now().Add(-p.maxAge)
	p.mu.RLock()
	defer p.mu.RUnlock()

	var out []string
	for agentID, last := range p.seen[tenantID] {
		if last.After(cutoff) {
			out = append(out, agentID)
		}
	}
	return out
}

// AnyOnline reports whether at least one agent of the tenant looks alive.
func (p *Presence) AnyOnline(tenantID string) bool {
	return len(p.Online(tenantID)) > 0
}
