// ABOUTME: HTTP client for the gateway's authentication gate
// ABOUTME: Connect, heartbeat and disconnect calls made by the agent binary

package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Gate rejection classes as seen from the agent side.
var (
	ErrUnauthorized = errors.New("gateway rejected credentials")
	ErrLockedOut    = errors.New("credential locked, back off")
	ErrForbidden    = errors.New("caller address not allowed")
)

// GateClient talks to the gateway's agent endpoints.
type GateClient struct {
	baseURL string
	http    *http.Client
}

// NewGateClient creates a client for the gate at baseURL.
func NewGateClient(baseURL string) *GateClient {
	return &GateClient{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

// Session is the grant returned by a successful connect.
type Session struct {
	Token     string `json:"token"`
	ExpiresAt string `json:"expires_at"`
	TenantID  string `json:"tenant_id"`
}

// Connect authenticates the agent and returns its session.
func (c *GateClient) Connect(ctx context.Context, tenantID, agentID, key string) (*Session, error) {
	body, err := json.Marshal(map[string]string{
		"tenant_id": tenantID,
		"agent_id":  agentID,
		"key":       key,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/agents/connect", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("connecting to gateway: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized:
		return nil, ErrUnauthorized
	case http.StatusTooManyRequests:
		return nil, ErrLockedOut
	case http.StatusForbidden:
		return nil, ErrForbidden
	default:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("gateway returned %d: %s", resp.StatusCode, msg)
	}

	var session Session
	if err := json.NewDecoder(resp.Body).Decode(&session); err != nil {
		return nil, fmt.Errorf("decoding session: %w", err)
	}
	return &session, nil
}

// Heartbeat tells the gateway this agent is still listening.
func (c *GateClient) Heartbeat(ctx context.Context, token string) error {
	return c.post(ctx, "/v1/agents/heartbeat", token)
}

// Disconnect removes the agent from the gateway's presence registry.
func (c *GateClient) Disconnect(ctx context.Context, token string) error {
	return c.post(ctx, "/v1/agents/disconnect", token)
}

func (c *GateClient) post(ctx context.Context, path, token string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return ErrUnauthorized
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("gateway returned %d", resp.StatusCode)
	}
	return nil
}
