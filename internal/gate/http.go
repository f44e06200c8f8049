// ABOUTME: HTTP surface for the authentication gate: connect and heartbeat
// ABOUTME: Maps authenticator rejections onto 400/401/403/429 status codes

package gate

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"
)

// HandlerOptions tunes the gate's HTTP surface.
type HandlerOptions struct {
	// TrustedProxies lists addresses or CIDR ranges of reverse proxies.
	// X-Forwarded-For is honored only when the direct peer is in this list;
	// otherwise the transport-level address is authoritative, so a caller
	// cannot forge its way past an IP allow-list with a header.
	TrustedProxies []string
	Logger         *slog.Logger
}

// Handler exposes the gate over HTTP.
type Handler struct {
	auth           *Authenticator
	signer         *SessionSigner
	presence       *Presence
	trustedProxies []*net.IPNet
	logger         *slog.Logger
}

// NewHandler wires the gate's HTTP endpoints.
func NewHandler(auth *Authenticator, signer *SessionSigner, presence *Presence, opts HandlerOptions) (*Handler, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	proxies, err := parseProxyList(opts.TrustedProxies)
	if err != nil {
		return nil, err
	}
	return &Handler{
		auth:           auth,
		signer:         signer,
		presence:       presence,
		trustedProxies: proxies,
		logger:         logger.With("component", "gate-http"),
	}, nil
}

// parseProxyList accepts CIDR ranges and bare addresses.
func parseProxyList(entries []string) ([]*net.IPNet, error) {
	var nets []*net.IPNet
	for _, entry := range entries {
		if _, network, err := net.ParseCIDR(entry); err == nil {
			nets = append(nets, network)
			continue
		}
		ip := net.ParseIP(entry)
		if ip == nil {
			return nil, fmt.Errorf("invalid trusted proxy %q", entry)
		}
		bits := len(ip) * 8
		if v4 := ip.To4(); v4 != nil {
			ip = v4
			bits = 32
		}
		nets = append(nets, &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)})
	}
	return nets, nil
}

// Register attaches the gate routes to a mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/agents/connect", h.handleConnect)
	mux.HandleFunc("POST /v1/agents/heartbeat", h.requireSession(h.handleHeartbeat))
	mux.HandleFunc("POST /v1/agents/disconnect", h.requireSession(h.handleDisconnect))
}

// connectRequest is the JSON body an agent presents at connect time.
type connectRequest struct {
	TenantID string `json:"tenant_id"`
	AgentID  string `json:"agent_id"`
	Key      string `json:"key"`
}

// connectResponse returns the session token granted to the agent.
type connectResponse struct {
	Token     string `json:"token"`
	ExpiresAt string `json:"expires_at"`
	TenantID  string `json:"tenant_id"`
}

func (h *Handler) handleConnect(w http.ResponseWriter, r *http.Request) {
	var req connectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	identity, err := h.auth.Authenticate(r.Context(), &ConnectRequest{
		TenantID:     req.TenantID,
		AgentID:      req.AgentID,
		PresentedKey: req.Key,
		CallerIP:     h.clientIP(r),
	})
	if err != nil {
		h.writeAuthError(w, err)
		return
	}

	token, err := h.signer.Issue(identity)
	if err != nil {
		h.logger.Error("failed to issue session token", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	h.presence.Touch(identity.TenantID, identity.AgentID)

	writeJSON(w, http.StatusOK, connectResponse{
		Token:     token,
		ExpiresAt: time.Now().Add(h.signer.TTL()).UTC().Format(time.RFC3339),
		TenantID:  identity.TenantID,
	})
}

func (h *Handler) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	id := FromContext(r.Context())
	h.presence.Touch(id.TenantID, id.AgentID)
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	id := FromContext(r.Context())
	h.presence.Forget(id.TenantID, id.AgentID)
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// requireSession validates the bearer session token and attaches the agent
// identity to the request context.
func (h *Handler) requireSession(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if !strings.HasPrefix(authHeader, "Bearer ") {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		identity, err := h.signer.Verify(strings.TrimPrefix(authHeader, "Bearer "))
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid or expired token")
			return
		}
		next(w, r.WithContext(WithIdentity(r.Context(), identity)))
	}
}

// writeAuthError maps authenticator rejections onto the gate's status
// surface. Credential-shaped failures share one generic message.
func (h *Handler) writeAuthError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrMissingField):
		writeError(w, http.StatusBadRequest, "missing required field")
	case errors.Is(err, ErrLocked):
		writeError(w, http.StatusTooManyRequests, "credential temporarily locked")
	case errors.Is(err, ErrIPNotAllowed):
		writeError(w, http.StatusForbidden, "caller address not allowed")
	case errors.Is(err, ErrInvalidKey):
		writeError(w, http.StatusUnauthorized, "invalid agent key")
	default:
		h.logger.Error("authentication failed internally", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// clientIP extracts the caller address. The transport-level peer address is
// authoritative; X-Forwarded-For is consulted only when that peer is a
// configured trusted proxy.
func (h *Handler) clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" && h.trustedProxy(host) {
		parts := strings.Split(xff, ",")
		return strings.TrimSpace(parts[0])
	}
	return host
}

func (h *Handler) trustedProxy(host string) bool {
	ip := net.ParseIP(host)
	if ip == nil {
		return false
	}
	for _, network := range h.trustedProxies {
		if network.Contains(ip) {
			return true
		}
	}
	return false
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
