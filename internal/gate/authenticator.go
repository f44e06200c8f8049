// ABOUTME: Agent authentication gate validating credentials before channel membership
// ABOUTME: Enforces expiry, IP allow-list and fixed-threshold brute-force lockout

package gate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/rentware/device-gateway/internal/credential"
)

// Rejection classes surfaced to agents. The distinction drives the HTTP
// status but the response body for credential failures stays generic so a
// caller cannot probe whether the tenant or the key was wrong.
var (
	ErrMissingField = errors.New("missing required field")
	ErrInvalidKey   = errors.New("invalid agent key")
	ErrLocked       = errors.New("credential is locked")
	ErrIPNotAllowed = errors.New("caller IP not allowed")
)

// ConnectRequest carries everything an agent presents at connect time.
type ConnectRequest struct {
	TenantID     string
	AgentID      string
	PresentedKey string
	CallerIP     string
}

// Identity is the authenticated agent attached to the request context after
// a successful connect.
type Identity struct {
	TenantID     string
	AgentID      string
	CredentialID string
	CallerIP     string
}

// Authenticator validates agent connect requests against the credential
// store. It is transport-independent; the HTTP layer maps its errors onto
// status codes.
type Authenticator struct {
	store  credential.Store
	logger *slog.Logger
	now    func() time.Time
}

// NewAuthenticator creates an Authenticator backed by the given store.
func NewAuthenticator(store credential.Store, logger *slog.Logger) *Authenticator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Authenticator{
		store:  store,
		logger: logger.With("component", "gate"),
		now:    time.Now,
	}
}

// Authenticate runs the full connect-time validation flow. On success the
// credential's usage bookkeeping is updated and the agent identity is
// returned. Qualifying failures (wrong key, wrong agent id) count toward
// the lockout threshold; expiry, inactive and IP rejections do not.
func (a *Authenticator) Authenticate(ctx context.Context, req *ConnectRequest) (*Identity, error) {
	if req.TenantID == "" || req.AgentID == "" || req.PresentedKey == "" || req.CallerIP == "" {
		a.logger.Warn("connect rejected", "reason", "missing_field", "tenant_id", req.TenantID)
		return nil, ErrMissingField
	}

	prefix, secret, err := credential.ParseKey(req.PresentedKey)
	if err != nil {
		a.logger.Warn("connect rejected", "reason", "malformed_key", "tenant_id", req.TenantID, "agent_id", req.AgentID)
		return nil, ErrInvalidKey
	}

	cred, err := a.store.GetCredentialByPrefix(ctx, req.TenantID, prefix)
	if errors.Is(err, credential.ErrNotFound) {
		// Generic message: do not reveal whether the tenant or the key was wrong.
		a.logger.Warn("connect rejected", "reason", "unknown_credential", "tenant_id", req.TenantID, "agent_id", req.AgentID)
		return nil, ErrInvalidKey
	}
	if err != nil {
		return nil, fmt.Errorf("looking up credential: %w", err)
	}

	now := a.now().UTC()

	// Lock and expiry checks come before secret verification so a locked
	// credential rejects even a correct key.
	if cred.IsLocked(now) {
		a.logger.Warn("connect rejected", "reason", "locked", "key", cred.MaskedKey(), "locked_until", cred.LockedUntil)
		return nil, ErrLocked
	}
	if cred.IsExpired(now) {
		a.logger.Warn("connect rejected", "reason", "expired", "key", cred.MaskedKey())
		return nil, ErrInvalidKey
	}
	if !cred.Active {
		a.logger.Warn("connect rejected", "reason", "inactive", "key", cred.MaskedKey())
		return nil, ErrInvalidKey
	}

	if !cred.VerifySecret(secret) {
		return nil, a.recordFailure(ctx, cred, "bad_secret", now)
	}
	if cred.AgentID != req.AgentID {
		return nil, a.recordFailure(ctx, cred, "agent_mismatch", now)
	}

	if !cred.AllowsIP(req.CallerIP) {
		a.logger.Warn("connect rejected", "reason", "ip_not_allowed", "key", cred.MaskedKey(), "caller_ip", req.CallerIP)
		return nil, ErrIPNotAllowed
	}

	cred.RecordSuccess(now)
	if err := a.store.UpdateCredential(ctx, cred); err != nil {
		return nil, fmt.Errorf("recording successful auth: %w", err)
	}

	a.logger.Info("agent authenticated",
		"tenant_id", cred.TenantID,
		"agent_id", cred.AgentID,
		"key", cred.MaskedKey(),
		"caller_ip", req.CallerIP,
	)

	return &Identity{
		TenantID:     cred.TenantID,
		AgentID:      cred.AgentID,
		CredentialID: cred.ID,
		CallerIP:     req.CallerIP,
	}, nil
}

// recordFailure persists a qualifying failure and returns the rejection
// error. The persistence is best effort: a racing attempt may shift the
// count that triggers the lock by one.
func (a *Authenticator) recordFailure(ctx context.Context, cred *credential.AgentCredential, reason string, now time.Time) error {
	locked := cred.RecordFailure(now)
	if err := a.store.UpdateCredential(ctx, cred); err != nil {
		a.logger.Error("failed to persist auth failure", "key", cred.MaskedKey(), "error", err)
	}

	a.logger.Warn("connect rejected",
		"reason", reason,
		"key", cred.MaskedKey(),
		"failed_count", cred.FailedCount,
		"locked", locked,
	)
	if locked {
		return ErrLocked
	}
	return ErrInvalidKey
}
