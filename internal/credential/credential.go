// ABOUTME: Agent credential model with expiry, IP allow-list and lockout bookkeeping
// ABOUTME: Key generation and bcrypt hashing for agent secrets

package credential

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// ErrNotFound is returned when no credential matches a lookup.
var ErrNotFound = errors.New("credential not found")

// Lockout policy: a credential locks for LockDuration after LockThreshold
// consecutive qualifying failures.
const (
	LockThreshold = 5
	LockDuration  = 15 * time.Minute
)

// keyScheme tags every generated agent key so leaked keys are recognizable
// in logs and scanners.
const keyScheme = "dgk"

// AgentCredential is the stored identity of an on-premise agent. The secret
// itself is never stored; only its bcrypt hash plus display fragments.
type AgentCredential struct {
	ID          string
	TenantID    string
	AgentID     string
	KeyPrefix   string // display only
	KeySuffix   string // display only
	KeyHash     string
	Name        string
	Description string
	ExpiresAt   *time.Time
	LastUsedAt  *time.Time
	UsageCount  int64
	AllowedIPs  []string // empty means any IP
	Active      bool
	RotateSoon  bool
	FailedCount int
	LockedUntil *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// IsExpired reports whether the credential's expiry has passed.
func (c *AgentCredential) IsExpired(now time.Time) bool {
	return c.ExpiresAt != nil && !now.Before(*c.ExpiresAt)
}

// IsLocked reports whether a lock window is set and still in the future.
func (c *AgentCredential) IsLocked(now time.Time) bool {
	return c.LockedUntil != nil && now.Before(*c.LockedUntil)
}

// IsUsable is the single authorization predicate: active, not expired and
// not locked.
func (c *AgentCredential) IsUsable(now time.Time) bool {
	return c.Active && !c.IsExpired(now) && !c.IsLocked(now)
}

// AllowsIP reports whether the caller IP passes the allow-list. An empty
// list admits any IP; a non-empty list admits exact matches only.
func (c *AgentCredential) AllowsIP(ip string) bool {
	if len(c.AllowedIPs) == 0 {
		return true
	}
	for _, allowed := range c.AllowedIPs {
		if allowed == ip {
			return true
		}
	}
	return false
}

// RecordSuccess resets the failure counter and lock, stamps last-used and
// bumps the usage counter.
func (c *AgentCredential) RecordSuccess(now time.Time) {
	c.FailedCount = 0
	c.LockedUntil = nil
	c.LastUsedAt = &now
	c.UsageCount++
	c.UpdatedAt = now
}

// RecordFailure increments the failure counter and, at the threshold, sets
// the lock window from now. Returns true when this failure locked the
// credential.
func (c *AgentCredential) RecordFailure(now time.Time) bool {
	c.FailedCount++
	c.UpdatedAt = now
	if c.FailedCount >= LockThreshold {
		until := now.Add(LockDuration)
		c.LockedUntil = &until
		return true
	}
	return false
}

// MaskedKey renders the display form of the key, prefix and suffix around a
// fixed mask. Safe to log.
func (c *AgentCredential) MaskedKey() string {
	return fmt.Sprintf("%s_%s...%s", keyScheme, c.KeyPrefix, c.KeySuffix)
}

// GeneratedKey is the one-time result of minting a credential: the full key
// is returned to the operator exactly once and never persisted.
type GeneratedKey struct {
	Key       string
	KeyPrefix string
	KeySuffix string
	KeyHash   string
}

// GenerateKey mints a fresh agent key of the form dgk_<prefix>_<secret>.
// The prefix doubles as the lookup handle so verification never scans a
// tenant's full credential set.
func GenerateKey() (*GeneratedKey, error) {
	prefixBytes := make([]byte, 4)
	if _, err := rand.Read(prefixBytes); err != nil {
		return nil, fmt.Errorf("generating key prefix: %w", err)
	}
	secretBytes := make([]byte, 24)
	if _, err := rand.Read(secretBytes); err != nil {
		return nil, fmt.Errorf("generating key secret: %w", err)
	}

	prefix := hex.EncodeToString(prefixBytes)
	secret := hex.EncodeToString(secretBytes)
	key := fmt.Sprintf("%s_%s_%s", keyScheme, prefix, secret)

	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hashing key secret: %w", err)
	}

	return &GeneratedKey{
		Key:       key,
		KeyPrefix: prefix,
		KeySuffix: secret[len(secret)-4:],
		KeyHash:   string(hash),
	}, nil
}

// ParseKey splits a presented key into its prefix and secret parts. Returns
// an error for anything that does not match the dgk scheme.
func ParseKey(key string) (prefix, secret string, err error) {
	parts := strings.SplitN(key, "_", 3)
	if len(parts) != 3 || parts[0] != keyScheme || parts[1] == "" || parts[2] == "" {
		return "", "", errors.New("malformed agent key")
	}
	return parts[1], parts[2], nil
}

// VerifySecret compares a presented secret against the stored bcrypt hash.
func (c *AgentCredential) VerifySecret(secret string) bool {
	return bcrypt.CompareHashAndPassword([]byte(c.KeyHash), []byte(secret)) == nil
}

// NewCredential assembles a credential around a generated key.
func NewCredential(tenantID, agentID, name string, gen *GeneratedKey, expiresAt *time.Time) *AgentCredential {
	now := time.Now().UTC()
	return &AgentCredential{
		ID:        uuid.New().String(),
		TenantID:  tenantID,
		AgentID:   agentID,
		KeyPrefix: gen.KeyPrefix,
		KeySuffix: gen.KeySuffix,
		KeyHash:   gen.KeyHash,
		Name:      name,
		ExpiresAt: expiresAt,
		Active:    true,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Store defines persistence for agent credentials. Authentication mutates
// credentials on every attempt, so Update must be cheap.
type Store interface {
	CreateCredential(ctx context.Context, c *AgentCredential) error
	GetCredential(ctx context.Context, id string) (*AgentCredential, error)
	// GetCredentialByPrefix looks up a credential by tenant and key prefix.
	// Returns ErrNotFound when no such credential exists.
	GetCredentialByPrefix(ctx context.Context, tenantID, keyPrefix string) (*AgentCredential, error)
	UpdateCredential(ctx context.Context, c *AgentCredential) error
	ListCredentials(ctx context.Context, tenantID string) ([]*AgentCredential, error)
	DeleteCredential(ctx context.Context, id string) error
}
