// ABOUTME: Tests for credential invariants, lockout bookkeeping and key handling
// ABOUTME: Exhaustive IsUsable table per the active/expired/locked combinations

package credential

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsUsable_AllCombinations(t *testing.T) {
	now := time.Now().UTC()
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	tests := []struct {
		name        string
		active      bool
		expiresAt   *time.Time
		lockedUntil *time.Time
		want        bool
	}{
		{"active, no expiry, not locked", true, nil, nil, true},
		{"active, future expiry, not locked", true, &future, nil, true},
		{"active, past expiry, not locked", true, &past, nil, false},
		{"active, no expiry, locked", true, nil, &future, false},
		{"active, no expiry, lock elapsed", true, nil, &past, true},
		{"inactive, no expiry, not locked", false, nil, nil, false},
		{"inactive, future expiry, not locked", false, &future, nil, false},
		{"inactive, past expiry, locked", false, &past, &future, false},
		{"active, past expiry, locked", true, &past, &future, false},
		{"active, past expiry, lock elapsed", true, &past, &past, false},
		{"inactive, no expiry, lock elapsed", false, nil, &past, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &AgentCredential{
				Active:      tt.active,
				ExpiresAt:   tt.expiresAt,
				LockedUntil: tt.lockedUntil,
			}
			assert.Equal(t, tt.want, c.IsUsable(now))
			assert.Equal(t, tt.want, c.Active && !c.IsExpired(now) && !c.IsLocked(now),
				"IsUsable must equal IsActive && !IsExpired && !IsLocked")
		})
	}
}

func TestRecordFailure_LocksAtThreshold(t *testing.T) {
	c := &AgentCredential{Active: true}
	now := time.Now().UTC()

	for i := 1; i < LockThreshold; i++ {
		locked := c.RecordFailure(now)
		assert.False(t, locked, "failure %d must not lock", i)
		assert.Equal(t, i, c.FailedCount)
		assert.Nil(t, c.LockedUntil)
	}

	locked := c.RecordFailure(now)
	assert.True(t, locked, "failure %d must lock", LockThreshold)
	require.NotNil(t, c.LockedUntil)
	assert.Equal(t, now.Add(LockDuration), *c.LockedUntil)
	assert.True(t, c.IsLocked(now))
	assert.False(t, c.IsLocked(now.Add(LockDuration+time.Second)))
}

func TestRecordSuccess_ResetsCounterAndLock(t *testing.T) {
	c := &AgentCredential{Active: true}
	now := time.Now().UTC()

	c.RecordFailure(now)
	c.RecordFailure(now)
	c.RecordSuccess(now)

	assert.Equal(t, 0, c.FailedCount)
	assert.Nil(t, c.LockedUntil)
	assert.Equal(t, int64(1), c.UsageCount)
	require.NotNil(t, c.LastUsedAt)
	assert.Equal(t, now, *c.LastUsedAt)

	// A fresh run of failures starts from zero again.
	for i := 1; i < LockThreshold; i++ {
		assert.False(t, c.RecordFailure(now))
	}
	assert.True(t, c.RecordFailure(now))
}

func TestAllowsIP(t *testing.T) {
	c := &AgentCredential{}
	assert.True(t, c.AllowsIP("203.0.113.7"), "empty allow-list admits any IP")

	c.AllowedIPs = []string{"10.0.0.1", "10.0.0.2"}
	assert.True(t, c.AllowsIP("10.0.0.1"))
	assert.True(t, c.AllowsIP("10.0.0.2"))
	assert.False(t, c.AllowsIP("10.0.0.3"))

	// A previously-allowed IP rejects once removed.
	c.AllowedIPs = []string{"10.0.0.2"}
	assert.False(t, c.AllowsIP("10.0.0.1"))
}

func TestGenerateKey(t *testing.T) {
	gen, err := GenerateKey()
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(gen.Key, "dgk_"))
	assert.NotContains(t, gen.KeyHash, gen.Key, "hash must not embed the key")

	prefix, secret, err := ParseKey(gen.Key)
	require.NoError(t, err)
	assert.Equal(t, gen.KeyPrefix, prefix)
	assert.Equal(t, secret[len(secret)-4:], gen.KeySuffix)

	c := &AgentCredential{KeyHash: gen.KeyHash}
	assert.True(t, c.VerifySecret(secret))
	assert.False(t, c.VerifySecret("wrong-secret"))
}

func TestGenerateKey_Distinct(t *testing.T) {
	a, err := GenerateKey()
	require.NoError(t, err)
	b, err := GenerateKey()
	require.NoError(t, err)
	assert.NotEqual(t, a.Key, b.Key)
}

func TestParseKey_Malformed(t *testing.T) {
	for _, key := range []string{"", "dgk_", "dgk_abc", "sk_abc_def", "abc_def_ghi", "dgk__secret", "dgk_prefix_"} {
		_, _, err := ParseKey(key)
		assert.Error(t, err, "key %q must be rejected", key)
	}
}

func TestMaskedKey(t *testing.T) {
	c := &AgentCredential{KeyPrefix: "ab12cd34", KeySuffix: "ff99"}
	masked := c.MaskedKey()
	assert.Equal(t, "dgk_ab12cd34...ff99", masked)
}

func TestNewCredential(t *testing.T) {
	gen, err := GenerateKey()
	require.NoError(t, err)

	c := NewCredential("tenant-1", "agent-1", "booth terminal", gen, nil)
	assert.NotEmpty(t, c.ID)
	assert.Equal(t, "tenant-1", c.TenantID)
	assert.Equal(t, "agent-1", c.AgentID)
	assert.True(t, c.Active)
	assert.True(t, c.IsUsable(time.Now()))
}
