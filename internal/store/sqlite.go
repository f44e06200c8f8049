// ABOUTME: SQLite implementation of the credential store using modernc.org/sqlite
// ABOUTME: Gateway-side persistence with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/rentware/device-gateway/internal/credential"
)

// SQLiteStore implements credential.Store using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path. The schema is
// automatically created if it doesn't exist. Parent directories are created
// if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist.
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS agent_credentials (
			id TEXT PRIMARY KEY,
			tenant_id TEXT NOT NULL,
			agent_id TEXT NOT NULL,
			key_prefix TEXT NOT NULL,
			key_suffix TEXT NOT NULL,
			key_hash TEXT NOT NULL,
			name TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			expires_at TEXT,
			last_used_at TEXT,
			usage_count INTEGER NOT NULL DEFAULT 0,
			allowed_ips TEXT NOT NULL DEFAULT '',
			active INTEGER NOT NULL DEFAULT 1,
			rotate_soon INTEGER NOT NULL DEFAULT 0,
			failed_count INTEGER NOT NULL DEFAULT 0,
			locked_until TEXT,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);

		CREATE UNIQUE INDEX IF NOT EXISTS idx_credentials_tenant_prefix
			ON agent_credentials(tenant_id, key_prefix);

		CREATE INDEX IF NOT EXISTS idx_credentials_tenant
			ON agent_credentials(tenant_id);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("executing schema: %w", err)
	}
	return nil
}

const credentialColumns = `id, tenant_id, agent_id, key_prefix, key_suffix, key_hash,
		name, description, expires_at, last_used_at, usage_count, allowed_ips,
		active, rotate_soon, failed_count, locked_until, created_at, updated_at`

// CreateCredential inserts a new agent credential.
func (s *SQLiteStore) CreateCredential(ctx context.Context, c *credential.AgentCredential) error {
	query := `
		INSERT INTO agent_credentials (` + credentialColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		c.ID,
		c.TenantID,
		c.AgentID,
		c.KeyPrefix,
		c.KeySuffix,
		c.KeyHash,
		c.Name,
		c.Description,
		nullTime(c.ExpiresAt),
		nullTime(c.LastUsedAt),
		c.UsageCount,
		strings.Join(c.AllowedIPs, ","),
		boolToInt(c.Active),
		boolToInt(c.RotateSoon),
		c.FailedCount,
		nullTime(c.LockedUntil),
		c.CreatedAt.UTC().Format(time.RFC3339),
		c.UpdatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("inserting credential: %w", err)
	}

	s.logger.Debug("created credential",
		"id", c.ID,
		"tenant_id", c.TenantID,
		"agent_id", c.AgentID,
	)
	return nil
}

// GetCredential retrieves a credential by ID.
// Returns credential.ErrNotFound if it doesn't exist.
func (s *SQLiteStore) GetCredential(ctx context.Context, id string) (*credential.AgentCredential, error) {
	query := `SELECT ` + credentialColumns + ` FROM agent_credentials WHERE id = ?`
	return s.scanCredential(s.db.QueryRowContext(ctx, query, id))
}

// GetCredentialByPrefix looks up a credential by tenant and key prefix.
// Returns credential.ErrNotFound when no such credential exists.
func (s *SQLiteStore) GetCredentialByPrefix(ctx context.Context, tenantID, keyPrefix string) (*credential.AgentCredential, error) {
	query := `SELECT ` + credentialColumns + ` FROM agent_credentials WHERE tenant_id = ? AND key_prefix = ?`
	return s.scanCredential(s.db.QueryRowContext(ctx, query, tenantID, keyPrefix))
}

// UpdateCredential persists the mutable authentication bookkeeping fields.
func (s *SQLiteStore) UpdateCredential(ctx context.Context, c *credential.AgentCredential) error {
	query := `
		UPDATE agent_credentials
		SET name = ?, description = ?, expires_at = ?, last_used_at = ?,
			usage_count = ?, allowed_ips = ?, active = ?, rotate_soon = ?,
			failed_count = ?, locked_until = ?, updated_at = ?
		WHERE id = ?
	`

	result, err := s.db.ExecContext(ctx, query,
		c.Name,
		c.Description,
		nullTime(c.ExpiresAt),
		nullTime(c.LastUsedAt),
		c.UsageCount,
		strings.Join(c.AllowedIPs, ","),
		boolToInt(c.Active),
		boolToInt(c.RotateSoon),
		c.FailedCount,
		nullTime(c.LockedUntil),
		time.Now().UTC().Format(time.RFC3339),
		c.ID,
	)
	if err != nil {
		return fmt.Errorf("updating credential: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking update result: %w", err)
	}
	if rows == 0 {
		return credential.ErrNotFound
	}
	return nil
}

// ListCredentials returns all credentials for a tenant, newest first.
func (s *SQLiteStore) ListCredentials(ctx context.Context, tenantID string) ([]*credential.AgentCredential, error) {
	query := `SELECT ` + credentialColumns + ` FROM agent_credentials WHERE tenant_id = ? ORDER BY created_at DESC`

	rows, err := s.db.QueryContext(ctx, query, tenantID)
	if err != nil {
		return nil, fmt.Errorf("querying credentials: %w", err)
	}
	defer rows.Close()

	var creds []*credential.AgentCredential
	for rows.Next() {
		c, err := s.scanCredential(rows)
		if err != nil {
			return nil, err
		}
		creds = append(creds, c)
	}
	return creds, rows.Err()
}

// DeleteCredential removes a credential by ID.
func (s *SQLiteStore) DeleteCredential(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM agent_credentials WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting credential: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking delete result: %w", err)
	}
	if rows == 0 {
		return credential.ErrNotFound
	}
	return nil
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// scanner abstracts sql.Row and sql.Rows for scanCredential.
type scanner interface {
	Scan(dest ...any) error
}

func (s *SQLiteStore) scanCredential(row scanner) (*credential.AgentCredential, error) {
	var c credential.AgentCredential
	var expiresAt, lastUsedAt, lockedUntil sql.NullString
	var allowedIPs, createdAt, updatedAt string
	var active, rotateSoon int

	err := row.Scan(
		&c.ID,
		&c.TenantID,
		&c.AgentID,
		&c.KeyPrefix,
		&c.KeySuffix,
		&c.KeyHash,
		&c.Name,
		&c.Description,
		&expiresAt,
		&lastUsedAt,
		&c.UsageCount,
		&allowedIPs,
		&active,
		&rotateSoon,
		&c.FailedCount,
		&lockedUntil,
		&createdAt,
		&updatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, credential.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning credential: %w", err)
	}

	c.Active = active != 0
	c.RotateSoon = rotateSoon != 0
	if allowedIPs != "" {
		c.AllowedIPs = strings.Split(allowedIPs, ",")
	}
	c.ExpiresAt = parseNullTime(expiresAt, "expires_at", c.ID, s.logger)
	c.LastUsedAt = parseNullTime(lastUsedAt, "last_used_at", c.ID, s.logger)
	c.LockedUntil = parseNullTime(lockedUntil, "locked_until", c.ID, s.logger)
	c.CreatedAt = parseTime(createdAt, "created_at", c.ID, s.logger)
	c.UpdatedAt = parseTime(updatedAt, "updated_at", c.ID, s.logger)

	return &c, nil
}

func parseTime(value, column, id string, logger *slog.Logger) time.Time {
	parsed, err := time.Parse(time.RFC3339, value)
	if err != nil {
		logger.Warn("failed to parse credential timestamp", "id", id, "column", column, "error", err)
		return time.Time{}
	}
	return parsed
}

func parseNullTime(value sql.NullString, column, id string, logger *slog.Logger) *time.Time {
	if !value.Valid || value.String == "" {
		return nil
	}
	t := parseTime(value.String, column, id, logger)
	if t.IsZero() {
		return nil
	}
	return &t
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
