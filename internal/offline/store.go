// ABOUTME: Durable bounded command queue giving the agent restart resilience
// ABOUTME: SQLite-backed, single-writer, capacity-checked upserts by correlation id

package offline

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/rentware/device-gateway/internal/protocol"
)

// DefaultMaxQueued bounds the store when no explicit capacity is configured.
// SaveCommand rejects beyond this point: deliberate backpressure over
// unbounded growth.
const DefaultMaxQueued = 10000

// Store is the agent's durable command queue. One agent instance owns a
// given store at a time.
type Store struct {
	db        *sql.DB
	maxQueued int
	logger    *slog.Logger
}

// NewStore opens (or creates) the offline store at the given path. A
// maxQueued of zero or less selects DefaultMaxQueued.
func NewStore(path string, maxQueued int) (*Store, error) {
	logger := slog.Default().With("component", "offline")

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating store directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening offline store: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	if maxQueued <= 0 {
		maxQueued = DefaultMaxQueued
	}

	s := &Store{db: db, maxQueued: maxQueued, logger: logger}
	if err := s.Initialize(); err != nil {
		db.Close()
		return nil, err
	}

	logger.Info("offline store opened", "path", path, "max_queued", maxQueued)
	return s, nil
}

// Initialize idempotently ensures the backing schema exists.
func (s *Store) Initialize() error {
	schema := `
		CREATE TABLE IF NOT EXISTS commands (
			id TEXT PRIMARY KEY,
			tenant_id TEXT NOT NULL,
			agent_id TEXT NOT NULL DEFAULT '',
			command_type TEXT NOT NULL,
			device_type TEXT NOT NULL,
			payload TEXT NOT NULL,
			status TEXT NOT NULL,
			timeout_seconds INTEGER NOT NULL,
			queued_at TEXT NOT NULL,
			started_at TEXT,
			completed_at TEXT,
			retry_count INTEGER NOT NULL DEFAULT 0,
			max_retries INTEGER NOT NULL DEFAULT 0,
			response TEXT,
			error TEXT
		);

		CREATE INDEX IF NOT EXISTS idx_commands_status
			ON commands(status, queued_at);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("creating offline schema: %w", err)
	}
	return nil
}

// SaveCommand upserts an envelope by correlation id. Returns false without
// mutating anything when the store is at capacity.
func (s *Store) SaveCommand(ctx context.Context, env *protocol.CommandEnvelope) (bool, error) {
	size, err := s.GetQueueSize(ctx)
	if err != nil {
		return false, err
	}

	// An update of an existing row never grows the queue, so only new ids
	// hit the capacity check.
	exists, err := s.exists(ctx, env.ID)
	if err != nil {
		return false, err
	}
	if !exists && size >= s.maxQueued {
		s.logger.Warn("offline store full, rejecting command",
			"command_id", env.ID,
			"queue_size", size,
		)
		return false, nil
	}

	query := `
		INSERT INTO commands (id, tenant_id, agent_id, command_type, device_type,
			payload, status, timeout_seconds, queued_at, started_at, completed_at,
			retry_count, max_retries, response, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			started_at = excluded.started_at,
			completed_at = excluded.completed_at,
			retry_count = excluded.retry_count,
			response = excluded.response,
			error = excluded.error
	`

	_, err = s.db.ExecContext(ctx, query,
		env.ID,
		env.TenantID,
		env.AgentID,
		string(env.CommandType),
		string(env.DeviceType),
		env.Payload,
		string(env.Status),
		env.TimeoutSeconds,
		env.QueuedAt.UTC().Format(time.RFC3339Nano),
		nullTime(env.StartedAt),
		nullTime(env.CompletedAt),
		env.RetryCount,
		env.MaxRetries,
		nullString(env.Response),
		nullString(env.Error),
	)
	if err != nil {
		return false, fmt.Errorf("saving command: %w", err)
	}
	return true, nil
}

// LoadPendingCommands returns all Queued envelopes in FIFO order by original
// queue time. Used to resume work after a restart or reconnect.
func (s *Store) LoadPendingCommands(ctx context.Context) ([]*protocol.CommandEnvelope, error) {
	query := commandSelect + ` WHERE status = ? ORDER BY queued_at ASC`

	rows, err := s.db.QueryContext(ctx, query, string(protocol.StatusQueued))
	if err != nil {
		return nil, fmt.Errorf("loading pending commands: %w", err)
	}
	defer rows.Close()

	var envs []*protocol.CommandEnvelope
	for rows.Next() {
		env, err := s.scanCommand(rows)
		if err != nil {
			return nil, err
		}
		envs = append(envs, env)
	}
	return envs, rows.Err()
}

// UpdateCommandStatus transitions the status field only.
func (s *Store) UpdateCommandStatus(ctx context.Context, id string, status protocol.CommandStatus) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE commands SET status = ? WHERE id = ?`,
		string(status), id,
	)
	if err != nil {
		return fmt.Errorf("updating command status: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking status update: %w", err)
	}
	if rows == 0 {
		return ErrCommandNotFound
	}
	return nil
}

// GetCommand retrieves one envelope by correlation id.
func (s *Store) GetCommand(ctx context.Context, id string) (*protocol.CommandEnvelope, error) {
	row := s.db.QueryRowContext(ctx, commandSelect+` WHERE id = ?`, id)
	return s.scanCommand(row)
}

// DeleteCommand removes one envelope by correlation id.
func (s *Store) DeleteCommand(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM commands WHERE id = ?`, id); err != nil {
		return fmt.Errorf("deleting command: %w", err)
	}
	return nil
}

// CleanupOldCommands permanently removes terminal-state rows older than the
// retention window. Queued and Sent rows are untouched regardless of age.
func (s *Store) CleanupOldCommands(ctx context.Context, olderThanDays int) (int64, error) {
	cutoff := time.Now().AddDate(0, 0, -olderThanDays).UTC().Format(time.RFC3339Nano)

	result, err := s.db.ExecContext(ctx,
		`DELETE FROM commands WHERE status IN (?, ?, ?, ?) AND queued_at < ?`,
		string(protocol.StatusCompleted),
		string(protocol.StatusFailed),
		string(protocol.StatusTimeout),
		string(protocol.StatusCancelled),
		cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("cleaning up commands: %w", err)
	}
	removed, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("checking cleanup result: %w", err)
	}
	if removed > 0 {
		s.logger.Debug("cleaned up old commands", "removed", removed, "older_than_days", olderThanDays)
	}
	return removed, nil
}

// GetQueueSize returns the current row count.
func (s *Store) GetQueueSize(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM commands`).Scan(&count); err != nil {
		return 0, fmt.Errorf("counting commands: %w", err)
	}
	return count, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) exists(ctx context.Context, id string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM commands WHERE id = ?`, id).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("checking command existence: %w", err)
	}
	return true, nil
}

const commandSelect = `SELECT id, tenant_id, agent_id, command_type, device_type,
		payload, status, timeout_seconds, queued_at, started_at, completed_at,
		retry_count, max_retries, response, error
	FROM commands`

type scanner interface {
	Scan(dest ...any) error
}

func (s *Store) scanCommand(row scanner) (*protocol.CommandEnvelope, error) {
	var env protocol.CommandEnvelope
	var commandType, deviceType, status, queuedAt string
	var startedAt, completedAt, response, errMsg sql.NullString

	err := row.Scan(
		&env.ID,
		&env.TenantID,
		&env.AgentID,
		&commandType,
		&deviceType,
		&env.Payload,
		&status,
		&env.TimeoutSeconds,
		&queuedAt,
		&startedAt,
		&completedAt,
		&env.RetryCount,
		&env.MaxRetries,
		&response,
		&errMsg,
	)
	if err == sql.ErrNoRows {
		return nil, ErrCommandNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning command: %w", err)
	}

	env.CommandType = protocol.CommandType(commandType)
	env.DeviceType = protocol.DeviceType(deviceType)
	env.Status = protocol.CommandStatus(status)
	env.Response = response.String
	env.Error = errMsg.String

	parsed, err := time.Parse(time.RFC3339Nano, queuedAt)
	if err != nil {
		s.logger.Warn("failed to parse queued_at", "id", env.ID, "error", err)
	} else {
		env.QueuedAt = parsed
	}
	env.StartedAt = parseNullTime(startedAt)
	env.CompletedAt = parseNullTime(completedAt)

	return &env, nil
}

func parseNullTime(v sql.NullString) *time.Time {
	if !v.Valid || v.String == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, v.String)
	if err != nil {
		return nil
	}
	return &t
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
