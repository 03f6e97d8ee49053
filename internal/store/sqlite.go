// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Provides auth state, quota counters, whitelist, and API keys with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store", "driver", "sqlite")

	// Ensure parent directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// A single connection serializes writers; counter upserts then never see SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
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

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS auth_credentials (
			tenant_id  TEXT PRIMARY KEY,
			data       BLOB NOT NULL,
			updated_at TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS auth_keys (
			tenant_id  TEXT NOT NULL,
			key_name   TEXT NOT NULL,
			value      BLOB NOT NULL,
			updated_at TEXT NOT NULL,
			PRIMARY KEY (tenant_id, key_name)
		);

		CREATE TABLE IF NOT EXISTS quota_counters (
			tenant_id  TEXT NOT NULL,
			recipient  TEXT NOT NULL,
			day        TEXT NOT NULL,
			count      INTEGER NOT NULL DEFAULT 0,
			updated_at TEXT NOT NULL,
			PRIMARY KEY (tenant_id, recipient, day)
		);

		CREATE TABLE IF NOT EXISTS whitelist (
			tenant_id  TEXT NOT NULL,
			number     TEXT NOT NULL,
			created_at TEXT NOT NULL,
			PRIMARY KEY (tenant_id, number)
		);

		CREATE TABLE IF NOT EXISTS api_keys (
			api_key    TEXT PRIMARY KEY,
			tenant_id  TEXT NOT NULL UNIQUE,
			created_at TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS incoming_messages (
			id          TEXT PRIMARY KEY,
			tenant_id   TEXT NOT NULL,
			from_number TEXT NOT NULL,
			sender_jid  TEXT NOT NULL,
			chat_jid    TEXT NOT NULL,
			push_name   TEXT,
			type        TEXT,
			text        TEXT,
			ts_ms       INTEGER,
			created_at  TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_incoming_tenant_ts
			ON incoming_messages(tenant_id, ts_ms);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Ping checks that the database answers queries
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// isConstraintViolation checks if the error is a SQLite UNIQUE constraint violation
func isConstraintViolation(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "UNIQUE constraint failed") ||
		strings.Contains(errStr, "constraint failed")
}

func nowText() string {
	return time.Now().UTC().Format(time.RFC3339)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339, s)
	return t
}

// LoadAuth returns the stored credentials, or a fresh record for tenants that
// have never paired.
func (s *SQLiteStore) LoadAuth(ctx context.Context, tenantID string) (*AuthRecord, error) {
	tid := scope(tenantID)
	rec := &AuthRecord{Tenant: tid}

	var updatedAt string
	err := s.db.QueryRowContext(ctx,
		`SELECT data, updated_at FROM auth_credentials WHERE tenant_id = ?`, tid,
	).Scan(&rec.Credentials, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return rec, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying credentials: %w", err)
	}

	rec.UpdatedAt = parseTime(updatedAt)
	return rec, nil
}

// SaveCredentials upserts the credential blob.
// Uses INSERT OR REPLACE to handle both insert and update cases.
func (s *SQLiteStore) SaveCredentials(ctx context.Context, tenantID string, creds []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO auth_credentials (tenant_id, data, updated_at) VALUES (?, ?, ?)`,
		scope(tenantID), creds, nowText(),
	)
	if err != nil {
		return fmt.Errorf("saving credentials: %w", err)
	}

	s.logger.Debug("saved credentials", "tenant", scope(tenantID), "size", len(creds))
	return nil
}

// GetKeys fetches the named key blobs in one query. Missing names are omitted.
func (s *SQLiteStore) GetKeys(ctx context.Context, tenantID string, names []string) (map[string][]byte, error) {
	out := make(map[string][]byte, len(names))
	if len(names) == 0 {
		return out, nil
	}

	byKey := make(map[string]string, len(names))
	args := make([]any, 0, len(names)+1)
	args = append(args, scope(tenantID))
	for _, name := range names {
		k := EscapeKeyName(name)
		if _, dup := byKey[k]; dup {
			continue
		}
		byKey[k] = name
		args = append(args, k)
	}

	query := `SELECT key_name, value FROM auth_keys WHERE tenant_id = ? AND key_name IN (?` +
		strings.Repeat(", ?", len(byKey)-1) + `)`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying keys: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var k string
		var v []byte
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("scanning key row: %w", err)
		}
		out[byKey[k]] = v
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating key rows: %w", err)
	}

	return out, nil
}

// SetKeys applies upserts and deletes in one transaction.
func (s *SQLiteStore) SetKeys(ctx context.Context, tenantID string, entries map[string][]byte) error {
	if len(entries) == 0 {
		return nil
	}
	tid := scope(tenantID)
	now := nowText()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	for name, value := range entries {
		k := EscapeKeyName(name)
		if value == nil {
			if _, err := tx.ExecContext(ctx,
				`DELETE FROM auth_keys WHERE tenant_id = ? AND key_name = ?`, tid, k,
			); err != nil {
				return fmt.Errorf("deleting key %q: %w", name, err)
			}
			continue
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO auth_keys (tenant_id, key_name, value, updated_at) VALUES (?, ?, ?, ?)
			ON CONFLICT (tenant_id, key_name) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
		`, tid, k, value, now); err != nil {
			return fmt.Errorf("upserting key %q: %w", name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing keys: %w", err)
	}
	return nil
}

// ClearAuth removes the tenant's credentials and all of its keys.
func (s *SQLiteStore) ClearAuth(ctx context.Context, tenantID string) error {
	tid := scope(tenantID)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM auth_keys WHERE tenant_id = ?`, tid); err != nil {
		return fmt.Errorf("deleting keys: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM auth_credentials WHERE tenant_id = ?`, tid); err != nil {
		return fmt.Errorf("deleting credentials: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing auth clear: %w", err)
	}

	s.logger.Info("cleared auth state", "tenant", tid)
	return nil
}

// GetQuotaCount returns the counter for the day, zero when absent.
func (s *SQLiteStore) GetQuotaCount(ctx context.Context, tenantID, recipient, day string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT count FROM quota_counters WHERE tenant_id = ? AND recipient = ? AND day = ?`,
		scope(tenantID), recipient, day,
	).Scan(&count)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("querying quota counter: %w", err)
	}
	return count, nil
}

// IncrementQuota creates the row at one or bumps it, in a single statement.
func (s *SQLiteStore) IncrementQuota(ctx context.Context, tenantID, recipient, day string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO quota_counters (tenant_id, recipient, day, count, updated_at) VALUES (?, ?, ?, 1, ?)
		ON CONFLICT (tenant_id, recipient, day) DO UPDATE SET count = count + 1, updated_at = excluded.updated_at
		RETURNING count
	`, scope(tenantID), recipient, day, nowText()).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("incrementing quota counter: %w", err)
	}
	return count, nil
}

// ListWhitelist returns the tenant's numbers sorted ascending.
func (s *SQLiteStore) ListWhitelist(ctx context.Context, tenantID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT number FROM whitelist WHERE tenant_id = ? ORDER BY number`, scope(tenantID),
	)
	if err != nil {
		return nil, fmt.Errorf("querying whitelist: %w", err)
	}
	defer rows.Close()

	numbers := []string{}
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, fmt.Errorf("scanning whitelist row: %w", err)
		}
		numbers = append(numbers, n)
	}
	return numbers, rows.Err()
}

// AddToWhitelist is idempotent.
func (s *SQLiteStore) AddToWhitelist(ctx context.Context, tenantID, number string) error {
	n := whitelistNumber(number)
	if n == "" {
		return fmt.Errorf("whitelist number %q has no digits", number)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO whitelist (tenant_id, number, created_at) VALUES (?, ?, ?)`,
		scope(tenantID), n, nowText(),
	)
	if err != nil {
		return fmt.Errorf("adding to whitelist: %w", err)
	}
	return nil
}

// RemoveFromWhitelist is a no-op for numbers not on the list.
func (s *SQLiteStore) RemoveFromWhitelist(ctx context.Context, tenantID, number string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM whitelist WHERE tenant_id = ? AND number = ?`,
		scope(tenantID), whitelistNumber(number),
	)
	if err != nil {
		return fmt.Errorf("removing from whitelist: %w", err)
	}
	return nil
}

// CreateAPIKey returns the tenant's key, generating one if it has none.
func (s *SQLiteStore) CreateAPIKey(ctx context.Context, tenantID string) (*APIKey, error) {
	tid := scope(tenantID)

	existing, err := s.getAPIKeyByTenant(ctx, tid)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	key, err := GenerateAPIKey()
	if err != nil {
		return nil, err
	}
	created := time.Now().UTC().Truncate(time.Second)

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO api_keys (api_key, tenant_id, created_at) VALUES (?, ?, ?)`,
		key, tid, created.Format(time.RFC3339),
	)
	if err != nil {
		if isConstraintViolation(err) {
			// Lost a race with another creator for the same tenant.
			return s.getAPIKeyByTenant(ctx, tid)
		}
		return nil, fmt.Errorf("inserting api key: %w", err)
	}

	s.logger.Info("created api key", "tenant", tid)
	return &APIKey{Key: key, Tenant: tid, CreatedAt: created}, nil
}

func (s *SQLiteStore) getAPIKeyByTenant(ctx context.Context, tid string) (*APIKey, error) {
	var k APIKey
	var createdAt string
	err := s.db.QueryRowContext(ctx,
		`SELECT api_key, tenant_id, created_at FROM api_keys WHERE tenant_id = ?`, tid,
	).Scan(&k.Key, &k.Tenant, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying api key: %w", err)
	}
	k.CreatedAt = parseTime(createdAt)
	return &k, nil
}

// GetTenantByAPIKey resolves a key. Returns ErrNotFound for unknown keys.
func (s *SQLiteStore) GetTenantByAPIKey(ctx context.Context, key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", ErrNotFound
	}

	var tid string
	err := s.db.QueryRowContext(ctx, `SELECT tenant_id FROM api_keys WHERE api_key = ?`, key).Scan(&tid)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("querying api key: %w", err)
	}
	return scope(tid), nil
}

// DeleteAPIKey removes the tenant's key. Returns ErrNotFound if it has none.
func (s *SQLiteStore) DeleteAPIKey(ctx context.Context, tenantID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM api_keys WHERE tenant_id = ?`, scope(tenantID))
	if err != nil {
		return fmt.Errorf("deleting api key: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListAPIKeys returns all keys ordered by tenant.
func (s *SQLiteStore) ListAPIKeys(ctx context.Context) ([]*APIKey, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT api_key, tenant_id, created_at FROM api_keys ORDER BY tenant_id`)
	if err != nil {
		return nil, fmt.Errorf("querying api keys: %w", err)
	}
	defer rows.Close()

	var keys []*APIKey
	for rows.Next() {
		var k APIKey
		var createdAt string
		if err := rows.Scan(&k.Key, &k.Tenant, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning api key row: %w", err)
		}
		k.CreatedAt = parseTime(createdAt)
		keys = append(keys, &k)
	}
	return keys, rows.Err()
}

// SaveIncomingMessage appends to the message log, assigning an ID if unset.
func (s *SQLiteStore) SaveIncomingMessage(ctx context.Context, msg *IncomingMessage) error {
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	if msg.ID == "" {
		msg.ID = newMessageID(msg.CreatedAt)
	}
	msg.Tenant = scope(msg.Tenant)

	var text any
	if msg.Text != nil {
		text = *msg.Text
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO incoming_messages
			(id, tenant_id, from_number, sender_jid, chat_jid, push_name, type, text, ts_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		msg.ID, msg.Tenant, msg.From, msg.SenderJID, msg.ChatJID,
		nullString(msg.PushName), nullString(msg.Type), text, msg.TimestampMS,
		msg.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("inserting incoming message: %w", err)
	}
	return nil
}

// ListIncomingMessages returns the most recent messages, oldest first.
func (s *SQLiteStore) ListIncomingMessages(ctx context.Context, tenantID string, limit int) ([]*IncomingMessage, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tenant_id, from_number, sender_jid, chat_jid, push_name, type, text, ts_ms, created_at
		FROM incoming_messages
		WHERE tenant_id = ?
		ORDER BY ts_ms DESC, id DESC
		LIMIT ?
	`, scope(tenantID), limit)
	if err != nil {
		return nil, fmt.Errorf("querying incoming messages: %w", err)
	}
	defer rows.Close()

	var msgs []*IncomingMessage
	for rows.Next() {
		var m IncomingMessage
		var pushName, msgType, text sql.NullString
		var ts sql.NullInt64
		var createdAt string
		if err := rows.Scan(&m.ID, &m.Tenant, &m.From, &m.SenderJID, &m.ChatJID,
			&pushName, &msgType, &text, &ts, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning incoming message: %w", err)
		}
		m.PushName = pushName.String
		m.Type = msgType.String
		if text.Valid {
			t := text.String
			m.Text = &t
		}
		m.TimestampMS = ts.Int64
		m.CreatedAt = parseTime(createdAt)
		msgs = append(msgs, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating incoming messages: %w", err)
	}

	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

// Compile-time interface check
var _ Store = (*SQLiteStore)(nil)
