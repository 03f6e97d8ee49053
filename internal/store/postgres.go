// ABOUTME: PostgreSQL implementation of the Store interface using pgx connection pools
// ABOUTME: Mirrors the SQLite schema with native BYTEA and BIGINT columns

package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements the Store interface on a pgx pool
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewPostgresStore connects to databaseURL, verifies the connection and
// creates the schema if needed.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	logger := slog.Default().With("component", "store", "driver", "postgres")

	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("opening pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	s := &PostgresStore{pool: pool, logger: logger}
	if err := s.createSchema(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("PostgreSQL store initialized")
	return s, nil
}

func (s *PostgresStore) createSchema(ctx context.Context) error {
	schema := `
		CREATE TABLE IF NOT EXISTS auth_credentials (
			tenant_id  TEXT PRIMARY KEY,
			data       BYTEA NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);

		CREATE TABLE IF NOT EXISTS auth_keys (
			tenant_id  TEXT NOT NULL,
			key_name   TEXT NOT NULL,
			value      BYTEA NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (tenant_id, key_name)
		);

		CREATE TABLE IF NOT EXISTS quota_counters (
			tenant_id  TEXT NOT NULL,
			recipient  TEXT NOT NULL,
			day        TEXT NOT NULL,
			count      INTEGER NOT NULL DEFAULT 0,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (tenant_id, recipient, day)
		);

		CREATE TABLE IF NOT EXISTS whitelist (
			tenant_id  TEXT NOT NULL,
			number     TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (tenant_id, number)
		);

		CREATE TABLE IF NOT EXISTS api_keys (
			api_key    TEXT PRIMARY KEY,
			tenant_id  TEXT NOT NULL UNIQUE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
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
			ts_ms       BIGINT,
			created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
		);

		CREATE INDEX IF NOT EXISTS idx_incoming_tenant_ts
			ON incoming_messages(tenant_id, ts_ms);
	`
	_, err := s.pool.Exec(ctx, schema)
	return err
}

// Ping checks the database connection.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close closes the connection pool.
func (s *PostgresStore) Close() error {
	s.logger.Info("closing PostgreSQL store")
	s.pool.Close()
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// LoadAuth returns the stored credentials or a fresh record.
func (s *PostgresStore) LoadAuth(ctx context.Context, tenantID string) (*AuthRecord, error) {
	tid := scope(tenantID)
	rec := &AuthRecord{Tenant: tid}

	err := s.pool.QueryRow(ctx,
		`SELECT data, updated_at FROM auth_credentials WHERE tenant_id = $1`, tid,
	).Scan(&rec.Credentials, &rec.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return rec, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying credentials: %w", err)
	}
	return rec, nil
}

// SaveCredentials upserts the credential blob.
func (s *PostgresStore) SaveCredentials(ctx context.Context, tenantID string, creds []byte) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO auth_credentials (tenant_id, data, updated_at) VALUES ($1, $2, now())
		ON CONFLICT (tenant_id) DO UPDATE SET data = EXCLUDED.data, updated_at = now()
	`, scope(tenantID), creds)
	if err != nil {
		return fmt.Errorf("saving credentials: %w", err)
	}
	return nil
}

// GetKeys fetches the named key blobs with one ANY($2) query.
func (s *PostgresStore) GetKeys(ctx context.Context, tenantID string, names []string) (map[string][]byte, error) {
	out := make(map[string][]byte, len(names))
	if len(names) == 0 {
		return out, nil
	}

	byKey := make(map[string]string, len(names))
	keys := make([]string, 0, len(names))
	for _, name := range names {
		k := EscapeKeyName(name)
		if _, dup := byKey[k]; !dup {
			byKey[k] = name
			keys = append(keys, k)
		}
	}

	rows, err := s.pool.Query(ctx,
		`SELECT key_name, value FROM auth_keys WHERE tenant_id = $1 AND key_name = ANY($2)`,
		scope(tenantID), keys,
	)
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

// SetKeys sends all upserts and deletes as one batch inside a transaction.
func (s *PostgresStore) SetKeys(ctx context.Context, tenantID string, entries map[string][]byte) error {
	if len(entries) == 0 {
		return nil
	}
	tid := scope(tenantID)

	batch := &pgx.Batch{}
	for name, value := range entries {
		k := EscapeKeyName(name)
		if value == nil {
			batch.Queue(`DELETE FROM auth_keys WHERE tenant_id = $1 AND key_name = $2`, tid, k)
			continue
		}
		batch.Queue(`
			INSERT INTO auth_keys (tenant_id, key_name, value, updated_at) VALUES ($1, $2, $3, now())
			ON CONFLICT (tenant_id, key_name) DO UPDATE SET value = EXCLUDED.value, updated_at = now()
		`, tid, k, value)
	}

	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		return tx.SendBatch(ctx, batch).Close()
	})
	if err != nil {
		return fmt.Errorf("writing keys: %w", err)
	}
	return nil
}

// ClearAuth removes the tenant's credentials and all of its keys.
func (s *PostgresStore) ClearAuth(ctx context.Context, tenantID string) error {
	tid := scope(tenantID)
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM auth_keys WHERE tenant_id = $1`, tid); err != nil {
			return fmt.Errorf("deleting keys: %w", err)
		}
		if _, err := tx.Exec(ctx, `DELETE FROM auth_credentials WHERE tenant_id = $1`, tid); err != nil {
			return fmt.Errorf("deleting credentials: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.logger.Info("cleared auth state", "tenant", tid)
	return nil
}

// GetQuotaCount returns zero for a missing counter.
func (s *PostgresStore) GetQuotaCount(ctx context.Context, tenantID, recipient, day string) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx,
		`SELECT count FROM quota_counters WHERE tenant_id = $1 AND recipient = $2 AND day = $3`,
		scope(tenantID), recipient, day,
	).Scan(&count)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("querying quota counter: %w", err)
	}
	return count, nil
}

// IncrementQuota creates the row at one or bumps it, in a single statement.
func (s *PostgresStore) IncrementQuota(ctx context.Context, tenantID, recipient, day string) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx, `
		INSERT INTO quota_counters (tenant_id, recipient, day, count, updated_at) VALUES ($1, $2, $3, 1, now())
		ON CONFLICT (tenant_id, recipient, day)
		DO UPDATE SET count = quota_counters.count + 1, updated_at = now()
		RETURNING count
	`, scope(tenantID), recipient, day).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("incrementing quota counter: %w", err)
	}
	return count, nil
}

// ListWhitelist returns the tenant's numbers sorted ascending.
func (s *PostgresStore) ListWhitelist(ctx context.Context, tenantID string) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT number FROM whitelist WHERE tenant_id = $1 ORDER BY number`, scope(tenantID),
	)
	if err != nil {
		return nil, fmt.Errorf("querying whitelist: %w", err)
	}
	numbers, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("collecting whitelist: %w", err)
	}
	if numbers == nil {
		numbers = []string{}
	}
	return numbers, nil
}

// AddToWhitelist is idempotent.
func (s *PostgresStore) AddToWhitelist(ctx context.Context, tenantID, number string) error {
	n := whitelistNumber(number)
	if n == "" {
		return fmt.Errorf("whitelist number %q has no digits", number)
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO whitelist (tenant_id, number) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
		scope(tenantID), n,
	)
	if err != nil {
		return fmt.Errorf("adding to whitelist: %w", err)
	}
	return nil
}

// RemoveFromWhitelist is a no-op for numbers not on the list.
func (s *PostgresStore) RemoveFromWhitelist(ctx context.Context, tenantID, number string) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM whitelist WHERE tenant_id = $1 AND number = $2`,
		scope(tenantID), whitelistNumber(number),
	)
	if err != nil {
		return fmt.Errorf("removing from whitelist: %w", err)
	}
	return nil
}

// CreateAPIKey returns the tenant's key, generating one if it has none.
func (s *PostgresStore) CreateAPIKey(ctx context.Context, tenantID string) (*APIKey, error) {
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

	k := &APIKey{Key: key, Tenant: tid}
	err = s.pool.QueryRow(ctx,
		`INSERT INTO api_keys (api_key, tenant_id) VALUES ($1, $2) RETURNING created_at`,
		key, tid,
	).Scan(&k.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return s.getAPIKeyByTenant(ctx, tid)
		}
		return nil, fmt.Errorf("inserting api key: %w", err)
	}

	s.logger.Info("created api key", "tenant", tid)
	return k, nil
}

func (s *PostgresStore) getAPIKeyByTenant(ctx context.Context, tid string) (*APIKey, error) {
	var k APIKey
	err := s.pool.QueryRow(ctx,
		`SELECT api_key, tenant_id, created_at FROM api_keys WHERE tenant_id = $1`, tid,
	).Scan(&k.Key, &k.Tenant, &k.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying api key: %w", err)
	}
	return &k, nil
}

// GetTenantByAPIKey resolves a key. Returns ErrNotFound for unknown keys.
func (s *PostgresStore) GetTenantByAPIKey(ctx context.Context, key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", ErrNotFound
	}

	var tid string
	err := s.pool.QueryRow(ctx, `SELECT tenant_id FROM api_keys WHERE api_key = $1`, key).Scan(&tid)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("querying api key: %w", err)
	}
	return scope(tid), nil
}

// DeleteAPIKey returns ErrNotFound if the tenant has no key.
func (s *PostgresStore) DeleteAPIKey(ctx context.Context, tenantID string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM api_keys WHERE tenant_id = $1`, scope(tenantID))
	if err != nil {
		return fmt.Errorf("deleting api key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListAPIKeys returns all keys ordered by tenant.
func (s *PostgresStore) ListAPIKeys(ctx context.Context) ([]*APIKey, error) {
	rows, err := s.pool.Query(ctx, `SELECT api_key, tenant_id, created_at FROM api_keys ORDER BY tenant_id`)
	if err != nil {
		return nil, fmt.Errorf("querying api keys: %w", err)
	}
	defer rows.Close()

	var keys []*APIKey
	for rows.Next() {
		var k APIKey
		if err := rows.Scan(&k.Key, &k.Tenant, &k.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning api key row: %w", err)
		}
		keys = append(keys, &k)
	}
	return keys, rows.Err()
}

// SaveIncomingMessage appends to the message log.
func (s *PostgresStore) SaveIncomingMessage(ctx context.Context, msg *IncomingMessage) error {
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	if msg.ID == "" {
		msg.ID = newMessageID(msg.CreatedAt)
	}
	msg.Tenant = scope(msg.Tenant)

	_, err := s.pool.Exec(ctx, `
		INSERT INTO incoming_messages
			(id, tenant_id, from_number, sender_jid, chat_jid, push_name, type, text, ts_ms, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`,
		msg.ID, msg.Tenant, msg.From, msg.SenderJID, msg.ChatJID,
		nullString(msg.PushName), nullString(msg.Type), msg.Text, msg.TimestampMS, msg.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting incoming message: %w", err)
	}
	return nil
}

// ListIncomingMessages returns the most recent messages, oldest first.
func (s *PostgresStore) ListIncomingMessages(ctx context.Context, tenantID string, limit int) ([]*IncomingMessage, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, tenant_id, from_number, sender_jid, chat_jid,
			COALESCE(push_name, ''), COALESCE(type, ''), text, COALESCE(ts_ms, 0), created_at
		FROM (
			SELECT * FROM incoming_messages WHERE tenant_id = $1
			ORDER BY ts_ms DESC, id DESC LIMIT $2
		) recent
		ORDER BY ts_ms ASC, id ASC
	`, scope(tenantID), limit)
	if err != nil {
		return nil, fmt.Errorf("querying incoming messages: %w", err)
	}
	defer rows.Close()

	var msgs []*IncomingMessage
	for rows.Next() {
		var m IncomingMessage
		if err := rows.Scan(&m.ID, &m.Tenant, &m.From, &m.SenderJID, &m.ChatJID,
			&m.PushName, &m.Type, &m.Text, &m.TimestampMS, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning incoming message: %w", err)
		}
		msgs = append(msgs, &m)
	}
	return msgs, rows.Err()
}

// Compile-time interface check
var _ Store = (*PostgresStore)(nil)
