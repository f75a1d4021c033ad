package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/wdullaer/cf-ddns/types"
	"go.uber.org/zap"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS api_keys (
	id BIGSERIAL PRIMARY KEY,
	token TEXT UNIQUE NOT NULL,
	name TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS zones (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT '',
	api_key_id BIGINT NOT NULL REFERENCES api_keys (id)
);

CREATE TABLE IF NOT EXISTS dns_records (
	id TEXT PRIMARY KEY,
	zone_id TEXT NOT NULL REFERENCES zones (id),
	name TEXT NOT NULL,
	type TEXT NOT NULL,
	content TEXT NOT NULL,
	ttl INTEGER NOT NULL DEFAULT 120,
	proxied BOOLEAN NOT NULL DEFAULT FALSE,
	auto_update BOOLEAN NOT NULL DEFAULT FALSE,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS dns_records_auto_update_idx ON dns_records (auto_update);

CREATE TABLE IF NOT EXISTS update_logs (
	id BIGSERIAL PRIMARY KEY,
	run_id TEXT NOT NULL DEFAULT '',
	record_id TEXT NOT NULL,
	old_content TEXT NOT NULL DEFAULT '',
	new_content TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL,
	message TEXT NOT NULL DEFAULT '',
	trigger_type TEXT NOT NULL DEFAULT 'auto',
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS update_logs_record_idx ON update_logs (record_id);
CREATE INDEX IF NOT EXISTS update_logs_run_idx ON update_logs (run_id);
`

// PostgresStore implements the Store interface on a PostgreSQL database
type PostgresStore struct {
	db     *sqlx.DB
	logger *zap.SugaredLogger
}

// NewPostgresStore connects to the database at dsn and creates the schema when missing
func NewPostgresStore(ctx context.Context, logger *zap.SugaredLogger, dsn string) (*PostgresStore, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if _, err := db.ExecContext(ctx, postgresSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}
	return &PostgresStore{db: db, logger: logger.Named("postgres-store")}, nil
}

// CleanUp closes the connection pool
func (store *PostgresStore) CleanUp() {
	store.logger.Info("Close postgres connection")
	if err := store.db.Close(); err != nil {
		store.logger.Errorw("Failed to close postgres", "err", err)
	}
}

func (store *PostgresStore) SaveAPIKey(ctx context.Context, key types.APIKey) (types.APIKey, error) {
	out := types.APIKey{}
	err := store.db.GetContext(ctx, &out, `
		INSERT INTO api_keys (token, name)
		VALUES ($1, $2)
		ON CONFLICT (token) DO UPDATE
		SET name = CASE WHEN EXCLUDED.name = '' THEN api_keys.name ELSE EXCLUDED.name END
		RETURNING id, token, name, created_at
	`, key.Token, key.Name)
	return out, err
}

func (store *PostgresStore) GetAPIKey(ctx context.Context, id int64) (types.APIKey, error) {
	key := types.APIKey{}
	err := store.db.GetContext(ctx, &key, `SELECT id, token, name, created_at FROM api_keys WHERE id = $1`, id)
	return key, notFound(err)
}

func (store *PostgresStore) ListAPIKeys(ctx context.Context) ([]types.APIKey, error) {
	out := []types.APIKey{}
	err := store.db.SelectContext(ctx, &out, `SELECT id, token, name, created_at FROM api_keys ORDER BY id`)
	return out, err
}

func (store *PostgresStore) DeleteAPIKey(ctx context.Context, id int64) error {
	tx, err := store.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	cascade := []string{
		`DELETE FROM update_logs WHERE record_id IN (
			SELECT dr.id FROM dns_records dr JOIN zones z ON dr.zone_id = z.id WHERE z.api_key_id = $1)`,
		`DELETE FROM dns_records WHERE zone_id IN (SELECT id FROM zones WHERE api_key_id = $1)`,
		`DELETE FROM zones WHERE api_key_id = $1`,
	}
	for _, query := range cascade {
		if _, err := tx.ExecContext(ctx, query, id); err != nil {
			return err
		}
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM api_keys WHERE id = $1`, id)
	if err := affectedOne(res, err); err != nil {
		return err
	}
	return tx.Commit()
}

func (store *PostgresStore) SaveZone(ctx context.Context, zone types.Zone) error {
	_, err := store.db.NamedExecContext(ctx, `
		INSERT INTO zones (id, name, status, api_key_id)
		VALUES (:id, :name, :status, :api_key_id)
		ON CONFLICT (id) DO UPDATE
		SET name = EXCLUDED.name, status = EXCLUDED.status, api_key_id = EXCLUDED.api_key_id
	`, zone)
	return err
}

func (store *PostgresStore) GetZone(ctx context.Context, id string) (types.Zone, error) {
	zone := types.Zone{}
	err := store.db.GetContext(ctx, &zone, `SELECT id, name, status, api_key_id FROM zones WHERE id = $1`, id)
	return zone, notFound(err)
}

func (store *PostgresStore) ListZones(ctx context.Context, apiKeyID int64) ([]types.Zone, error) {
	out := []types.Zone{}
	err := store.db.SelectContext(ctx, &out, `
		SELECT id, name, status, api_key_id FROM zones
		WHERE $1 = 0 OR api_key_id = $1
		ORDER BY id
	`, apiKeyID)
	return out, err
}

func (store *PostgresStore) SaveRecord(ctx context.Context, record types.DNSRecord) error {
	record.Normalize()
	_, err := store.db.NamedExecContext(ctx, `
		INSERT INTO dns_records (id, zone_id, name, type, content, ttl, proxied, auto_update, updated_at)
		VALUES (:id, :zone_id, :name, :type, :content, :ttl, :proxied, :auto_update, NOW())
		ON CONFLICT (id) DO UPDATE
		SET zone_id = EXCLUDED.zone_id, name = EXCLUDED.name, type = EXCLUDED.type,
			content = EXCLUDED.content, ttl = EXCLUDED.ttl, proxied = EXCLUDED.proxied,
			auto_update = EXCLUDED.auto_update, updated_at = NOW()
	`, record)
	return err
}

const recordColumns = `id, zone_id, name, type, content, ttl, proxied, auto_update, updated_at`

func (store *PostgresStore) GetRecord(ctx context.Context, id string) (types.DNSRecord, error) {
	record := types.DNSRecord{}
	err := store.db.GetContext(ctx, &record, `SELECT `+recordColumns+` FROM dns_records WHERE id = $1`, id)
	return record, notFound(err)
}

func (store *PostgresStore) ListRecords(ctx context.Context, zoneID string) ([]types.DNSRecord, error) {
	out := []types.DNSRecord{}
	err := store.db.SelectContext(ctx, &out, `SELECT `+recordColumns+` FROM dns_records WHERE zone_id = $1 ORDER BY id`, zoneID)
	return out, err
}

func (store *PostgresStore) DeleteRecord(ctx context.Context, id string) error {
	_, err := store.db.ExecContext(ctx, `DELETE FROM dns_records WHERE id = $1`, id)
	return err
}

func (store *PostgresStore) SetAutoUpdate(ctx context.Context, id string, enabled bool) error {
	res, err := store.db.ExecContext(ctx, `
		UPDATE dns_records SET auto_update = $1, updated_at = NOW() WHERE id = $2
	`, enabled, id)
	return affectedOne(res, err)
}

func (store *PostgresStore) ApplyUpdate(ctx context.Context, recordID string, state types.RecordState) error {
	record := types.DNSRecord{}
	applyState(&record, state)
	res, err := store.db.ExecContext(ctx, `
		UPDATE dns_records SET type = $1, content = $2, proxied = $3, updated_at = NOW() WHERE id = $4
	`, record.Type, record.Content, record.Proxied, recordID)
	return affectedOne(res, err)
}

type eligibleRow struct {
	types.DNSRecord
	ZoneName string `db:"zone_name"`
	Token    string `db:"token"`
	APIKeyID int64  `db:"api_key_id"`
}

func (store *PostgresStore) ListAutoUpdateEligible(ctx context.Context, apiKeyID int64) ([]types.EligibleRecord, error) {
	rows := []eligibleRow{}
	err := store.db.SelectContext(ctx, &rows, `
		SELECT dr.id, dr.zone_id, dr.name, dr.type, dr.content, dr.ttl, dr.proxied, dr.auto_update, dr.updated_at,
			z.name AS zone_name, ak.token, ak.id AS api_key_id
		FROM dns_records dr
		JOIN zones z ON dr.zone_id = z.id
		JOIN api_keys ak ON z.api_key_id = ak.id
		WHERE dr.auto_update AND dr.type = ANY($1) AND ($2 = 0 OR ak.id = $2)
		ORDER BY dr.id
	`, pq.StringArray(types.AutoUpdatableTypes()), apiKeyID)
	if err != nil {
		return nil, err
	}
	out := make([]types.EligibleRecord, len(rows))
	for i, row := range rows {
		out[i] = types.EligibleRecord{Record: row.DNSRecord, ZoneName: row.ZoneName, Token: row.Token, APIKeyID: row.APIKeyID}
	}
	return out, nil
}

func (store *PostgresStore) AppendLog(ctx context.Context, entry types.UpdateLogEntry) (types.UpdateLogEntry, error) {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	rows, err := store.db.NamedQueryContext(ctx, `
		INSERT INTO update_logs (run_id, record_id, old_content, new_content, status, message, trigger_type, created_at)
		VALUES (:run_id, :record_id, :old_content, :new_content, :status, :message, :trigger_type, :created_at)
		RETURNING id
	`, entry)
	if err != nil {
		return types.UpdateLogEntry{}, err
	}
	defer rows.Close()
	if rows.Next() {
		if err := rows.Scan(&entry.ID); err != nil {
			return types.UpdateLogEntry{}, err
		}
	}
	return entry, rows.Err()
}

func (store *PostgresStore) ListLogs(ctx context.Context, filter types.LogFilter) ([]types.UpdateLogEntry, error) {
	query := `
		SELECT id, run_id, record_id, old_content, new_content, status, message, trigger_type, created_at
		FROM update_logs
		WHERE ($1 = '' OR record_id = $1) AND ($2 = '' OR run_id = $2)
		ORDER BY id DESC`
	args := []any{filter.RecordID, filter.RunID}
	if filter.Limit > 0 {
		query += ` LIMIT $3`
		args = append(args, filter.Limit)
	}
	out := []types.UpdateLogEntry{}
	err := store.db.SelectContext(ctx, &out, query, args...)
	return out, err
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func affectedOne(res sql.Result, err error) error {
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
