package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"homeledger/internal/domain/ledgersync"
)

const mappingColumns = `id, connection_id, remote_account_id, remote_name, remote_code, remote_type,
	local_account_id, sync_enabled, watermark, last_sync_at, created_at, updated_at`

// MappingRepository is the mapping store, one row per remote account of a
// connection.
type MappingRepository struct {
	db *DB
}

var _ ledgersync.MappingRepository = (*MappingRepository)(nil)

func NewMappingRepository(db *DB) *MappingRepository {
	return &MappingRepository{db: db}
}

func (r *MappingRepository) UpsertDiscovered(ctx context.Context, connectionID string, remote ledgersync.RemoteAccountParams) (*ledgersync.AccountMapping, error) {
	query := `
		INSERT INTO ledger_account_mappings (id, connection_id, remote_account_id, remote_name, remote_code, remote_type)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (connection_id, remote_account_id)
		DO UPDATE SET
			remote_name = EXCLUDED.remote_name,
			remote_code = EXCLUDED.remote_code,
			remote_type = EXCLUDED.remote_type,
			updated_at = CURRENT_TIMESTAMP
		RETURNING ` + mappingColumns

	m, err := scanMapping(r.db.QueryRowContext(
		ctx, query,
		uuid.NewString(), connectionID, remote.RemoteAccountID, remote.RemoteName, nullString(remote.RemoteCode), remote.RemoteType,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to upsert discovered mapping: %w", err)
	}
	return m, nil
}

func (r *MappingRepository) UpsertLink(ctx context.Context, connectionID string, remote ledgersync.RemoteAccountParams, localAccountID string, syncEnabled bool) (*ledgersync.AccountMapping, error) {
	query := `
		INSERT INTO ledger_account_mappings (id, connection_id, remote_account_id, remote_name, remote_code, remote_type,
		                                     local_account_id, sync_enabled)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (connection_id, remote_account_id)
		DO UPDATE SET
			remote_name = COALESCE(NULLIF(EXCLUDED.remote_name, ''), ledger_account_mappings.remote_name),
			remote_code = COALESCE(EXCLUDED.remote_code, ledger_account_mappings.remote_code),
			remote_type = COALESCE(NULLIF(EXCLUDED.remote_type, ''), ledger_account_mappings.remote_type),
			local_account_id = EXCLUDED.local_account_id,
			sync_enabled = EXCLUDED.sync_enabled,
			updated_at = CURRENT_TIMESTAMP
		RETURNING ` + mappingColumns

	m, err := scanMapping(r.db.QueryRowContext(
		ctx, query,
		uuid.NewString(), connectionID, remote.RemoteAccountID, remote.RemoteName, nullString(remote.RemoteCode), remote.RemoteType,
		localAccountID, syncEnabled,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to link mapping: %w", err)
	}
	return m, nil
}

func (r *MappingRepository) Unlink(ctx context.Context, connectionID, remoteAccountID string) error {
	query := `
		UPDATE ledger_account_mappings
		SET local_account_id = NULL, sync_enabled = FALSE, updated_at = CURRENT_TIMESTAMP
		WHERE connection_id = $1 AND remote_account_id = $2
	`
	result, err := r.db.ExecContext(ctx, query, connectionID, remoteAccountID)
	if err != nil {
		return fmt.Errorf("failed to unlink mapping: %w", err)
	}
	return mappingAffected(result)
}

func (r *MappingRepository) UpdateWatermark(ctx context.Context, mappingID string, watermark *time.Time, syncedAt time.Time) error {
	// GREATEST ignores NULL, so the stored watermark never moves backwards.
	query := `
		UPDATE ledger_account_mappings
		SET watermark = GREATEST(watermark, $1), last_sync_at = $2, updated_at = CURRENT_TIMESTAMP
		WHERE id = $3
	`
	result, err := r.db.ExecContext(ctx, query, nullTime(watermark), syncedAt, mappingID)
	if err != nil {
		return fmt.Errorf("failed to update watermark: %w", err)
	}
	return mappingAffected(result)
}

func (r *MappingRepository) ListEnabled(ctx context.Context, connectionID string) ([]*ledgersync.AccountMapping, error) {
	query := `
		SELECT ` + mappingColumns + `
		FROM ledger_account_mappings
		WHERE connection_id = $1 AND sync_enabled
		ORDER BY remote_name, remote_account_id
	`
	return r.list(ctx, query, connectionID)
}

func (r *MappingRepository) ListByConnection(ctx context.Context, connectionID string) ([]*ledgersync.AccountMapping, error) {
	query := `
		SELECT ` + mappingColumns + `
		FROM ledger_account_mappings
		WHERE connection_id = $1
		ORDER BY remote_name, remote_account_id
	`
	return r.list(ctx, query, connectionID)
}

func (r *MappingRepository) GetByRemoteID(ctx context.Context, connectionID, remoteAccountID string) (*ledgersync.AccountMapping, error) {
	query := `SELECT ` + mappingColumns + ` FROM ledger_account_mappings WHERE connection_id = $1 AND remote_account_id = $2`

	m, err := scanMapping(r.db.QueryRowContext(ctx, query, connectionID, remoteAccountID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ledgersync.ErrMappingNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get mapping: %w", err)
	}
	return m, nil
}

func (r *MappingRepository) list(ctx context.Context, query string, args ...any) ([]*ledgersync.AccountMapping, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list mappings: %w", err)
	}
	defer rows.Close()

	var mappings []*ledgersync.AccountMapping
	for rows.Next() {
		m, err := scanMapping(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan mapping: %w", err)
		}
		mappings = append(mappings, m)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating mappings: %w", err)
	}
	return mappings, nil
}

func mappingAffected(result sql.Result) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rows == 0 {
		return ledgersync.ErrMappingNotFound
	}
	return nil
}

func scanMapping(row rowScanner) (*ledgersync.AccountMapping, error) {
	var m ledgersync.AccountMapping
	var remoteCode, localAccountID sql.NullString
	var watermark, lastSyncAt sql.NullTime

	err := row.Scan(
		&m.ID, &m.ConnectionID, &m.RemoteAccountID, &m.RemoteName, &remoteCode, &m.RemoteType,
		&localAccountID, &m.SyncEnabled, &watermark, &lastSyncAt, &m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	m.RemoteCode = remoteCode.String
	if localAccountID.Valid {
		id := localAccountID.String
		m.LocalAccountID = &id
	}
	m.Watermark = timePtr(watermark)
	m.LastSyncAt = timePtr(lastSyncAt)
	return &m, nil
}
