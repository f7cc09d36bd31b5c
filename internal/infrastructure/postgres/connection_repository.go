package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"homeledger/internal/domain/ledgersync"
	"homeledger/internal/infrastructure/xero"
)

const connectionColumns = `id, user_id, tenant_id, tenant_name, access_token, refresh_token, token_expiry,
	status, status_message, last_sync_at, next_sync_at, sync_frequency, created_at, updated_at`

// TokenCipher seals tokens before they reach the database.
type TokenCipher interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(ciphertext string) (string, error)
}

// ConnectionRepository implements ledgersync.ConnectionRepository. Access
// and refresh tokens are stored encrypted.
type ConnectionRepository struct {
	db     *DB
	cipher TokenCipher
}

var _ ledgersync.ConnectionRepository = (*ConnectionRepository)(nil)

func NewConnectionRepository(db *DB, cipher TokenCipher) *ConnectionRepository {
	return &ConnectionRepository{db: db, cipher: cipher}
}

func (r *ConnectionRepository) Save(ctx context.Context, params ledgersync.SaveConnectionParams) (*ledgersync.Connection, error) {
	access, refresh, err := r.sealTokens(params.Tokens)
	if err != nil {
		return nil, err
	}

	query := `
		INSERT INTO ledger_connections (id, user_id, tenant_id, tenant_name, access_token, refresh_token,
		                                token_expiry, status, sync_frequency, next_sync_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (user_id, tenant_id)
		DO UPDATE SET
			tenant_name = EXCLUDED.tenant_name,
			access_token = EXCLUDED.access_token,
			refresh_token = EXCLUDED.refresh_token,
			token_expiry = EXCLUDED.token_expiry,
			status = EXCLUDED.status,
			status_message = NULL,
			next_sync_at = COALESCE(ledger_connections.next_sync_at, EXCLUDED.next_sync_at),
			updated_at = CURRENT_TIMESTAMP
		RETURNING ` + connectionColumns

	conn, err := r.scan(r.db.QueryRowContext(
		ctx, query,
		uuid.NewString(), params.UserID, params.TenantID, params.TenantName, access, refresh,
		params.Tokens.Expiry, ledgersync.StatusActive, params.SyncFrequency, nullTime(params.NextSyncAt),
	))
	if err != nil {
		return nil, fmt.Errorf("failed to save connection: %w", err)
	}
	return conn, nil
}

func (r *ConnectionRepository) GetByID(ctx context.Context, id string) (*ledgersync.Connection, error) {
	query := `SELECT ` + connectionColumns + ` FROM ledger_connections WHERE id = $1`

	conn, err := r.scan(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ledgersync.ErrConnectionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get connection: %w", err)
	}
	return conn, nil
}

func (r *ConnectionRepository) ListByUserID(ctx context.Context, userID int64) ([]*ledgersync.Connection, error) {
	query := `SELECT ` + connectionColumns + ` FROM ledger_connections WHERE user_id = $1 ORDER BY created_at`
	return r.list(ctx, query, userID)
}

func (r *ConnectionRepository) ListDue(ctx context.Context, now time.Time, limit int) ([]*ledgersync.Connection, error) {
	query := `
		SELECT ` + connectionColumns + `
		FROM ledger_connections
		WHERE status = $1
		  AND sync_frequency <> $2
		  AND next_sync_at IS NOT NULL
		  AND next_sync_at <= $3
		ORDER BY next_sync_at
		LIMIT $4
	`
	return r.list(ctx, query, ledgersync.StatusActive, ledgersync.FrequencyManual, now, limit)
}

// UpdateTokens writes both tokens and the expiry in one statement so a
// rotated refresh token is never stored without its access token.
func (r *ConnectionRepository) UpdateTokens(ctx context.Context, id string, tokens xero.TokenSet) error {
	access, refresh, err := r.sealTokens(tokens)
	if err != nil {
		return err
	}

	query := `
		UPDATE ledger_connections
		SET access_token = $1, refresh_token = $2, token_expiry = $3,
		    status = $4, status_message = NULL, updated_at = CURRENT_TIMESTAMP
		WHERE id = $5
	`
	return r.exec(ctx, "update tokens", query, access, refresh, tokens.Expiry, ledgersync.StatusActive, id)
}

func (r *ConnectionRepository) MarkStatus(ctx context.Context, id string, status ledgersync.ConnectionStatus, message string) error {
	query := `UPDATE ledger_connections SET status = $1, status_message = $2, updated_at = CURRENT_TIMESTAMP WHERE id = $3`
	return r.exec(ctx, "mark status", query, status, nullString(message), id)
}

func (r *ConnectionRepository) UpdateSyncTimes(ctx context.Context, id string, lastSyncAt time.Time, nextSyncAt *time.Time) error {
	query := `UPDATE ledger_connections SET last_sync_at = $1, next_sync_at = $2, updated_at = CURRENT_TIMESTAMP WHERE id = $3`
	return r.exec(ctx, "update sync times", query, lastSyncAt, nullTime(nextSyncAt), id)
}

func (r *ConnectionRepository) UpdateSyncFrequency(ctx context.Context, id string, frequency ledgersync.SyncFrequency, nextSyncAt *time.Time) error {
	query := `UPDATE ledger_connections SET sync_frequency = $1, next_sync_at = $2, updated_at = CURRENT_TIMESTAMP WHERE id = $3`
	return r.exec(ctx, "update sync frequency", query, frequency, nullTime(nextSyncAt), id)
}

// Delete removes the connection. Mappings and logs go with it through
// ON DELETE CASCADE.
func (r *ConnectionRepository) Delete(ctx context.Context, id string) error {
	return r.exec(ctx, "delete connection", `DELETE FROM ledger_connections WHERE id = $1`, id)
}

func (r *ConnectionRepository) exec(ctx context.Context, op, query string, args ...any) error {
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to %s: %w", op, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rows == 0 {
		return ledgersync.ErrConnectionNotFound
	}
	return nil
}

func (r *ConnectionRepository) list(ctx context.Context, query string, args ...any) ([]*ledgersync.Connection, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list connections: %w", err)
	}
	defer rows.Close()

	var conns []*ledgersync.Connection
	for rows.Next() {
		conn, err := r.scan(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan connection: %w", err)
		}
		conns = append(conns, conn)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating connections: %w", err)
	}
	return conns, nil
}

func (r *ConnectionRepository) scan(row rowScanner) (*ledgersync.Connection, error) {
	var conn ledgersync.Connection
	var access, refresh string
	var statusMessage sql.NullString
	var lastSyncAt, nextSyncAt sql.NullTime

	err := row.Scan(
		&conn.ID, &conn.UserID, &conn.TenantID, &conn.TenantName, &access, &refresh, &conn.TokenExpiry,
		&conn.Status, &statusMessage, &lastSyncAt, &nextSyncAt, &conn.SyncFrequency,
		&conn.CreatedAt, &conn.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if conn.AccessToken, err = r.cipher.Decrypt(access); err != nil {
		return nil, fmt.Errorf("failed to decrypt access token: %w", err)
	}
	if conn.RefreshToken, err = r.cipher.Decrypt(refresh); err != nil {
		return nil, fmt.Errorf("failed to decrypt refresh token: %w", err)
	}
	conn.StatusMessage = statusMessage.String
	conn.LastSyncAt = timePtr(lastSyncAt)
	conn.NextSyncAt = timePtr(nextSyncAt)
	return &conn, nil
}

func (r *ConnectionRepository) sealTokens(tokens xero.TokenSet) (access, refresh string, err error) {
	if access, err = r.cipher.Encrypt(tokens.AccessToken); err != nil {
		return "", "", fmt.Errorf("failed to encrypt access token: %w", err)
	}
	if refresh, err = r.cipher.Encrypt(tokens.RefreshToken); err != nil {
		return "", "", fmt.Errorf("failed to encrypt refresh token: %w", err)
	}
	return access, refresh, nil
}
