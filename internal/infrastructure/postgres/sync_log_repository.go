package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"homeledger/internal/domain/ledgersync"
)

type SyncLogRepository struct {
	db *DB
}

var _ ledgersync.SyncLogRepository = (*SyncLogRepository)(nil)

func NewSyncLogRepository(db *DB) *SyncLogRepository {
	return &SyncLogRepository{db: db}
}

func (r *SyncLogRepository) Create(ctx context.Context, log *ledgersync.SyncLog) error {
	query := `
		INSERT INTO ledger_sync_logs (id, connection_id, sync_type, status, started_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	id := uuid.NewString()
	if _, err := r.db.ExecContext(ctx, query, id, log.ConnectionID, log.SyncType, log.Status, log.StartedAt); err != nil {
		return fmt.Errorf("failed to create sync log: %w", err)
	}
	log.ID = id
	return nil
}

func (r *SyncLogRepository) Finalize(ctx context.Context, log *ledgersync.SyncLog) error {
	query := `
		UPDATE ledger_sync_logs
		SET status = $1, accounts_synced = $2, transactions_imported = $3, transactions_skipped = $4,
		    transactions_updated = $5, api_calls = $6, error_message = $7, completed_at = $8, duration_ms = $9
		WHERE id = $10
	`
	_, err := r.db.ExecContext(
		ctx, query,
		log.Status, log.AccountsSynced, log.TransactionsImported, log.TransactionsSkipped,
		log.TransactionsUpdated, log.APICalls, nullString(log.ErrorMessage), nullTime(log.CompletedAt),
		log.Duration.Milliseconds(), log.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to finalize sync log: %w", err)
	}
	return nil
}

func (r *SyncLogRepository) ListByConnection(ctx context.Context, connectionID string, limit int) ([]*ledgersync.SyncLog, error) {
	query := `
		SELECT id, connection_id, sync_type, status, accounts_synced, transactions_imported, transactions_skipped,
		       transactions_updated, api_calls, error_message, started_at, completed_at, duration_ms
		FROM ledger_sync_logs
		WHERE connection_id = $1
		ORDER BY started_at DESC
		LIMIT $2
	`

	rows, err := r.db.QueryContext(ctx, query, connectionID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list sync logs: %w", err)
	}
	defer rows.Close()

	var logs []*ledgersync.SyncLog
	for rows.Next() {
		var l ledgersync.SyncLog
		var errorMessage sql.NullString
		var completedAt sql.NullTime
		var durationMs int64

		err := rows.Scan(
			&l.ID, &l.ConnectionID, &l.SyncType, &l.Status, &l.AccountsSynced, &l.TransactionsImported,
			&l.TransactionsSkipped, &l.TransactionsUpdated, &l.APICalls, &errorMessage,
			&l.StartedAt, &completedAt, &durationMs,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan sync log: %w", err)
		}

		l.ErrorMessage = errorMessage.String
		l.CompletedAt = timePtr(completedAt)
		l.Duration = time.Duration(durationMs) * time.Millisecond
		logs = append(logs, &l)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sync logs: %w", err)
	}
	return logs, nil
}
