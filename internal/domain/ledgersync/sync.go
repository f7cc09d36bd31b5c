package ledgersync

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"homeledger/internal/domain/transaction"
	"homeledger/internal/infrastructure/xero"
	"homeledger/internal/shared/logger"
	"homeledger/internal/shared/principal"
	"homeledger/internal/shared/telemetry"
)

var (
	syncTracer         = otel.Tracer("homeledger/ledgersync")
	syncMeter          = otel.Meter("homeledger/ledgersync")
	syncRunTotal, _    = syncMeter.Int64Counter("ledger.sync.runs", metric.WithDescription("Sync runs by final status"))
	syncRunDuration, _ = syncMeter.Float64Histogram(telemetry.SyncDurationInstrument, metric.WithDescription("Sync run duration in seconds"), metric.WithUnit("s"))
	syncTxnImported, _ = syncMeter.Int64Counter("ledger.sync.transactions_imported", metric.WithDescription("Transactions imported by sync runs"))
	syncAPICalls, _    = syncMeter.Int64Counter("ledger.sync.api_calls", metric.WithDescription("Remote API calls issued by sync runs"))
)

const noLinkedAccountsMessage = "No linked accounts are enabled for sync"

// SyncService drives one connection's sync run end to end.
type SyncService struct {
	conns    ConnectionRepository
	mappings MappingRepository
	logs     SyncLogRepository
	txns     LocalTransactions
	client   xero.ClientInterface
	tokens   *TokenManager
	notifier Notifier
	now      func() time.Time
}

func NewSyncService(
	conns ConnectionRepository,
	mappings MappingRepository,
	logs SyncLogRepository,
	txns LocalTransactions,
	client xero.ClientInterface,
	tokens *TokenManager,
	notifier Notifier,
) *SyncService {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	return &SyncService{
		conns:    conns,
		mappings: mappings,
		logs:     logs,
		txns:     txns,
		client:   client,
		tokens:   tokens,
		notifier: notifier,
		now:      time.Now,
	}
}

// syncRun accumulates the state of one run until it is finalized.
type syncRun struct {
	log     *SyncLog
	errors  []string
	message string
}

func (r *syncRun) addError(format string, args ...any) {
	r.errors = append(r.errors, fmt.Sprintf(format, args...))
}

// SyncConnection runs a sync for the connection owned by p. The returned
// result is never nil. An error is returned only for connection-level
// failures, which abort the run before any account is processed.
func (s *SyncService) SyncConnection(ctx context.Context, p principal.Principal, connectionID string, syncType SyncType) (*SyncResult, error) {
	ctx, span := syncTracer.Start(ctx, "ledgersync.SyncConnection",
		trace.WithAttributes(
			attribute.String("ledger.connection_id", connectionID),
			attribute.String("ledger.sync_type", string(syncType)),
		),
	)
	defer span.End()

	conn, err := ownedConnection(ctx, s.conns, p, connectionID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return &SyncResult{Status: SyncFailed, Message: err.Error(), Errors: []string{}}, err
	}

	run := &syncRun{
		log: &SyncLog{
			ConnectionID: conn.ID,
			SyncType:     syncType,
			Status:       SyncStarted,
			StartedAt:    s.now(),
		},
		errors: []string{},
	}
	if err := s.logs.Create(ctx, run.log); err != nil {
		err = fmt.Errorf("failed to create sync log: %w", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return &SyncResult{Status: SyncFailed, Message: err.Error(), Errors: []string{}}, err
	}

	runErr := s.execute(ctx, conn, run)
	result := s.finalize(ctx, conn, run, runErr)

	span.SetAttributes(
		attribute.String("ledger.sync_status", string(result.Status)),
		attribute.Int("ledger.transactions_imported", run.log.TransactionsImported),
	)
	if runErr != nil {
		span.RecordError(runErr)
		span.SetStatus(codes.Error, runErr.Error())
	}

	s.notifier.SyncFinished(ctx, conn, result)
	return result, runErr
}

// execute performs the per-account work. A panic outside an account is
// converted into a connection-level error so the log still gets finalized.
func (s *SyncService) execute(ctx context.Context, conn *Connection, run *syncRun) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("sync aborted: %v", r)
		}
	}()

	token, calls, err := s.tokens.ensureValidToken(ctx, conn)
	run.log.APICalls += calls
	if err != nil {
		return err
	}

	mappings, err := s.mappings.ListEnabled(ctx, conn.ID)
	if err != nil {
		return fmt.Errorf("failed to load account mappings: %w", err)
	}

	linked := make([]*AccountMapping, 0, len(mappings))
	for _, m := range mappings {
		if m.Linked() {
			linked = append(linked, m)
		}
	}
	if len(linked) == 0 {
		run.message = noLinkedAccountsMessage
		return nil
	}

	for _, m := range linked {
		if err := s.syncAccountIsolated(ctx, conn, token, m, run); err != nil {
			run.addError("account %s: %v", m.RemoteName, err)
			logger.Log.WithFields(logrus.Fields{
				"connection_id":     conn.ID,
				"remote_account_id": m.RemoteAccountID,
				"error":             err,
			}).Warn("Account sync failed, continuing with next account")
			continue
		}
		run.log.AccountsSynced++
	}

	return nil
}

// syncAccountIsolated runs syncAccount and reports a panic as an
// account-level error so the remaining accounts still sync.
func (s *SyncService) syncAccountIsolated(ctx context.Context, conn *Connection, token string, m *AccountMapping, run *syncRun) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("account sync panicked: %v", r)
		}
	}()
	return s.syncAccount(ctx, conn, token, m, run)
}

// syncAccount imports the transactions of one mapped account. Transaction
// failures are recorded on run; the returned error is account-level.
func (s *SyncService) syncAccount(ctx context.Context, conn *Connection, token string, m *AccountMapping, run *syncRun) error {
	query := xero.TransactionQuery{
		AccountID:     m.RemoteAccountID,
		Status:        xero.StatusAuthorised,
		ModifiedSince: m.Watermark,
	}

	batch, err := s.client.FetchAllTransactions(ctx, token, conn.TenantID, query)
	if batch != nil {
		run.log.APICalls += batch.Calls
	}
	if err != nil {
		return fmt.Errorf("failed to fetch transactions: %w", err)
	}

	watermark := m.Watermark
	failed := 0
	for i := range batch.Transactions {
		txn := &batch.Transactions[i]
		date, err := txn.GetDate()
		if err != nil {
			failed++
			run.addError("transaction %s: %v", txn.BankTransactionID, err)
			continue
		}
		if !s.importTransaction(ctx, *m.LocalAccountID, txn, date, run) {
			failed++
			continue
		}
		if watermark == nil || date.After(*watermark) {
			d := date
			watermark = &d
		}
	}

	// A failed insert keeps the previous watermark so the next run fetches
	// the same window again; imported rows are then skipped.
	if failed > 0 {
		watermark = m.Watermark
	}

	syncedAt := s.now()
	if err := s.mappings.UpdateWatermark(ctx, m.ID, watermark, syncedAt); err != nil {
		return fmt.Errorf("failed to update watermark: %w", err)
	}
	m.Watermark = watermark
	m.LastSyncAt = &syncedAt
	return nil
}

// importTransaction inserts txn unless it was imported before. It reports
// whether the transaction is now present locally.
func (s *SyncService) importTransaction(ctx context.Context, localAccountID string, txn *xero.BankTransaction, date time.Time, run *syncRun) bool {
	exists, err := s.txns.ExistsByExternalID(ctx, txn.BankTransactionID, ExternalSource)
	if err != nil {
		run.addError("transaction %s: %v", txn.BankTransactionID, err)
		return false
	}
	if exists {
		run.log.TransactionsSkipped++
		return true
	}

	_, err = s.txns.Create(ctx, transaction.CreateTransactionParams{
		AccountID:       localAccountID,
		Amount:          txn.SignedAmount(),
		Description:     txn.Description(),
		Reference:       txn.Reference,
		TransactionDate: date,
		ExternalID:      txn.BankTransactionID,
		ExternalSource:  ExternalSource,
	})
	switch {
	case errors.Is(err, transaction.ErrDuplicateTransaction):
		// A concurrent run inserted it between the check and the insert.
		run.log.TransactionsSkipped++
		return true
	case err != nil:
		run.addError("transaction %s: %v", txn.BankTransactionID, err)
		return false
	}

	run.log.TransactionsImported++
	return true
}

// finalize decides the final status, writes the log and, for runs that got
// past the connection checks, moves the connection's sync timestamps.
func (s *SyncService) finalize(ctx context.Context, conn *Connection, run *syncRun, runErr error) *SyncResult {
	ctx = context.WithoutCancel(ctx)
	now := s.now()
	log := run.log

	switch {
	case runErr != nil:
		log.Status = SyncFailed
		log.ErrorMessage = runErr.Error()
	case len(run.errors) > 0:
		log.Status = SyncPartial
		log.ErrorMessage = strings.Join(run.errors, "; ")
	default:
		log.Status = SyncCompleted
		log.ErrorMessage = run.message
	}
	log.CompletedAt = &now
	log.Duration = now.Sub(log.StartedAt)

	if err := s.logs.Finalize(ctx, log); err != nil {
		logger.Log.WithFields(logrus.Fields{
			"connection_id": conn.ID,
			"sync_log_id":   log.ID,
			"error":         err,
		}).Error("Failed to finalize sync log")
	}

	if log.Status != SyncFailed {
		next := conn.SyncFrequency.NextSync(now)
		if err := s.conns.UpdateSyncTimes(ctx, conn.ID, now, next); err != nil {
			logger.LogError("Failed to update connection sync times", err)
		} else {
			conn.LastSyncAt = &now
			conn.NextSyncAt = next
		}
	}

	statusAttr := metric.WithAttributes(attribute.String("status", string(log.Status)))
	syncRunTotal.Add(ctx, 1, statusAttr)
	syncRunDuration.Record(ctx, log.Duration.Seconds(), statusAttr)
	syncTxnImported.Add(ctx, int64(log.TransactionsImported))
	syncAPICalls.Add(ctx, int64(log.APICalls))

	logger.Log.WithFields(logrus.Fields{
		"connection_id": conn.ID,
		"sync_type":     log.SyncType,
		"status":        log.Status,
		"accounts":      log.AccountsSynced,
		"imported":      log.TransactionsImported,
		"skipped":       log.TransactionsSkipped,
		"api_calls":     log.APICalls,
		"errors":        len(run.errors),
		"duration":      log.Duration,
	}).Info("Ledger sync finished")

	return &SyncResult{
		Success: log.Status != SyncFailed,
		Status:  log.Status,
		Message: resultMessage(log, run),
		Log:     log,
		Errors:  run.errors,
	}
}

func resultMessage(log *SyncLog, run *syncRun) string {
	switch log.Status {
	case SyncFailed:
		return log.ErrorMessage
	case SyncPartial:
		return fmt.Sprintf("Imported %d transactions (%d already present) with %d errors",
			log.TransactionsImported, log.TransactionsSkipped, len(run.errors))
	}
	if run.message != "" {
		return run.message
	}
	return fmt.Sprintf("Imported %d transactions from %d accounts (%d already present)",
		log.TransactionsImported, log.AccountsSynced, log.TransactionsSkipped)
}
