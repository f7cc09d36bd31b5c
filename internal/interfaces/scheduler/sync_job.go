package scheduler

import (
	"context"
	"fmt"
	"strconv"

	"github.com/sirupsen/logrus"

	"homeledger/internal/domain/ledgersync"
	"homeledger/internal/shared/logger"
	"homeledger/internal/shared/principal"
)

// SyncRunner runs one sync of a connection. Satisfied by
// *ledgersync.SyncService.
type SyncRunner interface {
	SyncConnection(ctx context.Context, p principal.Principal, connectionID string, syncType ledgersync.SyncType) (*ledgersync.SyncResult, error)
}

var _ SyncRunner = (*ledgersync.SyncService)(nil)

// ConnectionSyncJob syncs a single connection on behalf of its owner.
type ConnectionSyncJob struct {
	connectionID string
	userID       int64
	syncType     ledgersync.SyncType
	runner       SyncRunner
}

func NewConnectionSyncJob(conn *ledgersync.Connection, syncType ledgersync.SyncType, runner SyncRunner) *ConnectionSyncJob {
	return &ConnectionSyncJob{
		connectionID: conn.ID,
		userID:       conn.UserID,
		syncType:     syncType,
		runner:       runner,
	}
}

// Execute runs the sync. A partial run is reported as an error so the pool
// records it as failed; the run itself has already been logged.
func (j *ConnectionSyncJob) Execute(ctx context.Context) error {
	result, err := j.runner.SyncConnection(ctx, principal.Principal{UserID: j.userID}, j.connectionID, j.syncType)
	if err != nil {
		return fmt.Errorf("sync failed: %w", err)
	}

	log := logger.Log.WithFields(logrus.Fields{
		"connection_id": j.connectionID,
		"status":        result.Status,
	})
	if result.Log != nil {
		log = log.WithFields(logrus.Fields{
			"imported": result.Log.TransactionsImported,
			"skipped":  result.Log.TransactionsSkipped,
		})
	}

	if len(result.Errors) > 0 {
		log.WithFields(logrus.Fields{"errors": len(result.Errors)}).Warn("Connection sync completed with errors")
		return fmt.Errorf("sync completed with %d errors", len(result.Errors))
	}

	log.Debug("Connection sync completed")
	return nil
}

func (j *ConnectionSyncJob) Key() string {
	return "sync:" + j.connectionID
}

func (j *ConnectionSyncJob) UserID() string {
	return strconv.FormatInt(j.userID, 10)
}

func (j *ConnectionSyncJob) Description() string {
	return fmt.Sprintf("%s sync of connection %s", j.syncType, j.connectionID)
}
