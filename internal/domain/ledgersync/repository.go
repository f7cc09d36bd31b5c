package ledgersync

import (
	"context"
	"time"

	"homeledger/internal/domain/account"
	"homeledger/internal/domain/transaction"
	"homeledger/internal/infrastructure/xero"
)

// ConnectionRepository defines data access for connections.
// Implemented in the infrastructure layer.
type ConnectionRepository interface {
	// Save creates the connection or, when the user already has one for the
	// tenant, replaces its tokens and reactivates it.
	Save(ctx context.Context, params SaveConnectionParams) (*Connection, error)
	// GetByID returns ErrConnectionNotFound when absent.
	GetByID(ctx context.Context, id string) (*Connection, error)
	ListByUserID(ctx context.Context, userID int64) ([]*Connection, error)
	// ListDue returns active, non-manual connections whose next sync is at or
	// before now.
	ListDue(ctx context.Context, now time.Time, limit int) ([]*Connection, error)
	// UpdateTokens stores a refreshed token pair with its expiry in a single
	// statement, sets status active and clears the status message.
	UpdateTokens(ctx context.Context, id string, tokens xero.TokenSet) error
	MarkStatus(ctx context.Context, id string, status ConnectionStatus, message string) error
	UpdateSyncTimes(ctx context.Context, id string, lastSyncAt time.Time, nextSyncAt *time.Time) error
	UpdateSyncFrequency(ctx context.Context, id string, frequency SyncFrequency, nextSyncAt *time.Time) error
	// Delete removes the connection together with its mappings and logs.
	Delete(ctx context.Context, id string) error
}

// MappingRepository is the mapping store, keyed by connection and remote
// account id.
type MappingRepository interface {
	// UpsertDiscovered records a remote account, refreshing its descriptive
	// fields and leaving any existing link untouched.
	UpsertDiscovered(ctx context.Context, connectionID string, remote RemoteAccountParams) (*AccountMapping, error)
	// UpsertLink creates or updates the mapping to point at localAccountID.
	UpsertLink(ctx context.Context, connectionID string, remote RemoteAccountParams, localAccountID string, syncEnabled bool) (*AccountMapping, error)
	// Unlink clears the local account and disables sync.
	Unlink(ctx context.Context, connectionID, remoteAccountID string) error
	UpdateWatermark(ctx context.Context, mappingID string, watermark *time.Time, syncedAt time.Time) error
	// ListEnabled returns the sync-enabled mappings of a connection.
	ListEnabled(ctx context.Context, connectionID string) ([]*AccountMapping, error)
	ListByConnection(ctx context.Context, connectionID string) ([]*AccountMapping, error)
	// GetByRemoteID returns ErrMappingNotFound when absent.
	GetByRemoteID(ctx context.Context, connectionID, remoteAccountID string) (*AccountMapping, error)
}

// SyncLogRepository persists sync run logs.
type SyncLogRepository interface {
	// Create inserts the log and sets its ID.
	Create(ctx context.Context, log *SyncLog) error
	Finalize(ctx context.Context, log *SyncLog) error
	ListByConnection(ctx context.Context, connectionID string, limit int) ([]*SyncLog, error)
}

// LocalAccounts is the local-accounts collaborator used for matching and
// import. Satisfied by *account.Service.
type LocalAccounts interface {
	ListAccountsByUserID(ctx context.Context, userID int64) ([]*account.Account, error)
	GetAccount(ctx context.Context, accountID string, userID int64) (*account.Account, error)
	CreateAccount(ctx context.Context, params account.CreateParams) (*account.Account, error)
}

var _ LocalAccounts = (*account.Service)(nil)

// LocalTransactions is the local-transactions collaborator written by sync.
type LocalTransactions interface {
	ExistsByExternalID(ctx context.Context, externalID, source string) (bool, error)
	Create(ctx context.Context, params transaction.CreateTransactionParams) (*transaction.Transaction, error)
}

var _ LocalTransactions = (transaction.Repository)(nil)
