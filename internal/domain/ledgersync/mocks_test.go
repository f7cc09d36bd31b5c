package ledgersync

import (
	"context"
	"sync"
	"time"

	"homeledger/internal/domain/account"
	"homeledger/internal/domain/transaction"
	"homeledger/internal/infrastructure/xero"
)

// MockClient is a mock implementation of xero.ClientInterface
type MockClient struct {
	AuthorizeURLFunc         func(state string) string
	ExchangeCodeFunc         func(ctx context.Context, code string) (*xero.TokenSet, error)
	RefreshTokenFunc         func(ctx context.Context, refreshToken string) (*xero.TokenSet, error)
	TenantsFunc              func(ctx context.Context, accessToken string) ([]xero.Tenant, error)
	GetAccountsFunc          func(ctx context.Context, accessToken, tenantID string, bankOnly bool) ([]xero.Account, error)
	GetTransactionsFunc      func(ctx context.Context, accessToken, tenantID string, query xero.TransactionQuery, page int) ([]xero.BankTransaction, error)
	FetchAllTransactionsFunc func(ctx context.Context, accessToken, tenantID string, query xero.TransactionQuery) (*xero.TransactionBatch, error)
	GetBankStatementFunc     func(ctx context.Context, accessToken, tenantID, accountID string, from, to time.Time) ([]xero.StatementLine, error)

	mu           sync.Mutex
	refreshCalls int
	fetchCalls   int
}

var _ xero.ClientInterface = (*MockClient)(nil)

func (m *MockClient) AuthorizeURL(state string) string {
	if m.AuthorizeURLFunc != nil {
		return m.AuthorizeURLFunc(state)
	}
	return "https://login.example.com/authorize?state=" + state
}

func (m *MockClient) ExchangeCode(ctx context.Context, code string) (*xero.TokenSet, error) {
	if m.ExchangeCodeFunc != nil {
		return m.ExchangeCodeFunc(ctx, code)
	}
	return &xero.TokenSet{AccessToken: "access", RefreshToken: "refresh", Expiry: time.Now().Add(30 * time.Minute)}, nil
}

func (m *MockClient) RefreshToken(ctx context.Context, refreshToken string) (*xero.TokenSet, error) {
	m.mu.Lock()
	m.refreshCalls++
	m.mu.Unlock()
	if m.RefreshTokenFunc != nil {
		return m.RefreshTokenFunc(ctx, refreshToken)
	}
	return nil, nil
}

func (m *MockClient) Tenants(ctx context.Context, accessToken string) ([]xero.Tenant, error) {
	if m.TenantsFunc != nil {
		return m.TenantsFunc(ctx, accessToken)
	}
	return nil, nil
}

func (m *MockClient) GetAccounts(ctx context.Context, accessToken, tenantID string, bankOnly bool) ([]xero.Account, error) {
	if m.GetAccountsFunc != nil {
		return m.GetAccountsFunc(ctx, accessToken, tenantID, bankOnly)
	}
	return nil, nil
}

func (m *MockClient) GetTransactions(ctx context.Context, accessToken, tenantID string, query xero.TransactionQuery, page int) ([]xero.BankTransaction, error) {
	if m.GetTransactionsFunc != nil {
		return m.GetTransactionsFunc(ctx, accessToken, tenantID, query, page)
	}
	return nil, nil
}

func (m *MockClient) FetchAllTransactions(ctx context.Context, accessToken, tenantID string, query xero.TransactionQuery) (*xero.TransactionBatch, error) {
	m.mu.Lock()
	m.fetchCalls++
	m.mu.Unlock()
	if m.FetchAllTransactionsFunc != nil {
		return m.FetchAllTransactionsFunc(ctx, accessToken, tenantID, query)
	}
	return &xero.TransactionBatch{Calls: 1}, nil
}

func (m *MockClient) GetBankStatement(ctx context.Context, accessToken, tenantID, accountID string, from, to time.Time) ([]xero.StatementLine, error) {
	if m.GetBankStatementFunc != nil {
		return m.GetBankStatementFunc(ctx, accessToken, tenantID, accountID, from, to)
	}
	return []xero.StatementLine{}, nil
}

// MockConnectionRepo is a mock implementation of ConnectionRepository
type MockConnectionRepo struct {
	SaveFunc                func(ctx context.Context, params SaveConnectionParams) (*Connection, error)
	GetByIDFunc             func(ctx context.Context, id string) (*Connection, error)
	ListByUserIDFunc        func(ctx context.Context, userID int64) ([]*Connection, error)
	ListDueFunc             func(ctx context.Context, now time.Time, limit int) ([]*Connection, error)
	UpdateTokensFunc        func(ctx context.Context, id string, tokens xero.TokenSet) error
	MarkStatusFunc          func(ctx context.Context, id string, status ConnectionStatus, message string) error
	UpdateSyncTimesFunc     func(ctx context.Context, id string, lastSyncAt time.Time, nextSyncAt *time.Time) error
	UpdateSyncFrequencyFunc func(ctx context.Context, id string, frequency SyncFrequency, nextSyncAt *time.Time) error
	DeleteFunc              func(ctx context.Context, id string) error

	updateTokensCalls int
	markedStatus      ConnectionStatus
	markedMessage     string
	syncTimesCalls    int
	lastNextSync      *time.Time
}

func (m *MockConnectionRepo) Save(ctx context.Context, params SaveConnectionParams) (*Connection, error) {
	if m.SaveFunc != nil {
		return m.SaveFunc(ctx, params)
	}
	return &Connection{ID: "conn-new", UserID: params.UserID, TenantID: params.TenantID, TenantName: params.TenantName}, nil
}

func (m *MockConnectionRepo) GetByID(ctx context.Context, id string) (*Connection, error) {
	if m.GetByIDFunc != nil {
		return m.GetByIDFunc(ctx, id)
	}
	return nil, ErrConnectionNotFound
}

func (m *MockConnectionRepo) ListByUserID(ctx context.Context, userID int64) ([]*Connection, error) {
	if m.ListByUserIDFunc != nil {
		return m.ListByUserIDFunc(ctx, userID)
	}
	return nil, nil
}

func (m *MockConnectionRepo) ListDue(ctx context.Context, now time.Time, limit int) ([]*Connection, error) {
	if m.ListDueFunc != nil {
		return m.ListDueFunc(ctx, now, limit)
	}
	return nil, nil
}

func (m *MockConnectionRepo) UpdateTokens(ctx context.Context, id string, tokens xero.TokenSet) error {
	m.updateTokensCalls++
	if m.UpdateTokensFunc != nil {
		return m.UpdateTokensFunc(ctx, id, tokens)
	}
	return nil
}

func (m *MockConnectionRepo) MarkStatus(ctx context.Context, id string, status ConnectionStatus, message string) error {
	m.markedStatus = status
	m.markedMessage = message
	if m.MarkStatusFunc != nil {
		return m.MarkStatusFunc(ctx, id, status, message)
	}
	return nil
}

func (m *MockConnectionRepo) UpdateSyncTimes(ctx context.Context, id string, lastSyncAt time.Time, nextSyncAt *time.Time) error {
	m.syncTimesCalls++
	m.lastNextSync = nextSyncAt
	if m.UpdateSyncTimesFunc != nil {
		return m.UpdateSyncTimesFunc(ctx, id, lastSyncAt, nextSyncAt)
	}
	return nil
}

func (m *MockConnectionRepo) UpdateSyncFrequency(ctx context.Context, id string, frequency SyncFrequency, nextSyncAt *time.Time) error {
	if m.UpdateSyncFrequencyFunc != nil {
		return m.UpdateSyncFrequencyFunc(ctx, id, frequency, nextSyncAt)
	}
	return nil
}

func (m *MockConnectionRepo) Delete(ctx context.Context, id string) error {
	if m.DeleteFunc != nil {
		return m.DeleteFunc(ctx, id)
	}
	return nil
}

// MockMappingRepo is a mock implementation of MappingRepository
type MockMappingRepo struct {
	UpsertDiscoveredFunc func(ctx context.Context, connectionID string, remote RemoteAccountParams) (*AccountMapping, error)
	UpsertLinkFunc       func(ctx context.Context, connectionID string, remote RemoteAccountParams, localAccountID string, syncEnabled bool) (*AccountMapping, error)
	UnlinkFunc           func(ctx context.Context, connectionID, remoteAccountID string) error
	UpdateWatermarkFunc  func(ctx context.Context, mappingID string, watermark *time.Time, syncedAt time.Time) error
	ListEnabledFunc      func(ctx context.Context, connectionID string) ([]*AccountMapping, error)
	ListByConnectionFunc func(ctx context.Context, connectionID string) ([]*AccountMapping, error)
	GetByRemoteIDFunc    func(ctx context.Context, connectionID, remoteAccountID string) (*AccountMapping, error)

	watermarks map[string]*time.Time
	links      []linkCall
}

type linkCall struct {
	remote         RemoteAccountParams
	localAccountID string
	syncEnabled    bool
}

func (m *MockMappingRepo) UpsertDiscovered(ctx context.Context, connectionID string, remote RemoteAccountParams) (*AccountMapping, error) {
	if m.UpsertDiscoveredFunc != nil {
		return m.UpsertDiscoveredFunc(ctx, connectionID, remote)
	}
	return &AccountMapping{ID: "map-" + remote.RemoteAccountID, ConnectionID: connectionID, RemoteAccountID: remote.RemoteAccountID, RemoteName: remote.RemoteName}, nil
}

func (m *MockMappingRepo) UpsertLink(ctx context.Context, connectionID string, remote RemoteAccountParams, localAccountID string, syncEnabled bool) (*AccountMapping, error) {
	m.links = append(m.links, linkCall{remote: remote, localAccountID: localAccountID, syncEnabled: syncEnabled})
	if m.UpsertLinkFunc != nil {
		return m.UpsertLinkFunc(ctx, connectionID, remote, localAccountID, syncEnabled)
	}
	local := localAccountID
	return &AccountMapping{ID: "map-" + remote.RemoteAccountID, ConnectionID: connectionID, RemoteAccountID: remote.RemoteAccountID, LocalAccountID: &local, SyncEnabled: syncEnabled}, nil
}

func (m *MockMappingRepo) Unlink(ctx context.Context, connectionID, remoteAccountID string) error {
	if m.UnlinkFunc != nil {
		return m.UnlinkFunc(ctx, connectionID, remoteAccountID)
	}
	return nil
}

func (m *MockMappingRepo) UpdateWatermark(ctx context.Context, mappingID string, watermark *time.Time, syncedAt time.Time) error {
	if m.watermarks == nil {
		m.watermarks = map[string]*time.Time{}
	}
	m.watermarks[mappingID] = watermark
	if m.UpdateWatermarkFunc != nil {
		return m.UpdateWatermarkFunc(ctx, mappingID, watermark, syncedAt)
	}
	return nil
}

func (m *MockMappingRepo) ListEnabled(ctx context.Context, connectionID string) ([]*AccountMapping, error) {
	if m.ListEnabledFunc != nil {
		return m.ListEnabledFunc(ctx, connectionID)
	}
	return nil, nil
}

func (m *MockMappingRepo) ListByConnection(ctx context.Context, connectionID string) ([]*AccountMapping, error) {
	if m.ListByConnectionFunc != nil {
		return m.ListByConnectionFunc(ctx, connectionID)
	}
	return nil, nil
}

func (m *MockMappingRepo) GetByRemoteID(ctx context.Context, connectionID, remoteAccountID string) (*AccountMapping, error) {
	if m.GetByRemoteIDFunc != nil {
		return m.GetByRemoteIDFunc(ctx, connectionID, remoteAccountID)
	}
	return nil, ErrMappingNotFound
}

// MockSyncLogRepo records created and finalized logs.
type MockSyncLogRepo struct {
	CreateFunc           func(ctx context.Context, log *SyncLog) error
	FinalizeFunc         func(ctx context.Context, log *SyncLog) error
	ListByConnectionFunc func(ctx context.Context, connectionID string, limit int) ([]*SyncLog, error)

	created   int
	finalized []SyncLog
}

func (m *MockSyncLogRepo) Create(ctx context.Context, log *SyncLog) error {
	m.created++
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, log)
	}
	log.ID = "log-1"
	return nil
}

func (m *MockSyncLogRepo) Finalize(ctx context.Context, log *SyncLog) error {
	m.finalized = append(m.finalized, *log)
	if m.FinalizeFunc != nil {
		return m.FinalizeFunc(ctx, log)
	}
	return nil
}

func (m *MockSyncLogRepo) ListByConnection(ctx context.Context, connectionID string, limit int) ([]*SyncLog, error) {
	if m.ListByConnectionFunc != nil {
		return m.ListByConnectionFunc(ctx, connectionID, limit)
	}
	return nil, nil
}

// MockLocalAccounts is a mock implementation of LocalAccounts
type MockLocalAccounts struct {
	ListAccountsByUserIDFunc func(ctx context.Context, userID int64) ([]*account.Account, error)
	GetAccountFunc           func(ctx context.Context, accountID string, userID int64) (*account.Account, error)
	CreateAccountFunc        func(ctx context.Context, params account.CreateParams) (*account.Account, error)

	created []account.CreateParams
}

func (m *MockLocalAccounts) ListAccountsByUserID(ctx context.Context, userID int64) ([]*account.Account, error) {
	if m.ListAccountsByUserIDFunc != nil {
		return m.ListAccountsByUserIDFunc(ctx, userID)
	}
	return nil, nil
}

func (m *MockLocalAccounts) GetAccount(ctx context.Context, accountID string, userID int64) (*account.Account, error) {
	if m.GetAccountFunc != nil {
		return m.GetAccountFunc(ctx, accountID, userID)
	}
	return &account.Account{ID: accountID, UserID: userID}, nil
}

func (m *MockLocalAccounts) CreateAccount(ctx context.Context, params account.CreateParams) (*account.Account, error) {
	m.created = append(m.created, params)
	if m.CreateAccountFunc != nil {
		return m.CreateAccountFunc(ctx, params)
	}
	return &account.Account{ID: "local-" + params.Name, UserID: params.UserID, Name: params.Name, AccountType: params.AccountType}, nil
}

// memTransactions is an in-memory LocalTransactions that enforces the
// (external id, source) uniqueness the database provides.
type memTransactions struct {
	mu        sync.Mutex
	rows      map[string]transaction.CreateTransactionParams
	createErr func(params transaction.CreateTransactionParams) error
}

func newMemTransactions() *memTransactions {
	return &memTransactions{rows: map[string]transaction.CreateTransactionParams{}}
}

func (m *memTransactions) ExistsByExternalID(ctx context.Context, externalID, source string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.rows[source+"/"+externalID]
	return ok, nil
}

func (m *memTransactions) Create(ctx context.Context, params transaction.CreateTransactionParams) (*transaction.Transaction, error) {
	if m.createErr != nil {
		if err := m.createErr(params); err != nil {
			return nil, err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	key := params.ExternalSource + "/" + params.ExternalID
	if _, ok := m.rows[key]; ok {
		return nil, transaction.ErrDuplicateTransaction
	}
	m.rows[key] = params
	id := params.ExternalID
	return &transaction.Transaction{ID: "txn-" + id, AccountID: params.AccountID, Amount: params.Amount, ExternalID: &id, ExternalSource: params.ExternalSource}, nil
}

func (m *memTransactions) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rows)
}

// recordingNotifier remembers what it was told.
type recordingNotifier struct {
	finished []*SyncResult
	expired  []string
}

func (r *recordingNotifier) SyncFinished(ctx context.Context, conn *Connection, result *SyncResult) {
	r.finished = append(r.finished, result)
}

func (r *recordingNotifier) ConnectionExpired(ctx context.Context, conn *Connection) {
	r.expired = append(r.expired, conn.ID)
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func strPtr(s string) *string { return &s }
