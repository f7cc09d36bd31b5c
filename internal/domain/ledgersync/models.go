package ledgersync

import (
	"time"

	"homeledger/internal/domain/account"
	"homeledger/internal/infrastructure/xero"
)

// ExternalSource tags local records created from the accounting service.
const ExternalSource = "xero"

type ConnectionStatus string

const (
	StatusActive  ConnectionStatus = "active"
	StatusExpired ConnectionStatus = "expired"
	StatusError   ConnectionStatus = "error"
)

type SyncFrequency string

const (
	FrequencyHourly SyncFrequency = "hourly"
	FrequencyDaily  SyncFrequency = "daily"
	FrequencyWeekly SyncFrequency = "weekly"
	FrequencyManual SyncFrequency = "manual"
)

// ParseSyncFrequency validates a frequency name.
func ParseSyncFrequency(s string) (SyncFrequency, error) {
	switch f := SyncFrequency(s); f {
	case FrequencyHourly, FrequencyDaily, FrequencyWeekly, FrequencyManual:
		return f, nil
	}
	return "", ErrInvalidSyncFrequency
}

// Interval returns the spacing between scheduled runs; zero for manual.
func (f SyncFrequency) Interval() time.Duration {
	switch f {
	case FrequencyHourly:
		return time.Hour
	case FrequencyDaily:
		return 24 * time.Hour
	case FrequencyWeekly:
		return 7 * 24 * time.Hour
	}
	return 0
}

// NextSync computes the next scheduled run after from. Manual connections
// are never scheduled.
func (f SyncFrequency) NextSync(from time.Time) *time.Time {
	interval := f.Interval()
	if interval == 0 {
		return nil
	}
	next := from.Add(interval)
	return &next
}

type SyncType string

const (
	SyncManual    SyncType = "manual"
	SyncScheduled SyncType = "scheduled"
	SyncInitial   SyncType = "initial"
)

type SyncStatus string

const (
	SyncStarted   SyncStatus = "started"
	SyncCompleted SyncStatus = "completed"
	SyncPartial   SyncStatus = "partial"
	SyncFailed    SyncStatus = "failed"
)

// Connection is an authenticated link to one organisation in the
// accounting service.
type Connection struct {
	ID            string           `json:"id"`
	UserID        int64            `json:"userId"`
	TenantID      string           `json:"tenantId"`
	TenantName    string           `json:"tenantName"`
	AccessToken   string           `json:"-"`
	RefreshToken  string           `json:"-"`
	TokenExpiry   time.Time        `json:"tokenExpiry"`
	Status        ConnectionStatus `json:"status"`
	StatusMessage string           `json:"statusMessage,omitempty"`
	LastSyncAt    *time.Time       `json:"lastSyncAt,omitempty"`
	NextSyncAt    *time.Time       `json:"nextSyncAt,omitempty"`
	SyncFrequency SyncFrequency    `json:"syncFrequency"`
	CreatedAt     time.Time        `json:"createdAt"`
	UpdatedAt     time.Time        `json:"updatedAt"`
}

// SaveConnectionParams carries what an authorization callback learns.
type SaveConnectionParams struct {
	UserID        int64
	TenantID      string
	TenantName    string
	Tokens        xero.TokenSet
	SyncFrequency SyncFrequency
	NextSyncAt    *time.Time
}

// AccountMapping links a remote account to an optional local account.
type AccountMapping struct {
	ID              string     `json:"id"`
	ConnectionID    string     `json:"connectionId"`
	RemoteAccountID string     `json:"remoteAccountId"`
	RemoteName      string     `json:"remoteName"`
	RemoteCode      string     `json:"remoteCode,omitempty"`
	RemoteType      string     `json:"remoteType"`
	LocalAccountID  *string    `json:"localAccountId,omitempty"`
	SyncEnabled     bool       `json:"syncEnabled"`
	Watermark       *time.Time `json:"watermark,omitempty"`
	LastSyncAt      *time.Time `json:"lastSyncAt,omitempty"`
	CreatedAt       time.Time  `json:"createdAt"`
	UpdatedAt       time.Time  `json:"updatedAt"`
}

// Linked reports whether the mapping points at a local account.
func (m *AccountMapping) Linked() bool {
	return m.LocalAccountID != nil && *m.LocalAccountID != ""
}

// RemoteAccountParams identifies and describes a remote account for the
// mapping store.
type RemoteAccountParams struct {
	RemoteAccountID string
	RemoteName      string
	RemoteCode      string
	RemoteType      string
}

func remoteParams(a xero.Account) RemoteAccountParams {
	return RemoteAccountParams{
		RemoteAccountID: a.AccountID,
		RemoteName:      a.Name,
		RemoteCode:      a.Code,
		RemoteType:      a.Kind(),
	}
}

// SyncLog records the outcome of one sync run.
type SyncLog struct {
	ID                   string        `json:"id"`
	ConnectionID         string        `json:"connectionId"`
	SyncType             SyncType      `json:"syncType"`
	Status               SyncStatus    `json:"status"`
	AccountsSynced       int           `json:"accountsSynced"`
	TransactionsImported int           `json:"transactionsImported"`
	TransactionsSkipped  int           `json:"transactionsSkipped"`
	TransactionsUpdated  int           `json:"transactionsUpdated"`
	APICalls             int           `json:"apiCalls"`
	ErrorMessage         string        `json:"errorMessage,omitempty"`
	StartedAt            time.Time     `json:"startedAt"`
	CompletedAt          *time.Time    `json:"completedAt,omitempty"`
	Duration             time.Duration `json:"duration"`
}

// SyncResult is returned by every sync run, including failed ones.
type SyncResult struct {
	Success bool       `json:"success"`
	Status  SyncStatus `json:"status"`
	Message string     `json:"message"`
	Log     *SyncLog   `json:"log"`
	Errors  []string   `json:"errors"`
}

type ComparisonStatus string

const (
	ComparisonMatched   ComparisonStatus = "matched"
	ComparisonSuggested ComparisonStatus = "suggested"
	ComparisonUnmatched ComparisonStatus = "unmatched"
)

// AccountComparison is one row of the review screen.
type AccountComparison struct {
	Remote     xero.Account     `json:"remote"`
	Local      *account.Account `json:"local,omitempty"`
	Mapping    *AccountMapping  `json:"mapping,omitempty"`
	Status     ComparisonStatus `json:"status"`
	Confidence int              `json:"confidence"`
	Reason     string           `json:"reason,omitempty"`
}

// ImportResult summarises a single or bulk import.
type ImportResult struct {
	Success       bool               `json:"success"`
	ImportedCount int                `json:"importedCount"`
	Accounts      []*account.Account `json:"accounts"`
	Errors        []string           `json:"errors"`
	Message       string             `json:"message"`
}
