package xero

import (
	"context"
	"time"
)

// ClientInterface defines the methods required from the accounting API client
type ClientInterface interface {
	AuthorizeURL(state string) string
	ExchangeCode(ctx context.Context, code string) (*TokenSet, error)
	RefreshToken(ctx context.Context, refreshToken string) (*TokenSet, error)
	Tenants(ctx context.Context, accessToken string) ([]Tenant, error)
	GetAccounts(ctx context.Context, accessToken, tenantID string, bankOnly bool) ([]Account, error)
	GetTransactions(ctx context.Context, accessToken, tenantID string, query TransactionQuery, page int) ([]BankTransaction, error)
	FetchAllTransactions(ctx context.Context, accessToken, tenantID string, query TransactionQuery) (*TransactionBatch, error)
	GetBankStatement(ctx context.Context, accessToken, tenantID, accountID string, from, to time.Time) ([]StatementLine, error)
}
