package xero

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/oauth2"

	"homeledger/internal/shared/logger"
)

const (
	defaultAPIBaseURL     = "https://api.xero.com/api.xro/2.0"
	defaultConnectionsURL = "https://api.xero.com/connections"
	defaultAuthorizeURL   = "https://login.xero.com/identity/connect/authorize"
	defaultTokenURL       = "https://identity.xero.com/connect/token"
	defaultTimeout        = 60 * time.Second
	defaultMaxPages       = 10

	accountsPath     = "/Accounts"
	transactionsPath = "/BankTransactions"
	statementPath    = "/Reports/BankStatement"

	// PageSize is the fixed number of records per transactions page. A
	// shorter page marks the end of the data.
	PageSize = 100

	tenantHeader     = "xero-tenant-id"
	errorBodyExcerpt = 512
)

// Scopes requested on every authorization.
var Scopes = []string{
	"openid",
	"profile",
	"email",
	"accounting.transactions.read",
	"accounting.settings.read",
	"accounting.contacts.read",
	"offline_access",
}

// Config configures a Client. Empty URLs fall back to the production
// endpoints; tests point them at an httptest server.
type Config struct {
	ClientID       string
	ClientSecret   string
	RedirectURL    string
	APIBaseURL     string
	ConnectionsURL string
	AuthorizeURL   string
	TokenURL       string
	MaxPages       int
	Timeout        time.Duration
}

// Client handles communication with the accounting API
type Client struct {
	httpClient     *http.Client
	oauth          *oauth2.Config
	baseURL        string
	connectionsURL string
	maxPages       int
	now            func() time.Time
}

// Ensure Client implements ClientInterface
var _ ClientInterface = (*Client)(nil)

// NewClient creates a new accounting API client
func NewClient(cfg Config) *Client {
	if cfg.APIBaseURL == "" {
		cfg.APIBaseURL = defaultAPIBaseURL
	}
	if cfg.ConnectionsURL == "" {
		cfg.ConnectionsURL = defaultConnectionsURL
	}
	if cfg.AuthorizeURL == "" {
		cfg.AuthorizeURL = defaultAuthorizeURL
	}
	if cfg.TokenURL == "" {
		cfg.TokenURL = defaultTokenURL
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = defaultMaxPages
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}

	return &Client{
		httpClient: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       Scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:   cfg.AuthorizeURL,
				TokenURL:  cfg.TokenURL,
				AuthStyle: oauth2.AuthStyleInHeader,
			},
		},
		baseURL:        strings.TrimRight(cfg.APIBaseURL, "/"),
		connectionsURL: cfg.ConnectionsURL,
		maxPages:       cfg.MaxPages,
		now:            time.Now,
	}
}

// MaxPages returns the page cap applied by FetchAllTransactions.
func (c *Client) MaxPages() int {
	return c.maxPages
}

// Tenants lists the organisations the access token is authorised for.
func (c *Client) Tenants(ctx context.Context, accessToken string) ([]Tenant, error) {
	body, _, err := c.get(ctx, accessToken, "", c.connectionsURL, nil, nil)
	if err != nil {
		return nil, err
	}

	var tenants []Tenant
	if err := json.Unmarshal(body, &tenants); err != nil {
		return nil, fmt.Errorf("failed to parse connections response: %w", err)
	}
	return tenants, nil
}

// GetAccounts fetches accounts for a tenant. With bankOnly the request is
// filtered to bank-type accounts. Only active accounts are returned.
func (c *Client) GetAccounts(ctx context.Context, accessToken, tenantID string, bankOnly bool) ([]Account, error) {
	query := url.Values{}
	if bankOnly {
		query.Set("where", `Type=="BANK"`)
	}

	body, _, err := c.get(ctx, accessToken, tenantID, c.baseURL+accountsPath, query, nil)
	if err != nil {
		return nil, err
	}

	var resp AccountsResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse accounts response: %w", err)
	}

	active := make([]Account, 0, len(resp.Accounts))
	for _, a := range resp.Accounts {
		if a.IsActive() {
			active = append(active, a)
		}
	}
	return active, nil
}

// TransactionQuery narrows a transactions fetch. Empty fields are omitted
// from the filter expression.
type TransactionQuery struct {
	AccountID     string
	Status        string
	ModifiedSince *time.Time
}

// Where builds the filter expression, clauses joined with AND.
func (q TransactionQuery) Where() string {
	var clauses []string
	if q.Status != "" {
		clauses = append(clauses, fmt.Sprintf(`Status=="%s"`, q.Status))
	}
	if q.AccountID != "" {
		clauses = append(clauses, fmt.Sprintf(`BankAccount.AccountID==guid("%s")`, q.AccountID))
	}
	return strings.Join(clauses, " AND ")
}

// GetTransactions fetches one page of bank transactions, newest first. A
// 304 Not Modified yields an empty page and no error.
func (c *Client) GetTransactions(ctx context.Context, accessToken, tenantID string, q TransactionQuery, page int) ([]BankTransaction, error) {
	if page < 1 {
		page = 1
	}

	query := url.Values{}
	if where := q.Where(); where != "" {
		query.Set("where", where)
	}
	query.Set("order", "Date DESC")
	query.Set("page", strconv.Itoa(page))

	header := http.Header{}
	if q.ModifiedSince != nil && !q.ModifiedSince.IsZero() {
		header.Set("If-Modified-Since", q.ModifiedSince.UTC().Format(dateStringLayout))
	}

	body, status, err := c.get(ctx, accessToken, tenantID, c.baseURL+transactionsPath, query, header)
	if err != nil {
		return nil, err
	}
	if status == http.StatusNotModified {
		return []BankTransaction{}, nil
	}

	var resp BankTransactionsResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse transactions response: %w", err)
	}
	return resp.BankTransactions, nil
}

// TransactionBatch is the outcome of a paged fetch.
type TransactionBatch struct {
	Transactions []BankTransaction
	// Calls counts requests issued, including a failing last one.
	Calls int
	// Truncated is set when the page cap stopped the fetch while full pages
	// were still being returned.
	Truncated bool
}

// FetchAllTransactions pages through GetTransactions until an empty or
// short page, or until the page cap is reached.
func (c *Client) FetchAllTransactions(ctx context.Context, accessToken, tenantID string, q TransactionQuery) (*TransactionBatch, error) {
	batch := &TransactionBatch{}

	for page := 1; page <= c.maxPages; page++ {
		batch.Calls++
		txns, err := c.GetTransactions(ctx, accessToken, tenantID, q, page)
		if err != nil {
			return batch, fmt.Errorf("page %d: %w", page, err)
		}

		batch.Transactions = append(batch.Transactions, txns...)
		if len(txns) < PageSize {
			return batch, nil
		}
	}

	batch.Truncated = true
	logger.Log.WithFields(logrus.Fields{
		"tenant_id":  tenantID,
		"account_id": q.AccountID,
		"max_pages":  c.maxPages,
	}).Warn("Transaction fetch stopped at page cap")

	return batch, nil
}

// get issues an authenticated GET and returns the body and status code.
// Any status other than 2xx or 304 becomes an *APIError.
func (c *Client) get(ctx context.Context, accessToken, tenantID, endpoint string, query url.Values, header http.Header) ([]byte, int, error) {
	reqURL := endpoint
	if len(query) > 0 {
		reqURL += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to create request: %w", err)
	}

	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")
	if tenantID != "" {
		req.Header.Set(tenantHeader, tenantID)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode == http.StatusNotModified {
		return nil, resp.StatusCode, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, resp.StatusCode, newAPIError(resp.StatusCode, body)
	}

	return body, resp.StatusCode, nil
}

func newAPIError(status int, body []byte) *APIError {
	var errResp ErrorResponse
	msg := string(body)
	if err := json.Unmarshal(body, &errResp); err == nil {
		switch {
		case errResp.Detail != "":
			msg = errResp.Title + " - " + errResp.Detail
		case errResp.Message != "":
			msg = errResp.Type + " - " + errResp.Message
		}
	}
	return &APIError{StatusCode: status, Body: excerpt(msg)}
}

func excerpt(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > errorBodyExcerpt {
		return s[:errorBodyExcerpt] + "..."
	}
	return s
}
