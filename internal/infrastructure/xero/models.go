package xero

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	// dateStringLayout is the local-time layout of the DateString field.
	dateStringLayout = "2006-01-02T15:04:05"

	StatusActive     = "ACTIVE"
	StatusAuthorised = "AUTHORISED"
)

var msDatePattern = regexp.MustCompile(`^/Date\((-?\d+)([+-]\d{4})?\)/$`)

// TokenSet is the credential triple returned by the token endpoint.
type TokenSet struct {
	AccessToken  string
	RefreshToken string
	Expiry       time.Time
}

// Tenant is an organisation the user granted access to.
type Tenant struct {
	ID         string `json:"id"`
	TenantID   string `json:"tenantId"`
	TenantType string `json:"tenantType"`
	TenantName string `json:"tenantName"`
}

// AccountsResponse is the envelope of the Accounts endpoint.
type AccountsResponse struct {
	Accounts []Account `json:"Accounts"`
}

// Account is a chart-of-accounts entry. Bank accounts carry a
// BankAccountNumber and a BankAccountType (BANK, CREDITCARD, PAYPAL).
type Account struct {
	AccountID         string `json:"AccountID"`
	Code              string `json:"Code"`
	Name              string `json:"Name"`
	Type              string `json:"Type"`
	BankAccountNumber string `json:"BankAccountNumber"`
	BankAccountType   string `json:"BankAccountType"`
	CurrencyCode      string `json:"CurrencyCode"`
	Status            string `json:"Status"`
}

// Kind returns the most specific type string available for matching and
// import: the bank account type when present, the ledger type otherwise.
func (a Account) Kind() string {
	if a.BankAccountType != "" {
		return a.BankAccountType
	}
	return a.Type
}

// IsActive reports whether the account is usable.
func (a Account) IsActive() bool {
	return strings.EqualFold(a.Status, StatusActive)
}

// BankTransactionsResponse is the envelope of the BankTransactions endpoint.
type BankTransactionsResponse struct {
	BankTransactions []BankTransaction `json:"BankTransactions"`
}

// BankTransaction is a spend or receive money transaction on a bank account.
type BankTransaction struct {
	BankTransactionID string          `json:"BankTransactionID"`
	Type              string          `json:"Type"` // RECEIVE, SPEND, and their -TRANSFER/-OVERPAYMENT/-PREPAYMENT variants
	Status            string          `json:"Status"`
	Reference         string          `json:"Reference"`
	DateString        string          `json:"DateString"`
	Date              string          `json:"Date"`
	UpdatedDateUTC    string          `json:"UpdatedDateUTC"`
	CurrencyCode      string          `json:"CurrencyCode"`
	IsReconciled      bool            `json:"IsReconciled"`
	Total             decimal.Decimal `json:"Total"`
	Contact           *Contact        `json:"Contact,omitempty"`
	BankAccount       AccountRef      `json:"BankAccount"`
	LineItems         []LineItem      `json:"LineItems"`
}

type Contact struct {
	ContactID string `json:"ContactID"`
	Name      string `json:"Name"`
}

type AccountRef struct {
	AccountID string `json:"AccountID"`
	Code      string `json:"Code"`
	Name      string `json:"Name"`
}

type LineItem struct {
	Description string          `json:"Description"`
	LineAmount  decimal.Decimal `json:"LineAmount"`
}

// GetDate returns the transaction date, preferring DateString and falling
// back to the /Date(ms)/ encoding.
func (t *BankTransaction) GetDate() (time.Time, error) {
	if t.DateString != "" {
		d, err := time.Parse(dateStringLayout, t.DateString)
		if err == nil {
			return d, nil
		}
	}
	if t.Date != "" {
		return parseMSDate(t.Date)
	}
	return time.Time{}, fmt.Errorf("transaction %s has no date", t.BankTransactionID)
}

// SignedAmount returns Total negated for money going out.
func (t *BankTransaction) SignedAmount() decimal.Decimal {
	if strings.HasPrefix(strings.ToUpper(t.Type), "SPEND") {
		return t.Total.Neg()
	}
	return t.Total
}

// Description picks the most readable label: contact, first line item,
// then reference.
func (t *BankTransaction) Description() string {
	if t.Contact != nil && strings.TrimSpace(t.Contact.Name) != "" {
		return strings.TrimSpace(t.Contact.Name)
	}
	for _, li := range t.LineItems {
		if d := strings.TrimSpace(li.Description); d != "" {
			return d
		}
	}
	return strings.TrimSpace(t.Reference)
}

// parseMSDate parses the "/Date(1700000000000+0000)/" format.
func parseMSDate(s string) (time.Time, error) {
	m := msDatePattern.FindStringSubmatch(s)
	if m == nil {
		return time.Time{}, fmt.Errorf("unrecognised date %q", s)
	}
	ms, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: %w", s, err)
	}
	return time.UnixMilli(ms).UTC(), nil
}

// ErrorResponse is the body returned on validation and API errors.
type ErrorResponse struct {
	Type    string `json:"Type"`
	Title   string `json:"Title"`
	Detail  string `json:"Detail"`
	Message string `json:"Message"`
}

// APIError is any non-success response from the accounting service.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error (status %d): %s", e.StatusCode, e.Body)
}

// IsUnauthorized reports whether the service rejected the credentials.
func (e *APIError) IsUnauthorized() bool {
	return e.StatusCode == 401 || e.StatusCode == 403
}
