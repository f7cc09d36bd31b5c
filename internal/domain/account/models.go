package account

import (
	"errors"
	"strings"
	"time"

	"github.com/Rhymond/go-money"
	"github.com/shopspring/decimal"
)

const (
	TypeBank       = "bank"
	TypeCredit     = "credit"
	TypeWallet     = "wallet"
	TypeInvestment = "investment"
	TypeCash       = "cash"
)

var accountTypes = map[string]struct{}{
	TypeBank:       {},
	TypeCredit:     {},
	TypeWallet:     {},
	TypeInvestment: {},
	TypeCash:       {},
}

// Domain errors
var (
	ErrInvalidAccountType = errors.New("invalid account type")
	ErrAccountNotFound    = errors.New("account not found")
	ErrDuplicateAccount   = errors.New("an account with this name already exists")
	ErrForbidden          = errors.New("access forbidden")
	ErrInvalidCurrency    = errors.New("valid ISO 4217 currency is required")
)

// Account is a local ledger account owned by one user.
type Account struct {
	ID             string          `json:"id"`
	UserID         int64           `json:"userId"`
	Name           string          `json:"name"`
	AccountNumber  string          `json:"accountNumber"`
	AccountType    string          `json:"accountType"`
	Currency       string          `json:"currency"`
	Balance        decimal.Decimal `json:"balance"`
	ExternalSource string          `json:"externalSource,omitempty"`
	CreatedAt      time.Time       `json:"createdAt"`
	UpdatedAt      time.Time       `json:"updatedAt"`
}

// CreateParams contains parameters for creating a new account
type CreateParams struct {
	UserID         int64
	Name           string
	AccountNumber  string
	AccountType    string
	Currency       string
	Balance        decimal.Decimal
	ExternalSource string
}

// Validate validates the create parameters
func (p CreateParams) Validate() error {
	if p.UserID <= 0 {
		return errors.New("valid user ID is required")
	}
	if strings.TrimSpace(p.Name) == "" {
		return errors.New("account name is required")
	}
	if p.AccountType == "" {
		return errors.New("account type is required")
	}
	if !IsValidAccountType(p.AccountType) {
		return ErrInvalidAccountType
	}
	if !IsValidCurrency(p.Currency) {
		return ErrInvalidCurrency
	}
	return nil
}

// IsValidAccountType checks if the provided account type is valid.
func IsValidAccountType(t string) bool {
	_, ok := accountTypes[t]
	return ok
}

// IsValidCurrency checks the code against the ISO 4217 table.
func IsValidCurrency(c string) bool {
	if len(c) != 3 || strings.ToUpper(c) != c {
		return false
	}
	return money.GetCurrency(c) != nil
}
