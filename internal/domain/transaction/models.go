package transaction

import (
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Domain errors
var (
	ErrTransactionNotFound  = errors.New("transaction not found")
	ErrDuplicateTransaction = errors.New("transaction already imported")
)

// Transaction is a movement on a local account. Imported transactions carry
// the remote system's identifier in ExternalID, unique per ExternalSource.
type Transaction struct {
	ID              string          `json:"id"`
	AccountID       string          `json:"accountId"`
	Amount          decimal.Decimal `json:"amount"`
	Description     string          `json:"description"`
	Reference       string          `json:"reference,omitempty"`
	TransactionDate time.Time       `json:"transactionDate"`
	Type            string          `json:"type"` // "DEBIT" or "CREDIT"
	ExternalID      *string         `json:"externalId,omitempty"`
	ExternalSource  string          `json:"externalSource,omitempty"`
	CreatedAt       time.Time       `json:"createdAt"`
	UpdatedAt       time.Time       `json:"updatedAt"`
}

const (
	TypeDebit  = "DEBIT"
	TypeCredit = "CREDIT"
)

type CreateTransactionParams struct {
	AccountID       string
	Amount          decimal.Decimal
	Description     string
	Reference       string
	TransactionDate time.Time
	ExternalID      string
	ExternalSource  string
}

// Type derives the direction from the sign of the amount.
func (p CreateTransactionParams) Type() string {
	if p.Amount.IsNegative() {
		return TypeDebit
	}
	return TypeCredit
}

// Validate validates the create parameters
func (p CreateTransactionParams) Validate() error {
	if p.AccountID == "" {
		return errors.New("account ID is required")
	}
	if p.TransactionDate.IsZero() {
		return errors.New("transaction date is required")
	}
	if p.ExternalID != "" && strings.TrimSpace(p.ExternalSource) == "" {
		return errors.New("external source is required with an external ID")
	}
	return nil
}
