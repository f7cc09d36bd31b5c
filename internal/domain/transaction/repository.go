package transaction

import "context"

// Repository defines the interface for transaction data access
type Repository interface {
	// Create inserts a transaction. Returns ErrDuplicateTransaction when a
	// transaction with the same external ID and source already exists.
	Create(ctx context.Context, params CreateTransactionParams) (*Transaction, error)
	// ExistsByExternalID reports whether a transaction from source with the
	// given external ID was already stored.
	ExistsByExternalID(ctx context.Context, externalID, source string) (bool, error)
	ListByAccountID(ctx context.Context, accountID string, limit, offset int) ([]*Transaction, error)
}
