package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"homeledger/internal/domain/transaction"
)

const transactionColumns = `id, account_id, amount, description, reference, transaction_date, type,
	external_id, external_source, created_at, updated_at`

type TransactionRepository struct {
	db *DB
}

var _ transaction.Repository = (*TransactionRepository)(nil)

func NewTransactionRepository(db *DB) *TransactionRepository {
	return &TransactionRepository{db: db}
}

// Create inserts a transaction. The partial unique index on
// (external_source, external_id) turns a concurrent import of the same
// remote transaction into ErrDuplicateTransaction.
func (r *TransactionRepository) Create(ctx context.Context, params transaction.CreateTransactionParams) (*transaction.Transaction, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}

	query := `
		INSERT INTO transactions (id, account_id, amount, description, reference, transaction_date, type,
		                          external_id, external_source)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING ` + transactionColumns

	txn, err := scanTransaction(r.db.QueryRowContext(
		ctx, query,
		uuid.NewString(), params.AccountID, params.Amount, params.Description, nullString(params.Reference),
		params.TransactionDate, params.Type(), nullString(params.ExternalID), nullString(params.ExternalSource),
	))
	if isUniqueViolation(err) {
		return nil, transaction.ErrDuplicateTransaction
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create transaction: %w", err)
	}
	return txn, nil
}

func (r *TransactionRepository) ExistsByExternalID(ctx context.Context, externalID, source string) (bool, error) {
	query := `SELECT EXISTS(SELECT 1 FROM transactions WHERE external_source = $1 AND external_id = $2)`

	var exists bool
	if err := r.db.QueryRowContext(ctx, query, source, externalID).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check transaction existence: %w", err)
	}
	return exists, nil
}

func (r *TransactionRepository) ListByAccountID(ctx context.Context, accountID string, limit, offset int) ([]*transaction.Transaction, error) {
	query := `
		SELECT ` + transactionColumns + `
		FROM transactions
		WHERE account_id = $1
		ORDER BY transaction_date DESC, created_at DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := r.db.QueryContext(ctx, query, accountID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	defer rows.Close()

	var transactions []*transaction.Transaction
	for rows.Next() {
		txn, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		transactions = append(transactions, txn)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating transactions: %w", err)
	}

	return transactions, nil
}

func scanTransaction(row rowScanner) (*transaction.Transaction, error) {
	var txn transaction.Transaction
	var reference, externalID, externalSource sql.NullString

	err := row.Scan(
		&txn.ID, &txn.AccountID, &txn.Amount, &txn.Description, &reference,
		&txn.TransactionDate, &txn.Type, &externalID, &externalSource,
		&txn.CreatedAt, &txn.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	txn.Reference = reference.String
	txn.ExternalSource = externalSource.String
	if externalID.Valid {
		id := externalID.String
		txn.ExternalID = &id
	}
	return &txn, nil
}
