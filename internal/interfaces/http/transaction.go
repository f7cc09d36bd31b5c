package http

import (
	"net/http"
	"strconv"

	"homeledger/internal/domain/account"
	"homeledger/internal/domain/transaction"
	"homeledger/internal/shared/principal"
)

const (
	defaultTransactionLimit = 50
	maxTransactionLimit     = 500
)

type TransactionHandler struct {
	transactions   transaction.Repository
	accountService *account.Service
}

func NewTransactionHandler(transactions transaction.Repository, accountService *account.Service) *TransactionHandler {
	return &TransactionHandler{
		transactions:   transactions,
		accountService: accountService,
	}
}

// HandleListTransactions returns transactions for one of the caller's
// accounts, newest first. Query: limit, offset.
func (h *TransactionHandler) HandleListTransactions(w http.ResponseWriter, r *http.Request) {
	p, err := principal.FromContext(r.Context())
	if err != nil {
		writeError(w, "Unauthorized", err)
		return
	}

	// Verify account ownership
	acc, err := h.accountService.GetAccount(r.Context(), r.PathValue("id"), p.UserID)
	if err != nil {
		writeError(w, "Failed to get account", err)
		return
	}

	limit := defaultTransactionLimit
	offset := 0
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if parsed, err := strconv.Atoi(limitStr); err == nil && parsed > 0 {
			limit = min(parsed, maxTransactionLimit)
		}
	}
	if offsetStr := r.URL.Query().Get("offset"); offsetStr != "" {
		if parsed, err := strconv.Atoi(offsetStr); err == nil && parsed >= 0 {
			offset = parsed
		}
	}

	txns, err := h.transactions.ListByAccountID(r.Context(), acc.ID, limit, offset)
	if err != nil {
		writeError(w, "Failed to list transactions", err)
		return
	}
	if txns == nil {
		txns = []*transaction.Transaction{}
	}

	writeJSON(w, http.StatusOK, txns)
}
