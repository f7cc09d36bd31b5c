package http

import (
	"net/http"

	"github.com/shopspring/decimal"

	"homeledger/internal/domain/account"
	"homeledger/internal/shared/principal"
)

// AccountHandler serves the caller's local accounts. The review screen uses
// it to pick link targets.
type AccountHandler struct {
	accountService *account.Service
}

func NewAccountHandler(accountService *account.Service) *AccountHandler {
	return &AccountHandler{accountService: accountService}
}

type CreateAccountRequest struct {
	Name          string          `json:"name" validate:"required,max=255"`
	AccountNumber string          `json:"accountNumber" validate:"max=64"`
	AccountType   string          `json:"accountType" validate:"required"`
	Currency      string          `json:"currency" validate:"omitempty,len=3"`
	Balance       decimal.Decimal `json:"balance"`
}

// HandleListAccounts returns all accounts for the authenticated user
func (h *AccountHandler) HandleListAccounts(w http.ResponseWriter, r *http.Request) {
	p, err := principal.FromContext(r.Context())
	if err != nil {
		writeError(w, "Unauthorized", err)
		return
	}

	accounts, err := h.accountService.ListAccountsByUserID(r.Context(), p.UserID)
	if err != nil {
		writeError(w, "Failed to list accounts", err)
		return
	}
	if accounts == nil {
		accounts = []*account.Account{}
	}

	writeJSON(w, http.StatusOK, accounts)
}

func (h *AccountHandler) HandleCreateAccount(w http.ResponseWriter, r *http.Request) {
	p, err := principal.FromContext(r.Context())
	if err != nil {
		writeError(w, "Unauthorized", err)
		return
	}

	var req CreateAccountRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeMessage(w, http.StatusBadRequest, err.Error())
		return
	}

	acc, err := h.accountService.CreateAccount(r.Context(), account.CreateParams{
		UserID:        p.UserID,
		Name:          req.Name,
		AccountNumber: req.AccountNumber,
		AccountType:   req.AccountType,
		Currency:      req.Currency,
		Balance:       req.Balance,
	})
	if err != nil {
		writeError(w, "Failed to create account", err)
		return
	}

	writeJSON(w, http.StatusCreated, acc)
}

func (h *AccountHandler) HandleGetAccount(w http.ResponseWriter, r *http.Request) {
	p, err := principal.FromContext(r.Context())
	if err != nil {
		writeError(w, "Unauthorized", err)
		return
	}

	acc, err := h.accountService.GetAccount(r.Context(), r.PathValue("id"), p.UserID)
	if err != nil {
		writeError(w, "Failed to get account", err)
		return
	}

	writeJSON(w, http.StatusOK, acc)
}
