package http

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"homeledger/internal/domain/ledgersync"
	"homeledger/internal/infrastructure/xero"
	"homeledger/internal/shared/logger"
	"homeledger/internal/shared/principal"
)

const statementDateLayout = "2006-01-02"

// Connections is the connection lifecycle surface used by LedgerHandler.
type Connections interface {
	StartAuthorization(p principal.Principal) (authURL, state string, err error)
	CompleteAuthorization(ctx context.Context, state, code string) (*ledgersync.Connection, principal.Principal, error)
	ListConnections(ctx context.Context, p principal.Principal) ([]*ledgersync.Connection, error)
	Disconnect(ctx context.Context, p principal.Principal, connectionID string) error
	Statement(ctx context.Context, p principal.Principal, connectionID, remoteAccountID string, from, to time.Time) ([]xero.StatementLine, error)
	SetSyncFrequency(ctx context.Context, p principal.Principal, connectionID, frequency string) (*ledgersync.Connection, error)
	ListSyncLogs(ctx context.Context, p principal.Principal, connectionID string, limit int) ([]*ledgersync.SyncLog, error)
}

// Reviews is the account review and import surface used by LedgerHandler.
type Reviews interface {
	Review(ctx context.Context, p principal.Principal, connectionID string) ([]ledgersync.AccountComparison, error)
	ImportAccount(ctx context.Context, p principal.Principal, connectionID, remoteAccountID string) (*ledgersync.ImportResult, error)
	ImportAllUnmatched(ctx context.Context, p principal.Principal, connectionID string) (*ledgersync.ImportResult, error)
	LinkAccount(ctx context.Context, p principal.Principal, connectionID, remoteAccountID, localAccountID string, syncEnabled bool) (*ledgersync.AccountMapping, error)
	UnlinkAccount(ctx context.Context, p principal.Principal, connectionID, remoteAccountID string) error
}

type Syncer interface {
	SyncConnection(ctx context.Context, p principal.Principal, connectionID string, syncType ledgersync.SyncType) (*ledgersync.SyncResult, error)
}

// SyncEnqueuer queues a background sync for a connection.
type SyncEnqueuer interface {
	EnqueueSync(conn *ledgersync.Connection, syncType ledgersync.SyncType) error
}

var (
	_ Connections = (*ledgersync.ConnectionService)(nil)
	_ Reviews     = (*ledgersync.ReviewService)(nil)
	_ Syncer      = (*ledgersync.SyncService)(nil)
)

// LedgerHandler serves the accounting service integration endpoints.
type LedgerHandler struct {
	connections Connections
	reviews     Reviews
	syncer      Syncer
	enqueuer    SyncEnqueuer
}

// NewLedgerHandler creates the handler. enqueuer may be nil, in which case
// the initial sync after authorization runs on the request goroutine.
func NewLedgerHandler(connections Connections, reviews Reviews, syncer Syncer, enqueuer SyncEnqueuer) *LedgerHandler {
	return &LedgerHandler{
		connections: connections,
		reviews:     reviews,
		syncer:      syncer,
		enqueuer:    enqueuer,
	}
}

type ConnectResponse struct {
	AuthURL string `json:"authUrl"`
}

type CallbackResponse struct {
	Success    bool                   `json:"success"`
	Connection *ledgersync.Connection `json:"connection"`
	SyncQueued bool                   `json:"syncQueued"`
}

type SetFrequencyRequest struct {
	Frequency string `json:"frequency" validate:"required,oneof=hourly daily weekly manual"`
}

type ImportAccountRequest struct {
	RemoteAccountID string `json:"remoteAccountId" validate:"required"`
}

type LinkAccountRequest struct {
	LocalAccountID string `json:"localAccountId" validate:"required"`
	SyncEnabled    *bool  `json:"syncEnabled,omitempty"`
}

// HandleConnect returns the consent URL the client should open.
func (h *LedgerHandler) HandleConnect(w http.ResponseWriter, r *http.Request) {
	p, err := principal.FromContext(r.Context())
	if err != nil {
		writeError(w, "Unauthorized", err)
		return
	}

	authURL, _, err := h.connections.StartAuthorization(p)
	if err != nil {
		writeError(w, "Failed to start authorization", err)
		return
	}

	writeJSON(w, http.StatusOK, ConnectResponse{AuthURL: authURL})
}

// HandleCallback completes the authorization redirect. It is public: the
// principal comes from the state issued by HandleConnect.
func (h *LedgerHandler) HandleCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if reason := q.Get("error"); reason != "" {
		logger.Log.WithFields(logrus.Fields{
			"error":       reason,
			"description": q.Get("error_description"),
		}).Warn("Authorization was declined")
		writeMessage(w, http.StatusBadRequest, "authorization was declined: "+reason)
		return
	}

	code, state := q.Get("code"), q.Get("state")
	if code == "" || state == "" {
		writeMessage(w, http.StatusBadRequest, "code and state are required")
		return
	}

	conn, p, err := h.connections.CompleteAuthorization(r.Context(), state, code)
	if err != nil {
		writeError(w, "Failed to complete authorization", err)
		return
	}

	writeJSON(w, http.StatusOK, CallbackResponse{
		Success:    true,
		Connection: conn,
		SyncQueued: h.initialSync(r.Context(), p, conn),
	})
}

func (h *LedgerHandler) initialSync(ctx context.Context, p principal.Principal, conn *ledgersync.Connection) bool {
	if h.enqueuer != nil {
		if err := h.enqueuer.EnqueueSync(conn, ledgersync.SyncInitial); err != nil {
			logger.Log.WithFields(logrus.Fields{
				"connection_id": conn.ID,
				"error":         err,
			}).Warn("Failed to queue initial sync")
			return false
		}
		return true
	}

	if _, err := h.syncer.SyncConnection(ctx, p, conn.ID, ledgersync.SyncInitial); err != nil {
		logger.Log.WithFields(logrus.Fields{
			"connection_id": conn.ID,
			"error":         err,
		}).Warn("Initial sync failed")
	}
	return false
}

// HandleListConnections returns the caller's connections.
func (h *LedgerHandler) HandleListConnections(w http.ResponseWriter, r *http.Request) {
	p, err := principal.FromContext(r.Context())
	if err != nil {
		writeError(w, "Unauthorized", err)
		return
	}

	conns, err := h.connections.ListConnections(r.Context(), p)
	if err != nil {
		writeError(w, "Failed to list connections", err)
		return
	}
	if conns == nil {
		conns = []*ledgersync.Connection{}
	}

	writeJSON(w, http.StatusOK, conns)
}

func (h *LedgerHandler) HandleDisconnect(w http.ResponseWriter, r *http.Request) {
	p, err := principal.FromContext(r.Context())
	if err != nil {
		writeError(w, "Unauthorized", err)
		return
	}

	if err := h.connections.Disconnect(r.Context(), p, r.PathValue("id")); err != nil {
		writeError(w, "Failed to disconnect", err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *LedgerHandler) HandleSetFrequency(w http.ResponseWriter, r *http.Request) {
	p, err := principal.FromContext(r.Context())
	if err != nil {
		writeError(w, "Unauthorized", err)
		return
	}

	var req SetFrequencyRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeMessage(w, http.StatusBadRequest, err.Error())
		return
	}

	conn, err := h.connections.SetSyncFrequency(r.Context(), p, r.PathValue("id"), req.Frequency)
	if err != nil {
		writeError(w, "Failed to update sync frequency", err)
		return
	}

	writeJSON(w, http.StatusOK, conn)
}

// HandleSync runs a manual sync and returns its result. Once a run has
// been logged its result is always the body, even when it failed.
func (h *LedgerHandler) HandleSync(w http.ResponseWriter, r *http.Request) {
	p, err := principal.FromContext(r.Context())
	if err != nil {
		writeError(w, "Unauthorized", err)
		return
	}

	result, err := h.syncer.SyncConnection(r.Context(), p, r.PathValue("id"), ledgersync.SyncManual)
	if err != nil && (result == nil || result.Log == nil) {
		writeError(w, "Failed to sync connection", err)
		return
	}

	status := http.StatusOK
	if err != nil {
		status = statusFor(err)
	}
	writeJSON(w, status, result)
}

func (h *LedgerHandler) HandleListSyncLogs(w http.ResponseWriter, r *http.Request) {
	p, err := principal.FromContext(r.Context())
	if err != nil {
		writeError(w, "Unauthorized", err)
		return
	}

	limit := 0
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if parsed, err := strconv.Atoi(limitStr); err == nil {
			limit = parsed
		}
	}

	logs, err := h.connections.ListSyncLogs(r.Context(), p, r.PathValue("id"), limit)
	if err != nil {
		writeError(w, "Failed to list sync logs", err)
		return
	}
	if logs == nil {
		logs = []*ledgersync.SyncLog{}
	}

	writeJSON(w, http.StatusOK, logs)
}

// HandleReview compares remote accounts against the caller's local ones.
func (h *LedgerHandler) HandleReview(w http.ResponseWriter, r *http.Request) {
	p, err := principal.FromContext(r.Context())
	if err != nil {
		writeError(w, "Unauthorized", err)
		return
	}

	comparisons, err := h.reviews.Review(r.Context(), p, r.PathValue("id"))
	if err != nil {
		writeError(w, "Failed to review accounts", err)
		return
	}
	if comparisons == nil {
		comparisons = []ledgersync.AccountComparison{}
	}

	writeJSON(w, http.StatusOK, comparisons)
}

func (h *LedgerHandler) HandleImport(w http.ResponseWriter, r *http.Request) {
	p, err := principal.FromContext(r.Context())
	if err != nil {
		writeError(w, "Unauthorized", err)
		return
	}

	var req ImportAccountRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeMessage(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := h.reviews.ImportAccount(r.Context(), p, r.PathValue("id"), req.RemoteAccountID)
	if err != nil {
		writeError(w, "Failed to import account", err)
		return
	}

	writeJSON(w, http.StatusCreated, result)
}

func (h *LedgerHandler) HandleImportAll(w http.ResponseWriter, r *http.Request) {
	p, err := principal.FromContext(r.Context())
	if err != nil {
		writeError(w, "Unauthorized", err)
		return
	}

	result, err := h.reviews.ImportAllUnmatched(r.Context(), p, r.PathValue("id"))
	if err != nil {
		writeError(w, "Failed to import accounts", err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// HandleLink points a remote account at a local one. Sync is enabled
// unless the body says otherwise.
func (h *LedgerHandler) HandleLink(w http.ResponseWriter, r *http.Request) {
	p, err := principal.FromContext(r.Context())
	if err != nil {
		writeError(w, "Unauthorized", err)
		return
	}

	var req LinkAccountRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeMessage(w, http.StatusBadRequest, err.Error())
		return
	}
	syncEnabled := true
	if req.SyncEnabled != nil {
		syncEnabled = *req.SyncEnabled
	}

	mapping, err := h.reviews.LinkAccount(r.Context(), p, r.PathValue("id"), r.PathValue("remoteId"), req.LocalAccountID, syncEnabled)
	if err != nil {
		writeError(w, "Failed to link account", err)
		return
	}

	writeJSON(w, http.StatusOK, mapping)
}

func (h *LedgerHandler) HandleUnlink(w http.ResponseWriter, r *http.Request) {
	p, err := principal.FromContext(r.Context())
	if err != nil {
		writeError(w, "Unauthorized", err)
		return
	}

	if err := h.reviews.UnlinkAccount(r.Context(), p, r.PathValue("id"), r.PathValue("remoteId")); err != nil {
		writeError(w, "Failed to unlink account", err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// HandleStatement returns the remote bank statement for one account.
// Query: account (remote ID), from and to as YYYY-MM-DD.
func (h *LedgerHandler) HandleStatement(w http.ResponseWriter, r *http.Request) {
	p, err := principal.FromContext(r.Context())
	if err != nil {
		writeError(w, "Unauthorized", err)
		return
	}

	q := r.URL.Query()
	remoteID := q.Get("account")
	if remoteID == "" {
		writeMessage(w, http.StatusBadRequest, "account is required")
		return
	}
	from, err := time.Parse(statementDateLayout, q.Get("from"))
	if err != nil {
		writeMessage(w, http.StatusBadRequest, "from must be a date in YYYY-MM-DD format")
		return
	}
	to, err := time.Parse(statementDateLayout, q.Get("to"))
	if err != nil {
		writeMessage(w, http.StatusBadRequest, "to must be a date in YYYY-MM-DD format")
		return
	}

	lines, err := h.connections.Statement(r.Context(), p, r.PathValue("id"), remoteID, from, to)
	if err != nil {
		writeError(w, "Failed to fetch statement", err)
		return
	}
	if lines == nil {
		lines = []xero.StatementLine{}
	}

	writeJSON(w, http.StatusOK, lines)
}
