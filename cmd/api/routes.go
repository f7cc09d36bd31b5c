package main

import (
	"net/http"

	httphandlers "homeledger/internal/interfaces/http"
	"homeledger/internal/shared/config"
	"homeledger/internal/shared/logger"
	"homeledger/internal/shared/middleware"
)

// SetupRoutes configures all HTTP routes and returns the final handler with middleware.
func SetupRoutes(deps *Dependencies, cfg *config.Config) http.Handler {
	mux := http.NewServeMux()

	// Health check
	mux.HandleFunc("GET /health", httphandlers.HandleHealth)

	// Authorization redirect target; the principal travels in the state
	mux.HandleFunc("GET /api/ledger/callback", deps.LedgerHandler.HandleCallback)

	// Protected routes
	authMiddleware := middleware.Auth(deps.JWT)
	protect := func(pattern string, h http.HandlerFunc) {
		mux.Handle(pattern, authMiddleware(h))
	}

	protect("GET /api/accounts", deps.AccountHandler.HandleListAccounts)
	protect("POST /api/accounts", deps.AccountHandler.HandleCreateAccount)
	protect("GET /api/accounts/{id}", deps.AccountHandler.HandleGetAccount)
	protect("GET /api/accounts/{id}/transactions", deps.TransactionHandler.HandleListTransactions)

	ledger := deps.LedgerHandler
	protect("GET /api/ledger/connect", ledger.HandleConnect)
	protect("GET /api/ledger/connections", ledger.HandleListConnections)
	protect("DELETE /api/ledger/connections/{id}", ledger.HandleDisconnect)
	protect("PUT /api/ledger/connections/{id}/frequency", ledger.HandleSetFrequency)
	protect("POST /api/ledger/connections/{id}/sync", ledger.HandleSync)
	protect("GET /api/ledger/connections/{id}/logs", ledger.HandleListSyncLogs)
	protect("GET /api/ledger/connections/{id}/review", ledger.HandleReview)
	protect("POST /api/ledger/connections/{id}/import", ledger.HandleImport)
	protect("POST /api/ledger/connections/{id}/import-all", ledger.HandleImportAll)
	protect("PUT /api/ledger/connections/{id}/mappings/{remoteId}", ledger.HandleLink)
	protect("DELETE /api/ledger/connections/{id}/mappings/{remoteId}", ledger.HandleUnlink)
	protect("GET /api/ledger/connections/{id}/statement", ledger.HandleStatement)

	// Apply global middleware
	handler := middleware.Logging(middleware.CORS(cfg.Server.AllowedHosts)(mux))
	if cfg.Telemetry.Enabled {
		handler = middleware.Telemetry(handler)
	}

	// Apply security middleware when TLS is enabled
	if cfg.TLS.Enabled {
		handler = middleware.HSTS(middleware.SecureCookies(handler))
		logger.Log.Info("TLS security middleware enabled (HSTS + SecureCookies)")
	}

	return handler
}
