package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestTelemetry_Filter(t *testing.T) {
	tests := map[string]bool{
		"/health":                         false,
		"/api/ledger/connections":         true,
		"/api/ledger/connections/c1/sync": true,
	}
	for path, want := range tests {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		if got := traced(req); got != want {
			t.Errorf("traced(%s) = %v, want %v", path, got, want)
		}
	}
}

func TestTelemetry_PassesThrough(t *testing.T) {
	handler := Telemetry(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/ledger/connections/c1/sync", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusAccepted {
		t.Errorf("status = %d, want %d", rr.Code, http.StatusAccepted)
	}
	if got := spanName("", req); got != "POST homeledger-api" {
		t.Errorf("spanName() = %q", got)
	}
}
