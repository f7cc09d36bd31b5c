package xero

import (
	"context"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

const statementReport = `{
  "Reports": [{
    "ReportID": "BankStatement",
    "ReportName": "Bank Statement",
    "Rows": [
      {"RowType": "Header", "Cells": [{"Value":"Date"},{"Value":"Description"}]},
      {"RowType": "Section", "Title": "Statement", "Rows": [
        {"RowType": "Row", "Cells": [
          {"Value":"2024-03-01T00:00:00"},{"Value":"Coffee"},{"Value":"REF1"},{"Value":"Yes"},
          {"Value":"Import"},{"Value":"-4.50"},{"Value":"1,995.50"}]},
        {"RowType": "Row", "Cells": [{"Value":"2024-03-02T00:00:00"},{"Value":"Too short"}]},
        {"RowType": "Row", "Cells": [
          {"Value":"not a date"},{"Value":"Bad date"},{"Value":""},{"Value":"No"},
          {"Value":"Import"},{"Value":"10"},{"Value":"0"}]},
        {"RowType": "Row", "Cells": [
          {"Value":"3 Mar 2024"},{"Value":"Salary"},{"Value":"PAY"},{"Value":"No"},
          {"Value":"Manual"},{"Value":"2,500.00"},{"Value":""}]},
        {"RowType": "SummaryRow", "Cells": [
          {"Value":"Total"},{"Value":""},{"Value":""},{"Value":""},{"Value":""},{"Value":"2495.50"},{"Value":""}]}
      ]},
      {"RowType": "Section", "Title": "Empty"}
    ]
  }]
}`

func TestParseStatementReport(t *testing.T) {
	lines := ParseStatementReport([]byte(statementReport))

	if len(lines) != 2 {
		t.Fatalf("ParseStatementReport() returned %d lines, want 2: %+v", len(lines), lines)
	}

	first := lines[0]
	if !first.Date.Equal(time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("first.Date = %v", first.Date)
	}
	if first.Description != "Coffee" || first.Reference != "REF1" || first.Source != "Import" {
		t.Errorf("first text fields = %+v", first)
	}
	if !first.Reconciled {
		t.Error("first.Reconciled = false, want true")
	}
	if !first.Amount.Equal(decimal.RequireFromString("-4.50")) {
		t.Errorf("first.Amount = %s", first.Amount)
	}
	if !first.Balance.Equal(decimal.RequireFromString("1995.50")) {
		t.Errorf("first.Balance = %s", first.Balance)
	}

	second := lines[1]
	if !second.Date.Equal(time.Date(2024, 3, 3, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("second.Date = %v", second.Date)
	}
	if second.Reconciled {
		t.Error("second.Reconciled = true, want false")
	}
	if !second.Amount.Equal(decimal.NewFromInt(2500)) {
		t.Errorf("second.Amount = %s", second.Amount)
	}
	if !second.Balance.IsZero() {
		t.Errorf("second.Balance = %s, want 0 for empty cell", second.Balance)
	}
}

func TestParseStatementReport_Degrades(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "not json", body: `<html>oops</html>`},
		{name: "empty object", body: `{}`},
		{name: "no reports", body: `{"Reports":[]}`},
		{name: "rows wrong type", body: `{"Reports":[{"Rows":"nope"}]}`},
		{name: "report without sections", body: `{"Reports":[{"Rows":[{"RowType":"Header"}]}]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lines := ParseStatementReport([]byte(tt.body))
			if lines == nil {
				t.Fatal("ParseStatementReport() returned nil, want empty slice")
			}
			if len(lines) != 0 {
				t.Errorf("ParseStatementReport() returned %d lines, want 0", len(lines))
			}
		})
	}
}

func TestClient_GetBankStatement(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api.xro/2.0/Reports/BankStatement", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("bankAccountID") != "acc-1" || q.Get("fromDate") != "2024-03-01" || q.Get("toDate") != "2024-03-31" {
			t.Errorf("unexpected query: %s", r.URL.RawQuery)
		}
		fmt.Fprint(w, statementReport)
	})
	c := newTestClient(t, mux, 0)

	from := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC)
	lines, err := c.GetBankStatement(context.Background(), "tok", "tenant-1", "acc-1", from, to)
	if err != nil {
		t.Fatalf("GetBankStatement() error = %v", err)
	}
	if len(lines) != 2 {
		t.Errorf("GetBankStatement() returned %d lines, want 2", len(lines))
	}
}

func TestClient_GetBankStatement_Malformed(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api.xro/2.0/Reports/BankStatement", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"Reports": [`)
	})
	c := newTestClient(t, mux, 0)

	lines, err := c.GetBankStatement(context.Background(), "tok", "tenant-1", "acc-1", time.Now(), time.Now())
	if err != nil {
		t.Fatalf("GetBankStatement() error = %v, want nil for malformed report", err)
	}
	if len(lines) != 0 {
		t.Errorf("GetBankStatement() returned %d lines, want 0", len(lines))
	}
}
