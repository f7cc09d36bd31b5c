package xero

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/shopspring/decimal"
)

func newTestClient(t *testing.T, handler http.Handler, maxPages int) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	return NewClient(Config{
		ClientID:       "client-id",
		ClientSecret:   "client-secret",
		RedirectURL:    "https://app.example.com/api/ledger/callback",
		APIBaseURL:     srv.URL + "/api.xro/2.0",
		ConnectionsURL: srv.URL + "/connections",
		AuthorizeURL:   srv.URL + "/authorize",
		TokenURL:       srv.URL + "/token",
		MaxPages:       maxPages,
	})
}

func TestClient_AuthorizeURL(t *testing.T) {
	c := NewClient(Config{ClientID: "abc", RedirectURL: "https://app.example.com/cb"})

	raw := c.AuthorizeURL("state-123")
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("AuthorizeURL() returned unparsable URL: %v", err)
	}

	if !strings.HasPrefix(raw, defaultAuthorizeURL) {
		t.Errorf("AuthorizeURL() = %s, want prefix %s", raw, defaultAuthorizeURL)
	}

	q := u.Query()
	want := map[string]string{
		"response_type": "code",
		"client_id":     "abc",
		"redirect_uri":  "https://app.example.com/cb",
		"state":         "state-123",
		"scope":         strings.Join(Scopes, " "),
	}
	for k, v := range want {
		if got := q.Get(k); got != v {
			t.Errorf("query %s = %q, want %q", k, got, v)
		}
	}
}

func tokenHandler(t *testing.T, wantGrant string, check func(r *http.Request)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("token endpoint method = %s, want POST", r.Method)
		}
		user, pass, ok := r.BasicAuth()
		if !ok || user != "client-id" || pass != "client-secret" {
			t.Errorf("token endpoint basic auth = %q/%q (ok=%v)", user, pass, ok)
		}
		if err := r.ParseForm(); err != nil {
			t.Fatalf("ParseForm() error = %v", err)
		}
		if got := r.PostForm.Get("grant_type"); got != wantGrant {
			t.Errorf("grant_type = %q, want %q", got, wantGrant)
		}
		if check != nil {
			check(r)
		}

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"access_token":"new-access","refresh_token":"new-refresh","expires_in":1800,"token_type":"Bearer"}`)
	}
}

func TestClient_ExchangeCode(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/token", tokenHandler(t, "authorization_code", func(r *http.Request) {
		if got := r.PostForm.Get("code"); got != "auth-code" {
			t.Errorf("code = %q, want auth-code", got)
		}
		if got := r.PostForm.Get("redirect_uri"); got != "https://app.example.com/api/ledger/callback" {
			t.Errorf("redirect_uri = %q", got)
		}
	}))
	c := newTestClient(t, mux, 0)

	before := time.Now()
	set, err := c.ExchangeCode(context.Background(), "auth-code")
	if err != nil {
		t.Fatalf("ExchangeCode() error = %v", err)
	}

	if set.AccessToken != "new-access" || set.RefreshToken != "new-refresh" {
		t.Errorf("ExchangeCode() = %+v", set)
	}
	if set.Expiry.Before(before.Add(29*time.Minute)) || set.Expiry.After(time.Now().Add(31*time.Minute)) {
		t.Errorf("Expiry = %v, want about 30 minutes from now", set.Expiry)
	}
}

func TestClient_RefreshToken(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/token", tokenHandler(t, "refresh_token", func(r *http.Request) {
		if got := r.PostForm.Get("refresh_token"); got != "old-refresh" {
			t.Errorf("refresh_token = %q, want old-refresh", got)
		}
	}))
	c := newTestClient(t, mux, 0)

	set, err := c.RefreshToken(context.Background(), "old-refresh")
	if err != nil {
		t.Fatalf("RefreshToken() error = %v", err)
	}
	if set.AccessToken != "new-access" || set.RefreshToken != "new-refresh" {
		t.Errorf("RefreshToken() = %+v", set)
	}
}

func TestClient_RefreshToken_Rejected(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error":"invalid_grant"}`)
	})
	c := newTestClient(t, mux, 0)

	_, err := c.RefreshToken(context.Background(), "revoked")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("RefreshToken() error = %v, want *APIError", err)
	}
	if apiErr.StatusCode != http.StatusBadRequest {
		t.Errorf("StatusCode = %d, want 400", apiErr.StatusCode)
	}
	if !strings.Contains(apiErr.Body, "invalid_grant") {
		t.Errorf("Body = %q, want it to mention invalid_grant", apiErr.Body)
	}
}

func TestClient_RefreshToken_Empty(t *testing.T) {
	c := NewClient(Config{})
	if _, err := c.RefreshToken(context.Background(), ""); err == nil {
		t.Error("RefreshToken(\"\") expected error, got nil")
	}
}

func TestClient_Tenants(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/connections", func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Errorf("Authorization = %q", got)
		}
		if got := r.Header.Get(tenantHeader); got != "" {
			t.Errorf("connections request should not carry a tenant header, got %q", got)
		}
		fmt.Fprint(w, `[{"id":"c1","tenantId":"t-1","tenantType":"ORGANISATION","tenantName":"Household"}]`)
	})
	c := newTestClient(t, mux, 0)

	tenants, err := c.Tenants(context.Background(), "tok")
	if err != nil {
		t.Fatalf("Tenants() error = %v", err)
	}
	want := []Tenant{{ID: "c1", TenantID: "t-1", TenantType: "ORGANISATION", TenantName: "Household"}}
	if diff := cmp.Diff(want, tenants); diff != "" {
		t.Errorf("Tenants() mismatch (-want +got):\n%s", diff)
	}
}

func TestClient_GetAccounts(t *testing.T) {
	tests := []struct {
		name      string
		bankOnly  bool
		wantWhere string
	}{
		{name: "bank only", bankOnly: true, wantWhere: `Type=="BANK"`},
		{name: "all accounts", bankOnly: false, wantWhere: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mux := http.NewServeMux()
			mux.HandleFunc("/api.xro/2.0/Accounts", func(w http.ResponseWriter, r *http.Request) {
				if got := r.URL.Query().Get("where"); got != tt.wantWhere {
					t.Errorf("where = %q, want %q", got, tt.wantWhere)
				}
				if got := r.Header.Get(tenantHeader); got != "tenant-1" {
					t.Errorf("tenant header = %q", got)
				}
				fmt.Fprint(w, `{"Accounts":[
					{"AccountID":"a1","Name":"Everyday","Type":"BANK","BankAccountNumber":"1234-5678","BankAccountType":"BANK","CurrencyCode":"NZD","Status":"ACTIVE"},
					{"AccountID":"a2","Name":"Old Savings","Type":"BANK","Status":"ARCHIVED"},
					{"AccountID":"a3","Name":"Card","Type":"BANK","BankAccountType":"CREDITCARD","Status":"ACTIVE"}
				]}`)
			})
			c := newTestClient(t, mux, 0)

			accounts, err := c.GetAccounts(context.Background(), "tok", "tenant-1", tt.bankOnly)
			if err != nil {
				t.Fatalf("GetAccounts() error = %v", err)
			}
			if len(accounts) != 2 {
				t.Fatalf("GetAccounts() returned %d accounts, want 2 active", len(accounts))
			}
			if accounts[0].AccountID != "a1" || accounts[1].AccountID != "a3" {
				t.Errorf("unexpected accounts: %+v", accounts)
			}
			if accounts[1].Kind() != "CREDITCARD" {
				t.Errorf("Kind() = %q, want CREDITCARD", accounts[1].Kind())
			}
		})
	}
}

func TestClient_GetTransactions_Request(t *testing.T) {
	since := time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)

	mux := http.NewServeMux()
	mux.HandleFunc("/api.xro/2.0/BankTransactions", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		wantWhere := `Status=="AUTHORISED" AND BankAccount.AccountID==guid("acc-1")`
		if got := q.Get("where"); got != wantWhere {
			t.Errorf("where = %q, want %q", got, wantWhere)
		}
		if got := q.Get("order"); got != "Date DESC" {
			t.Errorf("order = %q", got)
		}
		if got := q.Get("page"); got != "2" {
			t.Errorf("page = %q, want 2", got)
		}
		if got := r.Header.Get("If-Modified-Since"); got != "2024-03-01T09:30:00" {
			t.Errorf("If-Modified-Since = %q", got)
		}
		fmt.Fprint(w, `{"BankTransactions":[{"BankTransactionID":"bt-1","Type":"SPEND","Status":"AUTHORISED","DateString":"2024-03-02T00:00:00","Total":12.50}]}`)
	})
	c := newTestClient(t, mux, 0)

	txns, err := c.GetTransactions(context.Background(), "tok", "tenant-1", TransactionQuery{
		AccountID:     "acc-1",
		Status:        StatusAuthorised,
		ModifiedSince: &since,
	}, 2)
	if err != nil {
		t.Fatalf("GetTransactions() error = %v", err)
	}
	if len(txns) != 1 || txns[0].BankTransactionID != "bt-1" {
		t.Fatalf("GetTransactions() = %+v", txns)
	}
	if !txns[0].SignedAmount().Equal(decimal.RequireFromString("-12.5")) {
		t.Errorf("SignedAmount() = %s, want -12.5", txns[0].SignedAmount())
	}
}

func TestClient_GetTransactions_NotModified(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api.xro/2.0/BankTransactions", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotModified)
	})
	c := newTestClient(t, mux, 0)

	txns, err := c.GetTransactions(context.Background(), "tok", "tenant-1", TransactionQuery{AccountID: "acc-1"}, 1)
	if err != nil {
		t.Fatalf("GetTransactions() error = %v, want nil on 304", err)
	}
	if len(txns) != 0 {
		t.Errorf("GetTransactions() returned %d transactions on 304, want 0", len(txns))
	}
}

func TestClient_GetTransactions_APIError(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api.xro/2.0/BankTransactions", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprint(w, strings.Repeat("x", 2000))
	})
	c := newTestClient(t, mux, 0)

	_, err := c.GetTransactions(context.Background(), "tok", "tenant-1", TransactionQuery{}, 1)
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("error = %v, want *APIError", err)
	}
	if apiErr.StatusCode != http.StatusInternalServerError {
		t.Errorf("StatusCode = %d", apiErr.StatusCode)
	}
	if len(apiErr.Body) > errorBodyExcerpt+3 {
		t.Errorf("Body length = %d, want excerpt of at most %d", len(apiErr.Body), errorBodyExcerpt+3)
	}
}

func transactionsPage(startID, n int) []byte {
	txns := make([]BankTransaction, n)
	for i := range txns {
		txns[i] = BankTransaction{
			BankTransactionID: "bt-" + strconv.Itoa(startID+i),
			Type:              "RECEIVE",
			DateString:        "2024-01-01T00:00:00",
			Total:             decimal.NewFromInt(1),
		}
	}
	body, _ := json.Marshal(BankTransactionsResponse{BankTransactions: txns})
	return body
}

func TestClient_FetchAllTransactions(t *testing.T) {
	tests := []struct {
		name          string
		maxPages      int
		pageSizes     []int // size of page n; pages past the end are full
		wantCalls     int
		wantCount     int
		wantTruncated bool
	}{
		{name: "short first page", maxPages: 10, pageSizes: []int{30}, wantCalls: 1, wantCount: 30},
		{name: "full then short", maxPages: 10, pageSizes: []int{100, 100, 7}, wantCalls: 3, wantCount: 207},
		{name: "full then empty", maxPages: 10, pageSizes: []int{100, 0}, wantCalls: 2, wantCount: 100},
		{name: "always full stops at cap", maxPages: 3, pageSizes: nil, wantCalls: 3, wantCount: 300, wantTruncated: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var requests int32
			mux := http.NewServeMux()
			mux.HandleFunc("/api.xro/2.0/BankTransactions", func(w http.ResponseWriter, r *http.Request) {
				atomic.AddInt32(&requests, 1)
				page, _ := strconv.Atoi(r.URL.Query().Get("page"))
				size := PageSize
				if page-1 < len(tt.pageSizes) {
					size = tt.pageSizes[page-1]
				}
				w.Write(transactionsPage(page*1000, size))
			})
			c := newTestClient(t, mux, tt.maxPages)

			batch, err := c.FetchAllTransactions(context.Background(), "tok", "tenant-1", TransactionQuery{AccountID: "acc"})
			if err != nil {
				t.Fatalf("FetchAllTransactions() error = %v", err)
			}
			if batch.Calls != tt.wantCalls || int(requests) != tt.wantCalls {
				t.Errorf("Calls = %d (server saw %d), want %d", batch.Calls, requests, tt.wantCalls)
			}
			if len(batch.Transactions) != tt.wantCount {
				t.Errorf("len(Transactions) = %d, want %d", len(batch.Transactions), tt.wantCount)
			}
			if batch.Truncated != tt.wantTruncated {
				t.Errorf("Truncated = %v, want %v", batch.Truncated, tt.wantTruncated)
			}
		})
	}
}

func TestClient_FetchAllTransactions_ErrorMidway(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api.xro/2.0/BankTransactions", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("page") == "2" {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write(transactionsPage(0, PageSize))
	})
	c := newTestClient(t, mux, 5)

	batch, err := c.FetchAllTransactions(context.Background(), "tok", "tenant-1", TransactionQuery{})
	if err == nil {
		t.Fatal("FetchAllTransactions() expected error, got nil")
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusTooManyRequests {
		t.Errorf("error = %v, want 429 *APIError", err)
	}
	if batch.Calls != 2 {
		t.Errorf("Calls = %d, want 2", batch.Calls)
	}
}

func TestTransactionQuery_Where(t *testing.T) {
	tests := []struct {
		name  string
		query TransactionQuery
		want  string
	}{
		{name: "empty", query: TransactionQuery{}, want: ""},
		{name: "status only", query: TransactionQuery{Status: "AUTHORISED"}, want: `Status=="AUTHORISED"`},
		{name: "account only", query: TransactionQuery{AccountID: "x"}, want: `BankAccount.AccountID==guid("x")`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.query.Where(); got != tt.want {
				t.Errorf("Where() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestBankTransaction_GetDate(t *testing.T) {
	tests := []struct {
		name    string
		txn     BankTransaction
		want    time.Time
		wantErr bool
	}{
		{
			name: "date string",
			txn:  BankTransaction{DateString: "2024-02-29T00:00:00"},
			want: time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC),
		},
		{
			name: "ms date fallback",
			txn:  BankTransaction{Date: "/Date(1709164800000+0000)/"},
			want: time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC),
		},
		{
			name: "bad date string falls back",
			txn:  BankTransaction{DateString: "yesterday", Date: "/Date(1709164800000)/"},
			want: time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC),
		},
		{name: "missing", txn: BankTransaction{}, wantErr: true},
		{name: "garbage", txn: BankTransaction{Date: "soon"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.txn.GetDate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("GetDate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && !got.Equal(tt.want) {
				t.Errorf("GetDate() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestBankTransaction_Description(t *testing.T) {
	tests := []struct {
		name string
		txn  BankTransaction
		want string
	}{
		{name: "contact", txn: BankTransaction{Contact: &Contact{Name: " Grocer "}, Reference: "ref"}, want: "Grocer"},
		{name: "line item", txn: BankTransaction{LineItems: []LineItem{{Description: ""}, {Description: "Rent"}}}, want: "Rent"},
		{name: "reference", txn: BankTransaction{Reference: "INV-1"}, want: "INV-1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.txn.Description(); got != tt.want {
				t.Errorf("Description() = %q, want %q", got, tt.want)
			}
		})
	}
}
