package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/shopspring/decimal"

	"bankfeed/internal/amqp"
	"bankfeed/internal/budget"
	"bankfeed/internal/core"
	"bankfeed/internal/ledger"
	"bankfeed/internal/log"
	"bankfeed/internal/provider"
	"bankfeed/internal/rules"
	"bankfeed/internal/services"
	"bankfeed/internal/tokens"
)

type fakeFetcher struct {
	txs       []core.Transaction
	accounts  []core.Account
	failedTx  []string
	failedAcc []string
	err       error
}

func (f *fakeFetcher) FetchTransactions(context.Context, []string) ([]core.Transaction, []string, error) {
	return f.txs, f.failedTx, f.err
}

func (f *fakeFetcher) FetchBalances(context.Context, []string) ([]core.Account, []string, error) {
	return f.accounts, f.failedAcc, f.err
}

type fakeProviderClient struct {
	badTokens map[string]bool
}

func (f *fakeProviderClient) FetchTransactions(context.Context, string, provider.DateRange, int) (provider.TransactionsPage, error) {
	return provider.TransactionsPage{}, nil
}

func (f *fakeProviderClient) FetchBalances(_ context.Context, token string) ([]provider.RawAccount, error) {
	if f.badTokens[token] {
		return nil, &provider.APIError{Code: "INVALID_ACCESS_TOKEN", Type: "INVALID_INPUT"}
	}
	return []provider.RawAccount{}, nil
}

func (f *fakeProviderClient) ExchangePublicToken(_ context.Context, publicToken string) (string, error) {
	if publicToken == "" {
		return "", errors.New("empty public token")
	}
	return "access-" + publicToken, nil
}

type fakeArchive struct {
	latest *ledger.Snapshot
}

func (f *fakeArchive) SaveSnapshot(_ context.Context, snap *ledger.Snapshot) error {
	f.latest = snap
	return nil
}

func (f *fakeArchive) LatestSnapshot(context.Context) (*ledger.Snapshot, error) {
	return f.latest, nil
}

type fakePublisher struct{}

func (f *fakePublisher) PublishLedgerExport(context.Context, *amqp.LedgerExportMessage) error {
	return nil
}

type serverFixture struct {
	server *Server
	holder *ledger.Holder
	client *fakeProviderClient
}

func newTestServer(t *testing.T, fetcher services.Fetcher, credentials ...string) *serverFixture {
	t.Helper()
	dir := t.TempDir()

	ruleStore, err := rules.NewStore(filepath.Join(dir, "rules.csv"))
	if err != nil {
		t.Fatalf("rules.NewStore() error = %v", err)
	}
	budgetStore, err := budget.Load(filepath.Join(dir, "budget.csv"), core.BaseCategories)
	if err != nil {
		t.Fatalf("budget.Load() error = %v", err)
	}
	tokenStore, err := tokens.NewStore(filepath.Join(dir, "access_tokens.csv"))
	if err != nil {
		t.Fatalf("tokens.NewStore() error = %v", err)
	}
	for _, c := range credentials {
		if err := tokenStore.Add(c, "sandbox"); err != nil {
			t.Fatalf("tokens.Add() error = %v", err)
		}
	}

	client := &fakeProviderClient{}
	holder := ledger.NewHolder()
	svc := services.NewRefreshService(services.RefreshServiceOptions{
		Fetcher:   fetcher,
		Client:    client,
		Rules:     ruleStore,
		Budget:    budgetStore,
		Tokens:    tokenStore,
		Holder:    holder,
		Archive:   &fakeArchive{},
		Publisher: &fakePublisher{},
	})

	return &serverFixture{
		server: NewServer(":0", svc, holder, log.New(log.Config{})),
		holder: holder,
		client: client,
	}
}

func (f *serverFixture) do(t *testing.T, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	}
	rec := httptest.NewRecorder()
	f.server.Server.Handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("unmarshal response %q: %v", rec.Body.String(), err)
	}
	return out
}

func testTx(id, name, category, amount string, date core.Date) core.Transaction {
	return core.Transaction{
		ID:             id,
		AccountID:      "acct-1",
		Name:           name,
		Amount:         decimal.RequireFromString(amount),
		Date:           date,
		DerivedPrimary: category,
	}
}

func TestHealthEndpoints(t *testing.T) {
	f := newTestServer(t, &fakeFetcher{})

	if rec := f.do(t, http.MethodGet, "/healthz", ""); rec.Code != http.StatusOK {
		t.Errorf("GET /healthz = %d, want 200", rec.Code)
	}
	if rec := f.do(t, http.MethodGet, "/readyz", ""); rec.Code != http.StatusOK {
		t.Errorf("GET /readyz = %d, want 200", rec.Code)
	}
}

func TestHandleRefresh(t *testing.T) {
	fetcher := &fakeFetcher{
		txs: []core.Transaction{
			testTx("t1", "Corner Coffee", "FOOD_AND_DRINK", "4.50", core.NewDate(2020, 6, 1)),
		},
		accounts: []core.Account{
			{ID: "acct-1", Name: "Checking", Balance: decimal.NewFromInt(1000)},
		},
	}
	f := newTestServer(t, fetcher, "token-1")

	rec := f.do(t, http.MethodPost, "/refresh", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("POST /refresh = %d, body %s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	if body["transaction_count"].(float64) != 1 {
		t.Errorf("transaction_count = %v, want 1", body["transaction_count"])
	}
	if body["account_count"].(float64) != 1 {
		t.Errorf("account_count = %v, want 1", body["account_count"])
	}
	failed, ok := body["failed_tokens"].([]any)
	if !ok || len(failed) != 0 {
		t.Errorf("failed_tokens = %v, want empty array", body["failed_tokens"])
	}
}

func TestHandleRefresh_AllCredentialsFailed(t *testing.T) {
	fetcher := &fakeFetcher{failedTx: []string{"token-1"}}
	f := newTestServer(t, fetcher, "token-1")

	rec := f.do(t, http.MethodPost, "/refresh", "")
	if rec.Code != http.StatusBadGateway {
		t.Errorf("POST /refresh = %d, want 502", rec.Code)
	}
}

func TestHandleTransactions_PeriodFilter(t *testing.T) {
	fetcher := &fakeFetcher{
		txs: []core.Transaction{
			testTx("t1", "June", "TRAVEL", "10", core.NewDate(2020, 6, 1)),
			testTx("t2", "July", "TRAVEL", "20", core.NewDate(2020, 7, 1)),
			testTx("t3", "Next year", "TRAVEL", "30", core.NewDate(2021, 6, 1)),
		},
	}
	f := newTestServer(t, fetcher, "token-1")
	if rec := f.do(t, http.MethodPost, "/refresh", ""); rec.Code != http.StatusOK {
		t.Fatalf("refresh = %d", rec.Code)
	}

	tests := []struct {
		name      string
		target    string
		wantCode  int
		wantCount int
	}{
		{"no filter", "/transactions", http.StatusOK, 3},
		{"year filter", "/transactions?year=2020", http.StatusOK, 2},
		{"month filter", "/transactions?year=2020&month=6", http.StatusOK, 1},
		{"empty month", "/transactions?year=2020&month=2", http.StatusOK, 0},
		{"month without year", "/transactions?month=6", http.StatusBadRequest, 0},
		{"invalid month", "/transactions?year=2020&month=13", http.StatusBadRequest, 0},
		{"invalid year", "/transactions?year=abc", http.StatusBadRequest, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(t, http.MethodGet, tt.target, "")
			if rec.Code != tt.wantCode {
				t.Fatalf("GET %s = %d, want %d", tt.target, rec.Code, tt.wantCode)
			}
			if tt.wantCode != http.StatusOK {
				return
			}
			body := decodeBody(t, rec)
			if got := int(body["count"].(float64)); got != tt.wantCount {
				t.Errorf("count = %d, want %d", got, tt.wantCount)
			}
		})
	}
}

func TestHandleBalancesAndNetWorth(t *testing.T) {
	fetcher := &fakeFetcher{
		accounts: []core.Account{
			{ID: "acct-1", Name: "Checking", Balance: decimal.NewFromInt(1000)},
			{ID: "acct-2", Name: "Credit", Balance: decimal.RequireFromString("-20.13")},
		},
	}
	f := newTestServer(t, fetcher, "token-1")
	if rec := f.do(t, http.MethodPost, "/refresh", ""); rec.Code != http.StatusOK {
		t.Fatalf("refresh = %d", rec.Code)
	}

	rec := f.do(t, http.MethodGet, "/balances", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /balances = %d", rec.Code)
	}
	body := decodeBody(t, rec)
	if accounts := body["accounts"].([]any); len(accounts) != 2 {
		t.Errorf("accounts = %d, want 2", len(accounts))
	}
	if body["net_worth"].(string) != "979.87" {
		t.Errorf("net_worth = %v, want 979.87", body["net_worth"])
	}

	rec = f.do(t, http.MethodGet, "/networth", "")
	body = decodeBody(t, rec)
	if body["label"].(string) != "$979.87" {
		t.Errorf("label = %v, want $979.87", body["label"])
	}
}

func TestHandleCategories(t *testing.T) {
	f := newTestServer(t, &fakeFetcher{})

	rec := f.do(t, http.MethodGet, "/categories", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /categories = %d", rec.Code)
	}
	body := decodeBody(t, rec)
	cats := body["categories"].([]any)
	if len(cats) != len(core.BaseCategories) {
		t.Errorf("categories = %d, want %d base categories", len(cats), len(core.BaseCategories))
	}
}

func TestHandleBudget(t *testing.T) {
	f := newTestServer(t, &fakeFetcher{})

	rec := f.do(t, http.MethodGet, "/budget", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /budget = %d", rec.Code)
	}

	rec = f.do(t, http.MethodPut, "/budget", `{"category":"TRAVEL","amount":"250"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("PUT /budget = %d, body %s", rec.Code, rec.Body.String())
	}

	rec = f.do(t, http.MethodGet, "/budget", "")
	body := decodeBody(t, rec)
	targets := body["budget"].(map[string]any)
	if targets["TRAVEL"].(string) != "250" {
		t.Errorf("TRAVEL target = %v, want 250", targets["TRAVEL"])
	}

	rec = f.do(t, http.MethodGet, "/budget/TRAVEL", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /budget/TRAVEL = %d", rec.Code)
	}
	body = decodeBody(t, rec)
	if body["amount"].(string) != "250" {
		t.Errorf("amount = %v, want 250", body["amount"])
	}

	rec = f.do(t, http.MethodGet, "/budget/NO_SUCH", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("GET /budget/NO_SUCH = %d, want 404", rec.Code)
	}
}

func TestHandleBudget_Errors(t *testing.T) {
	f := newTestServer(t, &fakeFetcher{})

	tests := []struct {
		name     string
		body     string
		wantCode int
	}{
		{"unknown category", `{"category":"NO_SUCH","amount":"10"}`, http.StatusNotFound},
		{"empty category", `{"category":"","amount":"10"}`, http.StatusBadRequest},
		{"invalid body", `{`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(t, http.MethodPut, "/budget", tt.body)
			if rec.Code != tt.wantCode {
				t.Errorf("PUT /budget = %d, want %d", rec.Code, tt.wantCode)
			}
		})
	}
}

func TestHandleRules_Lifecycle(t *testing.T) {
	fetcher := &fakeFetcher{
		txs: []core.Transaction{
			testTx("t1", "UNITED AIRLINES", "TRAVEL", "320", core.NewDate(2020, 6, 1)),
		},
	}
	f := newTestServer(t, fetcher, "token-1")
	if rec := f.do(t, http.MethodPost, "/refresh", ""); rec.Code != http.StatusOK {
		t.Fatalf("refresh = %d", rec.Code)
	}

	rec := f.do(t, http.MethodPost, "/rules",
		`{"transaction_field":"name","op":"contains","search_str":"UNITED","categorize":"Business Travel"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("POST /rules = %d, body %s", rec.Code, rec.Body.String())
	}

	// The published snapshot was re-categorized in place.
	if got := f.holder.Load().Transactions[0].DisplayCategory; got != "Business Travel" {
		t.Errorf("display category = %q, want Business Travel", got)
	}

	rec = f.do(t, http.MethodGet, "/rules", "")
	body := decodeBody(t, rec)
	if int(body["count"].(float64)) != 1 {
		t.Fatalf("rule count = %v, want 1", body["count"])
	}

	rec = f.do(t, http.MethodDelete, "/rules/0", "")
	if rec.Code != http.StatusNoContent {
		t.Fatalf("DELETE /rules/0 = %d", rec.Code)
	}
	if got := f.holder.Load().Transactions[0].DisplayCategory; got != "TRAVEL" {
		t.Errorf("display category = %q, want TRAVEL after removal", got)
	}
}

func TestHandleRules_Errors(t *testing.T) {
	f := newTestServer(t, &fakeFetcher{})

	tests := []struct {
		name     string
		method   string
		target   string
		body     string
		wantCode int
	}{
		{"invalid body", http.MethodPost, "/rules", `{`, http.StatusBadRequest},
		{"unknown field", http.MethodPost, "/rules",
			`{"transaction_field":"color","op":"contains","search_str":"x","categorize":"Y"}`,
			http.StatusUnprocessableEntity},
		{"empty value", http.MethodPost, "/rules",
			`{"transaction_field":"name","op":"contains","search_str":"","categorize":"Y"}`,
			http.StatusUnprocessableEntity},
		{"remove out of range", http.MethodDelete, "/rules/5", "", http.StatusNotFound},
		{"remove non-numeric index", http.MethodDelete, "/rules/abc", "", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(t, tt.method, tt.target, tt.body)
			if rec.Code != tt.wantCode {
				t.Errorf("%s %s = %d, want %d", tt.method, tt.target, rec.Code, tt.wantCode)
			}
		})
	}
}

func TestHandleCharts(t *testing.T) {
	fetcher := &fakeFetcher{
		txs: []core.Transaction{
			testTx("t1", "Grocer", "FOOD_AND_DRINK", "80", core.NewDate(2020, 6, 1)),
			testTx("t2", "Paycheck", "INCOME", "-2000", core.NewDate(2020, 6, 15)),
		},
		accounts: []core.Account{
			{ID: "acct-1", Name: "Checking", Balance: decimal.NewFromInt(1000)},
		},
	}
	f := newTestServer(t, fetcher, "token-1")
	if rec := f.do(t, http.MethodPost, "/refresh", ""); rec.Code != http.StatusOK {
		t.Fatalf("refresh = %d", rec.Code)
	}

	rec := f.do(t, http.MethodGet, "/charts/balances", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /charts/balances = %d", rec.Code)
	}
	body := decodeBody(t, rec)
	if slices := body["slices"].([]any); len(slices) != 1 {
		t.Errorf("slices = %d, want 1", len(slices))
	}

	rec = f.do(t, http.MethodGet, "/charts/budget?year=2020&month=6", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /charts/budget = %d", rec.Code)
	}
	if _, ok := decodeBody(t, rec)["rows"]; !ok {
		t.Error("charts/budget response missing rows")
	}

	rec = f.do(t, http.MethodGet, "/charts/transactions-out", "")
	body = decodeBody(t, rec)
	outTotals := body["totals"].([]any)
	if len(outTotals) != 1 {
		t.Fatalf("out totals = %d, want 1", len(outTotals))
	}

	rec = f.do(t, http.MethodGet, "/charts/transactions-in", "")
	body = decodeBody(t, rec)
	inTotals := body["totals"].([]any)
	if len(inTotals) != 1 {
		t.Fatalf("in totals = %d, want 1", len(inTotals))
	}

	rec = f.do(t, http.MethodGet, "/charts/transactions-in?month=6", "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("month without year = %d, want 400", rec.Code)
	}
}

func TestHandleTokens(t *testing.T) {
	f := newTestServer(t, &fakeFetcher{}, "token-good", "token-bad")
	f.client.badTokens = map[string]bool{"token-bad": true}

	rec := f.do(t, http.MethodGet, "/tokens/invalid", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /tokens/invalid = %d", rec.Code)
	}
	body := decodeBody(t, rec)
	invalid := body["invalid"].([]any)
	if len(invalid) != 1 || invalid[0].(string) != "token-bad" {
		t.Errorf("invalid = %v, want [token-bad]", invalid)
	}

	rec = f.do(t, http.MethodPost, "/tokens/exchange", `{"public_token":"public-xyz","env":"sandbox"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("POST /tokens/exchange = %d, body %s", rec.Code, rec.Body.String())
	}
	body = decodeBody(t, rec)
	if body["access_token"].(string) != "access-public-xyz" {
		t.Errorf("access_token = %v", body["access_token"])
	}

	rec = f.do(t, http.MethodPost, "/tokens/exchange", `{"public_token":""}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("empty public token = %d, want 400", rec.Code)
	}
}

func TestExtractClientIP(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		headers    map[string]string
		want       string
	}{
		{"direct", "203.0.113.9:4321", nil, "203.0.113.9"},
		{"forwarded via trusted proxy", "127.0.0.1:4321",
			map[string]string{"X-Forwarded-For": "203.0.113.9"}, "203.0.113.9"},
		{"forwarded header from untrusted source ignored", "203.0.113.9:4321",
			map[string]string{"X-Forwarded-For": "198.51.100.1"}, "203.0.113.9"},
		{"real ip via trusted proxy", "10.0.0.5:4321",
			map[string]string{"X-Real-IP": "203.0.113.9"}, "203.0.113.9"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/transactions", nil)
			req.RemoteAddr = tt.remoteAddr
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			if got := extractClientIP(req); got != tt.want {
				t.Errorf("extractClientIP() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRateLimiter(t *testing.T) {
	rl := newRateLimiter()
	defer rl.stop()

	for i := 0; i < 60; i++ {
		if !rl.allow("1.2.3.4") {
			t.Fatalf("request %d denied, want first 60 allowed", i+1)
		}
	}
	if rl.allow("1.2.3.4") {
		t.Error("request 61 allowed, want denied")
	}
	if !rl.allow("5.6.7.8") {
		t.Error("other client denied")
	}
}

func TestDetectSuspiciousRequest(t *testing.T) {
	tests := []struct {
		name   string
		target string
		want   bool
	}{
		{"normal", "/transactions?year=2020", false},
		{"path traversal", "/../etc/passwd", true},
		{"wp probe", "/wp-admin/setup.php", true},
		{"script in query", "/transactions?redirect=javascript:alert(1)", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.target, nil)
			if got := detectSuspiciousRequest(req, nil); got != tt.want {
				t.Errorf("detectSuspiciousRequest(%q) = %v, want %v", tt.target, got, tt.want)
			}
		})
	}
}
