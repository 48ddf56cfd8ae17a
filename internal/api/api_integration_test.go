// internal/api/api_integration_test.go
package api_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/neilotoole/slogt"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"puzzlebounty/internal/api"
	"puzzlebounty/internal/api/handler"
	"puzzlebounty/internal/auth"
	"puzzlebounty/internal/clock"
	"puzzlebounty/internal/domain"
	"puzzlebounty/internal/metrics"
	"puzzlebounty/internal/rail"
	"puzzlebounty/internal/rail/card"
	"puzzlebounty/internal/service"
)

const testSecret = "test-secret"

// fakeProcessor is an in-memory card processor. Webhooks are signed with
// the literal signature "valid".
type fakeProcessor struct {
	mu        sync.Mutex
	intents   map[string]*card.Intent
	transfers map[string]*card.Transfer
	seq       int
}

func newFakeProcessor() *fakeProcessor {
	return &fakeProcessor{intents: map[string]*card.Intent{}, transfers: map[string]*card.Transfer{}}
}

func (p *fakeProcessor) CreatePaymentIntent(_ context.Context, amountCents int64, metadata map[string]string, _ string) (*card.Intent, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.seq++
	id := fmt.Sprintf("pi_%d", p.seq)
	pi := &card.Intent{ID: id, Status: "requires_payment_method", Amount: amountCents, ClientSecret: id + "_secret", Metadata: metadata}
	p.intents[id] = pi
	cp := *pi
	return &cp, nil
}

func (p *fakeProcessor) GetPaymentIntent(_ context.Context, id string) (*card.Intent, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	pi, ok := p.intents[id]
	if !ok {
		return nil, errors.New("no such payment intent")
	}
	cp := *pi
	return &cp, nil
}

func (p *fakeProcessor) CreateTransfer(_ context.Context, amountCents int64, destination string, metadata map[string]string, _ string) (*card.Transfer, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.seq++
	tr := &card.Transfer{ID: fmt.Sprintf("tr_%d", p.seq), Amount: amountCents, Destination: destination, Metadata: metadata}
	p.transfers[tr.ID] = tr
	cp := *tr
	return &cp, nil
}

func (p *fakeProcessor) GetTransfer(_ context.Context, id string) (*card.Transfer, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	tr, ok := p.transfers[id]
	if !ok {
		return nil, errors.New("no such transfer")
	}
	cp := *tr
	return &cp, nil
}

func (p *fakeProcessor) AvailableBalance(context.Context) (int64, error) { return 1_000_000, nil }

func (p *fakeProcessor) ParseWebhook(payload []byte, signature string) (rail.WebhookEvent, error) {
	if signature != "valid" {
		return rail.WebhookEvent{}, errors.New("signature mismatch")
	}
	var ev rail.WebhookEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return rail.WebhookEvent{}, err
	}
	return ev, nil
}

func (p *fakeProcessor) succeed(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	pi := p.intents[id]
	pi.Status = card.IntentSucceeded
	pi.AmountReceived = pi.Amount
}

type testEnv struct {
	server    *httptest.Server
	processor *fakeProcessor
	accounts  service.AccountService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := slogt.New(t)
	processor := newFakeProcessor()
	settings := service.DefaultSettings()
	settings.AnswerHashCost = bcrypt.MinCost

	registry := prometheus.NewRegistry()
	m := metrics.New(registry)
	deps := service.Deps{
		Store:   service.NewMemoryStore(),
		Rails:   rail.NewRegistry(card.New(processor, logger)),
		Clock:   clock.RealClock{},
		Metrics: m,
		Logger:  logger,
	}
	accounts := service.NewAccountService(deps)
	deposits := service.NewDepositService(deps, settings)
	router := api.NewRouter(api.Handlers{
		Accounts:    handler.NewAccountHandler(accounts, logger),
		Deposits:    handler.NewDepositHandler(deposits, logger),
		Withdrawals: handler.NewWithdrawalHandler(service.NewWithdrawalService(deps, settings), logger),
		Puzzles:     handler.NewPuzzleHandler(service.NewPuzzleService(deps, settings), logger),
	}, auth.NewVerifier(testSecret), m, registry, logger)

	server := httptest.NewServer(router)
	t.Cleanup(server.Close)
	return &testEnv{server: server, processor: processor, accounts: accounts}
}

func (e *testEnv) newUser(t *testing.T, username string) (int64, string) {
	t.Helper()
	acc, err := e.accounts.CreateAccount(context.Background(), username)
	require.NoError(t, err)
	token, err := auth.IssueToken(testSecret, acc.ID, time.Now(), time.Hour)
	require.NoError(t, err)
	return acc.ID, token
}

// makeRequest helper function: sends an HTTP request to the test server and
// decodes the JSON response body into a map.
func (e *testEnv) makeRequest(t *testing.T, method, path, token, body string) (int, map[string]interface{}) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, e.server.URL+path, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	out := map[string]interface{}{}
	if len(raw) > 0 && strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(raw, &out), string(raw))
	}
	return resp.StatusCode, out
}

func (e *testEnv) deposit(t *testing.T, token, amount string) {
	t.Helper()
	status, body := e.makeRequest(t, http.MethodPost, "/deposits", token, fmt.Sprintf(`{"amount": "%s", "rail": "card"}`, amount))
	require.Equal(t, http.StatusCreated, status, body)
	entry := body["deposit"].(map[string]interface{})
	instructions := body["instructions"].(map[string]interface{})
	e.processor.succeed(instructions["destination"].(string))

	status, body = e.makeRequest(t, http.MethodPost, fmt.Sprintf("/deposits/%s/confirm", entry["id"]), token, "")
	require.Equal(t, http.StatusOK, status, body)
}

func requireAmount(t *testing.T, want string, got interface{}) {
	t.Helper()
	s, ok := got.(string)
	require.Truef(t, ok, "amount %v is not a string", got)
	d, err := decimal.NewFromString(s)
	require.NoError(t, err)
	assert.Truef(t, decimal.RequireFromString(want).Equal(d), "want %s, got %s", want, s)
}

// TestPuzzleBountyFlow walks a deposit, a paid solve and a withdrawal
// through the HTTP surface.
func TestPuzzleBountyFlow(t *testing.T) {
	env := newTestEnv(t)
	_, alice := env.newUser(t, "alice")
	_, bob := env.newUser(t, "bob")

	var puzzleID string

	t.Run("DepositAndReplay", func(t *testing.T) {
		status, body := env.makeRequest(t, http.MethodPost, "/deposits", alice, `{"amount": "100", "rail": "card"}`)
		require.Equal(t, http.StatusCreated, status)
		entry := body["deposit"].(map[string]interface{})
		instructions := body["instructions"].(map[string]interface{})
		assert.Equal(t, "pending", entry["status"])
		assert.Equal(t, float64(10000), instructions["native_amount"])
		assert.NotEmpty(t, instructions["client_secret"])

		path := fmt.Sprintf("/deposits/%s/confirm", entry["id"])
		status, body = env.makeRequest(t, http.MethodPost, path, alice, "")
		assert.Equal(t, http.StatusConflict, status, "payment not captured yet")
		assert.Equal(t, "pending_settlement", body["code"])

		env.processor.succeed(instructions["destination"].(string))
		status, body = env.makeRequest(t, http.MethodPost, path, alice, "")
		require.Equal(t, http.StatusOK, status)
		requireAmount(t, "100", body["new_balance"])
		assert.Equal(t, false, body["already_processed"])

		status, body = env.makeRequest(t, http.MethodPost, path, alice, "")
		require.Equal(t, http.StatusOK, status)
		assert.Equal(t, true, body["already_processed"])

		status, body = env.makeRequest(t, http.MethodPost, path, bob, "")
		assert.Equal(t, http.StatusForbidden, status)
		assert.Equal(t, "forbidden", body["code"])
	})

	t.Run("CreatePuzzle", func(t *testing.T) {
		status, body := env.makeRequest(t, http.MethodPost, "/puzzles", alice, `{"title": "Capital of France", "answer": "Paris", "value": "20"}`)
		require.Equal(t, http.StatusCreated, status, body)
		requireAmount(t, "1", body["fee"])
		requireAmount(t, "79", body["new_balance"])
		puzzle := body["puzzle"].(map[string]interface{})
		puzzleID = puzzle["id"].(string)
		assert.NotContains(t, puzzle, "answer_hash")
	})

	t.Run("Solve", func(t *testing.T) {
		require.NotEmpty(t, puzzleID)
		env.deposit(t, bob, "5")
		path := fmt.Sprintf("/puzzles/%s/attempts", puzzleID)

		status, body := env.makeRequest(t, http.MethodPost, path, bob, `{"answer": "Lyon"}`)
		require.Equal(t, http.StatusOK, status)
		assert.Equal(t, false, body["correct"])

		status, body = env.makeRequest(t, http.MethodPost, path, bob, `{"answer": "Paris"}`)
		require.Equal(t, http.StatusOK, status)
		assert.Equal(t, true, body["correct"])
		requireAmount(t, "20", body["reward"])

		status, body = env.makeRequest(t, http.MethodGet, "/balance", bob, "")
		require.Equal(t, http.StatusOK, status)
		requireAmount(t, "25", body["usd"])
		requireAmount(t, "25", body["total_earnings"])

		status, body = env.makeRequest(t, http.MethodGet, path, alice, "")
		require.Equal(t, http.StatusOK, status)
		assert.Len(t, body["data"], 2)

		status, _ = env.makeRequest(t, http.MethodGet, path, bob, "")
		assert.Equal(t, http.StatusForbidden, status)

		status, body = env.makeRequest(t, http.MethodDelete, "/puzzles/"+puzzleID, alice, "")
		assert.Equal(t, http.StatusConflict, status)
		assert.Equal(t, "conflict", body["code"])
	})

	t.Run("Withdraw", func(t *testing.T) {
		status, body := env.makeRequest(t, http.MethodPost, "/withdrawals", bob, `{"amount": "10", "rail": "card", "destination": "acct_bob12345"}`)
		require.Equal(t, http.StatusOK, status, body)
		requireAmount(t, "12.5", body["new_balance"])
		assert.True(t, strings.HasPrefix(body["external_reference"].(string), "tr_"))

		status, body = env.makeRequest(t, http.MethodPost, "/withdrawals", bob, `{"amount": "100", "rail": "card", "destination": "acct_bob12345"}`)
		assert.Equal(t, http.StatusPaymentRequired, status)
		assert.Equal(t, "insufficient_funds", body["code"])

		status, body = env.makeRequest(t, http.MethodPost, "/withdrawals", bob, `{"amount": "10", "rail": "card", "destination": "not-an-account"}`)
		assert.Equal(t, http.StatusBadRequest, status)
		assert.Equal(t, "invalid_destination", body["code"])
	})

	t.Run("Ledger", func(t *testing.T) {
		status, body := env.makeRequest(t, http.MethodGet, "/ledger?limit=2", bob, "")
		require.Equal(t, http.StatusOK, status)
		assert.Len(t, body["data"], 2)
		assert.Equal(t, float64(3), body["total_count"])
		assert.Equal(t, float64(2), body["limit"])
		newest := body["data"].([]interface{})[0].(map[string]interface{})
		assert.Equal(t, string(domain.KindWithdrawal), newest["kind"])
	})
}

func TestPaymentMethods(t *testing.T) {
	env := newTestEnv(t)
	_, token := env.newUser(t, "carol")

	status, body := env.makeRequest(t, http.MethodPost, "/payment-methods", token, `{"type": "card", "address": "acct_carol1234"}`)
	require.Equal(t, http.StatusCreated, status, body)
	assert.Equal(t, true, body["is_default"])

	status, body = env.makeRequest(t, http.MethodPost, "/payment-methods", token, `{"type": "card", "address": "acct_carol1234"}`)
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "duplicate_resource", body["code"])

	status, body = env.makeRequest(t, http.MethodPost, "/payment-methods", token, `{"type": "utxo-chain", "address": "bc1qxyz"}`)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "validation_error", body["code"], "rail not enabled")

	status, body = env.makeRequest(t, http.MethodGet, "/payment-methods", token, "")
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, body["data"], 1)

	// The default method is used when no destination is given.
	env.deposit(t, token, "50")
	status, body = env.makeRequest(t, http.MethodPost, "/withdrawals", token, `{"amount": "20", "rail": "card"}`)
	require.Equal(t, http.StatusOK, status, body)
	requireAmount(t, "27.5", body["new_balance"])
}

func TestRequestValidation(t *testing.T) {
	env := newTestEnv(t)
	_, token := env.newUser(t, "dave")

	tests := []struct {
		name   string
		method string
		path   string
		token  string
		body   string
		status int
		code   string
	}{
		{"NoToken", http.MethodGet, "/balance", "", "", http.StatusUnauthorized, "unauthorized"},
		{"BadToken", http.MethodGet, "/balance", "garbage", "", http.StatusUnauthorized, "unauthorized"},
		{"MalformedJSON", http.MethodPost, "/deposits", token, `{"amount":`, http.StatusBadRequest, "validation_error"},
		{"BelowMinimum", http.MethodPost, "/deposits", token, `{"amount": "1", "rail": "card"}`, http.StatusBadRequest, "validation_error"},
		{"UnknownDeposit", http.MethodPost, "/deposits/not-a-uuid/confirm", token, "", http.StatusNotFound, "not_found"},
		{"UnknownPuzzle", http.MethodGet, "/puzzles/01890a5d-ac96-774b-bcce-b302099a8057", token, "", http.StatusNotFound, "not_found"},
		{"BadWebhookSignature", http.MethodPost, "/webhooks/card", "", `{"id":"evt_1"}`, http.StatusBadRequest, "validation_error"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			status, body := env.makeRequest(t, tc.method, tc.path, tc.token, tc.body)
			assert.Equal(t, tc.status, status)
			assert.Equal(t, tc.code, body["code"])
		})
	}
}

func TestCardWebhook(t *testing.T) {
	env := newTestEnv(t)
	userID, token := env.newUser(t, "erin")

	status, body := env.makeRequest(t, http.MethodPost, "/deposits", token, `{"amount": "30", "rail": "card"}`)
	require.Equal(t, http.StatusCreated, status)
	entry := body["deposit"].(map[string]interface{})
	intent := body["instructions"].(map[string]interface{})["destination"].(string)
	env.processor.succeed(intent)

	payload := fmt.Sprintf(`{"ID": "evt_1", "Type": %q, "Reference": %q, "CorrelationID": %q}`,
		rail.EventPaymentSucceeded, intent, entry["id"])
	req, err := http.NewRequest(http.MethodPost, env.server.URL+"/webhooks/card", strings.NewReader(payload))
	require.NoError(t, err)
	req.Header.Set(handler.SignatureHeader, "valid")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	balances, err := env.accounts.GetBalances(context.Background(), userID)
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(30).Equal(balances.USD))
}

func TestHealthAndMetrics(t *testing.T) {
	env := newTestEnv(t)

	resp, err := http.Get(env.server.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(env.server.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(raw), `puzzlebounty_http_requests_total{method="GET",route="/health",status="2xx"}`)
}
