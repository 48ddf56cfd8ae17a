// internal/service/helpers_test.go
package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"puzzlebounty/internal/clock"
	"puzzlebounty/internal/domain"
	"puzzlebounty/internal/rail"

	"github.com/neilotoole/slogt"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

var testStart = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// fakeRail is a scriptable rail.Adapter. Destinations starting with
// "dest-" are valid.
type fakeRail struct {
	mu          sync.Mutex
	kind        domain.RailType
	platform    string
	statuses    map[string]rail.TransferStatus
	statusErr   error
	statusCalls int
	sendErr     error
	sendRef     string
	fee         int64
	inbound     []rail.Inbound
	sent        []rail.TransferRequest
}

func newFakeRail(kind domain.RailType) *fakeRail {
	return &fakeRail{
		kind:     kind,
		platform: "platform-" + string(kind),
		statuses: map[string]rail.TransferStatus{},
	}
}

func (f *fakeRail) Type() domain.RailType { return f.kind }

func (f *fakeRail) ValidateDestination(destination string) bool {
	return strings.HasPrefix(destination, "dest-")
}

func (f *fakeRail) GetBalance(context.Context, string) (rail.Balance, error) {
	return rail.Balance{}, nil
}

func (f *fakeRail) PrepareDeposit(_ context.Context, in rail.DepositIntent) (rail.DepositInstructions, error) {
	out := rail.DepositInstructions{Destination: f.platform, NativeAmount: in.NativeAmount}
	switch f.kind {
	case domain.RailCard:
		out.Destination = "pi_" + in.DepositID
		out.Details.Card = &domain.CardDetails{PaymentIntentID: out.Destination, AmountCents: in.NativeAmount}
	case domain.RailUTXOChain:
		out.Details.UTXOChain = &domain.UTXODetails{Address: f.platform, ExpectedSats: in.NativeAmount, Network: "regtest"}
	case domain.RailAccountChain:
		out.Details.AccountChain = &domain.AccountChainDetails{Address: f.platform, ExpectedLamports: in.NativeAmount}
	}
	return out, nil
}

func (f *fakeRail) CreateOutboundTransfer(_ context.Context, req rail.TransferRequest) (rail.TransferResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, req)
	if f.sendErr != nil {
		return rail.TransferResult{Reference: f.sendRef}, f.sendErr
	}
	ref := fmt.Sprintf("out-%d", len(f.sent))
	return rail.TransferResult{Reference: ref, ChainTxID: ref, FeeNative: f.fee}, nil
}

func (f *fakeRail) GetTransferStatus(_ context.Context, ref string) (rail.TransferStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statusCalls++
	if f.statusErr != nil {
		return rail.TransferStatus{}, f.statusErr
	}
	st, ok := f.statuses[ref]
	if !ok {
		return rail.TransferStatus{Reference: ref, State: rail.StateUnknown}, nil
	}
	return st, nil
}

func (f *fakeRail) EstimateFee(context.Context) int64 { return f.fee }

func (f *fakeRail) ListInboundTransfers(_ context.Context, since time.Time) ([]rail.Inbound, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []rail.Inbound
	for _, in := range f.inbound {
		if !in.SeenAt.Before(since) {
			out = append(out, in)
		}
	}
	return out, nil
}

// setStatus scripts what the rail reports for ref.
func (f *fakeRail) setStatus(ref string, state rail.State, dest string, amount int64, correlation string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	st := rail.TransferStatus{Reference: ref, State: state, CorrelationID: correlation}
	if dest != "" {
		st.Outputs = []rail.Output{{Destination: dest, Amount: amount}}
	}
	f.statuses[ref] = st
}

func (f *fakeRail) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.statusCalls
}

func (f *fakeRail) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

type fakePrices map[domain.Asset]decimal.Decimal

func (p fakePrices) Rate(_ context.Context, asset domain.Asset) (decimal.Decimal, error) {
	rate, ok := p[asset]
	if !ok {
		return decimal.Zero, fmt.Errorf("no rate for %s", asset)
	}
	return rate, nil
}

type harness struct {
	store       *Store
	clock       *clock.Manual
	settings    Settings
	card        *fakeRail
	btc         *fakeRail
	sol         *fakeRail
	deposits    DepositService
	withdrawals WithdrawalService
	puzzles     PuzzleService
	accounts    AccountService
	sweeper     *Sweeper
}

func testSettings() Settings {
	s := DefaultSettings()
	s.AnswerHashCost = bcrypt.MinCost
	s.RailTimeout = 2 * time.Second
	return s
}

// newHarness wires the services to a memory store and fake rails. A
// non-nil cardRail replaces the fake card rail.
func newHarness(t *testing.T, cardRail rail.Adapter) *harness {
	t.Helper()
	h := &harness{
		store:    NewMemoryStore(),
		clock:    clock.NewManual(testStart),
		settings: testSettings(),
		card:     newFakeRail(domain.RailCard),
		btc:      newFakeRail(domain.RailUTXOChain),
		sol:      newFakeRail(domain.RailAccountChain),
	}
	if cardRail == nil {
		cardRail = h.card
	}
	deps := Deps{
		Store:  h.store,
		Rails:  rail.NewRegistry(cardRail, h.btc, h.sol),
		Prices: fakePrices{domain.AssetBTC: decimal.NewFromInt(50000), domain.AssetSOL: decimal.NewFromInt(100)},
		Clock:  h.clock,
		Logger: slogt.New(t),
	}
	h.deposits = NewDepositService(deps, h.settings)
	h.withdrawals = NewWithdrawalService(deps, h.settings)
	h.puzzles = NewPuzzleService(deps, h.settings)
	h.accounts = NewAccountService(deps)
	h.sweeper = NewSweeper(deps, h.settings, h.deposits)
	return h
}

func usdAmount(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func (h *harness) newAccount(t *testing.T, username string) int64 {
	t.Helper()
	acc, err := h.accounts.CreateAccount(context.Background(), username)
	require.NoError(t, err)
	return acc.ID
}

// fund completes a card deposit of amount for userID.
func (h *harness) fund(t *testing.T, userID int64, amount string) {
	t.Helper()
	ctx := context.Background()
	res, err := h.deposits.CreateDeposit(ctx, userID, usdAmount(amount), domain.RailCard)
	require.NoError(t, err)
	intent := res.Entry.RailDetails.Card.PaymentIntentID
	h.card.setStatus(intent, rail.StateConfirmed, intent, res.Entry.RailDetails.Card.AmountCents, res.Entry.ID)
	_, err = h.deposits.ConfirmDeposit(ctx, ConfirmRequest{DepositID: res.Entry.ID, RequestedBy: userID})
	require.NoError(t, err)
}

func (h *harness) balance(t *testing.T, userID int64) decimal.Decimal {
	t.Helper()
	acc, err := h.store.Accounts.GetAccountByID(context.Background(), h.store.Executor, userID)
	require.NoError(t, err)
	return acc.BalanceUSD
}

func (h *harness) entry(t *testing.T, id string) *domain.LedgerEntry {
	t.Helper()
	e, err := h.store.Ledger.GetEntryByID(context.Background(), h.store.Executor, id)
	require.NoError(t, err)
	return e
}

// requireBalance compares USD amounts ignoring decimal exponent differences.
func requireBalance(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	require.Truef(t, usdAmount(want).Equal(got), "balance: want %s, got %s", want, got.StringFixed(2))
}

// requireConsistent asserts that every account balance matches its ledger.
func (h *harness) requireConsistent(t *testing.T) {
	t.Helper()
	reports, err := h.accounts.AuditAll(context.Background())
	require.NoError(t, err)
	for _, r := range reports {
		require.Truef(t, r.Consistent, "account %d: balance %s, ledger sum %s", r.UserID, r.Balance, r.LedgerSum)
		require.False(t, r.Balance.IsNegative(), "account %d has a negative balance", r.UserID)
	}
}
