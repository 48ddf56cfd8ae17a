// internal/service/sweeper_test.go
package service

import (
	"context"
	"testing"
	"time"

	"puzzlebounty/internal/domain"
	"puzzlebounty/internal/rail"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func (h *harness) btcDeposit(t *testing.T, userID int64, amount string) *domain.LedgerEntry {
	t.Helper()
	res, err := h.deposits.CreateDeposit(context.Background(), userID, usdAmount(amount), domain.RailUTXOChain)
	require.NoError(t, err)
	return res.Entry
}

func (h *harness) observe(ref string, amount int64) {
	h.btc.mu.Lock()
	h.btc.inbound = append(h.btc.inbound, rail.Inbound{
		Reference: ref, Destination: h.btc.platform, Amount: amount, SeenAt: h.clock.Now(),
	})
	h.btc.mu.Unlock()
}

func TestSweeper_MatchesOldestPendingDeposit(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	alice := h.newAccount(t, "alice")
	bob := h.newAccount(t, "bob")

	first := h.btcDeposit(t, alice, "100")
	h.clock.Advance(time.Minute)
	second := h.btcDeposit(t, bob, "100")
	h.clock.Advance(5 * time.Minute)

	h.observe("tx-a", 200000)
	h.btc.setStatus("tx-a", rail.StateConfirmed, h.btc.platform, 200000, "")

	report, err := h.sweeper.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, SweepReport{Matched: 1}, report)

	assert.Equal(t, domain.StatusCompleted, h.entry(t, first.ID).Status)
	assert.Equal(t, domain.StatusPending, h.entry(t, second.ID).Status)
	requireBalance(t, "100", h.balance(t, alice))
	requireBalance(t, "0", h.balance(t, bob))

	// A claimed reference is never matched twice.
	report, err = h.sweeper.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, report.Matched)
	assert.Equal(t, domain.StatusPending, h.entry(t, second.ID).Status)
	h.requireConsistent(t)
}

func TestSweeper_SkipsUnfitTransfers(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	alice := h.newAccount(t, "alice")
	dep := h.btcDeposit(t, alice, "100")
	h.clock.Advance(time.Minute)

	t.Run("OutOfTolerance", func(t *testing.T) {
		h.observe("tx-small", 100000)
		h.btc.setStatus("tx-small", rail.StateConfirmed, h.btc.platform, 100000, "")

		report, err := h.sweeper.RunOnce(ctx)
		require.NoError(t, err)
		assert.Equal(t, 0, report.Matched)
		assert.Equal(t, domain.StatusPending, h.entry(t, dep.ID).Status)
	})

	t.Run("StillSettling", func(t *testing.T) {
		h.observe("tx-b", 199000)
		h.btc.setStatus("tx-b", rail.StatePending, h.btc.platform, 199000, "")

		report, err := h.sweeper.RunOnce(ctx)
		require.NoError(t, err)
		assert.Equal(t, 0, report.Matched)
		assert.Equal(t, domain.StatusPending, h.entry(t, dep.ID).Status)

		h.btc.setStatus("tx-b", rail.StateConfirmed, h.btc.platform, 199000, "")
		report, err = h.sweeper.RunOnce(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, report.Matched)

		got := h.entry(t, dep.ID)
		assert.Equal(t, domain.StatusCompleted, got.Status)
		require.NotNil(t, got.ExternalReference)
		assert.Equal(t, "tx-b", *got.ExternalReference)
		requireBalance(t, "100", h.balance(t, alice))
	})
	h.requireConsistent(t)
}

func TestSweeper_IgnoresTransfersBeforeDeposit(t *testing.T) {
	h := newHarness(t, nil)
	alice := h.newAccount(t, "alice")

	h.observe("tx-early", 200000)
	h.btc.setStatus("tx-early", rail.StateConfirmed, h.btc.platform, 200000, "")
	h.clock.Advance(time.Minute)
	dep := h.btcDeposit(t, alice, "100")

	report, err := h.sweeper.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, report.Matched)
	assert.Equal(t, domain.StatusPending, h.entry(t, dep.ID).Status)
}

func TestSweeper_ExpiresStaleDeposits(t *testing.T) {
	h := newHarness(t, nil)
	alice := h.newAccount(t, "alice")
	stale := h.btcDeposit(t, alice, "100")
	h.fund(t, alice, "20")

	h.clock.Advance(2 * time.Hour)
	h.observe("tx-late", 200000)
	h.btc.setStatus("tx-late", rail.StateConfirmed, h.btc.platform, 200000, "")

	report, err := h.sweeper.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, SweepReport{Expired: 1}, report)

	got := h.entry(t, stale.ID)
	assert.Equal(t, domain.StatusCancelled, got.Status)
	requireBalance(t, "20", h.balance(t, alice))
	h.requireConsistent(t)
}
