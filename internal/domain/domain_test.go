// internal/domain/domain_test.go
package domain

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to EntryStatus
		want     bool
	}{
		{StatusPending, StatusCompleted, true},
		{StatusPending, StatusFailed, true},
		{StatusPending, StatusCancelled, true},
		{StatusCompleted, StatusRefunded, true},
		{StatusPending, StatusRefunded, false},
		{StatusCompleted, StatusFailed, false},
		{StatusFailed, StatusCompleted, false},
		{StatusCancelled, StatusPending, false},
		{StatusRefunded, StatusCompleted, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, CanTransition(tt.from, tt.to))
		})
	}
	assert.False(t, StatusPending.Terminal())
	assert.True(t, StatusCompleted.Terminal())
}

func TestSignedAmountFor(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	const alice, bob = int64(1), int64(2)

	withdrawal := NewWithdrawalEntry(alice, decimal.NewFromInt(10), Fees{
		ProcessingFee: decimal.RequireFromString("2.50"),
		NetworkFee:    decimal.RequireFromString("0.40"),
	}, RailCard, RailDetails{Card: &CardDetails{Destination: "acct_12345678", AmountCents: 1000}}, nil, now)
	assert.True(t, decimal.RequireFromString("-12.50").Equal(withdrawal.SignedAmountFor(alice)), "network fee is not charged to the user")
	assert.True(t, withdrawal.SignedAmountFor(bob).IsZero())

	creation := NewPuzzleCreationEntry(alice, "p1", decimal.NewFromInt(20), decimal.NewFromInt(1), now)
	assert.True(t, decimal.NewFromInt(-21).Equal(creation.SignedAmountFor(alice)))

	solve := NewPuzzleSolveEntry(alice, bob, "p1", decimal.NewFromInt(20), now)
	assert.True(t, decimal.NewFromInt(20).Equal(solve.SignedAmountFor(bob)))
	assert.True(t, solve.SignedAmountFor(alice).IsZero(), "payout comes from escrow")

	refund := NewRefundEntry(alice, nil, decimal.NewFromInt(20), now)
	assert.True(t, decimal.NewFromInt(20).Equal(refund.SignedAmountFor(alice)))
}

func TestLedgerEntryLifecycleHelpers(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	quote := &CryptoQuote{Asset: AssetBTC, Native: 25000, Rate: decimal.NewFromInt(40000)}
	details := RailDetails{UTXOChain: &UTXODetails{Address: "tb1qplatform", ExpectedSats: 25000}}
	dep := NewDepositEntry(7, decimal.NewFromInt(10), RailUTXOChain, details, quote, now.Add(time.Hour), now)

	require.NotNil(t, dep.CryptoAmount)
	assert.Equal(t, int64(25000), *dep.CryptoAmount)
	require.NotNil(t, dep.CryptoCurrency)
	assert.Equal(t, "BTC", *dep.CryptoCurrency)
	assert.True(t, dep.ExchangeRateAtCreation.Valid)

	assert.False(t, dep.Expired(now.Add(59*time.Minute)))
	assert.True(t, dep.Expired(now.Add(time.Hour)))
	dep.Status = StatusCompleted
	assert.False(t, dep.Expired(now.Add(2*time.Hour)), "only pending entries expire")

	w := NewWithdrawalEntry(7, decimal.NewFromInt(10), Fees{}, RailUTXOChain, details, quote, now)
	assert.True(t, w.Reserved())
	w.Status = StatusFailed
	assert.False(t, w.Reserved())
}

func TestRailDetailsValidate(t *testing.T) {
	card := &CardDetails{AmountCents: 500}
	utxo := &UTXODetails{Address: "tb1q", ExpectedSats: 1}
	acct := &AccountChainDetails{Address: "So1", ExpectedLamports: 1}

	tests := []struct {
		name    string
		rail    RailType
		details RailDetails
		wantErr bool
	}{
		{"Internal", RailInternal, RailDetails{}, false},
		{"InternalWithPayload", RailInternal, RailDetails{Card: card}, true},
		{"Card", RailCard, RailDetails{Card: card}, false},
		{"CardMissing", RailCard, RailDetails{}, true},
		{"UTXO", RailUTXOChain, RailDetails{UTXOChain: utxo}, false},
		{"UTXOWithExtra", RailUTXOChain, RailDetails{UTXOChain: utxo, Card: card}, true},
		{"AccountChain", RailAccountChain, RailDetails{AccountChain: acct}, false},
		{"AccountChainWrongVariant", RailAccountChain, RailDetails{UTXOChain: utxo}, true},
		{"UnknownRail", RailType("wire"), RailDetails{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.details.Validate(tt.rail)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestRailDetailsJSONB(t *testing.T) {
	in := RailDetails{AccountChain: &AccountChainDetails{Address: "So1", ExpectedLamports: 42, Signature: "sig"}}
	raw, err := in.Value()
	require.NoError(t, err)

	var out RailDetails
	require.NoError(t, out.Scan(raw))
	assert.Equal(t, in, out)
	assert.Equal(t, "So1", out.Destination())
	assert.Equal(t, int64(42), out.ExpectedNative())

	assert.Error(t, out.Scan(42))
}

func TestParseRailType(t *testing.T) {
	r, err := ParseRailType("account-chain")
	require.NoError(t, err)
	assert.Equal(t, AssetSOL, r.Asset())
	assert.True(t, r.Crypto())

	_, err = ParseRailType("internal")
	assert.Error(t, err, "internal is not selectable by clients")
}

func TestIDs(t *testing.T) {
	a, b := NewID(), NewID()
	assert.NotEqual(t, a, b)
	assert.True(t, ValidID(a))
	assert.False(t, ValidID("not-a-uuid"))
	assert.Equal(t, "hello world", NormalizeAnswer("  Hello World \n"))
}
