// internal/rail/btc/btc_test.go
package btc

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"puzzlebounty/internal/domain"
	"puzzlebounty/internal/rail"
	"puzzlebounty/internal/util"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/neilotoole/slogt"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testWIF     = "cN9spWsvaxA8taS7DFMxnk1yJD2gaF2PX1npuTpy3vuZFJdwavaw"
	testnetDest = "tb1qw508d6qejxtdg4y5r3zarvary0c5xw7kxpjzsx"
	mainnetDest = "bc1qw508d6qejxtdg4y5r3zarvary0c5xw7kv8f3t4"
	fundingTxID = "4a5e1e4baab89f3a32518a88c31bc87f618f76673e2cc77ab2127b7afdeda33b"
)

func TestSelectCoins(t *testing.T) {
	utxos := []UTXO{
		{TxID: "a", Value: 20_000},
		{TxID: "b", Value: 70_000},
		{TxID: "c", Value: 5_000},
	}

	t.Run("largest first with change", func(t *testing.T) {
		plan, err := SelectCoins(utxos, 50_000, 10)
		require.NoError(t, err)
		require.Len(t, plan.Inputs, 1)
		assert.Equal(t, "b", plan.Inputs[0].TxID)
		assert.Equal(t, EstimateVSize(1, 2)*10, plan.Fee)
		assert.Equal(t, int64(70_000-50_000)-plan.Fee, plan.Change)
	})

	t.Run("dust change is absorbed into the fee", func(t *testing.T) {
		amount := int64(70_000) - EstimateVSize(1, 1)*10 - 100
		plan, err := SelectCoins(utxos, amount, 10)
		require.NoError(t, err)
		require.Len(t, plan.Inputs, 1)
		assert.Zero(t, plan.Change)
		assert.Equal(t, int64(70_000)-amount, plan.Fee)
	})

	t.Run("adds inputs until covered", func(t *testing.T) {
		plan, err := SelectCoins(utxos, 85_000, 5)
		require.NoError(t, err)
		assert.Len(t, plan.Inputs, 2)
		var in int64
		for _, u := range plan.Inputs {
			in += u.Value
		}
		assert.Equal(t, in, int64(85_000)+plan.Fee+plan.Change)
	})

	t.Run("insufficient", func(t *testing.T) {
		_, err := SelectCoins(utxos, 95_000, 10)
		assert.ErrorIs(t, err, ErrInsufficientUTXOs)
	})
}

func TestEstimateVSize(t *testing.T) {
	assert.Equal(t, int64(141), EstimateVSize(1, 2))
	assert.Equal(t, int64(110), EstimateVSize(1, 1))
}

type fakeEsplora struct {
	tipHeight   int64
	txs         map[string]Tx
	utxos       []UTXO
	broadcasts  atomic.Int32
	broadcastOK bool
	feeDown     bool
}

func (f *fakeEsplora) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path
	switch {
	case r.Method == http.MethodPost && path == "/tx":
		f.broadcasts.Add(1)
		body, _ := io.ReadAll(r.Body)
		if !f.broadcastOK || len(body) == 0 {
			http.Error(w, "upstream down", http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte("ignored-txid"))
	case path == "/blocks/tip/height":
		_, _ = w.Write([]byte("800010"))
	case path == "/fee-estimates":
		if f.feeDown {
			http.Error(w, "down", http.StatusServiceUnavailable)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]float64{"1": 20, "6": 2.2})
	case strings.HasSuffix(path, "/utxo"):
		_ = json.NewEncoder(w).Encode(f.utxos)
	case strings.HasSuffix(path, "/txs"):
		var list []Tx
		for _, tx := range f.txs {
			list = append(list, tx)
		}
		_ = json.NewEncoder(w).Encode(list)
	case strings.HasPrefix(path, "/tx/"):
		tx, ok := f.txs[strings.TrimPrefix(path, "/tx/")]
		if !ok {
			http.NotFound(w, r)
			return
		}
		_ = json.NewEncoder(w).Encode(tx)
	case strings.HasPrefix(path, "/address/"):
		_ = json.NewEncoder(w).Encode(addressInfo{ChainStats: addressStats{FundedTxoSum: 150_000, SpentTxoSum: 50_000}})
	default:
		http.NotFound(w, r)
	}
}

func newTestAdapter(t *testing.T, f *fakeEsplora) *Adapter {
	t.Helper()
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)
	a, err := New(NewEsplora(srv.URL, 2*time.Second), Config{Network: "testnet", PlatformWIF: testWIF, MinConfirmations: 3}, nil, slogt.New(t))
	require.NoError(t, err)
	return a
}

func TestNewWallet(t *testing.T) {
	priv, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	compressed, err := btcutil.NewWIF(priv, &chaincfg.TestNet3Params, true)
	require.NoError(t, err)
	w, err := newWallet(compressed.String(), &chaincfg.TestNet3Params)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(w.address.EncodeAddress(), "tb1q"))

	_, err = newWallet(compressed.String(), &chaincfg.MainNetParams)
	assert.ErrorContains(t, err, "not for mainnet")

	uncompressed, err := btcutil.NewWIF(priv, &chaincfg.TestNet3Params, false)
	require.NoError(t, err)
	_, err = newWallet(uncompressed.String(), &chaincfg.TestNet3Params)
	assert.ErrorContains(t, err, "compressed")
}

func TestAdapter_ValidateDestination(t *testing.T) {
	a := newTestAdapter(t, &fakeEsplora{})
	assert.True(t, a.ValidateDestination(testnetDest))
	assert.True(t, a.ValidateDestination(a.PlatformAddress()))
	assert.False(t, a.ValidateDestination(mainnetDest))
	assert.False(t, a.ValidateDestination("not-an-address"))
	assert.False(t, a.ValidateDestination(""))
}

func TestAdapter_GetTransferStatus(t *testing.T) {
	f := &fakeEsplora{txs: map[string]Tx{}}
	a := newTestAdapter(t, f)
	platform := a.PlatformAddress()

	f.txs["deep"] = Tx{TxID: "deep", Vout: []TxOut{{Address: platform, Value: 50_000}}, Status: TxStatus{Confirmed: true, BlockHeight: 800_000}}
	f.txs["shallow"] = Tx{TxID: "shallow", Vout: []TxOut{{Address: platform, Value: 50_000}}, Status: TxStatus{Confirmed: true, BlockHeight: 800_009}}
	f.txs["mempool"] = Tx{TxID: "mempool", Vout: []TxOut{{Address: platform, Value: 50_000}}}

	t.Run("enough confirmations", func(t *testing.T) {
		st, err := a.GetTransferStatus(context.Background(), "deep")
		require.NoError(t, err)
		assert.Equal(t, rail.StateConfirmed, st.State)
		assert.Equal(t, int64(50_000), st.AmountTo(platform))
	})

	t.Run("too few confirmations", func(t *testing.T) {
		st, err := a.GetTransferStatus(context.Background(), "shallow")
		require.NoError(t, err)
		assert.Equal(t, rail.StatePending, st.State)
	})

	t.Run("unconfirmed", func(t *testing.T) {
		st, err := a.GetTransferStatus(context.Background(), "mempool")
		require.NoError(t, err)
		assert.Equal(t, rail.StatePending, st.State)
	})

	t.Run("unknown hash", func(t *testing.T) {
		st, err := a.GetTransferStatus(context.Background(), "missing")
		require.NoError(t, err)
		assert.Equal(t, rail.StateUnknown, st.State)
	})
}

func TestAdapter_CreateOutboundTransfer(t *testing.T) {
	utxos := []UTXO{{TxID: fundingTxID, Vout: 0, Value: 100_000, Status: TxStatus{Confirmed: true, BlockHeight: 799_000}}}

	t.Run("signs and broadcasts once", func(t *testing.T) {
		f := &fakeEsplora{utxos: utxos, broadcastOK: true}
		a := newTestAdapter(t, f)
		res, err := a.CreateOutboundTransfer(context.Background(), rail.TransferRequest{IdempotencyKey: "w1", Destination: testnetDest, NativeAmount: 40_000})
		require.NoError(t, err)
		assert.Len(t, res.Reference, 64)
		assert.Equal(t, res.Reference, res.ChainTxID)
		assert.Equal(t, EstimateVSize(1, 2)*3, res.FeeNative)
		assert.Equal(t, int32(1), f.broadcasts.Load())
	})

	t.Run("failed broadcast still reports the txid", func(t *testing.T) {
		f := &fakeEsplora{utxos: utxos}
		a := newTestAdapter(t, f)
		res, err := a.CreateOutboundTransfer(context.Background(), rail.TransferRequest{IdempotencyKey: "w2", Destination: testnetDest, NativeAmount: 40_000})
		assert.ErrorIs(t, err, util.ErrRailUnavailable)
		assert.Len(t, res.Reference, 64)
		assert.Equal(t, int32(1), f.broadcasts.Load())
	})

	t.Run("invalid destination makes no network call", func(t *testing.T) {
		f := &fakeEsplora{utxos: utxos, broadcastOK: true}
		a := newTestAdapter(t, f)
		_, err := a.CreateOutboundTransfer(context.Background(), rail.TransferRequest{Destination: mainnetDest, NativeAmount: 40_000})
		assert.ErrorIs(t, err, util.ErrInvalidDestination)
		assert.Zero(t, f.broadcasts.Load())
	})

	t.Run("unconfirmed utxos are not spent", func(t *testing.T) {
		f := &fakeEsplora{utxos: []UTXO{{TxID: fundingTxID, Value: 100_000}}, broadcastOK: true}
		a := newTestAdapter(t, f)
		_, err := a.CreateOutboundTransfer(context.Background(), rail.TransferRequest{Destination: testnetDest, NativeAmount: 40_000})
		assert.ErrorIs(t, err, util.ErrRailUnavailable)
		assert.ErrorIs(t, err, ErrInsufficientUTXOs)
	})
}

func TestAdapter_EstimateFeeFallback(t *testing.T) {
	a := newTestAdapter(t, &fakeEsplora{feeDown: true})
	assert.Equal(t, FallbackFeeRate*typicalVSize, a.EstimateFee(context.Background()))
}

func TestAdapter_ListInboundTransfers(t *testing.T) {
	f := &fakeEsplora{txs: map[string]Tx{}}
	a := newTestAdapter(t, f)
	platform := a.PlatformAddress()
	now := time.Now().Unix()

	f.txs["in"] = Tx{TxID: "in", Vout: []TxOut{{Address: platform, Value: 30_000}}, Status: TxStatus{Confirmed: true, BlockHeight: 800_000, BlockTime: now}}
	f.txs["own"] = Tx{
		TxID:   "own",
		Vin:    []TxIn{{Prevout: &TxOut{Address: platform, Value: 90_000}}},
		Vout:   []TxOut{{Address: testnetDest, Value: 40_000}, {Address: platform, Value: 49_000}},
		Status: TxStatus{Confirmed: true, BlockHeight: 800_000, BlockTime: now},
	}
	f.txs["old"] = Tx{TxID: "old", Vout: []TxOut{{Address: platform, Value: 30_000}}, Status: TxStatus{Confirmed: true, BlockTime: now - 7200}}

	in, err := a.ListInboundTransfers(context.Background(), time.Now().Add(-time.Hour))
	require.NoError(t, err)
	require.Len(t, in, 1)
	assert.Equal(t, "in", in[0].Reference)
	assert.Equal(t, int64(30_000), in[0].Amount)
}

func TestEsplora_RetriesReads(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("123\n"))
	}))
	defer srv.Close()

	h, err := NewEsplora(srv.URL, time.Second).TipHeight(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(123), h)
	assert.Equal(t, int32(3), calls.Load())
}

func TestEsplora_NotFoundIsPermanent(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.NotFound(w, r)
	}))
	defer srv.Close()

	_, err := NewEsplora(srv.URL, time.Second).Tx(context.Background(), "x")
	assert.ErrorIs(t, err, util.ErrNotFound)
	assert.Equal(t, int32(1), calls.Load())
}

// priceFunc adapts a function to rail.PriceSource.
type priceFunc func(ctx context.Context, asset domain.Asset) (decimal.Decimal, error)

func (f priceFunc) Rate(ctx context.Context, asset domain.Asset) (decimal.Decimal, error) {
	return f(ctx, asset)
}

func TestAdapter_GetBalance(t *testing.T) {
	ctx := context.Background()
	a := newTestAdapter(t, &fakeEsplora{})
	addr := a.PlatformAddress()

	a.prices = priceFunc(func(context.Context, domain.Asset) (decimal.Decimal, error) {
		return decimal.NewFromInt(60000), nil
	})
	bal, err := a.GetBalance(ctx, addr)
	require.NoError(t, err)
	assert.Equal(t, int64(100_000), bal.Native)
	assert.True(t, decimal.NewFromInt(60).Equal(bal.USD))

	a.prices = priceFunc(func(context.Context, domain.Asset) (decimal.Decimal, error) {
		return decimal.Zero, util.ErrRailUnavailable
	})
	_, err = a.GetBalance(ctx, addr)
	assert.ErrorIs(t, err, util.ErrRailUnavailable)

	a.prices = priceFunc(func(context.Context, domain.Asset) (decimal.Decimal, error) {
		return decimal.Zero, nil
	})
	_, err = a.GetBalance(ctx, addr)
	assert.ErrorIs(t, err, util.ErrValidation, "a zero rate cannot price the balance")
}
