// internal/rail/btc/btc.go
package btc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"puzzlebounty/internal/domain"
	"puzzlebounty/internal/oracle"
	"puzzlebounty/internal/rail"
	"puzzlebounty/internal/util"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
)

const (
	// DustLimit is the smallest change output worth creating.
	DustLimit int64 = 546
	// FallbackFeeRate is used when fee estimation is unreachable, in sat/vB.
	FallbackFeeRate int64 = 10
	// typicalVSize is one P2WPKH input with destination and change outputs.
	typicalVSize int64 = 141
	feeTarget          = "6"
)

// Config configures the UTXO-chain rail.
type Config struct {
	Network          string
	PlatformWIF      string
	MinConfirmations int64
}

// Adapter is the UTXO-chain rail. Native amounts are satoshi.
type Adapter struct {
	api     ChainAPI
	params  *chaincfg.Params
	wallet  *wallet
	minConf int64
	prices  rail.PriceSource
	logger  *slog.Logger
}

// NetworkParams maps a network name to chain parameters.
func NetworkParams(name string) (*chaincfg.Params, error) {
	switch name {
	case "", "mainnet":
		return &chaincfg.MainNetParams, nil
	case "testnet", "testnet3":
		return &chaincfg.TestNet3Params, nil
	case "regtest":
		return &chaincfg.RegressionNetParams, nil
	case "signet":
		return &chaincfg.SigNetParams, nil
	default:
		return nil, fmt.Errorf("unknown bitcoin network %q", name)
	}
}

// New creates the adapter. The platform wallet is derived from the WIF key.
func New(api ChainAPI, cfg Config, prices rail.PriceSource, logger *slog.Logger) (*Adapter, error) {
	params, err := NetworkParams(cfg.Network)
	if err != nil {
		return nil, err
	}
	w, err := newWallet(cfg.PlatformWIF, params)
	if err != nil {
		return nil, err
	}
	minConf := cfg.MinConfirmations
	if minConf <= 0 {
		minConf = 1
	}
	return &Adapter{api: api, params: params, wallet: w, minConf: minConf, prices: prices, logger: logger}, nil
}

func (a *Adapter) Type() domain.RailType { return domain.RailUTXOChain }

// PlatformAddress is the deposit address shared by all deposits.
func (a *Adapter) PlatformAddress() string { return a.wallet.address.EncodeAddress() }

// ValidateDestination decodes the address and checks it belongs to the configured network.
func (a *Adapter) ValidateDestination(destination string) bool {
	addr, err := btcutil.DecodeAddress(destination, a.params)
	if err != nil {
		return false
	}
	return addr.IsForNet(a.params)
}

func (a *Adapter) GetBalance(ctx context.Context, destination string) (rail.Balance, error) {
	if !a.ValidateDestination(destination) {
		return rail.Balance{}, rail.InvalidDestination(domain.RailUTXOChain, "balance", destination)
	}
	sats, err := a.api.AddressBalance(ctx, destination)
	if err != nil {
		return rail.Balance{}, rail.Classify(domain.RailUTXOChain, "balance", err, util.ErrRailUnavailable)
	}
	bal := rail.Balance{Native: sats}
	if a.prices != nil && sats > 0 {
		rate, err := a.prices.Rate(ctx, domain.AssetBTC)
		if err != nil {
			return rail.Balance{}, fmt.Errorf("balance: %w", err)
		}
		if bal.USD, err = oracle.NativeToUSD(sats, rate, domain.AssetBTC); err != nil {
			return rail.Balance{}, fmt.Errorf("balance: %w", err)
		}
	}
	return bal, nil
}

// PrepareDeposit points the payer at the platform address.
func (a *Adapter) PrepareDeposit(_ context.Context, intent rail.DepositIntent) (rail.DepositInstructions, error) {
	if intent.NativeAmount <= DustLimit {
		return rail.DepositInstructions{}, fmt.Errorf("%w: deposit of %d sat is below dust", util.ErrValidation, intent.NativeAmount)
	}
	addr := a.PlatformAddress()
	return rail.DepositInstructions{
		Destination:  addr,
		NativeAmount: intent.NativeAmount,
		Details: domain.RailDetails{UTXOChain: &domain.UTXODetails{
			Address:      addr,
			ExpectedSats: intent.NativeAmount,
			Network:      a.params.Name,
		}},
	}, nil
}

// CreateOutboundTransfer selects platform UTXOs, signs and broadcasts once.
// The txid is returned even when the broadcast fails.
func (a *Adapter) CreateOutboundTransfer(ctx context.Context, req rail.TransferRequest) (rail.TransferResult, error) {
	if !a.ValidateDestination(req.Destination) {
		return rail.TransferResult{}, rail.InvalidDestination(domain.RailUTXOChain, "transfer", req.Destination)
	}
	if req.NativeAmount <= DustLimit {
		return rail.TransferResult{}, fmt.Errorf("%w: transfer of %d sat is below dust", util.ErrValidation, req.NativeAmount)
	}
	dest, err := btcutil.DecodeAddress(req.Destination, a.params)
	if err != nil {
		return rail.TransferResult{}, rail.InvalidDestination(domain.RailUTXOChain, "transfer", req.Destination)
	}

	utxos, err := a.api.AddressUTXOs(ctx, a.PlatformAddress())
	if err != nil {
		return rail.TransferResult{}, rail.Classify(domain.RailUTXOChain, "list utxos", err, util.ErrRailUnavailable)
	}
	confirmed := utxos[:0:0]
	for _, u := range utxos {
		if u.Status.Confirmed {
			confirmed = append(confirmed, u)
		}
	}

	plan, err := SelectCoins(confirmed, req.NativeAmount, a.feeRate(ctx))
	if err != nil {
		return rail.TransferResult{}, &rail.Error{Rail: domain.RailUTXOChain, Op: "select coins", Kind: util.ErrRailUnavailable, Err: err}
	}
	signed, err := a.wallet.buildTx(plan, dest, req.NativeAmount)
	if err != nil {
		return rail.TransferResult{}, &rail.Error{Rail: domain.RailUTXOChain, Op: "sign", Kind: util.ErrRailUnavailable, Err: err}
	}

	result := rail.TransferResult{Reference: signed.txid, ChainTxID: signed.txid, FeeNative: plan.Fee}
	txid, err := a.api.Broadcast(ctx, signed.rawHex)
	if err != nil {
		return result, rail.Classify(domain.RailUTXOChain, "broadcast", err, util.ErrRailUnavailable)
	}
	if txid != signed.txid {
		a.logger.Warn("Broadcast returned unexpected txid", "expected", signed.txid, "got", txid)
	}
	a.logger.Info("Transaction broadcast", "txid", signed.txid, "inputs", len(plan.Inputs), "fee_sats", plan.Fee, "change_sats", plan.Change)
	return result, nil
}

// GetTransferStatus reports a transaction's outputs. It is confirmed once it
// has MinConfirmations blocks on top, including its own.
func (a *Adapter) GetTransferStatus(ctx context.Context, reference string) (rail.TransferStatus, error) {
	tx, err := a.api.Tx(ctx, reference)
	if errors.Is(err, util.ErrNotFound) {
		return rail.TransferStatus{Reference: reference, State: rail.StateUnknown}, nil
	}
	if err != nil {
		return rail.TransferStatus{}, rail.Classify(domain.RailUTXOChain, "get tx", err, util.ErrRailUnavailable)
	}
	st := rail.TransferStatus{Reference: tx.TxID, State: rail.StatePending}
	for _, out := range tx.Vout {
		st.Outputs = append(st.Outputs, rail.Output{Destination: out.Address, Amount: out.Value})
	}
	if !tx.Status.Confirmed {
		return st, nil
	}
	tip, err := a.api.TipHeight(ctx)
	if err != nil {
		return rail.TransferStatus{}, rail.Classify(domain.RailUTXOChain, "tip height", err, util.ErrRailUnavailable)
	}
	if tip-tx.Status.BlockHeight+1 >= a.minConf {
		st.State = rail.StateConfirmed
	}
	return st, nil
}

// EstimateFee returns the fee of a typical withdrawal in satoshi.
func (a *Adapter) EstimateFee(ctx context.Context) int64 {
	return a.feeRate(ctx) * typicalVSize
}

func (a *Adapter) feeRate(ctx context.Context) int64 {
	fees, err := a.api.FeeEstimates(ctx)
	if err != nil {
		a.logger.Warn("Fee estimation unavailable, using fallback", "error", err, "sat_per_vbyte", FallbackFeeRate)
		return FallbackFeeRate
	}
	rate, ok := fees[feeTarget]
	if !ok || rate <= 0 {
		return FallbackFeeRate
	}
	return int64(math.Ceil(rate))
}

// ListInboundTransfers returns transactions paying the platform address that
// were not funded by the platform itself.
func (a *Adapter) ListInboundTransfers(ctx context.Context, since time.Time) ([]rail.Inbound, error) {
	platform := a.PlatformAddress()
	txs, err := a.api.AddressTxs(ctx, platform)
	if err != nil {
		return nil, rail.Classify(domain.RailUTXOChain, "list txs", err, util.ErrRailUnavailable)
	}
	var out []rail.Inbound
	for _, tx := range txs {
		if spendsFrom(tx, platform) {
			continue
		}
		seen := time.Now().UTC()
		if tx.Status.Confirmed {
			seen = time.Unix(tx.Status.BlockTime, 0).UTC()
			if seen.Before(since) {
				continue
			}
		}
		var amount int64
		for _, o := range tx.Vout {
			if o.Address == platform {
				amount += o.Value
			}
		}
		if amount > 0 {
			out = append(out, rail.Inbound{Reference: tx.TxID, Destination: platform, Amount: amount, SeenAt: seen})
		}
	}
	return out, nil
}

func spendsFrom(tx Tx, address string) bool {
	for _, in := range tx.Vin {
		if in.Prevout != nil && in.Prevout.Address == address {
			return true
		}
	}
	return false
}

