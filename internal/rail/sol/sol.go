// internal/rail/sol/sol.go
package sol

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"puzzlebounty/internal/domain"
	"puzzlebounty/internal/oracle"
	"puzzlebounty/internal/rail"
	"puzzlebounty/internal/util"

	"github.com/ccoveille/go-safecast"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
)

const (
	// LamportsPerSignature is the base fee of a single-signer transaction.
	LamportsPerSignature int64 = 5000
	recentSignatureLimit       = 100
	systemTransferIndex        = 2
)

// Adapter is the account-chain rail. Native amounts are lamports.
type Adapter struct {
	client   Client
	key      solana.PrivateKey
	platform solana.PublicKey
	prices   rail.PriceSource
	logger   *slog.Logger
}

// New creates the adapter from a base58 platform private key.
func New(client Client, platformKey string, prices rail.PriceSource, logger *slog.Logger) (*Adapter, error) {
	key, err := solana.PrivateKeyFromBase58(platformKey)
	if err != nil {
		return nil, fmt.Errorf("decode platform key: %w", err)
	}
	return &Adapter{client: client, key: key, platform: key.PublicKey(), prices: prices, logger: logger}, nil
}

func (a *Adapter) Type() domain.RailType { return domain.RailAccountChain }

// PlatformAddress is the deposit address shared by all deposits.
func (a *Adapter) PlatformAddress() string { return a.platform.String() }

// ValidateDestination accepts base58 public keys on the ed25519 curve.
// Program-derived addresses are off-curve and rejected.
func (a *Adapter) ValidateDestination(destination string) bool {
	pub, err := solana.PublicKeyFromBase58(destination)
	if err != nil {
		return false
	}
	return pub.IsOnCurve()
}

func (a *Adapter) GetBalance(ctx context.Context, destination string) (rail.Balance, error) {
	pub, err := solana.PublicKeyFromBase58(destination)
	if err != nil {
		return rail.Balance{}, rail.InvalidDestination(domain.RailAccountChain, "balance", destination)
	}
	raw, err := a.client.Balance(ctx, pub)
	if err != nil {
		return rail.Balance{}, rail.Classify(domain.RailAccountChain, "balance", err, util.ErrRailUnavailable)
	}
	lamports, err := safecast.ToInt64(raw)
	if err != nil {
		return rail.Balance{}, &rail.Error{Rail: domain.RailAccountChain, Op: "balance", Kind: util.ErrValidation, Err: err}
	}
	bal := rail.Balance{Native: lamports}
	if a.prices != nil && lamports > 0 {
		rate, err := a.prices.Rate(ctx, domain.AssetSOL)
		if err != nil {
			return rail.Balance{}, fmt.Errorf("balance: %w", err)
		}
		if bal.USD, err = oracle.NativeToUSD(lamports, rate, domain.AssetSOL); err != nil {
			return rail.Balance{}, fmt.Errorf("balance: %w", err)
		}
	}
	return bal, nil
}

// PrepareDeposit points the payer at the platform account.
func (a *Adapter) PrepareDeposit(_ context.Context, intent rail.DepositIntent) (rail.DepositInstructions, error) {
	if intent.NativeAmount <= 0 {
		return rail.DepositInstructions{}, fmt.Errorf("%w: deposit amount must be positive", util.ErrValidation)
	}
	addr := a.PlatformAddress()
	return rail.DepositInstructions{
		Destination:  addr,
		NativeAmount: intent.NativeAmount,
		Details: domain.RailDetails{AccountChain: &domain.AccountChainDetails{
			Address:          addr,
			ExpectedLamports: intent.NativeAmount,
		}},
	}, nil
}

// CreateOutboundTransfer signs one system transfer and submits it once. The
// signature is known before submission and is returned even on failure.
func (a *Adapter) CreateOutboundTransfer(ctx context.Context, req rail.TransferRequest) (rail.TransferResult, error) {
	if !a.ValidateDestination(req.Destination) {
		return rail.TransferResult{}, rail.InvalidDestination(domain.RailAccountChain, "transfer", req.Destination)
	}
	lamports, err := safecast.ToUint64(req.NativeAmount)
	if err != nil || lamports == 0 {
		return rail.TransferResult{}, fmt.Errorf("%w: transfer amount must be positive", util.ErrValidation)
	}
	to := solana.MustPublicKeyFromBase58(req.Destination)

	blockhash, err := a.client.LatestBlockhash(ctx)
	if err != nil {
		return rail.TransferResult{}, rail.Classify(domain.RailAccountChain, "blockhash", err, util.ErrRailUnavailable)
	}
	tx, err := solana.NewTransaction(
		[]solana.Instruction{system.NewTransferInstruction(lamports, a.platform, to).Build()},
		blockhash,
		solana.TransactionPayer(a.platform),
	)
	if err != nil {
		return rail.TransferResult{}, &rail.Error{Rail: domain.RailAccountChain, Op: "build", Kind: util.ErrValidation, Err: err}
	}
	if _, err := tx.Sign(func(k solana.PublicKey) *solana.PrivateKey {
		if k.Equals(a.platform) {
			return &a.key
		}
		return nil
	}); err != nil {
		return rail.TransferResult{}, &rail.Error{Rail: domain.RailAccountChain, Op: "sign", Kind: util.ErrValidation, Err: err}
	}

	sig := tx.Signatures[0].String()
	result := rail.TransferResult{Reference: sig, ChainTxID: sig, FeeNative: LamportsPerSignature}
	if _, err := a.client.Send(ctx, tx); err != nil {
		return result, rail.Classify(domain.RailAccountChain, "send", err, util.ErrRailUnavailable)
	}
	a.logger.Info("Transfer submitted", "signature", sig, "lamports", lamports, "destination", req.Destination)
	return result, nil
}

// GetTransferStatus reports decoded system transfers of a transaction.
// Only finalized transactions are confirmed.
func (a *Adapter) GetTransferStatus(ctx context.Context, reference string) (rail.TransferStatus, error) {
	sig, err := solana.SignatureFromBase58(reference)
	if err != nil {
		return rail.TransferStatus{}, &rail.Error{Rail: domain.RailAccountChain, Op: "status", Kind: util.ErrValidation, Err: err}
	}
	found, err := a.client.Transaction(ctx, sig)
	if errors.Is(err, util.ErrNotFound) {
		return rail.TransferStatus{Reference: reference, State: rail.StateUnknown}, nil
	}
	if err != nil {
		return rail.TransferStatus{}, rail.Classify(domain.RailAccountChain, "status", err, util.ErrRailUnavailable)
	}

	st := rail.TransferStatus{Reference: reference, State: rail.StatePending}
	for _, t := range decodeTransfers(found.Tx) {
		st.Outputs = append(st.Outputs, rail.Output{Destination: t.to.String(), Amount: t.lamports})
	}
	switch {
	case found.Failed:
		st.State = rail.StateFailed
		st.Reason = "transaction failed on chain"
	case found.Finalized:
		st.State = rail.StateConfirmed
	}
	return st, nil
}

// EstimateFee is the signature fee of a single-instruction transfer.
func (a *Adapter) EstimateFee(context.Context) int64 { return LamportsPerSignature }

// ListInboundTransfers returns successful transfers into the platform
// account from other accounts since the given time.
func (a *Adapter) ListInboundTransfers(ctx context.Context, since time.Time) ([]rail.Inbound, error) {
	sigs, err := a.client.RecentSignatures(ctx, a.platform, recentSignatureLimit)
	if err != nil {
		return nil, rail.Classify(domain.RailAccountChain, "signatures", err, util.ErrRailUnavailable)
	}
	var out []rail.Inbound
	for _, s := range sigs {
		if s.Failed || (!s.BlockTime.IsZero() && s.BlockTime.Before(since)) {
			continue
		}
		found, err := a.client.Transaction(ctx, s.Signature)
		if errors.Is(err, util.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, rail.Classify(domain.RailAccountChain, "transaction", err, util.ErrRailUnavailable)
		}
		var amount int64
		for _, t := range decodeTransfers(found.Tx) {
			if t.to.Equals(a.platform) && !t.from.Equals(a.platform) {
				amount += t.lamports
			}
		}
		if amount > 0 {
			out = append(out, rail.Inbound{
				Reference:   s.Signature.String(),
				Destination: a.PlatformAddress(),
				Amount:      amount,
				SeenAt:      s.BlockTime,
			})
		}
	}
	return out, nil
}

type transfer struct {
	from     solana.PublicKey
	to       solana.PublicKey
	lamports int64
}

// decodeTransfers extracts system-program transfer instructions. The data
// layout is a little-endian u32 instruction index followed by u64 lamports.
func decodeTransfers(tx *solana.Transaction) []transfer {
	if tx == nil {
		return nil
	}
	var out []transfer
	for _, ix := range tx.Message.Instructions {
		prog, err := tx.Message.ResolveProgramIDIndex(ix.ProgramIDIndex)
		if err != nil || !prog.Equals(solana.SystemProgramID) {
			continue
		}
		data := []byte(ix.Data)
		if len(data) < 12 || binary.LittleEndian.Uint32(data[:4]) != systemTransferIndex || len(ix.Accounts) < 2 {
			continue
		}
		lamports, err := safecast.ToInt64(binary.LittleEndian.Uint64(data[4:12]))
		if err != nil {
			continue
		}
		from, err := tx.Message.Account(ix.Accounts[0])
		if err != nil {
			continue
		}
		to, err := tx.Message.Account(ix.Accounts[1])
		if err != nil {
			continue
		}
		out = append(out, transfer{from: from, to: to, lamports: lamports})
	}
	return out
}
