// internal/rail/sol/client.go
package sol

import (
	"context"
	"errors"
	"fmt"
	"time"

	"puzzlebounty/internal/util"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

// ConfirmedTx is a transaction as seen at the strongest available commitment.
type ConfirmedTx struct {
	Tx        *solana.Transaction
	Finalized bool
	Failed    bool
	Slot      uint64
	BlockTime time.Time
}

// Signature is an entry in an address's transaction history.
type Signature struct {
	Signature solana.Signature
	Failed    bool
	BlockTime time.Time
}

// Client is the account-chain RPC surface the adapter needs.
type Client interface {
	Balance(ctx context.Context, account solana.PublicKey) (uint64, error)
	LatestBlockhash(ctx context.Context) (solana.Hash, error)
	Send(ctx context.Context, tx *solana.Transaction) (solana.Signature, error)
	// Transaction returns util.ErrNotFound when no node has seen the signature.
	Transaction(ctx context.Context, sig solana.Signature) (*ConfirmedTx, error)
	RecentSignatures(ctx context.Context, account solana.PublicKey, limit int) ([]Signature, error)
}

// RPC implements Client over JSON-RPC.
type RPC struct {
	rpc *rpc.Client
}

// NewRPC creates a client for endpoint.
func NewRPC(endpoint string) *RPC {
	return &RPC{rpc: rpc.New(endpoint)}
}

func (c *RPC) Balance(ctx context.Context, account solana.PublicKey) (uint64, error) {
	out, err := c.rpc.GetBalance(ctx, account, rpc.CommitmentFinalized)
	if err != nil {
		return 0, err
	}
	return out.Value, nil
}

func (c *RPC) LatestBlockhash(ctx context.Context) (solana.Hash, error) {
	out, err := c.rpc.GetLatestBlockhash(ctx, rpc.CommitmentFinalized)
	if err != nil {
		return solana.Hash{}, err
	}
	return out.Value.Blockhash, nil
}

func (c *RPC) Send(ctx context.Context, tx *solana.Transaction) (solana.Signature, error) {
	return c.rpc.SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{
		PreflightCommitment: rpc.CommitmentFinalized,
	})
}

// Transaction asks for the finalized transaction first and falls back to
// confirmed, which is reported as not yet final.
func (c *RPC) Transaction(ctx context.Context, sig solana.Signature) (*ConfirmedTx, error) {
	for _, commitment := range []rpc.CommitmentType{rpc.CommitmentFinalized, rpc.CommitmentConfirmed} {
		maxVersion := uint64(0)
		res, err := c.rpc.GetTransaction(ctx, sig, &rpc.GetTransactionOpts{
			Encoding:                       solana.EncodingBase64,
			Commitment:                     commitment,
			MaxSupportedTransactionVersion: &maxVersion,
		})
		if errors.Is(err, rpc.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if res.Transaction == nil {
			continue
		}
		tx, err := res.Transaction.GetTransaction()
		if err != nil {
			return nil, fmt.Errorf("decode transaction %s: %w", sig, err)
		}
		out := &ConfirmedTx{
			Tx:        tx,
			Finalized: commitment == rpc.CommitmentFinalized,
			Failed:    res.Meta != nil && res.Meta.Err != nil,
			Slot:      res.Slot,
		}
		if res.BlockTime != nil {
			out.BlockTime = res.BlockTime.Time().UTC()
		}
		return out, nil
	}
	return nil, fmt.Errorf("%w: transaction %s", util.ErrNotFound, sig)
}

func (c *RPC) RecentSignatures(ctx context.Context, account solana.PublicKey, limit int) ([]Signature, error) {
	res, err := c.rpc.GetSignaturesForAddressWithOpts(ctx, account, &rpc.GetSignaturesForAddressOpts{
		Limit:      &limit,
		Commitment: rpc.CommitmentConfirmed,
	})
	if err != nil {
		return nil, err
	}
	out := make([]Signature, 0, len(res))
	for _, s := range res {
		sig := Signature{Signature: s.Signature, Failed: s.Err != nil}
		if s.BlockTime != nil {
			sig.BlockTime = s.BlockTime.Time().UTC()
		}
		out = append(out, sig)
	}
	return out, nil
}
