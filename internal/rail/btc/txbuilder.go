// internal/rail/btc/txbuilder.go
package btc

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

// ErrInsufficientUTXOs means the platform wallet cannot cover amount plus fee.
var ErrInsufficientUTXOs = errors.New("platform wallet cannot cover amount and fee")

// Plan is the result of coin selection.
type Plan struct {
	Inputs []UTXO
	Fee    int64
	Change int64
}

// EstimateVSize approximates the virtual size of a P2WPKH transaction.
func EstimateVSize(inputs, outputs int) int64 {
	// 10.5 vB overhead, 68 vB per input, 31 vB per output, rounded up.
	return (21 + 136*int64(inputs) + 62*int64(outputs) + 1) / 2
}

// SelectCoins picks the largest UTXOs first until amount plus fee is covered.
// Change below DustLimit is left to the miners.
func SelectCoins(utxos []UTXO, amount, feeRate int64) (Plan, error) {
	sorted := append([]UTXO(nil), utxos...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Value > sorted[j].Value })

	var total int64
	for i, u := range sorted {
		total += u.Value
		n := i + 1

		withChange := EstimateVSize(n, 2) * feeRate
		if total >= amount+withChange {
			change := total - amount - withChange
			if change >= DustLimit {
				return Plan{Inputs: sorted[:n], Fee: withChange, Change: change}, nil
			}
		}
		noChange := EstimateVSize(n, 1) * feeRate
		if total >= amount+noChange {
			return Plan{Inputs: sorted[:n], Fee: total - amount}, nil
		}
	}
	return Plan{}, fmt.Errorf("%w: have %d sat, need %d plus fee", ErrInsufficientUTXOs, total, amount)
}

type wallet struct {
	key      *btcec.PrivateKey
	address  btcutil.Address
	pkScript []byte
}

type signedTx struct {
	txid   string
	rawHex string
}

func newWallet(wif string, params *chaincfg.Params) (*wallet, error) {
	decoded, err := btcutil.DecodeWIF(wif)
	if err != nil {
		return nil, fmt.Errorf("decode platform key: %w", err)
	}
	if !decoded.IsForNet(params) {
		return nil, fmt.Errorf("platform key is not for %s", params.Name)
	}
	// P2WPKH only commits to compressed keys.
	if !decoded.CompressPubKey {
		return nil, errors.New("platform key must use a compressed public key")
	}
	key := decoded.PrivKey
	addr, err := btcutil.NewAddressWitnessPubKeyHash(btcutil.Hash160(key.PubKey().SerializeCompressed()), params)
	if err != nil {
		return nil, fmt.Errorf("derive platform address: %w", err)
	}
	script, err := txscript.PayToAddrScript(addr)
	if err != nil {
		return nil, fmt.Errorf("platform script: %w", err)
	}
	return &wallet{key: key, address: addr, pkScript: script}, nil
}

// buildTx creates and signs a version 2 segwit transaction for plan.
func (w *wallet) buildTx(plan Plan, dest btcutil.Address, amount int64) (*signedTx, error) {
	destScript, err := txscript.PayToAddrScript(dest)
	if err != nil {
		return nil, fmt.Errorf("destination script: %w", err)
	}

	tx := wire.NewMsgTx(2)
	prevOuts := txscript.NewMultiPrevOutFetcher(make(map[wire.OutPoint]*wire.TxOut, len(plan.Inputs)))
	for _, u := range plan.Inputs {
		hash, err := chainhash.NewHashFromStr(u.TxID)
		if err != nil {
			return nil, fmt.Errorf("utxo %s: %w", u.TxID, err)
		}
		op := wire.NewOutPoint(hash, u.Vout)
		tx.AddTxIn(wire.NewTxIn(op, nil, nil))
		prevOuts.AddPrevOut(*op, wire.NewTxOut(u.Value, w.pkScript))
	}
	tx.AddTxOut(wire.NewTxOut(amount, destScript))
	if plan.Change > 0 {
		tx.AddTxOut(wire.NewTxOut(plan.Change, w.pkScript))
	}

	sigHashes := txscript.NewTxSigHashes(tx, prevOuts)
	for i, u := range plan.Inputs {
		witness, err := txscript.WitnessSignature(tx, sigHashes, i, u.Value, w.pkScript, txscript.SigHashAll, w.key, true)
		if err != nil {
			return nil, fmt.Errorf("sign input %d: %w", i, err)
		}
		tx.TxIn[i].Witness = witness
	}

	var buf bytes.Buffer
	if err := tx.Serialize(&buf); err != nil {
		return nil, fmt.Errorf("serialize: %w", err)
	}
	return &signedTx{txid: tx.TxHash().String(), rawHex: hex.EncodeToString(buf.Bytes())}, nil
}
