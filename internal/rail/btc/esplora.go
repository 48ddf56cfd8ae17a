// internal/rail/btc/esplora.go
package btc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"puzzlebounty/internal/util"

	"github.com/cenkalti/backoff/v4"
)

// UTXO is an unspent output as reported by the explorer.
type UTXO struct {
	TxID   string   `json:"txid"`
	Vout   uint32   `json:"vout"`
	Value  int64    `json:"value"`
	Status TxStatus `json:"status"`
}

// TxStatus is the confirmation state of a transaction.
type TxStatus struct {
	Confirmed   bool  `json:"confirmed"`
	BlockHeight int64 `json:"block_height"`
	BlockTime   int64 `json:"block_time"`
}

// TxOut is a transaction output.
type TxOut struct {
	Address string `json:"scriptpubkey_address"`
	Value   int64  `json:"value"`
}

// TxIn is a transaction input with its spent output.
type TxIn struct {
	TxID    string `json:"txid"`
	Vout    uint32 `json:"vout"`
	Prevout *TxOut `json:"prevout"`
}

// Tx is a transaction as reported by the explorer.
type Tx struct {
	TxID   string   `json:"txid"`
	Vin    []TxIn   `json:"vin"`
	Vout   []TxOut  `json:"vout"`
	Fee    int64    `json:"fee"`
	Status TxStatus `json:"status"`
}

type addressStats struct {
	FundedTxoSum int64 `json:"funded_txo_sum"`
	SpentTxoSum  int64 `json:"spent_txo_sum"`
}

type addressInfo struct {
	ChainStats   addressStats `json:"chain_stats"`
	MempoolStats addressStats `json:"mempool_stats"`
}

// ChainAPI is the block-explorer surface the adapter needs.
type ChainAPI interface {
	AddressBalance(ctx context.Context, address string) (int64, error)
	AddressUTXOs(ctx context.Context, address string) ([]UTXO, error)
	AddressTxs(ctx context.Context, address string) ([]Tx, error)
	Tx(ctx context.Context, txid string) (*Tx, error)
	TipHeight(ctx context.Context) (int64, error)
	FeeEstimates(ctx context.Context) (map[string]float64, error)
	Broadcast(ctx context.Context, rawHex string) (string, error)
}

// Esplora is a ChainAPI backed by an Esplora-compatible REST endpoint.
// Reads are retried with exponential backoff; broadcasts are not.
type Esplora struct {
	baseURL    string
	httpClient *http.Client
	maxRetries uint64
}

// NewEsplora creates a client for baseURL, e.g. https://blockstream.info/api.
func NewEsplora(baseURL string, timeout time.Duration) *Esplora {
	return &Esplora{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		maxRetries: 3,
	}
}

func (e *Esplora) AddressBalance(ctx context.Context, address string) (int64, error) {
	var info addressInfo
	if err := e.getJSON(ctx, "/address/"+address, &info); err != nil {
		return 0, err
	}
	confirmed := info.ChainStats.FundedTxoSum - info.ChainStats.SpentTxoSum
	return confirmed, nil
}

func (e *Esplora) AddressUTXOs(ctx context.Context, address string) ([]UTXO, error) {
	var utxos []UTXO
	if err := e.getJSON(ctx, "/address/"+address+"/utxo", &utxos); err != nil {
		return nil, err
	}
	return utxos, nil
}

func (e *Esplora) AddressTxs(ctx context.Context, address string) ([]Tx, error) {
	var txs []Tx
	if err := e.getJSON(ctx, "/address/"+address+"/txs", &txs); err != nil {
		return nil, err
	}
	return txs, nil
}

func (e *Esplora) Tx(ctx context.Context, txid string) (*Tx, error) {
	var tx Tx
	if err := e.getJSON(ctx, "/tx/"+txid, &tx); err != nil {
		return nil, err
	}
	return &tx, nil
}

func (e *Esplora) TipHeight(ctx context.Context) (int64, error) {
	body, err := e.get(ctx, "/blocks/tip/height")
	if err != nil {
		return 0, err
	}
	h, err := strconv.ParseInt(strings.TrimSpace(string(body)), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse tip height: %w", err)
	}
	return h, nil
}

func (e *Esplora) FeeEstimates(ctx context.Context) (map[string]float64, error) {
	var fees map[string]float64
	if err := e.getJSON(ctx, "/fee-estimates", &fees); err != nil {
		return nil, err
	}
	return fees, nil
}

// Broadcast submits a raw transaction once and returns its txid.
func (e *Esplora) Broadcast(ctx context.Context, rawHex string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/tx", strings.NewReader(rawHex))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "text/plain")
	resp, err := e.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: broadcast: %v", util.ErrRailUnavailable, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("%w: broadcast: %v", util.ErrRailUnavailable, err)
	}
	if resp.StatusCode >= 500 {
		return "", fmt.Errorf("%w: broadcast: status %d", util.ErrRailUnavailable, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: broadcast rejected: %s", util.ErrValidation, strings.TrimSpace(string(body)))
	}
	return strings.TrimSpace(string(body)), nil
}

func (e *Esplora) getJSON(ctx context.Context, path string, dst any) error {
	body, err := e.get(ctx, path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

func (e *Esplora) get(ctx context.Context, path string) ([]byte, error) {
	var body []byte
	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.baseURL+path, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		resp, err := e.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("%w: GET %s: %v", util.ErrRailUnavailable, path, err)
		}
		defer resp.Body.Close()
		switch {
		case resp.StatusCode == http.StatusNotFound:
			return backoff.Permanent(fmt.Errorf("%w: %s", util.ErrNotFound, path))
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			return fmt.Errorf("%w: GET %s: status %d", util.ErrRailUnavailable, path, resp.StatusCode)
		case resp.StatusCode != http.StatusOK:
			return backoff.Permanent(fmt.Errorf("%w: GET %s: status %d", util.ErrValidation, path, resp.StatusCode))
		}
		b, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
		if err != nil {
			return fmt.Errorf("%w: GET %s: %v", util.ErrRailUnavailable, path, err)
		}
		body = b
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(b, e.maxRetries), ctx))
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return nil, fmt.Errorf("%w: GET %s: %v", util.ErrRailUnavailable, path, err)
	}
	if err != nil {
		return nil, err
	}
	return body, nil
}
