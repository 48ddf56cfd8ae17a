// internal/domain/rail.go
package domain

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
)

// RailType identifies the channel a ledger entry settles through.
type RailType string

const (
	RailCard         RailType = "card"
	RailUTXOChain    RailType = "utxo-chain"
	RailAccountChain RailType = "account-chain"
	RailInternal     RailType = "internal"
)

// Asset is a crypto asset priced by the oracle.
type Asset string

const (
	AssetBTC Asset = "BTC"
	AssetSOL Asset = "SOL"
)

// Decimals returns the number of base units per whole coin as a power of ten.
func (a Asset) Decimals() int32 {
	switch a {
	case AssetBTC:
		return 8
	case AssetSOL:
		return 9
	default:
		return 0
	}
}

// External reports whether the rail settles outside the platform.
func (r RailType) External() bool {
	return r == RailCard || r == RailUTXOChain || r == RailAccountChain
}

// Crypto reports whether amounts on this rail are quoted in a crypto asset.
func (r RailType) Crypto() bool {
	return r == RailUTXOChain || r == RailAccountChain
}

// Asset returns the crypto asset settled on the rail, or "" for card and internal.
func (r RailType) Asset() Asset {
	switch r {
	case RailUTXOChain:
		return AssetBTC
	case RailAccountChain:
		return AssetSOL
	default:
		return ""
	}
}

// ParseRailType validates s as an external rail name.
func ParseRailType(s string) (RailType, error) {
	r := RailType(s)
	if !r.External() {
		return "", fmt.Errorf("unknown rail %q", s)
	}
	return r, nil
}

// CardDetails is the card-processor payload of a ledger entry.
type CardDetails struct {
	PaymentIntentID string `json:"payment_intent_id,omitempty"`
	TransferID      string `json:"transfer_id,omitempty"`
	Destination     string `json:"destination,omitempty"`
	AmountCents     int64  `json:"amount_cents"`
}

// UTXODetails is the UTXO-chain payload of a ledger entry.
type UTXODetails struct {
	Address      string `json:"address"`
	ExpectedSats int64  `json:"expected_sats"`
	Network      string `json:"network,omitempty"`
	FeeSats      int64  `json:"fee_sats,omitempty"`
}

// AccountChainDetails is the account-chain payload of a ledger entry.
type AccountChainDetails struct {
	Address          string `json:"address"`
	ExpectedLamports int64  `json:"expected_lamports"`
	Signature        string `json:"signature,omitempty"`
}

// RailDetails is a tagged union keyed by RailType. Exactly one variant is
// set for external rails and none for internal entries.
type RailDetails struct {
	Card         *CardDetails         `json:"card,omitempty"`
	UTXOChain    *UTXODetails         `json:"utxo_chain,omitempty"`
	AccountChain *AccountChainDetails `json:"account_chain,omitempty"`
}

// Validate checks that the populated variant matches rail.
func (d RailDetails) Validate(rail RailType) error {
	set := 0
	for _, ok := range []bool{d.Card != nil, d.UTXOChain != nil, d.AccountChain != nil} {
		if ok {
			set++
		}
	}
	switch rail {
	case RailInternal:
		if set != 0 {
			return errors.New("internal entries carry no rail details")
		}
		return nil
	case RailCard:
		if d.Card == nil || set != 1 {
			return errors.New("card entry requires card details only")
		}
	case RailUTXOChain:
		if d.UTXOChain == nil || set != 1 {
			return errors.New("utxo-chain entry requires utxo details only")
		}
	case RailAccountChain:
		if d.AccountChain == nil || set != 1 {
			return errors.New("account-chain entry requires account-chain details only")
		}
	default:
		return fmt.Errorf("unknown rail %q", rail)
	}
	return nil
}

// Destination returns the rail-level address or account stored in the payload.
func (d RailDetails) Destination() string {
	switch {
	case d.Card != nil:
		return d.Card.Destination
	case d.UTXOChain != nil:
		return d.UTXOChain.Address
	case d.AccountChain != nil:
		return d.AccountChain.Address
	}
	return ""
}

// ExpectedNative returns the frozen native amount (cents, satoshi or lamports).
func (d RailDetails) ExpectedNative() int64 {
	switch {
	case d.Card != nil:
		return d.Card.AmountCents
	case d.UTXOChain != nil:
		return d.UTXOChain.ExpectedSats
	case d.AccountChain != nil:
		return d.AccountChain.ExpectedLamports
	}
	return 0
}

// Value implements driver.Valuer for JSONB storage.
func (d RailDetails) Value() (driver.Value, error) {
	return json.Marshal(d)
}

// Scan implements sql.Scanner for JSONB storage.
func (d *RailDetails) Scan(src any) error {
	return scanJSON(src, d)
}

func scanJSON(src any, dst any) error {
	switch v := src.(type) {
	case nil:
		return nil
	case []byte:
		return json.Unmarshal(v, dst)
	case string:
		return json.Unmarshal([]byte(v), dst)
	default:
		return fmt.Errorf("cannot scan %T into %T", src, dst)
	}
}
