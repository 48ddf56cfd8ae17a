// internal/domain/ledger_entry.go
package domain

import (
	"database/sql/driver"
	"encoding/json"
	"time"

	"github.com/shopspring/decimal" // For precise monetary calculations
)

// EntryKind defines what a ledger entry records. Fixed at creation.
type EntryKind string

const (
	KindPuzzleCreation EntryKind = "puzzle_creation"
	KindPuzzleSolve    EntryKind = "puzzle_solve"
	KindDeposit        EntryKind = "deposit"
	KindWithdrawal     EntryKind = "withdrawal"
	KindAdminFee       EntryKind = "admin_fee"
	KindRefund         EntryKind = "refund"
)

// EntryStatus defines the lifecycle position of a ledger entry.
type EntryStatus string

const (
	StatusPending   EntryStatus = "pending"
	StatusCompleted EntryStatus = "completed"
	StatusFailed    EntryStatus = "failed"
	StatusCancelled EntryStatus = "cancelled"
	StatusRefunded  EntryStatus = "refunded"
)

// ReasonDepositExpired is recorded on deposits cancelled by the expiry sweep.
const ReasonDepositExpired = "deposit expired"

var transitions = map[EntryStatus][]EntryStatus{
	StatusPending:   {StatusCompleted, StatusFailed, StatusCancelled},
	StatusCompleted: {StatusRefunded},
}

// CanTransition reports whether from -> to is a legal status change.
func CanTransition(from, to EntryStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Terminal reports whether no further automatic transition is possible.
// Completed entries can still be refunded by an explicit admin action.
func (s EntryStatus) Terminal() bool {
	return s != StatusPending
}

// Fees is the structured fee breakdown of a ledger entry, in USD.
type Fees struct {
	AdminFee      decimal.Decimal `json:"admin_fee"`
	ProcessingFee decimal.Decimal `json:"processing_fee"`
	NetworkFee    decimal.Decimal `json:"network_fee"`
}

// Charged is the part of the fees debited from the user on top of the amount.
// The network fee is paid by the platform out of the processing fee.
func (f Fees) Charged() decimal.Decimal {
	return f.AdminFee.Add(f.ProcessingFee)
}

// Value implements driver.Valuer for JSONB storage.
func (f Fees) Value() (driver.Value, error) {
	return json.Marshal(f)
}

// Scan implements sql.Scanner for JSONB storage.
func (f *Fees) Scan(src any) error {
	return scanJSON(src, f)
}

// LedgerEntry is the durable record of one value movement.
type LedgerEntry struct {
	ID                     string              `db:"id" json:"id"`
	Kind                   EntryKind           `db:"kind" json:"kind"`
	Status                 EntryStatus         `db:"status" json:"status"`
	FromAccount            *int64              `db:"from_account" json:"from_account,omitempty"`
	ToAccount              *int64              `db:"to_account" json:"to_account,omitempty"`
	RelatedPuzzle          *string             `db:"related_puzzle" json:"related_puzzle,omitempty"`
	Amount                 decimal.Decimal     `db:"amount" json:"amount"`
	CryptoAmount           *int64              `db:"crypto_amount" json:"crypto_amount,omitempty"`
	CryptoCurrency         *string             `db:"crypto_currency" json:"crypto_currency,omitempty"`
	ExchangeRateAtCreation decimal.NullDecimal `db:"exchange_rate" json:"exchange_rate_at_creation"`
	Fees                   Fees                `db:"fees" json:"fees"`
	RailType               RailType            `db:"rail_type" json:"rail_type"`
	RailDetails            RailDetails         `db:"rail_details" json:"rail_details"`
	ExternalReference      *string             `db:"external_reference" json:"external_reference,omitempty"`
	ChainTxID              *string             `db:"chain_tx_id" json:"chain_tx_id,omitempty"`
	ExpiresAt              *time.Time          `db:"expires_at" json:"expires_at,omitempty"`
	ProcessedAt            *time.Time          `db:"processed_at" json:"processed_at,omitempty"`
	FailureReason          *string             `db:"failure_reason" json:"failure_reason,omitempty"`
	CreatedAt              time.Time           `db:"created_at" json:"created_at"`
	UpdatedAt              time.Time           `db:"updated_at" json:"updated_at"`
}

// StatusUpdate describes a conditional status change of an entry.
// Nil reference fields leave the stored value untouched.
type StatusUpdate struct {
	To                EntryStatus
	ExternalReference *string
	ChainTxID         *string
	FailureReason     *string
	At                time.Time
}

// CryptoQuote freezes the native amount and rate of a crypto movement.
type CryptoQuote struct {
	Asset  Asset
	Native int64
	Rate   decimal.Decimal
}

func newEntry(kind EntryKind, status EntryStatus, rail RailType, amount decimal.Decimal, now time.Time) *LedgerEntry {
	return &LedgerEntry{
		ID:        NewID(),
		Kind:      kind,
		Status:    status,
		Amount:    amount,
		RailType:  rail,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func (e *LedgerEntry) applyQuote(q *CryptoQuote) {
	if q == nil {
		return
	}
	native := q.Native
	asset := string(q.Asset)
	e.CryptoAmount = &native
	e.CryptoCurrency = &asset
	e.ExchangeRateAtCreation = decimal.NewNullDecimal(q.Rate)
}

// NewDepositEntry creates a pending deposit crediting userID on settlement.
func NewDepositEntry(userID int64, amount decimal.Decimal, rail RailType, details RailDetails, quote *CryptoQuote, expiresAt time.Time, now time.Time) *LedgerEntry {
	e := newEntry(KindDeposit, StatusPending, rail, amount, now)
	e.ToAccount = &userID
	e.RailDetails = details
	e.ExpiresAt = &expiresAt
	e.applyQuote(quote)
	return e
}

// NewWithdrawalEntry creates the pending withdrawal recorded at reservation time.
func NewWithdrawalEntry(userID int64, amount decimal.Decimal, fees Fees, rail RailType, details RailDetails, quote *CryptoQuote, now time.Time) *LedgerEntry {
	e := newEntry(KindWithdrawal, StatusPending, rail, amount, now)
	e.FromAccount = &userID
	e.Fees = fees
	e.RailDetails = details
	e.applyQuote(quote)
	return e
}

// NewPuzzleCreationEntry records the escrow of value plus admin fee from the creator.
func NewPuzzleCreationEntry(creatorID int64, puzzleID string, value, adminFee decimal.Decimal, now time.Time) *LedgerEntry {
	e := newEntry(KindPuzzleCreation, StatusCompleted, RailInternal, value, now)
	e.FromAccount = &creatorID
	e.RelatedPuzzle = &puzzleID
	e.Fees = Fees{AdminFee: adminFee}
	e.ProcessedAt = &now
	return e
}

// NewPuzzleSolveEntry records the payout of an escrowed puzzle value.
func NewPuzzleSolveEntry(creatorID, solverID int64, puzzleID string, value decimal.Decimal, now time.Time) *LedgerEntry {
	e := newEntry(KindPuzzleSolve, StatusCompleted, RailInternal, value, now)
	e.FromAccount = &creatorID
	e.ToAccount = &solverID
	e.RelatedPuzzle = &puzzleID
	e.ProcessedAt = &now
	return e
}

// NewRefundEntry records an internal credit back to userID.
func NewRefundEntry(userID int64, puzzleID *string, amount decimal.Decimal, now time.Time) *LedgerEntry {
	e := newEntry(KindRefund, StatusCompleted, RailInternal, amount, now)
	e.ToAccount = &userID
	e.RelatedPuzzle = puzzleID
	e.ProcessedAt = &now
	return e
}

// SignedAmountFor returns the balance effect of a completed entry on accountID.
// Puzzle payouts come from escrow, so they move nothing on the creator side.
func (e *LedgerEntry) SignedAmountFor(accountID int64) decimal.Decimal {
	is := func(p *int64) bool { return p != nil && *p == accountID }
	switch e.Kind {
	case KindDeposit, KindRefund:
		if is(e.ToAccount) {
			return e.Amount
		}
	case KindPuzzleSolve:
		if is(e.ToAccount) {
			return e.Amount
		}
	case KindWithdrawal, KindPuzzleCreation, KindAdminFee:
		if is(e.FromAccount) {
			return e.Amount.Add(e.Fees.Charged()).Neg()
		}
	}
	return decimal.Zero
}

// Reserved reports whether the entry holds a balance reservation while pending.
func (e *LedgerEntry) Reserved() bool {
	return e.Kind == KindWithdrawal && e.Status == StatusPending
}

// Expired reports whether a pending entry is past its expiry time.
func (e *LedgerEntry) Expired(now time.Time) bool {
	return e.Status == StatusPending && e.ExpiresAt != nil && !now.Before(*e.ExpiresAt)
}
