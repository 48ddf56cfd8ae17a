// internal/rail/rail.go
package rail

import (
	"context"
	"time"

	"puzzlebounty/internal/domain"

	"github.com/shopspring/decimal"
)

// State is the settlement state of an external transfer as seen by a rail.
type State string

const (
	StateConfirmed State = "confirmed"
	StatePending   State = "pending"
	StateFailed    State = "failed"
	StateUnknown   State = "unknown"
)

// Balance is the funds held at a rail-level address.
type Balance struct {
	Native int64           `json:"native"`
	USD    decimal.Decimal `json:"usd"`
}

// DepositIntent asks a rail to prepare for an inbound payment.
type DepositIntent struct {
	DepositID    string
	UserID       int64
	AmountUSD    decimal.Decimal
	NativeAmount int64
}

// DepositInstructions tell the payer where and how much to send.
type DepositInstructions struct {
	Destination  string
	NativeAmount int64
	// ClientSecret is set by the card rail for client-side confirmation.
	ClientSecret string
	Details      domain.RailDetails
}

// TransferRequest is an outbound transfer from the platform account.
type TransferRequest struct {
	// IdempotencyKey is the withdrawal entry id. Processors that support
	// idempotency use it to collapse caller retries.
	IdempotencyKey string
	Destination    string
	NativeAmount   int64
}

// TransferResult identifies a submitted transfer. Reference may be set even
// when CreateOutboundTransfer returns an error, if the transfer was built and
// signed before submission failed.
type TransferResult struct {
	Reference string
	ChainTxID string
	FeeNative int64
}

// Output is one observed value movement inside a transfer.
type Output struct {
	Destination string
	Amount      int64
}

// TransferStatus is what a rail observed for a reference.
type TransferStatus struct {
	Reference string
	State     State
	Outputs   []Output
	// CorrelationID is the deposit id embedded by the card rail, empty elsewhere.
	CorrelationID string
	Reason        string
}

// AmountTo sums the outputs paying destination.
func (s TransferStatus) AmountTo(destination string) int64 {
	var total int64
	for _, o := range s.Outputs {
		if o.Destination == destination {
			total += o.Amount
		}
	}
	return total
}

// Inbound is an unclaimed transfer observed at a platform deposit address.
type Inbound struct {
	Reference   string
	Destination string
	Amount      int64
	SeenAt      time.Time
}

// Adapter is the capability set every external rail implements.
type Adapter interface {
	Type() domain.RailType
	// ValidateDestination checks structure only and never touches the network.
	ValidateDestination(destination string) bool
	GetBalance(ctx context.Context, destination string) (Balance, error)
	PrepareDeposit(ctx context.Context, intent DepositIntent) (DepositInstructions, error)
	// CreateOutboundTransfer submits exactly once; it never resubmits on its own.
	CreateOutboundTransfer(ctx context.Context, req TransferRequest) (TransferResult, error)
	GetTransferStatus(ctx context.Context, reference string) (TransferStatus, error)
	// EstimateFee returns a conservative fallback when estimation fails.
	EstimateFee(ctx context.Context) int64
}

// InboundLister is implemented by rails without push notifications so that
// the sweeper can match inbound transfers to pending deposits.
type InboundLister interface {
	ListInboundTransfers(ctx context.Context, since time.Time) ([]Inbound, error)
}

// WebhookEvent is a verified processor callback.
type WebhookEvent struct {
	ID            string
	Type          string
	Reference     string
	CorrelationID string
	Reason        string
}

// Webhook event types understood by the reconciler. A declined attempt
// leaves the payment open for a retry; only a canceled payment is final.
const (
	EventPaymentSucceeded = "payment_succeeded"
	EventPaymentDeclined  = "payment_declined"
	EventPaymentCanceled  = "payment_canceled"
	EventIgnored          = "ignored"
)

// WebhookVerifier is implemented by rails that deliver signed callbacks.
type WebhookVerifier interface {
	ParseWebhook(payload []byte, signature string) (WebhookEvent, error)
}

// PriceSource supplies USD spot rates for crypto assets.
type PriceSource interface {
	Rate(ctx context.Context, asset domain.Asset) (decimal.Decimal, error)
}
