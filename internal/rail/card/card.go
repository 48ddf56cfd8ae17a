// internal/rail/card/card.go
package card

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"

	"puzzlebounty/internal/domain"
	"puzzlebounty/internal/rail"
	"puzzlebounty/internal/util"

	"github.com/shopspring/decimal"
)

// Metadata keys attached to payment intents. They anchor webhook redelivery
// to the deposit entry.
const (
	MetaDepositID = "deposit_id"
	MetaUserID    = "user_id"
	MetaAmountUSD = "amount_usd"
)

var connectedAccount = regexp.MustCompile(`^acct_[A-Za-z0-9]{8,}$`)

// Intent is the processor's view of a payment intent.
type Intent struct {
	ID             string
	Status         string
	Amount         int64
	AmountReceived int64
	ClientSecret   string
	Metadata       map[string]string
}

// Transfer is the processor's view of an outbound transfer.
type Transfer struct {
	ID          string
	Amount      int64
	Destination string
	Reversed    bool
	Metadata    map[string]string
}

// Intent statuses the adapter cares about.
const (
	IntentSucceeded = "succeeded"
	IntentCanceled  = "canceled"
)

// Processor is the narrow card-processor surface the adapter needs.
type Processor interface {
	CreatePaymentIntent(ctx context.Context, amountCents int64, metadata map[string]string, idempotencyKey string) (*Intent, error)
	GetPaymentIntent(ctx context.Context, id string) (*Intent, error)
	CreateTransfer(ctx context.Context, amountCents int64, destination string, metadata map[string]string, idempotencyKey string) (*Transfer, error)
	GetTransfer(ctx context.Context, id string) (*Transfer, error)
	AvailableBalance(ctx context.Context) (int64, error)
	ParseWebhook(payload []byte, signature string) (rail.WebhookEvent, error)
}

// Adapter is the card rail. Native amounts are USD cents.
type Adapter struct {
	processor Processor
	logger    *slog.Logger
}

// New creates a card rail adapter.
func New(processor Processor, logger *slog.Logger) *Adapter {
	return &Adapter{processor: processor, logger: logger}
}

func (a *Adapter) Type() domain.RailType { return domain.RailCard }

// ValidateDestination accepts connected-account ids.
func (a *Adapter) ValidateDestination(destination string) bool {
	return connectedAccount.MatchString(destination)
}

// GetBalance reports the platform's available processor balance. Per-account
// balances are not visible through the processor.
func (a *Adapter) GetBalance(ctx context.Context, _ string) (rail.Balance, error) {
	cents, err := a.processor.AvailableBalance(ctx)
	if err != nil {
		return rail.Balance{}, rail.Classify(domain.RailCard, "balance", err, util.ErrRailUnavailable)
	}
	return rail.Balance{Native: cents, USD: CentsToUSD(cents)}, nil
}

// PrepareDeposit creates a payment intent carrying the deposit id as metadata.
func (a *Adapter) PrepareDeposit(ctx context.Context, intent rail.DepositIntent) (rail.DepositInstructions, error) {
	cents := USDToCents(intent.AmountUSD)
	meta := map[string]string{
		MetaDepositID: intent.DepositID,
		MetaUserID:    strconv.FormatInt(intent.UserID, 10),
		MetaAmountUSD: intent.AmountUSD.StringFixed(2),
	}
	pi, err := a.processor.CreatePaymentIntent(ctx, cents, meta, "deposit-"+intent.DepositID)
	if err != nil {
		return rail.DepositInstructions{}, rail.Classify(domain.RailCard, "create payment intent", err, util.ErrRailUnavailable)
	}
	a.logger.Info("Payment intent created", "deposit_id", intent.DepositID, "payment_intent", pi.ID, "amount_cents", cents)
	return rail.DepositInstructions{
		Destination:  pi.ID,
		NativeAmount: cents,
		ClientSecret: pi.ClientSecret,
		Details: domain.RailDetails{Card: &domain.CardDetails{
			PaymentIntentID: pi.ID,
			AmountCents:     cents,
		}},
	}, nil
}

// CreateOutboundTransfer pays out to a connected account.
func (a *Adapter) CreateOutboundTransfer(ctx context.Context, req rail.TransferRequest) (rail.TransferResult, error) {
	if !a.ValidateDestination(req.Destination) {
		return rail.TransferResult{}, rail.InvalidDestination(domain.RailCard, "transfer", req.Destination)
	}
	if req.NativeAmount <= 0 {
		return rail.TransferResult{}, fmt.Errorf("%w: transfer amount must be positive", util.ErrValidation)
	}
	tr, err := a.processor.CreateTransfer(ctx, req.NativeAmount, req.Destination,
		map[string]string{"withdrawal_id": req.IdempotencyKey}, "withdrawal-"+req.IdempotencyKey)
	if err != nil {
		return rail.TransferResult{}, rail.Classify(domain.RailCard, "transfer", err, util.ErrRailUnavailable)
	}
	return rail.TransferResult{Reference: tr.ID}, nil
}

// GetTransferStatus resolves either a payment intent (pi_) or a transfer (tr_).
func (a *Adapter) GetTransferStatus(ctx context.Context, reference string) (rail.TransferStatus, error) {
	if len(reference) > 3 && reference[:3] == "tr_" {
		tr, err := a.processor.GetTransfer(ctx, reference)
		if err != nil {
			return rail.TransferStatus{}, rail.Classify(domain.RailCard, "get transfer", err, util.ErrRailUnavailable)
		}
		st := rail.TransferStatus{
			Reference: tr.ID,
			State:     rail.StateConfirmed,
			Outputs:   []rail.Output{{Destination: tr.Destination, Amount: tr.Amount}},
		}
		if tr.Reversed {
			st.State = rail.StateFailed
			st.Reason = "transfer reversed"
		}
		return st, nil
	}

	pi, err := a.processor.GetPaymentIntent(ctx, reference)
	if err != nil {
		return rail.TransferStatus{}, rail.Classify(domain.RailCard, "get payment intent", err, util.ErrRailUnavailable)
	}
	st := rail.TransferStatus{
		Reference:     pi.ID,
		CorrelationID: pi.Metadata[MetaDepositID],
	}
	switch pi.Status {
	case IntentSucceeded:
		st.State = rail.StateConfirmed
		// The intent itself is the destination for card deposits.
		st.Outputs = []rail.Output{{Destination: pi.ID, Amount: pi.AmountReceived}}
	case IntentCanceled:
		st.State = rail.StateFailed
		st.Reason = "payment intent canceled"
	default:
		st.State = rail.StatePending
	}
	return st, nil
}

// EstimateFee is zero; processing fees are charged in USD by policy.
func (a *Adapter) EstimateFee(context.Context) int64 { return 0 }

// ParseWebhook verifies the processor signature and normalizes the event.
func (a *Adapter) ParseWebhook(payload []byte, signature string) (rail.WebhookEvent, error) {
	ev, err := a.processor.ParseWebhook(payload, signature)
	if err != nil {
		return rail.WebhookEvent{}, &rail.Error{Rail: domain.RailCard, Op: "webhook", Kind: util.ErrValidation, Err: err}
	}
	return ev, nil
}

// USDToCents rounds a dollar amount to whole cents.
func USDToCents(usd decimal.Decimal) int64 {
	return usd.Shift(2).Round(0).IntPart()
}

// CentsToUSD converts cents back to dollars.
func CentsToUSD(cents int64) decimal.Decimal {
	return decimal.New(cents, -2)
}
