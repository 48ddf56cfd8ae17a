// internal/rail/card/stripe.go
package card

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"puzzlebounty/internal/rail"
	"puzzlebounty/internal/util"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"github.com/stripe/stripe-go/v76/webhook"
)

var errNoWebhookSecret = errors.New("webhook signing secret is not configured")

// StripeProcessor implements Processor on the Stripe API.
type StripeProcessor struct {
	api           *client.API
	webhookSecret string
}

// NewStripeProcessor creates a processor using the given secret key.
func NewStripeProcessor(secretKey, webhookSecret string) *StripeProcessor {
	api := &client.API{}
	api.Init(secretKey, nil)
	return &StripeProcessor{api: api, webhookSecret: webhookSecret}
}

func (p *StripeProcessor) CreatePaymentIntent(ctx context.Context, amountCents int64, metadata map[string]string, idempotencyKey string) (*Intent, error) {
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(amountCents),
		Currency: stripe.String(string(stripe.CurrencyUSD)),
	}
	params.Context = ctx
	params.SetIdempotencyKey(idempotencyKey)
	for k, v := range metadata {
		params.AddMetadata(k, v)
	}
	pi, err := p.api.PaymentIntents.New(params)
	if err != nil {
		return nil, mapStripeError(err)
	}
	return intentFromStripe(pi), nil
}

func (p *StripeProcessor) GetPaymentIntent(ctx context.Context, id string) (*Intent, error) {
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx
	pi, err := p.api.PaymentIntents.Get(id, params)
	if err != nil {
		return nil, mapStripeError(err)
	}
	return intentFromStripe(pi), nil
}

func (p *StripeProcessor) CreateTransfer(ctx context.Context, amountCents int64, destination string, metadata map[string]string, idempotencyKey string) (*Transfer, error) {
	params := &stripe.TransferParams{
		Amount:      stripe.Int64(amountCents),
		Currency:    stripe.String(string(stripe.CurrencyUSD)),
		Destination: stripe.String(destination),
	}
	params.Context = ctx
	params.SetIdempotencyKey(idempotencyKey)
	for k, v := range metadata {
		params.AddMetadata(k, v)
	}
	tr, err := p.api.Transfers.New(params)
	if err != nil {
		return nil, mapStripeError(err)
	}
	return transferFromStripe(tr), nil
}

func (p *StripeProcessor) GetTransfer(ctx context.Context, id string) (*Transfer, error) {
	params := &stripe.TransferParams{}
	params.Context = ctx
	tr, err := p.api.Transfers.Get(id, params)
	if err != nil {
		return nil, mapStripeError(err)
	}
	return transferFromStripe(tr), nil
}

func (p *StripeProcessor) AvailableBalance(ctx context.Context) (int64, error) {
	params := &stripe.BalanceParams{}
	params.Context = ctx
	b, err := p.api.Balance.Get(params)
	if err != nil {
		return 0, mapStripeError(err)
	}
	var cents int64
	for _, a := range b.Available {
		if a.Currency == stripe.CurrencyUSD {
			cents += a.Amount
		}
	}
	return cents, nil
}

// ParseWebhook checks the Stripe-Signature header before decoding anything.
func (p *StripeProcessor) ParseWebhook(payload []byte, signature string) (rail.WebhookEvent, error) {
	if p.webhookSecret == "" {
		return rail.WebhookEvent{}, errNoWebhookSecret
	}
	ev, err := webhook.ConstructEventWithOptions(payload, signature, p.webhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		return rail.WebhookEvent{}, fmt.Errorf("signature verification failed: %w", err)
	}
	out := rail.WebhookEvent{ID: ev.ID, Type: rail.EventIgnored}

	switch ev.Type {
	case stripe.EventTypePaymentIntentSucceeded:
		out.Type = rail.EventPaymentSucceeded
	case stripe.EventTypePaymentIntentPaymentFailed:
		out.Type = rail.EventPaymentDeclined
	case stripe.EventTypePaymentIntentCanceled:
		out.Type = rail.EventPaymentCanceled
	default:
		return out, nil
	}

	var pi stripe.PaymentIntent
	if err := json.Unmarshal(ev.Data.Raw, &pi); err != nil {
		return rail.WebhookEvent{}, fmt.Errorf("decode payment intent: %w", err)
	}
	out.Reference = pi.ID
	out.CorrelationID = pi.Metadata[MetaDepositID]
	if pi.LastPaymentError != nil {
		out.Reason = pi.LastPaymentError.Msg
	}
	if out.Reason == "" && out.Type != rail.EventPaymentSucceeded {
		out.Reason = string(ev.Type)
	}
	return out, nil
}

func intentFromStripe(pi *stripe.PaymentIntent) *Intent {
	return &Intent{
		ID:             pi.ID,
		Status:         string(pi.Status),
		Amount:         pi.Amount,
		AmountReceived: pi.AmountReceived,
		ClientSecret:   pi.ClientSecret,
		Metadata:       pi.Metadata,
	}
}

func transferFromStripe(tr *stripe.Transfer) *Transfer {
	t := &Transfer{
		ID:       tr.ID,
		Amount:   tr.Amount,
		Reversed: tr.Reversed,
		Metadata: tr.Metadata,
	}
	if tr.Destination != nil {
		t.Destination = tr.Destination.ID
	}
	return t
}

// mapStripeError separates caller mistakes from processor outages. Anything
// that is not a 4xx from Stripe is treated as unavailability.
func mapStripeError(err error) error {
	var se *stripe.Error
	if errors.As(err, &se) {
		switch {
		case se.HTTPStatusCode == 404:
			return fmt.Errorf("%w: %s", util.ErrNotFound, se.Msg)
		case se.HTTPStatusCode >= 400 && se.HTTPStatusCode < 500 && se.HTTPStatusCode != 429:
			return fmt.Errorf("%w: %s", util.ErrValidation, se.Msg)
		}
	}
	return fmt.Errorf("%w: %v", util.ErrRailUnavailable, err)
}
