// internal/rail/card/stripe_test.go
package card

import (
	"testing"
	"time"

	"puzzlebounty/internal/rail"

	"github.com/stripe/stripe-go/v76/webhook"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testWebhookSecret = "whsec_test_secret"

func signed(t *testing.T, payload string) (string, []byte) {
	t.Helper()
	sp := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   []byte(payload),
		Secret:    testWebhookSecret,
		Timestamp: time.Now(),
	})
	return sp.Header, sp.Payload
}

func TestStripeProcessor_ParseWebhook(t *testing.T) {
	p := NewStripeProcessor("sk_test_unused", testWebhookSecret)

	t.Run("payment succeeded", func(t *testing.T) {
		header, body := signed(t, `{"id":"evt_1","object":"event","type":"payment_intent.succeeded",
			"data":{"object":{"id":"pi_42","object":"payment_intent","metadata":{"deposit_id":"dep-9"}}}}`)
		ev, err := p.ParseWebhook(body, header)
		require.NoError(t, err)
		assert.Equal(t, "evt_1", ev.ID)
		assert.Equal(t, rail.EventPaymentSucceeded, ev.Type)
		assert.Equal(t, "pi_42", ev.Reference)
		assert.Equal(t, "dep-9", ev.CorrelationID)
	})

	t.Run("declined attempt carries the reason", func(t *testing.T) {
		header, body := signed(t, `{"id":"evt_2","object":"event","type":"payment_intent.payment_failed",
			"data":{"object":{"id":"pi_43","object":"payment_intent","metadata":{"deposit_id":"dep-10"},
			"last_payment_error":{"message":"card declined"}}}}`)
		ev, err := p.ParseWebhook(body, header)
		require.NoError(t, err)
		assert.Equal(t, rail.EventPaymentDeclined, ev.Type)
		assert.Equal(t, "card declined", ev.Reason)
	})

	t.Run("canceled intent", func(t *testing.T) {
		header, body := signed(t, `{"id":"evt_5","object":"event","type":"payment_intent.canceled",
			"data":{"object":{"id":"pi_44","object":"payment_intent","metadata":{"deposit_id":"dep-11"}}}}`)
		ev, err := p.ParseWebhook(body, header)
		require.NoError(t, err)
		assert.Equal(t, rail.EventPaymentCanceled, ev.Type)
		assert.Equal(t, "pi_44", ev.Reference)
		assert.Equal(t, "payment_intent.canceled", ev.Reason)
	})

	t.Run("unrelated events are ignored", func(t *testing.T) {
		header, body := signed(t, `{"id":"evt_3","object":"event","type":"customer.created","data":{"object":{"id":"cus_1"}}}`)
		ev, err := p.ParseWebhook(body, header)
		require.NoError(t, err)
		assert.Equal(t, rail.EventIgnored, ev.Type)
	})

	t.Run("bad signature", func(t *testing.T) {
		_, body := signed(t, `{"id":"evt_4","object":"event","type":"payment_intent.succeeded","data":{"object":{}}}`)
		_, err := p.ParseWebhook(body, "t=1,v1=deadbeef")
		assert.Error(t, err)
	})
}

func TestStripeProcessor_ParseWebhookWithoutSecret(t *testing.T) {
	p := NewStripeProcessor("sk_test_unused", "")
	sp := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   []byte(`{"id":"evt_6","object":"event","type":"payment_intent.canceled","data":{"object":{"id":"pi_45"}}}`),
		Secret:    "",
		Timestamp: time.Now(),
	})
	_, err := p.ParseWebhook(sp.Payload, sp.Header)
	assert.ErrorIs(t, err, errNoWebhookSecret)
}
