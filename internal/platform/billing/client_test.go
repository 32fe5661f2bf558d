package billing

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v84"
	"go.uber.org/zap"

	"github.com/fatflowers/membership/pkg/config"
)

func TestUnconfiguredClient(t *testing.T) {
	c := NewStripeClient(&config.Config{}, zap.NewNop().Sugar())
	_, err := c.CreatePaymentIntent(context.Background(), PaymentIntentRequest{MemberID: 1})
	assert.ErrorIs(t, err, ErrNotConfigured)
	_, err = c.RetrieveSubscription(context.Background(), "sub_1")
	assert.ErrorIs(t, err, ErrNotConfigured)
	_, err = c.CancelSubscription(context.Background(), "sub_1")
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestCreatePaymentIntent(t *testing.T) {
	var form url.Values
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/payment_intents", r.URL.Path)
		body, _ := io.ReadAll(r.Body)
		form, _ = url.ParseQuery(string(body))
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"id":"pi_123","object":"payment_intent","amount":10000,"currency":"usd","status":"requires_payment_method","client_secret":"pi_123_secret"}`)
	}))
	defer srv.Close()

	backends := stripe.NewBackendsWithConfig(&stripe.BackendConfig{URL: stripe.String(srv.URL)})
	c := &StripeClient{api: stripe.NewClient("sk_test_123", stripe.WithBackends(backends))}

	pi, err := c.CreatePaymentIntent(context.Background(), PaymentIntentRequest{
		MemberID: 42,
		PlanName: "annual",
		Amount:   decimal.RequireFromString("100"),
		Currency: "USD",
	})
	require.NoError(t, err)
	assert.Equal(t, "pi_123", pi.ID)
	assert.Equal(t, "pi_123_secret", pi.ClientSecret)
	assert.True(t, decimal.RequireFromString("100").Equal(pi.Amount))

	assert.Equal(t, "10000", form.Get("amount"))
	assert.Equal(t, "usd", form.Get("currency"))
	assert.Equal(t, "42", form.Get("metadata[member_id]"))
	assert.Equal(t, "annual", form.Get("metadata[plan]"))
}
