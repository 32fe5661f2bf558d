// Package billing talks to the payment platform's API for the operations this
// service initiates itself. Inbound events arrive through webhooks instead.
package billing

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v84"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/fatflowers/membership/pkg/config"
	"github.com/fatflowers/membership/pkg/types"
)

// Metadata keys stamped on objects created here and read back from webhook payloads.
const (
	MetadataMemberID = "member_id"
	MetadataPlan     = "plan"
)

var ErrNotConfigured = errors.New("billing api key is not configured")

type PaymentIntentRequest struct {
	MemberID int64
	PlanName string
	Amount   decimal.Decimal
	Currency string
	Email    string
}

type PaymentIntent struct {
	ID           string          `json:"id"`
	ClientSecret string          `json:"client_secret"`
	Status       string          `json:"status"`
	Amount       decimal.Decimal `json:"amount"`
	Currency     string          `json:"currency"`
}

type Client interface {
	CreatePaymentIntent(ctx context.Context, req PaymentIntentRequest) (*PaymentIntent, error)
	RetrieveSubscription(ctx context.Context, id string) (*stripe.Subscription, error)
	CancelSubscription(ctx context.Context, id string) (*stripe.Subscription, error)
}

// StripeClient implements Client with the stripe-go v84 client.
type StripeClient struct {
	api *stripe.Client
}

func NewStripeClient(cfg *config.Config, log *zap.SugaredLogger) Client {
	key := strings.TrimSpace(cfg.Stripe.SecretKey)
	if key == "" {
		log.Warnw("stripe.secret_key is empty, outbound billing calls are disabled")
		return &StripeClient{}
	}
	return &StripeClient{api: stripe.NewClient(key)}
}

func (c *StripeClient) CreatePaymentIntent(ctx context.Context, req PaymentIntentRequest) (*PaymentIntent, error) {
	if c.api == nil {
		return nil, ErrNotConfigured
	}
	currency := types.NormalizeCurrency(req.Currency)
	params := &stripe.PaymentIntentCreateParams{
		Amount:   stripe.Int64(types.ToMinorUnits(req.Amount, currency)),
		Currency: stripe.String(currency),
		Metadata: map[string]string{
			MetadataMemberID: strconv.FormatInt(req.MemberID, 10),
			MetadataPlan:     req.PlanName,
		},
		AutomaticPaymentMethods: &stripe.PaymentIntentCreateAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	if req.Email != "" {
		params.ReceiptEmail = stripe.String(req.Email)
	}
	pi, err := c.api.V1PaymentIntents.Create(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("create payment intent: %w", err)
	}
	return &PaymentIntent{
		ID:           pi.ID,
		ClientSecret: pi.ClientSecret,
		Status:       string(pi.Status),
		Amount:       types.FromMinorUnits(pi.Amount, string(pi.Currency)),
		Currency:     string(pi.Currency),
	}, nil
}

func (c *StripeClient) RetrieveSubscription(ctx context.Context, id string) (*stripe.Subscription, error) {
	if c.api == nil {
		return nil, ErrNotConfigured
	}
	sub, err := c.api.V1Subscriptions.Retrieve(ctx, id, &stripe.SubscriptionRetrieveParams{})
	if err != nil {
		return nil, fmt.Errorf("retrieve subscription %s: %w", id, err)
	}
	return sub, nil
}

func (c *StripeClient) CancelSubscription(ctx context.Context, id string) (*stripe.Subscription, error) {
	if c.api == nil {
		return nil, ErrNotConfigured
	}
	sub, err := c.api.V1Subscriptions.Cancel(ctx, id, &stripe.SubscriptionCancelParams{})
	if err != nil {
		return nil, fmt.Errorf("cancel subscription %s: %w", id, err)
	}
	return sub, nil
}

var Module = fx.Options(
	fx.Provide(NewStripeClient),
)
