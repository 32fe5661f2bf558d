// Package verifier authenticates billing webhooks and decodes them into the
// typed lifecycle events the state machine consumes. It keeps no state: replays
// are absorbed by the idempotent ledger and notification writes downstream.
package verifier

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/webhook"
	"go.uber.org/fx"

	"github.com/fatflowers/membership/internal/app/service/lifecycle"
	"github.com/fatflowers/membership/internal/platform/billing"
	"github.com/fatflowers/membership/pkg/config"
)

// Provider event types the engine acts on. Anything else decodes to lifecycle.Unknown.
const (
	TypePaymentIntentSucceeded = "payment_intent.succeeded"
	TypePaymentIntentFailed    = "payment_intent.payment_failed"
	TypeInvoicePaid            = "invoice.paid"
	TypeInvoicePaymentSucceed  = "invoice.payment_succeeded"
	TypeInvoicePaymentFailed   = "invoice.payment_failed"
	TypeSubscriptionCreated    = "customer.subscription.created"
	TypeSubscriptionUpdated    = "customer.subscription.updated"
	TypeSubscriptionDeleted    = "customer.subscription.deleted"
)

// VerifiedEvent is an authenticated webhook with its typed payload.
type VerifiedEvent struct {
	ID       string
	Type     string
	Created  time.Time
	Livemode bool
	Event    lifecycle.Event
	Refs     lifecycle.Refs
	// Raw is the event's data.object.
	Raw json.RawMessage
}

type Verifier struct {
	secret    string
	tolerance time.Duration
}

func New(cfg *config.Config) *Verifier {
	return &Verifier{secret: cfg.Stripe.WebhookSecret, tolerance: cfg.Stripe.WebhookTolerance}
}

func (v *Verifier) Verify(payload []byte, signatureHeader string) (*VerifiedEvent, error) {
	return Verify(payload, signatureHeader, v.secret, v.tolerance)
}

// Verify checks the HMAC-SHA256 signature header over payload and decodes the
// event. Failures are *VerificationError; nothing else is returned as an error.
func Verify(payload []byte, signatureHeader, secret string, tolerance time.Duration) (*VerifiedEvent, error) {
	if secret == "" {
		return nil, invalidSignature(errors.New("webhook secret is not configured"))
	}
	if strings.TrimSpace(signatureHeader) == "" {
		return nil, invalidSignature(webhook.ErrNotSigned)
	}
	ev, err := webhook.ConstructEventWithOptions(payload, signatureHeader, secret, webhook.ConstructEventOptions{
		Tolerance:                tolerance,
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		if isSignatureError(err) {
			return nil, invalidSignature(err)
		}
		return nil, malformed(err)
	}
	if ev.ID == "" || ev.Type == "" {
		return nil, malformed(errors.New("event id or type missing"))
	}

	out := &VerifiedEvent{
		ID:       ev.ID,
		Type:     string(ev.Type),
		Created:  time.Unix(ev.Created, 0).UTC(),
		Livemode: ev.Livemode,
	}
	if ev.Data != nil {
		out.Raw = ev.Data.Raw
	}
	typed, err := decode(out.ID, out.Type, out.Created, out.Raw)
	if err != nil {
		return nil, malformed(fmt.Errorf("decode %s: %w", out.Type, err))
	}
	out.Event = typed
	out.Refs = lifecycle.RefsOf(typed)
	return out, nil
}

func isSignatureError(err error) bool {
	return errors.Is(err, webhook.ErrNotSigned) ||
		errors.Is(err, webhook.ErrInvalidHeader) ||
		errors.Is(err, webhook.ErrNoValidSignature) ||
		errors.Is(err, webhook.ErrTooOld)
}

func decode(id, typ string, created time.Time, raw json.RawMessage) (lifecycle.Event, error) {
	switch typ {
	case TypePaymentIntentSucceeded, TypePaymentIntentFailed:
		if len(raw) == 0 {
			return nil, errors.New("missing data.object")
		}
		var pi stripe.PaymentIntent
		if err := json.Unmarshal(raw, &pi); err != nil {
			return nil, err
		}
		return decodePaymentIntent(id, typ, created, &pi)
	case TypeInvoicePaid, TypeInvoicePaymentSucceed, TypeInvoicePaymentFailed:
		if len(raw) == 0 {
			return nil, errors.New("missing data.object")
		}
		var in invoice
		if err := json.Unmarshal(raw, &in); err != nil {
			return nil, err
		}
		return decodeInvoice(id, typ, created, &in)
	case TypeSubscriptionCreated, TypeSubscriptionUpdated, TypeSubscriptionDeleted:
		if len(raw) == 0 {
			return nil, errors.New("missing data.object")
		}
		var sub stripe.Subscription
		if err := json.Unmarshal(raw, &sub); err != nil {
			return nil, err
		}
		return decodeSubscription(id, typ, created, &sub)
	}
	return lifecycle.Unknown{EventID: id, Type: typ}, nil
}

func decodePaymentIntent(id, typ string, created time.Time, pi *stripe.PaymentIntent) (lifecycle.Event, error) {
	if pi.ID == "" {
		return nil, errors.New("payment intent id missing")
	}
	if typ == TypePaymentIntentFailed {
		ev := lifecycle.PaymentFailed{
			EventID:        id,
			IntentID:       pi.ID,
			MemberID:       memberIDFrom(pi.Metadata),
			CustomerID:     customerID(pi.Customer),
			SubscriptionID: pi.Metadata["subscription_id"],
			Amount:         pi.Amount,
			Currency:       string(pi.Currency),
			OccurredAt:     created,
		}
		if pi.LastPaymentError != nil {
			ev.Reason = pi.LastPaymentError.Msg
			if ev.Reason == "" {
				ev.Reason = string(pi.LastPaymentError.Code)
			}
		}
		return ev, nil
	}
	return lifecycle.PaymentSucceeded{
		EventID:        id,
		IntentID:       pi.ID,
		MemberID:       memberIDFrom(pi.Metadata),
		CustomerID:     customerID(pi.Customer),
		SubscriptionID: pi.Metadata["subscription_id"],
		PlanName:       pi.Metadata[billing.MetadataPlan],
		Amount:         pi.Amount,
		Currency:       string(pi.Currency),
		OccurredAt:     created,
		// intents we create carry the member id; the provider's invoice intents do not
		InvoiceOwned: pi.Metadata[billing.MetadataMemberID] == "",
	}, nil
}

func decodeInvoice(id, typ string, created time.Time, in *invoice) (lifecycle.Event, error) {
	if in.ID == "" {
		return nil, errors.New("invoice id missing")
	}
	md := in.metadata()
	if typ == TypeInvoicePaymentFailed {
		ev := lifecycle.PaymentFailed{
			EventID:        id,
			IntentID:       in.paymentIntentID(),
			MemberID:       memberIDFrom(md),
			CustomerID:     string(in.Customer),
			SubscriptionID: in.subscriptionID(),
			Amount:         in.AmountDue,
			Currency:       in.Currency,
			OccurredAt:     created,
		}
		if in.LastFinalizationError != nil {
			ev.Reason = in.LastFinalizationError.Message
		}
		return ev, nil
	}
	occurred := created
	if at := in.paidAt(); at > 0 {
		occurred = time.Unix(at, 0).UTC()
	}
	p := in.servicePeriod()
	return lifecycle.SubscriptionRenewed{
		EventID:        id,
		InvoiceID:      in.ID,
		IntentID:       in.paymentIntentID(),
		SubscriptionID: in.subscriptionID(),
		CustomerID:     string(in.Customer),
		MemberID:       memberIDFrom(md),
		Amount:         in.AmountPaid,
		Currency:       in.Currency,
		PeriodStart:    unixOrZero(p.Start),
		PeriodEnd:      unixOrZero(p.End),
		Initial:        in.BillingReason == "subscription_create",
		OccurredAt:     occurred,
	}, nil
}

func decodeSubscription(id, typ string, created time.Time, sub *stripe.Subscription) (lifecycle.Event, error) {
	if sub.ID == "" {
		return nil, errors.New("subscription id missing")
	}
	switch {
	case typ == TypeSubscriptionCreated:
		return lifecycle.SubscriptionCreated{
			EventID:        id,
			SubscriptionID: sub.ID,
			CustomerID:     customerID(sub.Customer),
			MemberID:       memberIDFrom(sub.Metadata),
			OccurredAt:     created,
		}, nil
	case typ == TypeSubscriptionDeleted,
		typ == TypeSubscriptionUpdated && sub.Status == stripe.SubscriptionStatusCanceled:
		at := sub.CanceledAt
		if at == 0 {
			at = sub.EndedAt
		}
		return lifecycle.SubscriptionCancelled{
			EventID:        id,
			SubscriptionID: sub.ID,
			CustomerID:     customerID(sub.Customer),
			MemberID:       memberIDFrom(sub.Metadata),
			CancelledAt:    unixOrZero(at),
			OccurredAt:     created,
		}, nil
	}
	return lifecycle.Unknown{EventID: id, Type: typ}, nil
}

// memberIDFrom reads the member id stamped into metadata. Missing or invalid
// values yield 0 and the router falls back to other references.
func memberIDFrom(md map[string]string) int64 {
	v, ok := md[billing.MetadataMemberID]
	if !ok {
		return 0
	}
	id, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
	if err != nil || id <= 0 {
		return 0
	}
	return id
}

func customerID(c *stripe.Customer) string {
	if c == nil {
		return ""
	}
	return c.ID
}

func unixOrZero(sec int64) time.Time {
	if sec <= 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0).UTC()
}

var Module = fx.Options(
	fx.Provide(New),
)
