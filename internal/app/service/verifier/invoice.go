package verifier

import (
	"bytes"
	"encoding/json"
	"strconv"
)

// ref is an expandable reference: either an id string or an object with an id.
type ref string

func (r *ref) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*r = ""
		return nil
	}
	if b[0] == '"' {
		s, err := strconv.Unquote(string(b))
		if err != nil {
			return err
		}
		*r = ref(s)
		return nil
	}
	var obj struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(b, &obj); err != nil {
		return err
	}
	*r = ref(obj.ID)
	return nil
}

type period struct {
	Start int64 `json:"start"`
	End   int64 `json:"end"`
}

// invoice reads the invoice fields the engine needs from both the legacy shape
// (top-level subscription and payment_intent) and the current one (parent and
// payments).
type invoice struct {
	ID            string            `json:"id"`
	Customer      ref               `json:"customer"`
	Subscription  ref               `json:"subscription"`
	PaymentIntent ref               `json:"payment_intent"`
	AmountPaid    int64             `json:"amount_paid"`
	AmountDue     int64             `json:"amount_due"`
	Currency      string            `json:"currency"`
	BillingReason string            `json:"billing_reason"`
	Metadata      map[string]string `json:"metadata"`
	Created       int64             `json:"created"`
	Parent        *struct {
		SubscriptionDetails *struct {
			Subscription ref               `json:"subscription"`
			Metadata     map[string]string `json:"metadata"`
		} `json:"subscription_details"`
	} `json:"parent"`
	Payments *struct {
		Data []struct {
			Payment struct {
				PaymentIntent ref `json:"payment_intent"`
			} `json:"payment"`
		} `json:"data"`
	} `json:"payments"`
	Lines *struct {
		Data []struct {
			Period period `json:"period"`
		} `json:"data"`
	} `json:"lines"`
	StatusTransitions *struct {
		PaidAt int64 `json:"paid_at"`
	} `json:"status_transitions"`
	LastFinalizationError *struct {
		Message string `json:"message"`
	} `json:"last_finalization_error"`
}

func (in *invoice) subscriptionID() string {
	if in.Subscription != "" {
		return string(in.Subscription)
	}
	if in.Parent != nil && in.Parent.SubscriptionDetails != nil {
		return string(in.Parent.SubscriptionDetails.Subscription)
	}
	return ""
}

func (in *invoice) paymentIntentID() string {
	if in.PaymentIntent != "" {
		return string(in.PaymentIntent)
	}
	if in.Payments != nil {
		for _, p := range in.Payments.Data {
			if p.Payment.PaymentIntent != "" {
				return string(p.Payment.PaymentIntent)
			}
		}
	}
	return ""
}

// metadata merges subscription metadata under the invoice's own.
func (in *invoice) metadata() map[string]string {
	out := map[string]string{}
	if in.Parent != nil && in.Parent.SubscriptionDetails != nil {
		for k, v := range in.Parent.SubscriptionDetails.Metadata {
			out[k] = v
		}
	}
	for k, v := range in.Metadata {
		out[k] = v
	}
	return out
}

// servicePeriod is the subscription period the invoice pays for: the widest
// span over its line items.
func (in *invoice) servicePeriod() period {
	var p period
	if in.Lines == nil {
		return p
	}
	for _, l := range in.Lines.Data {
		if l.Period.Start > 0 && (p.Start == 0 || l.Period.Start < p.Start) {
			p.Start = l.Period.Start
		}
		if l.Period.End > p.End {
			p.End = l.Period.End
		}
	}
	return p
}

func (in *invoice) paidAt() int64 {
	if in.StatusTransitions != nil {
		return in.StatusTransitions.PaidAt
	}
	return 0
}
