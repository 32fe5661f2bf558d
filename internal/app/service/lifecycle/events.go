package lifecycle

import "time"

// Event is a closed set of typed inputs to Decide.
type Event interface {
	Kind() EventKind
}

type EventKind string

const (
	KindPaymentSucceeded      EventKind = "payment_succeeded"
	KindPaymentFailed         EventKind = "payment_failed"
	KindSubscriptionRenewed   EventKind = "subscription_renewed"
	KindSubscriptionCreated   EventKind = "subscription_created"
	KindSubscriptionCancelled EventKind = "subscription_cancelled"
	KindSweepExpired          EventKind = "sweep_expired"
	KindSweepReminder         EventKind = "sweep_reminder"
	KindUnknown               EventKind = "unknown"
)

// PaymentSucceeded is a confirmed one-off payment intent. Amount is in minor units.
// InvoiceOwned marks an intent the provider created to collect a subscription
// invoice; the invoice event carries the membership change for it.
type PaymentSucceeded struct {
	EventID        string
	IntentID       string
	MemberID       int64
	CustomerID     string
	SubscriptionID string
	PlanName       string
	Amount         int64
	Currency       string
	OccurredAt     time.Time
	InvoiceOwned   bool
}

type PaymentFailed struct {
	EventID        string
	IntentID       string
	MemberID       int64
	CustomerID     string
	SubscriptionID string
	Amount         int64
	Currency       string
	Reason         string
	OccurredAt     time.Time
}

// SubscriptionRenewed is a paid subscription invoice. Initial marks the invoice that created the subscription.
type SubscriptionRenewed struct {
	EventID        string
	InvoiceID      string
	IntentID       string
	SubscriptionID string
	CustomerID     string
	MemberID       int64
	Amount         int64
	Currency       string
	PeriodStart    time.Time
	PeriodEnd      time.Time
	Initial        bool
	OccurredAt     time.Time
}

type SubscriptionCreated struct {
	EventID        string
	SubscriptionID string
	CustomerID     string
	MemberID       int64
	OccurredAt     time.Time
}

type SubscriptionCancelled struct {
	EventID        string
	SubscriptionID string
	CustomerID     string
	MemberID       int64
	CancelledAt    time.Time
	OccurredAt     time.Time
}

// SweepExpired asks whether an active membership has passed its end date at At.
type SweepExpired struct {
	At time.Time
}

// SweepReminder asks whether an active membership ends within RenewalDays of At.
type SweepReminder struct {
	At          time.Time
	RenewalDays int
}

// Unknown is any provider event this engine does not act on.
type Unknown struct {
	EventID string
	Type    string
}

func (PaymentSucceeded) Kind() EventKind      { return KindPaymentSucceeded }
func (PaymentFailed) Kind() EventKind         { return KindPaymentFailed }
func (SubscriptionRenewed) Kind() EventKind   { return KindSubscriptionRenewed }
func (SubscriptionCreated) Kind() EventKind   { return KindSubscriptionCreated }
func (SubscriptionCancelled) Kind() EventKind { return KindSubscriptionCancelled }
func (SweepExpired) Kind() EventKind          { return KindSweepExpired }
func (SweepReminder) Kind() EventKind         { return KindSweepReminder }
func (Unknown) Kind() EventKind               { return KindUnknown }

// Refs are the identifiers an event carries for locating the membership record.
type Refs struct {
	EventID        string
	MemberID       int64
	CustomerID     string
	SubscriptionID string
}

func RefsOf(ev Event) Refs {
	switch e := ev.(type) {
	case PaymentSucceeded:
		return Refs{EventID: e.EventID, MemberID: e.MemberID, CustomerID: e.CustomerID, SubscriptionID: e.SubscriptionID}
	case PaymentFailed:
		return Refs{EventID: e.EventID, MemberID: e.MemberID, CustomerID: e.CustomerID, SubscriptionID: e.SubscriptionID}
	case SubscriptionRenewed:
		return Refs{EventID: e.EventID, MemberID: e.MemberID, CustomerID: e.CustomerID, SubscriptionID: e.SubscriptionID}
	case SubscriptionCreated:
		return Refs{EventID: e.EventID, MemberID: e.MemberID, CustomerID: e.CustomerID, SubscriptionID: e.SubscriptionID}
	case SubscriptionCancelled:
		return Refs{EventID: e.EventID, MemberID: e.MemberID, CustomerID: e.CustomerID, SubscriptionID: e.SubscriptionID}
	case Unknown:
		return Refs{EventID: e.EventID}
	}
	return Refs{}
}

// WithMemberID returns ev with its member id replaced, for events resolved after decoding.
func WithMemberID(ev Event, memberID int64) Event {
	switch e := ev.(type) {
	case PaymentSucceeded:
		e.MemberID = memberID
		return e
	case PaymentFailed:
		e.MemberID = memberID
		return e
	case SubscriptionRenewed:
		e.MemberID = memberID
		return e
	case SubscriptionCreated:
		e.MemberID = memberID
		return e
	case SubscriptionCancelled:
		e.MemberID = memberID
		return e
	}
	return ev
}
