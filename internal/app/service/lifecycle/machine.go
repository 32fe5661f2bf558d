// Package lifecycle holds the membership state machine. Decide is pure: it
// reads a snapshot of persisted state and returns the changes and side effects
// the caller has to persist, without doing any I/O.
package lifecycle

import (
	"fmt"
	"math"
	"time"

	"github.com/fatflowers/membership/internal/models"
	"github.com/fatflowers/membership/pkg/types"
)

// Snapshot is the persisted state a decision is based on. Transaction is the
// ledger row the event writes to, nil when there is none yet.
type Snapshot struct {
	MemberID    int64
	Current     *models.Subscription
	Transaction *models.Transaction
}

// Decision is the outcome of Decide. A zero Decision is a no-op.
type Decision struct {
	Reason  types.MembershipChangeReason
	Changes *models.SubscriptionFields
	Effects []Effect
	// Note explains a no-op or a partial outcome, for logs.
	Note string
}

func (d Decision) NoOp() bool {
	return d.Changes.Empty() && len(d.Effects) == 0
}

// Next returns the record that results from applying the decision to current.
func (d Decision) Next(memberID int64, current *models.Subscription) *models.Subscription {
	next := current.Clone()
	if next == nil {
		next = &models.Subscription{MemberID: memberID, Status: types.MembershipStatusInactive}
	}
	d.Changes.ApplyTo(next)
	return next
}

// TransactionKeyOf returns the ledger key ev writes to, if any.
func TransactionKeyOf(ev Event) (models.TransactionKey, bool) {
	var k models.TransactionKey
	switch e := ev.(type) {
	case PaymentSucceeded:
		k = models.TransactionKey{PaymentIntentID: e.IntentID}
	case PaymentFailed:
		k = models.TransactionKey{PaymentIntentID: e.IntentID}
	case SubscriptionRenewed:
		k = renewalKey(e)
	default:
		return k, false
	}
	return k, k.Valid()
}

func renewalKey(e SubscriptionRenewed) models.TransactionKey {
	if e.IntentID != "" {
		return models.TransactionKey{PaymentIntentID: e.IntentID}
	}
	bucket := e.PeriodStart
	if bucket.IsZero() {
		bucket = e.OccurredAt
	}
	return models.TransactionKey{SubscriptionID: e.SubscriptionID, Type: renewalType(e), BucketAt: bucket}
}

func renewalType(e SubscriptionRenewed) types.TransactionType {
	if e.Initial {
		return types.TransactionTypeMembershipPayment
	}
	return types.TransactionTypeSubscriptionRenewal
}

// Decide maps (snapshot, event) to the next state and its side effects.
// Unknown events and failed guards yield a no-op, never an error.
func Decide(p Policy, snap Snapshot, ev Event, now time.Time) Decision {
	switch e := ev.(type) {
	case PaymentSucceeded:
		return decidePaymentSucceeded(p, snap, e, now)
	case PaymentFailed:
		return decidePaymentFailed(snap, e)
	case SubscriptionRenewed:
		return decideRenewed(p, snap, e, now)
	case SubscriptionCreated:
		return decideCreated(snap, e)
	case SubscriptionCancelled:
		return decideCancelled(snap, e, now)
	case SweepExpired:
		return decideExpired(snap, e)
	case SweepReminder:
		return decideReminder(snap, e)
	case Unknown:
		return Decision{Note: fmt.Sprintf("unhandled event type %q", e.Type)}
	}
	return Decision{Note: "unhandled event"}
}

func decidePaymentSucceeded(p Policy, snap Snapshot, e PaymentSucceeded, now time.Time) Decision {
	if e.IntentID == "" {
		return Decision{Note: "payment without intent id"}
	}
	if e.InvoiceOwned {
		return decideInvoiceIntent(snap, e)
	}
	plan, ok := p.MatchPlan(e.Amount, e.Currency, e.PlanName)
	if !ok {
		return Decision{Note: fmt.Sprintf("amount %d %s does not match a plan", e.Amount, e.Currency)}
	}
	occurred := orNow(e.OccurredAt, now)
	key := models.TransactionKey{PaymentIntentID: e.IntentID}
	amount := types.FromMinorUnits(e.Amount, e.Currency)
	currency := types.NormalizeCurrency(e.Currency)

	d := Decision{Reason: types.MembershipChangeReasonPayment}
	d.Effects = append(d.Effects, RecordTransaction{Key: key, Fields: models.TransactionFields{
		MemberID:   snap.MemberID,
		Amount:     amount,
		Currency:   currency,
		Status:     types.TransactionStatusCompleted,
		Type:       types.TransactionTypeMembershipPayment,
		Metadata:   compact(map[string]any{"payment_event_id": e.EventID, "plan": plan.Name, "customer_id": e.CustomerID}),
		OccurredAt: occurred,
	}})

	cur := snap.Current
	f := &models.SubscriptionFields{}
	linkRemote(f, cur, e.CustomerID, e.SubscriptionID)
	setPlan(f, cur, plan, true)
	end := occurred.AddDate(0, 0, plan.DurationDays)
	data := NotificationData{PlanName: plan.Name, Amount: amount, Currency: currency}

	if cur.IsStatus(types.MembershipStatusActive) {
		extend(f, cur, occurred, end, recurring(plan))
		data.EndDate = formatDate(maxTime(cur.EndDate, end))
		d.Changes = f
		d.Effects = append(d.Effects, SendNotification{
			Type:     types.NotificationTypePaymentConfirmation,
			DedupKey: paymentDedupKey(key),
			Data:     data,
		})
		return d
	}
	if !end.After(now) {
		d.Changes = f
		d.Note = "payment period already over, not activating"
		return d
	}
	d.Reason = types.MembershipChangeReasonActivate
	welcome := activate(f, cur, occurred, end, recurring(plan))
	d.Changes = f
	data.EndDate = formatDate(maxTime(endOf(cur), end))
	d.Effects = append(d.Effects, activationNotice(welcome, key, data), MailingList{Action: ListSubscribe})
	return d
}

// decideInvoiceIntent only merges metadata into a row the invoice already wrote.
// Without one the intent is left to the invoice, whose ledger key may not name it.
func decideInvoiceIntent(snap Snapshot, e PaymentSucceeded) Decision {
	if snap.Transaction == nil {
		return Decision{Note: "intent belongs to a subscription invoice"}
	}
	return Decision{
		Effects: []Effect{RecordTransaction{
			Key: models.TransactionKey{PaymentIntentID: e.IntentID},
			Fields: models.TransactionFields{
				MemberID:   snap.MemberID,
				Status:     snap.Transaction.Status,
				Type:       snap.Transaction.Type,
				Metadata:   compact(map[string]any{"payment_event_id": e.EventID, "customer_id": e.CustomerID}),
				OccurredAt: e.OccurredAt,
			},
		}},
		Note: "intent belongs to a subscription invoice",
	}
}

func decidePaymentFailed(snap Snapshot, e PaymentFailed) Decision {
	if e.IntentID == "" {
		return Decision{Note: "failed payment without intent id"}
	}
	key := models.TransactionKey{PaymentIntentID: e.IntentID}
	amount := types.FromMinorUnits(e.Amount, e.Currency)
	d := Decision{Reason: types.MembershipChangeReasonPaymentFail}
	d.Effects = append(d.Effects, RecordTransaction{Key: key, Fields: models.TransactionFields{
		MemberID:   snap.MemberID,
		Amount:     amount,
		Currency:   types.NormalizeCurrency(e.Currency),
		Status:     types.TransactionStatusFailed,
		Type:       types.TransactionTypeMembershipPayment,
		Metadata:   compact(map[string]any{"payment_event_id": e.EventID, "failure_reason": e.Reason}),
		OccurredAt: e.OccurredAt,
	}})
	if paid(snap.Transaction) {
		d.Note = "payment already completed, failure notice suppressed"
		return d
	}
	if snap.Current.IsStatus(types.MembershipStatusActive) {
		d.Effects = append(d.Effects, SendNotification{
			Type:     types.NotificationTypePaymentFailed,
			DedupKey: "payment_failed:" + key.LedgerKey(),
			Data: NotificationData{
				PlanName: snap.Current.PlanName,
				Amount:   amount,
				Currency: types.NormalizeCurrency(e.Currency),
				EndDate:  formatDate(snap.Current.EndDate),
				Reason:   e.Reason,
			},
		})
	}
	return d
}

func decideRenewed(p Policy, snap Snapshot, e SubscriptionRenewed, now time.Time) Decision {
	key := renewalKey(e)
	if !key.Valid() {
		return Decision{Note: "renewal without intent or subscription id"}
	}
	occurred := orNow(e.OccurredAt, now)
	amount := types.FromMinorUnits(e.Amount, e.Currency)
	currency := types.NormalizeCurrency(e.Currency)

	d := Decision{Reason: types.MembershipChangeReasonRenew}
	d.Effects = append(d.Effects, RecordTransaction{Key: key, Fields: models.TransactionFields{
		MemberID: snap.MemberID,
		Amount:   amount,
		Currency: currency,
		Status:   types.TransactionStatusCompleted,
		Type:     renewalType(e),
		Metadata: compact(map[string]any{
			"invoice_event_id": e.EventID,
			"invoice_id":       e.InvoiceID,
			"subscription_id":  e.SubscriptionID,
		}),
		OccurredAt: occurred,
	}})
	if e.PeriodEnd.IsZero() {
		d.Note = "renewal without period, ledger only"
		return d
	}

	cur := snap.Current
	f := &models.SubscriptionFields{}
	linkRemote(f, cur, e.CustomerID, e.SubscriptionID)
	if cur == nil || cur.PlanName == "" {
		if plan, ok := p.MatchPlan(e.Amount, e.Currency, ""); ok {
			setPlan(f, cur, plan, false)
		}
	}
	start := e.PeriodStart
	if start.IsZero() {
		start = occurred
	}

	switch {
	case cur.IsStatus(types.MembershipStatusActive):
		extend(f, cur, start, e.PeriodEnd, true)
		d.Changes = f
	case cur.IsStatus(types.MembershipStatusCancelled) && sameSubscription(cur, e.SubscriptionID):
		// a late invoice for a cancelled subscription pays out the period, it does not reactivate
		f.EndDate = later(cur.EndDate, e.PeriodEnd)
		d.Changes = f
		d.Note = "subscription cancelled, end date only"
	case !e.PeriodEnd.After(now):
		d.Changes = f
		d.Note = "renewal period already over, not activating"
	default:
		d.Reason = types.MembershipChangeReasonActivate
		welcome := activate(f, cur, start, e.PeriodEnd, true)
		d.Changes = f
		data := NotificationData{Amount: amount, Currency: currency, EndDate: formatDate(maxTime(endOf(cur), e.PeriodEnd))}
		if f.PlanName != nil {
			data.PlanName = *f.PlanName
		} else if cur != nil {
			data.PlanName = cur.PlanName
		}
		d.Effects = append(d.Effects, activationNotice(welcome, key, data), MailingList{Action: ListSubscribe})
	}
	return d
}

func decideCreated(snap Snapshot, e SubscriptionCreated) Decision {
	f := &models.SubscriptionFields{}
	linkRemote(f, snap.Current, e.CustomerID, e.SubscriptionID)
	if snap.Current == nil {
		f.Status = ptr(types.MembershipStatusInactive)
	}
	if f.Empty() {
		return Decision{Note: "remote ids already linked"}
	}
	return Decision{Reason: types.MembershipChangeReasonLink, Changes: f}
}

func decideCancelled(snap Snapshot, e SubscriptionCancelled, now time.Time) Decision {
	cur := snap.Current
	if !cur.IsStatus(types.MembershipStatusActive) {
		return Decision{Note: "membership not active, cancellation ignored"}
	}
	if e.SubscriptionID != "" && cur.RemoteSubscriptionID != nil && *cur.RemoteSubscriptionID != e.SubscriptionID {
		return Decision{Note: "cancellation for a different subscription"}
	}
	at := e.CancelledAt
	if at.IsZero() {
		at = orNow(e.OccurredAt, now)
	}
	f := &models.SubscriptionFields{
		Status:               ptr(types.MembershipStatusCancelled),
		CancelledAt:          &at,
		ClearNextBillingDate: true,
	}
	linkRemote(f, cur, e.CustomerID, e.SubscriptionID)
	return Decision{Reason: types.MembershipChangeReasonCancel, Changes: f}
}

func decideExpired(snap Snapshot, e SweepExpired) Decision {
	cur := snap.Current
	if !cur.IsStatus(types.MembershipStatusActive) || cur.EndDate == nil || !cur.EndDate.Before(e.At) {
		return Decision{Note: "not expired"}
	}
	return Decision{
		Reason: types.MembershipChangeReasonExpire,
		Changes: &models.SubscriptionFields{
			Status:               ptr(types.MembershipStatusExpired),
			ClearNextBillingDate: cur.NextBillingDate != nil,
		},
		Effects: []Effect{
			SendNotification{
				Type:     types.NotificationTypeMembershipExpired,
				DedupKey: fmt.Sprintf("membership_expired:%d:%d", snap.MemberID, cur.EndDate.Unix()),
				Data:     NotificationData{PlanName: cur.PlanName, Amount: cur.Amount, Currency: cur.Currency, EndDate: formatDate(cur.EndDate)},
			},
			MailingList{Action: ListUnsubscribe},
		},
	}
}

func decideReminder(snap Snapshot, e SweepReminder) Decision {
	cur := snap.Current
	if !cur.IsStatus(types.MembershipStatusActive) || cur.EndDate == nil {
		return Decision{Note: "not active"}
	}
	horizon := e.At.AddDate(0, 0, e.RenewalDays)
	if !cur.EndDate.After(e.At) || cur.EndDate.After(horizon) {
		return Decision{Note: "outside renewal window"}
	}
	return Decision{
		Reason: types.MembershipChangeReasonRemind,
		Effects: []Effect{SendNotification{
			Type: types.NotificationTypeRenewalReminder,
			Data: NotificationData{
				PlanName: cur.PlanName,
				Amount:   cur.Amount,
				Currency: cur.Currency,
				EndDate:  formatDate(cur.EndDate),
				DaysLeft: int(math.Ceil(cur.EndDate.Sub(e.At).Hours() / 24)),
			},
		}},
	}
}

// activate moves a non-active record to active and reports whether this is the
// member's first ever activation.
func activate(f *models.SubscriptionFields, cur *models.Subscription, start, end time.Time, renews bool) bool {
	f.Status = ptr(types.MembershipStatusActive)
	f.StartDate = &start
	f.EndDate = later(endOf(cur), end)
	if renews {
		f.NextBillingDate = later(nextBillingOf(cur), end)
	} else if nextBillingOf(cur) != nil {
		f.ClearNextBillingDate = true
	}
	if cur != nil && cur.CancelledAt != nil {
		f.ClearCancelledAt = true
	}
	if cur == nil || cur.FirstActivatedAt == nil {
		f.FirstActivatedAt = &start
		return true
	}
	f.FirstActivatedAt = earlier(cur.FirstActivatedAt, start)
	return false
}

// extend widens an active record's period. Dates only move outward, so
// reordered and repeated events converge on the same record.
func extend(f *models.SubscriptionFields, cur *models.Subscription, start, end time.Time, renews bool) {
	f.EndDate = later(cur.EndDate, end)
	if renews {
		f.NextBillingDate = later(cur.NextBillingDate, end)
	}
	f.StartDate = earlier(cur.StartDate, start)
	f.FirstActivatedAt = earlier(cur.FirstActivatedAt, start)
}

func activationNotice(welcome bool, key models.TransactionKey, data NotificationData) SendNotification {
	t := types.NotificationTypePaymentConfirmation
	if welcome {
		t = types.NotificationTypeWelcomeEmail
	}
	return SendNotification{Type: t, DedupKey: paymentDedupKey(key), Data: data}
}

func paid(tx *models.Transaction) bool {
	return tx != nil && tx.Status == types.TransactionStatusCompleted
}

// paymentDedupKey is shared by welcome and confirmation messages so one payment
// never produces both.
func paymentDedupKey(key models.TransactionKey) string {
	return "payment:" + key.LedgerKey()
}

func linkRemote(f *models.SubscriptionFields, cur *models.Subscription, customerID, subscriptionID string) {
	if customerID != "" && (cur == nil || cur.RemoteCustomerID == nil || *cur.RemoteCustomerID != customerID) {
		f.RemoteCustomerID = &customerID
	}
	if subscriptionID != "" && (cur == nil || cur.RemoteSubscriptionID == nil || *cur.RemoteSubscriptionID != subscriptionID) {
		f.RemoteSubscriptionID = &subscriptionID
	}
}

func setPlan(f *models.SubscriptionFields, cur *models.Subscription, plan *types.Plan, overwrite bool) {
	if cur != nil && cur.PlanName != "" && !overwrite {
		return
	}
	amount := types.FromMinorUnits(plan.Amount, plan.Currency)
	currency := types.NormalizeCurrency(plan.Currency)
	if cur == nil || cur.PlanName != plan.Name {
		f.PlanName = &plan.Name
	}
	if cur == nil || !cur.Amount.Equal(amount) {
		f.Amount = &amount
	}
	if cur == nil || cur.Currency != currency {
		f.Currency = &currency
	}
	if cur == nil || cur.BillingCycle != plan.BillingCycle {
		cycle := plan.BillingCycle
		f.BillingCycle = &cycle
	}
}

func sameSubscription(cur *models.Subscription, subscriptionID string) bool {
	return cur != nil && cur.RemoteSubscriptionID != nil && subscriptionID != "" && *cur.RemoteSubscriptionID == subscriptionID
}

func recurring(plan *types.Plan) bool {
	return plan.BillingCycle != types.BillingCycleOnce
}

// later returns cand when it is after cur, nil when cur already covers it.
func later(cur *time.Time, cand time.Time) *time.Time {
	if cur != nil && !cand.After(*cur) {
		return nil
	}
	return &cand
}

func earlier(cur *time.Time, cand time.Time) *time.Time {
	if cur != nil && !cand.Before(*cur) {
		return nil
	}
	return &cand
}

func maxTime(cur *time.Time, cand time.Time) *time.Time {
	if cur != nil && cur.After(cand) {
		return cur
	}
	return &cand
}

func orNow(t, now time.Time) time.Time {
	if t.IsZero() {
		return now
	}
	return t
}

func formatDate(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format("January 2, 2006")
}

func compact(m map[string]any) map[string]any {
	for k, v := range m {
		if s, ok := v.(string); ok && s == "" {
			delete(m, k)
		}
	}
	return m
}

func ptr[T any](v T) *T {
	return &v
}

func endOf(s *models.Subscription) *time.Time {
	if s == nil {
		return nil
	}
	return s.EndDate
}

func nextBillingOf(s *models.Subscription) *time.Time {
	if s == nil {
		return nil
	}
	return s.NextBillingDate
}
