// Package router applies verified billing events and sweep findings to
// membership records. Every transition for a member runs under that member's
// lock and in one database transaction, so webhook deliveries and the sweep
// never interleave on the same record.
package router

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/fatflowers/membership/internal/app/service/ledger"
	"github.com/fatflowers/membership/internal/app/service/lifecycle"
	"github.com/fatflowers/membership/internal/app/service/notification"
	"github.com/fatflowers/membership/internal/app/service/verifier"
	"github.com/fatflowers/membership/internal/models"
	"github.com/fatflowers/membership/internal/platform/billing"
	"github.com/fatflowers/membership/internal/platform/directory"
	"github.com/fatflowers/membership/internal/platform/locker"
	"github.com/fatflowers/membership/internal/platform/mailinglist"
	"github.com/fatflowers/membership/pkg/config"
	"github.com/fatflowers/membership/pkg/logctx"
	"github.com/fatflowers/membership/pkg/metrics"
	"github.com/fatflowers/membership/pkg/tool"
)

// ErrUnknownMember means an event references no member this service knows.
// Such events are acknowledged: the provider retrying them cannot help.
var ErrUnknownMember = errors.New("unknown member reference")

type Outcome string

const (
	OutcomeApplied       Outcome = "applied"
	OutcomeNoop          Outcome = "noop"
	OutcomeIgnored       Outcome = "ignored"
	OutcomeUnknownMember Outcome = "unknown_member"
)

// Ack is the result of routing one event.
type Ack struct {
	EventID  string  `json:"event_id"`
	Type     string  `json:"type"`
	MemberID int64   `json:"member_id,omitempty"`
	Outcome  Outcome `json:"outcome"`
	Reason   string  `json:"reason,omitempty"`
	Note     string  `json:"note,omitempty"`
}

type Router struct {
	store   *ledger.Store
	queue   *notification.Queue
	locks   locker.Locker
	dir     directory.Directory
	billing billing.Client
	lists   mailinglist.Client
	listID  string
	policy  lifecycle.Policy
	now     tool.Clock
	rec     *metrics.Recorder
	log     *zap.SugaredLogger
}

// Params are the router's collaborators; fx fills them by type.
type Params struct {
	fx.In

	Store    *ledger.Store
	Queue    *notification.Queue
	Locker   locker.Locker
	Dir      directory.Directory
	Billing  billing.Client
	Lists    mailinglist.Client
	Config   *config.Config
	Clock    tool.Clock
	Recorder *metrics.Recorder
	Log      *zap.SugaredLogger
}

func New(p Params) *Router {
	m := p.Config.Membership
	return &Router{
		store:   p.Store,
		queue:   p.Queue,
		locks:   p.Locker,
		dir:     p.Dir,
		billing: p.Billing,
		lists:   p.Lists,
		listID:  m.MailingListID,
		policy:  lifecycle.Policy{Plans: m.Plans, DefaultTermDays: m.DefaultTermDays, RenewalDays: m.RenewalDays},
		now:     p.Clock,
		rec:     p.Recorder,
		log:     p.Log,
	}
}

// Policy is the lifecycle policy transitions are decided with.
func (r *Router) Policy() lifecycle.Policy {
	return r.policy
}

// Route applies a verified event. Unknown event types and unknown members are
// acknowledged with a nil error; a returned error is a store failure after
// which nothing was committed and the delivery may be retried.
func (r *Router) Route(ctx context.Context, ev *verifier.VerifiedEvent) (Ack, error) {
	ack := Ack{EventID: ev.ID, Type: ev.Type}
	ctx = logctx.WithEventID(ctx, ev.ID)
	log := logctx.FromCtx(ctx, r.log).With("event_type", ev.Type)

	if _, ok := ev.Event.(lifecycle.Unknown); ok {
		log.Infow("ignoring unhandled event type")
		ack.Outcome = OutcomeIgnored
		r.rec.WebhookEvent(ev.Type, string(ack.Outcome))
		return ack, nil
	}

	memberID, err := r.resolveMember(ctx, ev)
	if errors.Is(err, ErrUnknownMember) {
		log.Warnw("event references an unknown member, acknowledging", "refs", ev.Refs, "error", err)
		ack.Outcome = OutcomeUnknownMember
		r.rec.WebhookEvent(ev.Type, string(ack.Outcome))
		return ack, nil
	}
	if err != nil {
		r.rec.WebhookEvent(ev.Type, "error")
		return ack, err
	}
	ack.MemberID = memberID

	a, err := r.Transition(ctx, memberID, lifecycle.WithMemberID(ev.Event, memberID), ev.ID)
	if err != nil {
		r.rec.WebhookEvent(ev.Type, "error")
		return ack, err
	}
	ack.Reason, ack.Note = string(a.Reason), a.Note
	ack.Outcome = OutcomeApplied
	if a.NoOp() {
		ack.Outcome = OutcomeNoop
	}
	r.rec.WebhookEvent(ev.Type, string(ack.Outcome))
	return ack, nil
}

// resolveMember finds the member an event belongs to: by the remote ids linked
// to a membership record, then by the member id in the event metadata, then by
// the metadata of the remote subscription.
func (r *Router) resolveMember(ctx context.Context, ev *verifier.VerifiedEvent) (int64, error) {
	refs := ev.Refs
	if refs.CustomerID != "" || refs.SubscriptionID != "" {
		sub, err := r.store.FindSubscriptionByRemote(ctx, refs.CustomerID, refs.SubscriptionID)
		if err != nil {
			return 0, err
		}
		if sub != nil {
			return sub.MemberID, nil
		}
	}

	memberID := refs.MemberID
	if memberID == 0 && refs.SubscriptionID != "" {
		id, err := r.memberFromRemoteSubscription(ctx, refs.SubscriptionID)
		if err != nil {
			return 0, err
		}
		memberID = id
	}
	if memberID == 0 {
		return 0, fmt.Errorf("%w: no member id on event %s", ErrUnknownMember, ev.ID)
	}

	if _, err := r.dir.Lookup(ctx, memberID); err != nil {
		if errors.Is(err, directory.ErrMemberNotFound) {
			return 0, fmt.Errorf("%w: member %d", ErrUnknownMember, memberID)
		}
		return 0, err
	}
	return memberID, nil
}

func (r *Router) memberFromRemoteSubscription(ctx context.Context, subscriptionID string) (int64, error) {
	if r.billing == nil {
		return 0, nil
	}
	sub, err := r.billing.RetrieveSubscription(ctx, subscriptionID)
	if errors.Is(err, billing.ErrNotConfigured) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("resolve member: %w", err)
	}
	id, err := strconv.ParseInt(sub.Metadata[billing.MetadataMemberID], 10, 64)
	if err != nil || id <= 0 {
		return 0, nil
	}
	return id, nil
}

// Applied is a persisted decision. Notified counts the notifications queued;
// deduplication can suppress some of the decision's messages.
type Applied struct {
	lifecycle.Decision
	Notified int
}

// Changed reports whether applying the decision wrote anything.
func (a Applied) Changed() bool {
	if !a.Changes.Empty() || a.Notified > 0 {
		return true
	}
	for _, eff := range a.Effects {
		switch eff.(type) {
		case lifecycle.RecordTransaction, lifecycle.MailingList:
			return true
		}
	}
	return false
}

// Transition decides ev against the member's current record and persists the
// decision: record changes, ledger rows and notifications commit together.
// Mailing list updates run after commit and only log on failure.
func (r *Router) Transition(ctx context.Context, memberID int64, ev lifecycle.Event, eventID string) (Applied, error) {
	ctx = logctx.WithMemberID(ctx, memberID)
	log := logctx.FromCtx(ctx, r.log)

	unlock, err := r.locks.Lock(ctx, memberLockKey(memberID))
	if err != nil {
		return Applied{}, fmt.Errorf("lock member %d: %w", memberID, err)
	}
	defer unlock()

	// read before the transaction: the directory does not share it
	member, err := r.dir.Lookup(ctx, memberID)
	if err != nil && !errors.Is(err, directory.ErrMemberNotFound) {
		log.Warnw("member lookup failed, notifications will not be personalised", "error", err)
	}

	var (
		a    Applied
		post []lifecycle.MailingList
	)
	err = r.store.Transaction(ctx, func(tx *gorm.DB) error {
		store := r.store.WithTx(tx)
		queue := r.queue.WithTx(tx)

		var err error
		snap := lifecycle.Snapshot{MemberID: memberID}
		if snap.Current, err = store.GetSubscription(ctx, memberID, true); err != nil {
			return err
		}
		if key, ok := lifecycle.TransactionKeyOf(ev); ok {
			if snap.Transaction, err = store.FindTransaction(ctx, key); err != nil {
				return err
			}
		}
		d := lifecycle.Decide(r.policy, snap, ev, r.now())
		a = Applied{Decision: d}
		post = post[:0]

		if !d.Changes.Empty() {
			change := ledger.Change{Reason: d.Reason, EventID: eventID, Extra: noteExtra(d.Note)}
			if _, err := store.UpsertSubscription(ctx, memberID, d.Changes, change); err != nil {
				return err
			}
		}
		for _, eff := range d.Effects {
			switch e := eff.(type) {
			case lifecycle.RecordTransaction:
				if _, err := store.UpsertTransaction(ctx, e.Key, e.Fields); err != nil {
					return err
				}
			case lifecycle.SendNotification:
				created, err := enqueue(ctx, queue, memberID, member, e)
				if err != nil {
					return err
				}
				if created {
					a.Notified++
				}
			case lifecycle.MailingList:
				post = append(post, e)
			}
		}
		return nil
	})
	if err != nil {
		return Applied{}, err
	}

	if a.Changed() {
		r.rec.Transition(string(a.Reason))
		log.Infow("membership transition", "event", ev.Kind(), "reason", a.Reason, "notified", a.Notified, "note", a.Note)
	} else {
		log.Debugw("no transition", "event", ev.Kind(), "note", a.Note)
	}
	r.applyListChanges(ctx, member, post)
	return a, nil
}

// enqueue renders and queues e. It reports false when a deduplicated message already exists.
func enqueue(ctx context.Context, q *notification.Queue, memberID int64, member *models.Member, e lifecycle.SendNotification) (bool, error) {
	data := notification.Data{
		PlanName: e.Data.PlanName,
		Amount:   e.Data.Amount,
		Currency: e.Data.Currency,
		EndDate:  e.Data.EndDate,
		DaysLeft: e.Data.DaysLeft,
		Reason:   e.Data.Reason,
	}
	if member != nil {
		data.Name = member.DisplayName
	}
	subject, body, err := notification.Render(e.Type, data)
	if err != nil {
		return false, err
	}
	_, created, err := q.Enqueue(ctx, notification.Message{
		MemberID: memberID,
		Type:     e.Type,
		Subject:  subject,
		Body:     body,
		DedupKey: e.DedupKey,
	})
	return created, err
}

func (r *Router) applyListChanges(ctx context.Context, member *models.Member, changes []lifecycle.MailingList) {
	if len(changes) == 0 || r.lists == nil || r.listID == "" {
		return
	}
	log := logctx.FromCtx(ctx, r.log)
	if member == nil || member.Email == "" {
		log.Warnw("no email on file, mailing list not updated")
		return
	}
	for _, c := range changes {
		var err error
		switch c.Action {
		case lifecycle.ListSubscribe:
			err = r.lists.Subscribe(ctx, r.listID, member.Email, member.DisplayName)
		case lifecycle.ListUnsubscribe:
			err = r.lists.Unsubscribe(ctx, r.listID, member.Email)
		}
		if err != nil {
			log.Warnw("mailing list update failed", "action", c.Action, "error", err)
		}
	}
}

func memberLockKey(memberID int64) string {
	return "member:" + strconv.FormatInt(memberID, 10)
}

func noteExtra(note string) map[string]any {
	if note == "" {
		return nil
	}
	return map[string]any{"note": note}
}
