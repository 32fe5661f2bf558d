package router

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v84"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/fatflowers/membership/internal/app/service/ledger"
	"github.com/fatflowers/membership/internal/app/service/lifecycle"
	"github.com/fatflowers/membership/internal/app/service/notification"
	"github.com/fatflowers/membership/internal/app/service/verifier"
	"github.com/fatflowers/membership/internal/models"
	"github.com/fatflowers/membership/internal/platform/billing"
	"github.com/fatflowers/membership/internal/platform/db/dbtest"
	"github.com/fatflowers/membership/internal/platform/directory"
	"github.com/fatflowers/membership/internal/platform/locker"
	"github.com/fatflowers/membership/pkg/config"
	"github.com/fatflowers/membership/pkg/tool"
	"github.com/fatflowers/membership/pkg/types"
)

var t0 = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

type fakeBilling struct {
	subs map[string]*stripe.Subscription
	err  error
}

func (f *fakeBilling) CreatePaymentIntent(context.Context, billing.PaymentIntentRequest) (*billing.PaymentIntent, error) {
	return nil, billing.ErrNotConfigured
}

func (f *fakeBilling) RetrieveSubscription(_ context.Context, id string) (*stripe.Subscription, error) {
	if f.err != nil {
		return nil, f.err
	}
	sub, ok := f.subs[id]
	if !ok {
		return nil, errors.New("no such subscription")
	}
	return sub, nil
}

func (f *fakeBilling) CancelSubscription(context.Context, string) (*stripe.Subscription, error) {
	return nil, billing.ErrNotConfigured
}

type fakeLists struct {
	mu    sync.Mutex
	calls []string
}

func (f *fakeLists) Subscribe(_ context.Context, list, email, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "subscribe:"+list+":"+email)
	return nil
}

func (f *fakeLists) Unsubscribe(_ context.Context, list, email string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "unsubscribe:"+list+":"+email)
	return nil
}

type env struct {
	router  *Router
	db      *gorm.DB
	clock   *tool.FakeClock
	lists   *fakeLists
	billing *fakeBilling
}

func newEnv(t *testing.T) *env {
	t.Helper()
	clock := tool.NewFakeClock(t0)
	gdb := dbtest.New(t, clock.Now)
	require.NoError(t, gdb.Create(&models.Member{ID: 42, Email: "ada@example.com", DisplayName: "Ada"}).Error)

	cfg := &config.Config{Membership: config.MembershipConfig{
		Plans: []*types.Plan{
			{Name: "annual", Amount: 10000, Currency: "usd", BillingCycle: types.BillingCycleOnce, DurationDays: 365},
			{Name: "monthly", Amount: 1200, Currency: "usd", BillingCycle: types.BillingCycleMonthly, DurationDays: 30},
		},
		DefaultTermDays:   365,
		RenewalDays:       30,
		ReminderDedupDays: 7,
		MailingListID:     "members",
	}}
	log := zap.NewNop().Sugar()
	e := &env{db: gdb, clock: clock, lists: &fakeLists{}, billing: &fakeBilling{subs: map[string]*stripe.Subscription{}}}
	e.router = New(Params{
		Store:   ledger.NewStore(gdb, clock.Clock(), log),
		Queue:   notification.NewQueue(gdb, clock.Clock(), cfg, nil, log),
		Locker:  locker.NewLocal(),
		Dir:     directory.NewGormDirectory(gdb),
		Billing: e.billing,
		Lists:   e.lists,
		Config:  cfg,
		Clock:   clock.Clock(),
		Log:     log,
	})
	return e
}

func (e *env) subscription(t *testing.T, memberID int64) *models.Subscription {
	t.Helper()
	var sub models.Subscription
	require.NoError(t, e.db.Where("member_id = ?", memberID).First(&sub).Error)
	return &sub
}

func (e *env) transactions(t *testing.T) []models.Transaction {
	t.Helper()
	var rows []models.Transaction
	require.NoError(t, e.db.Order("id").Find(&rows).Error)
	return rows
}

func (e *env) notifications(t *testing.T) []models.Notification {
	t.Helper()
	var rows []models.Notification
	require.NoError(t, e.db.Order("id").Find(&rows).Error)
	return rows
}

func verified(ev lifecycle.Event, id, typ string) *verifier.VerifiedEvent {
	return &verifier.VerifiedEvent{ID: id, Type: typ, Created: t0, Event: ev, Refs: lifecycle.RefsOf(ev)}
}

func payment(id, intent string, amount int64) *verifier.VerifiedEvent {
	return verified(lifecycle.PaymentSucceeded{
		EventID:    id,
		IntentID:   intent,
		MemberID:   42,
		CustomerID: "cus_42",
		Amount:     amount,
		Currency:   "usd",
		OccurredAt: t0,
	}, id, verifier.TypePaymentIntentSucceeded)
}

func TestRouteActivatesOnPayment(t *testing.T) {
	e := newEnv(t)
	ack, err := e.router.Route(context.Background(), payment("evt_1", "pi_1", 10000))
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, ack.Outcome)
	assert.EqualValues(t, 42, ack.MemberID)
	assert.Equal(t, string(types.MembershipChangeReasonActivate), ack.Reason)

	sub := e.subscription(t, 42)
	assert.Equal(t, types.MembershipStatusActive, sub.Status)
	assert.Equal(t, "annual", sub.PlanName)
	require.NotNil(t, sub.EndDate)
	assert.True(t, sub.EndDate.Equal(t0.AddDate(0, 0, 365)))
	require.NotNil(t, sub.RemoteCustomerID)
	assert.Equal(t, "cus_42", *sub.RemoteCustomerID)

	txs := e.transactions(t)
	require.Len(t, txs, 1)
	assert.Equal(t, "pi:pi_1", txs[0].LedgerKey)
	assert.Equal(t, types.TransactionStatusCompleted, txs[0].Status)
	assert.True(t, decimal.RequireFromString("100").Equal(txs[0].Amount))

	ns := e.notifications(t)
	require.Len(t, ns, 1)
	assert.Equal(t, types.NotificationTypeWelcomeEmail, ns[0].Type)
	assert.Equal(t, types.NotificationStatusPending, ns[0].Status)
	assert.Contains(t, ns[0].Body, "Hi Ada")
	assert.Contains(t, ns[0].Body, "100.00 USD")

	assert.Equal(t, []string{"subscribe:members:ada@example.com"}, e.lists.calls)

	var logs []models.SubscriptionLog
	require.NoError(t, e.db.Find(&logs).Error)
	require.Len(t, logs, 1)
	assert.Equal(t, "evt_1", logs[0].EventID)
}

func TestRouteReplayIsIdempotent(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	ev := payment("evt_1", "pi_1", 10000)

	_, err := e.router.Route(ctx, ev)
	require.NoError(t, err)
	before := e.subscription(t, 42)

	e.clock.Advance(time.Hour)
	for i := 0; i < 3; i++ {
		_, err := e.router.Route(ctx, ev)
		require.NoError(t, err)
	}

	after := e.subscription(t, 42)
	assert.True(t, before.EndDate.Equal(*after.EndDate))
	assert.Equal(t, before.Status, after.Status)
	assert.Len(t, e.transactions(t), 1)
	assert.Len(t, e.notifications(t), 1)
}

func TestRouteConcurrentDuplicates(t *testing.T) {
	e := newEnv(t)
	ev := payment("evt_1", "pi_1", 10000)

	var wg sync.WaitGroup
	errs := make([]error, 6)
	for i := range errs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = e.router.Route(context.Background(), ev)
		}()
	}
	wg.Wait()
	for _, err := range errs {
		require.NoError(t, err)
	}
	assert.Len(t, e.transactions(t), 1)
	ns := e.notifications(t)
	require.Len(t, ns, 1)
	assert.Equal(t, types.NotificationTypeWelcomeEmail, ns[0].Type)
}

func TestRouteSecondPaymentConfirms(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	_, err := e.router.Route(ctx, payment("evt_1", "pi_1", 10000))
	require.NoError(t, err)

	ack, err := e.router.Route(ctx, payment("evt_2", "pi_2", 10000))
	require.NoError(t, err)
	assert.Equal(t, string(types.MembershipChangeReasonPayment), ack.Reason)

	ns := e.notifications(t)
	require.Len(t, ns, 2)
	assert.Equal(t, types.NotificationTypePaymentConfirmation, ns[1].Type)
	assert.Len(t, e.transactions(t), 2)
}

func TestRouteAmountMismatchIsNoop(t *testing.T) {
	e := newEnv(t)
	ack, err := e.router.Route(context.Background(), payment("evt_1", "pi_1", 9900))
	require.NoError(t, err)
	assert.Equal(t, OutcomeNoop, ack.Outcome)
	assert.NotEmpty(t, ack.Note)
	assert.Empty(t, e.transactions(t))
	assert.Empty(t, e.notifications(t))
}

func TestRouteUnknownMemberIsAcknowledged(t *testing.T) {
	e := newEnv(t)
	ev := verified(lifecycle.PaymentSucceeded{EventID: "evt_9", IntentID: "pi_9", MemberID: 99, Amount: 10000, Currency: "usd"},
		"evt_9", verifier.TypePaymentIntentSucceeded)
	ack, err := e.router.Route(context.Background(), ev)
	require.NoError(t, err)
	assert.Equal(t, OutcomeUnknownMember, ack.Outcome)

	noRefs := verified(lifecycle.PaymentSucceeded{EventID: "evt_10", IntentID: "pi_10", Amount: 10000, Currency: "usd"},
		"evt_10", verifier.TypePaymentIntentSucceeded)
	ack, err = e.router.Route(context.Background(), noRefs)
	require.NoError(t, err)
	assert.Equal(t, OutcomeUnknownMember, ack.Outcome)

	assert.Empty(t, e.transactions(t))
	assert.Empty(t, e.notifications(t))
}

func TestRouteUnknownEventIsIgnored(t *testing.T) {
	e := newEnv(t)
	ack, err := e.router.Route(context.Background(), verified(lifecycle.Unknown{EventID: "evt_x", Type: "charge.refunded"}, "evt_x", "charge.refunded"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeIgnored, ack.Outcome)
}

func TestRouteResolvesByRemoteIDs(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	created := verified(lifecycle.SubscriptionCreated{EventID: "evt_c", SubscriptionID: "sub_1", CustomerID: "cus_42", MemberID: 42, OccurredAt: t0},
		"evt_c", verifier.TypeSubscriptionCreated)
	ack, err := e.router.Route(ctx, created)
	require.NoError(t, err)
	assert.Equal(t, string(types.MembershipChangeReasonLink), ack.Reason)
	assert.Equal(t, types.MembershipStatusInactive, e.subscription(t, 42).Status)

	// the invoice carries no member id; the linked subscription id resolves it
	renewal := verified(lifecycle.SubscriptionRenewed{
		EventID:        "evt_r",
		InvoiceID:      "in_1",
		IntentID:       "pi_r1",
		SubscriptionID: "sub_1",
		CustomerID:     "cus_42",
		Amount:         1200,
		Currency:       "usd",
		PeriodStart:    t0,
		PeriodEnd:      t0.AddDate(0, 1, 0),
		Initial:        true,
		OccurredAt:     t0,
	}, "evt_r", verifier.TypeInvoicePaid)
	ack, err = e.router.Route(ctx, renewal)
	require.NoError(t, err)
	assert.EqualValues(t, 42, ack.MemberID)

	sub := e.subscription(t, 42)
	assert.Equal(t, types.MembershipStatusActive, sub.Status)
	assert.Equal(t, "monthly", sub.PlanName)
	assert.True(t, sub.EndDate.Equal(t0.AddDate(0, 1, 0)))
	require.NotNil(t, sub.NextBillingDate)

	cancelled := verified(lifecycle.SubscriptionCancelled{EventID: "evt_x", SubscriptionID: "sub_1", CancelledAt: t0.Add(48 * time.Hour)},
		"evt_x", verifier.TypeSubscriptionDeleted)
	ack, err = e.router.Route(ctx, cancelled)
	require.NoError(t, err)
	assert.Equal(t, string(types.MembershipChangeReasonCancel), ack.Reason)
	sub = e.subscription(t, 42)
	assert.Equal(t, types.MembershipStatusCancelled, sub.Status)
	assert.Nil(t, sub.NextBillingDate)
}

func TestRouteResolvesThroughRemoteSubscription(t *testing.T) {
	e := newEnv(t)
	e.billing.subs["sub_7"] = &stripe.Subscription{ID: "sub_7", Metadata: map[string]string{billing.MetadataMemberID: "42"}}

	ev := verified(lifecycle.SubscriptionRenewed{
		EventID: "evt_r", InvoiceID: "in_7", SubscriptionID: "sub_7", Amount: 1200, Currency: "usd",
		PeriodStart: t0, PeriodEnd: t0.AddDate(0, 1, 0), OccurredAt: t0,
	}, "evt_r", verifier.TypeInvoicePaid)
	ack, err := e.router.Route(context.Background(), ev)
	require.NoError(t, err)
	assert.EqualValues(t, 42, ack.MemberID)
	assert.Equal(t, OutcomeApplied, ack.Outcome)

	txs := e.transactions(t)
	require.Len(t, txs, 1)
	assert.Equal(t, types.TransactionTypeSubscriptionRenewal, txs[0].Type)
}

func TestRouteBillingLookupFailureIsRetryable(t *testing.T) {
	e := newEnv(t)
	e.billing.err = errors.New("provider unavailable")
	ev := verified(lifecycle.SubscriptionRenewed{
		EventID: "evt_r", InvoiceID: "in_7", SubscriptionID: "sub_7", Amount: 1200, Currency: "usd",
		PeriodEnd: t0.AddDate(0, 1, 0), OccurredAt: t0,
	}, "evt_r", verifier.TypeInvoicePaid)
	_, err := e.router.Route(context.Background(), ev)
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrUnknownMember)
}

func TestRouteStoreFailureReturnsError(t *testing.T) {
	e := newEnv(t)
	sqlDB, err := e.db.DB()
	require.NoError(t, err)
	require.NoError(t, sqlDB.Close())

	_, err = e.router.Route(context.Background(), payment("evt_1", "pi_1", 10000))
	require.Error(t, err)
	assert.ErrorIs(t, err, ledger.ErrStore)
}

func TestPaymentFailedNotifiesActiveMember(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	_, err := e.router.Route(ctx, payment("evt_1", "pi_1", 10000))
	require.NoError(t, err)

	failed := verified(lifecycle.PaymentFailed{EventID: "evt_f", IntentID: "pi_2", MemberID: 42, Amount: 10000, Currency: "usd", Reason: "card_declined", OccurredAt: t0},
		"evt_f", verifier.TypePaymentIntentFailed)
	for i := 0; i < 2; i++ {
		_, err = e.router.Route(ctx, failed)
		require.NoError(t, err)
	}

	assert.Equal(t, types.MembershipStatusActive, e.subscription(t, 42).Status)
	txs := e.transactions(t)
	require.Len(t, txs, 2)
	assert.Equal(t, types.TransactionStatusFailed, txs[1].Status)
	ns := e.notifications(t)
	require.Len(t, ns, 2)
	assert.Equal(t, types.NotificationTypePaymentFailed, ns[1].Type)

	// the provider retried the intent and it went through
	_, err = e.router.Route(ctx, payment("evt_3", "pi_2", 10000))
	require.NoError(t, err)
	txs = e.transactions(t)
	require.Len(t, txs, 2)
	assert.Equal(t, types.TransactionStatusCompleted, txs[1].Status)
}

func TestPaymentFailedAfterSuccessIsSilent(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	_, err := e.router.Route(ctx, payment("evt_1", "pi_1", 10000))
	require.NoError(t, err)

	// the failure for the same intent arrives late
	failed := verified(lifecycle.PaymentFailed{EventID: "evt_f", IntentID: "pi_1", MemberID: 42, Amount: 10000, Currency: "usd", Reason: "card_declined", OccurredAt: t0.Add(-time.Minute)},
		"evt_f", verifier.TypePaymentIntentFailed)
	ack, err := e.router.Route(ctx, failed)
	require.NoError(t, err)
	assert.NotEmpty(t, ack.Note)

	txs := e.transactions(t)
	require.Len(t, txs, 1)
	assert.Equal(t, types.TransactionStatusCompleted, txs[0].Status)
	ns := e.notifications(t)
	require.Len(t, ns, 1)
	assert.Equal(t, types.NotificationTypeWelcomeEmail, ns[0].Type)
	assert.Equal(t, types.MembershipStatusActive, e.subscription(t, 42).Status)
}

func invoiceIntent(id, intent string) *verifier.VerifiedEvent {
	return verified(lifecycle.PaymentSucceeded{
		EventID:      id,
		IntentID:     intent,
		CustomerID:   "cus_42",
		Amount:       1200,
		Currency:     "usd",
		OccurredAt:   t0,
		InvoiceOwned: true,
	}, id, verifier.TypePaymentIntentSucceeded)
}

func initialInvoice(id string) *verifier.VerifiedEvent {
	return verified(lifecycle.SubscriptionRenewed{
		EventID:        id,
		InvoiceID:      "in_1",
		SubscriptionID: "sub_1",
		CustomerID:     "cus_42",
		MemberID:       42,
		Amount:         1200,
		Currency:       "usd",
		PeriodStart:    t0,
		PeriodEnd:      t0.AddDate(0, 1, 0),
		Initial:        true,
		OccurredAt:     t0,
	}, id, verifier.TypeInvoicePaid)
}

func TestInvoiceIntentWithoutReferenceActivatesOnce(t *testing.T) {
	assertOneActivation := func(t *testing.T, e *env) {
		t.Helper()
		sub := e.subscription(t, 42)
		assert.Equal(t, types.MembershipStatusActive, sub.Status)
		assert.True(t, sub.EndDate.Equal(t0.AddDate(0, 1, 0)))

		txs := e.transactions(t)
		require.Len(t, txs, 1)
		assert.Equal(t, types.TransactionTypeMembershipPayment, txs[0].Type)
		ns := e.notifications(t)
		require.Len(t, ns, 1)
		assert.Equal(t, types.NotificationTypeWelcomeEmail, ns[0].Type)
	}

	t.Run("invoice first", func(t *testing.T) {
		e := newEnv(t)
		ctx := context.Background()
		_, err := e.router.Route(ctx, initialInvoice("evt_inv"))
		require.NoError(t, err)

		ack, err := e.router.Route(ctx, invoiceIntent("evt_pi", "pi_1"))
		require.NoError(t, err)
		assert.EqualValues(t, 42, ack.MemberID)
		assert.Equal(t, OutcomeNoop, ack.Outcome)
		assertOneActivation(t, e)
	})

	t.Run("intent first", func(t *testing.T) {
		e := newEnv(t)
		ctx := context.Background()
		created := verified(lifecycle.SubscriptionCreated{EventID: "evt_c", SubscriptionID: "sub_1", CustomerID: "cus_42", MemberID: 42, OccurredAt: t0},
			"evt_c", verifier.TypeSubscriptionCreated)
		_, err := e.router.Route(ctx, created)
		require.NoError(t, err)

		ack, err := e.router.Route(ctx, invoiceIntent("evt_pi", "pi_1"))
		require.NoError(t, err)
		assert.Equal(t, OutcomeNoop, ack.Outcome)
		assert.Empty(t, e.transactions(t))

		_, err = e.router.Route(ctx, initialInvoice("evt_inv"))
		require.NoError(t, err)
		assertOneActivation(t, e)
	})
}

func TestTransitionCountsQueuedNotifications(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	_, err := e.router.Route(ctx, payment("evt_1", "pi_1", 10000))
	require.NoError(t, err)

	reminder := lifecycle.SweepReminder{At: e.clock.Now().AddDate(0, 0, 340), RenewalDays: 30}
	a, err := e.router.Transition(ctx, 42, reminder, "")
	require.NoError(t, err)
	assert.Equal(t, 1, a.Notified)
	assert.True(t, a.Changed())

	a, err = e.router.Transition(ctx, 42, reminder, "")
	require.NoError(t, err)
	assert.Zero(t, a.Notified, "inside the dedup window")
	assert.False(t, a.NoOp())
	assert.False(t, a.Changed())
	assert.Len(t, e.notifications(t), 2)
}
