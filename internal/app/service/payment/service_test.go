package payment

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v84"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/fatflowers/membership/internal/app/service/ledger"
	"github.com/fatflowers/membership/internal/models"
	"github.com/fatflowers/membership/internal/platform/billing"
	"github.com/fatflowers/membership/internal/platform/db/dbtest"
	"github.com/fatflowers/membership/internal/platform/directory"
	"github.com/fatflowers/membership/pkg/config"
	"github.com/fatflowers/membership/pkg/tool"
	"github.com/fatflowers/membership/pkg/types"
)

var t0 = time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)

type fakeBilling struct {
	requests  []billing.PaymentIntentRequest
	cancelled []string
	err       error
}

func (f *fakeBilling) CreatePaymentIntent(_ context.Context, req billing.PaymentIntentRequest) (*billing.PaymentIntent, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.requests = append(f.requests, req)
	return &billing.PaymentIntent{ID: "pi_new", ClientSecret: "pi_new_secret", Status: "requires_payment_method", Amount: req.Amount, Currency: req.Currency}, nil
}

func (f *fakeBilling) RetrieveSubscription(context.Context, string) (*stripe.Subscription, error) {
	return nil, billing.ErrNotConfigured
}

func (f *fakeBilling) CancelSubscription(_ context.Context, id string) (*stripe.Subscription, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.cancelled = append(f.cancelled, id)
	return &stripe.Subscription{ID: id, Status: stripe.SubscriptionStatusCanceled}, nil
}

func newService(t *testing.T) (*Service, *fakeBilling, *gorm.DB) {
	t.Helper()
	clock := tool.NewFakeClock(t0)
	gdb := dbtest.New(t, clock.Now)
	require.NoError(t, gdb.Create(&models.Member{ID: 42, Email: "ada@example.com", DisplayName: "Ada"}).Error)
	cfg := &config.Config{Membership: config.MembershipConfig{Plans: []*types.Plan{
		{Name: "annual", Amount: 10000, Currency: "USD", BillingCycle: types.BillingCycleOnce, DurationDays: 365},
	}}}
	log := zap.NewNop().Sugar()
	fb := &fakeBilling{}
	store := ledger.NewStore(gdb, clock.Clock(), log)
	return NewService(cfg, store, directory.NewGormDirectory(gdb), fb, clock.Clock(), log), fb, gdb
}

func TestCreatePaymentIntentRecordsPendingRow(t *testing.T) {
	s, fb, gdb := newService(t)
	ctx := context.Background()

	res, err := s.CreatePaymentIntent(ctx, 42, "annual")
	require.NoError(t, err)
	assert.Equal(t, "pi_new", res.PaymentIntentID)
	assert.Equal(t, "pi_new_secret", res.ClientSecret)
	assert.True(t, decimal.RequireFromString("100").Equal(res.Amount))
	assert.Equal(t, "usd", res.Currency)

	require.Len(t, fb.requests, 1)
	assert.Equal(t, billing.PaymentIntentRequest{
		MemberID: 42, PlanName: "annual", Amount: res.Amount, Currency: "usd", Email: "ada@example.com",
	}, fb.requests[0])

	var row models.Transaction
	require.NoError(t, gdb.First(&row, res.TransactionID).Error)
	assert.Equal(t, "pi:pi_new", row.LedgerKey)
	assert.Equal(t, types.TransactionStatusPending, row.Status)
	assert.Equal(t, "annual", row.Metadata[billing.MetadataPlan])
	assert.Equal(t, int64(42), row.MemberID)

	// a second call for the same intent keeps a single row
	_, err = s.CreatePaymentIntent(ctx, 42, "annual")
	require.NoError(t, err)
	page, err := s.ScanTransactions(ctx, &types.ScanRequest{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), page.Total)
}

func TestCreatePaymentIntentRejects(t *testing.T) {
	s, fb, _ := newService(t)
	ctx := context.Background()

	_, err := s.CreatePaymentIntent(ctx, 42, "lifetime")
	assert.ErrorIs(t, err, ErrUnknownPlan)

	_, err = s.CreatePaymentIntent(ctx, 7, "annual")
	assert.ErrorIs(t, err, directory.ErrMemberNotFound)

	fb.err = errors.New("card network down")
	_, err = s.CreatePaymentIntent(ctx, 42, "annual")
	assert.EqualError(t, err, "card network down")

	page, err := s.ScanTransactions(ctx, &types.ScanRequest{})
	require.NoError(t, err)
	assert.Zero(t, page.Total)
}

func TestCancelMembership(t *testing.T) {
	s, fb, gdb := newService(t)
	ctx := context.Background()

	_, err := s.CancelMembership(ctx, 42)
	assert.ErrorIs(t, err, ErrNoRemoteSubscription)

	require.NoError(t, gdb.Create(&models.Subscription{
		MemberID:             42,
		Status:               types.MembershipStatusActive,
		RemoteSubscriptionID: lo.ToPtr("sub_1"),
	}).Error)

	res, err := s.CancelMembership(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, &CancelResult{RemoteSubscriptionID: "sub_1", RemoteStatus: "canceled"}, res)
	assert.Equal(t, []string{"sub_1"}, fb.cancelled)

	// local state waits for the webhook
	var sub models.Subscription
	require.NoError(t, gdb.First(&sub, "member_id = ?", 42).Error)
	assert.Equal(t, types.MembershipStatusActive, sub.Status)
}
