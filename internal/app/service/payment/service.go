// Package payment starts payments and cancellations on the billing platform.
// Their outcome reaches the membership record only through webhooks.
package payment

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/fatflowers/membership/internal/app/service/ledger"
	"github.com/fatflowers/membership/internal/models"
	"github.com/fatflowers/membership/internal/platform/billing"
	"github.com/fatflowers/membership/internal/platform/directory"
	"github.com/fatflowers/membership/pkg/config"
	"github.com/fatflowers/membership/pkg/logctx"
	"github.com/fatflowers/membership/pkg/tool"
	"github.com/fatflowers/membership/pkg/types"
)

var (
	ErrUnknownPlan          = errors.New("unknown plan")
	ErrNoRemoteSubscription = errors.New("membership has no remote subscription")
)

type PaymentIntentResult struct {
	PaymentIntentID string          `json:"payment_intent_id"`
	ClientSecret    string          `json:"client_secret"`
	TransactionID   int64           `json:"transaction_id"`
	Amount          decimal.Decimal `json:"amount"`
	Currency        string          `json:"currency"`
}

type CancelResult struct {
	RemoteSubscriptionID string `json:"remote_subscription_id"`
	RemoteStatus         string `json:"remote_status"`
}

type Service struct {
	cfg     *config.Config
	store   *ledger.Store
	dir     directory.Directory
	billing billing.Client
	now     tool.Clock
	log     *zap.SugaredLogger
}

func NewService(cfg *config.Config, store *ledger.Store, dir directory.Directory, bc billing.Client, now tool.Clock, log *zap.SugaredLogger) *Service {
	return &Service{cfg: cfg, store: store, dir: dir, billing: bc, now: now, log: log}
}

// CreatePaymentIntent opens a payment for planName and records it as a
// pending ledger row keyed by the intent id. The webhook for the same intent
// later completes that row instead of adding another.
func (s *Service) CreatePaymentIntent(ctx context.Context, memberID int64, planName string) (*PaymentIntentResult, error) {
	plan := s.cfg.PlanByName(planName)
	if plan == nil {
		return nil, fmt.Errorf("%w: %q", ErrUnknownPlan, planName)
	}
	member, err := s.dir.Lookup(ctx, memberID)
	if err != nil {
		return nil, err
	}

	amount := types.FromMinorUnits(plan.Amount, plan.Currency)
	currency := types.NormalizeCurrency(plan.Currency)
	pi, err := s.billing.CreatePaymentIntent(ctx, billing.PaymentIntentRequest{
		MemberID: memberID,
		PlanName: plan.Name,
		Amount:   amount,
		Currency: currency,
		Email:    member.Email,
	})
	if err != nil {
		return nil, err
	}

	row, err := s.store.UpsertTransaction(ctx, models.TransactionKey{PaymentIntentID: pi.ID}, models.TransactionFields{
		MemberID:   memberID,
		Amount:     amount,
		Currency:   currency,
		Status:     types.TransactionStatusPending,
		Type:       types.TransactionTypeMembershipPayment,
		Metadata:   map[string]any{billing.MetadataPlan: plan.Name},
		OccurredAt: s.now(),
	})
	if err != nil {
		return nil, err
	}
	logctx.FromCtx(ctx, s.log).Infow("payment intent created", "member_id", memberID, "plan", plan.Name, "payment_intent_id", pi.ID)
	return &PaymentIntentResult{
		PaymentIntentID: pi.ID,
		ClientSecret:    pi.ClientSecret,
		TransactionID:   row.ID,
		Amount:          amount,
		Currency:        currency,
	}, nil
}

// CancelMembership asks the billing platform to cancel the member's remote
// subscription. The local record changes when the cancellation webhook arrives.
func (s *Service) CancelMembership(ctx context.Context, memberID int64) (*CancelResult, error) {
	sub, err := s.store.GetSubscription(ctx, memberID, false)
	if err != nil {
		return nil, err
	}
	if sub == nil || sub.RemoteSubscriptionID == nil || *sub.RemoteSubscriptionID == "" {
		return nil, ErrNoRemoteSubscription
	}
	remote, err := s.billing.CancelSubscription(ctx, *sub.RemoteSubscriptionID)
	if err != nil {
		return nil, err
	}
	logctx.FromCtx(ctx, s.log).Infow("remote subscription cancel requested", "member_id", memberID, "subscription_id", remote.ID, "status", remote.Status)
	return &CancelResult{RemoteSubscriptionID: remote.ID, RemoteStatus: string(remote.Status)}, nil
}

func (s *Service) ScanTransactions(ctx context.Context, req *types.ScanRequest) (*types.ScanResponse[*models.Transaction], error) {
	return s.store.ScanTransactions(ctx, req)
}

var Module = fx.Options(
	fx.Provide(NewService),
)
