package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v84/webhook"
	"go.uber.org/zap"

	"github.com/fatflowers/membership/internal/app/service/eventlog"
	"github.com/fatflowers/membership/internal/app/service/ledger"
	"github.com/fatflowers/membership/internal/app/service/notification"
	"github.com/fatflowers/membership/internal/app/service/router"
	"github.com/fatflowers/membership/internal/app/service/verifier"
	"github.com/fatflowers/membership/internal/models"
	"github.com/fatflowers/membership/internal/platform/billing"
	"github.com/fatflowers/membership/internal/platform/db/dbtest"
	"github.com/fatflowers/membership/internal/platform/directory"
	"github.com/fatflowers/membership/internal/platform/locker"
	"github.com/fatflowers/membership/internal/platform/mailinglist"
	"github.com/fatflowers/membership/pkg/config"
	"github.com/fatflowers/membership/pkg/response"
	"github.com/fatflowers/membership/pkg/tool"
	"github.com/fatflowers/membership/pkg/types"
)

const signatureHeader = "Stripe-Signature"

type stubVerifier struct {
	ev  *verifier.VerifiedEvent
	err error
}

func (s *stubVerifier) Verify([]byte, string) (*verifier.VerifiedEvent, error) { return s.ev, s.err }

type stubRouter struct {
	ack router.Ack
	err error
}

func (s *stubRouter) Route(context.Context, *verifier.VerifiedEvent) (router.Ack, error) {
	return s.ack, s.err
}

type memEvents struct {
	mu      sync.Mutex
	entries []*models.WebhookEventLog
}

func (m *memEvents) Save(_ context.Context, e *models.WebhookEventLog) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, e)
}

func postWebhook(h gin.HandlerFunc, body []byte, header string) *httptest.ResponseRecorder {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/webhook", h)
	req := httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewReader(body))
	req.Header.Set(signatureHeader, header)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestWebhookStatusCodes(t *testing.T) {
	ev := &verifier.VerifiedEvent{ID: "evt_1", Type: verifier.TypePaymentIntentSucceeded}
	cases := []struct {
		name   string
		v      *stubVerifier
		r      *stubRouter
		status int
		logged models.WebhookEventLogStatus
	}{
		{
			name:   "bad signature",
			v:      &stubVerifier{err: &verifier.VerificationError{Kind: verifier.ErrInvalidSignature}},
			r:      &stubRouter{},
			status: http.StatusBadRequest,
			logged: models.WebhookEventLogStatusRejected,
		},
		{
			name:   "store failure",
			v:      &stubVerifier{ev: ev},
			r:      &stubRouter{err: &ledger.StoreError{Op: "upsert", Err: errors.New("db down")}},
			status: http.StatusInternalServerError,
			logged: models.WebhookEventLogStatusHandleFailed,
		},
		{
			name:   "applied",
			v:      &stubVerifier{ev: ev},
			r:      &stubRouter{ack: router.Ack{EventID: "evt_1", MemberID: 42, Outcome: router.OutcomeApplied}},
			status: http.StatusOK,
			logged: models.WebhookEventLogStatusHandled,
		},
		{
			name:   "unknown member is acknowledged",
			v:      &stubVerifier{ev: ev},
			r:      &stubRouter{ack: router.Ack{EventID: "evt_1", Outcome: router.OutcomeUnknownMember}},
			status: http.StatusOK,
			logged: models.WebhookEventLogStatusHandled,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			events := &memEvents{}
			w := postWebhook(ApiBillingWebhook(tc.v, tc.r, events, signatureHeader, zap.NewNop().Sugar()), []byte(`{}`), "sig")
			assert.Equal(t, tc.status, w.Code)
			require.Len(t, events.entries, 1)
			assert.Equal(t, tc.logged, events.entries[0].Status)
		})
	}
}

func TestWebhookRoutes(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	events := &memEvents{}
	ev := &verifier.VerifiedEvent{ID: "evt_1", Type: verifier.TypePaymentIntentSucceeded}
	rt := &stubRouter{ack: router.Ack{EventID: "evt_1", MemberID: 42, Outcome: router.OutcomeApplied}}
	RegisterWebhookRoutes(r.Group("/"), r.Group("/api/v1/webhook"), &stubVerifier{ev: ev}, rt, events, signatureHeader, zap.NewNop().Sugar())

	for _, path := range []string{"/webhook", "/api/v1/webhook/billing"} {
		req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader([]byte(`{}`)))
		req.Header.Set(signatureHeader, "sig")
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		assert.Equal(t, http.StatusOK, w.Code, path)
	}
	assert.Len(t, events.entries, 2)
}

func TestWebhookRejectsOversizedBody(t *testing.T) {
	events := &memEvents{}
	body := bytes.Repeat([]byte("a"), maxWebhookBody+1)
	w := postWebhook(ApiBillingWebhook(&stubVerifier{}, &stubRouter{}, events, signatureHeader, zap.NewNop().Sugar()), body, "sig")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Empty(t, events.entries)
}

func TestWebhookEndToEnd(t *testing.T) {
	clock := tool.NewFakeClock(time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC))
	gdb := dbtest.New(t, clock.Now)
	require.NoError(t, gdb.Create(&models.Member{ID: 42, Email: "ada@example.com", DisplayName: "Ada"}).Error)

	cfg := &config.Config{
		Stripe: config.StripeConfig{WebhookSecret: "whsec_test", WebhookTolerance: 5 * time.Minute},
		Membership: config.MembershipConfig{
			Plans:             []*types.Plan{{Name: "annual", Amount: 10000, Currency: "usd", BillingCycle: types.BillingCycleOnce, DurationDays: 365}},
			DefaultTermDays:   365,
			RenewalDays:       30,
			ReminderDedupDays: 7,
		},
	}
	log := zap.NewNop().Sugar()
	rt := router.New(router.Params{
		Store:   ledger.NewStore(gdb, clock.Clock(), log),
		Queue:   notification.NewQueue(gdb, clock.Clock(), cfg, nil, log),
		Locker:  locker.NewLocal(),
		Dir:     directory.NewGormDirectory(gdb),
		Billing: billing.NewStripeClient(cfg, log),
		Lists:   mailinglist.Noop{},
		Config:  cfg,
		Clock:   clock.Clock(),
		Log:     log,
	})
	events := eventlog.New(gdb, log)
	h := ApiBillingWebhook(verifier.New(cfg), rt, events, signatureHeader, log)

	payload := []byte(`{"id":"evt_1","object":"event","type":"payment_intent.succeeded","created":1740819600,"api_version":"2020-08-27",` +
		`"data":{"object":{"id":"pi_1","object":"payment_intent","amount":10000,"currency":"usd","metadata":{"member_id":"42","plan":"annual"}}}}`)
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{Payload: payload, Secret: "whsec_test"})

	for i := 0; i < 2; i++ {
		w := postWebhook(h, signed.Payload, signed.Header)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		var resp response.APIResponse[router.Ack]
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.EqualValues(t, 42, resp.Data.MemberID)
		if i == 0 {
			assert.Equal(t, router.OutcomeApplied, resp.Data.Outcome)
			assert.Equal(t, string(types.MembershipChangeReasonActivate), resp.Data.Reason)
		}
	}
	events.Wait()

	var txs []models.Transaction
	require.NoError(t, gdb.Find(&txs).Error)
	require.Len(t, txs, 1)
	assert.Equal(t, types.TransactionStatusCompleted, txs[0].Status)
	assert.True(t, decimal.RequireFromString("100.00").Equal(txs[0].Amount))

	var sub models.Subscription
	require.NoError(t, gdb.First(&sub, "member_id = ?", 42).Error)
	assert.Equal(t, types.MembershipStatusActive, sub.Status)
	assert.True(t, sub.EndDate.Equal(time.Unix(1740819600, 0).AddDate(0, 0, 365)))

	var ns []models.Notification
	require.NoError(t, gdb.Find(&ns).Error)
	require.Len(t, ns, 1)
	assert.Equal(t, types.NotificationTypeWelcomeEmail, ns[0].Type)

	var logged int64
	require.NoError(t, gdb.Model(&models.WebhookEventLog{}).Where("event_id = ? AND status = ?", "evt_1", models.WebhookEventLogStatusHandled).Count(&logged).Error)
	assert.EqualValues(t, 2, logged)

	w := postWebhook(h, signed.Payload, "t=1,v1=deadbeef")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
