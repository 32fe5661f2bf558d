package handlers

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/fatflowers/membership/internal/app/service/eventlog"
	"github.com/fatflowers/membership/internal/app/service/router"
	"github.com/fatflowers/membership/internal/app/service/verifier"
	"github.com/fatflowers/membership/internal/models"
	"github.com/fatflowers/membership/pkg/logctx"
	"github.com/fatflowers/membership/pkg/response"
)

// maxWebhookBody matches the largest event payload the provider sends.
const maxWebhookBody = 64 << 10

type EventVerifier interface {
	Verify(payload []byte, signatureHeader string) (*verifier.VerifiedEvent, error)
}

type EventRouter interface {
	Route(ctx context.Context, ev *verifier.VerifiedEvent) (router.Ack, error)
}

type EventRecorder interface {
	Save(ctx context.Context, entry *models.WebhookEventLog)
}

// @Summary      Billing Webhook
// @Description  Receives signed billing events. 400 when the signature or payload is bad, 500 when the event could not be stored and should be redelivered, 200 otherwise.
// @Tags         Webhook
// @Accept       json
// @Produce      json
// @Param        Stripe-Signature header string true "Signature header"
// @Param        payload body object true "Event payload"
// @Success      200  {object}  handlers.RespWebhookAck
// @Failure      400  {object}  handlers.RespOK
// @Failure      500  {object}  handlers.RespOK
// @Router       /api/v1/webhook/billing [post]
// @Router       /webhook [post]
func ApiBillingWebhook(v EventVerifier, rt EventRouter, events EventRecorder, signatureHeader string, base *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody+1))
		if err == nil && len(payload) > maxWebhookBody {
			err = fmt.Errorf("payload exceeds %d bytes", maxWebhookBody)
		}
		if err != nil {
			logctx.FromCtx(ctx, base).Warnw("webhook_read_failed", "error", err)
			c.JSON(http.StatusBadRequest, response.ErrorT(response.APIResponseCodeBadRequest, err.Error()))
			return
		}

		ev, err := v.Verify(payload, c.GetHeader(signatureHeader))
		if err != nil {
			logctx.FromCtx(ctx, base).Warnw("webhook_rejected", "error", err)
			events.Save(ctx, eventlog.Entry(ctx, "", "", 0, payload, models.WebhookEventLogStatusRejected, map[string]any{"error": err.Error()}))
			c.JSON(http.StatusBadRequest, response.ErrorT(response.APIResponseCodeBadRequest, err.Error()))
			return
		}

		ctx = logctx.WithEventID(ctx, ev.ID)
		log := logctx.FromCtx(ctx, base)
		log.Infow("webhook_received", "type", ev.Type)

		ack, err := rt.Route(ctx, ev)
		if err != nil {
			log.Errorw("webhook_handle_error", "type", ev.Type, "error", err)
			events.Save(ctx, eventlog.Entry(ctx, ev.ID, ev.Type, ack.MemberID, payload, models.WebhookEventLogStatusHandleFailed, map[string]any{"error": err.Error()}))
			c.JSON(http.StatusInternalServerError, response.ErrorT(response.APIResponseCodeError, err.Error()))
			return
		}

		log.Infow("webhook_handled", "type", ev.Type, "member_id", ack.MemberID, "outcome", ack.Outcome, "reason", ack.Reason)
		events.Save(ctx, eventlog.Entry(ctx, ev.ID, ev.Type, ack.MemberID, payload, models.WebhookEventLogStatusHandled, ackResult(ack)))
		c.JSON(http.StatusOK, response.OKT(ack))
	}
}

func ackResult(ack router.Ack) map[string]any {
	out := map[string]any{"outcome": string(ack.Outcome)}
	if ack.Reason != "" {
		out["reason"] = ack.Reason
	}
	if ack.Note != "" {
		out["note"] = ack.Note
	}
	return out
}

// RegisterWebhookRoutes mounts the webhook at /webhook on root and at /billing on api.
func RegisterWebhookRoutes(root, api gin.IRouter, v EventVerifier, rt EventRouter, events EventRecorder, signatureHeader string, log *zap.SugaredLogger) {
	h := ApiBillingWebhook(v, rt, events, signatureHeader, log)
	root.POST("/webhook", h)
	api.POST("/billing", h)
}
