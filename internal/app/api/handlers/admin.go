package handlers

import (
	"errors"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/fx"

	"github.com/fatflowers/membership/internal/app/service/eventlog"
	"github.com/fatflowers/membership/internal/app/service/ledger"
	"github.com/fatflowers/membership/internal/app/service/notification"
	"github.com/fatflowers/membership/internal/app/service/payment"
	"github.com/fatflowers/membership/internal/app/service/scheduler"
	"github.com/fatflowers/membership/internal/app/service/statistics"
	"github.com/fatflowers/membership/internal/models"
	"github.com/fatflowers/membership/internal/platform/billing"
	"github.com/fatflowers/membership/internal/platform/directory"
	"github.com/fatflowers/membership/pkg/config"
	"github.com/fatflowers/membership/pkg/response"
	"github.com/fatflowers/membership/pkg/types"
)

const historyLimit = 50

// AdminDeps are the services behind the admin API.
type AdminDeps struct {
	fx.In

	Config   *config.Config
	Payments *payment.Service
	Store    *ledger.Store
	Queue    *notification.Queue
	Events   *eventlog.Service
	Stats    *statistics.Service
	Jobs     *scheduler.Scheduler
}

type MembershipResponse struct {
	Membership *models.Subscription      `json:"membership"`
	History    []*models.SubscriptionLog `json:"history"`
}

type CreatePaymentIntentRequest struct {
	MemberID int64  `json:"member_id" binding:"required"`
	Plan     string `json:"plan" binding:"required"`
}

type CancelMembershipRequest struct {
	MemberID int64 `json:"member_id" binding:"required"`
}

type RequeueNotificationsRequest struct {
	IDs []int64 `json:"ids" binding:"required"`
}

type RequeueNotificationsResponse struct {
	Requeued int64 `json:"requeued"`
}

type RunJobRequest struct {
	Job string `json:"job" binding:"required"`
}

type RunJobResponse struct {
	Job string `json:"job"`
	Ran bool   `json:"ran"`
}

func badRequest(c *gin.Context, err error) {
	response.Fail(c, response.APIResponseCodeBadRequest, err.Error())
}

// failed maps service errors onto envelope codes.
func failed(c *gin.Context, err error) {
	code := response.APIResponseCodeError
	switch {
	case errors.Is(err, directory.ErrMemberNotFound):
		code = response.APIResponseCodeNotFound
	case errors.Is(err, payment.ErrUnknownPlan), errors.Is(err, scheduler.ErrUnknownJob):
		code = response.APIResponseCodeBadRequest
	case errors.Is(err, payment.ErrNoRemoteSubscription), errors.Is(err, billing.ErrNotConfigured):
		code = response.APIResponseCodeConflict
	}
	response.Fail(c, code, err.Error())
}

// @Summary      List Transactions (Admin)
// @Description  Retrieves a paginated and filterable list of ledger transactions.
// @Tags         Admin
// @Accept       json
// @Produce      json
// @Param        request body types.ScanRequest true "Filters, pagination and sorting"
// @Success      200  {object}  handlers.RespListTransactions
// @Router       /api/v1/admin/list_transactions [post]
func ApiListTransactions(svc *payment.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req types.ScanRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
		res, err := svc.ScanTransactions(c.Request.Context(), &req)
		if err != nil {
			failed(c, err)
			return
		}
		response.OK(c, res)
	}
}

// @Summary      List Notifications (Admin)
// @Description  Retrieves a paginated and filterable list of queued notifications.
// @Tags         Admin
// @Accept       json
// @Produce      json
// @Param        request body types.ScanRequest true "Filters, pagination and sorting"
// @Success      200  {object}  handlers.RespListNotifications
// @Router       /api/v1/admin/list_notifications [post]
func ApiListNotifications(q *notification.Queue) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req types.ScanRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
		res, err := q.Scan(c.Request.Context(), &req)
		if err != nil {
			failed(c, err)
			return
		}
		response.OK(c, res)
	}
}

// @Summary      Requeue Notifications (Admin)
// @Description  Moves failed notifications back to pending so the dispatcher retries them.
// @Tags         Admin
// @Accept       json
// @Produce      json
// @Param        request body RequeueNotificationsRequest true "Notification ids"
// @Success      200  {object}  handlers.RespRequeueNotifications
// @Router       /api/v1/admin/requeue_notifications [post]
func ApiRequeueNotifications(q *notification.Queue) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req RequeueNotificationsRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
		n, err := q.RequeueFailed(c.Request.Context(), req.IDs...)
		if err != nil {
			failed(c, err)
			return
		}
		response.OK(c, &RequeueNotificationsResponse{Requeued: n})
	}
}

// @Summary      List Webhook Events (Admin)
// @Description  Retrieves the audit log of received webhook deliveries.
// @Tags         Admin
// @Accept       json
// @Produce      json
// @Param        request body types.ScanRequest true "Filters, pagination and sorting"
// @Success      200  {object}  handlers.RespListWebhookEvents
// @Router       /api/v1/admin/list_webhook_events [post]
func ApiListWebhookEvents(svc *eventlog.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req types.ScanRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
		res, err := svc.Scan(c.Request.Context(), &req)
		if err != nil {
			failed(c, err)
			return
		}
		response.OK(c, res)
	}
}

// @Summary      Get Membership (Admin)
// @Description  Returns a member's membership record and its latest changes.
// @Tags         Admin
// @Produce      json
// @Param        member_id path int true "Member id"
// @Success      200  {object}  handlers.RespMembership
// @Router       /api/v1/admin/membership/{member_id} [get]
func ApiGetMembership(store *ledger.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		memberID, err := strconv.ParseInt(c.Param("member_id"), 10, 64)
		if err != nil || memberID <= 0 {
			response.Fail(c, response.APIResponseCodeBadRequest, "invalid member_id")
			return
		}
		ctx := c.Request.Context()
		sub, err := store.GetSubscription(ctx, memberID, false)
		if err != nil {
			failed(c, err)
			return
		}
		if sub == nil {
			response.Fail(c, response.APIResponseCodeNotFound, "membership not found")
			return
		}
		history, err := store.History(ctx, memberID, historyLimit)
		if err != nil {
			failed(c, err)
			return
		}
		response.OK(c, &MembershipResponse{Membership: sub, History: history})
	}
}

// @Summary      Create Payment Intent (Admin)
// @Description  Opens a payment for a plan and records it as a pending transaction.
// @Tags         Admin
// @Accept       json
// @Produce      json
// @Param        request body CreatePaymentIntentRequest true "Member and plan"
// @Success      200  {object}  handlers.RespPaymentIntent
// @Router       /api/v1/admin/create_payment_intent [post]
func ApiCreatePaymentIntent(svc *payment.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req CreatePaymentIntentRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
		res, err := svc.CreatePaymentIntent(c.Request.Context(), req.MemberID, req.Plan)
		if err != nil {
			failed(c, err)
			return
		}
		response.OK(c, res)
	}
}

// @Summary      Cancel Membership (Admin)
// @Description  Cancels the member's remote subscription. The membership changes once the provider confirms.
// @Tags         Admin
// @Accept       json
// @Produce      json
// @Param        request body CancelMembershipRequest true "Member"
// @Success      200  {object}  handlers.RespCancelMembership
// @Router       /api/v1/admin/cancel_membership [post]
func ApiCancelMembership(svc *payment.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req CancelMembershipRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
		res, err := svc.CancelMembership(c.Request.Context(), req.MemberID)
		if err != nil {
			failed(c, err)
			return
		}
		response.OK(c, res)
	}
}

// @Summary      Run Job (Admin)
// @Description  Runs one cycle of a scheduled job now: expiration-sweep, notification-dispatch or notification-purge.
// @Tags         Admin
// @Accept       json
// @Produce      json
// @Param        request body RunJobRequest true "Job name"
// @Success      200  {object}  handlers.RespRunJob
// @Router       /api/v1/admin/run_job [post]
func ApiRunJob(jobs *scheduler.Scheduler) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req RunJobRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
		ran, err := jobs.RunByName(c.Request.Context(), req.Job)
		if err != nil {
			failed(c, err)
			return
		}
		response.OK(c, &RunJobResponse{Job: req.Job, Ran: ran})
	}
}

// @Summary      Get Membership Statistics (Admin)
// @Description  Computes the requested statistics.
// @Tags         Admin
// @Accept       json
// @Produce      json
// @Param        request body statistics.Request true "Statistic request parameters"
// @Success      200  {object}  handlers.RespMembershipStatistic
// @Router       /api/v1/admin/get_membership_statistic [post]
func ApiGetMembershipStatistic(svc *statistics.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req statistics.Request
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
		res, err := svc.Get(c.Request.Context(), &req)
		if err != nil {
			failed(c, err)
			return
		}
		response.OK(c, res)
	}
}

// @Summary      List Plans (Admin)
// @Description  Returns the configured membership plans.
// @Tags         Admin
// @Produce      json
// @Success      200  {object}  handlers.RespPlans
// @Router       /api/v1/admin/plans [get]
func ApiListPlans(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		response.OK(c, cfg.Membership.Plans)
	}
}

func RegisterAdminRoutes(r gin.IRouter, d AdminDeps) {
	r.GET("/plans", ApiListPlans(d.Config))
	r.POST("/list_transactions", ApiListTransactions(d.Payments))
	r.POST("/list_notifications", ApiListNotifications(d.Queue))
	r.POST("/requeue_notifications", ApiRequeueNotifications(d.Queue))
	r.POST("/list_webhook_events", ApiListWebhookEvents(d.Events))
	r.GET("/membership/:member_id", ApiGetMembership(d.Store))
	r.POST("/create_payment_intent", ApiCreatePaymentIntent(d.Payments))
	r.POST("/cancel_membership", ApiCancelMembership(d.Payments))
	r.POST("/run_job", ApiRunJob(d.Jobs))
	r.POST("/get_membership_statistic", ApiGetMembershipStatistic(d.Stats))
}
