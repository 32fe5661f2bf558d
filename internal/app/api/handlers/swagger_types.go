package handlers

import (
	"github.com/fatflowers/membership/internal/app/service/payment"
	"github.com/fatflowers/membership/internal/app/service/router"
	"github.com/fatflowers/membership/internal/app/service/statistics"
	"github.com/fatflowers/membership/internal/models"
	"github.com/fatflowers/membership/pkg/response"
	"github.com/fatflowers/membership/pkg/types"
)

// RespOK is a generic OK envelope for endpoints returning no specific data.
type RespOK struct {
	Code    response.APIResponseCode `json:"code"`
	Message string                   `json:"message"`
	Data    interface{}              `json:"data"`
}

type RespWebhookAck struct {
	Code    response.APIResponseCode `json:"code"`
	Message string                   `json:"message"`
	Data    router.Ack               `json:"data"`
}

type RespListTransactions struct {
	Code    response.APIResponseCode                `json:"code"`
	Message string                                  `json:"message"`
	Data    types.ScanResponse[*models.Transaction] `json:"data"`
}

type RespListNotifications struct {
	Code    response.APIResponseCode                 `json:"code"`
	Message string                                   `json:"message"`
	Data    types.ScanResponse[*models.Notification] `json:"data"`
}

type RespListWebhookEvents struct {
	Code    response.APIResponseCode                    `json:"code"`
	Message string                                      `json:"message"`
	Data    types.ScanResponse[*models.WebhookEventLog] `json:"data"`
}

type RespRequeueNotifications struct {
	Code    response.APIResponseCode     `json:"code"`
	Message string                       `json:"message"`
	Data    RequeueNotificationsResponse `json:"data"`
}

type RespMembership struct {
	Code    response.APIResponseCode `json:"code"`
	Message string                   `json:"message"`
	Data    MembershipResponse       `json:"data"`
}

type RespPaymentIntent struct {
	Code    response.APIResponseCode    `json:"code"`
	Message string                      `json:"message"`
	Data    payment.PaymentIntentResult `json:"data"`
}

type RespCancelMembership struct {
	Code    response.APIResponseCode `json:"code"`
	Message string                   `json:"message"`
	Data    payment.CancelResult     `json:"data"`
}

type RespRunJob struct {
	Code    response.APIResponseCode `json:"code"`
	Message string                   `json:"message"`
	Data    RunJobResponse           `json:"data"`
}

// RespMembershipStatistic wraps statistics.Response in the standard envelope.
type RespMembershipStatistic struct {
	Code    response.APIResponseCode `json:"code"`
	Message string                   `json:"message"`
	Data    statistics.Response      `json:"data"`
}

type RespPlans struct {
	Code    response.APIResponseCode `json:"code"`
	Message string                   `json:"message"`
	Data    []*types.Plan            `json:"data"`
}
