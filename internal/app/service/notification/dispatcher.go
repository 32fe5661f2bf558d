package notification

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/fatflowers/membership/internal/models"
	"github.com/fatflowers/membership/internal/platform/directory"
	"github.com/fatflowers/membership/internal/platform/mail"
	"github.com/fatflowers/membership/pkg/config"
	"github.com/fatflowers/membership/pkg/logctx"
	"github.com/fatflowers/membership/pkg/metrics"
)

// ErrDeliveryFailed is recorded on notifications the mailer permanently rejected.
var ErrDeliveryFailed = errors.New("notification delivery failed")

// DispatchResult summarises one dispatch cycle.
type DispatchResult struct {
	Sent     int `json:"sent"`
	Failed   int `json:"failed"`
	Deferred int `json:"deferred"`
}

// Dispatcher drains due notifications to the mailer.
type Dispatcher struct {
	queue   *Queue
	dir     directory.Directory
	mailer  mail.Sender
	batch   int
	timeout time.Duration
	rec     *metrics.Recorder
	log     *zap.SugaredLogger
}

func NewDispatcher(q *Queue, dir directory.Directory, mailer mail.Sender, cfg *config.Config, rec *metrics.Recorder, log *zap.SugaredLogger) *Dispatcher {
	return &Dispatcher{
		queue:   q,
		dir:     dir,
		mailer:  mailer,
		batch:   cfg.Membership.DispatchBatchSize,
		timeout: cfg.Membership.SendTimeout,
		rec:     rec,
		log:     log,
	}
}

// DispatchOnce sends one batch of due notifications. A missing member or a
// permanent rejection fails the notification; a transient error or timeout
// leaves it pending for the next cycle.
func (d *Dispatcher) DispatchOnce(ctx context.Context) (DispatchResult, error) {
	var res DispatchResult
	rows, err := d.queue.DequeueBatch(ctx, d.batch)
	if err != nil {
		return res, err
	}
	for _, n := range rows {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		outcome, err := d.deliver(ctx, n)
		if err != nil {
			return res, err
		}
		switch outcome {
		case outcomeSent:
			res.Sent++
		case outcomeFailed:
			res.Failed++
		default:
			res.Deferred++
		}
		d.rec.Notification(string(n.Type), string(outcome))
	}
	return res, nil
}

type outcome string

const (
	outcomeSent     outcome = "sent"
	outcomeFailed   outcome = "failed"
	outcomeDeferred outcome = "deferred"
)

func (d *Dispatcher) deliver(ctx context.Context, n *models.Notification) (outcome, error) {
	log := logctx.FromCtx(ctx, d.log).With("notification_id", n.ID, "member_id", n.MemberID, "type", n.Type)

	member, err := d.dir.Lookup(ctx, n.MemberID)
	if errors.Is(err, directory.ErrMemberNotFound) {
		log.Warnw("member not found, notification failed")
		return outcomeFailed, d.queue.MarkFailed(ctx, n.ID, directory.ErrMemberNotFound.Error())
	}
	if err != nil {
		log.Warnw("member lookup failed, will retry", "error", err)
		return outcomeDeferred, d.queue.MarkRetry(ctx, n.ID, err.Error())
	}

	sendCtx := ctx
	if d.timeout > 0 {
		var cancel context.CancelFunc
		sendCtx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}
	ok, err := d.mailer.Send(sendCtx, member.Email, n.Subject, n.Body)
	switch {
	case err != nil:
		log.Warnw("send failed, will retry", "error", err)
		return outcomeDeferred, d.queue.MarkRetry(ctx, n.ID, err.Error())
	case !ok:
		log.Warnw("mailer rejected notification")
		return outcomeFailed, d.queue.MarkFailed(ctx, n.ID, fmt.Sprintf("%v: rejected by mailer", ErrDeliveryFailed))
	}
	log.Infow("notification sent")
	return outcomeSent, d.queue.MarkSent(ctx, n.ID)
}
