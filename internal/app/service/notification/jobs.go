package notification

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/fatflowers/membership/pkg/config"
)

// DispatchJob runs the dispatcher on the scheduler.
type DispatchJob struct {
	d   *Dispatcher
	log *zap.SugaredLogger
}

func NewDispatchJob(d *Dispatcher, log *zap.SugaredLogger) *DispatchJob {
	return &DispatchJob{d: d, log: log}
}

func (j *DispatchJob) Name() string { return "notification-dispatch" }

func (j *DispatchJob) Run(ctx context.Context) error {
	res, err := j.d.DispatchOnce(ctx)
	if res.Sent+res.Failed+res.Deferred > 0 {
		j.log.Infow("dispatch cycle", "sent", res.Sent, "failed", res.Failed, "deferred", res.Deferred)
	}
	return err
}

// PurgeJob deletes old sent notifications.
type PurgeJob struct {
	q         *Queue
	retention time.Duration
	log       *zap.SugaredLogger
}

func NewPurgeJob(q *Queue, cfg *config.Config, log *zap.SugaredLogger) *PurgeJob {
	return &PurgeJob{q: q, retention: cfg.Membership.NotificationRetention(), log: log}
}

func (j *PurgeJob) Name() string { return "notification-purge" }

func (j *PurgeJob) Run(ctx context.Context) error {
	if j.retention <= 0 {
		return nil
	}
	n, err := j.q.PurgeSent(ctx, j.retention)
	if err != nil {
		return err
	}
	if n > 0 {
		j.log.Infow("purged sent notifications", "count", n)
	}
	return nil
}
