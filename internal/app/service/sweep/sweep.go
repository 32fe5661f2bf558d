// Package sweep repairs state the billing provider never reports: memberships
// that ran out are expired and memberships about to run out get a reminder.
package sweep

import (
	"context"
	"time"

	"go.uber.org/fx"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/fatflowers/membership/internal/app/service/ledger"
	"github.com/fatflowers/membership/internal/app/service/lifecycle"
	"github.com/fatflowers/membership/internal/app/service/router"
	"github.com/fatflowers/membership/internal/models"
	"github.com/fatflowers/membership/pkg/config"
	"github.com/fatflowers/membership/pkg/logctx"
	"github.com/fatflowers/membership/pkg/metrics"
	"github.com/fatflowers/membership/pkg/tool"
)

// Result counts what one sweep did.
type Result struct {
	Expired  int `json:"expired"`
	Reminded int `json:"reminded"`
	Skipped  int `json:"skipped"`
	Failed   int `json:"failed"`
}

type Sweeper struct {
	store       *ledger.Store
	router      *router.Router
	renewalDays int
	now         tool.Clock
	rec         *metrics.Recorder
	log         *zap.SugaredLogger
}

func New(store *ledger.Store, r *router.Router, cfg *config.Config, now tool.Clock, rec *metrics.Recorder, log *zap.SugaredLogger) *Sweeper {
	return &Sweeper{
		store:       store,
		router:      r,
		renewalDays: cfg.Membership.RenewalDays,
		now:         now,
		rec:         rec,
		log:         log,
	}
}

// Run expires lapsed memberships, then reminds expiring ones. Each record is
// transitioned on its own under the member lock, so a failure on one record
// does not stop the others and a crashed sweep can simply run again.
func (s *Sweeper) Run(ctx context.Context) (Result, error) {
	var (
		res  Result
		errs error
	)
	at := s.now()

	expired, err := s.store.GetExpired(ctx)
	if err != nil {
		return res, err
	}
	for _, sub := range expired {
		if err := ctx.Err(); err != nil {
			return res, multierr.Append(errs, err)
		}
		applied, err := s.transition(ctx, sub, lifecycle.SweepExpired{At: at})
		errs = multierr.Append(errs, s.count(&res, &res.Expired, "expire", applied, err))
	}

	if s.renewalDays > 0 {
		expiring, err := s.store.GetExpiring(ctx, s.renewalDays)
		if err != nil {
			return res, multierr.Append(errs, err)
		}
		for _, sub := range expiring {
			if err := ctx.Err(); err != nil {
				return res, multierr.Append(errs, err)
			}
			applied, err := s.transition(ctx, sub, lifecycle.SweepReminder{At: at, RenewalDays: s.renewalDays})
			errs = multierr.Append(errs, s.count(&res, &res.Reminded, "remind", applied, err))
		}
	}

	s.log.Infow("sweep finished",
		"expired", res.Expired, "reminded", res.Reminded, "skipped", res.Skipped, "failed", res.Failed,
		"at", at.Format(time.RFC3339))
	return res, errs
}

func (s *Sweeper) transition(ctx context.Context, sub *models.Subscription, ev lifecycle.Event) (bool, error) {
	ctx = logctx.WithMemberID(ctx, sub.MemberID)
	a, err := s.router.Transition(ctx, sub.MemberID, ev, "")
	if err != nil {
		logctx.FromCtx(ctx, s.log).Errorw("sweep transition failed", "event", ev.Kind(), "error", err)
		return false, err
	}
	return a.Changed(), nil
}

func (s *Sweeper) count(res *Result, n *int, kind string, applied bool, err error) error {
	switch {
	case err != nil:
		res.Failed++
		s.rec.SweepRecord(kind, "failed")
	case applied:
		*n++
		s.rec.SweepRecord(kind, "applied")
	default:
		// the record changed between the query and the lock, or the reminder was already sent
		res.Skipped++
		s.rec.SweepRecord(kind, "skipped")
	}
	return err
}

// Job runs the sweep on the scheduler.
type Job struct {
	s *Sweeper
}

func NewJob(s *Sweeper) *Job {
	return &Job{s: s}
}

func (j *Job) Name() string { return "expiration-sweep" }

func (j *Job) Run(ctx context.Context) error {
	_, err := j.s.Run(ctx)
	return err
}

var Module = fx.Options(
	fx.Provide(New, NewJob),
)
