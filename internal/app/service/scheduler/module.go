package scheduler

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/fatflowers/membership/internal/app/service/notification"
	"github.com/fatflowers/membership/internal/app/service/sweep"
	"github.com/fatflowers/membership/internal/platform/locker"
	"github.com/fatflowers/membership/pkg/config"
	"github.com/fatflowers/membership/pkg/metrics"
)

func newScheduler(
	cfg *config.Config,
	locks locker.Locker,
	rec *metrics.Recorder,
	log *zap.SugaredLogger,
	sweepJob *sweep.Job,
	dispatchJob *notification.DispatchJob,
	purgeJob *notification.PurgeJob,
) *Scheduler {
	m := cfg.Membership
	return New(locks, rec, log,
		Entry{Job: sweepJob, Interval: m.SweepInterval},
		Entry{Job: dispatchJob, Interval: m.DispatchInterval},
		Entry{Job: purgeJob, Interval: m.PurgeInterval},
	)
}

func registerRunners(lc fx.Lifecycle, s *Scheduler, log *zap.SugaredLogger) {
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			log.Infow("starting scheduled jobs", "jobs", s.Jobs())
			s.Start()
			return nil
		},
		OnStop: func(context.Context) error {
			s.Stop()
			return nil
		},
	})
}

// Module provides the Scheduler without starting it.
var Module = fx.Options(
	fx.Provide(newScheduler),
)

// Runners starts the scheduled loops with the application.
var Runners = fx.Options(
	fx.Invoke(registerRunners),
)
