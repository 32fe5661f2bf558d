// Package scheduler runs the periodic jobs: expiration sweep, notification
// dispatch and purge. A job cycle only runs while holding the job's lock, so
// replicas sharing a lock backend never run the same job at once.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fatflowers/membership/internal/platform/locker"
	"github.com/fatflowers/membership/pkg/logctx"
	"github.com/fatflowers/membership/pkg/metrics"
	"github.com/fatflowers/membership/pkg/tool"
)

// Job is one unit of scheduled work.
type Job interface {
	Name() string
	Run(ctx context.Context) error
}

// Entry schedules Job every Interval. A non-positive interval disables it.
type Entry struct {
	Job      Job
	Interval time.Duration
}

var ErrUnknownJob = errors.New("unknown job")

type Scheduler struct {
	entries []Entry
	locks   locker.Locker
	rec     *metrics.Recorder
	log     *zap.SugaredLogger

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func New(locks locker.Locker, rec *metrics.Recorder, log *zap.SugaredLogger, entries ...Entry) *Scheduler {
	s := &Scheduler{locks: locks, rec: rec, log: log, stop: make(chan struct{})}
	for _, e := range entries {
		if e.Job == nil {
			continue
		}
		s.entries = append(s.entries, e)
	}
	return s
}

// Jobs returns the registered job names in registration order.
func (s *Scheduler) Jobs() []string {
	names := make([]string, 0, len(s.entries))
	for _, e := range s.entries {
		names = append(names, e.Job.Name())
	}
	return names
}

// Start launches one loop per enabled entry. Each loop runs its job once right
// away and then on every tick until Stop.
func (s *Scheduler) Start() {
	for _, e := range s.entries {
		if e.Interval <= 0 {
			s.log.Infow("job disabled", "job", e.Job.Name())
			continue
		}
		s.wg.Add(1)
		go s.loop(e)
	}
}

// Stop ends all loops and waits for running cycles to finish.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
	s.wg.Wait()
}

func (s *Scheduler) loop(e Entry) {
	defer s.wg.Done()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-s.stop:
			cancel()
		case <-ctx.Done():
		}
	}()

	s.runLogged(ctx, e.Job)
	ticker := time.NewTicker(e.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.runLogged(ctx, e.Job)
		}
	}
}

func (s *Scheduler) runLogged(ctx context.Context, job Job) {
	if _, err := s.RunOnce(ctx, job); err != nil && ctx.Err() == nil {
		s.log.Errorw("job failed", "job", job.Name(), "error", err)
	}
}

// RunOnce runs one cycle of job under its lock. ran is false when another
// instance holds the lock.
func (s *Scheduler) RunOnce(ctx context.Context, job Job) (ran bool, err error) {
	unlock, err := s.locks.TryLock(ctx, "job:"+job.Name())
	if errors.Is(err, locker.ErrNotAcquired) {
		s.log.Debugw("job running elsewhere, skipping cycle", "job", job.Name())
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("lock job %s: %w", job.Name(), err)
	}
	defer unlock()

	ctx = logctx.WithTraceID(ctx, tool.GenerateUUIDV7())
	start := time.Now()
	err = job.Run(ctx)
	s.rec.JobDuration(job.Name(), metrics.MillisecondsSince(start))
	return true, err
}

// RunByName runs one cycle of the named job.
func (s *Scheduler) RunByName(ctx context.Context, name string) (bool, error) {
	for _, e := range s.entries {
		if e.Job.Name() == name {
			return s.RunOnce(ctx, e.Job)
		}
	}
	return false, fmt.Errorf("%w: %s", ErrUnknownJob, name)
}
