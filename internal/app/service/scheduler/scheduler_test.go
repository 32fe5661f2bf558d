package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fatflowers/membership/internal/platform/locker"
)

type countingJob struct {
	name  string
	runs  atomic.Int32
	err   error
	block chan struct{}
}

func (j *countingJob) Name() string { return j.name }

func (j *countingJob) Run(ctx context.Context) error {
	j.runs.Add(1)
	if j.block != nil {
		select {
		case <-j.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return j.err
}

func TestRunOnce(t *testing.T) {
	job := &countingJob{name: "demo", err: errors.New("boom")}
	s := New(locker.NewLocal(), nil, zap.NewNop().Sugar(), Entry{Job: job, Interval: time.Hour})

	ran, err := s.RunOnce(context.Background(), job)
	assert.True(t, ran)
	assert.EqualError(t, err, "boom")
	assert.Equal(t, int32(1), job.runs.Load())
}

func TestRunOnceSkipsWhenLocked(t *testing.T) {
	locks := locker.NewLocal()
	job := &countingJob{name: "demo"}
	s := New(locks, nil, zap.NewNop().Sugar(), Entry{Job: job, Interval: time.Hour})

	unlock, err := locks.Lock(context.Background(), "job:demo")
	require.NoError(t, err)
	defer unlock()

	ran, err := s.RunOnce(context.Background(), job)
	require.NoError(t, err)
	assert.False(t, ran)
	assert.Zero(t, job.runs.Load())
}

func TestRunByName(t *testing.T) {
	job := &countingJob{name: "demo"}
	s := New(locker.NewLocal(), nil, zap.NewNop().Sugar(), Entry{Job: job}, Entry{Job: nil})
	assert.Equal(t, []string{"demo"}, s.Jobs())

	ran, err := s.RunByName(context.Background(), "demo")
	require.NoError(t, err)
	assert.True(t, ran)

	_, err = s.RunByName(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrUnknownJob)
}

func TestStartStop(t *testing.T) {
	fast := &countingJob{name: "fast"}
	disabled := &countingJob{name: "disabled"}
	s := New(locker.NewLocal(), nil, zap.NewNop().Sugar(),
		Entry{Job: fast, Interval: 10 * time.Millisecond},
		Entry{Job: disabled, Interval: 0},
	)

	s.Start()
	assert.Eventually(t, func() bool { return fast.runs.Load() >= 3 }, time.Second, 5*time.Millisecond)
	s.Stop()
	s.Stop()

	after := fast.runs.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, after, fast.runs.Load())
	assert.Zero(t, disabled.runs.Load())
}

func TestStopCancelsRunningCycle(t *testing.T) {
	job := &countingJob{name: "slow", block: make(chan struct{})}
	s := New(locker.NewLocal(), nil, zap.NewNop().Sugar(), Entry{Job: job, Interval: time.Hour})

	s.Start()
	require.Eventually(t, func() bool { return job.runs.Load() == 1 }, time.Second, 5*time.Millisecond)

	done := make(chan struct{})
	go func() {
		s.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("stop did not return")
	}
}
