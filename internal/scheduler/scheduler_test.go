package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	xerrors "tariff-service/internal/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestTriggerRunsJob(t *testing.T) {
	s := New(zap.NewNop())
	var runs atomic.Int32
	require.NoError(t, s.Every("sweep", time.Hour, func(context.Context) error {
		runs.Add(1)
		return nil
	}))

	require.NoError(t, s.Trigger("sweep"))
	require.NoError(t, s.Trigger("sweep"))
	assert.Equal(t, int32(2), runs.Load())
	assert.Equal(t, []string{"sweep"}, s.Jobs())
}

func TestTriggerUnknownJob(t *testing.T) {
	s := New(zap.NewNop())
	assert.ErrorIs(t, s.Trigger("missing"), xerrors.ErrNotFound)
}

func TestDuplicateJobRejected(t *testing.T) {
	s := New(zap.NewNop())
	noop := func(context.Context) error { return nil }
	require.NoError(t, s.Every("sweep", time.Minute, noop))
	assert.ErrorIs(t, s.Every("sweep", time.Minute, noop), xerrors.ErrConflict)
}

func TestRunningJobIsNotOverlapped(t *testing.T) {
	s := New(zap.NewNop())
	started := make(chan struct{})
	release := make(chan struct{})
	var runs atomic.Int32
	require.NoError(t, s.Every("sweep", time.Hour, func(context.Context) error {
		runs.Add(1)
		close(started)
		<-release
		return nil
	}))

	go func() { _ = s.Trigger("sweep") }()
	<-started

	require.NoError(t, s.Trigger("sweep"))
	close(release)

	assert.Equal(t, int32(1), runs.Load())
}

func TestFailingJobKeepsSchedulerAlive(t *testing.T) {
	s := New(zap.NewNop())
	var runs atomic.Int32
	require.NoError(t, s.Every("sweep", time.Hour, func(context.Context) error {
		runs.Add(1)
		return errors.New("database unavailable")
	}))
	require.NoError(t, s.Every("panics", time.Hour, func(context.Context) error {
		panic("boom")
	}))

	require.NoError(t, s.Trigger("sweep"))
	require.NoError(t, s.Trigger("panics"))
	require.NoError(t, s.Trigger("sweep"))
	assert.Equal(t, int32(2), runs.Load())
}

func TestStopCancelsJobContext(t *testing.T) {
	s := New(zap.NewNop())
	started := make(chan struct{})
	finished := make(chan error, 1)
	require.NoError(t, s.Every("sweep", time.Hour, func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		finished <- ctx.Err()
		return ctx.Err()
	}))
	s.Start()

	go func() { _ = s.Trigger("sweep") }()
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))

	select {
	case err := <-finished:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("job did not observe cancellation")
	}

	// Jobs do not start once stopped.
	var after atomic.Int32
	require.NoError(t, s.Every("late", time.Hour, func(context.Context) error {
		after.Add(1)
		return nil
	}))
	require.NoError(t, s.Trigger("late"))
	assert.Zero(t, after.Load())
}
