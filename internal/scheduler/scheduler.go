// internal/scheduler/scheduler.go
package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	xerrors "tariff-service/internal/pkg/errors"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// JobFunc is one run of a periodic job. The context is cancelled when the scheduler stops.
type JobFunc func(ctx context.Context) error

// Scheduler runs the periodic sweeps. A run that is still going when its next tick fires
// is skipped, so a slow sweep never overlaps itself within one process.
type Scheduler struct {
	cron    *cron.Cron
	ctx     context.Context
	cancel  context.CancelFunc
	logger  *zap.Logger
	mu      sync.Mutex
	entries map[string]cron.EntryID

	stopOnce sync.Once
}

func New(logger *zap.Logger) *Scheduler {
	cl := cronLogger{logger: logger.Sugar()}
	ctx, cancel := context.WithCancel(context.Background())

	return &Scheduler{
		cron: cron.New(
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		ctx:     ctx,
		cancel:  cancel,
		logger:  logger,
		entries: make(map[string]cron.EntryID),
	}
}

// Every registers fn to run at a fixed interval. Intervals below one second are rounded
// up to one second.
func (s *Scheduler) Every(name string, interval time.Duration, fn JobFunc) error {
	if interval < time.Second {
		interval = time.Second
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[name]; ok {
		return fmt.Errorf("%w: job %q already registered", xerrors.ErrConflict, name)
	}

	id := s.cron.Schedule(cron.Every(interval), cron.FuncJob(func() { s.run(name, fn) }))
	s.entries[name] = id

	s.logger.Info("scheduled job registered", zap.String("job", name), zap.Duration("interval", interval))
	return nil
}

func (s *Scheduler) run(name string, fn JobFunc) {
	if s.ctx.Err() != nil {
		return
	}
	started := time.Now()
	if err := fn(s.ctx); err != nil {
		s.logger.Error("scheduled job failed",
			zap.String("job", name),
			zap.Duration("took", time.Since(started)),
			zap.Error(err),
		)
		return
	}
	s.logger.Debug("scheduled job finished", zap.String("job", name), zap.Duration("took", time.Since(started)))
}

// Trigger runs a job now, outside its schedule. It goes through the same wrappers, so it
// is a no-op while the job is already running.
func (s *Scheduler) Trigger(name string) error {
	s.mu.Lock()
	id, ok := s.entries[name]
	s.mu.Unlock()
	if !ok {
		return xerrors.Wrapf(xerrors.ErrNotFound, "job %q", name)
	}

	entry := s.cron.Entry(id)
	if entry.WrappedJob == nil {
		return xerrors.Wrapf(xerrors.ErrNotFound, "job %q", name)
	}
	entry.WrappedJob.Run()
	return nil
}

// Jobs lists the registered job names.
func (s *Scheduler) Jobs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.entries))
	for name := range s.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("scheduler started", zap.Int("jobs", len(s.Jobs())))
}

// Stop cancels running jobs and waits for them to return, or for ctx to expire.
func (s *Scheduler) Stop(ctx context.Context) error {
	var err error
	s.stopOnce.Do(func() {
		s.cancel()
		done := s.cron.Stop()
		select {
		case <-done.Done():
			s.logger.Info("scheduler stopped")
		case <-ctx.Done():
			err = ctx.Err()
			s.logger.Warn("scheduler stop timed out", zap.Error(err))
		}
	})
	return err
}

type cronLogger struct {
	logger *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Errorw(msg, append(keysAndValues, "error", err)...)
}
