package reminder

import (
	"context"
	"fmt"
	"time"

	"tariff-service/internal/domain/notification"
	"tariff-service/internal/domain/reminder"
	"tariff-service/internal/metrics"
	"tariff-service/internal/pkg/clock"
	"tariff-service/internal/repository"
	notifsvc "tariff-service/internal/service/notification"

	"go.uber.org/zap"
)

const JobReminderDispatch = "reminder_dispatch"

type DispatcherConfig struct {
	BatchSize int
	// RetryBudget is the wall time one run may spend backing off failed sends.
	RetryBudget time.Duration
}

// Dispatcher delivers due reminders. MarkSent is the lock: only the worker whose update
// flipped is_sent sends, so racing instances deliver each reminder at most once.
type Dispatcher struct {
	store   repository.Store
	channel notifsvc.Channel
	metrics *metrics.Metrics
	clock   clock.Clock
	cfg     DispatcherConfig
	logger  *zap.Logger
}

func NewDispatcher(
	store repository.Store,
	channel notifsvc.Channel,
	m *metrics.Metrics,
	clk clock.Clock,
	cfg DispatcherConfig,
	logger *zap.Logger,
) *Dispatcher {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.RetryBudget <= 0 {
		cfg.RetryBudget = 10 * time.Second
	}
	return &Dispatcher{
		store:   store,
		channel: channel,
		metrics: m,
		clock:   clk,
		cfg:     cfg,
		logger:  logger,
	}
}

type DispatchResult struct {
	Due    int
	Sent   int
	Lost   int
	Failed int
}

func (d *Dispatcher) Run(ctx context.Context) (*DispatchResult, error) {
	started := time.Now()
	defer d.metrics.ObserveJob(JobReminderDispatch, started)

	now := d.clock.Now()
	due, err := d.store.Reminders().ListDue(ctx, now, d.cfg.BatchSize)
	if err != nil {
		d.metrics.IncJobError(JobReminderDispatch)
		return nil, fmt.Errorf("list due reminders: %w", err)
	}

	ctx = notifsvc.WithRetryDeadline(ctx, started.Add(d.cfg.RetryBudget))
	res := &DispatchResult{Due: len(due)}
	for i := range due {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		d.dispatch(ctx, &due[i], now, res)
	}

	if res.Due > 0 {
		d.logger.Info("reminder dispatch finished",
			zap.Int("due", res.Due),
			zap.Int("sent", res.Sent),
			zap.Int("lost", res.Lost),
			zap.Int("failed", res.Failed),
		)
	}
	return res, nil
}

func (d *Dispatcher) dispatch(ctx context.Context, rm *reminder.Reminder, now time.Time, res *DispatchResult) {
	won, err := d.store.Reminders().MarkSent(ctx, rm.ID, now)
	if err != nil {
		res.Failed++
		d.metrics.IncJobError(JobReminderDispatch)
		d.logger.Warn("reminder claim failed", zap.Int64("reminder_id", rm.ID), zap.Error(err))
		return
	}
	if !won {
		res.Lost++
		d.metrics.IncReminder("lost")
		return
	}

	msg := notification.Message{
		IdentityID: rm.OwnerID,
		Title:      "Reminder",
		Body:       rm.Message,
		Type:       notification.TypeReminder,
		Metadata: map[string]interface{}{
			"reminder_id":      rm.ID,
			"object_client_id": rm.ObjectClientID,
			"remind_at":        rm.RemindAt,
		},
	}
	if err := d.channel.Send(ctx, msg); err != nil {
		res.Failed++
		d.metrics.IncReminder("failed")
		d.logger.Error("reminder lost after claim",
			zap.Int64("reminder_id", rm.ID),
			zap.Int64("owner_id", rm.OwnerID),
			zap.Error(err),
		)
		return
	}

	res.Sent++
	d.metrics.IncReminder("sent")
}
