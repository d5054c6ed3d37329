// internal/service/dispatch/expiry_dispatcher.go
package dispatch

import (
	"context"
	"fmt"
	"time"

	"tariff-service/internal/domain/notification"
	"tariff-service/internal/domain/subscription"
	"tariff-service/internal/domain/tariff"
	"tariff-service/internal/metrics"
	"tariff-service/internal/pkg/clock"
	"tariff-service/internal/repository"
	notifsvc "tariff-service/internal/service/notification"

	"go.uber.org/zap"
)

const JobExpirySweep = "expiry_sweep"

// Ledger is the subset of the subscription ledger the sweep drives.
type Ledger interface {
	Expire(ctx context.Context, id int64) (bool, error)
}

type TariffSource interface {
	GetTariff(ctx context.Context, id int64) (*tariff.Tariff, error)
}

type Config struct {
	BatchSize int
	// RetryBudget is the wall time one sweep may spend backing off failed sends.
	RetryBudget time.Duration
}

// ExpiryDispatcher expires overdue subscriptions and sends each expiry warning at most
// once. A warning is sent only by the caller whose watermark write succeeded, so any
// number of concurrent sweeps share the work without duplicates.
type ExpiryDispatcher struct {
	store      repository.Store
	ledger     Ledger
	tariffs    TariffSource
	thresholds *subscription.ThresholdTable
	channel    notifsvc.Channel
	metrics    *metrics.Metrics
	clock      clock.Clock
	cfg        Config
	logger     *zap.Logger
}

func NewExpiryDispatcher(
	store repository.Store,
	ledger Ledger,
	tariffs TariffSource,
	thresholds *subscription.ThresholdTable,
	channel notifsvc.Channel,
	m *metrics.Metrics,
	clk clock.Clock,
	cfg Config,
	logger *zap.Logger,
) *ExpiryDispatcher {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 500
	}
	if cfg.RetryBudget <= 0 {
		cfg.RetryBudget = 10 * time.Second
	}
	return &ExpiryDispatcher{
		store:      store,
		ledger:     ledger,
		tariffs:    tariffs,
		thresholds: thresholds,
		channel:    channel,
		metrics:    m,
		clock:      clk,
		cfg:        cfg,
		logger:     logger,
	}
}

// SweepResult counts what one run did.
type SweepResult struct {
	Scanned  int
	Expired  int
	Claimed  int
	Lost     int
	Sent     int
	Failures int
}

// Run performs one sweep. Row-level failures are logged and left for the next tick; only
// a failure to list candidates is returned.
func (d *ExpiryDispatcher) Run(ctx context.Context) (*SweepResult, error) {
	started := time.Now()
	defer d.metrics.ObserveJob(JobExpirySweep, started)

	rows, err := d.store.Subscriptions().ListForSweep(ctx, d.cfg.BatchSize)
	if err != nil {
		d.metrics.IncJobError(JobExpirySweep)
		return nil, fmt.Errorf("list sweep candidates: %w", err)
	}

	ctx = notifsvc.WithRetryDeadline(ctx, started.Add(d.cfg.RetryBudget))
	res := &SweepResult{Scanned: len(rows)}
	for i := range rows {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		if err := d.process(ctx, &rows[i], res); err != nil {
			res.Failures++
			d.metrics.IncJobError(JobExpirySweep)
			d.logger.Warn("sweep row failed",
				zap.Int64("subscription_id", rows[i].ID),
				zap.Error(err),
			)
		}
	}

	if res.Expired > 0 || res.Claimed > 0 || res.Failures > 0 {
		d.logger.Info("expiry sweep finished",
			zap.Int("scanned", res.Scanned),
			zap.Int("expired", res.Expired),
			zap.Int("claimed", res.Claimed),
			zap.Int("lost", res.Lost),
			zap.Int("sent", res.Sent),
			zap.Int("failures", res.Failures),
		)
	}
	return res, nil
}

func (d *ExpiryDispatcher) process(ctx context.Context, sub *subscription.Subscription, res *SweepResult) error {
	if !sub.EndAt.Valid {
		return nil
	}

	t, err := d.tariffs.GetTariff(ctx, sub.TariffID)
	if err != nil {
		return fmt.Errorf("resolve tariff %d: %w", sub.TariffID, err)
	}

	now := d.clock.Now()
	if !sub.EndAt.Time.After(now) {
		return d.expire(ctx, sub, t, now, res)
	}

	for _, th := range d.thresholds.For(t) {
		if sub.Watermarks.IsSet(th.Watermark) || !th.Crossed(sub.EndAt.Time, now) {
			continue
		}
		won, err := d.claim(ctx, sub, th.Watermark, now, res)
		if err != nil {
			return err
		}
		if won && d.send(ctx, warningMessage(sub, t, th)) {
			res.Sent++
		}
	}
	return nil
}

func (d *ExpiryDispatcher) expire(ctx context.Context, sub *subscription.Subscription, t *tariff.Tariff, now time.Time, res *SweepResult) error {
	if sub.Status != subscription.StatusExpired {
		expired, err := d.ledger.Expire(ctx, sub.ID)
		if err != nil {
			return fmt.Errorf("expire: %w", err)
		}
		if !expired {
			// Renewed or cancelled since the scan; only an expired row gets the notice.
			current, err := d.store.Subscriptions().FindByID(ctx, sub.ID)
			if err != nil {
				return err
			}
			if current.Status != subscription.StatusExpired {
				return nil
			}
			sub = current
		} else {
			res.Expired++
		}
	}

	if sub.Watermarks.IsSet(subscription.WatermarkExpired) {
		return nil
	}
	won, err := d.claim(ctx, sub, subscription.WatermarkExpired, now, res)
	if err != nil {
		return err
	}
	if won && d.send(ctx, expiredMessage(sub, t)) {
		res.Sent++
	}
	return nil
}

func (d *ExpiryDispatcher) claim(ctx context.Context, sub *subscription.Subscription, w subscription.Watermark, now time.Time, res *SweepResult) (bool, error) {
	won, err := d.store.Subscriptions().SetWatermark(ctx, sub.ID, w, now)
	if err != nil {
		return false, fmt.Errorf("claim %s: %w", w, err)
	}
	if !won {
		res.Lost++
		d.metrics.IncClaim(string(w), "lost")
		return false, nil
	}
	res.Claimed++
	d.metrics.IncClaim(string(w), "won")
	return true, nil
}

// send runs after the watermark is committed. A failure here is not retried by the sweep.
func (d *ExpiryDispatcher) send(ctx context.Context, msg notification.Message) bool {
	if err := d.channel.Send(ctx, msg); err != nil {
		d.metrics.IncSendFailure(string(msg.Type))
		d.logger.Error("notification lost after claim",
			zap.Int64("identity_id", msg.IdentityID),
			zap.String("type", string(msg.Type)),
			zap.Any("subscription_id", msg.Metadata["subscription_id"]),
			zap.Error(err),
		)
		return false
	}
	return true
}

func warningMessage(sub *subscription.Subscription, t *tariff.Tariff, th subscription.Threshold) notification.Message {
	return notification.Message{
		IdentityID: sub.UserID,
		Title:      fmt.Sprintf("Subscription expires in %s", th.Label),
		Body: fmt.Sprintf("Your %s subscription %s ends at %s.",
			t.Name, sub.Reference, sub.EndAt.Time.UTC().Format(time.RFC3339)),
		Type:     notification.TypeExpiryWarning,
		Metadata: metadata(sub, string(th.Watermark)),
	}
}

func expiredMessage(sub *subscription.Subscription, t *tariff.Tariff) notification.Message {
	return notification.Message{
		IdentityID: sub.UserID,
		Title:      "Subscription expired",
		Body:       fmt.Sprintf("Your %s subscription %s has expired.", t.Name, sub.Reference),
		Type:       notification.TypeExpired,
		Metadata:   metadata(sub, string(subscription.WatermarkExpired)),
	}
}

func metadata(sub *subscription.Subscription, watermark string) map[string]interface{} {
	return map[string]interface{}{
		"subscription_id": sub.ID,
		"reference":       sub.Reference,
		"category_id":     sub.CategoryID,
		"location_id":     sub.LocationID,
		"watermark":       watermark,
	}
}
