package notification

import (
	"context"
	"time"

	"tariff-service/internal/domain/notification"
	xerrors "tariff-service/internal/pkg/errors"

	backoff "github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

type retryDeadlineKey struct{}

// WithRetryDeadline caps the time RetryingChannel spends backing off across every send
// made with the returned context. Once it passes, each send gets one attempt.
func WithRetryDeadline(ctx context.Context, deadline time.Time) context.Context {
	return context.WithValue(ctx, retryDeadlineKey{}, deadline)
}

// RetryingChannel retries transient delivery failures. Validation errors are final.
type RetryingChannel struct {
	next         Channel
	buildBackoff func() backoff.BackOff
	logger       *zap.Logger
}

func NewRetryingChannel(next Channel, factory func() backoff.BackOff, logger *zap.Logger) *RetryingChannel {
	if factory == nil {
		factory = func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 200 * time.Millisecond
			b.MaxElapsedTime = 5 * time.Second
			return b
		}
	}
	return &RetryingChannel{next: next, buildBackoff: factory, logger: logger}
}

func (c *RetryingChannel) Send(ctx context.Context, msg notification.Message) error {
	// attempts run on ctx; only the waits between them observe the retry deadline
	waitCtx := ctx
	if deadline, ok := ctx.Value(retryDeadlineKey{}).(time.Time); ok {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithDeadline(ctx, deadline)
		defer cancel()
	}

	var last error
	op := func() error {
		last = c.next.Send(ctx, msg)
		if last != nil && xerrors.Is(last, xerrors.ErrValidation) {
			return backoff.Permanent(last)
		}
		return last
	}
	notify := func(err error, wait time.Duration) {
		c.logger.Warn("notification send failed, retrying",
			zap.Int64("identity_id", msg.IdentityID),
			zap.String("type", string(msg.Type)),
			zap.Duration("wait", wait),
			zap.Error(err),
		)
	}

	err := backoff.RetryNotify(op, backoff.WithContext(c.buildBackoff(), waitCtx), notify)
	if err != nil && last != nil && ctx.Err() == nil {
		return last
	}
	return err
}

var _ Channel = (*RetryingChannel)(nil)
