// Package events publishes subscription lifecycle events for downstream consumers.
package events

import (
	"context"
	"sync"
	"time"

	"tariff-service/internal/domain/subscription"

	"github.com/oklog/ulid/v2"
)

// Event is one committed lifecycle transition.
type Event struct {
	ID             string              `json:"id"`
	Type           string              `json:"type"`
	SubscriptionID int64               `json:"subscription_id"`
	Reference      string              `json:"reference"`
	UserID         int64               `json:"user_id"`
	TariffID       int64               `json:"tariff_id"`
	CategoryID     int64               `json:"category_id"`
	LocationID     int64               `json:"location_id"`
	Status         subscription.Status `json:"status"`
	PricePaid      float64             `json:"price_paid"`
	EndAt          *time.Time          `json:"end_at,omitempty"`
	OccurredAt     time.Time           `json:"occurred_at"`
}

// TypeFor is the event type of a history action, e.g. "subscription.activated".
func TypeFor(action subscription.Action) string {
	return "subscription." + string(action)
}

func NewEvent(action subscription.Action, s *subscription.Subscription, at time.Time) Event {
	e := Event{
		ID:             ulid.Make().String(),
		Type:           TypeFor(action),
		SubscriptionID: s.ID,
		Reference:      s.Reference,
		UserID:         s.UserID,
		TariffID:       s.TariffID,
		CategoryID:     s.CategoryID,
		LocationID:     s.LocationID,
		Status:         s.Status,
		PricePaid:      s.PricePaid,
		OccurredAt:     at,
	}
	if s.EndAt.Valid {
		end := s.EndAt.Time
		e.EndAt = &end
	}
	return e
}

type Publisher interface {
	Publish(ctx context.Context, e Event) error
	Close() error
}

// Nop discards events; used when no broker is configured.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }
func (Nop) Close() error                         { return nil }

// Recorder keeps published events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
	Err    error
}

func (r *Recorder) Publish(_ context.Context, e Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	r.events = append(r.events, e)
	return nil
}

func (r *Recorder) Close() error { return nil }

func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Types returns the recorded event types in publish order.
func (r *Recorder) Types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, e := range r.events {
		out[i] = e.Type
	}
	return out
}
