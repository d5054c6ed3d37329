package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"tariff-service/internal/domain/subscription"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeWriter struct {
	msgs []kafka.Message
	err  error
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

func activeSub() *subscription.Subscription {
	end := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	return &subscription.Subscription{
		ID:        12,
		Reference: "SUB-ABC",
		UserID:    3,
		Status:    subscription.StatusActive,
		EndAt:     sql.NullTime{Time: end, Valid: true},
	}
}

func TestKafkaPublisherKeysBySubscription(t *testing.T) {
	w := &fakeWriter{}
	p := newKafkaPublisher(w, "subscription-events", zap.NewNop())

	e := NewEvent(subscription.ActionActivated, activeSub(), time.Now())
	require.NoError(t, p.Publish(context.Background(), e))

	require.Len(t, w.msgs, 1)
	assert.Equal(t, "12", string(w.msgs[0].Key))

	var decoded Event
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &decoded))
	assert.Equal(t, "subscription.activated", decoded.Type)
	assert.Equal(t, e.ID, decoded.ID)
	require.NotNil(t, decoded.EndAt)
}

func TestKafkaPublisherWrapsWriteErrors(t *testing.T) {
	boom := errors.New("broker down")
	p := newKafkaPublisher(&fakeWriter{err: boom}, "t", zap.NewNop())

	err := p.Publish(context.Background(), NewEvent(subscription.ActionExpired, activeSub(), time.Now()))
	require.ErrorIs(t, err, boom)
}

func TestNewKafkaPublisherRequiresBrokers(t *testing.T) {
	_, err := NewKafkaPublisher(nil, "t", zap.NewNop())
	require.Error(t, err)
}
