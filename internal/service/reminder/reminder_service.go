// internal/service/reminder/reminder_service.go
package reminder

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"tariff-service/internal/domain/reminder"
	"tariff-service/internal/pkg/clock"
	xerrors "tariff-service/internal/pkg/errors"
	"tariff-service/internal/repository"

	"go.uber.org/zap"
)

type ReminderService struct {
	store  repository.Store
	clock  clock.Clock
	logger *zap.Logger
}

func NewReminderService(store repository.Store, clk clock.Clock, logger *zap.Logger) *ReminderService {
	return &ReminderService{
		store:  store,
		clock:  clk,
		logger: logger,
	}
}

// Create schedules a reminder for the owner. A remind_at in the past fires on the next
// dispatch run.
func (s *ReminderService) Create(ctx context.Context, ownerID int64, req *reminder.CreateReminderRequest) (*reminder.Reminder, error) {
	message := strings.TrimSpace(req.Message)
	if message == "" {
		return nil, fmt.Errorf("%w: message is required", xerrors.ErrValidation)
	}
	if utf8.RuneCountInString(message) > reminder.MaxMessageLength {
		return nil, fmt.Errorf("%w: message exceeds %d characters", xerrors.ErrValidation, reminder.MaxMessageLength)
	}
	if req.RemindAt.IsZero() {
		return nil, fmt.Errorf("%w: remind_at is required", xerrors.ErrValidation)
	}
	if req.ObjectClientID <= 0 {
		return nil, fmt.Errorf("%w: object_client_id is required", xerrors.ErrValidation)
	}

	rm := &reminder.Reminder{
		ObjectClientID: req.ObjectClientID,
		OwnerID:        ownerID,
		RemindAt:       req.RemindAt.UTC(),
		Message:        message,
	}
	if err := s.store.Reminders().Create(ctx, rm); err != nil {
		return nil, err
	}

	s.logger.Info("reminder created",
		zap.Int64("reminder_id", rm.ID),
		zap.Int64("owner_id", ownerID),
		zap.Time("remind_at", rm.RemindAt),
	)
	return rm, nil
}

func (s *ReminderService) List(ctx context.Context, ownerID int64, filters *reminder.ListFilters) (*reminder.ListResponse, error) {
	if filters == nil {
		filters = &reminder.ListFilters{}
	}
	filters.Normalize()

	list, total, err := s.store.Reminders().ListByOwner(ctx, ownerID, filters)
	if err != nil {
		return nil, err
	}
	return &reminder.ListResponse{
		Reminders: list,
		Total:     total,
		Page:      filters.Page,
		PageSize:  filters.PageSize,
	}, nil
}

// Delete removes an unsent reminder. Sent reminders belong to the dispatcher's record and
// cannot be removed.
func (s *ReminderService) Delete(ctx context.Context, ownerID, id int64) error {
	rm, err := s.store.Reminders().FindByID(ctx, id)
	if err != nil {
		return err
	}
	if rm.OwnerID != ownerID {
		return xerrors.Wrapf(xerrors.ErrNotFound, "reminder %d", id)
	}
	if rm.IsSent {
		return fmt.Errorf("%w: reminder %d was already sent", xerrors.ErrInvalidState, id)
	}

	deleted, err := s.store.Reminders().DeleteUnsent(ctx, ownerID, id)
	if err != nil {
		return err
	}
	if !deleted {
		// Dispatched between the read and the delete.
		return fmt.Errorf("%w: reminder %d was already sent", xerrors.ErrInvalidState, id)
	}

	s.logger.Info("reminder deleted", zap.Int64("reminder_id", id), zap.Int64("owner_id", ownerID))
	return nil
}
