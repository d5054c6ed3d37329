package memory

import (
	"context"
	"database/sql"
	"sort"
	"time"

	"tariff-service/internal/domain/notification"
	"tariff-service/internal/domain/reminder"
	"tariff-service/internal/domain/subscription"
	"tariff-service/internal/domain/user"
	xerrors "tariff-service/internal/pkg/errors"
)

type historyRepo struct {
	s *Store
}

func (r *historyRepo) Create(ctx context.Context, e *subscription.HistoryEntry) error {
	return r.s.run(OpHistoryCreate, func(st *state) error {
		e.ID = st.nextID()
		st.history[e.ID] = *e
		return nil
	})
}

func (r *historyRepo) List(ctx context.Context, f *subscription.HistoryFilters) ([]subscription.HistoryEntry, int64, error) {
	f.Normalize()

	var all []subscription.HistoryEntry
	err := r.s.run("History.List", func(st *state) error {
		for _, e := range st.history {
			if f.UserID != nil && e.UserID != *f.UserID {
				continue
			}
			if f.SubscriptionID != nil && e.SubscriptionID != *f.SubscriptionID {
				continue
			}
			if f.Action != nil && e.Action != *f.Action {
				continue
			}
			if f.From != nil && e.ActionAt.Before(*f.From) {
				continue
			}
			if f.To != nil && e.ActionAt.After(*f.To) {
				continue
			}
			all = append(all, e)
		}
		return nil
	})
	if err != nil {
		return nil, 0, err
	}

	sort.Slice(all, func(i, j int) bool {
		if !all[i].ActionAt.Equal(all[j].ActionAt) {
			return all[i].ActionAt.After(all[j].ActionAt)
		}
		return all[i].ID > all[j].ID
	})

	total := int64(len(all))
	start := (f.Page - 1) * f.PageSize
	if start >= len(all) {
		return []subscription.HistoryEntry{}, total, nil
	}
	return all[start:min(start+f.PageSize, len(all))], total, nil
}

type reminderRepo struct {
	s *Store
}

func (r *reminderRepo) Create(ctx context.Context, rm *reminder.Reminder) error {
	return r.s.run("Reminders.Create", func(st *state) error {
		rm.ID = st.nextID()
		rm.CreatedAt = time.Now().UTC()
		st.reminders[rm.ID] = *rm
		return nil
	})
}

func (r *reminderRepo) FindByID(ctx context.Context, id int64) (*reminder.Reminder, error) {
	var out reminder.Reminder
	err := r.s.run("Reminders.FindByID", func(st *state) error {
		rm, ok := st.reminders[id]
		if !ok {
			return xerrors.Wrapf(xerrors.ErrNotFound, "reminder %d", id)
		}
		out = rm
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func sortReminders(list []reminder.Reminder) {
	sort.Slice(list, func(i, j int) bool {
		if !list[i].RemindAt.Equal(list[j].RemindAt) {
			return list[i].RemindAt.Before(list[j].RemindAt)
		}
		return list[i].ID < list[j].ID
	})
}

func (r *reminderRepo) ListByOwner(ctx context.Context, ownerID int64, f *reminder.ListFilters) ([]reminder.Reminder, int64, error) {
	f.Normalize()

	var all []reminder.Reminder
	err := r.s.run("Reminders.ListByOwner", func(st *state) error {
		for _, rm := range st.reminders {
			if rm.OwnerID != ownerID || (rm.IsSent && !f.IncludeSent) {
				continue
			}
			all = append(all, rm)
		}
		return nil
	})
	if err != nil {
		return nil, 0, err
	}
	sortReminders(all)

	total := int64(len(all))
	start := (f.Page - 1) * f.PageSize
	if start >= len(all) {
		return []reminder.Reminder{}, total, nil
	}
	return all[start:min(start+f.PageSize, len(all))], total, nil
}

func (r *reminderRepo) DeleteUnsent(ctx context.Context, ownerID, id int64) (bool, error) {
	var deleted bool
	err := r.s.run("Reminders.DeleteUnsent", func(st *state) error {
		rm, ok := st.reminders[id]
		if ok && rm.OwnerID == ownerID && !rm.IsSent {
			delete(st.reminders, id)
			deleted = true
		}
		return nil
	})
	return deleted, err
}

func (r *reminderRepo) ListDue(ctx context.Context, now time.Time, limit int) ([]reminder.Reminder, error) {
	out := []reminder.Reminder{}
	err := r.s.run("Reminders.ListDue", func(st *state) error {
		for _, rm := range st.reminders {
			if !rm.IsSent && !rm.RemindAt.After(now) {
				out = append(out, rm)
			}
		}
		return nil
	})
	sortReminders(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, err
}

func (r *reminderRepo) MarkSent(ctx context.Context, id int64, at time.Time) (bool, error) {
	var won bool
	err := r.s.run(OpRemindersMarkSent, func(st *state) error {
		rm, ok := st.reminders[id]
		if !ok || rm.IsSent {
			return nil
		}
		rm.IsSent = true
		rm.SentAt = sql.NullTime{Time: at, Valid: true}
		st.reminders[id] = rm
		won = true
		return nil
	})
	return won, err
}

type notificationRepo struct {
	s *Store
}

func (r *notificationRepo) Create(ctx context.Context, n *notification.Notification) error {
	return r.s.run("Notifications.Create", func(st *state) error {
		n.ID = st.nextID()
		n.CreatedAt = time.Now().UTC()
		st.notifications[n.ID] = *n
		return nil
	})
}

func (r *notificationRepo) ListByIdentity(ctx context.Context, identityID int64, limit int) ([]notification.Notification, error) {
	out := []notification.Notification{}
	err := r.s.run("Notifications.ListByIdentity", func(st *state) error {
		for _, n := range st.notifications {
			if n.IdentityID == identityID {
				out = append(out, n)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, err
}

type userRepo struct {
	s *Store
}

// EnsureUser registers an account seen for the first time; known ids are left alone.
func (r *userRepo) EnsureUser(ctx context.Context, id int64) error {
	return r.s.run(OpUsersEnsure, func(st *state) error {
		if _, ok := st.users[id]; !ok {
			st.users[id] = user.User{ID: id, Role: user.RoleUser}
		}
		return nil
	})
}

func (r *userRepo) FindByID(ctx context.Context, id int64) (*user.User, error) {
	var out user.User
	err := r.s.run("Users.FindByID", func(st *state) error {
		u, ok := st.users[id]
		if !ok {
			return xerrors.Wrapf(xerrors.ErrNotFound, "user %d", id)
		}
		out = u
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *userRepo) MarkTrialUsed(ctx context.Context, id int64) (bool, error) {
	var won bool
	err := r.s.run("Users.MarkTrialUsed", func(st *state) error {
		u, ok := st.users[id]
		if !ok || u.TrialUsed {
			return nil
		}
		u.TrialUsed = true
		st.users[id] = u
		won = true
		return nil
	})
	return won, err
}
