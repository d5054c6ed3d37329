package memory

import (
	"context"
	"database/sql"
	"fmt"
	"slices"
	"sort"
	"time"

	"tariff-service/internal/domain/subscription"
	xerrors "tariff-service/internal/pkg/errors"
	"tariff-service/internal/repository"
)

type subscriptionRepo struct {
	s *Store
}

// Create enforces the slot indexes: per (user, category, location) one row holding the
// slot and one open demo. CreatedAt is kept when the caller set it.
func (r *subscriptionRepo) Create(ctx context.Context, sub *subscription.Subscription) error {
	return r.s.run(OpSubscriptionsCreate, func(st *state) error {
		for _, existing := range st.subscriptions {
			if existing.Key() != sub.Key() {
				continue
			}
			if (existing.HoldsSlot() && sub.HoldsSlot()) ||
				(existing.IsDemo && sub.IsDemo && existing.Status.IsOpen() && sub.Status.IsOpen()) {
				return fmt.Errorf("%w: open subscription %d holds the slot", xerrors.ErrConflict, existing.ID)
			}
		}
		if sub.CreatedAt.IsZero() {
			sub.CreatedAt = time.Now().UTC()
		}
		sub.ID = st.nextID()
		sub.UpdatedAt = sub.CreatedAt
		st.subscriptions[sub.ID] = *sub
		return nil
	})
}

func (r *subscriptionRepo) FindByID(ctx context.Context, id int64) (*subscription.Subscription, error) {
	var out subscription.Subscription
	err := r.s.run("Subscriptions.FindByID", func(st *state) error {
		sub, ok := st.subscriptions[id]
		if !ok {
			return xerrors.Wrapf(xerrors.ErrNotFound, "subscription %d", id)
		}
		out = sub
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *subscriptionRepo) FindOpenByKey(ctx context.Context, key subscription.Key) ([]subscription.Subscription, error) {
	out := []subscription.Subscription{}
	err := r.s.run("Subscriptions.FindOpenByKey", func(st *state) error {
		for _, sub := range st.subscriptions {
			if sub.Key() == key && sub.Status.IsOpen() {
				out = append(out, sub)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, err
}

// update applies fn to the row when guard accepts it, mirroring UPDATE ... WHERE.
func (r *subscriptionRepo) update(op string, id int64, guard func(subscription.Subscription) bool, fn func(*subscription.Subscription)) (bool, error) {
	var applied bool
	err := r.s.run(op, func(st *state) error {
		sub, ok := st.subscriptions[id]
		if !ok {
			return xerrors.ErrNotFound
		}
		if !guard(sub) {
			return nil
		}
		fn(&sub)
		st.subscriptions[id] = sub
		applied = true
		return nil
	})
	return applied, err
}

func validTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: true}
}

func (r *subscriptionRepo) Activate(ctx context.Context, id int64, upd repository.ActivationUpdate) (bool, error) {
	return r.update(OpSubscriptionsActive, id,
		func(sub subscription.Subscription) bool { return sub.Status == upd.From },
		func(sub *subscription.Subscription) {
			sub.Status = subscription.StatusActive
			sub.PricePaid += upd.PricePaid
			sub.StartAt = validTime(upd.StartAt)
			sub.EndAt = validTime(upd.EndAt)
			if upd.ApproverID != 0 {
				sub.ApproverID = sql.NullInt64{Int64: upd.ApproverID, Valid: true}
			} else {
				sub.ApproverID = sql.NullInt64{}
			}
			sub.ApprovedAt = validTime(upd.ApprovedAt)
			if upd.AdminNotes != "" {
				sub.AdminNotes = sql.NullString{String: upd.AdminNotes, Valid: true}
			}
			sub.UpdatedAt = upd.ApprovedAt
		})
}

func (r *subscriptionRepo) Extend(ctx context.Context, id int64, upd repository.ExtensionUpdate) (bool, error) {
	return r.update(OpSubscriptionsExtend, id,
		func(sub subscription.Subscription) bool {
			return slices.Contains(upd.From, sub.Status) && sub.EndAt.Valid && sub.EndAt.Time.Equal(upd.ExpectEnd)
		},
		func(sub *subscription.Subscription) {
			sub.Status = subscription.StatusActive
			sub.PricePaid += upd.AddedPrice
			sub.EndAt = validTime(upd.EndAt)
			for _, w := range upd.Clear {
				sub.Watermarks.Clear(w)
			}
			if upd.ApproverID != 0 {
				sub.ApproverID = sql.NullInt64{Int64: upd.ApproverID, Valid: true}
			}
			sub.ApprovedAt = validTime(upd.ApprovedAt)
			if upd.AdminNotes != "" {
				sub.AdminNotes = sql.NullString{String: upd.AdminNotes, Valid: true}
			}
			sub.UpdatedAt = upd.ApprovedAt
		})
}

func (r *subscriptionRepo) TransitionStatus(ctx context.Context, id int64, from []subscription.Status, to subscription.Status, at time.Time) (bool, error) {
	return r.update("Subscriptions.TransitionStatus", id,
		func(sub subscription.Subscription) bool { return slices.Contains(from, sub.Status) },
		func(sub *subscription.Subscription) {
			sub.Status = to
			sub.UpdatedAt = at
		})
}

func (r *subscriptionRepo) Cancel(ctx context.Context, id int64, reason string, at time.Time) (bool, error) {
	return r.update(OpSubscriptionsCancel, id,
		func(sub subscription.Subscription) bool { return sub.Status.IsOpen() },
		func(sub *subscription.Subscription) {
			sub.Status = subscription.StatusCancelled
			if reason != "" {
				sub.CancelReason = sql.NullString{String: reason, Valid: true}
			}
			sub.CancelledAt = validTime(at)
			sub.UpdatedAt = at
		})
}

func (r *subscriptionRepo) Expire(ctx context.Context, id int64, at time.Time) (bool, error) {
	return r.update(OpSubscriptionsExpire, id,
		func(sub subscription.Subscription) bool {
			return sub.Status.IsLive() && sub.EndAt.Valid && !sub.EndAt.Time.After(at)
		},
		func(sub *subscription.Subscription) {
			sub.Status = subscription.StatusExpired
			sub.UpdatedAt = at
		})
}

func (r *subscriptionRepo) SetEnabled(ctx context.Context, id int64, enabled bool, at time.Time) (bool, error) {
	return r.update("Subscriptions.SetEnabled", id,
		func(sub subscription.Subscription) bool {
			return sub.Status == subscription.StatusActive && sub.Enabled != enabled
		},
		func(sub *subscription.Subscription) {
			sub.Enabled = enabled
			sub.UpdatedAt = at
		})
}

func (r *subscriptionRepo) SetWatermark(ctx context.Context, id int64, w subscription.Watermark, at time.Time) (bool, error) {
	if !w.Valid() {
		return false, fmt.Errorf("%w: unknown watermark %q", xerrors.ErrValidation, w)
	}
	return r.update(OpSubscriptionsSetMark, id,
		func(sub subscription.Subscription) bool { return !sub.Watermarks.IsSet(w) },
		func(sub *subscription.Subscription) { sub.Watermarks.Set(w, at) })
}

func (r *subscriptionRepo) ListForSweep(ctx context.Context, limit int) ([]subscription.Subscription, error) {
	out := []subscription.Subscription{}
	err := r.s.run("Subscriptions.ListForSweep", func(st *state) error {
		for _, sub := range st.subscriptions {
			switch {
			case sub.Status == subscription.StatusActive, sub.Status == subscription.StatusExtendPending:
			case sub.Status == subscription.StatusExpired && !sub.Watermarks.IsSet(subscription.WatermarkExpired):
			default:
				continue
			}
			out = append(out, sub)
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.EndAt.Valid != b.EndAt.Valid {
			return a.EndAt.Valid
		}
		if !a.EndAt.Time.Equal(b.EndAt.Time) {
			return a.EndAt.Time.Before(b.EndAt.Time)
		}
		return a.ID < b.ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, err
}

func matchesFilters(sub subscription.Subscription, f *subscription.ListFilters, now time.Time) bool {
	if f.UserID != nil && sub.UserID != *f.UserID {
		return false
	}
	if len(f.Status) > 0 && !slices.Contains(f.Status, sub.Status) {
		return false
	}
	if f.TariffID != nil && sub.TariffID != *f.TariffID {
		return false
	}
	if f.CategoryID != nil && sub.CategoryID != *f.CategoryID {
		return false
	}
	if f.LocationID != nil && sub.LocationID != *f.LocationID {
		return false
	}
	if f.From != nil && sub.CreatedAt.Before(*f.From) {
		return false
	}
	if f.To != nil && sub.CreatedAt.After(*f.To) {
		return false
	}
	days := sub.DaysLeft(now)
	if f.DaysLeftMin != nil && days < *f.DaysLeftMin {
		return false
	}
	if f.DaysLeftMax != nil && days > *f.DaysLeftMax {
		return false
	}
	return true
}

func lessBy(field string, a, b subscription.View) (less, equal bool) {
	switch field {
	case subscription.SortEndAt:
		if a.EndAt.Valid != b.EndAt.Valid {
			return a.EndAt.Valid, false
		}
		return a.EndAt.Time.Before(b.EndAt.Time), a.EndAt.Time.Equal(b.EndAt.Time)
	case subscription.SortDaysLeft:
		return a.DaysLeft < b.DaysLeft, a.DaysLeft == b.DaysLeft
	case subscription.SortPricePaid:
		return a.PricePaid < b.PricePaid, a.PricePaid == b.PricePaid
	default:
		return a.CreatedAt.Before(b.CreatedAt), a.CreatedAt.Equal(b.CreatedAt)
	}
}

func (r *subscriptionRepo) List(ctx context.Context, filters *subscription.ListFilters, now time.Time) ([]subscription.View, int64, error) {
	filters.Normalize()

	var all []subscription.View
	err := r.s.run("Subscriptions.List", func(st *state) error {
		for _, sub := range st.subscriptions {
			if matchesFilters(sub, filters, now) {
				all = append(all, subscription.View{Subscription: sub, DaysLeft: sub.DaysLeft(now)})
			}
		}
		return nil
	})
	if err != nil {
		return nil, 0, err
	}

	desc := filters.SortOrder == "desc"
	sort.SliceStable(all, func(i, j int) bool {
		less, equal := lessBy(filters.SortBy, all[i], all[j])
		if equal {
			if desc {
				return all[i].ID > all[j].ID
			}
			return all[i].ID < all[j].ID
		}
		if desc {
			greater, _ := lessBy(filters.SortBy, all[j], all[i])
			return greater
		}
		return less
	})

	total := int64(len(all))
	start := (filters.Page - 1) * filters.PageSize
	if start >= len(all) {
		return []subscription.View{}, total, nil
	}
	end := min(start+filters.PageSize, len(all))
	return all[start:end], total, nil
}

func (r *subscriptionRepo) Stats(ctx context.Context, userID *int64) (*subscription.Stats, error) {
	var stats subscription.Stats
	err := r.s.run("Subscriptions.Stats", func(st *state) error {
		for _, sub := range st.subscriptions {
			if userID != nil && sub.UserID != *userID {
				continue
			}
			stats.Total++
			stats.Revenue += sub.PricePaid
			switch sub.Status {
			case subscription.StatusPending:
				stats.Pending++
			case subscription.StatusActive:
				stats.Active++
			case subscription.StatusExtendPending:
				stats.ExtendPending++
			case subscription.StatusExpired:
				stats.Expired++
			case subscription.StatusCancelled:
				stats.Cancelled++
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &stats, nil
}
