// internal/repository/postgres/user_repo.go
package postgres

import (
	"context"
	"fmt"

	"tariff-service/internal/domain/user"
	xerrors "tariff-service/internal/pkg/errors"
)

type UserRepository struct {
	db Querier
}

func NewUserRepository(db Querier) *UserRepository {
	return &UserRepository{db: db}
}

// EnsureUser registers an account the first time it subscribes; subscriptions reference users(id).
func (r *UserRepository) EnsureUser(ctx context.Context, id int64) error {
	if _, err := r.db.Exec(ctx, `INSERT INTO users (id) VALUES ($1) ON CONFLICT (id) DO NOTHING`, id); err != nil {
		return xerrors.Fail(err, fmt.Sprintf("failed to register user %d", id))
	}
	return nil
}

func (r *UserRepository) FindByID(ctx context.Context, id int64) (*user.User, error) {
	var u user.User
	err := r.db.QueryRow(ctx, `SELECT id, role, trial_used FROM users WHERE id = $1`, id).
		Scan(&u.ID, &u.Role, &u.TrialUsed)
	if err != nil {
		return nil, xerrors.Fail(mapError(err), fmt.Sprintf("failed to find user %d", id))
	}
	return &u, nil
}

// MarkTrialUsed is the trial lock: concurrent demo requests race on this update.
func (r *UserRepository) MarkTrialUsed(ctx context.Context, id int64) (bool, error) {
	result, err := r.db.Exec(ctx, `UPDATE users SET trial_used = TRUE WHERE id = $1 AND trial_used = FALSE`, id)
	if err != nil {
		return false, xerrors.Fail(err, "failed to mark trial used")
	}
	return result.RowsAffected() == 1, nil
}
