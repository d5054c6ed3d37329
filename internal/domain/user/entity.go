// internal/domain/user/entity.go
package user

const (
	RoleAdmin = "admin"
	RoleUser  = "user"
)

// User is the slice of the account the subscription engine reads and writes.
type User struct {
	ID        int64  `json:"id" db:"id"`
	Role      string `json:"role" db:"role"`
	TrialUsed bool   `json:"trial_used" db:"trial_used"`
}

func (u *User) IsAdmin() bool {
	return u.Role == RoleAdmin
}
