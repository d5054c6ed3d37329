package memory

import "sync"

// Operation names accepted by FailNext. Every repository method is named
// "<Repository>.<Method>".
const (
	OpCommit               = "Commit"
	OpSubscriptionsCreate  = "Subscriptions.Create"
	OpSubscriptionsActive  = "Subscriptions.Activate"
	OpSubscriptionsExtend  = "Subscriptions.Extend"
	OpSubscriptionsCancel  = "Subscriptions.Cancel"
	OpSubscriptionsExpire  = "Subscriptions.Expire"
	OpSubscriptionsSetMark = "Subscriptions.SetWatermark"
	OpHistoryCreate        = "History.Create"
	OpRemindersMarkSent    = "Reminders.MarkSent"
	OpUsersEnsure          = "Users.EnsureUser"
)

type faults struct {
	mu   sync.Mutex
	next map[string][]error
}

func newFaults() *faults {
	return &faults{next: map[string][]error{}}
}

func (f *faults) take(op string) error {
	if op == "" {
		return nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	queue := f.next[op]
	if len(queue) == 0 {
		return nil
	}
	f.next[op] = queue[1:]
	return queue[0]
}

// FailNext makes the next call of op return err. Calls queue up.
func (s *Store) FailNext(op string, err error) {
	s.faults.mu.Lock()
	defer s.faults.mu.Unlock()
	s.faults.next[op] = append(s.faults.next[op], err)
}
