package server

import "time"

// DefaultSyncDebounce is how long a completed stream waits for others to
// share its sync.
const DefaultSyncDebounce = 10 * time.Millisecond

// Scheduler decides when the batch of completed streams is synced. A batch
// that holds every live connection is synced at once, since nothing else can
// join it. Otherwise the first completion arms a debounce timer and the batch
// is synced when it fires.
type Scheduler struct {
	debounce time.Duration
	timer    *time.Timer
}

func NewScheduler(debounce time.Duration) *Scheduler {
	return &Scheduler{debounce: debounce}
}

// Due reports whether the batch should be synced now. pending counts the
// connections waiting for a sync, live all open connections including them.
// A lone pending connection is synced at once only when no other connection
// is open; with others open it waits for the debounce like any batch.
func (s *Scheduler) Due(pending, live int) bool {
	if pending == 0 {
		return false
	}
	if pending >= live || s.debounce <= 0 {
		return true
	}
	if s.timer == nil {
		s.timer = time.NewTimer(s.debounce)
	}
	return false
}

// C fires when the debounce window of the current batch elapses. It is nil
// while no timer is armed, so a select on it blocks.
func (s *Scheduler) C() <-chan time.Time {
	if s.timer == nil {
		return nil
	}
	return s.timer.C
}

// Stop disarms the timer once the batch was synced.
func (s *Scheduler) Stop() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}
