package engine

import "time"

// Scheduler defers settlement work. The returned cancel function reports
// whether it stopped the task before it ran. Tests substitute a fake to
// drive settlement deterministically instead of sleeping.
type Scheduler interface {
	Schedule(d time.Duration, fn func()) (cancel func() bool)
}

// timerScheduler runs tasks on runtime timers.
type timerScheduler struct{}

// NewTimerScheduler returns the production scheduler backed by time.AfterFunc.
func NewTimerScheduler() Scheduler {
	return timerScheduler{}
}

func (timerScheduler) Schedule(d time.Duration, fn func()) func() bool {
	t := time.AfterFunc(d, fn)
	return t.Stop
}
