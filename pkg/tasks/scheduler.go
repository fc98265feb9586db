package tasks

import "time"

// Scheduler runs f once after d. The manager uses it for every UI pacing delay.
type Scheduler interface {
	AfterFunc(d time.Duration, f func())
}

// TimerScheduler runs callbacks on their own goroutine after a real delay
type TimerScheduler struct{}

// AfterFunc implements Scheduler
func (TimerScheduler) AfterFunc(d time.Duration, f func()) {
	time.AfterFunc(d, f)
}
