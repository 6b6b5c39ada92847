package session

import "time"

// Timer is a pending deferred call.
type Timer interface {
	// Stop prevents the call from running. It reports whether the call was stopped
	// before it ran.
	Stop() bool
}

// Clock is the time source used for expiry checks and refresh scheduling.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

type wallClock struct{}

func (wallClock) Now() time.Time { return time.Now() }

func (wallClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}
