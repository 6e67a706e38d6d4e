// Package clock provides the injectable time source used throughout the
// engine so that Trickle timers, keepalive deadlines and PA backoffs can
// be driven deterministically in tests instead of racing a wall clock.
package clock

import "time"

// Clock abstracts time.Now and time.AfterFunc. Real returns the system
// clock; Virtual is a manually-advanced clock for tests.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

// Timer is the subset of time.Timer the engine needs: cancellation.
type Timer interface {
	Stop() bool
}

// Real is the system clock, backed directly by the time package.
type Real struct{}

// Now returns time.Now().
func (Real) Now() time.Time { return time.Now() }

// AfterFunc schedules f to run after d using time.AfterFunc.
func (Real) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}
