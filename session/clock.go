package session

import "time"

// Clock is the time capability used by the scheduler.
type Clock interface {
	Now() time.Time
	// AfterFunc calls fn once after d. The returned function cancels the
	// call and reports whether it was still pending.
	AfterFunc(d time.Duration, fn func()) (cancel func() bool)
}

// SystemClock is the Clock backed by the time package.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

func (SystemClock) AfterFunc(d time.Duration, fn func()) func() bool {
	t := time.AfterFunc(d, fn)
	return t.Stop
}
