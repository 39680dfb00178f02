package app

import (
	"sync/atomic"
	"time"
)

// Status is one progress event. Progress is nil for messages that carry no
// percentage.
type Status struct {
	Message  string
	Progress *int
	Time     time.Time
}

// StatusFunc receives statuses on the worker goroutine.
type StatusFunc func(Status)

// ChannelSink forwards statuses to ch. The receiver must keep draining ch
// until Run returns.
func ChannelSink(ch chan<- Status) StatusFunc {
	return func(s Status) {
		ch <- s
	}
}

// reporter keeps progress from going backwards within a run.
type reporter struct {
	sink StatusFunc
	now  func() time.Time
	last int
}

func (r *reporter) report(msg string, progress int) {
	r.last = max(r.last, min(progress, 100))
	p := r.last
	r.emit(Status{Message: msg, Progress: &p})
}

func (r *reporter) message(msg string) {
	r.emit(Status{Message: msg})
}

func (r *reporter) emit(s Status) {
	if r.sink == nil {
		return
	}
	s.Time = r.now()
	r.sink(s)
}

// Canceller is a run-wide stop flag. Setting it is idempotent and it stays
// set until Reset.
type Canceller struct {
	flag atomic.Bool
}

func (c *Canceller) Cancel() {
	c.flag.Store(true)
}

func (c *Canceller) Cancelled() bool {
	return c.flag.Load()
}

// Reset clears the flag before a new run.
func (c *Canceller) Reset() {
	c.flag.Store(false)
}
