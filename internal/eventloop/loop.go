package eventloop

import (
	"sync/atomic"
	"time"

	"github.com/ctsyncd/ctsyncd/internal/alarm"
)

// Loop is the daemon's cooperative main loop: a poll/alarm/control-socket
// readiness cycle run entirely on the calling goroutine, stripped down
// from the teacher's microtask/promise-driven loop to the three readiness
// sources spec §4.6 names — registered channel/kernel fds, the alarm
// scheduler, and the local control socket fd.
//
// Nothing but the goroutine that calls Run ever touches cache or queue
// state; that single-writer invariant is the whole of the concurrency
// model (spec §5).
type Loop struct {
	poller *Poller
	alarms *alarm.Scheduler

	shuttingDown atomic.Bool

	// maxPollMs bounds how long a single Poll call blocks when no alarm
	// is pending, so the loop still notices shuttingDown promptly.
	maxPollMs int
}

// New constructs a Loop around a fresh epoll Poller and alarm Scheduler.
func New() (*Loop, error) {
	p, err := NewPoller()
	if err != nil {
		return nil, err
	}
	return &Loop{
		poller:    p,
		alarms:    alarm.New(),
		maxPollMs: 1000,
	}, nil
}

// Alarms returns the loop's alarm scheduler, for components (track mode,
// sync protocol retransmit timers) to schedule callbacks on.
func (l *Loop) Alarms() *alarm.Scheduler { return l.alarms }

// RegisterFD registers fd for readiness notification; see Poller.RegisterFD.
func (l *Loop) RegisterFD(fd int, events IOEvents, cb IOCallback) error {
	return l.poller.RegisterFD(fd, events, cb)
}

// ModifyFD updates the readiness bits monitored for fd.
func (l *Loop) ModifyFD(fd int, events IOEvents) error {
	return l.poller.ModifyFD(fd, events)
}

// UnregisterFD stops monitoring fd.
func (l *Loop) UnregisterFD(fd int) error {
	return l.poller.UnregisterFD(fd)
}

// Shutdown requests that Run return after finishing the current iteration.
// Safe to call from a signal handler goroutine (spec §5's "signal handler
// setting a flag").
func (l *Loop) Shutdown() {
	l.shuttingDown.Store(true)
}

// Close releases the loop's poller fd.
func (l *Loop) Close() error {
	return l.poller.Close()
}

// Run blocks, servicing fd readiness and alarms, until Shutdown is called.
// Each iteration: compute a poll timeout from the nearest pending alarm
// (capped at maxPollMs so shutdown is never more than that long in
// coming), poll, then run every alarm now due.
func (l *Loop) Run() error {
	for !l.shuttingDown.Load() {
		if err := l.runOnce(time.Now()); err != nil {
			return err
		}
	}
	return nil
}

func (l *Loop) runOnce(now time.Time) error {
	timeout := l.maxPollMs
	if next, ok := l.alarms.NextDeadline(); ok {
		if d := next.Sub(now); d <= 0 {
			timeout = 0
		} else if ms := int(d / time.Millisecond); ms < timeout {
			timeout = ms
		}
	}

	if _, err := l.poller.Poll(timeout); err != nil {
		return err
	}
	l.alarms.RunPending(time.Now())
	return nil
}
