//go:build linux

// Package eventloop implements the daemon's single-threaded, cooperative
// main loop: an epoll-backed poller driving fd readiness callbacks, with
// the alarm scheduler and a local control fd as the other two readiness
// sources (spec §4.6).
package eventloop

import (
	"errors"
	"sync"

	"golang.org/x/sys/unix"
)

// maxFDs bounds direct-indexed fd storage. The daemon holds a handful of
// long-lived fds (channel socket, netlink socket, control socket), so this
// is generous headroom, not a tuned limit.
const maxFDs = 4096

// IOEvents is a bitmask of readiness conditions reported to an IOCallback.
type IOEvents uint32

const (
	EventRead IOEvents = 1 << iota
	EventWrite
	EventError
	EventHangup
)

var (
	ErrFDOutOfRange        = errors.New("eventloop: fd out of range")
	ErrFDAlreadyRegistered = errors.New("eventloop: fd already registered")
	ErrFDNotRegistered     = errors.New("eventloop: fd not registered")
	ErrPollerClosed        = errors.New("eventloop: poller closed")
)

// IOCallback is invoked with the readiness bits observed for a registered fd.
type IOCallback func(IOEvents)

type fdInfo struct {
	callback IOCallback
	active   bool
}

// Poller wraps a Linux epoll instance. Registration (RegisterFD/
// ModifyFD/UnregisterFD) may be called from any goroutine; Poll must only
// be called from the loop goroutine, matching the daemon's single-writer
// concurrency model (spec §5).
type Poller struct {
	epfd     int
	fds      [maxFDs]fdInfo
	fdMu     sync.RWMutex
	eventBuf [64]unix.EpollEvent
	closed   bool
}

// NewPoller creates and initializes an epoll instance.
func NewPoller() (*Poller, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}
	return &Poller{epfd: epfd}, nil
}

// Close releases the epoll fd. Further use of the Poller is undefined.
func (p *Poller) Close() error {
	p.fdMu.Lock()
	p.closed = true
	p.fdMu.Unlock()
	return unix.Close(p.epfd)
}

// RegisterFD begins monitoring fd for events, invoking cb on readiness.
func (p *Poller) RegisterFD(fd int, events IOEvents, cb IOCallback) error {
	if fd < 0 || fd >= maxFDs {
		return ErrFDOutOfRange
	}
	p.fdMu.Lock()
	if p.closed {
		p.fdMu.Unlock()
		return ErrPollerClosed
	}
	if p.fds[fd].active {
		p.fdMu.Unlock()
		return ErrFDAlreadyRegistered
	}
	p.fds[fd] = fdInfo{callback: cb, active: true}
	p.fdMu.Unlock()

	ev := &unix.EpollEvent{Events: eventsToEpoll(events), Fd: int32(fd)}
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd, ev); err != nil {
		p.fdMu.Lock()
		p.fds[fd] = fdInfo{}
		p.fdMu.Unlock()
		return err
	}
	return nil
}

// ModifyFD changes the readiness bits monitored for an already-registered fd.
func (p *Poller) ModifyFD(fd int, events IOEvents) error {
	if fd < 0 || fd >= maxFDs {
		return ErrFDOutOfRange
	}
	p.fdMu.RLock()
	active := p.fds[fd].active
	p.fdMu.RUnlock()
	if !active {
		return ErrFDNotRegistered
	}
	ev := &unix.EpollEvent{Events: eventsToEpoll(events), Fd: int32(fd)}
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_MOD, fd, ev)
}

// UnregisterFD stops monitoring fd.
func (p *Poller) UnregisterFD(fd int) error {
	if fd < 0 || fd >= maxFDs {
		return ErrFDOutOfRange
	}
	p.fdMu.Lock()
	if !p.fds[fd].active {
		p.fdMu.Unlock()
		return ErrFDNotRegistered
	}
	p.fds[fd] = fdInfo{}
	p.fdMu.Unlock()
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil)
}

// Poll blocks up to timeoutMs (negative for indefinite) for fd readiness
// and dispatches the corresponding callbacks inline, returning the number
// of ready fds. Must only be called from the loop goroutine.
func (p *Poller) Poll(timeoutMs int) (int, error) {
	n, err := unix.EpollWait(p.epfd, p.eventBuf[:], timeoutMs)
	if err != nil {
		if err == unix.EINTR {
			return 0, nil
		}
		return 0, err
	}
	for i := 0; i < n; i++ {
		fd := int(p.eventBuf[i].Fd)
		if fd < 0 || fd >= maxFDs {
			continue
		}
		p.fdMu.RLock()
		info := p.fds[fd]
		p.fdMu.RUnlock()
		if info.active && info.callback != nil {
			info.callback(epollToEvents(p.eventBuf[i].Events))
		}
	}
	return n, nil
}

func eventsToEpoll(events IOEvents) uint32 {
	var e uint32
	if events&EventRead != 0 {
		e |= unix.EPOLLIN
	}
	if events&EventWrite != 0 {
		e |= unix.EPOLLOUT
	}
	return e
}

func epollToEvents(e uint32) IOEvents {
	var events IOEvents
	if e&unix.EPOLLIN != 0 {
		events |= EventRead
	}
	if e&unix.EPOLLOUT != 0 {
		events |= EventWrite
	}
	if e&unix.EPOLLERR != 0 {
		events |= EventError
	}
	if e&unix.EPOLLHUP != 0 {
		events |= EventHangup
	}
	return events
}
