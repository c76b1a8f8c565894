// Package kernelevent defines the boundary between the daemon's core and
// the kernel conntrack netlink subsystem: an event stream of flow
// operations, plus an on-demand "query current kernel table" lookup used
// by track mode's liveness polling.
package kernelevent

import (
	"errors"

	"github.com/ctsyncd/ctsyncd/internal/flowobj"
)

// ErrNotFound is returned by Get when the kernel holds no conntrack entry
// matching the queried tuple — track mode treats this as "vanished".
var ErrNotFound = errors.New("kernelevent: no matching kernel entry")

// Event is one flow operation observed on the kernel conntrack netlink
// multicast groups.
type Event struct {
	Type flowobj.MsgType
	Flow *flowobj.Flow
}

// Source is the injected boundary internal/track and the internal
// cache's event dispatch consume; a mock implementation drives the unit
// tests, a netlink-backed implementation drives the daemon itself.
//
// Source is driven from the event loop, never from a background
// goroutine: FD is registered with the poller, and Drain is called only
// when that fd reports readiness, preserving the single-writer invariant
// over cache/queue state.
type Source interface {
	// FD returns the netlink socket's file descriptor, for epoll
	// registration.
	FD() int
	// Drain reads and decodes every currently-pending netlink message,
	// returning the flow operations they represent.
	Drain() ([]Event, error)
	// Get issues a kernel GET for query's tuple, returning the kernel's
	// current view of that flow, or ErrNotFound if the kernel holds no
	// matching entry.
	Get(query *flowobj.Flow) (*flowobj.Flow, error)
	// Close releases the underlying socket.
	Close() error
}
