package kernelevent

import (
	"sync"

	"github.com/ctsyncd/ctsyncd/internal/flowobj"
)

// MockSource is a Source implementation driven entirely by test code: it
// has no real fd (FD returns -1, so a test harness must drive Drain
// directly rather than through a poller), a queue of pending events for
// Drain to return, and a lookup table for Get.
type MockSource struct {
	mu      sync.Mutex
	pending []Event
	table   map[flowobj.Fingerprint]*flowobj.Flow
	closed  bool
}

// NewMock returns an empty MockSource.
func NewMock() *MockSource {
	return &MockSource{table: make(map[flowobj.Fingerprint]*flowobj.Flow)}
}

// FD always returns -1: MockSource is driven by direct Drain calls in
// tests, not through epoll.
func (m *MockSource) FD() int { return -1 }

// Push enqueues ev to be returned by the next Drain call, and (for
// MsgCTNew/MsgCTUpd) updates the lookup table Get consults.
func (m *MockSource) Push(ev Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending = append(m.pending, ev)
	switch ev.Type {
	case flowobj.MsgCTNew, flowobj.MsgCTUpd, flowobj.MsgExpNew, flowobj.MsgExpUpd:
		m.table[ev.Flow.Fingerprint()] = ev.Flow
	case flowobj.MsgCTDel, flowobj.MsgExpDel:
		delete(m.table, ev.Flow.Fingerprint())
	}
}

// SetKernelEntry directly seeds Get's lookup table, independent of the
// Drain queue — used to simulate "the kernel still has this flow" or "the
// kernel no longer has this flow" for track-mode liveness tests.
func (m *MockSource) SetKernelEntry(f *flowobj.Flow) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.table[f.Fingerprint()] = f
}

// RemoveKernelEntry removes fp from Get's lookup table.
func (m *MockSource) RemoveKernelEntry(fp flowobj.Fingerprint) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.table, fp)
}

func (m *MockSource) Drain() ([]Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := m.pending
	m.pending = nil
	return out, nil
}

func (m *MockSource) Get(query *flowobj.Flow) (*flowobj.Flow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.table[query.Fingerprint()]
	if !ok {
		return nil, ErrNotFound
	}
	return f, nil
}

func (m *MockSource) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
