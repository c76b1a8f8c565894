package kernelevent

import (
	"net"
	"testing"

	"github.com/ctsyncd/ctsyncd/internal/flowobj"
)

var _ Source = (*MockSource)(nil)

func testFlow(srcPort uint16) *flowobj.Flow {
	f := flowobj.NewFlow(flowobj.FamilyIPv4, 6, 1,
		net.ParseIP("192.168.0.1").To4(), net.ParseIP("192.168.0.2").To4(), srcPort, 22, 120, 0)
	return &f
}

func TestMockSource_DrainReturnsAndClearsPending(t *testing.T) {
	m := NewMock()
	f := testFlow(1111)
	m.Push(Event{Type: flowobj.MsgCTNew, Flow: f})

	events, err := m.Drain()
	if err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if len(events) != 1 || events[0].Flow != f {
		t.Fatalf("Drain returned %+v, want one event wrapping f", events)
	}

	events, err = m.Drain()
	if err != nil || len(events) != 0 {
		t.Fatalf("second Drain = %+v, %v, want empty", events, err)
	}
}

func TestMockSource_GetReflectsLatestPush(t *testing.T) {
	m := NewMock()
	f := testFlow(2222)
	m.Push(Event{Type: flowobj.MsgCTNew, Flow: f})

	got, err := m.Get(f)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != f {
		t.Fatalf("Get returned a different flow than pushed")
	}
}

func TestMockSource_GetAfterDeleteReturnsNotFound(t *testing.T) {
	m := NewMock()
	f := testFlow(3333)
	m.Push(Event{Type: flowobj.MsgCTNew, Flow: f})
	m.Push(Event{Type: flowobj.MsgCTDel, Flow: f})

	if _, err := m.Get(f); err != ErrNotFound {
		t.Fatalf("Get after delete err = %v, want ErrNotFound", err)
	}
}

func TestMockSource_SetAndRemoveKernelEntry(t *testing.T) {
	m := NewMock()
	f := testFlow(4444)

	if _, err := m.Get(f); err != ErrNotFound {
		t.Fatalf("Get before seeding err = %v, want ErrNotFound", err)
	}

	m.SetKernelEntry(f)
	if _, err := m.Get(f); err != nil {
		t.Fatalf("Get after SetKernelEntry: %v", err)
	}

	m.RemoveKernelEntry(f.Fingerprint())
	if _, err := m.Get(f); err != ErrNotFound {
		t.Fatalf("Get after RemoveKernelEntry err = %v, want ErrNotFound", err)
	}
}
