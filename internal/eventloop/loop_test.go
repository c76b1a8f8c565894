package eventloop

import (
	"testing"
	"time"

	"github.com/ctsyncd/ctsyncd/internal/alarm"
	"golang.org/x/sys/unix"
)

func TestLoop_FiresAlarmWithoutRegisteredFDs(t *testing.T) {
	l, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer l.Close()

	fired := false
	now := time.Now()
	l.Alarms().Add(now.Add(10*time.Millisecond), nil, func(h alarm.Handle, data any) {
		fired = true
	})

	deadline := time.Now().Add(time.Second)
	for !fired && time.Now().Before(deadline) {
		if err := l.runOnce(time.Now()); err != nil {
			t.Fatalf("runOnce: %v", err)
		}
	}
	if !fired {
		t.Fatalf("alarm did not fire within 1s")
	}
}

func TestLoop_DispatchesFDReadiness(t *testing.T) {
	l, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer l.Close()

	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		t.Fatalf("Socketpair: %v", err)
	}
	defer unix.Close(fds[0])
	defer unix.Close(fds[1])

	readCh := make(chan IOEvents, 1)
	if err := l.RegisterFD(fds[0], EventRead, func(ev IOEvents) {
		readCh <- ev
	}); err != nil {
		t.Fatalf("RegisterFD: %v", err)
	}

	if _, err := unix.Write(fds[1], []byte("x")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	if err := l.runOnce(time.Now()); err != nil {
		t.Fatalf("runOnce: %v", err)
	}

	select {
	case ev := <-readCh:
		if ev&EventRead == 0 {
			t.Fatalf("ev = %v, want EventRead set", ev)
		}
	default:
		t.Fatalf("callback was not invoked")
	}
}

func TestLoop_ShutdownStopsRun(t *testing.T) {
	l, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer l.Close()
	l.maxPollMs = 10

	done := make(chan error, 1)
	go func() { done <- l.Run() }()

	time.Sleep(20 * time.Millisecond)
	l.Shutdown()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Run did not return after Shutdown")
	}
}
