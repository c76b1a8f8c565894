package alarm

import (
	"testing"
	"time"
)

func TestScheduler_FiresInDeadlineOrder(t *testing.T) {
	s := New()
	base := time.Unix(1000, 0)
	var fired []string

	s.Add(base.Add(3*time.Second), "c", func(Handle, any) { fired = append(fired, "c") })
	s.Add(base.Add(1*time.Second), "a", func(Handle, any) { fired = append(fired, "a") })
	s.Add(base.Add(2*time.Second), "b", func(Handle, any) { fired = append(fired, "b") })

	s.RunPending(base.Add(5 * time.Second))

	want := []string{"a", "b", "c"}
	if len(fired) != len(want) {
		t.Fatalf("fired = %v, want %v", fired, want)
	}
	for i := range want {
		if fired[i] != want[i] {
			t.Fatalf("fired = %v, want %v", fired, want)
		}
	}
}

func TestScheduler_TieBreaksByInsertionOrder(t *testing.T) {
	s := New()
	when := time.Unix(1000, 0)
	var fired []string
	s.Add(when, "first", func(Handle, any) { fired = append(fired, "first") })
	s.Add(when, "second", func(Handle, any) { fired = append(fired, "second") })

	s.RunPending(when)

	if len(fired) != 2 || fired[0] != "first" || fired[1] != "second" {
		t.Fatalf("fired = %v, want [first second]", fired)
	}
}

func TestScheduler_OnlyFiresDueAlarms(t *testing.T) {
	s := New()
	now := time.Unix(1000, 0)
	fired := 0
	s.Add(now.Add(10*time.Second), nil, func(Handle, any) { fired++ })

	s.RunPending(now)
	if fired != 0 {
		t.Fatalf("fired = %d, want 0 (deadline not yet reached)", fired)
	}
	if s.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", s.Len())
	}

	s.RunPending(now.Add(10 * time.Second))
	if fired != 1 {
		t.Fatalf("fired = %d, want 1", fired)
	}
	if s.Len() != 0 {
		t.Fatalf("Len() = %d, want 0", s.Len())
	}
}

func TestScheduler_Del(t *testing.T) {
	s := New()
	now := time.Unix(1000, 0)
	fired := false
	h := s.Add(now.Add(time.Second), nil, func(Handle, any) { fired = true })
	s.Del(h)

	s.RunPending(now.Add(time.Hour))
	if fired {
		t.Fatalf("cancelled alarm fired")
	}
	if s.Pending(h) {
		t.Fatalf("Pending(h) = true after Del")
	}
}

func TestScheduler_DelUnknownHandleIsNoop(t *testing.T) {
	s := New()
	s.Del(Handle(9999))
	if s.Len() != 0 {
		t.Fatalf("Len() = %d, want 0", s.Len())
	}
}

func TestScheduler_CallbackReAddIsSafe(t *testing.T) {
	s := New()
	now := time.Unix(1000, 0)
	count := 0
	var cb Callback
	cb = func(h Handle, data any) {
		count++
		if count < 3 {
			s.Add(now, data, cb)
		}
	}
	s.Add(now, nil, cb)
	s.RunPending(now)
	if count != 1 {
		t.Fatalf("count = %d after first RunPending, want 1 (re-added alarm must not fire in the same pass)", count)
	}
	s.RunPending(now)
	if count != 2 {
		t.Fatalf("count = %d after second RunPending, want 2", count)
	}
}

func TestScheduler_NextDeadline(t *testing.T) {
	s := New()
	if _, ok := s.NextDeadline(); ok {
		t.Fatalf("NextDeadline() ok = true on empty scheduler")
	}
	when := time.Unix(2000, 0)
	s.Add(when, nil, func(Handle, any) {})
	got, ok := s.NextDeadline()
	if !ok || !got.Equal(when) {
		t.Fatalf("NextDeadline() = %v, %v; want %v, true", got, ok, when)
	}
}
