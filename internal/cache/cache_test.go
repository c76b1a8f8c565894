package cache

import (
	"bytes"
	"net"
	"testing"

	"github.com/ctsyncd/ctsyncd/internal/flowobj"
)

func testFlow(srcPort uint16) *flowobj.Flow {
	f := flowobj.NewFlow(flowobj.FamilyIPv4, 6, 1,
		net.ParseIP("10.0.0.1").To4(), net.ParseIP("10.0.0.2").To4(), srcPort, 443, 120, 0)
	return &f
}

func TestCache_AddFindIdentity(t *testing.T) {
	c := New("internal", KindCT, ExtraOps{})
	f := testFlow(1000)

	added, err := c.Add(f, 42)
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	found, ok := c.Find(f)
	if !ok {
		t.Fatalf("Find: not found after Add")
	}
	if found != added {
		t.Fatalf("Find returned a different pointer than Add (%p != %p)", found, added)
	}
}

func TestCache_AddDuplicateFingerprintFails(t *testing.T) {
	c := New("internal", KindCT, ExtraOps{})
	f := testFlow(1000)
	if _, err := c.Add(f, 1); err != nil {
		t.Fatalf("Add: %v", err)
	}
	dup := testFlow(1000)
	if _, err := c.Add(dup, 2); err != ErrExists {
		t.Fatalf("Add(duplicate) err = %v, want ErrExists", err)
	}
	if got := c.Stats().AddFail; got != 1 {
		t.Fatalf("AddFail = %d, want 1", got)
	}
}

// cache_add(C,F); cache_del(C,F) restores C to its prior state, with
// stats counters advanced symmetrically (spec §8 invariant 3).
func TestCache_AddThenDelRestoresPriorState(t *testing.T) {
	c := New("internal", KindCT, ExtraOps{})
	before := c.Stats()

	f := testFlow(2000)
	o, err := c.Add(f, 7)
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := c.Del(o); err != nil {
		t.Fatalf("Del: %v", err)
	}

	if _, ok := c.Find(f); ok {
		t.Fatalf("Find still returns the object after Del")
	}
	after := c.Stats()
	if after.Active != before.Active {
		t.Fatalf("Active = %d, want %d (restored)", after.Active, before.Active)
	}
	if after.AddOK != before.AddOK+1 || after.DelOK != before.DelOK+1 {
		t.Fatalf("AddOK/DelOK = %d/%d, want symmetric +1 each", after.AddOK, after.DelOK)
	}
}

func TestCache_DelUnknownObjectFails(t *testing.T) {
	c := New("internal", KindCT, ExtraOps{})
	o := &Object{Flow: testFlow(3000), ID: 1}
	if err := c.Del(o); err != ErrNotFound {
		t.Fatalf("Del(never-added) err = %v, want ErrNotFound", err)
	}
	if got := c.Stats().DelFail; got != 1 {
		t.Fatalf("DelFail = %d, want 1", got)
	}
}

func TestCache_ObjectFreeFiresDestroyHook(t *testing.T) {
	var destroyed []*Object
	c := New("internal", KindCT, ExtraOps{
		Destroy: func(o *Object) { destroyed = append(destroyed, o) },
	})
	f := testFlow(4000)
	o, _ := c.Add(f, 1)
	if err := c.ObjectFree(o); err != nil {
		t.Fatalf("ObjectFree: %v", err)
	}
	if len(destroyed) != 1 || destroyed[0] != o {
		t.Fatalf("Destroy hook not invoked with the freed object")
	}
}

func TestCache_UpdateForceUpsertsAbsentEntry(t *testing.T) {
	c := New("internal", KindCT, ExtraOps{})
	f := testFlow(5000)
	o, err := c.UpdateForce(f, 9)
	if err != nil {
		t.Fatalf("UpdateForce: %v", err)
	}
	if got := c.Stats().AddOK; got != 1 {
		t.Fatalf("AddOK = %d, want 1 (upsert-as-add)", got)
	}
	if o.ID != 9 {
		t.Fatalf("ID = %d, want 9", o.ID)
	}
}

func TestCache_UpdateForceMergesPresentEntry(t *testing.T) {
	var updateCalls int
	c := New("internal", KindCT, ExtraOps{
		Update: func(o *Object, upd *flowobj.Flow) { updateCalls++ },
	})
	f := testFlow(6000)
	c.Add(f, 1)

	upd := testFlow(6000)
	upd.Mark = 77
	if _, err := c.UpdateForce(upd, 0); err != nil {
		t.Fatalf("UpdateForce: %v", err)
	}

	found, _ := c.Find(f)
	if found.Flow.Mark != 77 {
		t.Fatalf("Flow.Mark = %d, want 77 after merge", found.Flow.Mark)
	}
	if updateCalls != 1 {
		t.Fatalf("Update hook called %d times, want 1", updateCalls)
	}
	if got := c.Stats().UpdOK; got != 1 {
		t.Fatalf("UpdOK = %d, want 1", got)
	}
}

func TestCache_Flush(t *testing.T) {
	c := New("internal", KindCT, ExtraOps{})
	for i := uint16(0); i < 5; i++ {
		c.Add(testFlow(7000+i), uint32(i)+1)
	}
	c.Flush()
	if got := c.Stats().Active; got != 0 {
		t.Fatalf("Active after Flush = %d, want 0", got)
	}
}

// Iterate's callback may remove the object it is currently visiting.
func TestCache_IterateAllowsSelfRemoval(t *testing.T) {
	c := New("internal", KindCT, ExtraOps{})
	var objs []*Object
	for i := uint16(0); i < 3; i++ {
		o, _ := c.Add(testFlow(8000+i), uint32(i)+1)
		objs = append(objs, o)
	}

	visited := 0
	c.Iterate(func(o *Object) bool {
		visited++
		_ = c.Del(o)
		return true
	})
	if visited != 3 {
		t.Fatalf("visited = %d, want 3", visited)
	}
	if got := c.Stats().Active; got != 0 {
		t.Fatalf("Active after self-removing iterate = %d, want 0", got)
	}
}

func TestCache_ApplyDispatchesByMsgType(t *testing.T) {
	c := New("external", KindCT, ExtraOps{})
	f := testFlow(9000)

	c.Apply(flowobj.MsgCTNew, f)
	if _, ok := c.Find(f); !ok {
		t.Fatalf("Apply(MsgCTNew) did not add the flow")
	}

	upd := testFlow(9000)
	upd.Mark = 5
	c.Apply(flowobj.MsgCTUpd, upd)
	found, _ := c.Find(f)
	if found.Flow.Mark != 5 {
		t.Fatalf("Apply(MsgCTUpd) did not merge, Mark = %d", found.Flow.Mark)
	}

	c.Apply(flowobj.MsgCTDel, f)
	if _, ok := c.Find(f); ok {
		t.Fatalf("Apply(MsgCTDel) did not remove the flow")
	}
}

func TestCache_DumpJSONProducesValidShape(t *testing.T) {
	c := New("internal", KindCT, ExtraOps{})
	c.Add(testFlow(1234), 3)

	var buf bytes.Buffer
	if err := c.Dump(&buf, FormatJSON); err != nil {
		t.Fatalf("Dump: %v", err)
	}
	out := buf.String()
	if !bytes.Contains(buf.Bytes(), []byte(`"cache":"internal"`)) {
		t.Fatalf("dump missing cache name: %s", out)
	}
	if !bytes.Contains(buf.Bytes(), []byte(`"sport":1234`)) {
		t.Fatalf("dump missing flow sport: %s", out)
	}
}

func TestCache_DumpTextUsesExtraHookWhenPresent(t *testing.T) {
	c := New("internal", KindCT, ExtraOps{
		Dump: func(o *Object) string { return "custom-line" },
	})
	c.Add(testFlow(4321), 1)

	var buf bytes.Buffer
	if err := c.Dump(&buf, FormatText); err != nil {
		t.Fatalf("Dump: %v", err)
	}
	if buf.String() != "custom-line\n" {
		t.Fatalf("Dump(text) = %q, want %q", buf.String(), "custom-line\n")
	}
}
