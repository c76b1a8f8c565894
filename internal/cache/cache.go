// Package cache implements the indexed set of flow objects kept by both
// the internal cache (state learned from local kernel events) and the
// external cache (state learned from a sync peer), per spec §4.4.
package cache

import (
	"errors"
	"sync"

	"github.com/ctsyncd/ctsyncd/internal/flowobj"
)

// Kind distinguishes a conntrack-entry cache from an expectation cache.
// Both share the same indexing/stats machinery; only the ExtraOps hooks
// and the MsgType dispatch in Apply differ.
type Kind uint8

const (
	KindCT Kind = iota
	KindExp
)

// ErrExists is returned by Add when a prior object already occupies the
// fingerprint bucket, mirroring cache_add's EEXIST failure.
var ErrExists = errors.New("cache: object already exists for fingerprint")

// ErrNotFound is returned by Del/ObjectFree when the object is not
// indexed under the cache (already deleted, or never added).
var ErrNotFound = errors.New("cache: object not found")

// Object is one indexed entry: the replicated flow state plus whatever
// per-object data the owning subsystem's ExtraOps attaches. The pointer
// returned by Add/Find is the exact pointer later passed to Del/
// ObjectFree — callers must not retain it across its own deletion.
type Object struct {
	Flow  *flowobj.Flow
	ID    uint32
	Extra any
}

// ExtraOps is the capability interface a cache installs at construction,
// standing in for the C implementation's per-cache extra function-pointer
// table (new/update/destroy/dump hooks). Every field is optional; a nil
// hook is simply skipped.
type ExtraOps struct {
	// New is invoked once, after an object is added, to populate Extra.
	New func(o *Object)
	// Update is invoked when an existing object is merged with upd,
	// before the merge is applied to o.Flow.
	Update func(o *Object, upd *flowobj.Flow)
	// Destroy is invoked immediately before an object's storage is
	// released.
	Destroy func(o *Object)
	// Dump renders one object as a single dump-format-specific line
	// (no trailing newline). Used by Dump's textual format; XML/JSON
	// formats in dump.go render fields directly and ignore this hook.
	Dump func(o *Object) string
}

// Stats are the monotonic counters cache_create installs, read by
// internal/metrics without locking beyond the cache's own mutex.
type Stats struct {
	Active  uint64
	AddOK   uint64
	AddFail uint64
	UpdOK   uint64
	UpdFail uint64
	DelOK   uint64
	DelFail uint64
}

// Cache is an indexed set of flow objects, keyed by fingerprint for
// lookup/uniqueness and by kernel conntrack ID for the secondary index
// the control-plane dump/flush paths use.
type Cache struct {
	name  string
	kind  Kind
	extra ExtraOps

	mu      sync.Mutex
	objects map[flowobj.Fingerprint]*Object
	byID    map[uint32]*Object
	stats   Stats
}

// New constructs an empty cache named name, of the given kind, installing
// extra's hooks.
func New(name string, kind Kind, extra ExtraOps) *Cache {
	return &Cache{
		name:    name,
		kind:    kind,
		extra:   extra,
		objects: make(map[flowobj.Fingerprint]*Object),
		byID:    make(map[uint32]*Object),
	}
}

// Name returns the cache's configured name (e.g. "internal", "external").
func (c *Cache) Name() string { return c.name }

// Kind returns whether this is a conntrack-entry or expectation cache.
func (c *Cache) Kind() Kind { return c.kind }

// Stats returns a snapshot of the cache's counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

// Add inserts f as a new object with kernel ID id. It fails with ErrExists
// if an object already occupies f's fingerprint bucket, mirroring
// cache_add's EEXIST behavior.
func (c *Cache) Add(f *flowobj.Flow, id uint32) (*Object, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	fp := f.Fingerprint()
	if _, exists := c.objects[fp]; exists {
		c.stats.AddFail++
		return nil, ErrExists
	}

	o := &Object{Flow: f, ID: id}
	c.objects[fp] = o
	c.byID[id] = o
	c.stats.Active++
	c.stats.AddOK++

	if c.extra.New != nil {
		c.extra.New(o)
	}
	return o, nil
}

// Find returns the canonical object for ct's fingerprint, or (nil, false)
// if absent. The returned pointer is the exact one a later Del/
// ObjectFree call must receive.
func (c *Cache) Find(ct *flowobj.Flow) (*Object, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	o, ok := c.objects[ct.Fingerprint()]
	return o, ok
}

// FindByID returns the object registered under the kernel conntrack ID
// id.
func (c *Cache) FindByID(id uint32) (*Object, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	o, ok := c.byID[id]
	return o, ok
}

// UpdateForce upserts ct: if absent, it is added as a new object; if
// present, the extra Update hook fires (before the merge) and ct's
// attributes are merged onto the cached Flow in place.
func (c *Cache) UpdateForce(ct *flowobj.Flow, id uint32) (*Object, error) {
	c.mu.Lock()
	fp := ct.Fingerprint()
	o, exists := c.objects[fp]
	c.mu.Unlock()

	if !exists {
		return c.Add(ct, id)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.extra.Update != nil {
		c.extra.Update(o, ct)
	}
	o.Flow.Merge(ct)
	if id != 0 {
		delete(c.byID, o.ID)
		o.ID = id
		c.byID[id] = o
	}
	c.stats.UpdOK++
	return o, nil
}

// Del removes o's index entries without releasing its storage or firing
// the destroy hook — the counterpart to cache_del. Callers that also want
// the destroy hook invoked should call ObjectFree instead.
func (c *Cache) Del(o *Object) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	fp := o.Flow.Fingerprint()
	if _, ok := c.objects[fp]; !ok {
		c.stats.DelFail++
		return ErrNotFound
	}
	delete(c.objects, fp)
	delete(c.byID, o.ID)
	c.stats.Active--
	c.stats.DelOK++
	return nil
}

// ObjectFree removes o (as Del) and fires the extra Destroy hook,
// mirroring cache_object_free.
func (c *Cache) ObjectFree(o *Object) error {
	if err := c.Del(o); err != nil {
		return err
	}
	if c.extra.Destroy != nil {
		c.extra.Destroy(o)
	}
	return nil
}

// Flush destroys every entry in the cache, firing the destroy hook for
// each, mirroring cache_flush.
func (c *Cache) Flush() {
	c.mu.Lock()
	objs := make([]*Object, 0, len(c.objects))
	for _, o := range c.objects {
		objs = append(objs, o)
	}
	c.mu.Unlock()

	for _, o := range objs {
		_ = c.ObjectFree(o)
	}
}

// IterateFunc is the callback passed to Iterate. Returning false stops
// the traversal early.
type IterateFunc func(o *Object) bool

// Iterate performs a stable traversal of the cache's objects. cb may
// remove the object it is currently visiting (via Del/ObjectFree) but
// must not remove any other object, mirroring cache_iterate's contract.
func (c *Cache) Iterate(cb IterateFunc) {
	c.mu.Lock()
	objs := make([]*Object, 0, len(c.objects))
	for _, o := range c.objects {
		objs = append(objs, o)
	}
	c.mu.Unlock()

	for _, o := range objs {
		if !cb(o) {
			return
		}
	}
}

// Apply implements syncproto.Sink: it dispatches an accepted wire message
// to Add/UpdateForce/ObjectFree by MsgType, the external cache's
// counterpart to the internal cache's kernel-event dispatch.
func (c *Cache) Apply(msgType flowobj.MsgType, f *flowobj.Flow) {
	switch msgType {
	case flowobj.MsgCTNew, flowobj.MsgExpNew:
		if _, err := c.Add(f, f.ID); errors.Is(err, ErrExists) {
			_, _ = c.UpdateForce(f, f.ID)
		}
	case flowobj.MsgCTUpd, flowobj.MsgExpUpd:
		_, _ = c.UpdateForce(f, f.ID)
	case flowobj.MsgCTDel, flowobj.MsgExpDel:
		if o, ok := c.Find(f); ok {
			_ = c.ObjectFree(o)
		}
	}
}
