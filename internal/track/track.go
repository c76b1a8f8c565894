// Package track implements track mode: a liveness-polling reconciliation
// loop that keeps a local cache of conntrack entries in sync with the
// kernel by randomly-scheduled GET queries, without replicating state to
// any peer.
package track

import (
	"errors"
	"math/rand"
	"time"

	"github.com/ctsyncd/ctsyncd/internal/alarm"
	"github.com/ctsyncd/ctsyncd/internal/cache"
	"github.com/ctsyncd/ctsyncd/internal/flowobj"
	"github.com/ctsyncd/ctsyncd/internal/kernelevent"
)

// initialStamina is the number of consecutive failed liveness checks a
// flow survives before being evicted as vanished.
const initialStamina = 5

// trackSecs is the interval between kernel-vs-cache divergence checks.
const trackSecs = 10 * time.Second

// averageMessageSize is the assumed average size, in bytes, of a
// ctnetlink message in flight but not yet reconciled into the cache —
// used to size the divergence-check tolerance.
const averageMessageSize = 160

// EventLogger receives the two notable occurrences track mode produces
// outside of its normal cache bookkeeping: a flow confirmed vanished
// from the kernel, and a cache/kernel count divergence beyond tolerance.
type EventLogger interface {
	Vanished(f *flowobj.Flow)
	Divergence(diff, threshold int)
}

// trackState is the per-object extra data track mode's cache installs:
// the pending liveness-check alarm and the remaining stamina.
type trackState struct {
	alarm   alarm.Handle
	stamina int
}

// Tracker owns the track-mode cache and its liveness-check/divergence
// alarms.
type Tracker struct {
	alarms            *alarm.Scheduler
	source            kernelevent.Source
	counter           KernelCounter
	netlinkBufferSize int
	events            EventLogger
	cache             *cache.Cache

	clock func() time.Time
	rng   *rand.Rand

	counterAlarm alarm.Handle
}

// NewTracker constructs a Tracker. netlinkBufferSize is the configured
// netlink receive buffer size, used to scale the divergence-check
// tolerance.
func NewTracker(alarms *alarm.Scheduler, source kernelevent.Source, counter KernelCounter, netlinkBufferSize int, events EventLogger) *Tracker {
	t := &Tracker{
		alarms:            alarms,
		source:            source,
		counter:           counter,
		netlinkBufferSize: netlinkBufferSize,
		events:            events,
		clock:             time.Now,
		rng:               rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	t.cache = cache.New("track", cache.KindCT, cache.ExtraOps{
		New:     t.onAdd,
		Update:  t.onUpdate,
		Destroy: t.onDestroy,
	})
	return t
}

// Cache returns the underlying cache, for the control plane's dump/
// flush/stats handlers.
func (t *Tracker) Cache() *cache.Cache { return t.cache }

// Start schedules the first divergence-check alarm. Call once after
// construction, before the event loop begins polling.
func (t *Tracker) Start() {
	t.counterAlarm = t.alarms.Add(t.clock().Add(trackSecs), nil, t.onCounterCheck)
}

// HandleNew processes a CT_NEW event from the kernel event source: if
// the flow isn't already cached, it is added.
func (t *Tracker) HandleNew(f *flowobj.Flow) {
	clone := f.Clone()
	clone.Timeout = 0
	if _, ok := t.cache.Find(clone); ok {
		return
	}
	_, _ = t.cache.Add(clone, clone.ID)
}

// HandleUpdate processes a CT_UPDATE event: the cache entry is upserted
// (created if somehow absent, merged otherwise).
func (t *Tracker) HandleUpdate(f *flowobj.Flow) {
	clone := f.Clone()
	clone.Timeout = 0
	_, _ = t.cache.UpdateForce(clone, clone.ID)
}

// HandleDelete processes a CT_DELETE event: the matching cache entry, if
// any, is removed and its storage released.
func (t *Tracker) HandleDelete(f *flowobj.Flow) {
	clone := f.Clone()
	clone.Timeout = 0
	if o, ok := t.cache.Find(clone); ok {
		_ = t.cache.ObjectFree(o)
	}
}

func (t *Tracker) onAdd(o *cache.Object) {
	st := &trackState{stamina: initialStamina}
	o.Extra = st
	st.alarm = t.scheduleTimeout(o)
}

func (t *Tracker) onUpdate(o *cache.Object, _ *flowobj.Flow) {
	st := o.Extra.(*trackState)
	t.alarms.Del(st.alarm)
	st.alarm = t.scheduleTimeout(o)
}

func (t *Tracker) onDestroy(o *cache.Object) {
	st := o.Extra.(*trackState)
	t.alarms.Del(st.alarm)
}

// scheduleTimeout arms o's next liveness-check alarm at a pseudo-random
// delay of 1 to 60 whole seconds plus a jitter of 199999, 399999, 599999,
// 799999 or 999999 microseconds, matching track-mode's add_track_alarm.
func (t *Tracker) scheduleTimeout(o *cache.Object) alarm.Handle {
	return t.alarms.Add(t.clock().Add(t.randomDelay()), o, t.onTimeout)
}

func (t *Tracker) randomDelay() time.Duration {
	seconds := t.rng.Intn(60) + 1
	micros := (t.rng.Intn(5)+1)*200000 - 1
	return time.Duration(seconds)*time.Second + time.Duration(micros)*time.Microsecond
}

// onTimeout fires a liveness check for one tracked object: a kernel GET
// confirms presence (stamina untouched, rearm) or absence (stamina
// decremented; at -1 the flow is logged vanished and evicted).
func (t *Tracker) onTimeout(_ alarm.Handle, data any) {
	o := data.(*cache.Object)
	st := o.Extra.(*trackState)

	_, err := t.source.Get(o.Flow)
	if errors.Is(err, kernelevent.ErrNotFound) {
		prev := st.stamina
		st.stamina--
		if prev <= 0 {
			if t.events != nil {
				t.events.Vanished(o.Flow)
			}
			_ = t.cache.ObjectFree(o)
			return
		}
	}
	st.alarm = t.scheduleTimeout(o)
}

// onCounterCheck compares the cache's active count to the kernel's
// conntrack table size, logging a divergence beyond tolerance, and
// reschedules itself.
func (t *Tracker) onCounterCheck(_ alarm.Handle, _ any) {
	if kernelCount, err := t.counter.Count(); err == nil {
		active := int(t.cache.Stats().Active)
		diff := active - kernelCount
		threshold := t.netlinkBufferSize / averageMessageSize
		if diff > threshold && t.events != nil {
			t.events.Divergence(diff, threshold)
		}
	}
	t.counterAlarm = t.alarms.Add(t.clock().Add(trackSecs), nil, t.onCounterCheck)
}
