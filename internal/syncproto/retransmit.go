package syncproto

// RetransmitQueue is the sender-side ordered (seq, serialized-message)
// queue, bounded by a configurable window size with FIFO eviction when
// full (spec §3/§8 scenario C).
type RetransmitQueue struct {
	maxLen  int
	entries []retransmitEntry
}

type retransmitEntry struct {
	seq uint32
	msg []byte
}

// NewRetransmitQueue returns a queue holding at most maxLen entries.
func NewRetransmitQueue(maxLen int) *RetransmitQueue {
	return &RetransmitQueue{maxLen: maxLen}
}

// Push enqueues (seq, msg), evicting the oldest entry if the queue is
// already at maxLen. Returns the evicted sequence and true if an eviction
// occurred.
func (q *RetransmitQueue) Push(seq uint32, msg []byte) (evicted uint32, didEvict bool) {
	if q.maxLen > 0 && len(q.entries) >= q.maxLen {
		evicted = q.entries[0].seq
		didEvict = true
		q.entries = q.entries[1:]
	}
	q.entries = append(q.entries, retransmitEntry{seq: seq, msg: msg})
	return evicted, didEvict
}

// EvictThrough removes every entry with seq such that !Before(to, seq) —
// i.e. seq <= to in wraparound-aware terms — implementing cumulative ACK
// semantics: an ACK covering [from,to] retires everything up to and
// including to.
func (q *RetransmitQueue) EvictThrough(to uint32) {
	i := 0
	for i < len(q.entries) && !Before(to, q.entries[i].seq) {
		i++
	}
	q.entries = q.entries[i:]
}

// Get returns the serialized message for seq, and whether it is still
// present in the queue (false means it has been pruned — the caller must
// fall back to RESYNC, per the ft-fw strategy, spec §4.5).
func (q *RetransmitQueue) Get(seq uint32) ([]byte, bool) {
	for _, e := range q.entries {
		if e.seq == seq {
			return e.msg, true
		}
	}
	return nil, false
}

// Len returns the number of entries currently queued.
func (q *RetransmitQueue) Len() int { return len(q.entries) }

// Seqs returns the sequence numbers currently queued, oldest first. Used
// by tests and stats reporting.
func (q *RetransmitQueue) Seqs() []uint32 {
	out := make([]uint32, len(q.entries))
	for i, e := range q.entries {
		out[i] = e.seq
	}
	return out
}
