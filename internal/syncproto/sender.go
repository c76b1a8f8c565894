package syncproto

import (
	"time"

	"github.com/ctsyncd/ctsyncd/internal/flowobj"
)

// Sender is the sender-side half of the sync protocol: it assigns
// monotonically increasing sequence numbers, maintains the retransmit
// queue (for the alarm and ft-fw strategies), and answers ACK/NACK
// feedback from the peer.
//
// Sender does not own a transport.Channel directly; Send/Retransmit
// return the bytes to write, leaving the caller (the event loop, which
// already owns the channel registration) to perform the actual I/O. This
// mirrors spec §5: the loop is the sole mutator of protocol state, so
// nothing here blocks or touches a socket itself.
type Sender struct {
	strategy Strategy
	queue    *RetransmitQueue // nil for StrategyNoTrack
	nextSeq  uint32
	lastSend time.Time

	acked    uint64
	nacked   uint64
	resynced uint64
}

// Stats are the sender-side counters the /metrics endpoint exposes:
// cumulative ACKs and NACKs received and RESYNCs emitted, plus the
// current retransmit queue depth.
type Stats struct {
	Acked, Nacked, Resynced uint64
	QueueDepth              int
}

// Stats returns a snapshot of the sender's counters.
func (s *Sender) Stats() Stats {
	return Stats{Acked: s.acked, Nacked: s.nacked, Resynced: s.resynced, QueueDepth: s.QueueLen()}
}

// NewSender constructs a Sender for strategy, with a retransmit window of
// windowSize entries (ignored for StrategyNoTrack).
func NewSender(strategy Strategy, windowSize int) *Sender {
	s := &Sender{strategy: strategy}
	if strategy != StrategyNoTrack {
		s.queue = NewRetransmitQueue(windowSize)
	}
	return s
}

// Strategy returns the configured strategy.
func (s *Sender) Strategy() Strategy { return s.strategy }

// QueueLen returns the retransmit queue depth (0 for StrategyNoTrack).
func (s *Sender) QueueLen() int {
	if s.queue == nil {
		return 0
	}
	return s.queue.Len()
}

// EncodeNext assigns the next sequence number to (msgType, f), records it
// in the retransmit queue if the strategy tracks one, and returns the
// wire bytes to send.
func (s *Sender) EncodeNext(now time.Time, msgType flowobj.MsgType, f *flowobj.Flow) []byte {
	seq := s.nextSeq
	s.nextSeq++
	hdr := flowobj.NetHdr{Version: flowobj.ProtocolVersion, Type: msgType, Seq: seq}
	buf := flowobj.EncodeMessage(hdr, f)
	if s.queue != nil {
		s.queue.Push(seq, buf)
	}
	s.lastSend = now
	return buf
}

// HandleAck retires every queued entry through ack.To (cumulative ACK
// semantics), per spec §8 scenario C.
func (s *Sender) HandleAck(ack AckInfo) {
	s.acked++
	if s.queue == nil {
		return
	}
	s.queue.EvictThrough(ack.To)
}

// HandleNack returns the wire bytes to retransmit for every sequence in
// [nack.From, nack.To], in order. If any sequence in that range has
// already been evicted from the queue, the requested range can no longer
// be satisfied and a RESYNC frame is returned instead (spec §4.5's
// "if the requested range has been pruned, emit RESYNC").
func (s *Sender) HandleNack(now time.Time, nack AckInfo) [][]byte {
	s.nacked++
	if s.queue == nil {
		return nil
	}
	var out [][]byte
	for seq := nack.From; ; seq++ {
		msg, ok := s.queue.Get(seq)
		if !ok {
			return [][]byte{s.encodeResync(now)}
		}
		out = append(out, msg)
		if seq == nack.To {
			break
		}
	}
	return out
}

func (s *Sender) encodeResync(now time.Time) []byte {
	s.resynced++
	hdr := flowobj.NetHdr{Version: flowobj.ProtocolVersion, Flags: flowobj.FlagRESYNC, Seq: s.nextSeq}
	s.lastSend = now
	return flowobj.EncodeMessage(hdr, nil)
}

// MaybeHello returns HELLO frame bytes if the link has been idle longer
// than interval, or nil otherwise (spec §4.5 liveness).
func (s *Sender) MaybeHello(now time.Time, interval time.Duration) []byte {
	if s.lastSend.IsZero() || now.Sub(s.lastSend) <= interval {
		return nil
	}
	hdr := flowobj.NetHdr{Version: flowobj.ProtocolVersion, Flags: flowobj.FlagHELLO, Seq: s.nextSeq}
	s.lastSend = now
	return flowobj.EncodeMessage(hdr, nil)
}

// AckInfo is the [from,to] sequence bound carried by an ACK, NACK or
// RESYNC frame.
type AckInfo struct {
	From, To uint32
}
