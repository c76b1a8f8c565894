package syncproto

import (
	"github.com/ctsyncd/ctsyncd/internal/flowobj"
)

// Sink is the receiver's target for accepted flow-state messages —
// internal/cache implements it, decoupling syncproto from the cache's
// concrete type.
type Sink interface {
	Apply(msgType flowobj.MsgType, f *flowobj.Flow)
}

// Receiver is the receiver-side half of the sync protocol: it tracks the
// next expected sequence number from one sender, applies in-order
// messages to a Sink, and (for ft-fw) emits an immediate NACK on a
// detected gap.
type Receiver struct {
	strategy Strategy
	sink     Sink

	seenAny  bool
	expected uint32 // next seq we haven't yet accounted for
	ackFrom  uint32 // low end of the next cumulative ACK window (alarm strategy)
}

// NewReceiver constructs a Receiver for strategy, applying accepted flows
// to sink.
func NewReceiver(strategy Strategy, sink Sink) *Receiver {
	return &Receiver{strategy: strategy, sink: sink}
}

// Handle processes one inbound wire message. It returns the wire bytes of
// any control frame the protocol requires in response (a NACK for ft-fw
// on a detected gap, or a HELLO_BACK), or nil if no response is needed.
// ACK/NACK/RESYNC frames themselves are not handled here — those are fed
// to the peer's Sender via HandleAck/HandleNack, since this Receiver
// models only the "accept sender's data" direction.
func (r *Receiver) Handle(buf []byte) ([]byte, error) {
	hdr, flow, err := flowobj.DecodeMessage(buf)
	if err != nil {
		return nil, err
	}

	switch {
	case hdr.Flags&flowobj.FlagHELLO != 0:
		return r.encodeHelloBack(), nil
	case hdr.Flags&flowobj.FlagHELLOBack != 0:
		return nil, nil
	case hdr.Flags&flowobj.FlagRESYNC != 0:
		r.seenAny = false
		return nil, nil
	case hdr.IsAckLike():
		// ACK/NACK carry no data payload for this Receiver to apply;
		// they're consumed by the sender side of the link instead.
		return nil, nil
	}

	if flow == nil {
		return nil, nil
	}

	if r.strategy == StrategyNoTrack {
		r.sink.Apply(hdr.Type, flow)
		return nil, nil
	}

	if !r.seenAny {
		r.seenAny = true
		r.expected = hdr.Seq
		r.ackFrom = hdr.Seq
	}

	switch {
	case hdr.Seq == r.expected:
		r.sink.Apply(hdr.Type, flow)
		r.expected++
		return nil, nil

	case Before(r.expected, hdr.Seq):
		// hdr.Seq is ahead of what we expect: [expected, seq-1] is a gap.
		gap := AckInfo{From: r.expected, To: hdr.Seq - 1}
		r.sink.Apply(hdr.Type, flow)
		r.expected = hdr.Seq + 1
		if r.strategy == StrategyFTFW {
			return EncodeNack(gap), nil
		}
		return nil, nil

	default:
		// hdr.Seq is behind expected: a duplicate/retransmit we've
		// already accounted for. No-op.
		return nil, nil
	}
}

// PendingAck returns the cumulative-ACK bound to emit for the alarm
// strategy's periodic batched ACK, and whether there's anything new to
// acknowledge since the last AckSent call.
func (r *Receiver) PendingAck() (AckInfo, bool) {
	if r.strategy != StrategyAlarm || !r.seenAny || r.ackFrom == r.expected {
		return AckInfo{}, false
	}
	return AckInfo{From: r.ackFrom, To: r.expected - 1}, true
}

// AckSent records that the ACK returned by the most recent PendingAck
// call has been transmitted.
func (r *Receiver) AckSent() {
	r.ackFrom = r.expected
}

func (r *Receiver) encodeHelloBack() []byte {
	hdr := flowobj.NetHdr{Version: flowobj.ProtocolVersion, Flags: flowobj.FlagHELLOBack}
	return flowobj.EncodeMessage(hdr, nil)
}

// EncodeAck builds the wire bytes for an ACK frame covering ack.
func EncodeAck(ack AckInfo) []byte {
	hdr := flowobj.NetHdr{Version: flowobj.ProtocolVersion, Flags: flowobj.FlagACK, From: ack.From, To: ack.To}
	return flowobj.EncodeMessage(hdr, nil)
}

// EncodeNack builds the wire bytes for a NACK frame requesting ack.
func EncodeNack(ack AckInfo) []byte {
	hdr := flowobj.NetHdr{Version: flowobj.ProtocolVersion, Flags: flowobj.FlagNACK, From: ack.From, To: ack.To}
	return flowobj.EncodeMessage(hdr, nil)
}

// DecodeAck extracts the AckInfo from a decoded ACK/NACK/RESYNC header.
func DecodeAck(hdr flowobj.NetHdr) AckInfo {
	return AckInfo{From: hdr.From, To: hdr.To}
}
