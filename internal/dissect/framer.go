// Package dissect implements an offline test harness for the sync wire
// protocol: a byte-stream framer that recovers NetHdr-delimited messages
// from a TCP or UDP payload stream, and the packet-layer plumbing
// (gopacket) that feeds it from a captured PCAP file.
package dissect

import (
	"errors"

	"github.com/ctsyncd/ctsyncd/internal/flowobj"
)

// FramerState is one of the byte-stream framer's three phases.
type FramerState uint8

const (
	// ExpectHdr: fewer than the fixed NetHdr bytes buffered yet.
	ExpectHdr FramerState = iota
	// HaveHdr: the fixed header is buffered and decoded; the framer
	// waits until the full header size (including the ACK/NACK/RESYNC
	// from/to extension, if any) is buffered, then checks the declared
	// length against it.
	HaveHdr
	// DrainPayload: the header is known and we're waiting for the
	// remainder of the declared h.Len bytes (the attribute TLV payload,
	// for data messages) to arrive.
	DrainPayload
)

// ErrBadLength is reported when a decoded header's declared length is
// smaller than its own header size.
var ErrBadLength = errors.New("dissect: header length shorter than header size")

// Message is one fully-framed sync protocol message.
type Message struct {
	Header flowobj.NetHdr
	Flow   *flowobj.Flow // nil for control frames (ACK/NACK/RESYNC/HELLO/HELLO_BACK)
}

// Framer incrementally recovers framed Messages from an arbitrarily
// chunked byte stream (one call per captured segment), tracking
// ExpectHdr -> HaveHdr -> DrainPayload across calls so a message split
// across two TCP segments is still recovered correctly. For UDP, each
// Feed call's data is exactly one already-complete datagram, so the
// state machine degenerates to a single EXPECT_HDR->DRAIN_PAYLOAD pass
// per call.
type Framer struct {
	buf   []byte
	state FramerState
	hdr   flowobj.NetHdr
}

// NewFramer returns a Framer starting in ExpectHdr.
func NewFramer() *Framer {
	return &Framer{}
}

// Feed appends data to the framer's buffer and extracts every message
// now fully available. A malformed header or payload is reported in the
// returned error slice without halting framing: after a bad header the
// framer discards one byte and resumes at ExpectHdr, and a message whose
// payload fails to decode is dropped whole, so one corrupt message doesn't prevent
// recovering the ones that follow it in the same stream.
func (f *Framer) Feed(data []byte) ([]Message, []error) {
	f.buf = append(f.buf, data...)

	var msgs []Message
	var errs []error

	for {
		switch f.state {
		case ExpectHdr:
			if len(f.buf) < flowobj.NetHdrSize {
				return msgs, errs
			}
			hdr, err := flowobj.DecodeNetHdr(f.buf)
			if err != nil {
				errs = append(errs, err)
				f.resync()
				continue
			}
			f.hdr = hdr
			f.state = HaveHdr

		case HaveHdr:
			need := f.hdr.HeaderSize()
			if len(f.buf) < need {
				return msgs, errs
			}
			// Re-decode now that the ACK/NACK/RESYNC extension (if
			// any) is fully buffered.
			hdr, err := flowobj.DecodeNetHdr(f.buf)
			if err != nil {
				errs = append(errs, err)
				f.resync()
				continue
			}
			f.hdr = hdr
			if int(hdr.Len) < need {
				errs = append(errs, ErrBadLength)
				f.resync()
				continue
			}
			f.state = DrainPayload

		case DrainPayload:
			if len(f.buf) < int(f.hdr.Len) {
				return msgs, errs
			}
			_, flow, err := flowobj.DecodeMessage(f.buf[:f.hdr.Len])
			if err != nil {
				errs = append(errs, err)
			} else {
				msgs = append(msgs, Message{Header: f.hdr, Flow: flow})
			}
			f.buf = f.buf[f.hdr.Len:]
			f.state = ExpectHdr
		}
	}
}

// resync discards one byte and returns to ExpectHdr, the recovery move
// on any framing error.
func (f *Framer) resync() {
	f.buf = f.buf[1:]
	f.state = ExpectHdr
	f.hdr = flowobj.NetHdr{}
}
