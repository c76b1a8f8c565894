package dissect

import (
	"net"
	"testing"

	"github.com/ctsyncd/ctsyncd/internal/flowobj"
)

func testFlow(srcPort uint16) flowobj.Flow {
	return flowobj.NewFlow(flowobj.FamilyIPv4, 6, 1,
		net.ParseIP("192.168.1.1").To4(), net.ParseIP("192.168.1.2").To4(), srcPort, 443, 120, 0)
}

func TestFramer_SingleMessageInOneFeed(t *testing.T) {
	f := testFlow(1000)
	hdr := flowobj.NetHdr{Version: flowobj.ProtocolVersion, Type: flowobj.MsgCTNew, Seq: 5}
	wire := flowobj.EncodeMessage(hdr, &f)

	framer := NewFramer()
	msgs, errs := framer.Feed(wire)
	if len(errs) != 0 {
		t.Fatalf("errs = %v, want none", errs)
	}
	if len(msgs) != 1 {
		t.Fatalf("len(msgs) = %d, want 1", len(msgs))
	}
	if msgs[0].Header.Seq != 5 {
		t.Fatalf("Seq = %d, want 5", msgs[0].Header.Seq)
	}
	if msgs[0].Flow == nil || !msgs[0].Flow.TupleOrig.Src.Equal(net.ParseIP("192.168.1.1")) {
		t.Fatalf("decoded flow mismatch: %+v", msgs[0].Flow)
	}
}

func TestFramer_MessageSplitAcrossTwoFeeds(t *testing.T) {
	f := testFlow(2000)
	hdr := flowobj.NetHdr{Version: flowobj.ProtocolVersion, Type: flowobj.MsgCTUpd, Seq: 9}
	wire := flowobj.EncodeMessage(hdr, &f)
	split := len(wire) / 2

	framer := NewFramer()
	msgs, errs := framer.Feed(wire[:split])
	if len(msgs) != 0 || len(errs) != 0 {
		t.Fatalf("partial feed produced msgs=%v errs=%v, want none yet", msgs, errs)
	}

	msgs, errs = framer.Feed(wire[split:])
	if len(errs) != 0 {
		t.Fatalf("errs = %v, want none", errs)
	}
	if len(msgs) != 1 || msgs[0].Header.Seq != 9 {
		t.Fatalf("msgs = %+v, want one message with seq 9", msgs)
	}
}

func TestFramer_TwoMessagesConcatenatedInOneFeed(t *testing.T) {
	a := testFlow(1)
	b := testFlow(2)
	wire := append(
		flowobj.EncodeMessage(flowobj.NetHdr{Version: flowobj.ProtocolVersion, Type: flowobj.MsgCTNew, Seq: 1}, &a),
		flowobj.EncodeMessage(flowobj.NetHdr{Version: flowobj.ProtocolVersion, Type: flowobj.MsgCTDel, Seq: 2}, &b)...,
	)

	framer := NewFramer()
	msgs, errs := framer.Feed(wire)
	if len(errs) != 0 {
		t.Fatalf("errs = %v, want none", errs)
	}
	if len(msgs) != 2 {
		t.Fatalf("len(msgs) = %d, want 2", len(msgs))
	}
	if msgs[0].Header.Seq != 1 || msgs[1].Header.Seq != 2 {
		t.Fatalf("unexpected sequence order: %+v", msgs)
	}
}

func TestFramer_BadLengthReportsErrorAndResyncs(t *testing.T) {
	// A well-formed fixed header (non-ack-like) whose declared length is
	// shorter than the header itself: malformed, must be reported and
	// must not wedge the framer.
	malformed := make([]byte, flowobj.NetHdrSize)
	malformed[0] = flowobj.ProtocolVersion
	malformed[4], malformed[5] = 0, 5 // Len = 5, less than NetHdrSize

	framer := NewFramer()
	msgs, errs := framer.Feed(malformed)
	if len(msgs) != 0 {
		t.Fatalf("msgs = %+v, want none from a malformed header", msgs)
	}
	if len(errs) == 0 {
		t.Fatalf("errs is empty, want at least one reported framing error")
	}
}

func TestFramer_ControlFrameHasNoFlow(t *testing.T) {
	hdr := flowobj.NetHdr{Version: flowobj.ProtocolVersion, Flags: flowobj.FlagHELLO}
	wire := flowobj.EncodeMessage(hdr, nil)

	framer := NewFramer()
	msgs, errs := framer.Feed(wire)
	if len(errs) != 0 {
		t.Fatalf("errs = %v, want none", errs)
	}
	if len(msgs) != 1 || msgs[0].Flow != nil {
		t.Fatalf("msgs = %+v, want one control message with nil Flow", msgs)
	}
}
