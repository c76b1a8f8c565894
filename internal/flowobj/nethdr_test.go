package flowobj

import "testing"

func TestNetHdr_EncodeDecode_Plain(t *testing.T) {
	h := NetHdr{Version: ProtocolVersion, Type: MsgCTNew, Seq: 12345}
	h.Len = uint16(h.HeaderSize())
	buf := h.Encode()
	if len(buf) != NetHdrSize {
		t.Fatalf("len(buf) = %d, want %d", len(buf), NetHdrSize)
	}
	got, err := DecodeNetHdr(buf)
	if err != nil {
		t.Fatalf("DecodeNetHdr: %v", err)
	}
	if got != h {
		t.Fatalf("got %+v, want %+v", got, h)
	}
}

func TestNetHdr_EncodeDecode_AckExtension(t *testing.T) {
	h := NetHdr{Version: ProtocolVersion, Flags: FlagACK, From: 10, To: 20}
	h.Len = uint16(h.HeaderSize())
	buf := h.Encode()
	if len(buf) != NetHdrSize+AckExtSize {
		t.Fatalf("len(buf) = %d, want %d", len(buf), NetHdrSize+AckExtSize)
	}
	got, err := DecodeNetHdr(buf)
	if err != nil {
		t.Fatalf("DecodeNetHdr: %v", err)
	}
	if got != h {
		t.Fatalf("got %+v, want %+v", got, h)
	}
}

func TestNetHdr_Decode_Truncated(t *testing.T) {
	if _, err := DecodeNetHdr([]byte{0x01, 0x02, 0x03}); err != ErrTruncatedHeader {
		t.Fatalf("err = %v, want ErrTruncatedHeader", err)
	}
	// ACK flag set but only the fixed header present, no room for from/to.
	h := NetHdr{Flags: FlagACK}
	plain := h.Encode()[:NetHdrSize]
	if _, err := DecodeNetHdr(plain); err != ErrTruncatedHeader {
		t.Fatalf("err = %v, want ErrTruncatedHeader", err)
	}
}

func TestMessage_RoundTrip_DataFrame(t *testing.T) {
	f := NewFlow(FamilyIPv4, 6, 1, mustIP4("10.0.0.1"), mustIP4("10.0.0.2"), 1111, 80, 60, 0)
	h := NetHdr{Version: ProtocolVersion, Type: MsgCTNew, Seq: 7}
	buf := EncodeMessage(h, &f)

	gotHdr, gotFlow, err := DecodeMessage(buf)
	if err != nil {
		t.Fatalf("DecodeMessage: %v", err)
	}
	if gotHdr.Seq != h.Seq || gotHdr.Type != h.Type {
		t.Fatalf("header mismatch: got %+v", gotHdr)
	}
	if gotFlow == nil {
		t.Fatalf("expected non-nil flow for data message")
	}
	if !gotFlow.TupleOrig.Src.Equal(f.TupleOrig.Src) {
		t.Fatalf("flow payload mismatch: got %+v want %+v", gotFlow.TupleOrig, f.TupleOrig)
	}
}

func TestMessage_RoundTrip_ControlFrame(t *testing.T) {
	h := NetHdr{Version: ProtocolVersion, Flags: FlagACK, Seq: 3, From: 1, To: 2}
	buf := EncodeMessage(h, nil)

	gotHdr, gotFlow, err := DecodeMessage(buf)
	if err != nil {
		t.Fatalf("DecodeMessage: %v", err)
	}
	if gotFlow != nil {
		t.Fatalf("expected nil flow for control frame, got %+v", gotFlow)
	}
	if gotHdr.From != 1 || gotHdr.To != 2 {
		t.Fatalf("ack ext mismatch: got %+v", gotHdr)
	}
}

func TestMessage_Decode_DeclaredLenExceedsBuffer(t *testing.T) {
	h := NetHdr{Version: ProtocolVersion, Type: MsgCTNew, Len: 200, Seq: 1}
	buf := h.Encode()
	if _, _, err := DecodeMessage(buf); err != ErrTruncatedHeader {
		t.Fatalf("err = %v, want ErrTruncatedHeader", err)
	}
}
