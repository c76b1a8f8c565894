package flowobj

import (
	"encoding/binary"
	"errors"
)

// ProtocolVersion is carried in every NetHdr; bump on incompatible wire
// changes. conntrack-tools reports "old version" rather than dropping the
// message outright, so peers running adjacent versions can still interop
// on shared attributes.
const ProtocolVersion = 2

// Flag is a bitmask carried in NetHdr.Flags.
type Flag uint8

const (
	FlagACK Flag = 1 << iota
	FlagNACK
	FlagRESYNC
	FlagALIVE
	FlagHELLO
	FlagHELLOBack
)

// MsgType identifies the payload kind carried by a data message. Control
// frames (pure ACK/NACK/RESYNC/HELLO) carry MsgType zero.
type MsgType uint8

const (
	MsgNone MsgType = iota
	MsgCTNew
	MsgCTUpd
	MsgCTDel
	MsgExpNew
	MsgExpUpd
	MsgExpDel
)

// NetHdrSize is the fixed 10-octet header size.
const NetHdrSize = 10

// AckExtSize is the size of the from/to extension carried by
// ACK/NACK/RESYNC headers, beyond NetHdrSize.
const AckExtSize = 8

// NetHdr is the wire header prefixing every sync message:
// version:u8, flags:u8, type:u8, _reserved:u8, len:u16be, seq:u32be.
type NetHdr struct {
	Version uint8
	Flags   Flag
	Type    MsgType
	Len     uint16 // total length, including header
	Seq     uint32

	// From/To are populated only when Flags has ACK, NACK or RESYNC set.
	From, To uint32
}

// ErrTruncatedHeader is returned when fewer than NetHdrSize bytes (or, for
// ACK/NACK/RESYNC, NetHdrSize+AckExtSize bytes) are available.
var ErrTruncatedHeader = errors.New("flowobj: truncated header")

// IsAckLike reports whether h carries the from/to sequence-bound
// extension: ACK, NACK or RESYNC.
func (h NetHdr) IsAckLike() bool {
	return h.Flags&(FlagACK|FlagNACK|FlagRESYNC) != 0
}

// HeaderSize returns the on-wire size of h's header, accounting for the
// ACK/NACK/RESYNC extension.
func (h NetHdr) HeaderSize() int {
	if h.IsAckLike() {
		return NetHdrSize + AckExtSize
	}
	return NetHdrSize
}

// Encode serializes h to its wire form.
func (h NetHdr) Encode() []byte {
	size := NetHdrSize
	if h.IsAckLike() {
		size += AckExtSize
	}
	b := make([]byte, size)
	b[0] = h.Version
	b[1] = uint8(h.Flags)
	b[2] = uint8(h.Type)
	b[3] = 0
	binary.BigEndian.PutUint16(b[4:6], h.Len)
	binary.BigEndian.PutUint32(b[6:10], h.Seq)
	if h.IsAckLike() {
		binary.BigEndian.PutUint32(b[10:14], h.From)
		binary.BigEndian.PutUint32(b[14:18], h.To)
	}
	return b
}

// DecodeNetHdr parses a NetHdr from the front of buf. It returns
// ErrTruncatedHeader if buf is too short for the fixed header, or for the
// ACK/NACK/RESYNC extension once the flags byte is known.
func DecodeNetHdr(buf []byte) (NetHdr, error) {
	if len(buf) < NetHdrSize {
		return NetHdr{}, ErrTruncatedHeader
	}
	h := NetHdr{
		Version: buf[0],
		Flags:   Flag(buf[1]),
		Type:    MsgType(buf[2]),
		Len:     binary.BigEndian.Uint16(buf[4:6]),
		Seq:     binary.BigEndian.Uint32(buf[6:10]),
	}
	if h.IsAckLike() {
		if len(buf) < NetHdrSize+AckExtSize {
			return NetHdr{}, ErrTruncatedHeader
		}
		h.From = binary.BigEndian.Uint32(buf[10:14])
		h.To = binary.BigEndian.Uint32(buf[14:18])
	}
	return h, nil
}

// EncodeMessage builds a full wire message: header followed by the
// attribute TLVs for f (nil for control frames with no payload).
func EncodeMessage(h NetHdr, f *Flow) []byte {
	var attrs []byte
	if f != nil {
		attrs = EncodeAttrs(f)
	}
	h.Len = uint16(h.HeaderSize() + len(attrs))
	out := h.Encode()
	out = append(out, attrs...)
	return out
}

// DecodeMessage parses a full wire message: header plus, for data message
// types, the attribute TLVs into a fresh Flow. Non-data types (pure
// ACK/NACK/RESYNC/HELLO/HELLO_BACK) return a nil *Flow.
//
// Validates (a) buf is at least h.Len bytes (the declared length must not
// exceed what's actually available) and (b) the attribute payload fits
// within h.Len minus the header size, per spec's decode rules.
func DecodeMessage(buf []byte) (NetHdr, *Flow, error) {
	h, err := DecodeNetHdr(buf)
	if err != nil {
		return NetHdr{}, nil, err
	}
	hdrSize := h.HeaderSize()
	if int(h.Len) < hdrSize || int(h.Len) > len(buf) {
		return NetHdr{}, nil, ErrTruncatedHeader
	}
	if !h.isData() {
		return h, nil, nil
	}
	payload := buf[hdrSize:h.Len]
	f := &Flow{}
	if err := DecodeAttrs(payload, f); err != nil {
		return NetHdr{}, nil, err
	}
	f.DeriveReplyTuple()
	return h, f, nil
}

func (h NetHdr) isData() bool {
	return h.Type != MsgNone
}
