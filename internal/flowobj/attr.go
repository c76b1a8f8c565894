package flowobj

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net"
)

// AttrID identifies an attribute TLV, per the ct_parser table in
// conntrack-tools' dissect-sync/parse.c.
type AttrID uint16

const (
	NTAIPv4 AttrID = iota + 1
	NTAIPv6
	NTAPort
	NTAL4Proto
	NTATCPState
	NTAStatus
	NTAMark
	NTATimeout
	NTAMasterIPv4
	NTAMasterIPv6
	NTAMasterL4Proto
	NTAMasterPort
	NTASNATIPv4
	NTADNATIPv4
	NTASPATPort
	NTADPATPort
	NTANATSeqAdj
	NTASCTPState
	NTASCTPVTagOrig
	NTASCTPVTagRepl
	NTADCCPState
	NTADCCPRole
	NTAICMPType
	NTAICMPCode
	NTAICMPID
	NTATCPWScaleOrig
	NTATCPWScaleRepl
	NTAHelperName
	NTACountersOrig
	NTACountersRepl
	NTASecCtx
	NTALabels
	NTALabelsMask
	NTAID
	NTAUse
	NTAZone
	NTASynProxy
	ntaMax
)

// NTAMax is the highest valid attribute id.
const NTAMax = ntaMax - 1

// attrHeaderSize is the 4-octet TLV header: attr:u16be, len:u16be.
const attrHeaderSize = 4

// ErrMalformedPayload is returned by Decode when the attribute stream
// fails any structural check: truncated TLV, id > NTAMax, length
// mismatch for a fixed-size kind, or length over a variable kind's max.
var ErrMalformedPayload = errors.New("flowobj: malformed attribute payload")

// attrKind describes one attribute's payload size rule: fixed-size kinds
// set size, variable-length kinds set maxSize instead.
type attrKind struct {
	size    int // exact size required, 0 = variable
	maxSize int // max size for variable-length kinds
}

var attrKinds = map[AttrID]attrKind{
	NTAIPv4:          {size: 8},
	NTAIPv6:          {size: 32},
	NTAPort:          {size: 4},
	NTAL4Proto:       {size: 1},
	NTATCPState:      {size: 1},
	NTAStatus:        {size: 4},
	NTAMark:          {size: 4},
	NTATimeout:       {size: 4},
	NTAMasterIPv4:    {size: 8},
	NTAMasterIPv6:    {size: 32},
	NTAMasterL4Proto: {size: 1},
	NTAMasterPort:    {size: 4},
	NTASNATIPv4:      {size: 4},
	NTADNATIPv4:      {size: 4},
	NTASPATPort:      {size: 2},
	NTADPATPort:      {size: 2},
	NTANATSeqAdj:     {size: 16},
	NTASCTPState:     {size: 1},
	NTASCTPVTagOrig:  {size: 4},
	NTASCTPVTagRepl:  {size: 4},
	NTADCCPState:     {size: 1},
	NTADCCPRole:      {size: 1},
	NTAICMPType:      {size: 1},
	NTAICMPCode:      {size: 1},
	NTAICMPID:        {size: 2},
	NTATCPWScaleOrig: {size: 1},
	NTATCPWScaleRepl: {size: 1},
	NTAHelperName:    {maxSize: HelperNameMax},
	NTACountersOrig:  {size: 16},
	NTACountersRepl:  {size: 16},
	NTASecCtx:        {maxSize: 256},
	NTALabels:        {maxSize: 128},
	NTALabelsMask:    {maxSize: 128},
	NTAID:            {size: 4},
	NTAUse:           {size: 4},
	NTAZone:          {size: 2},
	NTASynProxy:      {size: 12},
}

// align4 rounds n up to the next multiple of 4, the TLV payload padding
// rule: declared length excludes padding, but encoded bytes are aligned.
func align4(n int) int { return (n + 3) &^ 3 }

// EncodeAttrs serializes f's populated attributes as a sequence of TLVs in
// canonical (ascending) attribute-id order.
func EncodeAttrs(f *Flow) []byte {
	var out []byte

	put := func(id AttrID, payload []byte) {
		hdr := make([]byte, attrHeaderSize)
		binary.BigEndian.PutUint16(hdr[0:2], uint16(id))
		binary.BigEndian.PutUint16(hdr[2:4], uint16(attrHeaderSize+len(payload)))
		out = append(out, hdr...)
		out = append(out, payload...)
		if pad := align4(len(payload)) - len(payload); pad > 0 {
			out = append(out, make([]byte, pad)...)
		}
	}

	putU8 := func(id AttrID, v uint8) { put(id, []byte{v}) }
	putU16 := func(id AttrID, v uint16) {
		b := make([]byte, 2)
		binary.BigEndian.PutUint16(b, v)
		put(id, b)
	}
	putU32 := func(id AttrID, v uint32) {
		b := make([]byte, 4)
		binary.BigEndian.PutUint32(b, v)
		put(id, b)
	}
	putGroupIPv4 := func(id AttrID, src, dst net.IP) {
		b := make([]byte, 8)
		copy(b[0:4], src.To4())
		copy(b[4:8], dst.To4())
		put(id, b)
	}
	putGroupIPv6 := func(id AttrID, src, dst net.IP) {
		b := make([]byte, 32)
		copy(b[0:16], src.To16())
		copy(b[16:32], dst.To16())
		put(id, b)
	}
	putGroupPort := func(id AttrID, p Port) {
		b := make([]byte, 4)
		binary.BigEndian.PutUint16(b[0:2], p.SourcePort)
		binary.BigEndian.PutUint16(b[2:4], p.DestPort)
		put(id, b)
	}

	if f.Family == FamilyIPv4 {
		putGroupIPv4(NTAIPv4, f.TupleOrig.Src, f.TupleOrig.Dst)
	} else {
		putGroupIPv6(NTAIPv6, f.TupleOrig.Src, f.TupleOrig.Dst)
	}
	putGroupPort(NTAPort, f.TupleOrig.Port)
	putU8(NTAL4Proto, f.TupleOrig.Proto)

	if f.ProtoInfo.TCPState != 0 {
		putU8(NTATCPState, uint8(f.ProtoInfo.TCPState))
		putU8(NTATCPWScaleOrig, f.ProtoInfo.TCPWScaleOrig)
		putU8(NTATCPWScaleRepl, f.ProtoInfo.TCPWScaleRepl)
	}
	putU32(NTAStatus, f.Status)
	putU32(NTAMark, f.Mark)
	putU32(NTATimeout, f.Timeout)

	if f.HasMaster {
		if f.Family == FamilyIPv4 {
			putGroupIPv4(NTAMasterIPv4, f.TupleMaster.Src, f.TupleMaster.Dst)
		} else {
			putGroupIPv6(NTAMasterIPv6, f.TupleMaster.Src, f.TupleMaster.Dst)
		}
		putU8(NTAMasterL4Proto, f.TupleMaster.Proto)
		putGroupPort(NTAMasterPort, f.TupleMaster.Port)
	}

	if f.NAT.SNATAddr != nil {
		putU32(NTASNATIPv4, be32(f.NAT.SNATAddr))
	}
	if f.NAT.DNATAddr != nil {
		putU32(NTADNATIPv4, be32(f.NAT.DNATAddr))
	}
	if f.NAT.SPATPort != 0 {
		putU16(NTASPATPort, f.NAT.SPATPort)
	}
	if f.NAT.DPATPort != 0 {
		putU16(NTADPATPort, f.NAT.DPATPort)
	}
	if hasSeqAdj(f) {
		b := make([]byte, 16)
		binary.BigEndian.PutUint32(b[0:4], f.SeqAdjOrig.CorrectionPos)
		binary.BigEndian.PutUint32(b[4:8], uint32(f.SeqAdjOrig.OffsetBefore))
		binary.BigEndian.PutUint32(b[8:12], f.SeqAdjRepl.CorrectionPos)
		binary.BigEndian.PutUint32(b[12:16], uint32(f.SeqAdjRepl.OffsetBefore))
		put(NTANATSeqAdj, b)
	}

	if f.ProtoInfo.SCTPState != 0 {
		putU8(NTASCTPState, f.ProtoInfo.SCTPState)
		putU32(NTASCTPVTagOrig, f.ProtoInfo.SCTPVTagOrig)
		putU32(NTASCTPVTagRepl, f.ProtoInfo.SCTPVTagRepl)
	}
	if f.ProtoInfo.DCCPState != 0 {
		putU8(NTADCCPState, f.ProtoInfo.DCCPState)
		putU8(NTADCCPRole, f.ProtoInfo.DCCPRole)
	}
	if f.TupleOrig.Proto == 1 || f.TupleOrig.Proto == 58 { // ICMP / ICMPv6
		putU8(NTAICMPType, f.TupleOrig.Port.ICMPType)
		putU8(NTAICMPCode, f.TupleOrig.Port.ICMPCode)
		putU16(NTAICMPID, f.TupleOrig.Port.ICMPID)
	}
	if f.Helper != "" {
		put(NTAHelperName, []byte(f.Helper))
	}
	if f.CountersOrig.Packets != 0 || f.CountersOrig.Bytes != 0 {
		b := make([]byte, 16)
		binary.BigEndian.PutUint64(b[0:8], f.CountersOrig.Packets)
		binary.BigEndian.PutUint64(b[8:16], f.CountersOrig.Bytes)
		put(NTACountersOrig, b)
	}
	if f.CountersReply.Packets != 0 || f.CountersReply.Bytes != 0 {
		b := make([]byte, 16)
		binary.BigEndian.PutUint64(b[0:8], f.CountersReply.Packets)
		binary.BigEndian.PutUint64(b[8:16], f.CountersReply.Bytes)
		put(NTACountersRepl, b)
	}
	if f.SecurityContext != "" {
		put(NTASecCtx, []byte(f.SecurityContext))
	}
	if len(f.Labels) > 0 {
		put(NTALabels, f.Labels)
	}
	if len(f.LabelsMask) > 0 {
		put(NTALabelsMask, f.LabelsMask)
	}
	if f.ID != 0 {
		putU32(NTAID, f.ID)
	}
	if f.Use != 0 {
		putU32(NTAUse, f.Use)
	}
	if f.Zone != 0 {
		putU16(NTAZone, f.Zone)
	}
	if f.SynProxy != (SynProxy{}) {
		b := make([]byte, 12)
		binary.BigEndian.PutUint32(b[0:4], f.SynProxy.ISN)
		binary.BigEndian.PutUint32(b[4:8], f.SynProxy.ITS)
		binary.BigEndian.PutUint32(b[8:12], f.SynProxy.TSOff)
		put(NTASynProxy, b)
	}
	return out
}

func hasSeqAdj(f *Flow) bool {
	return f.SeqAdjOrig.CorrectionPos != 0 || f.SeqAdjOrig.OffsetBefore != 0 ||
		f.SeqAdjRepl.CorrectionPos != 0 || f.SeqAdjRepl.OffsetBefore != 0
}

func be32(ip net.IP) uint32 {
	v4 := ip.To4()
	if v4 == nil {
		return 0
	}
	return binary.BigEndian.Uint32(v4)
}

func u32ToIP(v uint32) net.IP {
	b := make(net.IP, 4)
	binary.BigEndian.PutUint32(b, v)
	return b
}

// DecodeAttrs parses the TLV stream in payload into f, validating every
// structural rule msg2ct (dissect-sync/parse.c) enforces: id range, fixed
// size match, variable-size max, and that each TLV fits the remaining
// buffer. Any violation returns ErrMalformedPayload and f is left
// unmodified by the caller's convention (the caller should discard a
// partially-built Flow on error).
func DecodeAttrs(payload []byte, f *Flow) error {
	remain := len(payload)
	off := 0
	for remain > attrHeaderSize {
		if off+attrHeaderSize > len(payload) {
			return ErrMalformedPayload
		}
		id := AttrID(binary.BigEndian.Uint16(payload[off : off+2]))
		length := int(binary.BigEndian.Uint16(payload[off+2 : off+4]))

		if length < attrHeaderSize || length > remain {
			return ErrMalformedPayload
		}
		if id > NTAMax {
			return ErrMalformedPayload
		}
		kind, known := attrKinds[id]
		payloadLen := length - attrHeaderSize
		if known {
			if kind.size != 0 && payloadLen != kind.size {
				return ErrMalformedPayload
			}
			if kind.maxSize != 0 && payloadLen > kind.maxSize {
				return ErrMalformedPayload
			}
		}

		body := payload[off+attrHeaderSize : off+length]
		if known {
			if err := applyAttr(id, body, f); err != nil {
				return err
			}
		}

		adv := align4(length)
		if adv > remain {
			return ErrMalformedPayload
		}
		off += adv
		remain -= adv
	}
	return nil
}

func applyAttr(id AttrID, body []byte, f *Flow) error {
	switch id {
	case NTAIPv4:
		if len(body) != 8 {
			return ErrMalformedPayload
		}
		f.Family = FamilyIPv4
		f.TupleOrig.Src = net.IP(append([]byte(nil), body[0:4]...))
		f.TupleOrig.Dst = net.IP(append([]byte(nil), body[4:8]...))
	case NTAIPv6:
		if len(body) != 32 {
			return ErrMalformedPayload
		}
		f.Family = FamilyIPv6
		f.TupleOrig.Src = net.IP(append([]byte(nil), body[0:16]...))
		f.TupleOrig.Dst = net.IP(append([]byte(nil), body[16:32]...))
	case NTAPort:
		f.TupleOrig.Port.SourcePort = binary.BigEndian.Uint16(body[0:2])
		f.TupleOrig.Port.DestPort = binary.BigEndian.Uint16(body[2:4])
	case NTAL4Proto:
		f.TupleOrig.Proto = body[0]
		f.TupleReply.Proto = body[0]
	case NTATCPState:
		f.ProtoInfo.TCPState = TCPState(body[0])
	case NTAStatus:
		f.Status = binary.BigEndian.Uint32(body)
	case NTAMark:
		f.Mark = binary.BigEndian.Uint32(body)
	case NTATimeout:
		f.Timeout = binary.BigEndian.Uint32(body)
	case NTAMasterIPv4:
		f.HasMaster = true
		f.TupleMaster.Src = net.IP(append([]byte(nil), body[0:4]...))
		f.TupleMaster.Dst = net.IP(append([]byte(nil), body[4:8]...))
	case NTAMasterIPv6:
		f.HasMaster = true
		f.TupleMaster.Src = net.IP(append([]byte(nil), body[0:16]...))
		f.TupleMaster.Dst = net.IP(append([]byte(nil), body[16:32]...))
	case NTAMasterL4Proto:
		f.TupleMaster.Proto = body[0]
	case NTAMasterPort:
		f.TupleMaster.Port.SourcePort = binary.BigEndian.Uint16(body[0:2])
		f.TupleMaster.Port.DestPort = binary.BigEndian.Uint16(body[2:4])
	case NTASNATIPv4:
		f.NAT.SNATAddr = u32ToIP(binary.BigEndian.Uint32(body))
	case NTADNATIPv4:
		f.NAT.DNATAddr = u32ToIP(binary.BigEndian.Uint32(body))
	case NTASPATPort:
		f.NAT.SPATPort = binary.BigEndian.Uint16(body)
	case NTADPATPort:
		f.NAT.DPATPort = binary.BigEndian.Uint16(body)
	case NTANATSeqAdj:
		f.SeqAdjOrig.CorrectionPos = binary.BigEndian.Uint32(body[0:4])
		f.SeqAdjOrig.OffsetBefore = int32(binary.BigEndian.Uint32(body[4:8]))
		f.SeqAdjRepl.CorrectionPos = binary.BigEndian.Uint32(body[8:12])
		f.SeqAdjRepl.OffsetBefore = int32(binary.BigEndian.Uint32(body[12:16]))
	case NTASCTPState:
		f.ProtoInfo.SCTPState = body[0]
	case NTASCTPVTagOrig:
		f.ProtoInfo.SCTPVTagOrig = binary.BigEndian.Uint32(body)
	case NTASCTPVTagRepl:
		f.ProtoInfo.SCTPVTagRepl = binary.BigEndian.Uint32(body)
	case NTADCCPState:
		f.ProtoInfo.DCCPState = body[0]
	case NTADCCPRole:
		f.ProtoInfo.DCCPRole = body[0]
	case NTAICMPType:
		f.TupleOrig.Port.ICMPType = body[0]
	case NTAICMPCode:
		f.TupleOrig.Port.ICMPCode = body[0]
	case NTAICMPID:
		f.TupleOrig.Port.ICMPID = binary.BigEndian.Uint16(body)
	case NTATCPWScaleOrig:
		f.ProtoInfo.TCPWScaleOrig = body[0]
	case NTATCPWScaleRepl:
		f.ProtoInfo.TCPWScaleRepl = body[0]
	case NTAHelperName:
		if len(body) > HelperNameMax {
			return ErrMalformedPayload
		}
		f.Helper = string(body)
	case NTACountersOrig:
		f.CountersOrig.Packets = binary.BigEndian.Uint64(body[0:8])
		f.CountersOrig.Bytes = binary.BigEndian.Uint64(body[8:16])
	case NTACountersRepl:
		f.CountersReply.Packets = binary.BigEndian.Uint64(body[0:8])
		f.CountersReply.Bytes = binary.BigEndian.Uint64(body[8:16])
	case NTASecCtx:
		f.SecurityContext = string(body)
	case NTALabels:
		f.Labels = append([]byte(nil), body...)
	case NTALabelsMask:
		f.LabelsMask = append([]byte(nil), body...)
	case NTAID:
		f.ID = binary.BigEndian.Uint32(body)
	case NTAUse:
		f.Use = binary.BigEndian.Uint32(body)
	case NTAZone:
		f.Zone = binary.BigEndian.Uint16(body)
	case NTASynProxy:
		if len(body) != 12 {
			return ErrMalformedPayload
		}
		f.SynProxy.ISN = binary.BigEndian.Uint32(body[0:4])
		f.SynProxy.ITS = binary.BigEndian.Uint32(body[4:8])
		f.SynProxy.TSOff = binary.BigEndian.Uint32(body[8:12])
	default:
		return fmt.Errorf("flowobj: unreachable attribute id %d: %w", id, ErrMalformedPayload)
	}
	return nil
}
