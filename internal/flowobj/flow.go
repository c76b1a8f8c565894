// Package flowobj defines the canonical in-memory flow object and its
// TLV wire encoding.
package flowobj

import "net"

// Family is the L3 address family of a flow.
type Family uint8

const (
	FamilyIPv4 Family = 2
	FamilyIPv6 Family = 10
)

// TCPState mirrors the kernel's conntrack TCP sub-state machine.
type TCPState uint8

// SCTP/DCCP sub-states are carried as opaque bytes; only the fields the
// sync protocol needs to diff are modeled explicitly.
type ProtoInfo struct {
	TCPState    TCPState
	TCPWScaleOrig, TCPWScaleRepl uint8
	SCTPState   uint8
	SCTPVTagOrig, SCTPVTagRepl uint32
	DCCPState   uint8
	DCCPRole    uint8
}

// Port holds either a TCP/UDP port pair or an ICMP id/type/code, keyed by
// which fields are populated (ICMP flows never set SourcePort/DestPort).
type Port struct {
	SourcePort, DestPort uint16
	ICMPID               uint16
	ICMPType, ICMPCode    uint8
}

// Tuple is one direction of a flow: L3 addresses plus L4 port/ICMP info.
type Tuple struct {
	Src, Dst net.IP
	Proto    uint8
	Port     Port
}

// Counter is a packet/byte counter pair for one direction of a flow.
type Counter struct {
	Packets, Bytes uint64
}

// SequenceAdjust models NAT sequence-number adjustment state for one
// direction of a TCP flow.
type SequenceAdjust struct {
	CorrectionPos   uint32
	OffsetBefore    int32
	OffsetAfter     int32
}

// NAT holds the substitutions applied to a flow by Linux NAT.
type NAT struct {
	SNATAddr net.IP
	DNATAddr net.IP
	SPATPort uint16
	DPATPort uint16
}

// SynProxy models TCP SYN proxy negotiation state, carried opaquely.
type SynProxy struct {
	ISN       uint32
	ITS       uint32
	TSOff     uint32
}

// Flow is one kernel conntrack entry, as mirrored by the internal or
// external cache.
//
// Family and the original tuple (including its Proto) form the flow's
// fingerprint (see Fingerprint). Everything else is replicated state.
type Flow struct {
	Family Family

	TupleOrig, TupleReply, TupleMaster Tuple

	ProtoInfo ProtoInfo
	Status    uint32
	Mark      uint32
	Use       uint32
	ID        uint32
	Zone      uint16
	Timeout   uint32

	NAT        NAT
	SeqAdjOrig SequenceAdjust
	SeqAdjRepl SequenceAdjust

	Helper string // bounded to HelperNameMax octets

	CountersOrig, CountersReply Counter

	SecurityContext string
	Labels          []byte
	LabelsMask      []byte

	SynProxy SynProxy

	HasMaster bool
}

// HelperNameMax is the maximum helper name length, including the NUL
// terminator the kernel reserves, matching NFCT_HELPER_NAME_MAX.
const HelperNameMax = 16

// Fingerprint uniquely identifies a flow within a cache: L3 family, L4
// proto, and the original-direction tuple.
type Fingerprint struct {
	Family Family
	Proto  uint8
	SrcIP  string
	DstIP  string
	Port   Port
}

// Fingerprint computes the cache key for f.
func (f *Flow) Fingerprint() Fingerprint {
	return Fingerprint{
		Family: f.Family,
		Proto:  f.TupleOrig.Proto,
		SrcIP:  f.TupleOrig.Src.String(),
		DstIP:  f.TupleOrig.Dst.String(),
		Port:   f.TupleOrig.Port,
	}
}

// NewFlow returns a Flow with the minimum attributes required to create a
// conntrack entry: the original tuple, its mirrored reply tuple, status
// and timeout. Mirrors conntrack-tools' nfct_flow_new helper.
func NewFlow(family Family, proto uint8, status uint32, srcAddr, dstAddr net.IP, srcPort, dstPort uint16, timeout, mark uint32) Flow {
	var f Flow
	f.Family = family
	f.Status = status
	f.Timeout = timeout
	f.Mark = mark

	f.TupleOrig.Src = srcAddr
	f.TupleOrig.Dst = dstAddr
	f.TupleOrig.Proto = proto
	f.TupleOrig.Port.SourcePort = srcPort
	f.TupleOrig.Port.DestPort = dstPort

	f.TupleReply.Src = dstAddr
	f.TupleReply.Dst = srcAddr
	f.TupleReply.Proto = proto
	f.TupleReply.Port.SourcePort = dstPort
	f.TupleReply.Port.DestPort = srcPort

	return f
}

// DeriveReplyTuple fills TupleReply from TupleOrig, applying any NAT
// substitutions recorded on f. The wire protocol carries only the
// original tuple plus SNAT/DNAT/SPAT/DPAT attributes (mirroring
// conntrack-tools' own sync protocol, which never sends a reply-tuple
// group) — the receiver reconstructs the reply tuple the same way the
// kernel would, before injecting the flow.
func (f *Flow) DeriveReplyTuple() {
	f.TupleReply.Proto = f.TupleOrig.Proto
	src, dst := f.TupleOrig.Dst, f.TupleOrig.Src
	if f.NAT.DNATAddr != nil {
		src = f.NAT.DNATAddr
	}
	if f.NAT.SNATAddr != nil {
		dst = f.NAT.SNATAddr
	}
	f.TupleReply.Src = src
	f.TupleReply.Dst = dst
	f.TupleReply.Port.SourcePort = f.TupleOrig.Port.DestPort
	f.TupleReply.Port.DestPort = f.TupleOrig.Port.SourcePort
	if f.NAT.DPATPort != 0 {
		f.TupleReply.Port.SourcePort = f.NAT.DPATPort
	}
	if f.NAT.SPATPort != 0 {
		f.TupleReply.Port.DestPort = f.NAT.SPATPort
	}
}

// Clone returns a deep copy of f, safe to mutate independently.
func (f *Flow) Clone() *Flow {
	cp := *f
	cp.TupleOrig.Src = cloneIP(f.TupleOrig.Src)
	cp.TupleOrig.Dst = cloneIP(f.TupleOrig.Dst)
	cp.TupleReply.Src = cloneIP(f.TupleReply.Src)
	cp.TupleReply.Dst = cloneIP(f.TupleReply.Dst)
	cp.TupleMaster.Src = cloneIP(f.TupleMaster.Src)
	cp.TupleMaster.Dst = cloneIP(f.TupleMaster.Dst)
	cp.NAT.SNATAddr = cloneIP(f.NAT.SNATAddr)
	cp.NAT.DNATAddr = cloneIP(f.NAT.DNATAddr)
	if f.Labels != nil {
		cp.Labels = append([]byte(nil), f.Labels...)
	}
	if f.LabelsMask != nil {
		cp.LabelsMask = append([]byte(nil), f.LabelsMask...)
	}
	return &cp
}

func cloneIP(ip net.IP) net.IP {
	if ip == nil {
		return nil
	}
	out := make(net.IP, len(ip))
	copy(out, ip)
	return out
}

// Merge applies the non-zero attributes of upd onto f, in place, the same
// way cache_update_force merges an incoming event onto the cached object:
// only attributes actually carried by upd overwrite f's. The merged
// attributes are status, mark, timeout, use, ID, the TCP/SCTP/DCCP
// states, the NAT addresses and ports, the helper and the counters; zone,
// labels, security context, sequence adjustment, synproxy, TCP window
// scale, SCTP vtags and DCCP role are left as they are in f.
func (f *Flow) Merge(upd *Flow) {
	if upd.Status != 0 {
		f.Status = upd.Status
	}
	if upd.Mark != 0 {
		f.Mark = upd.Mark
	}
	if upd.Timeout != 0 {
		f.Timeout = upd.Timeout
	}
	if upd.Use != 0 {
		f.Use = upd.Use
	}
	if upd.ID != 0 {
		f.ID = upd.ID
	}
	f.ProtoInfo = mergeProtoInfo(f.ProtoInfo, upd.ProtoInfo)
	if upd.NAT.SNATAddr != nil {
		f.NAT.SNATAddr = upd.NAT.SNATAddr
	}
	if upd.NAT.DNATAddr != nil {
		f.NAT.DNATAddr = upd.NAT.DNATAddr
	}
	if upd.NAT.SPATPort != 0 {
		f.NAT.SPATPort = upd.NAT.SPATPort
	}
	if upd.NAT.DPATPort != 0 {
		f.NAT.DPATPort = upd.NAT.DPATPort
	}
	if upd.Helper != "" {
		f.Helper = upd.Helper
	}
	if upd.CountersOrig.Packets != 0 || upd.CountersOrig.Bytes != 0 {
		f.CountersOrig = upd.CountersOrig
	}
	if upd.CountersReply.Packets != 0 || upd.CountersReply.Bytes != 0 {
		f.CountersReply = upd.CountersReply
	}
}

func mergeProtoInfo(base, upd ProtoInfo) ProtoInfo {
	if upd.TCPState != 0 {
		base.TCPState = upd.TCPState
	}
	if upd.SCTPState != 0 {
		base.SCTPState = upd.SCTPState
	}
	if upd.DCCPState != 0 {
		base.DCCPState = upd.DCCPState
	}
	return base
}
