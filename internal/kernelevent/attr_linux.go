//go:build linux

package kernelevent

import (
	"encoding/binary"
	"net"

	"github.com/ctsyncd/ctsyncd/internal/flowobj"
	"github.com/ti-mo/netfilter"
)

// Conntrack netlink attribute ids (CTA_*), per linux/netfilter/nfnetlink_conntrack.h.
// ti-mo/netfilter carries the generic netlink/netfilter transport only;
// these attribute semantics are conntrack-specific and defined here, the
// same way linosgian-conntrack's own AttributeType enum does.
const (
	ctaTupleOrig     = 1
	ctaTupleReply    = 2
	ctaStatus        = 3
	ctaProtoInfo     = 4
	ctaHelp          = 5
	ctaTimeout       = 7
	ctaMark          = 8
	ctaCountersOrig  = 9
	ctaCountersReply = 10
	ctaUse           = 11
	ctaID            = 12
	ctaTupleMaster   = 14
	ctaSeqAdjOrig    = 15
	ctaSeqAdjReply   = 16
	ctaZone          = 18
	ctaSecCtx        = 19
	ctaLabels        = 22
	ctaLabelsMask    = 23
	ctaSynProxy      = 24

	// nested CTA_TUPLE_* children.
	ctaTupleIP    = 1
	ctaTupleProto = 2

	ctaIPv4Src = 1
	ctaIPv4Dst = 2
	ctaIPv6Src = 3
	ctaIPv6Dst = 4

	ctaProtoNum     = 1
	ctaProtoSrcPort = 2
	ctaProtoDstPort = 3
	ctaProtoICMPID  = 4
	ctaProtoICMPType = 5
	ctaProtoICMPCode = 6

	ctaProtoInfoTCP = 1
	ctaProtoInfoTCPState = 1

	ctaCountersPackets = 1
	ctaCountersBytes   = 2

	ctaSynProxyISN   = 1
	ctaSynProxyITS   = 2
	ctaSynProxyTSOff = 3
)

// decodeFlow translates a flat list of top-level conntrack attributes
// (as returned by netfilter.UnmarshalNetlink) into a flowobj.Flow. Only
// the fields the sync protocol and track mode need are populated;
// unrecognized attributes are ignored rather than rejected, since the
// kernel periodically adds new optional attributes this daemon has no
// use for.
func decodeFlow(attrs []netfilter.Attribute) (*flowobj.Flow, error) {
	var f flowobj.Flow
	for _, a := range attrs {
		switch a.Type {
		case ctaTupleOrig:
			decodeTuple(a.Children, &f.TupleOrig, &f.Family)
		case ctaTupleReply:
			decodeTuple(a.Children, &f.TupleReply, nil)
		case ctaTupleMaster:
			decodeTuple(a.Children, &f.TupleMaster, nil)
			f.HasMaster = true
		case ctaStatus:
			f.Status = beUint32(a.Data)
		case ctaMark:
			f.Mark = beUint32(a.Data)
		case ctaTimeout:
			f.Timeout = beUint32(a.Data)
		case ctaUse:
			f.Use = beUint32(a.Data)
		case ctaID:
			f.ID = beUint32(a.Data)
		case ctaZone:
			f.Zone = beUint16(a.Data)
		case ctaHelp:
			f.Helper = decodeHelperName(a.Data)
		case ctaLabels:
			f.Labels = append([]byte(nil), a.Data...)
		case ctaLabelsMask:
			f.LabelsMask = append([]byte(nil), a.Data...)
		case ctaSecCtx:
			f.SecurityContext = decodeHelperName(a.Data)
		case ctaCountersOrig:
			f.CountersOrig = decodeCounter(a.Children)
		case ctaCountersReply:
			f.CountersReply = decodeCounter(a.Children)
		case ctaProtoInfo:
			f.ProtoInfo = decodeProtoInfo(a.Children)
		case ctaSynProxy:
			f.SynProxy = decodeSynProxy(a.Children)
		}
	}
	return &f, nil
}

func decodeTuple(children []netfilter.Attribute, t *flowobj.Tuple, family *flowobj.Family) {
	for _, c := range children {
		switch c.Type {
		case ctaTupleIP:
			decodeIP(c.Children, t, family)
		case ctaTupleProto:
			decodeProto(c.Children, t)
		}
	}
}

func decodeIP(children []netfilter.Attribute, t *flowobj.Tuple, family *flowobj.Family) {
	for _, c := range children {
		switch c.Type {
		case ctaIPv4Src:
			t.Src = net.IP(append([]byte(nil), c.Data...))
			if family != nil {
				*family = flowobj.FamilyIPv4
			}
		case ctaIPv4Dst:
			t.Dst = net.IP(append([]byte(nil), c.Data...))
		}
		if len(c.Data) == 16 {
			switch c.Type {
			case ctaIPv6Src:
				t.Src = net.IP(append([]byte(nil), c.Data...))
				if family != nil {
					*family = flowobj.FamilyIPv6
				}
			case ctaIPv6Dst:
				t.Dst = net.IP(append([]byte(nil), c.Data...))
			}
		}
	}
}

func decodeProto(children []netfilter.Attribute, t *flowobj.Tuple) {
	for _, c := range children {
		switch c.Type {
		case ctaProtoNum:
			if len(c.Data) > 0 {
				t.Proto = c.Data[0]
			}
		case ctaProtoSrcPort:
			t.Port.SourcePort = beUint16(c.Data)
		case ctaProtoDstPort:
			t.Port.DestPort = beUint16(c.Data)
		case ctaProtoICMPID:
			t.Port.ICMPID = beUint16(c.Data)
		case ctaProtoICMPType:
			if len(c.Data) > 0 {
				t.Port.ICMPType = c.Data[0]
			}
		case ctaProtoICMPCode:
			if len(c.Data) > 0 {
				t.Port.ICMPCode = c.Data[0]
			}
		}
	}
}

func decodeCounter(children []netfilter.Attribute) flowobj.Counter {
	var c flowobj.Counter
	for _, a := range children {
		switch a.Type {
		case ctaCountersPackets:
			c.Packets = beUint64(a.Data)
		case ctaCountersBytes:
			c.Bytes = beUint64(a.Data)
		}
	}
	return c
}

func decodeProtoInfo(children []netfilter.Attribute) flowobj.ProtoInfo {
	var p flowobj.ProtoInfo
	for _, a := range children {
		if a.Type != ctaProtoInfoTCP {
			continue
		}
		for _, tc := range a.Children {
			if tc.Type == ctaProtoInfoTCPState && len(tc.Data) > 0 {
				p.TCPState = flowobj.TCPState(tc.Data[0])
			}
		}
	}
	return p
}

func decodeSynProxy(children []netfilter.Attribute) flowobj.SynProxy {
	var sp flowobj.SynProxy
	for _, a := range children {
		switch a.Type {
		case ctaSynProxyISN:
			sp.ISN = beUint32(a.Data)
		case ctaSynProxyITS:
			sp.ITS = beUint32(a.Data)
		case ctaSynProxyTSOff:
			sp.TSOff = beUint32(a.Data)
		}
	}
	return sp
}

func decodeHelperName(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}

func beUint16(b []byte) uint16 {
	if len(b) < 2 {
		return 0
	}
	return binary.BigEndian.Uint16(b)
}

func beUint32(b []byte) uint32 {
	if len(b) < 4 {
		return 0
	}
	return binary.BigEndian.Uint32(b)
}

func beUint64(b []byte) uint64 {
	if len(b) < 8 {
		return 0
	}
	return binary.BigEndian.Uint64(b)
}

// encodeTupleAttrs builds the CTA_TUPLE_ORIG attribute group used for a
// kernel GET query: family, protocol and the original-direction tuple
// are enough to identify a unique conntrack entry.
func encodeTupleAttrs(f *flowobj.Flow) []netfilter.Attribute {
	var ipChildren []netfilter.Attribute
	if f.Family == flowobj.FamilyIPv6 {
		ipChildren = []netfilter.Attribute{
			{Type: ctaIPv6Src, Data: f.TupleOrig.Src.To16()},
			{Type: ctaIPv6Dst, Data: f.TupleOrig.Dst.To16()},
		}
	} else {
		ipChildren = []netfilter.Attribute{
			{Type: ctaIPv4Src, Data: f.TupleOrig.Src.To4()},
			{Type: ctaIPv4Dst, Data: f.TupleOrig.Dst.To4()},
		}
	}

	protoChildren := []netfilter.Attribute{
		{Type: ctaProtoNum, Data: []byte{f.TupleOrig.Proto}},
	}
	if f.TupleOrig.Proto == 6 || f.TupleOrig.Proto == 17 {
		protoChildren = append(protoChildren,
			netfilter.Attribute{Type: ctaProtoSrcPort, Data: be16(f.TupleOrig.Port.SourcePort)},
			netfilter.Attribute{Type: ctaProtoDstPort, Data: be16(f.TupleOrig.Port.DestPort)},
		)
	}

	return []netfilter.Attribute{
		{
			Type: ctaTupleOrig,
			Children: []netfilter.Attribute{
				{Type: ctaTupleIP, Children: ipChildren},
				{Type: ctaTupleProto, Children: protoChildren},
			},
		},
	}
}

func be16(v uint16) []byte {
	b := make([]byte, 2)
	binary.BigEndian.PutUint16(b, v)
	return b
}
