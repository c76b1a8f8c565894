package dissect

import (
	"errors"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

// SyncPort is the sync protocol's well-known port. ExtractSyncPayload
// accepts a TCP or UDP segment only when one of its ports is SyncPort.
const SyncPort = 3780

var (
	// ErrUnsupportedL3 is reported when a captured frame carries neither
	// IPv4 nor IPv6 (or the network layer is otherwise malformed).
	ErrUnsupportedL3 = errors.New("dissect: unsupported or malformed network layer")
	// ErrUnsupportedL4 is reported when a captured frame carries neither
	// TCP nor UDP, or carries one but addressed to neither side of the
	// sync port.
	ErrUnsupportedL4 = errors.New("dissect: unsupported or malformed transport layer")
)

// ExtractSyncPayload decodes one captured Ethernet frame and returns the
// payload of its TCP or UDP segment, provided that segment is addressed
// to or from SyncPort.
//
// The C dissector this is modeled on has a dangling-if bug in its TCP
// branch: `if (dest != 3780 && source != 3780) stats.skip++; return -1;`
// returns unconditionally, discarding every TCP packet regardless of
// port. The evident intent — matching the UDP branch two cases above it
// — is to accept a segment when EITHER port matches and reject only when
// NEITHER does; that's the behavior implemented here.
func ExtractSyncPayload(frame []byte) ([]byte, error) {
	packet := gopacket.NewPacket(frame, layers.LayerTypeEthernet, gopacket.NoCopy)

	if packet.Layer(layers.LayerTypeIPv4) == nil && packet.Layer(layers.LayerTypeIPv6) == nil {
		return nil, ErrUnsupportedL3
	}

	if udp := packet.Layer(layers.LayerTypeUDP); udp != nil {
		t := udp.(*layers.UDP)
		if t.DstPort != SyncPort && t.SrcPort != SyncPort {
			return nil, ErrUnsupportedL4
		}
		return t.Payload, nil
	}

	if tcp := packet.Layer(layers.LayerTypeTCP); tcp != nil {
		t := tcp.(*layers.TCP)
		if t.DstPort != SyncPort && t.SrcPort != SyncPort {
			return nil, ErrUnsupportedL4
		}
		return t.Payload, nil
	}

	return nil, ErrUnsupportedL4
}
