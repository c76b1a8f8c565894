package dissect

import (
	"net"
	"testing"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

func buildUDPFrame(t *testing.T, srcPort, dstPort uint16, payload []byte) []byte {
	t.Helper()
	eth := &layers.Ethernet{
		SrcMAC:       net.HardwareAddr{0, 1, 2, 3, 4, 5},
		DstMAC:       net.HardwareAddr{6, 7, 8, 9, 10, 11},
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := &layers.IPv4{
		Version:  4,
		TTL:      64,
		Protocol: layers.IPProtocolUDP,
		SrcIP:    net.ParseIP("10.0.0.1").To4(),
		DstIP:    net.ParseIP("10.0.0.2").To4(),
	}
	udp := &layers.UDP{
		SrcPort: layers.UDPPort(srcPort),
		DstPort: layers.UDPPort(dstPort),
	}
	if err := udp.SetNetworkLayerForChecksum(ip); err != nil {
		t.Fatalf("SetNetworkLayerForChecksum: %v", err)
	}

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{ComputeChecksums: true, FixLengths: true}
	if err := gopacket.SerializeLayers(buf, opts, eth, ip, udp, gopacket.Payload(payload)); err != nil {
		t.Fatalf("SerializeLayers: %v", err)
	}
	return buf.Bytes()
}

func TestExtractSyncPayload_AcceptsEitherPortMatching(t *testing.T) {
	payload := []byte("hello-sync")

	frame := buildUDPFrame(t, 40000, SyncPort, payload)
	got, err := ExtractSyncPayload(frame)
	if err != nil {
		t.Fatalf("ExtractSyncPayload (dst match): %v", err)
	}
	if string(got) != string(payload) {
		t.Fatalf("payload = %q, want %q", got, payload)
	}

	frame = buildUDPFrame(t, SyncPort, 40000, payload)
	got, err = ExtractSyncPayload(frame)
	if err != nil {
		t.Fatalf("ExtractSyncPayload (src match): %v", err)
	}
	if string(got) != string(payload) {
		t.Fatalf("payload = %q, want %q", got, payload)
	}
}

func TestExtractSyncPayload_RejectsUnrelatedPort(t *testing.T) {
	frame := buildUDPFrame(t, 9999, 8888, []byte("noise"))
	if _, err := ExtractSyncPayload(frame); err != ErrUnsupportedL4 {
		t.Fatalf("err = %v, want ErrUnsupportedL4", err)
	}
}

// TestExtractSyncPayload_TrimsEthernetPadding covers a frame short enough
// that the capture link pads it out to Ethernet's 60-byte minimum: the
// returned payload must match the IP-declared length, not include the
// trailing zero padding bytes a real capture would add.
func TestExtractSyncPayload_TrimsEthernetPadding(t *testing.T) {
	payload := []byte("hi")
	frame := buildUDPFrame(t, 40000, SyncPort, payload)
	if len(frame) >= 60 {
		t.Fatalf("test frame is %d bytes, want < 60 before padding", len(frame))
	}

	padded := make([]byte, 60)
	copy(padded, frame)

	got, err := ExtractSyncPayload(padded)
	if err != nil {
		t.Fatalf("ExtractSyncPayload (padded frame): %v", err)
	}
	if string(got) != string(payload) {
		t.Fatalf("payload = %q, want %q (padding must be trimmed)", got, payload)
	}
}
