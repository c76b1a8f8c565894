// Package syncproto implements the sync wire protocol: sequencing,
// reliable delivery (ACK/NACK/RESYNC), the retransmit queue, and the
// three synchronization strategies (spec §4.5).
package syncproto

import "github.com/ctsyncd/ctsyncd/internal/flowobj"

// Before implements the protocol's wraparound-safe 32-bit sequence
// comparison: before(a,b) ≡ (int32)(a-b) < 0. Valid as long as
// outstanding windows stay well below 2^31, per spec §8.
func Before(a, b uint32) bool {
	return int32(a-b) < 0
}

// ProtocolVersion is re-exported for convenience so callers that only
// import syncproto don't also need flowobj for this one constant.
const ProtocolVersion = flowobj.ProtocolVersion
