package dissect

// Stats accumulates the dissector's run-level counters, mirroring the
// original test harness's sync_test_stats fields.
type Stats struct {
	Packets uint32
	Errors  uint32
	Skip    uint32

	L3Unsupported uint32
	L4Unsupported uint32
	L3Malformed   uint32
	L4Malformed   uint32
	VersionOld    uint32
}

// RecordPacketError increments Skip plus the matching unsupported/
// malformed counter for err, as returned by ExtractSyncPayload.
func (s *Stats) RecordPacketError(err error) {
	s.Skip++
	switch err {
	case ErrUnsupportedL3:
		s.L3Unsupported++
	case ErrUnsupportedL4:
		s.L4Unsupported++
	}
}

// RecordMessageErrors increments Errors by len(errs), the per-message
// framing/decode failures the Framer reported for one packet.
func (s *Stats) RecordMessageErrors(errs []error) {
	s.Errors += uint32(len(errs))
}
