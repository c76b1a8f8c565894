package syncproto

// Strategy selects one of the three synchronization behaviors spec §4.5
// names: no-track (fire-and-forget), alarm (batched cumulative ACK) and
// ft-fw (immediate NACK on a detected gap).
type Strategy uint8

const (
	StrategyNoTrack Strategy = iota
	StrategyAlarm
	StrategyFTFW
)

func (s Strategy) String() string {
	switch s {
	case StrategyNoTrack:
		return "notrack"
	case StrategyAlarm:
		return "alarm"
	case StrategyFTFW:
		return "ftfw"
	default:
		return "unknown"
	}
}
