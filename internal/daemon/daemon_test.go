package daemon

import (
	"testing"

	"github.com/ctsyncd/ctsyncd/internal/config"
	"github.com/ctsyncd/ctsyncd/internal/syncproto"
)

func TestStrategyFromConfig_MapsEachName(t *testing.T) {
	cases := []struct {
		name config.StrategyName
		want syncproto.Strategy
	}{
		{config.StrategyNoTrack, syncproto.StrategyNoTrack},
		{config.StrategyAlarm, syncproto.StrategyAlarm},
		{config.StrategyFTFW, syncproto.StrategyFTFW},
		{config.StrategyName("bogus"), syncproto.StrategyNoTrack},
	}
	for _, c := range cases {
		if got := strategyFromConfig(c.name); got != c.want {
			t.Fatalf("strategyFromConfig(%q) = %v, want %v", c.name, got, c.want)
		}
	}
}

func TestNewChannel_UnknownKindIsError(t *testing.T) {
	_, err := newChannel(config.ChannelConfig{Kind: config.ChannelKind("bogus")})
	if err == nil {
		t.Fatalf("expected an error for an unknown channel kind")
	}
}

func TestNewChannel_TCPListenModeRejectsUnresolvableAddress(t *testing.T) {
	_, err := newChannel(config.ChannelConfig{Kind: config.ChannelTCP, TCPListen: true, TCPAddress: "not-a-valid-address::::"})
	if err == nil {
		t.Fatalf("expected an error for an unresolvable tcp_listen address")
	}
}
