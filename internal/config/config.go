// Package config parses the daemon's TOML configuration file into the
// values the rest of the packages need to construct themselves: channel
// selection, sync strategy, track-mode/poll-mode selection, protocol
// timing, and the control socket path.
package config

import (
	"fmt"
	"net"
	"time"

	"github.com/BurntSushi/toml"
)

// ChannelKind selects the transport implementation.
type ChannelKind string

const (
	ChannelMulticast ChannelKind = "multicast"
	ChannelTCP       ChannelKind = "tcp"
	ChannelTIPC      ChannelKind = "tipc"
)

// StrategyName selects the sync protocol strategy.
type StrategyName string

const (
	StrategyNoTrack StrategyName = "notrack"
	StrategyAlarm   StrategyName = "alarm"
	StrategyFTFW    StrategyName = "ftfw"
)

// Config is the daemon's running configuration, unmarshaled directly
// from TOML via struct tags, in the same "one struct per section, toml
// tags match the file verbatim" shape as every other config in the pack.
type Config struct {
	Main    MainConfig    `toml:"main"`
	Channel ChannelConfig `toml:"channel"`
	Sync    SyncConfig    `toml:"sync"`
	Track   TrackConfig   `toml:"track"`
	Control ControlConfig `toml:"control"`
	Metrics MetricsConfig `toml:"metrics"`
}

// MainConfig carries general daemon settings.
type MainConfig struct {
	// NetlinkBufferSize sizes the kernel event socket's receive buffer,
	// and feeds track mode's divergence-check tolerance
	// (netlink_buffer_size / 160).
	NetlinkBufferSize int `toml:"netlink_buffer_size"`
}

// ChannelConfig selects and configures the transport.
type ChannelConfig struct {
	Kind ChannelKind `toml:"kind"`

	// Multicast fields.
	McastGroup     string `toml:"mcast_group"`
	McastPort      int    `toml:"mcast_port"`
	McastInterface string `toml:"mcast_interface"`
	McastTTL       int    `toml:"mcast_ttl"`

	// TCP fields.
	TCPAddress string `toml:"tcp_address"`
	TCPListen  bool   `toml:"tcp_listen"`

	// TIPC fields.
	TIPCType     uint32 `toml:"tipc_type"`
	TIPCInstance uint32 `toml:"tipc_instance"`
}

// SyncConfig configures the sync protocol.
type SyncConfig struct {
	Strategy          StrategyName `toml:"strategy"`
	HelloIntervalSecs int          `toml:"hello_interval_secs"`
	AckWindowSecs     int          `toml:"ack_window_secs"`
	RetransmitWindow  int          `toml:"retransmit_window"`
}

// HelloInterval returns Sync.HelloIntervalSecs as a Duration.
func (s SyncConfig) HelloInterval() time.Duration {
	return time.Duration(s.HelloIntervalSecs) * time.Second
}

// AckWindow returns Sync.AckWindowSecs as a Duration.
func (s SyncConfig) AckWindow() time.Duration {
	return time.Duration(s.AckWindowSecs) * time.Second
}

// TrackConfig selects track mode's reconciliation strategy:
// event-reliable (Track=true) or periodic poll (PollSecs>0). These are
// mutually exclusive per spec §4.7.
type TrackConfig struct {
	Track    bool `toml:"track"`
	PollSecs int  `toml:"poll_secs"`
}

// ControlConfig configures the local admin UNIX datagram socket.
type ControlConfig struct {
	SocketPath string `toml:"socket_path"`
}

// MetricsConfig configures the Prometheus HTTP exporter.
type MetricsConfig struct {
	ListenAddress string `toml:"listen_address"`
}

// ConfigError reports a fatal, startup-time configuration problem: an
// unparseable file or an invalid combination of otherwise-valid values.
type ConfigError struct {
	Reason string
}

func (e *ConfigError) Error() string { return "config: " + e.Reason }

// Load reads and validates the TOML file at path.
func Load(path string) (*Config, error) {
	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, &ConfigError{Reason: fmt.Sprintf("parsing %s: %v", path, err)}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks cross-field invariants that TOML's own decoding can't
// express: the Track/PollSecs mutual exclusion, channel/strategy name
// validity, and the fields each selected channel kind requires.
func (c *Config) Validate() error {
	if c.Track.Track && c.Track.PollSecs > 0 {
		return &ConfigError{Reason: "track and poll_secs are mutually exclusive: track mode requires event-reliable netlink, not poll mode"}
	}

	switch c.Sync.Strategy {
	case StrategyNoTrack, StrategyAlarm, StrategyFTFW:
	default:
		return &ConfigError{Reason: fmt.Sprintf("sync.strategy %q is not one of notrack, alarm, ftfw", c.Sync.Strategy)}
	}

	switch c.Channel.Kind {
	case ChannelMulticast:
		if net.ParseIP(c.Channel.McastGroup) == nil {
			return &ConfigError{Reason: fmt.Sprintf("channel.mcast_group %q is not a valid IP address", c.Channel.McastGroup)}
		}
		if c.Channel.McastPort <= 0 {
			return &ConfigError{Reason: "channel.mcast_port must be set for a multicast channel"}
		}
	case ChannelTCP:
		if c.Channel.TCPAddress == "" {
			return &ConfigError{Reason: "channel.tcp_address must be set for a tcp channel"}
		}
	case ChannelTIPC:
		if c.Channel.TIPCType == 0 {
			return &ConfigError{Reason: "channel.tipc_type must be set for a tipc channel"}
		}
	default:
		return &ConfigError{Reason: fmt.Sprintf("channel.kind %q is not one of multicast, tcp, tipc", c.Channel.Kind)}
	}

	if c.Control.SocketPath == "" {
		return &ConfigError{Reason: "control.socket_path must be set"}
	}

	return nil
}
