package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTemp(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ctsyncd.toml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

const validMulticastConfig = `
[main]
netlink_buffer_size = 16000

[channel]
kind = "multicast"
mcast_group = "239.1.1.1"
mcast_port = 3780

[sync]
strategy = "alarm"
hello_interval_secs = 5
ack_window_secs = 2
retransmit_window = 64

[track]
track = true

[control]
socket_path = "/run/ctsyncd.sock"

[metrics]
listen_address = ":9600"
`

func TestLoad_ValidConfigParsesAndValidates(t *testing.T) {
	path := writeTemp(t, validMulticastConfig)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Channel.Kind != ChannelMulticast {
		t.Fatalf("Channel.Kind = %q, want multicast", cfg.Channel.Kind)
	}
	if cfg.Sync.HelloInterval().Seconds() != 5 {
		t.Fatalf("HelloInterval() = %v, want 5s", cfg.Sync.HelloInterval())
	}
	if cfg.Sync.AckWindow().Seconds() != 2 {
		t.Fatalf("AckWindow() = %v, want 2s", cfg.Sync.AckWindow())
	}
}

func TestLoad_UnparseableFileIsConfigError(t *testing.T) {
	path := writeTemp(t, "this is not [ valid toml")

	_, err := Load(path)
	if err == nil {
		t.Fatalf("Load: want error for malformed TOML")
	}
	var cerr *ConfigError
	if !asConfigError(err, &cerr) {
		t.Fatalf("Load error is not a *ConfigError: %v (%T)", err, err)
	}
}

func TestValidate_TrackAndPollSecsAreMutuallyExclusive(t *testing.T) {
	cfg := baseValidConfig()
	cfg.Track.Track = true
	cfg.Track.PollSecs = 10

	err := cfg.Validate()
	if err == nil {
		t.Fatalf("Validate: want error for track+poll_secs combination")
	}
}

func TestValidate_UnknownStrategyIsRejected(t *testing.T) {
	cfg := baseValidConfig()
	cfg.Sync.Strategy = "bogus"

	if err := cfg.Validate(); err == nil {
		t.Fatalf("Validate: want error for unknown strategy")
	}
}

func TestValidate_MulticastRequiresGroupAndPort(t *testing.T) {
	cfg := baseValidConfig()
	cfg.Channel.McastGroup = "not-an-ip"

	if err := cfg.Validate(); err == nil {
		t.Fatalf("Validate: want error for invalid mcast_group")
	}
}

func TestValidate_TCPRequiresAddress(t *testing.T) {
	cfg := baseValidConfig()
	cfg.Channel.Kind = ChannelTCP
	cfg.Channel.TCPAddress = ""

	if err := cfg.Validate(); err == nil {
		t.Fatalf("Validate: want error for missing tcp_address")
	}
}

func TestValidate_MissingControlSocketPathIsRejected(t *testing.T) {
	cfg := baseValidConfig()
	cfg.Control.SocketPath = ""

	if err := cfg.Validate(); err == nil {
		t.Fatalf("Validate: want error for missing control.socket_path")
	}
}

func baseValidConfig() *Config {
	return &Config{
		Channel: ChannelConfig{Kind: ChannelMulticast, McastGroup: "239.1.1.1", McastPort: 3780},
		Sync:    SyncConfig{Strategy: StrategyAlarm},
		Control: ControlConfig{SocketPath: "/run/ctsyncd.sock"},
	}
}

func asConfigError(err error, target **ConfigError) bool {
	if cerr, ok := err.(*ConfigError); ok {
		*target = cerr
		return true
	}
	return false
}
