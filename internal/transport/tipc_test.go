//go:build linux

package transport

import "testing"

// AF_TIPC requires the tipc kernel module; skip rather than fail when
// it's unavailable, matching the accommodation the multicast test makes.
func TestTIPC_OpenAndClose(t *testing.T) {
	cfg := TIPCConf{
		ClientType: 100, ClientInstance: 1,
		ServerType: 100, ServerInstance: 1,
	}
	tp, err := NewTIPC(cfg)
	if err != nil {
		t.Skipf("AF_TIPC unavailable in this environment: %v", err)
	}
	defer tp.Close()

	if tp.FD() < 0 {
		t.Fatalf("FD() = %d, want >= 0", tp.FD())
	}
	if err := tp.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := tp.Close(); err != nil {
		t.Fatalf("second Close returned error: %v", err)
	}
}
