package control

import (
	"io"
	"net"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ctsyncd/ctsyncd/internal/cache"
	"github.com/ctsyncd/ctsyncd/internal/flowobj"
)

func testFlow(srcPort uint16) *flowobj.Flow {
	f := flowobj.NewFlow(flowobj.FamilyIPv4, 6, 1,
		net.ParseIP("10.5.5.1").To4(), net.ParseIP("10.5.5.2").To4(), srcPort, 80, 90, 0)
	return &f
}

func roundTrip(t *testing.T, socketPath string, cmd Command) string {
	t.Helper()
	clientAddr, err := net.ResolveUnixAddr("unixgram", socketPath+".client")
	if err != nil {
		t.Fatalf("ResolveUnixAddr: %v", err)
	}
	client, err := net.ListenUnixgram("unixgram", clientAddr)
	if err != nil {
		t.Fatalf("ListenUnixgram (client): %v", err)
	}
	defer client.Close()

	serverAddr, err := net.ResolveUnixAddr("unixgram", socketPath)
	if err != nil {
		t.Fatalf("ResolveUnixAddr (server): %v", err)
	}
	if _, err := client.WriteToUnix([]byte{byte(cmd)}, serverAddr); err != nil {
		t.Fatalf("WriteToUnix: %v", err)
	}

	buf := make([]byte, 4096)
	_ = client.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, err := client.Read(buf)
	if err != nil {
		t.Fatalf("Read reply: %v", err)
	}
	return string(buf[:n])
}

func TestServer_DumpInternalReturnsTextualDump(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ctsyncd.sock")
	c := cache.New("internal", cache.KindCT, cache.ExtraOps{})
	if _, err := c.Add(testFlow(1111), 1); err != nil {
		t.Fatalf("Add: %v", err)
	}

	srv, err := NewServer(path, c, nil, nil, nil)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	defer srv.Close()

	go func() {
		if err := srv.ServeOne(); err != nil {
			t.Errorf("ServeOne: %v", err)
		}
	}()

	resp := roundTrip(t, path, CmdDumpInternal)
	if !strings.Contains(resp, "10.5.5.1") {
		t.Fatalf("dump response missing flow source address: %q", resp)
	}
}

func TestServer_FlushInternalCacheEmptiesCache(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ctsyncd.sock")
	c := cache.New("internal", cache.KindCT, cache.ExtraOps{})
	if _, err := c.Add(testFlow(2222), 2); err != nil {
		t.Fatalf("Add: %v", err)
	}

	srv, err := NewServer(path, c, nil, nil, nil)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	defer srv.Close()

	go func() {
		if err := srv.ServeOne(); err != nil {
			t.Errorf("ServeOne: %v", err)
		}
	}()

	resp := roundTrip(t, path, CmdFlushInternalCache)
	if !strings.Contains(resp, "OK") {
		t.Fatalf("flush response = %q, want an OK acknowledgement", resp)
	}
	if c.Stats().Active != 0 {
		t.Fatalf("cache still has %d active entries after flush", c.Stats().Active)
	}
}

func TestServer_KillInvokesCallback(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ctsyncd.sock")
	c := cache.New("internal", cache.KindCT, cache.ExtraOps{})
	killed := make(chan struct{})

	srv, err := NewServer(path, c, nil, func() { close(killed) }, nil)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	defer srv.Close()

	go func() {
		if err := srv.ServeOne(); err != nil {
			t.Errorf("ServeOne: %v", err)
		}
	}()

	roundTrip(t, path, CmdKill)

	select {
	case <-killed:
	case <-time.After(2 * time.Second):
		t.Fatalf("kill callback was not invoked")
	}
}

func TestServer_StatsIncludesCacheCounters(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ctsyncd.sock")
	c := cache.New("internal", cache.KindCT, cache.ExtraOps{})
	if _, err := c.Add(testFlow(3333), 3); err != nil {
		t.Fatalf("Add: %v", err)
	}

	srv, err := NewServer(path, c, nil, nil, func(w io.Writer) {
		_, _ = w.Write([]byte("traffic: 0 bytes\n"))
	})
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	defer srv.Close()

	go func() {
		if err := srv.ServeOne(); err != nil {
			t.Errorf("ServeOne: %v", err)
		}
	}()

	resp := roundTrip(t, path, CmdStats)
	if !strings.Contains(resp, "active=1") {
		t.Fatalf("stats response missing active count: %q", resp)
	}
	if !strings.Contains(resp, "traffic:") {
		t.Fatalf("stats response missing traffic writer output: %q", resp)
	}
}
