//go:build linux

package transport

import (
	"sync"
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/unix"
)

// TIPC address-family and per-socket constants, from linux/tipc.h.
// golang.org/x/sys/unix has no typed Sockaddr for AF_TIPC (it only
// implements the Sockaddr interface for address families the Go runtime
// itself needs), so the daemon builds and parses struct sockaddr_tipc by
// hand and drives bind/sendto/recvfrom through raw syscalls, exactly as
// original_source's tipc.c does through the libc equivalents.
const (
	afTIPC = 30

	tipcAddrNameSeq = 1
	tipcAddrName    = 2
	tipcAddrID      = 3

	tipcZoneScope    = 1
	tipcClusterScope = 2
	tipcNodeScope    = 3

	solTIPC       = 271
	tipcImportance = 127
)

// rawSockaddrTIPCName is struct sockaddr_tipc with addrtype TIPC_ADDR_NAME:
// family(2) addrtype(1) scope(1) type(4) instance(4) domain(4), followed
// by 12 unused padding bytes (28 bytes total).
type rawSockaddrTIPCName struct {
	Family   uint16
	Addrtype uint8
	Scope    int8
	Type     uint32
	Instance uint32
	Domain   uint32
	_        [12]byte // unused padding
}

// TIPCConf names the (type, instance) pair a TIPC client publishes to and
// a TIPC server binds as, mirroring struct tipc_conf.
type TIPCConf struct {
	ClientType, ClientInstance uint32
	ServerType, ServerInstance uint32
	Importance                 int
}

// TIPC is a channel over two AF_TIPC SOCK_RDM sockets: a client socket
// used to send (addressed to the peer's published name) and a server
// socket bound to this host's own published name, used to receive.
// Grounded directly on original_source's channel_tipc.c/tipc.c.
type TIPC struct {
	clientFD, serverFD int
	dst                rawSockaddrTIPCName

	mu     sync.Mutex
	stats  Stats
	closed atomic.Bool
}

// NewTIPC opens the client and server sockets per cfg.
func NewTIPC(cfg TIPCConf) (*TIPC, error) {
	clientFD, err := unix.Socket(afTIPC, unix.SOCK_RDM, 0)
	if err != nil {
		return nil, err
	}
	if cfg.Importance != 0 {
		_ = setsockoptInt(clientFD, solTIPC, tipcImportance, cfg.Importance)
	}

	serverFD, err := unix.Socket(afTIPC, unix.SOCK_RDM, 0)
	if err != nil {
		unix.Close(clientFD)
		return nil, err
	}
	serverAddr := rawSockaddrTIPCName{
		Family:   afTIPC,
		Addrtype: tipcAddrName,
		Scope:    tipcClusterScope,
		Type:     cfg.ServerType,
		Instance: cfg.ServerInstance,
	}
	if err := bindRaw(serverFD, &serverAddr); err != nil {
		unix.Close(clientFD)
		unix.Close(serverFD)
		return nil, err
	}
	if err := unix.SetNonblock(serverFD, true); err != nil {
		unix.Close(clientFD)
		unix.Close(serverFD)
		return nil, err
	}

	return &TIPC{
		clientFD: clientFD,
		serverFD: serverFD,
		dst: rawSockaddrTIPCName{
			Family:   afTIPC,
			Addrtype: tipcAddrName,
			Scope:    tipcClusterScope,
			Type:     cfg.ClientType,
			Instance: cfg.ClientInstance,
		},
	}, nil
}

func bindRaw(fd int, addr *rawSockaddrTIPCName) error {
	_, _, errno := unix.Syscall(unix.SYS_BIND, uintptr(fd), uintptr(unsafe.Pointer(addr)), unsafe.Sizeof(*addr))
	if errno != 0 {
		return errno
	}
	return nil
}

func setsockoptInt(fd, level, opt, value int) error {
	return unix.SetsockoptInt(fd, level, opt, value)
}

func (t *TIPC) Send(buf []byte) (int, error) {
	if t.closed.Load() {
		return 0, ErrClosed
	}
	var base unsafe.Pointer
	if len(buf) > 0 {
		base = unsafe.Pointer(&buf[0])
	}
	t.mu.Lock()
	n, _, errno := unix.Syscall6(unix.SYS_SENDTO, uintptr(t.clientFD), uintptr(base), uintptr(len(buf)), 0,
		uintptr(unsafe.Pointer(&t.dst)), unsafe.Sizeof(t.dst))
	t.mu.Unlock()
	if errno != 0 {
		atomic.AddUint64(&t.stats.Errors, 1)
		return 0, errno
	}
	atomic.AddUint64(&t.stats.SentMessages, 1)
	atomic.AddUint64(&t.stats.SentBytes, uint64(n))
	return int(n), nil
}

func (t *TIPC) Recv(buf []byte) (int, error) {
	if t.closed.Load() {
		return 0, ErrClosed
	}
	var base unsafe.Pointer
	if len(buf) > 0 {
		base = unsafe.Pointer(&buf[0])
	}
	var from rawSockaddrTIPCName
	fromLen := unsafe.Sizeof(from)
	n, _, errno := unix.Syscall6(unix.SYS_RECVFROM, uintptr(t.serverFD), uintptr(base), uintptr(len(buf)), 0,
		uintptr(unsafe.Pointer(&from)), uintptr(unsafe.Pointer(&fromLen)))
	if errno != 0 {
		atomic.AddUint64(&t.stats.Errors, 1)
		return 0, errno
	}
	atomic.AddUint64(&t.stats.RecvMessages, 1)
	atomic.AddUint64(&t.stats.RecvBytes, uint64(n))
	return int(n), nil
}

// FD returns the server (receive) socket, the one the event loop polls.
func (t *TIPC) FD() int { return t.serverFD }

func (t *TIPC) Stats() Stats {
	return Stats{
		SentMessages: atomic.LoadUint64(&t.stats.SentMessages),
		SentBytes:    atomic.LoadUint64(&t.stats.SentBytes),
		RecvMessages: atomic.LoadUint64(&t.stats.RecvMessages),
		RecvBytes:    atomic.LoadUint64(&t.stats.RecvBytes),
		Errors:       atomic.LoadUint64(&t.stats.Errors),
	}
}

func (t *TIPC) Close() error {
	if t.closed.Swap(true) {
		return nil
	}
	unix.Close(t.clientFD)
	return unix.Close(t.serverFD)
}
