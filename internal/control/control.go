// Package control implements the daemon's local admin interface: a UNIX
// datagram socket accepting single-byte command codes and writing a
// human-readable text response back to the caller, per spec §6's
// CT_DUMP_INTERNAL/CT_DUMP_INT_XML/CT_FLUSH_CACHE/CT_FLUSH_INT_CACHE/
// KILL/STATS/STATS_CACHE command set.
package control

import (
	"bytes"
	"fmt"
	"io"
	"net"
	"os"

	"github.com/ctsyncd/ctsyncd/internal/cache"
)

// Command is one of the local control socket's request codes.
type Command byte

const (
	CmdDumpInternal Command = iota + 1
	CmdDumpInternalXML
	CmdFlushCache
	CmdFlushInternalCache
	CmdKill
	CmdStats
	CmdStatsCache
)

// Server is the local control socket: a bound UNIX datagram endpoint
// dispatching each inbound command to the internal (and, for a full
// replication daemon, external) cache plus a caller-supplied kill hook
// and traffic-stats writer. It performs no I/O of its own beyond
// reading one datagram and writing one reply per ServeOne call, so it
// composes with internal/eventloop the same way internal/transport's
// channels do: FD() is registered for readiness, and ServeOne runs from
// the loop's callback, never blocking.
type Server struct {
	path     string
	conn     *net.UnixConn
	internal *cache.Cache
	external *cache.Cache // nil if this daemon has no external (replica) cache
	kill     func()
	traffic  func(w io.Writer) // optional extra counters for STATS (channel/sync stats)
}

// NewServer binds a UNIX datagram socket at path, removing any stale
// socket file left behind by a prior run. external and traffic may be
// nil.
func NewServer(path string, internal, external *cache.Cache, kill func(), traffic func(w io.Writer)) (*Server, error) {
	_ = os.Remove(path)
	addr, err := net.ResolveUnixAddr("unixgram", path)
	if err != nil {
		return nil, fmt.Errorf("control: resolving %s: %w", path, err)
	}
	conn, err := net.ListenUnixgram("unixgram", addr)
	if err != nil {
		return nil, fmt.Errorf("control: binding %s: %w", path, err)
	}
	return &Server{path: path, conn: conn, internal: internal, external: external, kill: kill, traffic: traffic}, nil
}

// FD returns the control socket's file descriptor, for registration
// with the event loop's poller.
func (s *Server) FD() int {
	raw, err := s.conn.SyscallConn()
	if err != nil {
		return -1
	}
	fd := -1
	if err := raw.Control(func(f uintptr) { fd = int(f) }); err != nil {
		return -1
	}
	return fd
}

// Close releases the socket and removes the bound path.
func (s *Server) Close() error {
	err := s.conn.Close()
	_ = os.Remove(s.path)
	return err
}

// ServeOne reads one pending command datagram and writes its response
// back to the sender, per spec's "responses are human-readable text
// written back to the caller's fd".
func (s *Server) ServeOne() error {
	buf := make([]byte, 1)
	n, addr, err := s.conn.ReadFromUnix(buf)
	if err != nil {
		return err
	}
	if n == 0 {
		return nil
	}

	var out bytes.Buffer
	s.dispatch(Command(buf[0]), &out)

	if out.Len() > 0 && addr != nil {
		_, err = s.conn.WriteToUnix(out.Bytes(), addr)
	}
	return err
}

func (s *Server) dispatch(cmd Command, out *bytes.Buffer) {
	switch cmd {
	case CmdDumpInternal:
		s.dump(out, s.internal, cache.FormatText)
	case CmdDumpInternalXML:
		s.dump(out, s.internal, cache.FormatXML)
	case CmdFlushCache:
		if s.external != nil {
			s.external.Flush()
		} else {
			s.internal.Flush()
		}
		fmt.Fprintln(out, "OK: cache flushed")
	case CmdFlushInternalCache:
		if s.internal != nil {
			s.internal.Flush()
		}
		fmt.Fprintln(out, "OK: internal cache flushed")
	case CmdKill:
		fmt.Fprintln(out, "OK: shutting down")
		if s.kill != nil {
			s.kill()
		}
	case CmdStats:
		s.writeStats(out, s.internal)
		if s.traffic != nil {
			s.traffic(out)
		}
	case CmdStatsCache:
		s.writeStats(out, s.internal)
		if s.external != nil {
			s.writeStats(out, s.external)
		}
	default:
		fmt.Fprintf(out, "ERROR: unknown command %d\n", cmd)
	}
}

func (s *Server) dump(out *bytes.Buffer, c *cache.Cache, format cache.Format) {
	if c == nil {
		fmt.Fprintln(out, "ERROR: no cache configured")
		return
	}
	if err := c.Dump(out, format); err != nil {
		fmt.Fprintf(out, "ERROR: %v\n", err)
	}
}

func (s *Server) writeStats(out *bytes.Buffer, c *cache.Cache) {
	if c == nil {
		return
	}
	st := c.Stats()
	fmt.Fprintf(out, "cache %s: active=%d add_ok=%d add_fail=%d upd_ok=%d upd_fail=%d del_ok=%d del_fail=%d\n",
		c.Name(), st.Active, st.AddOK, st.AddFail, st.UpdOK, st.UpdFail, st.DelOK, st.DelFail)
}
