// Package daemon wires every other package into the running ctsyncd
// process: the event loop, the configured transport channel, the
// kernel event source, the sync protocol (or track mode), the caches,
// the local control socket, and the Prometheus exporter. It is the
// composition root spec §5 describes as "an explicit *Daemon context"
// in place of the original's process-wide globals.
package daemon

import (
	"fmt"
	"io"
	"net"
	"os"
	"time"

	"github.com/ctsyncd/ctsyncd/internal/alarm"
	"github.com/ctsyncd/ctsyncd/internal/cache"
	"github.com/ctsyncd/ctsyncd/internal/config"
	"github.com/ctsyncd/ctsyncd/internal/control"
	"github.com/ctsyncd/ctsyncd/internal/eventloop"
	"github.com/ctsyncd/ctsyncd/internal/flowobj"
	"github.com/ctsyncd/ctsyncd/internal/kernelevent"
	"github.com/ctsyncd/ctsyncd/internal/logging"
	"github.com/ctsyncd/ctsyncd/internal/metrics"
	"github.com/ctsyncd/ctsyncd/internal/syncproto"
	"github.com/ctsyncd/ctsyncd/internal/track"
	"github.com/ctsyncd/ctsyncd/internal/transport"
)

// Daemon owns every long-lived component of one running ctsyncd
// process, constructed once from a parsed Config and torn down as a
// unit on shutdown.
type Daemon struct {
	cfg    *config.Config
	logger *logging.Logger

	loop    *eventloop.Loop
	channel transport.Channel // nil in pure track mode (no peer replication)
	source  kernelevent.Source

	internal *cache.Cache
	external *cache.Cache // nil unless replicating to/from a peer

	tracker  *track.Tracker // non-nil when Track.Track or Track.PollSecs is set
	sender   *syncproto.Sender
	receiver *syncproto.Receiver

	control       *control.Server
	metricsServer *metrics.Server
}

// New builds and wires a Daemon from cfg, but does not yet run its
// event loop or start serving metrics — call Run for that.
func New(cfg *config.Config, logger *logging.Logger) (d *Daemon, err error) {
	d = &Daemon{cfg: cfg, logger: logger}

	d.loop, err = eventloop.New()
	if err != nil {
		return nil, fmt.Errorf("daemon: event loop: %w", err)
	}
	defer func() {
		if err != nil {
			_ = d.loop.Close()
		}
	}()

	d.source, err = kernelevent.NewNetlinkSource()
	if err != nil {
		return nil, fmt.Errorf("daemon: netlink source: %w", err)
	}

	trackMode := cfg.Track.Track || cfg.Track.PollSecs > 0
	if trackMode {
		d.tracker = track.NewTracker(d.loop.Alarms(), d.source, track.ProcCounter{}, cfg.Main.NetlinkBufferSize, logging.TrackEvents{Logger: logger})
		d.internal = d.tracker.Cache()
	} else {
		d.internal = cache.New("internal", cache.KindCT, cache.ExtraOps{})
		d.external = cache.New("external", cache.KindCT, cache.ExtraOps{})
		d.sender = syncproto.NewSender(strategyFromConfig(cfg.Sync.Strategy), cfg.Sync.RetransmitWindow)
		d.receiver = syncproto.NewReceiver(strategyFromConfig(cfg.Sync.Strategy), d.external)

		d.channel, err = newChannel(cfg.Channel)
		if err != nil {
			return nil, fmt.Errorf("daemon: channel: %w", err)
		}
		if err := d.loop.RegisterFD(d.channel.FD(), eventloop.EventRead, d.onChannelReadable); err != nil {
			return nil, fmt.Errorf("daemon: registering channel fd: %w", err)
		}
		d.scheduleLinkTick()
	}

	if cfg.Track.PollSecs > 0 {
		d.schedulePoll(time.Duration(cfg.Track.PollSecs) * time.Second)
	} else {
		if err := d.loop.RegisterFD(d.source.FD(), eventloop.EventRead, d.onKernelReadable); err != nil {
			return nil, fmt.Errorf("daemon: registering netlink fd: %w", err)
		}
	}

	d.control, err = control.NewServer(cfg.Control.SocketPath, d.internal, d.external, d.loop.Shutdown, d.writeTrafficStats)
	if err != nil {
		return nil, fmt.Errorf("daemon: control socket: %w", err)
	}
	if err := d.loop.RegisterFD(d.control.FD(), eventloop.EventRead, d.onControlReadable); err != nil {
		return nil, fmt.Errorf("daemon: registering control fd: %w", err)
	}

	if cfg.Metrics.ListenAddress != "" {
		caches := []metrics.CacheSource{d.internal}
		if d.external != nil {
			caches = append(caches, d.external)
		}
		var chSrc metrics.ChannelSource
		var sender metrics.SenderSource
		if d.channel != nil {
			chSrc = d.channel
		}
		if d.sender != nil {
			sender = d.sender
		}
		collector := metrics.NewCollector(string(cfg.Channel.Kind), chSrc, sender, caches...)
		d.metricsServer = metrics.NewServer(cfg.Metrics.ListenAddress, collector)
	}

	if d.tracker != nil {
		d.tracker.Start()
	}

	return d, nil
}

func strategyFromConfig(s config.StrategyName) syncproto.Strategy {
	switch s {
	case config.StrategyAlarm:
		return syncproto.StrategyAlarm
	case config.StrategyFTFW:
		return syncproto.StrategyFTFW
	default:
		return syncproto.StrategyNoTrack
	}
}

func newChannel(c config.ChannelConfig) (transport.Channel, error) {
	switch c.Kind {
	case config.ChannelMulticast:
		var iface *net.Interface
		if c.McastInterface != "" {
			if i, err := net.InterfaceByName(c.McastInterface); err == nil {
				iface = i
			}
		}
		return transport.NewMulticast(transport.MulticastConfig{
			Group:     net.ParseIP(c.McastGroup),
			Port:      c.McastPort,
			Interface: iface,
			TTL:       c.McastTTL,
		})
	case config.ChannelTCP:
		if c.TCPListen {
			return newTCPListener(c.TCPAddress)
		}
		return transport.NewTCPClient(c.TCPAddress, 30*time.Second, 8)
	case config.ChannelTIPC:
		return transport.NewTIPC(transport.TIPCConf{
			ClientType:     c.TIPCType,
			ClientInstance: c.TIPCInstance,
			ServerType:     c.TIPCType,
			ServerInstance: c.TIPCInstance,
		})
	default:
		return nil, fmt.Errorf("daemon: unknown channel kind %q", c.Kind)
	}
}

// newTCPListener is the server side of a listening tcp channel: it
// listens on addr, blocks for the one peer connection the sync
// protocol's single-channel model expects, and wraps the accepted
// connection the same way the client side wraps its dialed one.
func newTCPListener(addr string) (transport.Channel, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("daemon: listening on %s: %w", addr, err)
	}
	defer ln.Close()
	conn, err := ln.Accept()
	if err != nil {
		return nil, fmt.Errorf("daemon: accepting tcp peer on %s: %w", addr, err)
	}
	return transport.NewTCPFromConn(conn, 30*time.Second, 8), nil
}

// Run starts the Prometheus exporter (if configured) and blocks running
// the event loop until Shutdown is requested.
func (d *Daemon) Run() error {
	if d.metricsServer != nil {
		go func() {
			if err := d.metricsServer.Serve(); err != nil {
				fmt.Fprintf(os.Stderr, "ctsyncd: metrics server: %v\n", err)
			}
		}()
	}
	return d.loop.Run()
}

// Shutdown requests the event loop stop after its current iteration.
func (d *Daemon) Shutdown() { d.loop.Shutdown() }

// Close releases every resource the Daemon opened. Call after Run
// returns.
func (d *Daemon) Close() error {
	if d.channel != nil {
		_ = d.channel.Close()
	}
	_ = d.source.Close()
	_ = d.control.Close()
	return d.loop.Close()
}

func (d *Daemon) onKernelReadable(_ eventloop.IOEvents) {
	events, err := d.source.Drain()
	if err != nil {
		d.logger.Warning().Err(err).Log("failed draining kernel event source")
		return
	}
	for _, ev := range events {
		d.applyKernelEvent(ev)
	}
}

func (d *Daemon) schedulePoll(interval time.Duration) {
	d.loop.Alarms().Add(time.Now().Add(interval), nil, d.onPollTick)
}

func (d *Daemon) onPollTick(_ alarm.Handle, _ any) {
	d.onKernelReadable(0)
	d.schedulePoll(time.Duration(d.cfg.Track.PollSecs) * time.Second)
}

func (d *Daemon) applyKernelEvent(ev kernelevent.Event) {
	if d.tracker != nil {
		switch ev.Type {
		case flowobj.MsgCTNew, flowobj.MsgExpNew:
			d.tracker.HandleNew(ev.Flow)
		case flowobj.MsgCTUpd, flowobj.MsgExpUpd:
			d.tracker.HandleUpdate(ev.Flow)
		case flowobj.MsgCTDel, flowobj.MsgExpDel:
			d.tracker.HandleDelete(ev.Flow)
		}
		return
	}

	switch ev.Type {
	case flowobj.MsgCTNew, flowobj.MsgExpNew:
		if _, err := d.internal.Add(ev.Flow, ev.Flow.ID); err != nil {
			_, _ = d.internal.UpdateForce(ev.Flow, ev.Flow.ID)
		}
	case flowobj.MsgCTUpd, flowobj.MsgExpUpd:
		_, _ = d.internal.UpdateForce(ev.Flow, ev.Flow.ID)
	case flowobj.MsgCTDel, flowobj.MsgExpDel:
		if o, ok := d.internal.Find(ev.Flow); ok {
			_ = d.internal.ObjectFree(o)
		}
	}

	if d.sender != nil && d.channel != nil {
		wire := d.sender.EncodeNext(time.Now(), ev.Type, ev.Flow)
		if _, err := d.channel.Send(wire); err != nil {
			d.logger.Warning().Err(err).Log("failed sending sync message")
		}
	}
}

func (d *Daemon) onChannelReadable(_ eventloop.IOEvents) {
	buf := make([]byte, 65536)
	for {
		n, err := d.channel.Recv(buf)
		if err != nil || n == 0 {
			return
		}
		d.handleWireMessage(buf[:n])
	}
}

func (d *Daemon) handleWireMessage(buf []byte) {
	hdr, err := flowobj.DecodeNetHdr(buf)
	if err != nil {
		d.logger.Warning().Err(err).Log("discarding malformed sync message")
		return
	}

	switch {
	case hdr.Flags&flowobj.FlagACK != 0:
		d.sender.HandleAck(syncproto.DecodeAck(hdr))
	case hdr.Flags&flowobj.FlagNACK != 0:
		for _, msg := range d.sender.HandleNack(time.Now(), syncproto.DecodeAck(hdr)) {
			if _, err := d.channel.Send(msg); err != nil {
				d.logger.Warning().Err(err).Log("failed retransmitting after nack")
			}
		}
	default:
		resp, err := d.receiver.Handle(buf)
		if err != nil {
			d.logger.Warning().Err(err).Log("discarding malformed sync message")
			return
		}
		if resp != nil {
			if _, err := d.channel.Send(resp); err != nil {
				d.logger.Warning().Err(err).Log("failed sending sync response")
			}
		}
	}
}

func (d *Daemon) onControlReadable(_ eventloop.IOEvents) {
	if err := d.control.ServeOne(); err != nil {
		d.logger.Warning().Err(err).Log("control socket serve error")
	}
}

// scheduleLinkTick arms the periodic liveness/batched-ack alarm the
// alarm strategy and HELLO liveness check both ride on, rescheduling
// itself every invocation.
func (d *Daemon) scheduleLinkTick() {
	interval := d.cfg.Sync.AckWindow()
	if interval <= 0 {
		interval = time.Second
	}
	d.loop.Alarms().Add(time.Now().Add(interval), nil, d.onLinkTick)
}

func (d *Daemon) onLinkTick(_ alarm.Handle, _ any) {
	if ack, ok := d.receiver.PendingAck(); ok {
		if _, err := d.channel.Send(syncproto.EncodeAck(ack)); err == nil {
			d.receiver.AckSent()
		}
	}
	if hello := d.sender.MaybeHello(time.Now(), d.cfg.Sync.HelloInterval()); hello != nil {
		_, _ = d.channel.Send(hello)
	}
	d.scheduleLinkTick()
}

func (d *Daemon) writeTrafficStats(w io.Writer) {
	if d.sender == nil {
		return
	}
	st := d.sender.Stats()
	fmt.Fprintf(w, "sync: acked=%d nacked=%d resynced=%d queue_depth=%d\n", st.Acked, st.Nacked, st.Resynced, st.QueueDepth)
	if d.channel != nil {
		cs := d.channel.Stats()
		fmt.Fprintf(w, "channel: sent_msgs=%d sent_bytes=%d recv_msgs=%d recv_bytes=%d errors=%d\n",
			cs.SentMessages, cs.SentBytes, cs.RecvMessages, cs.RecvBytes, cs.Errors)
	}
}
