// Command ctsyncd is the conntrack state synchronization daemon and
// its local admin client: start runs the daemon in the foreground;
// stop, dump, flush, stats and kill talk to a running daemon's local
// control socket the way conntrackd's own CLI does.
package main

import (
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli"

	"github.com/ctsyncd/ctsyncd/internal/config"
	"github.com/ctsyncd/ctsyncd/internal/control"
	"github.com/ctsyncd/ctsyncd/internal/daemon"
	"github.com/ctsyncd/ctsyncd/internal/logging"
)

func main() {
	app := cli.NewApp()
	app.Name = "ctsyncd"
	app.Usage = "conntrack state synchronization daemon"
	app.Flags = []cli.Flag{
		cli.StringFlag{Name: "config, c", Value: "/etc/ctsyncd/ctsyncd.toml", Usage: "path to the TOML configuration file"},
	}
	app.Commands = []cli.Command{
		{Name: "start", Usage: "run the daemon in the foreground", Action: cmdStart},
		{Name: "stop", Usage: "request a running daemon shut down", Action: cmdControl(control.CmdKill)},
		{Name: "kill", Usage: "alias for stop", Action: cmdControl(control.CmdKill)},
		{Name: "dump", Usage: "dump the internal cache as text", Action: cmdControl(control.CmdDumpInternal)},
		{
			Name:  "dump-xml",
			Usage: "dump the internal cache as XML",
			Action: cmdControl(control.CmdDumpInternalXML),
		},
		{Name: "flush", Usage: "flush the external (replicated) cache", Action: cmdControl(control.CmdFlushCache)},
		{
			Name:   "flush-internal",
			Usage:  "flush the internal cache",
			Action: cmdControl(control.CmdFlushInternalCache),
		},
		{Name: "stats", Usage: "print internal cache and traffic counters", Action: cmdControl(control.CmdStats)},
		{
			Name:   "stats-cache",
			Usage:  "print both internal and external cache counters",
			Action: cmdControl(control.CmdStatsCache),
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "ctsyncd: %v\n", err)
		os.Exit(exitCodeFor(err))
	}
}

// exitCodeFor maps a fatal error to the daemon's process exit status: 2
// for a configuration problem diagnosed before anything was started, 1
// for every other failure.
func exitCodeFor(err error) int {
	if _, ok := err.(*config.ConfigError); ok {
		return 2
	}
	return 1
}

func cmdStart(c *cli.Context) error {
	cfg, err := config.Load(c.GlobalString("config"))
	if err != nil {
		return err
	}

	logger := logging.New(os.Stderr, logging.LevelInfo)

	d, err := daemon.New(cfg, logger)
	if err != nil {
		return err
	}
	defer d.Close()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sig
		d.Shutdown()
	}()

	return d.Run()
}

// cmdControl returns a cli.ActionFunc that opens the configured control
// socket, writes cmd's single byte, and prints the daemon's text
// response.
func cmdControl(cmd control.Command) cli.ActionFunc {
	return func(c *cli.Context) error {
		cfg, err := config.Load(c.GlobalString("config"))
		if err != nil {
			return err
		}
		return sendCommand(cfg.Control.SocketPath, cmd)
	}
}

func sendCommand(socketPath string, cmd control.Command) error {
	serverAddr, err := net.ResolveUnixAddr("unixgram", socketPath)
	if err != nil {
		return fmt.Errorf("resolving control socket %s: %w", socketPath, err)
	}

	clientAddr, err := net.ResolveUnixAddr("unixgram", socketPath+".client")
	if err != nil {
		return fmt.Errorf("resolving client socket: %w", err)
	}
	conn, err := net.ListenUnixgram("unixgram", clientAddr)
	if err != nil {
		return fmt.Errorf("binding client socket: %w", err)
	}
	defer conn.Close()
	defer os.Remove(clientAddr.Name)

	if _, err := conn.WriteToUnix([]byte{byte(cmd)}, serverAddr); err != nil {
		return fmt.Errorf("writing to control socket: %w", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	buf := make([]byte, 65536)
	n, err := conn.Read(buf)
	if err != nil {
		return fmt.Errorf("reading control socket response: %w", err)
	}

	fmt.Print(string(buf[:n]))
	return nil
}
