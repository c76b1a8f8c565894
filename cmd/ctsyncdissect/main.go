// Command ctsyncdissect reads a PCAP capture offline and prints the
// sync protocol messages carried in it, one line per message, followed
// by a summary line of packet/error/skip counters. It is a read-only
// diagnostic tool: it never joins the live channel and never touches a
// cache.
package main

import (
	"fmt"
	"os"

	"github.com/google/gopacket/pcap"

	"github.com/ctsyncd/ctsyncd/internal/dissect"
)

func main() {
	if len(os.Args) != 2 {
		fmt.Fprintf(os.Stderr, "usage: %s <pcap-file>\n", os.Args[0])
		os.Exit(1)
	}

	stats, err := run(os.Args[1], os.Stdout)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ctsyncdissect: %v\n", err)
		os.Exit(2)
	}

	fmt.Printf("Done. packets=%d errors=%d skip=%d\n", stats.Packets, stats.Errors, stats.Skip)
}

func run(pcapFile string, out *os.File) (dissect.Stats, error) {
	handle, err := pcap.OpenOffline(pcapFile)
	if err != nil {
		return dissect.Stats{}, fmt.Errorf("opening capture: %w", err)
	}
	defer handle.Close()

	var stats dissect.Stats
	framer := dissect.NewFramer()

	for {
		frame, _, err := handle.ReadPacketData()
		if err == pcap.NextErrorNoMorePackets || err == pcap.NextErrorTimeoutExpired {
			break
		}
		if err != nil {
			return stats, fmt.Errorf("reading packet: %w", err)
		}
		stats.Packets++

		payload, err := dissect.ExtractSyncPayload(frame)
		if err != nil {
			stats.RecordPacketError(err)
			continue
		}

		msgs, errs := framer.Feed(payload)
		stats.RecordMessageErrors(errs)
		for _, e := range errs {
			fmt.Fprintf(out, "[error: %v]\n", e)
		}
		for _, msg := range msgs {
			fmt.Fprintln(out, dissect.FormatMessage(msg))
		}
	}

	return stats, nil
}
