package track

import (
	"os"
	"strconv"
	"strings"
)

// KernelCounter reads the kernel's current conntrack table size, the
// comparison point for the divergence check.
type KernelCounter interface {
	Count() (int, error)
}

// ProcCounter reads /proc/sys/net/netfilter/nf_conntrack_count, the same
// source track_counter_cb polls.
type ProcCounter struct {
	Path string // defaults to the real proc path when empty
}

const defaultCountPath = "/proc/sys/net/netfilter/nf_conntrack_count"

func (p ProcCounter) Count() (int, error) {
	path := p.Path
	if path == "" {
		path = defaultCountPath
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(raw)))
}
