package metrics

import (
	"net"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/ctsyncd/ctsyncd/internal/cache"
	"github.com/ctsyncd/ctsyncd/internal/flowobj"
	"github.com/ctsyncd/ctsyncd/internal/syncproto"
	"github.com/ctsyncd/ctsyncd/internal/transport"
)

type fakeChannel struct{ stats transport.Stats }

func (f fakeChannel) Stats() transport.Stats { return f.stats }

func TestCollector_ExportsChannelAndCacheAndSyncMetrics(t *testing.T) {
	ch := fakeChannel{stats: transport.Stats{SentBytes: 100, RecvBytes: 50, SentMessages: 2, RecvMessages: 1, Errors: 3}}
	c := cache.New("internal", cache.KindCT, cache.ExtraOps{})
	f := flowobj.NewFlow(flowobj.FamilyIPv4, 6, 1,
		net.ParseIP("10.0.0.1").To4(), net.ParseIP("10.0.0.2").To4(), 1000, 443, 30, 0)
	_, _ = c.Add(&f, 1)
	sender := syncproto.NewSender(syncproto.StrategyAlarm, 4)

	collector := NewCollector("multicast", ch, sender, c)

	if err := testutil.CollectAndCompare(collector, strings.NewReader(`
# HELP ctsyncd_cache_active Active objects currently indexed.
# TYPE ctsyncd_cache_active gauge
ctsyncd_cache_active{cache="internal"} 1
`), "ctsyncd_cache_active"); err != nil {
		t.Fatalf("cache_active mismatch: %v", err)
	}

	count := 0
	collectAll := make(chan prometheus.Metric, 64)
	collector.Collect(collectAll)
	close(collectAll)
	for range collectAll {
		count++
	}
	if count == 0 {
		t.Fatalf("Collect emitted no metrics")
	}
}

func TestCollector_NilSourcesAreSkippedGracefully(t *testing.T) {
	collector := NewCollector("tcp", nil, nil)
	out := make(chan prometheus.Metric, 8)
	collector.Collect(out)
	close(out)
	for range out {
		t.Fatalf("Collect with nil sources should emit nothing")
	}
}
