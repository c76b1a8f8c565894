// Package metrics exposes the daemon's live counters as a Prometheus
// collector: channel I/O stats, cache stats, and sync-protocol stats,
// all read directly from the owning components at Collect time.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/ctsyncd/ctsyncd/internal/cache"
	"github.com/ctsyncd/ctsyncd/internal/syncproto"
	"github.com/ctsyncd/ctsyncd/internal/transport"
)

// ChannelSource is satisfied by transport.Channel; named separately so
// this package depends only on the method it actually calls.
type ChannelSource interface {
	Stats() transport.Stats
}

// CacheSource is satisfied by *cache.Cache.
type CacheSource interface {
	Name() string
	Stats() cache.Stats
}

// SenderSource is satisfied by *syncproto.Sender.
type SenderSource interface {
	Stats() syncproto.Stats
}

// Collector is a prometheus.Collector reading every registered
// component's live state under no lock of its own — each component
// already guards its own counters (cache.Cache's mutex, the transport
// implementations' atomics) — exactly the "read live state at Collect
// time, never mutate it" shape the pack's exporter collectors use.
type Collector struct {
	channel string
	chSrc   ChannelSource
	caches  []CacheSource
	sender  SenderSource

	channelSent     *prometheus.Desc
	channelRecv     *prometheus.Desc
	channelSentMsgs *prometheus.Desc
	channelRecvMsgs *prometheus.Desc
	channelErrors   *prometheus.Desc

	cacheActive  *prometheus.Desc
	cacheAddOK   *prometheus.Desc
	cacheAddFail *prometheus.Desc
	cacheUpdOK   *prometheus.Desc
	cacheUpdFail *prometheus.Desc
	cacheDelOK   *prometheus.Desc
	cacheDelFail *prometheus.Desc

	syncAcked      *prometheus.Desc
	syncNacked     *prometheus.Desc
	syncResynced   *prometheus.Desc
	syncQueueDepth *prometheus.Desc
}

// NewCollector builds a Collector for one channel (identified by name,
// e.g. "multicast"), one or more caches, and the sync protocol sender.
func NewCollector(channelName string, chSrc ChannelSource, sender SenderSource, caches ...CacheSource) *Collector {
	const ns = "ctsyncd"
	return &Collector{
		channel: channelName,
		chSrc:   chSrc,
		caches:  caches,
		sender:  sender,

		channelSent:     prometheus.NewDesc(ns+"_channel_sent_bytes_total", "Bytes sent on the sync channel.", []string{"channel"}, nil),
		channelRecv:     prometheus.NewDesc(ns+"_channel_recv_bytes_total", "Bytes received on the sync channel.", []string{"channel"}, nil),
		channelSentMsgs: prometheus.NewDesc(ns+"_channel_sent_messages_total", "Messages sent on the sync channel.", []string{"channel"}, nil),
		channelRecvMsgs: prometheus.NewDesc(ns+"_channel_recv_messages_total", "Messages received on the sync channel.", []string{"channel"}, nil),
		channelErrors:   prometheus.NewDesc(ns+"_channel_errors_total", "I/O errors on the sync channel (EAGAIN excluded).", []string{"channel"}, nil),

		cacheActive:  prometheus.NewDesc(ns+"_cache_active", "Active objects currently indexed.", []string{"cache"}, nil),
		cacheAddOK:   prometheus.NewDesc(ns+"_cache_add_ok_total", "Successful cache_add calls.", []string{"cache"}, nil),
		cacheAddFail: prometheus.NewDesc(ns+"_cache_add_fail_total", "Failed cache_add calls (duplicate fingerprint).", []string{"cache"}, nil),
		cacheUpdOK:   prometheus.NewDesc(ns+"_cache_update_ok_total", "Successful cache_update_force calls.", []string{"cache"}, nil),
		cacheUpdFail: prometheus.NewDesc(ns+"_cache_update_fail_total", "Failed cache_update_force calls.", []string{"cache"}, nil),
		cacheDelOK:   prometheus.NewDesc(ns+"_cache_del_ok_total", "Successful cache_del calls.", []string{"cache"}, nil),
		cacheDelFail: prometheus.NewDesc(ns+"_cache_del_fail_total", "Failed cache_del calls (object not found).", []string{"cache"}, nil),

		syncAcked:      prometheus.NewDesc(ns+"_sync_acked_total", "ACK frames received by the sender.", nil, nil),
		syncNacked:     prometheus.NewDesc(ns+"_sync_nacked_total", "NACK frames received by the sender.", nil, nil),
		syncResynced:   prometheus.NewDesc(ns+"_sync_resynced_total", "RESYNC frames emitted by the sender.", nil, nil),
		syncQueueDepth: prometheus.NewDesc(ns+"_sync_retransmit_queue_depth", "Current retransmit queue depth.", nil, nil),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(descs chan<- *prometheus.Desc) {
	descs <- c.channelSent
	descs <- c.channelRecv
	descs <- c.channelSentMsgs
	descs <- c.channelRecvMsgs
	descs <- c.channelErrors
	descs <- c.cacheActive
	descs <- c.cacheAddOK
	descs <- c.cacheAddFail
	descs <- c.cacheUpdOK
	descs <- c.cacheUpdFail
	descs <- c.cacheDelOK
	descs <- c.cacheDelFail
	descs <- c.syncAcked
	descs <- c.syncNacked
	descs <- c.syncResynced
	descs <- c.syncQueueDepth
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(metrics chan<- prometheus.Metric) {
	if c.chSrc != nil {
		s := c.chSrc.Stats()
		metrics <- prometheus.MustNewConstMetric(c.channelSent, prometheus.CounterValue, float64(s.SentBytes), c.channel)
		metrics <- prometheus.MustNewConstMetric(c.channelRecv, prometheus.CounterValue, float64(s.RecvBytes), c.channel)
		metrics <- prometheus.MustNewConstMetric(c.channelSentMsgs, prometheus.CounterValue, float64(s.SentMessages), c.channel)
		metrics <- prometheus.MustNewConstMetric(c.channelRecvMsgs, prometheus.CounterValue, float64(s.RecvMessages), c.channel)
		metrics <- prometheus.MustNewConstMetric(c.channelErrors, prometheus.CounterValue, float64(s.Errors), c.channel)
	}

	for _, cs := range c.caches {
		s := cs.Stats()
		name := cs.Name()
		metrics <- prometheus.MustNewConstMetric(c.cacheActive, prometheus.GaugeValue, float64(s.Active), name)
		metrics <- prometheus.MustNewConstMetric(c.cacheAddOK, prometheus.CounterValue, float64(s.AddOK), name)
		metrics <- prometheus.MustNewConstMetric(c.cacheAddFail, prometheus.CounterValue, float64(s.AddFail), name)
		metrics <- prometheus.MustNewConstMetric(c.cacheUpdOK, prometheus.CounterValue, float64(s.UpdOK), name)
		metrics <- prometheus.MustNewConstMetric(c.cacheUpdFail, prometheus.CounterValue, float64(s.UpdFail), name)
		metrics <- prometheus.MustNewConstMetric(c.cacheDelOK, prometheus.CounterValue, float64(s.DelOK), name)
		metrics <- prometheus.MustNewConstMetric(c.cacheDelFail, prometheus.CounterValue, float64(s.DelFail), name)
	}

	if c.sender != nil {
		s := c.sender.Stats()
		metrics <- prometheus.MustNewConstMetric(c.syncAcked, prometheus.CounterValue, float64(s.Acked))
		metrics <- prometheus.MustNewConstMetric(c.syncNacked, prometheus.CounterValue, float64(s.Nacked))
		metrics <- prometheus.MustNewConstMetric(c.syncResynced, prometheus.CounterValue, float64(s.Resynced))
		metrics <- prometheus.MustNewConstMetric(c.syncQueueDepth, prometheus.GaugeValue, float64(s.QueueDepth))
	}
}
