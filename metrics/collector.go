// Package metrics exposes a per-connection prometheus.Collector reporting
// the stats conn.Connection already tracks internally (RTT, packet loss,
// throughput, per-channel memory usage). Grounded on
// runZeroInc-conniver/pkg/exporter's TCPInfoCollector: a hand-rolled
// Collector over a tracked-connection map, describing and collecting on
// demand rather than polling in a background goroutine.
package metrics

import (
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ventosilenzioso/netrelay/conn"
)

var (
	rttDesc = prometheus.NewDesc(
		"netrelay_connection_rtt_seconds",
		"Smoothed round-trip time estimate for a connection.",
		[]string{"client"}, nil,
	)
	packetLossDesc = prometheus.NewDesc(
		"netrelay_connection_packet_loss_ratio",
		"Fraction of sent packets not yet acked and presumed lost.",
		[]string{"client"}, nil,
	)
	bytesSentDesc = prometheus.NewDesc(
		"netrelay_connection_bytes_sent_per_second",
		"Outgoing byte rate over the most recently completed measurement window.",
		[]string{"client"}, nil,
	)
	bytesReceivedDesc = prometheus.NewDesc(
		"netrelay_connection_bytes_received_per_second",
		"Incoming byte rate over the most recently completed measurement window.",
		[]string{"client"}, nil,
	)
	channelMemoryDesc = prometheus.NewDesc(
		"netrelay_channel_memory_usage_bytes",
		"Bytes currently held by one channel engine's outgoing or incoming buffer.",
		[]string{"client", "channel", "direction", "reliable"}, nil,
	)
)

// Collector implements prometheus.Collector over a set of live connections,
// each identified by a caller-chosen label (typically the uuid a registry
// assigns on connect). Methods are safe for concurrent use: Track/Untrack
// are called from the driver goroutine while Collect may run from a
// scrape handler on another goroutine.
type Collector struct {
	mu    sync.Mutex
	conns map[string]*conn.Connection
}

// NewCollector builds an empty Collector. Register it with a
// prometheus.Registerer to expose it on a scrape endpoint.
func NewCollector() *Collector {
	return &Collector{conns: make(map[string]*conn.Connection)}
}

// Track adds c to the set of connections reported on the next Collect,
// labeled by id.
func (m *Collector) Track(id string, c *conn.Connection) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.conns[id] = c
}

// Untrack removes id, typically called once its connection disconnects.
func (m *Collector) Untrack(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.conns, id)
}

func (m *Collector) Describe(descs chan<- *prometheus.Desc) {
	descs <- rttDesc
	descs <- packetLossDesc
	descs <- bytesSentDesc
	descs <- bytesReceivedDesc
	descs <- channelMemoryDesc
}

func (m *Collector) Collect(out chan<- prometheus.Metric) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, c := range m.conns {
		out <- prometheus.MustNewConstMetric(rttDesc, prometheus.GaugeValue, c.RTT().Seconds(), id)
		out <- prometheus.MustNewConstMetric(packetLossDesc, prometheus.GaugeValue, c.PacketLoss(), id)
		out <- prometheus.MustNewConstMetric(bytesSentDesc, prometheus.GaugeValue, c.BytesSentPerSec(), id)
		out <- prometheus.MustNewConstMetric(bytesReceivedDesc, prometheus.GaugeValue, c.BytesReceivedPerSec(), id)

		for _, usage := range c.ChannelMemoryUsages() {
			out <- prometheus.MustNewConstMetric(
				channelMemoryDesc, prometheus.GaugeValue, float64(usage.Bytes),
				id, channelLabel(usage.ChannelID), usage.Direction, reliableLabel(usage.Reliable),
			)
		}
	}
}

func channelLabel(id byte) string {
	return strconv.Itoa(int(id))
}

func reliableLabel(reliable bool) string {
	if reliable {
		return "true"
	}
	return "false"
}
