package dmp

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Collector exports every node of a namespace as Prometheus counters,
// e.g. dmp_read_reqs_total{device="all"}.
//
// Each node is sampled with one Snapshot, so the four series of a device
// always agree with each other.
type Collector struct {
	ns *Namespace

	readReqs   *prometheus.Desc
	writeReqs  *prometheus.Desc
	readBytes  *prometheus.Desc
	writeBytes *prometheus.Desc
}

var _ prometheus.Collector = (*Collector)(nil)

// NewCollector returns a collector reading from ns
func NewCollector(ns *Namespace) *Collector {
	labels := []string{"device"}
	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName("dmp", "", name), help, labels, nil)
	}
	return &Collector{
		ns:         ns,
		readReqs:   desc("read_reqs_total", "read requests passed through"),
		writeReqs:  desc("write_reqs_total", "write requests passed through"),
		readBytes:  desc("read_bytes_total", "bytes read (cumulative)"),
		writeBytes: desc("write_bytes_total", "bytes written (cumulative)"),
	}
}

// Describe implements prometheus.Collector
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.readReqs
	ch <- c.writeReqs
	ch <- c.readBytes
	ch <- c.writeBytes
}

// Collect implements prometheus.Collector
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	for _, name := range c.ns.Names() {
		s, ok := c.ns.Acquire(name)
		if !ok {
			// removed since Names
			continue
		}
		snap := s.Snapshot()
		s.Release()

		ch <- prometheus.MustNewConstMetric(c.readReqs, prometheus.CounterValue, float64(snap.ReadReqs), name)
		ch <- prometheus.MustNewConstMetric(c.writeReqs, prometheus.CounterValue, float64(snap.WriteReqs), name)
		ch <- prometheus.MustNewConstMetric(c.readBytes, prometheus.CounterValue, float64(snap.ReadBytes), name)
		ch <- prometheus.MustNewConstMetric(c.writeBytes, prometheus.CounterValue, float64(snap.WriteBytes), name)
	}
}
