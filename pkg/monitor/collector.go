package monitor

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Collector exports one storage's WorkloadStats to Prometheus.
type Collector struct {
	stats *WorkloadStats

	reads       *prometheus.Desc
	writes      *prometheus.Desc
	removes     *prometheus.Desc
	compactions *prometheus.Desc
	resyncs     *prometheus.Desc

	chunks   *prometheus.Desc
	items    *prometheus.Desc
	capacity *prometheus.Desc
}

// NewCollector labels every metric with storage=name.
func NewCollector(name string, stats *WorkloadStats) *Collector {
	labels := prometheus.Labels{"storage": name}
	desc := func(metric, help string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName("chunkdb", "", metric), help, nil, labels)
	}

	return &Collector{
		stats: stats,

		reads:       desc("reads_total", "Point lookups and queries served"),
		writes:      desc("writes_total", "Records added or overwritten"),
		removes:     desc("removes_total", "Records removed"),
		compactions: desc("compactions_total", "Empty chunks removed by compaction"),
		resyncs:     desc("resyncs_total", "Secondary index resynchronizations"),

		chunks:   desc("chunks", "Chunks at the last publish"),
		items:    desc("items", "Records at the last publish"),
		capacity: desc("capacity", "Allocated element slots at the last publish"),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.reads
	ch <- c.writes
	ch <- c.removes
	ch <- c.compactions
	ch <- c.resyncs
	ch <- c.chunks
	ch <- c.items
	ch <- c.capacity
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	s := c.stats.Snapshot()

	ch <- prometheus.MustNewConstMetric(c.reads, prometheus.CounterValue, float64(s.Reads))
	ch <- prometheus.MustNewConstMetric(c.writes, prometheus.CounterValue, float64(s.Writes))
	ch <- prometheus.MustNewConstMetric(c.removes, prometheus.CounterValue, float64(s.Removes))
	ch <- prometheus.MustNewConstMetric(c.compactions, prometheus.CounterValue, float64(s.Compactions))
	ch <- prometheus.MustNewConstMetric(c.resyncs, prometheus.CounterValue, float64(s.Resyncs))

	ch <- prometheus.MustNewConstMetric(c.chunks, prometheus.GaugeValue, float64(s.Chunks))
	ch <- prometheus.MustNewConstMetric(c.items, prometheus.GaugeValue, float64(s.Items))
	ch <- prometheus.MustNewConstMetric(c.capacity, prometheus.GaugeValue, float64(s.Capacity))
}
