// Package metrics exposes a prometheus.Collector surfacing the counters
// spec §7 names as diagnostics: queue drops and capacity, the current hot
// threshold, and the ranking's bucket count and total tracked size. There
// is no per-tier metric. Entirely observational — nothing in the
// allocation path reads from it.
//
// Grounded on the descriptor-table-plus-Collect idiom of
// containers-nri-plugins' topology-aware policy metrics (fixed []
// *prometheus.Desc indexed by named consts, MustNewConstMetric per
// sample), adapted from per-zone CPU/memory gauges to event-queue and
// ranking gauges.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/memkind-go/tiermem/eventqueue"
	"github.com/memkind-go/tiermem/ranking"
)

const (
	descQueueDropped = iota
	descQueueCapacity
	descThreshold
	descRankedEntries
	descRankedTotalSize
)

var descriptors = []*prometheus.Desc{
	descQueueDropped: prometheus.NewDesc(
		"tiermem_eventqueue_dropped_total",
		"Number of events dropped because the event queue was full.",
		nil, nil,
	),
	descQueueCapacity: prometheus.NewDesc(
		"tiermem_eventqueue_capacity",
		"Fixed capacity of the event queue.",
		nil, nil,
	),
	descThreshold: prometheus.NewDesc(
		"tiermem_ranking_hot_threshold",
		"Current quantified-hotness threshold separating hot from cold.",
		nil, nil,
	),
	descRankedEntries: prometheus.NewDesc(
		"tiermem_ranking_entries",
		"Number of distinct quantified-hotness buckets currently tracked.",
		nil, nil,
	),
	descRankedTotalSize: prometheus.NewDesc(
		"tiermem_ranking_total_size_bytes",
		"Total tracked allocation size across all ranked buckets.",
		nil, nil,
	),
}

// Collector implements prometheus.Collector over a Ranking and the
// EventQueue it's fed from.
type Collector struct {
	queue *eventqueue.Queue
	rank  *ranking.Ranking
}

// NewCollector creates a Collector for queue and rank. Either may be nil
// (e.g. StaticRatio/DynamicThreshold builds have no Ranking), in which
// case the corresponding metrics are simply not emitted.
func NewCollector(queue *eventqueue.Queue, rank *ranking.Ranking) *Collector {
	return &Collector{queue: queue, rank: rank}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range descriptors {
		ch <- d
	}
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	if c.queue != nil {
		ch <- prometheus.MustNewConstMetric(descriptors[descQueueDropped], prometheus.CounterValue, float64(c.queue.Dropped()))
		ch <- prometheus.MustNewConstMetric(descriptors[descQueueCapacity], prometheus.GaugeValue, float64(c.queue.Cap()))
	}
	if c.rank != nil {
		ch <- prometheus.MustNewConstMetric(descriptors[descThreshold], prometheus.GaugeValue, float64(c.rank.Threshold()))
		ch <- prometheus.MustNewConstMetric(descriptors[descRankedEntries], prometheus.GaugeValue, float64(c.rank.Len()))
		ch <- prometheus.MustNewConstMetric(descriptors[descRankedTotalSize], prometheus.GaugeValue, float64(c.rank.TotalSize()))
	}
}
