// Package metrics exposes Prometheus collectors for the collector service.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	pagesFetchedTotal  *prometheus.CounterVec
	pagesParsedTotal   *prometheus.CounterVec
	mediaStoredTotal   *prometheus.CounterVec
	tasksFinishedTotal *prometheus.CounterVec
	queueDepth         *prometheus.GaugeVec

	once sync.Once
)

// Init initializes the Prometheus collectors. Safe to call repeatedly.
func Init() {
	once.Do(func() {
		pagesFetchedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "collector_pages_fetched_total",
				Help: "Pages fetched, labeled by host and outcome.",
			},
			[]string{"host", "outcome"},
		)
		pagesParsedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "collector_pages_parsed_total",
				Help: "Pages parsed, labeled by host and result.",
			},
			[]string{"host", "result"},
		)
		mediaStoredTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "collector_media_stored_total",
				Help: "Media resources stored, labeled by host.",
			},
			[]string{"host"},
		)
		tasksFinishedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "collector_tasks_finished_total",
				Help: "Crawl tasks finished, labeled by host.",
			},
			[]string{"host"},
		)
		queueDepth = promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "collector_queue_depth",
				Help: "Jobs waiting per named queue.",
			},
			[]string{"queue"},
		)
	})
}

// PageFetched records one fetch outcome.
func PageFetched(host, outcome string) {
	if pagesFetchedTotal != nil {
		pagesFetchedTotal.WithLabelValues(host, outcome).Inc()
	}
}

// PageParsed records one parse result.
func PageParsed(host, result string) {
	if pagesParsedTotal != nil {
		pagesParsedTotal.WithLabelValues(host, result).Inc()
	}
}

// MediaStored records one stored media resource.
func MediaStored(host string) {
	if mediaStoredTotal != nil {
		mediaStoredTotal.WithLabelValues(host).Inc()
	}
}

// TaskFinished records one finished task.
func TaskFinished(host string) {
	if tasksFinishedTotal != nil {
		tasksFinishedTotal.WithLabelValues(host).Inc()
	}
}

// SetQueueDepth reports the number of waiting jobs on a queue.
func SetQueueDepth(queue string, depth int) {
	if queueDepth != nil {
		queueDepth.WithLabelValues(queue).Set(float64(depth))
	}
}
