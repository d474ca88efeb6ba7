// Package metrics exposes Prometheus collectors for both subsystems: the
// warehouse simulation and the message broker. Each subsystem gets its own
// Collector struct wrapping the Counters/Gauges/Histograms it needs; both
// register against the default registry and share one HTTP server.
package metrics

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// WarehouseCollector tracks dispatcher backlog, active task concurrency,
// and per-kind loader completion counts.
type WarehouseCollector struct {
	queueDepth      prometheus.Gauge
	activeTasks     prometheus.Gauge
	tasksCompleted  *prometheus.CounterVec
	orderCompletion *prometheus.HistogramVec
}

// NewWarehouseCollector builds and registers a warehouse collector.
func NewWarehouseCollector() *WarehouseCollector {
	c := &WarehouseCollector{
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "warehouse_dispatcher_queue_depth",
			Help: "Number of tasks currently queued in the dispatcher",
		}),
		activeTasks: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "warehouse_active_tasks",
			Help: "Number of tasks currently being worked by a loader",
		}),
		tasksCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "warehouse_tasks_completed_total",
			Help: "Total tasks completed, by kind",
		}, []string{"kind"}),
		orderCompletion: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "warehouse_order_completion_seconds",
			Help:    "Order completion duration from registration to shipment",
			Buckets: prometheus.LinearBuckets(1, 1, 10),
		}, []string{}),
	}
	prometheus.MustRegister(c.queueDepth, c.activeTasks, c.tasksCompleted, c.orderCompletion)
	return c
}

func (c *WarehouseCollector) SetQueueDepth(n int)  { c.queueDepth.Set(float64(n)) }
func (c *WarehouseCollector) SetActiveTasks(n int) { c.activeTasks.Set(float64(n)) }

func (c *WarehouseCollector) RecordTaskCompletion(kind string) {
	c.tasksCompleted.WithLabelValues(kind).Inc()
}

func (c *WarehouseCollector) ObserveOrderCompletion(seconds float64) {
	c.orderCompletion.WithLabelValues().Observe(seconds)
}

// BrokerCollector tracks per-queue depth and the publish/fetch/ack/sweep
// flow through the engine.
type BrokerCollector struct {
	queueDepth    *prometheus.GaugeVec
	published     *prometheus.CounterVec
	fetched       *prometheus.CounterVec
	acked         *prometheus.CounterVec
	sweepDuration prometheus.Histogram
}

// NewBrokerCollector builds and registers a broker collector.
func NewBrokerCollector() *BrokerCollector {
	c := &BrokerCollector{
		queueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "broker_queue_depth",
			Help: "Number of messages currently buffered, by queue",
		}, []string{"queue"}),
		published: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "broker_messages_published_total",
			Help: "Total messages accepted from producers, by queue",
		}, []string{"queue"}),
		fetched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "broker_messages_fetched_total",
			Help: "Total messages handed to a consumer, by queue",
		}, []string{"queue"}),
		acked: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "broker_messages_acked_total",
			Help: "Total messages acknowledged, by queue",
		}, []string{"queue"}),
		sweepDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "broker_sweep_duration_seconds",
			Help:    "Time taken by one expiry/ack-timeout sweep pass",
			Buckets: prometheus.DefBuckets,
		}),
	}
	prometheus.MustRegister(c.queueDepth, c.published, c.fetched, c.acked, c.sweepDuration)
	return c
}

func (c *BrokerCollector) SetQueueDepth(queue string, n int) {
	c.queueDepth.WithLabelValues(queue).Set(float64(n))
}

func (c *BrokerCollector) RecordPublish(queue string) { c.published.WithLabelValues(queue).Inc() }
func (c *BrokerCollector) RecordFetch(queue string)   { c.fetched.WithLabelValues(queue).Inc() }
func (c *BrokerCollector) RecordAck(queue string)     { c.acked.WithLabelValues(queue).Inc() }

func (c *BrokerCollector) ObserveSweepDuration(seconds float64) {
	c.sweepDuration.Observe(seconds)
}

// StartServer serves /metrics on port until the process exits or the
// server errors. Intended to be run in its own goroutine by the CLI.
func StartServer(port int) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	addr := fmt.Sprintf(":%d", port)
	return http.ListenAndServe(addr, mux)
}
