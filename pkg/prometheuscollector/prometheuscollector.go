// Package prometheuscollector exposes an ingestd handler's Metrics as
// a Prometheus collector:
//
//	h, err := handler.NewHandler(…)
//	prometheus.MustRegister(prometheuscollector.New(h.Metrics))
package prometheuscollector

import (
	"strconv"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ingestd/ingestd/pkg/handler"
)

var (
	requestsTotalDesc = prometheus.NewDesc(
		"ingestd_requests_total",
		"Total number of requests served by ingestd per method.",
		[]string{"method"}, nil)
	errorsTotalDesc = prometheus.NewDesc(
		"ingestd_errors_total",
		"Total number of errors per status and error code.",
		[]string{"status", "error_code"}, nil)
	bytesReceivedDesc = prometheus.NewDesc(
		"ingestd_bytes_received",
		"Number of bytes received for uploads.",
		nil, nil)
	uploadsCreatedDesc = prometheus.NewDesc(
		"ingestd_uploads_created",
		"Number of created uploads.",
		nil, nil)
	uploadsFinishedDesc = prometheus.NewDesc(
		"ingestd_uploads_finished",
		"Number of finished uploads.",
		nil, nil)
	uploadsTerminatedDesc = prometheus.NewDesc(
		"ingestd_uploads_terminated",
		"Number of terminated uploads.",
		nil, nil)
)

// Collector reads from an ingestd handler.Metrics each time Prometheus
// scrapes it; it holds no state of its own.
type Collector struct {
	metrics handler.Metrics
}

// New creates a collector reading from metrics.
func New(metrics handler.Metrics) Collector {
	return Collector{metrics: metrics}
}

func (c Collector) Describe(descs chan<- *prometheus.Desc) {
	descs <- requestsTotalDesc
	descs <- errorsTotalDesc
	descs <- bytesReceivedDesc
	descs <- uploadsCreatedDesc
	descs <- uploadsFinishedDesc
	descs <- uploadsTerminatedDesc
}

func (c Collector) Collect(metrics chan<- prometheus.Metric) {
	for method, valuePtr := range c.metrics.RequestsTotal {
		metrics <- prometheus.MustNewConstMetric(
			requestsTotalDesc,
			prometheus.CounterValue,
			float64(atomic.LoadUint64(valuePtr)),
			method,
		)
	}

	for _, row := range c.metrics.ErrorsTotal.Snapshot() {
		metrics <- prometheus.MustNewConstMetric(
			errorsTotalDesc,
			prometheus.CounterValue,
			float64(row.Count),
			strconv.Itoa(row.StatusCode),
			row.ErrorCode,
		)
	}

	metrics <- prometheus.MustNewConstMetric(
		bytesReceivedDesc,
		prometheus.CounterValue,
		float64(atomic.LoadUint64(c.metrics.BytesReceived)),
	)

	metrics <- prometheus.MustNewConstMetric(
		uploadsCreatedDesc,
		prometheus.CounterValue,
		float64(atomic.LoadUint64(c.metrics.UploadsCreated)),
	)

	metrics <- prometheus.MustNewConstMetric(
		uploadsFinishedDesc,
		prometheus.CounterValue,
		float64(atomic.LoadUint64(c.metrics.UploadsFinished)),
	)

	metrics <- prometheus.MustNewConstMetric(
		uploadsTerminatedDesc,
		prometheus.CounterValue,
		float64(atomic.LoadUint64(c.metrics.UploadsTerminated)),
	)
}
