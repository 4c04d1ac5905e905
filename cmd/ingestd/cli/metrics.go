package cli

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ingestd/ingestd/pkg/handler"
	"github.com/ingestd/ingestd/pkg/prometheuscollector"
)

// MetricsOpenConnections tracks raw TCP connections accepted by the
// listener, independent of how many requests are in flight on them.
var MetricsOpenConnections = prometheus.NewGauge(prometheus.GaugeOpts{
	Name: "ingestd_connections_open",
	Help: "Current number of open connections.",
})

// SetupMetrics registers h's counters and the connection gauge, and
// mounts the Prometheus handler at the configured path.
func SetupMetrics(mux *http.ServeMux, h *handler.Handler) {
	prometheus.MustRegister(MetricsOpenConnections)
	prometheus.MustRegister(prometheuscollector.New(h.Metrics))

	stdout.Printf("Using %s as the metrics path.", Flags.MetricsPath)
	mux.Handle(Flags.MetricsPath, promhttp.Handler())
}
