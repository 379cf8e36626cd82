package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	recordUploadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sharedcal_record_uploads_total",
		Help: "Total number of record uploads attempted, by result.",
	}, []string{"result"})

	recordDeletesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sharedcal_record_deletes_total",
		Help: "Total number of record deletes attempted, by result.",
	}, []string{"result"})

	syncCyclesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sharedcal_sync_cycles_total",
		Help: "Total number of sync cycles, by whether the partner view was refreshed.",
	}, []string{"refreshed"})

	partnerEvents = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sharedcal_partner_events",
		Help: "Number of partner events seen by the last sync.",
	})

	gatekeeperDecisionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sharedcal_gatekeeper_decisions_total",
		Help: "Total number of session availability checks, by reason.",
	}, []string{"reason"})

	storeLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "sharedcal_store_latency_seconds",
		Help:    "Histogram of remote store operation latencies.",
		Buckets: prometheus.DefBuckets,
	}, []string{"backend", "operation", "status"})
)

// Handler exposes the Prometheus metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveUpload counts one record upload.
func ObserveUpload(err error) {
	recordUploadsTotal.WithLabelValues(resultLabel(err)).Inc()
}

// ObserveDelete counts one record delete.
func ObserveDelete(err error) {
	recordDeletesTotal.WithLabelValues(resultLabel(err)).Inc()
}

// ObserveSync records the outcome of a finished sync cycle.
func ObserveSync(refreshed bool, partnerCount int) {
	label := "false"
	if refreshed {
		label = "true"
		partnerEvents.Set(float64(partnerCount))
	}
	syncCyclesTotal.WithLabelValues(label).Inc()
}

// ObserveGatekeeper counts one availability decision.
func ObserveGatekeeper(reason string) {
	gatekeeperDecisionsTotal.WithLabelValues(reason).Inc()
}

// ObserveStoreCall records latency for a remote store operation.
func ObserveStoreCall(backend, operation string, start time.Time, err error) {
	storeLatency.WithLabelValues(backend, operation, resultLabel(err)).Observe(time.Since(start).Seconds())
}

func resultLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
