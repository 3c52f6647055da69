// Package metrics exposes the per-category operator-visible counters
// spec.md §7 requires: parse misses, eligibility rejections, dedupe
// suppressions, durable-write retries/failures, mirror failures, and
// dropped fan-out deliveries. Counters are both Prometheus-registered (for
// /metrics) and readable in-process (for the read API's /api/health).
//
// Grounded on cuemby-warren/pkg/metrics/metrics.go's GaugeVec/CounterVec
// idiom and package-level var-block-plus-init()-registration convention;
// this is a supplemented component, not present in the teacher.
package metrics

import (
	"net/http"

	dto "github.com/prometheus/client_model/go"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ParseMiss = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "solalert_parse_miss_total",
			Help: "Messages that yielded no usable signal, by source",
		},
		[]string{"source"},
	)

	EligibilityRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "solalert_eligibility_rejected_total",
			Help: "Token states that failed an eligibility gate before tier evaluation",
		},
		[]string{"reason"},
	)

	DedupeSuppressed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "solalert_dedupe_suppressed_total",
			Help: "Alert candidates suppressed by the dedup window",
		},
	)

	DurableWriteRetries = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "solalert_durable_write_retries_total",
			Help: "Durable log write attempts beyond the first, per append",
		},
	)

	DurableWriteFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "solalert_durable_write_failures_total",
			Help: "Durable log writes that exhausted all retries and fell back to the emergency sidecar",
		},
	)

	MirrorFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "solalert_mirror_failures_total",
			Help: "Remote mirror push or reconcile attempts that failed",
		},
	)

	DroppedDeliveries = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "solalert_dropped_deliveries_total",
			Help: "Fan-out deliveries dropped due to a full inbox",
		},
	)

	DroppedStaleEvents = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "solalert_dropped_stale_events_total",
			Help: "Parsed events dropped for exceeding the ingest latency budget",
		},
	)

	AlertsEmitted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "solalert_alerts_emitted_total",
			Help: "Alerts appended to the durable log, by tier",
		},
		[]string{"tier"},
	)
)

func init() {
	prometheus.MustRegister(
		ParseMiss,
		EligibilityRejected,
		DedupeSuppressed,
		DurableWriteRetries,
		DurableWriteFailures,
		MirrorFailures,
		DroppedDeliveries,
		DroppedStaleEvents,
		AlertsEmitted,
	)
}

// Handler returns the Prometheus scrape endpoint handler for /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Snapshot is a point-in-time read of every counter's total, used by the
// read API's /api/health endpoint — cheaper than scraping /metrics from
// within the same process.
type Snapshot struct {
	DedupeSuppressed     float64 `json:"dedupeSuppressed"`
	DurableWriteRetries  float64 `json:"durableWriteRetries"`
	DurableWriteFailures float64 `json:"durableWriteFailures"`
	MirrorFailures       float64 `json:"mirrorFailures"`
	DroppedDeliveries    float64 `json:"droppedDeliveries"`
	DroppedStaleEvents   float64 `json:"droppedStaleEvents"`
}

// ReadSnapshot reads the current value of every scalar (non-vector)
// counter. Vector counters (parse-miss by source, eligibility-rejected by
// reason) are left to /metrics, since per-label breakdown doesn't fit
// this flat summary shape.
func ReadSnapshot() Snapshot {
	return Snapshot{
		DedupeSuppressed:     readCounter(DedupeSuppressed),
		DurableWriteRetries:  readCounter(DurableWriteRetries),
		DurableWriteFailures: readCounter(DurableWriteFailures),
		MirrorFailures:       readCounter(MirrorFailures),
		DroppedDeliveries:    readCounter(DroppedDeliveries),
		DroppedStaleEvents:   readCounter(DroppedStaleEvents),
	}
}

func readCounter(c prometheus.Counter) float64 {
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		return 0
	}
	return m.GetCounter().GetValue()
}
