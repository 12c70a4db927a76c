package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "treegrid",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total admin HTTP requests.",
		},
		[]string{"rank", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "treegrid",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Admin HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"rank", "method", "path", "status"},
	)
	phaseDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "treegrid",
			Subsystem: "filter",
			Name:      "phase_duration_seconds",
			Help:      "Duration of one filter phase on this rank.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 4, 10),
		},
		[]string{"filter", "phase"},
	)
	treesMoved = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "treegrid",
			Subsystem: "redistribute",
			Name:      "trees_total",
			Help:      "Trees handled by redistribution, by direction.",
		},
		[]string{"direction"},
	)
	bytesExchanged = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "treegrid",
			Subsystem: "redistribute",
			Name:      "exchanged_bytes_total",
			Help:      "Payload bytes sent by redistribution exchanges.",
		},
		[]string{"payload"},
	)
	ghostPasses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "treegrid",
			Subsystem: "ghost",
			Name:      "passes_total",
			Help:      "Ghost front-end passes by leaf kind and mode.",
		},
		[]string{"kind", "mode"},
	)
	filterIssues = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "treegrid",
			Subsystem: "filter",
			Name:      "issues_total",
			Help:      "Non-fatal conditions reported by filters.",
		},
		[]string{"filter", "issue"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequests, httpDuration,
			phaseDuration, treesMoved, bytesExchanged,
			ghostPasses, filterIssues,
		)
	})
}

// RecordHTTPRequest counts one admin request. rank is the rank the request
// addressed, or a fixed label for routes that cover the whole process.
func RecordHTTPRequest(rank, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(rank, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(rank, method, path, statusLabel).Observe(duration.Seconds())
}

func RecordPhase(filter, phase string, duration time.Duration) {
	RegisterMetrics()
	phaseDuration.WithLabelValues(filter, phase).Observe(duration.Seconds())
}

func RecordTrees(kept, sent, received int) {
	RegisterMetrics()
	treesMoved.WithLabelValues("kept").Add(float64(kept))
	treesMoved.WithLabelValues("sent").Add(float64(sent))
	treesMoved.WithLabelValues("received").Add(float64(received))
}

func RecordBytesExchanged(payload string, n int) {
	RegisterMetrics()
	bytesExchanged.WithLabelValues(payload).Add(float64(n))
}

func RecordGhostPass(kind, mode string) {
	RegisterMetrics()
	ghostPasses.WithLabelValues(kind, mode).Inc()
}

func RecordIssue(filter, issue string) {
	RegisterMetrics()
	filterIssues.WithLabelValues(filter, issue).Inc()
}
