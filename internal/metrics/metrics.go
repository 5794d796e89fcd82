package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Desk side.
	SyncPushes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "exot", Subsystem: "sync", Name: "pushes_total", Help: "Collection pushes by outcome",
	}, []string{"collection", "outcome"})
	SyncPulls = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "exot", Subsystem: "sync", Name: "pulls_total", Help: "Full pulls by outcome",
	}, []string{"outcome"})
	ResolverDecisions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "exot", Subsystem: "sync", Name: "resolver_decisions_total", Help: "Conflict resolver decisions",
	}, []string{"collection", "decision"})

	// Authority side.
	ReconcileDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "exot", Subsystem: "authority", Name: "reconcile_seconds", Help: "Reconciling push latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"collection"})
	ReconcileErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "exot", Subsystem: "authority", Name: "reconcile_errors_total", Help: "Rolled back pushes",
	}, []string{"collection"})
	SignalSubscribers = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "exot", Subsystem: "authority", Name: "signal_subscribers", Help: "Connected signal websockets",
	})
)

func init() {
	prometheus.MustRegister(SyncPushes, SyncPulls, ResolverDecisions, ReconcileDuration, ReconcileErrors, SignalSubscribers)
}

func Handler() http.Handler { return promhttp.Handler() }

// Outcome labels.
const (
	OutcomeOK       = "ok"
	OutcomeOffline  = "offline"
	OutcomeRejected = "rejected"
)

func ObservePush(collection, outcome string) { SyncPushes.WithLabelValues(collection, outcome).Inc() }

func ObservePull(outcome string) { SyncPulls.WithLabelValues(outcome).Inc() }

func ObserveDecision(collection, decision string) {
	ResolverDecisions.WithLabelValues(collection, decision).Inc()
}

func ObserveReconcile(collection string, d time.Duration, err error) {
	ReconcileDuration.WithLabelValues(collection).Observe(d.Seconds())
	if err != nil {
		ReconcileErrors.WithLabelValues(collection).Inc()
	}
}
