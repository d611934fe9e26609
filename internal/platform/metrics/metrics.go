package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus metrics of the admin sign-in service.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	StoreAttempts      *prometheus.CounterVec
	StoreFallbacks     *prometheus.CounterVec
	BlockingDetected   prometheus.Counter
	FallbackSynced     *prometheus.CounterVec
	TokensIssued       *prometheus.CounterVec
	TokenVerifications *prometheus.CounterVec
	SignIns            *prometheus.CounterVec
	ActiveSessions     prometheus.Gauge
	StoreDegraded      prometheus.Gauge
	CleanupDeleted     *prometheus.CounterVec
	EndpointLatency    *prometheus.HistogramVec
}

// New creates the metrics and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		StoreAttempts: f.NewCounterVec(prometheus.CounterOpts{
			Name: "clubadmin_store_attempts_total",
			Help: "Remote store attempts, labeled by operation and result",
		}, []string{"op", "result"}),
		StoreFallbacks: f.NewCounterVec(prometheus.CounterOpts{
			Name: "clubadmin_store_fallbacks_total",
			Help: "Operations served by the local fallback, labeled by operation",
		}, []string{"op"}),
		BlockingDetected: f.NewCounter(prometheus.CounterOpts{
			Name: "clubadmin_store_blocking_detected_total",
			Help: "Times a blocking failure marked the remote store unavailable",
		}),
		FallbackSynced: f.NewCounterVec(prometheus.CounterOpts{
			Name: "clubadmin_fallback_sync_total",
			Help: "Fallback records reconciled into the remote store, labeled by result",
		}, []string{"result"}),
		TokensIssued: f.NewCounterVec(prometheus.CounterOpts{
			Name: "clubadmin_tokens_issued_total",
			Help: "One-time tokens issued, labeled by mode",
		}, []string{"mode"}),
		TokenVerifications: f.NewCounterVec(prometheus.CounterOpts{
			Name: "clubadmin_token_verifications_total",
			Help: "Token verifications, labeled by outcome",
		}, []string{"outcome"}),
		SignIns: f.NewCounterVec(prometheus.CounterOpts{
			Name: "clubadmin_signins_total",
			Help: "Sign-in attempts, labeled by outcome",
		}, []string{"outcome"}),
		ActiveSessions: f.NewGauge(prometheus.GaugeOpts{
			Name: "clubadmin_session_machines",
			Help: "Session state machines currently held in memory",
		}),
		StoreDegraded: f.NewGauge(prometheus.GaugeOpts{
			Name: "clubadmin_store_degraded",
			Help: "1 while the remote store is considered unavailable or offline",
		}),
		CleanupDeleted: f.NewCounterVec(prometheus.CounterOpts{
			Name: "clubadmin_cleanup_deleted_total",
			Help: "Records removed by the cleanup worker, labeled by kind",
		}, []string{"kind"}),
		EndpointLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "clubadmin_endpoint_latency_seconds",
			Help:    "Latency of endpoints in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"endpoint"}),
	}
}

func (m *Metrics) IncStoreAttempt(op, result string) {
	if m == nil {
		return
	}
	m.StoreAttempts.WithLabelValues(op, result).Inc()
}

func (m *Metrics) IncStoreFallback(op string) {
	if m == nil {
		return
	}
	m.StoreFallbacks.WithLabelValues(op).Inc()
}

func (m *Metrics) IncBlockingDetected() {
	if m == nil {
		return
	}
	m.BlockingDetected.Inc()
}

func (m *Metrics) IncFallbackSynced(result string) {
	if m == nil {
		return
	}
	m.FallbackSynced.WithLabelValues(result).Inc()
}

func (m *Metrics) IncTokenIssued(mode string) {
	if m == nil {
		return
	}
	m.TokensIssued.WithLabelValues(mode).Inc()
}

func (m *Metrics) IncTokenVerification(outcome string) {
	if m == nil {
		return
	}
	m.TokenVerifications.WithLabelValues(outcome).Inc()
}

func (m *Metrics) IncSignIn(outcome string) {
	if m == nil {
		return
	}
	m.SignIns.WithLabelValues(outcome).Inc()
}

func (m *Metrics) SetSessionMachines(n int) {
	if m == nil {
		return
	}
	m.ActiveSessions.Set(float64(n))
}

func (m *Metrics) SetStoreDegraded(degraded bool) {
	if m == nil {
		return
	}
	v := 0.0
	if degraded {
		v = 1
	}
	m.StoreDegraded.Set(v)
}

func (m *Metrics) AddCleanupDeleted(kind string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.CleanupDeleted.WithLabelValues(kind).Add(float64(n))
}

// ObserveEndpointLatency implements request.LatencyObserver.
func (m *Metrics) ObserveEndpointLatency(endpoint string, seconds float64) {
	if m == nil {
		return
	}
	m.EndpointLatency.WithLabelValues(endpoint).Observe(seconds)
}
