package access

import (
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes Prometheus collectors for cache and authorization behaviour. A nil *Metrics
// is valid and records nothing.
type Metrics struct {
	cacheHits       *prometheus.CounterVec
	cacheMisses     *prometheus.CounterVec
	sharedFlights   *prometheus.CounterVec
	computeDuration *prometheus.HistogramVec
	decisions       *prometheus.CounterVec
	invalidations   *prometheus.CounterVec
}

// NewMetrics registers the access collectors against reg, reusing collectors that are already
// registered. A nil reg falls back to the default registerer.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		cacheHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "odyssey_access_cache_hits_total",
			Help: "Number of access cache hits by result kind.",
		}, []string{"kind"}),
		cacheMisses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "odyssey_access_cache_miss_total",
			Help: "Number of access cache misses by result kind.",
		}, []string{"kind"}),
		sharedFlights: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "odyssey_access_cache_shared_total",
			Help: "Number of callers that joined an in-flight resolution.",
		}, []string{"kind"}),
		computeDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "odyssey_access_resolve_duration_seconds",
			Help:    "Duration of access resolutions by result kind and status.",
			Buckets: prometheus.DefBuckets,
		}, []string{"kind", "status"}),
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "odyssey_access_decisions_total",
			Help: "Authorization decisions partitioned by result (allow, deny, error).",
		}, []string{"result"}),
		invalidations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "odyssey_access_invalidations_total",
			Help: "Cache invalidations by scope and origin.",
		}, []string{"scope", "source"}),
	}

	var err error
	if m.cacheHits, err = registerVec(reg, m.cacheHits); err != nil {
		return nil, err
	}
	if m.cacheMisses, err = registerVec(reg, m.cacheMisses); err != nil {
		return nil, err
	}
	if m.sharedFlights, err = registerVec(reg, m.sharedFlights); err != nil {
		return nil, err
	}
	if m.computeDuration, err = registerVec(reg, m.computeDuration); err != nil {
		return nil, err
	}
	if m.decisions, err = registerVec(reg, m.decisions); err != nil {
		return nil, err
	}
	if m.invalidations, err = registerVec(reg, m.invalidations); err != nil {
		return nil, err
	}
	return m, nil
}

func registerVec[T prometheus.Collector](reg prometheus.Registerer, c T) (T, error) {
	if err := reg.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			existing, ok := already.ExistingCollector.(T)
			if !ok {
				return c, fmt.Errorf("access metrics: unexpected collector type %T", already.ExistingCollector)
			}
			return existing, nil
		}
		return c, err
	}
	return c, nil
}

func (m *Metrics) recordHit(kind ResultKind) {
	if m == nil {
		return
	}
	m.cacheHits.WithLabelValues(kind.String()).Inc()
}

func (m *Metrics) recordMiss(kind ResultKind) {
	if m == nil {
		return
	}
	m.cacheMisses.WithLabelValues(kind.String()).Inc()
}

func (m *Metrics) recordShared(kind ResultKind) {
	if m == nil {
		return
	}
	m.sharedFlights.WithLabelValues(kind.String()).Inc()
}

func (m *Metrics) observeCompute(kind ResultKind, err error, d time.Duration) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.computeDuration.WithLabelValues(kind.String(), status).Observe(d.Seconds())
}

func (m *Metrics) recordDecision(allowed bool, err error) {
	if m == nil {
		return
	}
	result := "deny"
	switch {
	case err != nil:
		result = "error"
	case allowed:
		result = "allow"
	}
	m.decisions.WithLabelValues(result).Inc()
}

func (m *Metrics) recordInvalidation(scope, source string) {
	if m == nil {
		return
	}
	m.invalidations.WithLabelValues(scope, source).Inc()
}
