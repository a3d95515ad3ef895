package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// EngineMetrics counts flag, entitlement, usage and cycle outcomes.
type EngineMetrics struct {
	flagResolutions      *prometheus.CounterVec
	entitlementDecisions *prometheus.CounterVec
	usageRecorded        *prometheus.CounterVec
	cycleOrgs            *prometheus.CounterVec
	cycleNotifications   *prometheus.CounterVec
	cycleDuration        prometheus.Observer
}

var (
	engineMetricsOnce sync.Once
	engineMetrics     *EngineMetrics
)

func Engine() *EngineMetrics {
	return EngineWithConfig(Config{})
}

func EngineWithConfig(cfg Config) *EngineMetrics {
	engineMetricsOnce.Do(func() {
		engineMetrics = newEngineMetrics(prometheus.DefaultRegisterer, cfg)
	})
	return engineMetrics
}

func newEngineMetrics(registerer prometheus.Registerer, cfg Config) *EngineMetrics {
	constLabels := cfg.constLabels()

	m := &EngineMetrics{
		flagResolutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "tollgate_flag_resolutions_total",
			Help:        "Flag resolutions by winning scope and outcome.",
			ConstLabels: constLabels,
		}, []string{"scope", "outcome"}),
		entitlementDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "tollgate_entitlement_decisions_total",
			Help:        "Entitlement decisions by source and result.",
			ConstLabels: constLabels,
		}, []string{"source", "allowed"}),
		usageRecorded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "tollgate_usage_events_total",
			Help:        "Usage events accepted by the ledger.",
			ConstLabels: constLabels,
		}, []string{"outcome"}),
		cycleOrgs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "tollgate_usage_cycle_organizations_total",
			Help:        "Organizations evaluated by usage cycles.",
			ConstLabels: constLabels,
		}, []string{"outcome"}),
		cycleNotifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "tollgate_usage_cycle_notifications_total",
			Help:        "Usage alert tasks emitted by type.",
			ConstLabels: constLabels,
		}, []string{"type"}),
	}
	cycleDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:        "tollgate_usage_cycle_duration_seconds",
		Help:        "Usage cycle wall time.",
		Buckets:     prometheus.ExponentialBuckets(0.05, 2, 14),
		ConstLabels: constLabels,
	})
	m.cycleDuration = cycleDuration

	registerer.MustRegister(
		m.flagResolutions,
		m.entitlementDecisions,
		m.usageRecorded,
		m.cycleOrgs,
		m.cycleNotifications,
		cycleDuration,
	)
	return m
}

// IncFlagResolution records a resolution. An empty scope means the caller default won.
func (m *EngineMetrics) IncFlagResolution(scope, outcome string) {
	if m == nil {
		return
	}
	if scope == "" {
		scope = "default"
	}
	m.flagResolutions.WithLabelValues(scope, outcome).Inc()
}

func (m *EngineMetrics) IncEntitlementDecision(source string, allowed bool) {
	if m == nil {
		return
	}
	result := "false"
	if allowed {
		result = "true"
	}
	m.entitlementDecisions.WithLabelValues(source, result).Inc()
}

func (m *EngineMetrics) IncUsageRecorded(outcome string) {
	if m == nil {
		return
	}
	m.usageRecorded.WithLabelValues(outcome).Inc()
}

func (m *EngineMetrics) IncCycleOrganization(outcome string) {
	if m == nil {
		return
	}
	m.cycleOrgs.WithLabelValues(outcome).Inc()
}

func (m *EngineMetrics) AddCycleNotifications(kind string, count int) {
	if m == nil || count <= 0 {
		return
	}
	m.cycleNotifications.WithLabelValues(kind).Add(float64(count))
}

func (m *EngineMetrics) ObserveCycleDuration(seconds float64) {
	if m == nil {
		return
	}
	m.cycleDuration.Observe(seconds)
}
