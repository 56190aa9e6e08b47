// Package metrics содержит счётчики Prometheus для кеша и решений о правах.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics набор счётчиков сервиса.
type Metrics struct {
	CacheLookups *prometheus.CounterVec
	Decisions    *prometheus.CounterVec
	Degraded     *prometheus.CounterVec
	Downgrades   prometheus.Counter
}

// New создаёт счётчики и регистрирует их в reg. Если reg равен nil,
// счётчики работают без регистрации.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		CacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "theriq",
			Subsystem: "entitlement",
			Name:      "cache_lookups_total",
			Help:      "Entitlement cache lookups by purpose and result.",
		}, []string{"purpose", "result"}),
		Decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "theriq",
			Subsystem: "entitlement",
			Name:      "decisions_total",
			Help:      "Entitlement answers by check and outcome.",
		}, []string{"check", "outcome"}),
		Degraded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "theriq",
			Subsystem: "entitlement",
			Name:      "degraded_total",
			Help:      "Answers replaced by the conservative default after a store failure.",
		}, []string{"operation"}),
		Downgrades: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "theriq",
			Subsystem: "entitlement",
			Name:      "expiry_downgrades_total",
			Help:      "Expired subscriptions downgraded to starter.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.CacheLookups, m.Decisions, m.Degraded, m.Downgrades)
	}
	return m
}

// CacheHit учитывает попадание в кеш.
func (m *Metrics) CacheHit(purpose string) {
	m.CacheLookups.WithLabelValues(purpose, "hit").Inc()
}

// CacheMiss учитывает промах.
func (m *Metrics) CacheMiss(purpose string) {
	m.CacheLookups.WithLabelValues(purpose, "miss").Inc()
}

// Decision учитывает ответ проверки.
func (m *Metrics) Decision(check string, allowed bool) {
	outcome := "deny"
	if allowed {
		outcome = "allow"
	}
	m.Decisions.WithLabelValues(check, outcome).Inc()
}

// Degrade учитывает ответ по умолчанию после ошибки хранилища.
func (m *Metrics) Degrade(operation string) {
	m.Degraded.WithLabelValues(operation).Inc()
}
