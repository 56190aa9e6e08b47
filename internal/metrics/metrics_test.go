package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Counters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.CacheHit("tier")
	m.CacheHit("tier")
	m.CacheMiss("feature")
	m.Decision("feature", true)
	m.Decision("client_limit", false)
	m.Degrade("resolve_tier")
	m.Downgrades.Inc()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.CacheLookups.WithLabelValues("tier", "hit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CacheLookups.WithLabelValues("feature", "miss")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Decisions.WithLabelValues("feature", "allow")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Decisions.WithLabelValues("client_limit", "deny")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Degraded.WithLabelValues("resolve_tier")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Downgrades))

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.Len(t, families, 4)
}

func TestMetrics_NilRegisterer(t *testing.T) {
	m := New(nil)
	assert.NotPanics(t, func() { m.CacheMiss("tier") })
}
