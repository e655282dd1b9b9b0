package promtest_test

import (
	"testing"

	"github.com/docschema/docschema/kit/prom/promtest"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
)

func TestFindMetric(t *testing.T) {
	c := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "docs_total",
		Help: "docs",
	}, []string{"result"})
	c.WithLabelValues("migrated").Add(3)
	c.WithLabelValues("skipped").Inc()

	reg := prometheus.NewRegistry()
	reg.MustRegister(c)
	mfs := promtest.MustGather(t, reg)

	m := promtest.MustFindMetric(t, mfs, "docs_total", map[string]string{"result": "migrated"})
	assert.Equal(t, 3.0, m.GetCounter().GetValue())

	assert.Nil(t, promtest.FindMetric(mfs, "docs_total", map[string]string{"result": "failed"}))
	assert.Nil(t, promtest.FindMetric(mfs, "docs_total", nil))
	assert.Nil(t, promtest.FindMetric(mfs, "other_total", map[string]string{"result": "migrated"}))
}
