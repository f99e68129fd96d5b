package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Counters(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.Line("connect")
	m.Line("connect")
	m.Line("unmatched")
	m.ParseError("cleanup")
	m.Miss("onAccept", "warning")
	m.Finalized("relayed")
	m.Finalized("")
	m.NonFinal()
	m.ReportError("otel")
	m.Evicted("idle", 3)
	m.Evicted("capacity", 0)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.LinesTotal.WithLabelValues("connect")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.LinesTotal.WithLabelValues("unmatched")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ParseErrorsTotal.WithLabelValues("cleanup")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.MissesTotal.WithLabelValues("onAccept", "warning")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.FinalizedTotal.WithLabelValues("relayed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.FinalizedTotal.WithLabelValues("none")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.NonFinalTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ReportErrorsTotal.WithLabelValues("otel")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.EvictionsTotal.WithLabelValues("idle")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.EvictionsTotal), "zero evictions create no series")
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.Line("x")
		m.ParseError("x")
		m.Miss("x", "error")
		m.Finalized("spam")
		m.NonFinal()
		m.ReportError("x")
		m.Evicted("idle", 1)
	})
}

func TestRegisterTracked(t *testing.T) {
	reg := prometheus.NewRegistry()
	n := 7
	require.NoError(t, RegisterTracked(reg, func() int { return n }))

	expected := `
# HELP postfix_tracer_transactions_tracked Transactions currently held by the correlation store.
# TYPE postfix_tracer_transactions_tracked gauge
postfix_tracer_transactions_tracked 7
`
	assert.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "postfix_tracer_transactions_tracked"))

	assert.Error(t, RegisterTracked(reg, func() int { return 0 }), "duplicate registration")
}

func TestMetrics_HTTPExposition(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	m.Miss("onRemoved", "error")

	server := httptest.NewServer(promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	defer server.Close()

	resp, err := http.Get(server.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `postfix_tracer_correlation_misses_total{handler="onRemoved",severity="error"} 1`)
}
