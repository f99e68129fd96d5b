// Package metrics exposes Prometheus instrumentation for log ingestion,
// correlation and reporting.
//
// A nil *Metrics is valid and records nothing, so components can be built
// without instrumentation in tests.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "postfix_tracer"

// Metrics holds the tracer's collectors.
type Metrics struct {
	LinesTotal        *prometheus.CounterVec
	ParseErrorsTotal  *prometheus.CounterVec
	MissesTotal       *prometheus.CounterVec
	FinalizedTotal    *prometheus.CounterVec
	NonFinalTotal     prometheus.Counter
	ReportErrorsTotal *prometheus.CounterVec
	EvictionsTotal    *prometheus.CounterVec
}

// New registers the collectors with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		LinesTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "lines_total",
				Help:      "Log lines processed, by matching rule (unmatched when none).",
			},
			[]string{"rule"},
		),
		ParseErrorsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "parse_errors_total",
				Help:      "Lines selected by a rule whose fields could not be parsed.",
			},
			[]string{"category"},
		),
		MissesTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "correlation_misses_total",
				Help:      "Lines whose correlation key was not found.",
			},
			[]string{"handler", "severity"},
		),
		FinalizedTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "transactions_finalized_total",
				Help:      "Transactions finalized, by status.",
			},
			[]string{"status"},
		),
		NonFinalTotal: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "transactions_nonfinal_reports_total",
				Help:      "Queue removals reported before the transaction was complete.",
			},
		),
		ReportErrorsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "report_errors_total",
				Help:      "Reporter failures.",
			},
			[]string{"reporter"},
		),
		EvictionsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "evictions_total",
				Help:      "Transactions dropped from the correlation store, by reason.",
			},
			[]string{"reason"},
		),
	}
}

// RegisterTracked exposes the number of transactions held in memory.
func RegisterTracked(reg prometheus.Registerer, tracked func() int) error {
	return reg.Register(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "transactions_tracked",
			Help:      "Transactions currently held by the correlation store.",
		},
		func() float64 { return float64(tracked()) },
	))
}

// Line counts a processed line under rule.
func (m *Metrics) Line(rule string) {
	if m == nil {
		return
	}
	m.LinesTotal.WithLabelValues(rule).Inc()
}

// ParseError counts a malformed line of the given category.
func (m *Metrics) ParseError(category string) {
	if m == nil {
		return
	}
	m.ParseErrorsTotal.WithLabelValues(category).Inc()
}

// Miss counts a correlation miss.
func (m *Metrics) Miss(handler, severity string) {
	if m == nil {
		return
	}
	m.MissesTotal.WithLabelValues(handler, severity).Inc()
}

// Finalized counts a finalized transaction.
func (m *Metrics) Finalized(status string) {
	if m == nil {
		return
	}
	if status == "" {
		status = "none"
	}
	m.FinalizedTotal.WithLabelValues(status).Inc()
}

// NonFinal counts a non-final removal report.
func (m *Metrics) NonFinal() {
	if m == nil {
		return
	}
	m.NonFinalTotal.Inc()
}

// ReportError counts a reporter failure.
func (m *Metrics) ReportError(reporter string) {
	if m == nil {
		return
	}
	m.ReportErrorsTotal.WithLabelValues(reporter).Inc()
}

// Evicted counts n evictions for reason.
func (m *Metrics) Evicted(reason string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.EvictionsTotal.WithLabelValues(reason).Add(float64(n))
}

// Serve exposes g on addr at /metrics until ctx is cancelled.
func Serve(ctx context.Context, addr string, g prometheus.Gatherer, log *slog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Warn("shutting down metrics server", "error", err)
		}
	}()

	log.Info("metrics server listening", "addr", addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics server failed: %w", err)
	}
	return nil
}
