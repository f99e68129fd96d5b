package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"slices"
	"syscall"
	"time"

	"github.com/mrzor/postfix-tracer/internal/attributes"
	"github.com/mrzor/postfix-tracer/internal/config"
	"github.com/mrzor/postfix-tracer/internal/correlation"
	"github.com/mrzor/postfix-tracer/internal/eventprocessor"
	"github.com/mrzor/postfix-tracer/internal/linestream"
	"github.com/mrzor/postfix-tracer/internal/logger"
	"github.com/mrzor/postfix-tracer/internal/metrics"
	"github.com/mrzor/postfix-tracer/internal/otel"
	"github.com/mrzor/postfix-tracer/internal/output"
	"github.com/mrzor/postfix-tracer/internal/reversedns"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.opentelemetry.io/otel/trace"
)

// drainTimeout bounds how long shutdown waits for a blocked input read.
const drainTimeout = 2 * time.Second

func run(ctx context.Context, cfg *config.Config, stdout io.Writer) error {
	log, closer, err := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
		Output: cfg.LogOutput,
	})
	if err != nil {
		return err
	}
	defer func() { _ = closer.Close() }()

	log.Info("starting postfix-tracer", "version", version, "commit", commit, "built", date)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	in, err := linestream.Open(cfg.Input)
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()

	processor, cleanup, err := setupPipeline(ctx, cfg, stdout, log)
	if err != nil {
		return err
	}
	defer cleanup()

	stream := linestream.New(in, processor, log)
	if err := stream.Start(ctx); err != nil {
		return err
	}

	select {
	case <-stream.Done():
	case <-ctx.Done():
		log.Info("received signal, stopping")
		_ = stream.Stop()
		select {
		case <-stream.Done():
		case <-time.After(drainTimeout):
			log.Warn("input read still blocked, exiting without final stats")
			return nil
		}
	}

	logStats(log, processor, stream)
	return stream.Wait()
}

// setupPipeline builds everything between the line stream and the reporters.
// cleanup flushes exporters; it is never nil.
func setupPipeline(ctx context.Context, cfg *config.Config, stdout io.Writer, log *slog.Logger) (*eventprocessor.Processor, func(), error) {
	var cleanups []func()
	cleanup := func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}
	fail := func(err error) (*eventprocessor.Processor, func(), error) {
		cleanup()
		return nil, nil, err
	}

	removal, err := eventprocessor.ParseRemovalPolicy(cfg.Removal)
	if err != nil {
		return fail(err)
	}
	names, err := output.ParseNames(cfg.Report)
	if err != nil {
		return fail(err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	var tracer trace.Tracer
	if slices.Contains(names, output.NameOTEL) {
		var shutdown func()
		tracer, shutdown, err = setupOTEL(ctx, log)
		if err != nil {
			return fail(err)
		}
		cleanups = append(cleanups, shutdown)
	}

	opts := output.Options{Tracer: tracer}
	if opts.Attributes, err = attributes.NewEvaluator(cfg.CustomAttributes); err != nil {
		return fail(err)
	}
	if opts.TraceIDs, err = attributes.NewTraceIDEvaluator(cfg.TraceID); err != nil {
		return fail(err)
	}
	filter, err := attributes.NewFilter(cfg.Filter)
	if err != nil {
		return fail(err)
	}

	reporter, err := output.New(cfg.Report, stdout, opts)
	if err != nil {
		return fail(err)
	}
	if cfg.Filter != "" {
		reporter = output.NewFiltered(reporter, filter)
	}

	var resolverOpts []reversedns.Option
	if cfg.ForwardDNS {
		resolverOpts = append(resolverOpts, reversedns.WithForwardLookup(net.DefaultResolver.LookupIPAddr))
	}
	resolver := reversedns.New(resolverOpts...)
	cleanups = append(cleanups, resolver.Wait)

	processor, err := eventprocessor.NewProcessor(eventprocessor.Config{
		Reporter: reporter,
		Resolver: resolver,
		Metrics:  m,
		Logger:   log,
		Removal:  removal,
		Expiry: correlation.Policy{
			RetainLines:     cfg.RetainLines,
			IdleLines:       cfg.IdleLines,
			MaxTransactions: cfg.MaxTransactions,
		},
		SweepEvery: cfg.SweepEvery,
	})
	if err != nil {
		return fail(err)
	}

	if err := metrics.RegisterTracked(reg, processor.Store().Tracked); err != nil {
		return fail(err)
	}

	if cfg.MetricsAddr != "" {
		metricsCtx, cancel := context.WithCancel(ctx)
		cleanups = append(cleanups, cancel)
		go func() {
			if err := metrics.Serve(metricsCtx, cfg.MetricsAddr, reg, log); err != nil {
				log.Error("metrics server stopped", "error", err)
			}
		}()
	}

	log.Debug("pipeline ready",
		"input", cfg.Input,
		"report", reporter.Name(),
		"filter", filter.String(),
		"removal", removal,
		"attributes", len(cfg.CustomAttributes))

	return processor, cleanup, nil
}

// setupOTEL initializes the OTEL provider and returns a tracer and cleanup function.
func setupOTEL(ctx context.Context, log *slog.Logger) (trace.Tracer, func(), error) {
	otelCfg, err := config.ParseOTELConfig()
	if err != nil {
		return nil, nil, err
	}

	tp, err := otel.InitProvider(ctx, otelCfg, log)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize OTEL provider: %w", err)
	}

	cleanup := func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otel.ShutdownProvider(shutdownCtx, tp); err != nil {
			log.Error("shutting down OTEL provider", "error", err)
		}
	}

	return tp.Tracer(otel.TracerName), cleanup, nil
}

func logStats(log *slog.Logger, p *eventprocessor.Processor, stream *linestream.Stream) {
	s := p.Stats()
	log.Info("finished",
		"lines", s.Lines,
		"oversized_dropped", stream.Dropped(),
		"unmatched", s.Unmatched,
		"finalized", s.Finalized,
		"non_final", s.NonFinal,
		"warnings", s.Warnings,
		"errors", s.Errors,
		"report_errors", s.ReportErrors,
		"still_tracked", p.Store().Tracked())
}
