package eventprocessor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/mrzor/postfix-tracer/internal/correlation"
	"github.com/mrzor/postfix-tracer/internal/logger"
	"github.com/mrzor/postfix-tracer/internal/logline"
	"github.com/mrzor/postfix-tracer/internal/metrics"
	"github.com/mrzor/postfix-tracer/internal/reversedns"
	"github.com/mrzor/postfix-tracer/internal/txn"
)

// Reporter receives transactions judged complete, in log order.
// A returned error is logged and counted; it never stops ingestion.
type Reporter interface {
	Report(ctx context.Context, t *txn.Transaction) error
}

// RemovalPolicy decides what a queue removal does when the transaction is
// not complete yet (it went through a content filter pipe and the
// re-injected copy is still queued).
type RemovalPolicy string

// Removal policies.
const (
	// RemovalMark reports the transaction with Finalized unset and keeps it live.
	RemovalMark RemovalPolicy = "mark"
	// RemovalDrop only logs the removal.
	RemovalDrop RemovalPolicy = "drop"
	// RemovalAll finalizes on every removal.
	RemovalAll RemovalPolicy = "all"
)

// ParseRemovalPolicy validates s. The empty string selects RemovalMark.
func ParseRemovalPolicy(s string) (RemovalPolicy, error) {
	switch RemovalPolicy(s) {
	case "":
		return RemovalMark, nil
	case RemovalMark, RemovalDrop, RemovalAll:
		return RemovalPolicy(s), nil
	default:
		return "", fmt.Errorf("unknown removal policy %q (expected mark, drop or all)", s)
	}
}

// Config holds the processor's collaborators. Only Reporter is required.
type Config struct {
	Reporter Reporter
	Resolver *reversedns.Resolver
	Metrics  *metrics.Metrics
	Logger   *slog.Logger

	Removal    RemovalPolicy
	Expiry     correlation.Policy
	SweepEvery uint64 // lines between expiry sweeps; 0 disables sweeping
}

// Stats counts what the processor has seen.
type Stats struct {
	Lines        uint64
	Unmatched    uint64
	Finalized    uint64
	NonFinal     uint64
	Warnings     uint64
	Errors       uint64
	ReportErrors uint64
}

// Processor correlates log lines into transactions.
// It is not safe for concurrent use; feed it from a single goroutine.
type Processor struct {
	store      *correlation.Store
	classifier *logline.Classifier
	reporter   Reporter
	resolver   *reversedns.Resolver
	metrics    *metrics.Metrics
	log        *slog.Logger
	removal    RemovalPolicy
	sweepEvery uint64
	stats      Stats
}

// NewProcessor creates a processor with the shipped rule set.
func NewProcessor(cfg Config) (*Processor, error) {
	if cfg.Reporter == nil {
		return nil, errors.New("reporter is required")
	}
	removal, err := ParseRemovalPolicy(string(cfg.Removal))
	if err != nil {
		return nil, err
	}

	p := &Processor{
		classifier: logline.NewClassifier(),
		reporter:   cfg.Reporter,
		resolver:   cfg.Resolver,
		metrics:    cfg.Metrics,
		log:        cfg.Logger,
		removal:    removal,
		sweepEvery: cfg.SweepEvery,
	}
	if p.log == nil {
		p.log = logger.Discard()
	}

	p.store, err = correlation.NewStore(cfg.Expiry, p.onEvict)
	if err != nil {
		return nil, err
	}

	handlers := map[string]logline.HandlerFunc{
		logline.RuleConnect: p.onConnect,
		logline.RuleNoQueue: p.onEarlyReject,
		logline.RuleAccept:  p.onAccept,
		logline.RuleRemoved: p.onRemoved,
		logline.RuleCleanup: p.onCleanup,
		logline.RuleQueued:  p.onQueued,
		logline.RuleSpam:    p.onSpam,
		logline.RulePipe:    p.onDelivery(txn.TransportPipe),
		logline.RuleSMTP:    p.onDelivery(txn.TransportSMTP),
		logline.RuleVirtual: p.onDelivery(txn.TransportVirtual),
	}
	for _, pat := range logline.Patterns {
		if err := p.classifier.Register(pat.Name, pat.Expr, handlers[pat.Name]); err != nil {
			return nil, fmt.Errorf("registering rules: %w", err)
		}
	}

	return p, nil
}

// Store exposes the correlation store for read-only queries.
func (p *Processor) Store() *correlation.Store {
	return p.store
}

// Stats returns a snapshot of the counters.
func (p *Processor) Stats() Stats {
	return p.stats
}

// HandleLine processes one raw log line. Diagnostics are logged and counted
// here; the returned error joins them for callers that want to inspect
// them. It never signals that ingestion should stop.
func (p *Processor) HandleLine(ctx context.Context, line string) error {
	clock := p.store.Tick()
	p.stats.Lines++

	outcomes := p.classifier.Dispatch(ctx, line)
	if len(outcomes) == 0 {
		p.stats.Unmatched++
		p.metrics.Line("unmatched")
	}

	var errs []error
	for _, o := range outcomes {
		p.metrics.Line(o.Rule)
		if o.Err != nil {
			p.logOutcome(o, line)
			errs = append(errs, o.Err)
		}
	}

	if p.sweepEvery > 0 && clock%p.sweepEvery == 0 {
		p.Sweep()
	}

	return errors.Join(errs...)
}

// Sweep runs the expiry policy now.
func (p *Processor) Sweep() {
	evicted := p.store.Sweep()
	if len(evicted) > 0 {
		p.log.Debug("swept correlation store",
			"retained", evicted[correlation.EvictRetained],
			"idle", evicted[correlation.EvictIdle],
			"tracked", p.store.Tracked())
	}
}

func (p *Processor) logOutcome(o logline.Outcome, line string) {
	switch {
	case IsWarning(o.Err):
		p.stats.Warnings++
		p.metrics.Miss(o.Rule, "warning")
		p.log.Warn("correlation miss", "rule", o.Rule, "error", o.Err)
	case errors.Is(o.Err, logline.ErrMalformed):
		p.stats.Errors++
		p.metrics.ParseError(o.Rule)
		p.log.Error("malformed line", "rule", o.Rule, "error", o.Err, "line", line)
	default:
		p.stats.Errors++
		p.metrics.Miss(o.Rule, "error")
		p.log.Error("correlation miss", "rule", o.Rule, "error", o.Err)
	}
}

// softMiss records a missing key whose line only enriches a transaction.
func (p *Processor) softMiss(rule, msg string, args ...any) {
	p.metrics.Miss(rule, "soft")
	p.log.Debug(msg, append([]any{"rule", rule}, args...)...)
}

// onEvict runs under the store lock; it must not call back into the store.
func (p *Processor) onEvict(t *txn.Transaction, reason correlation.EvictReason) {
	p.metrics.Evicted(string(reason), 1)
	if !t.Finalized && reason != correlation.EvictDeleted {
		p.log.Debug("evicting unfinished transaction",
			"reason", reason,
			"connection_id", t.ConnectionID,
			"queue_id", t.QueueID,
			"message_id", t.MessageID)
	}
}

// finalize reports t once. Later calls only log.
func (p *Processor) finalize(ctx context.Context, t *txn.Transaction) {
	if t.Finalized {
		p.log.Debug("already finalized", "queue_id", t.QueueID, "status", t.Status)
		return
	}
	p.store.MarkFinalized(t)
	p.stats.Finalized++
	p.metrics.Finalized(string(t.Status))
	p.report(ctx, t)
}

func (p *Processor) report(ctx context.Context, t *txn.Transaction) {
	if p.resolver != nil && t.RemoteHost == "unknown" && t.ResolvedHost == "" {
		t.ResolvedHost = p.resolver.Resolve(t.RemoteIP)
	}

	if err := p.reporter.Report(ctx, t); err != nil {
		p.stats.ReportErrors++
		p.metrics.ReportError(reporterName(p.reporter))
		p.log.Error("reporting transaction", "queue_id", t.QueueID, "error", err)
	}
}

func reporterName(r Reporter) string {
	if n, ok := r.(interface{ Name() string }); ok {
		return n.Name()
	}
	return "reporter"
}
