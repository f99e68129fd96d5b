package output

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/mrzor/postfix-tracer/internal/attributes"
	"github.com/mrzor/postfix-tracer/internal/txn"
	"go.opentelemetry.io/otel/trace"
)

// Reporter receives transactions judged complete.
type Reporter interface {
	Report(ctx context.Context, t *txn.Transaction) error
	Name() string
}

// Reporter names accepted by New.
const (
	NameSummary = "summary"
	NameSpam    = "spam"
	NameDetail  = "detail"
	NameJSON    = "json"
	NameOTEL    = "otel"
)

// Options carries what the non-text reporters need.
type Options struct {
	// Tracer is required when otel is selected.
	Tracer trace.Tracer
	// Attributes adds custom span attributes. Optional.
	Attributes *attributes.Evaluator
	// TraceIDs derives span trace IDs. Optional.
	TraceIDs *attributes.TraceIDEvaluator
}

// ParseNames splits a comma-separated reporter list, trimming blanks and
// rejecting unknown or repeated names.
func ParseNames(s string) ([]string, error) {
	var names []string
	seen := make(map[string]bool)
	for _, n := range strings.Split(s, ",") {
		n = strings.ToLower(strings.TrimSpace(n))
		if n == "" {
			continue
		}
		switch n {
		case NameSummary, NameSpam, NameDetail, NameJSON, NameOTEL:
		default:
			return nil, fmt.Errorf("unknown reporter %q (expected summary, spam, detail, json or otel)", n)
		}
		if seen[n] {
			return nil, fmt.Errorf("reporter %q listed twice", n)
		}
		seen[n] = true
		names = append(names, n)
	}
	if len(names) == 0 {
		return nil, errors.New("no reporter selected")
	}
	return names, nil
}

// New builds the reporters named in the comma-separated list. Text and
// JSON reporters write to w. A single name returns that reporter; several
// return a Multi.
func New(list string, w io.Writer, opts Options) (Reporter, error) {
	names, err := ParseNames(list)
	if err != nil {
		return nil, err
	}

	// Text reporters share one writer; serialize their writes.
	w = &syncWriter{w: w}

	reporters := make([]Reporter, 0, len(names))
	for _, n := range names {
		switch n {
		case NameSummary:
			reporters = append(reporters, NewSummary(w))
		case NameSpam:
			reporters = append(reporters, NewSpam(w))
		case NameDetail:
			reporters = append(reporters, NewDetail(w))
		case NameJSON:
			reporters = append(reporters, NewJSON(w))
		case NameOTEL:
			if opts.Tracer == nil {
				return nil, errors.New("otel reporter requires a tracer")
			}
			reporters = append(reporters, NewOTEL(opts.Tracer, opts.Attributes, opts.TraceIDs))
		}
	}

	if len(reporters) == 1 {
		return reporters[0], nil
	}
	return NewMulti(reporters...), nil
}

// Multi reports to every wrapped reporter in order. One reporter failing
// does not stop the others.
type Multi struct {
	reporters []Reporter
}

// NewMulti creates a fan-out reporter.
func NewMulti(reporters ...Reporter) *Multi {
	return &Multi{reporters: reporters}
}

// Name returns the wrapped names joined by commas.
func (m *Multi) Name() string {
	names := make([]string, len(m.reporters))
	for i, r := range m.reporters {
		names[i] = r.Name()
	}
	return strings.Join(names, ",")
}

// Report implements Reporter.
func (m *Multi) Report(ctx context.Context, t *txn.Transaction) error {
	var errs []error
	for _, r := range m.reporters {
		if err := r.Report(ctx, t); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", r.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// Filtered reports only transactions matching an expression.
type Filtered struct {
	next   Reporter
	filter *attributes.Filter
}

// NewFiltered wraps next behind filter. A nil or empty filter passes everything.
func NewFiltered(next Reporter, filter *attributes.Filter) *Filtered {
	return &Filtered{next: next, filter: filter}
}

// Name implements Reporter.
func (f *Filtered) Name() string {
	return f.next.Name()
}

// Report implements Reporter.
func (f *Filtered) Report(ctx context.Context, t *txn.Transaction) error {
	ok, err := f.filter.Match(t)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	return f.next.Report(ctx, t)
}

type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *syncWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}
