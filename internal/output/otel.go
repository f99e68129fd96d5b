package output

import (
	"context"
	"time"

	"github.com/mrzor/postfix-tracer/internal/attributes"
	"github.com/mrzor/postfix-tracer/internal/txn"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// SpanName is the name of every transaction span.
const SpanName = "postfix.transaction"

// OTEL emits one span per reported transaction. The span ends when the
// transaction is reported and starts Delay earlier.
type OTEL struct {
	tracer   trace.Tracer
	attrs    *attributes.Evaluator
	traceIDs *attributes.TraceIDEvaluator
	now      func() time.Time
}

// NewOTEL creates an OTEL reporter. attrs and traceIDs may be nil.
func NewOTEL(tracer trace.Tracer, attrs *attributes.Evaluator, traceIDs *attributes.TraceIDEvaluator) *OTEL {
	return &OTEL{tracer: tracer, attrs: attrs, traceIDs: traceIDs, now: time.Now}
}

// Name implements Reporter.
func (o *OTEL) Name() string { return NameOTEL }

// Report implements Reporter.
func (o *OTEL) Report(ctx context.Context, t *txn.Transaction) error {
	var extra []attribute.KeyValue

	if o.traceIDs.Enabled() {
		traceID, warnings, err := o.traceIDs.EvaluateAndValidate(t)
		if err != nil {
			extra = append(extra, attribute.String("_trace_id_error", err.Error()))
		}
		extra = append(extra, warnings...)
		if traceID.IsValid() {
			ctx = trace.ContextWithRemoteSpanContext(ctx, remoteParent(traceID))
		}
	}

	end := o.now()
	start := end.Add(-t.Delay)

	_, span := o.tracer.Start(ctx, SpanName,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithTimestamp(start),
	)

	span.SetAttributes(transactionAttributes(t)...)

	if o.attrs != nil {
		customAttrs, err := o.attrs.EvaluateCustomAttributes(t)
		if len(customAttrs) > 0 {
			span.SetAttributes(customAttrs...)
		}
		if err != nil {
			extra = append(extra, attribute.String("_attribute_error", err.Error()))
		}
	}
	if len(extra) > 0 {
		span.SetAttributes(extra...)
	}

	if t.Status == txn.StatusRejected {
		span.SetStatus(codes.Error, t.Result)
	} else if t.Finalized {
		span.SetStatus(codes.Ok, "")
	}

	span.End(trace.WithTimestamp(end))
	return nil
}

// remoteParent builds a parent span context that pins the trace ID. The span
// ID is taken from the trace ID's low half so it is stable and non-zero.
func remoteParent(traceID trace.TraceID) trace.SpanContext {
	var spanID trace.SpanID
	copy(spanID[:], traceID[8:])
	if !spanID.IsValid() {
		copy(spanID[:], traceID[:8])
	}
	return trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: trace.FlagsSampled,
		Remote:     true,
	})
}

func transactionAttributes(t *txn.Transaction) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.Int64("mail.serial", int64(t.Serial)),
		attribute.String("mail.status", string(t.Status)),
		attribute.Bool("mail.finalized", t.Finalized),
		attribute.String("mail.from", t.From),
		attribute.String("mail.to", t.To),
		attribute.String("smtp.connection_id", t.ConnectionID),
		attribute.String("client.address", t.RemoteIP),
		attribute.String("client.host", t.Host()),
		attribute.String("mail.log_timestamp", t.Timestamp),
	}

	optional := func(key, value string) {
		if value != "" {
			attrs = append(attrs, attribute.String(key, value))
		}
	}
	optional("mail.queue_id", t.QueueID)
	optional("mail.delivery_queue_id", t.DeliveryQueueID)
	optional("mail.message_id", t.MessageID)
	optional("smtp.helo", t.Helo)
	optional("mail.transport", string(t.Transport))
	optional("mail.relay", t.Relay)
	optional("mail.dsn", t.DSN)
	optional("mail.result", t.Result)
	if t.ResolvedHost != "" {
		attrs = append(attrs, attribute.String("network.pseudo_reverse_dns.client_host", t.ResolvedHost))
	}

	if t.Size > 0 {
		attrs = append(attrs, attribute.Int64("mail.size", t.Size))
	}
	if t.NRcpt > 0 {
		attrs = append(attrs, attribute.Int("mail.nrcpt", t.NRcpt))
	}
	if t.Delay > 0 {
		attrs = append(attrs, attribute.Float64("mail.delay_seconds", t.Delay.Seconds()))
	}

	if t.SpamScanned || t.Spam {
		attrs = append(attrs,
			attribute.Bool("spam.verdict", t.Spam),
			attribute.Float64("spam.score", t.SpamScore),
			attribute.Float64("spam.threshold", t.SpamThreshold),
			attribute.Float64("spam.scan_delay_seconds", t.SpamScanDelay.Seconds()),
		)
		optional("spam.report", t.SpamReport)
	}
	return attrs
}
