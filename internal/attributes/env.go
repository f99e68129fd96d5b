package attributes

import (
	"os"
	"strings"

	"github.com/mrzor/postfix-tracer/internal/txn"
)

// Option configures an evaluator.
type Option func(*options)

type options struct {
	environ map[string]string
}

// WithEnviron replaces the process environment exposed as env.
func WithEnviron(environ map[string]string) Option {
	return func(o *options) { o.environ = environ }
}

func buildOptions(opts []Option) options {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if o.environ == nil {
		o.environ = ProcessEnviron()
	}
	return o
}

// ProcessEnviron returns the current process environment as a map.
func ProcessEnviron() map[string]string {
	environ := make(map[string]string)
	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok {
			environ[k] = v
		}
	}
	return environ
}

// Env builds the evaluation environment for t.
func Env(t *txn.Transaction, environ map[string]string) map[string]interface{} {
	return map[string]interface{}{
		"env": environ,

		"serial":            int(t.Serial),
		"connection_id":     t.ConnectionID,
		"queue_id":          t.QueueID,
		"delivery_queue_id": t.DeliveryQueueID,
		"message_id":        t.MessageID,

		"timestamp":   t.Timestamp,
		"host":        t.Host(),
		"remote_host": t.RemoteHost,
		"remote_ip":   t.RemoteIP,
		"helo":        t.Helo,

		"from":  t.From,
		"to":    t.To,
		"size":  int(t.Size),
		"nrcpt": t.NRcpt,

		"transport": string(t.Transport),
		"relay":     t.Relay,
		"delay":     t.Delay.Seconds(),
		"dsn":       t.DSN,
		"result":    t.Result,
		"status":    string(t.Status),

		"spam_scanned":   t.SpamScanned,
		"spam":           t.Spam,
		"spam_score":     t.SpamScore,
		"spam_threshold": t.SpamThreshold,
		"spam_report":    t.SpamReport,

		"finalized": t.Finalized,
	}
}

// typeEnv is the environment expressions are type checked against.
func typeEnv() map[string]interface{} {
	return Env(&txn.Transaction{}, map[string]string{})
}
