package output

import (
	"context"
	"io"

	"github.com/bytedance/sonic"
	"github.com/mrzor/postfix-tracer/internal/txn"
)

var jsonConfig = sonic.ConfigStd

// Record is the JSON form of a transaction.
type Record struct {
	Serial          uint64 `json:"serial"`
	ConnectionID    string `json:"connection_id,omitempty"`
	QueueID         string `json:"queue_id,omitempty"`
	DeliveryQueueID string `json:"delivery_queue_id,omitempty"`
	MessageID       string `json:"message_id,omitempty"`

	Timestamp    string `json:"timestamp"`
	RemoteHost   string `json:"remote_host,omitempty"`
	RemoteIP     string `json:"remote_ip,omitempty"`
	ResolvedHost string `json:"resolved_host,omitempty"`
	Helo         string `json:"helo,omitempty"`

	From  string `json:"from"`
	To    string `json:"to"`
	Size  int64  `json:"size,omitempty"`
	NRcpt int    `json:"nrcpt,omitempty"`

	Transport    string  `json:"transport,omitempty"`
	Relay        string  `json:"relay,omitempty"`
	DelaySeconds float64 `json:"delay_seconds,omitempty"`
	DSN          string  `json:"dsn,omitempty"`
	Result       string  `json:"result,omitempty"`
	Status       string  `json:"status"`

	Spam *SpamRecord `json:"spam,omitempty"`

	Finalized bool `json:"finalized"`
}

// SpamRecord holds spamd results; absent when the message was never scanned.
type SpamRecord struct {
	Verdict          bool    `json:"verdict"`
	Score            float64 `json:"score"`
	Threshold        float64 `json:"threshold"`
	ScanDelaySeconds float64 `json:"scan_delay_seconds"`
	Report           string  `json:"report,omitempty"`
}

// NewRecord converts t.
func NewRecord(t *txn.Transaction) Record {
	r := Record{
		Serial:          t.Serial,
		ConnectionID:    t.ConnectionID,
		QueueID:         t.QueueID,
		DeliveryQueueID: t.DeliveryQueueID,
		MessageID:       t.MessageID,
		Timestamp:       t.Timestamp,
		RemoteHost:      t.RemoteHost,
		RemoteIP:        t.RemoteIP,
		ResolvedHost:    t.ResolvedHost,
		Helo:            t.Helo,
		From:            t.From,
		To:              t.To,
		Size:            t.Size,
		NRcpt:           t.NRcpt,
		Transport:       string(t.Transport),
		Relay:           t.Relay,
		DelaySeconds:    t.Delay.Seconds(),
		DSN:             t.DSN,
		Result:          t.Result,
		Status:          string(t.Status),
		Finalized:       t.Finalized,
	}
	if t.SpamScanned || t.Spam {
		r.Spam = &SpamRecord{
			Verdict:          t.Spam,
			Score:            t.SpamScore,
			Threshold:        t.SpamThreshold,
			ScanDelaySeconds: t.SpamScanDelay.Seconds(),
			Report:           t.SpamReport,
		}
	}
	return r
}

// JSON writes one JSON object per transaction, newline delimited.
type JSON struct {
	w io.Writer
}

// NewJSON creates a JSON reporter writing to w.
func NewJSON(w io.Writer) *JSON {
	return &JSON{w: w}
}

// Name implements Reporter.
func (j *JSON) Name() string { return NameJSON }

// Report implements Reporter.
func (j *JSON) Report(_ context.Context, t *txn.Transaction) error {
	data, err := jsonConfig.Marshal(NewRecord(t))
	if err != nil {
		return err
	}
	_, err = j.w.Write(append(data, '\n'))
	return err
}
