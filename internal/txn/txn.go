package txn

import "time"

// Status is the outcome recorded for a transaction.
type Status string

// Transaction statuses.
const (
	StatusNone     Status = ""
	StatusRejected Status = "rejected" // NOQUEUE, never queued
	StatusPiped    Status = "piped"    // handed to a local pipe, usually a content filter
	StatusRelayed  Status = "relayed"  // delivered onward by smtp or virtual
	StatusSpam     Status = "spam"     // spamd verdict was affirmative
)

// Transport is the delivery agent used for the last recorded hop.
type Transport string

// Delivery transports.
const (
	TransportNone    Transport = ""
	TransportSMTP    Transport = "smtp"
	TransportVirtual Transport = "virtual"
	TransportPipe    Transport = "pipe"
)

// Transaction holds everything known about one message attempt.
type Transaction struct {
	Serial uint64 // assigned by the correlation store

	ConnectionID    string // smtpd pid
	QueueID         string // primary queue ID
	DeliveryQueueID string // queue ID after re-injection
	MessageID       string

	Timestamp    string // literal syslog timestamp of the connect line
	RemoteHost   string
	RemoteIP     string
	ResolvedHost string // pseudo reverse DNS for "unknown" clients
	Helo         string

	From  string
	To    string
	Size  int64
	NRcpt int

	Transport Transport
	Relay     string
	Delay     time.Duration
	DSN       string
	Result    string
	Status    Status

	SpamScanned   bool
	Spam          bool
	SpamScore     float64
	SpamThreshold float64
	SpamScanDelay time.Duration
	SpamReport    string

	Finalized bool
}

// New creates a transaction for a freshly accepted connection.
func New(connectionID, timestamp, host, ip string) *Transaction {
	return &Transaction{
		ConnectionID: connectionID,
		Timestamp:    timestamp,
		RemoteHost:   host,
		RemoteIP:     ip,
	}
}

// Successor returns a new transaction on the same SMTP session.
// Only the connection context is carried over.
func (t *Transaction) Successor() *Transaction {
	next := New(t.ConnectionID, t.Timestamp, t.RemoteHost, t.RemoteIP)
	next.Helo = t.Helo
	return next
}

// Queued reports whether a primary queue ID has been assigned.
func (t *Transaction) Queued() bool {
	return t.QueueID != ""
}

// AwaitingReinjection reports whether the message was handed to a content
// filter pipe and has not come back under a second queue ID yet.
func (t *Transaction) AwaitingReinjection() bool {
	return t.Status == StatusPiped && t.DeliveryQueueID == ""
}

// SetStatus records a new status. A spam verdict is never downgraded.
func (t *Transaction) SetStatus(s Status) {
	if t.Status == StatusSpam && s != StatusSpam {
		return
	}
	t.Status = s
}

// Host returns the best known client hostname.
func (t *Transaction) Host() string {
	if t.RemoteHost == "unknown" && t.ResolvedHost != "" {
		return t.ResolvedHost
	}
	return t.RemoteHost
}
