package logline

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// ErrMalformed is returned when a line selected by a rule does not have the
// expected structure.
var ErrMalformed = errors.New("malformed log line")

// Header is the syslog prefix shared by every line.
type Header struct {
	Timestamp string // literal, not parsed
	Host      string
	Program   string // e.g. "postfix/smtpd", "spamd"
	PID       string
	Message   string // text after "program[pid]: "
}

var headerRe = regexp.MustCompile(
	`^(?P<ts>[A-Z][a-z]{2} +\d{1,2} \d{2}:\d{2}:\d{2}|\d{4}-\d{2}-\d{2}T\S+) ` +
		`(?P<host>\S+) (?P<prog>[\w/.-]+)\[(?P<pid>\d+)\]: (?P<msg>.*)$`)

// ParseHeader splits the syslog prefix from the program message.
func ParseHeader(line string) (Header, error) {
	m := match(headerRe, strings.TrimRight(line, "\r\n"))
	if m == nil {
		return Header{}, fmt.Errorf("%w: no syslog header", ErrMalformed)
	}
	return Header{
		Timestamp: m["ts"],
		Host:      m["host"],
		Program:   m["prog"],
		PID:       m["pid"],
		Message:   m["msg"],
	}, nil
}

// ConnectEvent is smtpd's "connect from host[ip]".
type ConnectEvent struct {
	Header
	ClientHost string
	ClientIP   string
}

var connectRe = regexp.MustCompile(`^connect from (?P<host>[^\[\s]+)\[(?P<ip>[^\]]*)\]`)

// ParseConnect parses a connection-accept line.
func ParseConnect(line string) (ConnectEvent, error) {
	h, err := ParseHeader(line)
	if err != nil {
		return ConnectEvent{}, err
	}
	m := match(connectRe, h.Message)
	if m == nil {
		return ConnectEvent{}, fmt.Errorf("%w: connect: %q", ErrMalformed, h.Message)
	}
	return ConnectEvent{Header: h, ClientHost: m["host"], ClientIP: m["ip"]}, nil
}

// RejectEvent is smtpd's "NOQUEUE: reject: ..." line.
type RejectEvent struct {
	Header
	Action string // reject, warn, discard, ...
	Stage  string // RCPT, MAIL, DATA, ...
	Reason string
	From   string
	To     string
	Proto  string
	Helo   string
}

var rejectRe = regexp.MustCompile(
	`^NOQUEUE: (?P<action>[\w-]+): (?P<stage>[A-Z]+) from (?P<client>[^\[\s]*\[[^\]]*\](?::\d+)?): (?P<reason>.*?)` +
		`(?:; (?:from=<(?P<from>[^>]*)> ?)?(?:to=<(?P<to>[^>]*)> ?)?(?:proto=(?P<proto>\S+) ?)?(?:helo=<(?P<helo>[^>]*)>)?)?\s*$`)

// ParseReject parses an early (pre-queue) rejection line.
func ParseReject(line string) (RejectEvent, error) {
	h, err := ParseHeader(line)
	if err != nil {
		return RejectEvent{}, err
	}
	m := match(rejectRe, h.Message)
	if m == nil {
		return RejectEvent{}, fmt.Errorf("%w: noqueue: %q", ErrMalformed, h.Message)
	}
	return RejectEvent{
		Header: h,
		Action: m["action"],
		Stage:  m["stage"],
		Reason: strings.TrimSpace(m["reason"]),
		From:   m["from"],
		To:     m["to"],
		Proto:  m["proto"],
		Helo:   m["helo"],
	}, nil
}

// AcceptEvent is smtpd's "QUEUEID: client=host[ip]".
type AcceptEvent struct {
	Header
	QueueID    string
	ClientHost string
	ClientIP   string
}

var acceptRe = regexp.MustCompile(`^(?P<qid>[0-9A-Za-z]+): client=(?P<host>[^\[\s]+)\[(?P<ip>[^\]]*)\]`)

// ParseAccept parses the line assigning a queue ID to a connection.
func ParseAccept(line string) (AcceptEvent, error) {
	h, err := ParseHeader(line)
	if err != nil {
		return AcceptEvent{}, err
	}
	m := match(acceptRe, h.Message)
	if m == nil {
		return AcceptEvent{}, fmt.Errorf("%w: accept: %q", ErrMalformed, h.Message)
	}
	return AcceptEvent{Header: h, QueueID: m["qid"], ClientHost: m["host"], ClientIP: m["ip"]}, nil
}

// CleanupEvent is a cleanup line. Tolerated is set for administrative notices
// (discard, warning, table reload, ...) that carry no message ID.
type CleanupEvent struct {
	Header
	QueueID   string
	MessageID string
	Tolerated bool
}

var (
	cleanupRe   = regexp.MustCompile(`^(?P<qid>[0-9A-Za-z]+): (?P<body>.*)$`)
	messageIDRe = regexp.MustCompile(`^message-id=(?P<mid>\S*)`)
)

// tolerated cleanup notices, matched as prefixes of the text after the queue ID.
var cleanupNotices = []string{"discard:", "warning:", "reject:", "hold:", "info:", "filter:", "redirect:", "replace:", "milter-"}

// ParseCleanup parses a cleanup line.
func ParseCleanup(line string) (CleanupEvent, error) {
	h, err := ParseHeader(line)
	if err != nil {
		return CleanupEvent{}, err
	}
	if strings.HasPrefix(h.Message, "table ") {
		return CleanupEvent{Header: h, Tolerated: true}, nil
	}

	m := match(cleanupRe, h.Message)
	if m == nil {
		return CleanupEvent{}, fmt.Errorf("%w: cleanup: %q", ErrMalformed, h.Message)
	}
	ev := CleanupEvent{Header: h, QueueID: m["qid"]}

	if mid := match(messageIDRe, m["body"]); mid != nil {
		ev.MessageID = TrimAngles(mid["mid"])
		return ev, nil
	}
	for _, notice := range cleanupNotices {
		if strings.HasPrefix(m["body"], notice) {
			ev.Tolerated = true
			return ev, nil
		}
	}
	return CleanupEvent{}, fmt.Errorf("%w: malformed message-id in cleanup: %q", ErrMalformed, m["body"])
}

// QueuedEvent is qmgr's "QUEUEID: from=<sender>, size=N, nrcpt=N".
type QueuedEvent struct {
	Header
	QueueID string
	From    string
	Size    int64
	NRcpt   int
}

var queuedRe = regexp.MustCompile(
	`^(?P<qid>[0-9A-Za-z]+): from=<(?P<from>[^>]*)>(?:, size=(?P<size>\d+))?(?:, nrcpt=(?P<nrcpt>\d+))?`)

// ParseQueued parses a queue manager acceptance line.
func ParseQueued(line string) (QueuedEvent, error) {
	h, err := ParseHeader(line)
	if err != nil {
		return QueuedEvent{}, err
	}
	m := match(queuedRe, h.Message)
	if m == nil {
		return QueuedEvent{}, fmt.Errorf("%w: queued: %q", ErrMalformed, h.Message)
	}
	ev := QueuedEvent{Header: h, QueueID: m["qid"], From: m["from"]}
	if m["size"] != "" {
		if ev.Size, err = strconv.ParseInt(m["size"], 10, 64); err != nil {
			return QueuedEvent{}, fmt.Errorf("%w: size: %v", ErrMalformed, err)
		}
	}
	if m["nrcpt"] != "" {
		if ev.NRcpt, err = strconv.Atoi(m["nrcpt"]); err != nil {
			return QueuedEvent{}, fmt.Errorf("%w: nrcpt: %v", ErrMalformed, err)
		}
	}
	return ev, nil
}

// RemovedEvent is qmgr's "QUEUEID: removed".
type RemovedEvent struct {
	Header
	QueueID string
}

var removedRe = regexp.MustCompile(`^(?P<qid>[0-9A-Za-z]+): removed\b`)

// ParseRemoved parses a queue removal line.
func ParseRemoved(line string) (RemovedEvent, error) {
	h, err := ParseHeader(line)
	if err != nil {
		return RemovedEvent{}, err
	}
	m := match(removedRe, h.Message)
	if m == nil {
		return RemovedEvent{}, fmt.Errorf("%w: removed: %q", ErrMalformed, h.Message)
	}
	return RemovedEvent{Header: h, QueueID: m["qid"]}, nil
}

// DeliveryEvent is a delivery agent's "QUEUEID: to=<...>, relay=..., status=..." line.
type DeliveryEvent struct {
	Header
	QueueID string
	To      string
	OrigTo  string
	Relay   string
	Delay   time.Duration
	Delays  string
	DSN     string
	Status  string // sent, deferred, bounced, ...
	Detail  string // parenthesised server response
}

// Result returns the status with its detail, e.g. "sent (250 2.0.0 Ok)".
func (d DeliveryEvent) Result() string {
	if d.Detail == "" {
		return d.Status
	}
	return d.Status + " (" + d.Detail + ")"
}

var (
	deliveryRe = regexp.MustCompile(`^(?P<qid>[0-9A-Za-z]+): (?P<fields>to=.*)$`)
	statusRe   = regexp.MustCompile(`(?:^|, )status=(?P<status>\w+)(?: \((?P<detail>.*)\))?\s*$`)
)

// ParseDelivery parses a pipe, smtp or virtual delivery line.
func ParseDelivery(line string) (DeliveryEvent, error) {
	h, err := ParseHeader(line)
	if err != nil {
		return DeliveryEvent{}, err
	}
	m := match(deliveryRe, h.Message)
	if m == nil {
		return DeliveryEvent{}, fmt.Errorf("%w: delivery: %q", ErrMalformed, h.Message)
	}
	ev := DeliveryEvent{Header: h, QueueID: m["qid"]}

	fields := m["fields"]
	if loc := statusRe.FindStringSubmatchIndex(fields); loc != nil {
		sm := match(statusRe, fields[loc[0]:])
		ev.Status = sm["status"]
		ev.Detail = sm["detail"]
		fields = fields[:loc[0]]
	}

	for k, v := range Fields(fields) {
		switch k {
		case "to":
			ev.To = TrimAngles(v)
		case "orig_to":
			ev.OrigTo = TrimAngles(v)
		case "relay":
			ev.Relay = v
		case "delay":
			if ev.Delay, err = ParseSeconds(v); err != nil {
				return DeliveryEvent{}, fmt.Errorf("%w: delay: %v", ErrMalformed, err)
			}
		case "delays":
			ev.Delays = v
		case "dsn":
			ev.DSN = v
		}
	}
	return ev, nil
}

// SpamKind identifies which step of a spamd scan a line reports.
type SpamKind int

// spamd scan steps. SpamOther covers spamd chatter that carries no scan data.
const (
	SpamOther SpamKind = iota
	SpamProcessing
	SpamScored
	SpamResult
)

// SpamEvent is one spamd line.
type SpamEvent struct {
	Header
	Kind SpamKind

	MessageID string // SpamProcessing

	Identified bool          // SpamScored: "identified spam" rather than "clean message"
	Score      float64       // SpamScored
	Threshold  float64       // SpamScored
	ScanDelay  time.Duration // SpamScored

	Verdict bool   // SpamResult: flag was "Y"
	Report  string // SpamResult: comma separated rule names
}

var (
	spamProcessingRe = regexp.MustCompile(`^processing message (?P<mid>\S+)`)
	spamScoredRe     = regexp.MustCompile(
		`^(?P<kind>clean|identified) (?:message|spam) \((?P<score>-?[\d.]+)/(?P<threshold>-?[\d.]+)\) for \S+ in (?P<delay>[\d.]+) seconds`)
	spamResultRe = regexp.MustCompile(`^result: (?P<flag>\S) (?P<points>-?\d+) - (?P<tests>\S*)`)
)

// ParseSpam parses a spamd line. Lines that are not part of a scan parse to
// SpamOther without error.
func ParseSpam(line string) (SpamEvent, error) {
	h, err := ParseHeader(line)
	if err != nil {
		return SpamEvent{}, err
	}
	msg := strings.TrimPrefix(h.Message, "spamd: ")
	ev := SpamEvent{Header: h}

	if m := match(spamProcessingRe, msg); m != nil {
		ev.Kind = SpamProcessing
		ev.MessageID = TrimAngles(m["mid"])
		return ev, nil
	}

	if m := match(spamScoredRe, msg); m != nil {
		ev.Kind = SpamScored
		ev.Identified = m["kind"] == "identified"
		if ev.Score, err = strconv.ParseFloat(m["score"], 64); err != nil {
			return SpamEvent{}, fmt.Errorf("%w: spam score: %v", ErrMalformed, err)
		}
		if ev.Threshold, err = strconv.ParseFloat(m["threshold"], 64); err != nil {
			return SpamEvent{}, fmt.Errorf("%w: spam threshold: %v", ErrMalformed, err)
		}
		if ev.ScanDelay, err = ParseSeconds(m["delay"]); err != nil {
			return SpamEvent{}, fmt.Errorf("%w: scan delay: %v", ErrMalformed, err)
		}
		return ev, nil
	}

	if m := match(spamResultRe, msg); m != nil {
		ev.Kind = SpamResult
		ev.Verdict = m["flag"] == "Y"
		ev.Report = m["tests"]
		return ev, nil
	}

	return ev, nil
}

// Fields splits a ", " separated key=value list. Later keys win.
func Fields(s string) map[string]string {
	out := make(map[string]string)
	for _, part := range strings.Split(s, ", ") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok || k == "" {
			continue
		}
		out[k] = v
	}
	return out
}

// TrimAngles strips one pair of surrounding angle brackets.
func TrimAngles(s string) string {
	if len(s) >= 2 && s[0] == '<' && s[len(s)-1] == '>' {
		return s[1 : len(s)-1]
	}
	return s
}

// ParseSeconds converts a decimal seconds value such as "1.2" to a duration.
func ParseSeconds(s string) (time.Duration, error) {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(f) || math.IsInf(f, 0) || f < 0 || f > math.MaxInt64/float64(time.Second) {
		return 0, fmt.Errorf("%w: seconds out of range: %q", ErrMalformed, s)
	}
	return time.Duration(math.Round(f * float64(time.Second))), nil
}

// SplitHostIP splits "host[ip]" or "host[ip]:port". ok is false when s has no
// bracketed address.
func SplitHostIP(s string) (host, ip string, ok bool) {
	open := strings.IndexByte(s, '[')
	end := strings.IndexByte(s, ']')
	if open <= 0 || end < open {
		return "", "", false
	}
	return s[:open], s[open+1 : end], true
}

// match returns the named groups of re in s, or nil when re does not match.
func match(re *regexp.Regexp, s string) map[string]string {
	sub := re.FindStringSubmatch(s)
	if sub == nil {
		return nil
	}
	out := make(map[string]string, len(sub))
	for i, name := range re.SubexpNames() {
		if name != "" {
			out[name] = sub[i]
		}
	}
	return out
}
