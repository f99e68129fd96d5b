package output

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/mrzor/postfix-tracer/internal/txn"
)

const nonFinalMarker = " [non-final]"

// Summary writes one line per transaction:
//
//	relayed id:ABC123 smtp to:bob@example.org from:alice@example.com
type Summary struct {
	w io.Writer
}

// NewSummary creates a summary reporter writing to w.
func NewSummary(w io.Writer) *Summary {
	return &Summary{w: w}
}

// Name implements Reporter.
func (s *Summary) Name() string { return NameSummary }

// Report implements Reporter.
func (s *Summary) Report(_ context.Context, t *txn.Transaction) error {
	line := fmt.Sprintf("%s id:%s %s to:%s from:%s", t.Status, displayID(t), t.Transport, t.To, t.From)
	return writeLine(s.w, line, t)
}

// Spam writes one line per transaction carrying an affirmative spam verdict
// and skips everything else.
type Spam struct {
	w io.Writer
}

// NewSpam creates a spam reporter writing to w.
func NewSpam(w io.Writer) *Spam {
	return &Spam{w: w}
}

// Name implements Reporter.
func (s *Spam) Name() string { return NameSpam }

// Report implements Reporter.
func (s *Spam) Report(_ context.Context, t *txn.Transaction) error {
	if !t.Spam {
		return nil
	}
	reason := strings.TrimSpace(t.SpamReport + " " + t.Result)
	line := fmt.Sprintf("%s %s id:%s score:%s %s to:%s from:%s %s",
		t.Timestamp, t.Status, displayID(t), formatScore(t.SpamScore), t.Transport, t.To, t.From, reason)
	return writeLine(s.w, line, t)
}

// Detail writes a multi-line block per transaction.
type Detail struct {
	w io.Writer
}

// NewDetail creates a detail reporter writing to w.
func NewDetail(w io.Writer) *Detail {
	return &Detail{w: w}
}

// Name implements Reporter.
func (d *Detail) Name() string { return NameDetail }

// Report implements Reporter.
func (d *Detail) Report(_ context.Context, t *txn.Transaction) error {
	var b strings.Builder
	fmt.Fprintf(&b, "%s id: %s to: %s from: %s", t.Timestamp, displayID(t), t.To, t.From)
	if !t.Finalized {
		b.WriteString(nonFinalMarker)
	}
	b.WriteByte('\n')

	field := func(name, value string) {
		if value != "" {
			fmt.Fprintf(&b, "  %s: %s\n", name, value)
		}
	}
	field("status", string(t.Status))
	field("result", t.Result)
	field("transport", string(t.Transport))
	field("relay", t.Relay)
	if t.Delay > 0 {
		field("delay", t.Delay.String())
	}
	field("message-id", t.MessageID)
	field("delivery id", t.DeliveryQueueID)
	if t.SpamScanned {
		field("spam score", formatScore(t.SpamScore)+"/"+formatScore(t.SpamThreshold))
		field("spam delay", t.SpamScanDelay.String())
		field("spam report", t.SpamReport)
	}
	field("host", fmt.Sprintf("%s[%s]", t.Host(), t.RemoteIP))
	field("helo", t.Helo)

	_, err := io.WriteString(d.w, b.String())
	return err
}

// displayID is the queue ID a reader would grep for. Early rejects have none.
func displayID(t *txn.Transaction) string {
	if t.QueueID == "" {
		return "NOQUEUE"
	}
	return t.QueueID
}

func formatScore(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func writeLine(w io.Writer, line string, t *txn.Transaction) error {
	if !t.Finalized {
		line += nonFinalMarker
	}
	_, err := io.WriteString(w, line+"\n")
	return err
}
