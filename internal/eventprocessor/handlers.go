package eventprocessor

import (
	"context"
	"fmt"

	"github.com/mrzor/postfix-tracer/internal/correlation"
	"github.com/mrzor/postfix-tracer/internal/logline"
	"github.com/mrzor/postfix-tracer/internal/txn"
)

// onConnect starts a transaction for a new smtpd session. A reused pid
// supersedes whatever was indexed under it.
func (p *Processor) onConnect(ctx context.Context, line string) error {
	ev, err := logline.ParseConnect(line)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}

	if old := p.store.Get(correlation.ByConnection, ev.PID); old != nil && !old.Queued() && !old.Finalized {
		// Never queued and never reported: nothing else can reach it.
		p.log.Debug("superseding idle connection", "connection_id", ev.PID, "remote_ip", old.RemoteIP)
		p.store.Delete(old)
	}

	t := txn.New(ev.PID, ev.Timestamp, ev.ClientHost, ev.ClientIP)
	p.store.Put(correlation.ByConnection, ev.PID, t)

	if p.resolver != nil {
		p.resolver.IngestEndpoints(ctx, ev.ClientHost+"["+ev.ClientIP+"]")
	}
	return nil
}

// sessionTransaction returns the transaction a new message on connection
// pid should use, forking a successor when the current one already carries
// a message.
func (p *Processor) sessionTransaction(pid string) *txn.Transaction {
	t := p.store.Get(correlation.ByConnection, pid)
	if t == nil {
		return nil
	}
	if t.Queued() || t.Finalized {
		next := t.Successor()
		p.store.Put(correlation.ByConnection, pid, next)
		return next
	}
	p.store.Touch(t)
	return t
}

// onEarlyReject handles "NOQUEUE: reject:". The transaction never gets a
// queue ID and is reported right away.
func (p *Processor) onEarlyReject(ctx context.Context, line string) error {
	ev, err := logline.ParseReject(line)
	if err != nil {
		return fmt.Errorf("noqueue: %w", err)
	}

	if !terminalRejectAction(ev.Action) {
		p.log.Debug("ignoring non-terminal noqueue action", "action", ev.Action, "connection_id", ev.PID)
		return nil
	}

	t := p.sessionTransaction(ev.PID)
	if t == nil {
		return Warning(fmt.Errorf("noqueue: %w: pid %s", ErrConnectionNotFound, ev.PID))
	}

	t.From = ev.From
	t.To = ev.To
	t.Helo = ev.Helo
	t.Result = ev.Reason
	t.SetStatus(txn.StatusRejected)

	p.finalize(ctx, t)
	return nil
}

func terminalRejectAction(action string) bool {
	return action == "reject" || action == "discard"
}

// onAccept assigns the primary queue ID.
func (p *Processor) onAccept(_ context.Context, line string) error {
	ev, err := logline.ParseAccept(line)
	if err != nil {
		return fmt.Errorf("accept: %w", err)
	}

	t := p.sessionTransaction(ev.PID)
	if t == nil {
		return Warning(fmt.Errorf("accept: %w: pid %s", ErrConnectionNotFound, ev.PID))
	}

	t.QueueID = ev.QueueID
	p.store.Put(correlation.ByQueue, ev.QueueID, t)
	return nil
}

// onCleanup attaches the message ID, or links a re-injected copy through it.
func (p *Processor) onCleanup(_ context.Context, line string) error {
	ev, err := logline.ParseCleanup(line)
	if err != nil {
		return fmt.Errorf("cleanup: %w", err)
	}
	if ev.Tolerated {
		return nil
	}

	if t := p.store.Get(correlation.ByQueue, ev.QueueID); t != nil {
		p.store.Touch(t)
		if ev.QueueID != t.QueueID {
			// Second cleanup pass of an already linked delivery queue ID.
			return nil
		}
		t.MessageID = ev.MessageID
		if ev.MessageID != "" {
			p.store.Put(correlation.ByMessage, ev.MessageID, t)
		}
		return nil
	}

	if ev.MessageID == "" {
		p.softMiss(logline.RuleCleanup, "cleanup without message id for unknown queue id", "queue_id", ev.QueueID)
		return nil
	}

	t := p.store.Get(correlation.ByMessage, ev.MessageID)
	if t == nil {
		p.softMiss(logline.RuleCleanup, "cleanup for unknown queue id and message id",
			"queue_id", ev.QueueID, "message_id", ev.MessageID)
		return nil
	}

	if t.DeliveryQueueID != "" && t.DeliveryQueueID != ev.QueueID {
		return Warning(fmt.Errorf("cleanup: %w: message %s already re-injected as %s, ignoring %s",
			ErrDeliveryQueueConflict, ev.MessageID, t.DeliveryQueueID, ev.QueueID))
	}

	t.DeliveryQueueID = ev.QueueID
	p.store.Put(correlation.ByQueue, ev.QueueID, t)
	return nil
}

// onQueued records sender and size. Missing queue IDs are expected for
// locally submitted mail.
func (p *Processor) onQueued(_ context.Context, line string) error {
	ev, err := logline.ParseQueued(line)
	if err != nil {
		return fmt.Errorf("queued: %w", err)
	}

	t := p.store.Get(correlation.ByQueue, ev.QueueID)
	if t == nil {
		p.softMiss(logline.RuleQueued, "queued line for unknown queue id", "queue_id", ev.QueueID)
		return nil
	}

	t.From = ev.From
	if ev.Size > 0 {
		t.Size = ev.Size
	}
	if ev.NRcpt > 0 {
		t.NRcpt = ev.NRcpt
	}
	p.store.Touch(t)
	return nil
}

// onDelivery builds the handler for one delivery agent.
func (p *Processor) onDelivery(transport txn.Transport) func(context.Context, string) error {
	status := txn.StatusRelayed
	if transport == txn.TransportPipe {
		status = txn.StatusPiped
	}

	return func(ctx context.Context, line string) error {
		ev, err := logline.ParseDelivery(line)
		if err != nil {
			return fmt.Errorf("%s: %w", transport, err)
		}

		t := p.store.Get(correlation.ByQueue, ev.QueueID)
		if t == nil {
			return fmt.Errorf("%s: %w: %s", transport, ErrQueueIDNotFound, ev.QueueID)
		}

		t.To = ev.To
		t.Relay = ev.Relay
		t.Delay = ev.Delay
		t.DSN = ev.DSN
		t.Result = ev.Result()
		t.Transport = transport
		t.SetStatus(status)
		p.store.Touch(t)

		if p.resolver != nil && ev.Relay != "" {
			p.resolver.IngestEndpoints(ctx, ev.Relay)
		}
		return nil
	}
}

// onSpam follows a spamd child through processing, scoring and result.
func (p *Processor) onSpam(_ context.Context, line string) error {
	ev, err := logline.ParseSpam(line)
	if err != nil {
		return fmt.Errorf("spam: %w", err)
	}

	switch ev.Kind {
	case logline.SpamProcessing:
		t := p.store.Get(correlation.ByMessage, ev.MessageID)
		if t == nil {
			return fmt.Errorf("spam: %w: malformed message-id <%s>", ErrMessageIDNotFound, ev.MessageID)
		}
		p.store.Put(correlation.ByScanner, ev.PID, t)

	case logline.SpamScored:
		t := p.store.Get(correlation.ByScanner, ev.PID)
		if t == nil {
			return fmt.Errorf("spam: %w: pid %s", ErrScannerNotFound, ev.PID)
		}
		t.SpamScanned = true
		t.SpamScore = ev.Score
		t.SpamThreshold = ev.Threshold
		t.SpamScanDelay = ev.ScanDelay
		p.store.Touch(t)

	case logline.SpamResult:
		t := p.store.Get(correlation.ByScanner, ev.PID)
		if t == nil {
			return fmt.Errorf("spam: %w: pid %s", ErrScannerNotFound, ev.PID)
		}
		t.SpamReport = ev.Report
		if ev.Verdict {
			t.Spam = true
			t.SetStatus(txn.StatusSpam)
		}
		p.store.Touch(t)
	}
	return nil
}

// onRemoved is the queue manager's last word on a queue ID.
func (p *Processor) onRemoved(ctx context.Context, line string) error {
	ev, err := logline.ParseRemoved(line)
	if err != nil {
		return fmt.Errorf("removed: %w", err)
	}

	t := p.store.Get(correlation.ByQueue, ev.QueueID)
	if t == nil {
		return fmt.Errorf("removed: %w: %s", ErrQueueIDNotFound, ev.QueueID)
	}
	p.store.Touch(t)

	if finalRemoval(t, ev.QueueID) || p.removal == RemovalAll {
		p.finalize(ctx, t)
		return nil
	}

	switch p.removal {
	case RemovalMark:
		if t.Finalized {
			p.log.Debug("already finalized", "queue_id", ev.QueueID, "status", t.Status)
			return nil
		}
		p.stats.NonFinal++
		p.metrics.NonFinal()
		p.log.Debug("non-final removal", "queue_id", ev.QueueID, "status", t.Status)
		p.report(ctx, t)
	case RemovalDrop:
		p.log.Debug("dropping non-final removal", "queue_id", ev.QueueID, "status", t.Status)
	}
	return nil
}

// finalRemoval reports whether removing qid completes t.
func finalRemoval(t *txn.Transaction, qid string) bool {
	switch {
	case qid == t.DeliveryQueueID:
		return true
	case t.Status == txn.StatusSpam:
		return true
	case t.DeliveryQueueID != "":
		// Primary copy leaving while the re-injected copy is still queued.
		return false
	default:
		return !t.AwaitingReinjection()
	}
}
