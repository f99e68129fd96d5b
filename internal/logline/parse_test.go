package logline

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseHeader(t *testing.T) {
	tests := []struct {
		name string
		line string
		want Header
	}{
		{
			name: "classic syslog",
			line: "Oct 17 10:00:01 mail postfix/smtpd[100]: connect from a[1.2.3.4]",
			want: Header{Timestamp: "Oct 17 10:00:01", Host: "mail", Program: "postfix/smtpd", PID: "100", Message: "connect from a[1.2.3.4]"},
		},
		{
			name: "single digit day",
			line: "Oct  7 10:00:01 mail spamd[2345]: spamd: result: . 0 - NONE",
			want: Header{Timestamp: "Oct  7 10:00:01", Host: "mail", Program: "spamd", PID: "2345", Message: "spamd: result: . 0 - NONE"},
		},
		{
			name: "rfc3339 stamp and trailing newline",
			line: "2026-10-17T10:00:01.123456+00:00 mail postfix/qmgr[300]: ABC123: removed\n",
			want: Header{Timestamp: "2026-10-17T10:00:01.123456+00:00", Host: "mail", Program: "postfix/qmgr", PID: "300", Message: "ABC123: removed"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseHeader(tt.line)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseHeader_Malformed(t *testing.T) {
	_, err := ParseHeader("not a syslog line")
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestParseConnect(t *testing.T) {
	ev, err := ParseConnect("Oct 17 10:00:01 mail postfix/smtpd[100]: connect from a.example[1.2.3.4]")
	require.NoError(t, err)
	assert.Equal(t, "100", ev.PID)
	assert.Equal(t, "a.example", ev.ClientHost)
	assert.Equal(t, "1.2.3.4", ev.ClientIP)
	assert.Equal(t, "Oct 17 10:00:01", ev.Timestamp)

	ev, err = ParseConnect("Oct 17 10:00:01 mail postfix/smtpd[100]: connect from unknown[2001:db8::1]")
	require.NoError(t, err)
	assert.Equal(t, "unknown", ev.ClientHost)
	assert.Equal(t, "2001:db8::1", ev.ClientIP)
}

func TestParseReject(t *testing.T) {
	line := "Oct 17 10:00:02 mail postfix/smtpd[100]: NOQUEUE: reject: RCPT from a[1.2.3.4]: " +
		"554 5.7.1 <r@x>: Relay access denied; from=<s@x> to=<r@x> proto=ESMTP helo=<a.example>"

	ev, err := ParseReject(line)
	require.NoError(t, err)
	assert.Equal(t, "reject", ev.Action)
	assert.Equal(t, "RCPT", ev.Stage)
	assert.Equal(t, "554 5.7.1 <r@x>: Relay access denied", ev.Reason)
	assert.Equal(t, "s@x", ev.From)
	assert.Equal(t, "r@x", ev.To)
	assert.Equal(t, "ESMTP", ev.Proto)
	assert.Equal(t, "a.example", ev.Helo)
}

func TestParseReject_IPv6ClientWithoutRecipient(t *testing.T) {
	line := "Oct 17 10:00:02 mail postfix/smtpd[100]: NOQUEUE: reject: MAIL from unknown[2001:db8::1]: " +
		"450 4.1.8 <s@nxdomain>: Sender address rejected: Domain not found; from=<s@nxdomain> proto=ESMTP helo=<h>"

	ev, err := ParseReject(line)
	require.NoError(t, err)
	assert.Equal(t, "MAIL", ev.Stage)
	assert.Equal(t, "s@nxdomain", ev.From)
	assert.Empty(t, ev.To)
	assert.Equal(t, "h", ev.Helo)
}

func TestParseReject_WithoutSender(t *testing.T) {
	tests := []struct {
		name   string
		line   string
		stage  string
		reason string
		proto  string
		helo   string
	}{
		{
			name:   "connect stage",
			line:   "Oct 17 10:00:02 mail postfix/smtpd[100]: NOQUEUE: reject: CONNECT from unknown[1.2.3.4]: 554 5.7.1 Service unavailable; proto=SMTP",
			stage:  "CONNECT",
			reason: "554 5.7.1 Service unavailable",
			proto:  "SMTP",
		},
		{
			name:   "helo stage",
			line:   "Oct 17 10:00:02 mail postfix/smtpd[100]: NOQUEUE: reject: HELO from a[1.2.3.4]: 504 5.5.2 <x>: Helo command rejected; proto=SMTP helo=<x>",
			stage:  "HELO",
			reason: "504 5.5.2 <x>: Helo command rejected",
			proto:  "SMTP",
			helo:   "x",
		},
		{
			name:   "semicolons inside the reason",
			line:   "Oct 17 10:00:02 mail postfix/smtpd[100]: NOQUEUE: reject: CONNECT from a[1.2.3.4]: 554 5.7.1 Service unavailable; Client host [1.2.3.4] blocked using zen.example; https://zen.example/q; proto=SMTP",
			stage:  "CONNECT",
			reason: "554 5.7.1 Service unavailable; Client host [1.2.3.4] blocked using zen.example; https://zen.example/q",
			proto:  "SMTP",
		},
		{
			name:   "no trailer",
			line:   "Oct 17 10:00:02 mail postfix/smtpd[100]: NOQUEUE: reject: CONNECT from a[1.2.3.4]: 421 4.3.2 All server ports are busy",
			stage:  "CONNECT",
			reason: "421 4.3.2 All server ports are busy",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, err := ParseReject(tt.line)
			require.NoError(t, err)
			assert.Equal(t, "reject", ev.Action)
			assert.Equal(t, tt.stage, ev.Stage)
			assert.Equal(t, tt.reason, ev.Reason)
			assert.Empty(t, ev.From)
			assert.Empty(t, ev.To)
			assert.Equal(t, tt.proto, ev.Proto)
			assert.Equal(t, tt.helo, ev.Helo)
		})
	}
}

func TestParseAccept(t *testing.T) {
	ev, err := ParseAccept("Oct 17 10:00:02 mail postfix/smtpd[100]: ABC123: client=a[1.2.3.4], sasl_method=PLAIN")
	require.NoError(t, err)
	assert.Equal(t, "ABC123", ev.QueueID)
	assert.Equal(t, "a", ev.ClientHost)
	assert.Equal(t, "1.2.3.4", ev.ClientIP)
}

func TestParseCleanup(t *testing.T) {
	tests := []struct {
		name      string
		line      string
		queueID   string
		messageID string
		tolerated bool
	}{
		{
			name:      "angle bracketed message id",
			line:      "Oct 17 10:00:03 mail postfix/cleanup[200]: ABC123: message-id=<m1@x>",
			queueID:   "ABC123",
			messageID: "m1@x",
		},
		{
			name:      "bare message id",
			line:      "Oct 17 10:00:03 mail postfix/cleanup[200]: ABC123: message-id=m1@x",
			queueID:   "ABC123",
			messageID: "m1@x",
		},
		{
			name:      "empty message id",
			line:      "Oct 17 10:00:03 mail postfix/cleanup[200]: ABC123: message-id=<>",
			queueID:   "ABC123",
			messageID: "",
		},
		{
			name:      "discard notice",
			line:      "Oct 17 10:00:03 mail postfix/cleanup[200]: ABC123: discard: header Subject: x from local; from=<s@x>",
			queueID:   "ABC123",
			tolerated: true,
		},
		{
			name:      "warning notice",
			line:      "Oct 17 10:00:03 mail postfix/cleanup[200]: ABC123: warning: header Subject: x",
			queueID:   "ABC123",
			tolerated: true,
		},
		{
			name:      "table reload",
			line:      "Oct 17 10:00:03 mail postfix/cleanup[200]: table hash:/etc/postfix/virtual(0,lock|fold_fix) has changed -- restarting",
			tolerated: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, err := ParseCleanup(tt.line)
			require.NoError(t, err)
			assert.Equal(t, tt.queueID, ev.QueueID)
			assert.Equal(t, tt.messageID, ev.MessageID)
			assert.Equal(t, tt.tolerated, ev.Tolerated)
		})
	}
}

func TestParseCleanup_Malformed(t *testing.T) {
	_, err := ParseCleanup("Oct 17 10:00:03 mail postfix/cleanup[200]: ABC123: something unexpected")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMalformed))
	assert.Contains(t, err.Error(), "malformed message-id")
}

func TestParseQueued(t *testing.T) {
	ev, err := ParseQueued("Oct 17 10:00:04 mail postfix/qmgr[300]: ABC123: from=<s@x>, size=500, nrcpt=1 (queue active)")
	require.NoError(t, err)
	assert.Equal(t, "ABC123", ev.QueueID)
	assert.Equal(t, "s@x", ev.From)
	assert.Equal(t, int64(500), ev.Size)
	assert.Equal(t, 1, ev.NRcpt)

	ev, err = ParseQueued("Oct 17 10:00:04 mail postfix/qmgr[300]: ABC123: from=<>, status=expired, returned to sender")
	require.NoError(t, err)
	assert.Empty(t, ev.From)
	assert.Zero(t, ev.Size)
}

func TestParseRemoved(t *testing.T) {
	ev, err := ParseRemoved("Oct 17 10:00:06 mail postfix/qmgr[300]: ABC123: removed")
	require.NoError(t, err)
	assert.Equal(t, "ABC123", ev.QueueID)

	_, err = ParseRemoved("Oct 17 10:00:06 mail postfix/qmgr[300]: ABC123: removedX")
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestParseDelivery(t *testing.T) {
	tests := []struct {
		name string
		line string
		want DeliveryEvent
	}{
		{
			name: "smtp with delays and dsn",
			line: "Oct 17 10:00:05 mail postfix/smtp[400]: ABC123: to=<r@x>, relay=mx.y[5.6.7.8]:25, delay=1.2, " +
				"delays=0.1/0/0.5/0.6, dsn=2.0.0, status=sent (250 2.0.0 Ok: queued as XYZ, id=1)",
			want: DeliveryEvent{
				QueueID: "ABC123", To: "r@x", Relay: "mx.y[5.6.7.8]:25", Delay: 1200 * time.Millisecond,
				Delays: "0.1/0/0.5/0.6", DSN: "2.0.0", Status: "sent", Detail: "250 2.0.0 Ok: queued as XYZ, id=1",
			},
		},
		{
			name: "legacy smtp without delays",
			line: "Oct 17 10:00:05 mail postfix/smtp[400]: ABC123: to=<r@x>, relay=mx.y, delay=1.2, status=sent",
			want: DeliveryEvent{QueueID: "ABC123", To: "r@x", Relay: "mx.y", Delay: 1200 * time.Millisecond, Status: "sent"},
		},
		{
			name: "pipe to content filter",
			line: "Oct 17 10:00:05 mail postfix/pipe[600]: ABC123: to=<r@x>, orig_to=<alias@x>, relay=spamassassin, " +
				"delay=0.9, delays=0.1/0/0/0.8, dsn=2.0.0, status=sent (delivered via spamassassin service)",
			want: DeliveryEvent{
				QueueID: "ABC123", To: "r@x", OrigTo: "alias@x", Relay: "spamassassin", Delay: 900 * time.Millisecond,
				Delays: "0.1/0/0/0.8", DSN: "2.0.0", Status: "sent", Detail: "delivered via spamassassin service",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseDelivery(tt.line)
			require.NoError(t, err)
			got.Header = Header{}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDeliveryEvent_Result(t *testing.T) {
	assert.Equal(t, "sent", DeliveryEvent{Status: "sent"}.Result())
	assert.Equal(t, "bounced (user unknown)", DeliveryEvent{Status: "bounced", Detail: "user unknown"}.Result())
}

func TestParseDelivery_BadDelay(t *testing.T) {
	_, err := ParseDelivery("Oct 17 10:00:05 mail postfix/smtp[400]: ABC123: to=<r@x>, relay=mx.y, delay=soon, status=sent")
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestParseSpam(t *testing.T) {
	ev, err := ParseSpam("Oct 17 10:00:04 mail spamd[2345]: spamd: processing message <m1@x> for nobody:65534")
	require.NoError(t, err)
	assert.Equal(t, SpamProcessing, ev.Kind)
	assert.Equal(t, "2345", ev.PID)
	assert.Equal(t, "m1@x", ev.MessageID)

	ev, err = ParseSpam("Oct 17 10:00:05 mail spamd[2345]: processing message <m1@x> for nobody:65534")
	require.NoError(t, err)
	assert.Equal(t, SpamProcessing, ev.Kind, "spamd: prefix is optional")

	ev, err = ParseSpam("Oct 17 10:00:05 mail spamd[2345]: spamd: identified spam (15.2/5.0) for nobody:65534 in 1.1 seconds, 4000 bytes.")
	require.NoError(t, err)
	assert.Equal(t, SpamScored, ev.Kind)
	assert.True(t, ev.Identified)
	assert.InDelta(t, 15.2, ev.Score, 0.0001)
	assert.InDelta(t, 5.0, ev.Threshold, 0.0001)
	assert.Equal(t, 1100*time.Millisecond, ev.ScanDelay)

	ev, err = ParseSpam("Oct 17 10:00:05 mail spamd[2345]: spamd: clean message (-1.0/5.0) for nobody:65534 in 0.3 seconds, 2000 bytes.")
	require.NoError(t, err)
	assert.Equal(t, SpamScored, ev.Kind)
	assert.False(t, ev.Identified)
	assert.InDelta(t, -1.0, ev.Score, 0.0001)

	ev, err = ParseSpam("Oct 17 10:00:05 mail spamd[2345]: spamd: result: Y 15 - BAYES_99,HTML_MESSAGE scantime=1.1,size=4000")
	require.NoError(t, err)
	assert.Equal(t, SpamResult, ev.Kind)
	assert.True(t, ev.Verdict)
	assert.Equal(t, "BAYES_99,HTML_MESSAGE", ev.Report)

	ev, err = ParseSpam("Oct 17 10:00:05 mail spamd[2345]: spamd: result: . 0 - NONE scantime=0.3,size=2000")
	require.NoError(t, err)
	assert.False(t, ev.Verdict)
}

func TestParseSpam_Chatter(t *testing.T) {
	ev, err := ParseSpam("Oct 17 10:00:05 mail spamd[2345]: spamd: connection from localhost [127.0.0.1]:40000 to port 783, fd 5")
	require.NoError(t, err)
	assert.Equal(t, SpamOther, ev.Kind)
}

func TestFields(t *testing.T) {
	got := Fields("to=<r@x>, relay=none, delay=0.5, junk, =x")
	assert.Equal(t, map[string]string{"to": "<r@x>", "relay": "none", "delay": "0.5"}, got)
}

func TestTrimAngles(t *testing.T) {
	assert.Equal(t, "m@x", TrimAngles("<m@x>"))
	assert.Equal(t, "m@x", TrimAngles("m@x"))
	assert.Equal(t, "", TrimAngles("<>"))
	assert.Equal(t, "<", TrimAngles("<"))
}

func TestParseSeconds(t *testing.T) {
	d, err := ParseSeconds("1.25")
	require.NoError(t, err)
	assert.Equal(t, 1250*time.Millisecond, d)

	d, err = ParseSeconds("0")
	require.NoError(t, err)
	assert.Zero(t, d)

	for _, bad := range []string{"NaN", "Inf", "-Inf", "-1", "1e300", "soon"} {
		_, err := ParseSeconds(bad)
		assert.Error(t, err, bad)
	}
}

func TestParseDelivery_NonFiniteDelay(t *testing.T) {
	_, err := ParseDelivery("Oct 17 10:00:05 mail postfix/smtp[400]: ABC123: to=<r@x>, relay=mx.y, delay=NaN, status=sent")
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestSplitHostIP(t *testing.T) {
	host, ip, ok := SplitHostIP("mx.y[5.6.7.8]:25")
	require.True(t, ok)
	assert.Equal(t, "mx.y", host)
	assert.Equal(t, "5.6.7.8", ip)

	_, _, ok = SplitHostIP("spamassassin")
	assert.False(t, ok)

	_, _, ok = SplitHostIP("[1.2.3.4]")
	assert.False(t, ok, "no hostname")
}
