package txn

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSuccessor_CopiesConnectionContextOnly(t *testing.T) {
	orig := New("100", "Oct 17 10:00:01", "a.example", "1.2.3.4")
	orig.Helo = "a.example"
	orig.QueueID = "ABC123"
	orig.From = "s@x"
	orig.Finalized = true

	next := orig.Successor()

	assert.Equal(t, "100", next.ConnectionID)
	assert.Equal(t, "Oct 17 10:00:01", next.Timestamp)
	assert.Equal(t, "a.example", next.RemoteHost)
	assert.Equal(t, "1.2.3.4", next.RemoteIP)
	assert.Equal(t, "a.example", next.Helo)
	assert.Empty(t, next.QueueID)
	assert.Empty(t, next.From)
	assert.False(t, next.Finalized)
	assert.NotSame(t, orig, next)
}

func TestSetStatus_SpamIsSticky(t *testing.T) {
	tr := &Transaction{}

	tr.SetStatus(StatusPiped)
	assert.Equal(t, StatusPiped, tr.Status)

	tr.SetStatus(StatusSpam)
	tr.SetStatus(StatusRelayed)
	assert.Equal(t, StatusSpam, tr.Status)
}

func TestAwaitingReinjection(t *testing.T) {
	tests := []struct {
		name string
		tr   Transaction
		want bool
	}{
		{name: "piped without second queue id", tr: Transaction{Status: StatusPiped}, want: true},
		{name: "piped and re-injected", tr: Transaction{Status: StatusPiped, DeliveryQueueID: "DEF"}, want: false},
		{name: "relayed", tr: Transaction{Status: StatusRelayed}, want: false},
		{name: "spam", tr: Transaction{Status: StatusSpam}, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.tr.AwaitingReinjection())
		})
	}
}

func TestHost(t *testing.T) {
	tr := New("1", "", "unknown", "1.2.3.4")
	assert.Equal(t, "unknown", tr.Host())

	tr.ResolvedHost = "mx.example"
	assert.Equal(t, "mx.example", tr.Host())

	tr.RemoteHost = "real.example"
	assert.Equal(t, "real.example", tr.Host())
}
