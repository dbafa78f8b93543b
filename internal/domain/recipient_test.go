package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestApply_ForwardProgression(t *testing.T) {
	r := CampaignRecipient{Status: RecipientPending}

	steps := []RecipientStatus{RecipientSent, RecipientDelivered, RecipientOpened, RecipientClicked}
	for i, s := range steps {
		out, err := r.Apply(s, t0.Add(time.Duration(i)*time.Minute))
		require.NoError(t, err)
		assert.Equal(t, TransitionApplied, out, s)
		assert.Equal(t, s, r.Status)
		require.NotNil(t, r.TimestampFor(s))
	}
	assert.Equal(t, t0, *r.SentAt)
	assert.Equal(t, t0.Add(3*time.Minute), *r.ClickedAt)
}

func TestApply_Idempotent(t *testing.T) {
	r := CampaignRecipient{Status: RecipientPending}
	_, err := r.Apply(RecipientOpened, t0)
	require.NoError(t, err)
	before := r

	out, err := r.Apply(RecipientOpened, t0.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, TransitionDuplicate, out)
	assert.Equal(t, before, r)
}

func TestApply_OutOfOrderNeverRegresses(t *testing.T) {
	// click arrives first, then the delayed open
	r := CampaignRecipient{Status: RecipientSent, SentAt: &t0}

	out, err := r.Apply(RecipientClicked, t0.Add(2*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, TransitionApplied, out)

	out, err = r.Apply(RecipientOpened, t0.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, TransitionIgnored, out)
	assert.Equal(t, RecipientClicked, r.Status)
	assert.Nil(t, r.OpenedAt, "forward jump must not backfill skipped stages")
	assert.Nil(t, r.DeliveredAt)
	assert.Equal(t, t0.Add(2*time.Minute), *r.ClickedAt)
}

func TestApply_TerminalAbsorbs(t *testing.T) {
	tests := []struct {
		name     string
		terminal RecipientStatus
	}{
		{"bounced", RecipientBounced},
		{"unsubscribed", RecipientUnsubscribed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := CampaignRecipient{Status: RecipientDelivered}
			out, err := r.Apply(tt.terminal, t0)
			require.NoError(t, err)
			assert.Equal(t, TransitionApplied, out)

			for _, s := range []RecipientStatus{RecipientPending, RecipientSent, RecipientOpened, RecipientClicked, RecipientBounced, RecipientUnsubscribed} {
				if s == tt.terminal {
					continue
				}
				out, err := r.Apply(s, t0.Add(time.Hour))
				require.NoError(t, err)
				assert.Equal(t, TransitionIgnored, out, "%s after %s", s, tt.terminal)
			}
			assert.Equal(t, tt.terminal, r.Status)
		})
	}
}

func TestApply_UnknownStatus(t *testing.T) {
	r := CampaignRecipient{Status: RecipientPending}
	_, err := r.Apply("archived", t0)
	assert.ErrorIs(t, err, ErrUnknownRecipientStatus)
	assert.Equal(t, RecipientPending, r.Status)
}

func TestRecordFailure(t *testing.T) {
	r := CampaignRecipient{Status: RecipientPending}
	assert.True(t, r.RecordFailure("mailbox full"))
	assert.True(t, r.RecordFailure("mailbox full"))
	assert.Equal(t, 2, r.Attempts)
	assert.Equal(t, RecipientPending, r.Status)

	_, err := r.Apply(RecipientSent, t0)
	require.NoError(t, err)
	assert.Empty(t, r.LastError)
	assert.False(t, r.RecordFailure("late"))
}

func TestTally_MatchesDirectScan(t *testing.T) {
	// Example: 3 recipients, one clicked, one bounced before delivery, one pending.
	a := CampaignRecipient{Status: RecipientPending}
	for _, s := range []RecipientStatus{RecipientSent, RecipientDelivered, RecipientOpened, RecipientClicked} {
		_, _ = a.Apply(s, t0)
	}
	b := CampaignRecipient{Status: RecipientPending}
	_, _ = b.Apply(RecipientSent, t0)
	_, _ = b.Apply(RecipientBounced, t0)
	c := CampaignRecipient{Status: RecipientPending, LastError: "rejected"}

	got := Tally([]CampaignRecipient{a, b, c})
	assert.Equal(t, Aggregates{
		Recipients: 3,
		Pending:    1,
		Failed:     1,
		Sent:       2,
		Delivered:  1,
		Opened:     1,
		Clicked:    1,
		Bounced:    1,
	}, got)
	assert.InDelta(t, 100.0, got.OpenRate(), 0.001)
}

func TestEventType_RecipientStatus(t *testing.T) {
	s, ok := EventSpamReport.RecipientStatus()
	assert.True(t, ok)
	assert.Equal(t, RecipientUnsubscribed, s)

	_, ok = EventType("forward").RecipientStatus()
	assert.False(t, ok)
}
