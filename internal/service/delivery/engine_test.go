package delivery_test

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/engagex/internal/domain"
	"github.com/ignite/engagex/internal/repository/memory"
	"github.com/ignite/engagex/internal/service/campaign"
	"github.com/ignite/engagex/internal/service/delivery"
	"github.com/ignite/engagex/internal/service/sending"
)

const org = "org-1"

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// fakeSender accepts every message except those addressed to reject, and
// reports the provider unavailable from the unavailableAfter-th call on.
type fakeSender struct {
	mu               sync.Mutex
	sent             []*domain.EmailMessage
	calls            int
	reject           map[string]bool
	unavailableAfter int
	onSend           func(msg *domain.EmailMessage)
}

func (f *fakeSender) Send(_ context.Context, msg *domain.EmailMessage) (*domain.SendResult, error) {
	f.mu.Lock()
	f.calls++
	call := f.calls
	hook := f.onSend
	f.mu.Unlock()

	if hook != nil {
		hook(msg)
	}
	if f.unavailableAfter > 0 && call >= f.unavailableAfter {
		return nil, sending.Unavailable(fmt.Errorf("account paused"))
	}
	if f.reject[msg.Email] {
		return nil, &sending.ProviderError{Code: "MessageRejected", Message: "address blacklisted"}
	}

	f.mu.Lock()
	f.sent = append(f.sent, msg)
	f.mu.Unlock()
	return &domain.SendResult{MessageID: "msg-" + msg.Email, SentAt: now}, nil
}

func (f *fakeSender) sentTo() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, m := range f.sent {
		out = append(out, m.Email)
	}
	return out
}

type fixture struct {
	store    *memory.Store
	sender   *fakeSender
	engine   *delivery.Engine
	campaign *domain.Campaign
}

type fixtureOpt func(*fixtureConfig)

type fixtureConfig struct {
	domainStatus domain.DomainStatus
	engineOpts   []delivery.Option
}

func withDomainStatus(s domain.DomainStatus) fixtureOpt {
	return func(c *fixtureConfig) { c.domainStatus = s }
}

func withEngineOpts(opts ...delivery.Option) fixtureOpt {
	return func(c *fixtureConfig) { c.engineOpts = append(c.engineOpts, opts...) }
}

func newFixture(t *testing.T, opts ...fixtureOpt) *fixture {
	t.Helper()
	cfg := fixtureConfig{domainStatus: domain.DomainVerified}
	for _, o := range opts {
		o(&cfg)
	}

	ctx := context.Background()
	store := memory.NewStore()
	store.Organizations().Put(domain.Organization{ID: org, Name: "Acme"})
	require.NoError(t, store.Domains().Create(ctx, &domain.SendingDomain{
		ID: "dom-1", OrganizationID: org, Domain: "acme.com", Status: cfg.domainStatus,
	}))

	contacts := store.Contacts()
	contacts.Put(domain.Contact{ID: "ct-a", OrganizationID: org, Email: "a@example.com", FirstName: "Ann", IsSubscribed: true, GroupIDs: []string{"g1"}})
	contacts.Put(domain.Contact{ID: "ct-b", OrganizationID: org, Email: "b@example.com", FirstName: "Ben", IsSubscribed: true, GroupIDs: []string{"g1", "g2"}})
	contacts.Put(domain.Contact{ID: "ct-c", OrganizationID: org, Email: "c@example.com", FirstName: "Cy", IsSubscribed: true, GroupIDs: []string{"g2"}})
	contacts.Put(domain.Contact{ID: "ct-d", OrganizationID: org, Email: "d@example.com", IsSubscribed: false, GroupIDs: []string{"g1"}})
	contacts.Put(domain.Contact{ID: "ct-x", OrganizationID: "org-2", Email: "x@example.com", IsSubscribed: true})

	domainID := "dom-1"
	c := &domain.Campaign{
		ID:             "camp-1",
		OrganizationID: org,
		DomainID:       &domainID,
		Name:           "Spring",
		Subject:        "Hi {{ firstName | default: \"there\" }}",
		FromName:       "Acme",
		FromEmail:      "news@acme.com",
		HTMLContent:    "<p>Hello {{ firstName }} from {{ organizationName }}</p>",
		TextContent:    "Hello {{firstName}}",
		Status:         domain.CampaignDraft,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	require.NoError(t, store.Campaigns().Create(ctx, c))

	sender := &fakeSender{reject: map[string]bool{}}
	engineOpts := append([]delivery.Option{delivery.WithClock(func() time.Time { return now })}, cfg.engineOpts...)
	engine := delivery.NewEngine(delivery.Deps{
		Campaigns:     store.Campaigns(),
		Recipients:    store.Recipients(),
		Contacts:      contacts,
		Organizations: store.Organizations(),
		Domains:       store.Domains(),
		Events:        store.Events(),
		Sender:        sender,
	}, engineOpts...)

	return &fixture{store: store, sender: sender, engine: engine, campaign: c}
}

func (f *fixture) status(t *testing.T) domain.CampaignStatus {
	t.Helper()
	c, err := f.store.Campaigns().Get(context.Background(), org, f.campaign.ID)
	require.NoError(t, err)
	return c.Status
}

func (f *fixture) recipients(t *testing.T) []domain.CampaignRecipient {
	t.Helper()
	rs, err := f.engine.Recipients(context.Background(), org, f.campaign.ID, delivery.RecipientFilter{})
	require.NoError(t, err)
	return rs
}

func (f *fixture) recipientFor(t *testing.T, email string) domain.CampaignRecipient {
	t.Helper()
	for _, r := range f.recipients(t) {
		if r.Email == email {
			return r
		}
	}
	t.Fatalf("no recipient for %s", email)
	return domain.CampaignRecipient{}
}

// Three recipients, the provider rejects one: {sent: 2, total: 3}.
func TestDispatch_PartialSuccess(t *testing.T) {
	f := newFixture(t)
	f.sender.reject["b@example.com"] = true
	ctx := context.Background()

	res, err := f.engine.Dispatch(ctx, org, f.campaign.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, delivery.DispatchResult{Sent: 2, Total: 3}, res)
	assert.Equal(t, domain.CampaignSent, f.status(t))

	rejected := f.recipientFor(t, "b@example.com")
	assert.Equal(t, domain.RecipientPending, rejected.Status)
	assert.Contains(t, rejected.LastError, "MessageRejected")
	assert.Equal(t, 1, rejected.Attempts)

	sent := f.recipientFor(t, "a@example.com")
	assert.Equal(t, domain.RecipientSent, sent.Status)
	assert.Equal(t, "msg-a@example.com", sent.MessageID)
	require.NotNil(t, sent.SentAt)

	agg, err := f.engine.Aggregates(ctx, org, f.campaign.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, agg.Recipients)
	assert.Equal(t, 2, agg.Sent)
	assert.Equal(t, 1, agg.Pending)
	assert.Equal(t, 1, agg.Failed)

	c, _ := f.store.Campaigns().Get(ctx, org, f.campaign.ID)
	assert.Equal(t, agg, c.Stats, "projection refreshed on completion")
	assert.NotNil(t, c.StartedAt)
	assert.NotNil(t, c.CompletedAt)

	events, err := f.engine.Events(ctx, org, f.campaign.ID, delivery.EventFilter{Type: domain.EventSend})
	require.NoError(t, err)
	assert.Len(t, events, 2)
}

func TestDispatch_RendersPerRecipient(t *testing.T) {
	f := newFixture(t)
	_, err := f.engine.Dispatch(context.Background(), org, f.campaign.ID, []string{"g1"})
	require.NoError(t, err)

	f.sender.mu.Lock()
	defer f.sender.mu.Unlock()
	require.Len(t, f.sender.sent, 2)
	for _, m := range f.sender.sent {
		switch m.Email {
		case "a@example.com":
			assert.Equal(t, "Hi Ann", m.Subject)
			assert.Equal(t, "<p>Hello Ann from Acme</p>", m.HTMLContent)
			assert.Equal(t, "Hello Ann", m.TextContent)
		case "b@example.com":
			assert.Equal(t, "Hi Ben", m.Subject)
		}
		assert.Equal(t, "news@acme.com", m.FromEmail)
		assert.Empty(t, m.Headers)
	}
}

func TestDispatch_FanOut(t *testing.T) {
	tests := []struct {
		name   string
		groups []string
		want   []string
	}{
		{"all subscribed when no groups", nil, []string{"a@example.com", "b@example.com", "c@example.com"}},
		{"single group", []string{"g2"}, []string{"b@example.com", "c@example.com"}},
		{"overlapping groups are de-duplicated", []string{"g1", "g2"}, []string{"a@example.com", "b@example.com", "c@example.com"}},
		{"unknown group", []string{"nope"}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			_, err := f.engine.Start(context.Background(), org, f.campaign.ID, tt.groups)
			require.NoError(t, err)

			var got []string
			for _, r := range f.recipients(t) {
				got = append(got, r.Email)
				assert.Equal(t, domain.RecipientPending, r.Status)
			}
			assert.ElementsMatch(t, tt.want, got)
			assert.Equal(t, domain.CampaignSending, f.status(t))
		})
	}
}

func TestDispatch_EmptyAudienceCompletes(t *testing.T) {
	f := newFixture(t)
	res, err := f.engine.Dispatch(context.Background(), org, f.campaign.ID, []string{"nope"})
	require.NoError(t, err)
	assert.Equal(t, delivery.DispatchResult{}, res)
	assert.Equal(t, domain.CampaignSent, f.status(t))
}

func TestDispatch_UnverifiedSender(t *testing.T) {
	f := newFixture(t, withDomainStatus(domain.DomainPending))

	_, err := f.engine.Dispatch(context.Background(), org, f.campaign.ID, nil)
	assert.ErrorIs(t, err, campaign.ErrSenderNotVerified)
	assert.True(t, campaign.IsValidation(err))
	assert.Equal(t, domain.CampaignDraft, f.status(t))
	assert.Empty(t, f.recipients(t))
	assert.Empty(t, f.sender.sentTo())
}

func TestDispatch_InvalidTemplate(t *testing.T) {
	f := newFixture(t)
	html := "{% if firstName %}unterminated"
	require.NoError(t, f.store.Campaigns().Update(context.Background(), org, f.campaign.ID,
		campaign.UpdateFields{HTMLContent: &html}))

	_, err := f.engine.Dispatch(context.Background(), org, f.campaign.ID, nil)
	assert.ErrorIs(t, err, delivery.ErrInvalidTemplate)
	assert.Equal(t, domain.CampaignDraft, f.status(t))
}

func TestDispatch_RepeatedRunsDoNotResend(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.engine.Dispatch(ctx, org, f.campaign.ID, nil)
	require.NoError(t, err)
	require.Len(t, f.sender.sentTo(), 3)

	// a finished campaign cannot be started again
	_, err = f.engine.Dispatch(ctx, org, f.campaign.ID, nil)
	assert.ErrorIs(t, err, campaign.ErrInvalidTransition)

	// a redelivered job for a finished campaign is a no-op
	res, err := f.engine.Deliver(ctx, org, f.campaign.ID)
	require.NoError(t, err)
	assert.Equal(t, delivery.DispatchResult{Sent: 3, Total: 3}, res)
	assert.Len(t, f.sender.sentTo(), 3)
}

func TestDispatch_ContinuesCampaignAlreadySending(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.engine.Start(ctx, org, f.campaign.ID, nil)
	require.NoError(t, err)
	// the job consumer runs Dispatch for a campaign the API already started
	res, err := f.engine.Dispatch(ctx, org, f.campaign.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, delivery.DispatchResult{Sent: 3, Total: 3}, res)
	assert.Len(t, f.recipients(t), 3)
}

func TestDispatch_ProviderUnavailableFailsCampaign(t *testing.T) {
	f := newFixture(t, withEngineOpts(delivery.WithBatchSize(1), delivery.WithWorkers(1)))
	f.sender.unavailableAfter = 2
	ctx := context.Background()

	_, err := f.engine.Dispatch(ctx, org, f.campaign.ID, nil)
	require.ErrorIs(t, err, sending.ErrProviderUnavailable)

	c, _ := f.store.Campaigns().Get(ctx, org, f.campaign.ID)
	assert.Equal(t, domain.CampaignFailed, c.Status)
	assert.Contains(t, c.LastError, "account paused")

	agg, _ := f.engine.Aggregates(ctx, org, f.campaign.ID)
	assert.Equal(t, 1, agg.Sent)
	assert.Equal(t, 2, agg.Pending)

	// retry is the operator action: only still-pending recipients are sent
	f.sender.unavailableAfter = 0
	res, err := f.engine.Retry(ctx, org, f.campaign.ID)
	require.NoError(t, err)
	assert.Equal(t, delivery.DispatchResult{Sent: 3, Total: 3}, res)
	assert.Len(t, f.sender.sentTo(), 3)

	c, _ = f.store.Campaigns().Get(ctx, org, f.campaign.ID)
	assert.Equal(t, domain.CampaignSent, c.Status)
	assert.Empty(t, c.LastError)

	_, err = f.engine.Retry(ctx, org, f.campaign.ID)
	assert.ErrorIs(t, err, campaign.ErrInvalidTransition)
}

// A provider outage reported by one worker stops new sends but never
// cancels a send another worker already has in flight.
func TestDispatch_ProviderUnavailableKeepsInFlightSend(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	bStarted := make(chan struct{})
	aFailed := make(chan struct{})
	var mu sync.Mutex
	var cancelled []string

	sender := sending.SenderFunc(func(ctx context.Context, msg *domain.EmailMessage) (*domain.SendResult, error) {
		switch msg.Email {
		case "a@example.com":
			select {
			case <-bStarted:
			case <-time.After(2 * time.Second):
			}
			defer close(aFailed)
			return nil, sending.Unavailable(fmt.Errorf("endpoint down"))
		case "b@example.com":
			close(bStarted)
			select {
			case <-aFailed:
			case <-time.After(2 * time.Second):
			}
			// give the batch time to react to the outage
			select {
			case <-ctx.Done():
				mu.Lock()
				cancelled = append(cancelled, msg.Email)
				mu.Unlock()
				return nil, ctx.Err()
			case <-time.After(100 * time.Millisecond):
			}
		}
		return &domain.SendResult{MessageID: "msg-" + msg.Email, SentAt: now}, nil
	})

	engine := delivery.NewEngine(delivery.Deps{
		Campaigns:     f.store.Campaigns(),
		Recipients:    f.store.Recipients(),
		Contacts:      f.store.Contacts(),
		Organizations: f.store.Organizations(),
		Domains:       f.store.Domains(),
		Events:        f.store.Events(),
		Sender:        sender,
	}, delivery.WithClock(func() time.Time { return now }), delivery.WithWorkers(2))

	// group g1 holds a and b as subscribed contacts
	_, err := engine.Dispatch(ctx, org, f.campaign.ID, []string{"g1"})
	require.ErrorIs(t, err, sending.ErrProviderUnavailable)

	assert.Empty(t, cancelled, "in-flight send was cancelled")
	assert.Equal(t, domain.RecipientSent, f.recipientFor(t, "b@example.com").Status)
	assert.Equal(t, domain.RecipientPending, f.recipientFor(t, "a@example.com").Status)
	assert.Equal(t, domain.CampaignFailed, f.status(t))
}

func TestDispatch_PauseStopsNextBatch(t *testing.T) {
	f := newFixture(t, withEngineOpts(delivery.WithBatchSize(1), delivery.WithWorkers(1)))
	ctx := context.Background()

	var once sync.Once
	f.sender.onSend = func(*domain.EmailMessage) {
		once.Do(func() {
			err := f.store.Campaigns().Transition(ctx, org, f.campaign.ID, campaign.StatusChange{
				From: []domain.CampaignStatus{domain.CampaignSending},
				To:   domain.CampaignPaused,
				At:   now,
			})
			assert.NoError(t, err)
		})
	}

	res, err := f.engine.Dispatch(ctx, org, f.campaign.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, delivery.DispatchResult{Sent: 1, Total: 3}, res, "in-flight send completes, next batch does not start")
	assert.Equal(t, domain.CampaignPaused, f.status(t))
}

func TestDispatch_TrackedLinks(t *testing.T) {
	f := newFixture(t, withEngineOpts(delivery.WithLinks(fakeLinks{})))
	html := `<p><a href="https://acme.com/sale">Sale</a> <a href="{{ unsubscribeUrl }}">unsubscribe</a></p>`
	require.NoError(t, f.store.Campaigns().Update(context.Background(), org, f.campaign.ID,
		campaign.UpdateFields{HTMLContent: &html}))

	_, err := f.engine.Dispatch(context.Background(), org, f.campaign.ID, []string{"g2"})
	require.NoError(t, err)

	f.sender.mu.Lock()
	defer f.sender.mu.Unlock()
	for _, m := range f.sender.sent {
		unsub := "https://t.example/u/" + m.RecipientID
		assert.Contains(t, m.HTMLContent, `href="`+unsub+`"`)
		assert.True(t, strings.HasSuffix(m.HTMLContent, "<!--tracked-->"))
		assert.Equal(t, "<"+unsub+">", m.Headers["List-Unsubscribe"])
	}
}

type fakeLinks struct{}

func (fakeLinks) UnsubscribeURL(_, _, recipientID string) string {
	return "https://t.example/u/" + recipientID
}

func (fakeLinks) Instrument(html, _, _, _ string) string {
	return html + "<!--tracked-->"
}
