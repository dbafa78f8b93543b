package sendingdomain_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/engagex/internal/domain"
	"github.com/ignite/engagex/internal/repository/memory"
	"github.com/ignite/engagex/internal/service/sendingdomain"
	"github.com/ignite/engagex/internal/trust"
)

const org = "org-1"

var policy = trust.RecordPolicy{
	SPFInclude:   "amazonses.com",
	RoutingHost:  "mail.engagex.io",
	DKIMSelector: "engagex",
}

func published(name string) *trust.MockResolver {
	return &trust.MockResolver{
		TXT: map[string][]string{
			name:             {"v=spf1 include:amazonses.com ~all"},
			"_dmarc." + name: {"v=DMARC1; p=reject"},
		},
		CNAME: map[string]string{"mail." + name: "mail.engagex.io."},
	}
}

func newService(r trust.Resolver, pub sendingdomain.RecordPublisher) (*sendingdomain.Service, *memory.Store) {
	store := memory.NewStore()
	v := trust.NewVerifier(r, 200*time.Millisecond)
	return sendingdomain.NewService(store.Domains(), v, pub, policy), store
}

func TestRegister(t *testing.T) {
	svc, _ := newService(&trust.MockResolver{}, nil)
	ctx := context.Background()

	d, err := svc.Register(ctx, org, " News.Example.com. ")
	require.NoError(t, err)
	assert.Equal(t, "news.example.com", d.Domain)
	assert.Equal(t, domain.DomainPending, d.Status)
	assert.Equal(t, "v=spf1 include:amazonses.com ~all", d.SPF.Expected)
	assert.Equal(t, "_dmarc.news.example.com", d.DMARC.Host)
	assert.Equal(t, "engagex._domainkey.news.example.com", d.DKIM.Host)
	assert.Equal(t, "mail.engagex.io", d.CNAME.Expected)

	_, err = svc.Register(ctx, org, "news.example.com")
	assert.ErrorIs(t, err, sendingdomain.ErrDuplicate)

	_, err = svc.Register(ctx, "org-2", "news.example.com")
	assert.NoError(t, err, "another organization may register the same name")

	_, err = svc.Register(ctx, org, "not a domain")
	assert.ErrorIs(t, err, sendingdomain.ErrInvalidDomain)
}

func TestVerify_StoresOutcome(t *testing.T) {
	svc, _ := newService(published("example.com"), nil)
	ctx := context.Background()

	d, err := svc.Register(ctx, org, "example.com")
	require.NoError(t, err)

	got, res, err := svc.Verify(ctx, org, d.ID)
	require.NoError(t, err)
	assert.True(t, res.Verified)
	assert.Equal(t, domain.DomainVerified, got.Status)
	require.NotNil(t, got.LastCheckedAt)

	stored, err := svc.Get(ctx, org, d.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.DomainVerified, stored.Status)
	assert.True(t, stored.SPF.Verified)
	assert.False(t, stored.DKIM.Verified)
	assert.NotEmpty(t, stored.DKIM.Reason)
}

func TestVerify_MissingRecordFails(t *testing.T) {
	r := published("example.com")
	delete(r.CNAME, "mail.example.com")
	svc, _ := newService(r, nil)
	ctx := context.Background()

	d, err := svc.Register(ctx, org, "example.com")
	require.NoError(t, err)

	got, res, err := svc.Verify(ctx, org, d.ID)
	require.NoError(t, err, "DNS problems are reported on records, not as errors")
	assert.False(t, res.Verified)
	assert.Equal(t, domain.DomainFailed, got.Status)
	assert.False(t, got.CNAME.Verified)
	assert.NotEmpty(t, got.CNAME.Reason)
}

func TestVerify_OtherOrganization(t *testing.T) {
	svc, _ := newService(published("example.com"), nil)
	d, err := svc.Register(context.Background(), org, "example.com")
	require.NoError(t, err)

	_, _, err = svc.Verify(context.Background(), "org-2", d.ID)
	assert.ErrorIs(t, err, sendingdomain.ErrNotFound)
}

func TestVerifyPending(t *testing.T) {
	svc, _ := newService(published("good.com"), nil)
	ctx := context.Background()

	good, err := svc.Register(ctx, org, "good.com")
	require.NoError(t, err)
	bad, err := svc.Register(ctx, org, "bad.com")
	require.NoError(t, err)

	n, err := svc.VerifyPending(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	g, _ := svc.Get(ctx, org, good.ID)
	b, _ := svc.Get(ctx, org, bad.ID)
	assert.Equal(t, domain.DomainVerified, g.Status)
	assert.Equal(t, domain.DomainFailed, b.Status)
}

func TestRegenerate_ResetsToPending(t *testing.T) {
	svc, _ := newService(published("example.com"), nil)
	ctx := context.Background()
	d, _ := svc.Register(ctx, org, "example.com")
	_, _, err := svc.Verify(ctx, org, d.ID)
	require.NoError(t, err)

	got, err := svc.Regenerate(ctx, org, d.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.DomainPending, got.Status)
	assert.Nil(t, got.LastCheckedAt)
	assert.False(t, got.SPF.Verified)
	assert.Empty(t, got.SPF.Observed)
}

type fakePublisher struct {
	name    string
	records []domain.DNSRecord
}

func (f *fakePublisher) Publish(_ context.Context, name string, records []domain.DNSRecord) (string, error) {
	f.name, f.records = name, records
	return "C1", nil
}

func TestPublish(t *testing.T) {
	ctx := context.Background()

	svc, _ := newService(&trust.MockResolver{}, nil)
	d, _ := svc.Register(ctx, org, "example.com")
	_, err := svc.Publish(ctx, org, d.ID)
	assert.ErrorIs(t, err, sendingdomain.ErrPublishingDisabled)

	pub := &fakePublisher{}
	svc, _ = newService(&trust.MockResolver{}, pub)
	d, _ = svc.Register(ctx, org, "example.com")
	id, err := svc.Publish(ctx, org, d.ID)
	require.NoError(t, err)
	assert.Equal(t, "C1", id)
	assert.Equal(t, "example.com", pub.name)
	assert.Len(t, pub.records, 4)
}

func TestDelete_RefusedWhileReferenced(t *testing.T) {
	svc, store := newService(&trust.MockResolver{}, nil)
	ctx := context.Background()
	d, _ := svc.Register(ctx, org, "example.com")

	require.NoError(t, store.Campaigns().Create(ctx, &domain.Campaign{
		ID: "c1", OrganizationID: org, DomainID: &d.ID, Name: "n", Status: domain.CampaignDraft,
	}))
	assert.ErrorIs(t, svc.Delete(ctx, org, d.ID), sendingdomain.ErrDomainInUse)

	require.NoError(t, store.Campaigns().Delete(ctx, org, "c1"))
	assert.NoError(t, svc.Delete(ctx, org, d.ID))
	_, err := svc.Get(ctx, org, d.ID)
	assert.ErrorIs(t, err, sendingdomain.ErrNotFound)
}
