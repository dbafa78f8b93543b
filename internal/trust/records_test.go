package trust

import (
	"context"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/route53"
	r53types "github.com/aws/aws-sdk-go-v2/service/route53/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/engagex/internal/domain"
)

func TestExpectedRecords(t *testing.T) {
	recs := ExpectedRecords("News.Example.COM.", policy)
	require.Len(t, recs, 4)

	assert.Equal(t, domain.DNSRecord{Kind: domain.RecordSPF, Type: "TXT", Host: "news.example.com", Expected: "v=spf1 include:mailhost ~all"}, recs[0])
	assert.Equal(t, "engagex._domainkey.news.example.com", recs[1].Host)
	assert.Equal(t, "_dmarc.news.example.com", recs[2].Host)
	assert.Equal(t, "v=DMARC1; p=quarantine; rua=mailto:dmarc@news.example.com", recs[2].Expected)
	assert.Equal(t, domain.DNSRecord{Kind: domain.RecordCNAME, Type: "CNAME", Host: "mail.news.example.com", Expected: "route.engagex.io"}, recs[3])
}

func TestValidateDomainName(t *testing.T) {
	tests := []struct {
		name    string
		domain  string
		wantErr bool
	}{
		{"valid", "example.com", false},
		{"subdomain", "news.example.co.uk", false},
		{"hyphen inside", "my-brand.io", false},
		{"empty", "", true},
		{"single label", "localhost", true},
		{"empty label", "example..com", true},
		{"leading hyphen", "-bad.com", true},
		{"trailing hyphen", "bad-.com", true},
		{"uppercase", "Example.com", true},
		{"underscore", "ex_ample.com", true},
		{"label too long", strings.Repeat("a", 64) + ".com", true},
		{"too long", strings.Repeat("abcdefghi.", 26) + "com", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateDomainName(tt.domain)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

type fakeRoute53 struct {
	zoneName string
	input    *route53.ChangeResourceRecordSetsInput
}

func (f *fakeRoute53) GetHostedZone(ctx context.Context, in *route53.GetHostedZoneInput, _ ...func(*route53.Options)) (*route53.GetHostedZoneOutput, error) {
	return &route53.GetHostedZoneOutput{HostedZone: &r53types.HostedZone{Id: in.Id, Name: aws.String(f.zoneName)}}, nil
}

func (f *fakeRoute53) ChangeResourceRecordSets(ctx context.Context, in *route53.ChangeResourceRecordSetsInput, _ ...func(*route53.Options)) (*route53.ChangeResourceRecordSetsOutput, error) {
	f.input = in
	return &route53.ChangeResourceRecordSetsOutput{ChangeInfo: &r53types.ChangeInfo{Id: aws.String("/change/C123")}}, nil
}

func TestPublisher_Publish(t *testing.T) {
	fake := &fakeRoute53{zoneName: "example.com."}
	p := NewPublisher(fake, "Z1")

	id, err := p.Publish(context.Background(), "news.example.com", ExpectedRecords("news.example.com", policy))
	require.NoError(t, err)
	assert.Equal(t, "/change/C123", id)

	changes := fake.input.ChangeBatch.Changes
	require.Len(t, changes, 3, "DKIM without key material is skipped")
	assert.Equal(t, "news.example.com.", aws.ToString(changes[0].ResourceRecordSet.Name))
	assert.Equal(t, `"v=spf1 include:mailhost ~all"`, aws.ToString(changes[0].ResourceRecordSet.ResourceRecords[0].Value))
	assert.Equal(t, r53types.RRType("CNAME"), changes[2].ResourceRecordSet.Type)
	assert.Equal(t, "route.engagex.io.", aws.ToString(changes[2].ResourceRecordSet.ResourceRecords[0].Value))
}

func TestPublisher_OutsideZone(t *testing.T) {
	p := NewPublisher(&fakeRoute53{zoneName: "example.com."}, "Z1")
	_, err := p.Publish(context.Background(), "notexample.com", ExpectedRecords("notexample.com", policy))
	assert.ErrorIs(t, err, ErrOutsideZone)
}
