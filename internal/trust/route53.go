package trust

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/route53"
	r53types "github.com/aws/aws-sdk-go-v2/service/route53/types"
	mdns "github.com/miekg/dns"

	"github.com/ignite/engagex/internal/domain"
)

// ErrOutsideZone is returned when the domain is not served by the hosted zone.
var ErrOutsideZone = errors.New("domain is not in the configured hosted zone")

// Route53API is the subset of the Route53 client used by Publisher.
type Route53API interface {
	GetHostedZone(ctx context.Context, in *route53.GetHostedZoneInput, optFns ...func(*route53.Options)) (*route53.GetHostedZoneOutput, error)
	ChangeResourceRecordSets(ctx context.Context, in *route53.ChangeResourceRecordSetsInput, optFns ...func(*route53.Options)) (*route53.ChangeResourceRecordSetsOutput, error)
}

// Publisher upserts expected records into a Route53 hosted zone, for
// domains whose DNS the platform operates.
type Publisher struct {
	client Route53API
	zoneID string
	ttl    int64
}

// NewRoute53Publisher loads AWS credentials from the default chain.
func NewRoute53Publisher(ctx context.Context, region, zoneID string) (*Publisher, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}
	return NewPublisher(route53.NewFromConfig(awsCfg), zoneID), nil
}

// NewPublisher wraps an existing client.
func NewPublisher(client Route53API, zoneID string) *Publisher {
	return &Publisher{client: client, zoneID: zoneID, ttl: 300}
}

// Publish UPSERTs every record that has a concrete expected value and
// returns the Route53 change id. DKIM is skipped until key material exists.
func (p *Publisher) Publish(ctx context.Context, name string, records []domain.DNSRecord) (string, error) {
	zone, err := p.client.GetHostedZone(ctx, &route53.GetHostedZoneInput{Id: aws.String(p.zoneID)})
	if err != nil {
		return "", fmt.Errorf("get hosted zone: %w", err)
	}
	zoneName := normalizeHost(aws.ToString(zone.HostedZone.Name))
	name = normalizeHost(name)
	if name != zoneName && !strings.HasSuffix(name, "."+zoneName) {
		return "", ErrOutsideZone
	}

	var changes []r53types.Change
	for _, rec := range records {
		if rec.Kind == domain.RecordDKIM && strings.HasSuffix(rec.Expected, "p=") {
			continue
		}
		value := rec.Expected
		if rec.Type == "TXT" {
			value = `"` + strings.ReplaceAll(value, `"`, `\"`) + `"`
		} else {
			value = mdns.Fqdn(value)
		}
		changes = append(changes, r53types.Change{
			Action: r53types.ChangeActionUpsert,
			ResourceRecordSet: &r53types.ResourceRecordSet{
				Name:            aws.String(mdns.Fqdn(rec.Host)),
				Type:            r53types.RRType(rec.Type),
				TTL:             aws.Int64(p.ttl),
				ResourceRecords: []r53types.ResourceRecord{{Value: aws.String(value)}},
			},
		})
	}
	if len(changes) == 0 {
		return "", nil
	}

	out, err := p.client.ChangeResourceRecordSets(ctx, &route53.ChangeResourceRecordSetsInput{
		HostedZoneId: aws.String(p.zoneID),
		ChangeBatch: &r53types.ChangeBatch{
			Changes: changes,
			Comment: aws.String("EngageX sending domain " + name),
		},
	})
	if err != nil {
		return "", fmt.Errorf("creating Route53 records: %w", err)
	}
	return aws.ToString(out.ChangeInfo.Id), nil
}
