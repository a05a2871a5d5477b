package dns

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/route53"
	"github.com/aws/aws-sdk-go-v2/service/route53/types"
	"github.com/aws/smithy-go"

	coredns "github.com/artpar/pagehost/internal/core/dns"
)

// route53Region is fixed; Route 53 is a global service served from us-east-1.
const route53Region = "us-east-1"

// route53Credentials is the JSON shape of a Route 53 API token.
type route53Credentials struct {
	AccessKeyID     string `json:"access_key_id"`
	SecretAccessKey string `json:"secret_access_key"`
}

// ParseRoute53Token decodes a token of the form
// {"access_key_id":"...","secret_access_key":"..."}.
func ParseRoute53Token(token string) (string, string, error) {
	var creds route53Credentials
	if err := json.Unmarshal([]byte(token), &creds); err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrInvalidCredentials, err)
	}
	if creds.AccessKeyID == "" || creds.SecretAccessKey == "" {
		return "", "", fmt.Errorf("%w: access_key_id and secret_access_key are required", ErrInvalidCredentials)
	}
	return creds.AccessKeyID, creds.SecretAccessKey, nil
}

// Route53Provisioner manages records in a Route 53 hosted zone.
// The zone ID is the hosted zone ID.
type Route53Provisioner struct {
	client *route53.Client
	zoneID string
	logger *slog.Logger
}

// NewRoute53Provisioner creates a Route 53 client with static credentials.
func NewRoute53Provisioner(creds Credentials, opts Options, logger *slog.Logger) (*Route53Provisioner, error) {
	accessKey, secretKey, err := ParseRoute53Token(creds.APIToken)
	if err != nil {
		return nil, err
	}

	client := route53.New(route53.Options{
		Region:      route53Region,
		Credentials: credentials.NewStaticCredentialsProvider(accessKey, secretKey, ""),
	}, func(o *route53.Options) {
		if opts.BaseURL != "" {
			o.BaseEndpoint = aws.String(opts.BaseURL)
		}
		if opts.HTTPClient != nil {
			o.HTTPClient = opts.HTTPClient
		}
	})

	return &Route53Provisioner{
		client: client,
		zoneID: creds.ZoneID,
		logger: logger.With("provider", coredns.ProviderRoute53),
	}, nil
}

// CreateRecord submits a CREATE change, which Route 53 rejects if the record exists.
func (p *Route53Provisioner) CreateRecord(ctx context.Context, subdomain, domain, target, zoneID string) error {
	fqdn := coredns.FQDN(subdomain, domain)
	set := types.ResourceRecordSet{
		Name: aws.String(fqdn + "."),
		Type: types.RRTypeCname,
		TTL:  aws.Int64(coredns.RecordTTL),
		ResourceRecords: []types.ResourceRecord{
			{Value: aws.String(target)},
		},
	}
	if err := p.change(ctx, zoneOr(zoneID, p.zoneID), types.ChangeActionCreate, set); err != nil {
		return fmt.Errorf("create record %s: %w", fqdn, err)
	}

	p.logger.Info("record created", "name", fqdn, "target", target)
	return nil
}

// DeleteRecord deletes the record set exactly as Route 53 reports it.
func (p *Route53Provisioner) DeleteRecord(ctx context.Context, subdomain, domain, zoneID string) error {
	zone := zoneOr(zoneID, p.zoneID)
	fqdn := coredns.FQDN(subdomain, domain)

	set, err := p.findRecordSet(ctx, zone, fqdn)
	if err != nil || set == nil {
		return err
	}
	if err := p.change(ctx, zone, types.ChangeActionDelete, *set); err != nil {
		return fmt.Errorf("delete record %s: %w", fqdn, err)
	}

	p.logger.Info("record deleted", "name", fqdn)
	return nil
}

// IsAvailable reports whether no CNAME exists for subdomain.domain.
func (p *Route53Provisioner) IsAvailable(ctx context.Context, subdomain, domain, zoneID string) (bool, error) {
	set, err := p.findRecordSet(ctx, zoneOr(zoneID, p.zoneID), coredns.FQDN(subdomain, domain))
	if err != nil {
		return false, err
	}
	return set == nil, nil
}

// VerifyZone reads the hosted zone.
func (p *Route53Provisioner) VerifyZone(ctx context.Context, zoneID string) error {
	zone := zoneOr(zoneID, p.zoneID)
	if _, err := p.client.GetHostedZone(ctx, &route53.GetHostedZoneInput{Id: aws.String(zone)}); err != nil {
		return fmt.Errorf("verify zone %s: %w", zone, mapAWSError(err))
	}
	return nil
}

func (p *Route53Provisioner) findRecordSet(ctx context.Context, zone, fqdn string) (*types.ResourceRecordSet, error) {
	out, err := p.client.ListResourceRecordSets(ctx, &route53.ListResourceRecordSetsInput{
		HostedZoneId:    aws.String(zone),
		StartRecordName: aws.String(fqdn + "."),
		StartRecordType: types.RRTypeCname,
		MaxItems:        aws.Int32(1),
	})
	if err != nil {
		return nil, fmt.Errorf("list records %s: %w", fqdn, mapAWSError(err))
	}

	// The listing starts at the name, so the first set may be a later one.
	for _, set := range out.ResourceRecordSets {
		if set.Type == types.RRTypeCname && coredns.MatchesName(aws.ToString(set.Name), fqdn) {
			return &set, nil
		}
	}
	return nil, nil
}

func (p *Route53Provisioner) change(ctx context.Context, zone string, action types.ChangeAction, set types.ResourceRecordSet) error {
	_, err := p.client.ChangeResourceRecordSets(ctx, &route53.ChangeResourceRecordSetsInput{
		HostedZoneId: aws.String(zone),
		ChangeBatch: &types.ChangeBatch{
			Changes: []types.Change{
				{Action: action, ResourceRecordSet: &set},
			},
		},
	})
	if err != nil {
		return mapAWSError(err)
	}
	return nil
}

func mapAWSError(err error) error {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return err
	}
	switch apiErr.ErrorCode() {
	case "AccessDenied", "InvalidClientTokenId", "SignatureDoesNotMatch", "UnrecognizedClientException":
		return fmt.Errorf("%w: %s", ErrAuth, apiErr.ErrorMessage())
	case "NoSuchHostedZone":
		return fmt.Errorf("%w: %s", ErrZoneNotFound, apiErr.ErrorMessage())
	}
	return err
}
