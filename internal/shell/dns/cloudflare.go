package dns

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/cloudflare/cloudflare-go"

	coredns "github.com/artpar/pagehost/internal/core/dns"
)

// cloudflareClientRate is high enough that the factory's limiter is the one
// that throttles.
const cloudflareClientRate = 100

// CloudflareProvisioner manages records through the Cloudflare v4 API.
type CloudflareProvisioner struct {
	api    *cloudflare.API
	zoneID string
	logger *slog.Logger
}

// NewCloudflareProvisioner creates a Cloudflare client bound to creds.
func NewCloudflareProvisioner(creds Credentials, opts Options, logger *slog.Logger) (*CloudflareProvisioner, error) {
	clientOpts := []cloudflare.Option{
		cloudflare.UsingRateLimit(cloudflareClientRate),
		cloudflare.UsingRetryPolicy(2, 1, 5),
		cloudflare.UserAgent("pagehost"),
	}
	if opts.BaseURL != "" {
		clientOpts = append(clientOpts, cloudflare.BaseURL(opts.BaseURL))
	}
	if opts.HTTPClient != nil {
		clientOpts = append(clientOpts, cloudflare.HTTPClient(opts.HTTPClient))
	}

	api, err := cloudflare.NewWithAPIToken(creds.APIToken, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCredentials, err)
	}
	return &CloudflareProvisioner{
		api:    api,
		zoneID: creds.ZoneID,
		logger: logger.With("provider", coredns.ProviderCloudflare),
	}, nil
}

// CreateRecord creates the CNAME. Records are never proxied so the hosting
// provider can issue certificates for the custom domain.
func (c *CloudflareProvisioner) CreateRecord(ctx context.Context, subdomain, domain, target, zoneID string) error {
	zone := zoneOr(zoneID, c.zoneID)
	fqdn := coredns.FQDN(subdomain, domain)

	rec, err := c.api.CreateDNSRecord(ctx, cloudflare.ZoneIdentifier(zone), cloudflare.CreateDNSRecordParams{
		Type:    coredns.RecordTypeCNAME,
		Name:    fqdn,
		Content: target,
		TTL:     coredns.RecordTTL,
		Proxied: cloudflare.BoolPtr(false),
	})
	if err != nil {
		return fmt.Errorf("create record %s: %w", fqdn, mapCloudflareError(err))
	}

	c.logger.Info("record created", "name", fqdn, "target", target, "record_id", rec.ID)
	return nil
}

// DeleteRecord removes the CNAME for subdomain.domain if present. A record
// that disappears between listing and deleting counts as deleted.
func (c *CloudflareProvisioner) DeleteRecord(ctx context.Context, subdomain, domain, zoneID string) error {
	zone := zoneOr(zoneID, c.zoneID)
	fqdn := coredns.FQDN(subdomain, domain)

	records, err := c.listRecords(ctx, zone, fqdn)
	if err != nil {
		return err
	}
	for _, rec := range records {
		if err := c.api.DeleteDNSRecord(ctx, cloudflare.ZoneIdentifier(zone), rec.ID); err != nil {
			var notFound *cloudflare.NotFoundError
			if errors.As(err, &notFound) {
				continue
			}
			return fmt.Errorf("delete record %s: %w", fqdn, mapCloudflareError(err))
		}
		c.logger.Info("record deleted", "name", fqdn, "record_id", rec.ID)
	}
	return nil
}

// IsAvailable reports whether no CNAME exists for subdomain.domain.
func (c *CloudflareProvisioner) IsAvailable(ctx context.Context, subdomain, domain, zoneID string) (bool, error) {
	records, err := c.listRecords(ctx, zoneOr(zoneID, c.zoneID), coredns.FQDN(subdomain, domain))
	if err != nil {
		return false, err
	}
	return len(records) == 0, nil
}

// VerifyZone reads the zone details.
func (c *CloudflareProvisioner) VerifyZone(ctx context.Context, zoneID string) error {
	zone := zoneOr(zoneID, c.zoneID)
	if _, err := c.api.ZoneDetails(ctx, zone); err != nil {
		return fmt.Errorf("verify zone %s: %w", zone, mapCloudflareError(err))
	}
	return nil
}

func (c *CloudflareProvisioner) listRecords(ctx context.Context, zone, fqdn string) ([]cloudflare.DNSRecord, error) {
	records, _, err := c.api.ListDNSRecords(ctx, cloudflare.ZoneIdentifier(zone), cloudflare.ListDNSRecordsParams{
		Type: coredns.RecordTypeCNAME,
		Name: fqdn,
	})
	if err != nil {
		return nil, fmt.Errorf("list records %s: %w", fqdn, mapCloudflareError(err))
	}

	// Only exact name+type matches count.
	matched := records[:0]
	for _, rec := range records {
		if rec.Type == coredns.RecordTypeCNAME && coredns.MatchesName(rec.Name, fqdn) {
			matched = append(matched, rec)
		}
	}
	return matched, nil
}

func mapCloudflareError(err error) error {
	var (
		authn    *cloudflare.AuthenticationError
		authz    *cloudflare.AuthorizationError
		notFound *cloudflare.NotFoundError
	)
	switch {
	case errors.As(err, &authn), errors.As(err, &authz):
		return fmt.Errorf("%w: %v", ErrAuth, err)
	case errors.As(err, &notFound):
		return fmt.Errorf("%w: %v", ErrZoneNotFound, err)
	}
	return err
}
