package dns

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/hetznercloud/hcloud-go/v2/hcloud"

	coredns "github.com/artpar/pagehost/internal/core/dns"
)

// HetznerProvisioner manages records through the Hetzner Cloud zone RRSet API.
// The zone ID is the zone name.
type HetznerProvisioner struct {
	client *hcloud.Client
	zoneID string
	logger *slog.Logger
}

// NewHetznerProvisioner creates a Hetzner client bound to creds.
func NewHetznerProvisioner(creds Credentials, opts Options, logger *slog.Logger) *HetznerProvisioner {
	clientOpts := []hcloud.ClientOption{
		hcloud.WithToken(creds.APIToken),
		hcloud.WithApplication("pagehost", ""),
	}
	if opts.BaseURL != "" {
		clientOpts = append(clientOpts, hcloud.WithEndpoint(opts.BaseURL))
	}
	if opts.HTTPClient != nil {
		clientOpts = append(clientOpts, hcloud.WithHTTPClient(opts.HTTPClient))
	}
	return &HetznerProvisioner{
		client: hcloud.NewClient(clientOpts...),
		zoneID: creds.ZoneID,
		logger: logger.With("provider", coredns.ProviderHetzner),
	}
}

// CreateRecord creates a single-record CNAME RRSet named after the subdomain.
func (p *HetznerProvisioner) CreateRecord(ctx context.Context, subdomain, domain, target, zoneID string) error {
	zone, err := p.getZone(ctx, zoneID, domain)
	if err != nil {
		return err
	}

	ttl := coredns.RecordTTL
	result, _, err := p.client.Zone.CreateRRSet(ctx, zone, hcloud.ZoneRRSetCreateOpts{
		Name: subdomain,
		Type: hcloud.ZoneRRSetTypeCNAME,
		TTL:  &ttl,
		Records: []hcloud.ZoneRRSetRecord{
			{Value: strings.TrimSuffix(target, ".") + "."},
		},
	})
	if err != nil {
		return fmt.Errorf("create record %s: %w", coredns.FQDN(subdomain, domain), mapHcloudError(err))
	}

	p.logger.Info("record created", "name", coredns.FQDN(subdomain, domain), "target", target, "rrset_id", result.RRSet.ID)
	return nil
}

// DeleteRecord removes the CNAME RRSet for subdomain if present.
func (p *HetznerProvisioner) DeleteRecord(ctx context.Context, subdomain, domain, zoneID string) error {
	zone, err := p.getZone(ctx, zoneID, domain)
	if err != nil {
		return err
	}

	rrset, err := p.getRRSet(ctx, zone, subdomain)
	if err != nil || rrset == nil {
		return err
	}
	if _, _, err := p.client.Zone.DeleteRRSet(ctx, rrset); err != nil {
		return fmt.Errorf("delete record %s: %w", coredns.FQDN(subdomain, domain), mapHcloudError(err))
	}

	p.logger.Info("record deleted", "name", coredns.FQDN(subdomain, domain), "rrset_id", rrset.ID)
	return nil
}

// IsAvailable reports whether no CNAME RRSet exists for subdomain.
func (p *HetznerProvisioner) IsAvailable(ctx context.Context, subdomain, domain, zoneID string) (bool, error) {
	zone, err := p.getZone(ctx, zoneID, domain)
	if err != nil {
		return false, err
	}
	rrset, err := p.getRRSet(ctx, zone, subdomain)
	if err != nil {
		return false, err
	}
	return rrset == nil, nil
}

// VerifyZone reads the zone.
func (p *HetznerProvisioner) VerifyZone(ctx context.Context, zoneID string) error {
	_, err := p.getZone(ctx, zoneID, "")
	return err
}

func (p *HetznerProvisioner) getZone(ctx context.Context, zoneID, domain string) (*hcloud.Zone, error) {
	name := zoneOr(zoneID, p.zoneID)
	if name == "" {
		name = domain
	}
	zone, _, err := p.client.Zone.Get(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("get zone %s: %w", name, mapHcloudError(err))
	}
	if zone == nil {
		return nil, fmt.Errorf("get zone %s: %w", name, ErrZoneNotFound)
	}
	return zone, nil
}

func (p *HetznerProvisioner) getRRSet(ctx context.Context, zone *hcloud.Zone, subdomain string) (*hcloud.ZoneRRSet, error) {
	rrset, _, err := p.client.Zone.GetRRSetByNameAndType(ctx, zone, subdomain, hcloud.ZoneRRSetTypeCNAME)
	if err != nil {
		if hcloud.IsError(err, hcloud.ErrorCodeNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get rrset %s: %w", subdomain, mapHcloudError(err))
	}
	return rrset, nil
}

func mapHcloudError(err error) error {
	switch {
	case hcloud.IsError(err, hcloud.ErrorCodeUnauthorized), hcloud.IsError(err, hcloud.ErrorCodeForbidden):
		return fmt.Errorf("%w: %v", ErrAuth, err)
	case hcloud.IsError(err, hcloud.ErrorCodeNotFound):
		return fmt.Errorf("%w: %v", ErrZoneNotFound, err)
	}
	return err
}
