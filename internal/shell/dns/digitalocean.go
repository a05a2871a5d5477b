package dns

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/digitalocean/godo"
	"golang.org/x/oauth2"

	coredns "github.com/artpar/pagehost/internal/core/dns"
)

// DigitalOceanProvisioner manages records through the DigitalOcean Domains API.
// The zone ID is the domain name as registered with DigitalOcean.
type DigitalOceanProvisioner struct {
	client *godo.Client
	zoneID string
	logger *slog.Logger
}

// NewDigitalOceanProvisioner creates a DigitalOcean client bound to creds.
// Requests go through opts.HTTPClient with the token added by an oauth2 transport.
func NewDigitalOceanProvisioner(creds Credentials, opts Options, logger *slog.Logger) (*DigitalOceanProvisioner, error) {
	base := opts.HTTPClient
	if base == nil {
		base = http.DefaultClient
	}
	token := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: strings.TrimSpace(creds.APIToken)})
	httpClient := oauth2.NewClient(context.WithValue(context.Background(), oauth2.HTTPClient, base), token)
	httpClient.Timeout = base.Timeout

	clientOpts := []godo.ClientOpt{godo.SetUserAgent("pagehost")}
	if opts.BaseURL != "" {
		clientOpts = append(clientOpts, godo.SetBaseURL(strings.TrimSuffix(opts.BaseURL, "/")+"/"))
	}
	client, err := godo.New(httpClient, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("digitalocean client: %w", err)
	}

	return &DigitalOceanProvisioner{
		client: client,
		zoneID: creds.ZoneID,
		logger: logger.With("provider", coredns.ProviderDigitalOcean),
	}, nil
}

// CreateRecord creates the CNAME. DigitalOcean wants the relative name and a
// fully-qualified target with a trailing dot.
func (p *DigitalOceanProvisioner) CreateRecord(ctx context.Context, subdomain, domain, target, zoneID string) error {
	zone := p.zone(zoneID, domain)
	rec, _, err := p.client.Domains.CreateRecord(ctx, zone, &godo.DomainRecordEditRequest{
		Type: coredns.RecordTypeCNAME,
		Name: subdomain,
		Data: strings.TrimSuffix(target, ".") + ".",
		TTL:  coredns.RecordTTL,
	})
	if err != nil {
		return fmt.Errorf("create record %s: %w", coredns.FQDN(subdomain, domain), mapGodoError(err))
	}

	p.logger.Info("record created", "name", coredns.FQDN(subdomain, domain), "target", target, "record_id", rec.ID)
	return nil
}

// DeleteRecord removes the CNAME for subdomain.domain if present.
func (p *DigitalOceanProvisioner) DeleteRecord(ctx context.Context, subdomain, domain, zoneID string) error {
	zone := p.zone(zoneID, domain)
	fqdn := coredns.FQDN(subdomain, domain)

	records, err := p.findRecords(ctx, zone, fqdn)
	if err != nil {
		return err
	}
	for _, rec := range records {
		if _, err := p.client.Domains.DeleteRecord(ctx, zone, rec.ID); err != nil {
			return fmt.Errorf("delete record %s: %w", fqdn, mapGodoError(err))
		}
		p.logger.Info("record deleted", "name", fqdn, "record_id", rec.ID)
	}
	return nil
}

// IsAvailable reports whether no CNAME exists for subdomain.domain.
func (p *DigitalOceanProvisioner) IsAvailable(ctx context.Context, subdomain, domain, zoneID string) (bool, error) {
	records, err := p.findRecords(ctx, p.zone(zoneID, domain), coredns.FQDN(subdomain, domain))
	if err != nil {
		return false, err
	}
	return len(records) == 0, nil
}

// VerifyZone reads the domain.
func (p *DigitalOceanProvisioner) VerifyZone(ctx context.Context, zoneID string) error {
	zone := zoneOr(zoneID, p.zoneID)
	if _, _, err := p.client.Domains.Get(ctx, zone); err != nil {
		return fmt.Errorf("verify zone %s: %w", zone, mapGodoError(err))
	}
	return nil
}

func (p *DigitalOceanProvisioner) findRecords(ctx context.Context, zone, fqdn string) ([]godo.DomainRecord, error) {
	records, _, err := p.client.Domains.RecordsByTypeAndName(ctx, zone, coredns.RecordTypeCNAME, fqdn, &godo.ListOptions{PerPage: 50})
	if err != nil {
		return nil, fmt.Errorf("list records %s: %w", fqdn, mapGodoError(err))
	}
	return records, nil
}

// zone prefers the call's zone, then the bound one, then the domain itself.
func (p *DigitalOceanProvisioner) zone(zoneID, domain string) string {
	if z := zoneOr(zoneID, p.zoneID); z != "" {
		return z
	}
	return domain
}

func mapGodoError(err error) error {
	var errResp *godo.ErrorResponse
	if !errors.As(err, &errResp) || errResp.Response == nil {
		return err
	}
	switch errResp.Response.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: %s", ErrAuth, errResp.Message)
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrZoneNotFound, errResp.Message)
	}
	return err
}
