package dns

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	coredns "github.com/artpar/pagehost/internal/core/dns"
)

// ErrRecordExists is returned by the memory provisioner on a duplicate create.
var ErrRecordExists = errors.New("record already exists")

// MemoryProvisioner keeps records in process. It backs tests and dev mode and
// supports failure injection per operation.
type MemoryProvisioner struct {
	mu      sync.Mutex
	records map[string]coredns.Record
	zones   map[string]bool

	// Fail* errors, when set, are returned by the matching operation.
	FailCreate error
	FailDelete error
	FailProbe  error
	FailVerify error

	calls []string
}

// NewMemoryProvisioner creates an empty provisioner that accepts any zone.
func NewMemoryProvisioner() *MemoryProvisioner {
	return &MemoryProvisioner{
		records: make(map[string]coredns.Record),
	}
}

// RestrictZones limits VerifyZone to the given zone IDs.
func (m *MemoryProvisioner) RestrictZones(zoneIDs ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.zones = make(map[string]bool, len(zoneIDs))
	for _, z := range zoneIDs {
		m.zones[z] = true
	}
}

func (m *MemoryProvisioner) CreateRecord(_ context.Context, subdomain, domain, target, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	fqdn := coredns.FQDN(subdomain, domain)
	m.calls = append(m.calls, "create:"+fqdn)

	if m.FailCreate != nil {
		return m.FailCreate
	}
	if _, ok := m.records[fqdn]; ok {
		return fmt.Errorf("create record %s: %w", fqdn, ErrRecordExists)
	}
	m.records[fqdn] = coredns.Record{
		ID:      fqdn,
		Type:    coredns.RecordTypeCNAME,
		Name:    fqdn,
		Content: target,
		TTL:     coredns.RecordTTL,
	}
	return nil
}

func (m *MemoryProvisioner) DeleteRecord(_ context.Context, subdomain, domain, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	fqdn := coredns.FQDN(subdomain, domain)
	m.calls = append(m.calls, "delete:"+fqdn)

	if m.FailDelete != nil {
		return m.FailDelete
	}
	delete(m.records, fqdn)
	return nil
}

func (m *MemoryProvisioner) IsAvailable(_ context.Context, subdomain, domain, _ string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fqdn := coredns.FQDN(subdomain, domain)
	m.calls = append(m.calls, "probe:"+fqdn)

	if m.FailProbe != nil {
		return false, m.FailProbe
	}
	_, exists := m.records[fqdn]
	return !exists, nil
}

func (m *MemoryProvisioner) VerifyZone(_ context.Context, zoneID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, "verify:"+zoneID)

	if m.FailVerify != nil {
		return m.FailVerify
	}
	if m.zones != nil && !m.zones[zoneID] {
		return fmt.Errorf("verify zone %s: %w", zoneID, ErrZoneNotFound)
	}
	return nil
}

// Seed inserts a record directly, bypassing failure injection.
func (m *MemoryProvisioner) Seed(subdomain, domain, target string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fqdn := coredns.FQDN(subdomain, domain)
	m.records[fqdn] = coredns.Record{ID: fqdn, Type: coredns.RecordTypeCNAME, Name: fqdn, Content: target, TTL: coredns.RecordTTL}
}

// Lookup returns the record for subdomain.domain.
func (m *MemoryProvisioner) Lookup(subdomain, domain string) (coredns.Record, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[coredns.FQDN(subdomain, domain)]
	return rec, ok
}

// Names returns every record name, sorted.
func (m *MemoryProvisioner) Names() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.records))
	for name := range m.records {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Calls returns the operations performed so far, in order.
func (m *MemoryProvisioner) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}
