package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/artpar/pagehost/internal/core/domain"
)

// =============================================================================
// Donated Domains
// =============================================================================

// donatedDomainRow represents a donated_domains row in the database.
type donatedDomainRow struct {
	ID                   string `db:"id"`
	DomainName           string `db:"domain_name"`
	DonorID              int    `db:"donor_id"`
	DNSProvider          string `db:"dns_provider"`
	DNSZoneID            string `db:"dns_zone_id"`
	DNSAPITokenEncrypted []byte `db:"dns_api_token_encrypted"`
	IsActive             bool   `db:"is_active"`
	MaxSubdomains        int    `db:"max_subdomains"`
	CurrentSubdomains    int    `db:"current_subdomains"`
	DonationMessage      string `db:"donation_message"`
	ContactEmail         string `db:"contact_email"`
	TermsOfUse           string `db:"terms_of_use"`
	CreatedAt            string `db:"created_at"`
	UpdatedAt            string `db:"updated_at"`
}

func createDonatedDomain(ctx context.Context, exec executor, d *domain.DonatedDomain) error {
	query := `
		INSERT INTO donated_domains (
			id, domain_name, donor_id, dns_provider, dns_zone_id, dns_api_token_encrypted,
			is_active, max_subdomains, current_subdomains,
			donation_message, contact_email, terms_of_use, created_at, updated_at
		) VALUES (
			:id, :domain_name, :donor_id, :dns_provider, :dns_zone_id, :dns_api_token_encrypted,
			:is_active, :max_subdomains, :current_subdomains,
			:donation_message, :contact_email, :terms_of_use, :created_at, :updated_at
		)`

	row := map[string]any{
		"id":                      d.ID,
		"domain_name":             d.DomainName,
		"donor_id":                d.DonorID,
		"dns_provider":            d.DNSProvider,
		"dns_zone_id":             d.DNSZoneID,
		"dns_api_token_encrypted": d.DNSAPITokenEncrypted,
		"is_active":               d.IsActive,
		"max_subdomains":          d.MaxSubdomains,
		"current_subdomains":      d.CurrentSubdomains,
		"donation_message":        d.DonationMessage,
		"contact_email":           d.ContactEmail,
		"terms_of_use":            d.TermsOfUse,
		"created_at":              formatTime(d.CreatedAt),
		"updated_at":              formatTime(d.UpdatedAt),
	}

	if _, err := exec.NamedExecContext(ctx, query, row); err != nil {
		msg := err.Error()
		switch {
		case strings.Contains(msg, "UNIQUE constraint failed: donated_domains.id"):
			return NewStoreError("CreateDonatedDomain", "donated_domain", d.ID, "domain with this ID already exists", ErrDuplicateID)
		case strings.Contains(msg, "UNIQUE constraint failed: donated_domains.domain_name"):
			return NewStoreError("CreateDonatedDomain", "donated_domain", d.ID, d.DomainName+" has already been donated", ErrDuplicateDomain)
		case strings.Contains(msg, "FOREIGN KEY constraint failed"):
			return NewStoreError("CreateDonatedDomain", "donated_domain", d.ID, "donor does not exist", ErrForeignKey)
		}
		return NewStoreError("CreateDonatedDomain", "donated_domain", d.ID, msg, err)
	}
	return nil
}

func getDonatedDomain(ctx context.Context, exec executor, id string) (*domain.DonatedDomain, error) {
	var row donatedDomainRow
	err := exec.GetContext(ctx, &row, `SELECT * FROM donated_domains WHERE id = ?`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, NewStoreError("GetDonatedDomain", "donated_domain", id, "donated domain not found", ErrNotFound)
		}
		return nil, NewStoreError("GetDonatedDomain", "donated_domain", id, err.Error(), err)
	}
	return rowToDonatedDomain(&row), nil
}

// updateDonatedDomain writes the donor-editable fields. current_subdomains
// is only ever moved by adjustSubdomainCount.
func updateDonatedDomain(ctx context.Context, exec executor, d *domain.DonatedDomain) error {
	query := `
		UPDATE donated_domains SET
			dns_provider = :dns_provider,
			dns_zone_id = :dns_zone_id,
			dns_api_token_encrypted = :dns_api_token_encrypted,
			is_active = :is_active,
			max_subdomains = :max_subdomains,
			donation_message = :donation_message,
			contact_email = :contact_email,
			terms_of_use = :terms_of_use,
			updated_at = :updated_at
		WHERE id = :id`

	row := map[string]any{
		"id":                      d.ID,
		"dns_provider":            d.DNSProvider,
		"dns_zone_id":             d.DNSZoneID,
		"dns_api_token_encrypted": d.DNSAPITokenEncrypted,
		"is_active":               d.IsActive,
		"max_subdomains":          d.MaxSubdomains,
		"donation_message":        d.DonationMessage,
		"contact_email":           d.ContactEmail,
		"terms_of_use":            d.TermsOfUse,
		"updated_at":              formatTime(d.UpdatedAt),
	}

	result, err := exec.NamedExecContext(ctx, query, row)
	if err != nil {
		if strings.Contains(err.Error(), "CHECK constraint failed") {
			return NewStoreError("UpdateDonatedDomain", "donated_domain", d.ID, "max subdomains is below current usage", ErrCapacityExceeded)
		}
		return NewStoreError("UpdateDonatedDomain", "donated_domain", d.ID, err.Error(), err)
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return NewStoreError("UpdateDonatedDomain", "donated_domain", d.ID, "donated domain not found", ErrNotFound)
	}
	return nil
}

func listDonatedDomains(ctx context.Context, exec executor, opts ListOptions) ([]domain.DonatedDomain, error) {
	opts = opts.Normalize()
	var rows []donatedDomainRow
	err := exec.SelectContext(ctx, &rows,
		`SELECT * FROM donated_domains ORDER BY created_at, domain_name LIMIT ? OFFSET ?`,
		opts.Limit, opts.Offset)
	if err != nil {
		return nil, NewStoreError("ListDonatedDomains", "donated_domain", "", err.Error(), err)
	}
	return rowsToDonatedDomains(rows), nil
}

func listAvailableDonatedDomains(ctx context.Context, exec executor, opts ListOptions) ([]domain.DonatedDomain, error) {
	opts = opts.Normalize()
	var rows []donatedDomainRow
	err := exec.SelectContext(ctx, &rows, `
		SELECT * FROM donated_domains
		WHERE is_active = 1 AND current_subdomains < max_subdomains
		ORDER BY created_at, domain_name LIMIT ? OFFSET ?`,
		opts.Limit, opts.Offset)
	if err != nil {
		return nil, NewStoreError("ListAvailableDonatedDomains", "donated_domain", "", err.Error(), err)
	}
	return rowsToDonatedDomains(rows), nil
}

func listDonatedDomainsByDonor(ctx context.Context, exec executor, donorID int, opts ListOptions) ([]domain.DonatedDomain, error) {
	opts = opts.Normalize()
	var rows []donatedDomainRow
	err := exec.SelectContext(ctx, &rows,
		`SELECT * FROM donated_domains WHERE donor_id = ? ORDER BY created_at, domain_name LIMIT ? OFFSET ?`,
		donorID, opts.Limit, opts.Offset)
	if err != nil {
		return nil, NewStoreError("ListDonatedDomainsByDonor", "donated_domain", "", err.Error(), err)
	}
	return rowsToDonatedDomains(rows), nil
}

func adjustSubdomainCount(ctx context.Context, exec executor, domainID string, delta int) error {
	result, err := exec.ExecContext(ctx, `
		UPDATE donated_domains
		SET current_subdomains = current_subdomains + ?, updated_at = ?
		WHERE id = ?
			AND current_subdomains + ? <= max_subdomains
			AND current_subdomains + ? >= 0`,
		delta, formatTime(time.Now()), domainID, delta, delta)
	if err != nil {
		return NewStoreError("AdjustSubdomainCount", "donated_domain", domainID, err.Error(), err)
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 1 {
		return nil
	}

	if _, err := getDonatedDomain(ctx, exec, domainID); err != nil {
		return err
	}
	return NewStoreError("AdjustSubdomainCount", "donated_domain", domainID, "subdomain count out of bounds", ErrCapacityExceeded)
}

func rowsToDonatedDomains(rows []donatedDomainRow) []domain.DonatedDomain {
	out := make([]domain.DonatedDomain, 0, len(rows))
	for i := range rows {
		out = append(out, *rowToDonatedDomain(&rows[i]))
	}
	return out
}

func rowToDonatedDomain(row *donatedDomainRow) *domain.DonatedDomain {
	return &domain.DonatedDomain{
		ID:                   row.ID,
		DomainName:           row.DomainName,
		DonorID:              row.DonorID,
		DNSProvider:          row.DNSProvider,
		DNSZoneID:            row.DNSZoneID,
		DNSAPITokenEncrypted: row.DNSAPITokenEncrypted,
		IsActive:             row.IsActive,
		MaxSubdomains:        row.MaxSubdomains,
		CurrentSubdomains:    row.CurrentSubdomains,
		DonationMessage:      row.DonationMessage,
		ContactEmail:         row.ContactEmail,
		TermsOfUse:           row.TermsOfUse,
		CreatedAt:            parseTime(row.CreatedAt),
		UpdatedAt:            parseTime(row.UpdatedAt),
	}
}

// =============================================================================
// Donated Domain Usages
// =============================================================================

// domainUsageRow represents a donated_domain_usages row in the database.
type domainUsageRow struct {
	ID              string `db:"id"`
	DonatedDomainID string `db:"donated_domain_id"`
	PageID          string `db:"page_id"`
	Subdomain       string `db:"subdomain"`
	CreatedAt       string `db:"created_at"`
}

func createDomainUsage(ctx context.Context, exec executor, u *domain.DonatedDomainUsage) error {
	query := `
		INSERT INTO donated_domain_usages (id, donated_domain_id, page_id, subdomain, created_at)
		VALUES (:id, :donated_domain_id, :page_id, :subdomain, :created_at)`

	row := map[string]any{
		"id":                u.ID,
		"donated_domain_id": u.DonatedDomainID,
		"page_id":           u.PageID,
		"subdomain":         u.Subdomain,
		"created_at":        formatTime(u.CreatedAt),
	}

	if _, err := exec.NamedExecContext(ctx, query, row); err != nil {
		msg := err.Error()
		switch {
		case strings.Contains(msg, "UNIQUE constraint failed: donated_domain_usages.id"):
			return NewStoreError("CreateDomainUsage", "domain_usage", u.ID, "usage with this ID already exists", ErrDuplicateID)
		case strings.Contains(msg, "UNIQUE constraint failed: donated_domain_usages.page_id"):
			return NewStoreError("CreateDomainUsage", "domain_usage", u.ID, "page already holds a reservation", ErrDuplicateUsage)
		case strings.Contains(msg, "UNIQUE constraint failed: donated_domain_usages.donated_domain_id"):
			return NewStoreError("CreateDomainUsage", "domain_usage", u.ID, u.Subdomain+" is already reserved", ErrDuplicateUsage)
		case strings.Contains(msg, "FOREIGN KEY constraint failed"):
			return NewStoreError("CreateDomainUsage", "domain_usage", u.ID, "domain or page does not exist", ErrForeignKey)
		}
		return NewStoreError("CreateDomainUsage", "domain_usage", u.ID, msg, err)
	}
	return nil
}

func getDomainUsage(ctx context.Context, exec executor, domainID, subdomain string) (*domain.DonatedDomainUsage, error) {
	var row domainUsageRow
	err := exec.GetContext(ctx, &row,
		`SELECT * FROM donated_domain_usages WHERE donated_domain_id = ? AND subdomain = ?`, domainID, subdomain)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, NewStoreError("GetDomainUsage", "domain_usage", subdomain, "usage not found", ErrNotFound)
		}
		return nil, NewStoreError("GetDomainUsage", "domain_usage", subdomain, err.Error(), err)
	}
	return rowToDomainUsage(&row), nil
}

func getDomainUsageByPage(ctx context.Context, exec executor, pageID string) (*domain.DonatedDomainUsage, error) {
	var row domainUsageRow
	err := exec.GetContext(ctx, &row, `SELECT * FROM donated_domain_usages WHERE page_id = ?`, pageID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, NewStoreError("GetDomainUsageByPage", "domain_usage", pageID, "usage not found", ErrNotFound)
		}
		return nil, NewStoreError("GetDomainUsageByPage", "domain_usage", pageID, err.Error(), err)
	}
	return rowToDomainUsage(&row), nil
}

func deleteDomainUsage(ctx context.Context, exec executor, id string) error {
	result, err := exec.ExecContext(ctx, `DELETE FROM donated_domain_usages WHERE id = ?`, id)
	if err != nil {
		return NewStoreError("DeleteDomainUsage", "domain_usage", id, err.Error(), err)
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return NewStoreError("DeleteDomainUsage", "domain_usage", id, "usage not found", ErrNotFound)
	}
	return nil
}

func countDomainUsages(ctx context.Context, exec executor, domainID string) (int, error) {
	var count int
	err := exec.GetContext(ctx, &count,
		`SELECT COUNT(*) FROM donated_domain_usages WHERE donated_domain_id = ?`, domainID)
	if err != nil {
		return 0, NewStoreError("CountDomainUsages", "domain_usage", domainID, err.Error(), err)
	}
	return count, nil
}

func rowToDomainUsage(row *domainUsageRow) *domain.DonatedDomainUsage {
	return &domain.DonatedDomainUsage{
		ID:              row.ID,
		DonatedDomainID: row.DonatedDomainID,
		PageID:          row.PageID,
		Subdomain:       row.Subdomain,
		CreatedAt:       parseTime(row.CreatedAt),
	}
}
