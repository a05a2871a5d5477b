package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/artpar/pagehost/internal/core/domain"
)

// =============================================================================
// Users
// =============================================================================

type userRow struct {
	ID          int    `db:"id"`
	ReferenceID string `db:"reference_id"`
	Email       string `db:"email"`
	Name        string `db:"name"`
	CreatedAt   string `db:"created_at"`
	UpdatedAt   string `db:"updated_at"`
}

func resolveUser(ctx context.Context, exec executor, referenceID, email, name string) (int, error) {
	if referenceID == "" {
		return 0, NewStoreError("ResolveUser", "user", "", "reference ID is required", ErrInvalidData)
	}

	now := formatTime(time.Now())
	_, err := exec.ExecContext(ctx, `
		INSERT INTO users (reference_id, email, name, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(reference_id) DO UPDATE SET
			email = CASE WHEN excluded.email != '' THEN excluded.email ELSE users.email END,
			name = CASE WHEN excluded.name != '' THEN excluded.name ELSE users.name END,
			updated_at = excluded.updated_at
	`, referenceID, email, name, now, now)
	if err != nil {
		return 0, NewStoreError("ResolveUser", "user", referenceID, err.Error(), err)
	}

	var userID int
	if err := exec.GetContext(ctx, &userID, `SELECT id FROM users WHERE reference_id = ?`, referenceID); err != nil {
		return 0, NewStoreError("ResolveUser", "user", referenceID, err.Error(), err)
	}
	return userID, nil
}

func getUser(ctx context.Context, exec executor, id int) (*domain.User, error) {
	var row userRow
	err := exec.GetContext(ctx, &row, `SELECT * FROM users WHERE id = ?`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, NewStoreError("GetUser", "user", "", "user not found", ErrNotFound)
		}
		return nil, NewStoreError("GetUser", "user", "", err.Error(), err)
	}
	return rowToUser(&row), nil
}

func getUserByReference(ctx context.Context, exec executor, referenceID string) (*domain.User, error) {
	var row userRow
	err := exec.GetContext(ctx, &row, `SELECT * FROM users WHERE reference_id = ?`, referenceID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, NewStoreError("GetUserByReference", "user", referenceID, "user not found", ErrNotFound)
		}
		return nil, NewStoreError("GetUserByReference", "user", referenceID, err.Error(), err)
	}
	return rowToUser(&row), nil
}

func rowToUser(row *userRow) *domain.User {
	return &domain.User{
		ID:          row.ID,
		ReferenceID: row.ReferenceID,
		Email:       row.Email,
		Name:        row.Name,
		CreatedAt:   parseTime(row.CreatedAt),
		UpdatedAt:   parseTime(row.UpdatedAt),
	}
}

// =============================================================================
// Pages
// =============================================================================

// pageRow represents a user_pages row in the database.
type pageRow struct {
	ID                 string  `db:"id"`
	OwnerID            int     `db:"owner_id"`
	Title              string  `db:"title"`
	Subdomain          string  `db:"subdomain"`
	Domain             string  `db:"domain"`
	FullDomain         string  `db:"full_domain"`
	RepoRef            string  `db:"repo_ref"`
	RepoURL            string  `db:"repo_url"`
	HostingURL         string  `db:"hosting_url"`
	CustomURL          string  `db:"custom_url"`
	Status             string  `db:"status"`
	DeploymentStatus   string  `db:"deployment_status"`
	FileCount          int     `db:"file_count"`
	RepoSizeBytes      int64   `db:"repo_size_bytes"`
	DonatedDomainID    *string `db:"donated_domain_id"`
	UsingDonatedDomain bool    `db:"using_donated_domain"`
	Metadata           *string `db:"metadata"`
	CreatedAt          string  `db:"created_at"`
	UpdatedAt          string  `db:"updated_at"`
}

func pageToMap(page *domain.UserPage) (map[string]any, error) {
	metadataJSON, err := json.Marshal(page.Metadata)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"id":                   page.ID,
		"owner_id":             page.OwnerID,
		"title":                page.Title,
		"subdomain":            page.Subdomain,
		"domain":               page.Domain,
		"full_domain":          page.FullDomain,
		"repo_ref":             page.RepoRef,
		"repo_url":             page.RepoURL,
		"hosting_url":          page.HostingURL,
		"custom_url":           page.CustomURL,
		"status":               string(page.Status),
		"deployment_status":    string(page.DeploymentStatus),
		"file_count":           page.FileCount,
		"repo_size_bytes":      page.RepoSizeBytes,
		"donated_domain_id":    page.DonatedDomainID,
		"using_donated_domain": page.UsingDonatedDomain,
		"metadata":             string(metadataJSON),
		"created_at":           formatTime(page.CreatedAt),
		"updated_at":           formatTime(page.UpdatedAt),
	}, nil
}

func createPage(ctx context.Context, exec executor, page *domain.UserPage) error {
	row, err := pageToMap(page)
	if err != nil {
		return NewStoreError("CreatePage", "page", page.ID, "failed to serialize metadata", ErrInvalidData)
	}

	query := `
		INSERT INTO user_pages (
			id, owner_id, title, subdomain, domain, full_domain,
			repo_ref, repo_url, hosting_url, custom_url,
			status, deployment_status, file_count, repo_size_bytes,
			donated_domain_id, using_donated_domain, metadata,
			created_at, updated_at
		) VALUES (
			:id, :owner_id, :title, :subdomain, :domain, :full_domain,
			:repo_ref, :repo_url, :hosting_url, :custom_url,
			:status, :deployment_status, :file_count, :repo_size_bytes,
			:donated_domain_id, :using_donated_domain, :metadata,
			:created_at, :updated_at
		)`

	if _, err := exec.NamedExecContext(ctx, query, row); err != nil {
		msg := err.Error()
		switch {
		case strings.Contains(msg, "UNIQUE constraint failed: user_pages.id"):
			return NewStoreError("CreatePage", "page", page.ID, "page with this ID already exists", ErrDuplicateID)
		case strings.Contains(msg, "UNIQUE constraint failed: user_pages.subdomain"):
			return NewStoreError("CreatePage", "page", page.ID, page.FullDomain+" is already taken", ErrDuplicateSubdomain)
		case strings.Contains(msg, "FOREIGN KEY constraint failed"):
			return NewStoreError("CreatePage", "page", page.ID, "owner or donated domain does not exist", ErrForeignKey)
		}
		return NewStoreError("CreatePage", "page", page.ID, msg, err)
	}
	return nil
}

func getPage(ctx context.Context, exec executor, id string) (*domain.UserPage, error) {
	var row pageRow
	err := exec.GetContext(ctx, &row, `SELECT * FROM user_pages WHERE id = ?`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, NewStoreError("GetPage", "page", id, "page not found", ErrNotFound)
		}
		return nil, NewStoreError("GetPage", "page", id, err.Error(), err)
	}
	return rowToPage(&row)
}

func updatePage(ctx context.Context, exec executor, page *domain.UserPage) error {
	row, err := pageToMap(page)
	if err != nil {
		return NewStoreError("UpdatePage", "page", page.ID, "failed to serialize metadata", ErrInvalidData)
	}

	query := `
		UPDATE user_pages SET
			title = :title,
			repo_ref = :repo_ref,
			repo_url = :repo_url,
			hosting_url = :hosting_url,
			custom_url = :custom_url,
			status = :status,
			deployment_status = :deployment_status,
			file_count = :file_count,
			repo_size_bytes = :repo_size_bytes,
			metadata = :metadata,
			updated_at = :updated_at
		WHERE id = :id`

	result, err := exec.NamedExecContext(ctx, query, row)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed: user_pages.subdomain") {
			return NewStoreError("UpdatePage", "page", page.ID, page.FullDomain+" is already taken", ErrDuplicateSubdomain)
		}
		return NewStoreError("UpdatePage", "page", page.ID, err.Error(), err)
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return NewStoreError("UpdatePage", "page", page.ID, "page not found", ErrNotFound)
	}
	return nil
}

func findClaimedPage(ctx context.Context, exec executor, subdomain, domainName string) (*domain.UserPage, error) {
	var row pageRow
	err := exec.GetContext(ctx, &row,
		`SELECT * FROM user_pages WHERE subdomain = ? AND domain = ? AND status != 'disabled'`,
		subdomain, domainName)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, NewStoreError("FindClaimedPage", "page", subdomain+"."+domainName, "page not found", ErrNotFound)
		}
		return nil, NewStoreError("FindClaimedPage", "page", subdomain+"."+domainName, err.Error(), err)
	}
	return rowToPage(&row)
}

func listPagesByOwner(ctx context.Context, exec executor, ownerID int, opts ListOptions) ([]domain.UserPage, error) {
	opts = opts.Normalize()
	var rows []pageRow
	err := exec.SelectContext(ctx, &rows,
		`SELECT * FROM user_pages WHERE owner_id = ? ORDER BY created_at DESC, id LIMIT ? OFFSET ?`,
		ownerID, opts.Limit, opts.Offset)
	if err != nil {
		return nil, NewStoreError("ListPagesByOwner", "page", "", err.Error(), err)
	}
	return rowsToPages(rows)
}

func listPagesByStatus(ctx context.Context, exec executor, status domain.PageStatus, opts ListOptions) ([]domain.UserPage, error) {
	opts = opts.Normalize()
	var rows []pageRow
	err := exec.SelectContext(ctx, &rows,
		`SELECT * FROM user_pages WHERE status = ? ORDER BY created_at, id LIMIT ? OFFSET ?`,
		string(status), opts.Limit, opts.Offset)
	if err != nil {
		return nil, NewStoreError("ListPagesByStatus", "page", "", err.Error(), err)
	}
	return rowsToPages(rows)
}

func listStalePages(ctx context.Context, exec executor, createdBefore time.Time) ([]domain.UserPage, error) {
	var rows []pageRow
	err := exec.SelectContext(ctx, &rows,
		`SELECT * FROM user_pages WHERE status = 'creating' AND created_at < ? ORDER BY created_at`,
		formatTime(createdBefore))
	if err != nil {
		return nil, NewStoreError("ListStalePages", "page", "", err.Error(), err)
	}
	return rowsToPages(rows)
}

func countLivePagesByOwner(ctx context.Context, exec executor, ownerID int) (int, error) {
	var count int
	err := exec.GetContext(ctx, &count,
		`SELECT COUNT(*) FROM user_pages WHERE owner_id = ? AND status != 'disabled'`, ownerID)
	if err != nil {
		return 0, NewStoreError("CountLivePagesByOwner", "page", "", err.Error(), err)
	}
	return count, nil
}

func rowsToPages(rows []pageRow) ([]domain.UserPage, error) {
	pages := make([]domain.UserPage, 0, len(rows))
	for i := range rows {
		page, err := rowToPage(&rows[i])
		if err != nil {
			return nil, err
		}
		pages = append(pages, *page)
	}
	return pages, nil
}

func rowToPage(row *pageRow) (*domain.UserPage, error) {
	metadata := map[string]string{}
	if row.Metadata != nil && *row.Metadata != "" && *row.Metadata != "null" {
		if err := json.Unmarshal([]byte(*row.Metadata), &metadata); err != nil {
			return nil, NewStoreError("rowToPage", "page", row.ID, "failed to parse metadata", ErrInvalidData)
		}
	}

	return &domain.UserPage{
		ID:                 row.ID,
		OwnerID:            row.OwnerID,
		Title:              row.Title,
		Subdomain:          row.Subdomain,
		Domain:             row.Domain,
		FullDomain:         row.FullDomain,
		RepoRef:            row.RepoRef,
		RepoURL:            row.RepoURL,
		HostingURL:         row.HostingURL,
		CustomURL:          row.CustomURL,
		Status:             domain.PageStatus(row.Status),
		DeploymentStatus:   domain.DeploymentStatus(row.DeploymentStatus),
		FileCount:          row.FileCount,
		RepoSizeBytes:      row.RepoSizeBytes,
		DonatedDomainID:    row.DonatedDomainID,
		UsingDonatedDomain: row.UsingDonatedDomain,
		Metadata:           metadata,
		CreatedAt:          parseTime(row.CreatedAt),
		UpdatedAt:          parseTime(row.UpdatedAt),
	}, nil
}

// =============================================================================
// Page Deployments
// =============================================================================

// pageDeploymentRow represents a page_deployments row in the database.
type pageDeploymentRow struct {
	ID              string  `db:"id"`
	PageID          string  `db:"page_id"`
	Status          string  `db:"status"`
	StartedAt       string  `db:"started_at"`
	CompletedAt     *string `db:"completed_at"`
	ErrorMessage    string  `db:"error_message"`
	CommitRef       string  `db:"commit_ref"`
	FileChangeCount int     `db:"file_change_count"`
	BuildLog        string  `db:"build_log"`
}

func pageDeploymentToMap(d *domain.PageDeployment) map[string]any {
	return map[string]any{
		"id":                d.ID,
		"page_id":           d.PageID,
		"status":            string(d.Status),
		"started_at":        formatTime(d.StartedAt),
		"completed_at":      formatTimePtr(d.CompletedAt),
		"error_message":     d.ErrorMessage,
		"commit_ref":        d.CommitRef,
		"file_change_count": d.FileChangeCount,
		"build_log":         d.BuildLog,
	}
}

func createPageDeployment(ctx context.Context, exec executor, d *domain.PageDeployment) error {
	query := `
		INSERT INTO page_deployments (
			id, page_id, status, started_at, completed_at,
			error_message, commit_ref, file_change_count, build_log
		) VALUES (
			:id, :page_id, :status, :started_at, :completed_at,
			:error_message, :commit_ref, :file_change_count, :build_log
		)`

	if _, err := exec.NamedExecContext(ctx, query, pageDeploymentToMap(d)); err != nil {
		msg := err.Error()
		switch {
		case strings.Contains(msg, "UNIQUE constraint failed: page_deployments.id"):
			return NewStoreError("CreatePageDeployment", "page_deployment", d.ID, "deployment with this ID already exists", ErrDuplicateID)
		case strings.Contains(msg, "FOREIGN KEY constraint failed"):
			return NewStoreError("CreatePageDeployment", "page_deployment", d.ID, "page does not exist", ErrForeignKey)
		}
		return NewStoreError("CreatePageDeployment", "page_deployment", d.ID, msg, err)
	}
	return nil
}

func getPageDeployment(ctx context.Context, exec executor, id string) (*domain.PageDeployment, error) {
	var row pageDeploymentRow
	err := exec.GetContext(ctx, &row, `SELECT * FROM page_deployments WHERE id = ?`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, NewStoreError("GetPageDeployment", "page_deployment", id, "deployment not found", ErrNotFound)
		}
		return nil, NewStoreError("GetPageDeployment", "page_deployment", id, err.Error(), err)
	}
	return rowToPageDeployment(&row), nil
}

func updatePageDeployment(ctx context.Context, exec executor, d *domain.PageDeployment) error {
	query := `
		UPDATE page_deployments SET
			status = :status,
			completed_at = :completed_at,
			error_message = :error_message,
			commit_ref = :commit_ref,
			file_change_count = :file_change_count,
			build_log = :build_log
		WHERE id = :id`

	result, err := exec.NamedExecContext(ctx, query, pageDeploymentToMap(d))
	if err != nil {
		return NewStoreError("UpdatePageDeployment", "page_deployment", d.ID, err.Error(), err)
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return NewStoreError("UpdatePageDeployment", "page_deployment", d.ID, "deployment not found", ErrNotFound)
	}
	return nil
}

func listPageDeployments(ctx context.Context, exec executor, pageID string, opts ListOptions) ([]domain.PageDeployment, error) {
	opts = opts.Normalize()
	var rows []pageDeploymentRow
	err := exec.SelectContext(ctx, &rows,
		`SELECT * FROM page_deployments WHERE page_id = ? ORDER BY started_at DESC, id LIMIT ? OFFSET ?`,
		pageID, opts.Limit, opts.Offset)
	if err != nil {
		return nil, NewStoreError("ListPageDeployments", "page_deployment", "", err.Error(), err)
	}

	deployments := make([]domain.PageDeployment, 0, len(rows))
	for i := range rows {
		deployments = append(deployments, *rowToPageDeployment(&rows[i]))
	}
	return deployments, nil
}

func getLatestPageDeployment(ctx context.Context, exec executor, pageID string) (*domain.PageDeployment, error) {
	var row pageDeploymentRow
	err := exec.GetContext(ctx, &row,
		`SELECT * FROM page_deployments WHERE page_id = ? ORDER BY started_at DESC, rowid DESC LIMIT 1`, pageID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, NewStoreError("GetLatestPageDeployment", "page_deployment", pageID, "deployment not found", ErrNotFound)
		}
		return nil, NewStoreError("GetLatestPageDeployment", "page_deployment", pageID, err.Error(), err)
	}
	return rowToPageDeployment(&row), nil
}

func rowToPageDeployment(row *pageDeploymentRow) *domain.PageDeployment {
	return &domain.PageDeployment{
		ID:              row.ID,
		PageID:          row.PageID,
		Status:          domain.DeploymentStatus(row.Status),
		StartedAt:       parseTime(row.StartedAt),
		CompletedAt:     parseTimePtr(row.CompletedAt),
		ErrorMessage:    row.ErrorMessage,
		CommitRef:       row.CommitRef,
		FileChangeCount: row.FileChangeCount,
		BuildLog:        row.BuildLog,
	}
}
