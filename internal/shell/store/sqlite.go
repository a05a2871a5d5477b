package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/artpar/pagehost/internal/core/domain"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// =============================================================================
// Executor Interface - Shared by DB and Transaction
// =============================================================================

// executor abstracts database operations that can be performed on both
// a database connection and a transaction.
type executor interface {
	GetContext(ctx context.Context, dest any, query string, args ...any) error
	SelectContext(ctx context.Context, dest any, query string, args ...any) error
	NamedExecContext(ctx context.Context, query string, arg any) (sql.Result, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// =============================================================================
// SQLiteStore
// =============================================================================

// SQLiteStore implements Store using SQLite.
//
// The pool holds a single connection. Transactions therefore serialize, and
// an in-memory database is shared by every caller. Code running inside
// WithTx must only use the Store passed to fn.
type SQLiteStore struct {
	db *sqlx.DB
}

// NewSQLiteStore creates a new SQLite store and runs migrations.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sqlx.Open("sqlite3", dsn+"?_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, NewStoreError("NewSQLiteStore", "", "", "failed to open database", ErrConnectionFailed)
	}
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, NewStoreError("NewSQLiteStore", "", "", "failed to ping database", ErrConnectionFailed)
	}

	if err := runMigrations(db.DB); err != nil {
		db.Close()
		return nil, NewStoreError("NewSQLiteStore", "", "", err.Error(), ErrMigrationFailed)
	}

	return &SQLiteStore{db: db}, nil
}

// runMigrations runs database migrations using embedded SQL files.
func runMigrations(db *sql.DB) error {
	driver, err := sqlite3.WithInstance(db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}

	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Ping checks the database connection.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return NewStoreError("Ping", "", "", err.Error(), ErrConnectionFailed)
	}
	return nil
}

// =============================================================================
// User Operations
// =============================================================================

func (s *SQLiteStore) ResolveUser(ctx context.Context, referenceID, email, name string) (int, error) {
	return resolveUser(ctx, s.db, referenceID, email, name)
}

func (s *SQLiteStore) GetUser(ctx context.Context, id int) (*domain.User, error) {
	return getUser(ctx, s.db, id)
}

func (s *SQLiteStore) GetUserByReference(ctx context.Context, referenceID string) (*domain.User, error) {
	return getUserByReference(ctx, s.db, referenceID)
}

// =============================================================================
// Page Operations
// =============================================================================

func (s *SQLiteStore) CreatePage(ctx context.Context, page *domain.UserPage) error {
	return createPage(ctx, s.db, page)
}

func (s *SQLiteStore) GetPage(ctx context.Context, id string) (*domain.UserPage, error) {
	return getPage(ctx, s.db, id)
}

func (s *SQLiteStore) UpdatePage(ctx context.Context, page *domain.UserPage) error {
	return updatePage(ctx, s.db, page)
}

func (s *SQLiteStore) FindClaimedPage(ctx context.Context, subdomain, domainName string) (*domain.UserPage, error) {
	return findClaimedPage(ctx, s.db, subdomain, domainName)
}

func (s *SQLiteStore) ListPagesByOwner(ctx context.Context, ownerID int, opts ListOptions) ([]domain.UserPage, error) {
	return listPagesByOwner(ctx, s.db, ownerID, opts)
}

func (s *SQLiteStore) ListPagesByStatus(ctx context.Context, status domain.PageStatus, opts ListOptions) ([]domain.UserPage, error) {
	return listPagesByStatus(ctx, s.db, status, opts)
}

func (s *SQLiteStore) ListStalePages(ctx context.Context, createdBefore time.Time) ([]domain.UserPage, error) {
	return listStalePages(ctx, s.db, createdBefore)
}

func (s *SQLiteStore) CountLivePagesByOwner(ctx context.Context, ownerID int) (int, error) {
	return countLivePagesByOwner(ctx, s.db, ownerID)
}

// =============================================================================
// Page Deployment Operations
// =============================================================================

func (s *SQLiteStore) CreatePageDeployment(ctx context.Context, deployment *domain.PageDeployment) error {
	return createPageDeployment(ctx, s.db, deployment)
}

func (s *SQLiteStore) GetPageDeployment(ctx context.Context, id string) (*domain.PageDeployment, error) {
	return getPageDeployment(ctx, s.db, id)
}

func (s *SQLiteStore) UpdatePageDeployment(ctx context.Context, deployment *domain.PageDeployment) error {
	return updatePageDeployment(ctx, s.db, deployment)
}

func (s *SQLiteStore) ListPageDeployments(ctx context.Context, pageID string, opts ListOptions) ([]domain.PageDeployment, error) {
	return listPageDeployments(ctx, s.db, pageID, opts)
}

func (s *SQLiteStore) GetLatestPageDeployment(ctx context.Context, pageID string) (*domain.PageDeployment, error) {
	return getLatestPageDeployment(ctx, s.db, pageID)
}

// =============================================================================
// Donated Domain Operations
// =============================================================================

func (s *SQLiteStore) CreateDonatedDomain(ctx context.Context, d *domain.DonatedDomain) error {
	return createDonatedDomain(ctx, s.db, d)
}

func (s *SQLiteStore) GetDonatedDomain(ctx context.Context, id string) (*domain.DonatedDomain, error) {
	return getDonatedDomain(ctx, s.db, id)
}

func (s *SQLiteStore) UpdateDonatedDomain(ctx context.Context, d *domain.DonatedDomain) error {
	return updateDonatedDomain(ctx, s.db, d)
}

func (s *SQLiteStore) ListDonatedDomains(ctx context.Context, opts ListOptions) ([]domain.DonatedDomain, error) {
	return listDonatedDomains(ctx, s.db, opts)
}

func (s *SQLiteStore) ListAvailableDonatedDomains(ctx context.Context, opts ListOptions) ([]domain.DonatedDomain, error) {
	return listAvailableDonatedDomains(ctx, s.db, opts)
}

func (s *SQLiteStore) ListDonatedDomainsByDonor(ctx context.Context, donorID int, opts ListOptions) ([]domain.DonatedDomain, error) {
	return listDonatedDomainsByDonor(ctx, s.db, donorID, opts)
}

func (s *SQLiteStore) AdjustSubdomainCount(ctx context.Context, domainID string, delta int) error {
	return adjustSubdomainCount(ctx, s.db, domainID, delta)
}

// =============================================================================
// Donated Domain Usage Operations
// =============================================================================

func (s *SQLiteStore) CreateDomainUsage(ctx context.Context, usage *domain.DonatedDomainUsage) error {
	return createDomainUsage(ctx, s.db, usage)
}

func (s *SQLiteStore) GetDomainUsage(ctx context.Context, domainID, subdomain string) (*domain.DonatedDomainUsage, error) {
	return getDomainUsage(ctx, s.db, domainID, subdomain)
}

func (s *SQLiteStore) GetDomainUsageByPage(ctx context.Context, pageID string) (*domain.DonatedDomainUsage, error) {
	return getDomainUsageByPage(ctx, s.db, pageID)
}

func (s *SQLiteStore) DeleteDomainUsage(ctx context.Context, id string) error {
	return deleteDomainUsage(ctx, s.db, id)
}

func (s *SQLiteStore) CountDomainUsages(ctx context.Context, domainID string) (int, error) {
	return countDomainUsages(ctx, s.db, domainID)
}

// =============================================================================
// Transaction Support
// =============================================================================

func (s *SQLiteStore) WithTx(ctx context.Context, fn func(Store) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return NewStoreError("WithTx", "", "", "failed to begin transaction", ErrTxFailed)
	}

	txS := &txSQLiteStore{tx: tx}

	if err := fn(txS); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return NewStoreError("WithTx", "", "", fmt.Sprintf("rollback failed after error: %v", err), ErrTxFailed)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return NewStoreError("WithTx", "", "", "failed to commit transaction", ErrTxFailed)
	}

	return nil
}

// =============================================================================
// Transaction Store
// =============================================================================

// txSQLiteStore implements Store within a transaction.
type txSQLiteStore struct {
	tx *sqlx.Tx
}

func (s *txSQLiteStore) ResolveUser(ctx context.Context, referenceID, email, name string) (int, error) {
	return resolveUser(ctx, s.tx, referenceID, email, name)
}

func (s *txSQLiteStore) GetUser(ctx context.Context, id int) (*domain.User, error) {
	return getUser(ctx, s.tx, id)
}

func (s *txSQLiteStore) GetUserByReference(ctx context.Context, referenceID string) (*domain.User, error) {
	return getUserByReference(ctx, s.tx, referenceID)
}

func (s *txSQLiteStore) CreatePage(ctx context.Context, page *domain.UserPage) error {
	return createPage(ctx, s.tx, page)
}

func (s *txSQLiteStore) GetPage(ctx context.Context, id string) (*domain.UserPage, error) {
	return getPage(ctx, s.tx, id)
}

func (s *txSQLiteStore) UpdatePage(ctx context.Context, page *domain.UserPage) error {
	return updatePage(ctx, s.tx, page)
}

func (s *txSQLiteStore) FindClaimedPage(ctx context.Context, subdomain, domainName string) (*domain.UserPage, error) {
	return findClaimedPage(ctx, s.tx, subdomain, domainName)
}

func (s *txSQLiteStore) ListPagesByOwner(ctx context.Context, ownerID int, opts ListOptions) ([]domain.UserPage, error) {
	return listPagesByOwner(ctx, s.tx, ownerID, opts)
}

func (s *txSQLiteStore) ListPagesByStatus(ctx context.Context, status domain.PageStatus, opts ListOptions) ([]domain.UserPage, error) {
	return listPagesByStatus(ctx, s.tx, status, opts)
}

func (s *txSQLiteStore) ListStalePages(ctx context.Context, createdBefore time.Time) ([]domain.UserPage, error) {
	return listStalePages(ctx, s.tx, createdBefore)
}

func (s *txSQLiteStore) CountLivePagesByOwner(ctx context.Context, ownerID int) (int, error) {
	return countLivePagesByOwner(ctx, s.tx, ownerID)
}

func (s *txSQLiteStore) CreatePageDeployment(ctx context.Context, deployment *domain.PageDeployment) error {
	return createPageDeployment(ctx, s.tx, deployment)
}

func (s *txSQLiteStore) GetPageDeployment(ctx context.Context, id string) (*domain.PageDeployment, error) {
	return getPageDeployment(ctx, s.tx, id)
}

func (s *txSQLiteStore) UpdatePageDeployment(ctx context.Context, deployment *domain.PageDeployment) error {
	return updatePageDeployment(ctx, s.tx, deployment)
}

func (s *txSQLiteStore) ListPageDeployments(ctx context.Context, pageID string, opts ListOptions) ([]domain.PageDeployment, error) {
	return listPageDeployments(ctx, s.tx, pageID, opts)
}

func (s *txSQLiteStore) GetLatestPageDeployment(ctx context.Context, pageID string) (*domain.PageDeployment, error) {
	return getLatestPageDeployment(ctx, s.tx, pageID)
}

func (s *txSQLiteStore) CreateDonatedDomain(ctx context.Context, d *domain.DonatedDomain) error {
	return createDonatedDomain(ctx, s.tx, d)
}

func (s *txSQLiteStore) GetDonatedDomain(ctx context.Context, id string) (*domain.DonatedDomain, error) {
	return getDonatedDomain(ctx, s.tx, id)
}

func (s *txSQLiteStore) UpdateDonatedDomain(ctx context.Context, d *domain.DonatedDomain) error {
	return updateDonatedDomain(ctx, s.tx, d)
}

func (s *txSQLiteStore) ListDonatedDomains(ctx context.Context, opts ListOptions) ([]domain.DonatedDomain, error) {
	return listDonatedDomains(ctx, s.tx, opts)
}

func (s *txSQLiteStore) ListAvailableDonatedDomains(ctx context.Context, opts ListOptions) ([]domain.DonatedDomain, error) {
	return listAvailableDonatedDomains(ctx, s.tx, opts)
}

func (s *txSQLiteStore) ListDonatedDomainsByDonor(ctx context.Context, donorID int, opts ListOptions) ([]domain.DonatedDomain, error) {
	return listDonatedDomainsByDonor(ctx, s.tx, donorID, opts)
}

func (s *txSQLiteStore) AdjustSubdomainCount(ctx context.Context, domainID string, delta int) error {
	return adjustSubdomainCount(ctx, s.tx, domainID, delta)
}

func (s *txSQLiteStore) CreateDomainUsage(ctx context.Context, usage *domain.DonatedDomainUsage) error {
	return createDomainUsage(ctx, s.tx, usage)
}

func (s *txSQLiteStore) GetDomainUsage(ctx context.Context, domainID, subdomain string) (*domain.DonatedDomainUsage, error) {
	return getDomainUsage(ctx, s.tx, domainID, subdomain)
}

func (s *txSQLiteStore) GetDomainUsageByPage(ctx context.Context, pageID string) (*domain.DonatedDomainUsage, error) {
	return getDomainUsageByPage(ctx, s.tx, pageID)
}

func (s *txSQLiteStore) DeleteDomainUsage(ctx context.Context, id string) error {
	return deleteDomainUsage(ctx, s.tx, id)
}

func (s *txSQLiteStore) CountDomainUsages(ctx context.Context, domainID string) (int, error) {
	return countDomainUsages(ctx, s.tx, domainID)
}

func (s *txSQLiteStore) Ping(ctx context.Context) error {
	// The transaction holds the only connection
	return nil
}

func (s *txSQLiteStore) WithTx(ctx context.Context, fn func(Store) error) error {
	// Already in a transaction, just run the function
	return fn(s)
}

func (s *txSQLiteStore) Close() error {
	// No-op for tx store
	return nil
}

// =============================================================================
// Helpers
// =============================================================================

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339, s)
	return t
}

func formatTimePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := formatTime(*t)
	return &s
}

func parseTimePtr(s *string) *time.Time {
	if s == nil || *s == "" {
		return nil
	}
	t := parseTime(*s)
	return &t
}
