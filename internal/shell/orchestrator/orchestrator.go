// Package orchestrator runs the publish pipeline: validation, name resolution,
// a durable checkpoint, then repository, hosting, reservation and DNS steps,
// with a failure handler and reverse-order compensation.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/artpar/pagehost/internal/core/apperr"
	"github.com/artpar/pagehost/internal/core/auth"
	"github.com/artpar/pagehost/internal/core/domain"
	"github.com/artpar/pagehost/internal/core/limits"
	"github.com/artpar/pagehost/internal/core/saga"
	"github.com/artpar/pagehost/internal/core/subdomain"
	"github.com/artpar/pagehost/internal/shell/dns"
	"github.com/artpar/pagehost/internal/shell/metrics"
	"github.com/artpar/pagehost/internal/shell/pool"
	"github.com/artpar/pagehost/internal/shell/publisher"
	"github.com/artpar/pagehost/internal/shell/store"
)

// Pipeline stage names, used in logs, metrics and page metadata.
const (
	StageValidate         = "validate"
	StageResolveTarget    = "resolve_target"
	StageResolveOwner     = "resolve_owner"
	StageCheckpoint       = "checkpoint"
	StageCreateRepository = "create_repository"
	StageUploadFiles      = "upload_files"
	StageEnableHosting    = "enable_hosting"
	StageReserveSubdomain = "reserve_subdomain"
	StageProvisionDNS     = "provision_dns"
	StageFinalize         = "finalize"
	StageStale            = "stale"
)

// Compensation names.
const (
	CompensateDeleteRepository = "delete_repository"
	CompensateReleaseSubdomain = "release_reservation"
	CompensateDeleteDNSRecord  = "delete_dns_record"
)

// =============================================================================
// Collaborators
// =============================================================================

// SubdomainAllocator resolves names on platform domains.
type SubdomainAllocator interface {
	ValidateSyntax(name string) error
	CheckAvailability(ctx context.Context, sub, domainName string) (bool, error)
	Provisioner(domainName string) (dns.Provisioner, string, error)
}

// DomainPool resolves names on donated domains.
type DomainPool interface {
	Get(ctx context.Context, domainID string) (*domain.DonatedDomain, error)
	CheckAvailability(ctx context.Context, domainID, sub string) (bool, error)
	Reserve(ctx context.Context, domainID, pageID, sub string) (*domain.DonatedDomainUsage, error)
	Release(ctx context.Context, pageID string) error
	ReleaseWith(ctx context.Context, tx store.Store, pageID string) error
	Provisioner(ctx context.Context, domainID string) (dns.Provisioner, *pool.Credentials, error)
}

// Config configures the orchestrator.
type Config struct {
	// Compensate unwinds completed side effects after a failed publish.
	Compensate bool

	FilePolicy limits.FilePolicy

	// CompensationTimeout bounds the failure handler and compensations,
	// which run detached from the request context.
	CompensationTimeout time.Duration
}

// DefaultConfig returns compensation on with the default file policy.
func DefaultConfig() Config {
	return Config{
		Compensate:          true,
		FilePolicy:          limits.DefaultFilePolicy(),
		CompensationTimeout: 2 * time.Minute,
	}
}

// Orchestrator is the DeploymentOrchestrator.
type Orchestrator struct {
	store      store.Store
	allocator  SubdomainAllocator
	pool       DomainPool
	publishers publisher.Factory
	validate   *validator.Validate
	metrics    *metrics.Metrics
	config     Config
	logger     *slog.Logger
}

// New creates an orchestrator.
func New(st store.Store, alloc SubdomainAllocator, p DomainPool, publishers publisher.Factory, m *metrics.Metrics, cfg Config, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.CompensationTimeout == 0 {
		cfg.CompensationTimeout = 2 * time.Minute
	}
	return &Orchestrator{
		store:      st,
		allocator:  alloc,
		pool:       p,
		publishers: publishers,
		validate:   validator.New(),
		metrics:    m,
		config:     cfg,
		logger:     logger.With("component", "orchestrator"),
	}
}

// =============================================================================
// Publish
// =============================================================================

// PublishRequest is a request to publish a file set at subdomain.domain.
// Exactly one of Domain and DonatedDomainID is set.
type PublishRequest struct {
	Title           string           `json:"title" validate:"required,max=200"`
	Subdomain       string           `json:"subdomain" validate:"required"`
	Domain          string           `json:"domain,omitempty" validate:"required_without=DonatedDomainID,excluded_with=DonatedDomainID"`
	DonatedDomainID string           `json:"donated_domain_id,omitempty" validate:"required_without=Domain"`
	Files           []publisher.File `json:"files" validate:"required,min=1,dive"`
}

// PublishResult is returned on success.
type PublishResult struct {
	PageID     string `json:"page_id"`
	RepoURL    string `json:"repo_url"`
	HostingURL string `json:"hosting_url"`
	CustomURL  string `json:"custom_url"`
}

// target is the resolved destination of a publish.
type target struct {
	domainName      string
	donatedDomainID *string
}

// run carries the state of one publish through the side-effect steps.
type run struct {
	page       *domain.UserPage
	deployment *domain.PageDeployment
	publisher  publisher.Publisher
	target     target
	files      []publisher.File
	comps      saga.Stack
}

// Publish runs the pipeline. Failures before the checkpoint leave nothing
// behind; failures after it leave the page in error with its deployment failed.
func (o *Orchestrator) Publish(ctx context.Context, identity auth.Context, req PublishRequest) (*PublishResult, error) {
	res, err := o.publish(ctx, identity, req)
	switch {
	case err == nil:
		o.metrics.ObservePublish(metrics.OutcomeSuccess)
	case apperr.StageOf(err) != "":
		o.metrics.ObservePublish(metrics.OutcomeFailed)
	default:
		o.metrics.ObservePublish(metrics.OutcomeRejected)
	}
	return res, err
}

func (o *Orchestrator) publish(ctx context.Context, identity auth.Context, req PublishRequest) (*PublishResult, error) {
	// 1-2. Request shape and name syntax.
	if err := o.validateRequest(req); err != nil {
		return nil, err
	}
	sub := subdomain.Normalize(req.Subdomain)
	if err := o.allocator.ValidateSyntax(sub); err != nil {
		return nil, err
	}

	// 3. Target resolution.
	tgt, err := o.resolveTarget(ctx, sub, req)
	if err != nil {
		return nil, err
	}

	// 4. Owner and hosting credential.
	if !identity.Authenticated {
		return nil, apperr.Auth("authentication required")
	}
	user, err := o.store.GetUser(ctx, identity.UserID)
	if err != nil {
		return nil, store.Classify(err, "user not found")
	}
	pub, err := o.publishers.For(ctx, identity.AccessToken)
	if err != nil {
		if errors.Is(err, publisher.ErrAuth) {
			return nil, apperr.Wrap(apperr.KindAuth, "hosting credential rejected", err)
		}
		return nil, apperr.Wrap(apperr.KindDownstream, "hosting provider unavailable", err)
	}

	// 5. File policy.
	files, totalBytes, err := o.normalizeFiles(req.Files)
	if err != nil {
		return nil, err
	}
	live, err := o.store.CountLivePagesByOwner(ctx, user.ID)
	if err != nil {
		return nil, store.Classify(err, "failed to count pages")
	}
	if err := limits.ValidatePageCreation(o.config.FilePolicy, live).Error(); err != nil {
		return nil, apperr.Wrap(apperr.KindValidation, err.Error(), err)
	}

	// 6-7. Checkpoint.
	page, err := domain.NewUserPage(user.ID, strings.TrimSpace(req.Title), sub, tgt.domainName, tgt.donatedDomainID)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindValidation, err.Error(), err)
	}
	page.RepoRef = domain.RepoName(sub, page.Title, page.ID)
	page.FileCount = len(files)
	page.RepoSizeBytes = totalBytes

	deployment, err := domain.NewPageDeployment(page.ID, len(files))
	if err != nil {
		return nil, apperr.Wrap(apperr.KindValidation, err.Error(), err)
	}

	start := time.Now()
	err = o.store.WithTx(ctx, func(tx store.Store) error {
		if err := tx.CreatePage(ctx, page); err != nil {
			return err
		}
		return tx.CreatePageDeployment(ctx, deployment)
	})
	o.metrics.ObserveStage(StageCheckpoint, time.Since(start))
	if err != nil {
		if errors.Is(err, store.ErrDuplicateSubdomain) {
			return nil, apperr.Wrap(apperr.KindConflict, fmt.Sprintf("%s is already taken", page.FullDomain), err)
		}
		return nil, store.Classify(err, "failed to save page")
	}

	logger := o.logger.With("page_id", page.ID, "full_domain", page.FullDomain)
	logger.Info("page checkpointed", "owner_id", user.ID, "files", len(files), "bytes", totalBytes)

	// 8. Building.
	if err := page.TransitionDeployment(domain.DeploymentBuilding); err != nil {
		return nil, apperr.Downstream(StageCheckpoint, "invalid page state", err)
	}
	if err := deployment.Transition(domain.DeploymentBuilding); err != nil {
		return nil, apperr.Downstream(StageCheckpoint, "invalid deployment state", err)
	}
	deployment.AppendLog("build started")
	if err := o.saveProgress(ctx, page, deployment); err != nil {
		return nil, store.Classify(err, "failed to mark page building")
	}

	r := &run{page: page, deployment: deployment, publisher: pub, target: tgt, files: files}
	return o.execute(ctx, logger, r)
}

// execute runs steps 9-14. Each failure goes through the failure handler.
func (o *Orchestrator) execute(ctx context.Context, logger *slog.Logger, r *run) (*PublishResult, error) {
	page, pub := r.page, r.publisher

	// 9. Repository.
	var repo *publisher.Repository
	if err := o.step(ctx, logger, r, StageCreateRepository, "repository creation failed", func() error {
		var err error
		repo, err = pub.CreateRepository(ctx, page.RepoRef, page.FullDomain)
		return err
	}); err != nil {
		return nil, err
	}
	r.comps.Push(CompensateDeleteRepository, func(ctx context.Context) error {
		return pub.DeleteRepository(ctx, page.RepoRef)
	})
	page.RepoURL = repo.URL
	if err := o.saveProgress(ctx, page, r.deployment); err != nil {
		return nil, o.fail(ctx, logger, r, StageCreateRepository, "repository creation failed", err)
	}

	// 10. Upload.
	var commitRef string
	if err := o.step(ctx, logger, r, StageUploadFiles, "upload failed", func() error {
		var err error
		commitRef, err = pub.UploadFiles(ctx, page.RepoRef, r.files)
		return err
	}); err != nil {
		return nil, err
	}

	// 11. Hosting.
	var hostingURL string
	if err := o.step(ctx, logger, r, StageEnableHosting, "hosting enable failed", func() error {
		var err error
		hostingURL, err = pub.EnableStaticHosting(ctx, page.RepoRef, page.FullDomain)
		return err
	}); err != nil {
		return nil, err
	}
	page.HostingURL = hostingURL
	if err := o.saveProgress(ctx, page, r.deployment); err != nil {
		return nil, o.fail(ctx, logger, r, StageEnableHosting, "hosting enable failed", err)
	}

	// 12. Donated reservation.
	if id := r.target.donatedDomainID; id != nil {
		if err := o.step(ctx, logger, r, StageReserveSubdomain, "subdomain reservation failed", func() error {
			_, err := o.pool.Reserve(ctx, *id, page.ID, page.Subdomain)
			return err
		}); err != nil {
			return nil, err
		}
		r.comps.Push(CompensateReleaseSubdomain, func(ctx context.Context) error {
			return o.pool.Release(ctx, page.ID)
		})
	}

	// 13. DNS.
	if err := o.step(ctx, logger, r, StageProvisionDNS, "DNS provisioning failed", func() error {
		prov, zoneID, err := o.provisioner(ctx, r.target)
		if err != nil {
			return err
		}
		if err := prov.CreateRecord(ctx, page.Subdomain, page.Domain, pub.HostingTarget(), zoneID); err != nil {
			return err
		}
		r.comps.Push(CompensateDeleteDNSRecord, func(ctx context.Context) error {
			return prov.DeleteRecord(ctx, page.Subdomain, page.Domain, zoneID)
		})
		return nil
	}); err != nil {
		return nil, err
	}

	// 14. Success.
	customURL := domain.CustomURL(page.Subdomain, page.Domain)
	if err := page.MarkActive(hostingURL, customURL); err != nil {
		return nil, o.fail(ctx, logger, r, StageFinalize, "finalize failed", err)
	}
	if err := r.deployment.Complete(commitRef); err != nil {
		return nil, o.fail(ctx, logger, r, StageFinalize, "finalize failed", err)
	}
	r.deployment.AppendLog("deployed " + commitRef)
	if err := o.saveProgress(ctx, page, r.deployment); err != nil {
		// In-memory state already says deployed; reload so the handler can
		// walk the persisted building state to failed.
		page.Status, page.DeploymentStatus = domain.PageCreating, domain.DeploymentBuilding
		r.deployment.Status, r.deployment.CompletedAt = domain.DeploymentBuilding, nil
		return nil, o.fail(ctx, logger, r, StageFinalize, "finalize failed", err)
	}

	logger.Info("page published", "hosting_url", hostingURL, "custom_url", customURL, "commit", commitRef)

	// 15.
	return &PublishResult{
		PageID:     page.ID,
		RepoURL:    page.RepoURL,
		HostingURL: hostingURL,
		CustomURL:  customURL,
	}, nil
}

// step times fn and routes its error through the failure handler.
func (o *Orchestrator) step(ctx context.Context, logger *slog.Logger, r *run, stage, reason string, fn func() error) error {
	start := time.Now()
	err := fn()
	o.metrics.ObserveStage(stage, time.Since(start))
	if err != nil {
		return o.fail(ctx, logger, r, stage, reason, err)
	}
	r.deployment.AppendLog(stage + " ok")
	logger.Debug("stage complete", "stage", stage, "duration", time.Since(start))
	return nil
}

func (o *Orchestrator) provisioner(ctx context.Context, tgt target) (dns.Provisioner, string, error) {
	if tgt.donatedDomainID != nil {
		prov, creds, err := o.pool.Provisioner(ctx, *tgt.donatedDomainID)
		if err != nil {
			return nil, "", err
		}
		return prov, creds.ZoneID, nil
	}
	return o.allocator.Provisioner(tgt.domainName)
}

func (o *Orchestrator) saveProgress(ctx context.Context, page *domain.UserPage, deployment *domain.PageDeployment) error {
	return o.store.WithTx(ctx, func(tx store.Store) error {
		if err := tx.UpdatePage(ctx, page); err != nil {
			return err
		}
		return tx.UpdatePageDeployment(ctx, deployment)
	})
}

// =============================================================================
// Validation and Resolution
// =============================================================================

func (o *Orchestrator) validateRequest(req PublishRequest) error {
	if err := o.validate.Struct(req); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
			}
			return apperr.Wrap(apperr.KindValidation, "invalid request: "+strings.Join(msgs, ", "), err)
		}
		return apperr.Wrap(apperr.KindValidation, "invalid request", err)
	}
	return nil
}

func (o *Orchestrator) resolveTarget(ctx context.Context, sub string, req PublishRequest) (target, error) {
	if req.DonatedDomainID != "" {
		d, err := o.pool.Get(ctx, req.DonatedDomainID)
		if err != nil {
			return target{}, err
		}
		if !d.IsActive {
			return target{}, apperr.Conflict("donated domain %s is not active", d.DomainName)
		}
		ok, err := o.pool.CheckAvailability(ctx, d.ID, sub)
		if err != nil {
			return target{}, err
		}
		if !ok {
			return target{}, apperr.Conflict("%s is not available", domain.FullDomain(sub, d.DomainName))
		}
		id := d.ID
		return target{domainName: d.DomainName, donatedDomainID: &id}, nil
	}

	domainName := strings.TrimSuffix(strings.ToLower(strings.TrimSpace(req.Domain)), ".")
	ok, err := o.allocator.CheckAvailability(ctx, sub, domainName)
	if err != nil {
		return target{}, err
	}
	if !ok {
		return target{}, apperr.Conflict("%s is not available", domain.FullDomain(sub, domainName))
	}
	return target{domainName: domainName}, nil
}

// normalizeFiles cleans paths, decodes content sizes and applies the file policy.
func (o *Orchestrator) normalizeFiles(in []publisher.File) ([]publisher.File, int64, error) {
	files := make([]publisher.File, 0, len(in))
	infos := make([]limits.FileInfo, 0, len(in))
	for _, f := range in {
		p, err := limits.NormalizePath(f.Path)
		if err != nil {
			return nil, 0, apperr.Wrap(apperr.KindValidation, err.Error(), err)
		}
		size, err := f.Size()
		if err != nil {
			return nil, 0, apperr.Wrap(apperr.KindValidation, err.Error(), err)
		}
		f.Path = p
		files = append(files, f)
		infos = append(infos, limits.FileInfo{Path: p, Size: size})
	}

	if err := limits.ValidateFiles(o.config.FilePolicy, infos).Error(); err != nil {
		return nil, 0, apperr.Wrap(apperr.KindValidation, err.Error(), err)
	}

	var total int64
	for _, info := range infos {
		total += info.Size
	}
	return files, total, nil
}
