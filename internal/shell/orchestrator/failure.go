package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/artpar/pagehost/internal/core/apperr"
	"github.com/artpar/pagehost/internal/core/domain"
	"github.com/artpar/pagehost/internal/core/saga"
	"github.com/artpar/pagehost/internal/shell/publisher"
	"github.com/artpar/pagehost/internal/shell/store"
)

// fail records a post-checkpoint failure: the deployment and page are marked
// failed and persisted, then the compensation stack is unwound when enabled.
// The returned error always carries the stage. A reservation conflict or a
// repository or custom domain the host already has is a Conflict; everything
// else is Downstream.
func (o *Orchestrator) fail(ctx context.Context, logger *slog.Logger, r *run, stage, reason string, cause error) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.config.CompensationTimeout)
	defer cancel()

	logger.Error("publish failed", "stage", stage, "reason", reason, "error", cause)

	if err := r.deployment.Fail(reason + ": " + cause.Error()); err != nil {
		logger.Error("failed to mark deployment failed", "deployment_id", r.deployment.ID, "error", err)
	}
	if err := r.page.MarkFailed(stage, reason); err != nil {
		logger.Error("failed to mark page failed", "error", err)
	}
	if err := o.saveProgress(ctx, r.page, r.deployment); err != nil {
		logger.Error("failed to persist failure state", "error", err)
	}

	if o.config.Compensate && r.comps.Len() > 0 {
		o.compensate(ctx, logger, r)
	}

	return &apperr.Error{Kind: failureKind(stage, cause), Stage: stage, Message: reason, Err: cause}
}

func failureKind(stage string, cause error) apperr.Kind {
	switch {
	case stage == StageReserveSubdomain && apperr.KindOf(cause) == apperr.KindConflict:
		return apperr.KindConflict
	case errors.Is(cause, publisher.ErrAlreadyExists), errors.Is(cause, publisher.ErrDomainInUse):
		return apperr.KindConflict
	}
	return apperr.KindDownstream
}

// compensate unwinds completed side effects last-in first-out and records
// the outcome in page metadata.
func (o *Orchestrator) compensate(ctx context.Context, logger *slog.Logger, r *run) {
	results := r.comps.Unwind(ctx)

	names := make([]string, 0, len(results))
	var failures []string
	for _, res := range results {
		names = append(names, res.Name)
		o.metrics.ObserveCompensation(res.Name, res.Err)
		if res.Err != nil {
			failures = append(failures, res.Name+": "+res.Err.Error())
			logger.Warn("compensation failed", "action", res.Name, "error", res.Err)
			continue
		}
		logger.Info("compensation complete", "action", res.Name)
	}

	r.page.SetMeta(domain.MetaCompensations, strings.Join(names, ","))
	if len(failures) > 0 {
		r.page.SetMeta(domain.MetaCompensationErrors, strings.Join(failures, "; "))
		if err := saga.Errors(results); err != nil {
			r.deployment.AppendLog("compensation errors: " + err.Error())
		}
	}

	if err := o.store.WithTx(ctx, func(tx store.Store) error {
		if err := tx.UpdatePage(ctx, r.page); err != nil {
			return err
		}
		return tx.UpdatePageDeployment(ctx, r.deployment)
	}); err != nil {
		logger.Error("failed to persist compensation outcome", "error", err)
	}
}
